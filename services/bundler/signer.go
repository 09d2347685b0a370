package bundler

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"filippo.io/age"
	"github.com/btcsuite/btcutil/bech32"
	"github.com/sethvargo/go-envconfig"
)

// KeyConfig names the modfile signing keys. SecretKey is an age X25519 identity whose seed doubles
// as the Ed25519 signing key; PublicKey is the base64 Ed25519 key of a trusted publisher.
type KeyConfig struct {
	SecretKey string `env:"MODKIT_AGE_SECRET_KEY"`
	PublicKey string `env:"MODKIT_AGE_PUBLIC_KEY"`
}

// Signer stamps modfile manifests with the author's key and checks the stamp on the way back in.
// A Signer holding only a public key can check but not stamp.
type Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	recipient  string
}

// NewSignerFromEnv loads KeyConfig from the environment. It returns nil when no key is set, in
// which case modfiles are packed unsigned.
func NewSignerFromEnv(ctx context.Context) (*Signer, error) {
	return LoadSigner(ctx, envconfig.OsLookuper())
}

// LoadSigner is NewSignerFromEnv with an explicit lookuper.
func LoadSigner(ctx context.Context, lookuper envconfig.Lookuper) (*Signer, error) {
	var cfg KeyConfig
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: lookuper}); err != nil {
		return nil, fmt.Errorf("load signing keys: %w", err)
	}
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	cfg.PublicKey = strings.TrimSpace(cfg.PublicKey)
	if cfg.SecretKey == "" && cfg.PublicKey == "" {
		return nil, nil
	}
	return NewSigner(cfg)
}

func NewSigner(cfg KeyConfig) (*Signer, error) {
	if cfg.SecretKey == "" && cfg.PublicKey == "" {
		return nil, errors.New("a secret or public key is required")
	}

	s := &Signer{}
	if cfg.SecretKey != "" {
		seed, err := decodeAgeSecretKey(cfg.SecretKey)
		if err != nil {
			return nil, fmt.Errorf("parse age secret key: %w", err)
		}
		s.privateKey = ed25519.NewKeyFromSeed(seed)
		s.publicKey = s.privateKey.Public().(ed25519.PublicKey)
		if identity, err := age.ParseX25519Identity(cfg.SecretKey); err == nil {
			s.recipient = identity.Recipient().String()
		}
	}
	if cfg.PublicKey != "" {
		trusted, err := parsePublicKey(cfg.PublicKey)
		if err != nil {
			return nil, err
		}
		if s.publicKey != nil && !bytes.Equal(s.publicKey, trusted) {
			return nil, errors.New("public key does not match secret key")
		}
		s.publicKey = trusted
	}
	return s, nil
}

// Recipient is the age recipient of the secret key, empty for verify-only signers.
func (s *Signer) Recipient() string {
	if s == nil {
		return ""
	}
	return s.recipient
}

// SignManifest records the signer's identity in m and signs everything but the signature field.
func (s *Signer) SignManifest(m *Manifest) error {
	if s == nil || len(s.privateKey) == 0 {
		return errors.New("signer has no secret key")
	}
	m.Signer = s.recipient
	m.SigningPublicKey = base64.StdEncoding.EncodeToString(s.publicKey)
	payload, err := m.SigningBytes()
	if err != nil {
		return fmt.Errorf("marshal manifest for signing: %w", err)
	}
	m.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(s.privateKey, payload))
	return nil
}

// VerifyManifest checks the signature of m. With a configured key the manifest must have been
// signed by it; a nil Signer trusts the key embedded in the manifest, which only proves integrity.
func (s *Signer) VerifyManifest(m *Manifest) error {
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(m.Signature))
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("invalid signature length %d", len(sig))
	}

	var key ed25519.PublicKey
	if s != nil {
		key = s.publicKey
	}
	if m.SigningPublicKey != "" {
		embedded, err := parsePublicKey(m.SigningPublicKey)
		if err != nil {
			return fmt.Errorf("manifest key: %w", err)
		}
		switch {
		case key == nil:
			key = embedded
		case !bytes.Equal(key, embedded):
			return fmt.Errorf("modfile %s was signed by an unexpected key", m.ModName)
		}
	}
	if key == nil {
		return errors.New("no public key available for verification")
	}

	payload, err := m.SigningBytes()
	if err != nil {
		return fmt.Errorf("marshal manifest for verification: %w", err)
	}
	if !ed25519.Verify(key, payload, sig) {
		return errors.New("signature verification failed")
	}
	return nil
}

func parsePublicKey(raw string) (ed25519.PublicKey, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(decoded) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must decode to %d bytes, got %d", ed25519.PublicKeySize, len(decoded))
	}
	return ed25519.PublicKey(decoded), nil
}

// decodeAgeSecretKey extracts the 32-byte seed from an AGE-SECRET-KEY-1... bech32 string.
func decodeAgeSecretKey(raw string) ([]byte, error) {
	hrp, data, err := bech32.Decode(raw)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(hrp, "age-secret-key-") {
		return nil, fmt.Errorf("unexpected hrp %q", hrp)
	}
	seed, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, err
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("unexpected seed length %d", len(seed))
	}
	return seed, nil
}
