package bundler

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest is the signed metadata stored at the head of every modfile bundle.
type Manifest struct {
	Version          string         `yaml:"version"`
	CreatedAt        time.Time      `yaml:"created_at"`
	ModID            int64          `yaml:"mod_id"`
	ModName          string         `yaml:"mod_name"`
	ModVersion       string         `yaml:"mod_version"`
	Platform         string         `yaml:"platform"`
	Signer           string         `yaml:"signer,omitempty"`
	SigningPublicKey string         `yaml:"signing_public_key,omitempty"`
	Signature        string         `yaml:"signature,omitempty"`
	Files            []ManifestFile `yaml:"files"`
}

// SigningBytes marshals the manifest without its signature for signing/verification.
func (m Manifest) SigningBytes() ([]byte, error) {
	clone := m
	clone.Signature = ""
	return yaml.Marshal(clone)
}

// TotalSize is the sum of all file sizes.
func (m Manifest) TotalSize() int64 {
	var total int64
	for _, f := range m.Files {
		total += f.Size
	}
	return total
}

// ManifestFile describes a single file within the bundle.
type ManifestFile struct {
	Path   string `yaml:"path"`
	Kind   string `yaml:"kind"`
	Size   int64  `yaml:"size"`
	SHA256 string `yaml:"sha256"`
}
