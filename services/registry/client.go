package registry

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"modkit/pkg/telemetry"
	"modkit/services/bundler"
	"modkit/services/mods"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL string
	Token   string
	// HTTPClient defaults to a tracing client with a generous timeout for uploads.
	HTTPClient *http.Client
	// Signer signs modfile manifests. Optional.
	Signer *bundler.Signer
	// TempDir receives modfile archives before upload.
	TempDir string
	Logger  zerolog.Logger
}

// Client talks to the registry HTTP API. Methods that take a progress channel send values in
// [0,1] without blocking; a nil channel disables reporting.
type Client struct {
	base    *url.URL
	token   string
	http    *http.Client
	signer  *bundler.Signer
	tempDir string
	logger  zerolog.Logger
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("registry url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse registry url: %w", err)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = telemetry.HTTPClient(10 * time.Minute)
	}
	return &Client{
		base:    base,
		token:   cfg.Token,
		http:    cfg.HTTPClient,
		signer:  cfg.Signer,
		tempDir: cfg.TempDir,
		logger:  cfg.Logger.With().Str("component", "registry-client").Logger(),
	}, nil
}

func report(progress chan<- float64, v float64) {
	if progress == nil {
		return
	}
	select {
	case progress <- v:
	default:
	}
}

// CurrentUser returns the account the token belongs to.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var user User
	if err := c.do(ctx, "get current user", http.MethodGet, "/v1/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateProfile creates a mod profile and uploads its logo. When only the logo upload fails the
// created profile is returned along with the error.
func (c *Client) CreateProfile(ctx context.Context, details ProfileDetails, progress chan<- float64) (*Profile, error) {
	report(progress, 0)
	var profile Profile
	if err := c.do(ctx, "create profile", http.MethodPost, "/v1/mods", details, &profile); err != nil {
		return nil, err
	}
	report(progress, 0.5)
	if details.Logo != "" {
		updated, err := c.uploadLogo(ctx, profile.ID, details.Logo)
		if err != nil {
			return &profile, err
		}
		profile = *updated
	}
	report(progress, 1)
	return &profile, nil
}

// EditProfile updates the profile and, when details names one, its logo.
func (c *Client) EditProfile(ctx context.Context, id int64, details ProfileDetails, progress chan<- float64) (*Profile, error) {
	report(progress, 0)
	var profile Profile
	if err := c.do(ctx, "edit profile", http.MethodPatch, modPath(id), details, &profile); err != nil {
		return nil, err
	}
	report(progress, 0.5)
	if details.Logo != "" {
		updated, err := c.uploadLogo(ctx, id, details.Logo)
		if err != nil {
			return nil, err
		}
		profile = *updated
	}
	report(progress, 1)
	return &profile, nil
}

// GetProfile fetches a profile by id.
func (c *Client) GetProfile(ctx context.Context, id int64) (*Profile, error) {
	var profile Profile
	if err := c.do(ctx, "get profile", http.MethodGet, modPath(id), nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (c *Client) uploadLogo(ctx context.Context, id int64, path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read logo: %w", err)
	}
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	req, err := c.newRequest(ctx, http.MethodPut, modPath(id)+"/logo", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = int64(len(data))
	var profile Profile
	if err := c.send(req, "upload logo", &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// UploadModfile packs details.Directory into a modfile, registers it, uploads it to the presigned
// target and marks it complete. Progress tracks the bytes sent.
func (c *Client) UploadModfile(ctx context.Context, details ModfileDetails, progress chan<- float64) (*Modfile, error) {
	report(progress, 0)
	archive, err := os.CreateTemp(c.tempDir, "modfile-*.tar.zst")
	if err != nil {
		return nil, fmt.Errorf("create modfile archive: %w", err)
	}
	archivePath := archive.Name()
	archive.Close()
	defer os.Remove(archivePath)

	if _, err := bundler.Pack(ctx, bundler.PackConfig{
		Dir:        details.Directory,
		Output:     archivePath,
		ModID:      details.ModID,
		ModVersion: details.Version,
		Platform:   details.Platform,
		Signer:     c.signer,
	}); err != nil {
		return nil, fmt.Errorf("pack modfile: %w", err)
	}

	size, sum, err := digestFile(archivePath)
	if err != nil {
		return nil, err
	}

	var registered RegisterModfileResponse
	if err := c.do(ctx, "register modfile", http.MethodPost, modPath(details.ModID)+"/modfiles", RegisterModfileRequest{
		Version:  details.Version,
		Platform: details.Platform,
		Metadata: details.Metadata,
		Size:     size,
		SHA256:   sum,
	}, &registered); err != nil {
		return nil, err
	}

	if err := c.put(ctx, registered.UploadURL, archivePath, size, progress); err != nil {
		return nil, err
	}

	var done Modfile
	path := fmt.Sprintf("%s/modfiles/%s/complete", modPath(details.ModID), url.PathEscape(registered.Modfile.ID))
	if err := c.do(ctx, "complete modfile", http.MethodPost, path, nil, &done); err != nil {
		return nil, err
	}
	report(progress, 1)
	c.logger.Info().
		Int64("mod_id", details.ModID).
		Str("platform", details.Platform).
		Int64("size", size).
		Msg("modfile uploaded")
	return &done, nil
}

// DownloadLogo writes the profile logo to path. Profiles without a logo are a no-op.
func (c *Client) DownloadLogo(ctx context.Context, profile *Profile, path string) error {
	if profile.LogoURL == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(profile.LogoURL), nil)
	if err != nil {
		return fmt.Errorf("create logo request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &mods.RegistryError{Op: "download logo", Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError("download logo", resp)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create logo dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create logo: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return fmt.Errorf("write logo: %w", err)
	}
	return f.Close()
}

// Download streams a ready modfile to w.
func (c *Client) Download(ctx context.Context, modfileID string, w io.Writer) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/modfiles/"+url.PathEscape(modfileID)+"/download", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &mods.RegistryError{Op: "download modfile", Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError("download modfile", resp)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("download modfile: %w", err)
	}
	return nil
}

func (c *Client) put(ctx context.Context, target, path string, size int64, progress chan<- float64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open modfile archive: %w", err)
	}
	defer f.Close()

	body := &progressReader{r: f, total: size, progress: progress}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.resolve(target), body)
	if err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/zstd")
	resp, err := c.http.Do(req)
	if err != nil {
		return &mods.RegistryError{Op: "upload modfile", Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return decodeError("upload modfile", resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) resolve(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.IsAbs() {
		return target
	}
	return c.base.ResolveReference(u).String()
}

type progressReader struct {
	r        io.Reader
	total    int64
	sent     int64
	progress chan<- float64
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.total > 0 {
		p.sent += int64(n)
		// The final step is reported once the registry confirms the upload.
		report(p.progress, 0.99*float64(p.sent)/float64(p.total))
	}
	return n, err
}

func digestFile(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", fmt.Errorf("open modfile archive: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", fmt.Errorf("hash modfile archive: %w", err)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

func modPath(id int64) string {
	return "/v1/mods/" + strconv.FormatInt(id, 10)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, op, out)
}

func (c *Client) send(req *http.Request, op string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &mods.RegistryError{Op: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return decodeError(op, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &mods.RegistryError{Op: op, Status: resp.StatusCode, Message: "decode response: " + err.Error()}
	}
	return nil
}

func decodeError(op string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload ErrorResponse
	msg := strings.TrimSpace(string(data))
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		msg = payload.Error
	}
	if msg == "" {
		msg = resp.Status
	}
	if resp.StatusCode == http.StatusForbidden {
		return &mods.AuthorizationError{Resource: op, Message: msg}
	}
	return &mods.RegistryError{Op: op, Status: resp.StatusCode, Code: payload.Code, Message: msg}
}
