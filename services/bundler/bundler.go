// Package bundler packs a platform build directory into a single tar.zst modfile and verifies
// modfiles against their manifest.
package bundler

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"
)

const (
	manifestFileName = "manifest.yaml"
	filesTarPrefix   = "files"
	manifestVersion  = "1"
)

// PackConfig configures modfile creation.
type PackConfig struct {
	Dir        string
	Output     string
	ModID      int64
	ModName    string
	ModVersion string
	Platform   string
	// Signer is optional. Unsigned bundles still carry per-file hashes.
	Signer *Signer
	Now    func() time.Time
}

// VerifyConfig configures modfile verification.
type VerifyConfig struct {
	BundlePath string
	// Signer, when set, must match the key that signed the manifest. Signed manifests are always
	// checked against their embedded key.
	Signer *Signer
	// RequireSignature rejects unsigned bundles.
	RequireSignature bool
	// ExtractDir, when set, receives the bundled files.
	ExtractDir string
}

// Pack assembles a modfile from cfg.Dir and writes the tar.zst archive to cfg.Output.
func Pack(ctx context.Context, cfg PackConfig) (*Manifest, error) {
	if cfg.Dir == "" {
		return nil, errors.New("build directory is required")
	}
	if cfg.Output == "" {
		return nil, errors.New("output path is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("stat build dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("build dir %q is not a directory", cfg.Dir)
	}

	files, err := collectFiles(ctx, cfg.Dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.New("no files found to bundle")
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})

	manifest := &Manifest{
		Version:    manifestVersion,
		CreatedAt:  cfg.Now().UTC().Truncate(time.Second),
		ModID:      cfg.ModID,
		ModName:    cfg.ModName,
		ModVersion: cfg.ModVersion,
		Platform:   cfg.Platform,
		Files:      files,
	}
	if cfg.Signer != nil {
		if err := cfg.Signer.SignManifest(manifest); err != nil {
			return nil, err
		}
	}

	manifestBytes, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	if err := writeBundle(cfg.Output, manifestBytes, cfg.Dir, files, manifest.CreatedAt); err != nil {
		return nil, err
	}
	return manifest, nil
}

func collectFiles(ctx context.Context, root string) ([]ManifestFile, error) {
	var files []ManifestFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("relative path for %q: %w", path, err)
		}
		rel = filepath.ToSlash(rel)

		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %q: %w", path, err)
		}
		hash := sha256.New()
		size, err := io.Copy(hash, file)
		file.Close()
		if err != nil {
			return fmt.Errorf("hash %q: %w", path, err)
		}

		files = append(files, ManifestFile{
			Path:   rel,
			Kind:   inferKind(rel),
			Size:   size,
			SHA256: hex.EncodeToString(hash.Sum(nil)),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func writeBundle(output string, manifest []byte, dir string, files []ManifestFile, modTime time.Time) (err error) {
	if parent := filepath.Dir(output); parent != "." {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	file, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	encoder, err := zstd.NewWriter(file)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	defer func() {
		if cerr := encoder.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	tw := tar.NewWriter(encoder)
	defer func() {
		if cerr := tw.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := tw.WriteHeader(&tar.Header{
		Name:     manifestFileName,
		Mode:     0o644,
		Size:     int64(len(manifest)),
		ModTime:  modTime,
		Typeflag: tar.TypeReg,
	}); err != nil {
		return fmt.Errorf("write manifest header: %w", err)
	}
	if _, err := tw.Write(manifest); err != nil {
		return fmt.Errorf("write manifest body: %w", err)
	}

	for _, entry := range files {
		if err := appendFile(tw, dir, entry); err != nil {
			return err
		}
	}
	return nil
}

func appendFile(tw *tar.Writer, dir string, entry ManifestFile) error {
	fullPath := filepath.Join(dir, filepath.FromSlash(entry.Path))
	info, err := os.Stat(fullPath)
	if err != nil {
		return fmt.Errorf("stat %q: %w", entry.Path, err)
	}
	file, err := os.Open(fullPath)
	if err != nil {
		return fmt.Errorf("open %q: %w", entry.Path, err)
	}
	defer file.Close()

	header := &tar.Header{
		Name:     filesTarPrefix + "/" + entry.Path,
		Mode:     int64(info.Mode().Perm()),
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write header for %q: %w", entry.Path, err)
	}
	if _, err := io.Copy(tw, file); err != nil {
		return fmt.Errorf("copy %q: %w", entry.Path, err)
	}
	return nil
}

func inferKind(path string) string {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".bundle"):
		return "bundle"
	case strings.HasSuffix(lower, ".json"), strings.HasSuffix(lower, ".bin"):
		return "catalog"
	case strings.HasSuffix(lower, ".hash"):
		return "catalog-hash"
	case strings.HasSuffix(lower, ".txt"):
		return "manifest"
	default:
		return "file"
	}
}

// Verify reads a modfile, checks every file against the manifest and checks the manifest signature.
func Verify(ctx context.Context, cfg VerifyConfig) (*Manifest, error) {
	if cfg.BundlePath == "" {
		return nil, errors.New("bundle file is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bundleFile, err := os.Open(cfg.BundlePath)
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}
	defer bundleFile.Close()

	decoder, err := zstd.NewReader(bundleFile)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer decoder.Close()

	var (
		manifest *Manifest
		seen     = map[string]fileDigest{}
	)
	tr := tar.NewReader(decoder)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar entry: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		name := filepath.ToSlash(filepath.Clean(header.Name))
		if name == manifestFileName {
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("read manifest: %w", err)
			}
			var m Manifest
			if err := yaml.Unmarshal(data, &m); err != nil {
				return nil, fmt.Errorf("unmarshal manifest: %w", err)
			}
			manifest = &m
			continue
		}

		rel, ok := strings.CutPrefix(name, filesTarPrefix+"/")
		if !ok || rel == "" || strings.HasPrefix(rel, "../") {
			return nil, fmt.Errorf("invalid entry path %q", header.Name)
		}
		digest, err := digestEntry(tr, cfg.ExtractDir, rel)
		if err != nil {
			return nil, err
		}
		seen[rel] = digest
	}

	if manifest == nil {
		return nil, errors.New("bundle missing " + manifestFileName)
	}
	if manifest.Version != manifestVersion {
		return nil, fmt.Errorf("unsupported manifest version %q", manifest.Version)
	}

	if manifest.Signature == "" {
		if cfg.RequireSignature {
			return nil, errors.New("manifest missing signature")
		}
	} else if err := cfg.Signer.VerifyManifest(manifest); err != nil {
		return nil, fmt.Errorf("verify manifest signature: %w", err)
	}

	for _, f := range manifest.Files {
		got, ok := seen[f.Path]
		if !ok {
			return nil, fmt.Errorf("file %q missing from archive", f.Path)
		}
		if got.size != f.Size {
			return nil, fmt.Errorf("size mismatch for %q: expected %d got %d", f.Path, f.Size, got.size)
		}
		if !strings.EqualFold(got.sha256, f.SHA256) {
			return nil, fmt.Errorf("sha256 mismatch for %q", f.Path)
		}
		delete(seen, f.Path)
	}
	for extra := range seen {
		return nil, fmt.Errorf("file %q is not listed in the manifest", extra)
	}
	return manifest, nil
}

type fileDigest struct {
	size   int64
	sha256 string
}

func digestEntry(r io.Reader, extractDir, rel string) (fileDigest, error) {
	hash := sha256.New()
	w := io.Writer(hash)
	var out *os.File
	if extractDir != "" {
		target := filepath.Join(extractDir, filepath.FromSlash(rel))
		if !strings.HasPrefix(target, filepath.Clean(extractDir)+string(os.PathSeparator)) {
			return fileDigest{}, fmt.Errorf("invalid entry path %q", rel)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fileDigest{}, fmt.Errorf("mkdir for %q: %w", rel, err)
		}
		f, err := os.Create(target)
		if err != nil {
			return fileDigest{}, fmt.Errorf("create %q: %w", rel, err)
		}
		out = f
		w = io.MultiWriter(hash, f)
	}
	size, err := io.Copy(w, r)
	if out != nil {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fileDigest{}, fmt.Errorf("read %q: %w", rel, err)
	}
	return fileDigest{size: size, sha256: hex.EncodeToString(hash.Sum(nil))}, nil
}
