package content

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const metaExt = ".meta"

// ErrAssetNotFound is returned for asset paths that do not exist in the project.
var ErrAssetNotFound = errors.New("asset not found")

// Meta is the sidecar stored next to every asset. GUID survives renames and identifier remapping.
type Meta struct {
	GUID         string   `yaml:"guid"`
	Dependencies []string `yaml:"dependencies,omitempty"`
}

// Project is a content tree rooted at a directory. Asset paths are slash separated and relative
// to the root.
type Project struct {
	root string

	mu    sync.Mutex
	guids map[string]string
}

// OpenProject opens an existing project directory.
func OpenProject(root string) (*Project, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root %q is not a directory", abs)
	}
	return &Project{root: abs}, nil
}

// Root returns the absolute project directory.
func (p *Project) Root() string { return p.root }

// Abs resolves an asset path to a file system path.
func (p *Project) Abs(asset string) string {
	if filepath.IsAbs(asset) {
		return asset
	}
	return filepath.Join(p.root, filepath.FromSlash(asset))
}

// Rel converts a file system path inside the project to an asset path.
func (p *Project) Rel(file string) (string, error) {
	rel, err := filepath.Rel(p.root, file)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%s is outside the project", file)
	}
	return filepath.ToSlash(rel), nil
}

// Exists reports whether asset is a regular file in the project.
func (p *Project) Exists(asset string) bool {
	info, err := os.Stat(p.Abs(asset))
	return err == nil && info.Mode().IsRegular()
}

// ReadMeta loads the sidecar of asset. A missing sidecar yields an empty Meta.
func (p *Project) ReadMeta(asset string) (Meta, error) {
	var meta Meta
	data, err := os.ReadFile(p.Abs(asset) + metaExt)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return meta, nil
		}
		return meta, fmt.Errorf("read meta for %s: %w", asset, err)
	}
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("decode meta for %s: %w", asset, err)
	}
	return meta, nil
}

// WriteMeta replaces the sidecar of asset.
func (p *Project) WriteMeta(asset string, meta Meta) error {
	data, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode meta for %s: %w", asset, err)
	}
	if err := os.WriteFile(p.Abs(asset)+metaExt, data, 0o644); err != nil {
		return fmt.Errorf("write meta for %s: %w", asset, err)
	}
	p.mu.Lock()
	p.guids = nil
	p.mu.Unlock()
	return nil
}

// EnsureMeta returns the sidecar of asset, assigning a GUID when it has none.
func (p *Project) EnsureMeta(asset string) (Meta, error) {
	if !p.Exists(asset) {
		return Meta{}, fmt.Errorf("%w: %s", ErrAssetNotFound, asset)
	}
	meta, err := p.ReadMeta(asset)
	if err != nil {
		return Meta{}, err
	}
	if meta.GUID != "" {
		return meta, nil
	}
	meta.GUID = strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := p.WriteMeta(asset, meta); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

// GUID returns the durable content identifier of asset.
func (p *Project) GUID(asset string) (string, error) {
	if !p.Exists(asset) {
		return "", fmt.Errorf("%w: %s", ErrAssetNotFound, asset)
	}
	meta, err := p.ReadMeta(asset)
	if err != nil {
		return "", err
	}
	if meta.GUID == "" {
		return "", fmt.Errorf("asset %s has no guid", asset)
	}
	return meta.GUID, nil
}

// PathForGUID resolves a content identifier back to its current asset path.
func (p *Project) PathForGUID(guid string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.guids == nil {
		index, err := p.indexGUIDs()
		if err != nil {
			return "", err
		}
		p.guids = index
	}
	asset, ok := p.guids[guid]
	if !ok {
		return "", fmt.Errorf("%w: no asset with guid %s", ErrAssetNotFound, guid)
	}
	return asset, nil
}

func (p *Project) indexGUIDs() (map[string]string, error) {
	index := map[string]string{}
	err := filepath.WalkDir(p.root, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), metaExt) {
			return nil
		}
		asset, err := p.Rel(strings.TrimSuffix(file, metaExt))
		if err != nil {
			return err
		}
		meta, err := p.ReadMeta(asset)
		if err != nil {
			return err
		}
		if meta.GUID != "" {
			index[meta.GUID] = asset
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("index guids: %w", err)
	}
	return index, nil
}

// Dependencies returns the transitive dependency closure of asset in depth-first import order:
// every dependency precedes the assets that reference it and asset itself comes last. Declared
// dependencies that do not exist are still listed so that callers can detect them.
func (p *Project) Dependencies(asset string) ([]string, error) {
	asset = cleanAsset(asset)
	if !p.Exists(asset) {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, asset)
	}
	var (
		order   []string
		visited = map[string]bool{}
	)
	var visit func(current string) error
	visit = func(current string) error {
		if visited[current] {
			return nil
		}
		visited[current] = true
		if p.Exists(current) {
			meta, err := p.ReadMeta(current)
			if err != nil {
				return err
			}
			for _, dep := range meta.Dependencies {
				if err := visit(cleanAsset(dep)); err != nil {
					return err
				}
			}
		}
		order = append(order, current)
		return nil
	}
	if err := visit(asset); err != nil {
		return nil, err
	}
	return order, nil
}

// Hash digests the content of asset together with its sidecar.
func (p *Project) Hash(asset string) (string, error) {
	data, err := os.ReadFile(p.Abs(asset))
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", asset, err)
	}
	h := xxhash.New()
	_, _ = h.Write(data)
	meta, err := os.ReadFile(p.Abs(asset) + metaExt)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("hash meta of %s: %w", asset, err)
	}
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(meta)
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// LoadDocument parses an object graph or scene asset.
func (p *Project) LoadDocument(asset string) (*Document, error) {
	kind := KindOf(asset)
	if kind == KindUnknown {
		return nil, fmt.Errorf("asset %s is not an object graph or scene", asset)
	}
	data, err := os.ReadFile(p.Abs(asset))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, asset)
		}
		return nil, fmt.Errorf("read %s: %w", asset, err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", asset, err)
	}
	if doc.Kind == KindUnknown {
		doc.Kind = kind
	}
	if doc.Kind != kind {
		return nil, fmt.Errorf("asset %s declares kind %q but has a %s extension", asset, doc.Kind, kind)
	}
	return &doc, nil
}

// SaveDocument writes doc back to asset. The sidecar is left untouched.
func (p *Project) SaveDocument(asset string, doc *Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", asset, err)
	}
	if err := os.WriteFile(p.Abs(asset), data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", asset, err)
	}
	return nil
}

func cleanAsset(asset string) string {
	return path.Clean(strings.ReplaceAll(asset, "\\", "/"))
}
