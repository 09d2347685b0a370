package mods

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const descriptorSuffix = ".mod.yaml"

// ErrDescriptorNotFound is returned when no descriptor file exists for a name.
var ErrDescriptorNotFound = errors.New("descriptor not found")

// Store persists descriptors as YAML files in a single directory.
type Store struct {
	dir string
}

// NewStore opens (and creates if needed) a descriptor directory.
func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("descriptor directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create descriptor dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory descriptors are stored in.
func (s *Store) Dir() string { return s.dir }

// Path returns the file a descriptor with the given name is stored at.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, SanitizeName(name)+descriptorSuffix)
}

// Load reads the descriptor stored under name.
func (s *Store) Load(name string) (*Descriptor, error) {
	return s.loadFile(s.Path(name))
}

func (s *Store) loadFile(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDescriptorNotFound, filepath.Base(path))
		}
		return nil, fmt.Errorf("read descriptor: %w", err)
	}
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode descriptor %s: %w", filepath.Base(path), err)
	}
	if d.BuildPaths == nil {
		d.BuildPaths = map[Platform]string{}
	}
	if d.ModID == 0 {
		d.ModID = UnassignedModID
	}
	return &d, nil
}

// Save writes d atomically, replacing any previous version.
func (s *Store) Save(d *Descriptor) error {
	if d == nil {
		return errors.New("nil descriptor")
	}
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	data, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode descriptor: %w", err)
	}

	target := s.Path(d.Name)
	tmp, err := os.CreateTemp(s.dir, ".descriptor-*")
	if err != nil {
		return fmt.Errorf("create temp descriptor: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write descriptor: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync descriptor: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close descriptor: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace descriptor: %w", err)
	}
	return nil
}

// Create stores d unless a descriptor with the same name exists, in which case the existing
// descriptor is returned unchanged and created is false.
func (s *Store) Create(d *Descriptor) (*Descriptor, bool, error) {
	existing, err := s.Load(d.Name)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, ErrDescriptorNotFound):
		return nil, false, err
	}
	if err := s.Save(d); err != nil {
		return nil, false, err
	}
	return d, true, nil
}

// List returns every stored descriptor ordered by name.
func (s *Store) List() ([]*Descriptor, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list descriptors: %w", err)
	}
	var out []*Descriptor
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), descriptorSuffix) {
			continue
		}
		d, err := s.loadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// FindByAsset returns the descriptor that references asset, if any.
func (s *Store) FindByAsset(asset string) (*Descriptor, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	want := filepath.ToSlash(filepath.Clean(asset))
	for _, d := range all {
		if filepath.ToSlash(filepath.Clean(d.Asset)) == want {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: no descriptor references %s", ErrDescriptorNotFound, asset)
}

// Lock takes the single-writer lock for the named descriptor. The returned function releases it.
func (s *Store) Lock(name string) (func() error, error) {
	return lockFile(s.Path(name) + ".lock")
}

// SanitizeName replaces characters that are invalid in file names on any supported host.
func SanitizeName(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r < 0x20:
			return '_'
		case strings.ContainsRune(`/\:*?"<>|`, r):
			return '_'
		default:
			return r
		}
	}, strings.TrimSpace(name))
	if cleaned == "" {
		return "_"
	}
	return cleaned
}
