package mods

import (
	"path"
	"strings"

	"modkit/services/content"
)

// UnassignedModID marks a descriptor whose remote profile has never been created.
const UnassignedModID int64 = -1

// Descriptor is the persistent record of a mod's identity, metadata, build artifacts and publish state.
type Descriptor struct {
	Name         string   `yaml:"name"`
	Summary      string   `yaml:"summary"`
	Description  string   `yaml:"description"`
	Version      string   `yaml:"version"`
	ModID        int64    `yaml:"mod_id"`
	Type         ModType  `yaml:"mod_type"`
	CategoryTags []string `yaml:"category_tags,omitempty"`
	// Logo is an image path relative to the project root.
	Logo     string `yaml:"logo,omitempty"`
	Metadata string `yaml:"metadata,omitempty"`
	// Asset is the object graph or scene path relative to the project root.
	Asset string `yaml:"asset"`

	BuildPaths      map[Platform]string `yaml:"build_paths,omitempty"`
	LastFingerprint Fingerprint         `yaml:"last_fingerprint,omitempty"`
	HalfExtents     content.Vector3     `yaml:"half_extents"`

	IsUploaded bool `yaml:"is_uploaded"`
	IsPublic   bool `yaml:"is_public"`

	Progress      float64 `yaml:"-"`
	ProgressLabel string  `yaml:"-"`
}

// New returns a descriptor for asset with the defaults used for freshly created mods.
func New(name string, modType ModType, asset string) *Descriptor {
	return &Descriptor{
		Name:        name,
		Summary:     "My Excellent Mod Summary",
		Description: "My Excellent Mod Description",
		Version:     "0.0.1",
		ModID:       UnassignedModID,
		Type:        modType,
		Asset:       asset,
		BuildPaths:  map[Platform]string{},
	}
}

// NewForAsset creates a descriptor named after the asset, inferring the mod type from the asset kind.
func NewForAsset(asset string, kind content.AssetKind) *Descriptor {
	modType := ModTypeNone
	switch kind {
	case content.KindObject:
		modType = ModTypeSpawnable
	case content.KindScene:
		modType = ModTypeMap
	}
	return New(content.AssetName(asset), modType, asset)
}

// HasProfile reports whether the remote profile exists.
func (d *Descriptor) HasProfile() bool {
	return d.ModID != UnassignedModID && d.ModID > 0
}

// BuildPath returns the recorded output directory for p, or "".
func (d *Descriptor) BuildPath(p Platform) string {
	if d.BuildPaths == nil {
		return ""
	}
	return d.BuildPaths[p]
}

// SetBuildPath records a successful build output for p.
func (d *Descriptor) SetBuildPath(p Platform, dir string) {
	if d.BuildPaths == nil {
		d.BuildPaths = map[Platform]string{}
	}
	d.BuildPaths[p] = dir
}

// SetProgress updates the transient progress fields. Values are clamped to [0,1].
func (d *Descriptor) SetProgress(progress float64, label string) {
	switch {
	case progress < 0:
		progress = 0
	case progress > 1:
		progress = 1
	}
	d.Progress = progress
	d.ProgressLabel = label
}

// ResetProgress clears the transient progress fields.
func (d *Descriptor) ResetProgress() {
	d.Progress = 0
	d.ProgressLabel = ""
}

// ResetModID detaches the descriptor from its remote profile.
func (d *Descriptor) ResetModID() {
	d.ModID = UnassignedModID
	d.IsUploaded = false
	d.IsPublic = false
}

// ClearFingerprint forces the next pack to rebuild every platform.
func (d *Descriptor) ClearFingerprint() {
	d.LastFingerprint = nil
}

// Tags returns the tags sent to the registry: the mod type followed by the category tags, without duplicates.
func (d *Descriptor) Tags() []string {
	seen := map[string]bool{}
	var tags []string
	add := func(tag string) {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[strings.ToLower(tag)] {
			return
		}
		seen[strings.ToLower(tag)] = true
		tags = append(tags, tag)
	}
	if d.Type != "" && d.Type != ModTypeNone {
		add(string(d.Type))
	}
	for _, tag := range d.CategoryTags {
		add(tag)
	}
	return tags
}

// ValidateName rejects empty mod names.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return validationf("name", "The mod name is empty!")
	}
	return nil
}

// ValidateAsset rejects descriptors without an asset or with an asset that is neither an object graph nor a scene.
func ValidateAsset(asset string) error {
	if strings.TrimSpace(asset) == "" {
		return validationf("asset", "There is no prefab or scene assigned!")
	}
	if content.KindOf(asset) == content.KindUnknown {
		return validationf("asset", "Asset %s is not a prefab or scene!", path.Base(asset))
	}
	return nil
}

// Validate checks the preconditions shared by every build: asset present, name non-empty.
func (d *Descriptor) Validate() error {
	if err := ValidateAsset(d.Asset); err != nil {
		return err
	}
	return ValidateName(d.Name)
}
