package orchestrator

import (
	"context"

	"modkit/services/mods"
)

// LocalLoadPath is the load path template baked into every bundle. The runtime host substitutes
// the variable with the directory the mod is installed in.
const LocalLoadPath = "{AddressableVariables.LoadPath}/"

// DefaultGroupName is the addressing group that receives the mod's content.
const DefaultGroupName = "Default Local Group"

// AddressEntry is one addressable asset in a build.
type AddressEntry struct {
	Address   string   `yaml:"address"`
	AssetPath string   `yaml:"asset_path"`
	Labels    []string `yaml:"labels,omitempty"`
}

// AddressGroup is the set of assets the backend packs into a bundle.
type AddressGroup struct {
	Name    string         `yaml:"name"`
	Entries []AddressEntry `yaml:"entries"`
}

// Settings scope a single backend invocation.
type Settings struct {
	Platform         mods.Platform `yaml:"platform"`
	Group            AddressGroup  `yaml:"group"`
	OutputPath       string        `yaml:"output_path"`
	LoadPathTemplate string        `yaml:"load_path"`
	PlayerVersion    string        `yaml:"player_version"`
}

// Backend turns addressed content into a platform bundle. Calls are made sequentially by one
// orchestrator at a time.
type Backend interface {
	Configure(ctx context.Context, settings Settings) error
	InvalidateCache(ctx context.Context) error
	Build(ctx context.Context) error
}

// Host owns the single active-platform switch of the build toolchain.
type Host interface {
	ActivePlatform() mods.Platform
	SwitchPlatform(ctx context.Context, p mods.Platform) error
}

// NewAddressGroup places exactly the mod asset in the group, labeled with the mod type. A baked
// acoustic map referenced by a scene is added alongside so that it ships with the bundle.
func NewAddressGroup(d *mods.Descriptor, assetGUID string, extra ...AddressEntry) AddressGroup {
	group := AddressGroup{
		Name: DefaultGroupName,
		Entries: []AddressEntry{{
			Address:   assetGUID,
			AssetPath: d.Asset,
			Labels:    []string{string(d.Type)},
		}},
	}
	for _, e := range extra {
		if e.AssetPath == "" || e.AssetPath == d.Asset {
			continue
		}
		group.Entries = append(group.Entries, e)
	}
	return group
}
