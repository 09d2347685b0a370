package mods

import (
	"fmt"
	"strings"
)

// Platform identifies a runtime target that receives its own build artifact.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformAndroid Platform = "android"
)

// Platforms lists every platform an upload requires, in upload order.
var Platforms = []Platform{PlatformWindows, PlatformAndroid}

// Alternate returns the other platform supported by the host.
func (p Platform) Alternate() Platform {
	if p == PlatformAndroid {
		return PlatformWindows
	}
	return PlatformAndroid
}

func (p Platform) String() string { return string(p) }

// Label is the human readable name used in progress and error messages.
func (p Platform) Label() string {
	switch p {
	case PlatformWindows:
		return "Windows"
	case PlatformAndroid:
		return "Android"
	default:
		return string(p)
	}
}

// ParsePlatform accepts a platform identifier in any case.
func ParsePlatform(raw string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "windows", "win64", "standalonewindows64":
		return PlatformWindows, nil
	case "android":
		return PlatformAndroid, nil
	default:
		return "", fmt.Errorf("unknown platform %q", raw)
	}
}

// ModType classifies the content a descriptor distributes.
type ModType string

const (
	ModTypeSpawnable ModType = "Spawnable"
	ModTypeMap       ModType = "Map"
	ModTypeAvatar    ModType = "Avatar"
	ModTypeNone      ModType = "None"
)

// ParseModType matches a tag or flag value against the known types. Unknown values map to None.
func ParseModType(raw string) ModType {
	for _, t := range []ModType{ModTypeSpawnable, ModTypeMap, ModTypeAvatar} {
		if strings.EqualFold(strings.TrimSpace(raw), string(t)) {
			return t
		}
	}
	return ModTypeNone
}
