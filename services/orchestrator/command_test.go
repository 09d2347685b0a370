package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"modkit/services/mods"
)

func TestCommandBackend(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	state := t.TempDir()
	out := t.TempDir()

	b, err := NewCommandBackend(CommandConfig{
		BuildCommand:  []string{"sh", "-c", `cp "$MODKIT_BUILD_SETTINGS" "$MODKIT_OUTPUT_PATH/settings.yaml"`},
		SwitchCommand: []string{"sh", "-c", `test "$MODKIT_PLATFORM" != ios`},
		StateDir:      state,
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, err)
	require.Equal(t, mods.PlatformWindows, b.ActivePlatform())

	require.Error(t, b.Build(context.Background()), "build before configure")

	settings := Settings{
		Platform:         mods.PlatformAndroid,
		Group:            AddressGroup{Name: DefaultGroupName, Entries: []AddressEntry{{Address: "g", AssetPath: "Assets/Crate.prefab"}}},
		OutputPath:       out,
		LoadPathTemplate: LocalLoadPath,
	}
	require.NoError(t, b.Configure(context.Background(), settings))
	require.NoError(t, os.MkdirAll(filepath.Join(state, "cache"), 0o755))
	require.NoError(t, b.InvalidateCache(context.Background()))
	require.NoDirExists(t, filepath.Join(state, "cache"))
	require.NoError(t, b.Build(context.Background()))

	data, err := os.ReadFile(filepath.Join(out, "settings.yaml"))
	require.NoError(t, err)
	var got Settings
	require.NoError(t, yaml.Unmarshal(data, &got))
	require.Equal(t, settings, got)

	require.NoError(t, b.SwitchPlatform(context.Background(), mods.PlatformAndroid))
	require.Equal(t, mods.PlatformAndroid, b.ActivePlatform())
	require.Error(t, b.SwitchPlatform(context.Background(), mods.Platform("ios")))

	reopened, err := NewCommandBackend(CommandConfig{BuildCommand: []string{"true"}, StateDir: state})
	require.NoError(t, err)
	require.Equal(t, mods.PlatformAndroid, reopened.ActivePlatform())
}

func TestCommandBackendBuildFailureCarriesOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	b, err := NewCommandBackend(CommandConfig{
		BuildCommand: []string{"sh", "-c", "echo 'missing shader Foo' >&2; exit 3"},
		StateDir:     t.TempDir(),
	})
	require.NoError(t, err)
	require.NoError(t, b.Configure(context.Background(), Settings{Platform: mods.PlatformWindows, OutputPath: t.TempDir()}))

	err = b.Build(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing shader Foo")
}

func TestTailOutputKeepsRunesWhole(t *testing.T) {
	require.Equal(t, "short", tailOutput("short"))

	out := strings.Repeat("é", maxOutputBytes)
	tail := tailOutput(out)
	require.True(t, utf8.ValidString(tail))
	require.True(t, strings.HasPrefix(tail, "..."))
	require.LessOrEqual(t, len(tail), maxOutputBytes+3)

	split := "x" + strings.Repeat("é", maxOutputBytes/2) + "y"
	tail = tailOutput(split)
	require.True(t, utf8.ValidString(tail))
	require.Equal(t, "..."+strings.Repeat("é", maxOutputBytes/2-1)+"y", tail)
}
