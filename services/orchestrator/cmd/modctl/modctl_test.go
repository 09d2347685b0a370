package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/require"

	"modkit/services/mods"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func execute(t *testing.T, env map[string]string, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(envconfig.MapLookuper(env), strings.NewReader(stdin), io.Discard)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(append([]string{"--log-format", "json"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func newProject(t *testing.T) (string, map[string]string) {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Assets", "crate.prefab"), "objects: []\n")
	return root, map[string]string{"MODKIT_PROJECT_ROOT": root}
}

func TestLoadDefaults(t *testing.T) {
	root := t.TempDir()
	cfg, err := Load(context.Background(), envconfig.MapLookuper(map[string]string{
		"MODKIT_PROJECT_ROOT": root,
		"MODKIT_REGISTRY_URL": "https://mods.example.com",
		"MODKIT_STATE_DIR":    "state",
	}))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "Mods"), cfg.ModsDir)
	require.Equal(t, filepath.Join(root, "ModDescriptors"), cfg.DescriptorDir)
	require.Equal(t, filepath.Join(root, "state"), cfg.StateDir)
	require.Equal(t, "https://mods.example.com", cfg.PublicBaseURL)
	require.Equal(t, "windows", cfg.ActivePlatform)
	require.Equal(t, 512, cfg.LogoMinWidth)
	require.Equal(t, 288, cfg.LogoMinHeight)
}

func TestInitAndStatus(t *testing.T) {
	root, env := newProject(t)

	out, err := execute(t, env, "", "init", "Assets/crate.prefab")
	require.NoError(t, err)
	require.Contains(t, out, "created crate (Spawnable)")

	out, err = execute(t, env, "", "init", "Assets/crate.prefab")
	require.NoError(t, err)
	require.Contains(t, out, "crate already exists")

	store, err := mods.NewStore(filepath.Join(root, "ModDescriptors"))
	require.NoError(t, err)
	d, err := store.Load("crate")
	require.NoError(t, err)
	require.Equal(t, "Assets/crate.prefab", d.Asset)
	require.FileExists(t, filepath.Join(root, "Assets", "crate.prefab.meta"))

	out, err = execute(t, env, "", "status", "Assets/crate.prefab")
	require.NoError(t, err)
	require.Contains(t, out, "crate (Spawnable)")
	require.Contains(t, out, "not created")
	require.Contains(t, out, "not built")
	require.Contains(t, out, "needed")
}

func TestInitRejectsUnknownAssets(t *testing.T) {
	_, env := newProject(t)

	_, err := execute(t, env, "", "init", "Assets/readme.txt")
	var verr *mods.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "asset", verr.Field)

	_, err = execute(t, env, "", "init", "Assets/missing.prefab")
	require.ErrorAs(t, err, &verr)
}

func TestResetIDAndClearCache(t *testing.T) {
	root, env := newProject(t)
	store, err := mods.NewStore(filepath.Join(root, "ModDescriptors"))
	require.NoError(t, err)
	d := mods.New("Crate", mods.ModTypeSpawnable, "Assets/crate.prefab")
	d.ModID = 42
	d.IsUploaded = true
	d.IsPublic = true
	d.LastFingerprint = mods.Fingerprint{{Path: "Assets/crate.prefab", Hash: "abc"}}
	require.NoError(t, store.Save(d))

	_, err = execute(t, env, "", "reset-id", "Crate")
	require.NoError(t, err)
	_, err = execute(t, env, "", "clear-cache", "Crate")
	require.NoError(t, err)

	got, err := store.Load("Crate")
	require.NoError(t, err)
	require.Equal(t, mods.UnassignedModID, got.ModID)
	require.False(t, got.IsUploaded)
	require.False(t, got.IsPublic)
	require.Empty(t, got.LastFingerprint)
}

func TestRegistryCommandsNeedRegistryURL(t *testing.T) {
	root, env := newProject(t)
	store, err := mods.NewStore(filepath.Join(root, "ModDescriptors"))
	require.NoError(t, err)
	require.NoError(t, store.Save(mods.New("Crate", mods.ModTypeSpawnable, "Assets/crate.prefab")))

	_, err = execute(t, env, "", "upload", "Crate")
	require.ErrorContains(t, err, "MODKIT_REGISTRY_URL")
}

func TestPackNeedsBuildCommand(t *testing.T) {
	root, env := newProject(t)
	store, err := mods.NewStore(filepath.Join(root, "ModDescriptors"))
	require.NoError(t, err)
	require.NoError(t, store.Save(mods.New("Crate", mods.ModTypeSpawnable, "Assets/crate.prefab")))

	_, err = execute(t, env, "", "pack", "Crate")
	require.ErrorContains(t, err, "MODKIT_BUILD_COMMAND")
}

func TestConfirmPrompt(t *testing.T) {
	d := mods.New("Crate", mods.ModTypeSpawnable, "Assets/crate.prefab")
	for input, want := range map[string]bool{"y\n": true, "Yes\n": true, "n\n": false, "": false} {
		var out bytes.Buffer
		require.Equal(t, want, confirmPrompt(strings.NewReader(input), &out)(d), "input %q", input)
		require.Contains(t, out.String(), "Publish Crate? [y/N]")
	}
}

func TestBundleBuildAndVerify(t *testing.T) {
	t.Setenv("MODKIT_AGE_SECRET_KEY", "")
	t.Setenv("MODKIT_AGE_PUBLIC_KEY", "")
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "build", "catalog.json"), `{"entries":[]}`)
	writeFile(t, filepath.Join(dir, "build", "crate.bundle"), "bundle-bytes")
	output := filepath.Join(dir, "crate-windows.tar.zst")

	out, err := execute(t, nil, "", "bundle", "build", "--dir", filepath.Join(dir, "build"), "--output", output,
		"--name", "Crate", "--version", "1.0.0", "--platform", "win64")
	require.NoError(t, err)
	require.Contains(t, out, "2 files")
	require.Contains(t, out, "unsigned")

	extract := filepath.Join(dir, "extract")
	out, err = execute(t, nil, "", "bundle", "verify", output, "--extract", extract)
	require.NoError(t, err)
	require.Contains(t, out, "verified Crate 1.0.0 (windows): 2 files")
	require.FileExists(t, filepath.Join(extract, "crate.bundle"))

	_, err = execute(t, nil, "", "bundle", "verify", output, "--require-signature")
	require.ErrorContains(t, err, "signature")
}
