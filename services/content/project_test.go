package content

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeAsset(t *testing.T, root, asset, body string, meta *Meta) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(asset))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(body), 0o644))
	if meta != nil {
		p := &Project{root: root}
		require.NoError(t, p.WriteMeta(asset, *meta))
	}
}

func TestDependenciesDepthFirstOrder(t *testing.T) {
	root := t.TempDir()
	writeAsset(t, root, "Assets/tex.png", "png", &Meta{GUID: "tex"})
	writeAsset(t, root, "Assets/mat.mat", "mat", &Meta{GUID: "mat", Dependencies: []string{"Assets/tex.png"}})
	writeAsset(t, root, "Assets/mesh.fbx", "mesh", &Meta{GUID: "mesh"})
	writeAsset(t, root, "Assets/Crate.prefab", "kind: object\n", &Meta{
		GUID:         "crate",
		Dependencies: []string{"Assets/mat.mat", "Assets/mesh.fbx", "Assets/tex.png"},
	})

	p, err := OpenProject(root)
	require.NoError(t, err)

	deps, err := p.Dependencies("Assets/Crate.prefab")
	require.NoError(t, err)
	require.Equal(t, []string{"Assets/tex.png", "Assets/mat.mat", "Assets/mesh.fbx", "Assets/Crate.prefab"}, deps)

	again, err := p.Dependencies("Assets/Crate.prefab")
	require.NoError(t, err)
	require.Equal(t, deps, again)
}

func TestDependenciesToleratesCyclesAndMissing(t *testing.T) {
	root := t.TempDir()
	writeAsset(t, root, "a.prefab", "kind: object\n", &Meta{GUID: "a", Dependencies: []string{"b.mat", "gone.png"}})
	writeAsset(t, root, "b.mat", "b", &Meta{GUID: "b", Dependencies: []string{"a.prefab"}})

	p, err := OpenProject(root)
	require.NoError(t, err)

	deps, err := p.Dependencies("a.prefab")
	require.NoError(t, err)
	require.Equal(t, []string{"b.mat", "gone.png", "a.prefab"}, deps)

	_, err = p.Hash("gone.png")
	require.Error(t, err)

	_, err = p.Dependencies("missing.prefab")
	require.ErrorIs(t, err, ErrAssetNotFound)
}

func TestHashTracksContentAndMeta(t *testing.T) {
	root := t.TempDir()
	writeAsset(t, root, "tex.png", "one", &Meta{GUID: "tex"})
	p, err := OpenProject(root)
	require.NoError(t, err)

	first, err := p.Hash("tex.png")
	require.NoError(t, err)
	same, err := p.Hash("tex.png")
	require.NoError(t, err)
	require.Equal(t, first, same)

	writeAsset(t, root, "tex.png", "two", nil)
	changed, err := p.Hash("tex.png")
	require.NoError(t, err)
	require.NotEqual(t, first, changed)

	require.NoError(t, p.WriteMeta("tex.png", Meta{GUID: "tex", Dependencies: []string{"x"}}))
	metaChanged, err := p.Hash("tex.png")
	require.NoError(t, err)
	require.NotEqual(t, changed, metaChanged)
}

func TestGUIDIndex(t *testing.T) {
	root := t.TempDir()
	writeAsset(t, root, "Audio/level.acmap", "map", &Meta{GUID: "map-guid"})
	writeAsset(t, root, "Level.scene", "kind: scene\n", nil)

	p, err := OpenProject(root)
	require.NoError(t, err)

	asset, err := p.PathForGUID("map-guid")
	require.NoError(t, err)
	require.Equal(t, "Audio/level.acmap", asset)

	_, err = p.GUID("Level.scene")
	require.Error(t, err)

	meta, err := p.EnsureMeta("Level.scene")
	require.NoError(t, err)
	require.Len(t, meta.GUID, 32)

	resolved, err := p.PathForGUID(meta.GUID)
	require.NoError(t, err)
	require.Equal(t, "Level.scene", resolved)
}

func TestLoadAndSaveDocument(t *testing.T) {
	root := t.TempDir()
	writeAsset(t, root, "Level.scene", `
objects:
  - name: Floor
    components:
      - kind: BoxCollider
        fields:
          size: "10,1,10"
`, nil)
	p, err := OpenProject(root)
	require.NoError(t, err)

	doc, err := p.LoadDocument("Level.scene")
	require.NoError(t, err)
	require.Equal(t, KindScene, doc.Kind)
	require.Len(t, doc.Objects, 1)

	doc.Objects[0].AddComponent("Marker").SetField("note", "x")
	require.NoError(t, p.SaveDocument("Level.scene", doc))

	reloaded, err := p.LoadDocument("Level.scene")
	require.NoError(t, err)
	require.Equal(t, "x", reloaded.Objects[0].Component("Marker").Field("note"))

	_, err = p.LoadDocument("notes.txt")
	require.Error(t, err)
}
