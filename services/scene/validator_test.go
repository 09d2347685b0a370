package scene

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"modkit/services/content"
	"modkit/services/mods"
)

type memIndex map[string]string

func (m memIndex) GUID(asset string) (string, error) {
	if g, ok := m[asset]; ok {
		return g, nil
	}
	return "", errors.New("no guid")
}

func (m memIndex) PathForGUID(guid string) (string, error) {
	for asset, g := range m {
		if g == guid {
			return asset, nil
		}
	}
	return "", errors.New("unknown guid")
}

func newValidator(t *testing.T, index memIndex) *Validator {
	t.Helper()
	v, err := NewValidator(Config{Index: index, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return v
}

func comp(kind string, fields map[string]string) *content.Component {
	return &content.Component{Kind: kind, Fields: fields}
}

func TestPrepareSceneCreatesMetadataAndWraps(t *testing.T) {
	doc := &content.Document{Kind: content.KindScene, Objects: []*content.Object{
		{Name: "Crate", Components: []*content.Component{comp(KindRigidbody, nil)}},
		{Name: "Door", Components: []*content.Component{comp(KindRigidbody, nil), comp(KindNetworkedInteractable, nil)}},
		{Name: "Ambience", Components: []*content.Component{comp(KindAmbientAudioEmitter, nil), comp(KindAmbientAudioEmitter, nil)}},
	}}
	v := newValidator(t, memIndex{})

	res, err := v.PrepareScene("Level", doc)
	require.NoError(t, err)
	require.True(t, res.MetadataCreated)
	require.Equal(t, 2, res.RemovedComponents)
	require.Equal(t, 1, res.AddedWrappers)
	require.Equal(t, []string{"Crate", "Door"}, res.Interactables)
	require.True(t, res.AudioLinked)
	require.Len(t, doc.FindAll(KindSceneMetadata), 1)
	require.Empty(t, doc.Objects[2].Components)

	again, err := v.PrepareScene("Level", doc)
	require.NoError(t, err)
	require.False(t, again.MetadataCreated)
	require.Zero(t, again.AddedWrappers)
	require.Len(t, doc.FindAll(KindSceneMetadata), 1)
	require.Len(t, doc.Objects[0].Components, 2)
}

func TestPrepareSceneRejectsDuplicateMetadata(t *testing.T) {
	doc := &content.Document{Kind: content.KindScene, Objects: []*content.Object{
		{Name: "A", Components: []*content.Component{comp(KindSceneMetadata, nil)}},
		{Name: "B", Components: []*content.Component{comp(KindSceneMetadata, nil)}},
	}}
	_, err := newValidator(t, memIndex{}).PrepareScene("Level", doc)
	var perr *mods.ScenePreparationError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "Level", perr.Scene)
}

func TestPrepareSceneRejectsNonScene(t *testing.T) {
	v := newValidator(t, memIndex{})
	_, err := v.PrepareScene("Crate", &content.Document{Kind: content.KindObject})
	var perr *mods.ScenePreparationError
	require.ErrorAs(t, err, &perr)

	_, err = v.PrepareScene("Crate", nil)
	require.ErrorAs(t, err, &perr)
}

func TestPrepareSceneBacksUpLinks(t *testing.T) {
	doc := &content.Document{Kind: content.KindScene, Objects: []*content.Object{
		{Name: "Geometry", Components: []*content.Component{comp(KindAcousticGeometry, map[string]string{"relativeFilePath": "Audio/room.geo"})}},
		{Name: "Broken", Components: []*content.Component{comp(KindAcousticMap, map[string]string{"relativeFilePath": "Audio/missing.map"})}},
		{Name: "Map", Components: []*content.Component{comp(KindAcousticMap, map[string]string{"relativeFilePath": "Audio/room.map"})}},
	}}
	index := memIndex{"Audio/room.geo": "g1", "Audio/room.map": "m1"}
	v := newValidator(t, index)

	res, err := v.PrepareScene("Level", doc)
	require.NoError(t, err)
	require.True(t, res.AudioLinked)
	require.Len(t, res.Links, 2)
	require.Equal(t, "Audio/room.map", res.AcousticAssetPath)
	require.Equal(t, "m1", doc.Objects[2].Components[0].Field("fileGuidBackup"))
	require.Empty(t, doc.Objects[1].Components[0].Field("fileGuidBackup"))

	// The build backend remaps identifiers and leaves the path fields stale.
	doc.Objects[2].Components[0].SetField("relativeFilePath", "remapped/0001")
	delete(index, "Audio/room.map")
	index["Audio/Baked/room.map"] = "m1"

	require.Equal(t, 2, v.RestoreLinks(doc))
	require.Equal(t, "Audio/Baked/room.map", doc.Objects[2].Components[0].Field("relativeFilePath"))
}

func TestPrepareSceneDegradesWithoutAudio(t *testing.T) {
	doc := &content.Document{Kind: content.KindScene, Objects: []*content.Object{
		{Name: "Map", Components: []*content.Component{comp(KindAcousticMap, map[string]string{"relativeFilePath": "gone.map"})}},
	}}
	res, err := newValidator(t, memIndex{}).PrepareScene("Level", doc)
	require.NoError(t, err)
	require.False(t, res.AudioLinked)
	require.Empty(t, res.AcousticAssetPath)
}
