// Package scene makes scene documents consistent with what the runtime host expects before they
// are handed to the build backend.
package scene

import (
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"modkit/services/content"
	"modkit/services/mods"
)

const (
	KindSceneMetadata         = "ModdedSceneData"
	KindRigidbody             = "Rigidbody"
	KindNetworkedInteractable = "NetworkedInteractable"
	KindAcousticGeometry      = "AcousticGeometry"
	KindAcousticMap           = "AcousticMap"
	KindAmbientAudioEmitter   = "AmbientAudioEmitter"
)

// DefaultUnsupported lists components the runtime host cannot run inside a modded scene.
var DefaultUnsupported = []string{KindAmbientAudioEmitter, "AudioListener", "EventSystem"}

// ContentIndex maps asset paths to durable content identifiers and back.
type ContentIndex interface {
	GUID(asset string) (string, error)
	PathForGUID(guid string) (string, error)
}

// Config wires a Validator.
type Config struct {
	Index       ContentIndex
	Resolvers   []LinkedAssetResolver
	Unsupported []string
	Logger      zerolog.Logger
}

// Validator prepares scenes for a build and restores their links afterwards.
type Validator struct {
	index       ContentIndex
	resolvers   map[string]LinkedAssetResolver
	unsupported map[string]bool
	logger      zerolog.Logger
}

func NewValidator(cfg Config) (*Validator, error) {
	if cfg.Index == nil {
		return nil, errors.New("content index is required")
	}
	if cfg.Resolvers == nil {
		cfg.Resolvers = AcousticResolvers()
	}
	if cfg.Unsupported == nil {
		cfg.Unsupported = DefaultUnsupported
	}
	v := &Validator{
		index:       cfg.Index,
		resolvers:   make(map[string]LinkedAssetResolver, len(cfg.Resolvers)),
		unsupported: make(map[string]bool, len(cfg.Unsupported)),
		logger:      cfg.Logger.With().Str("component", "scene").Logger(),
	}
	for _, r := range cfg.Resolvers {
		v.resolvers[r.Kind()] = r
	}
	for _, kind := range cfg.Unsupported {
		v.unsupported[kind] = true
	}
	return v, nil
}

// Link is a linked-content component whose reference was backed up.
type Link struct {
	Object string
	Kind   string
	Path   string
	GUID   string
}

// Result summarizes what PrepareScene changed.
type Result struct {
	MetadataCreated   bool
	RemovedComponents int
	AddedWrappers     int
	Interactables     []string
	Links             []Link
	// AcousticAssetPath is the first acoustic map referenced by the scene, or "".
	AcousticAssetPath string
	// AudioLinked is false when the scene expected linked audio content and none could be resolved.
	AudioLinked bool
}

// PrepareScene mutates doc in place so that it holds exactly one scene metadata object, carries no
// unsupported components, wraps every physics body for replication and has its linked-content
// references backed up by content identifier.
func (v *Validator) PrepareScene(scene string, doc *content.Document) (*Result, error) {
	if doc == nil {
		return nil, &mods.ScenePreparationError{Scene: scene, Reason: "scene document is missing"}
	}
	if doc.Kind != content.KindScene {
		return nil, &mods.ScenePreparationError{Scene: scene, Reason: "asset is not a scene"}
	}
	log := v.logger.With().Str("scene", scene).Logger()
	res := &Result{AudioLinked: true}

	metadata := doc.FindAll(KindSceneMetadata)
	switch len(metadata) {
	case 0:
		obj := &content.Object{Name: KindSceneMetadata}
		obj.AddComponent(KindSceneMetadata)
		doc.Objects = append(doc.Objects, obj)
		metadata = append(metadata, obj)
		res.MetadataCreated = true
		log.Info().Msg("created scene metadata object")
	case 1:
	default:
		names := make([]string, 0, len(metadata))
		for _, obj := range metadata {
			names = append(names, obj.Name)
		}
		return nil, &mods.ScenePreparationError{
			Scene:  scene,
			Reason: "scene has more than one scene metadata object: " + strings.Join(names, ", "),
		}
	}

	var expected int
	_ = doc.Walk(func(obj *content.Object, _ content.Vector3) error {
		if n := obj.RemoveComponents(v.unsupported); n > 0 {
			res.RemovedComponents += n
			log.Info().Str("object", obj.Name).Int("removed", n).Msg("removed unsupported components")
		}
		if obj.Has(KindRigidbody) && !obj.Has(KindNetworkedInteractable) {
			obj.AddComponent(KindNetworkedInteractable)
			res.AddedWrappers++
		}
		if obj.Has(KindNetworkedInteractable) {
			res.Interactables = append(res.Interactables, obj.Name)
		}
		for _, c := range obj.Components {
			if c == nil {
				continue
			}
			r, ok := v.resolvers[c.Kind]
			if !ok {
				continue
			}
			expected++
			link, err := v.backup(r, obj, c)
			if err != nil {
				log.Warn().Err(err).Str("object", obj.Name).Str("kind", c.Kind).Msg("skipping linked component")
				continue
			}
			res.Links = append(res.Links, link)
			if r.Map() && res.AcousticAssetPath == "" {
				res.AcousticAssetPath = link.Path
			}
		}
		return nil
	})

	metadata[0].Component(KindSceneMetadata).SetField("interactables", strings.Join(res.Interactables, ","))

	if expected > 0 && len(res.Links) == 0 {
		res.AudioLinked = false
		log.Warn().Int("expected", expected).Msg("no linked audio content resolved, building without audio linking")
	}
	return res, nil
}

func (v *Validator) backup(r LinkedAssetResolver, obj *content.Object, c *content.Component) (Link, error) {
	asset := r.Path(c)
	if strings.TrimSpace(asset) == "" {
		return Link{}, errors.New("component has no file reference")
	}
	guid, err := v.index.GUID(asset)
	if err != nil {
		return Link{}, err
	}
	r.SetIdentifier(c, guid)
	return Link{Object: obj.Name, Kind: c.Kind, Path: asset, GUID: guid}, nil
}

// RestoreLinks rewrites every linked component's file reference from its backed-up identifier and
// returns how many were restored.
func (v *Validator) RestoreLinks(doc *content.Document) int {
	if doc == nil {
		return 0
	}
	restored := 0
	_ = doc.Walk(func(obj *content.Object, _ content.Vector3) error {
		for _, c := range obj.Components {
			if c == nil {
				continue
			}
			r, ok := v.resolvers[c.Kind]
			if !ok {
				continue
			}
			guid := r.Identifier(c)
			if guid == "" {
				continue
			}
			asset, err := v.index.PathForGUID(guid)
			if err != nil {
				v.logger.Warn().Err(err).Str("object", obj.Name).Msg("cannot restore linked component")
				continue
			}
			r.SetPath(c, asset)
			restored++
		}
		return nil
	})
	return restored
}
