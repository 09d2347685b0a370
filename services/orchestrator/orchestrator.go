// Package orchestrator packs a mod's content asset into one bundle per platform.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"modkit/pkg/render"
	"modkit/services/content"
	"modkit/services/mods"
	"modkit/services/scene"
)

// ModInfoFile is written to every platform output directory.
const ModInfoFile = "modinfo.txt"

// Content is the project surface the orchestrator reads and writes.
type Content interface {
	LoadDocument(asset string) (*content.Document, error)
	SaveDocument(asset string, doc *content.Document) error
	GUID(asset string) (string, error)
}

// ChangeDetector decides whether an asset must be rebuilt.
type ChangeDetector interface {
	NeedsRebuild(asset string, cached mods.Fingerprint) (bool, mods.Fingerprint)
}

// ScenePreparer makes a scene consistent before a build and restores its links afterwards.
type ScenePreparer interface {
	PrepareScene(scene string, doc *content.Document) (*scene.Result, error)
	RestoreLinks(doc *content.Document) int
}

// Config wires an Orchestrator.
type Config struct {
	Content  Content
	Backend  Backend
	Host     Host
	Detector ChangeDetector
	Scenes   ScenePreparer
	Notifier mods.Notifier
	Renderer *render.Engine
	Metrics  *Metrics
	Logger   zerolog.Logger

	// ModsDir receives <name>/<platform> output directories.
	ModsDir    string
	SDKVersion string
	// LockDir, when set, holds the host-wide build lock taken for the whole pack.
	LockDir string
	Now     func() time.Time
}

// Orchestrator runs the build pipeline.
type Orchestrator struct {
	content  Content
	backend  Backend
	host     Host
	detector ChangeDetector
	scenes   ScenePreparer
	notifier mods.Notifier
	renderer *render.Engine
	metrics  *Metrics
	logger   zerolog.Logger
	tracer   trace.Tracer

	modsDir    string
	sdkVersion string
	lockDir    string
	now        func() time.Time
}

func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Content == nil:
		return nil, errors.New("content is required")
	case cfg.Backend == nil:
		return nil, errors.New("build backend is required")
	case cfg.Host == nil:
		return nil, errors.New("platform host is required")
	case cfg.Detector == nil:
		return nil, errors.New("change detector is required")
	case cfg.Scenes == nil:
		return nil, errors.New("scene preparer is required")
	case cfg.ModsDir == "":
		return nil, errors.New("mods dir is required")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = mods.NopNotifier{}
	}
	if cfg.Renderer == nil {
		r, err := render.New()
		if err != nil {
			return nil, err
		}
		cfg.Renderer = r
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{
		content:    cfg.Content,
		backend:    cfg.Backend,
		host:       cfg.Host,
		detector:   cfg.Detector,
		scenes:     cfg.Scenes,
		notifier:   cfg.Notifier,
		renderer:   cfg.Renderer,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger.With().Str("component", "orchestrator").Logger(),
		tracer:     otel.Tracer("modkit/orchestrator"),
		modsDir:    cfg.ModsDir,
		sdkVersion: cfg.SDKVersion,
		lockDir:    cfg.LockDir,
		now:        cfg.Now,
	}, nil
}

// OutputDir returns the output directory for d on platform p.
func (o *Orchestrator) OutputDir(d *mods.Descriptor, p mods.Platform) string {
	return filepath.Join(o.modsDir, mods.SanitizeName(d.Name), string(p))
}

type preparation struct {
	scene    *content.Document
	acoustic string
}

// PackMod builds d for the active platform and then its alternate. Nothing is built when the
// asset's dependency closure is unchanged since the last successful pack. The fingerprint is
// committed only when every platform succeeds. When interactive is set the notifier receives a
// summary of the outcome.
func (o *Orchestrator) PackMod(ctx context.Context, d *mods.Descriptor, interactive bool) (err error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.PackMod", trace.WithAttributes(
		attribute.String("mod", d.Name),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	log := o.logger.With().Str("mod", d.Name).Logger()

	defer func() {
		d.ResetProgress()
		if !interactive {
			return
		}
		if err != nil {
			o.notifier.ReportError("Mod packaging failed: " + err.Error())
			return
		}
		o.notifier.ReportSuccess("Mod packaged successfully.")
	}()

	if err := d.Validate(); err != nil {
		return err
	}

	if o.lockDir != "" {
		release, err := mods.LockHost(o.lockDir)
		if err != nil {
			return fmt.Errorf("acquire build lock: %w", err)
		}
		defer func() {
			if err := release(); err != nil {
				log.Warn().Err(err).Msg("release build lock")
			}
		}()
	}

	prep, err := o.prepare(d)
	if err != nil {
		return err
	}
	if prep.scene != nil {
		defer o.restoreScene(d, prep.scene, log)
	}

	changed, current := o.detector.NeedsRebuild(d.Asset, d.LastFingerprint)
	if !changed {
		o.metrics.observeSkip()
		log.Info().Msg("no changes, skipping build")
		return nil
	}

	if err := o.buildAll(ctx, d, prep, log); err != nil {
		log.Error().Err(err).Msg("pack failed")
		return err
	}

	d.LastFingerprint = current
	log.Info().Int("dependencies", len(current)).Msg("mod packed")
	return nil
}

func (o *Orchestrator) prepare(d *mods.Descriptor) (preparation, error) {
	switch content.KindOf(d.Asset) {
	case content.KindScene:
		if d.Type != mods.ModTypeMap {
			return preparation{}, nil
		}
		doc, err := o.content.LoadDocument(d.Asset)
		if err != nil {
			return preparation{}, &mods.ScenePreparationError{Scene: d.Asset, Reason: "load scene", Err: err}
		}
		res, err := o.scenes.PrepareScene(d.Asset, doc)
		if err != nil {
			return preparation{}, err
		}
		if err := o.content.SaveDocument(d.Asset, doc); err != nil {
			return preparation{}, &mods.ScenePreparationError{Scene: d.Asset, Reason: "save scene", Err: err}
		}
		o.logger.Debug().
			Str("mod", d.Name).
			Bool("metadata_created", res.MetadataCreated).
			Int("removed_components", res.RemovedComponents).
			Int("added_wrappers", res.AddedWrappers).
			Int("links", len(res.Links)).
			Msg("scene prepared")
		return preparation{scene: doc, acoustic: res.AcousticAssetPath}, nil

	case content.KindObject:
		doc, err := o.content.LoadDocument(d.Asset)
		if err != nil {
			return preparation{}, fmt.Errorf("load %s: %w", d.Asset, err)
		}
		bounds, err := content.CalculateBounds(doc)
		if err != nil {
			return preparation{}, fmt.Errorf("calculate bounds of %s: %w", d.Asset, err)
		}
		d.HalfExtents = bounds.Extents
		meta, err := json.Marshal(map[string]string{"bounds": bounds.Extents.String()})
		if err != nil {
			return preparation{}, err
		}
		d.Metadata = string(meta)
	}
	return preparation{}, nil
}

func (o *Orchestrator) restoreScene(d *mods.Descriptor, doc *content.Document, log zerolog.Logger) {
	if n := o.scenes.RestoreLinks(doc); n == 0 {
		return
	}
	if err := o.content.SaveDocument(d.Asset, doc); err != nil {
		log.Warn().Err(err).Msg("save restored scene links")
	}
}

func (o *Orchestrator) buildAll(ctx context.Context, d *mods.Descriptor, prep preparation, log zerolog.Logger) error {
	original := o.host.ActivePlatform()
	order := []mods.Platform{original, original.Alternate()}

	defer func() {
		if o.host.ActivePlatform() == original {
			return
		}
		if err := o.host.SwitchPlatform(context.WithoutCancel(ctx), original); err != nil {
			log.Error().Err(err).Str("platform", string(original)).Msg("failed to restore active platform")
		}
	}()

	for i, p := range order {
		if i > 0 {
			if err := o.host.SwitchPlatform(ctx, p); err != nil {
				return &mods.BuildError{Platform: p, Err: fmt.Errorf("switch platform: %w", err)}
			}
		}
		label := "Building " + p.Label()
		d.SetProgress(float64(i)/float64(len(order)), label)
		o.notifier.ReportProgress(d.Progress, label)

		dir, err := o.buildPlatform(ctx, d, p, prep)
		if err != nil {
			return err
		}
		d.SetBuildPath(p, dir)
		log.Info().Str("platform", string(p)).Str("path", dir).Msg("platform built")
	}
	o.notifier.ReportProgress(1, "Build complete")
	return nil
}

func (o *Orchestrator) buildPlatform(ctx context.Context, d *mods.Descriptor, p mods.Platform, prep preparation) (dir string, err error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.build", trace.WithAttributes(
		attribute.String("mod", d.Name),
		attribute.String("platform", string(p)),
	))
	started := time.Now()
	defer func() {
		o.metrics.observeBuild(p, started, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	fail := func(err error) (string, error) {
		return "", &mods.BuildError{Platform: p, Output: err.Error(), Err: err}
	}

	dir = o.OutputDir(d, p)
	if err := os.RemoveAll(dir); err != nil {
		return fail(fmt.Errorf("clear output dir: %w", err))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fail(fmt.Errorf("create output dir: %w", err))
	}

	guid, err := o.content.GUID(d.Asset)
	if err != nil {
		return fail(fmt.Errorf("unable to find guid: %w", err))
	}
	var extra []AddressEntry
	if prep.acoustic != "" {
		if acousticGUID, err := o.content.GUID(prep.acoustic); err == nil {
			extra = append(extra, AddressEntry{Address: acousticGUID, AssetPath: prep.acoustic, Labels: []string{scene.KindAcousticMap}})
		} else {
			o.logger.Warn().Err(err).Str("path", prep.acoustic).Msg("acoustic map has no guid, not addressed")
		}
	}

	settings := Settings{
		Platform:         p,
		Group:            NewAddressGroup(d, guid, extra...),
		OutputPath:       dir,
		LoadPathTemplate: LocalLoadPath,
		PlayerVersion:    mods.SanitizeName(d.Name),
	}
	if err := o.backend.Configure(ctx, settings); err != nil {
		return fail(fmt.Errorf("configure: %w", err))
	}
	if err := o.backend.InvalidateCache(ctx); err != nil {
		return fail(fmt.Errorf("invalidate cache: %w", err))
	}
	if err := o.backend.Build(ctx); err != nil {
		return fail(err)
	}

	if err := o.writeModInfo(d, p, dir); err != nil {
		return fail(err)
	}
	return dir, nil
}

func (o *Orchestrator) writeModInfo(d *mods.Descriptor, p mods.Platform, dir string) error {
	out, err := o.renderer.Render("modinfo.tmpl", render.ModInfo{
		ModID:      d.ModID,
		Name:       d.Name,
		Version:    d.Version,
		SDKVersion: o.sdkVersion,
		ModType:    string(d.Type),
		Platform:   string(p),
		BuiltAt:    o.now(),
	})
	if err != nil {
		return fmt.Errorf("render %s: %w", ModInfoFile, err)
	}
	if err := os.WriteFile(filepath.Join(dir, ModInfoFile), []byte(out), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", ModInfoFile, err)
	}
	return nil
}
