package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"modkit/pkg/bus"
	"modkit/pkg/telemetry"
	"modkit/services/bundler"
	"modkit/services/content"
	"modkit/services/fingerprint"
	"modkit/services/mods"
	"modkit/services/notify"
	"modkit/services/orchestrator"
	"modkit/services/publisher"
	"modkit/services/registry"
	"modkit/services/scene"
)

// app holds the components shared by every command. Build and registry components are created on
// demand since most commands need only one of them.
type app struct {
	cfg    Config
	logger zerolog.Logger
	out    io.Writer
	in     io.Reader

	project  *content.Project
	store    *mods.Store
	detector *fingerprint.Detector
	events   *bus.Bus
	signer   *bundler.Signer
	shutdown func(context.Context) error
}

func newApp(ctx context.Context, cfg Config, logger zerolog.Logger, out io.Writer, in io.Reader) (*app, error) {
	project, err := content.OpenProject(cfg.ProjectRoot)
	if err != nil {
		return nil, err
	}
	store, err := mods.NewStore(cfg.DescriptorDir)
	if err != nil {
		return nil, err
	}
	signer, err := bundler.NewSignerFromEnv(ctx)
	if err != nil {
		return nil, err
	}
	shutdown, _, err := telemetry.Init(ctx, serviceName, cfg.OTLPEndpoint, logger)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}
	a := &app{
		cfg:      cfg,
		logger:   logger,
		out:      out,
		in:       in,
		project:  project,
		store:    store,
		detector: fingerprint.NewDetector(project, logger),
		signer:   signer,
		shutdown: shutdown,
	}
	if cfg.NATSURL != "" {
		b, err := bus.New(cfg.NATSURL)
		if err != nil {
			logger.Warn().Err(err).Str("url", cfg.NATSURL).Msg("event bus unavailable, events are not published")
		} else if err := b.EnsureStream(); err != nil {
			logger.Warn().Err(err).Msg("ensure event stream")
			b.Close()
		} else {
			a.events = b
		}
	}
	return a, nil
}

func (a *app) close(ctx context.Context) {
	if a.events != nil {
		a.events.Close()
	}
	if err := a.shutdown(context.WithoutCancel(ctx)); err != nil {
		a.logger.Error().Err(err).Msg("shutdown otel")
	}
}

// resolve finds a descriptor by name, or by asset path when ref names a content asset.
func (a *app) resolve(ref string) (string, error) {
	if content.KindOf(ref) != content.KindUnknown {
		d, err := a.store.FindByAsset(ref)
		if err != nil {
			return "", err
		}
		return d.Name, nil
	}
	return ref, nil
}

// withDescriptor runs fn on the locked descriptor named by ref and saves the descriptor afterwards,
// also when fn fails, so that state such as a cleared fingerprint is kept.
func (a *app) withDescriptor(ref string, fn func(d *mods.Descriptor) error) error {
	name, err := a.resolve(ref)
	if err != nil {
		return err
	}
	unlock, err := a.store.Lock(name)
	if err != nil {
		return fmt.Errorf("lock descriptor: %w", err)
	}
	defer func() {
		if err := unlock(); err != nil {
			a.logger.Warn().Err(err).Str("mod", name).Msg("unlock descriptor")
		}
	}()

	d, err := a.store.Load(name)
	if err != nil {
		return err
	}
	runErr := fn(d)
	if err := a.store.Save(d); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

// notifier reports to the console and, when connected, to the event stream.
func (a *app) notifier(ctx context.Context, d *mods.Descriptor) mods.Notifier {
	console := notify.NewConsole(a.out)
	if a.events == nil || d == nil {
		return console
	}
	return notify.Multi{console, notify.NewBus(ctx, a.events, d.Name, d.ModID, a.logger)}
}

func (a *app) orchestrator(n mods.Notifier) (*orchestrator.Orchestrator, error) {
	argv := strings.Fields(a.cfg.BuildCommand)
	if len(argv) == 0 {
		return nil, errors.New("MODKIT_BUILD_COMMAND is required to build mods")
	}
	active, err := mods.ParsePlatform(a.cfg.ActivePlatform)
	if err != nil {
		return nil, err
	}
	backend, err := orchestrator.NewCommandBackend(orchestrator.CommandConfig{
		BuildCommand:    argv,
		SwitchCommand:   strings.Fields(a.cfg.SwitchCommand),
		StateDir:        a.cfg.StateDir,
		DefaultPlatform: active,
		Dir:             a.cfg.ProjectRoot,
		Logger:          a.logger,
	})
	if err != nil {
		return nil, err
	}
	scenes, err := scene.NewValidator(scene.Config{Index: a.project, Logger: a.logger})
	if err != nil {
		return nil, err
	}
	return orchestrator.New(orchestrator.Config{
		Content:    a.project,
		Backend:    backend,
		Host:       backend,
		Detector:   a.detector,
		Scenes:     scenes,
		Notifier:   n,
		Logger:     a.logger,
		ModsDir:    a.cfg.ModsDir,
		SDKVersion: a.cfg.SDKVersion,
		LockDir:    a.cfg.StateDir,
	})
}

func (a *app) registry() (*registry.Client, error) {
	if a.cfg.RegistryURL == "" {
		return nil, errors.New("MODKIT_REGISTRY_URL is required for registry commands")
	}
	tmp := filepath.Join(a.cfg.StateDir, "tmp")
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	return registry.NewClient(registry.ClientConfig{
		BaseURL: a.cfg.RegistryURL,
		Token:   a.cfg.APIToken,
		Signer:  a.signer,
		TempDir: tmp,
		Logger:  a.logger,
	})
}

func (a *app) publisher(n mods.Notifier, confirm func(d *mods.Descriptor) bool) (*publisher.Publisher, error) {
	client, err := a.registry()
	if err != nil {
		return nil, err
	}
	return publisher.New(publisher.Config{
		Registry:      client,
		Notifier:      n,
		Logger:        a.logger,
		ProjectRoot:   a.cfg.ProjectRoot,
		LogoMinWidth:  a.cfg.LogoMinWidth,
		LogoMinHeight: a.cfg.LogoMinHeight,
		Confirm:       confirm,
		PageBaseURL:   a.cfg.PublicBaseURL,
	})
}
