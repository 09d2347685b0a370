package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"modkit/services/mods"
)

const (
	settingsFile       = "build-settings.yaml"
	activePlatformFile = "active-platform"
	maxOutputBytes     = 4096
)

// CommandConfig configures a CommandBackend.
type CommandConfig struct {
	// BuildCommand runs the content build. It reads the settings file named by MODKIT_BUILD_SETTINGS.
	BuildCommand []string
	// SwitchCommand, when set, is run with MODKIT_PLATFORM to retarget the toolchain.
	SwitchCommand []string
	// StateDir holds the settings file, the build cache and the active platform record.
	StateDir string
	// DefaultPlatform is used until a switch has been recorded.
	DefaultPlatform mods.Platform
	Dir             string
	Logger          zerolog.Logger
}

// CommandBackend drives an external build toolchain through shell commands. It implements both
// Backend and Host.
type CommandBackend struct {
	cfg    CommandConfig
	logger zerolog.Logger

	mu       sync.Mutex
	settings *Settings
	active   mods.Platform
}

func NewCommandBackend(cfg CommandConfig) (*CommandBackend, error) {
	if len(cfg.BuildCommand) == 0 {
		return nil, errors.New("build command is required")
	}
	if cfg.StateDir == "" {
		return nil, errors.New("state dir is required")
	}
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	if cfg.DefaultPlatform == "" {
		cfg.DefaultPlatform = mods.PlatformWindows
	}
	b := &CommandBackend{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "build-backend").Logger(),
		active: cfg.DefaultPlatform,
	}
	if raw, err := os.ReadFile(filepath.Join(cfg.StateDir, activePlatformFile)); err == nil {
		if p, err := mods.ParsePlatform(string(raw)); err == nil {
			b.active = p
		}
	}
	return b, nil
}

// ActivePlatform returns the platform the toolchain currently targets.
func (b *CommandBackend) ActivePlatform() mods.Platform {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// SwitchPlatform retargets the toolchain and records the new platform.
func (b *CommandBackend) SwitchPlatform(ctx context.Context, p mods.Platform) error {
	if len(b.cfg.SwitchCommand) > 0 {
		if _, err := b.run(ctx, b.cfg.SwitchCommand, "MODKIT_PLATFORM="+string(p)); err != nil {
			return fmt.Errorf("switch to %s: %w", p, err)
		}
	}
	if err := os.WriteFile(filepath.Join(b.cfg.StateDir, activePlatformFile), []byte(p), 0o644); err != nil {
		return fmt.Errorf("record active platform: %w", err)
	}
	b.mu.Lock()
	b.active = p
	b.mu.Unlock()
	b.logger.Info().Str("platform", string(p)).Msg("switched active platform")
	return nil
}

// Configure writes the settings file consumed by the build command.
func (b *CommandBackend) Configure(_ context.Context, settings Settings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode build settings: %w", err)
	}
	if err := os.WriteFile(b.settingsPath(), data, 0o644); err != nil {
		return fmt.Errorf("write build settings: %w", err)
	}
	b.mu.Lock()
	b.settings = &settings
	b.mu.Unlock()
	return nil
}

// InvalidateCache removes the build cache directory.
func (b *CommandBackend) InvalidateCache(context.Context) error {
	if err := os.RemoveAll(b.cacheDir()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("purge build cache: %w", err)
	}
	return nil
}

// Build runs the build command against the last configured settings.
func (b *CommandBackend) Build(ctx context.Context) error {
	b.mu.Lock()
	settings := b.settings
	b.mu.Unlock()
	if settings == nil {
		return errors.New("build backend is not configured")
	}
	out, err := b.run(ctx, b.cfg.BuildCommand,
		"MODKIT_BUILD_SETTINGS="+b.settingsPath(),
		"MODKIT_BUILD_CACHE="+b.cacheDir(),
		"MODKIT_PLATFORM="+string(settings.Platform),
		"MODKIT_OUTPUT_PATH="+settings.OutputPath,
	)
	if err != nil {
		return err
	}
	b.logger.Debug().Str("platform", string(settings.Platform)).Str("output", out).Msg("build finished")
	return nil
}

func (b *CommandBackend) settingsPath() string {
	return filepath.Join(b.cfg.StateDir, settingsFile)
}

func (b *CommandBackend) cacheDir() string {
	return filepath.Join(b.cfg.StateDir, "cache")
}

func (b *CommandBackend) run(ctx context.Context, argv []string, env ...string) (string, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = b.cfg.Dir
	cmd.Env = append(os.Environ(), env...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	out := tailOutput(strings.TrimSpace(buf.String()))
	if err != nil {
		if out == "" {
			return "", fmt.Errorf("%s: %w", argv[0], err)
		}
		return out, fmt.Errorf("%s: %w: %s", argv[0], err, out)
	}
	return out, nil
}

// tailOutput keeps the last maxOutputBytes of out, cut on a rune boundary.
func tailOutput(out string) string {
	if len(out) <= maxOutputBytes {
		return out
	}
	cut := len(out) - maxOutputBytes
	for cut < len(out) && !utf8.RuneStart(out[cut]) {
		cut++
	}
	return "..." + out[cut:]
}
