package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds the modctl settings read from MODKIT_* environment variables.
type Config struct {
	ProjectRoot    string        `env:"MODKIT_PROJECT_ROOT,default=."`
	ModsDir        string        `env:"MODKIT_MODS_DIR"`
	DescriptorDir  string        `env:"MODKIT_DESCRIPTOR_DIR"`
	StateDir       string        `env:"MODKIT_STATE_DIR"`
	RegistryURL    string        `env:"MODKIT_REGISTRY_URL"`
	APIToken       string        `env:"MODKIT_API_TOKEN"`
	PublicBaseURL  string        `env:"MODKIT_PUBLIC_BASE_URL"`
	BuildCommand   string        `env:"MODKIT_BUILD_COMMAND"`
	SwitchCommand  string        `env:"MODKIT_SWITCH_COMMAND"`
	ActivePlatform string        `env:"MODKIT_ACTIVE_PLATFORM,default=windows"`
	TestModsDir    string        `env:"MODKIT_TEST_MODS_DIR"`
	NATSURL        string        `env:"MODKIT_NATS_URL"`
	LogoMinWidth   int           `env:"MODKIT_LOGO_MIN_WIDTH,default=512"`
	LogoMinHeight  int           `env:"MODKIT_LOGO_MIN_HEIGHT,default=288"`
	SDKVersion     string        `env:"MODKIT_SDK_VERSION,default=dev"`
	PollInterval   time.Duration `env:"MODKIT_POLL_INTERVAL,default=30s"`
	OTLPEndpoint   string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads the configuration through lookuper and resolves directories against the project root.
func Load(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: lookuper}); err != nil {
		return Config{}, err
	}
	root, err := filepath.Abs(cfg.ProjectRoot)
	if err != nil {
		return Config{}, fmt.Errorf("resolve project root: %w", err)
	}
	cfg.ProjectRoot = root
	cfg.ModsDir = underRoot(root, cfg.ModsDir, "Mods")
	cfg.DescriptorDir = underRoot(root, cfg.DescriptorDir, "ModDescriptors")
	cfg.StateDir = underRoot(root, cfg.StateDir, ".modkit")
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = cfg.RegistryURL
	}
	return cfg, nil
}

func underRoot(root, dir, fallback string) string {
	switch {
	case dir == "":
		return filepath.Join(root, fallback)
	case filepath.IsAbs(dir):
		return dir
	default:
		return filepath.Join(root, dir)
	}
}
