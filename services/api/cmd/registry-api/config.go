package main

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"

	"modkit/pkg/s3"
)

// Config holds runtime configuration for the registry server.
type Config struct {
	Addr               string        `env:"ADDR,default=:8080"`
	DBDSN              string        `env:"DB_DSN"`
	Bucket             string        `env:"S3_BUCKET,default=modkit"`
	NATSURL            string        `env:"NATS_URL"`
	PublicBaseURL      string        `env:"PUBLIC_BASE_URL,default=http://localhost:8080"`
	OTLPEndpoint       string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	RateLimitPerMinute int           `env:"RATE_LIMIT_PER_MINUTE,default=120"`
	PresignTTL         time.Duration `env:"PRESIGN_TTL,default=15m"`
	TokenCacheTTL      time.Duration `env:"TOKEN_CACHE_TTL,default=1m"`
	BootstrapUser      string        `env:"BOOTSTRAP_USER"`
	BootstrapToken     string        `env:"BOOTSTRAP_TOKEN"`
	LogFormat          string        `env:"LOG_FORMAT,default=json"`
	S3                 s3.Config
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
