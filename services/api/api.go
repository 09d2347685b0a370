// Package api serves the mod registry: owner-scoped profiles, presigned modfile uploads and downloads.
package api

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"
)

const (
	defaultPresignTTL    = 15 * time.Minute
	defaultTokenCacheTTL = time.Minute
	defaultMaxLogoBytes  = 8 << 20
	defaultRateLimit     = 120
)

// ObjectStore is the artifact storage the registry presigns against. pkg/s3.Client implements it.
type ObjectStore interface {
	PresignPut(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	Stat(ctx context.Context, bucket, key string) (int64, error)
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, sha256 string) error
}

// EventPublisher publishes registry events. pkg/bus.Bus implements it.
type EventPublisher interface {
	Publish(ctx context.Context, subj string, v any) error
}

// Deps holds the external dependencies of the API layer.
type Deps struct {
	Store   Store
	Objects ObjectStore
	// Bus is optional.
	Bus     EventPublisher
	Metrics *Metrics
	Logger  zerolog.Logger
}

// Config controls runtime behaviour for the API handlers.
type Config struct {
	Bucket string
	// PublicBaseURL prefixes logo links handed to clients.
	PublicBaseURL      string
	PresignTTL         time.Duration
	TokenCacheTTL      time.Duration
	MaxLogoBytes       int64
	RateLimitPerMinute int
}

// API wires dependencies and configuration for HTTP handlers.
type API struct {
	store   Store
	objects ObjectStore
	bus     EventPublisher
	metrics *Metrics
	logger  zerolog.Logger
	config  Config
	tokens  *ttlcache.Cache[string, User]
}

// New initialises the API layer with defaults applied to the provided configuration.
func New(deps Deps, cfg Config) (*API, error) {
	if deps.Store == nil {
		return nil, errors.New("store is required")
	}
	if deps.Objects == nil {
		return nil, errors.New("object store is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("artifact bucket is required")
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = defaultPresignTTL
	}
	if cfg.TokenCacheTTL <= 0 {
		cfg.TokenCacheTTL = defaultTokenCacheTTL
	}
	if cfg.MaxLogoBytes <= 0 {
		cfg.MaxLogoBytes = defaultMaxLogoBytes
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = defaultRateLimit
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")

	return &API{
		store:   deps.Store,
		objects: deps.Objects,
		bus:     deps.Bus,
		metrics: deps.Metrics,
		logger:  deps.Logger.With().Str("component", "api").Logger(),
		config:  cfg,
		tokens: ttlcache.New(
			ttlcache.WithTTL[string, User](cfg.TokenCacheTTL),
			ttlcache.WithDisableTouchOnHit[string, User](),
		),
	}, nil
}
