package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"modkit/pkg/bus"
	"modkit/pkg/db"
	"modkit/pkg/s3"
	"modkit/pkg/telemetry"
	"modkit/services/api"
)

const serviceName = "modkit-registry-api"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log := telemetry.NewLogger(serviceName, os.Stdout)

	cfg, err := Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if cfg.LogFormat == "console" {
		log = telemetry.NewConsoleLogger(serviceName, os.Stderr)
	}

	cleanup, traceMiddleware, err := telemetry.Init(ctx, serviceName, cfg.OTLPEndpoint, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init otel")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := cleanup(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown otel")
		}
	}()

	var store api.Store
	if cfg.DBDSN == "" {
		log.Warn().Msg("DB_DSN not set, registry state is kept in memory")
		store = api.NewMemoryStore()
	} else {
		pool, err := db.Open(ctx, cfg.DBDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("connect database")
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("migrate database")
		}
		orm, err := db.ORM(pool)
		if err != nil {
			log.Fatal().Err(err).Msg("open orm")
		}
		sqlStore, err := api.NewSQLStore(pool, orm)
		if err != nil {
			log.Fatal().Err(err).Msg("init store")
		}
		store = sqlStore
	}

	if cfg.BootstrapUser != "" {
		user, created, err := api.Bootstrap(ctx, store, cfg.BootstrapUser, cfg.BootstrapToken)
		if err != nil {
			log.Fatal().Err(err).Msg("bootstrap user")
		}
		log.Info().Str("user", user.Username).Bool("created", created).Msg("bootstrap user ready")
	}

	objects, err := s3.NewClient(ctx, cfg.S3)
	if err != nil {
		log.Fatal().Err(err).Msg("init s3")
	}
	if err := objects.EnsureBucket(ctx, cfg.Bucket); err != nil {
		log.Fatal().Err(err).Str("bucket", cfg.Bucket).Msg("ensure bucket")
	}

	deps := api.Deps{Store: store, Objects: objects, Logger: log}
	if cfg.NATSURL != "" {
		events, err := bus.New(cfg.NATSURL)
		if err != nil {
			log.Fatal().Err(err).Msg("connect nats")
		}
		defer events.Close()
		if err := events.EnsureStream(); err != nil {
			log.Fatal().Err(err).Msg("ensure stream")
		}
		deps.Bus = events
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	deps.Metrics = api.NewMetrics(reg)

	registryAPI, err := api.New(deps, api.Config{
		Bucket:             cfg.Bucket,
		PublicBaseURL:      cfg.PublicBaseURL,
		PresignTTL:         cfg.PresignTTL,
		TokenCacheTTL:      cfg.TokenCacheTTL,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("init api")
	}
	routes, err := registryAPI.Routes(reg)
	if err != nil {
		log.Fatal().Err(err).Msg("build routes")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           traceMiddleware(routes),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("starting registry api")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown server")
	}
}
