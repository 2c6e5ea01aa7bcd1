// Package main runs the avatar layer server: template registry, component
// and avatar ledgers, sub-account registry and renderer behind one REST API.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	app "github.com/NeoAvatars/avatar_layer/internal/app"
	"github.com/NeoAvatars/avatar_layer/internal/app/domain/payment"
	"github.com/NeoAvatars/avatar_layer/internal/app/httpapi"
	rendersvc "github.com/NeoAvatars/avatar_layer/internal/app/services/render"
	"github.com/NeoAvatars/avatar_layer/internal/app/storage/postgres"
	"github.com/NeoAvatars/avatar_layer/internal/config"
	"github.com/NeoAvatars/avatar_layer/internal/middleware"
	"github.com/NeoAvatars/avatar_layer/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	auditPath := flag.String("audit-log", "", "path to JSONL audit log file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault("avatarlayer").WithError(err).Error("load configuration")
		os.Exit(1)
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}).WithField("service", "avatarlayer")

	stores, cleanup, err := buildStores(cfg, log)
	if err != nil {
		log.WithError(err).Error("initialize storage")
		os.Exit(1)
	}
	defer cleanup()

	application, err := app.New(stores, app.Options{
		CreationFee:      payment.Amount(cfg.Registry.CreationFee),
		MintFee:          payment.Amount(cfg.Registry.MintFee),
		RoyaltyPercent:   cfg.Registry.RoyaltyPercent,
		SystemOwner:      cfg.Registry.SystemOwner,
		ImplementationID: cfg.Registry.ImplementationID,
		Salt:             cfg.Registry.Salt,
		ReportSchedule:   cfg.Registry.ReportSchedule,
		RenderCache:      buildRenderCache(cfg, log),
	}, log)
	if err != nil {
		log.WithError(err).Error("initialize application")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("start services")
		os.Exit(1)
	}

	sink, err := httpapi.NewFileAuditSink(*auditPath)
	if err != nil {
		log.WithError(err).Error("open audit log")
		os.Exit(1)
	}
	handler := httpapi.NewHandlerWithAudit(application, sink)

	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Burst, log)
		limiter.StartCleanup(10 * time.Minute)
		handler = limiter.Handler(handler)
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server failed")
			cancel()
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case <-stop:
		log.Info("shutdown signal received")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("service shutdown")
	}
	log.Info("shutdown complete")
}

// buildStores selects Postgres when a DSN is configured, otherwise the
// application falls back to its in-memory defaults.
func buildStores(cfg config.Config, log *logger.Logger) (app.Stores, func(), error) {
	if cfg.Database.DSN == "" {
		log.Info("no database configured; using in-memory storage")
		return app.Stores{}, func() {}, nil
	}

	db, err := sqlx.Connect("postgres", cfg.Database.DSN)
	if err != nil {
		return app.Stores{}, nil, err
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := postgres.Migrate(db); err != nil {
		db.Close()
		return app.Stores{}, nil, err
	}

	store := postgres.New(db)
	log.Info("postgres storage initialized")
	return app.Stores{
		Templates:   store,
		Components:  store,
		Avatars:     store,
		SubAccounts: store,
		Balances:    store,
	}, func() { db.Close() }, nil
}

func buildRenderCache(cfg config.Config, log *logger.Logger) rendersvc.Cache {
	if cfg.Redis.Addr == "" {
		return rendersvc.NewMemoryCache(256)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	log.WithField("addr", cfg.Redis.Addr).Info("redis render cache enabled")
	return rendersvc.NewRedisCache(client, cfg.Redis.CacheTTL)
}
