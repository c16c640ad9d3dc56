package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yassir2222/Pahrmacy-management/internal/allocation"
	"github.com/yassir2222/Pahrmacy-management/internal/cache"
	"github.com/yassir2222/Pahrmacy-management/internal/config"
	"github.com/yassir2222/Pahrmacy-management/internal/httpapi"
	"github.com/yassir2222/Pahrmacy-management/internal/ledger"
	"github.com/yassir2222/Pahrmacy-management/internal/metrics"
	"github.com/yassir2222/Pahrmacy-management/internal/service"
	"github.com/yassir2222/Pahrmacy-management/internal/store"
	"github.com/yassir2222/Pahrmacy-management/internal/store/memory"
	pgstore "github.com/yassir2222/Pahrmacy-management/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()
	logger := zapLogger.Sugar()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatalw("postgres unavailable and DATABASE_URL is set, refusing in-memory fallback", "error", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatalw("schema migration failed", "error", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Infow("repository ready", "kind", "postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Infow("repository ready", "kind", "in-memory")
	}

	overviewCache := cache.OverviewCache(cache.NewNoop())
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warnw("redis unavailable, using noop cache", "error", err)
		} else {
			overviewCache = cache.NewRedis(client, time.Duration(cfg.OverviewTTLSeconds)*time.Second)
			closers = append(closers, client.Close)
			logger.Infow("cache ready", "kind", "redis")
		}
	} else {
		logger.Infow("cache ready", "kind", "noop")
	}

	m := metrics.New()
	stockLedger := ledger.New(logger)
	engine := allocation.New(stockLedger, logger)
	svc := service.New(repo, stockLedger, engine, overviewCache, m, logger)

	auth, err := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.AdminUsername, cfg.AdminPassword)
	if err != nil {
		logger.Fatalw("auth init failed", "error", err)
	}
	api := httpapi.New(svc, auth, m, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Infow("pharmacy backend listening", "addr", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("server error", "error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("shutdown error", "error", err)
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warnw("close error", "error", err)
		}
	}
	logger.Infow("server stopped")
}
