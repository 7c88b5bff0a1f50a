package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/af-corp/kinsafe/internal/api"
	"github.com/af-corp/kinsafe/internal/auth"
	"github.com/af-corp/kinsafe/internal/backend"
	"github.com/af-corp/kinsafe/internal/classifier"
	"github.com/af-corp/kinsafe/internal/config"
	"github.com/af-corp/kinsafe/internal/filter/injection"
	"github.com/af-corp/kinsafe/internal/logging"
	"github.com/af-corp/kinsafe/internal/policy"
	"github.com/af-corp/kinsafe/internal/ratelimit"
	"github.com/af-corp/kinsafe/internal/settings"
	"github.com/af-corp/kinsafe/internal/telemetry"
	"github.com/af-corp/kinsafe/internal/usage"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	// Bootstrap logger until the telemetry section is known.
	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	loader := config.NewLoader(*configDir, bootLogger)
	if err := loader.Load(); err != nil {
		bootLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := loader.Config()

	logger, logCloser, err := logging.New(cfg.Telemetry)
	if err != nil {
		bootLogger.Error("failed to init logging", "error", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	if err := run(loader, logger); err != nil {
		logger.Error("server exited", "error", err)
		logCloser.Close()
		os.Exit(1)
	}
}

func run(loader *config.Loader, logger *slog.Logger) error {
	cfg := loader.Config()
	ctx := context.Background()

	dbPool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		logger.Warn("database not reachable (keys, settings and usage history will fail)", "error", err)
	} else {
		logger.Info("database connected")
	}

	rdb := connectRedis(ctx, cfg.Redis, logger)
	if rdb != nil {
		defer rdb.Close()
	}

	metrics := telemetry.NewMetrics()

	registry := backend.BuildFromConfig(loader.Backends())
	cb := cfg.Routing.CircuitBreaker
	health := backend.NewHealthTracker(cb.FailureThreshold, cb.RecoveryInterval)

	pack, err := classifier.LoadRulepack(cfg.Fallback.RulepackDir, cfg.Fallback.Locale, logger)
	if err != nil {
		return fmt.Errorf("load rulepack: %w", err)
	}
	heuristic := classifier.NewHeuristic(pack, classifier.NewLockedRand(nil), func() bool {
		return loader.Config().Fallback.FixedConfidence
	})
	guard := injection.NewScanner(func() config.GuardConfig { return loader.Config().Guard })

	var clfOpts []classifier.Option
	if path := cfg.Classifier.PromptFile; path != "" {
		tmpl, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read prompt template: %w", err)
		}
		if !strings.Contains(string(tmpl), "{message}") {
			return fmt.Errorf("prompt template %s has no {message} placeholder", path)
		}
		clfOpts = append(clfOpts, classifier.WithPromptTemplate(string(tmpl)))
	}
	clf := classifier.New(registry, health, loader.Models, loader.Config, heuristic, guard, metrics, clfOpts...)

	alerts := policy.NewEvaluator(func() config.PolicyConfig { return loader.Config().Policy })
	if alerts.Enabled() {
		if err := alerts.Load(); err != nil {
			logger.Error("failed to load alert policy, failing closed", "error", err)
		}
	}

	loader.OnReload(func() {
		registry.Swap(backend.BuildFromConfig(loader.Backends()))
		logger.Info("backend registry reloaded", "backends", registry.Names())
		fb := loader.Config().Fallback
		if pack, err := classifier.LoadRulepack(fb.RulepackDir, fb.Locale, logger); err != nil {
			logger.Error("failed to reload rulepack, keeping previous", "locale", fb.Locale, "error", err)
		} else {
			logger.Info("rulepack reloaded", "previous", heuristic.Rulepack().Locale, "locale", pack.Locale)
			heuristic.SetRulepack(pack)
		}
		if alerts.Enabled() {
			if err := alerts.Load(); err != nil {
				logger.Error("failed to reload alert policy", "error", err)
			}
		}
	})

	keyStore := auth.NewCachedKeyStore(dbPool, rdb)
	settingsStore := settings.NewCachedStore(settings.NewPGRepository(dbPool), rdb)
	usageStore := usage.NewStore(dbPool)
	recorder := usage.NewRecorder(usageStore, cfg.Usage.QueueSize, cfg.Usage.WriteTimeout, metrics)
	counter := usage.NewCounter(rdb)
	limiter := ratelimit.NewLimiter(rdb)

	handler := api.NewHandler(api.Deps{
		Classifier: clf,
		Settings:   settingsStore,
		Keys:       keyStore,
		Recorder:   recorder,
		Counter:    counter,
		History:    usageStore,
		Policy:     alerts,
		Backends:   health,
		Config:     loader.Config,
		Metrics:    metrics,
		Version:    version,
	})
	r := api.NewRouter(handler, api.Middlewares{
		OptionalAuth: auth.OptionalMiddleware(keyStore),
		RequireAuth:  auth.Middleware(keyStore),
		RateLimit: ratelimit.Middleware(limiter, counter, func() config.RateLimitConfig {
			return loader.Config().RateLimit
		}, metrics),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	var metricsSrv *http.Server
	if cfg.Telemetry.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Telemetry.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics server starting", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", "error", err)
		}
	}
	if err := recorder.Close(shutdownCtx); err != nil {
		logger.Warn("usage recorder did not drain", "error", err)
	}
	logger.Info("server stopped")
	return nil
}

// connectRedis returns nil when Redis is not configured or unreachable;
// every Redis consumer then degrades (no caches, limits fail open).
func connectRedis(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) *redis.Client {
	if len(cfg.Addresses) == 0 || cfg.Addresses[0] == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addresses[0],
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not reachable (caches, counters and rate limits disabled)", "error", err)
		rdb.Close()
		return nil
	}
	logger.Info("redis connected")
	return rdb
}
