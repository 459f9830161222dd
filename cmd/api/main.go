// Package main is the entry point for the API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/trackduel/internal/api"
	"github.com/onnwee/trackduel/internal/config"
	"github.com/onnwee/trackduel/internal/db"
	"github.com/onnwee/trackduel/internal/duel"
	"github.com/onnwee/trackduel/internal/health"
	"github.com/onnwee/trackduel/internal/leaderboard"
	"github.com/onnwee/trackduel/internal/lock"
	"github.com/onnwee/trackduel/internal/middleware"
	"github.com/onnwee/trackduel/internal/ranking"
	"github.com/onnwee/trackduel/internal/session"
	"github.com/onnwee/trackduel/internal/tracing"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configFile := flag.String("config", "", "path to optional YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("TrackDuel API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configFile)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	// A disabled provider is still a valid provider, so the shutdown path
	// stays the same either way.
	provider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "trackduel-api",
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.OTLPProtocol,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplingRate: cfg.TracingSampleRate,
		InsecureMode: cfg.Env != "production",
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.Connect(startupCtx, cfg.DatabaseURL)
	startupCancel()
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)

	// The custom registry keeps /metrics free of collectors registered
	// globally by other libraries.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	rankingMetrics := ranking.NewMetrics()
	if err := rankingMetrics.Register(registry); err != nil {
		logger.Error("failed to register ranking metrics", "error", err)
		os.Exit(1)
	}

	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(registry); err != nil {
		logger.Error("failed to register http metrics", "error", err)
		os.Exit(1)
	}

	repo := duel.NewPostgresRepository(pool, logger)
	cache := leaderboard.NewCache(redisClient, cfg.LeaderboardCacheTTL)
	locker := lock.NewRedisLocker(redisClient)

	solverCfg := ranking.SolverConfig{
		Regularization: cfg.SolverRegularization,
		MaxIterations:  cfg.SolverMaxIterations,
		Tolerance:      ranking.DefaultSolverConfig().Tolerance,
	}

	aggregator := leaderboard.NewAggregator(repo, locker, leaderboard.Config{
		Interval: cfg.AggregationInterval,
		Solver:   solverCfg,
	}, rankingMetrics, logger)

	ranker := session.NewRanker(repo, solverCfg, rankingMetrics, logger)

	leaderboardHandlers := api.NewLeaderboardHandlers(
		repo, cache, aggregator, cfg.AggregationInterval, cfg.LeaderboardLimit, logger)
	sessionHandlers := api.NewSessionHandlers(ranker)
	healthHandlers := api.NewHealthHandlers(api.HealthHandlersConfig{
		DBChecker:    health.NewDBChecker(pool),
		RedisChecker: health.NewRedisChecker(redisClient),
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/leaderboard/", func(w http.ResponseWriter, r *http.Request) {
		// The artist is a single escaped path segment, so a /stats suffix
		// can only be the stats sub-resource.
		if strings.HasSuffix(r.URL.Path, "/stats") {
			leaderboardHandlers.GetArtistStats(w, r)
			return
		}
		leaderboardHandlers.GetLeaderboard(w, r)
	})
	mux.HandleFunc("/v1/sessions/", sessionHandlers.Rank)
	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	rateLimitStore := middleware.NewRedisRateLimitStore(redisClient)
	rateLimit := middleware.RateLimitConfig{
		RequestsPerWindow: 100,
		WindowDuration:    time.Minute,
	}

	// Middleware chain, outermost first:
	// RequestID -> Tracing -> Logging -> HTTPMetrics -> RateLimiter.
	var handler http.Handler = mux
	handler = middleware.RateLimiter(rateLimitStore, rateLimit, middleware.IPKeyFunc(), httpMetrics)(handler)
	handler = middleware.HTTPMetrics(httpMetrics)(handler)
	handler = middleware.Logging(logger)(handler)
	if provider.IsEnabled() {
		handler = middleware.Tracing("trackduel-api")(handler)
	}
	handler = middleware.RequestID(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := provider.Shutdown(ctx); err != nil {
		logger.Error("tracing shutdown failed", "error", err)
	}
	if err := redisClient.Close(); err != nil {
		logger.Error("redis close failed", "error", err)
	}
	if err := pool.Close(); err != nil {
		logger.Error("database close failed", "error", err)
	}

	logger.Info("server stopped")
}
