// Package main is a one-shot aggregation runner. It resolves an artist's
// global rankings from their full cross-session comparison history and
// exits. Useful for backfills and for forcing a refresh outside the
// view-triggered path.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onnwee/trackduel/internal/config"
	"github.com/onnwee/trackduel/internal/db"
	"github.com/onnwee/trackduel/internal/duel"
	"github.com/onnwee/trackduel/internal/leaderboard"
	"github.com/onnwee/trackduel/internal/lock"
	"github.com/onnwee/trackduel/internal/middleware"
	"github.com/onnwee/trackduel/internal/ranking"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configFile := flag.String("config", "", "path to optional YAML config file")
	artist := flag.String("artist", "", "artist whose global rankings to aggregate")
	force := flag.Bool("force", false, "aggregate even if the last run is still fresh")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall run timeout")
	flag.Parse()

	if *help {
		fmt.Println("TrackDuel Aggregation Runner")
		fmt.Println()
		fmt.Println("Usage: aggregate -artist <name> [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	if *artist == "" {
		fmt.Fprintln(os.Stderr, "aggregate: -artist is required")
		os.Exit(2)
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

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	repo := duel.NewPostgresRepository(pool, logger)
	locker := lock.NewRedisLocker(redisClient)

	interval := cfg.AggregationInterval
	if *force {
		// A one-second interval makes any earlier run look stale, so
		// freshness never skips the run. Lock contention still does. The
		// interval doubles as the lock TTL, which must stay above zero.
		interval = time.Second
	}

	aggregator := leaderboard.NewAggregator(repo, locker, leaderboard.Config{
		Interval: interval,
		Solver: ranking.SolverConfig{
			Regularization: cfg.SolverRegularization,
			MaxIterations:  cfg.SolverMaxIterations,
			Tolerance:      ranking.DefaultSolverConfig().Tolerance,
		},
	}, nil, logger)

	result, err := aggregator.Aggregate(ctx, *artist)
	if err != nil {
		logger.Error("aggregation failed", "artist", *artist, "error", err)
		os.Exit(1)
	}

	if result.Skipped {
		logger.Info("aggregation skipped", "artist", *artist, "reason", result.SkipReason)
	} else {
		logger.Info("aggregation complete",
			"artist", *artist,
			"songs", len(result.Entries),
			"convergence", result.Convergence.Score)

		// Invalidate any cached leaderboard so the next view sees the
		// fresh rankings.
		cache := leaderboard.NewCache(redisClient, cfg.LeaderboardCacheTTL)
		if err := cache.Invalidate(ctx, result.ArtistKey); err != nil {
			logger.Warn("cache invalidation failed", "artist", *artist, "error", err)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		logger.Error("failed to encode result", "error", err)
		os.Exit(1)
	}
}
