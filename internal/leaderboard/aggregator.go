// Package leaderboard aggregates duel outcomes across every session that
// shares an artist into one global ranking per artist.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/onnwee/trackduel/internal/duel"
	"github.com/onnwee/trackduel/internal/lock"
	"github.com/onnwee/trackduel/internal/ranking"
	"github.com/onnwee/trackduel/internal/tracing"
)

// DefaultAggregationInterval is the minimum time between global runs for
// one artist. The aggregation lock's TTL is set to this interval, so a
// successful run's unreleased lock doubles as the cooldown timer.
const DefaultAggregationInterval = 2 * time.Minute

// Skip reasons reported when an aggregation run does not execute.
const (
	SkipReasonFresh  = "fresh"  // aggregated recently, inside the interval
	SkipReasonLocked = "locked" // another process is aggregating this artist
)

// Config tunes the aggregator.
type Config struct {
	// Interval is the minimum re-aggregation interval per artist, and the
	// TTL of the aggregation lock.
	Interval time.Duration

	// Solver is the strength solver configuration for global runs.
	Solver ranking.SolverConfig
}

// DefaultConfig returns the standard aggregator configuration.
func DefaultConfig() Config {
	return Config{
		Interval: DefaultAggregationInterval,
		Solver:   ranking.DefaultSolverConfig(),
	}
}

// Result is the output of one global aggregation run. Skipped results
// carry no entries.
type Result struct {
	ArtistKey   string                    `json:"artist_key"`
	Entries     []duel.GlobalEntry        `json:"entries"`
	Convergence ranking.ConvergenceResult `json:"convergence"`
	Skipped     bool                      `json:"skipped"`
	SkipReason  string                    `json:"skip_reason,omitempty"`
}

// Aggregator runs the solver over an artist's full cross-session history
// under a distributed lock. Contention and freshness are not errors: the
// run is skipped silently. A run's output is applied in full or not at
// all.
type Aggregator struct {
	store   duel.ArtistStore
	locker  lock.Locker
	cfg     Config
	metrics *ranking.Metrics
	logger  *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewAggregator creates a new Aggregator. metrics may be nil to disable
// instrumentation.
func NewAggregator(store duel.ArtistStore, locker lock.Locker, cfg Config, metrics *ranking.Metrics, logger *slog.Logger) *Aggregator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultAggregationInterval
	}
	if cfg.Solver.MaxIterations <= 0 {
		cfg.Solver = ranking.DefaultSolverConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		store:   store,
		locker:  locker,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Aggregate recomputes the global ranking for an artist. The artist name
// is normalized, so spelling variants aggregate together.
func (a *Aggregator) Aggregate(ctx context.Context, artist string) (*Result, error) {
	ctx, endSpan := tracing.StartSpan(ctx, "global_aggregate")
	var err error
	defer func() { endSpan(err) }()

	start := a.now()
	result, err := a.aggregate(ctx, artist)
	a.observe(a.now().Sub(start), result, err)
	return result, err
}

func (a *Aggregator) aggregate(ctx context.Context, artist string) (*Result, error) {
	key := duel.NormalizeArtist(artist)

	stats, err := a.store.GetArtistStats(ctx, key)
	if err != nil && !errors.Is(err, duel.ErrArtistNotFound) {
		return nil, fmt.Errorf("failed to load artist stats: %w", err)
	}
	if stats != nil && stats.LastAggregatedAt != nil {
		if since := a.now().Sub(*stats.LastAggregatedAt); since < a.cfg.Interval {
			a.logger.Debug("skipping global aggregation, ranking is fresh",
				"artist", key, "since", since, "interval", a.cfg.Interval)
			return &Result{ArtistKey: key, Skipped: true, SkipReason: SkipReasonFresh}, nil
		}
	}

	lockKey := lock.AggregationKey(key)
	acquired, err := a.locker.TryAcquire(ctx, lockKey, a.cfg.Interval)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire aggregation lock: %w", err)
	}
	if !acquired {
		a.logger.Debug("skipping global aggregation, another run holds the lock", "artist", key)
		return &Result{ArtistKey: key, Skipped: true, SkipReason: SkipReasonLocked}, nil
	}

	result, err := a.run(ctx, key)
	if err != nil {
		// Release on failure so a retry does not wait out the cooldown.
		// On success the lock is deliberately left to expire: its TTL is
		// the minimum re-aggregation interval.
		if relErr := a.locker.Release(ctx, lockKey); relErr != nil {
			a.logger.Warn("failed to release aggregation lock", "artist", key, "error", relErr)
		}
		return nil, err
	}
	return result, nil
}

func (a *Aggregator) run(ctx context.Context, key string) (*Result, error) {
	songs, err := a.store.GetArtistSongs(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load artist songs: %w", err)
	}
	if len(songs) == 0 {
		a.logger.Info("no songs for artist, nothing to aggregate", "artist", key)
		if err := a.store.WriteArtistStats(ctx, key, 0, a.now()); err != nil {
			return nil, fmt.Errorf("failed to persist artist stats: %w", err)
		}
		return &Result{ArtistKey: key}, nil
	}

	comparisons, err := a.store.GetArtistComparisons(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load artist comparisons: %w", err)
	}

	ids := make([]string, 0, len(songs))
	titles := make(map[string]string, len(songs))
	for _, s := range songs {
		ids = append(ids, s.ID)
		titles[s.ID] = s.Title
	}

	var entries []duel.GlobalEntry
	var convergence ranking.ConvergenceResult
	if len(comparisons) == 0 {
		// Idle initialization: songs exist but nobody has dueled them yet.
		entries = make([]duel.GlobalEntry, 0, len(songs))
		for _, id := range ids {
			entries = append(entries, duel.GlobalEntry{
				SongID: id,
				Title:  titles[id],
				Rating: ranking.BaselineRating,
			})
		}
	} else {
		votes := make(map[string]int, len(ids))
		for _, c := range comparisons {
			votes[c.SongAID]++
			votes[c.SongBID]++
		}

		warm, err := a.warmStart(ctx, key, len(songs))
		if err != nil {
			return nil, err
		}

		outcomes := duel.Outcomes(comparisons)
		strengths := ranking.SolveStrengths(ids, outcomes, warm, a.cfg.Solver)
		convergence = ranking.ScoreConvergence(outcomes, ids, strengths, a.cfg.Solver)

		entries = make([]duel.GlobalEntry, 0, len(songs))
		for _, id := range ids {
			s := strengths[id]
			entries = append(entries, duel.GlobalEntry{
				SongID:     id,
				Title:      titles[id],
				Strength:   s,
				Rating:     ranking.Rating(s),
				VotesCount: votes[id],
			})
		}
		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].Strength != entries[j].Strength {
				return entries[i].Strength > entries[j].Strength
			}
			return entries[i].SongID < entries[j].SongID
		})
	}

	if err := a.store.WriteGlobalRankings(ctx, key, entries); err != nil {
		return nil, fmt.Errorf("failed to persist global rankings: %w", err)
	}
	if err := a.store.WriteArtistStats(ctx, key, len(comparisons), a.now()); err != nil {
		return nil, fmt.Errorf("failed to persist artist stats: %w", err)
	}

	a.logger.Info("global aggregation complete",
		"artist", key,
		"songs", len(songs),
		"comparisons", len(comparisons),
		"convergence", convergence.Score,
	)
	return &Result{ArtistKey: key, Entries: entries, Convergence: convergence}, nil
}

// warmStart seeds the solver with the previously aggregated strengths so
// incremental runs converge quickly. Songs that never appeared on the
// leaderboard start at the neutral default.
func (a *Aggregator) warmStart(ctx context.Context, key string, songCount int) (map[string]float64, error) {
	previous, err := a.store.GetGlobalRankings(ctx, key, songCount)
	if err != nil {
		return nil, fmt.Errorf("failed to load previous global rankings: %w", err)
	}
	warm := make(map[string]float64, len(previous))
	for _, e := range previous {
		warm[e.SongID] = e.Strength
	}
	return warm, nil
}

func (a *Aggregator) observe(elapsed time.Duration, result *Result, err error) {
	if a.metrics == nil {
		return
	}
	status := ranking.StatusSuccess
	switch {
	case err != nil:
		status = ranking.StatusFailure
	case result != nil && result.Skipped:
		status = ranking.StatusSkipped
	}
	a.metrics.IncRunsTotal(ranking.ScopeGlobal, status)
	a.metrics.ObserveRunDuration(ranking.ScopeGlobal, elapsed.Seconds())
	if err == nil && result != nil && !result.Skipped {
		a.metrics.SetConvergence(ranking.ScopeGlobal, result.Convergence.Score)
	}
}
