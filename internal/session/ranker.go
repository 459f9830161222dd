// Package session orchestrates ranking runs over one bounded song set.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/trackduel/internal/duel"
	"github.com/onnwee/trackduel/internal/ranking"
	"github.com/onnwee/trackduel/internal/tracing"
)

// RankedSong is one song's recomputed placement after a run.
type RankedSong struct {
	SongID   string  `json:"song_id"`
	Title    string  `json:"title"`
	Strength float64 `json:"strength"`
	Rating   float64 `json:"rating"`
}

// Result is the output of one session ranking run.
type Result struct {
	SessionID   string                    `json:"session_id"`
	Songs       []RankedSong              `json:"songs"`
	Convergence ranking.ConvergenceResult `json:"convergence"`
}

// Ranker runs the strength solver over a session's comparison history and
// persists the outcome. Runs are idempotent: with no new comparisons a
// re-run reproduces the same strengths up to solver tolerance. The caller
// must serialize runs for the same session; runs for different sessions
// are safe concurrently.
type Ranker struct {
	store   duel.SessionStore
	cfg     ranking.SolverConfig
	metrics *ranking.Metrics
	logger  *slog.Logger
}

// NewRanker creates a new session Ranker. metrics may be nil to disable
// instrumentation.
func NewRanker(store duel.SessionStore, cfg ranking.SolverConfig, metrics *ranking.Metrics, logger *slog.Logger) *Ranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ranker{
		store:   store,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}
}

// Rank recomputes strengths, ratings, and convergence for one session and
// writes them back. It returns the fully computed result or an error;
// never a partial result. Numerical degradation inside the solver is not
// an error: the run completes with neutral strengths.
func (r *Ranker) Rank(ctx context.Context, sessionID string) (*Result, error) {
	ctx, endSpan := tracing.StartSpan(ctx, "session_rank")
	var err error
	defer func() { endSpan(err) }()

	start := time.Now()
	result, err := r.rank(ctx, sessionID)
	r.observe(time.Since(start), err)
	return result, err
}

func (r *Ranker) rank(ctx context.Context, sessionID string) (*Result, error) {
	songs, err := r.store.GetSessionSongs(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session songs: %w", err)
	}

	comparisons, err := r.store.GetSessionComparisons(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session comparisons: %w", err)
	}

	ids := make([]string, 0, len(songs))
	titles := make(map[string]string, len(songs))
	warm := make(map[string]float64, len(songs))
	for _, s := range songs {
		ids = append(ids, s.ID)
		titles[s.ID] = s.Title
		warm[s.ID] = s.Strength
	}

	outcomes := duel.Outcomes(comparisons)
	strengths := ranking.SolveStrengths(ids, outcomes, warm, r.cfg)
	convergence := ranking.ScoreConvergence(outcomes, ids, strengths, r.cfg)

	result := &Result{
		SessionID:   sessionID,
		Songs:       make([]RankedSong, 0, len(songs)),
		Convergence: convergence,
	}
	updates := make([]duel.StrengthUpdate, 0, len(songs))
	for _, id := range ids {
		s := strengths[id]
		rating := ranking.Rating(s)
		result.Songs = append(result.Songs, RankedSong{
			SongID:   id,
			Title:    titles[id],
			Strength: s,
			Rating:   rating,
		})
		updates = append(updates, duel.StrengthUpdate{
			SongID:   id,
			Strength: s,
			Rating:   rating,
		})
	}

	if len(updates) > 0 {
		if err := r.store.WriteSessionStrengths(ctx, sessionID, updates, convergence.Score); err != nil {
			return nil, fmt.Errorf("failed to persist session strengths: %w", err)
		}
	}

	if r.metrics != nil {
		r.metrics.SetConvergence(ranking.ScopeSession, convergence.Score)
	}
	r.logger.Info("session ranking complete",
		"session_id", sessionID,
		"songs", len(songs),
		"comparisons", len(comparisons),
		"convergence", convergence.Score,
	)
	return result, nil
}

func (r *Ranker) observe(elapsed time.Duration, err error) {
	if r.metrics == nil {
		return
	}
	status := ranking.StatusSuccess
	if err != nil {
		status = ranking.StatusFailure
	}
	r.metrics.IncRunsTotal(ranking.ScopeSession, status)
	r.metrics.ObserveRunDuration(ranking.ScopeSession, elapsed.Seconds())
}
