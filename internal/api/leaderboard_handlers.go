package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/trackduel/internal/duel"
	"github.com/onnwee/trackduel/internal/leaderboard"
	"github.com/onnwee/trackduel/internal/middleware"
)

// MaxLeaderboardLimit caps the number of songs a single request may ask for.
const MaxLeaderboardLimit = 500

// LeaderboardEntry is one ranked song in a leaderboard response.
type LeaderboardEntry struct {
	SongID     string  `json:"song_id"`
	Title      string  `json:"title"`
	Strength   float64 `json:"strength"`
	Rating     float64 `json:"rating"`
	VotesCount int     `json:"votes_count"`
	Rank       int     `json:"rank"`
}

// LeaderboardResponse represents the response body for GET /v1/leaderboard/{artist}.
type LeaderboardResponse struct {
	Artist             string             `json:"artist"`
	Songs              []LeaderboardEntry `json:"songs"`
	TotalComparisons   int                `json:"total_comparisons"`
	PendingComparisons int                `json:"pending_comparisons"`
	LastUpdated        *time.Time         `json:"last_updated,omitempty"`
}

// ArtistStatsResponse represents the response body for GET /v1/leaderboard/{artist}/stats.
type ArtistStatsResponse struct {
	Artist             string     `json:"artist"`
	TotalComparisons   int        `json:"total_comparisons"`
	PendingComparisons int        `json:"pending_comparisons"`
	LastUpdated        *time.Time `json:"last_updated,omitempty"`
}

// LeaderboardHandlers holds dependencies for leaderboard HTTP handlers.
type LeaderboardHandlers struct {
	store        duel.ArtistStore
	cache        *leaderboard.Cache
	aggregator   *leaderboard.Aggregator
	interval     time.Duration
	defaultLimit int
	logger       *slog.Logger

	// triggerTimeout bounds background aggregations kicked by a view.
	triggerTimeout time.Duration
}

// NewLeaderboardHandlers creates a new LeaderboardHandlers instance.
// cache and aggregator may be nil: a nil cache disables read caching and a
// nil aggregator disables view-triggered refresh.
func NewLeaderboardHandlers(store duel.ArtistStore, cache *leaderboard.Cache, aggregator *leaderboard.Aggregator, interval time.Duration, defaultLimit int, logger *slog.Logger) *LeaderboardHandlers {
	if interval <= 0 {
		interval = leaderboard.DefaultAggregationInterval
	}
	if defaultLimit <= 0 {
		defaultLimit = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaderboardHandlers{
		store:          store,
		cache:          cache,
		aggregator:     aggregator,
		interval:       interval,
		defaultLimit:   defaultLimit,
		logger:         logger,
		triggerTimeout: 30 * time.Second,
	}
}

// GetLeaderboard handles GET /v1/leaderboard/{artist} - returns the global
// ranking for an artist, strongest first.
//
// The read path is cache-first and never blocks on ranking work. When the
// artist has unprocessed comparisons and the last aggregation is older
// than the re-aggregation interval, the view kicks a background
// aggregation so leaderboards catch up even without active ranking.
func (h *LeaderboardHandlers) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	artist, rest, ok := artistFromPath(r.URL.Path)
	if !ok || rest != "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Artist name is required")
		return
	}

	limit, err := limitFromQuery(r, h.defaultLimit)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	key := duel.NormalizeArtist(artist)

	entries, cached := h.cachedEntries(r.Context(), key, limit)
	if !cached {
		entries, err = h.store.GetGlobalRankings(r.Context(), key, limit)
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to load global rankings", "error", err, "artist", key)
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to load leaderboard")
			return
		}
	}

	stats, total, err := h.loadStats(r.Context(), key)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to load artist stats", "error", err, "artist", key)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to load leaderboard")
		return
	}

	if len(entries) == 0 && stats == nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeArtistNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeArtistNotFound, "No leaderboard data found for artist: "+artist)
		return
	}

	if !cached && h.cache != nil && len(entries) > 0 {
		if err := h.cache.Set(r.Context(), key, limit, entries); err != nil {
			h.logger.Warn("failed to fill leaderboard cache", "artist", key, "error", err)
		}
	}

	processed, pending := leaderboard.PendingComparisons(total, stats)
	h.maybeTriggerAggregation(key, stats, pending)

	response := LeaderboardResponse{
		Artist:             key,
		Songs:              make([]LeaderboardEntry, 0, len(entries)),
		TotalComparisons:   processed,
		PendingComparisons: pending,
	}
	if stats != nil {
		response.LastUpdated = stats.LastAggregatedAt
	}
	for i, e := range entries {
		response.Songs = append(response.Songs, LeaderboardEntry{
			SongID:     e.SongID,
			Title:      e.Title,
			Strength:   e.Strength,
			Rating:     e.Rating,
			VotesCount: e.VotesCount,
			Rank:       i + 1,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode leaderboard response", "error", err)
	}
}

// GetArtistStats handles GET /v1/leaderboard/{artist}/stats - returns
// aggregation metadata without the song list.
func (h *LeaderboardHandlers) GetArtistStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	artist, rest, ok := artistFromPath(r.URL.Path)
	if !ok || rest != "stats" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Artist name is required")
		return
	}

	key := duel.NormalizeArtist(artist)

	stats, total, err := h.loadStats(r.Context(), key)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to load artist stats", "error", err, "artist", key)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to load artist stats")
		return
	}
	if stats == nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeArtistNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeArtistNotFound, "No statistics found for artist: "+artist)
		return
	}

	processed, pending := leaderboard.PendingComparisons(total, stats)
	response := ArtistStatsResponse{
		Artist:             key,
		TotalComparisons:   processed,
		PendingComparisons: pending,
		LastUpdated:        stats.LastAggregatedAt,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode artist stats response", "error", err)
	}
}

// cachedEntries returns cached leaderboard entries when caching is enabled
// and the key is present. Cache errors degrade to a miss.
func (h *LeaderboardHandlers) cachedEntries(ctx context.Context, key string, limit int) ([]duel.GlobalEntry, bool) {
	if h.cache == nil {
		return nil, false
	}
	entries, err := h.cache.Get(ctx, key, limit)
	if err != nil {
		if !errors.Is(err, leaderboard.ErrCacheMiss) {
			h.logger.Warn("leaderboard cache read failed", "artist", key, "error", err)
		}
		return nil, false
	}
	return entries, true
}

// loadStats returns the artist's aggregation stats (nil when no aggregation
// ever ran) and the total comparison count.
func (h *LeaderboardHandlers) loadStats(ctx context.Context, key string) (*duel.ArtistStats, int, error) {
	stats, err := h.store.GetArtistStats(ctx, key)
	if err != nil && !errors.Is(err, duel.ErrArtistNotFound) {
		return nil, 0, err
	}

	total, err := h.store.GetArtistComparisonCount(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	return stats, total, nil
}

// maybeTriggerAggregation kicks a background aggregation when the viewed
// leaderboard has pending comparisons and the last run is stale. The
// aggregator's own freshness and lock checks make duplicate triggers
// harmless.
func (h *LeaderboardHandlers) maybeTriggerAggregation(key string, stats *duel.ArtistStats, pending int) {
	if h.aggregator == nil {
		return
	}
	if !leaderboard.ShouldAggregate(stats, pending, h.interval, time.Now()) {
		return
	}

	h.logger.Info("triggering global aggregation on leaderboard view", "artist", key, "pending", pending)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.triggerTimeout)
		defer cancel()

		result, err := h.aggregator.Aggregate(ctx, key)
		if err != nil {
			h.logger.Error("view-triggered aggregation failed", "artist", key, "error", err)
			return
		}
		if result.Skipped {
			return
		}
		if h.cache != nil {
			if err := h.cache.Invalidate(ctx, key); err != nil {
				h.logger.Warn("failed to invalidate leaderboard cache", "artist", key, "error", err)
			}
		}
	}()
}

// artistFromPath extracts the artist segment from /v1/leaderboard/{artist}
// or /v1/leaderboard/{artist}/stats. rest is the remainder after the artist
// segment ("" or "stats").
func artistFromPath(path string) (artist, rest string, ok bool) {
	trimmed := strings.TrimPrefix(path, "/v1/leaderboard/")
	if trimmed == path || trimmed == "" {
		return "", "", false
	}
	parts := strings.SplitN(trimmed, "/", 2)
	decoded, err := url.PathUnescape(parts[0])
	if err != nil || strings.TrimSpace(decoded) == "" {
		return "", "", false
	}
	if len(parts) == 2 {
		rest = parts[1]
	}
	return decoded, rest, true
}

// limitFromQuery parses the optional ?limit query parameter.
func limitFromQuery(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > MaxLeaderboardLimit {
		return 0, errors.New("limit must be an integer between 1 and 500")
	}
	return limit, nil
}
