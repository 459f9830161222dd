package duel

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryRepository implements SessionStore and ArtistStore with maps.
// Used in tests and for running the API without a database.
type InMemoryRepository struct {
	mu          sync.RWMutex
	songs       map[string]*Song       // song ID -> song
	comparisons []*Comparison          // insertion order
	rankings    map[string][]GlobalEntry
	stats       map[string]*ArtistStats
	convergence map[string]int // session ID -> last convergence score
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		songs:       make(map[string]*Song),
		rankings:    make(map[string][]GlobalEntry),
		stats:       make(map[string]*ArtistStats),
		convergence: make(map[string]int),
	}
}

// AddSong inserts a song.
func (r *InMemoryRepository) AddSong(song *Song) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := *song
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	r.songs[s.ID] = &s
}

// AddComparison appends a comparison to the history.
func (r *InMemoryRepository) AddComparison(c *Comparison) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cc := *c
	if cc.CreatedAt.IsZero() {
		cc.CreatedAt = time.Now()
	}
	r.comparisons = append(r.comparisons, &cc)
}

// SessionConvergence returns the last persisted convergence score for a
// session.
func (r *InMemoryRepository) SessionConvergence(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.convergence[sessionID]
}

// GetSessionSongs returns all songs in a session, or ErrSessionNotFound.
func (r *InMemoryRepository) GetSessionSongs(_ context.Context, sessionID string) ([]*Song, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var songs []*Song
	for _, s := range r.songs {
		if s.SessionID == sessionID {
			copy := *s
			songs = append(songs, &copy)
		}
	}
	if len(songs) == 0 {
		return nil, ErrSessionNotFound
	}
	sort.Slice(songs, func(i, j int) bool { return songs[i].ID < songs[j].ID })
	return songs, nil
}

// GetSessionComparisons returns the session's history, oldest first.
func (r *InMemoryRepository) GetSessionComparisons(_ context.Context, sessionID string) ([]*Comparison, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Comparison
	for _, c := range r.comparisons {
		if c.SessionID == sessionID {
			copy := *c
			out = append(out, &copy)
		}
	}
	return out, nil
}

// GetSessionComparisonCount returns the number of recorded comparisons.
func (r *InMemoryRepository) GetSessionComparisonCount(_ context.Context, sessionID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, c := range r.comparisons {
		if c.SessionID == sessionID {
			count++
		}
	}
	return count, nil
}

// WriteSessionStrengths persists recomputed strengths and the convergence
// score.
func (r *InMemoryRepository) WriteSessionStrengths(_ context.Context, sessionID string, updates []StrengthUpdate, convergence int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range updates {
		if s, ok := r.songs[u.SongID]; ok && s.SessionID == sessionID {
			s.Strength = u.Strength
			s.Rating = u.Rating
			s.UpdatedAt = time.Now()
		}
	}
	r.convergence[sessionID] = convergence
	return nil
}

// GetArtistSongs returns every song by the artist across all sessions.
func (r *InMemoryRepository) GetArtistSongs(_ context.Context, artistKey string) ([]*Song, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var songs []*Song
	for _, s := range r.songs {
		if NormalizeArtist(s.Artist) == artistKey {
			copy := *s
			songs = append(songs, &copy)
		}
	}
	sort.Slice(songs, func(i, j int) bool { return songs[i].ID < songs[j].ID })
	return songs, nil
}

// GetArtistComparisons returns every comparison involving the artist's
// songs, oldest first.
func (r *InMemoryRepository) GetArtistComparisons(_ context.Context, artistKey string) ([]*Comparison, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Comparison
	for _, c := range r.comparisons {
		if r.involvesArtist(c, artistKey) {
			copy := *c
			out = append(out, &copy)
		}
	}
	return out, nil
}

// GetArtistComparisonCount returns the number of comparisons involving the
// artist's songs.
func (r *InMemoryRepository) GetArtistComparisonCount(_ context.Context, artistKey string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, c := range r.comparisons {
		if r.involvesArtist(c, artistKey) {
			count++
		}
	}
	return count, nil
}

// WriteGlobalRankings replaces the artist's leaderboard entries.
func (r *InMemoryRepository) WriteGlobalRankings(_ context.Context, artistKey string, entries []GlobalEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := make([]GlobalEntry, len(entries))
	copy(stored, entries)
	for i := range stored {
		stored[i].UpdatedAt = time.Now()
	}
	r.rankings[artistKey] = stored
	return nil
}

// GetGlobalRankings returns the artist's leaderboard, strongest first.
func (r *InMemoryRepository) GetGlobalRankings(_ context.Context, artistKey string, limit int) ([]GlobalEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.rankings[artistKey]
	if limit > len(stored) {
		limit = len(stored)
	}
	out := make([]GlobalEntry, limit)
	copy(out, stored[:limit])
	return out, nil
}

// GetArtistStats returns aggregation bookkeeping for an artist.
func (r *InMemoryRepository) GetArtistStats(_ context.Context, artistKey string) (*ArtistStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats, ok := r.stats[artistKey]
	if !ok {
		return nil, ErrArtistNotFound
	}
	copy := *stats
	return &copy, nil
}

// WriteArtistStats records an aggregation's bookkeeping.
func (r *InMemoryRepository) WriteArtistStats(_ context.Context, artistKey string, comparisonsCount int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats[artistKey] = &ArtistStats{
		ArtistKey:        artistKey,
		ComparisonsCount: comparisonsCount,
		LastAggregatedAt: &at,
	}
	return nil
}

// involvesArtist reports whether either side of the comparison belongs to
// the artist. Caller holds the lock.
func (r *InMemoryRepository) involvesArtist(c *Comparison, artistKey string) bool {
	if s, ok := r.songs[c.SongAID]; ok && NormalizeArtist(s.Artist) == artistKey {
		return true
	}
	if s, ok := r.songs[c.SongBID]; ok && NormalizeArtist(s.Artist) == artistKey {
		return true
	}
	return false
}

var (
	_ SessionStore = (*InMemoryRepository)(nil)
	_ ArtistStore  = (*InMemoryRepository)(nil)
)
