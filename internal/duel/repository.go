package duel

import (
	"context"
	"errors"
	"time"
)

// Common errors for duel repository operations.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrArtistNotFound  = errors.New("artist not found")
)

// SessionStore provides the persistence operations a session ranking run
// needs: read the bounded item set and its outcome history, write back
// the recomputed strengths.
type SessionStore interface {
	// GetSessionSongs returns all songs in a session. Sessions exist only
	// through their songs, so an unknown session returns
	// ErrSessionNotFound.
	GetSessionSongs(ctx context.Context, sessionID string) ([]*Song, error)

	// GetSessionComparisons returns the session's comparison history,
	// oldest first.
	GetSessionComparisons(ctx context.Context, sessionID string) ([]*Comparison, error)

	// GetSessionComparisonCount returns the number of recorded comparisons.
	GetSessionComparisonCount(ctx context.Context, sessionID string) (int, error)

	// WriteSessionStrengths persists recomputed strengths and ratings for
	// a session along with its convergence score, atomically.
	WriteSessionStrengths(ctx context.Context, sessionID string, updates []StrengthUpdate, convergence int) error
}

// ArtistStore provides the persistence operations a global aggregation
// run needs, scoped by normalized artist across all sessions.
type ArtistStore interface {
	// GetArtistSongs returns every song by the artist across all sessions.
	GetArtistSongs(ctx context.Context, artistKey string) ([]*Song, error)

	// GetArtistComparisons returns every comparison involving the artist's
	// songs across all sessions, oldest first.
	GetArtistComparisons(ctx context.Context, artistKey string) ([]*Comparison, error)

	// GetArtistComparisonCount returns the number of comparisons involving
	// the artist's songs.
	GetArtistComparisonCount(ctx context.Context, artistKey string) (int, error)

	// WriteGlobalRankings replaces the artist's leaderboard entries,
	// atomically.
	WriteGlobalRankings(ctx context.Context, artistKey string, entries []GlobalEntry) error

	// GetGlobalRankings returns the artist's leaderboard, strongest first.
	GetGlobalRankings(ctx context.Context, artistKey string, limit int) ([]GlobalEntry, error)

	// GetArtistStats returns aggregation bookkeeping for an artist, or
	// ErrArtistNotFound if no aggregation has ever run.
	GetArtistStats(ctx context.Context, artistKey string) (*ArtistStats, error)

	// WriteArtistStats records that an aggregation processed the given
	// number of comparisons at the given time.
	WriteArtistStats(ctx context.Context, artistKey string, comparisonsCount int, at time.Time) error
}
