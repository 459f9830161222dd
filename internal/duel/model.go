// Package duel provides models and repositories for songs and their
// pairwise comparison history.
package duel

import (
	"strings"
	"time"

	"github.com/onnwee/trackduel/internal/ranking"
)

// Song represents a ranked song within a session.
type Song struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Artist    string    `json:"artist"`
	Title     string    `json:"title"`
	Strength  float64   `json:"strength"` // latent log-strength, 0.0 = average
	Rating    float64   `json:"rating"`   // display rating derived from strength
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Comparison is one recorded duel between two songs. WinnerID is nil for
// ties and skips; a row with WinnerID nil and IsTie false is an explicit
// "no preference" and is kept as history only.
type Comparison struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	SongAID        string    `json:"song_a_id"`
	SongBID        string    `json:"song_b_id"`
	WinnerID       *string   `json:"winner_id,omitempty"`
	IsTie          bool      `json:"is_tie"`
	DecisionTimeMS *int64    `json:"decision_time_ms,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Outcome converts the stored comparison into the engine's outcome shape.
func (c *Comparison) Outcome() ranking.Outcome {
	o := ranking.Outcome{
		SongA:          c.SongAID,
		SongB:          c.SongBID,
		IsTie:          c.IsTie,
		DecisionTimeMS: c.DecisionTimeMS,
	}
	if c.WinnerID != nil {
		o.Winner = *c.WinnerID
	}
	return o
}

// Outcomes converts a comparison history, oldest first, into engine
// outcomes.
func Outcomes(comparisons []*Comparison) []ranking.Outcome {
	outcomes := make([]ranking.Outcome, 0, len(comparisons))
	for _, c := range comparisons {
		outcomes = append(outcomes, c.Outcome())
	}
	return outcomes
}

// StrengthUpdate is one song's recomputed strength and rating.
type StrengthUpdate struct {
	SongID   string
	Strength float64
	Rating   float64
}

// GlobalEntry is one song's row on an artist leaderboard.
type GlobalEntry struct {
	SongID     string    `json:"song_id"`
	Title      string    `json:"title"`
	Strength   float64   `json:"strength"`
	Rating     float64   `json:"rating"`
	VotesCount int       `json:"votes_count"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ArtistStats tracks aggregation bookkeeping per artist.
type ArtistStats struct {
	ArtistKey        string     `json:"artist_key"`
	ComparisonsCount int        `json:"comparisons_count"`
	LastAggregatedAt *time.Time `json:"last_aggregated_at,omitempty"`
}

// NormalizeArtist lowercases and trims an artist name so that variant
// spellings ("Demi Lovato", "demi lovato") share one leaderboard and one
// lock key.
func NormalizeArtist(artist string) string {
	return strings.ToLower(strings.TrimSpace(artist))
}
