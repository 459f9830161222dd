package duel

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/trackduel/internal/tracing"
)

// PostgresRepository implements SessionStore and ArtistStore using
// PostgreSQL.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{
		db:     db,
		logger: logger,
	}
}

// GetSessionSongs returns all songs in a session.
func (r *PostgresRepository) GetSessionSongs(ctx context.Context, sessionID string) ([]*Song, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "songs", tracing.DBOperationQuery)
	var err error
	defer func() { endSpan(err) }()

	query := `
		SELECT id, session_id, artist, title, strength, rating, created_at, updated_at
		FROM songs
		WHERE session_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		err = fmt.Errorf("failed to query session songs: %w", err)
		return nil, err
	}
	defer rows.Close()

	songs, err := scanSongs(rows)
	if err != nil {
		return nil, err
	}
	if len(songs) == 0 {
		err = ErrSessionNotFound
		return nil, err
	}
	return songs, nil
}

// GetSessionComparisons returns the session's comparison history, oldest
// first.
func (r *PostgresRepository) GetSessionComparisons(ctx context.Context, sessionID string) ([]*Comparison, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "comparisons", tracing.DBOperationQuery)
	var err error
	defer func() { endSpan(err) }()

	query := `
		SELECT id, session_id, song_a_id, song_b_id, winner_id, is_tie, decision_time_ms, created_at
		FROM comparisons
		WHERE session_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		err = fmt.Errorf("failed to query session comparisons: %w", err)
		return nil, err
	}
	defer rows.Close()

	return scanComparisons(rows)
}

// GetSessionComparisonCount returns the number of recorded comparisons.
func (r *PostgresRepository) GetSessionComparisonCount(ctx context.Context, sessionID string) (int, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "comparisons", tracing.DBOperationQuery)
	var err error
	defer func() { endSpan(err) }()

	var count int
	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM comparisons WHERE session_id = $1`, sessionID).Scan(&count)
	if err != nil {
		err = fmt.Errorf("failed to count session comparisons: %w", err)
		return 0, err
	}
	return count, nil
}

// WriteSessionStrengths persists recomputed strengths, ratings, and the
// session convergence score in one transaction.
func (r *PostgresRepository) WriteSessionStrengths(ctx context.Context, sessionID string, updates []StrengthUpdate, convergence int) error {
	ctx, endSpan := tracing.StartDBSpan(ctx, "songs", tracing.DBOperationUpdate)
	var err error
	defer func() { endSpan(err) }()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		err = fmt.Errorf("failed to begin transaction: %w", err)
		return err
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			r.logger.Warn("failed to rollback transaction", "error", rbErr)
		}
	}()

	updateQuery := `
		UPDATE songs
		SET strength = $1, rating = $2, updated_at = NOW()
		WHERE id = $3 AND session_id = $4
	`
	for _, u := range updates {
		if _, err = tx.ExecContext(ctx, updateQuery, u.Strength, u.Rating, u.SongID, sessionID); err != nil {
			err = fmt.Errorf("failed to update song %s: %w", u.SongID, err)
			return err
		}
	}

	convergenceQuery := `
		INSERT INTO session_rankings (session_id, convergence_score, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (session_id)
		DO UPDATE SET convergence_score = EXCLUDED.convergence_score, updated_at = NOW()
	`
	if _, err = tx.ExecContext(ctx, convergenceQuery, sessionID, convergence); err != nil {
		err = fmt.Errorf("failed to upsert session convergence: %w", err)
		return err
	}

	if err = tx.Commit(); err != nil {
		err = fmt.Errorf("failed to commit session strengths: %w", err)
		return err
	}
	return nil
}

// GetArtistSongs returns every song by the artist across all sessions.
func (r *PostgresRepository) GetArtistSongs(ctx context.Context, artistKey string) ([]*Song, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "songs", tracing.DBOperationQuery)
	var err error
	defer func() { endSpan(err) }()

	query := `
		SELECT id, session_id, artist, title, strength, rating, created_at, updated_at
		FROM songs
		WHERE LOWER(artist) = $1
		ORDER BY created_at, id
	`
	rows, err := r.db.QueryContext(ctx, query, artistKey)
	if err != nil {
		err = fmt.Errorf("failed to query artist songs: %w", err)
		return nil, err
	}
	defer rows.Close()

	return scanSongs(rows)
}

// GetArtistComparisons returns every comparison involving the artist's
// songs across all sessions, oldest first.
func (r *PostgresRepository) GetArtistComparisons(ctx context.Context, artistKey string) ([]*Comparison, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "comparisons", tracing.DBOperationQuery)
	var err error
	defer func() { endSpan(err) }()

	query := `
		SELECT c.id, c.session_id, c.song_a_id, c.song_b_id, c.winner_id, c.is_tie, c.decision_time_ms, c.created_at
		FROM comparisons c
		JOIN songs a ON a.id = c.song_a_id
		WHERE LOWER(a.artist) = $1
		ORDER BY c.created_at, c.id
	`
	rows, err := r.db.QueryContext(ctx, query, artistKey)
	if err != nil {
		err = fmt.Errorf("failed to query artist comparisons: %w", err)
		return nil, err
	}
	defer rows.Close()

	return scanComparisons(rows)
}

// GetArtistComparisonCount returns the number of comparisons involving
// the artist's songs.
func (r *PostgresRepository) GetArtistComparisonCount(ctx context.Context, artistKey string) (int, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "comparisons", tracing.DBOperationQuery)
	var err error
	defer func() { endSpan(err) }()

	var count int
	query := `
		SELECT COUNT(*)
		FROM comparisons c
		JOIN songs a ON a.id = c.song_a_id
		WHERE LOWER(a.artist) = $1
	`
	err = r.db.QueryRowContext(ctx, query, artistKey).Scan(&count)
	if err != nil {
		err = fmt.Errorf("failed to count artist comparisons: %w", err)
		return 0, err
	}
	return count, nil
}

// WriteGlobalRankings replaces the artist's leaderboard entries in one
// transaction so readers never observe a partially written leaderboard.
func (r *PostgresRepository) WriteGlobalRankings(ctx context.Context, artistKey string, entries []GlobalEntry) error {
	ctx, endSpan := tracing.StartDBSpan(ctx, "global_rankings", tracing.DBOperationUpdate)
	var err error
	defer func() { endSpan(err) }()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		err = fmt.Errorf("failed to begin transaction: %w", err)
		return err
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			r.logger.Warn("failed to rollback transaction", "error", rbErr)
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM global_rankings WHERE artist_key = $1`, artistKey); err != nil {
		err = fmt.Errorf("failed to clear global rankings: %w", err)
		return err
	}

	insertQuery := `
		INSERT INTO global_rankings (artist_key, song_id, title, strength, rating, votes_count, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`
	for _, e := range entries {
		if _, err = tx.ExecContext(ctx, insertQuery,
			artistKey, e.SongID, e.Title, e.Strength, e.Rating, e.VotesCount); err != nil {
			err = fmt.Errorf("failed to insert global ranking for song %s: %w", e.SongID, err)
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		err = fmt.Errorf("failed to commit global rankings: %w", err)
		return err
	}
	return nil
}

// GetGlobalRankings returns the artist's leaderboard, strongest first.
func (r *PostgresRepository) GetGlobalRankings(ctx context.Context, artistKey string, limit int) ([]GlobalEntry, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "global_rankings", tracing.DBOperationQuery)
	var err error
	defer func() { endSpan(err) }()

	query := `
		SELECT song_id, title, strength, rating, votes_count, updated_at
		FROM global_rankings
		WHERE artist_key = $1
		ORDER BY strength DESC, song_id
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, artistKey, limit)
	if err != nil {
		err = fmt.Errorf("failed to query global rankings: %w", err)
		return nil, err
	}
	defer rows.Close()

	var entries []GlobalEntry
	for rows.Next() {
		var e GlobalEntry
		if err = rows.Scan(&e.SongID, &e.Title, &e.Strength, &e.Rating, &e.VotesCount, &e.UpdatedAt); err != nil {
			err = fmt.Errorf("failed to scan global ranking: %w", err)
			return nil, err
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		err = fmt.Errorf("failed to iterate global rankings: %w", err)
		return nil, err
	}
	return entries, nil
}

// GetArtistStats returns aggregation bookkeeping for an artist.
func (r *PostgresRepository) GetArtistStats(ctx context.Context, artistKey string) (*ArtistStats, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "artist_stats", tracing.DBOperationQuery)
	var err error
	defer func() { endSpan(err) }()

	stats := &ArtistStats{ArtistKey: artistKey}
	var last sql.NullTime
	query := `
		SELECT comparisons_count, last_aggregated_at
		FROM artist_stats
		WHERE artist_key = $1
	`
	err = r.db.QueryRowContext(ctx, query, artistKey).Scan(&stats.ComparisonsCount, &last)
	if err == sql.ErrNoRows {
		err = ErrArtistNotFound
		return nil, err
	}
	if err != nil {
		err = fmt.Errorf("failed to query artist stats: %w", err)
		return nil, err
	}
	if last.Valid {
		stats.LastAggregatedAt = &last.Time
	}
	return stats, nil
}

// WriteArtistStats records that an aggregation processed the given number
// of comparisons at the given time.
func (r *PostgresRepository) WriteArtistStats(ctx context.Context, artistKey string, comparisonsCount int, at time.Time) error {
	ctx, endSpan := tracing.StartDBSpan(ctx, "artist_stats", tracing.DBOperationUpdate)
	var err error
	defer func() { endSpan(err) }()

	query := `
		INSERT INTO artist_stats (artist_key, comparisons_count, last_aggregated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (artist_key)
		DO UPDATE SET comparisons_count = EXCLUDED.comparisons_count, last_aggregated_at = EXCLUDED.last_aggregated_at
	`
	if _, err = r.db.ExecContext(ctx, query, artistKey, comparisonsCount, at); err != nil {
		err = fmt.Errorf("failed to upsert artist stats: %w", err)
		return err
	}
	return nil
}

func scanSongs(rows *sql.Rows) ([]*Song, error) {
	var songs []*Song
	for rows.Next() {
		s := &Song{}
		if err := rows.Scan(&s.ID, &s.SessionID, &s.Artist, &s.Title,
			&s.Strength, &s.Rating, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan song: %w", err)
		}
		songs = append(songs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate songs: %w", err)
	}
	return songs, nil
}

func scanComparisons(rows *sql.Rows) ([]*Comparison, error) {
	var comparisons []*Comparison
	for rows.Next() {
		c := &Comparison{}
		var winner sql.NullString
		var decisionMS sql.NullInt64
		if err := rows.Scan(&c.ID, &c.SessionID, &c.SongAID, &c.SongBID,
			&winner, &c.IsTie, &decisionMS, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan comparison: %w", err)
		}
		if winner.Valid {
			c.WinnerID = &winner.String
		}
		if decisionMS.Valid {
			c.DecisionTimeMS = &decisionMS.Int64
		}
		comparisons = append(comparisons, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate comparisons: %w", err)
	}
	return comparisons, nil
}
