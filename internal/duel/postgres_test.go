package duel

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testDB *sql.DB

// TestMain starts a disposable PostgreSQL container, applies the
// migrations, and runs the repository tests against it. Skipped entirely
// in -short mode.
func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(0)
	}

	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("trackduel_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		log.Fatalf("failed to start postgres container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("failed to get connection string: %v", err)
	}

	testDB, err = sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}

	if err := applyMigrations(testDB); err != nil {
		log.Fatalf("failed to apply migrations: %v", err)
	}

	code := m.Run()

	_ = testDB.Close()
	_ = container.Terminate(ctx)

	os.Exit(code)
}

// applyMigrations executes every up migration in order.
func applyMigrations(db *sql.DB) error {
	pattern := filepath.Join("..", "..", "migrations", "*.up.sql")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		if _, err := db.Exec(string(content)); err != nil {
			return err
		}
	}
	return nil
}

func newTestRepo() *PostgresRepository {
	return NewPostgresRepository(testDB, nil)
}

// insertSong inserts a song and returns its generated ID.
func insertSong(t *testing.T, sessionID, artist, title string) string {
	t.Helper()
	var id string
	err := testDB.QueryRow(`
		INSERT INTO songs (session_id, artist, title)
		VALUES ($1, $2, $3)
		RETURNING id
	`, sessionID, artist, title).Scan(&id)
	if err != nil {
		t.Fatalf("failed to insert song %q: %v", title, err)
	}
	t.Cleanup(func() {
		testDB.Exec(`DELETE FROM songs WHERE id = $1`, id)
	})
	return id
}

// insertComparison records a duel. winnerID may be empty for ties/skips.
func insertComparison(t *testing.T, sessionID, songA, songB, winnerID string, isTie bool) {
	t.Helper()
	var winner any
	if winnerID != "" {
		winner = winnerID
	}
	_, err := testDB.Exec(`
		INSERT INTO comparisons (session_id, song_a_id, song_b_id, winner_id, is_tie)
		VALUES ($1, $2, $3, $4, $5)
	`, sessionID, songA, songB, winner, isTie)
	if err != nil {
		t.Fatalf("failed to insert comparison: %v", err)
	}
}

func TestPostgresRepository_SessionNotFound(t *testing.T) {
	repo := newTestRepo()
	_, err := repo.GetSessionSongs(context.Background(), "no-such-session")
	if err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestPostgresRepository_SessionRoundTrip(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()

	a := insertSong(t, "pg-sess-1", "Radiohead", "Creep")
	b := insertSong(t, "pg-sess-1", "Radiohead", "Karma Police")
	insertSong(t, "pg-sess-other", "Radiohead", "Lucky")

	insertComparison(t, "pg-sess-1", a, b, a, false)
	insertComparison(t, "pg-sess-1", a, b, "", true)

	songs, err := repo.GetSessionSongs(ctx, "pg-sess-1")
	if err != nil {
		t.Fatalf("GetSessionSongs failed: %v", err)
	}
	if len(songs) != 2 {
		t.Fatalf("expected 2 songs, got %d", len(songs))
	}
	if songs[0].Rating != 1500 {
		t.Errorf("expected default rating 1500, got %v", songs[0].Rating)
	}

	comparisons, err := repo.GetSessionComparisons(ctx, "pg-sess-1")
	if err != nil {
		t.Fatalf("GetSessionComparisons failed: %v", err)
	}
	if len(comparisons) != 2 {
		t.Fatalf("expected 2 comparisons, got %d", len(comparisons))
	}
	var wins, ties int
	for _, c := range comparisons {
		if c.IsTie {
			ties++
		}
		if c.WinnerID != nil && *c.WinnerID == a {
			wins++
		}
	}
	if wins != 1 || ties != 1 {
		t.Errorf("expected 1 win for %s and 1 tie, got wins=%d ties=%d", a, wins, ties)
	}

	count, err := repo.GetSessionComparisonCount(ctx, "pg-sess-1")
	if err != nil {
		t.Fatalf("GetSessionComparisonCount failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected count 2, got %d", count)
	}
}

func TestPostgresRepository_WriteSessionStrengths(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()

	a := insertSong(t, "pg-sess-write", "Bjork", "Army of Me")
	b := insertSong(t, "pg-sess-write", "Bjork", "Hyperballad")

	updates := []StrengthUpdate{
		{SongID: a, Strength: 0.35, Rating: 1560.8},
		{SongID: b, Strength: -0.35, Rating: 1439.2},
	}
	if err := repo.WriteSessionStrengths(ctx, "pg-sess-write", updates, 64); err != nil {
		t.Fatalf("WriteSessionStrengths failed: %v", err)
	}
	t.Cleanup(func() {
		testDB.Exec(`DELETE FROM session_rankings WHERE session_id = 'pg-sess-write'`)
	})

	songs, err := repo.GetSessionSongs(ctx, "pg-sess-write")
	if err != nil {
		t.Fatalf("GetSessionSongs failed: %v", err)
	}
	for _, s := range songs {
		switch s.ID {
		case a:
			if s.Strength != 0.35 {
				t.Errorf("song a strength = %v, want 0.35", s.Strength)
			}
		case b:
			if s.Rating != 1439.2 {
				t.Errorf("song b rating = %v, want 1439.2", s.Rating)
			}
		}
	}

	var score int
	err = testDB.QueryRow(
		`SELECT convergence_score FROM session_rankings WHERE session_id = 'pg-sess-write'`).Scan(&score)
	if err != nil {
		t.Fatalf("failed to read session_rankings: %v", err)
	}
	if score != 64 {
		t.Errorf("convergence score = %d, want 64", score)
	}

	// Re-running with a new score updates the existing row
	if err := repo.WriteSessionStrengths(ctx, "pg-sess-write", updates, 71); err != nil {
		t.Fatalf("second WriteSessionStrengths failed: %v", err)
	}
	if err := testDB.QueryRow(
		`SELECT convergence_score FROM session_rankings WHERE session_id = 'pg-sess-write'`).Scan(&score); err != nil {
		t.Fatalf("failed to re-read session_rankings: %v", err)
	}
	if score != 71 {
		t.Errorf("convergence score after rerun = %d, want 71", score)
	}
}

func TestPostgresRepository_ArtistScope(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()

	// Same artist, different spellings and sessions
	a := insertSong(t, "pg-art-1", "The National", "Bloodbuzz Ohio")
	b := insertSong(t, "pg-art-1", "the national", "Fake Empire")
	c := insertSong(t, "pg-art-2", "THE NATIONAL", "Terrible Love")
	other := insertSong(t, "pg-art-2", "Interpol", "Evil")

	insertComparison(t, "pg-art-1", a, b, a, false)
	insertComparison(t, "pg-art-2", c, other, c, false)

	songs, err := repo.GetArtistSongs(ctx, "the national")
	if err != nil {
		t.Fatalf("GetArtistSongs failed: %v", err)
	}
	if len(songs) != 3 {
		t.Errorf("expected 3 songs for normalized artist key, got %d", len(songs))
	}

	comparisons, err := repo.GetArtistComparisons(ctx, "the national")
	if err != nil {
		t.Fatalf("GetArtistComparisons failed: %v", err)
	}
	if len(comparisons) != 2 {
		t.Errorf("expected 2 comparisons across sessions, got %d", len(comparisons))
	}

	count, err := repo.GetArtistComparisonCount(ctx, "the national")
	if err != nil {
		t.Fatalf("GetArtistComparisonCount failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected count 2, got %d", count)
	}
}

func TestPostgresRepository_GlobalRankingsReplace(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()

	a := insertSong(t, "pg-glob-1", "Portishead", "Glory Box")
	b := insertSong(t, "pg-glob-1", "Portishead", "Roads")
	t.Cleanup(func() {
		testDB.Exec(`DELETE FROM global_rankings WHERE artist_key = 'portishead'`)
	})

	first := []GlobalEntry{
		{SongID: a, Title: "Glory Box", Strength: 0.2, Rating: 1534.7, VotesCount: 3},
		{SongID: b, Title: "Roads", Strength: -0.2, Rating: 1465.3, VotesCount: 3},
	}
	if err := repo.WriteGlobalRankings(ctx, "portishead", first); err != nil {
		t.Fatalf("WriteGlobalRankings failed: %v", err)
	}

	entries, err := repo.GetGlobalRankings(ctx, "portishead", 10)
	if err != nil {
		t.Fatalf("GetGlobalRankings failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].SongID != a {
		t.Errorf("expected strongest song first, got %s", entries[0].SongID)
	}

	// A rewrite fully replaces the previous leaderboard
	second := []GlobalEntry{
		{SongID: b, Title: "Roads", Strength: 0.6, Rating: 1604.2, VotesCount: 5},
	}
	if err := repo.WriteGlobalRankings(ctx, "portishead", second); err != nil {
		t.Fatalf("second WriteGlobalRankings failed: %v", err)
	}

	entries, err = repo.GetGlobalRankings(ctx, "portishead", 10)
	if err != nil {
		t.Fatalf("GetGlobalRankings after rewrite failed: %v", err)
	}
	if len(entries) != 1 || entries[0].SongID != b {
		t.Errorf("expected leaderboard replaced with only %s, got %+v", b, entries)
	}
}

func TestPostgresRepository_ArtistStatsUpsert(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()

	if _, err := repo.GetArtistStats(ctx, "pg-nobody"); err != ErrArtistNotFound {
		t.Fatalf("expected ErrArtistNotFound, got %v", err)
	}

	t.Cleanup(func() {
		testDB.Exec(`DELETE FROM artist_stats WHERE artist_key = 'pg-stats-artist'`)
	})

	first := time.Now().Add(-time.Hour).Truncate(time.Second)
	if err := repo.WriteArtistStats(ctx, "pg-stats-artist", 4, first); err != nil {
		t.Fatalf("WriteArtistStats failed: %v", err)
	}

	stats, err := repo.GetArtistStats(ctx, "pg-stats-artist")
	if err != nil {
		t.Fatalf("GetArtistStats failed: %v", err)
	}
	if stats.ComparisonsCount != 4 {
		t.Errorf("comparisons count = %d, want 4", stats.ComparisonsCount)
	}

	second := time.Now().Truncate(time.Second)
	if err := repo.WriteArtistStats(ctx, "pg-stats-artist", 9, second); err != nil {
		t.Fatalf("second WriteArtistStats failed: %v", err)
	}

	stats, err = repo.GetArtistStats(ctx, "pg-stats-artist")
	if err != nil {
		t.Fatalf("GetArtistStats after upsert failed: %v", err)
	}
	if stats.ComparisonsCount != 9 {
		t.Errorf("comparisons count after upsert = %d, want 9", stats.ComparisonsCount)
	}
	if stats.LastAggregatedAt == nil || !stats.LastAggregatedAt.After(first) {
		t.Errorf("last aggregated at not advanced: %v", stats.LastAggregatedAt)
	}
}
