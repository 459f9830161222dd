package leaderboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/trackduel/internal/duel"
	"github.com/onnwee/trackduel/internal/ranking"
)

// fakeArtistStore is an in-memory ArtistStore for aggregator tests.
type fakeArtistStore struct {
	songs       []*duel.Song
	comparisons []*duel.Comparison
	stats       *duel.ArtistStats
	previous    []duel.GlobalEntry

	writtenRankings []duel.GlobalEntry
	rankingsKey     string
	writtenStats    *duel.ArtistStats

	failRankingsWrite bool
}

func (f *fakeArtistStore) GetArtistSongs(ctx context.Context, artistKey string) ([]*duel.Song, error) {
	return f.songs, nil
}

func (f *fakeArtistStore) GetArtistComparisons(ctx context.Context, artistKey string) ([]*duel.Comparison, error) {
	return f.comparisons, nil
}

func (f *fakeArtistStore) GetArtistComparisonCount(ctx context.Context, artistKey string) (int, error) {
	return len(f.comparisons), nil
}

func (f *fakeArtistStore) WriteGlobalRankings(ctx context.Context, artistKey string, entries []duel.GlobalEntry) error {
	if f.failRankingsWrite {
		return errors.New("rankings write unavailable")
	}
	f.rankingsKey = artistKey
	f.writtenRankings = entries
	return nil
}

func (f *fakeArtistStore) GetGlobalRankings(ctx context.Context, artistKey string, limit int) ([]duel.GlobalEntry, error) {
	return f.previous, nil
}

func (f *fakeArtistStore) GetArtistStats(ctx context.Context, artistKey string) (*duel.ArtistStats, error) {
	if f.stats == nil {
		return nil, duel.ErrArtistNotFound
	}
	return f.stats, nil
}

func (f *fakeArtistStore) WriteArtistStats(ctx context.Context, artistKey string, comparisonsCount int, at time.Time) error {
	f.writtenStats = &duel.ArtistStats{
		ArtistKey:        artistKey,
		ComparisonsCount: comparisonsCount,
		LastAggregatedAt: &at,
	}
	return nil
}

// fakeLocker records lock traffic and can simulate contention.
type fakeLocker struct {
	held bool

	acquireCalls []string
	releaseCalls []string
}

func (f *fakeLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	f.acquireCalls = append(f.acquireCalls, key)
	return !f.held, nil
}

func (f *fakeLocker) Release(ctx context.Context, key string) error {
	f.releaseCalls = append(f.releaseCalls, key)
	return nil
}

func artistSong(id, sessionID, title string) *duel.Song {
	return &duel.Song{ID: id, SessionID: sessionID, Artist: "The Band", Title: title}
}

func duelWin(sessionID, a, b, w string) *duel.Comparison {
	return &duel.Comparison{SessionID: sessionID, SongAID: a, SongBID: b, WinnerID: &w}
}

func TestAggregateIdleInitialization(t *testing.T) {
	store := &fakeArtistStore{
		songs: []*duel.Song{artistSong("a", "s1", "Alpha"), artistSong("b", "s2", "Beta")},
	}
	locker := &fakeLocker{}
	agg := NewAggregator(store, locker, DefaultConfig(), nil, nil)

	result, err := agg.Aggregate(context.Background(), "The Band")
	require.NoError(t, err)
	require.False(t, result.Skipped)

	require.Len(t, store.writtenRankings, 2)
	for _, e := range store.writtenRankings {
		assert.Zero(t, e.Strength)
		assert.Equal(t, ranking.BaselineRating, e.Rating)
		assert.Zero(t, e.VotesCount)
	}
	require.NotNil(t, store.writtenStats)
	assert.Zero(t, store.writtenStats.ComparisonsCount)
}

func TestAggregateAcrossSessions(t *testing.T) {
	store := &fakeArtistStore{
		songs: []*duel.Song{
			artistSong("a", "s1", "Alpha"),
			artistSong("b", "s1", "Beta"),
			artistSong("c", "s2", "Gamma"),
		},
		comparisons: []*duel.Comparison{
			duelWin("s1", "a", "b", "a"),
			duelWin("s1", "a", "b", "a"),
			duelWin("s2", "b", "c", "b"),
			duelWin("s2", "a", "c", "a"),
			{SessionID: "s2", SongAID: "b", SongBID: "c"}, // skip still counts as a vote
		},
	}
	locker := &fakeLocker{}
	agg := NewAggregator(store, locker, DefaultConfig(), nil, nil)

	result, err := agg.Aggregate(context.Background(), "The Band")
	require.NoError(t, err)
	require.False(t, result.Skipped)
	require.Len(t, result.Entries, 3)

	// Entries come back strongest first.
	assert.Equal(t, "a", result.Entries[0].SongID)
	assert.Equal(t, "b", result.Entries[1].SongID)
	assert.Equal(t, "c", result.Entries[2].SongID)

	votes := make(map[string]int)
	for _, e := range result.Entries {
		votes[e.SongID] = e.VotesCount
	}
	assert.Equal(t, 3, votes["a"])
	assert.Equal(t, 4, votes["b"], "vote counts include indeterminate outcomes")
	assert.Equal(t, 3, votes["c"])

	require.NotNil(t, store.writtenStats)
	assert.Equal(t, 5, store.writtenStats.ComparisonsCount)
}

func TestAggregateSkipsWhenFresh(t *testing.T) {
	last := time.Now().Add(-30 * time.Second)
	store := &fakeArtistStore{
		songs: []*duel.Song{artistSong("a", "s1", "Alpha")},
		stats: &duel.ArtistStats{ArtistKey: "the band", ComparisonsCount: 3, LastAggregatedAt: &last},
	}
	locker := &fakeLocker{}
	agg := NewAggregator(store, locker, DefaultConfig(), nil, nil)

	result, err := agg.Aggregate(context.Background(), "The Band")
	require.NoError(t, err)

	assert.True(t, result.Skipped)
	assert.Equal(t, SkipReasonFresh, result.SkipReason)
	assert.Empty(t, locker.acquireCalls, "fresh rankings should not touch the lock")
	assert.Nil(t, store.writtenRankings)
}

func TestAggregateSkipsWhenLocked(t *testing.T) {
	store := &fakeArtistStore{
		songs: []*duel.Song{artistSong("a", "s1", "Alpha")},
	}
	locker := &fakeLocker{held: true}
	agg := NewAggregator(store, locker, DefaultConfig(), nil, nil)

	result, err := agg.Aggregate(context.Background(), "The Band")
	require.NoError(t, err, "lock contention is a skip, not an error")

	assert.True(t, result.Skipped)
	assert.Equal(t, SkipReasonLocked, result.SkipReason)
	assert.Nil(t, store.writtenRankings)
	assert.Empty(t, locker.releaseCalls)
}

func TestAggregateLockLifecycle(t *testing.T) {
	t.Run("released on failure", func(t *testing.T) {
		store := &fakeArtistStore{
			songs:             []*duel.Song{artistSong("a", "s1", "Alpha"), artistSong("b", "s1", "Beta")},
			comparisons:       []*duel.Comparison{duelWin("s1", "a", "b", "a")},
			failRankingsWrite: true,
		}
		locker := &fakeLocker{}
		agg := NewAggregator(store, locker, DefaultConfig(), nil, nil)

		_, err := agg.Aggregate(context.Background(), "The Band")
		require.Error(t, err)
		assert.Len(t, locker.releaseCalls, 1, "failed runs must release the lock for prompt retry")
	})

	t.Run("left to expire on success", func(t *testing.T) {
		store := &fakeArtistStore{
			songs:       []*duel.Song{artistSong("a", "s1", "Alpha"), artistSong("b", "s1", "Beta")},
			comparisons: []*duel.Comparison{duelWin("s1", "a", "b", "a")},
		}
		locker := &fakeLocker{}
		agg := NewAggregator(store, locker, DefaultConfig(), nil, nil)

		_, err := agg.Aggregate(context.Background(), "The Band")
		require.NoError(t, err)
		assert.Empty(t, locker.releaseCalls, "successful runs leave the lock as the cooldown window")
	})
}

func TestAggregateNormalizesArtist(t *testing.T) {
	store := &fakeArtistStore{
		songs: []*duel.Song{artistSong("a", "s1", "Alpha")},
	}
	locker := &fakeLocker{}
	agg := NewAggregator(store, locker, DefaultConfig(), nil, nil)

	result, err := agg.Aggregate(context.Background(), "  The BAND ")
	require.NoError(t, err)

	assert.Equal(t, "the band", result.ArtistKey)
	require.Len(t, locker.acquireCalls, 1)
	assert.Equal(t, "aggregate_lock:the band", locker.acquireCalls[0])
}
