package leaderboard

import (
	"time"

	"github.com/onnwee/trackduel/internal/duel"
)

// PendingComparisons splits an artist's comparison total into what the
// last aggregation already processed and what is still waiting.
func PendingComparisons(total int, stats *duel.ArtistStats) (processed, pending int) {
	if stats != nil {
		processed = stats.ComparisonsCount
	}
	pending = total - processed
	if pending < 0 {
		pending = 0
	}
	return processed, pending
}

// ShouldAggregate decides whether viewing a leaderboard ought to kick a
// background aggregation: there must be unprocessed comparisons and the
// last run must be older than the interval (or absent entirely).
func ShouldAggregate(stats *duel.ArtistStats, pending int, interval time.Duration, now time.Time) bool {
	if pending == 0 {
		return false
	}
	if stats == nil || stats.LastAggregatedAt == nil {
		return true
	}
	return now.Sub(*stats.LastAggregatedAt) >= interval
}
