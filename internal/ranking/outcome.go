package ranking

// Outcome is a single recorded pairwise judgment between two songs.
//
// Exactly one of three shapes is valid:
//   - Winner set to SongA or SongB, IsTie false: a determinate win.
//   - Winner empty, IsTie true: a determinate tie.
//   - Winner empty, IsTie false: an explicit "no preference" skip. Skips
//     are kept as history but contribute nothing to strength estimation.
type Outcome struct {
	SongA string
	SongB string

	// Winner is the song ID of the winning side, or empty for ties and skips.
	Winner string

	// IsTie marks an explicit tie. Mutually exclusive with Winner.
	IsTie bool

	// DecisionTimeMS is how long the judge took to decide, in milliseconds.
	// Nil when the client did not report it.
	DecisionTimeMS *int64
}

// Determinate reports whether the outcome carries a usable result
// (a winner or an explicit tie).
func (o Outcome) Determinate() bool {
	return o.IsTie || o.Winner != ""
}

// determinateCounts returns, per song ID, how many determinate outcomes
// reference it. Songs absent from ids are ignored.
func determinateCounts(ids []string, outcomes []Outcome) map[string]int {
	counts := make(map[string]int, len(ids))
	for _, id := range ids {
		counts[id] = 0
	}
	for _, o := range outcomes {
		if !o.Determinate() {
			continue
		}
		if _, ok := counts[o.SongA]; ok {
			counts[o.SongA]++
		}
		if _, ok := counts[o.SongB]; ok {
			counts[o.SongB]++
		}
	}
	return counts
}
