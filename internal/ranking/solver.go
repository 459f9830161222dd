package ranking

import (
	"log/slog"
	"math"
	"sort"
)

// SolverConfig tunes the iterative strength solver.
type SolverConfig struct {
	// Regularization is a uniform prior added per song: a small virtual
	// win and virtual pairing against a phantom average opponent. It keeps
	// the procedure well-defined when a song never lost (or never won),
	// which would otherwise diverge to infinite or zero strength.
	Regularization float64

	// MaxIterations bounds the MM iteration count.
	MaxIterations int

	// Tolerance is the per-song change below which iteration stops.
	Tolerance float64
}

// DefaultSolverConfig returns the standard solver configuration.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		Regularization: 0.01,
		MaxIterations:  100,
		Tolerance:      1e-8,
	}
}

// pairKey identifies an unordered song pair by index.
type pairKey struct {
	lo, hi int
}

// weightedPair is a pairKey plus its accumulated comparison count.
type weightedPair struct {
	lo, hi int
	count  float64
}

// SolveStrengths estimates a latent log-strength per song from weighted
// pairwise outcomes using a regularized Bradley-Terry MM iteration.
//
// warmStart optionally seeds the iteration with previously computed
// log-strengths; it changes convergence speed, never the fixed point.
// Songs absent from warmStart start at 0.0 (average).
//
// Degenerate inputs have defined results rather than errors: zero songs
// yields an empty map, a single song maps to 0.0 without iterating, and
// an outcome set with no determinate records (all skips) yields every
// song at 0.0. Outcomes referencing unknown songs are skipped per record.
// If the numerical procedure degrades (NaN or Inf anywhere in an update),
// the solver logs the condition and returns all-zero strengths instead of
// propagating a failure.
func SolveStrengths(songIDs []string, outcomes []Outcome, warmStart map[string]float64, cfg SolverConfig) map[string]float64 {
	n := len(songIDs)
	if n == 0 {
		return map[string]float64{}
	}

	strengths := make(map[string]float64, n)
	if n == 1 {
		strengths[songIDs[0]] = 0.0
		return strengths
	}

	idx := make(map[string]int, n)
	for i, id := range songIDs {
		idx[id] = i
	}

	// Materialize directed "winner beat loser" records. Each determinate
	// outcome expands into reps records; a tie credits both directions.
	wins := make([]float64, n)
	pairs := make(map[pairKey]float64)
	records := 0
	for _, o := range outcomes {
		if !o.Determinate() {
			continue
		}
		a, okA := idx[o.SongA]
		b, okB := idx[o.SongB]
		if !okA || !okB {
			slog.Debug("skipping outcome referencing unknown song",
				"song_a", o.SongA, "song_b", o.SongB)
			continue
		}
		reps := repetitions(DecisionWeight(o.DecisionTimeMS))
		key := pairKey{lo: min(a, b), hi: max(a, b)}

		if o.IsTie {
			wins[a] += float64(reps)
			wins[b] += float64(reps)
			pairs[key] += float64(2 * reps)
			records += 2 * reps
			continue
		}
		winner := a
		if o.Winner == o.SongB {
			winner = b
		} else if o.Winner != o.SongA {
			slog.Debug("skipping outcome with winner outside the pair",
				"winner", o.Winner, "song_a", o.SongA, "song_b", o.SongB)
			continue
		}
		wins[winner] += float64(reps)
		pairs[key] += float64(reps)
		records += reps
	}

	if records == 0 {
		for _, id := range songIDs {
			strengths[id] = 0.0
		}
		return strengths
	}

	// Fix the pair iteration order so float accumulation is deterministic
	// across runs of the same input.
	pairList := make([]weightedPair, 0, len(pairs))
	for key, count := range pairs {
		pairList = append(pairList, weightedPair{lo: key.lo, hi: key.hi, count: count})
	}
	sort.Slice(pairList, func(i, j int) bool {
		if pairList[i].lo != pairList[j].lo {
			return pairList[i].lo < pairList[j].lo
		}
		return pairList[i].hi < pairList[j].hi
	})

	// Iterate in probability (gamma) space, converting log-strengths at
	// the boundary.
	p := make([]float64, n)
	for i, id := range songIDs {
		p[i] = 1.0
		if s, ok := warmStart[id]; ok {
			p[i] = clampGamma(math.Exp(s))
		}
	}

	reg := cfg.Regularization
	denom := make([]float64, n)
	next := make([]float64, n)
	for iter := 0; iter < cfg.MaxIterations; iter++ {
		for i := range denom {
			denom[i] = 0
		}
		for _, pair := range pairList {
			r := pair.count / (p[pair.lo] + p[pair.hi])
			denom[pair.lo] += r
			denom[pair.hi] += r
		}

		maxDiff := 0.0
		for i := range p {
			// Phantom opponent of average strength absorbs one virtual
			// win and one virtual loss per song.
			d := denom[i] + 2*reg/(p[i]+1.0)
			if d <= 0 {
				next[i] = p[i]
			} else {
				next[i] = (wins[i] + reg) / d
			}
			if diff := math.Abs(next[i] - p[i]); diff > maxDiff {
				maxDiff = diff
			}
		}

		// Geometric-mean normalization pins the scale so that the average
		// log-strength is zero.
		logSum := 0.0
		for i := range next {
			next[i] = clampGamma(next[i])
			logSum += math.Log(next[i])
		}
		gm := math.Exp(logSum / float64(n))
		for i := range next {
			p[i] = next[i] / gm
			if math.IsNaN(p[i]) || math.IsInf(p[i], 0) {
				slog.Warn("strength solver degraded to neutral strengths",
					"iteration", iter, "songs", n, "records", records)
				for _, id := range songIDs {
					strengths[id] = 0.0
				}
				return strengths
			}
		}

		if maxDiff < cfg.Tolerance {
			break
		}
	}

	for i, id := range songIDs {
		strengths[id] = math.Log(p[i])
	}
	return strengths
}

// clampGamma keeps gamma values inside a range where the update stays
// numerically sane.
func clampGamma(g float64) float64 {
	const (
		minGamma = 1e-9
		maxGamma = 1e9
	)
	if g < minGamma || math.IsNaN(g) {
		return minGamma
	}
	if g > maxGamma {
		return maxGamma
	}
	return g
}
