package ranking

import (
	"math"
	"sort"
)

// Convergence factor weights and shaping constants.
const (
	coverageWeight   = 0.4
	separationWeight = 0.4
	stabilityWeight  = 0.2

	// curveExponent makes moderate progress read perceptibly higher than
	// linear scaling would; raw=1 still maps to 1.
	curveExponent = 0.7

	// comparisonsPerSong is the volume target: item_count * 1.5
	// determinate outcomes counts as "enough signal".
	comparisonsPerSong = 1.5

	// wellComparedThreshold is how many determinate comparisons a song
	// needs before it counts as adequately covered.
	wellComparedThreshold = 3

	// stabilityLookback is how many recent outcomes are dropped when
	// re-solving to judge ranking stability.
	stabilityLookback = 5

	// stabilityTopN is the depth of the ranking prefix whose consistency
	// is graded.
	stabilityTopN = 10
)

// ConvergenceResult carries the combined 0-100 score and its three
// sub-factors, each in [0, 1].
type ConvergenceResult struct {
	Score      int
	Coverage   float64
	Separation float64
	Stability  float64
}

// ScoreConvergence grades how trustworthy the current ranking is.
//
// A single song (or none) is trivially converged. No outcomes at all
// scores zero. Otherwise the score combines coverage, separation, and
// stability, applies a concavity curve, and clamps through guard rails:
// a song with fewer than 2 determinate comparisons caps the score at 65
// (fewer than 3 caps at 85), while a stable recent history floors it.
// A cap always beats a floor, since trustworthiness cannot exceed what
// the data supports.
func ScoreConvergence(outcomes []Outcome, songIDs []string, strengths map[string]float64, cfg SolverConfig) ConvergenceResult {
	if len(songIDs) <= 1 {
		return ConvergenceResult{Score: 100, Coverage: 1, Separation: 1, Stability: 1}
	}
	if len(outcomes) == 0 {
		return ConvergenceResult{}
	}

	counts := determinateCounts(songIDs, outcomes)

	coverage := coverageScore(songIDs, outcomes, counts)
	separation := separationScore(songIDs, strengths, counts)
	stability := stabilityScore(songIDs, outcomes, strengths, cfg)

	raw := coverageWeight*coverage + separationWeight*separation + stabilityWeight*stability
	curved := math.Pow(raw, curveExponent)
	score := int(math.Floor(math.Min(100, curved*100)))

	minComps := math.MaxInt
	for _, id := range songIDs {
		if counts[id] < minComps {
			minComps = counts[id]
		}
	}

	// Floors first, then caps, so a low-data cap always wins.
	switch {
	case stability >= 0.95 && minComps >= 2:
		score = max(score, 92)
	case stability >= 0.85:
		score = max(score, 90)
	case stability >= 0.75:
		score = max(score, 88)
	}
	switch {
	case minComps < 2:
		score = min(score, 65)
	case minComps < wellComparedThreshold:
		score = min(score, 85)
	}
	score = min(score, 100)

	return ConvergenceResult{
		Score:      score,
		Coverage:   coverage,
		Separation: separation,
		Stability:  stability,
	}
}

// coverageScore measures breadth and volume of signal. The square root
// enforces that both must be present: every song touched enough AND
// enough total outcomes.
func coverageScore(songIDs []string, outcomes []Outcome, counts map[string]int) float64 {
	meaningful := 0
	for _, o := range outcomes {
		if o.Determinate() {
			meaningful++
		}
	}

	wellCompared := 0
	for _, id := range songIDs {
		if counts[id] >= wellComparedThreshold {
			wellCompared++
		}
	}

	n := float64(len(songIDs))
	breadth := float64(wellCompared) / n
	quantity := math.Min(1, float64(meaningful)/(n*comparisonsPerSong))
	return math.Sqrt(breadth * quantity)
}

// separationScore measures how distinguishable the songs are. Confidence
// dominates deliberately: a well-spread but data-starved ranking must not
// read as separated.
func separationScore(songIDs []string, strengths map[string]float64, counts map[string]int) float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, id := range songIDs {
		s := strengths[id]
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}
	spread := hi - lo
	if spread < 0.01 {
		return 0
	}

	rangeAdequacy := math.Min(1, spread/4)

	confidence := 0.0
	for _, id := range songIDs {
		confidence += math.Min(1, float64(counts[id])/wellComparedThreshold)
	}
	confidence /= float64(len(songIDs))

	return 0.3*rangeAdequacy + 0.2*gapUniformity(songIDs, strengths) + 0.5*confidence
}

// gapUniformity is the inverse of the normalized variance of consecutive
// sorted strength gaps: evenly spaced songs score 1, a single outlier
// among clumped songs scores near 0.
func gapUniformity(songIDs []string, strengths map[string]float64) float64 {
	sorted := make([]float64, 0, len(songIDs))
	for _, id := range songIDs {
		sorted = append(sorted, strengths[id])
	}
	sort.Float64s(sorted)

	gaps := make([]float64, 0, len(sorted)-1)
	mean := 0.0
	for i := 1; i < len(sorted); i++ {
		g := sorted[i] - sorted[i-1]
		gaps = append(gaps, g)
		mean += g
	}
	mean /= float64(len(gaps))
	if mean <= 0 {
		return 0
	}

	variance := 0.0
	for _, g := range gaps {
		variance += (g - mean) * (g - mean)
	}
	variance /= float64(len(gaps))

	return 1.0 / (1.0 + variance/(mean*mean))
}

// stabilityScore grades the consistency of the top of the ranking against
// the ranking recomputed without the most recent outcomes. Below
// lookback+10 outcomes there is not enough history to judge, which is
// defined as zero.
func stabilityScore(songIDs []string, outcomes []Outcome, strengths map[string]float64, cfg SolverConfig) float64 {
	if len(outcomes) < stabilityLookback+stabilityTopN {
		return 0
	}

	truncated := outcomes[:len(outcomes)-stabilityLookback]
	previous := SolveStrengths(songIDs, truncated, nil, cfg)

	curOrder := rankOrder(songIDs, strengths)
	prevOrder := rankOrder(songIDs, previous)

	cur10 := head(curOrder, stabilityTopN)
	prev10 := head(prevOrder, stabilityTopN)
	cur5 := head(curOrder, 5)
	prev5 := head(prevOrder, 5)

	switch {
	case equalOrder(cur10, prev10):
		return 1.0
	case equalOrder(cur5, prev5) && sameMembers(cur10, prev10):
		return 0.95
	case sameMembers(cur10, prev10) && sameMembers(cur5, prev5):
		return 0.85
	case sameMembers(cur10, prev10):
		return 0.75
	case sameMembers(cur5, prev5):
		return 0.6
	default:
		return float64(overlap(cur10, prev10)) / stabilityTopN * 0.5
	}
}

// rankOrder sorts song IDs by strength descending, breaking ties by ID so
// the order is deterministic.
func rankOrder(songIDs []string, strengths map[string]float64) []string {
	order := make([]string, len(songIDs))
	copy(order, songIDs)
	sort.SliceStable(order, func(i, j int) bool {
		si, sj := strengths[order[i]], strengths[order[j]]
		if si != sj {
			return si > sj
		}
		return order[i] < order[j]
	})
	return order
}

func head(ids []string, n int) []string {
	if len(ids) < n {
		n = len(ids)
	}
	return ids[:n]
}

func equalOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameMembers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}

func overlap(a, b []string) int {
	set := make(map[string]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	count := 0
	for _, id := range b {
		if _, ok := set[id]; ok {
			count++
		}
	}
	return count
}
