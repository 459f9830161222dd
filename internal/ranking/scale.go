package ranking

import "math"

// BaselineRating is the rating assigned to a song of average strength
// (log-strength 0.0).
const BaselineRating = 1500.0

// eloScale converts a natural-log strength into classic rating points.
// K = 400 * log10(e), so that the implied logistic win probability
// 1 / (1 + 10^((R_j - R_i)/400)) equals e^s_i / (e^s_i + e^s_j) exactly.
var eloScale = 400.0 * math.Log10(math.E)

// Rating converts a log-strength into a human-facing display rating.
// Pure and total: any finite strength maps to a finite rating, and
// strength 0.0 maps to BaselineRating.
func Rating(strength float64) float64 {
	return eloScale*strength + BaselineRating
}

// WinProbability returns the modeled probability that a song with
// log-strength a beats a song with log-strength b.
func WinProbability(a, b float64) float64 {
	return 1.0 / (1.0 + math.Exp(b-a))
}
