package ranking

import "math"

// Decision-time confidence thresholds, in milliseconds. A snap judgment
// carries more signal than a long deliberation.
const (
	fastDecisionMS = 3000
	slowDecisionMS = 10000

	highConfidenceWeight   = 1.5
	normalConfidenceWeight = 1.0
	lowConfidenceWeight    = 0.5
)

// DecisionWeight computes the confidence weight for a single outcome from
// its decision latency:
//
//	< 3s  -> 1.5 (high confidence)
//	> 10s -> 0.5 (low confidence)
//	else  -> 1.0 (including unreported latency)
func DecisionWeight(decisionTimeMS *int64) float64 {
	if decisionTimeMS == nil {
		return normalConfidenceWeight
	}
	switch {
	case *decisionTimeMS < fastDecisionMS:
		return highConfidenceWeight
	case *decisionTimeMS > slowDecisionMS:
		return lowConfidenceWeight
	default:
		return normalConfidenceWeight
	}
}

// repetitions converts a confidence weight into the integer number of
// directed comparison records the outcome materializes: normal confidence
// yields 2, high 3, low 1. Never less than 1.
func repetitions(weight float64) int {
	reps := int(math.Round(weight * 2))
	if reps < 1 {
		reps = 1
	}
	return reps
}
