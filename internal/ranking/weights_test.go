package ranking

import "testing"

func msPtr(v int64) *int64 { return &v }

// TestDecisionWeight tests the decision-latency confidence weighting.
func TestDecisionWeight(t *testing.T) {
	tests := []struct {
		name     string
		latency  *int64
		expected float64
	}{
		{name: "unreported latency", latency: nil, expected: 1.0},
		{name: "snap judgment", latency: msPtr(800), expected: 1.5},
		{name: "just under fast threshold", latency: msPtr(2999), expected: 1.5},
		{name: "exactly fast threshold", latency: msPtr(3000), expected: 1.0},
		{name: "normal deliberation", latency: msPtr(5000), expected: 1.0},
		{name: "exactly slow threshold", latency: msPtr(10000), expected: 1.0},
		{name: "just over slow threshold", latency: msPtr(10001), expected: 0.5},
		{name: "very slow", latency: msPtr(60000), expected: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecisionWeight(tt.latency); got != tt.expected {
				t.Errorf("DecisionWeight() = %f, want %f", got, tt.expected)
			}
		})
	}
}

// TestRepetitions tests the weight-to-repetition expansion.
func TestRepetitions(t *testing.T) {
	tests := []struct {
		name     string
		weight   float64
		expected int
	}{
		{name: "high confidence", weight: 1.5, expected: 3},
		{name: "normal confidence", weight: 1.0, expected: 2},
		{name: "low confidence", weight: 0.5, expected: 1},
		{name: "never below one", weight: 0.0, expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := repetitions(tt.weight); got != tt.expected {
				t.Errorf("repetitions(%f) = %d, want %d", tt.weight, got, tt.expected)
			}
		})
	}
}

// TestOutcomeDeterminate tests the determinacy classification.
func TestOutcomeDeterminate(t *testing.T) {
	tests := []struct {
		name     string
		outcome  Outcome
		expected bool
	}{
		{name: "win", outcome: Outcome{SongA: "a", SongB: "b", Winner: "a"}, expected: true},
		{name: "tie", outcome: Outcome{SongA: "a", SongB: "b", IsTie: true}, expected: true},
		{name: "explicit skip", outcome: Outcome{SongA: "a", SongB: "b"}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.outcome.Determinate(); got != tt.expected {
				t.Errorf("Determinate() = %v, want %v", got, tt.expected)
			}
		})
	}
}
