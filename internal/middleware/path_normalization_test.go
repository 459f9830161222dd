package middleware

import (
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected string
	}{
		// Static routes - no normalization
		{
			name:     "root path",
			path:     "/",
			expected: "/",
		},
		{
			name:     "health endpoint",
			path:     "/health",
			expected: "/health",
		},
		{
			name:     "ready endpoint",
			path:     "/ready",
			expected: "/ready",
		},
		{
			name:     "metrics endpoint",
			path:     "/metrics",
			expected: "/metrics",
		},

		// Leaderboard patterns
		{
			name:     "leaderboard by artist",
			path:     "/v1/leaderboard/radiohead",
			expected: "/v1/leaderboard/{artist}",
		},
		{
			name:     "leaderboard with encoded space",
			path:     "/v1/leaderboard/the%20national",
			expected: "/v1/leaderboard/{artist}",
		},

		// Session patterns
		{
			name:     "session rank trigger",
			path:     "/v1/sessions/550e8400-e29b-41d4-a716-446655440000/rank",
			expected: "/v1/sessions/{id}/rank",
		},
		{
			name:     "session by id",
			path:     "/v1/sessions/abc123",
			expected: "/v1/sessions/{id}",
		},

		// Edge cases
		{
			name:     "leaderboard without artist",
			path:     "/v1/leaderboard/",
			expected: "/v1/leaderboard/",
		},
		{
			name:     "unknown route",
			path:     "/unknown/path",
			expected: "/unknown/path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := normalizePath(tt.path)
			if result != tt.expected {
				t.Errorf("normalizePath(%q) = %q, want %q", tt.path, result, tt.expected)
			}
		})
	}
}

func TestNormalizePath_CardinalityControl(t *testing.T) {
	// Test that different artists normalize to the same pattern
	paths := []string{
		"/v1/leaderboard/radiohead",
		"/v1/leaderboard/bjork",
		"/v1/leaderboard/the%20national",
		"/v1/leaderboard/100%20gecs",
	}

	expected := "/v1/leaderboard/{artist}"
	seen := make(map[string]bool)

	for _, path := range paths {
		result := normalizePath(path)
		if result != expected {
			t.Errorf("normalizePath(%q) = %q, want %q", path, result, expected)
		}
		seen[result] = true
	}

	// Should all normalize to the same pattern (low cardinality)
	if len(seen) != 1 {
		t.Errorf("Expected all paths to normalize to single pattern, got %d patterns: %v", len(seen), seen)
	}
}
