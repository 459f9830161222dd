package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestID(t *testing.T) {
	t.Run("generates new id", func(t *testing.T) {
		var ctxID string
		handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctxID = GetRequestID(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/v1/leaderboard/radiohead", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if ctxID == "" {
			t.Error("expected request ID in context, got empty string")
		}
		if got := rr.Header().Get(RequestIDHeader); got != ctxID {
			t.Errorf("response header %q does not match context ID %q", got, ctxID)
		}
	})

	t.Run("keeps caller-supplied id", func(t *testing.T) {
		const callerID = "duel-session-7f3a"
		var ctxID string
		handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctxID = GetRequestID(r.Context())
		}))

		req := httptest.NewRequest(http.MethodPost, "/v1/sessions/s1/rank", nil)
		req.Header.Set(RequestIDHeader, callerID)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if ctxID != callerID {
			t.Errorf("expected request ID %q, got %q", callerID, ctxID)
		}
		if got := rr.Header().Get(RequestIDHeader); got != callerID {
			t.Errorf("expected response header %q, got %q", callerID, got)
		}
	})
}

func TestGetRequestID_MissingReturnsEmpty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	if id := GetRequestID(req.Context()); id != "" {
		t.Errorf("expected empty string, got %q", id)
	}
}
