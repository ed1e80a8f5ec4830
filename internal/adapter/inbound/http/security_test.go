package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSecurityHeaders(t *testing.T) {
	handler := newBareTransport().Handler()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestAuthFailureLimiter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := newAuthFailureLimiter(3, 10*time.Second)
	l.now = func() time.Time { return now }

	if blocked, _ := l.blocked("10.0.0.1"); blocked {
		t.Fatal("unknown client should not be blocked")
	}
	for range 3 {
		l.fail("10.0.0.1")
	}
	blocked, retry := l.blocked("10.0.0.1")
	if !blocked || retry <= 0 || retry > 10*time.Second {
		t.Fatalf("blocked = %v, retry = %v; want blocked within 10s", blocked, retry)
	}
	if blocked, _ := l.blocked("10.0.0.2"); blocked {
		t.Error("other clients must not share the budget")
	}

	now = now.Add(11 * time.Second)
	if blocked, _ := l.blocked("10.0.0.1"); blocked {
		t.Error("budget should refill over time")
	}

	// Idle entries are dropped on the next failure.
	now = now.Add(authFailureIdleTTL + time.Minute)
	l.fail("10.0.0.3")
	if _, ok := l.entries["10.0.0.1"]; ok {
		t.Error("idle entry was not cleaned up")
	}
}

func TestAuthMiddleware_ThrottlesRepeatedFailures(t *testing.T) {
	handler := newBareTransport(WithAuthFailureLimit(2, time.Hour)).Handler()

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/v1/actions", nil)
		req.Header.Set("Authorization", "Bearer wrong")
		req.RemoteAddr = "192.0.2.7:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests && rec.Header().Get("Retry-After") == "" {
			t.Error("429 without Retry-After")
		}
	}
	want := []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("codes = %v, want %v", codes, want)
		}
	}
}

func TestWithAuthFailureLimit_Disabled(t *testing.T) {
	tr := newBareTransport(WithAuthFailureLimit(0, 0))
	if tr.authLimiter != nil {
		t.Error("zero burst should disable the throttle")
	}
}
