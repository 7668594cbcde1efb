package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Policy-Guru-za/chipin/internal/kv"
	"github.com/Policy-Guru-za/chipin/internal/ratelimit"
)

type brokenStore struct{ kv.Store }

func (brokenStore) Incr(context.Context, string, time.Duration) (kv.Counter, error) {
	return kv.Counter{}, errors.New("store down")
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{remote: "203.0.113.7:4431", want: "203.0.113.7"},
		{remote: "[2001:db8::1]:443", want: "2001:db8::1"},
		{remote: "[::ffff:198.51.100.4]:80", want: "198.51.100.4"},
		{remote: "198.51.100.9", want: "198.51.100.9"},
		{remote: "garbage", want: "invalid IP"},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.RemoteAddr = tt.remote
		if got := ClientIP(r).String(); got != tt.want {
			t.Fatalf("ClientIP(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}

func TestRateLimit_RejectsOverBurst(t *testing.T) {
	now := time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	limiter := ratelimit.New(kv.NewMemory(clock), clock)

	h := RateLimit(limiter, "webhook:ozow", 120, 2, zap.NewNop())(okHandler())

	send := func(remote string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/api/webhooks/ozow", nil)
		r.RemoteAddr = remote
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	for i := 0; i < 2; i++ {
		if w := send("203.0.113.7:1000"); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i+1, w.Code)
		}
	}

	w := send("203.0.113.7:1001")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("Retry-After = %q, want 60", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("X-RateLimit-Remaining = %q, want 0", got)
	}
	if !strings.Contains(w.Body.String(), `"rate_limited"`) {
		t.Fatalf("body = %q", w.Body.String())
	}

	if w := send("198.51.100.1:1000"); w.Code != http.StatusOK {
		t.Fatalf("other client must not be limited, status = %d", w.Code)
	}
}

func TestRateLimit_FailsOpen(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	limiter := ratelimit.New(brokenStore{}, nil)

	h := RateLimit(limiter, "webhook:payfast", 10, 2, zap.New(core))(okHandler())

	r := httptest.NewRequest(http.MethodPost, "/api/webhooks/payfast", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if logs.FilterMessage("rate limiter unavailable, request allowed").Len() != 1 {
		t.Fatalf("store failure was not logged")
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	limiter := ratelimit.New(brokenStore{}, nil)
	h := RateLimit(limiter, "webhook:payfast", 0, 0, zap.NewNop())(okHandler())

	r := httptest.NewRequest(http.MethodPost, "/api/webhooks/payfast", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Header().Get("X-RateLimit-Limit") != "" {
		t.Fatalf("disabled limiter must not set headers")
	}
}
