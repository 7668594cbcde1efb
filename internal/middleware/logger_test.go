package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("hello"))
	})
	h := chimiddleware.RequestID(Logger(zap.New(core))(next))

	r := httptest.NewRequest(http.MethodPost, "/api/webhooks/snapscan", nil)
	h.ServeHTTP(httptest.NewRecorder(), r)

	entries := logs.FilterMessage("http request").All()
	if len(entries) != 1 {
		t.Fatalf("log entries = %d, want 1", len(entries))
	}

	fields := entries[0].ContextMap()
	if fields["status"] != int64(http.StatusAccepted) {
		t.Fatalf("status field = %v", fields["status"])
	}
	if fields["size"] != int64(5) {
		t.Fatalf("size field = %v", fields["size"])
	}
	if fields["path"] != "/api/webhooks/snapscan" {
		t.Fatalf("path field = %v", fields["path"])
	}
	if fields["request_id"] == "" {
		t.Fatalf("request id not logged")
	}
}
