package util

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestWithRequestIDKeepsClientID(t *testing.T) {
	const supplied = "lb-node-3-7f3a"
	var inCtx string
	h := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inCtx = RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(HeaderRequestID, supplied)
	h.ServeHTTP(rec, req)

	if inCtx != supplied {
		t.Fatalf("context id = %q, want %q", inCtx, supplied)
	}
	if got := rec.Header().Get(HeaderRequestID); got != supplied {
		t.Fatalf("echoed id = %q, want %q", got, supplied)
	}
}

func TestWithRequestIDGeneratesUUID(t *testing.T) {
	h := WithRequestID(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	id := rec.Header().Get(HeaderRequestID)
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("generated id %q is not a UUID: %v", id, err)
	}
}

func TestWithRequestIDReplacesOversizedID(t *testing.T) {
	h := WithRequestID(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(HeaderRequestID, strings.Repeat("x", maxRequestIDLen+1))
	h.ServeHTTP(rec, req)

	if _, err := uuid.Parse(rec.Header().Get(HeaderRequestID)); err != nil {
		t.Fatalf("oversized id not replaced: %v", err)
	}
}
