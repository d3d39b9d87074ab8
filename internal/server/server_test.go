package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mealtrack/internal/kv/memory"
	"mealtrack/internal/log"
)

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	srv := NewServer(":0", store, log.New(log.DefaultConfig()))
	// Shutdown stops the cache cleanup and rate limiter goroutines too.
	t.Cleanup(func() {
		if err := srv.Shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})
	return srv, store
}

func doRequest(srv *Server, method, target string, body string) *httptest.ResponseRecorder {
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	rec := httptest.NewRecorder()
	srv.Server.Handler.ServeHTTP(rec, req)
	return rec
}

func TestFetchMissingUserID(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/api/data", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["error"] != "userId is required" {
		t.Fatalf("unexpected error message: %q", body["error"])
	}
}

func TestFetchUnknownUserReturnsEmptyObject(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/api/data?userId=alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "{}" {
		t.Fatalf("expected empty object, got %q", got)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestStoreAndFetchRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)

	payload := `{"mealData":{"2024-05-02":{"type":"outing","price":12000,"place":"Cafe A"}},"history":{"places":["Cafe A"],"cards":[]}}`
	rec := doRequest(srv, http.MethodPost, "/api/data?userId=alice", payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var ack map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("invalid JSON ack: %v", err)
	}
	if !ack["success"] {
		t.Fatalf("expected success ack, got %s", rec.Body.String())
	}

	rec = doRequest(srv, http.MethodGet, "/api/data?userId=alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != payload {
		t.Fatalf("stored payload not returned verbatim:\n got %s\nwant %s", rec.Body.String(), payload)
	}
}

func TestStoreLastWriteWins(t *testing.T) {
	srv, _ := newTestServer(t)

	first := `{"mealData":{"2024-05-01":{"type":"holiday","price":0}},"history":{"places":[],"cards":[]}}`
	second := `{"mealData":{},"history":{"places":[],"cards":[]}}`

	for _, payload := range []string{first, second} {
		rec := doRequest(srv, http.MethodPost, "/api/data?userId=alice", payload)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	}

	rec := doRequest(srv, http.MethodGet, "/api/data?userId=alice", "")
	if rec.Body.String() != second {
		t.Fatalf("expected last write to win, got %s", rec.Body.String())
	}
}

func TestStoreMissingUserID(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/api/data", `{"mealData":{}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStoreRejectsInvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/api/data?userId=alice", `{"mealData":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUsersAreIsolated(t *testing.T) {
	srv, _ := newTestServer(t)

	payload := `{"mealData":{"2024-05-02":{"type":"cafeteria","price":7770}},"history":{"places":[],"cards":[]}}`
	rec := doRequest(srv, http.MethodPost, "/api/data?userId=alice", payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doRequest(srv, http.MethodGet, "/api/data?userId=bob", "")
	if got := strings.TrimSpace(rec.Body.String()); got != "{}" {
		t.Fatalf("expected bob to have no data, got %q", got)
	}
}

func TestFetchStoreFailure(t *testing.T) {
	srv, store := newTestServer(t)
	store.FailNext = true

	rec := doRequest(srv, http.MethodGet, "/api/data?userId=alice", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["error"] == "" {
		t.Fatalf("expected error message in body")
	}
}

func TestStoreFailure(t *testing.T) {
	srv, store := newTestServer(t)
	store.FailNext = true

	rec := doRequest(srv, http.MethodPost, "/api/data?userId=alice", `{"mealData":{}}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodDelete, "/api/data?userId=alice", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != "GET, POST" {
		t.Fatalf("unexpected Allow header %q", allow)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := doRequest(srv, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestRateLimitOnWrites(t *testing.T) {
	srv, _ := newTestServer(t)

	var last int
	for i := 0; i < 70; i++ {
		rec := doRequest(srv, http.MethodPost, "/api/data?userId=alice", `{"mealData":{}}`)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after sustained writes, got %d", last)
	}

	// Reads stay available while writes are throttled.
	rec := doRequest(srv, http.MethodGet, "/api/data?userId=alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on read, got %d", rec.Code)
	}
}
