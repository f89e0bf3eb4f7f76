package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keydropio/keydrop/internal/lifecycle"
	"github.com/keydropio/keydrop/internal/model"
	"github.com/keydropio/keydrop/internal/service"
	"github.com/keydropio/keydrop/internal/store/sqlstore"
	"github.com/keydropio/keydrop/internal/token"
)

// fakeClock is a manually advanced clock shared by the service under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testEnv holds shared state for handler integration tests.
type testEnv struct {
	svc     *service.KeyService
	clock   *fakeClock
	handler *KeyHandler
	router  chi.Router
}

// newTestEnv creates a fresh test environment with an in-memory sqlite key
// store, a key handler, and a Chi router with routes mounted (no auth
// middleware).
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlstore.NewSQLite(context.Background(), "") // in-memory SQLite
	if err != nil {
		t.Fatalf("sqlstore.NewSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	clock := &fakeClock{now: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.NewKeyService(st, token.New(), lifecycle.New(24*time.Hour, clock.Now), service.KeyConfig{}, logger)
	keyHandler := NewKeyHandler(svc)

	// Mount routes without auth middleware for direct handler testing.
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/keys", keyHandler.CreateKey)
		r.Get("/keys", keyHandler.ListKeys)
		r.Delete("/keys", keyHandler.ClearKeys)
		r.Get("/keys/live", keyHandler.LiveKeys)
		r.Get("/keys/check/{key}", keyHandler.CheckKey)
		r.Post("/keys/search", keyHandler.SearchKeys)
		r.Post("/keys/cleanup", keyHandler.Cleanup)
		r.Post("/generate", keyHandler.Generate)
		r.Get("/validate/{key}", keyHandler.ValidateKey)
		r.Post("/validate", keyHandler.ValidateBody)
	})
	r.Get("/validate", keyHandler.ValidateQuery)
	r.Get("/openapi.json", NewOpenAPIHandler("test").ServeDocument)

	return &testEnv{
		svc:     svc,
		clock:   clock,
		handler: keyHandler,
		router:  r,
	}
}

// seedKey issues a key directly through the service.
func (e *testEnv) seedKey(t *testing.T, req service.IssueRequest) *model.Key {
	t.Helper()
	k, err := e.svc.Issue(context.Background(), req)
	if err != nil {
		t.Fatalf("seedKey: %v", err)
	}
	return k
}

// do executes an HTTP request against the test router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func toJSON(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v; body = %s", err, rr.Body.String())
	}
}
