package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	sessionHandler "github.com/SakshamManav/File-Synchronization/backend/internal/handler/session"
	"github.com/SakshamManav/File-Synchronization/backend/internal/mirror"
	"github.com/SakshamManav/File-Synchronization/backend/internal/model/session"
	"github.com/SakshamManav/File-Synchronization/backend/internal/service/ingest"
	sessionService "github.com/SakshamManav/File-Synchronization/backend/internal/service/session"
	watchService "github.com/SakshamManav/File-Synchronization/backend/internal/service/watch"
)

type downStore struct {
	*session.MemoryStore
}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func newTestRouter(store session.Store) http.Handler {
	sessions := sessionService.NewService(store, mirror.New(afero.NewMemMapFs(), "/uploads"), sessionService.Config{
		DefaultTTL: time.Minute,
	})
	watcher := watchService.NewService(sessions, time.Second)
	return NewRouter(sessions, ingest.NewService(sessions, ingest.WithNotifier(watcher)), watcher, Config{
		Session: sessionHandler.Config{MaxUploadBytes: 1 << 20, DefaultTTL: time.Minute},
	})
}

func TestHealth(t *testing.T) {
	r := newTestRouter(session.NewMemoryStore())
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"status":"OK"`) {
		t.Fatalf("unexpected body: %s", resp.Body.String())
	}
}

func TestHealthReportsStoreFailure(t *testing.T) {
	r := newTestRouter(downStore{session.NewMemoryStore()})
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
}

func TestRouterServesSessionRoutes(t *testing.T) {
	r := newTestRouter(session.NewMemoryStore())

	create := httptest.NewRecorder()
	r.ServeHTTP(create, httptest.NewRequest(http.MethodPost, "/api/session", nil))
	if create.Code != http.StatusOK {
		t.Fatalf("create: expected 200, got %d", create.Code)
	}

	missing := httptest.NewRecorder()
	r.ServeHTTP(missing, httptest.NewRequest(http.MethodGet, "/no-such-session/status", nil))
	if missing.Code != http.StatusNotFound {
		t.Fatalf("status: expected 404, got %d", missing.Code)
	}
}

func TestRouterAnswersPreflight(t *testing.T) {
	r := newTestRouter(session.NewMemoryStore())
	req := httptest.NewRequest(http.MethodOptions, "/api/upload/abc", nil)
	req.Header.Set("Origin", "https://phone.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if resp.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatal("missing Access-Control-Allow-Origin")
	}
}
