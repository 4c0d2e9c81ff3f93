package redisstore

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/SakshamManav/File-Synchronization/backend/internal/model/session"
	"github.com/SakshamManav/File-Synchronization/backend/internal/model/session/sessiontest"
)

func testURL() string {
	if url := os.Getenv("REDIS_URL"); url != "" {
		return url
	}
	return "redis://localhost:6379/15"
}

func TestRedisStore(t *testing.T) {
	// Quick availability check so environments without Redis skip cleanly.
	conn, err := New(context.Background(), Options{URL: testURL()})
	if err != nil {
		t.Skipf("skipping redis store tests: %v", err)
		return
	}
	_ = conn.Close()

	sessiontest.RunStoreTests(t, func(t *testing.T) session.Store {
		s, err := New(context.Background(), Options{
			URL:       testURL(),
			KeyPrefix: "filesync-test:" + uuid.NewString() + ":",
		})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestKeyHelpers(t *testing.T) {
	s := &Store{keyPrefix: "p:"}
	if got := s.sessionKey("abc"); got != "p:session:abc" {
		t.Fatalf("sessionKey = %q", got)
	}
	if got := s.uploadsKey("abc"); got != "p:uploads:abc" {
		t.Fatalf("uploadsKey = %q", got)
	}
	if got := s.messagesKey("abc"); got != "p:messages:abc" {
		t.Fatalf("messagesKey = %q", got)
	}
	if got := s.expiryKey(); got != "p:expiry" {
		t.Fatalf("expiryKey = %q", got)
	}
}
