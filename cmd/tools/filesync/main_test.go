package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/SakshamManav/File-Synchronization/backend/internal/handler"
	sessionHandler "github.com/SakshamManav/File-Synchronization/backend/internal/handler/session"
	"github.com/SakshamManav/File-Synchronization/backend/internal/mirror"
	"github.com/SakshamManav/File-Synchronization/backend/internal/model/session"
	"github.com/SakshamManav/File-Synchronization/backend/internal/service/ingest"
	sessionService "github.com/SakshamManav/File-Synchronization/backend/internal/service/session"
	watchService "github.com/SakshamManav/File-Synchronization/backend/internal/service/watch"
	"github.com/SakshamManav/File-Synchronization/backend/pkg/api"
)

func startServer(t *testing.T) string {
	t.Helper()
	sessions := sessionService.NewService(session.NewMemoryStore(), mirror.New(afero.NewMemMapFs(), "/uploads"), sessionService.Config{
		DefaultTTL: 10 * time.Minute,
	})
	watcher := watchService.NewService(sessions, time.Second)
	srv := httptest.NewServer(handler.NewRouter(sessions, ingest.NewService(sessions), watcher, handler.Config{
		Session: sessionHandler.Config{MaxUploadBytes: 1 << 20, DefaultTTL: 10 * time.Minute},
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func runCLI(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", server}, args...))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func sessionIDFrom(t *testing.T, output string) string {
	t.Helper()
	for _, line := range strings.Split(output, "\n") {
		if rest, ok := strings.CutPrefix(line, "Session:"); ok {
			return strings.TrimSpace(rest)
		}
	}
	t.Fatalf("no session id in output:\n%s", output)
	return ""
}

func TestCLIRoundTrip(t *testing.T) {
	server := startServer(t)

	out, err := runCLI(t, server, "create", "--qr", "never")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := sessionIDFrom(t, out)
	if !strings.Contains(out, "/api/upload/"+id) {
		t.Fatalf("create output missing upload url:\n%s", out)
	}

	out, err = runCLI(t, server, "status", id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "Nothing received yet.") {
		t.Fatalf("unexpected status output:\n%s", out)
	}

	dir := t.TempDir()
	src := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(src, []byte("remember the milk"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	if out, err = runCLI(t, server, "upload", id, src); err != nil {
		t.Fatalf("upload: %v\n%s", err, out)
	}
	if out, err = runCLI(t, server, "message", id, "sent from the cli"); err != nil {
		t.Fatalf("message: %v", err)
	}

	out, err = runCLI(t, server, "watch", id)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	for _, want := range []string{"completed", "notes.txt", "sent from the cli"} {
		if !strings.Contains(out, want) {
			t.Fatalf("watch output missing %q:\n%s", want, out)
		}
	}

	dst := filepath.Join(dir, "copy.txt")
	if out, err = runCLI(t, server, "download", id, "notes.txt", "-o", dst); err != nil {
		t.Fatalf("download: %v\n%s", err, out)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read download: %v", err)
	}
	if string(data) != "remember the milk" {
		t.Fatalf("unexpected download content %q", data)
	}
}

func TestCLIUnknownSession(t *testing.T) {
	server := startServer(t)
	if _, err := runCLI(t, server, "status", "missing"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected a 404 error, got %v", err)
	}
	if _, err := runCLI(t, server, "download", "missing", "a.txt"); err == nil {
		t.Fatal("expected an error for an unknown session")
	}
}

func TestCLICreateWithoutExpiry(t *testing.T) {
	server := startServer(t)
	out, err := runCLI(t, server, "create", "--ttl", "0", "--qr", "always")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.Contains(out, "Expires:   never") {
		t.Fatalf("expected no expiry:\n%s", out)
	}
	if strings.Count(out, "\n") < 10 {
		t.Fatalf("expected a QR code in the output:\n%s", out)
	}
}

func TestRenderStatusExpired(t *testing.T) {
	out := renderStatus(api.StatusResponse{SessionID: "abc", Status: api.StatusExpired}, time.Now())
	if !strings.Contains(out, "has ended") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestFindUpload(t *testing.T) {
	uploads := []api.UploadView{
		{Filename: "a_1.png", OriginalName: "a.png"},
		{Filename: "a.png", OriginalName: "other.png"},
	}
	got, ok := findUpload(uploads, "a.png")
	if !ok || got.OriginalName != "other.png" {
		t.Fatalf("stored name must win, got %+v", got)
	}
	got, ok = findUpload(uploads, "a.png ")
	if ok {
		t.Fatalf("unexpected match %+v", got)
	}
}
