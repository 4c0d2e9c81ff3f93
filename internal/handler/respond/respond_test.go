package respond

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/SakshamManav/File-Synchronization/backend/internal/model/session"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{session.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("load: %w", session.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: text is required", session.ErrValidation), http.StatusBadRequest},
		{session.ErrExpired, http.StatusGone},
		{fmt.Errorf("write: %w", &http.MaxBytesError{Limit: 10}), http.StatusRequestEntityTooLarge},
		{fmt.Errorf("disk: %w: %w", session.ErrStorage, errors.New("eio")), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFor(tc.err), tc.err.Error())
	}
}

func TestErrorBodies(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)

	rec := httptest.NewRecorder()
	Error(rec, req, fmt.Errorf("%w: message text is required", session.ErrValidation))
	assert.JSONEq(t, `{"error":"message text is required"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	Error(rec, req, fmt.Errorf("load session: %w", session.ErrNotFound))
	assert.JSONEq(t, `{"error":"session not found"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	Error(rec, req, fmt.Errorf("disk: %w: %w", session.ErrStorage, errors.New("/var/secret path")))
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestStatusView(t *testing.T) {
	now := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	view := Status(session.Session{
		ID:      "abc",
		Status:  session.StatusCompleted,
		Uploads: []session.Upload{{Filename: "my file_1.png", OriginalName: "my file.png", Size: 500, UploadedAt: now}},
	})
	assert.Equal(t, "completed", view.Status)
	assert.NotNil(t, view.Messages)
	if assert.Len(t, view.Uploads, 1) {
		assert.Equal(t, "/download/abc/my%20file_1.png", view.Uploads[0].URL)
		assert.Equal(t, "/preview/abc/my%20file_1.png", view.Uploads[0].PreviewURL)
	}
}

func TestBaseURL(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://10.0.0.5:8080/", nil)
	assert.Equal(t, "http://10.0.0.5:8080", BaseURL(req, ""))
	assert.Equal(t, "https://drop.example.com", BaseURL(req, "https://drop.example.com/"))

	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "drop.example.com")
	assert.Equal(t, "https://drop.example.com", BaseURL(req, ""))
}
