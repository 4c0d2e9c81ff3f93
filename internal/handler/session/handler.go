package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/SakshamManav/File-Synchronization/backend/internal/handler/respond"
	"github.com/SakshamManav/File-Synchronization/backend/internal/model/session"
	"github.com/SakshamManav/File-Synchronization/backend/internal/qr"
	"github.com/SakshamManav/File-Synchronization/backend/internal/service/ingest"
	sessionService "github.com/SakshamManav/File-Synchronization/backend/internal/service/session"
	"github.com/SakshamManav/File-Synchronization/backend/pkg/api"
	"github.com/SakshamManav/File-Synchronization/backend/pkg/utils"
)

const maxJSONBody = 64 << 10

// Config holds the HTTP-facing settings of the session endpoints.
type Config struct {
	PublicBaseURL  string
	MaxUploadBytes int64
	DefaultTTL     time.Duration
}

// Handler serves session creation, uploads, messages, status and downloads.
type Handler struct {
	sessions *sessionService.Service
	ingest   *ingest.Service
	cfg      Config
}

// New creates the session handler.
func New(sessions *sessionService.Service, ingestSvc *ingest.Service, cfg Config) *Handler {
	return &Handler{sessions: sessions, ingest: ingestSvc, cfg: cfg}
}

// RegisterRoutes mounts the session routes at the root of r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Post("/api/session", h.handleCreate)
	r.Post("/api/upload/{sessionID}", h.handleUpload)
	r.Post("/api/message/{sessionID}", h.handleMessage)
	r.Post("/{sessionID}", h.handlePost)

	r.Get("/{sessionID}/status", h.handleStatus)
	r.Get("/session/{sessionID}/status", h.handleStatus)
	r.Get("/{sessionID}/qr.png", h.handleQR)

	r.Get("/downloads/{sessionID}", h.handleDownloadsPage)
	r.Get("/{sessionID}", h.handleDownloadsPage)
	r.Get("/download/{sessionID}/{filename}", h.handleDownload)
	r.Get("/preview/{sessionID}/{filename}", h.handlePreview)
}

// handleCreate starts a new session.
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload api.CreateSessionRequest
	if r.ContentLength != 0 {
		dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
		if err := dec.Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	ttl := h.cfg.DefaultTTL
	if payload.TTLSeconds != nil {
		if *payload.TTLSeconds < 0 {
			utils.RespondError(w, http.StatusBadRequest, "ttlSeconds must not be negative")
			return
		}
		ttl = time.Duration(*payload.TTLSeconds) * time.Second
	}

	sess, err := h.sessions.Create(r.Context(), ttl)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	base := respond.BaseURL(r, h.cfg.PublicBaseURL)
	utils.RespondJSON(w, http.StatusOK, api.CreateSessionResponse{
		SessionID:    sess.ID,
		UploadURL:    base + "/api/upload/" + sess.ID,
		StatusURL:    statusURL(base, sess.ID),
		DownloadsURL: base + "/downloads/" + sess.ID,
		QRURL:        base + "/" + sess.ID + "/qr.png",
		ExpiresAt:    sess.ExpiresAt,
	})
}

// handlePost accepts either an upload or a message on the bare session path,
// depending on the request's content type.
func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		h.handleUpload(w, r)
		return
	}
	h.handleMessage(w, r)
}

// handleUpload streams the first file part named "file" into the session.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if h.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "multipart form with a file field is required")
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				respond.Error(w, r, err)
				return
			}
			utils.RespondError(w, http.StatusBadRequest, "malformed multipart body")
			return
		}
		if part.FormName() != "file" || part.FileName() == "" {
			_ = part.Close()
			continue
		}

		upload, err := h.ingest.Accept(r.Context(), sessionID, part, part.FileName())
		_ = part.Close()
		if err != nil {
			respond.Error(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, api.UploadResponse{
			Success:  true,
			File:     upload.OriginalName,
			Filename: upload.Filename,
			Size:     upload.Size,
			SavedTo:  respond.DownloadPath(sessionID, upload.Filename),
		})
		return
	}

	respond.Error(w, r, fmt.Errorf("%w: no file uploaded", session.ErrValidation))
}

// handleMessage appends a text message. JSON and form bodies are accepted.
func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var payload api.MessageRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded":
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		if err := r.ParseForm(); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		payload.Text = r.PostForm.Get("text")
	default:
		if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&payload); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if _, err := h.ingest.AcceptMessage(r.Context(), sessionID, payload.Text); err != nil {
		respond.Error(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, api.SuccessResponse{Success: true})
}

// handleStatus is the polling read used by both devices.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	sess, err := h.sessions.Status(r.Context(), sessionID, respond.IsPeer(h.sessions, r))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	utils.RespondJSON(w, http.StatusOK, respond.Status(sess))
}

// handleQR renders the status URL of a live session as a PNG.
func (h *Handler) handleQR(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	sess, err := h.sessions.Reconcile(r.Context(), sessionID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if sess.Status == session.StatusExpired {
		respond.Error(w, r, session.ErrExpired)
		return
	}

	size := 0
	if raw := r.URL.Query().Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, "size must be an integer")
			return
		}
		size = n
	}

	png, err := qr.PNG(statusURL(respond.BaseURL(r, h.cfg.PublicBaseURL), sessionID), size)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=300")
	if _, err := w.Write(png); err != nil {
		log.Debug().Err(err).Str("session_id", sessionID).Msg("qr write aborted")
	}
}

func statusURL(base, sessionID string) string {
	return base + "/session/" + sessionID + "/status"
}

// contentKind buckets a file by extension for the preview widget.
func contentKind(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(extOf(name), "."))
	switch ext {
	case "jpg", "jpeg", "png", "gif", "bmp", "webp", "svg":
		return "image"
	case "mp4", "webm", "ogg", "mov":
		return "video"
	case "mp3", "wav", "m4a", "aac", "flac":
		return "audio"
	case "pdf":
		return "pdf"
	}
	return "other"
}

func extOf(name string) string {
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[i:]
	}
	return ""
}
