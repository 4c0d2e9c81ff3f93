package session

import (
	"bytes"
	"embed"
	"errors"
	"html/template"
	"io/fs"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/SakshamManav/File-Synchronization/backend/internal/handler/respond"
	"github.com/SakshamManav/File-Synchronization/backend/internal/mirror"
	"github.com/SakshamManav/File-Synchronization/backend/internal/model/session"
	"github.com/SakshamManav/File-Synchronization/backend/pkg/utils"
)

//go:embed templates/downloads.html
var templateFS embed.FS

var downloadsTmpl = template.Must(template.ParseFS(templateFS, "templates/downloads.html"))

type pageFile struct {
	OriginalName string
	Size         string
	UploadedAgo  string
	URL          string
	PreviewURL   string
	Kind         string
	Ext          string
}

type pageMessage struct {
	Text    string
	SentAgo string
}

type downloadsPage struct {
	SessionID   string
	Status      string
	Expired     bool
	ExpiresIn   string
	QRURL       string
	StatusURL   string
	Fingerprint string
	Files       []pageFile
	Messages    []pageMessage
}

// handleDownloadsPage renders the creator's view of a session. Rendering an
// expired session purges it.
func (h *Handler) handleDownloadsPage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	sess, err := h.sessions.Reconcile(r.Context(), sessionID)
	if err != nil {
		status := respond.StatusFor(err)
		if status == http.StatusInternalServerError {
			log.Error().Err(err).Str("session_id", sessionID).Msg("downloads page failed")
		}
		writeHTML(w, status, "<h1>"+template.HTMLEscapeString(http.StatusText(status))+"</h1>")
		return
	}

	if sess.Status == session.StatusExpired {
		if err := h.sessions.PurgeExpired(r.Context(), sessionID); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("purge on page render failed")
		}
	}

	page := buildPage(sess, h.sessions.Now())
	var buf bytes.Buffer
	if err := downloadsTmpl.Execute(&buf, page); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("render downloads page")
		writeHTML(w, http.StatusInternalServerError, "<h1>Internal Server Error</h1>")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeHTML(w, http.StatusOK, buf.String())
}

func buildPage(sess session.Session, now time.Time) downloadsPage {
	page := downloadsPage{
		SessionID:   sess.ID,
		Status:      string(sess.Status),
		Expired:     sess.Status == session.StatusExpired,
		QRURL:       "/" + sess.ID + "/qr.png",
		StatusURL:   "/" + sess.ID + "/status",
		Fingerprint: string(sess.Status) + "|" + strconv.Itoa(len(sess.Uploads)) + "|" + strconv.Itoa(len(sess.Messages)),
	}
	if sess.ExpiresAt != nil && !page.Expired {
		page.ExpiresIn = humanize.RelTime(*sess.ExpiresAt, now, "ago", "from now")
	}
	if page.Expired {
		return page
	}
	for _, u := range sess.Uploads {
		page.Files = append(page.Files, pageFile{
			OriginalName: u.OriginalName,
			Size:         humanize.Bytes(uint64(max(u.Size, 0))),
			UploadedAgo:  humanize.RelTime(u.UploadedAt, now, "ago", "from now"),
			URL:          respond.DownloadPath(sess.ID, u.Filename),
			PreviewURL:   respond.PreviewPath(sess.ID, u.Filename),
			Kind:         contentKind(u.Filename),
			Ext:          extOf(u.Filename),
		})
	}
	for _, m := range sess.Messages {
		page.Messages = append(page.Messages, pageMessage{
			Text:    m.Text,
			SentAgo: humanize.RelTime(m.SentAt, now, "ago", "from now"),
		})
	}
	return page
}

// handleDownload serves a stored file as an attachment.
func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	h.serveFile(w, r, "attachment")
}

// handlePreview serves a stored file inline.
func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	h.serveFile(w, r, "inline")
}

func (h *Handler) serveFile(w http.ResponseWriter, r *http.Request, disposition string) {
	sessionID := chi.URLParam(r, "sessionID")
	filename := chi.URLParam(r, "filename")

	sess, err := h.sessions.Reconcile(r.Context(), sessionID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if sess.Status == session.StatusExpired {
		respond.Error(w, r, session.ErrExpired)
		return
	}

	f, info, err := h.sessions.Mirror().Open(sessionID, filename)
	switch {
	case errors.Is(err, mirror.ErrInvalidName):
		utils.RespondError(w, http.StatusBadRequest, "invalid file name")
		return
	case errors.Is(err, fs.ErrNotExist):
		utils.RespondError(w, http.StatusNotFound, "file not found")
		return
	case err != nil:
		respond.Error(w, r, err)
		return
	}
	defer f.Close()

	name := filename
	for _, u := range sess.Uploads {
		if u.Filename == filename && u.OriginalName != "" {
			name = u.OriginalName
			break
		}
	}

	header := w.Header()
	header.Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": name}))
	header.Set("X-Content-Type-Options", "nosniff")
	if disposition == "inline" {
		// Previews never run scripts from uploaded content.
		header.Set("Content-Security-Policy", "sandbox; default-src 'none'; img-src 'self'; media-src 'self'; style-src 'unsafe-inline'")
	}
	http.ServeContent(w, r, filename, info.ModTime(), f)
}

func writeHTML(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
