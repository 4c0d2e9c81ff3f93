// Package respond converts domain values and errors into HTTP replies shared
// by every handler.
package respond

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/SakshamManav/File-Synchronization/backend/internal/model/session"
	"github.com/SakshamManav/File-Synchronization/backend/pkg/api"
	"github.com/SakshamManav/File-Synchronization/backend/pkg/utils"
)

// StatusFor maps a service error to an HTTP status code.
func StatusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrExpired):
		return http.StatusGone
	}
	return http.StatusInternalServerError
}

// Error writes the JSON error reply for err. Internal failures are logged
// and reported with a generic message.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	switch status {
	case http.StatusInternalServerError:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		utils.RespondError(w, status, "internal server error")
	case http.StatusBadRequest:
		utils.RespondError(w, status, strings.TrimPrefix(err.Error(), session.ErrValidation.Error()+": "))
	case http.StatusRequestEntityTooLarge:
		utils.RespondError(w, status, "upload too large")
	default:
		utils.RespondError(w, status, rootMessage(err))
	}
}

func rootMessage(err error) string {
	for _, sentinel := range []error{session.ErrNotFound, session.ErrExpired} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

// DownloadPath is the attachment URL path of a stored file.
func DownloadPath(sessionID, filename string) string {
	return "/download/" + url.PathEscape(sessionID) + "/" + url.PathEscape(filename)
}

// PreviewPath is the inline URL path of a stored file.
func PreviewPath(sessionID, filename string) string {
	return "/preview/" + url.PathEscape(sessionID) + "/" + url.PathEscape(filename)
}

// Status builds the polling view of a session.
func Status(sess session.Session) api.StatusResponse {
	out := api.StatusResponse{
		SessionID:         sess.ID,
		Status:            string(sess.Status),
		ConnectionCreated: sess.ConnectionCreated,
		Uploads:           make([]api.UploadView, 0, len(sess.Uploads)),
		ExpiresAt:         sess.ExpiresAt,
		Messages:          make([]api.MessageView, 0, len(sess.Messages)),
	}
	for _, u := range sess.Uploads {
		out.Uploads = append(out.Uploads, api.UploadView{
			Filename:     u.Filename,
			OriginalName: u.OriginalName,
			Size:         u.Size,
			UploadedAt:   u.UploadedAt,
			URL:          DownloadPath(sess.ID, u.Filename),
			PreviewURL:   PreviewPath(sess.ID, u.Filename),
		})
	}
	for _, m := range sess.Messages {
		out.Messages = append(out.Messages, api.MessageView{Text: m.Text, SentAt: m.SentAt})
	}
	return out
}

// BaseURL returns the configured public base URL, or one derived from the
// request when none is configured.
func BaseURL(r *http.Request, configured string) string {
	if configured != "" {
		return strings.TrimRight(configured, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return scheme + "://" + host
}

// PeerClassifier applies the creator/peer heuristic.
type PeerClassifier interface {
	IsPeerRequest(origin, userAgent, role string) bool
}

// IsPeer reports whether r should count as the peer connecting.
func IsPeer(c PeerClassifier, r *http.Request) bool {
	return c.IsPeerRequest(r.Header.Get("Origin"), r.UserAgent(), r.Header.Get(api.HeaderClientRole))
}
