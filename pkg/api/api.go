// Package api holds the JSON shapes exchanged between the server and its
// clients.
package api

import "time"

// Session statuses as they appear on the wire.
const (
	StatusWaiting   = "waiting"
	StatusCompleted = "completed"
	StatusExpired   = "expired"
)

// HeaderClientRole marks requests sent by the session creator's own client.
const (
	HeaderClientRole = "X-Client-Role"
	RoleCreator      = "creator"
)

// CreateSessionRequest is the optional body of POST /. A missing TTLSeconds
// uses the server default; zero means the session never expires.
type CreateSessionRequest struct {
	TTLSeconds *int64 `json:"ttlSeconds,omitempty"`
}

// CreateSessionResponse is returned by POST /.
type CreateSessionResponse struct {
	SessionID    string     `json:"sessionId"`
	UploadURL    string     `json:"uploadUrl"`
	StatusURL    string     `json:"statusUrl"`
	DownloadsURL string     `json:"downloadsUrl"`
	QRURL        string     `json:"qrUrl"`
	ExpiresAt    *time.Time `json:"expiresAt"`
}

// StatusResponse is the polling read of a session.
type StatusResponse struct {
	SessionID         string        `json:"sessionId"`
	Status            string        `json:"status"`
	ConnectionCreated bool          `json:"connectionCreated"`
	Uploads           []UploadView  `json:"uploads"`
	ExpiresAt         *time.Time    `json:"expiresAt"`
	Messages          []MessageView `json:"messages"`
}

// Done reports whether the creator can stop polling and present results.
func (s StatusResponse) Done() bool {
	return len(s.Uploads) > 0 || s.Status == StatusCompleted
}

// Expired reports whether the session is over.
func (s StatusResponse) Expired() bool {
	return s.Status == StatusExpired
}

// UploadView is one stored file with its retrieval references.
type UploadView struct {
	Filename     string    `json:"filename"`
	OriginalName string    `json:"originalName"`
	Size         int64     `json:"size"`
	UploadedAt   time.Time `json:"uploadedAt"`
	URL          string    `json:"url"`
	PreviewURL   string    `json:"previewUrl"`
}

// MessageView is one text message.
type MessageView struct {
	Text   string    `json:"text"`
	SentAt time.Time `json:"sentAt"`
}

// UploadResponse is returned after a file was stored.
type UploadResponse struct {
	Success  bool   `json:"success"`
	File     string `json:"file"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	SavedTo  string `json:"savedTo"`
}

// MessageRequest is the body of a message post.
type MessageRequest struct {
	Text string `json:"text"`
}

// SuccessResponse acknowledges a write without further data.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}
