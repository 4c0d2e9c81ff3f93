package session

import (
	"regexp"
	"time"
)

// Status is the derived lifecycle state of a session.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusCompleted, StatusExpired:
		return true
	}
	return false
}

// Session is the record shared by the creating device and its peer.
type Session struct {
	ID                string     `json:"sessionId"`
	CreatedAt         time.Time  `json:"createdAt"`
	ExpiresAt         *time.Time `json:"expiresAt"`
	Status            Status     `json:"status"`
	ConnectionCreated bool       `json:"connectionCreated"`
	Uploads           []Upload   `json:"uploads"`
	Messages          []Message  `json:"messages"`
}

// Upload describes one stored file. Filename is the name on disk.
type Upload struct {
	Filename     string    `json:"filename"`
	OriginalName string    `json:"originalName"`
	Size         int64     `json:"size"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

// Message is a free-text note sent by the peer.
type Message struct {
	Text   string    `json:"text"`
	SentAt time.Time `json:"sentAt"`
}

// IsExpired reports whether the deadline has passed at now.
func (s *Session) IsExpired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// Clone returns a deep copy so callers can't mutate store-owned slices.
func (s Session) Clone() Session {
	out := s
	if s.ExpiresAt != nil {
		t := *s.ExpiresAt
		out.ExpiresAt = &t
	}
	out.Uploads = append([]Upload(nil), s.Uploads...)
	out.Messages = append([]Message(nil), s.Messages...)
	if out.Uploads == nil {
		out.Uploads = []Upload{}
	}
	if out.Messages == nil {
		out.Messages = []Message{}
	}
	return out
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidID reports whether id is safe to use as a directory name.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}
