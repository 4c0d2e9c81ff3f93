// Package ingest accepts files and text messages sent by the peer device.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/SakshamManav/File-Synchronization/backend/internal/model/session"
	sessionsvc "github.com/SakshamManav/File-Synchronization/backend/internal/service/session"
)

// DefaultMaxMessageLen caps a message in runes.
const DefaultMaxMessageLen = 10000

// Notifier is told when a session changed so live watchers refresh early.
type Notifier interface {
	Notify(sessionID string)
}

// Service writes uploads through the mirror and records them in the store.
type Service struct {
	sessions      *sessionsvc.Service
	notifier      Notifier
	maxMessageLen int
}

// Option customizes a Service.
type Option func(*Service)

// WithNotifier registers a change notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithMaxMessageLen overrides DefaultMaxMessageLen.
func WithMaxMessageLen(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxMessageLen = n
		}
	}
}

// NewService builds an ingest service on top of the lifecycle manager.
func NewService(sessions *sessionsvc.Service, opts ...Option) *Service {
	s := &Service{
		sessions:      sessions,
		maxMessageLen: DefaultMaxMessageLen,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Accept stores one uploaded file for the session. The bytes are on disk
// under a unique name before the upload is recorded.
func (s *Service) Accept(ctx context.Context, sessionID string, r io.Reader, originalName string) (session.Upload, error) {
	if _, err := s.writable(ctx, sessionID); err != nil {
		return session.Upload{}, err
	}

	m := s.sessions.Mirror()
	stored, size, err := m.Write(sessionID, originalName, r)
	if err != nil {
		return session.Upload{}, fmt.Errorf("store upload: %w: %w", session.ErrStorage, err)
	}

	upload := session.Upload{
		Filename:     stored,
		OriginalName: displayName(originalName, stored),
		Size:         size,
		UploadedAt:   s.sessions.Now(),
	}
	if err := s.sessions.Store().AppendUpload(ctx, sessionID, upload); err != nil {
		// The session expired or vanished while bytes were streaming.
		if rmErr := m.Remove(sessionID, stored); rmErr != nil {
			log.Error().Err(rmErr).Str("session_id", sessionID).Str("file", stored).Msg("failed to remove orphaned upload")
		}
		if errors.Is(err, session.ErrExpired) || errors.Is(err, session.ErrNotFound) {
			return session.Upload{}, err
		}
		return session.Upload{}, fmt.Errorf("record upload: %w: %w", session.ErrStorage, err)
	}

	log.Info().
		Str("session_id", sessionID).
		Str("file", stored).
		Int64("size", size).
		Msg("upload stored")

	s.notify(sessionID)
	return upload, nil
}

// AcceptMessage appends a trimmed, non-empty text message.
func (s *Service) AcceptMessage(ctx context.Context, sessionID, text string) (session.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return session.Message{}, fmt.Errorf("%w: message text is required", session.ErrValidation)
	}
	if !utf8.ValidString(text) {
		return session.Message{}, fmt.Errorf("%w: message text must be valid UTF-8", session.ErrValidation)
	}
	if utf8.RuneCountInString(text) > s.maxMessageLen {
		return session.Message{}, fmt.Errorf("%w: message exceeds %d characters", session.ErrValidation, s.maxMessageLen)
	}

	if _, err := s.writable(ctx, sessionID); err != nil {
		return session.Message{}, err
	}

	msg := session.Message{Text: text, SentAt: s.sessions.Now()}
	if err := s.sessions.Store().AppendMessage(ctx, sessionID, msg); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return session.Message{}, err
		}
		return session.Message{}, fmt.Errorf("record message: %w: %w", session.ErrStorage, err)
	}

	log.Info().
		Str("session_id", sessionID).
		Int("length", len(text)).
		Msg("message stored")

	s.notify(sessionID)
	return msg, nil
}

// writable checks the session exists and still accepts content. A session
// past its deadline is purged on the spot.
func (s *Service) writable(ctx context.Context, sessionID string) (session.Session, error) {
	if !session.ValidID(sessionID) {
		return session.Session{}, fmt.Errorf("%w: invalid session id", session.ErrValidation)
	}
	sess, err := s.sessions.Store().Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return session.Session{}, err
		}
		return session.Session{}, fmt.Errorf("load session: %w: %w", session.ErrStorage, err)
	}
	if sess.Status == session.StatusExpired {
		return session.Session{}, session.ErrExpired
	}
	if sess.IsExpired(s.sessions.Now()) {
		if err := s.sessions.PurgeExpired(ctx, sessionID); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("purge on late upload failed")
		}
		return session.Session{}, session.ErrExpired
	}
	return sess, nil
}

func (s *Service) notify(sessionID string) {
	if s.notifier != nil {
		s.notifier.Notify(sessionID)
	}
}

func displayName(originalName, stored string) string {
	name := strings.TrimSpace(originalName)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return stored
	}
	return name
}
