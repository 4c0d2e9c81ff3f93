// Package watch streams status snapshots of a session to live clients.
package watch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/SakshamManav/File-Synchronization/backend/internal/model/session"
	sessionsvc "github.com/SakshamManav/File-Synchronization/backend/internal/service/session"
)

// DefaultInterval is how often a stream re-reads its session without a nudge.
const DefaultInterval = 2 * time.Second

// Service fans status snapshots out to watchers. Notify wakes the watchers of
// one session early; otherwise each stream re-reads on its own ticker.
type Service struct {
	sessions *sessionsvc.Service
	interval time.Duration

	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

// NewService returns a watch service. interval <= 0 uses DefaultInterval.
func NewService(sessions *sessionsvc.Service, interval time.Duration) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Service{
		sessions: sessions,
		interval: interval,
		subs:     make(map[string]map[chan struct{}]struct{}),
	}
}

// Notify wakes every watcher of sessionID. It never blocks.
func (s *Service) Notify(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs[sessionID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Watchers returns the number of open streams for sessionID.
func (s *Service) Watchers(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[sessionID])
}

// Watch performs the initial status read (latching the peer connection
// when isPeerRead) and then streams a snapshot every time the session
// changes. The channel closes after an expired snapshot, when the session
// disappears, or when ctx is done.
func (s *Service) Watch(ctx context.Context, sessionID string, isPeerRead bool) (<-chan session.Session, error) {
	first, err := s.sessions.Status(ctx, sessionID, isPeerRead)
	if err != nil {
		return nil, err
	}

	out := make(chan session.Session, 1)
	out <- first
	if first.Status == session.StatusExpired {
		close(out)
		return out, nil
	}

	nudge := s.subscribe(sessionID)
	go func() {
		defer close(out)
		defer s.unsubscribe(sessionID, nudge)
		s.loop(ctx, sessionID, fingerprint(first), nudge, out)
	}()
	return out, nil
}

func (s *Service) loop(ctx context.Context, sessionID string, last []byte, nudge <-chan struct{}, out chan<- session.Session) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-nudge:
		}

		sess, err := s.sessions.Reconcile(ctx, sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, session.ErrNotFound) {
				log.Info().Str("session_id", sessionID).Msg("watched session disappeared")
				return
			}
			log.Warn().Err(err).Str("session_id", sessionID).Msg("watch reconcile failed")
			continue
		}

		fp := fingerprint(sess)
		if bytes.Equal(fp, last) {
			continue
		}
		last = fp

		select {
		case out <- sess:
		case <-ctx.Done():
			return
		}
		if sess.Status == session.StatusExpired {
			return
		}
	}
}

func (s *Service) subscribe(sessionID string) chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.subs[sessionID]
	if !ok {
		set = make(map[chan struct{}]struct{})
		s.subs[sessionID] = set
	}
	set[ch] = struct{}{}
	return ch
}

func (s *Service) unsubscribe(sessionID string, ch chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.subs[sessionID]
	delete(set, ch)
	if len(set) == 0 {
		delete(s.subs, sessionID)
	}
}

func fingerprint(sess session.Session) []byte {
	data, err := json.Marshal(sess)
	if err != nil {
		return nil
	}
	return data
}
