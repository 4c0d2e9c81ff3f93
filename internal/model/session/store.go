package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists session records. Mutations are field-level so an upload
// append never races a message append into a lost update.
type Store interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	// AppendUpload records a stored file and moves the session to completed.
	// A record with the same filename is overwritten in place. It returns
	// ErrExpired once the session has been expired.
	AppendUpload(ctx context.Context, id string, u Upload) error
	AppendMessage(ctx context.Context, id string, m Message) error
	// SyncUploads applies MergeUploads to the current record in one atomic
	// step and moves a waiting session with uploads to completed. It
	// reports whether the record changed and is a no-op once expired.
	SyncUploads(ctx context.Context, id string, listed []Upload, listedAt time.Time) (bool, error)
	// MarkExpired sets status to expired and empties the upload list.
	MarkExpired(ctx context.Context, id string) error
	// MarkConnected latches the peer-connected flag and reports whether
	// this call was the one that flipped it.
	MarkConnected(ctx context.Context, id string) (bool, error)
	// ListExpired returns ids whose deadline is before now and whose status
	// has not been moved to expired yet.
	ListExpired(ctx context.Context, now time.Time) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// MemoryStore implements Store in process memory, suitable for tests and
// single-instance development runs.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Session
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Session)}
}

func (m *MemoryStore) Create(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[s.ID]; ok {
		return ErrAlreadyExists
	}
	m.items[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.items[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) AppendUpload(_ context.Context, id string, u Upload) error {
	return m.update(id, func(s *Session) error {
		if s.Status == StatusExpired {
			return ErrExpired
		}
		s.Uploads = UpsertUpload(s.Uploads, u)
		s.Status = StatusCompleted
		return nil
	})
}

func (m *MemoryStore) AppendMessage(_ context.Context, id string, msg Message) error {
	return m.update(id, func(s *Session) error {
		s.Messages = append(s.Messages, msg)
		return nil
	})
}

func (m *MemoryStore) SyncUploads(_ context.Context, id string, listed []Upload, listedAt time.Time) (bool, error) {
	changed := false
	err := m.update(id, func(s *Session) error {
		if s.Status == StatusExpired {
			return nil
		}
		s.Uploads, changed = MergeUploads(s.Uploads, listed, listedAt)
		if len(s.Uploads) > 0 && s.Status == StatusWaiting {
			s.Status = StatusCompleted
			changed = true
		}
		return nil
	})
	return changed, err
}

func (m *MemoryStore) MarkExpired(_ context.Context, id string) error {
	return m.update(id, func(s *Session) error {
		s.Status = StatusExpired
		s.Uploads = []Upload{}
		return nil
	})
}

func (m *MemoryStore) MarkConnected(_ context.Context, id string) (bool, error) {
	flipped := false
	err := m.update(id, func(s *Session) error {
		if !s.ConnectionCreated {
			s.ConnectionCreated = true
			flipped = true
		}
		return nil
	})
	return flipped, err
}

func (m *MemoryStore) ListExpired(_ context.Context, now time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, s := range m.items {
		if s.Status != StatusExpired && s.IsExpired(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) update(id string, fn func(*Session) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	if err := fn(&s); err != nil {
		return err
	}
	m.items[id] = s
	return nil
}
