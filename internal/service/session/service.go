package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/SakshamManav/File-Synchronization/backend/internal/mirror"
	"github.com/SakshamManav/File-Synchronization/backend/internal/model/session"
)

const createAttempts = 3

// Config tunes the lifecycle manager.
type Config struct {
	// DefaultTTL applies to sessions synthesized from files found on disk.
	DefaultTTL time.Duration
	// CreatorOrigins are Origin prefixes of the session creator's own client.
	CreatorOrigins []string
	// CreatorUserAgents are lower-case User-Agent fragments of that client.
	CreatorUserAgents []string
	// Clock overrides time.Now, mostly for tests.
	Clock func() time.Time
}

// Service owns the session lifecycle: creation, reconciliation against the
// filesystem mirror, expiry and the peer-connected latch.
type Service struct {
	store  session.Store
	mirror *mirror.Mirror
	cfg    Config
	now    func() time.Time
	newID  func() string
}

// NewService wires the lifecycle manager to its store and mirror.
func NewService(store session.Store, m *mirror.Mirror, cfg Config) *Service {
	now := cfg.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		store:  store,
		mirror: m,
		cfg:    cfg,
		now:    now,
		newID:  uuid.NewString,
	}
}

// Now returns the service clock's current time.
func (s *Service) Now() time.Time { return s.now() }

// Store exposes the underlying session store.
func (s *Service) Store() session.Store { return s.store }

// Mirror exposes the filesystem mirror.
func (s *Service) Mirror() *mirror.Mirror { return s.mirror }

// Create provisions a waiting session. A ttl of zero or less means the
// session never expires.
func (s *Service) Create(ctx context.Context, ttl time.Duration) (session.Session, error) {
	now := s.now()
	sess := session.Session{
		CreatedAt: now,
		Status:    session.StatusWaiting,
		Uploads:   []session.Upload{},
		Messages:  []session.Message{},
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		sess.ExpiresAt = &exp
	}

	var err error
	for attempt := 0; attempt < createAttempts; attempt++ {
		sess.ID = s.newID()
		err = s.store.Create(ctx, sess)
		if !errors.Is(err, session.ErrAlreadyExists) {
			break
		}
	}
	if err != nil {
		return session.Session{}, storageErr("create session", err)
	}

	log.Info().
		Str("session_id", sess.ID).
		Dur("ttl", ttl).
		Msg("session created")
	return sess, nil
}

// Reconcile loads a session and brings it in line with the clock and the
// filesystem mirror. It is the read path behind every status query.
//
// Expired sessions are purged here, eagerly: a read never reports expired
// with files still listed.
func (s *Service) Reconcile(ctx context.Context, id string) (session.Session, error) {
	if !session.ValidID(id) {
		return session.Session{}, fmt.Errorf("%w: invalid session id", session.ErrValidation)
	}

	sess, err := s.store.Get(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		sess, err = s.recover(ctx, id)
	}
	if err != nil {
		return session.Session{}, storageErr("load session", err)
	}

	if sess.Status == session.StatusExpired || sess.IsExpired(s.now()) {
		if err := s.purge(ctx, &sess); err != nil && !errors.Is(err, session.ErrStorage) {
			return session.Session{}, err
		}
		return sess, nil
	}

	listedAt := s.now()
	entries, err := s.mirror.List(id)
	if err != nil {
		return session.Session{}, storageErr("list uploads", err)
	}
	listed := listedUploads(entries)
	if _, diff := session.MergeUploads(sess.Uploads, listed, listedAt); !diff {
		return sess, nil
	}

	changed, err := s.store.SyncUploads(ctx, id, listed, listedAt)
	if err != nil {
		return session.Session{}, storageErr("sync uploads", err)
	}
	synced, err := s.store.Get(ctx, id)
	if err != nil {
		return session.Session{}, storageErr("load session", err)
	}

	if changed {
		log.Info().
			Str("session_id", id).
			Int("recorded", len(sess.Uploads)).
			Int("on_disk", len(entries)).
			Int("uploads", len(synced.Uploads)).
			Msg("uploads reconciled")
	}
	return synced, nil
}

// recover synthesizes a record for a session whose files exist on disk but
// whose record is missing.
func (s *Service) recover(ctx context.Context, id string) (session.Session, error) {
	now := s.now()
	entries, err := s.mirror.List(id)
	if err != nil {
		return session.Session{}, err
	}
	if len(entries) == 0 {
		return session.Session{}, session.ErrNotFound
	}

	sess := session.Session{
		ID:        id,
		CreatedAt: now,
		Status:    session.StatusCompleted,
		Messages:  []session.Message{},
	}
	if s.cfg.DefaultTTL > 0 {
		exp := now.Add(s.cfg.DefaultTTL)
		sess.ExpiresAt = &exp
	}
	if err := s.store.Create(ctx, sess); err != nil && !errors.Is(err, session.ErrAlreadyExists) {
		return session.Session{}, err
	}

	if _, err := s.store.SyncUploads(ctx, id, listedUploads(entries), now); err != nil {
		return session.Session{}, err
	}

	log.Warn().
		Str("session_id", id).
		Int("files", len(entries)).
		Msg("session recovered from disk")

	return s.store.Get(ctx, id)
}

// MarkConnected latches connectionCreated the first time a peer reads the
// session. Reads attributed to the creator never flip it.
func (s *Service) MarkConnected(ctx context.Context, id string, isPeerRead bool) (bool, error) {
	if !isPeerRead {
		return false, nil
	}
	flipped, err := s.store.MarkConnected(ctx, id)
	if err != nil {
		return false, storageErr("mark connected", err)
	}
	if flipped {
		log.Info().Str("session_id", id).Msg("peer connected")
	}
	return flipped, nil
}

// Status is the polling read: reconcile, then latch the peer connection.
func (s *Service) Status(ctx context.Context, id string, isPeerRead bool) (session.Session, error) {
	sess, err := s.Reconcile(ctx, id)
	if err != nil {
		return session.Session{}, err
	}
	if isPeerRead && !sess.ConnectionCreated {
		if _, err := s.MarkConnected(ctx, id, true); err != nil {
			return session.Session{}, err
		}
		sess.ConnectionCreated = true
	}
	return sess, nil
}

// PurgeExpired deletes the session's files, empties its upload list and
// marks it expired. Purging an already purged session is a no-op.
func (s *Service) PurgeExpired(ctx context.Context, id string) error {
	if !session.ValidID(id) {
		return fmt.Errorf("%w: invalid session id", session.ErrValidation)
	}
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return storageErr("load session", err)
	}
	return s.purge(ctx, &sess)
}

func (s *Service) purge(ctx context.Context, sess *session.Session) error {
	purgeErr := s.mirror.Purge(sess.ID)
	if purgeErr != nil {
		log.Error().Err(purgeErr).Str("session_id", sess.ID).Msg("failed to remove session files")
	}

	if sess.Status != session.StatusExpired || len(sess.Uploads) > 0 {
		if err := s.store.MarkExpired(ctx, sess.ID); err != nil {
			return storageErr("mark expired", err)
		}
		log.Info().
			Str("session_id", sess.ID).
			Int("purged_uploads", len(sess.Uploads)).
			Msg("session expired")
	}

	sess.Status = session.StatusExpired
	sess.Uploads = []session.Upload{}
	if purgeErr != nil {
		return fmt.Errorf("purge files: %w: %w", session.ErrStorage, purgeErr)
	}
	return nil
}

// SweepExpired purges every session whose deadline has passed and returns
// how many were handled. Reads already self-heal, so this is hygiene only.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	ids, err := s.store.ListExpired(ctx, s.now())
	if err != nil {
		return 0, storageErr("list expired", err)
	}
	purged := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		if err := s.PurgeExpired(ctx, id); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("sweep failed to purge session")
			continue
		}
		purged++
	}
	return purged, nil
}

// IsPeerRequest applies the best-effort origin heuristic: a request from the
// creator's own client context is not evidence that the peer connected.
// It is not authentication.
func (s *Service) IsPeerRequest(origin, userAgent, role string) bool {
	if strings.EqualFold(strings.TrimSpace(role), RoleCreator) {
		return false
	}
	origin = strings.TrimSpace(origin)
	for _, prefix := range s.cfg.CreatorOrigins {
		if prefix != "" && strings.HasPrefix(origin, prefix) {
			return false
		}
	}
	ua := strings.ToLower(userAgent)
	for _, marker := range s.cfg.CreatorUserAgents {
		if marker != "" && strings.Contains(ua, strings.ToLower(marker)) {
			return false
		}
	}
	return true
}

// RoleCreator is the X-Client-Role value sent by the creator's own clients.
const RoleCreator = "creator"

func storageErr(op string, err error) error {
	switch {
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrExpired),
		errors.Is(err, session.ErrValidation),
		errors.Is(err, session.ErrAlreadyExists),
		errors.Is(err, session.ErrStorage),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, session.ErrStorage, err)
}
