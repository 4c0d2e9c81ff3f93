// Package sqlitestore persists session records in SQLite.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/SakshamManav/File-Synchronization/backend/internal/model/session"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var pragmas = []string{
	"journal_mode(WAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
}

// Store implements session.Store on top of database/sql.
type Store struct {
	db  *sql.DB
	dsn string
}

var _ session.Store = (*Store)(nil)

// Open connects to the database at dsn, sizes the connection pool and
// applies migrations. An in-memory DSN is pinned to a single connection.
func Open(ctx context.Context, dsn string, poolSize int) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("sqlite dsn is empty")
	}

	db, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if poolSize < 1 {
		poolSize = 1
	}
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		poolSize = 1
	}
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize)

	store := &Store{db: db, dsn: dsn}
	if err := store.applyMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func withPragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	var b strings.Builder
	b.WriteString(dsn)
	for _, p := range pragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	// Write transactions take the write lock at BEGIN.
	if !strings.Contains(dsn, "_txlock=") {
		b.WriteString(sep)
		b.WriteString("_txlock=immediate")
	}
	return b.String()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Create(ctx context.Context, sess session.Session) error {
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO sessions (session_id, created_at, expires_at, status, connection_created)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT (session_id) DO NOTHING`,
		sess.ID,
		formatTime(sess.CreatedAt),
		nullableTime(sess.ExpiresAt),
		string(sess.Status),
		boolToInt(sess.ConnectionCreated),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return session.ErrAlreadyExists
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (session.Session, error) {
	var (
		sess      session.Session
		createdAt string
		expiresAt sql.NullString
		status    string
		connected int
	)
	row := s.db.QueryRowContext(
		ctx,
		`SELECT session_id, created_at, expires_at, status, connection_created
         FROM sessions WHERE session_id = ?`,
		id,
	)
	if err := row.Scan(&sess.ID, &createdAt, &expiresAt, &status, &connected); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Session{}, session.ErrNotFound
		}
		return session.Session{}, fmt.Errorf("get session: %w", err)
	}

	var err error
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return session.Session{}, err
	}
	if expiresAt.Valid {
		t, err := parseTime(expiresAt.String)
		if err != nil {
			return session.Session{}, err
		}
		sess.ExpiresAt = &t
	}
	sess.Status = session.Status(status)
	if !sess.Status.Valid() {
		return session.Session{}, fmt.Errorf("database contains invalid status %q", status)
	}
	sess.ConnectionCreated = connected != 0

	if sess.Uploads, err = loadUploads(ctx, s.db, id); err != nil {
		return session.Session{}, err
	}
	if sess.Messages, err = s.loadMessages(ctx, id); err != nil {
		return session.Session{}, err
	}
	return sess, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadUploads(ctx context.Context, q querier, id string) ([]session.Upload, error) {
	rows, err := q.QueryContext(
		ctx,
		`SELECT filename, original_name, size, uploaded_at FROM uploads
         WHERE session_id = ? ORDER BY id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("query uploads: %w", err)
	}
	defer rows.Close()

	uploads := []session.Upload{}
	for rows.Next() {
		var (
			u  session.Upload
			at string
		)
		if err := rows.Scan(&u.Filename, &u.OriginalName, &u.Size, &at); err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		if u.UploadedAt, err = parseTime(at); err != nil {
			return nil, err
		}
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

func (s *Store) loadMessages(ctx context.Context, id string) ([]session.Message, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT text, sent_at FROM messages WHERE session_id = ? ORDER BY id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []session.Message{}
	for rows.Next() {
		var (
			m  session.Message
			at string
		)
		if err := rows.Scan(&m.Text, &at); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if m.SentAt, err = parseTime(at); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *Store) AppendUpload(ctx context.Context, id string, u session.Upload) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		status, err := currentStatus(ctx, tx, id)
		if err != nil {
			return err
		}
		if status == session.StatusExpired {
			return session.ErrExpired
		}
		if err := insertUpload(ctx, tx, id, u); err != nil {
			return err
		}
		return setStatus(ctx, tx, id, session.StatusCompleted)
	})
}

func (s *Store) AppendMessage(ctx context.Context, id string, m session.Message) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := currentStatus(ctx, tx, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(
			ctx,
			`INSERT INTO messages (session_id, text, sent_at) VALUES (?, ?, ?)`,
			id, m.Text, formatTime(m.SentAt),
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
}

func (s *Store) SyncUploads(ctx context.Context, id string, listed []session.Upload, listedAt time.Time) (bool, error) {
	changed := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		status, err := currentStatus(ctx, tx, id)
		if err != nil {
			return err
		}
		if status == session.StatusExpired {
			return nil
		}
		recorded, err := loadUploads(ctx, tx, id)
		if err != nil {
			return err
		}
		merged, diff := session.MergeUploads(recorded, listed, listedAt)
		if diff {
			if _, err := tx.ExecContext(ctx, `DELETE FROM uploads WHERE session_id = ?`, id); err != nil {
				return fmt.Errorf("clear uploads: %w", err)
			}
			for _, u := range merged {
				if err := insertUpload(ctx, tx, id, u); err != nil {
					return err
				}
			}
			changed = true
		}
		if len(merged) > 0 && status == session.StatusWaiting {
			changed = true
			return setStatus(ctx, tx, id, session.StatusCompleted)
		}
		return nil
	})
	return changed, err
}

func (s *Store) MarkExpired(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := currentStatus(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM uploads WHERE session_id = ?`, id); err != nil {
			return fmt.Errorf("clear uploads: %w", err)
		}
		return setStatus(ctx, tx, id, session.StatusExpired)
	})
}

func (s *Store) MarkConnected(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE sessions SET connection_created = 1 WHERE session_id = ? AND connection_created = 0`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("mark connected: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE session_id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, session.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("check session: %w", err)
	}
	return false, nil
}

func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT session_id FROM sessions
         WHERE status != ? AND expires_at IS NOT NULL AND expires_at < ?
         ORDER BY session_id`,
		string(session.StatusExpired),
		formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func currentStatus(ctx context.Context, tx *sql.Tx, id string) (session.Status, error) {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE session_id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", session.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load status: %w", err)
	}
	return session.Status(status), nil
}

func setStatus(ctx context.Context, tx *sql.Tx, id string, status session.Status) error {
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET status = ? WHERE session_id = ?`, string(status), id); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

func insertUpload(ctx context.Context, tx *sql.Tx, id string, u session.Upload) error {
	_, err := tx.ExecContext(
		ctx,
		`INSERT INTO uploads (session_id, filename, original_name, size, uploaded_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT (session_id, filename) DO UPDATE SET
             original_name = excluded.original_name,
             size = excluded.size,
             uploaded_at = excluded.uploaded_at`,
		id, u.Filename, u.OriginalName, u.Size, formatTime(u.UploadedAt),
	)
	if err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return t, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
