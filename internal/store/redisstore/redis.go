// Package redisstore persists session records in Redis. Each session is a
// hash plus two lists; a sorted set indexes deadlines for the sweep.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SakshamManav/File-Synchronization/backend/internal/model/session"
)

const (
	defaultPrefix = "filesync:"
	// syncRetries bounds optimistic retries when a watched key changes.
	syncRetries = 5
)

// Options configures the Redis connection.
type Options struct {
	// URL like "redis://localhost:6379/0".
	URL       string
	KeyPrefix string
	PoolSize  int
}

// Store implements session.Store on Redis.
type Store struct {
	client    *redis.Client
	keyPrefix string
}

var _ session.Store = (*Store)(nil)

// New connects and pings the server.
func New(ctx context.Context, opts Options) (*Store, error) {
	url := opts.URL
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.PoolSize > 0 {
		redisOpts.PoolSize = opts.PoolSize
	}
	cl := redis.NewClient(redisOpts)
	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: cl, keyPrefix: prefix}, nil
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

// --- Key helpers ---

func (s *Store) sessionKey(id string) string  { return s.keyPrefix + "session:" + id }
func (s *Store) uploadsKey(id string) string  { return s.keyPrefix + "uploads:" + id }
func (s *Store) messagesKey(id string) string { return s.keyPrefix + "messages:" + id }
func (s *Store) expiryKey() string            { return s.keyPrefix + "expiry" }

// Scripts return -1 when the session hash is missing.
var (
	createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], 'created_at', ARGV[1], 'expires_at', ARGV[2], 'status', ARGV[3], 'connection_created', ARGV[4])
if ARGV[2] ~= '' then redis.call('ZADD', KEYS[2], ARGV[5], ARGV[6]) end
return 1`)

	appendUploadScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if not st then return -1 end
if st == 'expired' then return -2 end
local replaced = false
for i, raw in ipairs(redis.call('LRANGE', KEYS[2], 0, -1)) do
  if cjson.decode(raw).filename == ARGV[2] then
    redis.call('LSET', KEYS[2], i - 1, ARGV[1])
    replaced = true
    break
  end
end
if not replaced then redis.call('RPUSH', KEYS[2], ARGV[1]) end
redis.call('HSET', KEYS[1], 'status', 'completed')
return 1`)

	appendMessageScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
redis.call('RPUSH', KEYS[2], ARGV[1])
return 1`)

	markExpiredScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
redis.call('HSET', KEYS[1], 'status', 'expired')
redis.call('DEL', KEYS[2])
redis.call('ZREM', KEYS[3], ARGV[1])
return 1`)

	markConnectedScript = redis.NewScript(`
local c = redis.call('HGET', KEYS[1], 'connection_created')
if not c then return -1 end
if c == '1' then return 0 end
redis.call('HSET', KEYS[1], 'connection_created', '1')
return 1`)
)

func (s *Store) Create(ctx context.Context, sess session.Session) error {
	expires := ""
	score := "0"
	if sess.ExpiresAt != nil {
		expires = formatTime(*sess.ExpiresAt)
		score = strconv.FormatInt(sess.ExpiresAt.UnixMilli(), 10)
	}
	connected := "0"
	if sess.ConnectionCreated {
		connected = "1"
	}
	res, err := createScript.Run(ctx, s.client,
		[]string{s.sessionKey(sess.ID), s.expiryKey()},
		formatTime(sess.CreatedAt), expires, string(sess.Status), connected, score, sess.ID,
	).Int()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if res == 0 {
		return session.ErrAlreadyExists
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (session.Session, error) {
	var (
		hash     *redis.MapStringStringCmd
		uploads  *redis.StringSliceCmd
		messages *redis.StringSliceCmd
	)
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		hash = p.HGetAll(ctx, s.sessionKey(id))
		uploads = p.LRange(ctx, s.uploadsKey(id), 0, -1)
		messages = p.LRange(ctx, s.messagesKey(id), 0, -1)
		return nil
	})
	if err != nil {
		return session.Session{}, fmt.Errorf("get session: %w", err)
	}

	fields := hash.Val()
	if len(fields) == 0 {
		return session.Session{}, session.ErrNotFound
	}

	sess := session.Session{
		ID:                id,
		Status:            session.Status(fields["status"]),
		ConnectionCreated: fields["connection_created"] == "1",
		Uploads:           []session.Upload{},
		Messages:          []session.Message{},
	}
	if !sess.Status.Valid() {
		return session.Session{}, fmt.Errorf("redis contains invalid status %q", fields["status"])
	}
	if sess.CreatedAt, err = parseTime(fields["created_at"]); err != nil {
		return session.Session{}, err
	}
	if raw := fields["expires_at"]; raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			return session.Session{}, err
		}
		sess.ExpiresAt = &t
	}

	if sess.Uploads, err = decodeUploads(uploads.Val()); err != nil {
		return session.Session{}, err
	}
	for _, raw := range messages.Val() {
		var m session.Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return session.Session{}, fmt.Errorf("decode message: %w", err)
		}
		sess.Messages = append(sess.Messages, m)
	}
	return sess, nil
}

func (s *Store) AppendUpload(ctx context.Context, id string, u session.Upload) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode upload: %w", err)
	}
	res, err := appendUploadScript.Run(ctx, s.client, []string{s.sessionKey(id), s.uploadsKey(id)}, data, u.Filename).Int()
	if err != nil {
		return fmt.Errorf("append upload: %w", err)
	}
	switch res {
	case -1:
		return session.ErrNotFound
	case -2:
		return session.ErrExpired
	}
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, id string, m session.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	res, err := appendMessageScript.Run(ctx, s.client, []string{s.sessionKey(id), s.messagesKey(id)}, data).Int()
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if res == -1 {
		return session.ErrNotFound
	}
	return nil
}

// SyncUploads runs the merge in a WATCH/MULTI transaction over the session
// hash and its upload list, retrying when either changes underneath.
func (s *Store) SyncUploads(ctx context.Context, id string, listed []session.Upload, listedAt time.Time) (bool, error) {
	sessionKey, uploadsKey := s.sessionKey(id), s.uploadsKey(id)

	var changed bool
	txf := func(tx *redis.Tx) error {
		changed = false
		status, err := tx.HGet(ctx, sessionKey, "status").Result()
		if errors.Is(err, redis.Nil) {
			return session.ErrNotFound
		}
		if err != nil {
			return err
		}
		if session.Status(status) == session.StatusExpired {
			return nil
		}
		raw, err := tx.LRange(ctx, uploadsKey, 0, -1).Result()
		if err != nil {
			return err
		}
		recorded, err := decodeUploads(raw)
		if err != nil {
			return err
		}

		merged, diff := session.MergeUploads(recorded, listed, listedAt)
		flip := len(merged) > 0 && session.Status(status) == session.StatusWaiting
		if !diff && !flip {
			return nil
		}
		encoded := make([]any, 0, len(merged))
		for _, u := range merged {
			data, err := json.Marshal(u)
			if err != nil {
				return fmt.Errorf("encode upload: %w", err)
			}
			encoded = append(encoded, data)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			if diff {
				p.Del(ctx, uploadsKey)
				if len(encoded) > 0 {
					p.RPush(ctx, uploadsKey, encoded...)
				}
			}
			if flip {
				p.HSet(ctx, sessionKey, "status", string(session.StatusCompleted))
			}
			return nil
		})
		if err != nil {
			return err
		}
		changed = true
		return nil
	}

	for i := 0; i < syncRetries; i++ {
		err := s.client.Watch(ctx, txf, sessionKey, uploadsKey)
		switch {
		case err == nil:
			return changed, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, session.ErrNotFound):
			return false, err
		default:
			return false, fmt.Errorf("sync uploads: %w", err)
		}
	}
	return false, fmt.Errorf("sync uploads: %w", redis.TxFailedErr)
}

func (s *Store) MarkExpired(ctx context.Context, id string) error {
	res, err := markExpiredScript.Run(ctx, s.client,
		[]string{s.sessionKey(id), s.uploadsKey(id), s.expiryKey()}, id,
	).Int()
	if err != nil {
		return fmt.Errorf("mark expired: %w", err)
	}
	if res == -1 {
		return session.ErrNotFound
	}
	return nil
}

func (s *Store) MarkConnected(ctx context.Context, id string) (bool, error) {
	res, err := markConnectedScript.Run(ctx, s.client, []string{s.sessionKey(id)}).Int()
	if err != nil {
		return false, fmt.Errorf("mark connected: %w", err)
	}
	if res == -1 {
		return false, session.ErrNotFound
	}
	return res == 1, nil
}

func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func decodeUploads(raw []string) ([]session.Upload, error) {
	uploads := make([]session.Upload, 0, len(raw))
	for _, item := range raw {
		var u session.Upload
		if err := json.Unmarshal([]byte(item), &u); err != nil {
			return nil, fmt.Errorf("decode upload: %w", err)
		}
		uploads = append(uploads, u)
	}
	return uploads, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return t, nil
}
