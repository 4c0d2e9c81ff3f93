// Package sessiontest holds a conformance suite every session.Store
// implementation is expected to pass.
package sessiontest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SakshamManav/File-Synchronization/backend/internal/model/session"
)

// Factory builds a fresh, empty store for one subtest.
type Factory func(t *testing.T) session.Store

func newSession(ttl time.Duration) session.Session {
	now := time.Now().UTC().Truncate(time.Millisecond)
	s := session.Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		Status:    session.StatusWaiting,
	}
	if ttl != 0 {
		exp := now.Add(ttl)
		s.ExpiresAt = &exp
	}
	return s
}

func upload(name string, size int64) session.Upload {
	return session.Upload{
		Filename:     name,
		OriginalName: name,
		Size:         size,
		UploadedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
}

// RunStoreTests exercises the Store contract.
func RunStoreTests(t *testing.T, factory Factory) {
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		store := factory(t)
		s := newSession(15 * time.Minute)
		require.NoError(t, store.Create(ctx, s))

		got, err := store.Get(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, s.ID, got.ID)
		assert.Equal(t, session.StatusWaiting, got.Status)
		assert.False(t, got.ConnectionCreated)
		assert.Empty(t, got.Uploads)
		assert.Empty(t, got.Messages)
		assert.True(t, s.CreatedAt.Equal(got.CreatedAt))
		require.NotNil(t, got.ExpiresAt)
		assert.True(t, s.ExpiresAt.Equal(*got.ExpiresAt))
	})

	t.Run("CreateWithoutExpiry", func(t *testing.T) {
		store := factory(t)
		s := newSession(0)
		require.NoError(t, store.Create(ctx, s))

		got, err := store.Get(ctx, s.ID)
		require.NoError(t, err)
		assert.Nil(t, got.ExpiresAt)
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		store := factory(t)
		s := newSession(time.Minute)
		require.NoError(t, store.Create(ctx, s))
		assert.ErrorIs(t, store.Create(ctx, s), session.ErrAlreadyExists)
	})

	t.Run("GetMissing", func(t *testing.T) {
		store := factory(t)
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("AppendUploadKeepsOrderAndCompletes", func(t *testing.T) {
		store := factory(t)
		s := newSession(time.Minute)
		require.NoError(t, store.Create(ctx, s))

		require.NoError(t, store.AppendUpload(ctx, s.ID, upload("b_1.png", 10)))
		require.NoError(t, store.AppendUpload(ctx, s.ID, upload("a_2.png", 20)))

		got, err := store.Get(ctx, s.ID)
		require.NoError(t, err)
		require.Len(t, got.Uploads, 2)
		assert.Equal(t, "b_1.png", got.Uploads[0].Filename)
		assert.Equal(t, "a_2.png", got.Uploads[1].Filename)
		assert.Equal(t, int64(20), got.Uploads[1].Size)
		assert.Equal(t, session.StatusCompleted, got.Status)
	})

	t.Run("AppendUploadMissing", func(t *testing.T) {
		store := factory(t)
		assert.ErrorIs(t, store.AppendUpload(ctx, "missing", upload("x", 1)), session.ErrNotFound)
	})

	t.Run("AppendMessageLeavesStatus", func(t *testing.T) {
		store := factory(t)
		s := newSession(time.Minute)
		require.NoError(t, store.Create(ctx, s))

		sent := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, store.AppendMessage(ctx, s.ID, session.Message{Text: "hello", SentAt: sent}))
		require.NoError(t, store.AppendMessage(ctx, s.ID, session.Message{Text: "world", SentAt: sent}))

		got, err := store.Get(ctx, s.ID)
		require.NoError(t, err)
		require.Len(t, got.Messages, 2)
		assert.Equal(t, "hello", got.Messages[0].Text)
		assert.Equal(t, "world", got.Messages[1].Text)
		assert.True(t, sent.Equal(got.Messages[0].SentAt))
		assert.Equal(t, session.StatusWaiting, got.Status)
	})

	t.Run("AppendMessageMissing", func(t *testing.T) {
		store := factory(t)
		err := store.AppendMessage(ctx, "missing", session.Message{Text: "x", SentAt: time.Now()})
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("AppendUploadReplacesSameFilename", func(t *testing.T) {
		store := factory(t)
		s := newSession(time.Minute)
		require.NoError(t, store.Create(ctx, s))
		require.NoError(t, store.AppendUpload(ctx, s.ID, upload("first.txt", 1)))
		require.NoError(t, store.AppendUpload(ctx, s.ID, upload("photo_1.png", 3)))

		named := upload("photo_1.png", 4)
		named.OriginalName = "photo 1.png"
		require.NoError(t, store.AppendUpload(ctx, s.ID, named))

		got, err := store.Get(ctx, s.ID)
		require.NoError(t, err)
		require.Len(t, got.Uploads, 2)
		assert.Equal(t, "first.txt", got.Uploads[0].Filename)
		assert.Equal(t, "photo_1.png", got.Uploads[1].Filename)
		assert.Equal(t, "photo 1.png", got.Uploads[1].OriginalName)
		assert.Equal(t, int64(4), got.Uploads[1].Size)
	})

	t.Run("SyncUploads", func(t *testing.T) {
		store := factory(t)
		s := newSession(time.Minute)
		require.NoError(t, store.Create(ctx, s))

		listedAt := time.Now().UTC().Truncate(time.Millisecond)
		kept := upload("kept.png", 1)
		kept.OriginalName = "Kept Photo.png"
		kept.UploadedAt = listedAt.Add(-time.Minute)
		gone := upload("gone.txt", 2)
		gone.UploadedAt = listedAt.Add(-time.Minute)
		fresh := upload("fresh.txt", 3)
		fresh.UploadedAt = listedAt.Add(time.Second)
		for _, u := range []session.Upload{kept, gone, fresh} {
			require.NoError(t, store.AppendUpload(ctx, s.ID, u))
		}

		listed := []session.Upload{upload("kept.png", 9), upload("found.bin", 5)}
		changed, err := store.SyncUploads(ctx, s.ID, listed, listedAt)
		require.NoError(t, err)
		assert.True(t, changed)

		got, err := store.Get(ctx, s.ID)
		require.NoError(t, err)
		names := make([]string, 0, len(got.Uploads))
		for _, u := range got.Uploads {
			names = append(names, u.Filename)
		}
		assert.Equal(t, []string{"kept.png", "fresh.txt", "found.bin"}, names)
		assert.Equal(t, "Kept Photo.png", got.Uploads[0].OriginalName)
		assert.Equal(t, int64(9), got.Uploads[0].Size)
		assert.Equal(t, "found.bin", got.Uploads[2].OriginalName)

		listed = append(listed, upload("fresh.txt", 3))
		changed, err = store.SyncUploads(ctx, s.ID, listed, listedAt.Add(2*time.Second))
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("SyncUploadsCompletesWaitingSession", func(t *testing.T) {
		store := factory(t)
		s := newSession(time.Minute)
		require.NoError(t, store.Create(ctx, s))

		changed, err := store.SyncUploads(ctx, s.ID, nil, time.Now())
		require.NoError(t, err)
		assert.False(t, changed)

		changed, err = store.SyncUploads(ctx, s.ID, []session.Upload{upload("a.txt", 1)}, time.Now())
		require.NoError(t, err)
		assert.True(t, changed)

		got, err := store.Get(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, session.StatusCompleted, got.Status)
		require.Len(t, got.Uploads, 1)
	})

	t.Run("SyncUploadsMissing", func(t *testing.T) {
		store := factory(t)
		_, err := store.SyncUploads(ctx, "missing", nil, time.Now())
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("ExpiredIsTerminal", func(t *testing.T) {
		store := factory(t)
		s := newSession(time.Minute)
		require.NoError(t, store.Create(ctx, s))
		require.NoError(t, store.AppendUpload(ctx, s.ID, upload("a", 1)))
		require.NoError(t, store.MarkExpired(ctx, s.ID))

		got, err := store.Get(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, session.StatusExpired, got.Status)
		assert.Empty(t, got.Uploads)

		changed, err := store.SyncUploads(ctx, s.ID, []session.Upload{upload("b", 2)}, time.Now())
		require.NoError(t, err)
		assert.False(t, changed)
		assert.ErrorIs(t, store.AppendUpload(ctx, s.ID, upload("c", 3)), session.ErrExpired)

		got, err = store.Get(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, session.StatusExpired, got.Status)
		assert.Empty(t, got.Uploads)

		require.NoError(t, store.MarkExpired(ctx, s.ID))
	})

	t.Run("MarkConnectedLatchesOnce", func(t *testing.T) {
		store := factory(t)
		s := newSession(time.Minute)
		require.NoError(t, store.Create(ctx, s))

		flipped, err := store.MarkConnected(ctx, s.ID)
		require.NoError(t, err)
		assert.True(t, flipped)

		for i := 0; i < 3; i++ {
			flipped, err = store.MarkConnected(ctx, s.ID)
			require.NoError(t, err)
			assert.False(t, flipped)
		}

		got, err := store.Get(ctx, s.ID)
		require.NoError(t, err)
		assert.True(t, got.ConnectionCreated)

		_, err = store.MarkConnected(ctx, "missing")
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("ListExpired", func(t *testing.T) {
		store := factory(t)
		past := newSession(-time.Minute)
		future := newSession(time.Hour)
		never := newSession(0)
		done := newSession(-time.Minute)
		for _, s := range []session.Session{past, future, never, done} {
			require.NoError(t, store.Create(ctx, s))
		}
		require.NoError(t, store.MarkExpired(ctx, done.ID))

		ids, err := store.ListExpired(ctx, time.Now().UTC())
		require.NoError(t, err)
		assert.Equal(t, []string{past.ID}, ids)
	})

	t.Run("Ping", func(t *testing.T) {
		store := factory(t)
		assert.NoError(t, store.Ping(ctx))
	})
}
