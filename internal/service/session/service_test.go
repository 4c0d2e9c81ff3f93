package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SakshamManav/File-Synchronization/backend/internal/mirror"
	"github.com/SakshamManav/File-Synchronization/backend/internal/model/session"
)

type fixture struct {
	svc    *Service
	store  *session.MemoryStore
	mirror *mirror.Mirror
	fs     afero.Fs
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fsys := afero.NewMemMapFs()
	f := &fixture{
		store:  session.NewMemoryStore(),
		mirror: mirror.New(fsys, "/uploads"),
		fs:     fsys,
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.store, f.mirror, Config{
		DefaultTTL:        15 * time.Minute,
		CreatorOrigins:    []string{"chrome-extension://"},
		CreatorUserAgents: []string{"filesync-extension"},
	})
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *fixture) dropFile(t *testing.T, id, name, body string) {
	t.Helper()
	require.NoError(t, f.fs.MkdirAll("/uploads/"+id, 0o755))
	require.NoError(t, afero.WriteFile(f.fs, "/uploads/"+id+"/"+name, []byte(body), 0o644))
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.Create(ctx, 60*time.Second)
	require.NoError(t, err)
	assert.True(t, session.ValidID(sess.ID))
	assert.Equal(t, session.StatusWaiting, sess.Status)
	assert.False(t, sess.ConnectionCreated)
	require.NotNil(t, sess.ExpiresAt)
	assert.Equal(t, f.now.Add(60*time.Second), *sess.ExpiresAt)

	other, err := f.svc.Create(ctx, 0)
	require.NoError(t, err)
	assert.NotEqual(t, sess.ID, other.ID)
	assert.Nil(t, other.ExpiresAt)
}

func TestCreateRetriesOnCollision(t *testing.T) {
	f := newFixture(t)
	ids := []string{"dup", "dup", "fresh"}
	f.svc.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	first, err := f.svc.Create(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "dup", first.ID)

	second, err := f.svc.Create(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "fresh", second.ID)
}

func TestReconcileWaitingWithoutFilesIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Create(ctx, 0)
	require.NoError(t, err)

	first, err := f.svc.Reconcile(ctx, sess.ID)
	require.NoError(t, err)
	second, err := f.svc.Reconcile(ctx, sess.ID)
	require.NoError(t, err)

	assert.Equal(t, session.StatusWaiting, first.Status)
	assert.Empty(t, first.Uploads)
	assert.Equal(t, first, second)
}

func TestReconcilePicksUpFilesFromDisk(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Create(ctx, time.Hour)
	require.NoError(t, err)

	require.NoError(t, f.store.AppendUpload(ctx, sess.ID, session.Upload{
		Filename: "a.png", OriginalName: "Holiday.png", Size: 1, UploadedAt: f.now,
	}))
	f.dropFile(t, sess.ID, "a.png", "aaaa")
	f.dropFile(t, sess.ID, "b.txt", "bb")

	got, err := f.svc.Reconcile(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, got.Uploads, 2)
	assert.Equal(t, "a.png", got.Uploads[0].Filename)
	assert.Equal(t, "Holiday.png", got.Uploads[0].OriginalName)
	assert.Equal(t, int64(4), got.Uploads[0].Size)
	assert.Equal(t, "b.txt", got.Uploads[1].Filename)
	assert.Equal(t, "b.txt", got.Uploads[1].OriginalName)
	assert.Equal(t, session.StatusCompleted, got.Status)

	stored, err := f.store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Uploads, stored.Uploads)
}

func TestReconcileFlipsWaitingToCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Create(ctx, 0)
	require.NoError(t, err)

	f.dropFile(t, sess.ID, "dropped.bin", "x")

	got, err := f.svc.Reconcile(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, got.Status)
	require.Len(t, got.Uploads, 1)
}

func TestReconcileDropsVanishedFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Create(ctx, 0)
	require.NoError(t, err)

	for _, name := range []string{"a.txt", "b.txt"} {
		require.NoError(t, f.store.AppendUpload(ctx, sess.ID, session.Upload{Filename: name, OriginalName: name}))
	}
	f.dropFile(t, sess.ID, "b.txt", "b")
	f.dropFile(t, sess.ID, "c.txt", "c")

	got, err := f.svc.Reconcile(ctx, sess.ID)
	require.NoError(t, err)
	names := make([]string, 0, len(got.Uploads))
	for _, u := range got.Uploads {
		names = append(names, u.Filename)
	}
	assert.Equal(t, []string{"b.txt", "c.txt"}, names)
	assert.Equal(t, session.StatusCompleted, got.Status)
}

func TestReconcileBetweenWriteAndRecordKeepsOriginalName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Create(ctx, time.Hour)
	require.NoError(t, err)

	stored, size, err := f.mirror.Write(sess.ID, "holiday photo.png", strings.NewReader("png"))
	require.NoError(t, err)

	early, err := f.svc.Reconcile(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, early.Uploads, 1)
	assert.Equal(t, stored, early.Uploads[0].OriginalName)

	require.NoError(t, f.store.AppendUpload(ctx, sess.ID, session.Upload{
		Filename: stored, OriginalName: "holiday photo.png", Size: size, UploadedAt: f.now,
	}))

	for i := 0; i < 2; i++ {
		got, err := f.svc.Reconcile(ctx, sess.ID)
		require.NoError(t, err)
		require.Len(t, got.Uploads, 1)
		assert.Equal(t, stored, got.Uploads[0].Filename)
		assert.Equal(t, "holiday photo.png", got.Uploads[0].OriginalName)
	}
}

func TestReconcileKeepsUploadRecordedAfterListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Create(ctx, time.Hour)
	require.NoError(t, err)

	listedAt := f.now
	f.advance(time.Second)
	require.NoError(t, f.store.AppendUpload(ctx, sess.ID, session.Upload{
		Filename: "late.png", OriginalName: "Late.png", Size: 1, UploadedAt: f.now,
	}))

	// A listing taken before the file landed must not drop its record.
	changed, err := f.store.SyncUploads(ctx, sess.ID, nil, listedAt)
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := f.store.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, got.Uploads, 1)
	assert.Equal(t, "Late.png", got.Uploads[0].OriginalName)
}

func TestReconcileExpiresAndPurges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Create(ctx, time.Second)
	require.NoError(t, err)
	f.dropFile(t, sess.ID, "a.txt", "a")

	f.advance(2 * time.Second)

	got, err := f.svc.Reconcile(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusExpired, got.Status)
	assert.Empty(t, got.Uploads)

	exists, err := afero.DirExists(f.fs, "/uploads/"+sess.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	// A file that shows up later must not revive the session.
	f.dropFile(t, sess.ID, "late.txt", "x")
	again, err := f.svc.Reconcile(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusExpired, again.Status)
	assert.Empty(t, again.Uploads)
}

func TestReconcileNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Reconcile(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestReconcileRejectsInvalidID(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Reconcile(context.Background(), "../etc")
	assert.ErrorIs(t, err, session.ErrValidation)
}

func TestReconcileRecoversFromDisk(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.dropFile(t, "lost-session", "photo.jpg", "jpeg")

	got, err := f.svc.Reconcile(ctx, "lost-session")
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, got.Status)
	require.Len(t, got.Uploads, 1)
	assert.Equal(t, "photo.jpg", got.Uploads[0].Filename)
	require.NotNil(t, got.ExpiresAt)
	assert.Equal(t, f.now.Add(15*time.Minute), *got.ExpiresAt)

	_, err = f.store.Get(ctx, "lost-session")
	require.NoError(t, err)
}

func TestStatusLatchesPeerConnection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Create(ctx, 0)
	require.NoError(t, err)

	got, err := f.svc.Status(ctx, sess.ID, false)
	require.NoError(t, err)
	assert.False(t, got.ConnectionCreated)

	got, err = f.svc.Status(ctx, sess.ID, true)
	require.NoError(t, err)
	assert.True(t, got.ConnectionCreated)

	// Later creator polls still see the latch.
	got, err = f.svc.Status(ctx, sess.ID, false)
	require.NoError(t, err)
	assert.True(t, got.ConnectionCreated)
}

func TestMarkConnectedOnlyFlipsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Create(ctx, 0)
	require.NoError(t, err)

	flipped, err := f.svc.MarkConnected(ctx, sess.ID, false)
	require.NoError(t, err)
	assert.False(t, flipped)

	flipped, err = f.svc.MarkConnected(ctx, sess.ID, true)
	require.NoError(t, err)
	assert.True(t, flipped)

	flipped, err = f.svc.MarkConnected(ctx, sess.ID, true)
	require.NoError(t, err)
	assert.False(t, flipped)

	_, err = f.svc.MarkConnected(ctx, "missing", true)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestPurgeExpiredIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Create(ctx, 0)
	require.NoError(t, err)
	f.dropFile(t, sess.ID, "a.txt", "a")
	_, err = f.svc.Reconcile(ctx, sess.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.PurgeExpired(ctx, sess.ID))
	require.NoError(t, f.svc.PurgeExpired(ctx, sess.ID))

	got, err := f.store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusExpired, got.Status)
	assert.Empty(t, got.Uploads)

	assert.ErrorIs(t, f.svc.PurgeExpired(ctx, "missing"), session.ErrNotFound)
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	short, err := f.svc.Create(ctx, time.Second)
	require.NoError(t, err)
	long, err := f.svc.Create(ctx, time.Hour)
	require.NoError(t, err)
	f.dropFile(t, short.ID, "a.txt", "a")

	f.advance(time.Minute)
	n, err := f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.store.Get(ctx, short.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusExpired, got.Status)

	got, err = f.store.Get(ctx, long.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusWaiting, got.Status)

	n, err = f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIsPeerRequest(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name, origin, ua, role string
		want                   bool
	}{
		{"phone browser", "", "Mozilla/5.0 (iPhone)", "", true},
		{"extension origin", "chrome-extension://abcdef", "Mozilla/5.0", "", false},
		{"extension user agent", "", "Mozilla/5.0 FileSync-Extension/1.2", "", false},
		{"creator role header", "https://example.com", "curl/8", "Creator", false},
		{"other role", "", "curl/8", "peer", true},
	}
	for _, tc := range cases {
		t.Run(strings.ReplaceAll(tc.name, " ", "_"), func(t *testing.T) {
			assert.Equal(t, tc.want, f.svc.IsPeerRequest(tc.origin, tc.ua, tc.role))
		})
	}
}
