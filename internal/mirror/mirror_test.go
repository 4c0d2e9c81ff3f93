package mirror

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMirror() (*Mirror, afero.Fs) {
	fsys := afero.NewMemMapFs()
	return New(fsys, "/uploads"), fsys
}

func TestListMissingDirIsEmpty(t *testing.T) {
	m, _ := newTestMirror()
	entries, err := m.List("nope")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriteStoresBytesUnderSanitizedName(t *testing.T) {
	m, fsys := newTestMirror()
	m.now = func() time.Time { return time.Unix(0, 1700000000123456789) }

	stored, n, err := m.Write("s1", "holiday photo.png", bytes.NewReader(make([]byte, 500)))
	require.NoError(t, err)
	assert.Equal(t, int64(500), n)
	assert.Equal(t, "holiday_photo_1700000000123456789.png", stored)

	data, err := afero.ReadFile(fsys, "/uploads/s1/"+stored)
	require.NoError(t, err)
	assert.Len(t, data, 500)

	entries, err := m.List("s1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, stored, entries[0].Name)
	assert.Equal(t, int64(500), entries[0].Size)
}

func TestWriteNeverOverwrites(t *testing.T) {
	m, fsys := newTestMirror()
	m.now = func() time.Time { return time.Unix(0, 42) }

	first, _, err := m.Write("s1", "a.png", strings.NewReader("first"))
	require.NoError(t, err)
	second, _, err := m.Write("s1", "a.png", strings.NewReader("second"))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, "a_42-1.png", second)

	got1, err := afero.ReadFile(fsys, m.Path("s1", first))
	require.NoError(t, err)
	got2, err := afero.ReadFile(fsys, m.Path("s1", second))
	require.NoError(t, err)
	assert.Equal(t, "first", string(got1))
	assert.Equal(t, "second", string(got2))

	entries, err := m.List("s1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestListSkipsHiddenAndDirectories(t *testing.T) {
	m, fsys := newTestMirror()
	require.NoError(t, fsys.MkdirAll("/uploads/s1", 0o755))
	require.NoError(t, afero.WriteFile(fsys, "/uploads/s1/.upload-x.part", []byte("partial"), 0o644))
	require.NoError(t, fsys.MkdirAll("/uploads/s1/nested", 0o755))
	require.NoError(t, afero.WriteFile(fsys, "/uploads/s1/done.txt", []byte("ok"), 0o644))

	entries, err := m.List("s1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "done.txt", entries[0].Name)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestWriteFailureLeavesNoFile(t *testing.T) {
	m, fsys := newTestMirror()
	_, _, err := m.Write("s1", "a.png", failingReader{})
	require.Error(t, err)

	infos, err := afero.ReadDir(fsys, "/uploads/s1")
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestOpenRejectsTraversal(t *testing.T) {
	m, fsys := newTestMirror()
	require.NoError(t, fsys.MkdirAll("/uploads", 0o755))
	require.NoError(t, afero.WriteFile(fsys, "/uploads/secret.txt", []byte("x"), 0o644))

	for _, name := range []string{"", "../secret.txt", "a/b", `..\secret.txt`, ".upload-x.part"} {
		_, _, err := m.Open("s1", name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
}

func TestOpenReadsStoredFile(t *testing.T) {
	m, _ := newTestMirror()
	stored, _, err := m.Write("s1", "notes.txt", strings.NewReader("hello"))
	require.NoError(t, err)

	f, info, err := m.Open("s1", stored)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, int64(5), info.Size())
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, _, err = m.Open("s1", "missing.txt")
	assert.Error(t, err)
}

func TestPurgeIsIdempotent(t *testing.T) {
	m, _ := newTestMirror()
	_, _, err := m.Write("s1", "a.png", strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, m.Purge("s1"))
	require.NoError(t, m.Purge("s1"))

	entries, err := m.List("s1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSplitName(t *testing.T) {
	cases := []struct {
		in, base, ext string
	}{
		{"a.png", "a", ".png"},
		{"C:\\Users\\me\\report final.PDF", "report_final", ".PDF"},
		{"../../etc/passwd", "passwd", ""},
		{".bashrc", "bashrc", ""},
		{"", "file", ""},
		{"???.txt", "file", ".txt"},
		{"archive.tar.gz", "archive.tar", ".gz"},
		{"café.jpg", "café", ".jpg"},
		{"weird.e$x#t", "weird", ".ext"},
	}
	for _, tc := range cases {
		base, ext := SplitName(tc.in)
		assert.Equal(t, tc.base, base, tc.in)
		assert.Equal(t, tc.ext, ext, tc.in)
	}
}
