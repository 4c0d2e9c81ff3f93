// Package mirror keeps uploaded bytes in one directory per session. The
// directory listing is the ground truth for which uploads exist.
package mirror

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/spf13/afero"
	"golang.org/x/text/unicode/norm"
)

const (
	maxBaseLen = 100
	maxExtLen  = 16
	tempPrefix = ".upload-"
	tempSuffix = ".part"
)

var ErrInvalidName = errors.New("invalid file name")

// Entry is one file found in a session directory.
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Mirror stores files under root/<sessionID>/ on an afero filesystem.
type Mirror struct {
	fs   afero.Fs
	root string
	now  func() time.Time

	// finalize serializes the exists-check and rename that pick a stored name.
	finalize sync.Mutex
}

// New returns a Mirror rooted at root on fsys.
func New(fsys afero.Fs, root string) *Mirror {
	return &Mirror{fs: fsys, root: filepath.Clean(root), now: time.Now}
}

// NewOS returns a Mirror on the host filesystem.
func NewOS(root string) *Mirror {
	return New(afero.NewOsFs(), root)
}

// Root returns the directory holding all session directories.
func (m *Mirror) Root() string { return m.root }

// Dir returns the directory for one session.
func (m *Mirror) Dir(sessionID string) string {
	return filepath.Join(m.root, sessionID)
}

// Path returns the full path of a stored file.
func (m *Mirror) Path(sessionID, name string) string {
	return filepath.Join(m.root, sessionID, name)
}

// List returns the finished files in the session directory, oldest first.
// A missing directory is an empty listing.
func (m *Mirror) List(sessionID string) ([]Entry, error) {
	infos, err := afero.ReadDir(m.fs, m.Dir(sessionID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("read session dir: %w", err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() || strings.HasPrefix(info.Name(), ".") {
			continue
		}
		entries = append(entries, Entry{Name: info.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].ModTime.Equal(entries[j].ModTime) {
			return entries[i].ModTime.Before(entries[j].ModTime)
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// Write streams r into the session directory under a collision-safe name
// derived from originalName and returns the stored name and byte count.
// Bytes land in a hidden temp file first so listings never see partial files.
func (m *Mirror) Write(sessionID, originalName string, r io.Reader) (string, int64, error) {
	dir := m.Dir(sessionID)
	if err := m.fs.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create session dir: %w", err)
	}

	suffix, err := gonanoid.New()
	if err != nil {
		return "", 0, fmt.Errorf("temp name: %w", err)
	}
	tmpPath := filepath.Join(dir, tempPrefix+suffix+tempSuffix)
	tmp, err := m.fs.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}

	written, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = m.fs.Remove(tmpPath)
		if copyErr != nil {
			return "", 0, fmt.Errorf("write upload: %w", copyErr)
		}
		return "", 0, fmt.Errorf("close upload: %w", closeErr)
	}

	m.finalize.Lock()
	defer m.finalize.Unlock()

	base, ext := SplitName(originalName)
	stamp := strconv.FormatInt(m.now().UnixNano(), 10)
	stored := base + "_" + stamp + ext
	for i := 1; m.exists(filepath.Join(dir, stored)); i++ {
		stored = base + "_" + stamp + "-" + strconv.Itoa(i) + ext
	}

	if err := m.fs.Rename(tmpPath, filepath.Join(dir, stored)); err != nil {
		_ = m.fs.Remove(tmpPath)
		return "", 0, fmt.Errorf("finalize upload: %w", err)
	}
	return stored, written, nil
}

func (m *Mirror) exists(path string) bool {
	_, err := m.fs.Stat(path)
	return err == nil
}

// Open opens a stored file for reading.
func (m *Mirror) Open(sessionID, name string) (afero.File, fs.FileInfo, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return nil, nil, ErrInvalidName
	}
	f, err := m.fs.Open(m.Path(sessionID, name))
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, nil, fs.ErrNotExist
	}
	return f, info, nil
}

// Remove deletes one stored file. A missing file is not an error.
func (m *Mirror) Remove(sessionID, name string) error {
	if err := m.fs.Remove(m.Path(sessionID, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// Purge removes the session directory and everything in it.
func (m *Mirror) Purge(sessionID string) error {
	if err := m.fs.RemoveAll(m.Dir(sessionID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session dir: %w", err)
	}
	return nil
}

// SplitName sanitizes a client-supplied file name into a safe base name
// and its extension (with leading dot, possibly empty).
func SplitName(originalName string) (string, string) {
	name := strings.ReplaceAll(originalName, `\`, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = norm.NFC.String(strings.TrimSpace(name))

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if base == "" && ext != "" {
		// ".bashrc" style names: treat the whole thing as the base.
		base, ext = ext, ""
	}

	ext = cleanExt(ext)
	base = cleanBase(base)
	if base == "" {
		base = "file"
	}
	return base, ext
}

func cleanBase(base string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range base {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._-")
	if runes := []rune(out); len(runes) > maxBaseLen {
		out = string(runes[:maxBaseLen])
	}
	return out
}

func cleanExt(ext string) string {
	if ext == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range strings.TrimPrefix(ext, ".") {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" {
		return ""
	}
	if len(out) > maxExtLen {
		out = out[:maxExtLen]
	}
	return "." + out
}
