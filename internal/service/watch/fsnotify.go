package watch

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Notifier receives the id of a session whose directory changed.
type Notifier interface {
	Notify(sessionID string)
}

// DirWatcher turns filesystem events under the upload root into Notify
// calls. fsnotify is not recursive, so the root and each session directory
// are watched separately.
type DirWatcher struct {
	watcher *fsnotify.Watcher
	root    string
	target  Notifier
	logger  zerolog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewDirWatcher starts watching root and the session directories already
// inside it.
func NewDirWatcher(root string, target Notifier, logger zerolog.Logger) (*DirWatcher, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(root); err != nil {
		_ = w.Close()
		return nil, err
	}

	dw := &DirWatcher{
		watcher: w,
		root:    filepath.Clean(root),
		target:  target,
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			dw.add(filepath.Join(root, e.Name()))
		}
	}

	go dw.run()
	return dw, nil
}

// Close stops the watcher.
func (dw *DirWatcher) Close() error {
	close(dw.stopCh)
	err := dw.watcher.Close()
	<-dw.doneCh
	return err
}

func (dw *DirWatcher) add(dir string) {
	if err := dw.watcher.Add(dir); err != nil {
		dw.logger.Warn().Err(err).Str("dir", dir).Msg("failed to watch session dir")
	}
}

func (dw *DirWatcher) run() {
	defer close(dw.doneCh)
	for {
		select {
		case ev, ok := <-dw.watcher.Events:
			if !ok {
				return
			}
			dw.handle(ev)
		case err, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}
			dw.logger.Error().Err(err).Msg("upload dir watcher error")
		case <-dw.stopCh:
			return
		}
	}
}

func (dw *DirWatcher) handle(ev fsnotify.Event) {
	rel, err := filepath.Rel(dw.root, ev.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	sessionID := parts[0]

	switch len(parts) {
	case 1:
		// A session directory itself appeared or went away.
		if ev.Has(fsnotify.Create) {
			if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
				dw.add(ev.Name)
			}
		}
	default:
		// Temp files become visible only through their final rename.
		if strings.HasPrefix(parts[len(parts)-1], ".") {
			return
		}
	}

	if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		dw.logger.Debug().
			Str("session_id", sessionID).
			Str("op", ev.Op.String()).
			Msg("upload dir changed")
		dw.target.Notify(sessionID)
	}
}
