package watcher

import (
	"fmt"
	"path/filepath"

	"github.com/SteelMorgan/binary-file-source/internal/domain"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Notifier turns filesystem events into poll wake-ups. Events only shorten
// the wait between polls; the poll itself still decides what changed.
type Notifier struct {
	w      *fsnotify.Watcher
	target string // single-file mode: only events on this path count
	wake   chan struct{}
	done   chan struct{}
}

// NewNotifier watches the directory (or the parent of the single file, so
// a recreated file is noticed)
func NewNotifier(mode domain.WatchMode, path string) (*Notifier, error) {
	path = absPath(path)
	dir := path
	target := ""
	if mode == domain.ModeSingleFile {
		dir = filepath.Dir(path)
		target = path
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fs watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	n := &Notifier{
		w:      w,
		target: target,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go n.loop()

	log.Info().Str("dir", dir).Msg("Filesystem events enabled")
	return n, nil
}

// C delivers at most one pending wake-up
func (n *Notifier) C() <-chan struct{} {
	return n.wake
}

// Close stops watching
func (n *Notifier) Close() error {
	err := n.w.Close()
	<-n.done
	return err
}

func (n *Notifier) loop() {
	defer close(n.done)
	for {
		select {
		case ev, ok := <-n.w.Events:
			if !ok {
				return
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			if n.target != "" && filepath.Clean(ev.Name) != n.target {
				continue
			}
			select {
			case n.wake <- struct{}{}:
			default:
			}
		case err, ok := <-n.w.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Filesystem watcher error")
		}
	}
}
