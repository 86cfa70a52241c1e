package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/SteelMorgan/binary-file-source/internal/domain"
	"github.com/SteelMorgan/binary-file-source/internal/offset"
	"github.com/rs/zerolog/log"
)

// DirectoryWatcher discovers files in one directory by polling its listing
type DirectoryWatcher struct {
	*table
	dirPath string
	lister  Lister
}

// NewDirectoryWatcher creates a watcher for dirPath
func NewDirectoryWatcher(dirPath string, lister Lister, store offset.OffsetStore, opts Options) *DirectoryWatcher {
	return &DirectoryWatcher{
		table:   newTable(store, opts),
		dirPath: absPath(dirPath),
		lister:  lister,
	}
}

// Poll lists the directory, classifies every entry and returns the ready
// ones in lexical filename order. Entries that disappeared are removed.
func (w *DirectoryWatcher) Poll(ctx context.Context) ([]domain.WatchedResource, error) {
	entries, err := w.lister.List(ctx, w.dirPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrDirectoryUnreadable, w.dirPath, err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})

	seen := make(map[string]struct{}, len(entries))
	ready := make([]domain.WatchedResource, 0, len(entries))

	for _, e := range entries {
		id := resourceID(w.dirPath, e.Name)
		seen[id] = struct{}{}

		res, ok, err := w.observe(ctx, id, e)
		if err != nil {
			log.Warn().Err(err).Str("resource", id).Msg("Failed to classify resource, skipping this cycle")
			continue
		}
		if ok {
			ready = append(ready, res)
		}
	}

	for id := range w.entries {
		if _, ok := seen[id]; !ok {
			w.Remove(id)
		}
	}

	w.sweep(ctx)

	log.Debug().
		Str("dir", w.dirPath).
		Int("listed", len(entries)).
		Int("ready", len(ready)).
		Msg("Directory polled")

	return ready, nil
}

// resourceID is the offset key of a file inside the watched directory
func resourceID(dir, name string) string {
	return filepath.Join(dir, name)
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}
