package watcher

import (
	"context"

	"github.com/SteelMorgan/binary-file-source/internal/domain"
	"github.com/SteelMorgan/binary-file-source/internal/offset"
	"github.com/rs/zerolog/log"
)

// SingleFileWatcher watches one fixed path for growth and rotation
type SingleFileWatcher struct {
	*table
	filePath string
	lister   Lister
}

// NewSingleFileWatcher creates a watcher for filePath
func NewSingleFileWatcher(filePath string, lister Lister, store offset.OffsetStore, opts Options) *SingleFileWatcher {
	return &SingleFileWatcher{
		table:    newTable(store, opts),
		filePath: absPath(filePath),
		lister:   lister,
	}
}

// Poll returns the file when it has unread bytes or a new generation.
// An absent file yields nothing: that is the waiting-for-data state.
func (w *SingleFileWatcher) Poll(ctx context.Context) ([]domain.WatchedResource, error) {
	id := w.filePath

	e, found, err := w.lister.Stat(ctx, w.filePath)
	if err != nil {
		log.Warn().Err(err).Str("resource", id).Msg("Failed to stat watched file")
		return nil, nil
	}
	if !found {
		if _, known := w.entries[id]; known {
			w.Remove(id)
		}
		return nil, nil
	}

	res, ready, err := w.observe(ctx, id, e)
	if err != nil {
		log.Warn().Err(err).Str("resource", id).Msg("Failed to classify watched file")
		return nil, nil
	}

	w.sweep(ctx)

	if !ready {
		return nil, nil
	}
	return []domain.WatchedResource{res}, nil
}
