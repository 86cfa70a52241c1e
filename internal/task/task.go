package task

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/SteelMorgan/binary-file-source/internal/config"
	"github.com/SteelMorgan/binary-file-source/internal/domain"
	"github.com/SteelMorgan/binary-file-source/internal/offset"
	"github.com/SteelMorgan/binary-file-source/internal/reader"
	"github.com/SteelMorgan/binary-file-source/internal/telemetry"
	"github.com/SteelMorgan/binary-file-source/internal/watcher"
	"github.com/rs/zerolog/log"
)

// Task is the ingestion orchestrator invoked once per scheduling tick.
// It reads committed cursors but never writes them: records carry their
// before/after offsets and the caller commits after downstream acknowledgment.
//
// A Task is not safe for concurrent use; one poll runs at a time.
type Task struct {
	settings config.Settings
	watcher  watcher.Watcher
	reader   reader.ChunkReader
	store    offset.OffsetStore
	metrics  *telemetry.Metrics

	// positions already emitted in this process but possibly not committed yet
	staged map[string]domain.Cursor
	// consecutive read failures per resource
	failures map[string]int
	// resource that consumed the last slot of the previous cycle's budget
	resumeAfter string
}

// New builds a task with the watcher matching settings.Mode on the local filesystem
func New(settings config.Settings, store offset.OffsetStore, metrics *telemetry.Metrics) (*Task, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	opts := watcher.Options{ForgetAfter: settings.ForgetAfter}

	var w watcher.Watcher
	switch settings.Mode {
	case domain.ModeDirectory:
		w = watcher.NewDirectoryWatcher(settings.Path, watcher.NewOSLister(settings.FilePattern), store, opts)
	case domain.ModeSingleFile:
		w = watcher.NewSingleFileWatcher(settings.Path, watcher.NewOSLister(""), store, opts)
	default:
		return nil, fmt.Errorf("unsupported watch mode %d", settings.Mode)
	}

	return NewWithDeps(settings, w, reader.NewBinaryReader(), store, metrics)
}

// NewWithDeps builds a task from explicit collaborators
func NewWithDeps(settings config.Settings, w watcher.Watcher, r reader.ChunkReader, store offset.OffsetStore, metrics *telemetry.Metrics) (*Task, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &Task{
		settings: settings,
		watcher:  w,
		reader:   r,
		store:    store,
		metrics:  metrics,
		staged:   make(map[string]domain.Cursor),
		failures: make(map[string]int),
	}, nil
}

// Settings returns the settings the task was built with
func (t *Task) Settings() config.Settings {
	return t.settings
}

// active is a resource still being read in the current cycle
type active struct {
	res    domain.WatchedResource
	cursor domain.Cursor
}

// Poll runs one ingestion cycle and returns at most MaxRecordsPerCycle
// records. Ready resources are served one chunk per round so that a single
// large file cannot starve the others.
//
// Per-resource failures are isolated. Only domain.ErrDirectoryUnreadable is
// returned as an error. When ctx is cancelled the chunk in flight completes
// and the partial batch is returned.
func (t *Task) Poll(ctx context.Context) ([]domain.Record, error) {
	started := time.Now()
	mode := t.settings.Mode.String()

	resources, err := t.watcher.Poll(ctx)
	if err != nil {
		t.metrics.ObservePoll(mode, started, 0, 0, err)
		if errors.Is(err, domain.ErrDirectoryUnreadable) {
			log.Error().Err(err).Str("path", t.settings.Path).Msg("Watched directory is unreadable")
		}
		return nil, err
	}

	actives := make([]*active, 0, len(resources))
	for _, res := range t.rotate(resources) {
		cursor, err := t.resolve(ctx, res)
		if err != nil {
			log.Warn().Err(err).Str("resource", res.ID).Msg("Failed to load cursor, skipping this cycle")
			continue
		}
		actives = append(actives, &active{res: res, cursor: cursor})
	}

	limit := t.settings.MaxRecordsPerCycle
	batch := make([]domain.Record, 0, min(limit, len(actives)))
	bytes := 0
	t.resumeAfter = ""

rounds:
	for len(actives) > 0 {
		// Resources that failed or drained this round are left out of next
		// and are never advanced below
		next := make([]*active, 0, len(actives))
		for i, a := range actives {
			if len(batch) >= limit || ctx.Err() != nil {
				// Budget spent: keep the unserved ones for the next cycle
				actives = append(next, actives[i:]...)
				break rounds
			}

			chunk, cursor, err := t.reader.Read(ctx, a.res.Path, a.cursor, t.settings.MaxChunkBytes)
			if err != nil {
				t.handleReadError(a, err)
				continue
			}
			delete(t.failures, a.res.ID)

			if len(chunk) == 0 {
				t.watcher.Advance(a.res.ID, a.cursor.Offset)
				continue
			}

			batch = append(batch, domain.Record{
				Resource:   a.res.ID,
				Path:       a.res.Path,
				Generation: a.cursor.Generation,
				Before:     a.cursor.Offset,
				After:      cursor.Offset,
				Payload:    chunk,
			})
			bytes += len(chunk)
			t.staged[a.res.ID] = cursor
			a.cursor = cursor
			t.resumeAfter = a.res.ID

			if len(chunk) < t.settings.MaxChunkBytes {
				// Short read: reached the end visible at read time
				t.watcher.Advance(a.res.ID, cursor.Offset)
				continue
			}
			next = append(next, a)
		}
		actives = next
	}

	for _, a := range actives {
		t.watcher.Advance(a.res.ID, a.cursor.Offset)
	}
	if len(batch) < limit {
		t.resumeAfter = ""
	}

	t.metrics.ObservePoll(mode, started, len(batch), bytes, nil)

	log.Debug().
		Str("mode", mode).
		Int("ready", len(resources)).
		Int("records", len(batch)).
		Int("bytes", bytes).
		Dur("elapsed", time.Since(started)).
		Msg("Poll cycle complete")

	return batch, nil
}

// Rewind drops staged positions so the next poll restarts every resource
// from its committed cursor. Call it when a returned batch could not be
// handed off downstream.
func (t *Task) Rewind() {
	if len(t.staged) > 0 {
		log.Info().Int("resources", len(t.staged)).Msg("Rewinding staged cursors to committed positions")
	}
	t.staged = make(map[string]domain.Cursor)
	t.resumeAfter = ""
	t.watcher.Invalidate()
}

// resolve picks the cursor to read from: a reset starts the generation at 0,
// otherwise the furthest of the committed and staged positions within the
// resource's current generation
func (t *Task) resolve(ctx context.Context, res domain.WatchedResource) (domain.Cursor, error) {
	cursor := domain.Cursor{Resource: res.ID, Generation: res.Generation}
	if res.Reset {
		t.staged[res.ID] = cursor
		return cursor, nil
	}

	committed, found, err := t.store.Get(ctx, res.ID)
	if err != nil {
		return cursor, err
	}
	if found && committed.Generation == res.Generation {
		cursor.Offset = committed.Offset
	}

	if staged, ok := t.staged[res.ID]; ok && staged.Generation == res.Generation && staged.Offset > cursor.Offset {
		cursor.Offset = staged.Offset
	}

	return cursor, nil
}

func (t *Task) handleReadError(a *active, err error) {
	id := a.res.ID
	mode := t.settings.Mode.String()

	switch {
	case errors.Is(err, domain.ErrResourceShrunk):
		gen := t.watcher.Rotate(id)
		t.staged[id] = domain.Cursor{Resource: id, Generation: gen}
		t.metrics.IncRotation(mode)
		delete(t.failures, id)

	case errors.Is(err, domain.ErrResourceUnavailable):
		t.metrics.IncUnavailable(mode)
		if errors.Is(err, fs.ErrNotExist) {
			t.watcher.Remove(id)
		}
		t.noteFailure(id, err)

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Shutdown: the cursor is untouched and the resource is retried next cycle

	default:
		t.noteFailure(id, err)
	}
}

// noteFailure logs quietly until a resource keeps failing, then warns
func (t *Task) noteFailure(id string, err error) {
	t.failures[id]++
	n := t.failures[id]

	if warnAfter := t.settings.UnavailableWarnAfter; warnAfter > 0 && n%warnAfter == 0 {
		log.Warn().
			Err(err).
			Str("resource", id).
			Int("consecutive_failures", n).
			Msg("Resource keeps failing to read")
		return
	}
	log.Debug().
		Err(err).
		Str("resource", id).
		Int("consecutive_failures", n).
		Msg("Resource read failed, retrying next cycle")
}

// rotate orders resources by identity, starting after the resource that
// exhausted the previous cycle's budget
func (t *Task) rotate(resources []domain.WatchedResource) []domain.WatchedResource {
	sort.SliceStable(resources, func(i, j int) bool {
		return resources[i].Name < resources[j].Name
	})
	if t.resumeAfter == "" {
		return resources
	}

	start := 0
	for i, res := range resources {
		if res.ID == t.resumeAfter {
			start = i + 1
			break
		}
	}
	if start == 0 || start >= len(resources) {
		return resources
	}

	out := make([]domain.WatchedResource, 0, len(resources))
	out = append(out, resources[start:]...)
	return append(out, resources[:start]...)
}
