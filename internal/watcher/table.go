package watcher

import (
	"context"
	"time"

	"github.com/SteelMorgan/binary-file-source/internal/domain"
	"github.com/SteelMorgan/binary-file-source/internal/offset"
	"github.com/rs/zerolog/log"
)

// Watcher surfaces resources ready for reading and tracks their state.
// The task reports read outcomes back so the state machine stays in one place.
type Watcher interface {
	// Poll returns the resources ready for reading, ordered by name
	Poll(ctx context.Context) ([]domain.WatchedResource, error)

	// Advance records the position reached by the last read pass
	Advance(id string, position int64)

	// Rotate starts a new generation after the reader saw the file shrink
	// and returns the new generation
	Rotate(id string) uint64

	// Remove marks a resource as gone; it is forgotten until it reappears
	Remove(id string)

	// Invalidate makes every known resource eligible for reading again
	Invalidate()
}

// Options tunes watcher bookkeeping
type Options struct {
	// ForgetAfter drops drained entries that stayed unchanged this long.
	// Zero keeps them forever.
	ForgetAfter time.Duration

	// Now overrides the clock, for tests
	Now func() time.Time
}

// status is the per-resource row of the table
type status struct {
	id         string
	path       string
	name       string
	state      domain.FileState
	generation uint64
	size       int64
	modTime    time.Time
	fileID     string
	position   int64 // last position reported through Advance, -1 if none
	drainedAt  time.Time
}

// table is the keyed resource state shared by both watcher modes.
// It is only touched from the poll loop and holds no lock.
type table struct {
	store       offset.OffsetStore
	forgetAfter time.Duration
	now         func() time.Time

	entries map[string]*status
	// generation of removed resources, so a reappearing path starts a new one
	tombstones map[string]uint64
	// identity of forgotten entries, so a replaced file is not resumed mid-way
	forgotten map[string]identity
}

// identity is what sweep keeps of a forgotten entry
type identity struct {
	fileID     string
	modTime    time.Time
	generation uint64
}

func newTable(store offset.OffsetStore, opts Options) *table {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &table{
		store:       store,
		forgetAfter: opts.ForgetAfter,
		now:         now,
		entries:     make(map[string]*status),
		tombstones:  make(map[string]uint64),
		forgotten:   make(map[string]identity),
	}
}

// observe updates the table with a fresh entry snapshot and reports whether
// the resource should be read this cycle
func (t *table) observe(ctx context.Context, id string, e Entry) (domain.WatchedResource, bool, error) {
	st, known := t.entries[id]
	if !known {
		return t.discover(ctx, id, e)
	}

	if reason := rotationReason(st, e); reason != "" {
		st.generation++
		log.Info().
			Str("resource", id).
			Str("reason", reason).
			Int64("old_size", st.size).
			Int64("new_size", e.Size).
			Uint64("generation", st.generation).
			Msg("Resource rotated, starting new generation")

		st.state = domain.StateDiscovered
		st.position = 0
		st.snapshot(e)
		return st.resource(true), true, nil
	}

	st.snapshot(e)

	if st.state == domain.StateDrained && st.position >= 0 && e.Size > st.position {
		log.Debug().
			Str("resource", id).
			Int64("position", st.position).
			Int64("size", e.Size).
			Msg("Drained resource grew")
		st.state = domain.StateInProgress
	}

	ready := st.state == domain.StateDiscovered || st.state == domain.StateInProgress
	return st.resource(false), ready, nil
}

func (t *table) discover(ctx context.Context, id string, e Entry) (domain.WatchedResource, bool, error) {
	st := &status{
		id:       id,
		state:    domain.StateDiscovered,
		position: -1,
	}
	st.snapshot(e)

	committed, found, err := t.store.Get(ctx, id)
	if err != nil {
		return domain.WatchedResource{}, false, err
	}

	prev, wasForgotten := t.forgotten[id]
	delete(t.forgotten, id)

	reset := false
	if gen, removed := t.tombstones[id]; removed {
		st.generation = gen + 1
		if found && committed.Generation >= st.generation {
			st.generation = committed.Generation + 1
		}
		reset = true
		delete(t.tombstones, id)

		log.Info().
			Str("resource", id).
			Uint64("generation", st.generation).
			Msg("Removed resource reappeared, starting new generation")
	} else if found {
		st.generation = committed.Generation
		if wasForgotten && replaced(prev, e) {
			st.generation = max(committed.Generation, prev.generation) + 1
			reset = true
			log.Info().
				Str("resource", id).
				Uint64("generation", st.generation).
				Msg("Forgotten resource was replaced, starting new generation")
		} else if committed.Offset > e.Size {
			st.generation++
			reset = true
			log.Info().
				Str("resource", id).
				Int64("committed_offset", committed.Offset).
				Int64("size", e.Size).
				Uint64("generation", st.generation).
				Msg("Resource shorter than committed cursor, starting new generation")
		} else {
			log.Debug().
				Str("resource", id).
				Int64("committed_offset", committed.Offset).
				Uint64("generation", st.generation).
				Msg("Resuming resource from committed cursor")
		}
	} else {
		log.Info().
			Str("resource", id).
			Int64("size", e.Size).
			Msg("Discovered new resource")
	}

	if reset {
		st.position = 0
	}
	t.entries[id] = st
	return st.resource(reset), true, nil
}

// Advance records the position reached by the task
func (t *table) Advance(id string, position int64) {
	st, ok := t.entries[id]
	if !ok {
		return
	}
	st.position = position

	if position >= st.size {
		if st.state != domain.StateDrained {
			st.drainedAt = t.now()
			log.Debug().Str("resource", id).Int64("position", position).Msg("Resource drained")
		}
		st.state = domain.StateDrained
		return
	}
	st.state = domain.StateInProgress
}

// Rotate bumps the generation of a resource the reader found shrunk
func (t *table) Rotate(id string) uint64 {
	st, ok := t.entries[id]
	if !ok {
		return 0
	}
	st.generation++
	st.state = domain.StateDiscovered
	st.position = 0
	st.size = 0

	log.Info().
		Str("resource", id).
		Uint64("generation", st.generation).
		Msg("Resource shrank under cursor, starting new generation")

	return st.generation
}

// Remove forgets a resource and keeps its generation as a tombstone
func (t *table) Remove(id string) {
	st, ok := t.entries[id]
	if !ok {
		return
	}
	t.tombstones[id] = st.generation
	delete(t.entries, id)
	delete(t.forgotten, id)

	log.Info().
		Str("resource", id).
		Uint64("generation", st.generation).
		Str("state", domain.StateRemoved.String()).
		Msg("Resource removed")
}

// Invalidate marks drained entries as in progress so they are re-read
func (t *table) Invalidate() {
	for _, st := range t.entries {
		if st.state == domain.StateDrained {
			st.state = domain.StateInProgress
		}
		st.position = -1
	}
}

// sweep forgets drained entries that stayed stable past the grace period
// and whose position is already committed
func (t *table) sweep(ctx context.Context) {
	if t.forgetAfter <= 0 {
		return
	}
	now := t.now()
	for id, st := range t.entries {
		if st.state != domain.StateDrained || now.Sub(st.drainedAt) < t.forgetAfter {
			continue
		}
		committed, found, err := t.store.Get(ctx, id)
		if err != nil || !found {
			continue
		}
		if committed.Generation != st.generation || committed.Offset < st.position {
			continue
		}
		delete(t.entries, id)
		t.forgotten[id] = identity{fileID: st.fileID, modTime: st.modTime, generation: st.generation}
		log.Debug().Str("resource", id).Msg("Forgot drained resource")
	}
}

// state returns the current state of a resource, for tests and diagnostics
func (t *table) state(id string) (domain.FileState, bool) {
	st, ok := t.entries[id]
	if !ok {
		if _, removed := t.tombstones[id]; removed {
			return domain.StateRemoved, true
		}
		return 0, false
	}
	return st.state, true
}

func (st *status) snapshot(e Entry) {
	st.path = e.Path
	st.name = e.Name
	st.size = e.Size
	st.modTime = e.ModTime
	st.fileID = e.FileID
}

func (st *status) resource(reset bool) domain.WatchedResource {
	return domain.WatchedResource{
		ID:         st.id,
		Path:       st.path,
		Name:       st.name,
		Generation: st.generation,
		Size:       st.size,
		ModTime:    st.modTime,
		State:      st.state,
		Reset:      reset,
	}
}

// replaced reports whether e is a different file than the one forgotten
func replaced(prev identity, e Entry) bool {
	if prev.fileID != "" && e.FileID != "" && prev.fileID != e.FileID {
		return true
	}
	return !prev.modTime.IsZero() && e.ModTime.Before(prev.modTime)
}

// rotationReason explains why e is a different generation than st, or returns ""
func rotationReason(st *status, e Entry) string {
	switch {
	case st.fileID != "" && e.FileID != "" && st.fileID != e.FileID:
		return "file identity changed"
	case e.Size < st.size:
		return "size decreased"
	case !st.modTime.IsZero() && e.ModTime.Before(st.modTime):
		return "modification time moved backward"
	case st.position > e.Size:
		return "size below read position"
	}
	return ""
}
