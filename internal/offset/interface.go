package offset

import (
	"context"

	"github.com/SteelMorgan/binary-file-source/internal/domain"
)

// OffsetStore is the read side of cursor storage.
// The ingestion core only reads committed cursors; it never writes them.
type OffsetStore interface {
	// Get retrieves the committed cursor for a resource.
	// The boolean is false when nothing has been committed yet.
	Get(ctx context.Context, resource string) (domain.Cursor, bool, error)
}

// Store is the full cursor storage used by the framework side after
// downstream acknowledgment.
// Implementations: BoltDB (primary), in-memory (tests, dry runs)
type Store interface {
	OffsetStore

	// Commit stores a cursor. Cursors never move backwards: a commit with a
	// lower generation, or a lower offset in the same generation, is ignored.
	Commit(ctx context.Context, cursor domain.Cursor) error

	// Delete removes the cursor for a resource
	Delete(ctx context.Context, resource string) error

	// List returns all stored cursors keyed by resource
	List(ctx context.Context) (map[string]domain.Cursor, error)

	// Close closes the store
	Close() error
}

// supersedes reports whether next may replace prev
func supersedes(prev, next domain.Cursor) bool {
	if next.Generation != prev.Generation {
		return next.Generation > prev.Generation
	}
	return next.Offset >= prev.Offset
}
