package writer

import (
	"context"

	"github.com/SteelMorgan/binary-file-source/internal/domain"
)

// ProgressWriter mirrors committed cursors to an external store for monitoring.
// It is written after the offset store commit and is never read back.
type ProgressWriter interface {
	// WriteProgress writes one row per committed resource
	WriteProgress(ctx context.Context, rows []domain.IngestionProgress) error

	// Close releases the writer
	Close() error
}
