package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/SteelMorgan/binary-file-source/internal/domain"
	"github.com/rs/zerolog/log"
)

// ChunkReader reads a bounded byte range of a resource starting at a cursor
type ChunkReader interface {
	Read(ctx context.Context, path string, cursor domain.Cursor, maxBytes int) ([]byte, domain.Cursor, error)
}

// BinaryReader reads raw byte chunks from regular files.
// It never reads past the length observed when the call starts and
// performs no offset persistence.
type BinaryReader struct{}

// NewBinaryReader creates a new binary reader
func NewBinaryReader() *BinaryReader {
	return &BinaryReader{}
}

// Read returns at most maxBytes starting at cursor.Offset together with the
// advanced cursor. An empty chunk means the cursor is at the visible end.
//
// Errors:
//   - domain.ErrResourceUnavailable when the path is gone or cannot be opened
//   - domain.ErrResourceShrunk when the file is now shorter than cursor.Offset
func (r *BinaryReader) Read(ctx context.Context, path string, cursor domain.Cursor, maxBytes int) ([]byte, domain.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, cursor, err
	}
	if maxBytes <= 0 {
		return nil, cursor, fmt.Errorf("max bytes must be positive, got %d", maxBytes)
	}
	if cursor.Offset < 0 {
		return nil, cursor, fmt.Errorf("%w: negative offset %d", domain.ErrResourceShrunk, cursor.Offset)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, cursor, unavailable(path, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, cursor, unavailable(path, err)
	}

	size := stat.Size()
	if size < cursor.Offset {
		return nil, cursor, fmt.Errorf("%w: %s is %d bytes, cursor at %d", domain.ErrResourceShrunk, path, size, cursor.Offset)
	}

	remaining := size - cursor.Offset
	if remaining == 0 {
		return nil, cursor, nil
	}

	n := int64(maxBytes)
	if remaining < n {
		n = remaining
	}

	buf := make([]byte, n)
	read, err := io.ReadFull(io.NewSectionReader(file, cursor.Offset, n), buf)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			// Truncated between stat and read
			return nil, cursor, fmt.Errorf("%w: %s truncated during read (%d of %d bytes)", domain.ErrResourceShrunk, path, read, n)
		}
		return nil, cursor, fmt.Errorf("failed to read %s: %w", path, err)
	}

	next := cursor
	next.Offset = cursor.Offset + int64(read)

	log.Debug().
		Str("path", path).
		Int64("offset_before", cursor.Offset).
		Int64("offset_after", next.Offset).
		Int64("file_size", size).
		Msg("Read chunk")

	return buf, next, nil
}

func unavailable(path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s does not exist: %w", domain.ErrResourceUnavailable, path, fs.ErrNotExist)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrResourceUnavailable, path, err)
}
