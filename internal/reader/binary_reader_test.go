package reader

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/SteelMorgan/binary-file-source/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestBinaryReader_Read(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data1.bin")
	writeFile(t, path, []byte("0123456789"))

	tests := []struct {
		name      string
		offset    int64
		maxBytes  int
		wantChunk string
		wantAfter int64
	}{
		{name: "first chunk", offset: 0, maxBytes: 4, wantChunk: "0123", wantAfter: 4},
		{name: "middle chunk", offset: 4, maxBytes: 4, wantChunk: "4567", wantAfter: 8},
		{name: "short tail", offset: 8, maxBytes: 4, wantChunk: "89", wantAfter: 10},
		{name: "at end", offset: 10, maxBytes: 4, wantChunk: "", wantAfter: 10},
		{name: "whole file", offset: 0, maxBytes: 1024, wantChunk: "0123456789", wantAfter: 10},
	}

	r := NewBinaryReader()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cursor := domain.Cursor{Resource: path, Offset: tt.offset, Generation: 2}
			chunk, next, err := r.Read(context.Background(), path, cursor, tt.maxBytes)
			require.NoError(t, err)
			assert.Equal(t, tt.wantChunk, string(chunk))
			assert.Equal(t, tt.wantAfter, next.Offset)
			assert.Equal(t, uint64(2), next.Generation, "generation is carried through")
		})
	}
}

func TestBinaryReader_TilesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tile.bin")
	content := bytes.Repeat([]byte{0x00, 0xff, 0x10, 0x7f, 0x42}, 203)
	writeFile(t, path, content)

	r := NewBinaryReader()
	cursor := domain.Cursor{Resource: path}
	var got []byte
	for {
		chunk, next, err := r.Read(context.Background(), path, cursor, 64)
		require.NoError(t, err)
		if len(chunk) == 0 {
			break
		}
		assert.Equal(t, cursor.Offset+int64(len(chunk)), next.Offset)
		got = append(got, chunk...)
		cursor = next
	}
	assert.Equal(t, content, got)
}

func TestBinaryReader_Errors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "short.bin")
	writeFile(t, path, []byte("abc"))

	r := NewBinaryReader()

	t.Run("missing file", func(t *testing.T) {
		_, _, err := r.Read(context.Background(), filepath.Join(dir, "nope.bin"), domain.Cursor{}, 4)
		require.ErrorIs(t, err, domain.ErrResourceUnavailable)
		assert.ErrorIs(t, err, fs.ErrNotExist)
	})

	t.Run("cursor past end", func(t *testing.T) {
		cursor := domain.Cursor{Resource: path, Offset: 10}
		_, next, err := r.Read(context.Background(), path, cursor, 4)
		require.ErrorIs(t, err, domain.ErrResourceShrunk)
		assert.Equal(t, cursor, next, "cursor is unchanged on failure")
	})

	t.Run("invalid max bytes", func(t *testing.T) {
		_, _, err := r.Read(context.Background(), path, domain.Cursor{}, 0)
		require.Error(t, err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, _, err := r.Read(ctx, path, domain.Cursor{}, 4)
		require.ErrorIs(t, err, context.Canceled)
	})
}
