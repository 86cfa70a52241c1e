package offset

import (
	"context"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/SteelMorgan/binary-file-source/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func openStore(t *testing.T) (*BoltDBStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cursors.db")
	store, err := NewBoltDBStore(path)
	require.NoError(t, err)
	return store, path
}

func TestBoltDBStore_GetMissing(t *testing.T) {
	store, _ := openStore(t)
	defer store.Close()

	_, found, err := store.Get(context.Background(), "/data/none.bin")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBoltDBStore_CommitSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	store, path := openStore(t)

	want := domain.Cursor{Resource: "/data/data1.bin", Offset: 10, Generation: 3}
	require.NoError(t, store.Commit(ctx, want))
	require.NoError(t, store.Close())

	reopened, err := NewBoltDBStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, found, err := reopened.Get(ctx, want.Resource)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want, got)
}

func TestBoltDBStore_CommitIsMonotonic(t *testing.T) {
	tests := []struct {
		name string
		next domain.Cursor
		want domain.Cursor
	}{
		{
			name: "forward in same generation",
			next: domain.Cursor{Resource: "r", Offset: 20, Generation: 1},
			want: domain.Cursor{Resource: "r", Offset: 20, Generation: 1},
		},
		{
			name: "backward in same generation is ignored",
			next: domain.Cursor{Resource: "r", Offset: 5, Generation: 1},
			want: domain.Cursor{Resource: "r", Offset: 10, Generation: 1},
		},
		{
			name: "newer generation resets offset",
			next: domain.Cursor{Resource: "r", Offset: 3, Generation: 2},
			want: domain.Cursor{Resource: "r", Offset: 3, Generation: 2},
		},
		{
			name: "older generation is ignored",
			next: domain.Cursor{Resource: "r", Offset: 99, Generation: 0},
			want: domain.Cursor{Resource: "r", Offset: 10, Generation: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store, _ := openStore(t)
			defer store.Close()

			require.NoError(t, store.Commit(ctx, domain.Cursor{Resource: "r", Offset: 10, Generation: 1}))
			require.NoError(t, store.Commit(ctx, tt.next))

			got, found, err := store.Get(ctx, "r")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBoltDBStore_DeleteAndList(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)
	defer store.Close()

	require.NoError(t, store.Commit(ctx, domain.Cursor{Resource: "a", Offset: 1}))
	require.NoError(t, store.Commit(ctx, domain.Cursor{Resource: "b", Offset: 2, Generation: 4}))
	require.NoError(t, store.Delete(ctx, "a"))

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]domain.Cursor{
		"b": {Resource: "b", Offset: 2, Generation: 4},
	}, all)
}

func TestBoltDBStore_ReadsLegacyOffsets(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)
	defer store.Close()

	legacy := make([]byte, 8)
	binary.BigEndian.PutUint64(legacy, 42)
	require.NoError(t, store.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte("old"), legacy)
	}))

	got, found, err := store.Get(ctx, "old")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, domain.Cursor{Resource: "old", Offset: 42}, got)
}

func TestMemoryStore_CommitIsMonotonic(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Commit(ctx, domain.Cursor{Resource: "r", Offset: 10}))
	require.NoError(t, store.Commit(ctx, domain.Cursor{Resource: "r", Offset: 4}))

	got, found, err := store.Get(ctx, "r")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(10), got.Offset)
}
