package writer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/SteelMorgan/binary-file-source/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureValidDateTime(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{name: "zero", in: time.Time{}, want: minClickHouseDateTime},
		{name: "too early", in: time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC), want: minClickHouseDateTime},
		{name: "too late", in: time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC), want: minClickHouseDateTime},
		{name: "valid", in: now, want: now},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ensureValidDateTime(tt.in))
		})
	}
}

func TestProgressRow(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	row := progressRow(domain.IngestionProgress{
		Timestamp:     ts,
		TaskID:        "task-1",
		Mode:          "directory",
		Topic:         "file-binary",
		ResourceID:    "/d/a.bin",
		FileName:      "a.bin",
		Generation:    2,
		FileSizeBytes: 100,
		OffsetBytes:   64,
		RecordsSent:   4,
	})

	assert.Equal(t, []any{
		ts, "task-1", "directory", "file-binary", "/d/a.bin", "a.bin",
		uint64(2), int64(100), int64(64), uint64(4),
	}, row)
}

type recordingExecer struct {
	queries []string
	fail    error
}

func (e *recordingExecer) Exec(ctx context.Context, query string, args ...interface{}) error {
	e.queries = append(e.queries, query)
	return e.fail
}

func TestEnsureSchema(t *testing.T) {
	db := &recordingExecer{}
	require.NoError(t, EnsureSchema(context.Background(), db, "ingest"))

	require.Len(t, db.queries, 2)
	assert.Equal(t, "CREATE DATABASE IF NOT EXISTS ingest", db.queries[0])
	assert.True(t, strings.HasPrefix(db.queries[1], "CREATE TABLE IF NOT EXISTS ingest.ingest_progress"))
	assert.Contains(t, db.queries[1], "ReplacingMergeTree")
}

func TestEnsureSchema_Error(t *testing.T) {
	boom := errors.New("code: 81, database unknown")
	db := &recordingExecer{fail: boom}

	err := EnsureSchema(context.Background(), db, "ingest")
	require.ErrorIs(t, err, boom)
	assert.Len(t, db.queries, 1)
}

func TestClickHouseProgressWriter_EmptyBatch(t *testing.T) {
	w := NewClickHouseProgressWriter(nil, "ingest")
	require.NoError(t, w.WriteProgress(context.Background(), nil))
	require.NoError(t, w.Close())
}
