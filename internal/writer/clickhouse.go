package writer

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/SteelMorgan/binary-file-source/internal/domain"
	"github.com/rs/zerolog/log"
)

// ProgressTable is the table committed progress is mirrored to
const ProgressTable = "ingest_progress"

// ClickHouse DateTime64 valid range: 1925-01-01 to 2283-11-11
var (
	minClickHouseDateTime = time.Date(1925, 1, 1, 0, 0, 0, 0, time.UTC)
	maxClickHouseDateTime = time.Date(2283, 11, 11, 23, 59, 59, 999999999, time.UTC)
)

// ensureValidDateTime ensures the time value is within ClickHouse DateTime64 range
// Returns the input time if valid, or minClickHouseDateTime if out of range or zero
func ensureValidDateTime(t time.Time) time.Time {
	if t.IsZero() || t.Before(minClickHouseDateTime) || t.After(maxClickHouseDateTime) {
		return minClickHouseDateTime
	}
	return t
}

// Execer runs DDL, satisfied by *clickhouse.Client
type Execer interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
}

// ProgressTableDDL returns the CREATE statement for the progress table.
// ReplacingMergeTree keeps the newest row per resource and generation.
func ProgressTableDDL(database string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
    timestamp DateTime64(3),
    task_id String,
    mode LowCardinality(String),
    topic LowCardinality(String),
    resource_id String,
    file_name String,
    generation UInt64,
    file_size_bytes Int64,
    offset_bytes Int64,
    records_sent UInt64
) ENGINE = ReplacingMergeTree(timestamp)
ORDER BY (resource_id, generation)`, database, ProgressTable)
}

// EnsureSchema creates the database and progress table when missing
func EnsureSchema(ctx context.Context, db Execer, database string) error {
	if err := db.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database)); err != nil {
		return fmt.Errorf("failed to create database %s: %w", database, err)
	}
	if err := db.Exec(ctx, ProgressTableDDL(database)); err != nil {
		return fmt.Errorf("failed to create table %s.%s: %w", database, ProgressTable, err)
	}
	log.Info().Str("database", database).Str("table", ProgressTable).Msg("ClickHouse schema ready")
	return nil
}

// ClickHouseProgressWriter writes progress rows to ClickHouse, one batch per commit
type ClickHouseProgressWriter struct {
	conn     clickhouse.Conn
	database string
}

// NewClickHouseProgressWriter creates a progress writer on an open connection
func NewClickHouseProgressWriter(conn clickhouse.Conn, database string) *ClickHouseProgressWriter {
	return &ClickHouseProgressWriter{
		conn:     conn,
		database: database,
	}
}

// WriteProgress sends rows as a single batch
func (w *ClickHouseProgressWriter) WriteProgress(ctx context.Context, rows []domain.IngestionProgress) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := w.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s.%s", w.database, ProgressTable))
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, p := range rows {
		if err := batch.Append(progressRow(p)...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	log.Debug().
		Int("rows", len(rows)).
		Msg("Ingestion progress written to ClickHouse")

	return nil
}

// Close is a no-op: the connection belongs to the clickhouse client
func (w *ClickHouseProgressWriter) Close() error {
	return nil
}

// progressRow orders a progress value by the table's columns
func progressRow(p domain.IngestionProgress) []any {
	return []any{
		ensureValidDateTime(p.Timestamp),
		p.TaskID,
		p.Mode,
		p.Topic,
		p.ResourceID,
		p.FileName,
		p.Generation,
		p.FileSizeBytes,
		p.OffsetBytes,
		p.RecordsSent,
	}
}
