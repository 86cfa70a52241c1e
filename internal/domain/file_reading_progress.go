package domain

import "time"

// IngestionProgress represents the committed progress of one resource.
// It mirrors the offset store with extra metadata for monitoring.
type IngestionProgress struct {
	Timestamp     time.Time
	TaskID        string
	Mode          string // "directory" or "single_file"
	Topic         string
	ResourceID    string
	FileName      string // Just filename for easier queries
	Generation    uint64
	FileSizeBytes int64 // Size observed when the batch was read
	OffsetBytes   int64 // Committed position
	RecordsSent   uint64
}
