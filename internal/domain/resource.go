package domain

import "time"

// WatchMode selects how the ingestion task discovers resources
type WatchMode int

const (
	ModeDirectory WatchMode = iota
	ModeSingleFile
)

// String returns the mode name used in logs and metrics
func (m WatchMode) String() string {
	switch m {
	case ModeDirectory:
		return "directory"
	case ModeSingleFile:
		return "single_file"
	default:
		return "unknown"
	}
}

// FileState is the lifecycle state of a watched resource
type FileState int

const (
	StateDiscovered FileState = iota
	StateInProgress
	StateDrained
	StateRotated
	StateRemoved
)

// String returns the state name used in logs
func (s FileState) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateInProgress:
		return "in_progress"
	case StateDrained:
		return "drained"
	case StateRotated:
		return "rotated"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// WatchedResource is a file surfaced by a watcher as ready for reading.
// ID is the stable identity used as the offset key.
type WatchedResource struct {
	ID         string
	Path       string
	Name       string
	Generation uint64
	Size       int64
	ModTime    time.Time
	State      FileState

	// Reset is set when the generation changed during this poll; the
	// cursor must restart at offset 0 regardless of any stored value.
	Reset bool
}

// Cursor is the read position of a resource within one generation
type Cursor struct {
	Resource   string `yaml:"resource"`
	Offset     int64  `yaml:"offset"`
	Generation uint64 `yaml:"generation"`
}

// Record is one chunk of a resource, tagged with the offsets around it.
// Contiguous records of the same resource and generation satisfy
// After(n) == Before(n+1).
type Record struct {
	Resource   string
	Path       string
	Generation uint64
	Before     int64
	After      int64
	Payload    []byte
}

// Cursor returns the position to commit once the record is acknowledged
func (r Record) Cursor() Cursor {
	return Cursor{
		Resource:   r.Resource,
		Offset:     r.After,
		Generation: r.Generation,
	}
}
