package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// Entry is a file as seen by a Lister
type Entry struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
	FileID  string // device:inode where the platform exposes it, empty otherwise
}

// Lister is the filesystem seam of the watchers
type Lister interface {
	// List returns the regular files directly inside dir.
	// An error means the directory itself could not be read.
	List(ctx context.Context, dir string) ([]Entry, error)

	// Stat describes one file. The boolean is false when the path does not exist.
	Stat(ctx context.Context, path string) (Entry, bool, error)
}

// OSLister lists files on the local filesystem
type OSLister struct {
	// Pattern is an optional filepath.Match glob applied to file names
	Pattern string
}

// NewOSLister creates a lister with an optional name pattern
func NewOSLister(pattern string) *OSLister {
	return &OSLister{Pattern: pattern}
}

// List returns regular files in dir that match the pattern
func (l *OSLister) List(ctx context.Context, dir string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, d := range dirEntries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if d.IsDir() || !l.matches(d.Name()) {
			continue
		}

		info, err := d.Info()
		if err != nil {
			// Removed between ReadDir and Info
			log.Debug().Err(err).Str("name", d.Name()).Msg("Skipping entry without file info")
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}

		entries = append(entries, toEntry(filepath.Join(dir, d.Name()), info))
	}

	return entries, nil
}

// Stat describes a single file
func (l *OSLister) Stat(ctx context.Context, path string) (Entry, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	if !info.Mode().IsRegular() {
		return Entry{}, false, fmt.Errorf("%s is not a regular file", path)
	}
	return toEntry(path, info), true, nil
}

func (l *OSLister) matches(name string) bool {
	if l.Pattern == "" {
		return true
	}
	ok, err := filepath.Match(l.Pattern, name)
	return err == nil && ok
}

func toEntry(path string, info fs.FileInfo) Entry {
	return Entry{
		Name:    info.Name(),
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		FileID:  fileID(info),
	}
}
