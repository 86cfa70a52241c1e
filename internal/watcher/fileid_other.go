//go:build !unix

package watcher

import "io/fs"

// Without inode numbers rotation falls back to size and mtime checks
func fileID(info fs.FileInfo) string {
	return ""
}
