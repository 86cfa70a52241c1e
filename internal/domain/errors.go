package domain

import "errors"

var (
	// ErrConfigurationMissing is returned when a required setting is absent
	ErrConfigurationMissing = errors.New("configuration missing")

	// ErrResourceUnavailable is returned when a resource path no longer exists or cannot be opened
	ErrResourceUnavailable = errors.New("resource unavailable")

	// ErrResourceShrunk is returned when a resource is shorter than the cursor offset
	ErrResourceShrunk = errors.New("resource shrunk")

	// ErrDirectoryUnreadable is fatal for the task: no resource can be discovered
	ErrDirectoryUnreadable = errors.New("directory unreadable")
)
