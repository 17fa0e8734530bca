package events

import "time"

// TypeDirectoryUpdated is emitted when a café record is created or updated.
const TypeDirectoryUpdated = "directory.updated"

// DirectoryUpdated captures an upsert of a café record.
type DirectoryUpdated struct {
	Slug      string
	Closed    bool
	UpdatedAt time.Time
}

// EventType implements the Event interface.
func (DirectoryUpdated) EventType() string { return TypeDirectoryUpdated }
