package models

import (
	"time"
)

// EventType categorizes grid engine events.
type EventType string

const (
	// Page fetch lifecycle
	EventTypePageRequested EventType = "page-requested"
	EventTypePageReceived  EventType = "page-received"
	EventTypePageLoaded    EventType = "page-loaded"
	EventTypePageFailed    EventType = "page-failed"

	// Cache lifecycle
	EventTypeCacheCleared EventType = "cache-cleared"
	EventTypeSizeChanged  EventType = "size-changed"
)

// Event is a notification emitted by a grid's data provider controller.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type categorizes the event.
	Type EventType `json:"type"`

	// GridID identifies the emitting grid.
	GridID string `json:"grid_id"`

	// Page is the page index for page events.
	Page int `json:"page"`

	// Level is the nesting depth of the cache node the page belongs to.
	Level int `json:"level"`

	// ParentPath is the per-level index path of the row that owns the node.
	// It is empty for the root node.
	ParentPath []int `json:"parent_path,omitempty"`

	// Count is the number of items carried by a page-received event.
	Count int `json:"count"`

	// FlatSize is the grid's flattened row count after the event.
	FlatSize int `json:"flat_size"`

	// Error is set on page-failed events.
	Error string `json:"error,omitempty"`

	// Metadata contains additional context.
	Metadata map[string]string `json:"metadata,omitempty"`
}
