// Package cli provides the event streaming functionality for CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/lablup/backend.ai-sub009/internal/events"
	"github.com/lablup/backend.ai-sub009/internal/grid/dataprovider"
	"github.com/lablup/backend.ai-sub009/internal/models"
)

// StreamConfig selects which events an EventStreamer writes.
type StreamConfig struct {
	// EventTypes filters to specific event types (nil = all).
	EventTypes []models.EventType

	// RootOnly drops events of expanded children (--events-root-only).
	RootOnly bool
}

// EventStreamer writes a grid's events to an output writer in JSONL format.
type EventStreamer struct {
	out    io.Writer
	config StreamConfig

	mu  sync.Mutex
	err error
}

// NewEventStreamer creates a new event streamer.
func NewEventStreamer(out io.Writer, config StreamConfig) *EventStreamer {
	return &EventStreamer{
		out:    out,
		config: config,
	}
}

// Attach subscribes the streamer to ctrl and returns the unsubscribe func.
func (s *EventStreamer) Attach(ctrl *dataprovider.Controller[models.Row]) (func(), error) {
	return ctrl.Subscribe(events.Filter{
		EventTypes: s.config.EventTypes,
		RootOnly:   s.config.RootOnly,
	}, s.handle)
}

func (s *EventStreamer) handle(event *models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	if err := s.writeEvent(event); err != nil {
		s.err = fmt.Errorf("failed to write event: %w", err)
	}
}

// writeEvent writes a single event as JSONL.
func (s *EventStreamer) writeEvent(event *models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(s.out, string(data))
	return err
}

// Err returns the first write failure. Later events are not written.
func (s *EventStreamer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// ParseEventTypes parses a comma-separated list such as
// "page-loaded,page-failed". An empty string selects every type.
func ParseEventTypes(value string) ([]models.EventType, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	known := map[models.EventType]struct{}{
		models.EventTypePageRequested: {},
		models.EventTypePageReceived:  {},
		models.EventTypePageLoaded:    {},
		models.EventTypePageFailed:    {},
		models.EventTypeCacheCleared:  {},
		models.EventTypeSizeChanged:   {},
	}
	var types []models.EventType
	for _, part := range strings.Split(value, ",") {
		t := models.EventType(strings.TrimSpace(part))
		if t == "" {
			continue
		}
		if _, ok := known[t]; !ok {
			return nil, fmt.Errorf("unknown event type '%s'", t)
		}
		types = append(types, t)
	}
	return types, nil
}
