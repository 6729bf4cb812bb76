// Package events fans grid controller events out to subscribers.
package events

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/lablup/backend.ai-sub009/internal/models"
)

// Subscription errors returned by Subscribe and Unsubscribe.
var (
	ErrInvalidSubscriptionID = errors.New("events: subscription ID is required")
	ErrNilHandler            = errors.New("events: handler cannot be nil")
	ErrSubscriptionExists    = errors.New("events: subscription already exists")
	ErrSubscriptionNotFound  = errors.New("events: subscription not found")
)

// EventHandler receives one event on the publishing goroutine.
type EventHandler func(event *models.Event)

// Filter selects events. Zero fields match everything.
type Filter struct {
	EventTypes []models.EventType
	GridID     string

	// RootOnly drops events raised for expanded children.
	RootOnly bool
}

// Matches reports whether event passes every set field of f.
func (f *Filter) Matches(event *models.Event) bool {
	switch {
	case event == nil:
		return false
	case len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, event.Type):
		return false
	case f.GridID != "" && f.GridID != event.GridID:
		return false
	case f.RootOnly && event.Level > 0:
		return false
	}
	return true
}

// Publisher is what a grid controller reports page and cache events to.
type Publisher interface {
	// Publish delivers event to every subscriber whose filter matches.
	Publish(ctx context.Context, event *models.Event)
	// Subscribe registers handler under a unique id.
	Subscribe(id string, filter Filter, handler EventHandler) error
	// Unsubscribe removes the subscription registered under id.
	Unsubscribe(id string) error
	// SubscriberCount returns the number of live subscriptions.
	SubscriberCount() int
}

type subscriber struct {
	id      string
	filter  Filter
	handler EventHandler
}

// InMemoryPublisher delivers events synchronously, in subscription order,
// on the publishing goroutine. It can retain a window of recent events for
// the browser's event log.
type InMemoryPublisher struct {
	mu      sync.RWMutex
	subs    []subscriber
	history *eventRing
}

// PublisherOption configures an InMemoryPublisher.
type PublisherOption func(*InMemoryPublisher)

// WithHistory retains the last n events for Recent.
func WithHistory(n int) PublisherOption {
	return func(p *InMemoryPublisher) {
		if n > 0 {
			p.history = &eventRing{buf: make([]*models.Event, n)}
		}
	}
}

// NewInMemoryPublisher creates a publisher with no subscribers.
func NewInMemoryPublisher(opts ...PublisherOption) *InMemoryPublisher {
	p := &InMemoryPublisher{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish delivers event to matching subscribers in subscription order and
// stops early once ctx is done.
func (p *InMemoryPublisher) Publish(ctx context.Context, event *models.Event) {
	if event == nil {
		return
	}

	p.mu.Lock()
	if p.history != nil {
		p.history.push(event)
	}
	targets := make([]EventHandler, 0, len(p.subs))
	for i := range p.subs {
		if p.subs[i].filter.Matches(event) {
			targets = append(targets, p.subs[i].handler)
		}
	}
	p.mu.Unlock()

	// Handlers run unlocked: they may publish again or unsubscribe themselves.
	for _, h := range targets {
		if ctx.Err() != nil {
			return
		}
		h(event)
	}
}

// Subscribe appends a subscriber. Ids must be unique.
func (p *InMemoryPublisher) Subscribe(id string, filter Filter, handler EventHandler) error {
	if id == "" {
		return ErrInvalidSubscriptionID
	}
	if handler == nil {
		return ErrNilHandler
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.indexOf(id) >= 0 {
		return ErrSubscriptionExists
	}
	p.subs = append(p.subs, subscriber{id: id, filter: filter, handler: handler})
	return nil
}

// Unsubscribe removes the subscriber registered under id.
func (p *InMemoryPublisher) Unsubscribe(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.indexOf(id)
	if i < 0 {
		return ErrSubscriptionNotFound
	}
	p.subs = slices.Delete(p.subs, i, i+1)
	return nil
}

func (p *InMemoryPublisher) indexOf(id string) int {
	return slices.IndexFunc(p.subs, func(s subscriber) bool { return s.id == id })
}

// SubscriberCount returns the number of live subscriptions.
func (p *InMemoryPublisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}

// Recent returns up to n retained events, oldest first. n <= 0 returns all.
func (p *InMemoryPublisher) Recent(n int) []*models.Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.history == nil {
		return nil
	}
	return p.history.last(n)
}

// Close drops every subscriber. Retained history survives.
func (p *InMemoryPublisher) Close() {
	p.mu.Lock()
	p.subs = nil
	p.mu.Unlock()
}

type eventRing struct {
	buf   []*models.Event
	next  int
	count int
}

func (r *eventRing) push(e *models.Event) {
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	r.count = min(r.count+1, len(r.buf))
}

func (r *eventRing) last(n int) []*models.Event {
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]*models.Event, n)
	first := r.next - n + len(r.buf)
	for i := range out {
		out[i] = r.buf[(first+i)%len(r.buf)]
	}
	return out
}
