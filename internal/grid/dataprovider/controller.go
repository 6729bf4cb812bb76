package dataprovider

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lablup/backend.ai-sub009/internal/events"
	"github.com/lablup/backend.ai-sub009/internal/grid/itemcache"
	"github.com/lablup/backend.ai-sub009/internal/grid/sortfilter"
	"github.com/lablup/backend.ai-sub009/internal/logging"
	"github.com/lablup/backend.ai-sub009/internal/models"
)

// ErrNoPublisher is returned by Subscribe when events are disabled.
var ErrNoPublisher = errors.New("controller has no event publisher")

// Executor runs a fetch job. The default starts a goroutine per job.
type Executor func(job func())

// Config contains configuration for a Controller.
type Config struct {
	// GridID tags log lines and events. Default: a random UUID.
	GridID string

	// Size is the initial top-level row count.
	Size int

	// PageSize is the fetch granularity.
	// Default: 50
	PageSize int

	// FetchTimeout bounds each provider call. Zero leaves latency to the
	// provider.
	FetchTimeout time.Duration

	// MaxConcurrentFetches limits fetches running at once under the default
	// executor.
	// Default: 4
	MaxConcurrentFetches int

	// Executor replaces the default goroutine executor.
	Executor Executor

	// Deliver schedules the merge of a finished fetch. A UI sets it to hop
	// onto its own event loop so that cache mutations and rendering never
	// interleave. Default: merge on the fetching goroutine.
	Deliver func(apply func())

	// Publisher receives page and cache events. Nil disables events.
	Publisher events.Publisher

	// Logger overrides the grid logger.
	Logger *zerolog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PageSize:             50,
		MaxConcurrentFetches: 4,
	}
}

// Option configures the item callbacks of a Controller.
type Option[T any] func(*Controller[T])

// WithItemID sets the identity used for the expanded set.
// Default: fmt.Sprint of the item.
func WithItemID[T any](fn func(T) string) Option[T] {
	return func(c *Controller[T]) {
		if fn != nil {
			c.itemID = fn
		}
	}
}

// WithHasChildren sets the predicate deciding which rows can expand.
// Default: no row has children.
func WithHasChildren[T any](fn func(T) bool) Option[T] {
	return func(c *Controller[T]) {
		if fn != nil {
			c.hasChildren = fn
		}
	}
}

// WithChildCount gives the expected child row count of an item. A child node
// created for the item starts with that many placeholder rows instead of
// waiting for its first page.
func WithChildCount[T any](fn func(T) int) Option[T] {
	return func(c *Controller[T]) {
		c.childCount = fn
	}
}

// Controller owns a grid's cache tree and schedules its page fetches.
// All methods are safe for concurrent use.
type Controller[T any] struct {
	config   Config
	provider PageProvider[T]
	exec     Executor
	logger   zerolog.Logger

	itemID      func(T) string
	hasChildren func(T) bool
	childCount  func(T) int

	mu         sync.Mutex
	cache      *itemcache.Cache[T]
	size       int
	pageSize   int
	expanded   map[string]struct{}
	sortOrders []sortfilter.SortOrder
	filters    []sortfilter.Filter
	closed     bool

	// answered holds nodes that received at least one page, so an empty
	// child is not fetched again on every pass.
	answered map[itemcache.Handle]struct{}

	// outbox and jobs are drained after the lock is released.
	outbox []*models.Event
	jobs   []func()

	ctx    context.Context
	cancel context.CancelFunc
	sem    chan struct{}
	wg     sync.WaitGroup
}

// New creates a Controller reading pages from provider.
func New[T any](provider PageProvider[T], config Config, opts ...Option[T]) *Controller[T] {
	if config.PageSize <= 0 {
		config.PageSize = DefaultConfig().PageSize
	}
	if config.MaxConcurrentFetches <= 0 {
		config.MaxConcurrentFetches = DefaultConfig().MaxConcurrentFetches
	}
	if config.Size < 0 {
		config.Size = 0
	}
	if config.GridID == "" {
		config.GridID = uuid.NewString()
	}

	c := &Controller[T]{
		config:      config,
		provider:    provider,
		itemID:      func(item T) string { return fmt.Sprint(item) },
		hasChildren: func(T) bool { return false },
		size:        config.Size,
		pageSize:    config.PageSize,
		expanded:    make(map[string]struct{}),
		answered:    make(map[itemcache.Handle]struct{}),
		sem:         make(chan struct{}, config.MaxConcurrentFetches),
	}
	for _, opt := range opts {
		opt(c)
	}

	if config.Logger != nil {
		c.logger = *config.Logger
	} else {
		c.logger = logging.WithGrid(config.GridID)
	}

	c.exec = config.Executor
	if c.exec == nil {
		c.exec = c.goExecutor
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.cache = itemcache.New(c.size, c.pageSize, c.isExpandedLocked)
	return c
}

func (c *Controller[T]) goExecutor(job func()) {
	if c.ctx.Err() != nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case c.sem <- struct{}{}:
		case <-c.ctx.Done():
			job()
			return
		}
		defer func() { <-c.sem }()
		job()
	}()
}

// GridID returns the identifier used in events and logs.
func (c *Controller[T]) GridID() string {
	return c.config.GridID
}

// Close cancels in-flight fetches and waits for goroutines started by the
// default executor. Later completions are discarded.
func (c *Controller[T]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

// isExpandedLocked is the cache's expansion predicate. The cache only calls it
// while c.mu is held.
func (c *Controller[T]) isExpandedLocked(item T) bool {
	if !c.hasChildren(item) {
		return false
	}
	_, ok := c.expanded[c.itemID(item)]
	return ok
}

// unlockAndFlush releases c.mu, then publishes queued events and dispatches
// queued fetch jobs.
func (c *Controller[T]) unlockAndFlush() {
	outbox, jobs := c.outbox, c.jobs
	c.outbox, c.jobs = nil, nil
	c.mu.Unlock()

	if c.config.Publisher != nil {
		for _, event := range outbox {
			c.config.Publisher.Publish(c.ctx, event)
		}
	}
	for _, job := range jobs {
		c.exec(job)
	}
}

func (c *Controller[T]) emit(eventType models.EventType, h itemcache.Handle, page int, mutate func(*models.Event)) {
	if c.config.Publisher == nil {
		return
	}
	event := &models.Event{
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		GridID:    c.config.GridID,
		Page:      page,
		Level:     c.cache.Level(h),
		FlatSize:  c.cache.FlatSize(itemcache.RootHandle),
	}
	if h != itemcache.RootHandle {
		parent, parentIndex := c.cache.Parent(h)
		if path, err := c.cache.PathOf(parent, parentIndex); err == nil {
			event.ParentPath = path
		}
	}
	if mutate != nil {
		mutate(event)
	}
	c.outbox = append(c.outbox, event)
}

// emitFlatSizeChange queues a size-changed event when the flat size differs
// from before.
func (c *Controller[T]) emitFlatSizeChange(before int) {
	after := c.cache.FlatSize(itemcache.RootHandle)
	if after == before {
		return
	}
	c.emit(models.EventTypeSizeChanged, itemcache.RootHandle, 0, func(e *models.Event) {
		e.Metadata = map[string]string{"previous": fmt.Sprint(before)}
	})
}

// EnsureFlatIndexLoaded requests the page holding flat index i unless the
// row is already cached or its page is in flight. It panics if i is outside
// [0, FlatSize()).
func (c *Controller[T]) EnsureFlatIndexLoaded(i int) {
	c.mu.Lock()
	ctx := c.mustContextLocked(i)
	if !ctx.Loaded {
		c.requestPageLocked(ctx.Handle, c.cache.PageOf(ctx.Handle, ctx.Index))
	}
	c.unlockAndFlush()
}

// EnsureFirstPage requests the first top-level page if it is not cached. A
// grid whose size is not known up front starts with this call.
func (c *Controller[T]) EnsureFirstPage() {
	c.mu.Lock()
	if !c.cache.IsLoaded(itemcache.RootHandle, 0) {
		c.requestPageLocked(itemcache.RootHandle, 0)
	}
	c.unlockAndFlush()
}

// EnsureFlatIndexHierarchy creates the child node of the row at flat index i
// when that row is loaded, has children and is expanded, and requests the
// child's first page. It panics if i is outside [0, FlatSize()).
func (c *Controller[T]) EnsureFlatIndexHierarchy(i int) {
	c.mu.Lock()
	ctx := c.mustContextLocked(i)
	if ctx.Loaded && c.isExpandedLocked(ctx.Item) {
		c.ensureChildLocked(ctx.Handle, ctx.Index, ctx.Item)
	}
	c.unlockAndFlush()
}

func (c *Controller[T]) ensureChildLocked(h itemcache.Handle, idx int, item T) {
	if child, ok := c.cache.Child(h, idx); ok {
		if _, done := c.answered[child]; !done && c.cache.Size(child) == 0 {
			c.requestPageLocked(child, 0)
		}
		return
	}

	size := 0
	if c.childCount != nil {
		size = c.childCount(item)
	}
	child, created, err := c.cache.CreateChildCache(h, idx, size)
	if err != nil {
		c.logger.Error().Err(err).Int("index", idx).Msg("failed to create child cache")
		return
	}
	if !created {
		return
	}

	before := c.cache.FlatSize(itemcache.RootHandle)
	c.cache.RecalculateFlatSize()
	c.emitFlatSizeChange(before)
	c.requestPageLocked(child, 0)
}

// requestPageLocked marks page of node h pending and queues its fetch. It is
// a no-op when the page is already in flight or lies past the node's size.
// Page 0 is always fetchable so that nodes of unknown size can learn it.
func (c *Controller[T]) requestPageLocked(h itemcache.Handle, page int) {
	if c.closed || c.provider == nil {
		return
	}
	pageSize := c.cache.PageSize(h)
	if page < 0 || (page > 0 && page*pageSize >= c.cache.Size(h)) {
		return
	}
	if !c.cache.MarkPending(h, page) {
		return
	}

	req := PageRequest[T]{
		Page:       page,
		PageSize:   pageSize,
		SortOrders: cloneSlice(c.sortOrders),
		Filters:    cloneSlice(c.filters),
	}
	if parent, ok := c.cache.ParentItem(h); ok {
		req.ParentItem = &parent
	}
	generation := c.cache.Generation()

	c.logger.Debug().
		Int("page", page).
		Int("page_size", pageSize).
		Int("level", c.cache.Level(h)).
		Uint64("generation", generation).
		Msg("page requested")
	c.emit(models.EventTypePageRequested, h, page, nil)

	c.jobs = append(c.jobs, func() {
		c.fetch(generation, h, req)
	})
}

func (c *Controller[T]) fetch(generation uint64, h itemcache.Handle, req PageRequest[T]) {
	ctx := c.ctx
	if c.config.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.FetchTimeout)
		defer cancel()
	}

	resp, err := c.provider.FetchPage(ctx, req)
	if c.config.Deliver != nil {
		c.config.Deliver(func() { c.complete(generation, h, req, resp, err) })
		return
	}
	c.complete(generation, h, req, resp, err)
}

// complete merges a fetch result into the cache. Results for a cleared tree
// or a released node are dropped.
func (c *Controller[T]) complete(generation uint64, h itemcache.Handle, req PageRequest[T], resp PageResponse[T], err error) {
	c.mu.Lock()
	stale := generation != c.cache.Generation() || !c.cache.Valid(h)
	if !stale {
		c.cache.ClearPending(h, req.Page)
	}
	if stale || c.closed {
		c.logger.Debug().
			Int("page", req.Page).
			Uint64("generation", generation).
			Msg("discarding stale page response")
		c.mu.Unlock()
		return
	}

	if err != nil {
		c.logger.Warn().Err(err).Int("page", req.Page).Int("level", c.cache.Level(h)).Msg("page fetch failed")
		c.emit(models.EventTypePageFailed, h, req.Page, func(e *models.Event) {
			e.Error = err.Error()
		})
		c.unlockAndFlush()
		return
	}

	c.emit(models.EventTypePageReceived, h, req.Page, func(e *models.Event) {
		e.Count = len(resp.Items)
	})
	c.answered[h] = struct{}{}

	before := c.cache.FlatSize(itemcache.RootHandle)
	c.applySizeLocked(h, req, resp)
	written, _ := c.cache.SetPage(h, req.Page, resp.Items)
	c.cache.RecalculateFlatSize()

	c.logger.Debug().
		Int("page", req.Page).
		Int("written", written).
		Int("flat_size", c.cache.FlatSize(itemcache.RootHandle)).
		Msg("page loaded")
	c.emitFlatSizeChange(before)
	c.emit(models.EventTypePageLoaded, h, req.Page, func(e *models.Event) {
		e.Count = written
	})
	c.unlockAndFlush()
}

// applySizeLocked reconciles the node size with a response. A declared size is
// authoritative, even when smaller than before. Without one, a short page ends
// the node, and a full page reaching the known end adds one placeholder row so
// the next page becomes fetchable.
func (c *Controller[T]) applySizeLocked(h itemcache.Handle, req PageRequest[T], resp PageResponse[T]) {
	current := c.cache.Size(h)
	size := current
	if resp.Size != nil {
		size = *resp.Size
	} else {
		end := req.Page*req.PageSize + len(resp.Items)
		switch {
		case len(resp.Items) < req.PageSize:
			size = end
		case end >= current:
			size = end + 1
		}
	}
	if size < 0 {
		size = 0
	}
	if size == current {
		return
	}

	c.logger.Debug().Int("from", current).Int("to", size).Int("level", c.cache.Level(h)).Msg("node size corrected")
	_ = c.cache.SetSize(h, size)
	if h == itemcache.RootHandle {
		c.size = size
	}
}

func (c *Controller[T]) mustContextLocked(i int) itemcache.Context[T] {
	ctx, err := c.cache.GetFlatIndexContext(i)
	if err != nil {
		c.mu.Unlock()
		panic(err)
	}
	return ctx
}

// GetFlatIndexContext resolves flat index i.
func (c *Controller[T]) GetFlatIndexContext(i int) (itemcache.Context[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.GetFlatIndexContext(i)
}

// MustGetFlatIndexContext resolves flat index i and panics when it is out of
// range.
func (c *Controller[T]) MustGetFlatIndexContext(i int) itemcache.Context[T] {
	ctx, err := c.GetFlatIndexContext(i)
	if err != nil {
		panic(err)
	}
	return ctx
}

// ItemAt returns the cached row at flat index i.
func (c *Controller[T]) ItemAt(i int) (T, bool) {
	ctx, err := c.GetFlatIndexContext(i)
	if err != nil || !ctx.Loaded {
		var zero T
		return zero, false
	}
	return ctx.Item, true
}

// IsFlatIndexLoaded reports whether flat index i holds a cached row.
// Out-of-range indices report false.
func (c *Controller[T]) IsFlatIndexLoaded(i int) bool {
	_, ok := c.ItemAt(i)
	return ok
}

// RowKey names what flat index i currently shows: its path through the tree
// and, once loaded, the item's ID. Two calls return the same key only if the
// index still shows the same row. Out-of-range indices return "".
func (c *Controller[T]) RowKey(i int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, err := c.cache.GetFlatIndexContext(i)
	if err != nil {
		return ""
	}
	path, err := c.cache.PathOf(ctx.Handle, ctx.Index)
	if err != nil {
		return ""
	}
	var b strings.Builder
	for n, p := range path {
		if n > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.Itoa(p))
	}
	if ctx.Loaded {
		b.WriteByte('#')
		b.WriteString(c.itemID(ctx.Item))
	}
	return b.String()
}

// GetFlatIndexByPath converts per-level local indices into a flat index.
func (c *Controller[T]) GetFlatIndexByPath(path ...int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.GetFlatIndexByPath(path...)
}

// PathOfFlatIndex returns the per-level local indices of flat index i.
func (c *Controller[T]) PathOfFlatIndex(i int) ([]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, err := c.cache.GetFlatIndexContext(i)
	if err != nil {
		return nil, err
	}
	return c.cache.PathOf(ctx.Handle, ctx.Index)
}

// FlatSize returns the number of rows visible to the scrollbar.
func (c *Controller[T]) FlatSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.FlatSize(itemcache.RootHandle)
}

// Size returns the top-level row count.
func (c *Controller[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// SetSize changes the top-level row count without discarding cached rows
// below the new size.
func (c *Controller[T]) SetSize(size int) {
	if size < 0 {
		size = 0
	}
	c.mu.Lock()
	before := c.cache.FlatSize(itemcache.RootHandle)
	c.size = size
	_ = c.cache.SetSize(itemcache.RootHandle, size)
	c.cache.RecalculateFlatSize()
	c.emitFlatSizeChange(before)
	c.unlockAndFlush()
}

// PageSize returns the fetch granularity.
func (c *Controller[T]) PageSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pageSize
}

// SetPageSize changes the fetch granularity and clears the cache.
func (c *Controller[T]) SetPageSize(pageSize int) {
	if pageSize < 1 {
		pageSize = 1
	}
	c.mu.Lock()
	if pageSize == c.pageSize {
		c.mu.Unlock()
		return
	}
	c.pageSize = pageSize
	c.clearLocked("page size changed")
	c.unlockAndFlush()
}

// SetProvider swaps the data source and clears the cache.
func (c *Controller[T]) SetProvider(provider PageProvider[T]) {
	c.mu.Lock()
	c.provider = provider
	c.clearLocked("data source changed")
	c.unlockAndFlush()
}

// ClearCache discards every cached row and in-flight request and starts over
// with an empty root of the last known size.
func (c *Controller[T]) ClearCache() {
	c.mu.Lock()
	c.clearLocked("cleared")
	c.unlockAndFlush()
}

func (c *Controller[T]) clearLocked(reason string) {
	before := c.cache.FlatSize(itemcache.RootHandle)
	c.cache.Reset(c.size, c.pageSize)
	c.answered = make(map[itemcache.Handle]struct{})
	c.logger.Debug().Str("reason", reason).Int("size", c.size).Uint64("generation", c.cache.Generation()).Msg("cache cleared")
	c.emit(models.EventTypeCacheCleared, itemcache.RootHandle, 0, func(e *models.Event) {
		e.Metadata = map[string]string{"reason": reason}
	})
	c.emitFlatSizeChange(before)
}

// SortOrders returns the sorters sent with every request.
func (c *Controller[T]) SortOrders() []sortfilter.SortOrder {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneSlice(c.sortOrders)
}

// Filters returns the filters sent with every request.
func (c *Controller[T]) Filters() []sortfilter.Filter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneSlice(c.filters)
}

// SetSortOrders replaces the sorters and clears the cache.
func (c *Controller[T]) SetSortOrders(sortOrders []sortfilter.SortOrder) {
	c.mu.Lock()
	c.sortOrders = cloneSlice(sortOrders)
	c.clearLocked("sort changed")
	c.unlockAndFlush()
}

// SetFilters replaces the filters and clears the cache.
func (c *Controller[T]) SetFilters(filters []sortfilter.Filter) {
	c.mu.Lock()
	c.filters = cloneSlice(filters)
	c.clearLocked("filter changed")
	c.unlockAndFlush()
}

// SetQuery replaces sorters and filters together with a single clear. It
// matches sortfilter.InvalidateFunc.
func (c *Controller[T]) SetQuery(sortOrders []sortfilter.SortOrder, filters []sortfilter.Filter) {
	c.mu.Lock()
	c.sortOrders = cloneSlice(sortOrders)
	c.filters = cloneSlice(filters)
	c.clearLocked("query changed")
	c.unlockAndFlush()
}

// SetExpandedItems replaces the expanded set.
func (c *Controller[T]) SetExpandedItems(items []T) {
	c.mu.Lock()
	c.expanded = make(map[string]struct{}, len(items))
	for _, item := range items {
		c.expanded[c.itemID(item)] = struct{}{}
	}
	c.recalculateLocked()
	c.unlockAndFlush()
}

// Expand adds item to the expanded set.
func (c *Controller[T]) Expand(item T) {
	c.mu.Lock()
	c.expanded[c.itemID(item)] = struct{}{}
	c.recalculateLocked()
	c.unlockAndFlush()
}

// Collapse removes item from the expanded set. Its cached children are kept.
func (c *Controller[T]) Collapse(item T) {
	c.mu.Lock()
	delete(c.expanded, c.itemID(item))
	c.recalculateLocked()
	c.unlockAndFlush()
}

// Toggle flips the expansion of item and reports whether it is now expanded.
func (c *Controller[T]) Toggle(item T) bool {
	c.mu.Lock()
	id := c.itemID(item)
	_, expanded := c.expanded[id]
	if expanded {
		delete(c.expanded, id)
	} else {
		c.expanded[id] = struct{}{}
	}
	c.recalculateLocked()
	c.unlockAndFlush()
	return !expanded
}

// IsExpanded reports whether item is expanded and can have children.
func (c *Controller[T]) IsExpanded(item T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isExpandedLocked(item)
}

// HasChildren reports whether item can be expanded.
func (c *Controller[T]) HasChildren(item T) bool {
	return c.hasChildren(item)
}

// ExpandedCount returns the size of the expanded set.
func (c *Controller[T]) ExpandedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.expanded)
}

func (c *Controller[T]) recalculateLocked() {
	before := c.cache.FlatSize(itemcache.RootHandle)
	c.cache.RecalculateFlatSize()
	c.emitFlatSizeChange(before)
}

// IsLoading reports whether any page of the tree is in flight.
func (c *Controller[T]) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.IsLoading(itemcache.RootHandle)
}

// PendingCount returns the number of pages in flight.
func (c *Controller[T]) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.PendingCount()
}

// LoadedCount returns the number of cached top-level rows.
func (c *Controller[T]) LoadedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.LoadedCount(itemcache.RootHandle)
}

// Subscribe registers handler for this grid's events matching filter and
// returns a function that removes the subscription.
func (c *Controller[T]) Subscribe(filter events.Filter, handler events.EventHandler) (func(), error) {
	if c.config.Publisher == nil {
		return nil, ErrNoPublisher
	}
	filter.GridID = c.config.GridID
	id := uuid.NewString()
	if err := c.config.Publisher.Subscribe(id, filter, handler); err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return func() { _ = c.config.Publisher.Unsubscribe(id) }, nil
}

func cloneSlice[E any](in []E) []E {
	if in == nil {
		return nil
	}
	out := make([]E, len(in))
	copy(out, in)
	return out
}
