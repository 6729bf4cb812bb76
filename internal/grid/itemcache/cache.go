// Package itemcache implements the hierarchical page cache behind the grid.
//
// Nodes are kept in an arena and addressed by Handle. The root node holds the
// top-level rows; every expanded row may own a child node holding its
// sub-rows. Collapsing a row never discards its child node, so re-expansion
// is served from memory.
package itemcache

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring"
)

// Handle addresses a node inside a Cache arena.
type Handle uint32

const (
	// RootHandle is the handle of the top-level node.
	RootHandle Handle = 0

	// NoHandle marks the absence of a parent.
	NoHandle Handle = math.MaxUint32
)

// Cache errors.
var (
	ErrFlatIndexOutOfRange = errors.New("flat index out of range")
	ErrInvalidHandle       = errors.New("invalid cache handle")
	ErrInvalidPath         = errors.New("invalid index path")
)

type node[T any] struct {
	live bool

	items   map[int]T
	loaded  *roaring.Bitmap
	pending *roaring.Bitmap

	size     int
	pageSize int
	flatSize int

	parent      Handle
	parentIndex int
	level       int
	children    map[int]Handle
}

// Cache is an arena-backed tree of page caches.
type Cache[T any] struct {
	nodes      []node[T]
	generation uint64
	isExpanded func(item T) bool
}

// New creates a cache whose root is responsible for size items fetched in
// pages of pageSize. isExpanded decides whether a loaded row's sub-tree
// contributes to the flat size; nil means nothing is ever expanded.
func New[T any](size, pageSize int, isExpanded func(item T) bool) *Cache[T] {
	if isExpanded == nil {
		isExpanded = func(T) bool { return false }
	}
	c := &Cache[T]{isExpanded: isExpanded}
	c.Reset(size, pageSize)
	return c
}

// Reset discards the whole tree and starts over with an empty root.
// Handles issued before the reset become invalid.
func (c *Cache[T]) Reset(size, pageSize int) {
	if pageSize < 1 {
		pageSize = 1
	}
	if size < 0 {
		size = 0
	}
	c.generation++
	c.nodes = c.nodes[:0]
	c.nodes = append(c.nodes, newNode[T](size, pageSize, NoHandle, -1, 0))
	c.nodes[RootHandle].flatSize = size
}

func newNode[T any](size, pageSize int, parent Handle, parentIndex, level int) node[T] {
	return node[T]{
		live:        true,
		items:       make(map[int]T),
		loaded:      roaring.New(),
		pending:     roaring.New(),
		size:        size,
		pageSize:    pageSize,
		parent:      parent,
		parentIndex: parentIndex,
		level:       level,
		children:    make(map[int]Handle),
	}
}

// SetExpandedFunc replaces the expansion predicate. Callers must run
// RecalculateFlatSize afterwards.
func (c *Cache[T]) SetExpandedFunc(isExpanded func(item T) bool) {
	if isExpanded == nil {
		isExpanded = func(T) bool { return false }
	}
	c.isExpanded = isExpanded
}

// Generation identifies the current tree instance. It changes on every Reset.
func (c *Cache[T]) Generation() uint64 {
	return c.generation
}

// Valid reports whether h addresses a live node of the current tree.
func (c *Cache[T]) Valid(h Handle) bool {
	return int(h) < len(c.nodes) && c.nodes[h].live
}

func (c *Cache[T]) node(h Handle) (*node[T], error) {
	if !c.Valid(h) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}
	return &c.nodes[h], nil
}

// Size returns the number of items node h is responsible for.
func (c *Cache[T]) Size(h Handle) int {
	n, err := c.node(h)
	if err != nil {
		return 0
	}
	return n.size
}

// PageSize returns the page granularity of node h.
func (c *Cache[T]) PageSize(h Handle) int {
	n, err := c.node(h)
	if err != nil {
		return 0
	}
	return n.pageSize
}

// Level returns the nesting depth of node h (root is 0).
func (c *Cache[T]) Level(h Handle) int {
	n, err := c.node(h)
	if err != nil {
		return 0
	}
	return n.level
}

// Parent returns the parent handle and the parent row's local index.
// The root returns NoHandle and -1.
func (c *Cache[T]) Parent(h Handle) (Handle, int) {
	n, err := c.node(h)
	if err != nil {
		return NoHandle, -1
	}
	return n.parent, n.parentIndex
}

// FlatSize returns the number of rows node h contributes to the flat list.
func (c *Cache[T]) FlatSize(h Handle) int {
	n, err := c.node(h)
	if err != nil {
		return 0
	}
	return n.flatSize
}

// LoadedCount returns how many slots of node h hold an item.
func (c *Cache[T]) LoadedCount(h Handle) int {
	n, err := c.node(h)
	if err != nil {
		return 0
	}
	return int(n.loaded.GetCardinality())
}

// SetSize changes the item count of node h. Shrinking drops cached items,
// child nodes and pending pages beyond the new size. Page 0 stays pending
// since its response is what tells an emptied node its size.
func (c *Cache[T]) SetSize(h Handle, size int) error {
	n, err := c.node(h)
	if err != nil {
		return err
	}
	if size < 0 {
		size = 0
	}
	if size < n.size {
		n.loaded.RemoveRange(uint64(size), uint64(n.size))
		for idx := range n.items {
			if idx >= size {
				delete(n.items, idx)
			}
		}
		for idx, child := range n.children {
			if idx >= size {
				c.release(child)
				delete(n.children, idx)
			}
		}
		firstGone := max(1, (size+n.pageSize-1)/n.pageSize)
		n.pending.RemoveRange(uint64(firstGone), uint64(math.MaxUint32)+1)
	}
	n.size = size
	return nil
}

func (c *Cache[T]) release(h Handle) {
	n := &c.nodes[h]
	for _, child := range n.children {
		c.release(child)
	}
	n.live = false
	n.items = nil
	n.children = nil
}

// Item returns the cached item at local index idx of node h.
func (c *Cache[T]) Item(h Handle, idx int) (T, bool) {
	var zero T
	n, err := c.node(h)
	if err != nil || idx < 0 || idx >= n.size {
		return zero, false
	}
	item, ok := n.items[idx]
	return item, ok
}

// IsLoaded reports whether local slot idx of node h holds an item.
func (c *Cache[T]) IsLoaded(h Handle, idx int) bool {
	n, err := c.node(h)
	if err != nil || idx < 0 {
		return false
	}
	return n.loaded.Contains(uint32(idx))
}

// PageOf returns the page index holding local index idx in node h.
func (c *Cache[T]) PageOf(h Handle, idx int) int {
	n, err := c.node(h)
	if err != nil || idx < 0 {
		return 0
	}
	return idx / n.pageSize
}

// SetPage writes items into node h starting at page*pageSize. Entries past the
// node's size are ignored. It returns the number of slots written.
func (c *Cache[T]) SetPage(h Handle, page int, items []T) (int, error) {
	n, err := c.node(h)
	if err != nil {
		return 0, err
	}
	if page < 0 {
		return 0, fmt.Errorf("negative page index %d", page)
	}
	start := page * n.pageSize
	written := 0
	for i, item := range items {
		idx := start + i
		if idx >= n.size {
			break
		}
		n.items[idx] = item
		n.loaded.Add(uint32(idx))
		written++
	}
	return written, nil
}

// MarkPending records page as in flight for node h. It returns false if the
// page was already pending.
func (c *Cache[T]) MarkPending(h Handle, page int) bool {
	n, err := c.node(h)
	if err != nil || page < 0 {
		return false
	}
	return n.pending.CheckedAdd(uint32(page))
}

// ClearPending removes page from the in-flight set of node h.
func (c *Cache[T]) ClearPending(h Handle, page int) {
	n, err := c.node(h)
	if err != nil || page < 0 {
		return
	}
	n.pending.Remove(uint32(page))
}

// IsPending reports whether page of node h is in flight.
func (c *Cache[T]) IsPending(h Handle, page int) bool {
	n, err := c.node(h)
	if err != nil || page < 0 {
		return false
	}
	return n.pending.Contains(uint32(page))
}

// PendingCount returns the number of in-flight pages across the whole tree.
func (c *Cache[T]) PendingCount() int {
	total := 0
	for i := range c.nodes {
		if c.nodes[i].live {
			total += int(c.nodes[i].pending.GetCardinality())
		}
	}
	return total
}

// IsLoading reports whether node h or any of its descendants has a page in
// flight.
func (c *Cache[T]) IsLoading(h Handle) bool {
	n, err := c.node(h)
	if err != nil {
		return false
	}
	if !n.pending.IsEmpty() {
		return true
	}
	for _, child := range n.children {
		if c.IsLoading(child) {
			return true
		}
	}
	return false
}

// Child returns the child node registered for parentIndex in node h.
func (c *Cache[T]) Child(h Handle, parentIndex int) (Handle, bool) {
	n, err := c.node(h)
	if err != nil {
		return NoHandle, false
	}
	child, ok := n.children[parentIndex]
	return child, ok
}

// CreateChildCache registers an empty child node for the row at parentIndex.
// At most one child exists per row: an existing child is returned unchanged
// with created set to false.
func (c *Cache[T]) CreateChildCache(h Handle, parentIndex, size int) (child Handle, created bool, err error) {
	n, err := c.node(h)
	if err != nil {
		return NoHandle, false, err
	}
	if parentIndex < 0 || parentIndex >= n.size {
		return NoHandle, false, fmt.Errorf("parent index %d outside node size %d", parentIndex, n.size)
	}
	if existing, ok := n.children[parentIndex]; ok {
		return existing, false, nil
	}
	if size < 0 {
		size = 0
	}
	pageSize, level := n.pageSize, n.level+1

	c.nodes = append(c.nodes, newNode[T](size, pageSize, h, parentIndex, level))
	child = Handle(len(c.nodes) - 1)
	// c.nodes may have been reallocated; index again.
	c.nodes[h].children[parentIndex] = child
	return child, true, nil
}

// ParentItem returns the row that node h expands.
func (c *Cache[T]) ParentItem(h Handle) (T, bool) {
	var zero T
	n, err := c.node(h)
	if err != nil || n.parent == NoHandle {
		return zero, false
	}
	return c.Item(n.parent, n.parentIndex)
}

// RecalculateFlatSize recomputes flat sizes bottom-up from the root and
// returns the root's flat size. A child whose parent row is not expanded
// contributes nothing but keeps its cached content.
func (c *Cache[T]) RecalculateFlatSize() int {
	return c.recalculate(RootHandle)
}

func (c *Cache[T]) recalculate(h Handle) int {
	n := &c.nodes[h]
	total := n.size
	for idx, child := range n.children {
		item, ok := n.items[idx]
		if !ok || !c.isExpanded(item) {
			c.collapse(child)
			continue
		}
		total += c.recalculate(child)
	}
	c.nodes[h].flatSize = total
	return total
}

func (c *Cache[T]) collapse(h Handle) {
	c.nodes[h].flatSize = 0
}

// sortedChildren returns the child keys of n in ascending order.
func sortedChildren[T any](n *node[T]) []int {
	keys := make([]int, 0, len(n.children))
	for idx := range n.children {
		keys = append(keys, idx)
	}
	sort.Ints(keys)
	return keys
}
