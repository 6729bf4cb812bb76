// Package virtualizer maps a small pool of reusable row slots onto the window
// of flat indices currently scrolled into view.
//
// A Virtualizer is not safe for concurrent use; it belongs to the goroutine
// that renders the grid.
package virtualizer

import (
	"sort"
	"time"
)

// Source is the part of a grid controller the virtualizer drives.
type Source interface {
	FlatSize() int
	EnsureFlatIndexLoaded(i int)
	EnsureFlatIndexHierarchy(i int)
	IsFlatIndexLoaded(i int) bool
	GetFlatIndexByPath(path ...int) (int, error)
}

// Keyed is implemented by sources that can name the row at a flat index.
// When the flat layout shifts, a slot keeps its index but shows another row;
// comparing keys is how the virtualizer notices.
type Keyed interface {
	RowKey(i int) string
}

// State is the scroll state of a Virtualizer.
type State int

const (
	// Idle means the window is stable.
	Idle State = iota
	// Scrolling means the window moved within the debounce window.
	Scrolling
)

func (s State) String() string {
	if s == Scrolling {
		return "scrolling"
	}
	return "idle"
}

// Unassigned is the FlatIndex of a pool slot that shows no row.
const Unassigned = -1

// Row is one pool slot.
type Row struct {
	// Handle identifies the slot for its whole lifetime.
	Handle int
	// FlatIndex is the row the slot shows, or Unassigned.
	FlatIndex int
	// Loaded is whether the row was cached when the slot was last updated.
	Loaded bool
	// Key is the source's RowKey for FlatIndex at the last update. It stays
	// empty for sources that do not implement Keyed.
	Key string
	// Focused marks the slot holding keyboard focus.
	Focused bool
}

// RowUpdater is called for every slot that was assigned a new row or whose
// row changed.
type RowUpdater func(row Row)

// Config contains configuration for a Virtualizer.
type Config struct {
	// ViewportRows is the number of rows on screen.
	// Default: 20
	ViewportRows int

	// Overscan is the number of extra rows kept above and below the viewport.
	// Default: 5
	Overscan int

	// ScrollDebounce is how long the window must be still before the state
	// returns to Idle.
	// Default: 150ms
	ScrollDebounce time.Duration

	// Clock returns the current time. Default: time.Now.
	Clock func() time.Time
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ViewportRows:   20,
		Overscan:       5,
		ScrollDebounce: 150 * time.Millisecond,
		Clock:          time.Now,
	}
}

// Virtualizer owns the row pool of one grid.
type Virtualizer struct {
	source  Source
	config  Config
	updater RowUpdater

	pool       []Row
	nextHandle int
	offset     int
	rangeStart int
	rangeEnd   int
	focused    int

	state      State
	lastScroll time.Time

	pendingPath []int
}

// New creates a Virtualizer over source. updater may be nil.
func New(source Source, config Config, updater RowUpdater) *Virtualizer {
	defaults := DefaultConfig()
	if config.ViewportRows <= 0 {
		config.ViewportRows = defaults.ViewportRows
	}
	if config.Overscan < 0 {
		config.Overscan = 0
	}
	if config.ScrollDebounce <= 0 {
		config.ScrollDebounce = defaults.ScrollDebounce
	}
	if config.Clock == nil {
		config.Clock = defaults.Clock
	}

	v := &Virtualizer{
		source:  source,
		config:  config,
		updater: updater,
		focused: Unassigned,
	}
	v.growPool(v.poolSize())
	return v
}

func (v *Virtualizer) poolSize() int {
	return v.config.ViewportRows + 2*v.config.Overscan
}

func (v *Virtualizer) growPool(n int) {
	for len(v.pool) < n {
		v.pool = append(v.pool, Row{Handle: v.nextHandle, FlatIndex: Unassigned})
		v.nextHandle++
	}
}

// State returns the scroll state.
func (v *Virtualizer) State() State {
	return v.state
}

// Offset returns the first flat index in the viewport.
func (v *Virtualizer) Offset() int {
	return v.offset
}

// ViewportRows returns the number of rows on screen.
func (v *Virtualizer) ViewportRows() int {
	return v.config.ViewportRows
}

// Range returns the rendered window [start, end), overscan included.
func (v *Virtualizer) Range() (int, int) {
	return v.rangeStart, v.rangeEnd
}

// PoolSize returns the number of slots.
func (v *Virtualizer) PoolSize() int {
	return len(v.pool)
}

// SetViewportRows resizes the viewport. The pool grows or shrinks to match;
// a focused slot survives shrinking.
func (v *Virtualizer) SetViewportRows(rows int) {
	if rows <= 0 || rows == v.config.ViewportRows {
		return
	}
	v.config.ViewportRows = rows
	want := v.poolSize()
	if want > len(v.pool) {
		v.growPool(want)
	} else {
		sort.SliceStable(v.pool, func(a, b int) bool {
			return keepRank(v.pool[a]) < keepRank(v.pool[b])
		})
		v.pool = v.pool[:want]
	}
	v.offset = v.clampOffset(v.offset)
	v.Update(nil, nil)
}

// keepRank orders slots for truncation: focused first, then assigned rows by
// index, then free slots.
func keepRank(r Row) int {
	switch {
	case r.Focused:
		return -1
	case r.FlatIndex == Unassigned:
		return int(^uint(0) >> 1)
	default:
		return r.FlatIndex
	}
}

func (v *Virtualizer) clampOffset(offset int) int {
	maxOffset := v.source.FlatSize() - v.config.ViewportRows
	if maxOffset < 0 {
		maxOffset = 0
	}
	if offset > maxOffset {
		offset = maxOffset
	}
	if offset < 0 {
		offset = 0
	}
	return offset
}

// ScrollTo moves the viewport so that offset is its first row.
func (v *Virtualizer) ScrollTo(offset int) {
	offset = v.clampOffset(offset)
	if offset != v.offset {
		v.offset = offset
		v.state = Scrolling
		v.lastScroll = v.config.Clock()
	}
	v.Update(nil, nil)
}

// ScrollBy moves the viewport by delta rows.
func (v *Virtualizer) ScrollBy(delta int) {
	v.ScrollTo(v.offset + delta)
}

// Tick advances the debounce timer and reports whether the state changed.
func (v *Virtualizer) Tick(now time.Time) bool {
	if v.state == Scrolling && now.Sub(v.lastScroll) >= v.config.ScrollDebounce {
		v.state = Idle
		return true
	}
	return false
}

// Update recomputes the window and assigns slots to it. from and to override
// the window bounds; nil derives them from the scroll offset and overscan.
// Slots already showing a row inside the window keep it; freed slots take the
// remaining indices in ascending order.
func (v *Virtualizer) Update(from, to *int) {
	flatSize := v.source.FlatSize()
	v.offset = v.clampOffset(v.offset)

	start := v.offset - v.config.Overscan
	end := v.offset + v.config.ViewportRows + v.config.Overscan
	if from != nil {
		start = *from
	}
	if to != nil {
		end = *to
	}
	if start < 0 {
		start = 0
	}
	if end > flatSize {
		end = flatSize
	}
	if end-start > len(v.pool) {
		end = start + len(v.pool)
	}
	if end < start {
		end = start
	}
	v.rangeStart, v.rangeEnd = start, end

	inRange := func(i int) bool { return i >= start && i < end }
	taken := make(map[int]bool, end-start)
	var free []int

	// The focused slot is placed first so no other slot can take its row.
	focusSlot := v.slotOf(v.focused)
	if focusSlot >= 0 {
		r := &v.pool[focusSlot]
		if r.FlatIndex == Unassigned || !inRange(r.FlatIndex) {
			if end > start {
				target := r.FlatIndex
				if target < start {
					target = start
				}
				if target >= end {
					target = end - 1
				}
				r.FlatIndex = target
				v.assigned(r)
			} else {
				r.FlatIndex = Unassigned
			}
		}
		if r.FlatIndex != Unassigned {
			taken[r.FlatIndex] = true
		}
	}

	for s := range v.pool {
		if s == focusSlot {
			continue
		}
		r := &v.pool[s]
		if r.FlatIndex != Unassigned && inRange(r.FlatIndex) && !taken[r.FlatIndex] {
			taken[r.FlatIndex] = true
			continue
		}
		r.FlatIndex = Unassigned
		free = append(free, s)
	}

	next := 0
	for i := start; i < end && next < len(free); i++ {
		if taken[i] {
			continue
		}
		r := &v.pool[free[next]]
		next++
		r.FlatIndex = i
		taken[i] = true
		v.assigned(r)
	}
}

// assigned refreshes a slot that received a new row and asks the source for
// the row's data.
func (v *Virtualizer) assigned(r *Row) {
	v.ensure(r.FlatIndex)
	r.Loaded = v.source.IsFlatIndexLoaded(r.FlatIndex)
	r.Key = v.keyOf(r.FlatIndex)
	if v.updater != nil {
		v.updater(*r)
	}
}

func (v *Virtualizer) keyOf(i int) string {
	if k, ok := v.source.(Keyed); ok {
		return k.RowKey(i)
	}
	return ""
}

func (v *Virtualizer) ensure(i int) {
	if v.source.IsFlatIndexLoaded(i) {
		v.source.EnsureFlatIndexHierarchy(i)
		return
	}
	v.source.EnsureFlatIndexLoaded(i)
}

func (v *Virtualizer) slotOf(handle int) int {
	if handle == Unassigned {
		return -1
	}
	for s := range v.pool {
		if v.pool[s].Handle == handle {
			return s
		}
	}
	return -1
}

// Refresh re-runs Update and notifies slots whose row finished loading or
// whose index now shows a different row. With all set, every assigned slot is
// notified.
func (v *Virtualizer) Refresh(all bool) {
	v.Update(nil, nil)
	for s := range v.pool {
		r := &v.pool[s]
		if r.FlatIndex == Unassigned {
			continue
		}
		loaded := v.source.IsFlatIndexLoaded(r.FlatIndex)
		key := v.keyOf(r.FlatIndex)
		if !all && loaded == r.Loaded && key == r.Key {
			continue
		}
		r.Loaded, r.Key = loaded, key
		if loaded {
			v.source.EnsureFlatIndexHierarchy(r.FlatIndex)
		} else if all {
			v.source.EnsureFlatIndexLoaded(r.FlatIndex)
		}
		if v.updater != nil {
			v.updater(*r)
		}
	}
}

// OnPageLoaded refreshes the window after a page arrived and retries a
// pending ScrollToIndex target.
func (v *Virtualizer) OnPageLoaded() {
	if v.pendingPath != nil {
		path := v.pendingPath
		v.pendingPath = nil
		_ = v.ScrollToIndex(path...)
	}
	v.Refresh(false)
}

// ScrollToIndex scrolls the row addressed by per-level local indices into the
// viewport. If the row is not loaded yet the path is kept and retried by
// OnPageLoaded.
func (v *Virtualizer) ScrollToIndex(path ...int) error {
	flat, err := v.source.GetFlatIndexByPath(path...)
	if err != nil {
		return err
	}
	v.scrollIntoView(flat)
	if !v.source.IsFlatIndexLoaded(flat) {
		v.pendingPath = append([]int(nil), path...)
	}
	return nil
}

// PendingTarget returns the path still waiting for its page, if any.
func (v *Virtualizer) PendingTarget() ([]int, bool) {
	return v.pendingPath, v.pendingPath != nil
}

func (v *Virtualizer) scrollIntoView(flat int) {
	offset := v.offset
	if flat < offset {
		offset = flat
	}
	if flat >= offset+v.config.ViewportRows {
		offset = flat - v.config.ViewportRows + 1
	}
	v.ScrollTo(offset)
}

// Focus gives keyboard focus to the slot with handle. It returns false for an
// unknown or unassigned slot.
func (v *Virtualizer) Focus(handle int) bool {
	s := v.slotOf(handle)
	if s < 0 || v.pool[s].FlatIndex == Unassigned {
		return false
	}
	v.setFocus(s)
	return true
}

func (v *Virtualizer) setFocus(slot int) {
	for s := range v.pool {
		v.pool[s].Focused = s == slot
	}
	v.focused = v.pool[slot].Handle
}

// FocusIndex scrolls flat index i into view and focuses the slot showing it.
func (v *Virtualizer) FocusIndex(i int) bool {
	flatSize := v.source.FlatSize()
	if flatSize == 0 {
		return false
	}
	if i < 0 {
		i = 0
	}
	if i >= flatSize {
		i = flatSize - 1
	}
	// Release the old focus so Update does not drag it along.
	if s := v.slotOf(v.focused); s >= 0 {
		v.pool[s].Focused = false
	}
	v.focused = Unassigned
	v.scrollIntoView(i)
	for s := range v.pool {
		if v.pool[s].FlatIndex == i {
			v.setFocus(s)
			return true
		}
	}
	return false
}

// MoveFocus moves focus by delta rows.
func (v *Virtualizer) MoveFocus(delta int) bool {
	return v.FocusIndex(v.FocusedIndex() + delta)
}

// FocusedIndex returns the flat index of the focused slot, or 0.
func (v *Virtualizer) FocusedIndex() int {
	if s := v.slotOf(v.focused); s >= 0 && v.pool[s].FlatIndex != Unassigned {
		return v.pool[s].FlatIndex
	}
	return 0
}

// FocusedHandle returns the handle of the focused slot, or Unassigned.
func (v *Virtualizer) FocusedHandle() int {
	return v.focused
}

// Rows returns the assigned slots ordered by flat index.
func (v *Virtualizer) Rows() []Row {
	rows := make([]Row, 0, len(v.pool))
	for _, r := range v.pool {
		if r.FlatIndex != Unassigned {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(a, b int) bool { return rows[a].FlatIndex < rows[b].FlatIndex })
	return rows
}

// Visible returns the assigned slots inside the viewport, ordered by flat
// index.
func (v *Virtualizer) Visible() []Row {
	rows := v.Rows()
	out := rows[:0]
	for _, r := range rows {
		if r.FlatIndex >= v.offset && r.FlatIndex < v.offset+v.config.ViewportRows {
			out = append(out, r)
		}
	}
	return out
}
