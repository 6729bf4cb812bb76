package virtualizer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource is a flat list whose rows load when ensured and load() is called.
type fakeSource struct {
	size      int
	loaded    map[int]bool
	requested map[int]int
	hierarchy map[int]int
}

func newFakeSource(size int) *fakeSource {
	return &fakeSource{
		size:      size,
		loaded:    map[int]bool{},
		requested: map[int]int{},
		hierarchy: map[int]int{},
	}
}

func (f *fakeSource) FlatSize() int { return f.size }

func (f *fakeSource) EnsureFlatIndexLoaded(i int) {
	if i < 0 || i >= f.size {
		panic("out of range")
	}
	f.requested[i]++
}

func (f *fakeSource) EnsureFlatIndexHierarchy(i int) {
	f.hierarchy[i]++
}

func (f *fakeSource) IsFlatIndexLoaded(i int) bool { return f.loaded[i] }

func (f *fakeSource) GetFlatIndexByPath(path ...int) (int, error) {
	if len(path) != 1 {
		return 0, errors.New("flat source has one level")
	}
	i := path[0]
	if i >= f.size {
		i = f.size - 1
	}
	return i, nil
}

func (f *fakeSource) load(from, to int) {
	for i := from; i < to; i++ {
		f.loaded[i] = true
	}
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestVirtualizer(src Source, rows, overscan int) (*Virtualizer, *clock, *[]Row) {
	clk := &clock{now: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)}
	var updates []Row
	v := New(src, Config{
		ViewportRows:   rows,
		Overscan:       overscan,
		ScrollDebounce: 100 * time.Millisecond,
		Clock:          clk.Now,
	}, func(r Row) { updates = append(updates, r) })
	return v, clk, &updates
}

// requireInvariant checks that assigned slots sit inside the range and never
// share a flat index.
func requireInvariant(t *testing.T, v *Virtualizer) {
	t.Helper()
	start, end := v.Range()
	seen := map[int]int{}
	for _, r := range v.Rows() {
		require.GreaterOrEqual(t, r.FlatIndex, start)
		require.Less(t, r.FlatIndex, end)
		if other, dup := seen[r.FlatIndex]; dup {
			t.Fatalf("slots %d and %d both show row %d", other, r.Handle, r.FlatIndex)
		}
		seen[r.FlatIndex] = r.Handle
	}
	require.Len(t, seen, end-start, "every index in range has a slot")
}

func TestPoolSizeIncludesOverscan(t *testing.T) {
	v, _, _ := newTestVirtualizer(newFakeSource(1000), 10, 3)
	assert.Equal(t, 16, v.PoolSize())
}

func TestUpdateAssignsWindowAndRequestsRows(t *testing.T) {
	src := newFakeSource(1000)
	v, _, updates := newTestVirtualizer(src, 10, 3)

	v.Update(nil, nil)
	start, end := v.Range()
	assert.Equal(t, 0, start)
	assert.Equal(t, 13, end)
	requireInvariant(t, v)
	assert.Len(t, *updates, 13)
	for i := 0; i < 13; i++ {
		assert.Equal(t, 1, src.requested[i], "row %d", i)
	}
	assert.Len(t, v.Visible(), 10)
}

func TestUpdateWithExplicitBounds(t *testing.T) {
	src := newFakeSource(1000)
	v, _, _ := newTestVirtualizer(src, 10, 3)

	from, to := 500, 505
	v.Update(&from, &to)
	start, end := v.Range()
	assert.Equal(t, 500, start)
	assert.Equal(t, 505, end)
	requireInvariant(t, v)

	from, to = 0, 5000
	v.Update(&from, &to)
	_, end = v.Range()
	assert.Equal(t, v.PoolSize(), end, "window never exceeds the pool")
}

func TestScrollingReusesSlotsAlreadyShowingRows(t *testing.T) {
	src := newFakeSource(1000)
	v, _, updates := newTestVirtualizer(src, 10, 2)
	v.Update(nil, nil)

	handles := map[int]int{}
	for _, r := range v.Rows() {
		handles[r.FlatIndex] = r.Handle
	}

	*updates = nil
	v.ScrollBy(3)
	requireInvariant(t, v)
	for _, r := range v.Rows() {
		if h, ok := handles[r.FlatIndex]; ok {
			assert.Equal(t, h, r.Handle, "row %d changed slot", r.FlatIndex)
		}
	}
	// The window moved from [0,12) to [1,15), so rows 12 to 14 are new.
	newRows := map[int]bool{}
	for _, r := range *updates {
		newRows[r.FlatIndex] = true
	}
	assert.Equal(t, map[int]bool{12: true, 13: true, 14: true}, newRows)
}

func TestScrollStateDebounce(t *testing.T) {
	src := newFakeSource(1000)
	v, clk, _ := newTestVirtualizer(src, 10, 2)
	v.Update(nil, nil)
	assert.Equal(t, Idle, v.State())

	v.ScrollTo(0)
	assert.Equal(t, Idle, v.State(), "no movement keeps the window idle")

	v.ScrollBy(5)
	assert.Equal(t, Scrolling, v.State())
	assert.Equal(t, "scrolling", v.State().String())

	clk.now = clk.now.Add(50 * time.Millisecond)
	v.ScrollBy(5)
	assert.False(t, v.Tick(clk.now.Add(99*time.Millisecond)))
	assert.Equal(t, Scrolling, v.State())

	assert.True(t, v.Tick(clk.now.Add(100*time.Millisecond)))
	assert.Equal(t, Idle, v.State())
	assert.False(t, v.Tick(clk.now.Add(time.Second)))
}

func TestScrollClampsToEnd(t *testing.T) {
	src := newFakeSource(25)
	v, _, _ := newTestVirtualizer(src, 10, 2)

	v.ScrollTo(100)
	assert.Equal(t, 15, v.Offset())
	start, end := v.Range()
	assert.Equal(t, 13, start)
	assert.Equal(t, 25, end)
	requireInvariant(t, v)

	v.ScrollTo(-4)
	assert.Equal(t, 0, v.Offset())
}

func TestFocusedSlotKeepsItsRowWhileScrolling(t *testing.T) {
	src := newFakeSource(1000)
	v, _, _ := newTestVirtualizer(src, 10, 2)
	v.Update(nil, nil)

	require.True(t, v.FocusIndex(8))
	handle := v.FocusedHandle()

	v.ScrollBy(4)
	requireInvariant(t, v)
	assert.Equal(t, handle, v.FocusedHandle())
	assert.Equal(t, 8, v.FocusedIndex())

	focused := 0
	for _, r := range v.Rows() {
		if r.Focused {
			focused++
			assert.Equal(t, handle, r.Handle)
		}
	}
	assert.Equal(t, 1, focused)
}

func TestFocusedSlotFollowsWindowEdge(t *testing.T) {
	src := newFakeSource(1000)
	v, _, _ := newTestVirtualizer(src, 10, 2)
	v.Update(nil, nil)
	require.True(t, v.FocusIndex(1))
	handle := v.FocusedHandle()

	v.ScrollTo(100)
	requireInvariant(t, v)
	assert.Equal(t, handle, v.FocusedHandle(), "focus is never handed to another slot")
	start, _ := v.Range()
	assert.Equal(t, start, v.FocusedIndex())
}

func TestMoveFocusScrollsLikeACursor(t *testing.T) {
	src := newFakeSource(100)
	v, _, _ := newTestVirtualizer(src, 5, 1)
	v.Update(nil, nil)

	require.True(t, v.FocusIndex(0))
	for i := 0; i < 7; i++ {
		require.True(t, v.MoveFocus(1))
	}
	assert.Equal(t, 7, v.FocusedIndex())
	assert.Equal(t, 3, v.Offset())

	require.True(t, v.MoveFocus(-5))
	assert.Equal(t, 2, v.FocusedIndex())
	assert.Equal(t, 2, v.Offset())

	require.True(t, v.MoveFocus(-50))
	assert.Equal(t, 0, v.FocusedIndex())
	require.True(t, v.MoveFocus(500))
	assert.Equal(t, 99, v.FocusedIndex())
	requireInvariant(t, v)
}

func TestFocusRejectsUnknownHandle(t *testing.T) {
	v, _, _ := newTestVirtualizer(newFakeSource(3), 5, 1)
	v.Update(nil, nil)
	assert.False(t, v.Focus(999))

	rows := v.Rows()
	require.NotEmpty(t, rows)
	assert.True(t, v.Focus(rows[1].Handle))
	assert.Equal(t, 1, v.FocusedIndex())
}

func TestScrollToIndexWaitsForPage(t *testing.T) {
	src := newFakeSource(1000)
	v, _, _ := newTestVirtualizer(src, 10, 2)
	v.Update(nil, nil)

	require.NoError(t, v.ScrollToIndex(500))
	assert.Equal(t, 491, v.Offset())
	path, pending := v.PendingTarget()
	require.True(t, pending)
	assert.Equal(t, []int{500}, path)
	assert.Equal(t, 1, src.requested[500])

	src.load(450, 550)
	v.OnPageLoaded()
	_, pending = v.PendingTarget()
	assert.False(t, pending)
	assert.Equal(t, 491, v.Offset())

	require.Error(t, v.ScrollToIndex())
}

func TestRefreshNotifiesLoadedRows(t *testing.T) {
	src := newFakeSource(100)
	v, _, updates := newTestVirtualizer(src, 5, 0)
	v.Update(nil, nil)
	*updates = nil

	src.load(0, 3)
	v.Refresh(false)
	require.Len(t, *updates, 3)
	for _, r := range *updates {
		assert.True(t, r.Loaded)
		assert.Equal(t, 1, src.hierarchy[r.FlatIndex])
	}

	*updates = nil
	v.Refresh(false)
	assert.Empty(t, *updates)

	v.Refresh(true)
	assert.Len(t, *updates, 5)
}

func TestShrinkingSourceReleasesSlots(t *testing.T) {
	src := newFakeSource(100)
	v, _, _ := newTestVirtualizer(src, 10, 2)
	v.ScrollTo(50)

	src.size = 4
	v.Refresh(true)
	assert.Equal(t, 0, v.Offset())
	assert.Len(t, v.Rows(), 4)
	requireInvariant(t, v)

	src.size = 0
	v.Update(nil, nil)
	assert.Empty(t, v.Rows())
	assert.False(t, v.FocusIndex(0))
}

func TestSetViewportRowsResizesPool(t *testing.T) {
	src := newFakeSource(1000)
	v, _, _ := newTestVirtualizer(src, 10, 2)
	v.Update(nil, nil)
	require.True(t, v.FocusIndex(9))
	handle := v.FocusedHandle()

	v.SetViewportRows(20)
	assert.Equal(t, 24, v.PoolSize())
	requireInvariant(t, v)

	v.SetViewportRows(4)
	assert.Equal(t, 8, v.PoolSize())
	assert.Equal(t, handle, v.FocusedHandle())
	requireInvariant(t, v)
	assert.Equal(t, 4, v.ViewportRows())
}
