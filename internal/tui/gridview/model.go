// Package gridview is the terminal grid browser. It renders the rows a
// virtualizer assigns and merges page fetches on the bubbletea event loop.
package gridview

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/lablup/backend.ai-sub009/internal/config"
	"github.com/lablup/backend.ai-sub009/internal/events"
	"github.com/lablup/backend.ai-sub009/internal/grid/dataprovider"
	"github.com/lablup/backend.ai-sub009/internal/grid/itemcache"
	"github.com/lablup/backend.ai-sub009/internal/grid/sortfilter"
	"github.com/lablup/backend.ai-sub009/internal/grid/virtualizer"
	"github.com/lablup/backend.ai-sub009/internal/logging"
	"github.com/lablup/backend.ai-sub009/internal/models"
)

const (
	tickInterval = 50 * time.Millisecond

	// chromeRows is the title, header, status and help lines.
	chromeRows = 4

	deliveryBuffer = 64
	eventBuffer    = 16
	historySize    = 64

	minWidth = 40
)

// ErrNoProvider is returned by New without a page provider.
var ErrNoProvider = errors.New("gridview: no page provider")

// Config controls the grid browser.
type Config struct {
	// Provider serves the rows.
	Provider dataprovider.PageProvider[models.Row]

	// Source describes the provider in the title bar.
	Source string

	// Hierarchy names the row tree (agents, resource_groups, volumes).
	Hierarchy string

	PageSize             int
	FetchTimeout         time.Duration
	MaxConcurrentFetches int

	ViewportRows   int
	Overscan       int
	ScrollDebounce time.Duration

	Theme     string
	ShowLevel bool

	// ViewState is restored when it was saved for the same hierarchy.
	ViewState *config.ViewState
}

type uiMode int

const (
	modeBrowse uiMode = iota
	modeFilter
)

// deliveryMsg carries a finished fetch onto the event loop.
type deliveryMsg struct {
	apply func()
}

type gridEventMsg struct {
	event *models.Event
}

type tickMsg time.Time

// copiedMsg reports the result of copying a row ID.
type copiedMsg struct {
	id  string
	err error
}

// writeClipboard is swapped out by tests.
var writeClipboard = clipboard.WriteAll

// Model is the bubbletea model of the grid browser.
type Model struct {
	ctrl        *dataprovider.Controller[models.Row]
	virt        *virtualizer.Virtualizer
	pipeline    *sortfilter.Pipeline
	publisher   *events.InMemoryPublisher
	unsubscribe func()

	deliveries chan func()
	gridEvents chan *models.Event
	done       chan struct{}
	stop       *sync.Once

	hierarchy string
	rootKind  models.RowKind
	source    string
	showLevel bool
	logger    zerolog.Logger

	keys    KeyMap
	help    help.Model
	spinner spinner.Model
	input   textinput.Model
	styles  styles

	width         int
	height        int
	mode          uiMode
	column        int
	expanded      map[string]struct{}
	restoreOffset int
	lastErr       string
	notice        string
	quitting      bool
}

// New creates the browser model. Close releases it when the program is not
// run through Run.
func New(cfg Config) (Model, error) {
	if cfg.Provider == nil {
		return Model{}, ErrNoProvider
	}
	rootKind, ok := rootKinds[cfg.Hierarchy]
	if !ok {
		return Model{}, fmt.Errorf("gridview: unknown hierarchy '%s'", cfg.Hierarchy)
	}

	m := Model{
		publisher:  events.NewInMemoryPublisher(events.WithHistory(historySize)),
		deliveries: make(chan func(), deliveryBuffer),
		gridEvents: make(chan *models.Event, eventBuffer),
		done:       make(chan struct{}),
		stop:       &sync.Once{},
		hierarchy:  cfg.Hierarchy,
		rootKind:   rootKind,
		source:     cfg.Source,
		showLevel:  cfg.ShowLevel,
		logger:     logging.Component("gridview"),
		keys:       DefaultKeyMap(),
		help:       help.New(),
		spinner:    spinner.New(spinner.WithSpinner(spinner.Dot)),
		input:      textinput.New(),
		styles:     newStyles(resolvePalette(cfg.Theme)),
		expanded:   make(map[string]struct{}),
	}
	m.input.CharLimit = 128

	deliveries, done := m.deliveries, m.done
	m.ctrl = dataprovider.New[models.Row](cfg.Provider, dataprovider.Config{
		PageSize:             cfg.PageSize,
		FetchTimeout:         cfg.FetchTimeout,
		MaxConcurrentFetches: cfg.MaxConcurrentFetches,
		Publisher:            m.publisher,
		Deliver: func(apply func()) {
			select {
			case deliveries <- apply:
			case <-done:
			}
		},
	},
		dataprovider.WithItemID(models.RowID),
		dataprovider.WithHasChildren(models.HasChildren),
		dataprovider.WithChildCount(func(r models.Row) int { return r.ChildCount }),
	)
	m.virt = virtualizer.New(m.ctrl, virtualizer.Config{
		ViewportRows:   cfg.ViewportRows,
		Overscan:       cfg.Overscan,
		ScrollDebounce: cfg.ScrollDebounce,
	}, nil)
	m.pipeline = sortfilter.NewPipeline(m.ctrl.SetQuery)

	// Handlers run on whichever goroutine published, often the event loop
	// itself, so they must never block.
	gridEvents := m.gridEvents
	unsubscribe, err := m.ctrl.Subscribe(events.Filter{
		EventTypes: []models.EventType{models.EventTypePageFailed},
	}, func(event *models.Event) {
		select {
		case gridEvents <- event:
		default:
		}
	})
	if err != nil {
		m.ctrl.Close()
		return Model{}, err
	}
	m.unsubscribe = unsubscribe

	if vs := cfg.ViewState; vs != nil && vs.Hierarchy == cfg.Hierarchy {
		m.restore(vs)
	}
	return m, nil
}

func (m *Model) restore(vs *config.ViewState) {
	sorters, filters, err := vs.Query()
	if err != nil {
		m.logger.Warn().Err(err).Msg("ignoring saved sort and filter")
	} else {
		m.pipeline.Apply(sorters, filters)
	}

	items := make([]models.Row, 0, len(vs.Expanded))
	for _, id := range vs.Expanded {
		kind, rowID, ok := strings.Cut(id, "/")
		if !ok || rowID == "" {
			continue
		}
		items = append(items, models.Row{Kind: models.RowKind(kind), ID: rowID, ChildCount: 1})
		m.expanded[id] = struct{}{}
	}
	m.ctrl.SetExpandedItems(items)
	m.restoreOffset = vs.Offset

	m.logger.Debug().
		Int("sorters", len(sorters)).
		Int("filters", len(filters)).
		Int("expanded", len(items)).
		Int("offset", vs.Offset).
		Msg("view restored")
}

// Close stops fetches and releases the event subscription.
func (m Model) Close() {
	m.stop.Do(func() {
		close(m.done)
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
		m.ctrl.Close()
		m.publisher.Close()
	})
}

// ViewState captures what Run saves for the next start.
func (m Model) ViewState() config.ViewState {
	vs := config.ViewState{
		Hierarchy: m.hierarchy,
		Offset:    m.virt.Offset(),
	}
	vs.SetQuery(m.pipeline.SortOrders(), m.pipeline.Filters())
	for id := range m.expanded {
		vs.Expanded = append(vs.Expanded, id)
	}
	sort.Strings(vs.Expanded)
	return vs
}

// Recent returns the last n grid events, newest last.
func (m Model) Recent(n int) []*models.Event {
	return m.publisher.Recent(n)
}

// Run starts the browser and returns its final view state.
func Run(cfg Config, opts ...tea.ProgramOption) (config.ViewState, error) {
	m, err := New(cfg)
	if err != nil {
		return config.ViewState{}, err
	}
	program := tea.NewProgram(m, append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)...)
	final, err := program.Run()
	if fm, ok := final.(Model); ok {
		fm.Close()
		return fm.ViewState(), err
	}
	m.Close()
	return config.ViewState{}, err
}

func waitForDelivery(deliveries <-chan func(), done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case apply := <-deliveries:
			return deliveryMsg{apply: apply}
		case <-done:
			return nil
		}
	}
}

func waitForEvent(gridEvents <-chan *models.Event, done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case event := <-gridEvents:
			return gridEventMsg{event: event}
		case <-done:
			return nil
		}
	}
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init requests the first page and starts the listeners.
func (m Model) Init() tea.Cmd {
	m.ctrl.EnsureFirstPage()
	return tea.Batch(
		waitForDelivery(m.deliveries, m.done),
		waitForEvent(m.gridEvents, m.done),
		tick(),
		m.spinner.Tick,
	)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.virt.SetViewportRows(max(1, msg.Height-chromeRows))
		return m, nil
	case deliveryMsg:
		msg.apply()
		m.afterLoad()
		return m, waitForDelivery(m.deliveries, m.done)
	case gridEventMsg:
		m.lastErr = fmt.Sprintf("page %d (level %d) failed: %s", msg.event.Page, msg.event.Level, msg.event.Error)
		return m, waitForEvent(m.gridEvents, m.done)
	case copiedMsg:
		if msg.err != nil {
			m.lastErr = "copy failed: " + msg.err.Error()
		} else {
			m.notice = "copied " + msg.id
		}
		return m, nil
	case tickMsg:
		m.virt.Tick(time.Time(msg))
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m.quit()
		}
		if m.mode == modeFilter {
			return m.updateFilterMode(msg)
		}
		return m.updateBrowseMode(msg)
	}
	return m, nil
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	m.quitting = true
	return m, tea.Quit
}

// afterLoad refreshes the window after a page merge and places the initial
// focus.
func (m *Model) afterLoad() {
	m.virt.OnPageLoaded()
	flatSize := m.ctrl.FlatSize()
	if flatSize == 0 {
		return
	}
	if m.restoreOffset > 0 {
		target := min(m.restoreOffset, flatSize-1)
		m.restoreOffset = 0
		m.virt.ScrollTo(target)
		m.virt.FocusIndex(target)
		return
	}
	if m.virt.FocusedHandle() == virtualizer.Unassigned {
		m.virt.FocusIndex(0)
	}
}

// requery restarts loading after the cache was cleared.
func (m *Model) requery() {
	m.lastErr = ""
	m.ctrl.EnsureFirstPage()
	m.virt.Refresh(true)
}

func (m Model) updateBrowseMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.notice = ""
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m.quit()
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Up):
		m.virt.MoveFocus(-1)
	case key.Matches(msg, m.keys.Down):
		m.virt.MoveFocus(1)
	case key.Matches(msg, m.keys.PageUp):
		m.virt.MoveFocus(-m.virt.ViewportRows())
	case key.Matches(msg, m.keys.PageDown):
		m.virt.MoveFocus(m.virt.ViewportRows())
	case key.Matches(msg, m.keys.Home):
		m.virt.FocusIndex(0)
	case key.Matches(msg, m.keys.End):
		m.virt.FocusIndex(m.ctrl.FlatSize() - 1)
	case key.Matches(msg, m.keys.Toggle):
		m.toggleFocused()
	case key.Matches(msg, m.keys.Expand):
		if row, ok := m.focusedRow(); ok && !m.ctrl.IsExpanded(row) {
			m.toggleFocused()
		}
	case key.Matches(msg, m.keys.Collapse):
		m.collapseOrParent()
	case key.Matches(msg, m.keys.PrevColumn):
		m.moveColumn(-1)
	case key.Matches(msg, m.keys.NextColumn):
		m.moveColumn(1)
	case key.Matches(msg, m.keys.Sort):
		col := m.activeColumn()
		dir := m.pipeline.ToggleSort(col.Path)
		m.logger.Debug().Str("column", col.Path).Str("direction", string(dir)).Msg("sort toggled")
		m.requery()
	case key.Matches(msg, m.keys.Filter):
		col := m.activeColumn()
		m.mode = modeFilter
		m.input.Prompt = strings.ToLower(col.Title) + " ~ "
		m.input.SetValue(m.filterValue(col.Path))
		m.input.CursorEnd()
		return m, m.input.Focus()
	case key.Matches(msg, m.keys.ClearQuery):
		if m.pipeline.Apply(nil, nil) {
			m.requery()
		}
	case key.Matches(msg, m.keys.Copy):
		row, ok := m.focusedRow()
		if !ok {
			return m, nil
		}
		id := models.RowID(row)
		return m, func() tea.Msg {
			return copiedMsg{id: id, err: writeClipboard(id)}
		}
	case key.Matches(msg, m.keys.Reload):
		m.ctrl.ClearCache()
		m.requery()
	}
	return m, nil
}

func (m Model) updateFilterMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Apply):
		m.mode = modeBrowse
		m.input.Blur()
		if m.pipeline.SetFilter(m.activeColumn().Path, m.input.Value()) {
			m.requery()
		}
		return m, nil
	case key.Matches(msg, m.keys.Cancel):
		m.mode = modeBrowse
		m.input.Blur()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) focusedRow() (models.Row, bool) {
	if m.ctrl.FlatSize() == 0 {
		return models.Row{}, false
	}
	return m.ctrl.ItemAt(m.virt.FocusedIndex())
}

func (m *Model) toggleFocused() {
	row, ok := m.focusedRow()
	if !ok || !m.ctrl.HasChildren(row) {
		return
	}
	id := models.RowID(row)
	if m.ctrl.Toggle(row) {
		m.expanded[id] = struct{}{}
	} else {
		delete(m.expanded, id)
	}
	m.virt.Refresh(true)
}

// collapseOrParent collapses the focused row, or moves focus to its parent
// when it is not expanded.
func (m *Model) collapseOrParent() {
	row, ok := m.focusedRow()
	if !ok {
		return
	}
	if m.ctrl.IsExpanded(row) {
		m.toggleFocused()
		return
	}
	path, err := m.ctrl.PathOfFlatIndex(m.virt.FocusedIndex())
	if err != nil || len(path) < 2 {
		return
	}
	parent, err := m.ctrl.GetFlatIndexByPath(path[:len(path)-1]...)
	if err != nil {
		return
	}
	m.virt.FocusIndex(parent)
}

// columnKind is the row kind whose columns the header shows: the focused
// row's, or the root kind before anything is loaded.
func (m Model) columnKind() models.RowKind {
	if row, ok := m.focusedRow(); ok {
		if _, known := layouts[row.Kind]; known {
			return row.Kind
		}
	}
	return m.rootKind
}

func (m Model) activeColumn() column {
	cols := layoutFor(m.columnKind())
	return cols[min(m.column, len(cols)-1)]
}

func (m *Model) moveColumn(delta int) {
	n := len(layoutFor(m.columnKind()))
	m.column = ((min(m.column, n-1)+delta)%n + n) % n
}

func (m Model) filterValue(path string) string {
	for _, f := range m.pipeline.Filters() {
		if f.Path == path {
			return f.Value
		}
	}
	return ""
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	width := max(minWidth, m.width)
	clip := lipgloss.NewStyle().MaxWidth(width)

	lines := make([]string, 0, m.virt.ViewportRows()+chromeRows)
	lines = append(lines, clip.Render(m.renderTitle()))
	lines = append(lines, clip.Render(m.renderHeader()))

	visible := m.virt.Visible()
	for _, r := range visible {
		ctx, err := m.ctrl.GetFlatIndexContext(r.FlatIndex)
		if err != nil {
			continue
		}
		lines = append(lines, clip.Render(m.renderRow(ctx, r.Focused)))
	}
	for i := len(visible); i < m.virt.ViewportRows(); i++ {
		lines = append(lines, "")
	}

	lines = append(lines, clip.Render(m.renderStatus()))
	lines = append(lines, m.help.View(m.keys))
	return strings.Join(lines, "\n")
}

func (m Model) renderTitle() string {
	title := fmt.Sprintf("gridctl  %s  %s  rows:%d loaded:%d expanded:%d",
		m.source,
		m.hierarchy,
		m.ctrl.FlatSize(),
		m.ctrl.LoadedCount(),
		m.ctrl.ExpandedCount(),
	)
	if m.ctrl.IsLoading() {
		title += fmt.Sprintf("  %s loading %d", m.spinner.View(), m.ctrl.PendingCount())
	}
	if m.virt.State() == virtualizer.Scrolling {
		title += "  scrolling"
	}
	return m.styles.Title.Render(title)
}

func (m Model) renderHeader() string {
	cols := layoutFor(m.columnKind())
	active := min(m.column, len(cols)-1)
	parts := make([]string, 0, len(cols)+1)
	parts = append(parts, strings.Repeat(" ", m.gutterWidth(0)))
	for i, c := range cols {
		label := c.Title
		switch m.pipeline.Direction(c.Path) {
		case sortfilter.Asc:
			label += "↑"
		case sortfilter.Desc:
			label += "↓"
		}
		if m.filterValue(c.Path) != "" {
			label += "*"
		}
		style := m.styles.Header
		if i == active {
			style = m.styles.HeaderFocus
		}
		parts = append(parts, style.Render(fit(label, c.Width)))
	}
	return strings.Join(parts, " ")
}

// gutterWidth is the indentation and expander width of a row at level.
func (m Model) gutterWidth(level int) int {
	if !m.showLevel {
		return 4
	}
	return 4 + 2*level
}

func (m Model) renderRow(ctx itemcache.Context[models.Row], focused bool) string {
	cursor := "  "
	if focused {
		cursor = m.styles.Marker.Render("> ")
	}
	indent := ""
	if m.showLevel {
		indent = strings.Repeat("  ", ctx.Level)
	}

	if !ctx.Loaded {
		return cursor + indent + "  " + m.styles.Placeholder.Render("loading…")
	}

	row := ctx.Item
	expander := "  "
	if m.ctrl.HasChildren(row) {
		expander = "▸ "
		if m.ctrl.IsExpanded(row) {
			expander = "▾ "
		}
	}

	cols := layoutFor(row.Kind)
	cells := make([]string, 0, len(cols))
	for _, c := range cols {
		text := fit(cellText(row, c), c.Width)
		if c.Path == "status" {
			text = m.styles.statusStyle(row.String("status")).Render(text)
		}
		cells = append(cells, text)
	}
	body := strings.Join(cells, " ")
	if focused {
		body = m.styles.Focused.Render(body)
	} else {
		body = m.styles.Row.Render(body)
	}
	return cursor + indent + expander + body
}

func (m Model) renderStatus() string {
	if m.mode == modeFilter {
		return m.styles.Prompt.Render("filter ") + m.input.View()
	}
	if m.lastErr != "" {
		return m.styles.Error.Render("Error: " + m.lastErr)
	}

	var parts []string
	if sorters := m.pipeline.SortOrders(); len(sorters) > 0 {
		specs := make([]string, len(sorters))
		for i, s := range sorters {
			specs[i] = s.String()
		}
		parts = append(parts, "sort "+strings.Join(specs, ","))
	}
	if filters := m.pipeline.Filters(); len(filters) > 0 {
		specs := make([]string, len(filters))
		for i, f := range filters {
			specs[i] = f.String()
		}
		parts = append(parts, "filter "+strings.Join(specs, ","))
	}
	if m.notice != "" {
		parts = append(parts, m.notice)
	}
	if recent := m.publisher.Recent(1); len(recent) == 1 {
		parts = append(parts, describeEvent(recent[0]))
	}
	if m.ctrl.FlatSize() > 0 {
		parts = append(parts, fmt.Sprintf("row %d/%d", m.virt.FocusedIndex()+1, m.ctrl.FlatSize()))
	}
	return m.styles.Status.Render(strings.Join(parts, "  "))
}

// describeEvent is the status bar form of a grid event, e.g. "page-loaded p2 L1".
func describeEvent(ev *models.Event) string {
	switch ev.Type {
	case models.EventTypePageRequested, models.EventTypePageReceived,
		models.EventTypePageLoaded, models.EventTypePageFailed:
		text := fmt.Sprintf("%s p%d", ev.Type, ev.Page)
		if ev.Level > 0 {
			text += fmt.Sprintf(" L%d", ev.Level)
		}
		return text
	default:
		return string(ev.Type)
	}
}
