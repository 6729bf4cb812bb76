package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/lablup/backend.ai-sub009/internal/config"
	"github.com/lablup/backend.ai-sub009/internal/events"
	"github.com/lablup/backend.ai-sub009/internal/grid/dataprovider"
	"github.com/lablup/backend.ai-sub009/internal/grid/sortfilter"
	"github.com/lablup/backend.ai-sub009/internal/models"
	"github.com/lablup/backend.ai-sub009/internal/tui/gridview"
)

var (
	dumpLimit     int
	dumpSort      []string
	dumpFilter    []string
	dumpExpand    []string
	dumpExpandAll bool
	dumpColumns   []string
	dumpEvents    string
	dumpRootOnly  bool
	dumpTimeout   time.Duration
)

// maxDumpCell caps table cells so long names do not push later columns off screen.
const maxDumpCell = 48

func init() {
	rootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().IntVar(&dumpLimit, "limit", 0, "stop after this many rows (0 = all)")
	dumpCmd.Flags().StringSliceVar(&dumpSort, "sort", nil, "sort by path[:asc|desc], repeatable")
	dumpCmd.Flags().StringSliceVar(&dumpFilter, "filter", nil, "filter by path=value, repeatable")
	dumpCmd.Flags().StringSliceVar(&dumpExpand, "expand", nil, "expand rows by kind/id, repeatable")
	dumpCmd.Flags().BoolVar(&dumpExpandAll, "expand-all", false, "expand every row that has children")
	dumpCmd.Flags().StringSliceVar(&dumpColumns, "columns", nil, "field paths to print (default: the browser's columns)")
	dumpCmd.Flags().StringVar(&dumpEvents, "events", "", "stream grid events of these types to stderr as JSONL ('all' for every type)")
	dumpCmd.Flags().BoolVar(&dumpRootOnly, "events-root-only", false, "with --events, skip events of expanded children")
	dumpCmd.Flags().DurationVar(&dumpTimeout, "timeout", time.Minute, "give up when the walk takes longer")
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print rows without the browser",
	Long: `Walk the grid the way the browser does, page by page, and print the
flattened rows. Expanded rows are followed by their children.`,
	Example: `  gridctl dump --limit 20
  gridctl dump --sort status:desc --filter region=eu --expand-all
  gridctl dump --source sqlite --expand agent/i-0001 --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		ctx, cancel := context.WithTimeout(cmd.Context(), dumpTimeout)
		defer cancel()

		src, err := openSource(ctx, cfg)
		if err != nil {
			return err
		}
		defer src.Close()

		opts, err := dumpOptionsFromFlags(cfg)
		if err != nil {
			return err
		}
		if dumpEvents != "" {
			opts.Events = os.Stderr
		}

		rows, err := walkGrid(ctx, src.Provider, opts)
		if err != nil {
			return err
		}
		logger.Debug().Int("rows", len(rows)).Str("source", src.Label).Msg("dump finished")

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), rows)
		}
		columns := dumpColumns
		if len(columns) == 0 {
			columns = gridview.Columns(cfg.DataSource.Hierarchy)
		}
		return writeRowTable(cmd.OutOrStdout(), rows, columns)
	},
}

// walkOptions controls walkGrid.
type walkOptions struct {
	Grid      dataprovider.Config
	Sorters   []sortfilter.SortOrder
	Filters   []sortfilter.Filter
	Expand    []string
	ExpandAll bool
	Limit     int

	// Events receives the grid's events as JSONL when set.
	Events      io.Writer
	EventFilter StreamConfig
}

func dumpOptionsFromFlags(cfg *config.Config) (walkOptions, error) {
	sorters, err := sortfilter.ParseSortOrders(dumpSort)
	if err != nil {
		return walkOptions{}, err
	}
	filters, err := sortfilter.ParseFilters(dumpFilter)
	if err != nil {
		return walkOptions{}, err
	}
	opts := walkOptions{
		Grid: dataprovider.Config{
			PageSize:             cfg.Grid.PageSize,
			FetchTimeout:         cfg.Grid.FetchTimeout,
			MaxConcurrentFetches: cfg.Grid.MaxConcurrentFetches,
		},
		Sorters:   sorters,
		Filters:   filters,
		Expand:    dumpExpand,
		ExpandAll: dumpExpandAll,
		Limit:     dumpLimit,
	}
	if dumpEvents != "" && dumpEvents != "all" {
		types, err := ParseEventTypes(dumpEvents)
		if err != nil {
			return walkOptions{}, err
		}
		opts.EventFilter.EventTypes = types
	}
	opts.EventFilter.RootOnly = dumpRootOnly
	return opts, nil
}

// DumpRow is one flattened row of `gridctl dump`.
type DumpRow struct {
	Level    int            `json:"level"`
	Kind     models.RowKind `json:"kind"`
	ID       string         `json:"id"`
	ParentID string         `json:"parent_id,omitempty"`
	Fields   map[string]any `json:"fields"`
}

// walkGrid drives a controller over provider and returns the flattened rows.
// Fetches are merged on the calling goroutine, so the walk sees the cache the
// way a single-threaded UI would.
func walkGrid(ctx context.Context, provider dataprovider.PageProvider[models.Row], opts walkOptions) ([]DumpRow, error) {
	deliveries := make(chan func(), 16)
	done := make(chan struct{})
	defer close(done)

	publisher := events.NewInMemoryPublisher()
	defer publisher.Close()

	gridCfg := opts.Grid
	gridCfg.Publisher = publisher
	gridCfg.Deliver = func(apply func()) {
		select {
		case deliveries <- apply:
		case <-done:
		}
	}
	ctrl := dataprovider.New[models.Row](provider, gridCfg,
		dataprovider.WithItemID(models.RowID),
		dataprovider.WithHasChildren(models.HasChildren),
		dataprovider.WithChildCount(func(r models.Row) int { return r.ChildCount }),
	)
	defer ctrl.Close()

	var (
		mu       sync.Mutex
		failures []string
	)
	unsubscribe, err := ctrl.Subscribe(events.Filter{
		EventTypes: []models.EventType{models.EventTypePageFailed},
	}, func(event *models.Event) {
		mu.Lock()
		failures = append(failures, event.Error)
		mu.Unlock()
	})
	if err != nil {
		return nil, err
	}
	defer unsubscribe()

	var streamer *EventStreamer
	if opts.Events != nil {
		streamer = NewEventStreamer(opts.Events, opts.EventFilter)
		stop, err := streamer.Attach(ctrl)
		if err != nil {
			return nil, err
		}
		defer stop()
	}

	settle := func() error {
		for ctrl.IsLoading() {
			select {
			case apply := <-deliveries:
				apply()
			case <-ctx.Done():
				return fmt.Errorf("grid walk: %w", ctx.Err())
			}
		}
		mu.Lock()
		defer mu.Unlock()
		if len(failures) > 0 {
			return fmt.Errorf("page fetch failed: %s", failures[0])
		}
		return nil
	}

	if len(opts.Expand) > 0 {
		items, err := expandTargets(opts.Expand)
		if err != nil {
			return nil, err
		}
		ctrl.SetExpandedItems(items)
	}
	ctrl.SetQuery(opts.Sorters, opts.Filters)
	ctrl.EnsureFirstPage()
	if err := settle(); err != nil {
		return nil, err
	}

	var rows []DumpRow
	for i := 0; i < ctrl.FlatSize(); i++ {
		if opts.Limit > 0 && len(rows) >= opts.Limit {
			break
		}
		if !ctrl.IsFlatIndexLoaded(i) {
			ctrl.EnsureFlatIndexLoaded(i)
			if err := settle(); err != nil {
				return nil, err
			}
			if i >= ctrl.FlatSize() {
				break
			}
		}
		c, err := ctrl.GetFlatIndexContext(i)
		if err != nil {
			return nil, err
		}
		if !c.Loaded {
			return nil, fmt.Errorf("row %d did not load", i)
		}
		row := c.Item
		if opts.ExpandAll && ctrl.HasChildren(row) && !ctrl.IsExpanded(row) {
			ctrl.Expand(row)
		}
		if ctrl.IsExpanded(row) {
			ctrl.EnsureFlatIndexHierarchy(i)
			if err := settle(); err != nil {
				return nil, err
			}
		}
		rows = append(rows, DumpRow{
			Level:    c.Level,
			Kind:     row.Kind,
			ID:       row.ID,
			ParentID: row.ParentID,
			Fields:   row.Fields,
		})
	}
	if streamer != nil {
		if err := streamer.Err(); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// expandTargets turns "kind/id" identities into rows the controller can key.
func expandTargets(ids []string) ([]models.Row, error) {
	items := make([]models.Row, 0, len(ids))
	for _, id := range ids {
		kind, rowID, ok := strings.Cut(id, "/")
		if !ok || rowID == "" {
			return nil, fmt.Errorf("invalid row identity '%s' (want kind/id)", id)
		}
		k, err := models.ParseRowKind(kind)
		if err != nil {
			return nil, err
		}
		items = append(items, models.Row{Kind: k, ID: rowID, ChildCount: 1})
	}
	return items, nil
}

func writeRowTable(out io.Writer, rows []DumpRow, columns []string) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(out, "No rows.")
		return err
	}
	headers := []string{"ID", "KIND"}
	for _, c := range columns {
		if c == "id" {
			continue
		}
		headers = append(headers, strings.ToUpper(c))
	}
	t := newTable(headers...).limitCells(maxDumpCell)
	for _, r := range rows {
		row := models.Row{Kind: r.Kind, ID: r.ID, Fields: r.Fields}
		line := []string{strings.Repeat("  ", r.Level) + r.ID, string(r.Kind)}
		for _, c := range columns {
			if c == "id" {
				continue
			}
			line = append(line, gridview.CellText(row, c))
		}
		t.add(line...)
	}
	return t.render(out)
}
