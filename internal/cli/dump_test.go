package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lablup/backend.ai-sub009/internal/datasource/memory"
	"github.com/lablup/backend.ai-sub009/internal/grid/dataprovider"
	"github.com/lablup/backend.ai-sub009/internal/grid/sortfilter"
	"github.com/lablup/backend.ai-sub009/internal/models"
)

func testRows() []models.Row {
	agents := []*models.Agent{
		{ID: "i-a", Status: models.AgentStatusLost, Region: "us-east"},
		{ID: "i-b", Status: models.AgentStatusAlive, Region: "us-east", SessionCount: 1},
		{ID: "i-c", Status: models.AgentStatusAlive, Region: "eu-west", SessionCount: 2},
		{ID: "i-d", Status: models.AgentStatusAlive, Region: "eu-west"},
		{ID: "i-e", Status: models.AgentStatusRestarting, Region: "ap-south"},
	}
	var rows []models.Row
	for _, a := range agents {
		rows = append(rows, a.Row())
	}
	for _, s := range []*models.ComputeSession{
		{ID: "s1", AgentID: "i-c", Name: "train", Status: models.SessionStatusRunning},
		{ID: "s2", AgentID: "i-c", Name: "notebook", Status: models.SessionStatusPending},
		{ID: "s3", AgentID: "i-b", Name: "infer", Status: models.SessionStatusRunning},
	} {
		rows = append(rows, s.Row())
	}
	return rows
}

func walk(t *testing.T, provider dataprovider.PageProvider[models.Row], opts walkOptions) ([]DumpRow, error) {
	t.Helper()
	if opts.Grid.PageSize == 0 {
		opts.Grid.PageSize = 2
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return walkGrid(ctx, provider, opts)
}

func dumpIDs(rows []DumpRow) []string {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids
}

func TestWalkGridRoots(t *testing.T) {
	rows, err := walk(t, memory.New(testRows()), walkOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"i-a", "i-b", "i-c", "i-d", "i-e"}, dumpIDs(rows))
	for _, r := range rows {
		assert.Zero(t, r.Level)
		assert.Equal(t, models.RowKindAgent, r.Kind)
	}
}

func TestWalkGridExpandAll(t *testing.T) {
	rows, err := walk(t, memory.New(testRows()), walkOptions{ExpandAll: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"i-a", "i-b", "s3", "i-c", "s1", "s2", "i-d", "i-e"}, dumpIDs(rows))
	assert.Equal(t, 1, rows[2].Level)
	assert.Equal(t, models.RowKindSession, rows[2].Kind)
	assert.Equal(t, "i-b", rows[2].ParentID)
}

func TestWalkGridExpandSelected(t *testing.T) {
	rows, err := walk(t, memory.New(testRows()), walkOptions{Expand: []string{"agent/i-c"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"i-a", "i-b", "i-c", "s1", "s2", "i-d", "i-e"}, dumpIDs(rows))
}

func TestWalkGridLimit(t *testing.T) {
	rows, err := walk(t, memory.New(testRows()), walkOptions{ExpandAll: true, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"i-a", "i-b", "s3"}, dumpIDs(rows))
}

func TestWalkGridSortAndFilter(t *testing.T) {
	rows, err := walk(t, memory.New(testRows()), walkOptions{
		Sorters: []sortfilter.SortOrder{{Path: "id", Direction: sortfilter.Desc}},
		Filters: []sortfilter.Filter{{Path: "status", Value: "alive"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"i-d", "i-c", "i-b"}, dumpIDs(rows))
}

func TestWalkGridReportsPageFailure(t *testing.T) {
	failing := dataprovider.ProviderFunc[models.Row](func(ctx context.Context, req dataprovider.PageRequest[models.Row]) (dataprovider.PageResponse[models.Row], error) {
		return dataprovider.PageResponse[models.Row]{}, errors.New("backend down")
	})
	_, err := walk(t, failing, walkOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")
}

func TestWalkGridStreamsEvents(t *testing.T) {
	var buf bytes.Buffer
	rows, err := walk(t, memory.New(testRows()), walkOptions{
		Events:      &buf,
		EventFilter: StreamConfig{EventTypes: []models.EventType{models.EventTypePageLoaded}},
	})
	require.NoError(t, err)
	require.Len(t, rows, 5)

	var pages []int
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var event models.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event))
		assert.Equal(t, models.EventTypePageLoaded, event.Type)
		pages = append(pages, event.Page)
	}
	assert.Equal(t, []int{0, 1, 2}, pages)
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWalkGridReportsEventWriteFailure(t *testing.T) {
	_, err := walk(t, memory.New(testRows()), walkOptions{Events: brokenWriter{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestWalkGridRootOnlyEvents(t *testing.T) {
	var buf bytes.Buffer
	rows, err := walk(t, memory.New(testRows()), walkOptions{
		ExpandAll:   true,
		Events:      &buf,
		EventFilter: StreamConfig{EventTypes: []models.EventType{models.EventTypePageLoaded}, RootOnly: true},
	})
	require.NoError(t, err)
	require.Len(t, rows, 8)

	scanner := bufio.NewScanner(&buf)
	loaded := 0
	for scanner.Scan() {
		var event models.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event))
		assert.Zero(t, event.Level)
		loaded++
	}
	assert.Equal(t, 3, loaded, "three root pages of two rows, no child pages")
}

func TestExpandTargets(t *testing.T) {
	items, err := expandTargets([]string{"agent/i-1", "resource_group/default"})
	require.NoError(t, err)
	assert.Equal(t, "agent/i-1", models.RowID(items[0]))
	assert.Equal(t, models.RowKindResourceGroup, items[1].Kind)

	_, err = expandTargets([]string{"i-1"})
	assert.Error(t, err)
	_, err = expandTargets([]string{"node/i-1"})
	assert.Error(t, err)
}

func TestWriteRowTableIndentsChildren(t *testing.T) {
	rows, err := walk(t, memory.New(testRows()), walkOptions{Expand: []string{"agent/i-b"}})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeRowTable(&buf, rows, []string{"id", "status"}))
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 7)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[0], "STATUS")
	assert.True(t, strings.HasPrefix(lines[3], "  s3"))
	assert.Contains(t, lines[3], "RUNNING")

	buf.Reset()
	require.NoError(t, writeRowTable(&buf, nil, nil))
	assert.Equal(t, "No rows.\n", buf.String())
}

func TestParseEventTypes(t *testing.T) {
	types, err := ParseEventTypes(" page-loaded, page-failed ,")
	require.NoError(t, err)
	assert.Equal(t, []models.EventType{models.EventTypePageLoaded, models.EventTypePageFailed}, types)

	types, err = ParseEventTypes("")
	require.NoError(t, err)
	assert.Nil(t, types)

	_, err = ParseEventTypes("page-lost")
	assert.Error(t, err)
}
