package sqlquery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lablup/backend.ai-sub009/internal/grid/dataprovider"
	"github.com/lablup/backend.ai-sub009/internal/grid/sortfilter"
	"github.com/lablup/backend.ai-sub009/internal/models"
)

func agentsHierarchy(t *testing.T) Hierarchy {
	t.Helper()
	h, err := LookupHierarchy("agents")
	require.NoError(t, err)
	return h
}

func TestBuildRootPage(t *testing.T) {
	page, err := SQLite.Build(agentsHierarchy(t), dataprovider.PageRequest[models.Row]{
		Page:       2,
		PageSize:   50,
		SortOrders: []sortfilter.SortOrder{{Path: "cpu_slots", Direction: sortfilter.Desc}},
		Filters:    []sortfilter.Filter{{Path: "status", Value: "Al_ive%"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "agents", page.Table.Name)
	require.NotNil(t, page.Child)
	assert.Equal(t, "sessions", page.Child.Name)

	assert.Contains(t, page.Select.SQL, "(SELECT COUNT(*) FROM sessions c WHERE c.agent_id = t.id) AS child_count")
	assert.Contains(t, page.Select.SQL, "WHERE LOWER(CAST(t.status AS TEXT)) LIKE ? ESCAPE '\\'")
	assert.Contains(t, page.Select.SQL, "ORDER BY t.cpu_slots DESC, t.id ASC LIMIT ? OFFSET ?")
	assert.Equal(t, []any{`%al\_ive\%%`, 50, 100}, page.Select.Args)

	assert.Equal(t, "SELECT COUNT(*) FROM agents t WHERE LOWER(CAST(t.status AS TEXT)) LIKE ? ESCAPE '\\'", page.Count.SQL)
	assert.Equal(t, []any{`%al\_ive\%%`}, page.Count.Args)
	assert.Equal(t, "child_count", page.Columns()[len(page.Columns())-1])
}

func TestBuildChildPagePostgres(t *testing.T) {
	parent := (&models.Agent{ID: "i-1", Status: models.AgentStatusAlive}).Row()
	page, err := Postgres.Build(agentsHierarchy(t), dataprovider.PageRequest[models.Row]{
		PageSize:   10,
		ParentItem: &parent,
		Filters:    []sortfilter.Filter{{Path: "name", Value: "train"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "sessions", page.Table.Name)
	assert.Nil(t, page.Child)
	assert.Contains(t, page.Select.SQL, "WHERE t.agent_id = $1 AND LOWER(CAST(t.name AS TEXT)) LIKE $2")
	assert.Contains(t, page.Select.SQL, "LIMIT $3 OFFSET $4")
	assert.Equal(t, []any{"i-1", "%train%", 10, 0}, page.Select.Args)
	assert.NotContains(t, page.Select.SQL, ChildCountColumn)
}

func TestBuildRejectsUnknownColumns(t *testing.T) {
	h := agentsHierarchy(t)
	_, err := SQLite.Build(h, dataprovider.PageRequest[models.Row]{
		PageSize:   10,
		SortOrders: []sortfilter.SortOrder{{Path: "id; DROP TABLE agents", Direction: sortfilter.Asc}},
	})
	require.ErrorIs(t, err, ErrUnknownColumn)

	_, err = SQLite.Build(h, dataprovider.PageRequest[models.Row]{
		PageSize: 10,
		Filters:  []sortfilter.Filter{{Path: "nope", Value: "x"}},
	})
	require.ErrorIs(t, err, ErrUnknownColumn)

	_, err = SQLite.Build(h, dataprovider.PageRequest[models.Row]{PageSize: 0})
	require.ErrorIs(t, err, ErrInvalidPage)
}

func TestResolveLevels(t *testing.T) {
	h, err := LookupHierarchy("resource_groups")
	require.NoError(t, err)

	table, child, err := h.Resolve(nil)
	require.NoError(t, err)
	assert.Equal(t, "resource_groups", table.Name)
	assert.Equal(t, "agents", child.Name)

	group := (&models.ResourceGroup{Name: "default"}).Row()
	table, child, err = h.Resolve(&group)
	require.NoError(t, err)
	assert.Equal(t, "agents", table.Name)
	assert.Equal(t, "sessions", child.Name)

	session := (&models.ComputeSession{ID: "s", AgentID: "a"}).Row()
	_, _, err = h.Resolve(&session)
	require.ErrorIs(t, err, ErrNoChildLevel)

	_, err = LookupHierarchy("nodes")
	require.ErrorIs(t, err, ErrUnknownHierarchy)
}

func TestInsertAndScanRoundTrip(t *testing.T) {
	vol := (&models.StorageVolume{
		ID:           "local:vol1",
		Proxy:        "local",
		Backend:      "xfs",
		Capabilities: []string{"quota", "vfolder"},
		Capacity:     100,
		Used:         25,
	}).Row()

	q := SQLite.Insert(VolumesTable, vol)
	assert.Equal(t, "INSERT OR REPLACE INTO volumes (id, proxy, backend, capabilities, capacity, used, usage) VALUES (?, ?, ?, ?, ?, ?, ?)", q.SQL)
	assert.Equal(t, "quota,vfolder", q.Args[3])

	page := Page{Table: VolumesTable}
	row, err := page.Scan([]any{"local:vol1", []byte("local"), "xfs", "quota,vfolder", int64(100), 25.0, 0.25})
	require.NoError(t, err)
	assert.Equal(t, vol.ID, row.ID)
	assert.Equal(t, models.RowKindVolume, row.Kind)
	assert.Equal(t, vol.Fields, row.Fields)
}

func TestInsertPostgresUpserts(t *testing.T) {
	agent := (&models.Agent{ID: "i-1", Status: models.AgentStatusAlive, Schedulable: true}).Row()
	q := Postgres.Insert(AgentsTable, agent)
	assert.Contains(t, q.SQL, "ON CONFLICT (id) DO UPDATE SET region = EXCLUDED.region")
	assert.Contains(t, q.SQL, "$14")
	assert.Equal(t, true, q.Args[10])
	assert.Equal(t, 1, SQLite.Insert(AgentsTable, agent).Args[10])
}

func TestScanChildCountAndBool(t *testing.T) {
	h := agentsHierarchy(t)
	page, err := SQLite.Build(h, dataprovider.PageRequest[models.Row]{PageSize: 1})
	require.NoError(t, err)

	values := make([]any, len(page.Columns()))
	for i := range values {
		values[i] = ""
	}
	values[0] = "i-9"
	values[2] = "gpu"
	values[6] = int64(8)
	values[7] = int64(0)
	values[8] = 0.5
	values[9] = int64(0)
	values[10] = int64(1)
	values[11] = int64(3)
	values[len(values)-1] = int64(3)

	row, err := page.Scan(values)
	require.NoError(t, err)
	assert.Equal(t, "i-9", row.ID)
	assert.Equal(t, "gpu", row.ParentID)
	assert.Equal(t, 3, row.ChildCount)
	assert.Equal(t, true, row.Field("schedulable"))
	assert.Equal(t, 8.0, row.Field("cpu_slots"))

	_, err = page.Scan(values[:3])
	require.Error(t, err)
}

func TestCreateTable(t *testing.T) {
	ddl := Postgres.CreateTable(ResourceGroupsTable)
	assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS resource_groups (")
	assert.Contains(t, ddl, "name TEXT NOT NULL DEFAULT '' PRIMARY KEY,")
	assert.Contains(t, ddl, "is_active BOOLEAN NOT NULL DEFAULT FALSE")

	assert.Contains(t, SQLite.CreateTable(AgentsTable), "cpu_slots REAL NOT NULL DEFAULT 0")
	assert.Equal(t, []string{"CREATE INDEX IF NOT EXISTS idx_sessions_agent_id ON sessions(agent_id)"}, SQLite.CreateIndexes(SessionsTable))
	assert.Nil(t, SQLite.CreateIndexes(VolumesTable))
}

func TestBuildSkipsColumnsOfOtherLevels(t *testing.T) {
	h := agentsHierarchy(t)
	parent := models.Row{Kind: models.RowKindAgent, ID: "i-1"}
	page, err := SQLite.Build(h, dataprovider.PageRequest[models.Row]{
		PageSize:   10,
		ParentItem: &parent,
		SortOrders: []sortfilter.SortOrder{{Path: "region", Direction: sortfilter.Desc}, {Path: "name", Direction: sortfilter.Asc}},
		Filters:    []sortfilter.Filter{{Path: "scaling_group", Value: "gpu"}},
	})
	require.NoError(t, err)
	assert.NotContains(t, page.Select.SQL, "region")
	assert.NotContains(t, page.Select.SQL, "scaling_group")
	assert.Contains(t, page.Select.SQL, "ORDER BY t.name ASC, t.id ASC")
	assert.Equal(t, []any{"i-1"}, page.Count.Args)
}
