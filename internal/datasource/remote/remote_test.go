package remote

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lablup/backend.ai-sub009/internal/datasource/memory"
	"github.com/lablup/backend.ai-sub009/internal/grid/dataprovider"
	"github.com/lablup/backend.ai-sub009/internal/grid/sortfilter"
	"github.com/lablup/backend.ai-sub009/internal/models"
)

// startTestServer serves provider on a loopback port and returns a client.
func startTestServer(t *testing.T, provider dataprovider.PageProvider[models.Row]) *Client {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	gs := grpc.NewServer(grpc.UnaryInterceptor(UnaryLogger(zerolog.Nop())))
	NewServer(provider, WithLogger(zerolog.Nop())).Register(gs)
	go func() { _ = gs.Serve(listener) }()

	client, err := Dial(listener.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
		gs.Stop()
	})
	return client
}

func testSource() *memory.Source {
	var rows []models.Row
	for _, a := range []*models.Agent{
		{ID: "i-1", Status: models.AgentStatusAlive, SessionCount: 1, CPUSlots: 8, Schedulable: true},
		{ID: "i-2", Status: models.AgentStatusLost, CPUSlots: 4},
		{ID: "i-3", Status: models.AgentStatusAlive, CPUSlots: 16},
	} {
		rows = append(rows, a.Row())
	}
	rows = append(rows, (&models.ComputeSession{ID: "s-1", AgentID: "i-1", Name: "train", Status: models.SessionStatusRunning}).Row())
	return memory.New(rows)
}

func TestRemoteFetchPage(t *testing.T) {
	client := startTestServer(t, testSource())

	resp, err := client.FetchPage(context.Background(), dataprovider.PageRequest[models.Row]{
		PageSize:   2,
		SortOrders: []sortfilter.SortOrder{{Path: "cpu_slots", Direction: sortfilter.Desc}},
		Filters:    []sortfilter.Filter{{Path: "status", Value: "alive"}},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Size)
	assert.Equal(t, 2, *resp.Size)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "i-3", resp.Items[0].ID)
	assert.Equal(t, "i-1", resp.Items[1].ID)
	assert.Equal(t, 1, resp.Items[1].ChildCount)
	assert.Equal(t, true, resp.Items[1].Field("schedulable"))
	assert.Equal(t, 8.0, resp.Items[1].Field("cpu_slots"))

	parent := resp.Items[1]
	children, err := client.FetchPage(context.Background(), dataprovider.PageRequest[models.Row]{
		PageSize:   10,
		ParentItem: &parent,
	})
	require.NoError(t, err)
	require.Len(t, children.Items, 1)
	assert.Equal(t, "s-1", children.Items[0].ID)
	assert.Equal(t, "i-1", children.Items[0].ParentID)
	assert.Equal(t, models.RowKindSession, children.Items[0].Kind)
}

func TestRemoteBadRequest(t *testing.T) {
	client := startTestServer(t, testSource())

	_, err := client.FetchPage(context.Background(), dataprovider.PageRequest[models.Row]{PageSize: 0})
	require.ErrorIs(t, err, dataprovider.ErrBadRequest)
}

func TestRemoteProviderFailureIsInternal(t *testing.T) {
	client := startTestServer(t, dataprovider.ProviderFunc[models.Row](func(context.Context, dataprovider.PageRequest[models.Row]) (dataprovider.PageResponse[models.Row], error) {
		return dataprovider.PageResponse[models.Row]{}, errors.New("backend down")
	}))

	_, err := client.FetchPage(context.Background(), dataprovider.PageRequest[models.Row]{PageSize: 5})
	require.Error(t, err)
	assert.NotErrorIs(t, err, dataprovider.ErrBadRequest)
	assert.Equal(t, codes.Internal, status.Code(errors.Unwrap(err)))
}

func TestServerRejectsMalformedRequest(t *testing.T) {
	s := NewServer(testSource(), WithLogger(zerolog.Nop()))

	in, err := structpb.NewStruct(map[string]any{"page": "zero"})
	require.NoError(t, err)
	_, err = s.FetchPage(context.Background(), in)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	in, err = structpb.NewStruct(map[string]any{
		"page":        0,
		"page_size":   5,
		"sort_orders": []any{map[string]any{"path": "id", "direction": "sideways"}},
	})
	require.NoError(t, err)
	_, err = s.FetchPage(context.Background(), in)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestCodecRoundTrip(t *testing.T) {
	parent := (&models.Agent{ID: "i-1", Status: models.AgentStatusAlive, SessionCount: 2}).Row()
	req := dataprovider.PageRequest[models.Row]{
		Page:       3,
		PageSize:   25,
		ParentItem: &parent,
		SortOrders: []sortfilter.SortOrder{{Path: "name", Direction: sortfilter.Asc}},
		Filters:    []sortfilter.Filter{{Path: "status", Value: "RUN"}},
	}
	s, err := encodeRequest(req)
	require.NoError(t, err)
	got, err := decodeRequest(s)
	require.NoError(t, err)

	assert.Equal(t, req.Page, got.Page)
	assert.Equal(t, req.PageSize, got.PageSize)
	assert.Equal(t, req.SortOrders, got.SortOrders)
	assert.Equal(t, req.Filters, got.Filters)
	require.NotNil(t, got.ParentItem)
	assert.Equal(t, parent.ID, got.ParentItem.ID)
	assert.Equal(t, 2, got.ParentItem.ChildCount)

	resp, err := encodeResponse(dataprovider.PageResponse[models.Row]{Items: []models.Row{parent}})
	require.NoError(t, err)
	decoded, err := decodeResponse(resp)
	require.NoError(t, err)
	assert.Nil(t, decoded.Size, "an omitted size stays unknown")
	require.Len(t, decoded.Items, 1)
	assert.Equal(t, parent.Fields["status"], decoded.Items[0].Fields["status"])

	bad, err := structpb.NewStruct(map[string]any{"items": []any{map[string]any{"kind": "node", "id": "x"}}})
	require.NoError(t, err)
	_, err = decodeResponse(bad)
	require.ErrorIs(t, err, ErrMalformed)
}
