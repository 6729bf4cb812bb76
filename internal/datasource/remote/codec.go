// Package remote exposes a page provider over gRPC and consumes it again on
// the other side. Messages are protobuf Structs, so no generated code is
// needed.
package remote

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lablup/backend.ai-sub009/internal/grid/dataprovider"
	"github.com/lablup/backend.ai-sub009/internal/grid/sortfilter"
	"github.com/lablup/backend.ai-sub009/internal/models"
)

// ErrMalformed is returned when a message does not have the expected shape.
var ErrMalformed = errors.New("malformed page message")

func encodeRequest(req dataprovider.PageRequest[models.Row]) (*structpb.Struct, error) {
	sorters := make([]any, len(req.SortOrders))
	for i, o := range req.SortOrders {
		sorters[i] = map[string]any{"path": o.Path, "direction": string(o.Direction)}
	}
	filters := make([]any, len(req.Filters))
	for i, f := range req.Filters {
		filters[i] = map[string]any{"path": f.Path, "value": f.Value}
	}
	m := map[string]any{
		"page":        req.Page,
		"page_size":   req.PageSize,
		"sort_orders": sorters,
		"filters":     filters,
	}
	if req.ParentItem != nil {
		m["parent"] = rowToMap(*req.ParentItem)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode page request: %w", err)
	}
	return s, nil
}

func decodeRequest(s *structpb.Struct) (dataprovider.PageRequest[models.Row], error) {
	var req dataprovider.PageRequest[models.Row]
	m := s.AsMap()

	page, ok := intField(m, "page")
	if !ok {
		return req, fmt.Errorf("%w: page", ErrMalformed)
	}
	size, ok := intField(m, "page_size")
	if !ok {
		return req, fmt.Errorf("%w: page_size", ErrMalformed)
	}
	req.Page, req.PageSize = page, size

	if raw, ok := m["parent"].(map[string]any); ok {
		parent, err := rowFromMap(raw)
		if err != nil {
			return req, err
		}
		req.ParentItem = &parent
	}

	sorters, _ := m["sort_orders"].([]any)
	for _, raw := range sorters {
		o, ok := raw.(map[string]any)
		if !ok {
			return req, fmt.Errorf("%w: sort order", ErrMalformed)
		}
		path, _ := o["path"].(string)
		dirName, _ := o["direction"].(string)
		dir, err := sortfilter.ParseDirection(dirName)
		if err != nil {
			return req, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		req.SortOrders = append(req.SortOrders, sortfilter.SortOrder{Path: path, Direction: dir})
	}

	filters, _ := m["filters"].([]any)
	for _, raw := range filters {
		f, ok := raw.(map[string]any)
		if !ok {
			return req, fmt.Errorf("%w: filter", ErrMalformed)
		}
		path, _ := f["path"].(string)
		value, _ := f["value"].(string)
		req.Filters = append(req.Filters, sortfilter.Filter{Path: path, Value: value})
	}
	return req, nil
}

func encodeResponse(resp dataprovider.PageResponse[models.Row]) (*structpb.Struct, error) {
	items := make([]any, len(resp.Items))
	for i, row := range resp.Items {
		items[i] = rowToMap(row)
	}
	m := map[string]any{"items": items}
	if resp.Size != nil {
		m["size"] = *resp.Size
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode page response: %w", err)
	}
	return s, nil
}

func decodeResponse(s *structpb.Struct) (dataprovider.PageResponse[models.Row], error) {
	var resp dataprovider.PageResponse[models.Row]
	m := s.AsMap()

	items, ok := m["items"].([]any)
	if !ok && m["items"] != nil {
		return resp, fmt.Errorf("%w: items", ErrMalformed)
	}
	resp.Items = make([]models.Row, 0, len(items))
	for _, raw := range items {
		rm, ok := raw.(map[string]any)
		if !ok {
			return resp, fmt.Errorf("%w: item", ErrMalformed)
		}
		row, err := rowFromMap(rm)
		if err != nil {
			return resp, err
		}
		resp.Items = append(resp.Items, row)
	}
	if size, ok := intField(m, "size"); ok {
		resp.Size = dataprovider.SizeOf(size)
	}
	return resp, nil
}

func rowToMap(r models.Row) map[string]any {
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return map[string]any{
		"kind":        string(r.Kind),
		"id":          r.ID,
		"parent_id":   r.ParentID,
		"child_count": r.ChildCount,
		"fields":      fields,
	}
}

func rowFromMap(m map[string]any) (models.Row, error) {
	kindName, _ := m["kind"].(string)
	kind, err := models.ParseRowKind(kindName)
	if err != nil {
		return models.Row{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	id, _ := m["id"].(string)
	if id == "" {
		return models.Row{}, fmt.Errorf("%w: row id", ErrMalformed)
	}
	parentID, _ := m["parent_id"].(string)
	children, _ := intField(m, "child_count")
	fields, _ := m["fields"].(map[string]any)
	return models.Row{
		Kind:       kind,
		ID:         id,
		ParentID:   parentID,
		ChildCount: children,
		Fields:     fields,
	}, nil
}

func intField(m map[string]any, key string) (int, bool) {
	f, ok := m[key].(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}
