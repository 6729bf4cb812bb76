// Package dataprovider schedules page fetches for a grid and merges the
// results into its hierarchical item cache.
package dataprovider

import (
	"context"
	"errors"

	"github.com/lablup/backend.ai-sub009/internal/grid/sortfilter"
)

// ErrBadRequest marks provider errors caused by the request itself, such as
// an unknown column path. Providers wrap it so transports can tell caller
// mistakes from source failures.
var ErrBadRequest = errors.New("bad page request")

// PageRequest is what a grid asks its data source for.
type PageRequest[T any] struct {
	// Page is the zero-based page index within the requesting node.
	Page int

	// PageSize is the number of rows per page.
	PageSize int

	// ParentItem is the expanded row whose children are requested, or nil
	// for top-level rows.
	ParentItem *T

	SortOrders []sortfilter.SortOrder
	Filters    []sortfilter.Filter
}

// PageResponse is a data source's answer to a PageRequest.
type PageResponse[T any] struct {
	Items []T

	// Size is the authoritative row count of the requested node, if known.
	Size *int
}

// PageProvider supplies pages of rows. Implementations bound their own
// latency; ctx is cancelled when the controller is closed.
type PageProvider[T any] interface {
	FetchPage(ctx context.Context, req PageRequest[T]) (PageResponse[T], error)
}

// ProviderFunc adapts a function to PageProvider.
type ProviderFunc[T any] func(ctx context.Context, req PageRequest[T]) (PageResponse[T], error)

// FetchPage calls f.
func (f ProviderFunc[T]) FetchPage(ctx context.Context, req PageRequest[T]) (PageResponse[T], error) {
	return f(ctx, req)
}

// SizeOf returns a pointer to n, for building responses.
func SizeOf(n int) *int {
	return &n
}
