package remote

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lablup/backend.ai-sub009/internal/grid/dataprovider"
	"github.com/lablup/backend.ai-sub009/internal/models"
)

// Client is a page provider backed by a remote page service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a client for addr. The connection is established lazily on
// the first call.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// FetchPage implements dataprovider.PageProvider. Requests the server
// rejects as invalid come back wrapped in dataprovider.ErrBadRequest.
func (c *Client) FetchPage(ctx context.Context, req dataprovider.PageRequest[models.Row]) (dataprovider.PageResponse[models.Row], error) {
	in, err := encodeRequest(req)
	if err != nil {
		return dataprovider.PageResponse[models.Row]{}, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fetchPageMethod, in, out); err != nil {
		if status.Code(err) == codes.InvalidArgument {
			return dataprovider.PageResponse[models.Row]{}, fmt.Errorf("%w: %s", dataprovider.ErrBadRequest, status.Convert(err).Message())
		}
		return dataprovider.PageResponse[models.Row]{}, fmt.Errorf("fetch page: %w", err)
	}
	return decodeResponse(out)
}
