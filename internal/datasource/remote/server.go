package remote

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lablup/backend.ai-sub009/internal/grid/dataprovider"
	"github.com/lablup/backend.ai-sub009/internal/logging"
	"github.com/lablup/backend.ai-sub009/internal/models"
)

const (
	serviceName     = "grid.v1.PageService"
	fetchPageMethod = "/" + serviceName + "/FetchPage"
)

// PageServiceServer is the server API of the page service.
type PageServiceServer interface {
	FetchPage(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the page service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*PageServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "FetchPage",
			Handler:    fetchPageHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "grid/v1/page_service.proto",
}

func fetchPageHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PageServiceServer).FetchPage(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: fetchPageMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PageServiceServer).FetchPage(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Server serves a page provider over gRPC.
type Server struct {
	provider dataprovider.PageProvider[models.Row]
	logger   zerolog.Logger
	timeout  atomic.Int64
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger zerolog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithFetchTimeout bounds every FetchPage call. Zero leaves it to the caller.
func WithFetchTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.SetFetchTimeout(d)
	}
}

// NewServer creates a Server for provider.
func NewServer(provider dataprovider.PageProvider[models.Row], opts ...ServerOption) *Server {
	s := &Server{
		provider: provider,
		logger:   logging.Component("remote"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetFetchTimeout replaces the per-call bound. Calls already running keep
// the bound they started with.
func (s *Server) SetFetchTimeout(d time.Duration) {
	s.timeout.Store(int64(d))
}

// FetchTimeout returns the current per-call bound.
func (s *Server) FetchTimeout() time.Duration {
	return time.Duration(s.timeout.Load())
}

// Register adds the page service to gs.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&ServiceDesc, s)
}

// FetchPage implements PageServiceServer.
func (s *Server) FetchPage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if timeout := s.FetchTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := s.provider.FetchPage(ctx, req)
	if err != nil {
		return nil, s.statusError(err)
	}
	out, err := encodeResponse(resp)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *Server) statusError(err error) error {
	switch {
	case errors.Is(err, dataprovider.ErrBadRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		s.logger.Warn().Err(err).Msg("page provider failed")
		return status.Error(codes.Internal, err.Error())
	}
}

// UnaryLogger logs each call with its duration and status code.
func UnaryLogger(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		event := logger.Debug()
		if err != nil {
			event = logger.Warn().Err(err)
		}
		event.
			Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("took", time.Since(start)).
			Msg("rpc")
		return resp, err
	}
}
