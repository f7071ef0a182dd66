package rpc

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/colink-dev/colink-core/internal/coremetrics"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// NewGRPCServer builds the grpc.Server hosting colink-core's RPC surface:
// codec registration plus privilege-checking and metrics interceptors,
// grounded on pkg/api/server.go's NewServer (grpc.NewServer(grpc.Creds(creds))),
// generalized to accept arbitrary grpc.ServerOption so the caller decides
// TLS (cmd/colink-core loads the listener's certificates through
// internal/security, not this package).
func NewGRPCServer(cfg Config, extraOpts ...grpc.ServerOption) *grpc.Server {
	server := NewServer(cfg)

	opts := append([]grpc.ServerOption{
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.ChainUnaryInterceptor(coremetrics.UnaryServerInterceptor(), AuthInterceptor(cfg.Auth)),
		grpc.ChainStreamInterceptor(StreamAuthInterceptor(cfg.Auth)),
	}, extraOpts...)

	grpcServer := grpc.NewServer(opts...)
	grpcServer.RegisterService(ServiceDesc(), server)
	return grpcServer
}
