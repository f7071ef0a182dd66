package coremetrics

import (
	"context"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor records RPCRequestsTotal/RPCRequestDuration for
// every unary call, grounded on the teacher's pkg/metrics Timer pattern
// applied at the transport boundary instead of inside each handler.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		timer := NewTimer()
		resp, err := handler(ctx, req)
		RPCRequestsTotal.WithLabelValues(info.FullMethod, strconv.Itoa(int(status.Code(err)))).Inc()
		timer.ObserveDuration(RPCRequestDuration.WithLabelValues(info.FullMethod))
		return resp, err
	}
}
