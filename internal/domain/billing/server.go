package billing

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// NewGRPCServer creates a gRPC server with standard interceptors, registers
// the gateway service and reflection, and returns it ready to serve.
func NewGRPCServer(srv GatewayServer, logger zerolog.Logger) *grpc.Server {
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			recoveryInterceptor(logger),
			loggingInterceptor(logger),
		),
	)

	RegisterGatewayServer(s, srv)
	reflection.Register(s)

	return s
}

// loggingInterceptor logs the method name, duration, and error (if any) for
// every unary RPC call.
func loggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		evt := logger.Info()
		if err != nil {
			evt = logger.Error().Err(err)
		}
		evt.
			Str("method", info.FullMethod).
			Dur("duration", time.Since(start)).
			Msg("rpc completed")

		return resp, err
	}
}

// recoveryInterceptor catches panics in downstream handlers, logs the stack
// trace, and returns codes.Internal instead of crashing the server.
func recoveryInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().
					Str("method", info.FullMethod).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("panic recovered in rpc handler")
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}
