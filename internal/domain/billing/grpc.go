package billing

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// The gateway speaks gRPC with a JSON codec instead of protobuf, so the wire
// types are the plain structs in model.go and no generated code is involved.

const (
	serviceName         = "billing.BillingService"
	createAccountMethod = "/billing.BillingService/CreateAccount"
)

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// GatewayServer is the service contract exposed over RPC.
type GatewayServer interface {
	CreateAccount(ctx context.Context, req *AccountRequest) (*AccountResponse, error)
}

func createAccountHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AccountRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GatewayServer).CreateAccount(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: createAccountMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GatewayServer).CreateAccount(ctx, req.(*AccountRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var gatewayServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*GatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateAccount", Handler: createAccountHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterGatewayServer(s grpc.ServiceRegistrar, srv GatewayServer) {
	s.RegisterService(&gatewayServiceDesc, srv)
}
