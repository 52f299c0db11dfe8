package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls sharegate.v1.Admin methods over an established connection.
type Client struct {
	cc    grpc.ClientConnInterface
	token string
}

// NewClient authenticates every call with the bearer token when non-empty.
func NewClient(cc grpc.ClientConnInterface, token string) *Client {
	return &Client{cc: cc, token: token}
}

// Call invokes method with req; a nil req sends an empty message.
func (c *Client) Call(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
