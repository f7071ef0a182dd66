package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/colink-dev/colink-core/internal/coretypes"
)

// Client is a thin typed wrapper around a grpc.ClientConn dialled against
// another colink-core instance (a peer core, or a local CLI talking to its
// own core), using the same JSON codec as the server. Grounded on
// pkg/client/client.go's *Client wrapping *grpc.ClientConn with one method
// per RPC. It covers InterCoreSyncTask, RequestInfo, GenerateToken,
// ImportUser and the reverse-connection stream; the other colink-core
// verbs have no Client method.
type Client struct {
	conn  *grpc.ClientConn
	token string
}

// NewClient wraps an already-dialled connection (internal/transport owns
// dialling/mTLS/retry) with optional bearer-token auth.
func NewClient(conn *grpc.ClientConn, token string) *Client {
	return &Client{conn: conn, token: token}
}

func (c *Client) ctx(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	return c.conn.Invoke(c.ctx(ctx), method, req, resp, grpc.ForceCodec(jsonCodec{}))
}

func (c *Client) InterCoreSyncTask(ctx context.Context, localUserID string, t coretypes.Task) error {
	req := &InterCoreSyncTaskRequest{LocalUserID: localUserID, Task: t}
	return c.invoke(ctx, MethodInterCoreSyncTask, req, &Empty{})
}

func (c *Client) RequestInfo(ctx context.Context) (*RequestInfoResponse, error) {
	resp := &RequestInfoResponse{}
	if err := c.invoke(ctx, MethodRequestInfo, &Empty{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) GenerateToken(ctx context.Context, req *GenerateTokenRequest) (string, error) {
	resp := &TokenResponse{}
	if err := c.invoke(ctx, MethodGenerateToken, req, resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

func (c *Client) ImportUser(ctx context.Context, req *ImportUserRequest) (string, error) {
	resp := &TokenResponse{}
	if err := c.invoke(ctx, MethodImportUser, req, resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// OpenReverseConnection opens the bidi stream used when this core cannot
// be dialled directly and instead reaches out to a reachable peer,
// per spec §4.6 scenario 5.
func (c *Client) OpenReverseConnection(ctx context.Context) (grpc.ClientStream, error) {
	desc := &grpc.StreamDesc{StreamName: "InterCoreSyncTaskWithReverseConnection", ServerStreams: true, ClientStreams: true}
	return c.conn.NewStream(c.ctx(ctx), desc, MethodInterCoreSyncTaskWithReverseConnection, grpc.ForceCodec(jsonCodec{}))
}
