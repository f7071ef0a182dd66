package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/colink-dev/colink-core/internal/coretypes"
)

// ReverseHandshake is the first message exchanged on a reverse-connection
// stream, identifying which peer is on the other end so the registry can
// key on (peer_host_id, peer_user_id) per spec §4.6.
type ReverseHandshake struct {
	PeerHostID string `json:"peer_host_id"`
	PeerUserID string `json:"peer_user_id"`
}

// ReverseFrame is every subsequent message on the stream: either side may
// push a task at any time, matching the "stream<task>" output in spec §6's
// RPC table being used bidirectionally once the handshake completes.
// LocalUserID mirrors InterCoreSyncTaskRequest's field — the receiver of a
// frame needs it to know which of its own users the task belongs to.
type ReverseFrame struct {
	LocalUserID string         `json:"local_user_id"`
	Task        coretypes.Task `json:"task"`
}

// ReverseRegistry is implemented by internal/transport: it owns accepting
// an inbound reverse-connection stream, applying frames it receives to the
// local task engine, and remembering the stream so a later outbound sync
// can be pushed down it instead of dialled. Declared here (rather than
// importing internal/transport) to keep rpc -> transport one-directional,
// the same shape as the Operator interface in server.go.
type ReverseRegistry interface {
	AcceptInbound(stream ReverseStream) error
}

// ReverseStream is the minimal surface rpc needs from a grpc.ServerStream;
// satisfied directly by grpc.ServerStream's Send/RecvMsg/Context. Context is
// exposed so internal/transport can derive a cancellable child context per
// stream and use it to tear down a superseded registration promptly instead
// of merely forgetting about it (spec §4.6's "re-registration supersedes the
// prior stream").
type ReverseStream interface {
	SendMsg(m any) error
	RecvMsg(m any) error
	Context() context.Context
}

func reverseConnectionHandler(srv any, stream grpc.ServerStream) error {
	s := srv.(*Server)
	if s.reverse == nil {
		return nil
	}
	return s.reverse.AcceptInbound(stream)
}
