package transport

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"

	"github.com/colink-dev/colink-core/internal/rpc"
)

// MaintainReverseConnection is run by a core that has no reachable
// core_uri: it dials out to a peer that IS reachable and keeps a
// reverse-connection stream open so that peer can push task updates back
// without ever needing to dial in, and so this core can push updates of
// its own down the same stream. Blocks until ctx is cancelled,
// reconnecting with backoff whenever the stream drops.
//
// Grounded on pkg/worker's heartbeatLoop (a long-lived background
// goroutine maintaining a connection to a peer), generalized from a
// fixed-interval ticker to exponential backoff reconnect via
// github.com/cenkalti/backoff/v4.
func MaintainReverseConnection(ctx context.Context, addr string, tlsCfg TLSConfig, token string, remoteHostID, remoteUserID, myHostID, myUserID string, registry *ReverseRegistry) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0 // unbounded: keep retrying until ctx is cancelled

	return backoff.Retry(func() error {
		err := runOnce(ctx, addr, tlsCfg, token, remoteHostID, remoteUserID, myHostID, myUserID, registry)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, backoff.WithContext(b, ctx))
}

func runOnce(ctx context.Context, addr string, tlsCfg TLSConfig, token, remoteHostID, remoteUserID, myHostID, myUserID string, registry *ReverseRegistry) error {
	conn, err := Dial(addr, tlsCfg)
	if err != nil {
		return fmt.Errorf("dial reverse-connection peer: %w", err)
	}
	defer conn.Close()

	// streamCtx is derived so a later supersession of this registration can
	// cancel it directly, aborting this stream's pending RecvMsg rather than
	// leaving it dangling until the peer eventually closes the connection.
	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()

	client := rpc.NewClient(conn, token)
	stream, err := client.OpenReverseConnection(streamCtx)
	if err != nil {
		return fmt.Errorf("open reverse connection: %w", err)
	}

	hs := &rpc.ReverseHandshake{PeerHostID: myHostID, PeerUserID: myUserID}
	if err := stream.SendMsg(hs); err != nil {
		return fmt.Errorf("send reverse handshake: %w", err)
	}

	// Register under the REMOTE peer's identity so Push(remoteUserID, ...)
	// finds this stream when this core later needs to reach that peer.
	unregister := registry.RegisterOutbound(remoteHostID, remoteUserID, stream, cancelStream)
	defer unregister()

	for {
		var frame rpc.ReverseFrame
		if err := stream.RecvMsg(&frame); err != nil {
			return err
		}
		if err := registry.Apply(frame.LocalUserID, frame.Task); err != nil {
			return err
		}
	}
}
