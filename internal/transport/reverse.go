package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/colink-dev/colink-core/internal/coretypes"
	"github.com/colink-dev/colink-core/internal/rpc"
)

// TaskReceiver is the subset of *task.Engine the transport layer needs to
// apply an inbound sync, declared locally to keep this package from
// importing internal/task for anything but this one call.
type TaskReceiver interface {
	InterCoreSyncTask(localUserID string, t coretypes.Task) error
}

type reverseEntry struct {
	stream rpc.ReverseStream
	cancel func()
}

// ReverseRegistry implements rpc.ReverseRegistry: it accepts inbound
// reverse-connection streams from cores that dialled out because they
// can't be dialled in turn (spec §4.6's reverse path), and remembers each
// one so a later sync targeted at that peer can be pushed down the
// existing stream instead of attempted as a fresh dial. Re-registration
// under the same key supersedes and closes the prior stream, per spec.
type ReverseRegistry struct {
	recv TaskReceiver

	mu      sync.Mutex
	streams map[string]*reverseEntry // keyed by (peer_host_id, peer_user_id), per spec
	byUser  map[string]*reverseEntry // keyed by peer_user_id alone, for Push lookups from task.Syncer
}

func NewReverseRegistry(recv TaskReceiver) *ReverseRegistry {
	return &ReverseRegistry{
		recv:    recv,
		streams: make(map[string]*reverseEntry),
		byUser:  make(map[string]*reverseEntry),
	}
}

func key(peerHostID, peerUserID string) string {
	return peerHostID + "|" + peerUserID
}

// AcceptInbound runs for the lifetime of one reverse-connection stream:
// it reads the handshake identifying the caller, registers the stream,
// then applies every frame pushed down it until the stream closes.
func (r *ReverseRegistry) AcceptInbound(stream rpc.ReverseStream) error {
	var hs rpc.ReverseHandshake
	if err := stream.RecvMsg(&hs); err != nil {
		return fmt.Errorf("reverse handshake: %w", err)
	}

	// ctx is ours alone: canceling it (because a later handshake under the
	// same (peer_host_id, peer_user_id) superseded this entry) must make
	// this call return promptly rather than stay blocked in RecvMsg, so the
	// stream's resources actually get torn down instead of merely being
	// forgotten by the registry.
	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()
	entry := &reverseEntry{stream: stream, cancel: cancel}
	r.register(hs.PeerHostID, hs.PeerUserID, entry)
	defer r.unregister(hs.PeerHostID, hs.PeerUserID, entry)

	frames := make(chan rpc.ReverseFrame)
	errs := make(chan error, 1)
	go func() {
		for {
			var frame rpc.ReverseFrame
			if err := stream.RecvMsg(&frame); err != nil {
				errs <- err
				return
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errs:
			return err
		case frame := <-frames:
			if err := r.recv.InterCoreSyncTask(frame.LocalUserID, frame.Task); err != nil {
				return err
			}
		}
	}
}

func (r *ReverseRegistry) register(peerHostID, peerUserID string, entry *reverseEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(peerHostID, peerUserID)
	if prev, ok := r.streams[k]; ok && prev.cancel != nil {
		prev.cancel()
	}
	r.streams[k] = entry
	r.byUser[peerUserID] = entry
}

func (r *ReverseRegistry) unregister(peerHostID, peerUserID string, entry *reverseEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(peerHostID, peerUserID)
	if r.streams[k] == entry {
		delete(r.streams, k)
	}
	if r.byUser[peerUserID] == entry {
		delete(r.byUser, peerUserID)
	}
}

// Push sends a task down an already-registered reverse stream for a peer
// user that can't be dialled directly. Reports false if no stream is
// registered for that peer.
func (r *ReverseRegistry) Push(peerUserID, localUserID string, t coretypes.Task) bool {
	r.mu.Lock()
	entry, ok := r.byUser[peerUserID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	frame := &rpc.ReverseFrame{LocalUserID: localUserID, Task: t}
	return entry.stream.SendMsg(frame) == nil
}

// RegisterOutbound records a stream THIS core dialled out on (because it
// has no reachable core_uri of its own) under the same (peer_host_id,
// peer_user_id) keying AcceptInbound uses, so Push works symmetrically
// regardless of which side initiated the connection. cancel must abort the
// stream itself (the caller's context.CancelFunc for the context the
// stream was opened with) so a later supersession actually tears the
// connection down rather than merely dropping the map entry. Returns a
// function that removes the registration.
func (r *ReverseRegistry) RegisterOutbound(peerHostID, peerUserID string, stream rpc.ReverseStream, cancel func()) func() {
	entry := &reverseEntry{stream: stream, cancel: cancel}
	r.register(peerHostID, peerUserID, entry)
	return func() { r.unregister(peerHostID, peerUserID, entry) }
}

// Apply hands an inbound frame to the local task engine; exported so
// MaintainReverseConnection's recv loop can reuse the same entry point
// AcceptInbound uses.
func (r *ReverseRegistry) Apply(localUserID string, t coretypes.Task) error {
	return r.recv.InterCoreSyncTask(localUserID, t)
}
