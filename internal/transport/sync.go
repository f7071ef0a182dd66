package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/grpc"

	"github.com/colink-dev/colink-core/internal/coretypes"
	"github.com/colink-dev/colink-core/internal/rpc"
)

// Sync implements task.Syncer: it's the thing *task.Engine calls to push a
// task to the core responsible for a remote participant. It tries a
// direct dial first (spec §4.6's "direct" path) and falls back to an
// already-registered reverse-connection stream when no address is known
// for that participant (the "reverse" path). Grounded on
// pkg/worker/worker.go's heartbeatLoop retry shape, generalized from a
// fixed ticker to exponential backoff via
// github.com/cenkalti/backoff/v4 (a dependency several retrieval-pack
// repos, e.g. steveyegge-beads and AKJUS-bsc-erigon, carry directly).
type Sync struct {
	dir      *Directory
	tlsCfg   TLSConfig
	tokenFor func() (string, error)
	reverse  *ReverseRegistry

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

func NewSync(dir *Directory, tlsCfg TLSConfig, tokenFor func() (string, error), reverse *ReverseRegistry) *Sync {
	return &Sync{
		dir:      dir,
		tlsCfg:   tlsCfg,
		tokenFor: tokenFor,
		reverse:  reverse,
		conns:    make(map[string]*grpc.ClientConn),
	}
}

// SyncTask is task.Syncer's contract: push t to the core hosting
// peerUserID. peerUserID doubles as the LocalUserID the receiving core
// files the task under — task buckets are per-user, and that user is
// exactly the participant this sync is addressed to.
func (s *Sync) SyncTask(ctx context.Context, peerUserID string, t coretypes.Task) error {
	if addr, ok := s.dir.Lookup(peerUserID); ok {
		return s.syncDirect(ctx, addr, peerUserID, t)
	}
	if s.reverse != nil && s.reverse.Push(peerUserID, peerUserID, t) {
		return nil
	}
	return fmt.Errorf("transport: no route to participant %s", peerUserID)
}

func (s *Sync) syncDirect(ctx context.Context, addr, peerUserID string, t coretypes.Task) error {
	conn, err := s.connFor(addr)
	if err != nil {
		return err
	}
	token, err := s.tokenFor()
	if err != nil {
		return fmt.Errorf("issue host token for sync: %w", err)
	}
	client := rpc.NewClient(conn, token)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	return backoff.Retry(func() error {
		err := client.InterCoreSyncTask(ctx, peerUserID, t)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, backoff.WithContext(b, ctx))
}

func (s *Sync) connFor(addr string) (*grpc.ClientConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn, ok := s.conns[addr]; ok {
		return conn, nil
	}
	conn, err := Dial(addr, s.tlsCfg)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	s.conns[addr] = conn
	return conn, nil
}

// Close tears down every cached outbound connection.
func (s *Sync) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for addr, conn := range s.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.conns, addr)
	}
	return firstErr
}
