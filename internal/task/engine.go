package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/colink-dev/colink-core/internal/auth"
	"github.com/colink-dev/colink-core/internal/corefault"
	"github.com/colink-dev/colink-core/internal/corelog"
	"github.com/colink-dev/colink-core/internal/coretypes"
	"github.com/colink-dev/colink-core/internal/identity"
	"go.etcd.io/bbolt"
)

// Syncer pushes a task's current state to the core responsible for
// peerUserID. Its concrete implementation (internal/transport.Sync) owns
// dialling and retry; Engine only needs "deliver this, eventually" and does
// not import transport, which instead depends on task — keeping the
// dependency one-directional.
type Syncer interface {
	SyncTask(ctx context.Context, peerUserID string, t coretypes.Task) error
}

type noopSyncer struct{}

func (noopSyncer) SyncTask(context.Context, string, coretypes.Task) error { return nil }

// Engine is the Task State Machine of spec §4.5. A single mutex gates every
// read-modify-write so that, for any task_id, observers never see two racing
// writers both act on the same stale state — the TOCTOU defence spec §4.5
// and §5 require; finer per-task locking is permitted but not necessary at
// colink-core's expected scale, so one coarse lock is used, exactly as the
// teacher's WarrenFSM guards its whole apply path with a single mutex.
type Engine struct {
	mu sync.Mutex

	store  *store
	auth   *auth.Service
	signer *identity.KeyPair // this core's own identity; see doc.go signing note
	sync   Syncer
}

// New builds a task Engine sharing db with the KV store (see kvstore.BoltStore.DB),
// authenticating signers via authSvc, signing with signer, and delivering
// peer syncs through sync (NopSyncer-equivalent if nil, useful for tests
// that only exercise local state transitions).
func New(db *bbolt.DB, authSvc *auth.Service, signer *identity.KeyPair, sync Syncer) *Engine {
	if sync == nil {
		sync = noopSyncer{}
	}
	return &Engine{
		store:  newStore(db),
		auth:   authSvc,
		signer: signer,
		sync:   sync,
	}
}

func decisionMessage(taskID, signerID string, approved bool, reason string) []byte {
	return []byte(fmt.Sprintf("%s:%s:%t:%s", taskID, signerID, approved, reason))
}

func (e *Engine) sign(taskID string, approved bool, reason string) coretypes.Decision {
	signerID := e.signer.ID()
	sig := e.signer.Sign(decisionMessage(taskID, signerID, approved, reason))
	return coretypes.Decision{IsApproved: approved, Reason: reason, Signature: sig, SignerID: signerID}
}

// verifyDecision checks d's signature against d.SignerID's registered
// public key, and that the signer is known to this core (spec §4.5:
// "unknown signers cause the decision to be rejected").
func (e *Engine) verifyDecision(taskID string, d coretypes.Decision) error {
	if !d.Signed() {
		return nil // an un-cast decision slot carries nothing to verify
	}
	if !e.auth.IsImported(d.SignerID) {
		return corefault.New(corefault.PermissionDenied, "decision signer %s is not a known user", d.SignerID)
	}
	pub, err := identity.ParsePublicKey(d.SignerID)
	if err != nil {
		return corefault.Wrap(corefault.InvalidArgument, err, "malformed signer_id %s", d.SignerID)
	}
	if !identity.Verify(pub, decisionMessage(taskID, d.SignerID, d.IsApproved, d.Reason), d.Signature) {
		return corefault.New(corefault.Unauthenticated, "decision signature from %s does not verify", d.SignerID)
	}
	return nil
}

// initiatorOf returns the task's initiator, by convention the first entry
// in its ordered participant list — spec §3 leaves "role" free-form, so
// position rather than a magic role string is what create_task relies on.
func initiatorOf(t *coretypes.Task) string {
	if len(t.Participants) == 0 {
		return ""
	}
	return t.Participants[0].UserID
}

// CreateTask assigns a task_id, persists the task under initiatorUserID's
// namespace, signs the initiator's own decision if it participates, and
// fans the task out to every remote participant. Implements spec §4.5
// transition 1.
func (e *Engine) CreateTask(ctx context.Context, initiatorUserID, protocolName string, protocolParam []byte, participants []coretypes.Participant, requireAgreement bool, ttl time.Duration, initiatorCoreURI string) (*coretypes.Task, error) {
	if len(participants) == 0 || participants[0].UserID != initiatorUserID {
		return nil, corefault.New(corefault.InvalidArgument, "initiator %s must be participants[0]", initiatorUserID)
	}

	e.mu.Lock()

	t := &coretypes.Task{
		TaskID:           uuid.NewString(),
		ProtocolName:     protocolName,
		ProtocolParam:    protocolParam,
		Participants:     participants,
		Status:           coretypes.TaskStarted,
		ExpirationTime:   time.Now().Add(ttl),
		RequireAgreement: requireAgreement,
		Decisions:        make([]coretypes.Decision, len(participants)),
		InitiatorCoreURI: initiatorCoreURI,
	}
	if idx := t.ParticipantIndex(initiatorUserID); idx >= 0 {
		t.Decisions[idx] = e.sign(t.TaskID, true, "initiator")
	}
	t.Status = coretypes.TaskWaiting

	if err := e.store.put(initiatorUserID, t); err != nil {
		e.mu.Unlock()
		return nil, corefault.Wrap(corefault.Internal, err, "persist task %s", t.TaskID)
	}
	snapshot := *t
	e.mu.Unlock()

	// fanOut dials out to every remote participant and must not run while
	// e.mu is held: internal/transport.Sync retries an unreachable peer
	// with unbounded exponential backoff, which would otherwise starve
	// every other task operation on this core for as long as that peer
	// stays unreachable (see ConfirmTask, which unlocks the same way).
	e.fanOut(ctx, snapshot, initiatorUserID)
	return t, nil
}

// fanOut pushes t to every participant but exceptUserID concurrently; sync
// failures are logged, not returned, since create_task has already
// committed the local started→waiting transition (spec §4.5 transition 1
// only requires "successful fan-out" to reach waiting, and retries beyond
// the first attempt are internal/transport's concern).
func (e *Engine) fanOut(ctx context.Context, t coretypes.Task, exceptUserID string) {
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range t.Participants {
		if p.UserID == exceptUserID {
			continue
		}
		p := p
		g.Go(func() error {
			if err := e.sync.SyncTask(ctx, p.UserID, t); err != nil {
				corelog.WithTaskID(t.TaskID).Error().Err(err).Str("user_id", p.UserID).Msg("sync task to participant")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// InterCoreSyncTask applies a peer-delivered task image. Re-delivery of an
// identical or stale state is a no-op; illegal transitions are rejected
// with FailedPrecondition. Implements spec §4.5 transition 2 and the
// idempotence/signature-verification rules.
func (e *Engine) InterCoreSyncTask(localUserID string, incoming coretypes.Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, d := range incoming.Decisions {
		if err := e.verifyDecision(incoming.TaskID, d); err != nil {
			return err
		}
	}

	existing, err := e.store.get(localUserID, incoming.TaskID)
	if err != nil {
		return corefault.Wrap(corefault.Internal, err, "load task %s", incoming.TaskID)
	}

	if existing == nil {
		t := incoming
		if t.Status.Rank() == coretypes.TaskStarted.Rank() {
			t.Status = coretypes.TaskWaiting
		}
		if !t.RequireAgreement {
			t.Status = coretypes.TaskApproved
		}
		return e.storeChecked(localUserID, &t)
	}

	if incoming.Status.Rank() <= existing.Status.Rank() {
		return nil // stale or duplicate re-delivery: no-op, per spec §4.5
	}
	if !coretypes.CanTransition(existing.Status, incoming.Status) {
		corelog.WithTaskID(incoming.TaskID).Error().
			Str("from", string(existing.Status)).
			Str("to", string(incoming.Status)).
			Msg("rejected illegal task transition")
		return corefault.New(corefault.FailedPrecondition, "illegal transition %s -> %s", existing.Status, incoming.Status)
	}

	merged := incoming
	return e.storeChecked(localUserID, &merged)
}

func (e *Engine) storeChecked(userID string, t *coretypes.Task) error {
	if err := e.store.put(userID, t); err != nil {
		return corefault.Wrap(corefault.Internal, err, "persist task %s", t.TaskID)
	}
	return nil
}

// ConfirmTask records callerUserID's signed decision on taskID, then syncs
// the updated task back to the initiator. When the initiator has collected
// every required decision it resolves to approved or ignored and broadcasts
// the terminal state. Implements spec §4.5 transition 3.
func (e *Engine) ConfirmTask(ctx context.Context, callerUserID, taskID string, approved bool, reason string) (*coretypes.Task, error) {
	e.mu.Lock()

	t, err := e.store.get(callerUserID, taskID)
	if err != nil {
		e.mu.Unlock()
		return nil, corefault.Wrap(corefault.Internal, err, "load task %s", taskID)
	}
	if t == nil {
		e.mu.Unlock()
		return nil, corefault.New(corefault.NotFound, "task %s not found", taskID)
	}
	idx := t.ParticipantIndex(callerUserID)
	if idx < 0 {
		e.mu.Unlock()
		return nil, corefault.New(corefault.PermissionDenied, "%s is not a participant of %s", callerUserID, taskID)
	}
	if t.Status != coretypes.TaskWaiting && t.Status != coretypes.TaskStarted {
		e.mu.Unlock()
		return nil, corefault.New(corefault.FailedPrecondition, "task %s is not awaiting decisions (status %s)", taskID, t.Status)
	}

	t.Decisions[idx] = e.sign(taskID, approved, reason)

	if t.Expired(time.Now()) {
		t.Status = coretypes.TaskIgnored
	} else if t.AnyDisapproved() {
		t.Status = coretypes.TaskIgnored
	} else if t.AllDecided() {
		t.Status = coretypes.TaskApproved
	}

	if err := e.storeChecked(callerUserID, t); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	snapshot := *t
	initiator := initiatorOf(t)
	e.mu.Unlock()

	if initiator != callerUserID {
		if err := e.sync.SyncTask(ctx, initiator, snapshot); err != nil {
			corelog.WithTaskID(taskID).Error().Err(err).Str("initiator", initiator).Msg("sync confirmed decision to initiator")
		}
	}
	if snapshot.Status == coretypes.TaskApproved || snapshot.Status == coretypes.TaskIgnored {
		e.fanOut(ctx, snapshot, callerUserID)
	}
	return &snapshot, nil
}

// FinishTask transitions an approved task to finished; only the initiator
// may call it. Implements spec §4.5 transition 4.
func (e *Engine) FinishTask(ctx context.Context, callerUserID, taskID string) (*coretypes.Task, error) {
	e.mu.Lock()

	t, err := e.store.get(callerUserID, taskID)
	if err != nil {
		e.mu.Unlock()
		return nil, corefault.Wrap(corefault.Internal, err, "load task %s", taskID)
	}
	if t == nil {
		e.mu.Unlock()
		return nil, corefault.New(corefault.NotFound, "task %s not found", taskID)
	}
	if initiatorOf(t) != callerUserID {
		e.mu.Unlock()
		return nil, corefault.New(corefault.PermissionDenied, "only the initiator may finish task %s", taskID)
	}
	if !coretypes.CanTransition(t.Status, coretypes.TaskFinished) {
		e.mu.Unlock()
		return nil, corefault.New(corefault.FailedPrecondition, "task %s is %s, not approved", taskID, t.Status)
	}

	t.Status = coretypes.TaskFinished
	if err := e.storeChecked(callerUserID, t); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	snapshot := *t
	e.mu.Unlock()

	e.fanOut(ctx, snapshot, callerUserID)
	return &snapshot, nil
}

// GetTask loads a task, lazily folding an unnoticed expiration into
// ignored on read — spec §4.5 requires no active sweeper.
func (e *Engine) GetTask(userID, taskID string) (*coretypes.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.store.get(userID, taskID)
	if err != nil {
		return nil, corefault.Wrap(corefault.Internal, err, "load task %s", taskID)
	}
	if t == nil {
		return nil, corefault.New(corefault.NotFound, "task %s not found", taskID)
	}
	if t.Expired(time.Now()) && coretypes.CanTransition(t.Status, coretypes.TaskIgnored) {
		t.Status = coretypes.TaskIgnored
		if err := e.storeChecked(userID, t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// ListTasks returns every task known locally for userID.
func (e *Engine) ListTasks(userID string) ([]*coretypes.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tasks, err := e.store.list(userID)
	if err != nil {
		return nil, corefault.Wrap(corefault.Internal, err, "list tasks for %s", userID)
	}
	return tasks, nil
}
