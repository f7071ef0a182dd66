package task

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/colink-dev/colink-core/internal/auth"
	"github.com/colink-dev/colink-core/internal/coretypes"
	"github.com/colink-dev/colink-core/internal/identity"
	"github.com/colink-dev/colink-core/internal/mq"
)

func newTestEngine(t *testing.T) (*Engine, *identity.KeyPair) {
	t.Helper()
	dir := t.TempDir()
	db, err := bolt.Open(filepath.Join(dir, "tasks.db"), 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	core, err := identity.Generate()
	require.NoError(t, err)

	var secret [32]byte
	svc := auth.NewService(secret, core.ID(), core.Pub, mq.NewLocal())

	return New(db, svc, core, noopSyncer{}), core
}

func newParticipant(t *testing.T) *identity.KeyPair {
	t.Helper()
	kp, err := identity.Generate()
	require.NoError(t, err)
	return kp
}

func TestCreateTaskSignsInitiatorDecision(t *testing.T) {
	e, core := newTestEngine(t)
	bob := newParticipant(t)

	tk, err := e.CreateTask(context.Background(), core.ID(), "sum", []byte("params"),
		[]coretypes.Participant{{UserID: core.ID(), Role: "initiator"}, {UserID: bob.ID(), Role: "receiver"}},
		true, time.Hour, "")
	require.NoError(t, err)

	assert.Equal(t, coretypes.TaskWaiting, tk.Status)
	assert.True(t, tk.Decisions[0].Signed())
	assert.False(t, tk.Decisions[1].Signed())
}

func TestCreateTaskRejectsWrongInitiatorPosition(t *testing.T) {
	e, core := newTestEngine(t)
	bob := newParticipant(t)

	_, err := e.CreateTask(context.Background(), core.ID(), "sum", nil,
		[]coretypes.Participant{{UserID: bob.ID(), Role: "receiver"}, {UserID: core.ID(), Role: "initiator"}},
		true, time.Hour, "")
	require.Error(t, err)
}

func TestInterCoreSyncTaskIsIdempotent(t *testing.T) {
	e, _ := newTestEngine(t)
	alice := newParticipant(t)
	bob := newParticipant(t)

	incoming := coretypes.Task{
		TaskID:           "t1",
		ProtocolName:     "sum",
		Participants:     []coretypes.Participant{{UserID: alice.ID(), Role: "initiator"}, {UserID: bob.ID(), Role: "receiver"}},
		Status:           coretypes.TaskWaiting,
		RequireAgreement: true,
		Decisions:        make([]coretypes.Decision, 2),
	}

	require.NoError(t, e.InterCoreSyncTask(bob.ID(), incoming))
	first, err := e.GetTask(bob.ID(), "t1")
	require.NoError(t, err)
	assert.Equal(t, coretypes.TaskWaiting, first.Status)

	// Re-delivery of the identical state is a no-op.
	require.NoError(t, e.InterCoreSyncTask(bob.ID(), incoming))
	second, err := e.GetTask(bob.ID(), "t1")
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
}

func TestInterCoreSyncTaskRejectsIllegalTransition(t *testing.T) {
	e, _ := newTestEngine(t)
	alice := newParticipant(t)
	bob := newParticipant(t)

	waiting := coretypes.Task{
		TaskID:           "t2",
		Participants:     []coretypes.Participant{{UserID: alice.ID(), Role: "initiator"}, {UserID: bob.ID(), Role: "receiver"}},
		Status:           coretypes.TaskWaiting,
		RequireAgreement: true,
		Decisions:        make([]coretypes.Decision, 2),
	}
	require.NoError(t, e.InterCoreSyncTask(bob.ID(), waiting))

	regressed := waiting
	regressed.Status = coretypes.TaskStarted
	err := e.InterCoreSyncTask(bob.ID(), regressed)
	// Rank(started) < Rank(waiting): treated as stale, not illegal — no-op.
	require.NoError(t, err)

	illegal := waiting
	illegal.Status = coretypes.TaskFinished
	err = e.InterCoreSyncTask(bob.ID(), illegal)
	require.Error(t, err)
}

func TestConfirmAndFinishTaskHappyPath(t *testing.T) {
	e, core := newTestEngine(t)
	bob := newParticipant(t)

	tk, err := e.CreateTask(context.Background(), core.ID(), "sum", nil,
		[]coretypes.Participant{{UserID: core.ID(), Role: "initiator"}, {UserID: bob.ID(), Role: "receiver"}},
		true, time.Hour, "")
	require.NoError(t, err)

	// Bob's core receives the fan-out.
	require.NoError(t, e.InterCoreSyncTask(bob.ID(), *tk))

	confirmed, err := e.ConfirmTask(context.Background(), bob.ID(), tk.TaskID, true, "looks good")
	require.NoError(t, err)
	assert.Equal(t, coretypes.TaskApproved, confirmed.Status)

	// The confirm path syncs back to the initiator's own namespace.
	require.NoError(t, e.InterCoreSyncTask(core.ID(), *confirmed))

	finished, err := e.FinishTask(context.Background(), core.ID(), tk.TaskID)
	require.NoError(t, err)
	assert.Equal(t, coretypes.TaskFinished, finished.Status)

	_, err = e.FinishTask(context.Background(), bob.ID(), tk.TaskID)
	assert.Error(t, err, "only the initiator may finish a task")
}

func TestConfirmTaskDisapproveShortCircuits(t *testing.T) {
	e, core := newTestEngine(t)
	bob := newParticipant(t)

	tk, err := e.CreateTask(context.Background(), core.ID(), "sum", nil,
		[]coretypes.Participant{{UserID: core.ID(), Role: "initiator"}, {UserID: bob.ID(), Role: "receiver"}},
		true, time.Hour, "")
	require.NoError(t, err)
	require.NoError(t, e.InterCoreSyncTask(bob.ID(), *tk))

	disapproved, err := e.ConfirmTask(context.Background(), bob.ID(), tk.TaskID, false, "no thanks")
	require.NoError(t, err)
	assert.Equal(t, coretypes.TaskIgnored, disapproved.Status)

	require.NoError(t, e.InterCoreSyncTask(core.ID(), *disapproved))

	_, err = e.FinishTask(context.Background(), core.ID(), tk.TaskID)
	assert.Error(t, err)
}
