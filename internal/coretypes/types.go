// Package coretypes holds the data model shared across colink-core's
// components: storage entries, tasks and their decisions, subscriptions,
// and protocol operator instances.
package coretypes

import (
	"fmt"
	"strings"
	"time"
)

// Privilege is the scope carried by a capability token.
type Privilege string

const (
	PrivilegeUser  Privilege = "user"
	PrivilegeHost  Privilege = "host"
	PrivilegeGuest Privilege = "guest"
)

// HostSubject is the literal user_id value used by host-privileged tokens.
const HostSubject = "host"

// Token is a verified capability: who it was issued to, what it may do,
// and until when. The opaque wire form is produced by internal/auth.
type Token struct {
	UserID    string
	Privilege Privilege
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the token is no longer valid at t0.
func (t Token) Expired(t0 time.Time) bool {
	return t0.After(t.ExpiresAt)
}

// StorageEntry is one version of a keyed value in the KV store.
type StorageEntry struct {
	KeyName   string
	KeyPath   string
	Payload   []byte
	Timestamp int64 // version / monotonic sequence
	Tombstone bool
}

// BuildKeyPath assembles the fully qualified historical locator
// "<user_id>::<key_name>@<version>".
func BuildKeyPath(userID, keyName string, version uint64) string {
	return fmt.Sprintf("%s::%s@%d", userID, keyName, version)
}

// ParseKeyPath splits a key_path into its user/key_name and version parts.
// The version is the substring after the last '@'; everything before it is
// "<user_id>::<key_name>".
func ParseKeyPath(keyPath string) (userID, keyName string, version uint64, err error) {
	at := strings.LastIndex(keyPath, "@")
	if at < 0 {
		return "", "", 0, fmt.Errorf("key_path %q has no version suffix", keyPath)
	}
	head, tail := keyPath[:at], keyPath[at+1:]
	sep := strings.Index(head, "::")
	if sep < 0 {
		return "", "", 0, fmt.Errorf("key_path %q missing user_id separator", keyPath)
	}
	var v uint64
	if _, err := fmt.Sscanf(tail, "%d", &v); err != nil {
		return "", "", 0, fmt.Errorf("key_path %q has non-numeric version: %w", keyPath, err)
	}
	return head[:sep], head[sep+2:], v, nil
}

// MutationType enumerates the kinds of storage event the subscription bus
// fans out.
type MutationType string

const (
	MutationCreate MutationType = "create"
	MutationUpdate MutationType = "update"
	MutationDelete MutationType = "delete"
)

// Event is published to subscribers after every successful KV mutation.
type Event struct {
	Type      MutationType
	UserID    string
	KeyName   string
	KeyPath   string
	Payload   []byte
	Version   uint64
	Timestamp time.Time
}

// TaskStatus enumerates the task lifecycle of spec §4.5.
type TaskStatus string

const (
	TaskStarted  TaskStatus = "started"
	TaskWaiting  TaskStatus = "waiting"
	TaskApproved TaskStatus = "approved"
	TaskIgnored  TaskStatus = "ignored"
	TaskFinished TaskStatus = "finished"
)

// legalNext enumerates the transitions allowed out of each status. A task
// may also remain unchanged (idempotent re-delivery).
var legalNext = map[TaskStatus][]TaskStatus{
	TaskStarted:  {TaskWaiting, TaskApproved, TaskIgnored},
	TaskWaiting:  {TaskApproved, TaskIgnored},
	TaskApproved: {TaskFinished},
	TaskIgnored:  {},
	TaskFinished: {},
}

// CanTransition reports whether moving from "from" to "to" is a legal,
// monotonic state-machine step (or a no-op, which callers treat specially).
func CanTransition(from, to TaskStatus) bool {
	if from == to {
		return true
	}
	for _, s := range legalNext[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Rank orders statuses along the single legal lifeline so progress can be
// compared with plain integer comparison.
func (s TaskStatus) Rank() int {
	switch s {
	case TaskStarted:
		return 0
	case TaskWaiting:
		return 1
	case TaskApproved, TaskIgnored:
		return 2
	case TaskFinished:
		return 3
	default:
		return -1
	}
}

// Participant is one (user_id, role) pair listed on a task.
type Participant struct {
	UserID string
	Role   string
}

// Decision is a signed approve/disapprove vote by a participant.
type Decision struct {
	IsApproved bool
	Reason     string
	Signature  []byte
	SignerID   string
}

// Signed reports whether a decision has actually been cast.
func (d Decision) Signed() bool {
	return len(d.Signature) > 0
}

// Task is a multi-party protocol invocation replicated across the cores of
// its participants.
type Task struct {
	TaskID           string
	ProtocolName     string
	ProtocolParam    []byte
	Participants     []Participant
	ParentTask       string
	Status           TaskStatus
	ExpirationTime   time.Time
	RequireAgreement bool
	Decisions        []Decision // parallel to Participants
	InitiatorCoreURI string
}

// ParticipantIndex returns the index of userID within the task's
// participant list, or -1 if absent.
func (t *Task) ParticipantIndex(userID string) int {
	for i, p := range t.Participants {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

// Expired reports whether the task's expiration_time has passed as of t0.
func (t *Task) Expired(t0 time.Time) bool {
	return !t.ExpirationTime.IsZero() && t0.After(t.ExpirationTime)
}

// AllDecided reports whether every participant required to agree has cast
// a decision.
func (t *Task) AllDecided() bool {
	for _, d := range t.Decisions {
		if !d.Signed() {
			return false
		}
	}
	return len(t.Decisions) == len(t.Participants)
}

// AnyDisapproved reports whether at least one cast decision disapproves.
func (t *Task) AnyDisapproved() bool {
	for _, d := range t.Decisions {
		if d.Signed() && !d.IsApproved {
			return true
		}
	}
	return false
}

// Subscription binds a user's interest in a key prefix to a broker queue.
type Subscription struct {
	UserID    string
	KeyPrefix string
	QueueName string
	StartedAt time.Time
}

// ProtocolOperatorInstance is a locally-spawned protocol operator process.
type ProtocolOperatorInstance struct {
	InstanceID string
	UserID     string
	PID        int
}
