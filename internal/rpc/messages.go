package rpc

import (
	"time"

	"github.com/colink-dev/colink-core/internal/coretypes"
)

// Full method names, grouped the way spec §6's table is laid out.
const (
	MethodGenerateToken          = "/colink.Core/GenerateToken"
	MethodImportUser             = "/colink.Core/ImportUser"
	MethodCreateEntry            = "/colink.Core/CreateEntry"
	MethodUpdateEntry            = "/colink.Core/UpdateEntry"
	MethodDeleteEntry            = "/colink.Core/DeleteEntry"
	MethodReadEntries            = "/colink.Core/ReadEntries"
	MethodReadKeys               = "/colink.Core/ReadKeys"
	MethodCreateTask             = "/colink.Core/CreateTask"
	MethodConfirmTask            = "/colink.Core/ConfirmTask"
	MethodFinishTask             = "/colink.Core/FinishTask"
	MethodRequestInfo            = "/colink.Core/RequestInfo"
	MethodSubscribe              = "/colink.Core/Subscribe"
	MethodUnsubscribe            = "/colink.Core/Unsubscribe"
	MethodInterCoreSyncTask      = "/colink.Core/InterCoreSyncTask"
	MethodStartProtocolOperator  = "/colink.Core/StartProtocolOperator"
	MethodStopProtocolOperator   = "/colink.Core/StopProtocolOperator"
	// streaming
	MethodInterCoreSyncTaskWithReverseConnection = "/colink.Core/InterCoreSyncTaskWithReverseConnection"
)

type GenerateTokenRequest struct {
	ExistingToken string             `json:"existing_token"`
	Privilege     coretypes.Privilege `json:"privilege"`
	Expiry        time.Time          `json:"expiry"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type ImportUserRequest struct {
	UserID     string    `json:"user_id"`
	CorePubKey string    `json:"core_pub_key"`
	Expiry     time.Time `json:"expiry"`
	Signature  []byte    `json:"signature"`
}

type EntryRequest struct {
	KeyName string `json:"key_name"`
	Payload []byte `json:"payload"`
	// TargetUserID, when set, names the KV namespace to operate on instead
	// of the caller's own. Only honored for a host-privileged token (spec
	// §4.4's "tokens with privilege = host can act across all users");
	// a user- or guest-privileged caller setting this is rejected.
	TargetUserID string `json:"target_user_id,omitempty"`
}

type EntryResponse struct {
	Entry *coretypes.StorageEntry `json:"entry"`
}

type KeySelector struct {
	KeyNameOrPath string `json:"key_name_or_path"`
}

type ReadEntriesRequest struct {
	Selectors []KeySelector `json:"selectors"`
	// TargetUserID, when set, reads from another user's namespace; only
	// honored for a host-privileged token, same as EntryRequest.
	TargetUserID string `json:"target_user_id,omitempty"`
}

type ReadEntriesResponse struct {
	Entries []*coretypes.StorageEntry `json:"entries"`
}

type ReadKeysRequest struct {
	Prefix         string `json:"prefix"`
	IncludeHistory bool   `json:"include_history"`
	// TargetUserID, when set, lists another user's namespace; only
	// honored for a host-privileged token, same as EntryRequest.
	TargetUserID string `json:"target_user_id,omitempty"`
}

type ReadKeysResponse struct {
	KeyPaths []string `json:"key_paths"`
}

type CreateTaskRequest struct {
	ProtocolName     string                  `json:"protocol_name"`
	ProtocolParam    []byte                  `json:"protocol_param"`
	Participants     []coretypes.Participant `json:"participants"`
	RequireAgreement bool                    `json:"require_agreement"`
	TTL              time.Duration           `json:"ttl"`
	InitiatorCoreURI string                  `json:"initiator_core_uri"`
}

type TaskResponse struct {
	Task *coretypes.Task `json:"task"`
}

type ConfirmTaskRequest struct {
	TaskID     string `json:"task_id"`
	IsApproved bool   `json:"is_approved"`
	Reason     string `json:"reason"`
}

type FinishTaskRequest struct {
	TaskID string `json:"task_id"`
}

type Empty struct{}

type RequestInfoResponse struct {
	CorePublicKey string `json:"core_public_key"`
	MQURI         string `json:"mq_uri"`
}

type SubscribeRequest struct {
	Prefix        string `json:"prefix"`
	StartVersion  uint64 `json:"start_timestamp"`
}

type SubscribeResponse struct {
	QueueName string `json:"queue_name"`
}

type UnsubscribeRequest struct {
	QueueName string `json:"queue_name"`
}

type InterCoreSyncTaskRequest struct {
	// LocalUserID is the user on the RECEIVING core this task belongs to.
	// The caller (internal/transport) already resolved it via its
	// user-to-core directory, so the receiver doesn't need to reverse
	// that lookup from its own token — the token only proves the sender
	// is a trusted peer host, not which local user it's addressing.
	LocalUserID string        `json:"local_user_id"`
	Task        coretypes.Task `json:"task"`
}

type StartProtocolOperatorRequest struct {
	ProtocolName string `json:"protocol_name"`
}

type StartProtocolOperatorResponse struct {
	InstanceID string `json:"instance_id"`
}

type StopProtocolOperatorRequest struct {
	InstanceID string `json:"instance_id"`
}
