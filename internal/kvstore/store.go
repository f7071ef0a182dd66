package kvstore

import (
	"github.com/colink-dev/colink-core/internal/coretypes"
)

// Publisher receives a structured event for every successful KV mutation,
// synchronously and before the mutating call returns, per spec §4.1.
// internal/subscription implements this to feed the Subscription Bus.
type Publisher interface {
	Publish(userID string, ev coretypes.Event)
}

// NopPublisher discards events; useful in tests that don't exercise
// the subscription bus.
type NopPublisher struct{}

func (NopPublisher) Publish(string, coretypes.Event) {}

// Store is the KV store contract of spec §4.1.
type Store interface {
	// Create fails with corefault.AlreadyExists if a non-tombstone latest
	// version of key_name already exists.
	Create(userID, keyName string, payload []byte) (*coretypes.StorageEntry, error)

	// Update is an unconditional new-version write; it does not require a
	// prior entry to exist.
	Update(userID, keyName string, payload []byte) (*coretypes.StorageEntry, error)

	// Delete writes a tombstone version and advances the latest pointer.
	Delete(userID, keyName string) (*coretypes.StorageEntry, error)

	// Read resolves keyNameOrPath either as a bare key_name (returns the
	// latest non-tombstone version) or as a fully qualified key_path
	// (returns that exact historical version, tombstone or not).
	Read(userID, keyNameOrPath string) (*coretypes.StorageEntry, error)

	// ListKeys returns the latest entries (or every historical version,
	// if includeHistory) for key names under prefix.
	ListKeys(userID, prefix string, includeHistory bool) ([]*coretypes.StorageEntry, error)

	Close() error
}
