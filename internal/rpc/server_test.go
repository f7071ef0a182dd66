package rpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colink-dev/colink-core/internal/coretypes"
)

// fakeStore is a minimal in-memory kvstore.Store recording which userID
// every call was made under, so tests can assert on namespace routing
// without a real bbolt file.
type fakeStore struct {
	entries map[string]*coretypes.StorageEntry // userID -> last entry touched
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]*coretypes.StorageEntry)}
}

func (s *fakeStore) Create(userID, keyName string, payload []byte) (*coretypes.StorageEntry, error) {
	e := &coretypes.StorageEntry{KeyName: keyName, Payload: payload}
	s.entries[userID] = e
	return e, nil
}

func (s *fakeStore) Update(userID, keyName string, payload []byte) (*coretypes.StorageEntry, error) {
	return s.Create(userID, keyName, payload)
}

func (s *fakeStore) Delete(userID, keyName string) (*coretypes.StorageEntry, error) {
	e := &coretypes.StorageEntry{KeyName: keyName, Tombstone: true}
	s.entries[userID] = e
	return e, nil
}

func (s *fakeStore) Read(userID, keyNameOrPath string) (*coretypes.StorageEntry, error) {
	if e, ok := s.entries[userID]; ok {
		return e, nil
	}
	return &coretypes.StorageEntry{KeyName: keyNameOrPath}, nil
}

func (s *fakeStore) ListKeys(userID, prefix string, includeHistory bool) ([]*coretypes.StorageEntry, error) {
	if e, ok := s.entries[userID]; ok {
		return []*coretypes.StorageEntry{e}, nil
	}
	return nil, nil
}

func (s *fakeStore) Close() error { return nil }

func withToken(ctx context.Context, tok coretypes.Token) context.Context {
	return context.WithValue(ctx, tokenCtxKey{}, tok)
}

func TestCreateEntryUsesCallersOwnNamespaceByDefault(t *testing.T) {
	store := newFakeStore()
	srv := NewServer(Config{Store: store})

	ctx := withToken(context.Background(), coretypes.Token{UserID: "alice", Privilege: coretypes.PrivilegeUser})
	_, err := srv.CreateEntry(ctx, &EntryRequest{KeyName: "k"})
	require.NoError(t, err)

	_, ok := store.entries["alice"]
	assert.True(t, ok, "entry should land under the caller's own user_id")
}

func TestCreateEntryRejectsTargetUserFromNonHostToken(t *testing.T) {
	store := newFakeStore()
	srv := NewServer(Config{Store: store})

	ctx := withToken(context.Background(), coretypes.Token{UserID: "alice", Privilege: coretypes.PrivilegeUser})
	_, err := srv.CreateEntry(ctx, &EntryRequest{KeyName: "k", TargetUserID: "bob"})
	require.Error(t, err)

	_, ok := store.entries["bob"]
	assert.False(t, ok, "a user-privileged caller must not be able to write into another user's namespace")
}

func TestCreateEntryHonorsTargetUserFromHostToken(t *testing.T) {
	store := newFakeStore()
	srv := NewServer(Config{Store: store})

	ctx := withToken(context.Background(), coretypes.Token{UserID: coretypes.HostSubject, Privilege: coretypes.PrivilegeHost})
	_, err := srv.CreateEntry(ctx, &EntryRequest{KeyName: "k", TargetUserID: "bob"})
	require.NoError(t, err)

	_, ok := store.entries["bob"]
	assert.True(t, ok, "a host-privileged caller acting on behalf of bob must write under bob's namespace")
	_, ok = store.entries[coretypes.HostSubject]
	assert.False(t, ok, "the host pseudo-user's own namespace must not be touched when a target is given")
}

func TestReadKeysHonorsTargetUserFromHostToken(t *testing.T) {
	store := newFakeStore()
	store.entries["bob"] = &coretypes.StorageEntry{KeyName: "k", KeyPath: "bob/k@1"}
	srv := NewServer(Config{Store: store})

	ctx := withToken(context.Background(), coretypes.Token{UserID: coretypes.HostSubject, Privilege: coretypes.PrivilegeHost})
	resp, err := srv.ReadKeys(ctx, &ReadKeysRequest{Prefix: "", TargetUserID: "bob"})
	require.NoError(t, err)
	require.Len(t, resp.KeyPaths, 1)
	assert.Equal(t, "bob/k@1", resp.KeyPaths[0])
}

func TestReadEntriesRejectsTargetUserFromGuestToken(t *testing.T) {
	store := newFakeStore()
	srv := NewServer(Config{Store: store})

	ctx := withToken(context.Background(), coretypes.Token{UserID: "guest1", Privilege: coretypes.PrivilegeGuest})
	_, err := srv.ReadEntries(ctx, &ReadEntriesRequest{
		Selectors:    []KeySelector{{KeyNameOrPath: "k"}},
		TargetUserID: "bob",
	})
	assert.Error(t, err)
}
