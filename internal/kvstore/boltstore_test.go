package kvstore

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// TestCreateUpdateDeleteHistory exercises property #1: reading by
// key_name always returns the latest non-tombstone payload, and reading
// any prior key_path returns exactly the payload written at that
// version, matching spec §8 end-to-end scenario #4.
func TestCreateUpdateDeleteHistory(t *testing.T) {
	s := newTestStore(t)

	v1, err := s.Create("alice", "x", []byte("a"))
	require.NoError(t, err)

	v2, err := s.Update("alice", "x", []byte("b"))
	require.NoError(t, err)
	assert.NotEqual(t, v1.KeyPath, v2.KeyPath)

	byPathV1, err := s.Read("alice", v1.KeyPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), byPathV1.Payload)

	byName, err := s.Read("alice", "x")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), byName.Payload)

	v3, err := s.Delete("alice", "x")
	require.NoError(t, err)
	assert.True(t, v3.Tombstone)

	_, err = s.Read("alice", "x")
	assert.Error(t, err, "reading a tombstoned key by name must fail NotFound")

	stillThere, err := s.Read("alice", v1.KeyPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), stillThere.Payload, "a historical key_path must remain readable after the key is deleted")
}

func TestCreateFailsIfNonTombstoneVersionExists(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Create("alice", "x", []byte("a"))
	require.NoError(t, err)

	_, err = s.Create("alice", "x", []byte("b"))
	assert.Error(t, err)
}

func TestCreateAfterDeleteSucceeds(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Create("alice", "x", []byte("a"))
	require.NoError(t, err)
	_, err = s.Delete("alice", "x")
	require.NoError(t, err)

	e, err := s.Create("alice", "x", []byte("c"))
	require.NoError(t, err, "create must succeed again once the latest version is a tombstone")
	assert.Equal(t, []byte("c"), e.Payload)
}

// TestConcurrentUpdatesProduceDistinctRecoverableVersions exercises
// property #2: for all interleavings of two update_entry calls on the
// same (user_id, key_name), the resulting version numbers are strictly
// distinct and both payloads are recoverable by key_path.
func TestConcurrentUpdatesProduceDistinctRecoverableVersions(t *testing.T) {
	s := newTestStore(t)
	const n = 50

	paths := make([]string, n)
	var wg sync.WaitGroup
	var mu sync.Mutex
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			e, err := s.Update("alice", "x", []byte{byte(i)})
			require.NoError(t, err)
			mu.Lock()
			paths[i] = e.KeyPath
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for i, path := range paths {
		require.NotEmpty(t, path)
		assert.False(t, seen[path], "version %d produced a duplicate key_path %s", i, path)
		seen[path] = true

		e, err := s.Read("alice", path)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, e.Payload)
	}
	assert.Len(t, seen, n)
}

func TestListKeysPrefixAndHistory(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Create("alice", "a:1", []byte("x"))
	require.NoError(t, err)
	_, err = s.Create("alice", "a:2", []byte("y"))
	require.NoError(t, err)
	_, err = s.Create("alice", "b:1", []byte("z"))
	require.NoError(t, err)
	_, err = s.Update("alice", "a:1", []byte("x2"))
	require.NoError(t, err)

	latest, err := s.ListKeys("alice", "a:", false)
	require.NoError(t, err)
	assert.Len(t, latest, 2)

	history, err := s.ListKeys("alice", "a:1", true)
	require.NoError(t, err)
	assert.Len(t, history, 2, "history listing must include both versions of a:1")
}

func TestReadByPathRejectsAnotherUsersKey(t *testing.T) {
	s := newTestStore(t)

	e, err := s.Create("alice", "x", []byte("a"))
	require.NoError(t, err)

	_, err = s.Read("bob", e.KeyPath)
	assert.Error(t, err, "a key_path minted for alice must not be readable under bob's namespace")
}
