package mq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAccountIssuesDistinctCredentials(t *testing.T) {
	l := NewLocal()

	c1, err := l.CreateAccount("alice")
	require.NoError(t, err)
	c2, err := l.CreateAccount("bob")
	require.NoError(t, err)

	assert.Equal(t, "alice", c1.UserID)
	assert.NotEqual(t, c1.Token, c2.Token)
}

func TestDeleteAllAccountsClosesLiveConsumers(t *testing.T) {
	l := NewLocal()
	_, err := l.CreateAccount("alice")
	require.NoError(t, err)

	queue, err := l.DeclareQueue("alice", "sub")
	require.NoError(t, err)

	stopCh := make(chan struct{})
	defer close(stopCh)
	msgs, err := l.Consume(queue, stopCh)
	require.NoError(t, err)

	require.NoError(t, l.DeleteAllAccounts())

	select {
	case _, ok := <-msgs:
		assert.False(t, ok, "a reset must close every live consumer channel, not leave it open")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for consumer channel to close after DeleteAllAccounts")
	}
}

func TestDeclareQueueNamesAreUniquePerCall(t *testing.T) {
	l := NewLocal()

	q1, err := l.DeclareQueue("alice", "kv:updates")
	require.NoError(t, err)
	q2, err := l.DeclareQueue("alice", "kv:updates")
	require.NoError(t, err)

	assert.NotEqual(t, q1, q2, "two DeclareQueue calls with the same prefix must not collide")
	assert.NotContains(t, q1, ":", "queue names must have broker-unsafe characters sanitized")
}

func TestPublishToUnknownQueueFails(t *testing.T) {
	l := NewLocal()
	err := l.Publish("does-not-exist", []byte("hi"))
	assert.Error(t, err)
}

func TestPublishDeliversToConsumeChannel(t *testing.T) {
	l := NewLocal()
	queue, err := l.DeclareQueue("alice", "sub")
	require.NoError(t, err)

	stopCh := make(chan struct{})
	defer close(stopCh)
	msgs, err := l.Consume(queue, stopCh)
	require.NoError(t, err)

	require.NoError(t, l.Publish(queue, []byte("payload")))

	select {
	case got := <-msgs:
		assert.Equal(t, []byte("payload"), got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestConsumeUnknownQueueFails(t *testing.T) {
	l := NewLocal()
	_, err := l.Consume("does-not-exist", make(chan struct{}))
	assert.Error(t, err)
}

func TestDeleteQueueClosesConsumers(t *testing.T) {
	l := NewLocal()
	queue, err := l.DeclareQueue("alice", "sub")
	require.NoError(t, err)

	stopCh := make(chan struct{})
	defer close(stopCh)
	msgs, err := l.Consume(queue, stopCh)
	require.NoError(t, err)

	require.NoError(t, l.DeleteQueue(queue))

	select {
	case _, ok := <-msgs:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for consumer channel to close after DeleteQueue")
	}

	assert.NoError(t, l.DeleteQueue(queue), "deleting an already-deleted queue is a no-op, not an error")
}

func TestConsumeStopChDetachesWithoutClosingQueue(t *testing.T) {
	l := NewLocal()
	queue, err := l.DeclareQueue("alice", "sub")
	require.NoError(t, err)

	stopCh := make(chan struct{})
	msgs, err := l.Consume(queue, stopCh)
	require.NoError(t, err)
	close(stopCh)

	select {
	case _, ok := <-msgs:
		assert.False(t, ok, "closing stopCh must detach this consumer")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for consumer channel to close after stopCh")
	}

	// the queue itself survives: a fresh consumer can still attach to it.
	stopCh2 := make(chan struct{})
	defer close(stopCh2)
	_, err = l.Consume(queue, stopCh2)
	assert.NoError(t, err)
}
