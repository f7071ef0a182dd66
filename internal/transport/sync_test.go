package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colink-dev/colink-core/internal/coretypes"
)

func TestSyncTaskFallsBackToReverseWhenNoDirectRoute(t *testing.T) {
	recv := &fakeReceiver{}
	reg := NewReverseRegistry(recv)
	stream := &recordingStream{}
	reg.RegisterOutbound("bob-host", "bob-user", stream, func() {})

	s := NewSync(NewDirectory(), TLSConfig{}, func() (string, error) { return "tok", nil }, reg)

	err := s.SyncTask(context.Background(), "bob-user", coretypes.Task{TaskID: "t1"})
	require.NoError(t, err)
	require.Len(t, stream.sent, 1)
	assert.Equal(t, "t1", stream.sent[0].Task.TaskID)
}

func TestSyncTaskErrorsWithNoRouteAtAll(t *testing.T) {
	s := NewSync(NewDirectory(), TLSConfig{}, func() (string, error) { return "tok", nil }, NewReverseRegistry(&fakeReceiver{}))

	err := s.SyncTask(context.Background(), "nobody", coretypes.Task{TaskID: "t2"})
	assert.Error(t, err)
}
