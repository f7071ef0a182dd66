package coremetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTimerStartsImmediately(t *testing.T) {
	timer := NewTimer()
	assert.False(t, timer.start.IsZero())
	assert.WithinDuration(t, time.Now(), timer.start, time.Second)
}

func TestTimerObserveDurationRecordsToHistogram(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "coremetrics_test_duration_seconds",
		Help:    "test histogram",
		Buckets: prometheus.DefBuckets,
	})

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDuration(h)

	var m dto.Metric
	require.NoError(t, h.Write(&m))
	assert.EqualValues(t, 1, m.GetHistogram().GetSampleCount())
	assert.Greater(t, m.GetHistogram().GetSampleSum(), 0.0)
}

func TestHandlerReturnsPromHTTPHandler(t *testing.T) {
	assert.NotNil(t, Handler())
}
