package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_JobLifecycle(t *testing.T) {
	m := New("run-1")

	m.JobSubmitted()
	m.JobSubmitted()
	assert.Equal(t, 2.0, promtest.ToFloat64(m.JobsSubmitted))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.QueueDepth))

	m.JobStarted()
	assert.Equal(t, 1.0, promtest.ToFloat64(m.QueueDepth))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.ActiveWorkers))

	m.JobFinished(3 * time.Millisecond)
	assert.Equal(t, 0.0, promtest.ToFloat64(m.ActiveWorkers))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.JobsCompleted))
}

func TestMetrics_ActionsByKind(t *testing.T) {
	m := New("run-1")

	m.AddActions("increment", 5)
	m.AddActions("increment", 2)
	m.AddActions("decrement", 1)
	m.AddActions("msleep", 0)

	assert.Equal(t, 7.0, promtest.ToFloat64(m.ActionsExecuted.WithLabelValues("increment")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.ActionsExecuted.WithLabelValues("decrement")))
	assert.Equal(t, 2, promtest.CollectAndCount(m.ActionsExecuted), "zero adds create no series")
}

func TestMetrics_Barriers(t *testing.T) {
	m := New("run-1")
	m.BarrierDone(time.Millisecond)
	m.BarrierDone(0)
	assert.Equal(t, 2.0, promtest.ToFloat64(m.Barriers))
	assert.Equal(t, 1, promtest.CollectAndCount(m.BarrierWait))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.JobSubmitted()
		m.JobStarted()
		m.JobFinished(time.Second)
		m.AddActions("increment", 1)
		m.BarrierDone(time.Second)
	})
	assert.Nil(t, m.Registry())
	assert.NoError(t, m.WriteTextfile(filepath.Join(t.TempDir(), "never.prom")))
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := New("run-abc")
	m.JobSubmitted()
	m.JobStarted()
	m.JobFinished(time.Millisecond)

	path := filepath.Join(t.TempDir(), "tally.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `tally_jobs_submitted_total{run_id="run-abc"} 1`)
	assert.Contains(t, text, `tally_jobs_completed_total{run_id="run-abc"} 1`)
	assert.Contains(t, text, "tally_job_duration_seconds_bucket")
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	// Two runs in one process must not collide on registration.
	a := New("a")
	b := New("b")
	a.JobSubmitted()
	assert.Equal(t, 1.0, promtest.ToFloat64(a.JobsSubmitted))
	assert.Equal(t, 0.0, promtest.ToFloat64(b.JobsSubmitted))
}
