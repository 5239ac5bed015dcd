package metrics_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonesrussell/beancrawl/internal/metrics"
)

func TestNewMetrics(t *testing.T) {
	m := metrics.NewMetrics()
	assert.NotNil(t, m)
	assert.False(t, m.StartTime.IsZero())
}

func TestRecordSuccess(t *testing.T) {
	m := metrics.NewMetrics()

	m.RecordSuccess(12)
	m.RecordSuccess(3)

	assert.Equal(t, int64(2), m.GetJobsSucceeded())

	snap := m.GetSnapshot()
	assert.Equal(t, int64(15), snap.ProductsRecorded)
	assert.False(t, snap.LastSuccessTime.IsZero())
}

func TestRecordFailures(t *testing.T) {
	m := metrics.NewMetrics()

	m.RecordRetry()
	m.RecordRetry()
	m.RecordDead()

	snap := m.GetSnapshot()
	assert.Equal(t, int64(2), snap.JobsRetried)
	assert.Equal(t, int64(1), snap.JobsDead)
	assert.Equal(t, int64(1), m.GetJobsDead())
}

func TestRecordAttempts(t *testing.T) {
	m := metrics.NewMetrics()

	m.RecordAttempts(3, 1, 0)
	m.RecordAttempts(2, 0, 1)

	snap := m.GetSnapshot()
	assert.Equal(t, int64(5), snap.StrategyAttempts)
	assert.Equal(t, int64(1), snap.RateLimitedAttempts)
	assert.Equal(t, int64(1), snap.BudgetDeniedAttempts)
}

func TestReset(t *testing.T) {
	m := metrics.NewMetrics()
	m.RecordSuccess(5)
	m.RecordRetry()
	m.RecordDead()
	m.RecordAttempts(4, 1, 1)

	m.Reset()

	snap := m.GetSnapshot()
	assert.Equal(t, int64(0), snap.JobsSucceeded)
	assert.Equal(t, int64(0), snap.JobsRetried)
	assert.Equal(t, int64(0), snap.JobsDead)
	assert.Equal(t, int64(0), snap.StrategyAttempts)
	assert.Equal(t, int64(0), snap.ProductsRecorded)
	assert.True(t, snap.LastSuccessTime.IsZero())
	assert.False(t, snap.StartTime.IsZero(), "start time survives a reset")
}

func TestSnapshotUptime(t *testing.T) {
	m := metrics.NewMetrics()
	snap := m.GetSnapshot()
	assert.NotEmpty(t, snap.Uptime)
}

func TestConcurrentRecording(t *testing.T) {
	m := metrics.NewMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordSuccess(1)
			m.RecordAttempts(1, 0, 0)
		}()
	}
	wg.Wait()

	snap := m.GetSnapshot()
	assert.Equal(t, int64(100), snap.JobsSucceeded)
	assert.Equal(t, int64(100), snap.ProductsRecorded)
	assert.Equal(t, int64(100), snap.StrategyAttempts)
}
