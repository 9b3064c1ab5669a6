package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fixedCounter struct {
	schedules, tasks int
}

func (c fixedCounter) Len() int       { return c.schedules }
func (c fixedCounter) TaskCount() int { return c.tasks }

func TestHealthReporter(t *testing.T) {
	logger := zaptest.NewLogger(t)
	reporter := NewHealthReporter(fixedCounter{schedules: 4, tasks: 2}, time.Minute, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	t.Run("Snapshot", func(t *testing.T) {
		stats, err := reporter.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, StatusUp, stats.Status)
		assert.Equal(t, 4, stats.Schedules)
		assert.Equal(t, 2, stats.Tasks)
		assert.NotZero(t, stats.MemoryTotal)
		assert.GreaterOrEqual(t, stats.MemoryPercent, 0.0)
		assert.LessOrEqual(t, stats.MemoryPercent, 100.0)
		assert.GreaterOrEqual(t, stats.CPUPercent, 0.0)
	})

	t.Run("CachedWithinInterval", func(t *testing.T) {
		base := time.Now()
		reporter.now = func() time.Time { return base }
		first, err := reporter.collect(ctx)
		require.NoError(t, err)

		reporter.now = func() time.Time { return base.Add(30 * time.Second) }
		second, err := reporter.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, first.MemoryUsed, second.MemoryUsed)
		assert.Equal(t, first.UptimeSeconds+30, second.UptimeSeconds)
	})

	t.Run("NilCounter", func(t *testing.T) {
		r := NewHealthReporter(nil, time.Minute, logger)
		stats, err := r.Snapshot(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.Schedules)
		assert.Zero(t, stats.Tasks)
	})
}

func TestHealthReporter_Loop(t *testing.T) {
	reporter := NewHealthReporter(fixedCounter{schedules: 1}, 50*time.Millisecond, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reporter.Start(ctx)
	require.Eventually(t, func() bool {
		reporter.mu.RLock()
		defer reporter.mu.RUnlock()
		return !reporter.collected.IsZero()
	}, 5*time.Second, 20*time.Millisecond)

	reporter.Stop()
	reporter.Stop()
}
