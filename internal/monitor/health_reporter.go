package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/schedule-console/internal/model"
)

const StatusUp = "UP"

// ScheduleCounter reports how many schedules are registered and how many
// tasks are started on them
type ScheduleCounter interface {
	Len() int
	TaskCount() int
}

// HealthReporter collects process and host health
type HealthReporter struct {
	logger   *zap.Logger
	counter  ScheduleCounter
	interval time.Duration
	started  time.Time
	now      func() time.Time

	mu        sync.RWMutex
	latest    model.HealthStats
	collected time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewHealthReporter creates a reporter refreshing every interval once started.
// counter may be nil.
func NewHealthReporter(counter ScheduleCounter, interval time.Duration, logger *zap.Logger) *HealthReporter {
	return &HealthReporter{
		logger:   logger.Named("health"),
		counter:  counter,
		interval: interval,
		started:  time.Now(),
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start starts the collection loop
func (r *HealthReporter) Start(ctx context.Context) {
	r.logger.Info("Starting health reporter", zap.Duration("interval", r.interval))
	go r.collectLoop(ctx)
}

// Stop stops the collection loop and waits for it to exit
func (r *HealthReporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	<-r.done
	r.logger.Info("Health reporter stopped")
}

func (r *HealthReporter) collectLoop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			if _, err := r.collect(ctx); err != nil {
				r.logger.Error("Failed to collect health", zap.Error(err))
			}
		}
	}
}

// Snapshot returns the latest health, collecting it when it is older than the interval
func (r *HealthReporter) Snapshot(ctx context.Context) (model.HealthStats, error) {
	r.mu.RLock()
	latest, collected := r.latest, r.collected
	r.mu.RUnlock()

	if !collected.IsZero() && r.now().Sub(collected) < r.interval {
		latest.Schedules, latest.Tasks = r.counts()
		latest.UptimeSeconds = r.uptime()
		return latest, nil
	}
	return r.collect(ctx)
}

func (r *HealthReporter) collect(ctx context.Context) (model.HealthStats, error) {
	cpuPercent, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return model.HealthStats{}, fmt.Errorf("failed to get CPU usage: %w", err)
	}

	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return model.HealthStats{}, fmt.Errorf("failed to get memory usage: %w", err)
	}

	stats := model.HealthStats{
		Status:        StatusUp,
		UptimeSeconds: r.uptime(),
		MemoryUsed:    memInfo.Used,
		MemoryTotal:   memInfo.Total,
		MemoryPercent: memInfo.UsedPercent,
	}
	stats.Schedules, stats.Tasks = r.counts()
	if len(cpuPercent) > 0 {
		stats.CPUPercent = cpuPercent[0]
	}

	r.mu.Lock()
	r.latest = stats
	r.collected = r.now()
	r.mu.Unlock()

	r.logger.Debug("Health collected",
		zap.Float64("cpu_usage", stats.CPUPercent),
		zap.Float64("memory_usage", stats.MemoryPercent),
		zap.Int("schedules", stats.Schedules),
		zap.Int("tasks", stats.Tasks))
	return stats, nil
}

func (r *HealthReporter) counts() (schedules, tasks int) {
	if r.counter == nil {
		return 0, 0
	}
	return r.counter.Len(), r.counter.TaskCount()
}

func (r *HealthReporter) uptime() int64 {
	return int64(r.now().Sub(r.started) / time.Second)
}
