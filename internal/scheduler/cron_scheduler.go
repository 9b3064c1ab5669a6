package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/schedule-console/internal/model"
)

// CronRunner fires stored schedules on their cron expressions, runs the
// tasks started on a schedule when it fires and publishes an event for
// every change, firing and task run
type CronRunner struct {
	logger    *zap.Logger
	publisher EventPublisher
	cron      *cron.Cron
	mu        sync.Mutex
	entries   map[string]runnerEntry
	tasks     map[string]*taskBinding
	executor  TaskExecutor
	now       func() time.Time
}

type runnerEntry struct {
	entryID    cron.EntryID
	id         int64
	expression string
	spec       cron.Schedule
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}

// NewCronRunner creates a runner; call Start to begin firing
func NewCronRunner(publisher EventPublisher, logger *zap.Logger) *CronRunner {
	logger = logger.Named("cron")
	cronOptions := []cron.Option{
		cron.WithParser(expressionParser),
		cron.WithChain(cron.Recover(&cronLogger{logger: logger})),
		cron.WithLogger(&cronLogger{logger: logger}),
	}

	return &CronRunner{
		logger:    logger,
		publisher: publisher,
		cron:      cron.New(cronOptions...),
		entries:   make(map[string]runnerEntry),
		tasks:     make(map[string]*taskBinding),
		now:       time.Now,
	}
}

// Start starts firing registered schedules
func (r *CronRunner) Start() {
	r.cron.Start()
	r.logger.Info("Cron runner started", zap.Int("schedules", r.Len()))
}

// Stop stops the runner and waits for running jobs
func (r *CronRunner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("Cron runner stopped")
}

// Load registers every schedule; invalid ones are logged and skipped
func (r *CronRunner) Load(schedules []*model.Schedule) int {
	loaded := 0
	for _, schedule := range schedules {
		if err := r.Register(schedule); err != nil {
			r.logger.Warn("Skipping schedule",
				zap.String("schedule_id", schedule.Key()),
				zap.Error(err))
			continue
		}
		loaded++
	}
	return loaded
}

// Register adds a schedule, replacing any entry for the same key or ID
func (r *CronRunner) Register(schedule *model.Schedule) error {
	key := schedule.Key()
	if key == "" {
		return ErrMissingKey
	}

	spec, err := ParseExpression(schedule.Expression())
	if err != nil {
		return err
	}

	var id int64
	if schedule.HasID() {
		id = *schedule.ID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(key)
	if id != 0 {
		for k, e := range r.entries {
			if e.id == id {
				r.removeLocked(k)
			}
		}
	}

	entryID := r.cron.Schedule(spec, &cronJob{
		runner:     r,
		id:         id,
		scheduleID: key,
		expression: schedule.Expression(),
		spec:       spec,
	})
	r.entries[key] = runnerEntry{entryID: entryID, id: id, expression: schedule.Expression(), spec: spec}

	r.logger.Info("Registered schedule",
		zap.String("schedule_id", key),
		zap.String("expression", schedule.Expression()),
		zap.Time("next_run", spec.Next(r.now())))

	return nil
}

// Remove unregisters the schedule with the given key
func (r *CronRunner) Remove(scheduleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.removeLocked(scheduleID) {
		return fmt.Errorf("%w: %s", ErrScheduleNotRegistered, scheduleID)
	}
	r.logger.Info("Removed schedule", zap.String("schedule_id", scheduleID))
	return nil
}

func (r *CronRunner) removeLocked(scheduleID string) bool {
	entry, ok := r.entries[scheduleID]
	if !ok {
		return false
	}
	r.cron.Remove(entry.entryID)
	delete(r.entries, scheduleID)
	return true
}

// NextRun returns the next firing time of a registered schedule
func (r *CronRunner) NextRun(scheduleID string) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[scheduleID]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrScheduleNotRegistered, scheduleID)
	}
	return entry.spec.Next(r.now()), nil
}

// Len returns the number of registered schedules
func (r *CronRunner) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// ScheduleSaved registers the schedule and publishes a saved event
func (r *CronRunner) ScheduleSaved(ctx context.Context, schedule *model.Schedule) {
	if err := r.Register(schedule); err != nil {
		r.logger.Error("Failed to register saved schedule",
			zap.String("schedule_id", schedule.Key()),
			zap.Error(err))
	}

	event := model.ScheduleEvent{
		Type:         model.EventScheduleSaved,
		ScheduleID:   schedule.Key(),
		CronSchedule: schedule.Expression(),
		OccurredAt:   *model.NewTimestamp(r.now()),
	}
	if schedule.HasID() {
		event.ID = *schedule.ID
	}
	if next, err := r.NextRun(schedule.Key()); err == nil {
		event.NextRunAt = model.NewTimestamp(next)
	}
	r.publish(ctx, event)
}

// ScheduleDeleted unregisters the schedule and publishes a deleted event
func (r *CronRunner) ScheduleDeleted(ctx context.Context, scheduleID string) {
	if err := r.Remove(scheduleID); err != nil {
		r.logger.Debug("Deleted schedule was not registered", zap.String("schedule_id", scheduleID))
	}

	r.publish(ctx, model.ScheduleEvent{
		Type:       model.EventScheduleDeleted,
		ScheduleID: scheduleID,
		OccurredAt: *model.NewTimestamp(r.now()),
	})
}

func (r *CronRunner) publish(ctx context.Context, event model.ScheduleEvent) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.Error("Failed to publish schedule event",
			zap.String("type", event.Type),
			zap.String("schedule_id", event.ScheduleID),
			zap.Error(err))
	}
}

// cronJob implements cron.Job
type cronJob struct {
	runner     *CronRunner
	id         int64
	scheduleID string
	expression string
	spec       cron.Schedule
}

// Run implements cron.Job
func (j *cronJob) Run() {
	now := j.runner.now()
	next := j.spec.Next(now)

	ctx, cancel := context.WithTimeout(context.Background(), taskRunTimeout)
	defer cancel()

	tasks := j.runner.boundTasks(j.id, j.scheduleID)
	j.runner.publish(ctx, model.ScheduleEvent{
		Type:         model.EventScheduleFired,
		ID:           j.id,
		ScheduleID:   j.scheduleID,
		CronSchedule: j.expression,
		OccurredAt:   *model.NewTimestamp(now),
		NextRunAt:    model.NewTimestamp(next),
		Tasks:        tasks,
	})

	for _, taskID := range tasks {
		j.runner.runTask(ctx, taskID, j.id, j.scheduleID)
	}

	j.runner.logger.Info("Fired schedule",
		zap.String("schedule_id", j.scheduleID),
		zap.Int("tasks", len(tasks)),
		zap.Time("executed_at", now),
		zap.Time("next_run", next))
}
