package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/schedule-console/internal/model"
)

// TaskExecutor runs a started task when its schedule fires
type TaskExecutor interface {
	RunTask(ctx context.Context, taskID string) (*model.TaskRun, error)
}

// taskBinding ties a started task to a schedule. Bindings follow the
// schedule's ID when it has one, so a renamed schedule keeps its tasks.
type taskBinding struct {
	scheduleRef int64
	scheduleID  string
	startedAt   time.Time
	runs        int
	lastRunAt   time.Time
	running     bool
}

func (b *taskBinding) matches(id int64, key string) bool {
	if b.scheduleRef != 0 {
		return b.scheduleRef == id
	}
	return b.scheduleID == key
}

// UseExecutor sets the executor task runs are handed to
func (r *CronRunner) UseExecutor(executor TaskExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executor = executor
}

// StartTask runs task every time schedule fires, registering the schedule
// when it is not registered yet. Starting a started task rebinds it.
func (r *CronRunner) StartTask(task *model.Task, schedule *model.Schedule) (*model.TaskJob, error) {
	if task.TaskID == "" {
		return nil, ErrMissingTaskID
	}
	key := schedule.Key()
	if key == "" {
		return nil, ErrMissingKey
	}

	r.mu.Lock()
	_, registered := r.entries[key]
	r.mu.Unlock()
	if !registered {
		if err := r.Register(schedule); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrScheduleNotRegistered, key)
	}

	binding := &taskBinding{
		scheduleRef: entry.id,
		scheduleID:  key,
		startedAt:   r.now(),
	}
	r.tasks[task.TaskID] = binding

	r.logger.Info("Started task",
		zap.String("task_id", task.TaskID),
		zap.String("schedule_id", key),
		zap.Time("next_run", entry.spec.Next(r.now())))

	return r.jobLocked(task.TaskID, binding), nil
}

// CancelTask stops running the task
func (r *CronRunner) CancelTask(taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[taskID]; !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotStarted, taskID)
	}
	delete(r.tasks, taskID)

	r.logger.Info("Canceled task", zap.String("task_id", taskID))
	return nil
}

// TaskJob describes a started task
func (r *CronRunner) TaskJob(taskID string) (*model.TaskJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	binding, ok := r.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotStarted, taskID)
	}
	return r.jobLocked(taskID, binding), nil
}

// StartedTasks returns the ids of every started task, sorted
func (r *CronRunner) StartedTasks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.tasks))
	for id := range r.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TaskCount returns the number of started tasks
func (r *CronRunner) TaskCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

func (r *CronRunner) jobLocked(taskID string, b *taskBinding) *model.TaskJob {
	job := &model.TaskJob{
		TaskID:     taskID,
		ScheduleID: b.scheduleID,
		Status:     model.TaskStatusScheduled,
		Runs:       b.runs,
		StartedAt:  *model.NewTimestamp(b.startedAt),
	}
	if b.running {
		job.Status = model.TaskStatusRunning
	}
	if !b.lastRunAt.IsZero() {
		job.LastRunAt = model.NewTimestamp(b.lastRunAt)
	}

	for key, entry := range r.entries {
		if b.matches(entry.id, key) {
			job.ScheduleID = key
			job.CronSchedule = entry.expression
			job.NextRunAt = model.NewTimestamp(entry.spec.Next(r.now()))
			break
		}
	}
	return job
}

// boundTasks returns the tasks started on the schedule, sorted
func (r *CronRunner) boundTasks(id int64, key string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for taskID, b := range r.tasks {
		if b.matches(id, key) {
			ids = append(ids, taskID)
		}
	}
	sort.Strings(ids)
	return ids
}

// runTask hands one run to the executor and publishes its outcome
func (r *CronRunner) runTask(ctx context.Context, taskID string, id int64, scheduleID string) {
	r.mu.Lock()
	executor := r.executor
	binding, ok := r.tasks[taskID]
	if ok && executor != nil {
		binding.running = true
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	if executor == nil {
		r.logger.Warn("No executor for started task", zap.String("task_id", taskID))
		return
	}

	run, err := executor.RunTask(ctx, taskID)
	gone := errors.Is(err, ErrTaskGone)

	r.mu.Lock()
	binding.running = false
	binding.runs++
	binding.lastRunAt = r.now()
	if gone && r.tasks[taskID] == binding {
		delete(r.tasks, taskID)
	}
	r.mu.Unlock()

	if gone {
		r.logger.Info("Dropped job of deleted task", zap.String("task_id", taskID))
		return
	}

	event := model.ScheduleEvent{
		Type:       model.EventTaskRun,
		ID:         id,
		ScheduleID: scheduleID,
		TaskID:     taskID,
		OccurredAt: *model.NewTimestamp(r.now()),
	}
	if err != nil {
		r.logger.Error("Task run failed", zap.String("task_id", taskID), zap.Error(err))
		event.Status = model.TaskStatusFailed
		event.Error = err.Error()
	} else {
		event.Status = run.Status
		event.Result = run.Result
		event.Error = run.Error
	}
	r.publish(ctx, event)
}
