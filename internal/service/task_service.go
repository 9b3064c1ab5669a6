package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/schedule-console/internal/model"
	"github.com/t77yq/schedule-console/internal/scheduler"
	"github.com/t77yq/schedule-console/internal/storage"
)

// defaultRunLimit bounds a run history listing when no limit is given
const defaultRunLimit = 20

// TaskScheduler runs started tasks on their schedules
type TaskScheduler interface {
	StartTask(task *model.Task, schedule *model.Schedule) (*model.TaskJob, error)
	CancelTask(taskID string) error
	StartedTasks() []string
}

// TaskListQuery is a task listing request; nil Page and PageSize take the defaults
type TaskListQuery struct {
	Page      *int
	PageSize  *int
	SortBy    model.TaskSortField
	SortOrder model.SortOrder
}

// TaskService applies the task rules on top of storage and starts and
// cancels tasks on the scheduler. It is the scheduler's TaskExecutor.
type TaskService struct {
	tasks     storage.TaskStorage
	schedules *ScheduleService
	scheduler TaskScheduler
	logger    *zap.Logger
	now       func() time.Time
}

// NewTaskService creates a task service and subscribes it to schedule changes
func NewTaskService(tasks storage.TaskStorage, schedules *ScheduleService, taskScheduler TaskScheduler, logger *zap.Logger) *TaskService {
	s := &TaskService{
		tasks:     tasks,
		schedules: schedules,
		scheduler: taskScheduler,
		logger:    logger.Named("task_service"),
		now:       time.Now,
	}
	schedules.Subscribe(s)
	return s
}

// Save creates a task, creating its schedule first when the key is new
func (s *TaskService) Save(ctx context.Context, req model.TaskRequest) (*model.Task, error) {
	if strings.TrimSpace(req.TaskID) == "" {
		return nil, ErrInvalidTaskID
	}

	if _, err := s.tasks.GetByTaskID(ctx, req.TaskID); err == nil {
		s.logger.Error("Task already exists", zap.String("task_id", req.TaskID))
		return nil, ErrTaskExists
	} else if !errors.Is(err, storage.ErrTaskNotFound) {
		return nil, fmt.Errorf("failed to check task: %w", err)
	}

	schedule, err := s.schedules.FindOrCreate(ctx, req.Schedule)
	if err != nil {
		return nil, err
	}

	now := model.NewTimestamp(s.now())
	task := &model.Task{
		TaskID:           req.TaskID,
		Description:      req.Description,
		SchedulerEnabled: req.SchedulerEnabled,
		Schedule:         schedule.Key(),
		CreatedBy:        model.Int64(systemUser),
		CreatedAt:        now,
		LastUpdatedBy:    model.Int64(systemUser),
		LastUpdatedAt:    now,
	}

	if err := s.tasks.Insert(ctx, task); err != nil {
		if errors.Is(err, storage.ErrTaskDuplicate) {
			return nil, ErrTaskExists
		}
		return nil, fmt.Errorf("failed to save task: %w", err)
	}

	s.logger.Info("Saved task",
		zap.Int64("id", *task.ID),
		zap.String("task_id", task.TaskID),
		zap.String("schedule_id", task.Schedule))
	return task, nil
}

// Update overwrites the task identified by req.ID, keeping its creation audit fields
func (s *TaskService) Update(ctx context.Context, req model.TaskRequest) (*model.Task, error) {
	if req.ID == nil || *req.ID == 0 {
		return nil, ErrTaskNotFound
	}

	existing, err := s.tasks.Get(ctx, *req.ID)
	if err != nil {
		if errors.Is(err, storage.ErrTaskNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	if strings.TrimSpace(req.TaskID) == "" {
		return nil, ErrInvalidTaskID
	}

	schedule, err := s.schedules.FindOrCreate(ctx, req.Schedule)
	if err != nil {
		return nil, err
	}

	task := *existing
	task.TaskID = req.TaskID
	task.Description = req.Description
	task.SchedulerEnabled = req.SchedulerEnabled
	task.Schedule = schedule.Key()
	task.LastUpdatedBy = model.Int64(systemUser)
	task.LastUpdatedAt = model.NewTimestamp(s.now())

	if err := s.tasks.Update(ctx, &task); err != nil {
		switch {
		case errors.Is(err, storage.ErrTaskDuplicate):
			return nil, ErrTaskExists
		case errors.Is(err, storage.ErrTaskNotFound):
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to update task: %w", err)
	}

	// a started task is rebound so it follows the new schedule and id
	if s.cancelJob(existing.TaskID) {
		if _, err := s.scheduler.StartTask(&task, schedule); err != nil {
			s.logger.Error("Failed to restart updated task", zap.String("task_id", task.TaskID), zap.Error(err))
		}
	}

	s.logger.Info("Updated task",
		zap.Int64("id", *task.ID),
		zap.String("task_id", task.TaskID),
		zap.String("schedule_id", task.Schedule))
	return &task, nil
}

// Get returns the task with the given task id
func (s *TaskService) Get(ctx context.Context, taskID string) (*model.Task, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, ErrInvalidTaskID
	}

	task, err := s.tasks.GetByTaskID(ctx, taskID)
	if err != nil {
		if errors.Is(err, storage.ErrTaskNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// Delete removes the task with the given task id and cancels its job
func (s *TaskService) Delete(ctx context.Context, taskID string) (bool, error) {
	if strings.TrimSpace(taskID) == "" {
		return false, ErrInvalidTaskID
	}

	deleted, err := s.tasks.DeleteByTaskID(ctx, taskID)
	if err != nil {
		return false, fmt.Errorf("failed to delete task: %w", err)
	}
	if deleted {
		s.cancelJob(taskID)
	}

	s.logger.Info("Deleted task",
		zap.String("task_id", taskID),
		zap.Bool("deleted", deleted))
	return deleted, nil
}

// DeleteByID removes the task with the given ID
func (s *TaskService) DeleteByID(ctx context.Context, id int64) (bool, error) {
	removed, err := s.DeleteByIDs(ctx, []int64{id})
	if err != nil {
		return false, err
	}
	return len(removed) > 0, nil
}

// DeleteByIDs removes the tasks with the given IDs and returns the removed task ids
func (s *TaskService) DeleteByIDs(ctx context.Context, ids []int64) ([]string, error) {
	removed, err := s.tasks.DeleteByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to delete tasks: %w", err)
	}
	s.afterDelete(removed)
	return removed, nil
}

// DeleteByTaskIDs removes the tasks with the given task ids and returns the removed ones
func (s *TaskService) DeleteByTaskIDs(ctx context.Context, taskIDs []string) ([]string, error) {
	removed, err := s.tasks.DeleteByTaskIDs(ctx, taskIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to delete tasks: %w", err)
	}
	s.afterDelete(removed)
	return removed, nil
}

func (s *TaskService) afterDelete(removed []string) {
	for _, taskID := range removed {
		s.cancelJob(taskID)
	}
	s.logger.Info("Deleted tasks", zap.Strings("task_ids", removed))
}

// List returns one page of tasks
func (s *TaskService) List(ctx context.Context, q TaskListQuery) (*model.TaskList, error) {
	return s.list(ctx, q, storage.TaskFilter{})
}

// ListBySchedule returns one page of the tasks bound to the schedule key
func (s *TaskService) ListBySchedule(ctx context.Context, scheduleID string, q TaskListQuery) (*model.TaskList, error) {
	if strings.TrimSpace(scheduleID) == "" {
		return nil, ErrInvalidScheduleID
	}
	return s.list(ctx, q, storage.TaskFilter{ScheduleID: scheduleID})
}

// ListByCron returns one page of the tasks whose schedule uses expr
func (s *TaskService) ListByCron(ctx context.Context, expr string, q TaskListQuery) (*model.TaskList, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, ErrInvalidCron
	}
	return s.list(ctx, q, storage.TaskFilter{CronSchedule: expr})
}

func (s *TaskService) list(ctx context.Context, q TaskListQuery, filter storage.TaskFilter) (*model.TaskList, error) {
	page, pageSize, sortOrder, err := pageWindow(q.Page, q.PageSize, q.SortOrder)
	if err != nil {
		return nil, err
	}

	sortBy := model.TaskSortByID
	if q.SortBy != "" {
		parsed, err := model.ParseTaskSortField(string(q.SortBy))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSort, err)
		}
		sortBy = parsed
	}

	total, err := s.tasks.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	totalPages := model.TotalPagesFor(total, pageSize)
	if total > 0 && page > totalPages {
		return nil, &InvalidPageError{Available: totalPages}
	}

	items, err := s.tasks.List(ctx, storage.TaskListOptions{
		Offset:     (page - 1) * pageSize,
		Limit:      pageSize,
		SortColumn: sortBy.Column(),
		Descending: sortOrder == model.SortDesc,
		Filter:     filter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	return &model.TaskList{
		Items:      items,
		Total:      total,
		TotalPages: totalPages,
		SortOrder:  sortOrder,
		SortBy:     sortBy,
	}, nil
}

// Start runs the task every time its schedule fires
func (s *TaskService) Start(ctx context.Context, taskID string) (*model.TaskJob, error) {
	task, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	schedule, err := s.schedules.Get(ctx, task.Schedule)
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule of task %s: %w", taskID, err)
	}

	job, err := s.scheduler.StartTask(task, schedule)
	if err != nil {
		if errors.Is(err, scheduler.ErrInvalidExpression) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCron, err)
		}
		return nil, fmt.Errorf("failed to start task: %w", err)
	}
	return job, nil
}

// Cancel stops running the task
func (s *TaskService) Cancel(ctx context.Context, taskID string) (bool, error) {
	if strings.TrimSpace(taskID) == "" {
		return false, ErrInvalidTaskID
	}

	if err := s.scheduler.CancelTask(taskID); err != nil {
		if errors.Is(err, scheduler.ErrTaskNotStarted) {
			return false, ErrTaskNotStarted
		}
		return false, fmt.Errorf("failed to cancel task: %w", err)
	}
	return true, nil
}

// StartEnabled starts every task with the scheduler flag set and returns how
// many were started
func (s *TaskService) StartEnabled(ctx context.Context) (int, error) {
	tasks, err := s.tasks.List(ctx, storage.TaskListOptions{
		SortColumn: model.TaskSortByID.Column(),
		Filter:     storage.TaskFilter{EnabledOnly: true},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list enabled tasks: %w", err)
	}

	started := 0
	for _, task := range tasks {
		if _, err := s.Start(ctx, task.TaskID); err != nil {
			s.logger.Warn("Skipping task", zap.String("task_id", task.TaskID), zap.Error(err))
			continue
		}
		started++
	}
	return started, nil
}

// RunTask implements scheduler.TaskExecutor. The run is recorded in the run
// history; a task that no longer exists reports scheduler.ErrTaskGone.
func (s *TaskService) RunTask(ctx context.Context, taskID string) (*model.TaskRun, error) {
	task, err := s.tasks.GetByTaskID(ctx, taskID)
	if err != nil {
		if errors.Is(err, storage.ErrTaskNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrTaskNotFound, scheduler.ErrTaskGone)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	started := s.now()
	data := task.Data()
	s.logger.Info("Running task",
		zap.String("task_id", task.TaskID),
		zap.String("schedule_id", task.Schedule),
		zap.String("data", data))

	completed := s.now()
	run := &model.TaskRun{
		ID:          uuid.NewString(),
		TaskID:      task.TaskID,
		ScheduleID:  task.Schedule,
		Status:      model.TaskStatusCompleted,
		Result:      data,
		StartedAt:   *model.NewTimestamp(started),
		CompletedAt: model.NewTimestamp(completed),
		Duration:    completed.Sub(started),
	}

	if err := s.tasks.StoreRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record task run: %w", err)
	}
	return run, nil
}

// Runs returns the latest runs of a task, newest first
func (s *TaskService) Runs(ctx context.Context, taskID string, limit int) ([]*model.TaskRun, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, ErrInvalidTaskID
	}
	if limit <= 0 {
		limit = defaultRunLimit
	}

	runs, err := s.tasks.ListRuns(ctx, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list task runs: %w", err)
	}
	return runs, nil
}

// PruneRuns deletes runs started before the cutoff
func (s *TaskService) PruneRuns(ctx context.Context, before time.Time) (int64, error) {
	deleted, err := s.tasks.DeleteRunsBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune task runs: %w", err)
	}
	return deleted, nil
}

// ScheduleSaved implements Observer
func (s *TaskService) ScheduleSaved(context.Context, *model.Schedule) {}

// ScheduleDeleted implements Observer. Deleting a schedule deletes its
// tasks, so jobs of tasks that no longer exist are canceled.
func (s *TaskService) ScheduleDeleted(ctx context.Context, scheduleID string) {
	for _, taskID := range s.scheduler.StartedTasks() {
		_, err := s.tasks.GetByTaskID(ctx, taskID)
		if errors.Is(err, storage.ErrTaskNotFound) {
			s.cancelJob(taskID)
			s.logger.Info("Canceled task of deleted schedule",
				zap.String("task_id", taskID),
				zap.String("schedule_id", scheduleID))
		}
	}
}

// cancelJob cancels the task's job and reports whether it was started
func (s *TaskService) cancelJob(taskID string) bool {
	return s.scheduler.CancelTask(taskID) == nil
}

var (
	_ Observer               = (*TaskService)(nil)
	_ scheduler.TaskExecutor = (*TaskService)(nil)
	_ TaskScheduler          = (*scheduler.CronRunner)(nil)
)
