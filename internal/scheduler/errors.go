package scheduler

import "errors"

var (
	// ErrInvalidExpression is returned when a cron expression cannot be parsed
	ErrInvalidExpression = errors.New("invalid cron expression")

	// ErrScheduleNotRegistered is returned when a schedule has no cron entry
	ErrScheduleNotRegistered = errors.New("schedule not registered")

	// ErrMissingKey is returned when a schedule has no schedule id
	ErrMissingKey = errors.New("schedule id is required")

	// ErrMissingTaskID is returned when a task has no task id
	ErrMissingTaskID = errors.New("task id is required")

	// ErrTaskNotStarted is returned when a task has no running job
	ErrTaskNotStarted = errors.New("task not started")

	// ErrTaskGone is returned by a TaskExecutor when the task no longer
	// exists; the runner drops the task's job
	ErrTaskGone = errors.New("task no longer exists")
)
