package model

import (
	"fmt"
	"strings"
	"time"
)

// TaskStatus is the state of a started task or of one of its runs
type TaskStatus string

const (
	TaskStatusScheduled TaskStatus = "scheduled"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Task is a unit of work bound to a schedule by its key
type Task struct {
	ID               *int64     `json:"id,omitempty"`
	TaskID           string     `json:"task_id"`
	Description      string     `json:"description"`
	SchedulerEnabled bool       `json:"is_schedular_enabled"`
	Schedule         string     `json:"schedule"`
	CreatedBy        *int64     `json:"created_by,omitempty"`
	CreatedAt        *Timestamp `json:"creation_date,omitempty"`
	LastUpdatedBy    *int64     `json:"last_updated_by,omitempty"`
	LastUpdatedAt    *Timestamp `json:"last_update_date,omitempty"`
}

// HasID reports whether the task carries a non-zero identifier
func (t *Task) HasID() bool {
	return t != nil && t.ID != nil && *t.ID != 0
}

// Data is the payload a run of the task produces
func (t *Task) Data() string {
	if t.Description == "" {
		return "data for " + t.TaskID
	}
	return "data for " + t.TaskID + ": " + t.Description
}

// TaskRequest is the write payload for creating or updating a task. The
// schedule is looked up by key and created when it does not exist yet.
type TaskRequest struct {
	ID               *int64          `json:"id,omitempty"`
	TaskID           string          `json:"task_id"`
	Description      string          `json:"description"`
	SchedulerEnabled bool            `json:"is_schedular_enabled"`
	Schedule         ScheduleRequest `json:"schedule"`
}

// TaskList is one page of tasks plus paging metadata
type TaskList struct {
	Items      []*Task       `json:"items"`
	Total      int64         `json:"total"`
	TotalPages int           `json:"total_pages"`
	SortOrder  SortOrder     `json:"sort_order,omitempty"`
	SortBy     TaskSortField `json:"sort_by,omitempty"`
}

// TaskJob describes a started task
type TaskJob struct {
	TaskID       string     `json:"task_id"`
	ScheduleID   string     `json:"schedule_id"`
	CronSchedule string     `json:"cron_schedule"`
	Status       TaskStatus `json:"status"`
	Runs         int        `json:"runs"`
	StartedAt    Timestamp  `json:"started_at"`
	LastRunAt    *Timestamp `json:"last_run_at,omitempty"`
	NextRunAt    *Timestamp `json:"next_run_at,omitempty"`
}

// TaskRun is the record of one execution of a task
type TaskRun struct {
	ID          string        `json:"id"`
	TaskID      string        `json:"task_id"`
	ScheduleID  string        `json:"schedule_id,omitempty"`
	Status      TaskStatus    `json:"status"`
	Result      string        `json:"result,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   Timestamp     `json:"started_at"`
	CompletedAt *Timestamp    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
}

// TaskSortField is the column a task listing is ordered by
type TaskSortField string

const (
	TaskSortByID          TaskSortField = "ID"
	TaskSortByTaskID      TaskSortField = "TASK_ID"
	TaskSortByDescription TaskSortField = "DESCRIPTION"
	TaskSortBySchedule    TaskSortField = "SCHEDULE_ID"
	TaskSortByCreatedAt   TaskSortField = "CREATED_AT"
	TaskSortByNone        TaskSortField = "NONE"
)

var taskSortColumns = map[TaskSortField]string{
	TaskSortByID:          "id",
	TaskSortByTaskID:      "task_id",
	TaskSortByDescription: "description",
	TaskSortBySchedule:    "schedule_id",
	TaskSortByCreatedAt:   "creation_date",
	TaskSortByNone:        "",
}

// Column returns the storage column for the field; "" means unsorted
func (f TaskSortField) Column() string {
	return taskSortColumns[f]
}

// ParseTaskSortField parses a task sort field case-insensitively. NAME is
// accepted for TASK_ID.
func ParseTaskSortField(s string) (TaskSortField, error) {
	f := TaskSortField(strings.ToUpper(strings.TrimSpace(s)))
	if f == "NAME" {
		return TaskSortByTaskID, nil
	}
	if _, ok := taskSortColumns[f]; !ok {
		return "", fmt.Errorf("invalid sort field %q", s)
	}
	return f, nil
}

// Query parameter names of the task endpoints
const (
	ParamTaskID = "task_id"
	ParamID     = "id"
	ParamLimit  = "limit"
)
