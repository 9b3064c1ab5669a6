package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/schedule-console/internal/model"
)

var (
	// ErrTaskNotFound is returned when no task matches
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskDuplicate is returned when a task id is already taken
	ErrTaskDuplicate = errors.New("task already exists")

	// ErrUnknownSchedule is returned when a task names a schedule that does not exist
	ErrUnknownSchedule = errors.New("task schedule does not exist")
)

// TaskFilter narrows a task listing
type TaskFilter struct {
	// ScheduleID matches the schedule key exactly
	ScheduleID string
	// CronSchedule matches tasks whose schedule uses the expression
	CronSchedule string
	// EnabledOnly keeps tasks with the scheduler flag set
	EnabledOnly bool
}

// TaskListOptions selects one window of tasks
type TaskListOptions struct {
	Offset int
	Limit  int
	// SortColumn is a column from model.TaskSortField.Column; empty means unsorted
	SortColumn string
	Descending bool
	Filter     TaskFilter
}

// TaskStorage defines the interface for task persistence and run history
type TaskStorage interface {
	// Insert stores a new task and assigns its ID
	Insert(ctx context.Context, task *model.Task) error

	// Update overwrites the task with the same ID
	Update(ctx context.Context, task *model.Task) error

	// Get retrieves a task by ID
	Get(ctx context.Context, id int64) (*model.Task, error)

	// GetByTaskID retrieves a task by its task id
	GetByTaskID(ctx context.Context, taskID string) (*model.Task, error)

	// DeleteByTaskID removes the task with the given task id
	DeleteByTaskID(ctx context.Context, taskID string) (bool, error)

	// DeleteByIDs removes the tasks with the given IDs and returns their task ids
	DeleteByIDs(ctx context.Context, ids []int64) ([]string, error)

	// DeleteByTaskIDs removes the tasks with the given task ids and returns the removed ones
	DeleteByTaskIDs(ctx context.Context, taskIDs []string) ([]string, error)

	// List retrieves tasks with pagination, sorting and filters
	List(ctx context.Context, opts TaskListOptions) ([]*model.Task, error)

	// Count returns the number of tasks matching the filter
	Count(ctx context.Context, filter TaskFilter) (int64, error)

	// StoreRun records one execution of a task
	StoreRun(ctx context.Context, run *model.TaskRun) error

	// ListRuns returns the latest runs of a task, newest first
	ListRuns(ctx context.Context, taskID string, limit int) ([]*model.TaskRun, error)

	// DeleteRunsBefore deletes runs started before the given time
	DeleteRunsBefore(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteTaskStore implements TaskStorage on the schedule database
type SQLiteTaskStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteTaskStore creates the task tables next to the schedules table.
// Closing schedules closes the task store too.
func NewSQLiteTaskStore(logger *zap.Logger, schedules *SQLiteScheduleStore) (*SQLiteTaskStore, error) {
	store := &SQLiteTaskStore{
		logger: logger.Named("task-store"),
		db:     schedules.db,
	}

	if err := store.initialize(); err != nil {
		return nil, err
	}

	return store, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteTaskStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			is_scheduler_enabled INTEGER NOT NULL DEFAULT 0,
			schedule_id TEXT NOT NULL REFERENCES schedules(schedule_id) ON UPDATE CASCADE ON DELETE CASCADE,
			created_by INTEGER,
			creation_date DATETIME,
			last_updated_by INTEGER,
			last_update_date DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_schedule_id ON tasks(schedule_id);

		CREATE TABLE IF NOT EXISTS task_runs (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			schedule_id TEXT,
			status TEXT NOT NULL,
			result TEXT,
			error TEXT,
			started_at DATETIME NOT NULL,
			completed_at DATETIME,
			duration INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_task_runs_task_id ON task_runs(task_id);
		CREATE INDEX IF NOT EXISTS idx_task_runs_started_at ON task_runs(started_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize task tables: %w", err)
	}
	return nil
}

const taskColumns = `id, task_id, description, is_scheduler_enabled, schedule_id, created_by, creation_date, last_updated_by, last_update_date`

// Insert implements TaskStorage.Insert
func (s *SQLiteTaskStore) Insert(ctx context.Context, task *model.Task) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (
			task_id, description, is_scheduler_enabled, schedule_id,
			created_by, creation_date, last_updated_by, last_update_date
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		task.TaskID,
		task.Description,
		task.SchedulerEnabled,
		task.Schedule,
		nullInt(task.CreatedBy),
		nullTime(task.CreatedAt),
		nullInt(task.LastUpdatedBy),
		nullTime(task.LastUpdatedAt),
	)
	if err != nil {
		return taskWriteError("insert", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read task id: %w", err)
	}
	task.ID = &id
	return nil
}

// Update implements TaskStorage.Update
func (s *SQLiteTaskStore) Update(ctx context.Context, task *model.Task) error {
	if !task.HasID() {
		return ErrTaskNotFound
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			task_id = ?,
			description = ?,
			is_scheduler_enabled = ?,
			schedule_id = ?,
			created_by = ?,
			creation_date = ?,
			last_updated_by = ?,
			last_update_date = ?
		WHERE id = ?`,
		task.TaskID,
		task.Description,
		task.SchedulerEnabled,
		task.Schedule,
		nullInt(task.CreatedBy),
		nullTime(task.CreatedAt),
		nullInt(task.LastUpdatedBy),
		nullTime(task.LastUpdatedAt),
		*task.ID,
	)
	if err != nil {
		return taskWriteError("update", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// Get implements TaskStorage.Get
func (s *SQLiteTaskStore) Get(ctx context.Context, id int64) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	return scanOneTask(row)
}

// GetByTaskID implements TaskStorage.GetByTaskID
func (s *SQLiteTaskStore) GetByTaskID(ctx context.Context, taskID string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE task_id = ?", taskID)
	return scanOneTask(row)
}

// DeleteByTaskID implements TaskStorage.DeleteByTaskID
func (s *SQLiteTaskStore) DeleteByTaskID(ctx context.Context, taskID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE task_id = ?", taskID)
	if err != nil {
		return false, fmt.Errorf("failed to delete task: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Debug("Deleted task",
		zap.String("task_id", taskID),
		zap.Int64("deleted", affected))

	return affected > 0, nil
}

// DeleteByIDs implements TaskStorage.DeleteByIDs
func (s *SQLiteTaskStore) DeleteByIDs(ctx context.Context, ids []int64) ([]string, error) {
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	return s.deleteWhere(ctx, "id", args)
}

// DeleteByTaskIDs implements TaskStorage.DeleteByTaskIDs
func (s *SQLiteTaskStore) DeleteByTaskIDs(ctx context.Context, taskIDs []string) ([]string, error) {
	args := make([]any, 0, len(taskIDs))
	for _, id := range taskIDs {
		args = append(args, id)
	}
	return s.deleteWhere(ctx, "task_id", args)
}

// deleteWhere removes the tasks whose column is one of args in one transaction
func (s *SQLiteTaskStore) deleteWhere(ctx context.Context, column string, args []any) ([]string, error) {
	removed := make([]string, 0, len(args))
	if len(args) == 0 {
		return removed, nil
	}
	in := " WHERE " + column + " IN (" + strings.TrimSuffix(strings.Repeat("?,", len(args)), ",") + ")"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT task_id FROM tasks"+in+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	for rows.Next() {
		var taskID string
		if err := rows.Scan(&taskID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan task id: %w", err)
		}
		removed = append(removed, taskID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, "DELETE FROM tasks"+in, args...); err != nil {
		return nil, fmt.Errorf("failed to delete tasks: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit delete: %w", err)
	}

	s.logger.Debug("Deleted tasks", zap.Strings("task_ids", removed))
	return removed, nil
}

// List implements TaskStorage.List
func (s *SQLiteTaskStore) List(ctx context.Context, opts TaskListOptions) ([]*model.Task, error) {
	where, args := taskWhereClause(opts.Filter)
	query := "SELECT " + taskColumns + " FROM tasks" + where

	if opts.SortColumn != "" {
		if !isTaskSortColumn(opts.SortColumn) {
			return nil, fmt.Errorf("invalid sort column %q", opts.SortColumn)
		}
		dir := "ASC"
		if opts.Descending {
			dir = "DESC"
		}
		query += fmt.Sprintf(" ORDER BY %s %s, id %s", opts.SortColumn, dir, dir)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]*model.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return tasks, nil
}

// Count implements TaskStorage.Count
func (s *SQLiteTaskStore) Count(ctx context.Context, filter TaskFilter) (int64, error) {
	where, args := taskWhereClause(filter)

	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks"+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return count, nil
}

// StoreRun implements TaskStorage.StoreRun
func (s *SQLiteTaskStore) StoreRun(ctx context.Context, run *model.TaskRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_runs (
			id, task_id, schedule_id, status, result, error, started_at, completed_at, duration
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.TaskID,
		run.ScheduleID,
		run.Status,
		run.Result,
		run.Error,
		run.StartedAt.UTC(),
		nullTime(run.CompletedAt),
		run.Duration,
	)
	if err != nil {
		return fmt.Errorf("failed to store task run: %w", err)
	}
	return nil
}

// ListRuns implements TaskStorage.ListRuns
func (s *SQLiteTaskStore) ListRuns(ctx context.Context, taskID string, limit int) ([]*model.TaskRun, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, schedule_id, status, result, error, started_at, completed_at, duration
		FROM task_runs WHERE task_id = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list task runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*model.TaskRun, 0)
	for rows.Next() {
		var (
			run                       model.TaskRun
			scheduleID, result, errMsg sql.NullString
			startedAt                 time.Time
			completedAt               sql.NullTime
			duration                  sql.NullInt64
		)
		err := rows.Scan(&run.ID, &run.TaskID, &scheduleID, &run.Status, &result, &errMsg,
			&startedAt, &completedAt, &duration)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task run: %w", err)
		}

		run.ScheduleID = scheduleID.String
		run.Result = result.String
		run.Error = errMsg.String
		run.StartedAt = *model.NewTimestamp(startedAt)
		if completedAt.Valid {
			run.CompletedAt = model.NewTimestamp(completedAt.Time)
		}
		run.Duration = time.Duration(duration.Int64)
		runs = append(runs, &run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return runs, nil
}

// DeleteRunsBefore implements TaskStorage.DeleteRunsBefore
func (s *SQLiteTaskStore) DeleteRunsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM task_runs WHERE started_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old task runs: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Deleted old task runs",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return affected, nil
}

func scanOneTask(row rowScanner) (*model.Task, error) {
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	return task, nil
}

func scanTask(row rowScanner) (*model.Task, error) {
	var (
		id                   int64
		task                 model.Task
		createdBy, updatedBy sql.NullInt64
		createdAt, updatedAt sql.NullTime
	)

	err := row.Scan(&id, &task.TaskID, &task.Description, &task.SchedulerEnabled, &task.Schedule,
		&createdBy, &createdAt, &updatedBy, &updatedAt)
	if err != nil {
		return nil, err
	}

	task.ID = &id
	if createdBy.Valid {
		task.CreatedBy = &createdBy.Int64
	}
	if createdAt.Valid {
		task.CreatedAt = model.NewTimestamp(createdAt.Time)
	}
	if updatedBy.Valid {
		task.LastUpdatedBy = &updatedBy.Int64
	}
	if updatedAt.Valid {
		task.LastUpdatedAt = model.NewTimestamp(updatedAt.Time)
	}
	return &task, nil
}

func taskWhereClause(filter TaskFilter) (string, []any) {
	var conds []string
	var args []any

	if filter.ScheduleID != "" {
		conds = append(conds, "schedule_id = ?")
		args = append(args, filter.ScheduleID)
	}
	if filter.CronSchedule != "" {
		conds = append(conds, "schedule_id IN (SELECT schedule_id FROM schedules WHERE cron_schedule = ?)")
		args = append(args, filter.CronSchedule)
	}
	if filter.EnabledOnly {
		conds = append(conds, "is_scheduler_enabled = 1")
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func isTaskSortColumn(column string) bool {
	for _, f := range []model.TaskSortField{
		model.TaskSortByID, model.TaskSortByTaskID, model.TaskSortByDescription,
		model.TaskSortBySchedule, model.TaskSortByCreatedAt,
	} {
		if f.Column() == column {
			return true
		}
	}
	return false
}

func taskWriteError(op string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique:
			return ErrTaskDuplicate
		case sqlite3.ErrConstraintForeignKey:
			return ErrUnknownSchedule
		}
	}
	return fmt.Errorf("failed to %s task: %w", op, err)
}

var _ TaskStorage = (*SQLiteTaskStore)(nil)
