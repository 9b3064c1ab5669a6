package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/schedule-console/internal/model"
)

var (
	// ErrNotFound is returned when no schedule matches
	ErrNotFound = errors.New("schedule not found")

	// ErrDuplicate is returned when a schedule key is already taken
	ErrDuplicate = errors.New("schedule already exists")
)

// ListFilter narrows a listing
type ListFilter struct {
	// CronSchedule matches the expression exactly
	CronSchedule string
	// ScheduleIDContains matches keys containing the substring
	ScheduleIDContains string
}

// ListOptions selects one window of schedules
type ListOptions struct {
	Offset int
	Limit  int
	// SortColumn is a column from model.SortField.Column; empty means unsorted
	SortColumn string
	Descending bool
	Filter     ListFilter
}

// ScheduleStorage defines the interface for schedule persistence
type ScheduleStorage interface {
	// Insert stores a new schedule and assigns its ID
	Insert(ctx context.Context, schedule *model.Schedule) error

	// Update overwrites the schedule with the same ID
	Update(ctx context.Context, schedule *model.Schedule) error

	// Get retrieves a schedule by ID
	Get(ctx context.Context, id int64) (*model.Schedule, error)

	// GetByScheduleID retrieves a schedule by its key
	GetByScheduleID(ctx context.Context, scheduleID string) (*model.Schedule, error)

	// DeleteByScheduleID removes the schedule with the given key
	DeleteByScheduleID(ctx context.Context, scheduleID string) (bool, error)

	// List retrieves schedules with pagination, sorting and filters
	List(ctx context.Context, opts ListOptions) ([]*model.Schedule, error)

	// Count returns the number of schedules matching the filter
	Count(ctx context.Context, filter ListFilter) (int64, error)

	// DistinctCronExpressions returns every expression in use
	DistinctCronExpressions(ctx context.Context) ([]string, error)

	// ScheduleIDs returns every schedule key
	ScheduleIDs(ctx context.Context) ([]string, error)
}

// SQLiteScheduleStore implements ScheduleStorage using SQLite
type SQLiteScheduleStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteScheduleStore opens (or creates) the schedule database at dbPath
func NewSQLiteScheduleStore(logger *zap.Logger, dbPath string) (*SQLiteScheduleStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY churn
	db.SetMaxOpenConns(1)

	store := &SQLiteScheduleStore{
		logger: logger.Named("schedule-store"),
		db:     db,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteScheduleStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schedules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			schedule_id TEXT NOT NULL UNIQUE,
			cron_schedule TEXT NOT NULL,
			created_by INTEGER,
			creation_date DATETIME,
			last_updated_by INTEGER,
			last_update_date DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_schedules_cron_schedule ON schedules(cron_schedule);
		CREATE INDEX IF NOT EXISTS idx_schedules_creation_date ON schedules(creation_date);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

const selectColumns = `id, schedule_id, cron_schedule, created_by, creation_date, last_updated_by, last_update_date`

// Insert implements ScheduleStorage.Insert
func (s *SQLiteScheduleStore) Insert(ctx context.Context, schedule *model.Schedule) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (
			schedule_id, cron_schedule, created_by, creation_date, last_updated_by, last_update_date
		) VALUES (?, ?, ?, ?, ?, ?)`,
		schedule.Key(),
		schedule.Expression(),
		nullInt(schedule.CreatedBy),
		nullTime(schedule.CreatedAt),
		nullInt(schedule.LastUpdatedBy),
		nullTime(schedule.LastUpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert schedule: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read schedule id: %w", err)
	}
	schedule.ID = &id
	return nil
}

// Update implements ScheduleStorage.Update
func (s *SQLiteScheduleStore) Update(ctx context.Context, schedule *model.Schedule) error {
	if !schedule.HasID() {
		return ErrNotFound
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET
			schedule_id = ?,
			cron_schedule = ?,
			created_by = ?,
			creation_date = ?,
			last_updated_by = ?,
			last_update_date = ?
		WHERE id = ?`,
		schedule.Key(),
		schedule.Expression(),
		nullInt(schedule.CreatedBy),
		nullTime(schedule.CreatedAt),
		nullInt(schedule.LastUpdatedBy),
		nullTime(schedule.LastUpdatedAt),
		*schedule.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to update schedule: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Get implements ScheduleStorage.Get
func (s *SQLiteScheduleStore) Get(ctx context.Context, id int64) (*model.Schedule, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM schedules WHERE id = ?", id)
	return scanOne(row)
}

// GetByScheduleID implements ScheduleStorage.GetByScheduleID
func (s *SQLiteScheduleStore) GetByScheduleID(ctx context.Context, scheduleID string) (*model.Schedule, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM schedules WHERE schedule_id = ?", scheduleID)
	return scanOne(row)
}

// DeleteByScheduleID implements ScheduleStorage.DeleteByScheduleID
func (s *SQLiteScheduleStore) DeleteByScheduleID(ctx context.Context, scheduleID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM schedules WHERE schedule_id = ?", scheduleID)
	if err != nil {
		return false, fmt.Errorf("failed to delete schedule: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Debug("Deleted schedule",
		zap.String("schedule_id", scheduleID),
		zap.Int64("deleted", affected))

	return affected > 0, nil
}

// List implements ScheduleStorage.List
func (s *SQLiteScheduleStore) List(ctx context.Context, opts ListOptions) ([]*model.Schedule, error) {
	where, args := whereClause(opts.Filter)
	query := "SELECT " + selectColumns + " FROM schedules" + where

	if opts.SortColumn != "" {
		if !isSortColumn(opts.SortColumn) {
			return nil, fmt.Errorf("invalid sort column %q", opts.SortColumn)
		}
		dir := "ASC"
		if opts.Descending {
			dir = "DESC"
		}
		// id breaks ties so pages are stable
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
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	schedules := make([]*model.Schedule, 0)
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, schedule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return schedules, nil
}

// Count implements ScheduleStorage.Count
func (s *SQLiteScheduleStore) Count(ctx context.Context, filter ListFilter) (int64, error) {
	where, args := whereClause(filter)

	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schedules"+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count schedules: %w", err)
	}
	return count, nil
}

// DistinctCronExpressions implements ScheduleStorage.DistinctCronExpressions
func (s *SQLiteScheduleStore) DistinctCronExpressions(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, "SELECT DISTINCT cron_schedule FROM schedules ORDER BY cron_schedule")
}

// ScheduleIDs implements ScheduleStorage.ScheduleIDs
func (s *SQLiteScheduleStore) ScheduleIDs(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, "SELECT schedule_id FROM schedules ORDER BY id")
}

func (s *SQLiteScheduleStore) queryStrings(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan value: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// Close closes the database connection
func (s *SQLiteScheduleStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOne(row rowScanner) (*model.Schedule, error) {
	schedule, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan schedule: %w", err)
	}
	return schedule, nil
}

func scanSchedule(row rowScanner) (*model.Schedule, error) {
	var (
		id                   int64
		scheduleID, cron     string
		createdBy, updatedBy sql.NullInt64
		createdAt, updatedAt sql.NullTime
	)

	if err := row.Scan(&id, &scheduleID, &cron, &createdBy, &createdAt, &updatedBy, &updatedAt); err != nil {
		return nil, err
	}

	schedule := &model.Schedule{
		ID:           &id,
		ScheduleID:   &scheduleID,
		CronSchedule: &cron,
	}
	if createdBy.Valid {
		schedule.CreatedBy = &createdBy.Int64
	}
	if createdAt.Valid {
		schedule.CreatedAt = model.NewTimestamp(createdAt.Time)
	}
	if updatedBy.Valid {
		schedule.LastUpdatedBy = &updatedBy.Int64
	}
	if updatedAt.Valid {
		schedule.LastUpdatedAt = model.NewTimestamp(updatedAt.Time)
	}
	return schedule, nil
}

func whereClause(filter ListFilter) (string, []any) {
	var conds []string
	var args []any

	if filter.CronSchedule != "" {
		conds = append(conds, "cron_schedule = ?")
		args = append(args, filter.CronSchedule)
	}
	if filter.ScheduleIDContains != "" {
		conds = append(conds, "instr(lower(schedule_id), lower(?)) > 0")
		args = append(args, filter.ScheduleIDContains)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func isSortColumn(column string) bool {
	for _, f := range []model.SortField{
		model.SortByID, model.SortByCreatedBy, model.SortByCreatedAt, model.SortByLastUpdatedBy,
		model.SortByLastUpdatedAt, model.SortByScheduleID, model.SortByCronSchedule,
	} {
		if f.Column() == column {
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(v *model.Timestamp) sql.NullTime {
	if v == nil || v.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: v.Time.UTC(), Valid: true}
}

var _ ScheduleStorage = (*SQLiteScheduleStore)(nil)
