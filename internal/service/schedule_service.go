package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/schedule-console/internal/model"
	"github.com/t77yq/schedule-console/internal/scheduler"
	"github.com/t77yq/schedule-console/internal/storage"
)

// systemUser is recorded in the audit fields until callers are authenticated
const systemUser int64 = 0

// Observer is told about every committed change
type Observer interface {
	ScheduleSaved(ctx context.Context, schedule *model.Schedule)
	ScheduleDeleted(ctx context.Context, scheduleID string)
}

// ListQuery is a listing request; nil Page and PageSize take the defaults
type ListQuery struct {
	Page      *int
	PageSize  *int
	SortBy    model.SortField
	SortOrder model.SortOrder
	Filters   map[string]string
}

// ScheduleService applies the schedule rules on top of storage
type ScheduleService struct {
	store     storage.ScheduleStorage
	logger    *zap.Logger
	observers []Observer
	now       func() time.Time
}

// NewScheduleService creates a service; observers are notified in order
func NewScheduleService(store storage.ScheduleStorage, logger *zap.Logger, observers ...Observer) *ScheduleService {
	return &ScheduleService{
		store:     store,
		logger:    logger.Named("schedule_service"),
		observers: observers,
		now:       time.Now,
	}
}

// Subscribe adds an observer. It must be called before the service is used.
func (s *ScheduleService) Subscribe(o Observer) {
	s.observers = append(s.observers, o)
}

// Save creates a schedule from req
func (s *ScheduleService) Save(ctx context.Context, req model.ScheduleRequest) (*model.Schedule, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	if _, err := s.store.GetByScheduleID(ctx, req.ScheduleID); err == nil {
		s.logger.Error("Schedule already exists", zap.String("schedule_id", req.ScheduleID))
		return nil, ErrScheduleExists
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to check schedule: %w", err)
	}

	now := model.NewTimestamp(s.now())
	schedule := &model.Schedule{
		ScheduleID:    model.String(req.ScheduleID),
		CronSchedule:  model.String(req.CronSchedule),
		CreatedBy:     model.Int64(systemUser),
		CreatedAt:     now,
		LastUpdatedBy: model.Int64(systemUser),
		LastUpdatedAt: now,
	}

	if err := s.store.Insert(ctx, schedule); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, ErrScheduleExists
		}
		return nil, fmt.Errorf("failed to save schedule: %w", err)
	}

	s.logger.Info("Saved schedule",
		zap.Int64("id", *schedule.ID),
		zap.String("schedule_id", req.ScheduleID))
	s.notifySaved(ctx, schedule)
	return schedule, nil
}

// Update overwrites the schedule identified by req.ID, keeping its creation audit fields
func (s *ScheduleService) Update(ctx context.Context, req model.ScheduleRequest) (*model.Schedule, error) {
	if req.ID == nil || *req.ID == 0 {
		return nil, ErrScheduleNotFound
	}

	existing, err := s.store.Get(ctx, *req.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrScheduleNotFound
		}
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}

	if err := validateRequest(req); err != nil {
		return nil, err
	}

	schedule := existing.Clone()
	schedule.ScheduleID = model.String(req.ScheduleID)
	schedule.CronSchedule = model.String(req.CronSchedule)
	schedule.LastUpdatedBy = model.Int64(systemUser)
	schedule.LastUpdatedAt = model.NewTimestamp(s.now())

	if err := s.store.Update(ctx, schedule); err != nil {
		switch {
		case errors.Is(err, storage.ErrDuplicate):
			return nil, ErrScheduleExists
		case errors.Is(err, storage.ErrNotFound):
			return nil, ErrScheduleNotFound
		}
		return nil, fmt.Errorf("failed to update schedule: %w", err)
	}

	if existing.Key() != req.ScheduleID {
		s.notifyDeleted(ctx, existing.Key())
	}

	s.logger.Info("Updated schedule",
		zap.Int64("id", *schedule.ID),
		zap.String("schedule_id", req.ScheduleID))
	s.notifySaved(ctx, schedule)
	return schedule, nil
}

// FindOrCreate returns the schedule with req's key, saving req when no such
// schedule exists. An existing schedule keeps its expression.
func (s *ScheduleService) FindOrCreate(ctx context.Context, req model.ScheduleRequest) (*model.Schedule, error) {
	schedule, err := s.Get(ctx, req.ScheduleID)
	if err == nil {
		return schedule, nil
	}
	if !errors.Is(err, ErrScheduleNotFound) {
		return nil, err
	}

	schedule, err = s.Save(ctx, req)
	if errors.Is(err, ErrScheduleExists) {
		return s.Get(ctx, req.ScheduleID)
	}
	return schedule, err
}

// Get returns the schedule with the given key
func (s *ScheduleService) Get(ctx context.Context, scheduleID string) (*model.Schedule, error) {
	if strings.TrimSpace(scheduleID) == "" {
		return nil, ErrInvalidScheduleID
	}

	schedule, err := s.store.GetByScheduleID(ctx, scheduleID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrScheduleNotFound
		}
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return schedule, nil
}

// Delete removes the schedule with the given key. It reports whether a
// schedule was removed; a missing key is not an error.
func (s *ScheduleService) Delete(ctx context.Context, scheduleID string) (bool, error) {
	if strings.TrimSpace(scheduleID) == "" {
		return false, ErrInvalidScheduleID
	}

	deleted, err := s.store.DeleteByScheduleID(ctx, scheduleID)
	if err != nil {
		return false, fmt.Errorf("failed to delete schedule: %w", err)
	}

	s.logger.Info("Deleted schedule",
		zap.String("schedule_id", scheduleID),
		zap.Bool("deleted", deleted))
	if deleted {
		s.notifyDeleted(ctx, scheduleID)
	}
	return deleted, nil
}

// List returns one page of schedules
func (s *ScheduleService) List(ctx context.Context, q ListQuery) (*model.ScheduleList, error) {
	return s.list(ctx, q, filterFrom(q.Filters))
}

// ListByCron returns one page of the schedules using expr
func (s *ScheduleService) ListByCron(ctx context.Context, expr string, q ListQuery) (*model.ScheduleList, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, ErrInvalidCron
	}
	filter := filterFrom(q.Filters)
	filter.CronSchedule = expr
	return s.list(ctx, q, filter)
}

func (s *ScheduleService) list(ctx context.Context, q ListQuery, filter storage.ListFilter) (*model.ScheduleList, error) {
	page, pageSize, sortOrder, err := pageWindow(q.Page, q.PageSize, q.SortOrder)
	if err != nil {
		return nil, err
	}

	sortBy := model.SortByID
	if q.SortBy != "" {
		parsed, err := model.ParseSortField(string(q.SortBy))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSort, err)
		}
		sortBy = parsed
	}

	total, err := s.store.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count schedules: %w", err)
	}
	totalPages := model.TotalPagesFor(total, pageSize)
	if total > 0 && page > totalPages {
		return nil, &InvalidPageError{Available: totalPages}
	}

	items, err := s.store.List(ctx, storage.ListOptions{
		Offset:     (page - 1) * pageSize,
		Limit:      pageSize,
		SortColumn: sortBy.Column(),
		Descending: sortOrder == model.SortDesc,
		Filter:     filter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	if items == nil {
		items = []*model.Schedule{}
	}

	s.logger.Debug("Listed schedules",
		zap.Int("page", page),
		zap.Int("page_size", pageSize),
		zap.String("sort_by", string(sortBy)),
		zap.String("sort_order", string(sortOrder)),
		zap.Int64("total", total))

	return &model.ScheduleList{
		Items:      items,
		Total:      total,
		TotalPages: totalPages,
		SortOrder:  sortOrder,
		SortBy:     sortBy,
	}, nil
}

// DistinctCronExpressions returns every expression in use
func (s *ScheduleService) DistinctCronExpressions(ctx context.Context) ([]string, error) {
	crons, err := s.store.DistinctCronExpressions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get cron expressions: %w", err)
	}
	if crons == nil {
		crons = []string{}
	}
	return crons, nil
}

// ScheduleIDs returns every schedule key
func (s *ScheduleService) ScheduleIDs(ctx context.Context) ([]string, error) {
	ids, err := s.store.ScheduleIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule ids: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// All returns every stored schedule, used to seed the cron runner
func (s *ScheduleService) All(ctx context.Context) ([]*model.Schedule, error) {
	schedules, err := s.store.List(ctx, storage.ListOptions{SortColumn: model.SortByID.Column()})
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	return schedules, nil
}

func (s *ScheduleService) notifySaved(ctx context.Context, schedule *model.Schedule) {
	for _, o := range s.observers {
		o.ScheduleSaved(ctx, schedule.Clone())
	}
}

func (s *ScheduleService) notifyDeleted(ctx context.Context, scheduleID string) {
	for _, o := range s.observers {
		o.ScheduleDeleted(ctx, scheduleID)
	}
}

// pageWindow applies the paging defaults: page 1, ten rows, ascending
func pageWindow(pagePtr, pageSizePtr *int, order model.SortOrder) (page, pageSize int, sortOrder model.SortOrder, err error) {
	page = model.DefaultPage
	if pagePtr != nil {
		page = *pagePtr
	}
	if page < 1 {
		page = 1
	}

	pageSize = model.DefaultPageSize
	if pageSizePtr != nil {
		pageSize = *pageSizePtr
	}
	if pageSize < 1 {
		return 0, 0, "", ErrInvalidPageSize
	}

	sortOrder = model.SortAsc
	if order != "" {
		parsed, err := model.ParseSortOrder(string(order))
		if err != nil {
			return 0, 0, "", fmt.Errorf("%w: %v", ErrInvalidSort, err)
		}
		sortOrder = parsed
	}
	return page, pageSize, sortOrder, nil
}

func validateRequest(req model.ScheduleRequest) error {
	if strings.TrimSpace(req.ScheduleID) == "" {
		return ErrInvalidScheduleID
	}
	if err := scheduler.ValidateExpression(req.CronSchedule); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCron, err)
	}
	return nil
}

func filterFrom(filters map[string]string) storage.ListFilter {
	return storage.ListFilter{
		CronSchedule:       filters[model.FilterCronSchedule],
		ScheduleIDContains: filters[model.FilterScheduleID],
	}
}
