// Package listview holds the state and operations behind the schedule list view:
// paging through the remote list, editing records in a dialog, deleting one or
// many records, and the toasts that report each outcome.
package listview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/schedule-console/internal/gateway"
	"github.com/t77yq/schedule-console/internal/model"
)

const (
	summarySuccess = "Successful"
	summaryError   = "Error"

	detailCreated        = "Schedule Created"
	detailUpdated        = "Schedule Updated"
	detailDeleted        = "Schedule Deleted"
	detailDeletedMany    = "Schedules Deleted"
	detailNetworkFailure = "Unable to reach the schedule service"
	detailDecodeFailure  = "Unexpected response from the schedule service"
)

// PageFetcher loads one page of schedules
type PageFetcher interface {
	FetchPage(ctx context.Context, params model.QueryParams) (*model.WebResponse[model.ScheduleList], error)
}

// LazyLoadEvent is a table request for a page. An empty SortBy or SortOrder
// keeps the current sort; every other field is forwarded as given.
type LazyLoadEvent struct {
	Page      int
	PageSize  int
	SortBy    model.SortField
	SortOrder model.SortOrder
	Filters   map[string]string
}

func (e LazyLoadEvent) params(current model.QueryParams) model.QueryParams {
	params := model.QueryParams{
		SortBy:    e.SortBy,
		SortOrder: e.SortOrder,
		Page:      e.Page,
		PageSize:  e.PageSize,
		Filters:   e.Filters,
	}
	if params.SortBy == "" {
		params.SortBy = current.SortBy
	}
	if params.SortOrder == "" {
		params.SortOrder = current.SortOrder
	}
	return params
}

// ViewState is a snapshot of everything the list view renders
type ViewState struct {
	Records      []*model.Schedule
	Total        int64
	TotalPages   int
	Query        model.QueryParams
	Selected     []*model.Schedule
	SelectAll    bool
	Working      *model.Schedule
	Submitted    bool
	Loading      bool
	GlobalFilter string

	EditDialog       bool
	DeleteDialog     bool
	DeleteManyDialog bool
}

// Controller owns the list view state. It is safe for concurrent use;
// remote calls run without holding the lock.
type Controller struct {
	logger    *zap.Logger
	fetcher   PageFetcher
	persister Persister
	notifier  *Notifier
	defaults  model.QueryParams

	mu       sync.Mutex
	state    ViewState
	seq      uint64
	deleting *model.Schedule
}

// Option configures a Controller
type Option func(*Controller)

// WithClock sets the clock used for notification lifetimes
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.notifier = NewNotifier(now) }
}

// WithDefaultQuery replaces the query Initialize uses
func WithDefaultQuery(params model.QueryParams) Option {
	return func(c *Controller) { c.defaults = params }
}

// WithPersister sets how Save and Delete persist; the default is LocalPersister
func WithPersister(p Persister) Option {
	return func(c *Controller) { c.persister = p }
}

// NewController creates a controller reading pages from fetcher
func NewController(fetcher PageFetcher, logger *zap.Logger, opts ...Option) *Controller {
	c := &Controller{
		logger:    logger.Named("listview"),
		fetcher:   fetcher,
		persister: LocalPersister{},
		notifier:  NewNotifier(time.Now),
		defaults:  model.DefaultQueryParams(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state.Query = c.defaults
	c.state.Working = &model.Schedule{}
	return c
}

// State returns a snapshot of the view state. Slices are copied; the
// records they point to are shared with the controller.
func (c *Controller) State() ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.state
	s.Records = cloneRecords(c.state.Records)
	s.Selected = cloneRecords(c.state.Selected)
	s.Working = c.state.Working.Clone()
	return s
}

// Initialize loads the first page with the default query
func (c *Controller) Initialize(ctx context.Context) error {
	return c.fetch(ctx, c.defaults)
}

// Load fetches the page described by event
func (c *Controller) Load(ctx context.Context, event LazyLoadEvent) error {
	c.mu.Lock()
	params := event.params(c.state.Query)
	c.mu.Unlock()

	return c.fetch(ctx, params)
}

// fetch issues a sequenced request; only the latest issued request is applied
func (c *Controller) fetch(ctx context.Context, params model.QueryParams) error {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.state.Loading = true
	c.mu.Unlock()

	resp, err := c.fetcher.FetchPage(ctx, params)

	c.mu.Lock()
	defer c.mu.Unlock()

	if seq != c.seq {
		c.logger.Debug("Discarding stale page",
			zap.Uint64("seq", seq),
			zap.Uint64("latest", c.seq),
			zap.Int("page", params.Page))
		return ErrStaleResponse
	}
	c.state.Loading = false

	if err != nil {
		c.logger.Error("Failed to load schedules",
			zap.Int("page", params.Page),
			zap.Int("page_size", params.PageSize),
			zap.String("kind", gateway.Kind(err)),
			zap.Error(err))
		c.notifier.Push(SeverityError, summaryError, describeError(err))
		return fmt.Errorf("failed to load schedules: %w", err)
	}

	c.state.Records = cloneRecords(resp.Data.Items)
	if c.state.Records == nil {
		c.state.Records = []*model.Schedule{}
	}
	c.state.Total = resp.Data.Total
	c.state.TotalPages = resp.Data.TotalPages
	c.state.Query = params
	c.state.Selected = nil
	c.state.SelectAll = false

	c.logger.Debug("Loaded schedules",
		zap.Uint64("seq", seq),
		zap.Int("page", params.Page),
		zap.Int("items", len(c.state.Records)),
		zap.Int64("total", c.state.Total))
	return nil
}

// OpenNew opens the dialog on an empty working record
func (c *Controller) OpenNew() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Working = &model.Schedule{}
	c.state.Submitted = false
	c.state.EditDialog = true
}

// Edit opens the dialog on a copy of record
func (c *Controller) Edit(record *model.Schedule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Working = record.Clone()
	c.state.EditDialog = true
}

// SetWorking replaces the working record with a copy of record
func (c *Controller) SetWorking(record *model.Schedule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Working = record.Clone()
}

// HideDialog closes the edit dialog
func (c *Controller) HideDialog() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.EditDialog = false
	c.state.Submitted = false
}

// Save persists the working record and reconciles it into the loaded page.
// A record with an identifier overwrites the first record with the same
// identifier; anything else is appended.
func (c *Controller) Save(ctx context.Context) (*model.Schedule, error) {
	c.mu.Lock()
	c.state.Submitted = true
	working := c.state.Working.Clone()
	c.mu.Unlock()

	updating := working.HasID()
	saved, err := c.persister.Save(ctx, working)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.logger.Error("Failed to save schedule", zap.String("schedule_id", working.Key()), zap.Error(err))
		c.notifier.Push(SeverityError, summaryError, describeError(err))
		return nil, err
	}

	var appended bool
	if updating && saved.HasID() {
		c.state.Records, appended = upsert(c.state.Records, saved)
	} else {
		c.state.Records, appended = append(c.state.Records, saved), true
	}
	if appended {
		c.state.Total++
	}

	detail := detailCreated
	if updating {
		detail = detailUpdated
	}
	c.notifier.Push(SeveritySuccess, summarySuccess, detail)

	c.state.EditDialog = false
	c.state.Working = &model.Schedule{}
	c.recomputeSelectAll()

	c.logger.Info(detail,
		zap.String("schedule_id", saved.Key()),
		zap.Bool("appended", appended))
	return saved, nil
}

// PromptDelete opens the delete dialog for record
func (c *Controller) PromptDelete(record *model.Schedule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Working = record.Clone()
	c.state.DeleteDialog = true
	c.deleting = record
}

// ConfirmDelete deletes the prompted record. Records with its identifier
// are removed; an identifier not on the page is a no-op. A record without
// an identifier is removed by pointer, so only the prompted record goes.
func (c *Controller) ConfirmDelete(ctx context.Context) (int, error) {
	c.mu.Lock()
	target := c.state.Working.Clone()
	prompted := c.deleting
	c.deleting = nil
	c.state.DeleteDialog = false
	c.mu.Unlock()

	err := c.persister.Delete(ctx, target)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.logger.Error("Failed to delete schedule", zap.String("schedule_id", target.Key()), zap.Error(err))
		c.notifier.Push(SeverityError, summaryError, describeError(err))
		return 0, err
	}

	var removed int
	switch {
	case target.HasID():
		c.state.Records, removed = removeByID(c.state.Records, target)
		c.state.Selected, _ = removeByID(c.state.Selected, target)
	case prompted != nil:
		members := []*model.Schedule{prompted}
		c.state.Records, removed = removeMembers(c.state.Records, members)
		c.state.Selected, _ = removeMembers(c.state.Selected, members)
	}
	c.shrinkTotal(removed)
	c.state.Working = &model.Schedule{}
	c.recomputeSelectAll()

	if removed > 0 {
		c.notifier.Push(SeveritySuccess, summarySuccess, detailDeleted)
	}
	c.logger.Info("Deleted schedule",
		zap.String("schedule_id", target.Key()),
		zap.Int("removed", removed))
	return removed, nil
}

// PromptDeleteSelected opens the delete-many dialog
func (c *Controller) PromptDeleteSelected() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.DeleteManyDialog = true
}

// ConfirmDeleteSelected deletes every selected record. Membership is by
// pointer, so only records taken from the loaded page match.
func (c *Controller) ConfirmDeleteSelected(ctx context.Context) (int, error) {
	c.mu.Lock()
	selected := cloneRecords(c.state.Selected)
	c.state.DeleteManyDialog = false
	c.mu.Unlock()

	deleted := make([]*model.Schedule, 0, len(selected))
	var deleteErr error
	for _, record := range selected {
		if err := c.persister.Delete(ctx, record); err != nil {
			deleteErr = err
			break
		}
		deleted = append(deleted, record)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var removed int
	c.state.Records, removed = removeMembers(c.state.Records, deleted)
	c.state.Selected, _ = removeMembers(c.state.Selected, deleted)
	c.shrinkTotal(removed)
	c.recomputeSelectAll()

	if deleteErr != nil {
		c.logger.Error("Failed to delete selected schedules",
			zap.Int("deleted", len(deleted)),
			zap.Int("selected", len(selected)),
			zap.Error(deleteErr))
		c.notifier.Push(SeverityError, summaryError, describeError(deleteErr))
		return removed, deleteErr
	}

	c.state.Selected = nil
	c.state.SelectAll = false
	c.notifier.Push(SeveritySuccess, summarySuccess, detailDeletedMany)
	c.logger.Info("Deleted selected schedules", zap.Int("removed", removed))
	return removed, nil
}

// CancelDelete closes both delete dialogs
func (c *Controller) CancelDelete() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.DeleteDialog = false
	c.state.DeleteManyDialog = false
	c.deleting = nil
}

// SelectionChange mirrors the table selection
func (c *Controller) SelectionChange(records []*model.Schedule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Selected = cloneRecords(records)
	c.recomputeSelectAll()
}

// SelectAllChange selects every loaded record or none
func (c *Controller) SelectAllChange(checked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if checked {
		c.state.Selected = cloneRecords(c.state.Records)
	} else {
		c.state.Selected = nil
	}
	c.recomputeSelectAll()
}

// GlobalFilter sets the text used by Visible
func (c *Controller) GlobalFilter(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.GlobalFilter = text
}

// Visible returns the loaded records that match the global filter
func (c *Controller) Visible() []*model.Schedule {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*model.Schedule, 0, len(c.state.Records))
	for _, r := range c.state.Records {
		if matchesFilter(r, c.state.GlobalFilter) {
			out = append(out, r)
		}
	}
	return out
}

// Notifications returns the notifications that have not expired
func (c *Controller) Notifications() []Notification {
	return c.notifier.Active()
}

// Dismiss removes a notification
func (c *Controller) Dismiss(id string) bool {
	return c.notifier.Dismiss(id)
}

func (c *Controller) recomputeSelectAll() {
	c.state.SelectAll = c.state.Total > 0 && int64(len(c.state.Selected)) == c.state.Total
}

func (c *Controller) shrinkTotal(n int) {
	c.state.Total -= int64(n)
	if c.state.Total < 0 {
		c.state.Total = 0
	}
}

// describeError turns an error into notification text by its kind
func describeError(err error) string {
	var srvErr *gateway.ServerError
	switch gateway.Kind(err) {
	case gateway.KindNetwork:
		return detailNetworkFailure
	case gateway.KindDecode:
		return detailDecodeFailure
	case gateway.KindServer:
		if errors.As(err, &srvErr) && srvErr.Message != "" {
			return fmt.Sprintf("Server error %d: %s", srvErr.Status, srvErr.Message)
		}
		return fmt.Sprintf("Server error %d", gateway.StatusCode(err))
	default:
		return err.Error()
	}
}
