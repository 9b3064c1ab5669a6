package service

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/schedule-console/internal/model"
	"github.com/t77yq/schedule-console/internal/storage"
)

type observedChange struct {
	kind       string
	scheduleID string
}

type recordingObserver struct {
	changes []observedChange
}

func (o *recordingObserver) ScheduleSaved(_ context.Context, schedule *model.Schedule) {
	o.changes = append(o.changes, observedChange{"saved", schedule.Key()})
}

func (o *recordingObserver) ScheduleDeleted(_ context.Context, scheduleID string) {
	o.changes = append(o.changes, observedChange{"deleted", scheduleID})
}

func newTestService(t *testing.T) (*ScheduleService, *recordingObserver, *time.Time) {
	t.Helper()

	store, err := storage.NewSQLiteScheduleStore(zap.NewNop(), filepath.Join(t.TempDir(), "schedules.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	observer := &recordingObserver{}
	svc := NewScheduleService(store, zap.NewNop(), observer)
	now := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	return svc, observer, &now
}

func intPtr(v int) *int { return &v }

func TestScheduleService_Save(t *testing.T) {
	svc, observer, now := newTestService(t)
	ctx := context.Background()

	saved, err := svc.Save(ctx, model.ScheduleRequest{ScheduleID: "nightly", CronSchedule: "0 0 1 * * *"})
	require.NoError(t, err)
	require.True(t, saved.HasID())
	assert.Equal(t, int64(0), *saved.CreatedBy)
	assert.Equal(t, int64(0), *saved.LastUpdatedBy)
	assert.True(t, now.Equal(saved.CreatedAt.Time))
	assert.True(t, now.Equal(saved.LastUpdatedAt.Time))
	assert.Equal(t, []observedChange{{"saved", "nightly"}}, observer.changes)

	tests := []struct {
		name string
		req  model.ScheduleRequest
		want error
	}{
		{"duplicate key", model.ScheduleRequest{ScheduleID: "nightly", CronSchedule: "0 0 2 * * *"}, ErrScheduleExists},
		{"five field cron", model.ScheduleRequest{ScheduleID: "short", CronSchedule: "0 1 * * *"}, ErrInvalidCron},
		{"garbage cron", model.ScheduleRequest{ScheduleID: "bad", CronSchedule: "every day"}, ErrInvalidCron},
		{"empty key", model.ScheduleRequest{CronSchedule: "* * * * * *"}, ErrInvalidScheduleID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Save(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Len(t, observer.changes, 1)
}

func TestScheduleService_SaveKeepsTimestampsAcrossReload(t *testing.T) {
	svc, _, now := newTestService(t)
	ctx := context.Background()
	*now = time.Date(2024, 1, 2, 10, 0, 0, 0, time.FixedZone("IST", 5*3600+1800))

	saved, err := svc.Save(ctx, model.ScheduleRequest{ScheduleID: "nightly", CronSchedule: "0 0 1 * * *"})
	require.NoError(t, err)

	got, err := svc.Get(ctx, "nightly")
	require.NoError(t, err)

	savedJSON, err := json.Marshal(saved)
	require.NoError(t, err)
	gotJSON, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, string(savedJSON), string(gotJSON))
	assert.Equal(t, "2024-01-02T04:30:00", got.CreatedAt.Format(model.TimestampLayout))
}

func TestScheduleService_Update(t *testing.T) {
	svc, observer, now := newTestService(t)
	ctx := context.Background()

	saved, err := svc.Save(ctx, model.ScheduleRequest{ScheduleID: "hourly", CronSchedule: "0 0 * * * *"})
	require.NoError(t, err)
	_, err = svc.Save(ctx, model.ScheduleRequest{ScheduleID: "other", CronSchedule: "0 0 * * * *"})
	require.NoError(t, err)
	created := *now

	*now = now.Add(time.Hour)
	updated, err := svc.Update(ctx, model.ScheduleRequest{ID: saved.ID, ScheduleID: "hourly", CronSchedule: "0 30 * * * *"})
	require.NoError(t, err)
	assert.Equal(t, "0 30 * * * *", updated.Expression())
	assert.True(t, created.Equal(updated.CreatedAt.Time))
	assert.True(t, now.Equal(updated.LastUpdatedAt.Time))

	got, err := svc.Get(ctx, "hourly")
	require.NoError(t, err)
	assert.Equal(t, "0 30 * * * *", got.Expression())

	t.Run("rename notifies removal of the old key", func(t *testing.T) {
		observer.changes = nil
		_, err := svc.Update(ctx, model.ScheduleRequest{ID: saved.ID, ScheduleID: "half-hourly", CronSchedule: "0 30 * * * *"})
		require.NoError(t, err)
		assert.Equal(t, []observedChange{{"deleted", "hourly"}, {"saved", "half-hourly"}}, observer.changes)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := svc.Update(ctx, model.ScheduleRequest{ScheduleID: "x", CronSchedule: "* * * * * *"})
		assert.ErrorIs(t, err, ErrScheduleNotFound)

		_, err = svc.Update(ctx, model.ScheduleRequest{ID: model.Int64(999), ScheduleID: "x", CronSchedule: "* * * * * *"})
		assert.ErrorIs(t, err, ErrScheduleNotFound)

		_, err = svc.Update(ctx, model.ScheduleRequest{ID: saved.ID, ScheduleID: "half-hourly", CronSchedule: "nope"})
		assert.ErrorIs(t, err, ErrInvalidCron)

		_, err = svc.Update(ctx, model.ScheduleRequest{ID: saved.ID, ScheduleID: "other", CronSchedule: "* * * * * *"})
		assert.ErrorIs(t, err, ErrScheduleExists)
	})
}

func TestScheduleService_GetAndDelete(t *testing.T) {
	svc, observer, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Save(ctx, model.ScheduleRequest{ScheduleID: "temp", CronSchedule: "@hourly"})
	require.NoError(t, err)

	_, err = svc.Get(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidScheduleID)
	_, err = svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrScheduleNotFound)

	deleted, err := svc.Delete(ctx, "temp")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = svc.Delete(ctx, "temp")
	require.NoError(t, err)
	assert.False(t, deleted)

	assert.Equal(t, []observedChange{{"saved", "temp"}, {"deleted", "temp"}}, observer.changes)
}

func TestScheduleService_List(t *testing.T) {
	svc, _, now := newTestService(t)
	ctx := context.Background()

	t.Run("empty table", func(t *testing.T) {
		list, err := svc.List(ctx, ListQuery{Page: intPtr(3)})
		require.NoError(t, err)
		assert.Empty(t, list.Items)
		assert.NotNil(t, list.Items)
		assert.Zero(t, list.TotalPages)
	})

	for i := 0; i < 25; i++ {
		cron := "0 0 * * * *"
		if i%5 == 0 {
			cron = "0 0 12 * * *"
		}
		*now = now.Add(time.Minute)
		_, err := svc.Save(ctx, model.ScheduleRequest{ScheduleID: fmt.Sprintf("job-%02d", i), CronSchedule: cron})
		require.NoError(t, err)
	}

	t.Run("defaults", func(t *testing.T) {
		list, err := svc.List(ctx, ListQuery{})
		require.NoError(t, err)
		assert.Len(t, list.Items, 10)
		assert.Equal(t, int64(25), list.Total)
		assert.Equal(t, 3, list.TotalPages)
		assert.Equal(t, model.SortByID, list.SortBy)
		assert.Equal(t, model.SortAsc, list.SortOrder)
		assert.Equal(t, "job-00", list.Items[0].Key())
	})

	t.Run("last partial page", func(t *testing.T) {
		list, err := svc.List(ctx, ListQuery{Page: intPtr(3), PageSize: intPtr(10)})
		require.NoError(t, err)
		assert.Len(t, list.Items, 5)
	})

	t.Run("page below one is the first page", func(t *testing.T) {
		list, err := svc.List(ctx, ListQuery{Page: intPtr(-4), PageSize: intPtr(5)})
		require.NoError(t, err)
		assert.Equal(t, "job-00", list.Items[0].Key())
	})

	t.Run("sorted descending", func(t *testing.T) {
		list, err := svc.List(ctx, ListQuery{SortBy: "created_at", SortOrder: "desc", PageSize: intPtr(2)})
		require.NoError(t, err)
		assert.Equal(t, "job-24", list.Items[0].Key())
		assert.Equal(t, model.SortByCreatedAt, list.SortBy)
		assert.Equal(t, model.SortDesc, list.SortOrder)
	})

	t.Run("unsorted", func(t *testing.T) {
		list, err := svc.List(ctx, ListQuery{SortBy: model.SortByNone, PageSize: intPtr(100)})
		require.NoError(t, err)
		assert.Len(t, list.Items, 25)
	})

	t.Run("filters", func(t *testing.T) {
		list, err := svc.List(ctx, ListQuery{Filters: map[string]string{model.FilterScheduleID: "job-1"}})
		require.NoError(t, err)
		assert.Equal(t, int64(10), list.Total)
	})

	t.Run("by cron expression", func(t *testing.T) {
		list, err := svc.ListByCron(ctx, "0 0 12 * * *", ListQuery{})
		require.NoError(t, err)
		assert.Equal(t, int64(5), list.Total)
		for _, item := range list.Items {
			assert.Equal(t, "0 0 12 * * *", item.Expression())
		}

		_, err = svc.ListByCron(ctx, " ", ListQuery{})
		assert.ErrorIs(t, err, ErrInvalidCron)
	})

	t.Run("invalid paging", func(t *testing.T) {
		_, err := svc.List(ctx, ListQuery{PageSize: intPtr(0)})
		assert.ErrorIs(t, err, ErrInvalidPageSize)

		_, err = svc.List(ctx, ListQuery{Page: intPtr(4), PageSize: intPtr(10)})
		require.ErrorIs(t, err, ErrInvalidPage)
		var pageErr *InvalidPageError
		require.ErrorAs(t, err, &pageErr)
		assert.Equal(t, 3, pageErr.Available)

		_, err = svc.List(ctx, ListQuery{SortBy: "colour"})
		assert.ErrorIs(t, err, ErrInvalidSort)
		_, err = svc.List(ctx, ListQuery{SortOrder: "NONE"})
		assert.ErrorIs(t, err, ErrInvalidSort)
	})

	t.Run("lookups", func(t *testing.T) {
		crons, err := svc.DistinctCronExpressions(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"0 0 * * * *", "0 0 12 * * *"}, crons)

		ids, err := svc.ScheduleIDs(ctx)
		require.NoError(t, err)
		assert.Len(t, ids, 25)

		all, err := svc.All(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 25)
	})
}
