package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/schedule-console/internal/model"
	"github.com/t77yq/schedule-console/internal/scheduler"
	"github.com/t77yq/schedule-console/internal/storage"
)

func newTestTaskService(t *testing.T) (*TaskService, *ScheduleService, *scheduler.CronRunner) {
	t.Helper()

	store, err := storage.NewSQLiteScheduleStore(zap.NewNop(), filepath.Join(t.TempDir(), "schedules.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	taskStore, err := storage.NewSQLiteTaskStore(zap.NewNop(), store)
	require.NoError(t, err)

	runner := scheduler.NewCronRunner(nil, zap.NewNop())
	schedules := NewScheduleService(store, zap.NewNop(), runner)
	tasks := NewTaskService(taskStore, schedules, runner, zap.NewNop())
	runner.UseExecutor(tasks)

	now := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	schedules.now = func() time.Time { return now }
	tasks.now = func() time.Time { return now }
	return tasks, schedules, runner
}

func taskRequest(taskID, scheduleID, cron string) model.TaskRequest {
	return model.TaskRequest{
		TaskID:      taskID,
		Description: taskID + " job",
		Schedule:    model.ScheduleRequest{ScheduleID: scheduleID, CronSchedule: cron},
	}
}

func TestTaskService_Save(t *testing.T) {
	tasks, schedules, _ := newTestTaskService(t)
	ctx := context.Background()

	saved, err := tasks.Save(ctx, taskRequest("report", "nightly", "0 0 1 * * *"))
	require.NoError(t, err)
	require.True(t, saved.HasID())
	assert.Equal(t, "nightly", saved.Schedule)
	assert.Equal(t, int64(0), *saved.CreatedBy)

	schedule, err := schedules.Get(ctx, "nightly")
	require.NoError(t, err, "schedule is created with the task")
	assert.Equal(t, "0 0 1 * * *", schedule.CronSchedule)

	t.Run("existing schedule keeps its expression", func(t *testing.T) {
		_, err := tasks.Save(ctx, taskRequest("backup", "nightly", "0 0 5 * * *"))
		require.NoError(t, err)

		schedule, err := schedules.Get(ctx, "nightly")
		require.NoError(t, err)
		assert.Equal(t, "0 0 1 * * *", schedule.CronSchedule)
	})

	tests := []struct {
		name string
		req  model.TaskRequest
		want error
	}{
		{"duplicate task id", taskRequest("report", "hourly", "0 0 * * * *"), ErrTaskExists},
		{"empty task id", taskRequest(" ", "hourly", "0 0 * * * *"), ErrInvalidTaskID},
		{"bad cron for new schedule", taskRequest("broken", "weird", "every day"), ErrInvalidCron},
		{"missing schedule key", taskRequest("keyless", "", "0 0 * * * *"), ErrInvalidScheduleID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tasks.Save(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTaskService_Update(t *testing.T) {
	tasks, _, runner := newTestTaskService(t)
	ctx := context.Background()

	saved, err := tasks.Save(ctx, taskRequest("report", "nightly", "0 0 1 * * *"))
	require.NoError(t, err)
	_, err = tasks.Start(ctx, "report")
	require.NoError(t, err)

	req := taskRequest("daily-report", "hourly", "0 0 * * * *")
	req.ID = saved.ID
	req.SchedulerEnabled = true
	updated, err := tasks.Update(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, *saved.ID, *updated.ID)
	assert.Equal(t, "hourly", updated.Schedule)
	assert.True(t, updated.SchedulerEnabled)
	assert.True(t, saved.CreatedAt.Equal(updated.CreatedAt.Time))

	t.Run("started task follows the update", func(t *testing.T) {
		assert.Equal(t, []string{"daily-report"}, runner.StartedTasks())
		job, err := runner.TaskJob("daily-report")
		require.NoError(t, err)
		assert.Equal(t, "hourly", job.ScheduleID)
		assert.Equal(t, "0 0 * * * *", job.CronSchedule)
	})

	t.Run("missing task", func(t *testing.T) {
		req := taskRequest("ghost", "hourly", "0 0 * * * *")
		_, err := tasks.Update(ctx, req)
		assert.ErrorIs(t, err, ErrTaskNotFound)

		req.ID = model.Int64(404)
		_, err = tasks.Update(ctx, req)
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})

	t.Run("task id taken by another task", func(t *testing.T) {
		other, err := tasks.Save(ctx, taskRequest("backup", "hourly", "0 0 * * * *"))
		require.NoError(t, err)

		req := taskRequest("daily-report", "hourly", "0 0 * * * *")
		req.ID = other.ID
		_, err = tasks.Update(ctx, req)
		assert.ErrorIs(t, err, ErrTaskExists)
	})
}

func TestTaskService_GetAndDelete(t *testing.T) {
	tasks, _, runner := newTestTaskService(t)
	ctx := context.Background()

	var ids []int64
	for _, taskID := range []string{"a", "b", "c", "d", "e"} {
		saved, err := tasks.Save(ctx, taskRequest(taskID, "nightly", "0 0 1 * * *"))
		require.NoError(t, err)
		ids = append(ids, *saved.ID)
	}

	got, err := tasks.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, ids[0], *got.ID)

	_, err = tasks.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = tasks.Get(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidTaskID)

	t.Run("by task id cancels the job", func(t *testing.T) {
		_, err := tasks.Start(ctx, "a")
		require.NoError(t, err)

		deleted, err := tasks.Delete(ctx, "a")
		require.NoError(t, err)
		assert.True(t, deleted)
		assert.Zero(t, runner.TaskCount())

		deleted, err = tasks.Delete(ctx, "a")
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("by id", func(t *testing.T) {
		deleted, err := tasks.DeleteByID(ctx, ids[1])
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = tasks.DeleteByID(ctx, ids[1])
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("by ids", func(t *testing.T) {
		removed, err := tasks.DeleteByIDs(ctx, []int64{ids[2], 9999})
		require.NoError(t, err)
		assert.Equal(t, []string{"c"}, removed)
	})

	t.Run("by task ids", func(t *testing.T) {
		_, err := tasks.Start(ctx, "e")
		require.NoError(t, err)

		removed, err := tasks.DeleteByTaskIDs(ctx, []string{"e", "d", "zzz"})
		require.NoError(t, err)
		assert.Equal(t, []string{"d", "e"}, removed)
		assert.Zero(t, runner.TaskCount())
	})
}

func TestTaskService_List(t *testing.T) {
	tasks, _, _ := newTestTaskService(t)
	ctx := context.Background()

	for _, req := range []model.TaskRequest{
		taskRequest("c-task", "nightly", "0 0 1 * * *"),
		taskRequest("a-task", "hourly", "0 0 * * * *"),
		taskRequest("b-task", "nightly", "0 0 1 * * *"),
	} {
		_, err := tasks.Save(ctx, req)
		require.NoError(t, err)
	}

	t.Run("paged", func(t *testing.T) {
		list, err := tasks.List(ctx, TaskListQuery{PageSize: intPtr(2), SortBy: model.TaskSortByTaskID})
		require.NoError(t, err)
		assert.Equal(t, int64(3), list.Total)
		assert.Equal(t, 2, list.TotalPages)
		assert.Equal(t, model.SortAsc, list.SortOrder)
		require.Len(t, list.Items, 2)
		assert.Equal(t, "a-task", list.Items[0].TaskID)

		list, err = tasks.List(ctx, TaskListQuery{Page: intPtr(2), PageSize: intPtr(2), SortBy: "name", SortOrder: "desc"})
		require.NoError(t, err)
		require.Len(t, list.Items, 1)
		assert.Equal(t, "a-task", list.Items[0].TaskID)
		assert.Equal(t, model.TaskSortByTaskID, list.SortBy)
	})

	t.Run("default sort is id", func(t *testing.T) {
		list, err := tasks.List(ctx, TaskListQuery{})
		require.NoError(t, err)
		assert.Equal(t, model.TaskSortByID, list.SortBy)
		require.Len(t, list.Items, 3)
		assert.Equal(t, "c-task", list.Items[0].TaskID)
	})

	t.Run("by schedule", func(t *testing.T) {
		list, err := tasks.ListBySchedule(ctx, "nightly", TaskListQuery{SortBy: model.TaskSortByTaskID})
		require.NoError(t, err)
		assert.Equal(t, int64(2), list.Total)
		assert.Equal(t, "b-task", list.Items[0].TaskID)

		empty, err := tasks.ListBySchedule(ctx, "weekly", TaskListQuery{})
		require.NoError(t, err)
		assert.Zero(t, empty.Total)
		assert.Empty(t, empty.Items)

		_, err = tasks.ListBySchedule(ctx, "", TaskListQuery{})
		assert.ErrorIs(t, err, ErrInvalidScheduleID)
	})

	t.Run("by cron", func(t *testing.T) {
		list, err := tasks.ListByCron(ctx, "0 0 * * * *", TaskListQuery{})
		require.NoError(t, err)
		require.Len(t, list.Items, 1)
		assert.Equal(t, "a-task", list.Items[0].TaskID)

		_, err = tasks.ListByCron(ctx, " ", TaskListQuery{})
		assert.ErrorIs(t, err, ErrInvalidCron)
	})

	t.Run("invalid window", func(t *testing.T) {
		_, err := tasks.List(ctx, TaskListQuery{Page: intPtr(3), PageSize: intPtr(2)})
		var pageErr *InvalidPageError
		require.ErrorAs(t, err, &pageErr)
		assert.Equal(t, 2, pageErr.Available)
		assert.ErrorIs(t, err, ErrInvalidPage)

		_, err = tasks.List(ctx, TaskListQuery{PageSize: intPtr(0)})
		assert.ErrorIs(t, err, ErrInvalidPageSize)

		_, err = tasks.List(ctx, TaskListQuery{SortBy: "owner"})
		assert.ErrorIs(t, err, ErrInvalidSort)
	})
}

func TestTaskService_StartAndCancel(t *testing.T) {
	tasks, _, runner := newTestTaskService(t)
	ctx := context.Background()

	_, err := tasks.Save(ctx, taskRequest("report", "nightly", "0 0 1 * * *"))
	require.NoError(t, err)

	job, err := tasks.Start(ctx, "report")
	require.NoError(t, err)
	assert.Equal(t, "report", job.TaskID)
	assert.Equal(t, "nightly", job.ScheduleID)
	assert.Equal(t, model.TaskStatusScheduled, job.Status)
	assert.Equal(t, []string{"report"}, runner.StartedTasks())

	canceled, err := tasks.Cancel(ctx, "report")
	require.NoError(t, err)
	assert.True(t, canceled)

	_, err = tasks.Cancel(ctx, "report")
	assert.ErrorIs(t, err, ErrTaskNotStarted)
	_, err = tasks.Cancel(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidTaskID)
	_, err = tasks.Start(ctx, "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestTaskService_StartEnabled(t *testing.T) {
	tasks, _, runner := newTestTaskService(t)
	ctx := context.Background()

	for _, taskID := range []string{"on-1", "off", "on-2"} {
		req := taskRequest(taskID, "nightly", "0 0 1 * * *")
		req.SchedulerEnabled = taskID != "off"
		_, err := tasks.Save(ctx, req)
		require.NoError(t, err)
	}

	started, err := tasks.StartEnabled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, started)
	assert.Equal(t, []string{"on-1", "on-2"}, runner.StartedTasks())
}

func TestTaskService_RunTask(t *testing.T) {
	tasks, _, _ := newTestTaskService(t)
	ctx := context.Background()

	_, err := tasks.Save(ctx, taskRequest("report", "nightly", "0 0 1 * * *"))
	require.NoError(t, err)

	run, err := tasks.RunTask(ctx, "report")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.TaskStatusCompleted, run.Status)
	assert.Equal(t, "data for report: report job", run.Result)
	assert.Equal(t, "nightly", run.ScheduleID)

	runs, err := tasks.Runs(ctx, "report", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	t.Run("missing task is gone", func(t *testing.T) {
		_, err := tasks.RunTask(ctx, "ghost")
		assert.ErrorIs(t, err, scheduler.ErrTaskGone)
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})

	t.Run("prune", func(t *testing.T) {
		deleted, err := tasks.PruneRuns(ctx, run.StartedAt.Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		runs, err := tasks.Runs(ctx, "report", 5)
		require.NoError(t, err)
		assert.Empty(t, runs)
	})
}

func TestTaskService_ScheduleDeletedCancelsJobs(t *testing.T) {
	tasks, schedules, runner := newTestTaskService(t)
	ctx := context.Background()

	_, err := tasks.Save(ctx, taskRequest("report", "nightly", "0 0 1 * * *"))
	require.NoError(t, err)
	_, err = tasks.Save(ctx, taskRequest("ping", "hourly", "0 0 * * * *"))
	require.NoError(t, err)
	for _, taskID := range []string{"report", "ping"} {
		_, err := tasks.Start(ctx, taskID)
		require.NoError(t, err)
	}

	deleted, err := schedules.Delete(ctx, "nightly")
	require.NoError(t, err)
	require.True(t, deleted)

	assert.Equal(t, []string{"ping"}, runner.StartedTasks())
	_, err = tasks.Get(ctx, "report")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}
