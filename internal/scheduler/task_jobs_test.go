package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/schedule-console/internal/model"
)

type recordingExecutor struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (e *recordingExecutor) RunTask(_ context.Context, taskID string) (*model.TaskRun, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, taskID)
	if e.err != nil {
		return nil, e.err
	}
	return &model.TaskRun{
		ID:     "run-" + taskID,
		TaskID: taskID,
		Status: model.TaskStatusCompleted,
		Result: "data for " + taskID,
	}, nil
}

func (e *recordingExecutor) called() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

func TestCronRunner_StartTask(t *testing.T) {
	runner := NewCronRunner(nil, zap.NewNop())
	fixed := time.Date(2024, 1, 1, 0, 0, 30, 0, time.UTC)
	runner.now = func() time.Time { return fixed }

	job, err := runner.StartTask(&model.Task{TaskID: "report"}, schedule(3, "minutely", "0 * * * * *"))
	require.NoError(t, err)
	assert.Equal(t, 1, runner.Len(), "schedule is registered on start")
	assert.Equal(t, "report", job.TaskID)
	assert.Equal(t, "minutely", job.ScheduleID)
	assert.Equal(t, "0 * * * * *", job.CronSchedule)
	assert.Equal(t, model.TaskStatusScheduled, job.Status)
	require.NotNil(t, job.NextRunAt)
	assert.True(t, job.NextRunAt.Equal(time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)))

	assert.Equal(t, 1, runner.TaskCount())
	assert.Equal(t, []string{"report"}, runner.StartedTasks())

	t.Run("rejects bad input", func(t *testing.T) {
		_, err := runner.StartTask(&model.Task{}, schedule(3, "minutely", "0 * * * * *"))
		assert.ErrorIs(t, err, ErrMissingTaskID)
		_, err = runner.StartTask(&model.Task{TaskID: "x"}, schedule(4, "bad", "nope"))
		assert.ErrorIs(t, err, ErrInvalidExpression)
	})

	t.Run("follows a renamed schedule", func(t *testing.T) {
		ctx := context.Background()
		runner.ScheduleDeleted(ctx, "minutely")
		runner.ScheduleSaved(ctx, schedule(3, "every-minute", "0 * * * * *"))

		job, err := runner.TaskJob("report")
		require.NoError(t, err)
		assert.Equal(t, "every-minute", job.ScheduleID)
		assert.Equal(t, []string{"report"}, runner.boundTasks(3, "every-minute"))
	})

	t.Run("cancel", func(t *testing.T) {
		require.NoError(t, runner.CancelTask("report"))
		assert.Zero(t, runner.TaskCount())
		assert.ErrorIs(t, runner.CancelTask("report"), ErrTaskNotStarted)
		_, err := runner.TaskJob("report")
		assert.ErrorIs(t, err, ErrTaskNotStarted)
	})
}

func TestCronRunner_RunTask(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes the run", func(t *testing.T) {
		publisher := newRecordingPublisher()
		executor := &recordingExecutor{}
		runner := NewCronRunner(publisher, zap.NewNop())
		runner.UseExecutor(executor)

		_, err := runner.StartTask(&model.Task{TaskID: "report"}, schedule(1, "nightly", "@daily"))
		require.NoError(t, err)

		runner.runTask(ctx, "report", 1, "nightly")
		assert.Equal(t, []string{"report"}, executor.called())

		event := <-publisher.ran
		assert.Equal(t, "report", event.TaskID)
		assert.Equal(t, "nightly", event.ScheduleID)
		assert.Equal(t, model.TaskStatusCompleted, event.Status)
		assert.Equal(t, "data for report", event.Result)

		job, err := runner.TaskJob("report")
		require.NoError(t, err)
		assert.Equal(t, 1, job.Runs)
		assert.NotNil(t, job.LastRunAt)
	})

	t.Run("failure is published", func(t *testing.T) {
		publisher := newRecordingPublisher()
		runner := NewCronRunner(publisher, zap.NewNop())
		runner.UseExecutor(&recordingExecutor{err: errors.New("disk full")})
		_, err := runner.StartTask(&model.Task{TaskID: "report"}, schedule(1, "nightly", "@daily"))
		require.NoError(t, err)

		runner.runTask(ctx, "report", 1, "nightly")
		event := <-publisher.ran
		assert.Equal(t, model.TaskStatusFailed, event.Status)
		assert.Equal(t, "disk full", event.Error)
		assert.Equal(t, 1, runner.TaskCount())
	})

	t.Run("deleted task is dropped", func(t *testing.T) {
		publisher := newRecordingPublisher()
		runner := NewCronRunner(publisher, zap.NewNop())
		runner.UseExecutor(&recordingExecutor{err: ErrTaskGone})
		_, err := runner.StartTask(&model.Task{TaskID: "report"}, schedule(1, "nightly", "@daily"))
		require.NoError(t, err)

		runner.runTask(ctx, "report", 1, "nightly")
		assert.Zero(t, runner.TaskCount())
		assert.Empty(t, publisher.ran)
	})
}

func TestCronRunner_FiringRunsTasks(t *testing.T) {
	publisher := newRecordingPublisher()
	executor := &recordingExecutor{}
	runner := NewCronRunner(publisher, zap.NewNop())
	runner.UseExecutor(executor)

	_, err := runner.StartTask(&model.Task{TaskID: "report"}, schedule(9, "every-second", "* * * * * *"))
	require.NoError(t, err)

	runner.Start()
	defer runner.Stop()

	select {
	case event := <-publisher.fired:
		assert.Equal(t, []string{"report"}, event.Tasks)
	case <-time.After(3 * time.Second):
		t.Fatal("schedule did not fire")
	}

	select {
	case event := <-publisher.ran:
		assert.Equal(t, "report", event.TaskID)
		assert.Equal(t, model.TaskStatusCompleted, event.Status)
	case <-time.After(3 * time.Second):
		t.Fatal("task did not run")
	}
}
