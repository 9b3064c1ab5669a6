package listview

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/schedule-console/internal/gateway"
	"github.com/t77yq/schedule-console/internal/model"
)

type fakeWriter struct {
	created []model.ScheduleRequest
	updated []model.ScheduleRequest
	deleted []string
	err     error
}

func (w *fakeWriter) CreateSchedule(_ context.Context, req model.ScheduleRequest) (*model.WebResponse[*model.Schedule], error) {
	if w.err != nil {
		return nil, w.err
	}
	w.created = append(w.created, req)
	return &model.WebResponse[*model.Schedule]{
		Status:  http.StatusOK,
		Message: "Saved Successfully !!",
		Data:    &model.Schedule{ID: model.Int64(100), ScheduleID: model.String(req.ScheduleID), CronSchedule: model.String(req.CronSchedule)},
	}, nil
}

func (w *fakeWriter) UpdateSchedule(_ context.Context, req model.ScheduleRequest) (*model.WebResponse[*model.Schedule], error) {
	if w.err != nil {
		return nil, w.err
	}
	w.updated = append(w.updated, req)
	return &model.WebResponse[*model.Schedule]{Status: http.StatusOK, Message: "Updated Successfully !!"}, nil
}

func (w *fakeWriter) DeleteSchedule(_ context.Context, scheduleID string) (*model.WebResponse[bool], error) {
	if w.err != nil {
		return nil, w.err
	}
	w.deleted = append(w.deleted, scheduleID)
	return &model.WebResponse[bool]{Status: http.StatusOK, Data: scheduleID != "gone"}, nil
}

func TestRemotePersister(t *testing.T) {
	ctx := context.Background()

	t.Run("create without identifier", func(t *testing.T) {
		writer := &fakeWriter{}
		p := NewRemotePersister(writer, zap.NewNop())

		saved, err := p.Save(ctx, &model.Schedule{ScheduleID: model.String("new"), CronSchedule: model.String("0 0 * * * *")})
		require.NoError(t, err)
		assert.Equal(t, int64(100), *saved.ID)
		require.Len(t, writer.created, 1)
		assert.Nil(t, writer.created[0].ID)
		assert.Empty(t, writer.updated)
	})

	t.Run("update with identifier", func(t *testing.T) {
		writer := &fakeWriter{}
		p := NewRemotePersister(writer, zap.NewNop())
		record := schedule(8, "edit", "0 0 * * * *")

		saved, err := p.Save(ctx, record)
		require.NoError(t, err)
		assert.Same(t, record, saved)
		require.Len(t, writer.updated, 1)
		assert.Equal(t, int64(8), *writer.updated[0].ID)
	})

	t.Run("delete by key", func(t *testing.T) {
		writer := &fakeWriter{}
		p := NewRemotePersister(writer, zap.NewNop())

		require.NoError(t, p.Delete(ctx, schedule(1, "a", "* * * * * *")))
		require.NoError(t, p.Delete(ctx, schedule(2, "gone", "* * * * * *")))
		assert.Equal(t, []string{"a", "gone"}, writer.deleted)
		assert.ErrorIs(t, p.Delete(ctx, &model.Schedule{ID: model.Int64(3)}), ErrMissingScheduleID)
	})

	t.Run("gateway errors are wrapped", func(t *testing.T) {
		writer := &fakeWriter{err: &gateway.ServerError{Status: http.StatusConflict, Message: "Schedule already exists"}}
		p := NewRemotePersister(writer, zap.NewNop())

		_, err := p.Save(ctx, &model.Schedule{ScheduleID: model.String("dup")})
		assert.Equal(t, http.StatusConflict, gateway.StatusCode(err))
		assert.Contains(t, err.Error(), `"dup"`)
	})
}

func TestController_RemotePersistence(t *testing.T) {
	writer := &fakeWriter{}
	items := []*model.Schedule{schedule(1, "a", "* * * * * *")}
	c, _ := newLoadedController(t, items, WithPersister(NewRemotePersister(writer, zap.NewNop())))

	c.OpenNew()
	c.SetWorking(&model.Schedule{ScheduleID: model.String("b"), CronSchedule: model.String("0 0 * * * *")})
	_, err := c.Save(context.Background())
	require.NoError(t, err)

	state := c.State()
	require.Len(t, state.Records, 2)
	assert.Equal(t, int64(100), *state.Records[1].ID)

	c.PromptDelete(state.Records[0])
	_, err = c.ConfirmDelete(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, writer.deleted)
	assert.Len(t, c.State().Records, 1)
}
