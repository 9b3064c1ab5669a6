package listview

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/t77yq/schedule-console/internal/model"
)

// Persister decides what Save and Delete do beyond editing the loaded page
type Persister interface {
	Save(ctx context.Context, record *model.Schedule) (*model.Schedule, error)
	Delete(ctx context.Context, record *model.Schedule) error
}

// LocalPersister keeps edits in memory only. They are lost on the next load.
type LocalPersister struct{}

func (LocalPersister) Save(_ context.Context, record *model.Schedule) (*model.Schedule, error) {
	return record, nil
}

func (LocalPersister) Delete(context.Context, *model.Schedule) error {
	return nil
}

// ScheduleWriter is the write side of the schedule service
type ScheduleWriter interface {
	CreateSchedule(ctx context.Context, req model.ScheduleRequest) (*model.WebResponse[*model.Schedule], error)
	UpdateSchedule(ctx context.Context, req model.ScheduleRequest) (*model.WebResponse[*model.Schedule], error)
	DeleteSchedule(ctx context.Context, scheduleID string) (*model.WebResponse[bool], error)
}

// RemotePersister sends every edit to the schedule service
type RemotePersister struct {
	writer ScheduleWriter
	logger *zap.Logger
}

// NewRemotePersister creates a persister backed by writer
func NewRemotePersister(writer ScheduleWriter, logger *zap.Logger) *RemotePersister {
	return &RemotePersister{
		writer: writer,
		logger: logger.Named("remote_persister"),
	}
}

// Save creates the record, or updates it when it carries an identifier
func (p *RemotePersister) Save(ctx context.Context, record *model.Schedule) (*model.Schedule, error) {
	req := model.RequestFrom(record)

	var (
		resp *model.WebResponse[*model.Schedule]
		err  error
	)
	if record.HasID() {
		resp, err = p.writer.UpdateSchedule(ctx, req)
	} else {
		resp, err = p.writer.CreateSchedule(ctx, req)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save schedule %q: %w", req.ScheduleID, err)
	}

	p.logger.Debug("Saved schedule",
		zap.String("schedule_id", req.ScheduleID),
		zap.String("message", resp.Message))

	if resp.Data == nil {
		return record, nil
	}
	return resp.Data, nil
}

// Delete deletes the record by its schedule key
func (p *RemotePersister) Delete(ctx context.Context, record *model.Schedule) error {
	key := record.Key()
	if key == "" {
		return ErrMissingScheduleID
	}

	resp, err := p.writer.DeleteSchedule(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to delete schedule %q: %w", key, err)
	}
	if !resp.Data {
		p.logger.Info("Schedule was already gone", zap.String("schedule_id", key))
	}
	return nil
}
