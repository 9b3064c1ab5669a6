package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/schedule-console/internal/model"
)

// JetStreamPublisher publishes schedule events to the SCHEDULES stream
type JetStreamPublisher struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

// NewJetStreamPublisher creates a publisher and makes sure the stream exists
func NewJetStreamPublisher(js nats.JetStreamContext, logger *zap.Logger) (*JetStreamPublisher, error) {
	publisher := &JetStreamPublisher{
		js:     js,
		logger: logger.Named("events"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := publisher.setupStream(ctx); err != nil {
		return nil, fmt.Errorf("failed to setup stream: %w", err)
	}

	return publisher, nil
}

func (p *JetStreamPublisher) setupStream(ctx context.Context) error {
	_, err := p.js.StreamInfo(scheduleStreamName, nats.Context(ctx))
	if err == nil {
		p.logger.Info("Using existing schedule stream", zap.String("stream", scheduleStreamName))
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:     scheduleStreamName,
		Subjects: []string{scheduleSubjects},
		Storage:  nats.FileStorage,
		MaxAge:   streamMaxAge,
		MaxMsgs:  streamMaxMsgs,
	}, nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("Created schedule stream", zap.String("stream", scheduleStreamName))
	return nil
}

// Publish implements EventPublisher
func (p *JetStreamPublisher) Publish(ctx context.Context, event model.ScheduleEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := SubjectFor(event.Type)
	if _, err := p.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("Published schedule event",
		zap.String("subject", subject),
		zap.String("schedule_id", event.ScheduleID))
	return nil
}

// Subscribe delivers new schedule events to handler until ctx is done
func (p *JetStreamPublisher) Subscribe(ctx context.Context, handler func(model.ScheduleEvent)) error {
	sub, err := p.js.Subscribe(scheduleSubjects, func(msg *nats.Msg) {
		var event model.ScheduleEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			p.logger.Error("Failed to unmarshal schedule event", zap.Error(err))
			return
		}

		handler(event)
		msg.Ack()
	}, nats.DeliverNew())
	if err != nil {
		return fmt.Errorf("failed to subscribe to schedule events: %w", err)
	}

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()

	return nil
}

// LogPublisher writes events to the log when no broker is configured
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a log-only publisher
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.Named("events")}
}

// Publish implements EventPublisher
func (p *LogPublisher) Publish(_ context.Context, event model.ScheduleEvent) error {
	p.logger.Info("Schedule event",
		zap.String("type", event.Type),
		zap.String("schedule_id", event.ScheduleID),
		zap.String("expression", event.CronSchedule))
	return nil
}

var (
	_ EventPublisher = (*JetStreamPublisher)(nil)
	_ EventPublisher = (*LogPublisher)(nil)
)
