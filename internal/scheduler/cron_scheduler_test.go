package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/schedule-console/internal/model"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.ScheduleEvent
	fired  chan model.ScheduleEvent
	ran    chan model.ScheduleEvent
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{
		fired: make(chan model.ScheduleEvent, 16),
		ran:   make(chan model.ScheduleEvent, 16),
	}
}

func (p *recordingPublisher) Publish(_ context.Context, event model.ScheduleEvent) error {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	ch := p.fired
	if event.Type == model.EventTaskRun {
		ch = p.ran
	}
	if event.Type == model.EventScheduleFired || event.Type == model.EventTaskRun {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func schedule(id int64, key, expr string) *model.Schedule {
	return &model.Schedule{ID: model.Int64(id), ScheduleID: model.String(key), CronSchedule: model.String(expr)}
}

func TestValidateExpression(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 0 1 * * *", false},
		{"*/5 * * * * *", false},
		{"0 0 12 ? * MON-FRI", false},
		{"@daily", false},
		{"0 0 * * *", true},
		{"", true},
		{"every day", true},
		{"61 * * * * *", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			err := ValidateExpression(tt.expr)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidExpression)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCronRunner_Register(t *testing.T) {
	runner := NewCronRunner(nil, zap.NewNop())
	fixed := time.Date(2024, 1, 1, 0, 0, 30, 0, time.UTC)
	runner.now = func() time.Time { return fixed }

	require.NoError(t, runner.Register(schedule(1, "minutely", "0 * * * * *")))
	assert.Equal(t, 1, runner.Len())

	next, err := runner.NextRun("minutely")
	require.NoError(t, err)
	assert.True(t, next.Equal(time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)), "next run %s", next)

	t.Run("replaces entry with same id under a new key", func(t *testing.T) {
		require.NoError(t, runner.Register(schedule(1, "renamed", "0 0 * * * *")))
		assert.Equal(t, 1, runner.Len())
		_, err := runner.NextRun("minutely")
		assert.ErrorIs(t, err, ErrScheduleNotRegistered)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		assert.ErrorIs(t, runner.Register(schedule(2, "bad", "nope")), ErrInvalidExpression)
		assert.ErrorIs(t, runner.Register(&model.Schedule{CronSchedule: model.String("@daily")}), ErrMissingKey)
	})

	t.Run("remove", func(t *testing.T) {
		require.NoError(t, runner.Remove("renamed"))
		assert.Equal(t, 0, runner.Len())
		assert.ErrorIs(t, runner.Remove("renamed"), ErrScheduleNotRegistered)
	})
}

func TestCronRunner_Load(t *testing.T) {
	runner := NewCronRunner(nil, zap.NewNop())
	loaded := runner.Load([]*model.Schedule{
		schedule(1, "a", "@hourly"),
		schedule(2, "b", "not a cron"),
		schedule(3, "c", "0 0 1 * * *"),
	})
	assert.Equal(t, 2, loaded)
	assert.Equal(t, 2, runner.Len())
}

func TestCronRunner_Observer(t *testing.T) {
	publisher := newRecordingPublisher()
	runner := NewCronRunner(publisher, zap.NewNop())
	ctx := context.Background()

	runner.ScheduleSaved(ctx, schedule(5, "observed", "@daily"))
	assert.Equal(t, 1, runner.Len())

	runner.ScheduleDeleted(ctx, "observed")
	assert.Equal(t, 0, runner.Len())

	assert.Equal(t, []string{model.EventScheduleSaved, model.EventScheduleDeleted}, publisher.types())
}

func TestCronRunner_Fires(t *testing.T) {
	publisher := newRecordingPublisher()
	runner := NewCronRunner(publisher, zap.NewNop())
	require.NoError(t, runner.Register(schedule(9, "every-second", "* * * * * *")))

	runner.Start()
	defer runner.Stop()

	select {
	case event := <-publisher.fired:
		assert.Equal(t, "every-second", event.ScheduleID)
		assert.Equal(t, int64(9), event.ID)
		require.NotNil(t, event.NextRunAt)
		assert.True(t, event.NextRunAt.After(event.OccurredAt.Time))
	case <-time.After(3 * time.Second):
		t.Fatal("schedule did not fire")
	}
}
