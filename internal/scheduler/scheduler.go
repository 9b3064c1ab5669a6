package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/t77yq/schedule-console/internal/model"
)

// EventPublisher delivers schedule events to interested parties
type EventPublisher interface {
	// Publish sends one event
	Publish(ctx context.Context, event model.ScheduleEvent) error
}

// expressionParser accepts six fields with a leading seconds field, plus descriptors like @daily
var expressionParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseExpression parses a six-field cron expression
func ParseExpression(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidExpression)
	}
	spec, err := expressionParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	return spec, nil
}

// ValidateExpression reports whether expr is a usable cron expression
func ValidateExpression(expr string) error {
	_, err := ParseExpression(expr)
	return err
}
