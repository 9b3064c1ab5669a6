package scheduler

import "time"

const (
	scheduleStreamName = "SCHEDULES"
	scheduleSubjects   = "schedule.*"

	subjectPrefix = "schedule."

	streamMaxAge     = 24 * time.Hour
	streamMaxMsgs    = -1
	operationTimeout = 30 * time.Second
	taskRunTimeout   = 30 * time.Second
)

// SubjectFor returns the subject an event type is published on
func SubjectFor(eventType string) string {
	return subjectPrefix + eventType
}
