package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the zone-less layout the schedule service emits
const TimestampLayout = "2006-01-02T15:04:05"

// Timestamp is a time.Time that serializes without a zone and parses
// either TimestampLayout or RFC 3339
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t in UTC truncated to whole seconds. The wire layout
// carries no zone, so every timestamp is kept in UTC.
func NewTimestamp(t time.Time) *Timestamp {
	return &Timestamp{Time: t.UTC().Truncate(time.Second)}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Format(TimestampLayout))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{TimestampLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}

// Schedule is a single schedule record as listed by the console.
// Every field is optional: records synthesized locally may carry none of them.
type Schedule struct {
	ID            *int64     `json:"id,omitempty"`
	CreatedBy     *int64     `json:"created_by,omitempty"`
	CreatedAt     *Timestamp `json:"creation_date,omitempty"`
	LastUpdatedBy *int64     `json:"last_updated_by,omitempty"`
	LastUpdatedAt *Timestamp `json:"last_update_date,omitempty"`
	ScheduleID    *string    `json:"schedule_id,omitempty"`
	CronSchedule  *string    `json:"cron_schedule,omitempty"`
}

// HasID reports whether the record carries a non-zero identifier
func (s *Schedule) HasID() bool {
	return s != nil && s.ID != nil && *s.ID != 0
}

// SameID reports whether both records carry the same non-zero identifier.
// Records without identifiers are never the same.
func (s *Schedule) SameID(other *Schedule) bool {
	return s.HasID() && other.HasID() && *s.ID == *other.ID
}

// Clone returns a shallow copy of the record
func (s *Schedule) Clone() *Schedule {
	if s == nil {
		return &Schedule{}
	}
	c := *s
	return &c
}

// Key returns the schedule key or "" when unset
func (s *Schedule) Key() string {
	if s == nil || s.ScheduleID == nil {
		return ""
	}
	return *s.ScheduleID
}

// Expression returns the cron expression or "" when unset
func (s *Schedule) Expression() string {
	if s == nil || s.CronSchedule == nil {
		return ""
	}
	return *s.CronSchedule
}

// ScheduleRequest is the write payload for creating or updating a schedule
type ScheduleRequest struct {
	ID           *int64 `json:"id,omitempty"`
	ScheduleID   string `json:"schedule_id"`
	CronSchedule string `json:"cron_schedule"`
}

// RequestFrom builds a write payload from a record
func RequestFrom(s *Schedule) ScheduleRequest {
	req := ScheduleRequest{
		ScheduleID:   s.Key(),
		CronSchedule: s.Expression(),
	}
	if s.HasID() {
		id := *s.ID
		req.ID = &id
	}
	return req
}

// Int64 returns a pointer to v
func Int64(v int64) *int64 { return &v }

// String returns a pointer to v
func String(v string) *string { return &v }
