package model

// WebResponse is the envelope every schedule endpoint answers with
type WebResponse[T any] struct {
	Status  int      `json:"status"`
	Data    T        `json:"data"`
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
}

// ScheduleList is one page of schedules plus paging metadata
type ScheduleList struct {
	Items      []*Schedule `json:"items"`
	Total      int64       `json:"total"`
	TotalPages int         `json:"total_pages"`
	SortOrder  SortOrder   `json:"sort_order,omitempty"`
	SortBy     SortField   `json:"sort_by,omitempty"`
}

// TotalPagesFor returns the number of pages of size pageSize needed for total records
func TotalPagesFor(total int64, pageSize int) int {
	if pageSize < 1 || total <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}

// ScheduleEvent is published when a schedule changes or fires, and for
// every run of a task started on a schedule
type ScheduleEvent struct {
	Type         string     `json:"type"`
	ID           int64      `json:"id,omitempty"`
	ScheduleID   string     `json:"schedule_id"`
	CronSchedule string     `json:"cron_schedule,omitempty"`
	OccurredAt   Timestamp  `json:"occurred_at"`
	NextRunAt    *Timestamp `json:"next_run_at,omitempty"`
	// Tasks lists the tasks a firing runs
	Tasks []string `json:"tasks,omitempty"`

	TaskID string     `json:"task_id,omitempty"`
	Status TaskStatus `json:"status,omitempty"`
	Result string     `json:"result,omitempty"`
	Error  string     `json:"error,omitempty"`
}

const (
	EventScheduleSaved   = "saved"
	EventScheduleDeleted = "deleted"
	EventScheduleFired   = "fired"
	EventTaskRun         = "task_run"
)

// HealthStats is a point-in-time view of the service process and host
type HealthStats struct {
	Status        string  `json:"status"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryUsed    uint64  `json:"memory_used"`
	MemoryTotal   uint64  `json:"memory_total"`
	MemoryPercent float64 `json:"memory_percent"`
	Schedules     int     `json:"schedules"`
	Tasks         int     `json:"tasks"`
}
