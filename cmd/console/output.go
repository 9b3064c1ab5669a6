package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/t77yq/schedule-console/internal/listview"
	"github.com/t77yq/schedule-console/internal/model"
)

const timeLayout = "2006-01-02 15:04:05"

func printRecords(w io.Writer, records []*model.Schedule) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSCHEDULE\tCRON\tCREATED\tUPDATED")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			formatID(r.ID), r.Key(), r.Expression(),
			formatTime(r.CreatedAt), formatTime(r.LastUpdatedAt))
	}
	tw.Flush()
}

func printPageFooter(w io.Writer, state listview.ViewState) {
	fmt.Fprintf(w, "page %d of %d, %d schedules, sorted by %s %s\n",
		state.Query.Page, state.TotalPages, state.Total,
		state.Query.SortBy, state.Query.SortOrder)
}

func printRecord(w io.Writer, r *model.Schedule) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "id:\t%s\n", formatID(r.ID))
	fmt.Fprintf(tw, "schedule_id:\t%s\n", r.Key())
	fmt.Fprintf(tw, "cron_schedule:\t%s\n", r.Expression())
	fmt.Fprintf(tw, "created_by:\t%s\n", formatID(r.CreatedBy))
	fmt.Fprintf(tw, "creation_date:\t%s\n", formatTime(r.CreatedAt))
	fmt.Fprintf(tw, "last_updated_by:\t%s\n", formatID(r.LastUpdatedBy))
	fmt.Fprintf(tw, "last_update_date:\t%s\n", formatTime(r.LastUpdatedAt))
	tw.Flush()
}

func printNotifications(w io.Writer, notes []listview.Notification) {
	for _, n := range notes {
		fmt.Fprintf(w, "[%s] %s: %s\n", n.Severity, n.Summary, n.Detail)
	}
}

func printHealth(w io.Writer, h model.HealthStats) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "status:\t%s\n", h.Status)
	fmt.Fprintf(tw, "uptime:\t%s\n", time.Duration(h.UptimeSeconds)*time.Second)
	fmt.Fprintf(tw, "schedules:\t%d\n", h.Schedules)
	fmt.Fprintf(tw, "tasks:\t%d\n", h.Tasks)
	fmt.Fprintf(tw, "cpu:\t%.1f%%\n", h.CPUPercent)
	fmt.Fprintf(tw, "memory:\t%.1f%% (%d MB of %d MB)\n",
		h.MemoryPercent, h.MemoryUsed/1024/1024, h.MemoryTotal/1024/1024)
	tw.Flush()
}

func printEvent(w io.Writer, e model.ScheduleEvent) {
	line := fmt.Sprintf("%s  %-7s  %s", e.OccurredAt.Format(timeLayout), e.Type, e.ScheduleID)
	if e.CronSchedule != "" {
		line += "  " + e.CronSchedule
	}
	if e.NextRunAt != nil {
		line += "  next " + e.NextRunAt.Format(timeLayout)
	}
	if len(e.Tasks) > 0 {
		line += "  tasks " + strings.Join(e.Tasks, ",")
	}
	if e.TaskID != "" {
		line += fmt.Sprintf("  task %s %s", e.TaskID, e.Status)
		switch {
		case e.Error != "":
			line += ": " + e.Error
		case e.Result != "":
			line += ": " + e.Result
		}
	}
	fmt.Fprintln(w, line)
}

func formatID(v *int64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatInt(*v, 10)
}

func formatTime(t *model.Timestamp) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}
