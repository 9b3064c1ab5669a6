package model

import (
	"fmt"
	"strings"
)

// SortField is the column a schedule listing is ordered by
type SortField string

const (
	SortByID            SortField = "ID"
	SortByCreatedBy     SortField = "CREATED_BY"
	SortByCreatedAt     SortField = "CREATED_AT"
	SortByLastUpdatedBy SortField = "LAST_UPDATED_BY"
	SortByLastUpdatedAt SortField = "LAST_UPDATED_AT"
	SortByScheduleID    SortField = "SCHEDULE_ID"
	SortByCronSchedule  SortField = "CRON_SCHEDULE"
	SortByNone          SortField = "NONE"
)

var sortColumns = map[SortField]string{
	SortByID:            "id",
	SortByCreatedBy:     "created_by",
	SortByCreatedAt:     "creation_date",
	SortByLastUpdatedBy: "last_updated_by",
	SortByLastUpdatedAt: "last_update_date",
	SortByScheduleID:    "schedule_id",
	SortByCronSchedule:  "cron_schedule",
	SortByNone:          "",
}

// Column returns the storage column for the field; "" means unsorted
func (f SortField) Column() string {
	return sortColumns[f]
}

// ParseSortField parses a sort field case-insensitively
func ParseSortField(s string) (SortField, error) {
	f := SortField(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := sortColumns[f]; !ok {
		return "", fmt.Errorf("invalid sort field %q", s)
	}
	return f, nil
}

// SortOrder is the direction of a listing
type SortOrder string

const (
	SortAsc  SortOrder = "ASC"
	SortDesc SortOrder = "DESC"
)

// ParseSortOrder parses a sort order case-insensitively
func ParseSortOrder(s string) (SortOrder, error) {
	switch o := SortOrder(strings.ToUpper(strings.TrimSpace(s))); o {
	case SortAsc, SortDesc:
		return o, nil
	default:
		return "", fmt.Errorf("invalid sort order %q, must be ASC or DESC", s)
	}
}

// Query parameter names shared by the gateway and the API
const (
	ParamPage           = "page"
	ParamPageSize       = "page_size"
	ParamSortBy         = "sort_by"
	ParamSortOrder      = "sort_order"
	ParamFilters        = "filters"
	ParamScheduleID     = "schedule_id"
	ParamCronExpression = "cron_expression"
)

// Filter keys understood by the listing endpoint
const (
	FilterScheduleID   = "schedule_id"
	FilterCronSchedule = "cron_schedule"
)

const (
	DefaultPage     = 1
	DefaultPageSize = 10
)

// QueryParams selects one page of schedules.
// Values are not validated here; the remote service owns the bounds.
type QueryParams struct {
	SortBy    SortField         `json:"sort_by"`
	SortOrder SortOrder         `json:"sort_order"`
	Page      int               `json:"page"`
	PageSize  int               `json:"page_size"`
	Filters   map[string]string `json:"filters,omitempty"`
}

// DefaultQueryParams is the first page of ten, oldest first
func DefaultQueryParams() QueryParams {
	return QueryParams{
		SortBy:    SortByCreatedAt,
		SortOrder: SortAsc,
		Page:      DefaultPage,
		PageSize:  DefaultPageSize,
	}
}
