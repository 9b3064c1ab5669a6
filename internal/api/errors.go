package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/t77yq/schedule-console/internal/service"
)

const (
	msgSaved   = "Saved Successfully !!"
	msgUpdated = "Updated Successfully !!"
	msgFetched = "Fetched Successfully !!"
	msgDeleted = "Deleted Successfully !!"

	msgInternal   = "Internal server error"
	msgBadRequest = "Bad request"
)

var errInvalidQuery = errors.New("invalid query parameter")

// statusFor maps a service error to an HTTP status and envelope message
func statusFor(err error) (int, string) {
	var pageErr *service.InvalidPageError
	switch {
	case errors.As(err, &pageErr):
		return http.StatusBadRequest, fmt.Sprintf("Invalid page number, number of available pages is %d", pageErr.Available)
	case errors.Is(err, service.ErrInvalidCron):
		return http.StatusBadRequest, "Bad cron Syntax"
	case errors.Is(err, service.ErrScheduleExists):
		return http.StatusConflict, "Schedule already exists"
	case errors.Is(err, service.ErrScheduleNotFound):
		return http.StatusNotFound, "Schedule not found"
	case errors.Is(err, service.ErrInvalidScheduleID):
		return http.StatusBadRequest, "Invalid schedule id"
	case errors.Is(err, service.ErrTaskExists):
		return http.StatusConflict, "Task already exists"
	case errors.Is(err, service.ErrTaskNotFound):
		return http.StatusNotFound, "Task not found"
	case errors.Is(err, service.ErrInvalidTaskID):
		return http.StatusBadRequest, "Invalid task id"
	case errors.Is(err, service.ErrTaskNotStarted):
		return http.StatusBadRequest, "Task is not started"
	case errors.Is(err, service.ErrInvalidPageSize):
		return http.StatusBadRequest, "Page size cannot be less than 1"
	case errors.Is(err, service.ErrInvalidSort):
		return http.StatusBadRequest, "Invalid sort parameter"
	case errors.Is(err, errInvalidQuery):
		return http.StatusBadRequest, msgBadRequest
	default:
		return http.StatusInternalServerError, msgInternal
	}
}
