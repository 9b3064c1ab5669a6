package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCron       = errors.New("bad cron syntax")
	ErrScheduleExists    = errors.New("schedule already exists")
	ErrScheduleNotFound  = errors.New("schedule not found")
	ErrInvalidScheduleID = errors.New("invalid schedule id")
	ErrInvalidPage       = errors.New("invalid page number")
	ErrInvalidPageSize   = errors.New("page size cannot be less than 1")
	ErrInvalidSort       = errors.New("invalid sort parameter")

	ErrTaskExists     = errors.New("task already exists")
	ErrTaskNotFound   = errors.New("task not found")
	ErrInvalidTaskID  = errors.New("invalid task id")
	ErrTaskNotStarted = errors.New("task not started")
)

// InvalidPageError reports a page beyond the last one
type InvalidPageError struct {
	Available int
}

func (e *InvalidPageError) Error() string {
	return fmt.Sprintf("invalid page number, number of available pages is %d", e.Available)
}

func (e *InvalidPageError) Is(target error) bool {
	return target == ErrInvalidPage
}
