// Package api exposes the schedule and task services over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/t77yq/schedule-console/internal/model"
	"github.com/t77yq/schedule-console/internal/service"
)

// ScheduleService is the business layer behind the handlers
type ScheduleService interface {
	Save(ctx context.Context, req model.ScheduleRequest) (*model.Schedule, error)
	Update(ctx context.Context, req model.ScheduleRequest) (*model.Schedule, error)
	Get(ctx context.Context, scheduleID string) (*model.Schedule, error)
	Delete(ctx context.Context, scheduleID string) (bool, error)
	List(ctx context.Context, q service.ListQuery) (*model.ScheduleList, error)
	ListByCron(ctx context.Context, expr string, q service.ListQuery) (*model.ScheduleList, error)
	DistinctCronExpressions(ctx context.Context) ([]string, error)
	ScheduleIDs(ctx context.Context) ([]string, error)
}

// HealthSource reports process health
type HealthSource interface {
	Snapshot(ctx context.Context) (model.HealthStats, error)
}

type Handler struct {
	Service ScheduleService
	Tasks   TaskService
	Health  HealthSource
	Logger  *zap.Logger
}

func respond[T any](c *gin.Context, status int, data T, message string) {
	c.JSON(status, model.WebResponse[T]{
		Status:  status,
		Data:    data,
		Message: message,
	})
}

func (h *Handler) fail(c *gin.Context, err error) {
	status, message := statusFor(err)
	resp := model.WebResponse[any]{Status: status, Message: message}
	if status < http.StatusInternalServerError {
		resp.Errors = []string{err.Error()}
	} else {
		h.Logger.Error("Request failed",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, resp)
}

func (h *Handler) SaveSchedule(c *gin.Context) {
	var req model.ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", errInvalidQuery, err))
		return
	}

	saved, err := h.Service.Save(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, saved, msgSaved)
}

func (h *Handler) UpdateSchedule(c *gin.Context) {
	var req model.ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", errInvalidQuery, err))
		return
	}

	updated, err := h.Service.Update(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, updated, msgUpdated)
}

func (h *Handler) GetSchedule(c *gin.Context) {
	schedule, err := h.Service.Get(c.Request.Context(), c.Query(model.ParamScheduleID))
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, schedule, msgFetched)
}

func (h *Handler) DeleteSchedule(c *gin.Context) {
	deleted, err := h.Service.Delete(c.Request.Context(), c.Query(model.ParamScheduleID))
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, deleted, msgDeleted)
}

func (h *Handler) ListSchedules(c *gin.Context) {
	q, err := listQuery(c)
	if err != nil {
		h.fail(c, err)
		return
	}

	list, err := h.Service.List(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, list, msgFetched)
}

func (h *Handler) ListSchedulesByCron(c *gin.Context) {
	q, err := listQuery(c)
	if err != nil {
		h.fail(c, err)
		return
	}

	list, err := h.Service.ListByCron(c.Request.Context(), c.Query(model.ParamCronExpression), q)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, list, msgFetched)
}

func (h *Handler) DistinctCronExpressions(c *gin.Context) {
	crons, err := h.Service.DistinctCronExpressions(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, crons, msgFetched)
}

func (h *Handler) ScheduleIDs(c *gin.Context) {
	ids, err := h.Service.ScheduleIDs(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, ids, msgFetched)
}

// Healthz answers 200 while the process serves requests
func (h *Handler) Healthz(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (h *Handler) HealthStats(c *gin.Context) {
	if h.Health == nil {
		respond(c, http.StatusOK, model.HealthStats{Status: "UP"}, msgFetched)
		return
	}

	stats, err := h.Health.Snapshot(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, stats, msgFetched)
}

// listQuery reads paging, sort and filter parameters; absent values stay unset
func listQuery(c *gin.Context) (service.ListQuery, error) {
	var q service.ListQuery

	page, pageSize, err := pagingParams(c)
	if err != nil {
		return q, err
	}
	q.Page, q.PageSize = page, pageSize

	q.SortBy = model.SortField(c.Query(model.ParamSortBy))
	q.SortOrder = model.SortOrder(c.Query(model.ParamSortOrder))

	if raw := c.Query(model.ParamFilters); raw != "" {
		if err := json.Unmarshal([]byte(raw), &q.Filters); err != nil {
			return q, fmt.Errorf("%w: filters: %v", errInvalidQuery, err)
		}
	}
	return q, nil
}

func pagingParams(c *gin.Context) (page, pageSize *int, err error) {
	if raw, ok := c.GetQuery(model.ParamPage); ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: page %q", errInvalidQuery, raw)
		}
		page = &n
	}
	if raw, ok := c.GetQuery(model.ParamPageSize); ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: page_size %q", errInvalidQuery, raw)
		}
		pageSize = &n
	}
	return page, pageSize, nil
}
