package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/t77yq/schedule-console/internal/model"
	"github.com/t77yq/schedule-console/internal/service"
)

const (
	msgTaskSaved       = "Successfully saved task"
	msgTaskUpdated     = "Successfully updated task"
	msgTaskFetched     = "Successfully fetched task"
	msgTaskStarted     = "Task Started Successfully !!"
	msgTaskCanceled    = "Task Canceled Successfully !!"
	msgTasksFetched    = "Successfully fetched all tasks"
	msgTasksBySchedule = "Successfully fetched all task for given schedule"
	msgTasksByCron     = "Successfully fetched all task for given cron expression"
	msgTaskRunsFetched = "Successfully fetched task runs"
)

// TaskService is the task business layer behind the handlers
type TaskService interface {
	Save(ctx context.Context, req model.TaskRequest) (*model.Task, error)
	Update(ctx context.Context, req model.TaskRequest) (*model.Task, error)
	Get(ctx context.Context, taskID string) (*model.Task, error)
	Delete(ctx context.Context, taskID string) (bool, error)
	DeleteByID(ctx context.Context, id int64) (bool, error)
	DeleteByIDs(ctx context.Context, ids []int64) ([]string, error)
	DeleteByTaskIDs(ctx context.Context, taskIDs []string) ([]string, error)
	List(ctx context.Context, q service.TaskListQuery) (*model.TaskList, error)
	ListBySchedule(ctx context.Context, scheduleID string, q service.TaskListQuery) (*model.TaskList, error)
	ListByCron(ctx context.Context, expr string, q service.TaskListQuery) (*model.TaskList, error)
	Start(ctx context.Context, taskID string) (*model.TaskJob, error)
	Cancel(ctx context.Context, taskID string) (bool, error)
	Runs(ctx context.Context, taskID string, limit int) ([]*model.TaskRun, error)
}

func (h *Handler) SaveTask(c *gin.Context) {
	var req model.TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", errInvalidQuery, err))
		return
	}

	saved, err := h.Tasks.Save(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, saved, msgTaskSaved)
}

func (h *Handler) UpdateTask(c *gin.Context) {
	var req model.TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", errInvalidQuery, err))
		return
	}

	updated, err := h.Tasks.Update(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, updated, msgTaskUpdated)
}

func (h *Handler) GetTask(c *gin.Context) {
	task, err := h.Tasks.Get(c.Request.Context(), c.Query(model.ParamTaskID))
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, task, msgTaskFetched)
}

func (h *Handler) DeleteTask(c *gin.Context) {
	deleted, err := h.Tasks.Delete(c.Request.Context(), c.Query(model.ParamTaskID))
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, deleted, msgDeleted)
}

func (h *Handler) DeleteTaskByID(c *gin.Context) {
	raw := c.Query(model.ParamID)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		h.fail(c, fmt.Errorf("%w: id %q", errInvalidQuery, raw))
		return
	}

	deleted, err := h.Tasks.DeleteByID(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, deleted, msgDeleted)
}

func (h *Handler) DeleteTasksByIDs(c *gin.Context) {
	var ids []int64
	if err := c.ShouldBindJSON(&ids); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", errInvalidQuery, err))
		return
	}

	removed, err := h.Tasks.DeleteByIDs(c.Request.Context(), ids)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, removed, msgDeleted)
}

func (h *Handler) DeleteTasksByTaskIDs(c *gin.Context) {
	var taskIDs []string
	if err := c.ShouldBindJSON(&taskIDs); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", errInvalidQuery, err))
		return
	}

	removed, err := h.Tasks.DeleteByTaskIDs(c.Request.Context(), taskIDs)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, removed, msgDeleted)
}

func (h *Handler) ListTasks(c *gin.Context) {
	q, err := taskListQuery(c)
	if err != nil {
		h.fail(c, err)
		return
	}

	list, err := h.Tasks.List(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, list, msgTasksFetched)
}

func (h *Handler) ListTasksBySchedule(c *gin.Context) {
	q, err := taskListQuery(c)
	if err != nil {
		h.fail(c, err)
		return
	}

	list, err := h.Tasks.ListBySchedule(c.Request.Context(), c.Query(model.ParamScheduleID), q)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, list, msgTasksBySchedule)
}

func (h *Handler) ListTasksByCron(c *gin.Context) {
	q, err := taskListQuery(c)
	if err != nil {
		h.fail(c, err)
		return
	}

	list, err := h.Tasks.ListByCron(c.Request.Context(), c.Query(model.ParamCronExpression), q)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, list, msgTasksByCron)
}

func (h *Handler) StartTask(c *gin.Context) {
	job, err := h.Tasks.Start(c.Request.Context(), c.Query(model.ParamTaskID))
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, job, msgTaskStarted)
}

func (h *Handler) CancelTask(c *gin.Context) {
	canceled, err := h.Tasks.Cancel(c.Request.Context(), c.Query(model.ParamTaskID))
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, canceled, msgTaskCanceled)
}

func (h *Handler) TaskRuns(c *gin.Context) {
	limit := 0
	if raw, ok := c.GetQuery(model.ParamLimit); ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.fail(c, fmt.Errorf("%w: limit %q", errInvalidQuery, raw))
			return
		}
		limit = n
	}

	runs, err := h.Tasks.Runs(c.Request.Context(), c.Query(model.ParamTaskID), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, runs, msgTaskRunsFetched)
}

// taskListQuery reads the paging and sort parameters of a task listing
func taskListQuery(c *gin.Context) (service.TaskListQuery, error) {
	page, pageSize, err := pagingParams(c)
	if err != nil {
		return service.TaskListQuery{}, err
	}
	return service.TaskListQuery{
		Page:      page,
		PageSize:  pageSize,
		SortBy:    model.TaskSortField(c.Query(model.ParamSortBy)),
		SortOrder: model.SortOrder(c.Query(model.ParamSortOrder)),
	}, nil
}
