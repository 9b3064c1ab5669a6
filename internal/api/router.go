package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter mounts the schedule, task and health routes under contextPath.
// Task routes are only mounted when the handler has a task service.
func NewRouter(h *Handler, contextPath string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), Logger(h.Logger), CORS())

	root := r.Group(strings.TrimRight(contextPath, "/"))
	{
		schedules := root.Group("/api/schedule")
		schedules.POST("", h.SaveSchedule)
		schedules.PUT("", h.UpdateSchedule)
		schedules.GET("", h.GetSchedule)
		schedules.DELETE("", h.DeleteSchedule)
		schedules.GET("/all", h.ListSchedules)
		schedules.GET("/with-cron-expression", h.ListSchedulesByCron)
		schedules.GET("/distinct-cron-expression", h.DistinctCronExpressions)
		schedules.GET("/all-schedule-id", h.ScheduleIDs)

		if h.Tasks != nil {
			tasks := root.Group("/api/task")
			tasks.POST("", h.SaveTask)
			tasks.PUT("", h.UpdateTask)
			tasks.GET("", h.GetTask)
			tasks.DELETE("", h.DeleteTask)
			tasks.DELETE("/with-id", h.DeleteTaskByID)
			tasks.DELETE("/with-ids", h.DeleteTasksByIDs)
			tasks.DELETE("/with-task-ids", h.DeleteTasksByTaskIDs)
			tasks.GET("/all", h.ListTasks)
			tasks.GET("/with-schedule-id", h.ListTasksBySchedule)
			tasks.GET("/with-cron-expression", h.ListTasksByCron)
			tasks.GET("/start", h.StartTask)
			tasks.GET("/cancel", h.CancelTask)
			tasks.GET("/runs", h.TaskRuns)
		}

		root.GET("/healthz", h.Healthz)
		root.GET("/healthz/stats", h.HealthStats)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"status": http.StatusNotFound, "message": "API route not found"})
	})
	return r
}

// Server runs the router on an http.Server
type Server struct {
	logger *zap.Logger
	srv    *http.Server
}

func NewServer(addr string, handler http.Handler, readTimeout, writeTimeout time.Duration, logger *zap.Logger) *Server {
	return &Server{
		logger: logger.Named("http"),
		srv: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		},
	}
}

// Start serves in the background; a listen failure is sent on the returned channel
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server failed: %w", err)
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
