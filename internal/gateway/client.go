// Package gateway is the HTTP client for the schedule service REST API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/schedule-console/internal/model"
)

const (
	schedulePath         = "/api/schedule"
	scheduleListPath     = schedulePath + "/all"
	scheduleByCronPath   = schedulePath + "/with-cron-expression"
	distinctCronPath     = schedulePath + "/distinct-cron-expression"
	allScheduleIDsPath   = schedulePath + "/all-schedule-id"
	healthStatsPath      = "/healthz/stats"
	requestIDHeader      = "X-Request-ID"
	maxResponseBodyBytes = 10 << 20
)

// Client talks to the schedule service
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	timeout    time.Duration
	retries    int
	strategy   RetryStrategy
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger.Named("gateway") }
}

// WithTimeout bounds every request; zero keeps the HTTP client's own timeout.
// It is applied to a copy of the HTTP client once all options have run.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRetry retries retryable failures of GET, PUT and DELETE calls up to
// attempts extra times. POST is never retried.
func WithRetry(attempts int, strategy RetryStrategy) Option {
	return func(c *Client) {
		c.retries = attempts
		if strategy != nil {
			c.strategy = strategy
		}
	}
}

// New creates a client rooted at baseURL, e.g. http://localhost:8080/taskservice
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     zap.NewNop(),
		strategy:   DefaultBackoff(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	return c
}

// BaseURL returns the service root the client was built with
func (c *Client) BaseURL() string {
	return c.baseURL
}

// EncodeQuery serializes listing parameters exactly as given
func EncodeQuery(params model.QueryParams) (url.Values, error) {
	q := url.Values{}
	q.Set(model.ParamPage, strconv.Itoa(params.Page))
	q.Set(model.ParamPageSize, strconv.Itoa(params.PageSize))
	q.Set(model.ParamSortBy, string(params.SortBy))
	q.Set(model.ParamSortOrder, string(params.SortOrder))
	if len(params.Filters) > 0 {
		data, err := json.Marshal(params.Filters)
		if err != nil {
			return nil, fmt.Errorf("failed to encode filters: %w", err)
		}
		q.Set(model.ParamFilters, string(data))
	}
	return q, nil
}

// FetchPage fetches one page of schedules
func (c *Client) FetchPage(ctx context.Context, params model.QueryParams) (*model.WebResponse[model.ScheduleList], error) {
	q, err := EncodeQuery(params)
	if err != nil {
		return nil, err
	}
	return doJSON[model.ScheduleList](ctx, c, http.MethodGet, scheduleListPath, q, nil)
}

// FetchByCronExpression fetches one page of schedules using expr
func (c *Client) FetchByCronExpression(ctx context.Context, expr string, params model.QueryParams) (*model.WebResponse[model.ScheduleList], error) {
	q, err := EncodeQuery(params)
	if err != nil {
		return nil, err
	}
	q.Set(model.ParamCronExpression, expr)
	return doJSON[model.ScheduleList](ctx, c, http.MethodGet, scheduleByCronPath, q, nil)
}

// GetSchedule fetches a schedule by its key
func (c *Client) GetSchedule(ctx context.Context, scheduleID string) (*model.WebResponse[*model.Schedule], error) {
	q := url.Values{model.ParamScheduleID: {scheduleID}}
	return doJSON[*model.Schedule](ctx, c, http.MethodGet, schedulePath, q, nil)
}

// CreateSchedule creates a schedule
func (c *Client) CreateSchedule(ctx context.Context, req model.ScheduleRequest) (*model.WebResponse[*model.Schedule], error) {
	return doJSON[*model.Schedule](ctx, c, http.MethodPost, schedulePath, nil, req)
}

// UpdateSchedule updates the schedule identified by req.ID
func (c *Client) UpdateSchedule(ctx context.Context, req model.ScheduleRequest) (*model.WebResponse[*model.Schedule], error) {
	return doJSON[*model.Schedule](ctx, c, http.MethodPut, schedulePath, nil, req)
}

// DeleteSchedule deletes a schedule by its key
func (c *Client) DeleteSchedule(ctx context.Context, scheduleID string) (*model.WebResponse[bool], error) {
	q := url.Values{model.ParamScheduleID: {scheduleID}}
	return doJSON[bool](ctx, c, http.MethodDelete, schedulePath, q, nil)
}

// DistinctCronExpressions lists every expression in use
func (c *Client) DistinctCronExpressions(ctx context.Context) (*model.WebResponse[[]string], error) {
	return doJSON[[]string](ctx, c, http.MethodGet, distinctCronPath, nil, nil)
}

// ScheduleIDs lists every schedule key
func (c *Client) ScheduleIDs(ctx context.Context) (*model.WebResponse[[]string], error) {
	return doJSON[[]string](ctx, c, http.MethodGet, allScheduleIDsPath, nil, nil)
}

// Health fetches the service health snapshot
func (c *Client) Health(ctx context.Context) (*model.WebResponse[model.HealthStats], error) {
	return doJSON[model.HealthStats](ctx, c, http.MethodGet, healthStatsPath, nil, nil)
}

func doJSON[T any](ctx context.Context, c *Client, method, path string, query url.Values, body any) (*model.WebResponse[T], error) {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		payload = data
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	for attempt := 0; ; attempt++ {
		resp, err := roundTrip[T](ctx, c, method, target, payload)
		if err == nil {
			return resp, nil
		}
		if attempt >= c.retries || !idempotent(method) || !IsRetryable(err) {
			return nil, err
		}

		delay := c.strategy.NextRetry(attempt)
		c.logger.Warn("Request failed, retrying",
			zap.String("method", method),
			zap.String("url", target),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, &NetworkError{Method: method, URL: target, Err: ctx.Err()}
		case <-timer.C:
		}
	}
}

// idempotent reports whether a failed call may be repeated without creating
// a second record
func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func roundTrip[T any](ctx context.Context, c *Client, method, target string, payload []byte) (*model.WebResponse[T], error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	requestID := uuid.NewString()
	req.Header.Set(requestIDHeader, requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Method: method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return nil, &NetworkError{Method: method, URL: target, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	c.logger.Debug("Schedule service call",
		zap.String("request_id", requestID),
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		srvErr := &ServerError{Status: resp.StatusCode}
		var envelope model.WebResponse[json.RawMessage]
		if json.Unmarshal(data, &envelope) == nil {
			srvErr.Message = envelope.Message
			srvErr.Errors = envelope.Errors
		}
		return nil, srvErr
	}

	var envelope model.WebResponse[T]
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &DecodeError{Status: resp.StatusCode, Err: err}
	}
	if envelope.Status == 0 {
		envelope.Status = resp.StatusCode
	}
	return &envelope, nil
}
