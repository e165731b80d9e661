package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"taskwatch/internal/config"
	"taskwatch/internal/models"
)

// APIError is returned for any non-2xx answer from the Task API
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s returned HTTP %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// IsNotFound reports whether the task or resource does not exist
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// Client represents a Task API client
type Client struct {
	baseURL   string
	pageLimit int
	http      *resty.Client
	log       *zap.SugaredLogger
}

// NewClient creates a new Task API client
func NewClient(cfg config.APIConfig, log *zap.SugaredLogger) *Client {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	pageLimit := cfg.PageLimit
	if pageLimit <= 0 {
		pageLimit = 100
	}

	client := &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		pageLimit: pageLimit,
		log:       log,
	}

	client.http = resty.New().
		SetHeader("Accept", "application/json").
		SetTimeout(cfg.Timeout)

	if cfg.UserAgent != "" {
		client.http.SetHeader("User-Agent", cfg.UserAgent)
	}

	switch {
	case cfg.Token != "":
		client.http.SetAuthToken(cfg.Token)
	case cfg.Username != "":
		client.http.SetBasicAuth(cfg.Username, cfg.Password)
	}

	// Transport-level retries are opt-in; the waiter itself never retries a
	// failed query.
	if cfg.RetryCount > 0 {
		client.http.
			SetRetryCount(cfg.RetryCount).
			SetRetryWaitTime(500 * time.Millisecond).
			SetRetryMaxWaitTime(2 * time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return r.StatusCode() == http.StatusTooManyRequests ||
					(r.StatusCode() >= 500 && r.StatusCode() <= 504)
			})
	}

	return client
}

// Get performs a GET request against the Task API
func (c *Client) Get(ctx context.Context, endpoint string, params map[string]string) (*resty.Response, error) {
	req := c.http.R().SetContext(ctx)
	if params != nil {
		req.SetQueryParams(params)
	}
	return req.Get(c.buildURL(endpoint))
}

// Do performs a request with an optional JSON payload
func (c *Client) Do(ctx context.Context, method, endpoint string, payload interface{}) (*resty.Response, error) {
	req := c.http.R().SetContext(ctx)
	if payload != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(payload)
	}
	return req.Execute(method, c.buildURL(endpoint))
}

// GetTask fetches the current snapshot of one task
func (c *Client) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	if taskID == "" {
		return nil, fmt.Errorf("task id is required")
	}

	resp, err := c.Get(ctx, "tasks/"+url.PathEscape(taskID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query task %s: %w", taskID, err)
	}
	if !resp.IsSuccess() {
		return nil, newAPIError(resp)
	}

	var task models.Task
	if err := json.Unmarshal(resp.Body(), &task); err != nil {
		return nil, fmt.Errorf("failed to decode task %s: %w", taskID, err)
	}
	return &task, nil
}

// ListTasks returns every task matching filter, following pagination in
// creation order.
func (c *Client) ListTasks(ctx context.Context, filter string) ([]models.Task, error) {
	var tasks []models.Task
	offset := 0

	for {
		params := map[string]string{
			"offset": strconv.Itoa(offset),
			"limit":  strconv.Itoa(c.pageLimit),
			"sort":   "createdAt",
		}
		if filter != "" {
			params["filter"] = filter
		}

		resp, err := c.Get(ctx, "tasks", params)
		if err != nil {
			return nil, fmt.Errorf("failed to list tasks (offset %d): %w", offset, err)
		}
		if !resp.IsSuccess() {
			return nil, newAPIError(resp)
		}

		var page models.TaskPage
		if err := json.Unmarshal(resp.Body(), &page); err != nil {
			return nil, fmt.Errorf("failed to decode task page (offset %d): %w", offset, err)
		}

		tasks = append(tasks, page.Items...)
		c.log.Debugw("fetched task page", "filter", filter, "offset", offset, "items", len(page.Items), "total", page.Total)

		if len(page.Items) == 0 {
			break
		}
		offset += len(page.Items)
		// total is optional; without it a short page is the last one
		if page.Total > 0 {
			if offset >= page.Total {
				break
			}
		} else if len(page.Items) < c.pageLimit {
			break
		}
	}

	return tasks, nil
}

// ListChildTasks returns the tasks whose parent is rootTaskID
func (c *Client) ListChildTasks(ctx context.Context, rootTaskID string) ([]models.Task, error) {
	return c.ListTasks(ctx, ParentFilter(rootTaskID))
}

// ParentFilter builds the Task API filter selecting children of a task
func ParentFilter(parentTaskID string) string {
	return fmt.Sprintf("parent/id eq '%s'", parentTaskID)
}

// SubmitAsync issues a mutating request that the server answers with
// 202 Accepted, and returns the ID of the task it started.
func (c *Client) SubmitAsync(ctx context.Context, method, endpoint string, payload interface{}) (string, error) {
	resp, err := c.Do(ctx, method, endpoint, payload)
	if err != nil {
		return "", fmt.Errorf("failed to submit %s %s: %w", method, endpoint, err)
	}
	if resp.StatusCode() != http.StatusAccepted {
		return "", newAPIError(resp)
	}

	location := resp.Header().Get("Location")
	if location == "" {
		return "", fmt.Errorf("%s %s: 202 Accepted without Location header", method, endpoint)
	}

	taskID, err := TaskIDFromLocation(location)
	if err != nil {
		return "", err
	}
	c.log.Infow("submitted async operation", "method", method, "endpoint", endpoint, "task_id", taskID)
	return taskID, nil
}

// buildURL constructs the full URL for an endpoint
func (c *Client) buildURL(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "/")
	return fmt.Sprintf("%s/%s", c.baseURL, endpoint)
}

func newAPIError(resp *resty.Response) *APIError {
	return &APIError{
		Method:     resp.Request.Method,
		URL:        resp.Request.URL,
		StatusCode: resp.StatusCode(),
		Body:       strings.TrimSpace(resp.String()),
	}
}
