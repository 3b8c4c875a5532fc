package sdk

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jakebutler/pithy-jaunt-sub000/internals/env"
	"github.com/jakebutler/pithy-jaunt-sub000/internals/schemas"
)

const (
	headerUserID        = "X-User-Id"
	headerOperatorToken = "X-Operator-Token"
)

type Client struct {
	baseURL       string
	userID        string
	operatorToken string
	httpClient    *http.Client
	// streamClient has no overall timeout; streams end with ctx.
	streamClient *http.Client
}

var ErrAuthRequired = errors.New("auth required")

type ErrorResponse struct {
	Status        string              `json:"status"`
	Code          string              `json:"code"`
	Message       string              `json:"message"`
	Errors        map[string][]string `json:"errors,omitempty"`
	CurrentStatus string              `json:"currentStatus,omitempty"`
}

type APIError struct {
	StatusCode    int
	Code          string
	Message       string
	CurrentStatus string
	Errors        map[string][]string
}

func (e *APIError) Error() string {
	if e.Code != "" && e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("unexpected status: %d", e.StatusCode)
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
			c.streamClient = &http.Client{Transport: client.Transport}
		}
	}
}

// WithUser sets the identity sent on task endpoints.
func WithUser(userID string) Option {
	return func(c *Client) {
		c.userID = userID
	}
}

func WithOperatorToken(token string) Option {
	return func(c *Client) {
		c.operatorToken = token
	}
}

func NewClient(opts ...Option) *Client {
	envs := env.Get()
	client := &Client{
		baseURL:       strings.TrimRight(envs.BASE_URL, "/"),
		userID:        envs.USER_ID,
		operatorToken: envs.OPERATOR_TOKEN,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		streamClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

func (c *Client) Version(ctx context.Context) (string, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/version", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", responseError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(body)), nil
}

func (c *Client) CreateTask(ctx context.Context, request schemas.TaskCreateRequest) (*schemas.TaskResponse, error) {
	var payload schemas.TaskResponse
	if err := c.doJSON(ctx, http.MethodPost, "/tasks", request, &payload, http.StatusCreated); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) GetTask(ctx context.Context, taskID string) (*schemas.TaskResponse, error) {
	var payload schemas.TaskResponse
	if err := c.doJSON(ctx, http.MethodGet, taskPath(taskID, ""), nil, &payload, http.StatusOK); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) ListTasks(ctx context.Context) (*schemas.TaskListResponse, error) {
	var payload schemas.TaskListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/tasks", nil, &payload, http.StatusOK); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) ExecuteTask(ctx context.Context, taskID string, request schemas.TaskExecuteRequest) (*schemas.TaskExecuteResponse, error) {
	var payload schemas.TaskExecuteResponse
	if err := c.doJSON(ctx, http.MethodPost, taskPath(taskID, "/execute"), request, &payload, http.StatusAccepted, http.StatusOK); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) CancelTask(ctx context.Context, taskID string, request schemas.TaskCancelRequest) (*schemas.TaskCancelResponse, error) {
	var payload schemas.TaskCancelResponse
	if err := c.doJSON(ctx, http.MethodPost, taskPath(taskID, "/cancel"), request, &payload, http.StatusOK); err != nil {
		return nil, err
	}
	return &payload, nil
}

// SyncTaskStatus asks the daemon to re-read the task's workspace status from the provider.
func (c *Client) SyncTaskStatus(ctx context.Context, taskID string) (*schemas.TaskSyncResponse, error) {
	var payload schemas.TaskSyncResponse
	if err := c.doJSON(ctx, http.MethodPost, taskPath(taskID, "/sync-status"), nil, &payload, http.StatusOK); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) ApproveTask(ctx context.Context, taskID string, request schemas.TaskApproveRequest) (*schemas.TaskApproveResponse, error) {
	var payload schemas.TaskApproveResponse
	if err := c.doJSON(ctx, http.MethodPost, taskPath(taskID, "/approve"), request, &payload, http.StatusOK); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) ListWorkspaces(ctx context.Context) (*schemas.WorkspaceListResponse, error) {
	var payload schemas.WorkspaceListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/workspaces", nil, &payload, http.StatusOK); err != nil {
		return nil, err
	}
	return &payload, nil
}

// Sweep runs a maintenance pass. It needs the operator token.
func (c *Client) Sweep(ctx context.Context) (*schemas.SweepResponse, error) {
	var payload schemas.SweepResponse
	if err := c.doJSON(ctx, http.MethodPost, "/maintenance/sweep", nil, &payload, http.StatusOK); err != nil {
		return nil, err
	}
	return &payload, nil
}

// StreamLogs follows a task's log stream and calls fn for every event until
// ctx ends, the server closes the stream or fn returns an error.
func (c *Client) StreamLogs(ctx context.Context, taskID string, fn func(schemas.LogEvent) error) error {
	req, err := c.newRequest(ctx, http.MethodGet, taskPath(taskID, "/logs"), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case line == "" && data.Len() > 0:
			var event schemas.LogEvent
			if err := json.Unmarshal([]byte(data.String()), &event); err != nil {
				return fmt.Errorf("decode log event: %w", err)
			}
			data.Reset()
			if err := fn(event); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func taskPath(taskID, suffix string) string {
	return "/tasks/" + url.PathEscape(taskID) + suffix
}

func (c *Client) doJSON(ctx context.Context, method, path string, request any, response any, okStatus ...int) error {
	var body io.Reader
	if request != nil {
		data, err := json.Marshal(request)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	ok := false
	for _, status := range okStatus {
		if resp.StatusCode == status {
			ok = true
			break
		}
	}
	if !ok {
		return responseError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(response)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userID != "" {
		req.Header.Set(headerUserID, c.userID)
	}
	if c.operatorToken != "" {
		req.Header.Set(headerOperatorToken, c.operatorToken)
	}
	return req, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	return c.httpClient.Do(req)
}

func responseError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}

	var payload ErrorResponse
	if err := json.Unmarshal(body, &payload); err == nil && payload.Code != "" {
		if payload.Code == "auth_required" {
			return ErrAuthRequired
		}
		return &APIError{
			StatusCode:    resp.StatusCode,
			Code:          payload.Code,
			Message:       payload.Message,
			CurrentStatus: payload.CurrentStatus,
			Errors:        payload.Errors,
		}
	}

	return fmt.Errorf("unexpected status: %s", resp.Status)
}
