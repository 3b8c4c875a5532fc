package backends

import (
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

	"github.com/sethvargo/go-retry"
)

const userAgent = "PithyJaunt/1.0"

type DaytonaConfig struct {
	BaseURL        string
	APIKey         string
	Snapshot       string
	RequestTimeout time.Duration
	MaxRetries     uint64
	RetryBase      time.Duration
	HTTPClient     *http.Client
}

type Daytona struct {
	baseURL    string
	apiKey     string
	snapshot   string
	maxRetries uint64
	retryBase  time.Duration
	httpClient *http.Client
}

var _ Backend = (*Daytona)(nil)

func NewDaytona(cfg DaytonaConfig) (*Daytona, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("daytona base url is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	retryBase := cfg.RetryBase
	if retryBase <= 0 {
		retryBase = 250 * time.Millisecond
	}
	return &Daytona{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		snapshot:   cfg.Snapshot,
		maxRetries: cfg.MaxRetries,
		retryBase:  retryBase,
		httpClient: client,
	}, nil
}

func (d *Daytona) ID() BackendID {
	return BackendDaytona
}

type createWorkspaceRequest struct {
	Snapshot string            `json:"snapshot"`
	RepoURL  string            `json:"repoUrl"`
	Branch   string            `json:"branch"`
	Env      map[string]string `json:"env"`
}

type workspacePayload struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspaceId"`
	Status      string `json:"status"`
	State       string `json:"state"`
}

func (p workspacePayload) instance() Instance {
	id := p.ID
	if id == "" {
		id = p.WorkspaceID
	}
	state := p.Status
	if state == "" {
		state = p.State
	}
	return Instance{ExternalID: id, Status: MapProviderState(state)}
}

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("daytona api error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("daytona api error (%d)", e.StatusCode)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

func (d *Daytona) Create(ctx context.Context, params CreateParams) (Instance, error) {
	if d.apiKey == "" {
		return Instance{}, errors.New("DAYTONA_API_KEY is required to create workspaces")
	}
	snapshot := params.Snapshot
	if snapshot == "" {
		snapshot = d.snapshot
	}
	body, err := json.Marshal(createWorkspaceRequest{
		Snapshot: snapshot,
		RepoURL:  params.RepoURL,
		Branch:   params.Branch,
		Env:      params.Env,
	})
	if err != nil {
		return Instance{}, err
	}

	// Creation is not idempotent on the provider, so it is never retried.
	var payload workspacePayload
	if err := d.do(ctx, http.MethodPost, "/workspace", body, &payload); err != nil {
		return Instance{}, fmt.Errorf("create workspace: %w", err)
	}
	instance := payload.instance()
	if instance.ExternalID == "" {
		return Instance{}, errors.New("create workspace: response did not include an id")
	}
	if instance.Status != StatusRunning {
		instance.Status = StatusCreating
	}
	return instance, nil
}

func (d *Daytona) GetStatus(ctx context.Context, externalID string) (Status, error) {
	var payload workspacePayload
	err := d.withRetry(ctx, func(ctx context.Context) error {
		return d.do(ctx, http.MethodGet, "/workspace/"+url.PathEscape(externalID), nil, &payload)
	})
	if err != nil {
		return "", fmt.Errorf("get workspace %s: %w", externalID, err)
	}
	return payload.instance().Status, nil
}

func (d *Daytona) Terminate(ctx context.Context, externalID string) error {
	err := d.withRetry(ctx, func(ctx context.Context) error {
		return d.do(ctx, http.MethodDelete, "/workspace/"+url.PathEscape(externalID), nil, nil)
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("terminate workspace %s: %w", externalID, err)
	}
	return nil
}

func (d *Daytona) ListAll(ctx context.Context) ([]Instance, error) {
	var payload []workspacePayload
	err := d.withRetry(ctx, func(ctx context.Context) error {
		return d.do(ctx, http.MethodGet, "/workspace", nil, &payload)
	})
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	instances := make([]Instance, 0, len(payload))
	for _, item := range payload {
		instance := item.instance()
		if instance.ExternalID == "" {
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// withRetry retries transport failures and 5xx responses with exponential backoff.
func (d *Daytona) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(d.maxRetries, retry.NewExponential(d.retryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
			return err
		}
		return retry.RetryableError(err)
	})
}

func (d *Daytona) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+d.apiKey)
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return responseError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func responseError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	message := strings.TrimSpace(string(data))
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Message != "" {
			message = payload.Message
		} else if payload.Error != "" {
			message = payload.Error
		}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: message}
}
