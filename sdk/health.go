package sdk

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/jakebutler/pithy-jaunt-sub000/internals/timeouts"
)

const (
	DefaultPingTimeout = timeouts.Probe
	startAttempts      = 6
)

func IsRunning(ctx context.Context, baseURL string) bool {
	return IsRunningWithTimeout(ctx, baseURL, DefaultPingTimeout)
}

func IsRunningWithTimeout(ctx context.Context, baseURL string, timeout time.Duration) bool {
	if baseURL == "" {
		return false
	}
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client := NewClient(
		WithBaseURL(baseURL),
		WithHTTPClient(&http.Client{Timeout: timeout}),
	)
	_, err := client.Version(ctx)
	return err == nil
}

// WaitForServer polls /version with exponential backoff until the daemon
// answers or the attempts run out.
func WaitForServer(ctx context.Context, baseURL string, initialDelay time.Duration) error {
	if initialDelay <= 0 {
		initialDelay = 500 * time.Millisecond
	}
	backoff := retry.WithMaxRetries(startAttempts, retry.NewExponential(initialDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if !IsRunning(ctx, baseURL) {
			return retry.RetryableError(errServerDown)
		}
		return nil
	})
}

var errServerDown = errors.New("server not reachable")
