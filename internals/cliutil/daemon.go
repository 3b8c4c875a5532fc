package cliutil

import (
	"context"
	"fmt"

	"github.com/jakebutler/pithy-jaunt-sub000/internals/timeouts"
	"github.com/jakebutler/pithy-jaunt-sub000/sdk"
)

// EnsureReachable checks that pithyd answers at baseURL, optionally waiting
// for a daemon that is still starting.
func EnsureReachable(ctx context.Context, baseURL string, wait bool) error {
	if sdk.IsRunning(ctx, baseURL) {
		return nil
	}
	if wait {
		if err := sdk.WaitForServer(ctx, baseURL, timeouts.SecondShort/2); err == nil {
			return nil
		}
	}
	return fmt.Errorf("pithyd is not reachable at %s; start it with `pithyd serve`", baseURL)
}
