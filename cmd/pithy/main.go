package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jakebutler/pithy-jaunt-sub000/internals/cliutil"
	"github.com/jakebutler/pithy-jaunt-sub000/internals/env"
	"github.com/jakebutler/pithy-jaunt-sub000/internals/version"
	"github.com/jakebutler/pithy-jaunt-sub000/sdk"
)

var (
	serverURL     string
	userID        string
	operatorToken string
	waitForServer bool

	rootCmd = &cobra.Command{
		Use:           "pithy",
		Short:         "Queue coding tasks and follow them through pithyd",
		Version:       version.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	envs := env.Get()
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&serverURL, "url", envs.BASE_URL, "pithyd base url")
	flags.StringVar(&userID, "user", envs.USER_ID, "user id sent as X-User-Id (env PITHY_USER)")
	flags.StringVar(&operatorToken, "operator-token", envs.OPERATOR_TOKEN, "operator token for maintenance commands")
	flags.BoolVar(&waitForServer, "wait", false, "wait for pithyd to come up before failing")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var apiErr *sdk.APIError
		switch {
		case errors.Is(err, sdk.ErrAuthRequired):
			fmt.Fprintln(os.Stderr, "authentication required: pass --user or set PITHY_USER")
		case errors.As(err, &apiErr) && apiErr.CurrentStatus != "":
			fmt.Fprintf(os.Stderr, "%s (current status: %s)\n", apiErr.Message, apiErr.CurrentStatus)
		case errors.As(err, &apiErr) && len(apiErr.Errors) > 0:
			fmt.Fprintln(os.Stderr, apiErr.Message)
			for field, issues := range apiErr.Errors {
				fmt.Fprintf(os.Stderr, "  %s: %v\n", field, issues)
			}
		default:
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// connect returns a client for commands that talk to the daemon.
func connect(cmd *cobra.Command) (*sdk.Client, error) {
	if err := cliutil.EnsureReachable(cmd.Context(), serverURL, waitForServer); err != nil {
		return nil, err
	}
	return sdk.NewClient(
		sdk.WithBaseURL(serverURL),
		sdk.WithUser(userID),
		sdk.WithOperatorToken(operatorToken),
	), nil
}
