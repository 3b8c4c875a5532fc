package main

import (
	"github.com/spf13/cobra"

	"github.com/jakebutler/pithy-jaunt-sub000/internals/cliutil"
	"github.com/jakebutler/pithy-jaunt-sub000/internals/schemas"
	"github.com/jakebutler/pithy-jaunt-sub000/sdk"
)

func init() {
	logsCmd := &cobra.Command{
		Use:   "logs TASK",
		Short: "Stream execution logs until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd)
			if err != nil {
				return err
			}
			return followLogs(cmd, client, args[0])
		},
	}
	rootCmd.AddCommand(logsCmd)
}

func followLogs(cmd *cobra.Command, client *sdk.Client, taskID string) error {
	out := cmd.OutOrStdout()
	return client.StreamLogs(cmd.Context(), taskID, func(event schemas.LogEvent) error {
		if event.Type == schemas.LogEventHeartbeat {
			return nil
		}
		cliutil.PrintLogEvent(out, event)
		return nil
	})
}
