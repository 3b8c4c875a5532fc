package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jakebutler/pithy-jaunt-sub000/internals/cliutil"
)

func init() {
	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a workspace cleanup and reconciliation pass (operator)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd)
			if err != nil {
				return err
			}
			result, err := client.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			cliutil.PrintSweep(cmd.OutOrStdout(), result)
			return nil
		},
	}

	workspacesCmd := &cobra.Command{
		Use:   "workspaces",
		Short: "List workspaces known to pithyd",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd)
			if err != nil {
				return err
			}
			list, err := client.ListWorkspaces(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PROVIDER ID\tSTATUS\tTASKS\tLAST USED")
			for _, ws := range list.Workspaces {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", ws.ProviderID, ws.Status, len(ws.AssignedTasks), time.UnixMilli(ws.LastUsedAt).Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	rootCmd.AddCommand(sweepCmd, workspacesCmd)
}
