package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jakebutler/pithy-jaunt-sub000/internals/conf"
	"github.com/jakebutler/pithy-jaunt-sub000/internals/env"
	"github.com/jakebutler/pithy-jaunt-sub000/internals/schemas"
	"github.com/jakebutler/pithy-jaunt-sub000/internals/version"
	"github.com/jakebutler/pithy-jaunt-sub000/pithyd/core"
	"github.com/jakebutler/pithy-jaunt-sub000/pithyd/core/db"
	"github.com/jakebutler/pithy-jaunt-sub000/pithyd/server"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:           "pithyd",
		Short:         "Task orchestration daemon",
		Version:       version.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: $PITHY_CONFIG or <data_dir>/config.json)")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Serve the HTTP API, job queue and maintenance schedule",
			Args:  cobra.NoArgs,
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Run one cleanup and reconciliation pass and print the summary",
			Args:  cobra.NoArgs,
			RunE:  runSweep,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations and exit",
			Args:  cobra.NoArgs,
			RunE:  runMigrate,
		},
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "[Pithy]", err)
		os.Exit(1)
	}
}

func load() (*conf.Config, *env.EnvStruct, error) {
	envs, err := env.Load()
	if err != nil {
		return nil, nil, err
	}
	path := configPath
	if path == "" {
		path = envs.CONFIG_PATH
	}
	config, err := conf.Load(path)
	if err != nil {
		return nil, nil, err
	}
	return config, envs, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	config, envs, err := load()
	if err != nil {
		return err
	}
	base, err := core.New(config, envs, core.Options{})
	if err != nil {
		return err
	}
	defer base.Close()

	base.Logger.Info("pithyd starting",
		slog.String("version", version.Version()),
		slog.String("data_dir", config.Server.DataDir),
		slog.Bool("maintenance", base.Scheduler != nil),
	)
	return server.New(base).Run(cmd.Context())
}

func runSweep(cmd *cobra.Command, args []string) error {
	config, envs, err := load()
	if err != nil {
		return err
	}
	base, err := core.New(config, envs, core.Options{})
	if err != nil {
		return err
	}
	defer base.Close()

	summary := base.Maintenance.Sweep(cmd.Context())
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(schemas.SweepResponse{
		Processed:      summary.Cleanup.Processed,
		Terminated:     summary.Cleanup.Terminated,
		Errors:         summary.Cleanup.Errors + summary.Reconciliation.Errors,
		Results:        summary.Cleanup.Results,
		Reconciliation: summary.Reconciliation,
	})
}

func runMigrate(cmd *cobra.Command, args []string) error {
	config, _, err := load()
	if err != nil {
		return err
	}
	store, err := core.InitDB(config)
	if err != nil {
		return err
	}
	defer store.Close()

	current, err := db.SchemaVersion(store.DB())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s at schema version %d\n", core.DBPath(config), current)
	return nil
}
