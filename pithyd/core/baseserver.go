package core

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jakebutler/pithy-jaunt-sub000/internals/backends"
	"github.com/jakebutler/pithy-jaunt-sub000/internals/conf"
	"github.com/jakebutler/pithy-jaunt-sub000/internals/env"
	"github.com/jakebutler/pithy-jaunt-sub000/internals/remote"
	"github.com/jakebutler/pithy-jaunt-sub000/internals/tasky"
	"github.com/jakebutler/pithy-jaunt-sub000/internals/tasky/backends/tasky_sqlite3"
	"github.com/jakebutler/pithy-jaunt-sub000/pithyd/core/db"
)

// BaseServer owns every long lived component of the daemon.
type BaseServer struct {
	Config      *conf.Config
	Env         *env.EnvStruct
	Logger      *slog.Logger
	Store       *db.SQLiteStore
	Backend     backends.Backend
	Tasks       *TaskManager
	Workspaces  *WorkspaceManager
	Webhooks    *WebhookHandler
	Maintenance *MaintenanceEngine
	Streams     *LogStream
	Jobs        *JobQueue
	Scheduler   *Scheduler

	queueBackend *taskysqlite3.Backend[Jobs]
	logFile      *os.File
}

type Options struct {
	// Logger replaces the file backed logger, mostly for tests.
	Logger  *slog.Logger
	Backend backends.Backend
	Merger  remote.Merger
	Now     func() time.Time
}

func New(config *conf.Config, environment *env.EnvStruct, opts Options) (*BaseServer, error) {
	base := &BaseServer{Config: config, Env: environment, Logger: opts.Logger}
	if base.Logger == nil {
		base.Logger, base.logFile = InitLogger(config)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	store, err := InitDB(config)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	base.Store = store

	base.Backend = opts.Backend
	if base.Backend == nil {
		apiURL := config.Backend.APIURL
		if environment.DAYTONA_API_URL != "" {
			apiURL = environment.DAYTONA_API_URL
		}
		daytona, err := backends.NewDaytona(backends.DaytonaConfig{
			BaseURL:        apiURL,
			APIKey:         environment.DAYTONA_API_KEY,
			Snapshot:       config.Backend.Snapshot,
			RequestTimeout: conf.Duration(config.Backend.RequestTimeout),
			MaxRetries:     uint64(max(config.Backend.MaxRetries, 0)),
		})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("init execution backend: %w", err)
		}
		base.Backend = daytona
	}

	merger := opts.Merger
	if merger == nil && environment.GITHUB_TOKEN != "" {
		merger = remote.NewGitHub(environment.GITHUB_TOKEN)
	}

	logger := base.Logger
	base.Workspaces = NewWorkspaceManager(store, base.Backend, WorkspaceConfig{
		AppURL:   environment.APP_URL,
		Snapshot: config.Backend.Snapshot,
		Credentials: Credentials{
			OpenAIKey:    environment.OPENAI_API_KEY,
			AnthropicKey: environment.ANTHROPIC_API_KEY,
			GitHubToken:  environment.GITHUB_TOKEN,
		},
	}, logger.With(slog.String("component", "workspaces")), now)
	base.Tasks = NewTaskManager(store, base.Workspaces, merger, TaskDefaults{
		ModelProvider: config.Agent.DefaultProvider,
		Model:         config.Agent.DefaultModel,
	}, logger.With(slog.String("component", "tasks")), now)

	policy := MaintenancePolicyFromConfig(config.Maintenance)
	base.Maintenance = NewMaintenanceEngine(store, base.Backend, policy, logger.With(slog.String("component", "maintenance")), now)
	base.Streams = NewLogStream(store, StreamPolicyFromConfig(config.Stream), logger.With(slog.String("component", "logstream")), now)

	queueBackend, err := taskysqlite3.New[Jobs](taskysqlite3.Config{
		DB:        store.DB(),
		QueueName: "maintenance_jobs",
		RetryMax:  config.Queue.RetryMax,
		RetryDelay: tasky.BackoffExponential(tasky.BackoffConfig{
			Base: conf.Duration(config.Queue.RetryBase),
			Max:  conf.Duration(config.Queue.RetryMaxDelay),
		}),
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init job queue: %w", err)
	}
	base.queueBackend = queueBackend
	jobs, err := NewJobQueue(queueBackend, base.Maintenance, logger.With(slog.String("component", "jobs")))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init job queue: %w", err)
	}
	base.Jobs = jobs
	base.Webhooks = NewWebhookHandler(base.Tasks, base.Workspaces, jobs, policy, logger.With(slog.String("component", "webhooks")), now)

	if policy.Enabled {
		scheduler, err := NewScheduler(config.Maintenance.Schedule, jobs, logger.With(slog.String("component", "scheduler")))
		if err != nil {
			store.Close()
			return nil, err
		}
		base.Scheduler = scheduler
	}
	return base, nil
}

func (b *BaseServer) Close() error {
	var errs []error
	if b.queueBackend != nil {
		errs = append(errs, b.queueBackend.Close())
	}
	if b.Store != nil {
		errs = append(errs, b.Store.Close())
	}
	if b.logFile != nil {
		errs = append(errs, b.logFile.Close())
	}
	return errors.Join(errs...)
}
