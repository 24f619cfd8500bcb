package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/browserdeck/browserdeck/internal/agent"
	"github.com/browserdeck/browserdeck/internal/browser"
	"github.com/browserdeck/browserdeck/internal/config"
	"github.com/browserdeck/browserdeck/internal/dispatch"
	"github.com/browserdeck/browserdeck/internal/domain"
	"github.com/browserdeck/browserdeck/internal/extract"
	"github.com/browserdeck/browserdeck/internal/llm"
	"github.com/browserdeck/browserdeck/internal/logging"
	"github.com/browserdeck/browserdeck/internal/retention"
	"github.com/browserdeck/browserdeck/internal/server"
	"github.com/browserdeck/browserdeck/internal/session"
	"github.com/browserdeck/browserdeck/internal/store"
	"github.com/browserdeck/browserdeck/internal/task"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the browserdeck server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			if port != 0 {
				cfg.Server.Port = port
			}
			if bind != "" {
				cfg.Server.Bind = bind
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			// The config file owns the effective log level unless the
			// flag overrides it.
			if logLevel == "" {
				log = logging.New(nil, cfg.Logging.Level, cfg.Logging.Style)
			}

			return runServer(cfg)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override server port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")

	return cmd
}

func runServer(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	actionTimeout := time.Duration(cfg.Browser.ActionTimeoutSeconds) * time.Second

	driver, err := browser.NewDriver(log, actionTimeout)
	if err != nil {
		return fmt.Errorf("starting browser driver: %w", err)
	}
	defer driver.Stop()

	base := domain.SessionConfig{
		Headless:           *cfg.Browser.Headless,
		AllowedDomains:     cfg.Browser.AllowedDomains,
		WaitBetweenActions: time.Duration(cfg.Browser.WaitBetweenActionsMs) * time.Millisecond,
	}
	registry := session.NewRegistry(driver.Factory(), base, cfg.Browser.MaxSessions, actionTimeout, log)

	var client llm.Client
	if cfg.LLM.APIKey == "" {
		log.Warn().Msg("no LLM API key configured; extraction and agent tasks will be unavailable")
		client = llm.Unavailable("no API key configured (set OPENAI_API_KEY or llm.apiKey)")
	} else {
		client, err = llm.NewOpenAI(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model)
		if err != nil {
			return fmt.Errorf("creating LLM client: %w", err)
		}
	}

	var archive *store.TaskStore
	if cfg.Store.Path != "" {
		db, err := store.Open(cfg.Store.Path, log)
		if err != nil {
			return fmt.Errorf("opening task archive: %w", err)
		}
		defer db.Close()
		archive = store.NewTaskStore(db)
	} else {
		log.Info().Msg("no archive store configured, terminal tasks are evicted without persistence")
	}

	executor := agent.NewExecutor(agent.Config{
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}, client, log)

	var taskArchive task.Archive
	if archive != nil {
		taskArchive = archive
	}
	manager := task.NewManager(task.Config{
		Timeout:         time.Duration(cfg.Tasks.TimeoutMinutes) * time.Minute,
		DefaultMaxSteps: cfg.Tasks.MaxSteps,
	}, registry, executor, taskArchive, log)

	extractor := extract.New(client, cfg.LLM.Model, log)

	dispatcher, err := dispatch.New(registry, manager, extractor, log)
	if err != nil {
		return fmt.Errorf("building dispatcher: %w", err)
	}

	var sweepArchive retention.TaskArchive
	if archive != nil {
		sweepArchive = archive
	}
	sweeper := retention.NewSweeper(retention.Config{
		Interval:         time.Minute,
		TaskRetention:    time.Duration(cfg.Tasks.RetentionMinutes) * time.Minute,
		ArchiveRetention: 24 * time.Hour,
		SessionIdle:      time.Duration(cfg.Sessions.IdleMinutes) * time.Minute,
	}, registry, manager, sweepArchive, log)
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("starting retention sweeper: %w", err)
	}
	defer sweeper.Stop()

	srv := server.New(cfg, registry, manager, dispatcher, log)
	err = srv.Start(ctx)

	// Drain: let running tasks settle briefly, then drop every session so
	// no browser processes outlive the server.
	drainCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if derr := manager.Drain(drainCtx); derr != nil {
		log.Warn().Err(derr).Msg("tasks still running at shutdown")
	}
	registry.CloseAll(context.Background())

	return err
}
