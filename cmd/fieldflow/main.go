// Package main runs the fieldflow automation engine.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/fieldflow/pkg/actions"
	"github.com/dukex/fieldflow/pkg/cmd"
	"github.com/dukex/fieldflow/pkg/engine"
	"github.com/dukex/fieldflow/pkg/eventbus"
	"github.com/dukex/fieldflow/pkg/log"
	"github.com/dukex/fieldflow/pkg/messaging"
	"github.com/dukex/fieldflow/pkg/metrics"
	"github.com/dukex/fieldflow/pkg/models"
	"github.com/dukex/fieldflow/pkg/otelhelper"
	"github.com/dukex/fieldflow/pkg/persistence"
	"github.com/dukex/fieldflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPort     = 9091
	shutdownTimeout = 30 * time.Second
)

func main() {
	command := &cli.Command{
		Name:                  "fieldflow",
		Usage:                 "Run field-service automations",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			runCommand(),
			seedCommand(),
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		slog.Error("fieldflow failed", "error", err)
		os.Exit(1)
	}
}

func storeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL (postgres://... or a directory for the file store)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for continuations and the schedule fire ledger (optional)",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

func runCommand() *cli.Command {
	defaults := engine.DefaultConfig()

	flags := append(storeFlags(),
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port of the operator API and the /metrics endpoint",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (kafka, gochannel)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Value:   "localhost:9092",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "messenger",
			Usage:   "Outbound message delivery (bus, log)",
			Value:   "bus",
			Sources: cli.EnvVars("MESSENGER"),
		},
		&cli.StringFlag{
			Name:    "match-mode",
			Usage:   "How workflows with several triggers of one type match (first, any)",
			Value:   string(workflow.MatchModeFirst),
			Sources: cli.EnvVars("MATCH_MODE"),
		},
		&cli.StringFlag{
			Name:    "timezone",
			Usage:   "Time zone of scheduled_time triggers",
			Value:   "UTC",
			Sources: cli.EnvVars("TIMEZONE"),
		},
		&cli.DurationFlag{
			Name:    "schedule-interval",
			Usage:   "Interval of the scheduled-time sweep",
			Value:   defaults.ScheduleInterval,
			Sources: cli.EnvVars("SCHEDULE_INTERVAL"),
		},
		&cli.DurationFlag{
			Name:    "overdue-interval",
			Usage:   "Interval of the overdue-task sweep",
			Value:   defaults.OverdueInterval,
			Sources: cli.EnvVars("OVERDUE_INTERVAL"),
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Usage:   "Interval of the continuation poller",
			Value:   defaults.PollInterval,
			Sources: cli.EnvVars("POLL_INTERVAL"),
		},
		&cli.DurationFlag{
			Name:    "schedule-tolerance",
			Usage:   "How far from the configured time a scheduled trigger still fires",
			Value:   defaults.ScheduleTolerance,
			Sources: cli.EnvVars("SCHEDULE_TOLERANCE"),
		},
		&cli.DurationFlag{
			Name:    "continuation-lease",
			Usage:   "How long a claimed delayed step is held before another poller may take it",
			Value:   defaults.ContinuationLease,
			Sources: cli.EnvVars("CONTINUATION_LEASE"),
		},
		&cli.DurationFlag{
			Name:    "workflow-cache-ttl",
			Usage:   "How long active workflows are cached (0 disables)",
			Value:   30 * time.Second,
			Sources: cli.EnvVars("WORKFLOW_CACHE_TTL"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export OpenTelemetry traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
	)

	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the automation engine and the operator API",
		Flags:   flags,
		Action:  run,
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule("fieldflow")
	logger.InfoContext(ctx, "Initializing fieldflow")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config, err := engineConfig(command)
	if err != nil {
		return err
	}

	deps := engine.Deps{
		Logger:  logger,
		Metrics: metrics.NewMetrics(),
		Tracer:  otelhelper.NoopTracer(),
	}

	if command.Bool("tracing") {
		tracer, shutdown, err := otelhelper.NewTracer(ctx, "fieldflow")
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		defer func() {
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				logger.Error("Failed to shutdown tracer provider", "error", err)
			}
		}()

		deps.Tracer = tracer
	}

	store, err := openStore(ctx, logger, command)
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Error("Failed to close persistence", "error", err)
		}
	}()

	bus, err := cmd.NewEventBus(command.String("event-bus"), logger, command.String("kafka-brokers"))
	if err != nil {
		return err
	}

	defer func() {
		if err := bus.Close(); err != nil {
			logger.Error("Failed to close event bus", "error", err)
		}
	}()

	deps.Bus = bus
	deps.Workflows = store.WorkflowRepository()
	deps.Executions = store.ExecutionRepository()
	deps.Continuations = store.ContinuationRepository()
	deps.Records = store.RecordRepository()
	deps.Ledger = store.FireLedger()
	deps.HealthCheck = store.HealthCheck

	if ttl := command.Duration("workflow-cache-ttl"); ttl > 0 {
		deps.Workflows = workflow.NewCachedRepository(deps.Workflows, ttl)
	}

	deps.Messenger, deps.Notifier, err = delivery(command.String("messenger"), logger, bus)
	if err != nil {
		return err
	}

	automation, err := engine.New(deps, config)
	if err != nil {
		return err
	}

	err = automation.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start automation engine: %w", err)
	}

	app := NewAPI(logger, automation).App()

	go func() {
		if err := app.Listen(":" + strconv.Itoa(command.Int("port"))); err != nil {
			logger.Error("Operator API stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down fieldflow")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Failed to stop operator API", "error", err)
	}

	return automation.Close(shutdownCtx)
}

func engineConfig(command *cli.Command) (engine.Config, error) {
	config := engine.DefaultConfig()

	mode, err := workflow.ParseMatchMode(command.String("match-mode"))
	if err != nil {
		return config, err
	}

	location, err := time.LoadLocation(command.String("timezone"))
	if err != nil {
		return config, fmt.Errorf("invalid timezone: %w", err)
	}

	config.MatchMode = mode
	config.Location = location
	config.ScheduleInterval = command.Duration("schedule-interval")
	config.OverdueInterval = command.Duration("overdue-interval")
	config.PollInterval = command.Duration("poll-interval")
	config.ScheduleTolerance = command.Duration("schedule-tolerance")
	config.ContinuationLease = command.Duration("continuation-lease")

	return config, config.Validate()
}

// openStore connects to the configured store and waits for it to become healthy.
func openStore(ctx context.Context, logger *slog.Logger, command *cli.Command) (persistence.Persistence, error) {
	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"), command.String("redis-url"))
	if err != nil {
		return nil, err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 6), ctx)

	err = backoff.Retry(func() error {
		err := store.HealthCheck(ctx)
		if err != nil {
			logger.Warn("Store not ready", "error", err)
		}

		return err
	}, policy)
	if err != nil {
		_ = store.Close(ctx)

		return nil, fmt.Errorf("store is not healthy: %w", err)
	}

	return store, nil
}

func delivery(kind string, logger *slog.Logger, bus eventbus.EventBus) (actions.Messenger, actions.Notifier, error) {
	switch kind {
	case "bus", "":
		return messaging.NewBusMessenger(bus), messaging.NewBusNotifier(bus), nil
	case "log":
		return messaging.NewLogMessenger(logger), messaging.NewLogNotifier(logger), nil
	default:
		return nil, nil, fmt.Errorf("unsupported messenger: %s", kind)
	}
}

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:      "seed",
		Usage:     "Store the workflows of a JSON file",
		ArgsUsage: "<workflows.json>",
		Flags:     storeFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("seed")

			path := command.Args().First()
			if path == "" {
				return fmt.Errorf("missing workflows file")
			}

			workflows, err := readWorkflows(path)
			if err != nil {
				return err
			}

			store, err := openStore(ctx, logger, command)
			if err != nil {
				return err
			}

			defer func() {
				_ = store.Close(ctx)
			}()

			for _, wf := range workflows {
				err := store.WorkflowRepository().Save(ctx, wf)
				if err != nil {
					return fmt.Errorf("failed to save workflow %s: %w", wf.ID, err)
				}

				logger.InfoContext(ctx, "Stored workflow", "workflow_id", wf.ID, "name", wf.Name)
			}

			return nil
		},
	}
}

func readWorkflows(path string) ([]*models.Workflow, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflows file: %w", err)
	}

	var workflows []*models.Workflow

	err = json.Unmarshal(content, &workflows)
	if err != nil {
		return nil, fmt.Errorf("failed to parse workflows file: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	for i, wf := range workflows {
		err := validate.Struct(wf)
		if err != nil {
			return nil, fmt.Errorf("workflow %d is invalid: %w", i, err)
		}

		for j, step := range wf.Steps {
			if step == nil {
				continue
			}

			err := actions.ValidateStep(step)
			if err != nil {
				return nil, fmt.Errorf("workflow %d step %d is invalid: %w", i, j, err)
			}
		}
	}

	return workflows, nil
}
