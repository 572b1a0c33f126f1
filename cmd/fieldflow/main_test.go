package main

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/fieldflow/pkg/actions"
	"github.com/dukex/fieldflow/pkg/channels/gochannel"
	"github.com/dukex/fieldflow/pkg/engine"
	"github.com/dukex/fieldflow/pkg/eventbus"
	"github.com/dukex/fieldflow/pkg/messaging"
	"github.com/dukex/fieldflow/pkg/persistence/file"
	"github.com/dukex/fieldflow/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cli "github.com/urfave/cli/v3"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "workflows.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestReadWorkflows(t *testing.T) {
	path := writeFile(t, `[{
		"id": "wf-1",
		"name": "Job completed follow-up",
		"enabled": true,
		"status": "active",
		"triggers": [{"type": "job_completed"}],
		"steps": [{"type": "send_sms", "config": {"to": "client", "message": "Thanks!"}, "delay_minutes": 0}]
	}]`)

	workflows, err := readWorkflows(path)
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	assert.Equal(t, "wf-1", workflows[0].ID)
	assert.True(t, workflows[0].IsEligible())
}

func TestReadWorkflows_Invalid(t *testing.T) {
	_, err := readWorkflows(writeFile(t, `{"id": "not-a-list"}`))
	require.ErrorContains(t, err, "failed to parse")

	_, err = readWorkflows(writeFile(t, `[{"id": "wf-1", "name": "x", "status": "archived"}]`))
	require.ErrorContains(t, err, "workflow 0 is invalid")

	_, err = readWorkflows(writeFile(t, `[{
		"id": "wf-1", "name": "x", "enabled": true, "status": "active",
		"steps": [{"type": "send_email", "config": {"to": "client"}}]
	}]`))
	require.ErrorContains(t, err, "workflow 0 step 0 is invalid")
	require.ErrorIs(t, err, actions.ErrInvalidConfig)

	_, err = readWorkflows(filepath.Join(t.TempDir(), "missing.json"))
	require.ErrorContains(t, err, "failed to read")
}

func TestSeedCommand_StoresWorkflows(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, `[{"id": "wf-seed", "name": "Seeded", "enabled": true, "status": "active"}]`)

	command := &cli.Command{Name: "fieldflow", Commands: []*cli.Command{seedCommand()}}

	err := command.Run(context.Background(), []string{"fieldflow", "seed", "--database-url", dir, "--log-level", "error", path})
	require.NoError(t, err)

	wf, err := file.NewPersistence(dir).WorkflowRepository().GetByID(context.Background(), "wf-seed")
	require.NoError(t, err)
	assert.Equal(t, "Seeded", wf.Name)
}

func parseEngineConfig(t *testing.T, args ...string) (engine.Config, error) {
	t.Helper()

	var config engine.Config

	command := runCommand()
	command.Action = func(_ context.Context, command *cli.Command) error {
		var err error

		config, err = engineConfig(command)

		return err
	}

	err := command.Run(context.Background(), append([]string{"run", "--database-url", t.TempDir()}, args...))

	return config, err
}

func TestEngineConfig(t *testing.T) {
	config, err := parseEngineConfig(t,
		"--match-mode", "any",
		"--timezone", "America/Sao_Paulo",
		"--schedule-interval", "30s",
		"--continuation-lease", "2m",
	)
	require.NoError(t, err)

	assert.Equal(t, workflow.MatchModeAny, config.MatchMode)
	assert.Equal(t, "America/Sao_Paulo", config.Location.String())
	assert.Equal(t, 30*time.Second, config.ScheduleInterval)
	assert.Equal(t, 2*time.Minute, config.ContinuationLease)

	_, err = parseEngineConfig(t, "--match-mode", "all")
	require.ErrorIs(t, err, workflow.ErrInvalidMatchMode)

	_, err = parseEngineConfig(t, "--timezone", "Mars/Olympus")
	require.ErrorContains(t, err, "invalid timezone")
}

func TestAPI_App(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	store := file.NewPersistence(t.TempDir())

	automation, err := engine.New(engine.Deps{
		Logger:        logger,
		Bus:           bus,
		Workflows:     store.WorkflowRepository(),
		Executions:    store.ExecutionRepository(),
		Continuations: store.ContinuationRepository(),
		Records:       store.RecordRepository(),
		Ledger:        store.FireLedger(),
		Messenger:     messaging.NewLogMessenger(logger),
		Notifier:      messaging.NewLogNotifier(logger),
		HealthCheck:   store.HealthCheck,
	}, engine.DefaultConfig())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = automation.Close(context.Background())
		_ = bus.Close()
	})

	app := NewAPI(logger, automation).App()

	for _, path := range []string{"/", "/livez", "/readyz", "/health", "/automations/status", "/metrics"} {
		resp, err := app.Test(httptest.NewRequest("GET", path, nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode, path)
	}
}
