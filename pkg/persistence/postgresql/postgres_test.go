package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dukex/fieldflow/pkg/models"
	"github.com/dukex/fieldflow/pkg/persistence"
	"github.com/dukex/fieldflow/pkg/persistence/postgresql"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{
		"communication_logs", "tasks", "jobs", "scheduled_fires", "continuations",
		"workflow_metrics", "execution_records", "workflows", "schema_migrations",
	} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("fieldflow_test"),
			postgres.WithUsername("fieldflow"),
			postgres.WithPassword("fieldflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	for _, table := range []string{"workflows", "execution_records", "continuations", "scheduled_fires", "tasks"} {
		var exists bool

		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 4, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	assert.NoError(t, p.HealthCheck(ctx))
}

func TestWorkflowRepository_SaveAndListActive(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	active := &models.Workflow{
		Name:    "Job welcome",
		Enabled: true,
		Status:  models.WorkflowStatusActive,
		Triggers: []*models.Trigger{{
			Type:       models.EventJobCreated,
			Conditions: []models.Condition{{Field: "status", Operator: models.OperatorEquals, Value: "scheduled"}},
		}},
		Steps: []*models.Step{
			{Type: models.StepTypeSendSMS, Config: map[string]any{"to": "client", "message": "Hi {{client.name}}"}, DelayMinutes: 5},
			{Type: models.StepTypeWait},
		},
	}
	paused := &models.Workflow{Name: "Paused", Enabled: true, Status: models.WorkflowStatusPaused}

	require.NoError(t, repo.Save(ctx, active))
	require.NoError(t, repo.Save(ctx, paused))
	assert.NotEmpty(t, active.ID)

	workflows, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	assert.Equal(t, active.ID, workflows[0].ID)
	require.Len(t, workflows[0].Steps, 2)
	assert.Equal(t, 5, workflows[0].Steps[0].DelayMinutes)
	assert.Equal(t, models.OperatorEquals, workflows[0].Triggers[0].Conditions[0].Operator)

	_, err = repo.GetByID(ctx, uuid.NewString())
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestExecutionRepository_Lifecycle(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.ExecutionRepository()
	now := time.Now().UTC().Truncate(time.Millisecond)

	record := &models.ExecutionRecord{
		ID:             uuid.NewString(),
		WorkflowID:     "wf-1",
		TriggerType:    models.EventJobCreated,
		TriggerContext: map[string]any{"id": "job-1"},
		Status:         models.ExecutionStatusStarted,
		StartedAt:      now,
	}
	require.NoError(t, repo.SaveExecution(ctx, record))

	record.Fail(now.Add(time.Second), "step 0 (create_task): boom")
	require.NoError(t, repo.SaveExecution(ctx, record))

	reverted := *record
	reverted.Status = models.ExecutionStatusStarted
	err := repo.SaveExecution(ctx, &reverted)
	require.ErrorIs(t, err, persistence.ErrTerminalExecution)

	stored, err := repo.ExecutionByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	assert.Equal(t, "step 0 (create_task): boom", stored.ErrorMessage)
	assert.Equal(t, "job-1", stored.TriggerContext["id"])
	assert.NotNil(t, stored.CompletedAt)

	logs, err := repo.ExecutionLogs(ctx, "wf-1", 10)
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	_, err = repo.ExecutionByID(ctx, "missing")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutionRepository_IncrementMetricsIsAtomic(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.ExecutionRepository()

	var wg sync.WaitGroup

	for i := range 10 {
		wg.Add(1)

		go func(success bool) {
			defer wg.Done()

			assert.NoError(t, repo.IncrementMetrics(ctx, "wf-1", success))
		}(i%2 == 0)
	}

	wg.Wait()

	metrics, err := repo.Metrics(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), metrics.SuccessCount)
	assert.Equal(t, int64(5), metrics.FailureCount)

	empty, err := repo.Metrics(ctx, "never-ran")
	require.NoError(t, err)
	assert.Zero(t, empty.SuccessCount)
	assert.Nil(t, empty.LastRunAt)
}

func TestContinuationRepository_ClaimLeases(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.ContinuationRepository()
	now := time.Now().UTC()

	continuation := &models.Continuation{
		ID:          uuid.NewString(),
		ExecutionID: "exec-1",
		WorkflowID:  "wf-1",
		TriggerType: models.EventJobCreated,
		Steps:       []*models.Step{{Type: models.StepTypeSendEmail, Config: map[string]any{"to": "client"}}},
		Context:     map[string]any{"client": map[string]any{"name": "C1"}},
		DueAt:       now.Add(-time.Minute),
	}
	require.NoError(t, repo.Schedule(ctx, continuation))
	require.NoError(t, repo.Schedule(ctx, &models.Continuation{
		ID: uuid.NewString(), ExecutionID: "exec-2", WorkflowID: "wf-1", TriggerType: "x",
		Steps: []*models.Step{}, DueAt: now.Add(time.Hour),
	}))

	claimed, err := repo.ClaimDue(ctx, now, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "exec-1", claimed[0].ExecutionID)
	assert.Equal(t, models.StepTypeSendEmail, claimed[0].Steps[0].Type)
	require.NotNil(t, claimed[0].ClaimedUntil)

	again, err := repo.ClaimDue(ctx, now, time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, again, "a leased continuation is not handed out twice")

	require.NoError(t, repo.Release(ctx, continuation.ID))

	released, err := repo.ClaimDue(ctx, now, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, released, 1)

	expired, err := repo.ClaimDue(ctx, now.Add(2*time.Minute), time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1, "an expired lease is claimable again")

	require.NoError(t, repo.Complete(ctx, continuation.ID))

	done, err := repo.ClaimDue(ctx, now.Add(10*time.Minute), time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, done)
}

func TestFireLedger_Claim(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	ledger := p.FireLedger()

	ok, err := ledger.Claim(ctx, "wf-1:0:2025-06-02T09:00:00Z", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ledger.Claim(ctx, "wf-1:0:2025-06-02T09:00:00Z", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = ledger.Claim(ctx, "expired", -time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ledger.Claim(ctx, "expired", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRecordRepository(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.RecordRepository()
	now := time.Now().UTC()
	past := now.Add(-2 * time.Hour)

	require.NoError(t, repo.InsertTask(ctx, &models.Task{
		ID: "t1", Title: "Follow up", Status: models.TaskStatusPending, DueDate: &past, Source: models.RecordSourceAutomation,
	}))
	require.NoError(t, repo.InsertTask(ctx, &models.Task{
		ID: "t2", Title: "Done", Status: models.TaskStatusCompleted, DueDate: &past,
	}))

	overdue, err := repo.OverdueTasks(ctx, now)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, "t1", overdue[0].ID)
	assert.Equal(t, models.RecordSourceAutomation, overdue[0].Source)

	require.NoError(t, repo.InsertJob(ctx, &models.Job{ID: "j1", Title: "Install", Status: models.JobStatusScheduled}))
	require.NoError(t, repo.UpdateJobStatus(ctx, "j1", "completed"))
	assert.True(t, persistence.IsJobNotFound(repo.UpdateJobStatus(ctx, "nope", "completed")))

	require.NoError(t, repo.InsertCommunicationLog(ctx, &models.CommunicationLog{
		ID: "c1", Channel: models.ChannelSMS, Direction: "outbound", Recipient: "+15550001", Body: "hi", Status: "sent",
	}))
}
