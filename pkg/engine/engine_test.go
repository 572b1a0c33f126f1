package engine_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/fieldflow/pkg/channels/gochannel"
	"github.com/dukex/fieldflow/pkg/engine"
	"github.com/dukex/fieldflow/pkg/eventbus"
	"github.com/dukex/fieldflow/pkg/eventsource"
	"github.com/dukex/fieldflow/pkg/mocks"
	"github.com/dukex/fieldflow/pkg/models"
	"github.com/dukex/fieldflow/pkg/persistence"
	"github.com/dukex/fieldflow/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// failingTasks rejects every task insert.
type failingTasks struct {
	persistence.RecordRepository
}

func (failingTasks) InsertTask(context.Context, *models.Task) error {
	return errors.New("tasks table unavailable")
}

type fixture struct {
	engine    *engine.Engine
	store     *file.Persistence
	messenger *mocks.MockMessenger
	clock     *clock
}

func newFixture(t *testing.T, records func(persistence.RecordRepository) persistence.RecordRepository) *fixture {
	t.Helper()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	store := file.NewPersistence(t.TempDir())

	f := &fixture{
		store:     store,
		messenger: &mocks.MockMessenger{},
		clock:     &clock{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)},
	}

	recordRepo := store.RecordRepository()
	if records != nil {
		recordRepo = records(recordRepo)
	}

	f.engine, err = engine.New(engine.Deps{
		Logger:        slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})),
		Bus:           bus,
		Workflows:     store.WorkflowRepository(),
		Executions:    store.ExecutionRepository(),
		Continuations: store.ContinuationRepository(),
		Records:       recordRepo,
		Ledger:        store.FireLedger(),
		Messenger:     f.messenger,
		Now:           f.clock.Now,
		HealthCheck:   store.HealthCheck,
	}, engine.DefaultConfig())
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = f.engine.Close(ctx)
		_ = bus.Close()
		f.messenger.AssertExpectations(t)
	})

	return f
}

func (f *fixture) save(t *testing.T, wf *models.Workflow) {
	t.Helper()

	require.NoError(t, f.store.WorkflowRepository().Save(context.Background(), wf))
}

func (f *fixture) wait(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, f.engine.Wait(ctx))
}

func (f *fixture) onlyExecution(t *testing.T, workflowID string) *models.ExecutionRecord {
	t.Helper()

	logs, err := f.engine.ExecutionLogs(context.Background(), workflowID, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)

	return logs[0]
}

func thankYouWorkflow(stepList ...*models.Step) *models.Workflow {
	return &models.Workflow{
		ID:      "wf-thanks",
		Name:    "Thank you",
		Enabled: true,
		Status:  models.WorkflowStatusActive,
		Triggers: []*models.Trigger{{
			Type: models.EventJobCompleted,
		}},
		Steps: stepList,
	}
}

func TestEngine_CompletedJobSendsEmail(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.save(t, thankYouWorkflow(&models.Step{
		Type:   models.StepTypeSendEmail,
		Config: map[string]any{"body": "Hi {{client_id}}"},
	}))

	f.messenger.On("SendEmail", mock.Anything, "", "", "Hi C1").Return("msg-1", nil).Once()

	launched, err := f.engine.HandleEvent(ctx, models.Event{
		Type:    models.EventJobCompleted,
		Context: map[string]any{"job_id": "J1", "client_id": "C1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, launched)

	f.wait(t)

	record := f.onlyExecution(t, "wf-thanks")
	assert.Equal(t, models.ExecutionStatusCompleted, record.Status)

	metrics, err := f.engine.Metrics(ctx, "wf-thanks")
	require.NoError(t, err)
	assert.Equal(t, int64(1), metrics.SuccessCount)
}

func TestEngine_NoMatchingCondition(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	wf := thankYouWorkflow(&models.Step{Type: models.StepTypeSendSMS, Config: map[string]any{"message": "hi"}})
	wf.Triggers[0].Conditions = []models.Condition{{Field: "job.status", Operator: models.OperatorEquals, Value: "completed"}}
	f.save(t, wf)

	launched, err := f.engine.HandleEvent(ctx, models.Event{
		Type:    models.EventJobCompleted,
		Context: map[string]any{"job": map[string]any{"status": "cancelled"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, launched)

	f.wait(t)

	logs, err := f.engine.ExecutionLogs(ctx, "wf-thanks", 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestEngine_DelayedStepResumesAfterDueTime(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.save(t, thankYouWorkflow(
		&models.Step{Type: models.StepTypeSendSMS, Config: map[string]any{"message": "first"}},
		&models.Step{Type: models.StepTypeSendSMS, Config: map[string]any{"message": "second"}, DelayMinutes: 60},
		&models.Step{Type: models.StepTypeSendEmail, Config: map[string]any{"body": "review us"}},
	))

	data := map[string]any{"client": map[string]any{"phone": "+15550100", "email": "c1@example.com"}}

	f.messenger.On("SendSMS", mock.Anything, "+15550100", "first").Return("sms-1", nil).Once()
	f.messenger.On("SendSMS", mock.Anything, "+15550100", "second").Return("sms-2", nil).Once()

	_, err := f.engine.HandleEvent(ctx, models.Event{Type: models.EventJobCompleted, Context: data})
	require.NoError(t, err)
	f.wait(t)

	suspended := f.onlyExecution(t, "wf-thanks")
	assert.Equal(t, models.ExecutionStatusStarted, suspended.Status)

	f.clock.Advance(30 * time.Minute)
	require.NoError(t, f.engine.Sweep(ctx))
	f.wait(t)
	f.messenger.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	f.messenger.On("SendEmail", mock.Anything, "c1@example.com", "", "review us").Return("msg-1", nil).Once()

	f.clock.Advance(31 * time.Minute)
	require.NoError(t, f.engine.Sweep(ctx))
	f.wait(t)

	resumed := f.onlyExecution(t, "wf-thanks")
	assert.Equal(t, suspended.ID, resumed.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, resumed.Status)
}

func TestEngine_FailedStepMarksExecutionFailed(t *testing.T) {
	f := newFixture(t, func(next persistence.RecordRepository) persistence.RecordRepository {
		return failingTasks{next}
	})
	ctx := context.Background()

	f.save(t, thankYouWorkflow(
		&models.Step{Type: models.StepTypeCreateTask, Config: map[string]any{"title": "Follow up {{job_id}}"}},
		&models.Step{Type: models.StepTypeSendSMS, Config: map[string]any{"message": "never"}},
	))

	_, err := f.engine.HandleEvent(ctx, models.Event{Type: models.EventJobCompleted, Context: map[string]any{"job_id": "J1"}})
	require.NoError(t, err)
	f.wait(t)

	record := f.onlyExecution(t, "wf-thanks")
	assert.Equal(t, models.ExecutionStatusFailed, record.Status)
	assert.Contains(t, record.ErrorMessage, "tasks table unavailable")

	metrics, err := f.engine.Metrics(ctx, "wf-thanks")
	require.NoError(t, err)
	assert.Equal(t, int64(1), metrics.FailureCount)
	assert.Equal(t, int64(0), metrics.SuccessCount)
}

func TestEngine_RowChangeRunsWorkflow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.save(t, thankYouWorkflow(&models.Step{
		Type:   models.StepTypeSendSMS,
		Config: map[string]any{"to": "{{client_phone}}", "message": "Job {{job.title}} is {{new_status}}"},
	}))

	sent := make(chan struct{})

	f.messenger.On("SendSMS", mock.Anything, "+15550100", "Job Boiler is completed").
		Run(func(mock.Arguments) { close(sent) }).
		Return("sms-1", nil).Once()

	require.NoError(t, f.engine.Start(ctx))

	require.NoError(t, f.engine.Emit(ctx, eventsource.RowChange{
		Table:     "jobs",
		Operation: "UPDATE",
		Old:       map[string]any{"id": "J1", "status": "in_progress"},
		New:       map[string]any{"id": "J1", "status": "completed", "title": "Boiler", "client_phone": "+15550100"},
	}))

	select {
	case <-sent:
	case <-time.After(5 * time.Second):
		t.Fatal("workflow did not run for the row change")
	}

	f.wait(t)
}

func TestEngine_CloseStopsDeliveries(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.save(t, thankYouWorkflow(&models.Step{
		Type:   models.StepTypeSendSMS,
		Config: map[string]any{"to": "{{client_phone}}", "message": "Job {{job_id}} done"},
	}))

	var sent atomic.Int64

	f.messenger.On("SendSMS", mock.Anything, "+15550100", mock.Anything).
		Run(func(mock.Arguments) { sent.Add(1) }).
		Return("sms", nil).Maybe()

	require.NoError(t, f.engine.Start(ctx))

	for i := range 200 {
		id := "J" + strconv.Itoa(i)

		require.NoError(t, f.engine.Emit(ctx, eventsource.RowChange{
			Table:     "jobs",
			Operation: "UPDATE",
			Old:       map[string]any{"id": id, "status": "in_progress"},
			New:       map[string]any{"id": id, "status": "completed", "client_phone": "+15550100"},
		}))
	}

	closeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	require.NoError(t, f.engine.Close(closeCtx))
	assert.Zero(t, f.engine.Status().InFlight)

	afterClose := sent.Load()

	_, err := f.engine.HandleEvent(ctx, models.Event{
		Type:    models.EventJobCompleted,
		Context: map[string]any{"job_id": "late", "client_phone": "+15550100"},
	})
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, afterClose, sent.Load(), "messages were sent after Close returned")
}

func TestEngine_WaitHonoursContext(t *testing.T) {
	f := newFixture(t, nil)

	f.save(t, thankYouWorkflow(&models.Step{
		Type:   models.StepTypeSendSMS,
		Config: map[string]any{"to": "+15550100", "message": "slow"},
	}))

	release := make(chan struct{})

	f.messenger.On("SendSMS", mock.Anything, "+15550100", "slow").
		Run(func(mock.Arguments) { <-release }).
		Return("sms", nil).Once()

	_, err := f.engine.HandleEvent(context.Background(), models.Event{Type: models.EventJobCompleted})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, f.engine.Wait(ctx), context.DeadlineExceeded)
	assert.Equal(t, int64(1), f.engine.Status().InFlight)

	close(release)
	f.wait(t)
	assert.Zero(t, f.engine.Status().InFlight)
}

func TestEngine_PauseAndResume(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.ErrorIs(t, f.engine.Pause(), engine.ErrNotStarted)

	require.NoError(t, f.engine.Start(ctx))
	require.ErrorIs(t, f.engine.Start(ctx), engine.ErrAlreadyStarted)

	status := f.engine.Status()
	assert.True(t, status.Started)
	assert.True(t, status.Subscribed)
	assert.True(t, status.Sweeping)

	require.NoError(t, f.engine.Pause())

	status = f.engine.Status()
	assert.True(t, status.Paused)
	assert.False(t, status.Subscribed)
	assert.False(t, status.Sweeping)

	require.NoError(t, f.engine.Resume())

	status = f.engine.Status()
	assert.False(t, status.Paused)
	assert.True(t, status.Subscribed)
	assert.True(t, status.Sweeping)
}

func TestEngine_TestWorkflow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	wf := thankYouWorkflow(&models.Step{Type: models.StepTypeWait})
	wf.Status = models.WorkflowStatusPaused
	f.save(t, wf)

	record, err := f.engine.TestWorkflow(ctx, "wf-thanks", map[string]any{"job_id": "J1"})
	require.NoError(t, err)
	assert.Equal(t, models.TriggerTypeManualTest, record.TriggerType)
	assert.Equal(t, models.ExecutionStatusCompleted, record.Status)
	assert.Equal(t, "J1", record.TriggerContext["job_id"])

	_, err = f.engine.TestWorkflow(ctx, "missing", nil)
	require.True(t, persistence.IsWorkflowNotFound(err))
}

func TestNew_Validation(t *testing.T) {
	_, err := engine.New(engine.Deps{}, engine.DefaultConfig())
	require.ErrorIs(t, err, engine.ErrMissingDeps)

	config := engine.DefaultConfig()
	config.MatchMode = "all"
	require.Error(t, config.Validate())

	config = engine.DefaultConfig()
	config.FireLedgerTTL = time.Minute
	require.Error(t, config.Validate())

	config = engine.DefaultConfig()
	config.ContinuationLease = 0
	require.Error(t, config.Validate())

	require.NoError(t, engine.DefaultConfig().Validate())
}
