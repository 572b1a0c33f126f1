package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/fieldflow/pkg/conditional"
	"github.com/dukex/fieldflow/pkg/metrics"
	"github.com/dukex/fieldflow/pkg/models"
	"github.com/dukex/fieldflow/pkg/persistence"
	"github.com/robfig/cron/v3"
)

// Dispatcher receives the work produced by the periodic sweeps.
type Dispatcher interface {
	// Dispatch offers an event to the trigger matcher.
	Dispatch(ctx context.Context, event models.Event)
	// Launch runs workflow directly, bypassing the matcher.
	Launch(ctx context.Context, workflow *models.Workflow, triggerType string, data map[string]any)
	// Continue resumes a suspended execution.
	Continue(ctx context.Context, continuation *models.Continuation)
}

type SweeperConfig struct {
	ScheduleInterval time.Duration
	OverdueInterval  time.Duration
	PollInterval     time.Duration
	// Tolerance is how far from the configured time a scheduled trigger still fires.
	Tolerance time.Duration
	// LedgerTTL bounds how long a fired window is remembered.
	LedgerTTL time.Duration
	// ContinuationLease is how long a claimed continuation stays hidden from
	// other pollers before it is handed out again.
	ContinuationLease time.Duration
	ClaimBatch        int
	Location          *time.Location
}

func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		ScheduleInterval: time.Minute,
		OverdueInterval:  time.Hour,
		PollInterval:     15 * time.Second,
		Tolerance:        5 * time.Minute,
		LedgerTTL:         48 * time.Hour,
		ContinuationLease: 5 * time.Minute,
		ClaimBatch:        100,
		Location:          time.UTC,
	}
}

// Sweeper drives the time-based triggers and the continuation poller.
// The scheduled-time and overdue sweeps can be stopped and started again
// independently of the poller.
type Sweeper struct {
	logger        *slog.Logger
	workflows     persistence.WorkflowRepository
	records       persistence.RecordRepository
	continuations persistence.ContinuationRepository
	ledger        persistence.FireLedger
	dispatcher    Dispatcher
	config        SweeperConfig
	metrics       *metrics.Metrics
	now           func() time.Time

	mu     sync.Mutex
	sweeps *cron.Cron
	poller *cron.Cron
}

type SweeperOption func(*Sweeper)

func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		s.now = now
	}
}

func WithSweeperMetrics(m *metrics.Metrics) SweeperOption {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

func NewSweeper(
	logger *slog.Logger,
	workflows persistence.WorkflowRepository,
	records persistence.RecordRepository,
	continuations persistence.ContinuationRepository,
	ledger persistence.FireLedger,
	dispatcher Dispatcher,
	config SweeperConfig,
	opts ...SweeperOption,
) *Sweeper {
	if config.Location == nil {
		config.Location = time.UTC
	}

	if config.ClaimBatch <= 0 {
		config.ClaimBatch = DefaultSweeperConfig().ClaimBatch
	}

	if config.ContinuationLease <= 0 {
		config.ContinuationLease = DefaultSweeperConfig().ContinuationLease
	}

	sweeper := &Sweeper{
		logger:        logger.With("module", "sweeper"),
		workflows:     workflows,
		records:       records,
		continuations: continuations,
		ledger:        ledger,
		dispatcher:    dispatcher,
		config:        config,
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(sweeper)
	}

	return sweeper
}

// StartSweeps schedules the scheduled-time and overdue-task sweeps. Calling it
// while they already run is a no-op.
func (s *Sweeper) StartSweeps(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sweeps != nil {
		return
	}

	s.sweeps = newCron(s.config.Location)
	s.sweeps.Schedule(cron.Every(s.config.ScheduleInterval), s.job(ctx, "scheduled_time", s.SweepScheduled))
	s.sweeps.Schedule(cron.Every(s.config.OverdueInterval), s.job(ctx, "task_overdue", s.SweepOverdue))
	s.sweeps.Start()

	s.logger.Info("Started periodic sweeps",
		"schedule_interval", s.config.ScheduleInterval,
		"overdue_interval", s.config.OverdueInterval)
}

// StopSweeps stops the two sweeps and waits for a running tick to return.
func (s *Sweeper) StopSweeps() {
	s.mu.Lock()
	sweeps := s.sweeps
	s.sweeps = nil
	s.mu.Unlock()

	if sweeps == nil {
		return
	}

	<-sweeps.Stop().Done()
	s.logger.Info("Stopped periodic sweeps")
}

func (s *Sweeper) SweepsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sweeps != nil
}

func (s *Sweeper) StartPoller(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.poller != nil {
		return
	}

	s.poller = newCron(s.config.Location)
	s.poller.Schedule(cron.Every(s.config.PollInterval), s.job(ctx, "continuations", s.PollContinuations))
	s.poller.Start()

	s.logger.Info("Started continuation poller", "interval", s.config.PollInterval)
}

func (s *Sweeper) StopPoller() {
	s.mu.Lock()
	poller := s.poller
	s.poller = nil
	s.mu.Unlock()

	if poller == nil {
		return
	}

	<-poller.Stop().Done()
	s.logger.Info("Stopped continuation poller")
}

func newCron(location *time.Location) *cron.Cron {
	return cron.New(
		cron.WithLocation(location),
		cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
			cron.Recover(cron.DefaultLogger),
		),
	)
}

func (s *Sweeper) job(ctx context.Context, name string, tick func(context.Context) (int, error)) cron.Job {
	return cron.FuncJob(func() {
		count, err := tick(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "Sweep failed", "sweep", name, "error", err)
			s.countRun(name, "error")

			return
		}

		s.countRun(name, "ok")

		if count > 0 {
			s.logger.InfoContext(ctx, "Sweep dispatched work", "sweep", name, "count", count)
		}
	})
}

// SweepScheduled fires every scheduled_time trigger whose window contains now and
// returns how many workflows were launched. A window is fired at most once.
func (s *Sweeper) SweepScheduled(ctx context.Context) (int, error) {
	workflows, err := s.workflows.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active workflows: %w", err)
	}

	now := s.now().In(s.config.Location)
	fired := 0

	var errs []error

	for _, workflow := range workflows {
		if !workflow.IsEligible() {
			continue
		}

		launched, err := s.fireScheduled(ctx, workflow, now)
		if err != nil {
			errs = append(errs, err)
		}

		if launched {
			fired++
		}
	}

	return fired, errors.Join(errs...)
}

func (s *Sweeper) fireScheduled(ctx context.Context, workflow *models.Workflow, now time.Time) (bool, error) {
	for index, trigger := range workflow.Triggers {
		if trigger == nil || trigger.Type != models.TriggerTypeScheduledTime {
			continue
		}

		schedule, err := models.ParseScheduledTime(trigger.Config)
		if err != nil {
			s.logger.WarnContext(ctx, "Skipping scheduled trigger with invalid config",
				"workflow_id", workflow.ID, "trigger_index", index, "error", err)

			continue
		}

		window, inWindow := schedule.Window(now, s.config.Tolerance)
		if !inWindow {
			continue
		}

		clock, _ := trigger.Config["time"].(string)
		data := map[string]any{
			"trigger_type":   models.TriggerTypeScheduledTime,
			"workflow_id":    workflow.ID,
			"scheduled_time": clock,
			"frequency":      string(schedule.Frequency),
			"fired_at":       now.UTC().Format(time.RFC3339),
		}

		if !conditional.Evaluate(trigger.Conditions, data) {
			continue
		}

		key := FireKey(workflow.ID, index, window)

		claimed, err := s.ledger.Claim(ctx, key, s.config.LedgerTTL)
		if err != nil {
			return false, fmt.Errorf("failed to claim schedule window %s: %w", key, err)
		}

		if !claimed {
			s.logger.DebugContext(ctx, "Schedule window already fired", "key", key)

			continue
		}

		s.logger.InfoContext(ctx, "Firing scheduled workflow", "workflow_id", workflow.ID, "window", window)
		s.dispatcher.Launch(ctx, workflow, models.TriggerTypeScheduledTime, data)

		return true, nil
	}

	return false, nil
}

// FireKey identifies one firing window of one trigger.
func FireKey(workflowID string, triggerIndex int, window time.Time) string {
	return fmt.Sprintf("%s:%d:%s", workflowID, triggerIndex, window.UTC().Format(time.RFC3339))
}

// SweepOverdue dispatches a task_overdue event for every open task past its due date.
func (s *Sweeper) SweepOverdue(ctx context.Context) (int, error) {
	now := s.now().UTC()

	tasks, err := s.records.OverdueTasks(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list overdue tasks: %w", err)
	}

	for _, task := range tasks {
		data, err := OverdueContext(task, now)
		if err != nil {
			s.logger.WarnContext(ctx, "Skipping overdue task", "task_id", task.ID, "error", err)

			continue
		}

		s.dispatcher.Dispatch(ctx, models.Event{Type: models.TriggerTypeTaskOverdue, Context: data})
	}

	return len(tasks), nil
}

// OverdueContext builds the event context of a task_overdue event: the task columns
// at top level and under "task", plus task_id and whole hours_overdue.
func OverdueContext(task *models.Task, now time.Time) (map[string]any, error) {
	encoded, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}

	var row map[string]any

	err = json.Unmarshal(encoded, &row)
	if err != nil {
		return nil, err
	}

	data := make(map[string]any, len(row)+3)
	for key, value := range row {
		data[key] = value
	}

	hours := 0
	if task.DueDate != nil {
		hours = int(now.Sub(*task.DueDate).Hours())
	}

	data["task"] = row
	data["task_id"] = task.ID
	data["hours_overdue"] = hours

	return data, nil
}

// PollContinuations claims the continuations that are due and hands them to the
// dispatcher. The dispatcher completes or releases each claim.
func (s *Sweeper) PollContinuations(ctx context.Context) (int, error) {
	due, err := s.continuations.ClaimDue(ctx, s.now().UTC(), s.config.ContinuationLease, s.config.ClaimBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to claim due continuations: %w", err)
	}

	for _, continuation := range due {
		s.dispatcher.Continue(ctx, continuation)
	}

	return len(due), nil
}

func (s *Sweeper) countRun(sweep, outcome string) {
	if s.metrics != nil {
		s.metrics.SweepRunsTotal.WithLabelValues(sweep, outcome).Inc()
	}
}
