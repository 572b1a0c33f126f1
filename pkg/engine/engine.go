// Package engine assembles the automation engine: it subscribes to row changes,
// matches the resulting business events against workflows, runs the matched
// workflows and drives the time-based triggers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/fieldflow/pkg/actions"
	"github.com/dukex/fieldflow/pkg/eventbus"
	"github.com/dukex/fieldflow/pkg/eventsource"
	"github.com/dukex/fieldflow/pkg/metrics"
	"github.com/dukex/fieldflow/pkg/models"
	"github.com/dukex/fieldflow/pkg/otelhelper"
	"github.com/dukex/fieldflow/pkg/persistence"
	"github.com/dukex/fieldflow/pkg/workflow"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrNotStarted     = errors.New("engine not started")
	ErrAlreadyStarted = errors.New("engine already started")
	ErrMissingDeps    = errors.New("missing engine dependency")
)

// Deps are the collaborators of the engine. Tracer, Metrics, Notifier, Now and
// HealthCheck are optional.
type Deps struct {
	Logger        *slog.Logger
	Bus           eventbus.EventBus
	Workflows     persistence.WorkflowRepository
	Executions    persistence.ExecutionRepository
	Continuations persistence.ContinuationRepository
	Records       persistence.RecordRepository
	Ledger        persistence.FireLedger
	Messenger     actions.Messenger
	Notifier      actions.Notifier
	Tracer        trace.Tracer
	Metrics       *metrics.Metrics
	Now           func() time.Time
	HealthCheck   func(ctx context.Context) error
}

func (d Deps) validate() error {
	switch {
	case d.Logger == nil:
		return fmt.Errorf("%w: logger", ErrMissingDeps)
	case d.Bus == nil:
		return fmt.Errorf("%w: event bus", ErrMissingDeps)
	case d.Workflows == nil, d.Executions == nil, d.Continuations == nil, d.Records == nil, d.Ledger == nil:
		return fmt.Errorf("%w: persistence", ErrMissingDeps)
	case d.Messenger == nil:
		return fmt.Errorf("%w: messenger", ErrMissingDeps)
	}

	return nil
}

// Status is a snapshot of the engine lifecycle.
type Status struct {
	Started    bool  `json:"started"`
	Paused     bool  `json:"paused"`
	Subscribed bool  `json:"subscribed"`
	Sweeping   bool  `json:"sweeping"`
	InFlight   int64 `json:"in_flight"`
}

type Engine struct {
	logger  *slog.Logger
	deps    Deps
	config  Config
	tracer  trace.Tracer
	matcher *workflow.TriggerMatcher
	runner  *workflow.Runner
	sweeper *workflow.Sweeper
	source  *eventsource.Source

	mu      sync.Mutex
	started bool
	paused  bool
	runCtx  context.Context
	stop    context.CancelFunc

	// execMu guards the execution count. It is never held while waiting.
	execMu  sync.Mutex
	closing bool
	active  int64
	idle    chan struct{}
}

func New(deps Deps, config Config) (*Engine, error) {
	err := deps.validate()
	if err != nil {
		return nil, err
	}

	err = config.Validate()
	if err != nil {
		return nil, err
	}

	if deps.Now == nil {
		deps.Now = time.Now
	}

	if deps.Tracer == nil {
		deps.Tracer = otelhelper.NoopTracer()
	}

	executor := actions.NewExecutor(deps.Logger, deps.Messenger, deps.Records, deps.Notifier,
		actions.WithClock(deps.Now))

	runnerOpts := []workflow.RunnerOption{
		workflow.WithPublisher(deps.Bus),
		workflow.WithTracer(deps.Tracer),
		workflow.WithClock(deps.Now),
	}

	sweeperOpts := []workflow.SweeperOption{workflow.WithSweeperClock(deps.Now)}

	if deps.Metrics != nil {
		runnerOpts = append(runnerOpts, workflow.WithMetrics(deps.Metrics))
		sweeperOpts = append(sweeperOpts, workflow.WithSweeperMetrics(deps.Metrics))
	}

	e := &Engine{
		logger:  deps.Logger.With("module", "engine"),
		deps:    deps,
		config:  config,
		tracer:  deps.Tracer,
		matcher: workflow.NewTriggerMatcher(deps.Logger, config.MatchMode),
		runner:  workflow.NewRunner(deps.Logger, deps.Executions, deps.Continuations, executor, runnerOpts...),
		source:  eventsource.NewSource(deps.Logger, deps.Bus),
	}

	e.sweeper = workflow.NewSweeper(
		deps.Logger,
		deps.Workflows,
		deps.Records,
		deps.Continuations,
		deps.Ledger,
		e,
		config.sweeper(),
		sweeperOpts...,
	)

	for _, table := range eventsource.Tables() {
		e.source.OnInsert(table, e.handleRowChange)
		e.source.OnUpdate(table, e.handleRowChange)
	}

	return e, nil
}

// Start subscribes to row changes and starts the sweeps and the continuation
// poller. Work started by the engine outlives ctx; use Close to stop it.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return ErrAlreadyStarted
	}

	e.execMu.Lock()
	e.closing = false
	e.execMu.Unlock()

	e.runCtx, e.stop = context.WithCancel(context.WithoutCancel(ctx))

	err := e.source.Subscribe(e.runCtx)
	if err != nil {
		e.stop()

		return err
	}

	e.sweeper.StartSweeps(e.runCtx)
	e.sweeper.StartPoller(e.runCtx)

	e.started = true
	e.paused = false

	e.logger.Info("Automation engine started", "match_mode", e.config.MatchMode, "location", e.config.Location.String())

	return nil
}

// Pause stops taking new row changes and stops the scheduled and overdue sweeps.
// Running executions and the continuation poller are not affected.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return ErrNotStarted
	}

	if e.paused {
		return nil
	}

	e.source.Unsubscribe()
	e.sweeper.StopSweeps()
	e.paused = true

	e.logger.Info("Automations paused")

	return nil
}

func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return ErrNotStarted
	}

	if !e.paused {
		return nil
	}

	err := e.source.Subscribe(e.runCtx)
	if err != nil {
		return err
	}

	e.sweeper.StartSweeps(e.runCtx)
	e.paused = false

	e.logger.Info("Automations resumed")

	return nil
}

// Close stops every background activity and waits, up to ctx, for running
// executions. Row changes already taken from the bus are handled before the
// subscription ends; nothing is launched once Close has stopped the sources.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()

	if e.started {
		e.source.Unsubscribe()
		e.sweeper.StopSweeps()
		e.sweeper.StopPoller()
		e.started = false
	}

	e.mu.Unlock()

	e.execMu.Lock()
	e.closing = true
	e.execMu.Unlock()

	err := e.Wait(ctx)

	if e.stop != nil {
		e.stop()
	}

	return err
}

// Wait blocks until no execution launched by the engine is running.
func (e *Engine) Wait(ctx context.Context) error {
	e.execMu.Lock()

	if e.active == 0 {
		e.execMu.Unlock()

		return nil
	}

	idle := e.idle
	e.execMu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running executions: %w", ctx.Err())
	}
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Status{
		Started:    e.started,
		Paused:     e.paused,
		Subscribed: e.source.Subscribed(),
		Sweeping:   e.sweeper.SweepsRunning(),
		InFlight:   e.inFlight(),
	}
}

func (e *Engine) inFlight() int64 {
	e.execMu.Lock()
	defer e.execMu.Unlock()

	return e.active
}

// Emit publishes a row change on the bus, as a database trigger would.
func (e *Engine) Emit(ctx context.Context, change eventsource.RowChange) error {
	return e.source.Emit(ctx, change)
}

func (e *Engine) handleRowChange(ctx context.Context, change eventsource.RowChange) error {
	for _, event := range eventsource.Events(change) {
		e.Dispatch(ctx, event)
	}

	return nil
}

// HandleEvent matches event against the active workflows and launches one execution
// per match. It returns the number of executions launched.
func (e *Engine) HandleEvent(ctx context.Context, event models.Event) (int, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.handle_event",
		attribute.String(otelhelper.EventTypeKey, event.Type))
	defer span.End()

	if e.deps.Metrics != nil {
		e.deps.Metrics.EventsReceivedTotal.WithLabelValues(event.Type).Inc()
	}

	workflows, err := e.deps.Workflows.ListActive(ctx)
	if err != nil {
		otelhelper.SetError(span, err)

		return 0, fmt.Errorf("failed to list active workflows: %w", err)
	}

	matched := e.matcher.Match(event, workflows)

	if e.deps.Metrics != nil && len(matched) > 0 {
		e.deps.Metrics.WorkflowsMatched.WithLabelValues(event.Type).Add(float64(len(matched)))
	}

	for _, wf := range matched {
		e.Launch(ctx, wf, event.Type, event.Context)
	}

	e.logger.DebugContext(ctx, "Event handled", "event_type", event.Type, "matched", len(matched))

	return len(matched), nil
}

// Dispatch is HandleEvent with errors logged.
func (e *Engine) Dispatch(ctx context.Context, event models.Event) {
	_, err := e.HandleEvent(ctx, event)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to handle event", "event_type", event.Type, "error", err)
	}
}

// Launch runs workflow in its own goroutine on a context that is not cancelled
// with ctx.
func (e *Engine) Launch(ctx context.Context, wf *models.Workflow, triggerType string, data map[string]any) {
	e.goExecute(ctx, func(execCtx context.Context) {
		_, err := e.runner.Run(execCtx, wf, triggerType, data)
		if err != nil {
			e.logger.ErrorContext(execCtx, "Execution could not run", "workflow_id", wf.ID, "error", err)
		}
	})
}

// Continue resumes a suspended execution in its own goroutine.
func (e *Engine) Continue(ctx context.Context, continuation *models.Continuation) {
	e.goExecute(ctx, func(execCtx context.Context) {
		_, err := e.runner.Resume(execCtx, continuation)
		if err != nil {
			e.logger.ErrorContext(execCtx, "Continuation could not resume",
				"continuation_id", continuation.ID, "execution_id", continuation.ExecutionID, "error", err)
		}
	})
}

func (e *Engine) goExecute(ctx context.Context, run func(context.Context)) {
	e.execMu.Lock()

	if e.closing {
		e.execMu.Unlock()
		e.logger.WarnContext(ctx, "Engine is closing, execution not started")

		return
	}

	if e.active == 0 {
		e.idle = make(chan struct{})
	}

	e.active++
	e.execMu.Unlock()

	execCtx := context.WithoutCancel(ctx)

	go func() {
		defer e.executionDone()

		run(execCtx)
	}()
}

func (e *Engine) executionDone() {
	e.execMu.Lock()
	defer e.execMu.Unlock()

	e.active--
	if e.active == 0 {
		close(e.idle)
	}
}

// TestWorkflow runs a workflow synchronously with trigger type manual_test,
// bypassing trigger matching, and returns the resulting record.
func (e *Engine) TestWorkflow(ctx context.Context, workflowID string, testContext map[string]any) (*models.ExecutionRecord, error) {
	wf, err := e.deps.Workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if testContext == nil {
		testContext = map[string]any{}
	}

	return e.runner.Run(ctx, wf, models.TriggerTypeManualTest, testContext)
}

// ExecutionLogs returns the newest executions of a workflow. The limit defaults to
// DefaultExecutionLogLimit and is capped at MaxExecutionLogLimit.
func (e *Engine) ExecutionLogs(ctx context.Context, workflowID string, limit int) ([]*models.ExecutionRecord, error) {
	if limit <= 0 {
		limit = DefaultExecutionLogLimit
	}

	if limit > MaxExecutionLogLimit {
		limit = MaxExecutionLogLimit
	}

	return e.deps.Executions.ExecutionLogs(ctx, workflowID, limit)
}

func (e *Engine) Metrics(ctx context.Context, workflowID string) (*models.WorkflowMetrics, error) {
	return e.deps.Executions.Metrics(ctx, workflowID)
}

func (e *Engine) Workflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	return e.deps.Workflows.GetByID(ctx, workflowID)
}

func (e *Engine) HealthCheck(ctx context.Context) error {
	if e.deps.HealthCheck == nil {
		return nil
	}

	return e.deps.HealthCheck(ctx)
}

// Sweep runs one scheduled, overdue and continuation pass immediately.
func (e *Engine) Sweep(ctx context.Context) error {
	_, scheduledErr := e.sweeper.SweepScheduled(ctx)
	_, overdueErr := e.sweeper.SweepOverdue(ctx)
	_, pollErr := e.sweeper.PollContinuations(ctx)

	return errors.Join(scheduledErr, overdueErr, pollErr)
}
