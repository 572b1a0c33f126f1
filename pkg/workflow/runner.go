package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/fieldflow/pkg/conditional"
	"github.com/dukex/fieldflow/pkg/eventbus"
	"github.com/dukex/fieldflow/pkg/events"
	"github.com/dukex/fieldflow/pkg/log"
	"github.com/dukex/fieldflow/pkg/metrics"
	"github.com/dukex/fieldflow/pkg/models"
	"github.com/dukex/fieldflow/pkg/otelhelper"
	"github.com/dukex/fieldflow/pkg/persistence"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StepExecutor performs a single step. Failures are returned as *actions.StepError.
type StepExecutor interface {
	Execute(ctx context.Context, workflowID string, index int, step *models.Step, data map[string]any) error
}

// Runner executes the steps of one workflow for one triggering context and keeps
// the execution record, the workflow metrics and the continuations in sync with it.
type Runner struct {
	logger        *slog.Logger
	executions    persistence.ExecutionRepository
	continuations persistence.ContinuationRepository
	steps         StepExecutor
	publisher     eventbus.EventPublisher
	tracer        trace.Tracer
	metrics       *metrics.Metrics
	now           func() time.Time
}

type RunnerOption func(*Runner)

// WithPublisher makes the runner publish execution lifecycle events.
func WithPublisher(publisher eventbus.EventPublisher) RunnerOption {
	return func(r *Runner) {
		r.publisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) RunnerOption {
	return func(r *Runner) {
		r.tracer = tracer
	}
}

func WithMetrics(m *metrics.Metrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		r.now = now
	}
}

func NewRunner(
	logger *slog.Logger,
	executions persistence.ExecutionRepository,
	continuations persistence.ContinuationRepository,
	steps StepExecutor,
	opts ...RunnerOption,
) *Runner {
	runner := &Runner{
		logger:        logger.With("module", "workflow_runner"),
		executions:    executions,
		continuations: continuations,
		steps:         steps,
		tracer:        otelhelper.NoopTracer(),
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(runner)
	}

	return runner
}

// Run starts a new execution of workflow. The returned record reflects the state the
// run ended in: completed, failed, or started when a delay suspended it. An error is
// returned only when the record itself could not be stored.
func (r *Runner) Run(ctx context.Context, workflow *models.Workflow, triggerType string, data map[string]any) (*models.ExecutionRecord, error) {
	record := &models.ExecutionRecord{
		ID:             uuid.NewString(),
		WorkflowID:     workflow.ID,
		TriggerType:    triggerType,
		TriggerContext: data,
		Status:         models.ExecutionStatusStarted,
		StartedAt:      r.now().UTC(),
	}

	err := r.executions.SaveExecution(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("failed to start execution of workflow %s: %w", workflow.ID, err)
	}

	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "workflow.run",
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.WorkflowNameKey, workflow.Name),
		attribute.String(otelhelper.TriggerTypeKey, triggerType),
		attribute.String(otelhelper.ExecutionIDKey, record.ID),
	)
	defer span.End()

	logger := r.logger.With(
		"workflow_id", workflow.ID,
		"execution_id", record.ID,
		"trigger_type", triggerType,
	)
	logger.InfoContext(ctx, "Starting execution of workflow", "steps", len(workflow.Steps))

	return r.runSteps(log.WithLogger(ctx, logger), span, record, workflow.Steps, 0, data)
}

// Resume continues the execution a claimed continuation was taken from. A record
// that is already terminal is returned untouched. The claim is completed once the
// execution has moved on and released when resuming fails, so a later poll retries it.
func (r *Runner) Resume(ctx context.Context, continuation *models.Continuation) (*models.ExecutionRecord, error) {
	record, err := r.resume(ctx, continuation)

	if err != nil && !persistence.IsExecutionNotFound(err) {
		releaseErr := r.continuations.Release(ctx, continuation.ID)
		if releaseErr != nil {
			r.logger.ErrorContext(ctx, "Failed to release continuation",
				"continuation_id", continuation.ID, "error", releaseErr)
		}

		return record, err
	}

	completeErr := r.continuations.Complete(ctx, continuation.ID)
	if completeErr != nil {
		r.logger.ErrorContext(ctx, "Failed to complete continuation",
			"continuation_id", continuation.ID, "error", completeErr)
	}

	return record, err
}

func (r *Runner) resume(ctx context.Context, continuation *models.Continuation) (*models.ExecutionRecord, error) {
	record, err := r.executions.ExecutionByID(ctx, continuation.ExecutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution %s: %w", continuation.ExecutionID, err)
	}

	logger := r.logger.With(
		"workflow_id", continuation.WorkflowID,
		"execution_id", record.ID,
		"continuation_id", continuation.ID,
	)

	if record.IsTerminal() {
		logger.WarnContext(ctx, "Execution already finished, dropping continuation", "status", record.Status)

		return record, nil
	}

	r.countContinuation("resumed")

	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "workflow.resume",
		attribute.String(otelhelper.WorkflowIDKey, continuation.WorkflowID),
		attribute.String(otelhelper.TriggerTypeKey, continuation.TriggerType),
		attribute.String(otelhelper.ExecutionIDKey, record.ID),
	)
	defer span.End()

	logger.InfoContext(ctx, "Resuming execution", "remaining_steps", len(continuation.Steps))

	return r.runSteps(log.WithLogger(ctx, logger), span, record, continuation.Steps, continuation.StepOffset, continuation.Context)
}

func (r *Runner) runSteps(
	ctx context.Context,
	span trace.Span,
	record *models.ExecutionRecord,
	steps []*models.Step,
	offset int,
	data map[string]any,
) (*models.ExecutionRecord, error) {
	if r.metrics != nil {
		r.metrics.ExecutionsInProgress.Inc()
		defer r.metrics.ExecutionsInProgress.Dec()
	}

	logger := log.FromContext(ctx)

	for i, step := range steps {
		index := offset + i

		if step == nil {
			continue
		}

		if !conditional.Evaluate(step.Conditions, data) {
			logger.DebugContext(ctx, "Step conditions not met, skipping", "step_index", index, "step_type", step.Type)
			r.countStep(step.Type, "skipped")

			continue
		}

		err := r.executeStep(ctx, record.WorkflowID, index, step, data)
		if err != nil {
			otelhelper.SetError(span, err)

			return r.finish(ctx, record, err)
		}

		if delay := step.Delay(); delay > 0 && i < len(steps)-1 {
			return r.suspend(ctx, span, record, steps[i+1:], index+1, data, delay)
		}
	}

	return r.finish(ctx, record, nil)
}

func (r *Runner) executeStep(ctx context.Context, workflowID string, index int, step *models.Step, data map[string]any) error {
	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "workflow.step",
		attribute.Int(otelhelper.StepIndexKey, index),
		attribute.String(otelhelper.StepTypeKey, string(step.Type)),
	)
	defer span.End()

	err := r.steps.Execute(ctx, workflowID, index, step, data)
	if err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "Step failed", "step_index", index, "step_type", step.Type, "error", err)
		otelhelper.SetError(span, err)
		r.countStep(step.Type, "failed")

		return err
	}

	log.FromContext(ctx).InfoContext(ctx, "Step executed", "step_index", index, "step_type", step.Type)
	r.countStep(step.Type, "executed")

	return nil
}

func (r *Runner) suspend(
	ctx context.Context,
	span trace.Span,
	record *models.ExecutionRecord,
	remaining []*models.Step,
	offset int,
	data map[string]any,
	delay time.Duration,
) (*models.ExecutionRecord, error) {
	now := r.now().UTC()

	continuation := &models.Continuation{
		ID:          uuid.NewString(),
		ExecutionID: record.ID,
		WorkflowID:  record.WorkflowID,
		TriggerType: record.TriggerType,
		Steps:       remaining,
		StepOffset:  offset,
		Context:     data,
		DueAt:       now.Add(delay),
		CreatedAt:   now,
	}

	err := r.continuations.Schedule(ctx, continuation)
	if err != nil {
		err = fmt.Errorf("failed to schedule continuation of execution %s: %w", record.ID, err)
		otelhelper.SetError(span, err)

		return r.finish(ctx, record, err)
	}

	r.countContinuation("scheduled")

	log.FromContext(ctx).InfoContext(ctx, "Execution suspended",
		"continuation_id", continuation.ID,
		"due_at", continuation.DueAt,
		"remaining_steps", len(remaining))

	return record, nil
}

// finish moves the record to its terminal state, bumps the workflow metrics and
// announces the outcome. A nil cause means success.
func (r *Runner) finish(ctx context.Context, record *models.ExecutionRecord, cause error) (*models.ExecutionRecord, error) {
	logger := log.FromContext(ctx)
	now := r.now().UTC()
	success := cause == nil

	if success {
		record.Complete(now)
	} else {
		record.Fail(now, cause.Error())
	}

	err := r.executions.SaveExecution(ctx, record)
	if errors.Is(err, persistence.ErrTerminalExecution) {
		logger.WarnContext(ctx, "Execution was already finished elsewhere")

		return record, nil
	}

	if err != nil {
		logger.ErrorContext(ctx, "Failed to store execution outcome", "status", record.Status, "error", err)

		return record, fmt.Errorf("failed to finish execution %s: %w", record.ID, err)
	}

	err = r.executions.IncrementMetrics(ctx, record.WorkflowID, success)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to update workflow metrics", "error", err)
	}

	duration := now.Sub(record.StartedAt)

	if r.metrics != nil {
		r.metrics.ExecutionsTotal.WithLabelValues(string(record.Status)).Inc()
		r.metrics.ExecutionDuration.WithLabelValues(string(record.Status)).Observe(duration.Seconds())
	}

	if success {
		logger.InfoContext(ctx, "Completed execution of workflow", "duration", duration)
	} else {
		logger.WarnContext(ctx, "Execution of workflow failed", "error", record.ErrorMessage)
	}

	r.publishOutcome(ctx, record, duration)

	return record, nil
}

func (r *Runner) publishOutcome(ctx context.Context, record *models.ExecutionRecord, duration time.Duration) {
	if r.publisher == nil {
		return
	}

	var event eventbus.Event

	if record.Status == models.ExecutionStatusCompleted {
		event = events.ExecutionCompleted{
			BaseEvent:   events.NewBaseEvent(events.ExecutionCompletedEvent),
			ExecutionID: record.ID,
			WorkflowID:  record.WorkflowID,
			TriggerType: record.TriggerType,
			Duration:    duration,
		}
	} else {
		event = events.ExecutionFailed{
			BaseEvent:   events.NewBaseEvent(events.ExecutionFailedEvent),
			ExecutionID: record.ID,
			WorkflowID:  record.WorkflowID,
			TriggerType: record.TriggerType,
			Error:       record.ErrorMessage,
			Duration:    duration,
		}
	}

	err := r.publisher.Publish(ctx, record.WorkflowID, event)
	if err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "Failed to publish execution event", "event_type", event.GetType(), "error", err)
	}
}

func (r *Runner) countStep(stepType models.StepType, outcome string) {
	if r.metrics != nil {
		r.metrics.StepsTotal.WithLabelValues(string(stepType), outcome).Inc()
	}
}

func (r *Runner) countContinuation(action string) {
	if r.metrics != nil {
		r.metrics.ContinuationsTotal.WithLabelValues(action).Inc()
	}
}
