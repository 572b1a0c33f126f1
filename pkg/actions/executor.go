package actions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/fieldflow/pkg/fieldpath"
	"github.com/dukex/fieldflow/pkg/models"
	"github.com/dukex/fieldflow/pkg/persistence"
	"github.com/dukex/fieldflow/pkg/template"
	"github.com/google/uuid"
)

// Messenger delivers outbound SMS and email. Both calls return the provider's message id.
type Messenger interface {
	SendSMS(ctx context.Context, to, body string) (string, error)
	SendEmail(ctx context.Context, to, subject, body string) (string, error)
}

// Notifier surfaces in-app notifications.
type Notifier interface {
	Notify(ctx context.Context, notification *models.Notification) error
}

// Executor performs one step at a time against the event context.
type Executor struct {
	logger    *slog.Logger
	messenger Messenger
	records   persistence.RecordRepository
	notifier  Notifier
	now       func() time.Time
}

type Option func(*Executor)

// WithClock replaces time.Now, for due dates and timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

func NewExecutor(
	logger *slog.Logger,
	messenger Messenger,
	records persistence.RecordRepository,
	notifier Notifier,
	opts ...Option,
) *Executor {
	executor := &Executor{
		logger:    logger.With("module", "step_executor"),
		messenger: messenger,
		records:   records,
		notifier:  notifier,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(executor)
	}

	return executor
}

// Execute runs the step at index for the given workflow. Any failure is a *StepError.
func (e *Executor) Execute(ctx context.Context, workflowID string, index int, step *models.Step, data map[string]any) error {
	action, err := Parse(step)
	if err != nil {
		stepType := models.StepType("")
		if step != nil {
			stepType = step.Type
		}

		return newStepError(index, stepType, err)
	}

	err = e.perform(ctx, workflowID, action, data)
	if err != nil {
		return newStepError(index, action.StepType(), err)
	}

	return nil
}

func (e *Executor) perform(ctx context.Context, workflowID string, action Action, data map[string]any) error {
	switch a := action.(type) {
	case SendSMS:
		return e.sendSMS(ctx, workflowID, a, data)
	case SendEmail:
		return e.sendEmail(ctx, workflowID, a, data)
	case CreateTask:
		return e.createTask(ctx, workflowID, a, data)
	case UpdateJobStatus:
		return e.updateJobStatus(ctx, a, data)
	case SendNotification:
		e.sendNotification(ctx, workflowID, a, data)

		return nil
	case CreateJob:
		return e.createJob(ctx, workflowID, a, data)
	case Wait:
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnknownStepType, action)
	}
}

func (e *Executor) sendSMS(ctx context.Context, workflowID string, a SendSMS, data map[string]any) error {
	to := ResolveRecipient(a.To, models.ChannelSMS, data)
	body := template.Render(a.Text(), data)

	externalID, err := e.messenger.SendSMS(ctx, to, body)
	if err != nil {
		return fmt.Errorf("send sms to %q: %w", to, err)
	}

	e.logCommunication(ctx, &models.CommunicationLog{
		Channel:    models.ChannelSMS,
		Recipient:  to,
		Body:       body,
		ExternalID: externalID,
		WorkflowID: workflowID,
	}, data)

	return nil
}

func (e *Executor) sendEmail(ctx context.Context, workflowID string, a SendEmail, data map[string]any) error {
	to := ResolveRecipient(a.To, models.ChannelEmail, data)
	subject := template.Render(a.Subject, data)
	body := template.Render(a.Body, data)

	externalID, err := e.messenger.SendEmail(ctx, to, subject, body)
	if err != nil {
		return fmt.Errorf("send email to %q: %w", to, err)
	}

	e.logCommunication(ctx, &models.CommunicationLog{
		Channel:    models.ChannelEmail,
		Recipient:  to,
		Subject:    subject,
		Body:       body,
		ExternalID: externalID,
		WorkflowID: workflowID,
	}, data)

	return nil
}

// logCommunication records a delivered message. The message is already out, so a
// failure here is logged and does not fail the step.
func (e *Executor) logCommunication(ctx context.Context, entry *models.CommunicationLog, data map[string]any) {
	entry.ID = uuid.NewString()
	entry.Direction = "outbound"
	entry.Status = "sent"
	entry.ClientID = firstString(data, "client_id", "client.id")
	entry.JobID = firstString(data, "job_id", "job.id")
	entry.CreatedAt = e.now().UTC()

	err := e.records.InsertCommunicationLog(ctx, entry)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to record communication log",
			"channel", entry.Channel, "workflow_id", entry.WorkflowID, "error", err)
	}
}

func (e *Executor) createTask(ctx context.Context, workflowID string, a CreateTask, data map[string]any) error {
	now := e.now().UTC()

	task := &models.Task{
		ID:          uuid.NewString(),
		Title:       template.Render(a.Title, data),
		Description: template.Render(a.Description, data),
		Status:      models.TaskStatusPending,
		Priority:    a.Priority,
		AssignedTo:  a.AssignedTo,
		JobID:       firstString(data, "job_id", "job.id"),
		ClientID:    firstString(data, "client_id", "client.id"),
		Source:      models.RecordSourceAutomation,
		WorkflowID:  workflowID,
		CreatedAt:   now,
	}

	if a.DueInHours != nil {
		due := now.Add(time.Duration(*a.DueInHours * float64(time.Hour)))
		task.DueDate = &due
	}

	err := e.records.InsertTask(ctx, task)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	return nil
}

func (e *Executor) updateJobStatus(ctx context.Context, a UpdateJobStatus, data map[string]any) error {
	jobID := template.Render(a.JobID, data)
	if jobID == "" {
		jobID = firstString(data, "job_id", "job.id")
	}

	if jobID == "" {
		return ErrMissingJobID
	}

	status := template.Render(a.Status, data)

	err := e.records.UpdateJobStatus(ctx, jobID, status)
	if err != nil {
		return fmt.Errorf("update job %s status to %s: %w", jobID, status, err)
	}

	return nil
}

func (e *Executor) sendNotification(ctx context.Context, workflowID string, a SendNotification, data map[string]any) {
	notification := &models.Notification{
		ID:         uuid.NewString(),
		Title:      template.Render(a.Title, data),
		Message:    template.Render(a.Message, data),
		Recipient:  template.Render(a.Recipient, data),
		WorkflowID: workflowID,
		CreatedAt:  e.now().UTC(),
	}

	if e.notifier == nil {
		e.logger.InfoContext(ctx, "Notification", "title", notification.Title, "message", notification.Message)

		return
	}

	err := e.notifier.Notify(ctx, notification)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to deliver notification", "workflow_id", workflowID, "error", err)
	}
}

func (e *Executor) createJob(ctx context.Context, workflowID string, a CreateJob, data map[string]any) error {
	now := e.now().UTC()

	status := a.Status
	if status == "" {
		status = models.JobStatusScheduled
	}

	clientID := template.Render(a.ClientID, data)
	if clientID == "" {
		clientID = firstString(data, "client_id", "client.id")
	}

	job := &models.Job{
		ID:          uuid.NewString(),
		ClientID:    clientID,
		Title:       template.Render(a.Title, data),
		Description: template.Render(a.Description, data),
		Status:      status,
		Source:      models.RecordSourceAutomation,
		WorkflowID:  workflowID,
		CreatedAt:   now,
	}

	if a.ScheduledInDays != nil {
		scheduled := now.Add(time.Duration(*a.ScheduledInDays * float64(24*time.Hour)))
		job.ScheduledFor = &scheduled
	}

	err := e.records.InsertJob(ctx, job)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	return nil
}

// ResolveRecipient maps "client" and "technician" to their contact field for the
// channel; any other value is a literal address rendered against data. The result
// is empty when the contact field is absent.
func ResolveRecipient(to string, channel models.Channel, data map[string]any) string {
	field := "phone"
	if channel == models.ChannelEmail {
		field = "email"
	}

	switch to {
	case "", RecipientClient:
		return firstString(data, "client."+field, "client_"+field)
	case RecipientTechnician:
		return firstString(data, "technician."+field, "technician_"+field)
	default:
		return template.Render(to, data)
	}
}

func firstString(data map[string]any, paths ...string) string {
	for _, path := range paths {
		value, ok := fieldpath.Resolve(data, path)
		if !ok || value == nil {
			continue
		}

		if s := fieldpath.String(value); s != "" {
			return s
		}
	}

	return ""
}
