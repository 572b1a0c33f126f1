// Package persistence provides the storage abstraction layer for workflows, executions and records.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/fieldflow/pkg/models"
)

// Persistence groups the repositories of one storage backend.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	ContinuationRepository() ContinuationRepository
	RecordRepository() RecordRepository
	FireLedger() FireLedger

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository reads workflow definitions. The engine never modifies them;
// Save exists for seeding and administration.
type WorkflowRepository interface {
	// ListActive returns the enabled workflows in active status, in a stable order.
	ListActive(ctx context.Context) ([]*models.Workflow, error)

	// GetByID returns ErrWorkflowNotFound when no workflow has the id.
	GetByID(ctx context.Context, id string) (*models.Workflow, error)

	Save(ctx context.Context, workflow *models.Workflow) error
}

// ExecutionRepository stores execution history and per-workflow metrics.
type ExecutionRepository interface {
	// SaveExecution inserts or updates a record. A stored terminal record is never
	// overwritten with a non-terminal or different terminal state.
	SaveExecution(ctx context.Context, record *models.ExecutionRecord) error

	// ExecutionByID returns ErrExecutionNotFound when no record has the id.
	ExecutionByID(ctx context.Context, id string) (*models.ExecutionRecord, error)

	// ExecutionLogs returns the most recent records of a workflow, newest first.
	ExecutionLogs(ctx context.Context, workflowID string, limit int) ([]*models.ExecutionRecord, error)

	// IncrementMetrics atomically adds one success or one failure to the workflow counters.
	IncrementMetrics(ctx context.Context, workflowID string, success bool) error

	Metrics(ctx context.Context, workflowID string) (*models.WorkflowMetrics, error)
}

// RecordRepository mutates the business records that workflow steps act upon.
type RecordRepository interface {
	InsertTask(ctx context.Context, task *models.Task) error
	InsertJob(ctx context.Context, job *models.Job) error

	// UpdateJobStatus returns ErrJobNotFound when the job does not exist.
	UpdateJobStatus(ctx context.Context, jobID, status string) error

	InsertCommunicationLog(ctx context.Context, entry *models.CommunicationLog) error

	// OverdueTasks returns tasks due before now that are neither completed nor cancelled.
	OverdueTasks(ctx context.Context, now time.Time) ([]*models.Task, error)
}
