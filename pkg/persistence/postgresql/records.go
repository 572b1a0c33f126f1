package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/fieldflow/pkg/models"
	"github.com/dukex/fieldflow/pkg/persistence"
	"github.com/lib/pq"
)

// RecordRepository writes the business records mutated by workflow steps.
type RecordRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRecordRepository creates a new record repository.
func NewRecordRepository(db *sql.DB, logger *slog.Logger) *RecordRepository {
	return &RecordRepository{db: db, logger: logger}
}

func (rr *RecordRepository) InsertTask(ctx context.Context, task *models.Task) error {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}

	_, err := rr.db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, title, description, status, priority, assigned_to, job_id, client_id, due_date, source, workflow_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		task.ID,
		task.Title,
		nullString(task.Description),
		task.Status,
		nullString(task.Priority),
		nullString(task.AssignedTo),
		nullString(task.JobID),
		nullString(task.ClientID),
		task.DueDate,
		nullString(task.Source),
		nullString(task.WorkflowID),
		task.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}

	return nil
}

func (rr *RecordRepository) InsertJob(ctx context.Context, job *models.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	_, err := rr.db.ExecContext(ctx, `
		INSERT INTO jobs (id, client_id, title, description, status, scheduled_for, source, workflow_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		job.ID,
		nullString(job.ClientID),
		job.Title,
		nullString(job.Description),
		job.Status,
		job.ScheduledFor,
		nullString(job.Source),
		nullString(job.WorkflowID),
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	return nil
}

func (rr *RecordRepository) UpdateJobStatus(ctx context.Context, jobID, status string) error {
	result, err := rr.db.ExecContext(ctx, `UPDATE jobs SET status = $1 WHERE id = $2`, status, jobID)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("update job %s: %w", jobID, persistence.ErrJobNotFound)
	}

	return nil
}

func (rr *RecordRepository) InsertCommunicationLog(ctx context.Context, entry *models.CommunicationLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := rr.db.ExecContext(ctx, `
		INSERT INTO communication_logs (
			id, channel, direction, recipient, subject, body, external_id, status, client_id, job_id, workflow_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		entry.ID,
		entry.Channel,
		entry.Direction,
		entry.Recipient,
		nullString(entry.Subject),
		entry.Body,
		nullString(entry.ExternalID),
		entry.Status,
		nullString(entry.ClientID),
		nullString(entry.JobID),
		nullString(entry.WorkflowID),
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert communication log: %w", err)
	}

	return nil
}

var closedTaskStatuses = []string{models.TaskStatusCompleted, models.TaskStatusCancelled}

func (rr *RecordRepository) OverdueTasks(ctx context.Context, now time.Time) ([]*models.Task, error) {
	rows, err := rr.db.QueryContext(ctx, `
		SELECT
			id
		  , title
		  , COALESCE(description, '')
		  , status
		  , COALESCE(priority, '')
		  , COALESCE(assigned_to, '')
		  , COALESCE(job_id, '')
		  , COALESCE(client_id, '')
		  , due_date
		  , COALESCE(source, '')
		  , COALESCE(workflow_id, '')
		  , created_at
		FROM tasks
		WHERE due_date < $1 AND NOT (status = ANY($2))
		ORDER BY due_date
	`, now, pq.Array(closedTaskStatuses))
	if err != nil {
		return nil, fmt.Errorf("failed to query overdue tasks: %w", err)
	}

	defer closeRows(ctx, rr.logger, rows)

	tasks := make([]*models.Task, 0)

	for rows.Next() {
		var (
			task    models.Task
			dueDate time.Time
		)

		err := rows.Scan(
			&task.ID,
			&task.Title,
			&task.Description,
			&task.Status,
			&task.Priority,
			&task.AssignedTo,
			&task.JobID,
			&task.ClientID,
			&dueDate,
			&task.Source,
			&task.WorkflowID,
			&task.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}

		task.DueDate = &dueDate
		tasks = append(tasks, &task)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}
