package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/fieldflow/pkg/models"
	"github.com/dukex/fieldflow/pkg/persistence"
)

// ExecutionRepository handles execution record and metrics database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// SaveExecution upserts a record. The update only applies while the stored row is
// still started, so a terminal row is never rewritten.
func (er *ExecutionRepository) SaveExecution(ctx context.Context, record *models.ExecutionRecord) error {
	contextJSON, err := json.Marshal(record.TriggerContext)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger context: %w", err)
	}

	query := `
		INSERT INTO execution_records (
			id, workflow_id, trigger_type, trigger_context, status, error_message, started_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			error_message = EXCLUDED.error_message,
			completed_at = EXCLUDED.completed_at
		WHERE execution_records.status = 'started'
	`

	result, err := er.db.ExecContext(ctx, query,
		record.ID,
		record.WorkflowID,
		record.TriggerType,
		contextJSON,
		record.Status,
		nullString(record.ErrorMessage),
		record.StartedAt,
		record.CompletedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("SaveExecution", record.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewExecutionError("SaveExecution", record.ID, persistence.ErrTerminalExecution)
	}

	return nil
}

const selectExecution = `
	SELECT id, workflow_id, trigger_type, trigger_context, status, error_message, started_at, completed_at
	FROM execution_records
`

func (er *ExecutionRepository) ExecutionByID(ctx context.Context, id string) (*models.ExecutionRecord, error) {
	row := er.db.QueryRowContext(ctx, selectExecution+` WHERE id = $1`, id)

	record, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("ExecutionByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return record, nil
}

func (er *ExecutionRepository) ExecutionLogs(ctx context.Context, workflowID string, limit int) ([]*models.ExecutionRecord, error) {
	rows, err := er.db.QueryContext(ctx, selectExecution+`
		WHERE workflow_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, er.logger, rows)

	records := make([]*models.ExecutionRecord, 0)

	for rows.Next() {
		record, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		records = append(records, record)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return records, nil
}

// IncrementMetrics adds one to the success or failure counter in a single statement.
func (er *ExecutionRepository) IncrementMetrics(ctx context.Context, workflowID string, success bool) error {
	successDelta, failureDelta := 0, 1
	if success {
		successDelta, failureDelta = 1, 0
	}

	query := `
		INSERT INTO workflow_metrics (workflow_id, success_count, failure_count, last_run_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (workflow_id) DO UPDATE SET
			success_count = workflow_metrics.success_count + EXCLUDED.success_count,
			failure_count = workflow_metrics.failure_count + EXCLUDED.failure_count,
			last_run_at = EXCLUDED.last_run_at
	`

	_, err := er.db.ExecContext(ctx, query, workflowID, successDelta, failureDelta)
	if err != nil {
		return fmt.Errorf("failed to increment metrics of workflow %s: %w", workflowID, err)
	}

	return nil
}

func (er *ExecutionRepository) Metrics(ctx context.Context, workflowID string) (*models.WorkflowMetrics, error) {
	metrics := &models.WorkflowMetrics{WorkflowID: workflowID}

	var lastRunAt sql.NullTime

	err := er.db.QueryRowContext(ctx, `
		SELECT success_count, failure_count, last_run_at
		FROM workflow_metrics
		WHERE workflow_id = $1
	`, workflowID).Scan(&metrics.SuccessCount, &metrics.FailureCount, &lastRunAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return metrics, nil
		}

		return nil, fmt.Errorf("failed to query metrics of workflow %s: %w", workflowID, err)
	}

	if lastRunAt.Valid {
		metrics.LastRunAt = &lastRunAt.Time
	}

	return metrics, nil
}

func scanExecution(row scanner) (*models.ExecutionRecord, error) {
	var (
		record       models.ExecutionRecord
		contextJSON  []byte
		errorMessage sql.NullString
		completedAt  sql.NullTime
	)

	err := row.Scan(
		&record.ID,
		&record.WorkflowID,
		&record.TriggerType,
		&contextJSON,
		&record.Status,
		&errorMessage,
		&record.StartedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(contextJSON) > 0 {
		err = json.Unmarshal(contextJSON, &record.TriggerContext)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger context: %w", err)
		}
	}

	record.ErrorMessage = errorMessage.String

	if completedAt.Valid {
		record.CompletedAt = &completedAt.Time
	}

	return &record, nil
}
