package file

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/dukex/fieldflow/pkg/models"
	"github.com/dukex/fieldflow/pkg/persistence"
)

const (
	executionsCollection = "executions"
	metricsCollection    = "metrics"
)

// ExecutionRepository handles execution record and metrics file operations.
type ExecutionRepository struct {
	store *Persistence
}

// SaveExecution writes the record unless the stored copy is already terminal.
func (er *ExecutionRepository) SaveExecution(_ context.Context, record *models.ExecutionRecord) error {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	var existing models.ExecutionRecord

	err := er.store.read(executionsCollection, record.ID, &existing)
	switch {
	case err == nil && existing.IsTerminal():
		return persistence.NewExecutionError("SaveExecution", record.ID, persistence.ErrTerminalExecution)
	case err != nil && !os.IsNotExist(err):
		return fmt.Errorf("failed to read execution %s: %w", record.ID, err)
	}

	return er.store.write(executionsCollection, record.ID, record)
}

func (er *ExecutionRepository) ExecutionByID(_ context.Context, id string) (*models.ExecutionRecord, error) {
	var record models.ExecutionRecord

	err := er.store.read(executionsCollection, id, &record)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewExecutionError("ExecutionByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to read execution %s: %w", id, err)
	}

	return &record, nil
}

// ExecutionLogs returns the newest records of the workflow first.
func (er *ExecutionRepository) ExecutionLogs(ctx context.Context, workflowID string, limit int) ([]*models.ExecutionRecord, error) {
	ids, err := er.store.ids(executionsCollection)
	if err != nil {
		return nil, err
	}

	records := make([]*models.ExecutionRecord, 0)

	for _, id := range ids {
		record, err := er.ExecutionByID(ctx, id)
		if err != nil {
			// Skip invalid files
			continue
		}

		if record.WorkflowID == workflowID {
			records = append(records, record)
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	return records, nil
}

func (er *ExecutionRepository) IncrementMetrics(_ context.Context, workflowID string, success bool) error {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	metrics, err := er.metrics(workflowID)
	if err != nil {
		return err
	}

	if success {
		metrics.SuccessCount++
	} else {
		metrics.FailureCount++
	}

	now := nowUTC()
	metrics.LastRunAt = &now

	return er.store.write(metricsCollection, workflowID, metrics)
}

func (er *ExecutionRepository) Metrics(_ context.Context, workflowID string) (*models.WorkflowMetrics, error) {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	return er.metrics(workflowID)
}

func (er *ExecutionRepository) metrics(workflowID string) (*models.WorkflowMetrics, error) {
	metrics := &models.WorkflowMetrics{WorkflowID: workflowID}

	err := er.store.read(metricsCollection, workflowID, metrics)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read metrics of workflow %s: %w", workflowID, err)
	}

	return metrics, nil
}
