// Package web provides the operator HTTP API of the automation engine.
package web

import (
	"time"

	"github.com/dukex/fieldflow/pkg/models"
)

// TestWorkflowRequest is the body of POST /workflows/:id/test.
type TestWorkflowRequest struct {
	Context map[string]any `json:"context"`
}

// RowChangeRequest is the body of POST /events/rows, sent by database triggers.
type RowChangeRequest struct {
	Table     string         `json:"table"         validate:"required,oneof=jobs invoices estimates clients tasks"`
	Operation string         `json:"operation"     validate:"required,oneof=INSERT UPDATE insert update"`
	Old       map[string]any `json:"old,omitempty"`
	New       map[string]any `json:"new"           validate:"required"`
}

// ExecutionLogsResponse lists the newest executions of a workflow.
type ExecutionLogsResponse struct {
	WorkflowID string                    `json:"workflow_id"`
	Limit      int                       `json:"limit"`
	Executions []*models.ExecutionRecord `json:"executions"`
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Message   string            `json:"message"`
	Checkers  map[string]string `json:"checkers"`
	Timestamp time.Time         `json:"timestamp"`
}
