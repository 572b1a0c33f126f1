// Package models defines the core domain models for event-driven workflow automation.
package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusActive WorkflowStatus = "active" // Eligible for matching when enabled
	WorkflowStatusPaused WorkflowStatus = "paused" // Kept, never matched
)

// Workflow is a user-defined automation: a set of triggers and an ordered list of steps.
type Workflow struct {
	ID          string         `json:"id"                    validate:"required"`
	Name        string         `json:"name"                  validate:"required,min=1"`
	Description string         `json:"description,omitempty"`
	Enabled     bool           `json:"enabled"`
	Status      WorkflowStatus `json:"status"                validate:"required,oneof=active paused"`
	Triggers    []*Trigger     `json:"triggers"              validate:"dive"`
	Steps       []*Step        `json:"steps"                 validate:"dive"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// IsEligible reports whether the workflow may be matched against events.
func (w *Workflow) IsEligible() bool {
	return w != nil && w.Enabled && w.Status == WorkflowStatusActive
}

// TriggersOfType returns the workflow triggers declared for the given type, in declaration order.
func (w *Workflow) TriggersOfType(triggerType string) []*Trigger {
	var triggers []*Trigger

	for _, trigger := range w.Triggers {
		if trigger != nil && trigger.Type == triggerType {
			triggers = append(triggers, trigger)
		}
	}

	return triggers
}

// WorkflowMetrics holds the execution counters of a workflow.
type WorkflowMetrics struct {
	WorkflowID   string     `json:"workflow_id"`
	SuccessCount int64      `json:"success_count"`
	FailureCount int64      `json:"failure_count"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
}
