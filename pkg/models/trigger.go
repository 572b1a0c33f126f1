package models

// Trigger types raised by the engine itself rather than by row changes.
const (
	TriggerTypeScheduledTime = "scheduled_time"
	TriggerTypeTaskOverdue   = "task_overdue"
	TriggerTypeManualTest    = "manual_test"
)

// Trigger pairs an event type with the conditions that must all hold for a workflow to run.
// Config carries type-specific settings, such as the schedule of a scheduled_time trigger.
type Trigger struct {
	Type       string         `json:"type"                 validate:"required"`
	Conditions []Condition    `json:"conditions,omitempty" validate:"dive"`
	Config     map[string]any `json:"config,omitempty"`
}
