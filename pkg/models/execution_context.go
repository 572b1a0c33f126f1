package models

import "time"

// ExecutionStatus is the state of an execution record.
type ExecutionStatus string

const (
	ExecutionStatusStarted   ExecutionStatus = "started"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// ExecutionRecord is the audit entry of one workflow run for one triggering event.
// It is created before the first step runs and moves to a terminal state exactly once.
type ExecutionRecord struct {
	ID             string          `json:"id"`
	WorkflowID     string          `json:"workflow_id"`
	TriggerType    string          `json:"trigger_type"`
	TriggerContext map[string]any  `json:"trigger_context,omitempty"`
	Status         ExecutionStatus `json:"status"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the record reached completed or failed.
func (r *ExecutionRecord) IsTerminal() bool {
	return r.Status == ExecutionStatusCompleted || r.Status == ExecutionStatusFailed
}

// Complete marks the record completed. It is a no-op on terminal records.
func (r *ExecutionRecord) Complete(at time.Time) {
	if r.IsTerminal() {
		return
	}

	r.Status = ExecutionStatusCompleted
	r.CompletedAt = &at
}

// Fail marks the record failed with the given message. It is a no-op on terminal records.
func (r *ExecutionRecord) Fail(at time.Time, message string) {
	if r.IsTerminal() {
		return
	}

	r.Status = ExecutionStatusFailed
	r.ErrorMessage = message
	r.CompletedAt = &at
}

// Continuation is the durable remainder of an execution suspended by a step delay.
// Resuming it continues the execution identified by ExecutionID. StepOffset is the
// workflow index of Steps[0].
type Continuation struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	TriggerType string         `json:"trigger_type"`
	Steps       []*Step        `json:"steps"`
	StepOffset  int            `json:"step_offset"`
	Context     map[string]any `json:"context,omitempty"`
	DueAt       time.Time      `json:"due_at"`
	CreatedAt   time.Time      `json:"created_at"`
	// ClaimedUntil is set while a poller holds the continuation.
	ClaimedUntil *time.Time `json:"claimed_until,omitempty"`
}
