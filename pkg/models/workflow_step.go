package models

import "time"

// StepType identifies the action a step performs.
type StepType string

const (
	StepTypeSendSMS          StepType = "send_sms"
	StepTypeSendEmail        StepType = "send_email"
	StepTypeCreateTask       StepType = "create_task"
	StepTypeUpdateJobStatus  StepType = "update_job_status"
	StepTypeSendNotification StepType = "send_notification"
	StepTypeCreateJob        StepType = "create_job"
	StepTypeWait             StepType = "wait"
)

// Step is one action of a workflow. A step with DelayMinutes > 0 suspends the
// rest of the workflow for that long once it has executed.
type Step struct {
	Type         StepType       `json:"type"                    validate:"required,oneof=send_sms send_email create_task update_job_status send_notification create_job wait"`
	Config       map[string]any `json:"config,omitempty"`
	Conditions   []Condition    `json:"conditions,omitempty"    validate:"dive"`
	DelayMinutes int            `json:"delay_minutes,omitempty" validate:"min=0"`
}

// Delay returns the suspension that follows the step.
func (s *Step) Delay() time.Duration {
	if s.DelayMinutes <= 0 {
		return 0
	}

	return time.Duration(s.DelayMinutes) * time.Minute
}
