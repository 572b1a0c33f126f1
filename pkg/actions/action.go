// Package actions decodes workflow steps into typed actions and performs them
// through the messaging, record and notification collaborators.
package actions

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukex/fieldflow/pkg/models"
)

// ErrUnknownStepType is returned for a step type with no action.
var ErrUnknownStepType = errors.New("unknown step type")

// Action is the decoded form of a step. The set of implementations is closed.
type Action interface {
	StepType() models.StepType
	action()
}

// Recipient names resolved from the event context instead of used literally.
const (
	RecipientClient     = "client"
	RecipientTechnician = "technician"
)

type SendSMS struct {
	To      string `json:"to"`
	Message string `json:"message"`
	Body    string `json:"body"`
}

// Text returns the message template, accepting body as an alias of message.
func (a SendSMS) Text() string {
	if a.Message != "" {
		return a.Message
	}

	return a.Body
}

type SendEmail struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type CreateTask struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	DueInHours  *float64 `json:"due_in_hours"`
	Priority    string   `json:"priority"`
	AssignedTo  string   `json:"assigned_to"`
}

type UpdateJobStatus struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type SendNotification struct {
	Title     string `json:"title"`
	Message   string `json:"message"`
	Recipient string `json:"recipient"`
}

type CreateJob struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Status          string   `json:"status"`
	ScheduledInDays *float64 `json:"scheduled_in_days"`
	ClientID        string   `json:"client_id"`
}

// Wait performs nothing; it exists to carry a delay.
type Wait struct{}

func (SendSMS) StepType() models.StepType          { return models.StepTypeSendSMS }
func (SendEmail) StepType() models.StepType        { return models.StepTypeSendEmail }
func (CreateTask) StepType() models.StepType       { return models.StepTypeCreateTask }
func (UpdateJobStatus) StepType() models.StepType  { return models.StepTypeUpdateJobStatus }
func (SendNotification) StepType() models.StepType { return models.StepTypeSendNotification }
func (CreateJob) StepType() models.StepType        { return models.StepTypeCreateJob }
func (Wait) StepType() models.StepType             { return models.StepTypeWait }

func (SendSMS) action()          {}
func (SendEmail) action()        {}
func (CreateTask) action()       {}
func (UpdateJobStatus) action()  {}
func (SendNotification) action() {}
func (CreateJob) action()        {}
func (Wait) action()             {}

// Parse validates the step config against the schema of its type and decodes it.
//
// nolint:ireturn
func Parse(step *models.Step) (Action, error) {
	if step == nil {
		return nil, errors.New("nil step")
	}

	var target Action

	switch step.Type {
	case models.StepTypeSendSMS:
		target = &SendSMS{}
	case models.StepTypeSendEmail:
		target = &SendEmail{}
	case models.StepTypeCreateTask:
		target = &CreateTask{}
	case models.StepTypeUpdateJobStatus:
		target = &UpdateJobStatus{}
	case models.StepTypeSendNotification:
		target = &SendNotification{}
	case models.StepTypeCreateJob:
		target = &CreateJob{}
	case models.StepTypeWait:
		return Wait{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStepType, step.Type)
	}

	config := step.Config
	if config == nil {
		config = map[string]any{}
	}

	err := validateConfig(step.Type, config)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s config: %w", step.Type, err)
	}

	err = json.Unmarshal(raw, target)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s config: %w", step.Type, err)
	}

	return deref(target), nil
}

// nolint:ireturn
func deref(action Action) Action {
	switch a := action.(type) {
	case *SendSMS:
		return *a
	case *SendEmail:
		return *a
	case *CreateTask:
		return *a
	case *UpdateJobStatus:
		return *a
	case *SendNotification:
		return *a
	case *CreateJob:
		return *a
	default:
		return action
	}
}
