package models

import "time"

// RecordSourceAutomation tags records created by workflow steps.
const RecordSourceAutomation = "automation"

// Task statuses that exclude a task from the overdue sweep.
const (
	TaskStatusPending   = "pending"
	TaskStatusCompleted = "completed"
	TaskStatusCancelled = "cancelled"
)

const JobStatusScheduled = "scheduled"

// Task is a to-do item, optionally attached to a job or client.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority,omitempty"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	JobID       string     `json:"job_id,omitempty"`
	ClientID    string     `json:"client_id,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Source      string     `json:"source,omitempty"`
	WorkflowID  string     `json:"workflow_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Job is a unit of field work for a client.
type Job struct {
	ID           string     `json:"id"`
	ClientID     string     `json:"client_id,omitempty"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Status       string     `json:"status"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	Source       string     `json:"source,omitempty"`
	WorkflowID   string     `json:"workflow_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Channel is the medium a communication was sent through.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// CommunicationLog is the audit entry of an outbound message.
type CommunicationLog struct {
	ID         string    `json:"id"`
	Channel    Channel   `json:"channel"`
	Direction  string    `json:"direction"`
	Recipient  string    `json:"recipient"`
	Subject    string    `json:"subject,omitempty"`
	Body       string    `json:"body"`
	ExternalID string    `json:"external_id,omitempty"`
	Status     string    `json:"status"`
	ClientID   string    `json:"client_id,omitempty"`
	JobID      string    `json:"job_id,omitempty"`
	WorkflowID string    `json:"workflow_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Notification is an in-app message raised by a workflow.
type Notification struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Recipient  string    `json:"recipient,omitempty"`
	WorkflowID string    `json:"workflow_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
