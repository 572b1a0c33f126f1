// Package events defines the messages exchanged on the event bus: row changes coming
// in from the database and execution lifecycle notifications going out.
package events

import (
	"time"

	"github.com/dukex/fieldflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every fieldflow event; the event type travels in message metadata.
const Topic = "fieldflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Inbound database change notifications.
	RowChangedEvent EventType = "row.changed"

	// Execution lifecycle events.
	ExecutionCompletedEvent EventType = "automation.execution.completed"
	ExecutionFailedEvent    EventType = "automation.execution.failed"

	// Outbound requests to delivery services.
	MessageRequestedEvent   EventType = "automation.message.requested"
	NotificationRaisedEvent EventType = "automation.notification.raised"
)

// Row change operations.
const (
	OperationInsert = "INSERT"
	OperationUpdate = "UPDATE"
)

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

// RowChanged is a database change notification for one row.
type RowChanged struct {
	BaseEvent

	Table     string         `json:"table"`
	Operation string         `json:"operation"`
	Old       map[string]any `json:"old,omitempty"`
	New       map[string]any `json:"new"`
}

func (e RowChanged) GetType() EventType {
	return RowChangedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	WorkflowID  string        `json:"workflow_id"`
	TriggerType string        `json:"trigger_type"`
	Duration    time.Duration `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	WorkflowID  string        `json:"workflow_id"`
	TriggerType string        `json:"trigger_type"`
	Error       string        `json:"error"`
	Duration    time.Duration `json:"duration"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

// MessageRequested asks a delivery service to send an SMS or email.
type MessageRequested struct {
	BaseEvent

	MessageID string         `json:"message_id"`
	Channel   models.Channel `json:"channel"`
	To        string         `json:"to"`
	Subject   string         `json:"subject,omitempty"`
	Body      string         `json:"body"`
}

func (e MessageRequested) GetType() EventType {
	return MessageRequestedEvent
}

type NotificationRaised struct {
	BaseEvent

	Notification *models.Notification `json:"notification"`
}

func (e NotificationRaised) GetType() EventType {
	return NotificationRaisedEvent
}
