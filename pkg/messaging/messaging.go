// Package messaging provides the outbound delivery adapters used by step execution.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/fieldflow/pkg/eventbus"
	"github.com/dukex/fieldflow/pkg/events"
	"github.com/dukex/fieldflow/pkg/models"
	"github.com/google/uuid"
)

var ErrNoRecipient = errors.New("message has no recipient")

// BusMessenger hands messages to a delivery service by publishing
// automation.message.requested events. The returned id is the message id carried
// by the event.
type BusMessenger struct {
	publisher eventbus.EventPublisher
}

func NewBusMessenger(publisher eventbus.EventPublisher) *BusMessenger {
	return &BusMessenger{publisher: publisher}
}

func (m *BusMessenger) SendSMS(ctx context.Context, to, body string) (string, error) {
	return m.request(ctx, models.ChannelSMS, to, "", body)
}

func (m *BusMessenger) SendEmail(ctx context.Context, to, subject, body string) (string, error) {
	return m.request(ctx, models.ChannelEmail, to, subject, body)
}

func (m *BusMessenger) request(ctx context.Context, channel models.Channel, to, subject, body string) (string, error) {
	if to == "" {
		return "", fmt.Errorf("%s: %w", channel, ErrNoRecipient)
	}

	event := events.MessageRequested{
		BaseEvent: events.NewBaseEvent(events.MessageRequestedEvent),
		MessageID: uuid.NewString(),
		Channel:   channel,
		To:        to,
		Subject:   subject,
		Body:      body,
	}

	err := m.publisher.Publish(ctx, to, event)
	if err != nil {
		return "", fmt.Errorf("failed to request %s delivery: %w", channel, err)
	}

	return event.MessageID, nil
}

// LogMessenger only logs messages. Used in development.
type LogMessenger struct {
	logger *slog.Logger
}

func NewLogMessenger(logger *slog.Logger) *LogMessenger {
	return &LogMessenger{logger: logger.With("module", "log_messenger")}
}

func (m *LogMessenger) SendSMS(ctx context.Context, to, body string) (string, error) {
	id := uuid.NewString()
	m.logger.InfoContext(ctx, "SMS", "id", id, "to", to, "body", body)

	return id, nil
}

func (m *LogMessenger) SendEmail(ctx context.Context, to, subject, body string) (string, error) {
	id := uuid.NewString()
	m.logger.InfoContext(ctx, "Email", "id", id, "to", to, "subject", subject, "body", body)

	return id, nil
}

// BusNotifier publishes automation.notification.raised events.
type BusNotifier struct {
	publisher eventbus.EventPublisher
}

func NewBusNotifier(publisher eventbus.EventPublisher) *BusNotifier {
	return &BusNotifier{publisher: publisher}
}

func (n *BusNotifier) Notify(ctx context.Context, notification *models.Notification) error {
	return n.publisher.Publish(ctx, notification.WorkflowID, events.NotificationRaised{
		BaseEvent:    events.NewBaseEvent(events.NotificationRaisedEvent),
		Notification: notification,
	})
}

type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("module", "log_notifier")}
}

func (n *LogNotifier) Notify(ctx context.Context, notification *models.Notification) error {
	n.logger.InfoContext(ctx, "Notification",
		"title", notification.Title,
		"message", notification.Message,
		"recipient", notification.Recipient,
		"workflow_id", notification.WorkflowID)

	return nil
}
