// Package eventsource turns database row-change notifications carried by the event
// bus into calls on per-table handlers, and maps row changes to business events.
package eventsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dukex/fieldflow/pkg/eventbus"
	"github.com/dukex/fieldflow/pkg/events"
	"github.com/dukex/fieldflow/pkg/fieldpath"
)

// RowChange is one inserted or updated row. Old is nil for inserts.
type RowChange struct {
	Table     string
	Operation string
	Old       map[string]any
	New       map[string]any
}

type Handler func(ctx context.Context, change RowChange) error

var ErrAlreadySubscribed = errors.New("row change subscription already active")

// Source consumes row.changed events from the bus. Handlers registered with
// OnInsert and OnUpdate are called for every matching change, in registration order.
type Source struct {
	logger *slog.Logger
	bus    eventbus.EventBus

	mu       sync.Mutex
	handlers map[string][]Handler
	cancel   context.CancelFunc
	done     <-chan struct{}
}

func NewSource(logger *slog.Logger, bus eventbus.EventBus) *Source {
	return &Source{
		logger:   logger.With("module", "event_source"),
		bus:      bus,
		handlers: make(map[string][]Handler),
	}
}

func (s *Source) OnInsert(table string, handler Handler) {
	s.on(table, events.OperationInsert, handler)
}

func (s *Source) OnUpdate(table string, handler Handler) {
	s.on(table, events.OperationUpdate, handler)
}

func (s *Source) on(table, operation string, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := handlerKey(table, operation)
	s.handlers[key] = append(s.handlers[key], handler)
}

func handlerKey(table, operation string) string {
	return strings.ToLower(table) + ":" + strings.ToUpper(operation)
}

// Subscribe starts delivering row changes until ctx is cancelled or Unsubscribe
// is called. It can be called again once the previous subscription has ended.
func (s *Source) Subscribe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrAlreadySubscribed
	}

	err := s.bus.Handle(events.RowChangedEvent, s.handle)
	if err != nil {
		return fmt.Errorf("failed to register row change handler: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)

	done, err := s.bus.Subscribe(subCtx)
	if err != nil {
		cancel()

		return fmt.Errorf("failed to subscribe to row changes: %w", err)
	}

	s.cancel = cancel
	s.done = done
	s.logger.Info("Subscribed to row changes")

	return nil
}

// Unsubscribe stops the subscription and returns once every row change already
// taken from the bus has been handled.
func (s *Source) Unsubscribe() {
	s.mu.Lock()

	if s.cancel == nil {
		s.mu.Unlock()

		return
	}

	s.cancel()
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if done != nil {
		<-done
	}

	s.logger.Info("Unsubscribed from row changes")
}

func (s *Source) Subscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cancel != nil
}

// Emit publishes a row change to the bus, keyed by table and row id.
func (s *Source) Emit(ctx context.Context, change RowChange) error {
	id, _ := fieldpath.Resolve(change.New, "id")

	return s.bus.Publish(ctx, change.Table+":"+fieldpath.String(id), events.RowChanged{
		BaseEvent: events.NewBaseEvent(events.RowChangedEvent),
		Table:     change.Table,
		Operation: strings.ToUpper(change.Operation),
		Old:       change.Old,
		New:       change.New,
	})
}

func (s *Source) handle(ctx context.Context, event any) error {
	rowChanged, ok := event.(*events.RowChanged)
	if !ok {
		return nil
	}

	change := RowChange{
		Table:     rowChanged.Table,
		Operation: strings.ToUpper(rowChanged.Operation),
		Old:       rowChanged.Old,
		New:       rowChanged.New,
	}

	s.mu.Lock()
	handlers := append([]Handler(nil), s.handlers[handlerKey(change.Table, change.Operation)]...)
	s.mu.Unlock()

	if len(handlers) == 0 {
		return nil
	}

	var errs []error

	for _, handler := range handlers {
		err := handler(ctx, change)
		if err != nil {
			s.logger.ErrorContext(ctx, "Row change handler failed",
				"table", change.Table, "operation", change.Operation, "error", err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
