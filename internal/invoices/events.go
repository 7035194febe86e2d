package invoices

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/quotedesk/internal/platform/db"
)

// Notification is the outward message produced for each recorded event.
type Notification struct {
	InvoiceNumber string
	Event         EventType
	Subject       string
	Message       string
	Email         string
	Phone         string
}

// Notifier delivers notifications. Implementations may fail; failures never
// reach the caller of EventLog.Record.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type eventStore interface {
	InsertEvent(ctx context.Context, ev Event) (*Event, error)
}

// EventLog appends invoice events and fires one notification per event once
// the surrounding transaction has committed.
type EventLog struct {
	store    eventStore
	tx       db.Transactor
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewEventLog constructs an EventLog.
func NewEventLog(store eventStore, tx db.Transactor, notifier Notifier, logger *slog.Logger) *EventLog {
	return &EventLog{store: store, tx: tx, notifier: notifier, logger: logger, now: time.Now}
}

// Record appends one event row and schedules exactly one notification attempt.
func (l *EventLog) Record(ctx context.Context, inv *Invoice, typ EventType, message string) (*Event, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEventType, typ)
	}
	ev, err := l.store.InsertEvent(ctx, Event{
		InvoiceID: inv.ID,
		Type:      typ,
		Message:   message,
		CreatedAt: l.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("invoice event: append: %w", err)
	}
	snapshot := *inv
	recorded := *ev
	l.tx.AfterCommit(ctx, func() {
		l.notify(context.WithoutCancel(ctx), &snapshot, recorded)
	})
	return ev, nil
}

func (l *EventLog) notify(ctx context.Context, inv *Invoice, ev Event) {
	if l.notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("invoice notification panicked", slog.String("invoice", inv.Number), slog.Any("panic", r))
		}
	}()
	subject := ev.Type.Subject()
	message := ev.Message
	if message == "" {
		message = subject
	}
	n := Notification{
		InvoiceNumber: inv.Number,
		Event:         ev.Type,
		Subject:       fmt.Sprintf("%s for %s", subject, inv.Number),
		Message:       message,
		Email:         inv.ClientEmail,
		Phone:         inv.ClientPhone,
	}
	if err := l.notifier.Notify(ctx, n); err != nil {
		l.logger.Warn("invoice notification failed",
			slog.String("invoice", inv.Number),
			slog.String("event", string(ev.Type)),
			slog.Any("error", err))
	}
}
