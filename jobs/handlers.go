package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/quotedesk/internal/jobs"
)

// Mailer sends one plain-text email.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMSSender sends one text message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// KeyCleaner prunes idempotency keys older than a retention period.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Handlers processes notification and maintenance tasks.
type Handlers struct {
	Mailer  Mailer
	SMS     SMSSender
	Cleaner KeyCleaner
	Metrics *jobmetrics.Metrics
	Logger  *slog.Logger
}

func (h *Handlers) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// HandleSendEmail processes TaskTypeSendEmail tasks.
func (h *Handlers) HandleSendEmail(ctx context.Context, t *asynq.Task) error {
	tracker := h.Metrics.Track(TaskTypeSendEmail)
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return tracker.End(fmt.Errorf("decode email payload: %v: %w", err, asynq.SkipRetry))
	}
	if strings.TrimSpace(payload.To) == "" {
		return tracker.End(fmt.Errorf("email without recipient: %w", asynq.SkipRetry))
	}
	if h.Mailer == nil {
		return tracker.End(fmt.Errorf("mailer not configured: %w", asynq.SkipRetry))
	}
	if err := h.Mailer.Send(ctx, payload.To, payload.Subject, payload.Body); err != nil {
		h.logger().Warn("send email", slog.String("invoice", payload.Invoice), slog.Any("error", err))
		return tracker.End(err)
	}
	h.logger().Info("email sent", slog.String("invoice", payload.Invoice), slog.String("subject", payload.Subject))
	return tracker.End(nil)
}

// HandleSendSMS processes TaskTypeSendSMS tasks.
func (h *Handlers) HandleSendSMS(ctx context.Context, t *asynq.Task) error {
	tracker := h.Metrics.Track(TaskTypeSendSMS)
	var payload SendSMSPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return tracker.End(fmt.Errorf("decode sms payload: %v: %w", err, asynq.SkipRetry))
	}
	if h.SMS == nil {
		return tracker.End(fmt.Errorf("sms sender not configured: %w", asynq.SkipRetry))
	}
	return tracker.End(h.SMS.SendSMS(ctx, payload.To, payload.Body))
}

// HandleIdempotencyCleanup processes TaskTypeIdempotencyCleanup tasks.
func (h *Handlers) HandleIdempotencyCleanup(ctx context.Context, t *asynq.Task) error {
	tracker := h.Metrics.Track(TaskTypeIdempotencyCleanup)
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.Retention <= 0 {
		return tracker.End(fmt.Errorf("invalid cleanup payload: %w", asynq.SkipRetry))
	}
	if h.Cleaner == nil {
		return tracker.End(nil)
	}
	removed, err := h.Cleaner.Cleanup(ctx, payload.Retention)
	if err != nil {
		return tracker.End(err)
	}
	h.logger().Info("idempotency keys pruned", slog.Int64("removed", removed))
	return tracker.End(nil)
}

// TaskHandlers lists the registrations for NewWorker.
func (h *Handlers) TaskHandlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskTypeSendEmail, Handler: h.HandleSendEmail},
		{Type: TaskTypeSendSMS, Handler: h.HandleSendSMS},
		{Type: TaskTypeIdempotencyCleanup, Handler: h.HandleIdempotencyCleanup},
	}
}
