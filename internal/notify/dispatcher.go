// Package notify turns invoice milestones into queued email and SMS tasks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/quotedesk/internal/company"
	"github.com/odyssey-erp/quotedesk/internal/invoices"
	jobmetrics "github.com/odyssey-erp/quotedesk/internal/jobs"
	"github.com/odyssey-erp/quotedesk/jobs"
)

// Enqueuer submits delivery tasks.
type Enqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload jobs.SendEmailPayload) error
	EnqueueSendSMS(ctx context.Context, payload jobs.SendSMSPayload) error
}

// CompanySource supplies the sign-off shown in messages.
type CompanySource interface {
	Details(ctx context.Context) company.Details
}

// Dispatcher implements invoices.Notifier on top of the job queue.
type Dispatcher struct {
	queue      Enqueuer
	company    CompanySource
	smsEnabled bool
	baseURL    string
	metrics    *jobmetrics.Metrics
	logger     *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSMS enables the SMS channel.
func WithSMS(enabled bool) Option {
	return func(d *Dispatcher) { d.smsEnabled = enabled }
}

// WithCompany signs messages with the company name and contact details.
func WithCompany(src CompanySource) Option {
	return func(d *Dispatcher) { d.company = src }
}

// WithMetrics counts enqueue outcomes.
func WithMetrics(m *jobmetrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher constructs a Dispatcher. baseURL is used for invoice links.
func NewDispatcher(queue Enqueuer, baseURL string, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{queue: queue, baseURL: strings.TrimRight(baseURL, "/"), logger: logger}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify enqueues one email and, when enabled, one SMS.
func (d *Dispatcher) Notify(ctx context.Context, n invoices.Notification) error {
	var errs []error
	if n.Email != "" {
		err := d.queue.EnqueueSendEmail(ctx, jobs.SendEmailPayload{
			To:      n.Email,
			Subject: n.Subject,
			Body:    d.emailBody(ctx, n),
			Invoice: n.InvoiceNumber,
		})
		d.metrics.Enqueued(jobs.TaskTypeSendEmail, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("notify: email: %w", err))
		}
	}
	if d.smsEnabled && n.Phone != "" {
		err := d.queue.EnqueueSendSMS(ctx, jobs.SendSMSPayload{
			To:      n.Phone,
			Body:    fmt.Sprintf("%s: %s", n.InvoiceNumber, n.Message),
			Invoice: n.InvoiceNumber,
		})
		d.metrics.Enqueued(jobs.TaskTypeSendSMS, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("notify: sms: %w", err))
		}
	}
	if len(errs) == 0 {
		d.logger.Debug("notification queued", slog.String("invoice", n.InvoiceNumber), slog.String("event", string(n.Event)))
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) emailBody(ctx context.Context, n invoices.Notification) string {
	var b strings.Builder
	b.WriteString(n.Message)
	b.WriteString("\n\n")
	if d.baseURL != "" {
		fmt.Fprintf(&b, "View your invoice: %s/account/invoices/%s\n\n", d.baseURL, n.InvoiceNumber)
	}
	if d.company != nil {
		c := d.company.Details(ctx)
		b.WriteString(c.Name)
		if c.Email != "" {
			b.WriteString("\n" + c.Email)
		}
		if c.Phone != "" {
			b.WriteString("\n" + c.Phone)
		}
		b.WriteString("\n")
	}
	return b.String()
}
