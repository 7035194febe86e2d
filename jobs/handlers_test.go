package jobs

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type recordingMailer struct {
	sent []SendEmailPayload
	err  error
}

func (m *recordingMailer) Send(_ context.Context, to, subject, body string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, SendEmailPayload{To: to, Subject: subject, Body: body})
	return nil
}

type fixedCleaner struct {
	retention time.Duration
}

func (c *fixedCleaner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	c.retention = olderThan
	return 3, nil
}

func TestHandleSendEmailDelivers(t *testing.T) {
	mailer := &recordingMailer{}
	h := &Handlers{Mailer: mailer}
	task, err := NewSendEmailTask(SendEmailPayload{To: "ada@example.com", Subject: "Payment received", Body: "Thanks"})
	require.NoError(t, err)

	require.NoError(t, h.HandleSendEmail(context.Background(), task))
	require.Len(t, mailer.sent, 1)
	require.Equal(t, "Payment received", mailer.sent[0].Subject)
}

func TestHandleSendEmailSkipsRetryOnBadPayload(t *testing.T) {
	h := &Handlers{Mailer: &recordingMailer{}}
	err := h.HandleSendEmail(context.Background(), asynq.NewTask(TaskTypeSendEmail, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	task, err := NewSendEmailTask(SendEmailPayload{Subject: "no recipient"})
	require.NoError(t, err)
	require.ErrorIs(t, h.HandleSendEmail(context.Background(), task), asynq.SkipRetry)
}

func TestHandleSendEmailRetriesTransportErrors(t *testing.T) {
	h := &Handlers{Mailer: &recordingMailer{err: errors.New("connection refused")}}
	task, err := NewSendEmailTask(SendEmailPayload{To: "ada@example.com"})
	require.NoError(t, err)
	err = h.HandleSendEmail(context.Background(), task)
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleIdempotencyCleanup(t *testing.T) {
	cleaner := &fixedCleaner{}
	h := &Handlers{Cleaner: cleaner}
	task, err := NewIdempotencyCleanupTask(72 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, h.HandleIdempotencyCleanup(context.Background(), task))
	require.Equal(t, 72*time.Hour, cleaner.retention)
}

func TestBuildMessageStripsHeaderInjection(t *testing.T) {
	msg := string(buildMessage("shop@example.com", "ada@example.com", "Hi\r\nBcc: evil@example.com", "line1\nline2", time.Unix(0, 0)))
	require.Contains(t, msg, "Subject: Hi  Bcc: evil@example.com\r\n")
	require.True(t, strings.HasSuffix(msg, "line1\r\nline2"))
}
