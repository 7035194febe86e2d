package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail delivers a customer notification by email.
	TaskTypeSendEmail = "notify:email"
	// TaskTypeSendSMS delivers a customer notification by SMS.
	TaskTypeSendSMS = "notify:sms"
	// TaskTypeIdempotencyCleanup prunes processed webhook keys.
	TaskTypeIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	// Invoice is carried for logging only.
	Invoice string `json:"invoice,omitempty"`
}

// SendSMSPayload describes a text message.
type SendSMSPayload struct {
	To      string `json:"to"`
	Body    string `json:"body"`
	Invoice string `json:"invoice,omitempty"`
}

// IdempotencyCleanupPayload bounds how long processed keys are kept.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data, asynq.MaxRetry(5)), nil
}

// NewSendSMSTask constructs an Asynq task.
func NewSendSMSTask(payload SendSMSPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendSMS, data, asynq.MaxRetry(3)), nil
}

// NewIdempotencyCleanupTask constructs the periodic cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeIdempotencyCleanup, data), nil
}
