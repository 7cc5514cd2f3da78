// Package mail composes account notifications and moves them through the
// message queue to the delivery worker.
package mail

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gotours/apiserver/config"
	"github.com/gotours/apiserver/internal/mq"
	"github.com/gotours/apiserver/types"
)

// Job kinds carried in the queue message attributes.
const (
	KindWelcome       = "welcome"
	KindPasswordReset = "password_reset"

	attrKind = "kind"
)

// Job is the queued representation of one outbound email.
type Job struct {
	Kind    string `json:"kind"`
	To      string `json:"to"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// QueueMailer publishes mail jobs instead of talking SMTP in-request.
// Delivery happens in the worker process.
type QueueMailer struct {
	backend mq.Backend
	queue   string
	from    string
}

func NewQueueMailer(backend mq.Backend, cfg config.MailConfig) *QueueMailer {
	return &QueueMailer{backend: backend, queue: cfg.Queue, from: cfg.From}
}

// SendWelcome enqueues the post-signup greeting.
func (m *QueueMailer) SendWelcome(ctx context.Context, user types.User, loginURL string) error {
	body := fmt.Sprintf(
		"Hi %s,\n\nWelcome to GoTours! Your account is ready.\nManage it any time at %s.\n",
		user.Name, loginURL)
	return m.enqueue(ctx, Job{
		Kind:    KindWelcome,
		To:      user.Email,
		From:    m.from,
		Subject: "Welcome to GoTours!",
		Body:    body,
	})
}

// SendPasswordReset enqueues the reset instructions. The reset URL embeds
// the one-time token, so the job body is the only place it may appear.
func (m *QueueMailer) SendPasswordReset(ctx context.Context, user types.User, resetURL string) error {
	body := fmt.Sprintf(
		"Hi %s,\n\nForgot your password? Submit a PATCH request with your new password to:\n%s\n\nThe link is valid for 10 minutes. If you didn't ask for a reset, ignore this email.\n",
		user.Name, resetURL)
	return m.enqueue(ctx, Job{
		Kind:    KindPasswordReset,
		To:      user.Email,
		From:    m.from,
		Subject: "Your password reset token (valid for 10 minutes)",
		Body:    body,
	})
}

func (m *QueueMailer) enqueue(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal mail job: %w", err)
	}
	if _, err := m.backend.Publish(ctx, m.queue, data, map[string]string{attrKind: job.Kind}); err != nil {
		return fmt.Errorf("publish mail job: %w", err)
	}
	return nil
}
