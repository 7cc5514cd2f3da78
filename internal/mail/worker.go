package mail

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gotours/apiserver/internal/mq"
	"go.uber.org/zap"
)

// Sender performs the actual delivery of one composed email.
type Sender interface {
	Send(ctx context.Context, job Job) error
}

// LogSender writes emails to the log instead of an SMTP relay. It is the
// dev-environment sender; the body is redacted because reset bodies carry
// one-time tokens.
type LogSender struct {
	Logger *zap.Logger
}

func (s LogSender) Send(_ context.Context, job Job) error {
	s.Logger.Info("mail delivered",
		zap.String("kind", job.Kind),
		zap.String("to", job.To),
		zap.String("subject", job.Subject))
	return nil
}

// Worker drains the mail queue and hands each job to the sender.
type Worker struct {
	backend mq.Backend
	queue   string
	sender  Sender
	logger  *zap.Logger
}

func NewWorker(backend mq.Backend, queue string, sender Sender, logger *zap.Logger) *Worker {
	return &Worker{backend: backend, queue: queue, sender: sender, logger: logger}
}

// Run consumes jobs until the context is cancelled. Undecodable messages
// are dropped with a log line; retrying them can never succeed.
func (w *Worker) Run(ctx context.Context) error {
	return w.backend.Subscribe(ctx, w.queue, w.handle)
}

func (w *Worker) handle(ctx context.Context, msg mq.Message) error {
	var job Job
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		w.logger.Error("dropping undecodable mail job",
			zap.String("message_id", msg.ID),
			zap.Error(err))
		return nil
	}

	if err := w.sender.Send(ctx, job); err != nil {
		w.logger.Warn("mail delivery failed, requeueing",
			zap.String("message_id", msg.ID),
			zap.String("kind", job.Kind),
			zap.Error(err))
		return fmt.Errorf("send %s mail: %w", job.Kind, err)
	}
	return nil
}
