package identity

import (
	"context"
	"encoding/json"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// TaskTypeEmailDeliver is the queue task type for outbound email.
const TaskTypeEmailDeliver = "email:deliver"

// EmailMessage is the unit of work handed to the email queue: recipient
// plus the templated context the sender renders into the final mail.
type EmailMessage struct {
	UserID    uuid.UUID         `json:"user_id"`
	Recipient string            `json:"recipient"`
	EmailType EmailType         `json:"email_type"`
	Context   map[string]string `json:"context,omitempty"`
}

// NewEmailDeliverTask wraps an EmailMessage in an asynq task.
func NewEmailDeliverTask(msg EmailMessage) (*asynq.Task, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeEmailDeliver, data), nil
}

// NewQueueClient builds the asynq producer client.
func NewQueueClient(redisAddr, redisPassword string) *asynq.Client {
	return asynq.NewClient(asynq.RedisClientOpt{
		Addr:     redisAddr,
		Password: redisPassword,
	})
}

// NewQueueServer builds the asynq consumer server for cmd/worker.
func NewQueueServer(redisAddr, redisPassword string, concurrency int) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 10
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     redisAddr,
			Password: redisPassword,
		},
		asynq.Config{
			Concurrency: concurrency,
		},
	)
}

// QueueDispatcher enqueues email work onto the asynq queue. It is the
// fire-and-forget half of the email pipeline: a nil return only means
// the broker accepted the task.
type QueueDispatcher struct {
	client *asynq.Client
	logger Logger
}

var _ EmailDispatcher = (*QueueDispatcher)(nil)

// NewQueueDispatcher builds a dispatcher over the given asynq client.
func NewQueueDispatcher(client *asynq.Client, logger Logger) *QueueDispatcher {
	if logger == nil {
		logger = defLogger{}
	}
	return &QueueDispatcher{client: client, logger: logger}
}

// DispatchEmail enqueues the message for background delivery.
func (d *QueueDispatcher) DispatchEmail(ctx context.Context, msg EmailMessage) error {
	task, err := NewEmailDeliverTask(msg)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode email task")
	}

	info, err := d.client.EnqueueContext(ctx, task)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to enqueue email task")
	}

	d.logger.Debug("enqueued %s email for %s as task %s", msg.EmailType, msg.Recipient, info.ID)
	return nil
}

// MailWorker consumes email tasks and hands them to the EmailSender
// collaborator. Delivery failures are logged and swallowed: a malformed
// recipient must never fail the request that enqueued it, and retrying
// it would not help.
type MailWorker struct {
	sender EmailSender
	logger Logger
}

// NewMailWorker builds the queue consumer.
func NewMailWorker(sender EmailSender, logger Logger) *MailWorker {
	if logger == nil {
		logger = defLogger{}
	}
	return &MailWorker{sender: sender, logger: logger}
}

// RegisterHandlers mounts the worker on an asynq mux.
func (w *MailWorker) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskTypeEmailDeliver, w.HandleEmailDeliver)
}

// HandleEmailDeliver decodes and delivers one email task.
func (w *MailWorker) HandleEmailDeliver(ctx context.Context, t *asynq.Task) error {
	var msg EmailMessage
	if err := json.Unmarshal(t.Payload(), &msg); err != nil {
		w.logger.Error("discarding undecodable email task: %v", err)
		return nil
	}

	if err := w.sender.SendEmail(ctx, msg); err != nil {
		w.logger.Error("email delivery to %s failed: %v", msg.Recipient, err)
		return nil
	}

	w.logger.Info("delivered %s email to %s", msg.EmailType, msg.Recipient)
	return nil
}

// LogEmailSender is a development EmailSender that prints instead of
// delivering. Plug a real transport in production.
type LogEmailSender struct {
	logger Logger
}

var _ EmailSender = (*LogEmailSender)(nil)

// NewLogEmailSender builds the printing sender.
func NewLogEmailSender(logger Logger) *LogEmailSender {
	if logger == nil {
		logger = defLogger{}
	}
	return &LogEmailSender{logger: logger}
}

// SendEmail logs the would-be delivery.
func (s *LogEmailSender) SendEmail(_ context.Context, msg EmailMessage) error {
	s.logger.Info("====== SENDING EMAIL ======")
	s.logger.Info("to: %s type: %s", msg.Recipient, msg.EmailType)
	for k, v := range msg.Context {
		s.logger.Info("%s: %s", k, v)
	}
	return nil
}
