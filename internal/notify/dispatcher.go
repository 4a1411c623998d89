// Package notify delivers user-facing messages off the request path. Messages
// are queued on a bounded worker queue and handed to a Sender; a full queue
// drops the message rather than blocking settlement or bet placement.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/evetabi/betledger/internal/worker"
)

// Sender is one delivery channel (Telegram, log).
type Sender interface {
	Send(ctx context.Context, userID int64, text string) error
}

// Message is one queued notification.
type Message struct {
	UserID int64
	Text   string
}

// Dispatcher implements service.Notifier on top of a bounded queue.
type Dispatcher struct {
	queue *worker.Queue[Message]
}

// NewDispatcher wires a queue of the given size to sender.
func NewDispatcher(sender Sender, size int, drainTimeout time.Duration, logger *slog.Logger) *Dispatcher {
	handle := func(ctx context.Context, m Message) error {
		return sender.Send(ctx, m.UserID, m.Text)
	}
	return &Dispatcher{
		queue: worker.NewQueue("notify", size, drainTimeout, handle, logger),
	}
}

// Notify enqueues text for userID. It never blocks; a dropped message is
// counted by the queue.
func (d *Dispatcher) Notify(_ context.Context, userID int64, text string) {
	d.queue.Submit(Message{UserID: userID, Text: text})
}

// Run consumes the queue until ctx is cancelled, then drains it.
func (d *Dispatcher) Run(ctx context.Context) error {
	return d.queue.Run(ctx)
}

// LogSender writes messages to the log. Used when no bot token is configured.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender returns a Sender that only logs.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("component", "notify")}
}

// Send logs the message at info level.
func (s *LogSender) Send(ctx context.Context, userID int64, text string) error {
	s.logger.InfoContext(ctx, "notification", "user_id", userID, "text", text)
	return nil
}
