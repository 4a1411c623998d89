// Package publish emits domain events (bet placed, event resolved, ...) to a
// message bus after the owning transaction has committed. Delivery is best
// effort: events go through a bounded queue and failures are logged.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/evetabi/betledger/internal/worker"
)

// Domain event types.
const (
	TypeBetPlaced        = "bet.placed"
	TypeEventCreated     = "event.created"
	TypeEventResolved    = "event.resolved"
	TypeEventCancelled   = "event.cancelled"
	TypePaymentConfirmed = "payment.confirmed"
)

// Envelope is the wire form of one domain event.
type Envelope struct {
	Type       string          `json:"type"`
	Key        string          `json:"key"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Sink writes envelopes to a concrete bus.
type Sink interface {
	Write(ctx context.Context, env Envelope) error
	Close() error
}

// Publisher queues envelopes for a Sink.
type Publisher struct {
	sink   Sink
	queue  *worker.Queue[Envelope]
	logger *slog.Logger
}

// NewPublisher wraps sink with a bounded queue.
func NewPublisher(sink Sink, size int, drainTimeout time.Duration, logger *slog.Logger) *Publisher {
	logger = logger.With("component", "publisher")
	return &Publisher{
		sink:   sink,
		queue:  worker.NewQueue("publish", size, drainTimeout, sink.Write, logger),
		logger: logger,
	}
}

// Publish serialises payload and queues it. It never blocks.
func (p *Publisher) Publish(ctx context.Context, eventType, key string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		p.logger.WarnContext(ctx, "publish: marshal payload", "type", eventType, "error", err)
		return
	}
	p.queue.Submit(Envelope{Type: eventType, Key: key, Payload: body, OccurredAt: time.Now().UTC()})
}

// Run drains the queue into the sink until ctx is cancelled, then closes the sink.
func (p *Publisher) Run(ctx context.Context) error {
	err := p.queue.Run(ctx)
	if cerr := p.sink.Close(); cerr != nil {
		p.logger.Warn("publish: close sink", "error", cerr)
	}
	return err
}

// NopSink discards everything. Used when no bus is configured.
type NopSink struct{}

func (NopSink) Write(context.Context, Envelope) error { return nil }
func (NopSink) Close() error                          { return nil }

// Options selects and configures a sink.
type Options struct {
	Driver  string // none | kafka | nats
	Brokers []string
	Topic   string
	Stream  string
}

// NewSink builds the sink named by opts.Driver.
func NewSink(ctx context.Context, opts Options, logger *slog.Logger) (Sink, error) {
	switch opts.Driver {
	case "", "none":
		return NopSink{}, nil
	case "kafka":
		return NewKafkaSink(opts.Brokers, opts.Topic), nil
	case "nats":
		if len(opts.Brokers) == 0 {
			return nil, fmt.Errorf("publish: nats needs a server url")
		}
		return NewJetStreamSink(ctx, opts.Brokers[0], opts.Stream, opts.Topic, logger)
	default:
		return nil, fmt.Errorf("publish: unknown driver %q", opts.Driver)
	}
}
