package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// JetStreamSink publishes envelopes to "<prefix>.<type>" on a JetStream stream.
type JetStreamSink struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
}

// NewJetStreamSink connects to url and makes sure the stream exists.
func NewJetStreamSink(ctx context.Context, url, stream, prefix string, logger *slog.Logger) (*JetStreamSink, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      stream,
		Subjects:  []string{prefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: ensure stream %s: %w", stream, err)
	}
	return &JetStreamSink{nc: nc, js: js, prefix: prefix}, nil
}

func (s *JetStreamSink) Write(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("jetstream: marshal %s: %w", env.Type, err)
	}
	subject := s.prefix + "." + env.Type
	// Message id gives JetStream server-side dedup on redelivery.
	if _, err := s.js.Publish(ctx, subject, data, jetstream.WithMsgID(env.Type+":"+env.Key)); err != nil {
		return fmt.Errorf("jetstream: publish %s: %w", subject, err)
	}
	return nil
}

func (s *JetStreamSink) Close() error {
	return s.nc.Drain()
}
