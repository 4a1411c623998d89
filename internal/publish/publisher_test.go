package publish_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/evetabi/betledger/internal/publish"
)

type memSink struct {
	mu     sync.Mutex
	got    []publish.Envelope
	closed bool
}

func (m *memSink) Write(_ context.Context, env publish.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, env)
	return nil
}

func (m *memSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func TestPublisher_FlushesAndClosesSink(t *testing.T) {
	sink := &memSink{}
	p := publish.NewPublisher(sink, 4, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))

	p.Publish(context.Background(), publish.TypeEventResolved, "evt-1", map[string]any{"winners": 2})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = p.Run(ctx)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if !sink.closed {
		t.Error("sink not closed")
	}
	if len(sink.got) != 1 || sink.got[0].Type != publish.TypeEventResolved || sink.got[0].Key != "evt-1" {
		t.Fatalf("got = %+v", sink.got)
	}
	var body map[string]int
	if err := json.Unmarshal(sink.got[0].Payload, &body); err != nil || body["winners"] != 2 {
		t.Errorf("payload = %s", sink.got[0].Payload)
	}
}

func TestNewSink_UnknownDriver(t *testing.T) {
	if _, err := publish.NewSink(context.Background(), publish.Options{Driver: "smtp"}, slog.Default()); err == nil {
		t.Error("expected error for unknown driver")
	}
	s, err := publish.NewSink(context.Background(), publish.Options{Driver: "none"}, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(publish.NopSink); !ok {
		t.Errorf("sink = %T, want NopSink", s)
	}
}
