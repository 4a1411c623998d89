package worker_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/evetabi/betledger/internal/worker"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestQueue_DropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	q := worker.NewQueue("t-full", 2, time.Second, func(ctx context.Context, _ int) error {
		<-block
		return nil
	}, discard)

	if !q.Submit(1) || !q.Submit(2) {
		t.Fatal("first two submits should fit")
	}
	if q.Submit(3) {
		t.Error("third submit should be dropped")
	}
	close(block)
}

func TestQueue_DrainsOnShutdown(t *testing.T) {
	var got atomic.Int64
	q := worker.NewQueue("t-drain", 16, time.Second, func(ctx context.Context, n int) error {
		got.Add(int64(n))
		return nil
	}, discard)

	for i := 1; i <= 10; i++ {
		q.Submit(i)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = q.Run(ctx)
	}()
	wg.Wait()

	if got.Load() != 55 {
		t.Errorf("processed sum = %d, want 55", got.Load())
	}
	if q.Submit(99) {
		t.Error("submit after shutdown should be refused")
	}
}

func TestQueue_DrainTimeoutBounded(t *testing.T) {
	q := worker.NewQueue("t-slow", 8, 50*time.Millisecond, func(ctx context.Context, _ int) error {
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
		return nil
	}, discard)
	for i := 0; i < 5; i++ {
		q.Submit(i)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_ = q.Run(ctx)
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("drain took %s, want bounded by timeout", elapsed)
	}
}

func TestQueue_HandlerPanicDoesNotKillConsumer(t *testing.T) {
	var ok atomic.Bool
	q := worker.NewQueue("t-panic", 4, time.Second, func(ctx context.Context, n int) error {
		if n == 0 {
			panic("boom")
		}
		ok.Store(true)
		return nil
	}, discard)
	q.Submit(0)
	q.Submit(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = q.Run(ctx)

	if !ok.Load() {
		t.Error("item after panic was not processed")
	}
}
