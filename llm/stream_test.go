package llm

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestTextStreamFragments(t *testing.T) {
	var released atomic.Int32
	var completed string
	stream := NewTextStream(context.Background(), StreamOptions{
		Provider:   "test",
		Release:    func() error { released.Add(1); return nil },
		OnComplete: func(text string, err error) { completed = text },
	}, SliceProducer([]string{"Hel", "", "lo", " world"}, nil))

	var parts []string
	for stream.Next() {
		parts = append(parts, stream.Text())
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(parts, "|") != "Hel|lo| world" {
		t.Errorf("empty fragments must be skipped, got %q", parts)
	}
	if completed != "Hello world" {
		t.Errorf("unexpected completion text %q", completed)
	}
	if stream.Next() {
		t.Errorf("Next after the end must stay false")
	}
	_ = stream.Close()
	_ = stream.Close()
	if released.Load() != 1 {
		t.Errorf("release must run exactly once, ran %d times", released.Load())
	}
}

func TestTextStreamProducerError(t *testing.T) {
	var gotErr error
	stream := NewTextStream(context.Background(), StreamOptions{
		Provider:   "test",
		OnComplete: func(_ string, err error) { gotErr = err },
	}, SliceProducer([]string{"partial"}, errors.New("connection reset")))

	text, err := Collect(stream)
	if text != "partial" {
		t.Errorf("partial text must be delivered, got %q", text)
	}
	if !errors.Is(err, ErrTransient) {
		t.Errorf("expected a normalized transient error, got %v", err)
	}
	if !errors.Is(gotErr, ErrTransient) {
		t.Errorf("OnComplete must see the failure, got %v", gotErr)
	}
}

func TestTextStreamChunkTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	stream := NewTextStream(context.Background(), StreamOptions{Provider: "test", ChunkTimeout: 50 * time.Millisecond},
		func(ctx context.Context, emit func(string) error) error {
			if err := emit("first"); err != nil {
				return err
			}
			select {
			case <-release:
			case <-ctx.Done():
			}
			return ctx.Err()
		})

	if !stream.Next() || stream.Text() != "first" {
		t.Fatalf("expected the first fragment")
	}
	start := time.Now()
	if stream.Next() {
		t.Fatalf("expected the stream to stall")
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("timeout took too long")
	}
	if !errors.Is(stream.Err(), ErrTransient) || !strings.Contains(stream.Err().Error(), "stalled") {
		t.Errorf("expected a stall error, got %v", stream.Err())
	}
}

func TestTextStreamCloseEarly(t *testing.T) {
	var gotErr error
	var cancelled atomic.Bool
	stream := NewTextStream(context.Background(), StreamOptions{
		Provider:   "test",
		OnComplete: func(_ string, err error) { gotErr = err },
	}, func(ctx context.Context, emit func(string) error) error {
		for {
			if err := emit("x"); err != nil {
				cancelled.Store(true)
				return err
			}
		}
	})

	if !stream.Next() {
		t.Fatalf("expected a fragment")
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if stream.Next() {
		t.Errorf("Next after Close must be false")
	}
	if !errors.Is(gotErr, ErrPermanent) {
		t.Errorf("OnComplete must see an early close, got %v", gotErr)
	}
	if stream.Err() != nil {
		t.Errorf("closing is not a stream failure, got %v", stream.Err())
	}

	deadline := time.Now().Add(2 * time.Second)
	for !cancelled.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !cancelled.Load() {
		t.Errorf("producer must stop after Close")
	}
}

func TestTextStreamContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stream := NewTextStream(ctx, StreamOptions{Provider: "test"}, func(ctx context.Context, emit func(string) error) error {
		<-ctx.Done()
		return ctx.Err()
	})
	cancel()
	if stream.Next() {
		t.Fatalf("expected no fragments")
	}
	if !errors.Is(stream.Err(), context.Canceled) {
		t.Errorf("expected cancellation, got %v", stream.Err())
	}
}
