package llm

import (
	"context"
	"strings"
	"sync"
	"time"
)

// TextStream is a lazy, finite, single-consumer sequence of text fragments.
//
//	stream, err := client.StreamText(ctx, "hello", nil)
//	if err != nil { ... }
//	defer stream.Close()
//	for stream.Next() {
//	    fmt.Print(stream.Text())
//	}
//	if err := stream.Err(); err != nil { ... }
type TextStream interface {
	// Next blocks until the next fragment is available. It returns false when the
	// vendor signals completion, an error occurs, or the stream was closed.
	Next() bool

	// Text returns the current fragment. Only valid after Next returned true.
	Text() string

	// Err returns the typed failure that ended the stream, if any.
	Err() error

	// Close stops the stream and releases the underlying transport. Safe to call
	// more than once.
	Close() error
}

// Producer pulls fragments from a vendor stream and hands each to emit in order.
// It returns nil when the vendor signals completion. emit returns an error once the
// consumer has gone away; the producer must stop and return it.
type Producer func(ctx context.Context, emit func(text string) error) error

// StreamOptions configure NewTextStream.
type StreamOptions struct {
	Provider     string
	ChunkTimeout time.Duration
	// Release is called once when the stream ends or is closed, to free the transport.
	Release func() error
	// OnComplete, when set, receives the full text once the stream ends. err is
	// non-nil when the stream failed or was closed before the vendor finished.
	OnComplete func(text string, err error)
}

// ErrStreamClosed is reported to OnComplete when the consumer closes a stream early.
var ErrStreamClosed = NewPermanentError("", "stream closed before completion", nil)

type textStream struct {
	provider  string
	timeout   time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
	fragments chan string

	producerErr error // written by the producer before fragments is closed

	current  string
	err      error
	finished bool

	releaseOnce sync.Once
	release     func() error
	releaseErr  error

	onComplete func(string, error)
	text       strings.Builder
}

// NewTextStream runs producer in its own goroutine and exposes its fragments as a
// TextStream. The producer is paced by the consumer: each fragment is handed over
// only when Next is called. A fragment that does not arrive within the chunk timeout
// ends the stream with a transient error.
func NewTextStream(ctx context.Context, opts StreamOptions, producer Producer) TextStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &textStream{
		provider:   opts.Provider,
		timeout:    opts.ChunkTimeout,
		ctx:        ctx,
		cancel:     cancel,
		fragments:  make(chan string),
		release:    opts.Release,
		onComplete: opts.OnComplete,
	}
	if s.timeout <= 0 {
		s.timeout = DefaultStreamChunkTimeout
	}

	go func() {
		defer close(s.fragments)
		s.producerErr = producer(ctx, func(text string) error {
			if text == "" {
				return nil
			}
			select {
			case s.fragments <- text:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	return s
}

// Next implements TextStream.Next.
func (s *textStream) Next() bool {
	if s.finished {
		return false
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case text, ok := <-s.fragments:
		if !ok {
			s.finish(s.producerErr)
			return false
		}
		s.current = text
		if s.onComplete != nil {
			s.text.WriteString(text)
		}
		return true
	case <-timer.C:
		s.finish(NewTransientError(s.provider, "stream stalled: no data within "+s.timeout.String(), nil))
		return false
	case <-s.ctx.Done():
		s.finish(s.ctx.Err())
		return false
	}
}

// Text implements TextStream.Text.
func (s *textStream) Text() string {
	return s.current
}

// Err implements TextStream.Err.
func (s *textStream) Err() error {
	return s.err
}

// Close implements TextStream.Close.
func (s *textStream) Close() error {
	if !s.finished {
		s.finished = true
		s.current = ""
		s.complete(ErrStreamClosed)
	}
	s.cancel()
	return s.doRelease()
}

func (s *textStream) finish(err error) {
	s.finished = true
	s.current = ""
	if err != nil {
		s.err = Normalize(s.provider, err)
	}
	s.complete(s.err)
	s.cancel()
	_ = s.doRelease()
}

func (s *textStream) complete(err error) {
	if s.onComplete == nil {
		return
	}
	onComplete := s.onComplete
	s.onComplete = nil
	onComplete(s.text.String(), err)
}

func (s *textStream) doRelease() error {
	s.releaseOnce.Do(func() {
		if s.release != nil {
			s.releaseErr = s.release()
		}
	})
	return s.releaseErr
}

// Collect drains stream and returns the concatenated text. The stream is closed.
func Collect(stream TextStream) (string, error) {
	defer stream.Close() //nolint:errcheck // release errors are not actionable here
	var b strings.Builder
	for stream.Next() {
		b.WriteString(stream.Text())
	}
	return b.String(), stream.Err()
}

// SliceProducer emits fragments in order. Useful for vendors that return a complete
// response where a stream was requested, and for tests.
func SliceProducer(fragments []string, err error) Producer {
	return func(_ context.Context, emit func(string) error) error {
		for _, f := range fragments {
			if emitErr := emit(f); emitErr != nil {
				return emitErr
			}
		}
		return err
	}
}
