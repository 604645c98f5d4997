package backend

import (
	"context"
	"testing"
	"time"
)

// The delta producer mirrors the wiring in Generate: it pushes into the
// buffered channel under a select on the stream context, reports its
// result, and closes the channel on the way out.
func startDeltaProducer(ctx context.Context, s *anthropicStream) chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case s.deltas <- "And another thing. ":
			case <-ctx.Done():
				s.result <- ctx.Err()
				close(s.deltas)
				return
			}
		}
	}()
	return done
}

func TestAnthropicStreamCloseTearsDownProducer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &anthropicStream{
		deltas:   make(chan string, 2),
		result:   make(chan error, 1),
		splitter: newSentenceSplitter(),
		cancel:   cancel,
	}
	producerDone := startDeltaProducer(ctx, s)

	// abandon the stream mid-response, like the orchestrator does when it
	// aborts on a foreign speaker label
	if _, err := s.Next(context.Background()); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case <-producerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("producer goroutine still running after Close")
	}
}

func TestAnthropicStreamNextAfterProducerFinishes(t *testing.T) {
	s := &anthropicStream{
		deltas:   make(chan string, 4),
		result:   make(chan error, 1),
		splitter: newSentenceSplitter(),
		cancel:   func() {},
	}

	s.deltas <- "One. "
	s.deltas <- "Two"
	s.result <- nil
	close(s.deltas)

	want := []string{"One.", "Two"}
	for _, w := range want {
		got, err := s.Next(context.Background())
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if got != w {
			t.Fatalf("Next = %q, want %q", got, w)
		}
	}
	if _, err := s.Next(context.Background()); err == nil {
		t.Fatal("expected io.EOF after the final sentence")
	}
}
