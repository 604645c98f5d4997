package backend

import (
	"context"
	"fmt"
	"io"

	"github.com/liushuangls/go-anthropic/v2"

	"github.com/kayz/rosie/internal/config"
)

// AnthropicClient streams completions from the Anthropic Messages API.
type AnthropicClient struct {
	client      *anthropic.Client
	model       string
	maxTokens   int
	temperature float64
}

// NewAnthropicClient creates a client for the configured endpoint.
func NewAnthropicClient(cfg config.BackendConfig) *AnthropicClient {
	var opts []anthropic.ClientOption
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicClient{
		client:      anthropic.NewClient(cfg.APIKey, opts...),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

// Generate starts a streaming message request. The SDK delivers deltas
// through callbacks, so the request runs in its own goroutine feeding a
// channel that Next drains. The request context is derived so Close can
// tear the stream down when the caller abandons it mid-response.
func (c *AnthropicClient) Generate(ctx context.Context, prompt string) (SentenceStream, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	s := &anthropicStream{
		deltas:   make(chan string, 16),
		result:   make(chan error, 1),
		splitter: newSentenceSplitter(),
		cancel:   cancel,
	}

	req := anthropic.MessagesStreamRequest{
		MessagesRequest: anthropic.MessagesRequest{
			Model:     anthropic.Model(c.model),
			MaxTokens: c.maxTokens,
			Messages: []anthropic.Message{
				anthropic.NewUserTextMessage(prompt),
			},
		},
		OnContentBlockDelta: func(data anthropic.MessagesEventContentBlockDeltaData) {
			if data.Delta.Text == nil {
				return
			}
			select {
			case s.deltas <- *data.Delta.Text:
			case <-streamCtx.Done():
			}
		},
	}
	if c.temperature > 0 {
		t := float32(c.temperature)
		req.Temperature = &t
	}

	go func() {
		_, err := c.client.CreateMessagesStream(streamCtx, req)
		s.result <- err
		close(s.deltas)
	}()

	return s, nil
}

type anthropicStream struct {
	deltas   chan string
	result   chan error
	splitter *sentenceSplitter
	cancel   context.CancelFunc
	done     bool
}

func (s *anthropicStream) Next(ctx context.Context) (string, error) {
	for {
		if sentence, ok := s.splitter.pop(); ok {
			return sentence, nil
		}
		if s.done {
			return "", io.EOF
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case delta, ok := <-s.deltas:
			if !ok {
				s.done = true
				if err := <-s.result; err != nil {
					return "", fmt.Errorf("stream failed: %w", err)
				}
				s.splitter.flush()
				continue
			}
			s.splitter.feed(delta)
		}
	}
}

// Close cancels the request and drains the delta channel so the
// producer goroutine can finish even when the stream is abandoned
// mid-response.
func (s *anthropicStream) Close() error {
	s.cancel()
	for range s.deltas {
	}
	return nil
}
