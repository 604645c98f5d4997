package backend

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sashabaranov/go-openai"

	"github.com/kayz/rosie/internal/config"
)

// OpenAIClient streams completions from an OpenAI-compatible chat API,
// including text-generation-webui's compatibility endpoint.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewOpenAIClient creates a client for the configured endpoint.
func NewOpenAIClient(cfg config.BackendConfig) *OpenAIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: float32(cfg.Temperature),
	}
}

// Generate starts a streaming chat completion for the prompt.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (SentenceStream, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Stream: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start completion stream: %w", err)
	}
	return &openaiStream{stream: stream, splitter: newSentenceSplitter()}, nil
}

type openaiStream struct {
	stream   *openai.ChatCompletionStream
	splitter *sentenceSplitter
	done     bool
}

func (s *openaiStream) Next(ctx context.Context) (string, error) {
	for {
		if sentence, ok := s.splitter.pop(); ok {
			return sentence, nil
		}
		if s.done {
			return "", io.EOF
		}

		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.splitter.flush()
			s.done = true
			continue
		}
		if err != nil {
			return "", fmt.Errorf("stream read failed: %w", err)
		}
		if len(resp.Choices) > 0 {
			s.splitter.feed(resp.Choices[0].Delta.Content)
		}
	}
}

func (s *openaiStream) Close() error {
	return s.stream.Close()
}
