package backend

import (
	"context"
	"fmt"

	"github.com/kayz/rosie/internal/config"
)

// SentenceStream yields sentence-granularity chunks of a streamed
// generation response. Next returns io.EOF once the backend finishes.
type SentenceStream interface {
	Next(ctx context.Context) (string, error)
	Close() error
}

// Generator starts a streaming generation request for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (SentenceStream, error)
}

// New builds the generator selected by the backend config.
func New(cfg config.BackendConfig) (Generator, error) {
	switch cfg.Provider {
	case "ooba":
		return NewOobaClient(cfg), nil
	case "openai":
		return NewOpenAIClient(cfg), nil
	case "anthropic":
		return NewAnthropicClient(cfg), nil
	}
	return nil, fmt.Errorf("unknown backend provider: %q", cfg.Provider)
}
