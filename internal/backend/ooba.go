package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/kayz/rosie/internal/config"
	"github.com/kayz/rosie/internal/logger"
)

// OobaClient streams completions from text-generation-webui's legacy
// websocket API.
type OobaClient struct {
	baseURL     string
	maxTokens   int
	temperature float64
	dialer      *websocket.Dialer
}

// NewOobaClient creates a client for the given ws:// or wss:// base URL.
func NewOobaClient(cfg config.BackendConfig) *OobaClient {
	return &OobaClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		dialer:      websocket.DefaultDialer,
	}
}

// oobaRequest is the generation request frame for /api/v1/stream.
type oobaRequest struct {
	Prompt            string   `json:"prompt"`
	MaxNewTokens      int      `json:"max_new_tokens"`
	DoSample          bool     `json:"do_sample"`
	Temperature       float64  `json:"temperature"`
	TopP              float64  `json:"top_p"`
	TypicalP          float64  `json:"typical_p"`
	RepetitionPenalty float64  `json:"repetition_penalty"`
	TopK              int      `json:"top_k"`
	MinLength         int      `json:"min_length"`
	NoRepeatNgramSize int      `json:"no_repeat_ngram_size"`
	NumBeams          int      `json:"num_beams"`
	EarlyStopping     bool     `json:"early_stopping"`
	Seed              int      `json:"seed"`
	AddBosToken       bool     `json:"add_bos_token"`
	BanEosToken       bool     `json:"ban_eos_token"`
	SkipSpecialTokens bool     `json:"skip_special_tokens"`
	TruncationLength  int      `json:"truncation_length"`
	StoppingStrings   []string `json:"stopping_strings"`
}

// oobaEvent is one streamed response frame.
type oobaEvent struct {
	Event string `json:"event"`
	Text  string `json:"text"`
}

// Generate opens a websocket stream and sends the generation request.
func (c *OobaClient) Generate(ctx context.Context, prompt string) (SentenceStream, error) {
	url := c.baseURL + "/api/v1/stream"
	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	req := oobaRequest{
		Prompt:            prompt,
		MaxNewTokens:      c.maxTokens,
		DoSample:          true,
		Temperature:       c.temperature,
		TopP:              0.1,
		TypicalP:          1,
		RepetitionPenalty: 1.18,
		TopK:              40,
		NumBeams:          1,
		Seed:              -1,
		AddBosToken:       true,
		SkipSpecialTokens: true,
		TruncationLength:  2048,
		StoppingStrings:   []string{},
	}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send generation request: %w", err)
	}

	return &oobaStream{conn: conn, splitter: newSentenceSplitter()}, nil
}

type oobaStream struct {
	conn     *websocket.Conn
	splitter *sentenceSplitter
	done     bool
}

func (s *oobaStream) Next(ctx context.Context) (string, error) {
	for {
		if sentence, ok := s.splitter.pop(); ok {
			return sentence, nil
		}
		if s.done {
			return "", io.EOF
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return "", fmt.Errorf("stream read failed: %w", err)
		}

		var event oobaEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return "", fmt.Errorf("failed to decode stream frame: %w", err)
		}

		switch event.Event {
		case "text_stream":
			s.splitter.feed(event.Text)
		case "stream_end":
			s.splitter.flush()
			s.done = true
		default:
			logger.Trace("[Ooba] ignoring stream event %q", event.Event)
		}
	}
}

func (s *oobaStream) Close() error {
	return s.conn.Close()
}
