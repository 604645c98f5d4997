package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kayz/rosie/internal/config"
)

// Client generates images through the Stable Diffusion WebUI API.
type Client struct {
	baseURL string
	cfg     config.SDConfig
	http    *http.Client
}

// NewClient creates a client for the configured Stable Diffusion server.
func NewClient(cfg config.SDConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout},
	}
}

type txt2imgRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt"`
	Steps          int    `json:"steps"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
}

type txt2imgResponse struct {
	Images []string `json:"images"`
}

// GenerateImage renders one image for the prompt and returns its PNG
// bytes. The negative prompt is relaxed for NSFW-flagged channels.
func (c *Client) GenerateImage(ctx context.Context, prompt string, nsfw bool) ([]byte, error) {
	negative := c.cfg.NegativePrompt
	if nsfw {
		negative = c.cfg.NegativePromptNSFW
	}

	body, err := json.Marshal(txt2imgRequest{
		Prompt:         prompt,
		NegativePrompt: negative,
		Steps:          c.cfg.Steps,
		Width:          c.cfg.Width,
		Height:         c.cfg.Height,
	})
	if err != nil {
		return nil, err
	}

	url := c.baseURL + "/sdapi/v1/txt2img"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach Stable Diffusion: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("Stable Diffusion returned %s: %s", resp.Status, string(data))
	}

	var parsed txt2imgResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode txt2img response: %w", err)
	}
	if len(parsed.Images) == 0 {
		return nil, fmt.Errorf("Stable Diffusion returned no images")
	}

	img, err := base64.StdEncoding.DecodeString(parsed.Images[0])
	if err != nil {
		return nil, fmt.Errorf("failed to decode image data: %w", err)
	}
	return img, nil
}
