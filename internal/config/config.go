package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the bot.
type Config struct {
	Persona         PersonaConfig   `yaml:"persona"`
	Decision        DecisionConfig  `yaml:"decision"`
	Backend         BackendConfig   `yaml:"backend"`
	StableDiffusion SDConfig        `yaml:"stable_diffusion,omitempty"`
	Platforms       PlatformConfig  `yaml:"platforms"`
	Stats           StatsConfig     `yaml:"stats,omitempty"`
	Templates       map[string]string `yaml:"templates,omitempty"` // overrides keyed by template name
}

// PersonaConfig describes the character the bot plays.
type PersonaConfig struct {
	AIName    string   `yaml:"ai_name"`
	Persona   string   `yaml:"persona,omitempty"`
	Wakewords []string `yaml:"wakewords,omitempty"`
}

// DurationChance maps an elapsed-time threshold to a response probability.
// Thresholds are in seconds and must be listed in ascending order; the
// first threshold larger than the elapsed time wins.
type DurationChance struct {
	WithinSeconds float64 `yaml:"within_seconds"`
	Chance        float64 `yaml:"chance"`
}

// DecisionConfig controls when the bot decides to respond.
type DecisionConfig struct {
	IgnoreDMs            bool             `yaml:"ignore_dms,omitempty"`
	TimeVsResponseChance []DurationChance `yaml:"time_vs_response_chance,omitempty"`
	InterrobangBonus     float64          `yaml:"interrobang_bonus,omitempty"`
	RepetitionThreshold  int              `yaml:"repetition_threshold,omitempty"`
	HistoryLines         int              `yaml:"history_lines,omitempty"`
	EstCharsPerLine      int              `yaml:"est_chars_per_line,omitempty"`
}

// BackendConfig selects and configures the text-generation backend.
type BackendConfig struct {
	Provider         string  `yaml:"provider"` // "ooba", "openai", "anthropic"
	BaseURL          string  `yaml:"base_url,omitempty"`
	APIKey           string  `yaml:"api_key,omitempty"`
	Model            string  `yaml:"model,omitempty"`
	MaxTokens        int     `yaml:"max_tokens,omitempty"`
	Temperature      float64 `yaml:"temperature,omitempty"`
	MaxTokenSpace    int     `yaml:"max_token_space,omitempty"`
	EstCharsPerToken int     `yaml:"est_chars_per_token,omitempty"`
}

// SDConfig configures the optional Stable Diffusion image backend.
type SDConfig struct {
	URL                string   `yaml:"url,omitempty"`
	ImageWords         []string `yaml:"image_words,omitempty"`
	Steps              int      `yaml:"steps,omitempty"`
	Width              int      `yaml:"width,omitempty"`
	Height             int      `yaml:"height,omitempty"`
	NegativePrompt     string   `yaml:"negative_prompt,omitempty"`
	NegativePromptNSFW string   `yaml:"negative_prompt_nsfw,omitempty"`
	TimeoutSeconds     int      `yaml:"timeout_seconds,omitempty"`
}

// Enabled reports whether an image backend is configured.
func (c SDConfig) Enabled() bool {
	return c.URL != ""
}

// PlatformConfig holds per-platform connection settings.
type PlatformConfig struct {
	Discord  DiscordConfig  `yaml:"discord,omitempty"`
	Telegram TelegramConfig `yaml:"telegram,omitempty"`
}

// DiscordConfig holds Discord connection settings.
type DiscordConfig struct {
	Token string `yaml:"token,omitempty"`
}

// TelegramConfig holds Telegram connection settings.
type TelegramConfig struct {
	Token        string `yaml:"token,omitempty"`
	HistoryDepth int    `yaml:"history_depth,omitempty"` // in-memory transcript size per chat
}

// StatsConfig configures aggregate statistics reporting.
type StatsConfig struct {
	SummaryInterval string `yaml:"summary_interval,omitempty"` // cron spec, e.g. "@every 10m"
	JournalPath     string `yaml:"journal_path,omitempty"`     // SQLite journal; empty disables
}

// Default returns a configuration with the stock persona and tuning values.
func Default() *Config {
	return &Config{
		Persona: PersonaConfig{
			AIName:    "Rosie",
			Wakewords: []string{"rosie"},
		},
		Decision: DecisionConfig{
			TimeVsResponseChance: []DurationChance{
				{WithinSeconds: 60, Chance: 0.90},
				{WithinSeconds: 120, Chance: 0.70},
				{WithinSeconds: 300, Chance: 0.50},
			},
			InterrobangBonus:    0.30,
			RepetitionThreshold: 1,
			HistoryLines:        20,
			EstCharsPerLine:     30,
		},
		Backend: BackendConfig{
			Provider:         "ooba",
			BaseURL:          "ws://localhost:5005",
			MaxTokens:        250,
			Temperature:      1.3,
			MaxTokenSpace:    2048,
			EstCharsPerToken: 3,
		},
		StableDiffusion: SDConfig{
			ImageWords:     []string{"drawing", "photo", "pic", "picture", "image", "sketch"},
			Steps:          30,
			Width:          512,
			Height:         512,
			NegativePrompt: "animal harm, suicide, loli, nsfw",
			NegativePromptNSFW: "animal harm, suicide, loli",
			TimeoutSeconds: 180,
		},
		Platforms: PlatformConfig{
			Telegram: TelegramConfig{HistoryDepth: 200},
		},
		Stats: StatsConfig{
			SummaryInterval: "@every 10m",
		},
	}
}

// Load reads a YAML config file and merges it over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Persona.AIName == "" {
		return fmt.Errorf("persona.ai_name is required")
	}
	switch c.Backend.Provider {
	case "ooba", "openai", "anthropic":
	default:
		return fmt.Errorf("unknown backend provider: %q", c.Backend.Provider)
	}
	if c.Backend.MaxTokenSpace <= 0 {
		return fmt.Errorf("backend.max_token_space must be positive")
	}
	if c.Backend.EstCharsPerToken <= 0 {
		return fmt.Errorf("backend.est_chars_per_token must be positive")
	}
	if c.Decision.HistoryLines <= 0 {
		return fmt.Errorf("decision.history_lines must be positive")
	}
	if c.Decision.EstCharsPerLine <= 0 {
		return fmt.Errorf("decision.est_chars_per_line must be positive")
	}
	if c.Decision.RepetitionThreshold < 0 {
		return fmt.Errorf("decision.repetition_threshold must not be negative")
	}
	prev := 0.0
	for i, dc := range c.Decision.TimeVsResponseChance {
		if dc.WithinSeconds <= prev {
			return fmt.Errorf("decision.time_vs_response_chance thresholds must be strictly ascending (entry %d)", i)
		}
		if dc.Chance < 0 || dc.Chance > 1 {
			return fmt.Errorf("decision.time_vs_response_chance chance must be in [0,1] (entry %d)", i)
		}
		prev = dc.WithinSeconds
	}
	return nil
}
