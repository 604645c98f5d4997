package cmd

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kayz/rosie/internal/backend"
	"github.com/kayz/rosie/internal/bot"
	"github.com/kayz/rosie/internal/config"
	"github.com/kayz/rosie/internal/imagegen"
	"github.com/kayz/rosie/internal/logger"
	"github.com/kayz/rosie/internal/persist"
	"github.com/kayz/rosie/internal/platforms/discord"
	"github.com/kayz/rosie/internal/platforms/telegram"
	"github.com/kayz/rosie/internal/stats"
	"github.com/kayz/rosie/internal/templates"
)

// platform is what the runtime needs from each chat connector. Each
// platform also serves as the orchestrator's history source and sender.
type platform interface {
	Name() string
	SetOrchestrator(*bot.Orchestrator)
	Start(ctx context.Context) error
	Stop() error
	SendText(ctx context.Context, channelID, text string) (bot.MessageID, error)
	ChannelHistory(ctx context.Context, channelID string, limit int) (bot.HistoryIterator, error)
	PostImage(ctx context.Context, msg bot.ConversationMessage, imagePrompt string) error
}

// generatorAdapter bridges the backend package's stream type to the
// pipeline's. The streams are method-compatible but the interfaces are
// declared in different packages.
type generatorAdapter struct {
	g backend.Generator
}

func (a generatorAdapter) Generate(ctx context.Context, prompt string) (bot.SentenceStream, error) {
	stream, err := a.g.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func runBot(cmd *cobra.Command, args []string) {
	if err := run(); err != nil {
		logger.Fatal("%v", err)
	}
}

func run() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, err := templates.NewStore(cfg.Templates)
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	generator, err := backend.New(cfg.Backend)
	if err != nil {
		return err
	}

	var sdClient *imagegen.Client
	if cfg.StableDiffusion.Enabled() {
		sdClient = imagegen.NewClient(cfg.StableDiffusion)
		logger.Info("[Main] image generation enabled via %s", cfg.StableDiffusion.URL)
	}

	var journal *persist.Store
	if cfg.Stats.JournalPath != "" {
		journal, err = persist.NewStore(cfg.Stats.JournalPath)
		if err != nil {
			return fmt.Errorf("failed to open stats journal: %w", err)
		}
		defer journal.Close()
	}
	aggregate := stats.New(journal)
	if cfg.Stats.SummaryInterval != "" {
		scheduler, err := aggregate.StartPeriodicSummary(cfg.Stats.SummaryInterval)
		if err != nil {
			return fmt.Errorf("invalid stats summary interval: %w", err)
		}
		defer scheduler.Stop()
	}

	platforms, err := buildPlatforms(cfg, store, sdClient)
	if err != nil {
		return err
	}
	if len(platforms) == 0 {
		return fmt.Errorf("no platform configured: set platforms.discord.token or platforms.telegram.token")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, p := range platforms {
		orch, err := buildOrchestrator(cfg, store, generator, sdClient, aggregate, p)
		if err != nil {
			return err
		}
		p.SetOrchestrator(orch)
		if err := p.Start(ctx); err != nil {
			return fmt.Errorf("failed to start %s: %w", p.Name(), err)
		}
		defer p.Stop()
	}

	logger.Info("[Main] %s is up, persona: %q", cfg.Persona.AIName, firstLine(cfg.Persona.Persona))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("[Main] shutting down")
	aggregate.WriteSummary()
	return nil
}

func buildPlatforms(cfg *config.Config, store *templates.Store, sdClient *imagegen.Client) ([]platform, error) {
	var platforms []platform

	if cfg.Platforms.Discord.Token != "" {
		p, err := discord.New(discord.Config{
			Token:  cfg.Platforms.Discord.Token,
			AIName: cfg.Persona.AIName,
		}, store, sdClient)
		if err != nil {
			return nil, err
		}
		platforms = append(platforms, p)
	}

	if cfg.Platforms.Telegram.Token != "" {
		p, err := telegram.New(telegram.Config{
			Token:        cfg.Platforms.Telegram.Token,
			HistoryDepth: cfg.Platforms.Telegram.HistoryDepth,
		}, store, sdClient)
		if err != nil {
			return nil, err
		}
		platforms = append(platforms, p)
	}

	return platforms, nil
}

// buildOrchestrator assembles one response pipeline. Each platform gets
// its own pipeline because repetition state and the bot's own user ID
// are per connection.
func buildOrchestrator(cfg *config.Config, store *templates.Store, generator backend.Generator,
	sdClient *imagegen.Client, aggregate *stats.Aggregate, p platform) (*bot.Orchestrator, error) {

	assembler, err := bot.NewPromptAssembler(
		cfg.Persona.AIName, cfg.Persona.Persona, store,
		cfg.Backend.MaxTokenSpace, cfg.Backend.EstCharsPerToken,
		cfg.Decision.HistoryLines, cfg.Decision.EstCharsPerLine)
	if err != nil {
		return nil, err
	}

	var images bot.ImagePoster
	var imageWords []string
	if sdClient != nil {
		images = p
		imageWords = cfg.StableDiffusion.ImageWords
	}

	return bot.NewOrchestrator(bot.OrchestratorDeps{
		AIName:       cfg.Persona.AIName,
		HistoryLines: cfg.Decision.HistoryLines,
		ImageWords:   imageWords,

		Policy:    bot.NewDecisionPolicy(cfg.Persona.Wakewords, cfg.Decision, time.Now, rand.Float64),
		Tracker:   bot.NewRepetitionTracker(cfg.Decision.RepetitionThreshold),
		Assembler: assembler,

		History:   p,
		Generator: generatorAdapter{g: generator},
		Sender:    p,
		Images:    images,
		Stats:     aggregate,
	}), nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
