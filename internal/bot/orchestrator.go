package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/kayz/rosie/internal/logger"
)

// minImagePromptLength rejects matches too short to be a real image
// request.
const minImagePromptLength = 3

// Orchestrator drives one full response cycle per qualifying inbound
// message: decision, optional image kickoff, prompt assembly, sentence
// streaming with self-consistency filters, and repetition tracking.
type Orchestrator struct {
	aiName       string
	historyLines int

	policy    *DecisionPolicy
	tracker   *RepetitionTracker
	assembler *PromptAssembler

	history   HistorySource
	generator Generator
	sender    Sender
	images    ImagePoster // nil when no image backend is configured
	stats     StatsSink

	imagePatterns []*regexp.Regexp

	mu     sync.RWMutex
	selfID string
}

// OrchestratorDeps carries the collaborators for an Orchestrator.
type OrchestratorDeps struct {
	AIName       string
	HistoryLines int
	ImageWords   []string

	Policy    *DecisionPolicy
	Tracker   *RepetitionTracker
	Assembler *PromptAssembler

	History   HistorySource
	Generator Generator
	Sender    Sender
	Images    ImagePoster
	Stats     StatsSink
}

// NewOrchestrator wires a response pipeline together.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	patterns := make([]*regexp.Regexp, 0, len(deps.ImageWords))
	for _, word := range deps.ImageWords {
		patterns = append(patterns, regexp.MustCompile(
			`(?i)^.*\b`+regexp.QuoteMeta(word)+`\b[\s]*(of|with)?[\s]*[:]?(.*)$`))
	}
	return &Orchestrator{
		aiName:        deps.AIName,
		historyLines:  deps.HistoryLines,
		policy:        deps.Policy,
		tracker:       deps.Tracker,
		assembler:     deps.Assembler,
		history:       deps.History,
		generator:     deps.Generator,
		sender:        deps.Sender,
		images:        deps.Images,
		stats:         deps.Stats,
		imagePatterns: patterns,
	}
}

// SetSelfID records the bot's own user ID once the platform has
// connected and learned it.
func (o *Orchestrator) SetSelfID(selfID string) {
	o.mu.Lock()
	o.selfID = selfID
	o.mu.Unlock()
	o.policy.SetSelfID(selfID)
}

// SelfID returns the bot's own user ID for the connected platform.
func (o *Orchestrator) SelfID() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.selfID
}

// Tracker exposes the repetition tracker, for platform commands that
// reset the history window.
func (o *Orchestrator) Tracker() *RepetitionTracker {
	return o.tracker
}

// HandleMessage runs one response cycle. Declining to respond is the
// common case and not an error; any failure inside the cycle is logged
// and counted but never propagates to the event-dispatch layer.
func (o *Orchestrator) HandleMessage(ctx context.Context, raw RawMessage) {
	decision := o.policy.ShouldRespond(raw)
	if !decision.Respond {
		logger.Trace("[Bot] not responding to %s: %s", raw.AuthorName, decision.Reason)
		return
	}

	msg := SanitizeMessage(raw)
	logger.Debug("[Bot] request from %s in [%s] (%s)", msg.AuthorName, msg.GuildName, decision.Reason)

	imageComing := false
	if o.images != nil {
		if imagePrompt, ok := o.imagePromptFromText(raw.Text); ok {
			imageComing = true
			o.spawnImageTask(msg, imagePrompt)
		}
	}

	if err := o.respond(ctx, msg, imageComing); err != nil {
		logger.Error("[Bot] response cycle failed: %v", err)
	}
}

// RespondNow runs a response cycle for the message without consulting
// the decision policy. Platform commands that explicitly request a
// response use this.
func (o *Orchestrator) RespondNow(ctx context.Context, raw RawMessage) {
	msg := SanitizeMessage(raw)
	logger.Debug("[Bot] forced response to %s in [%s]", msg.AuthorName, msg.GuildName)
	if err := o.respond(ctx, msg, false); err != nil {
		logger.Error("[Bot] response cycle failed: %v", err)
	}
}

func (o *Orchestrator) respond(ctx context.Context, msg ConversationMessage, imageComing bool) error {
	if typer, ok := o.sender.(TypingNotifier); ok {
		typer.NotifyTyping(ctx, msg.ChannelID)
	}

	history, err := o.history.ChannelHistory(ctx, msg.ChannelID, o.historyLines)
	if err != nil {
		return fmt.Errorf("failed to fetch channel history: %w", err)
	}

	throttleID := o.tracker.ThrottleMessageID(msg.ChannelID)
	historyBlock, err := o.assembler.AssembleHistory(ctx, o.SelfID(), history, throttleID)
	if err != nil {
		return err
	}
	prompt, err := o.assembler.Assemble(historyBlock, imageComing)
	if err != nil {
		return err
	}

	stats := o.stats.RequestArrived(msg.ChannelID, len(prompt))

	stream, err := o.generator.Generate(ctx, prompt)
	if err != nil {
		stats.Failure()
		return fmt.Errorf("failed to start generation: %w", err)
	}
	defer stream.Close()

	for {
		sentence, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			stats.Failure()
			return fmt.Errorf("generation stream failed: %w", err)
		}

		// if the AI gives itself a second line, ignore the stray label
		// and keep streaming
		if sentence == o.aiName+" says:" {
			logger.Warn("[Bot] filtered out %q from response, continuing", sentence)
			continue
		}

		// abort if it looks like the AI is continuing the conversation
		// as someone else
		if strings.HasSuffix(sentence, " says:") {
			logger.Warn("[Bot] filtered out %q from response, aborting", sentence)
			break
		}

		sentID, err := o.sender.SendText(ctx, msg.ChannelID, sentence)
		if err != nil {
			stats.Failure()
			return fmt.Errorf("failed to send response: %w", err)
		}
		o.tracker.RecordBotMessage(msg.ChannelID, sentID, sentence)
		stats.SentenceSent(sentence)
	}

	stats.Success()
	logger.Debug("[Bot] response to %s done", msg.AuthorName)
	return nil
}

// imagePromptFromText extracts an image prompt when the message matches
// one of the configured image-request patterns.
func (o *Orchestrator) imagePromptFromText(text string) (string, bool) {
	sanitized := Sanitize(text)
	for _, pattern := range o.imagePatterns {
		match := pattern.FindStringSubmatch(sanitized)
		if match == nil {
			continue
		}
		imagePrompt := strings.TrimSpace(match[2])
		if len(imagePrompt) < minImagePromptLength {
			continue
		}
		logger.Debug("[Bot] found image prompt: %s", imagePrompt)
		return imagePrompt, true
	}
	return "", false
}

// spawnImageTask runs image generation detached from the response cycle.
// No result flows back to the caller; the error boundary here is the
// only supervisor.
func (o *Orchestrator) spawnImageTask(msg ConversationMessage, imagePrompt string) {
	go func() {
		if err := o.images.PostImage(context.Background(), msg, imagePrompt); err != nil {
			logger.Error("[Bot] image generation failed: %v", err)
		}
	}()
}
