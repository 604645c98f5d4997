package telegram

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kayz/rosie/internal/bot"
	"github.com/kayz/rosie/internal/logger"
	"github.com/kayz/rosie/internal/templates"
)

// Platform connects the response pipeline to Telegram. The Bot API
// cannot re-fetch channel history, so the platform keeps a bounded
// in-memory transcript of every message it observes per chat and serves
// history from that.
type Platform struct {
	api        *tgbotapi.BotAPI
	orch       *bot.Orchestrator
	store      *templates.Store
	images     ImageBackend // nil when disabled
	transcript *transcript
	cancel     context.CancelFunc
}

// ImageBackend generates raw image bytes for a prompt.
type ImageBackend interface {
	GenerateImage(ctx context.Context, prompt string, nsfw bool) ([]byte, error)
}

// Config holds Telegram platform configuration.
type Config struct {
	Token        string
	HistoryDepth int
}

// New creates a new Telegram platform.
func New(cfg Config, store *templates.Store, images ImageBackend) (*Platform, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("Telegram bot token is required")
	}

	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	depth := cfg.HistoryDepth
	if depth <= 0 {
		depth = 200
	}

	return &Platform{
		api:        api,
		store:      store,
		images:     images,
		transcript: newTranscript(depth),
	}, nil
}

// Name returns the platform name.
func (p *Platform) Name() string {
	return "telegram"
}

// SetOrchestrator attaches the response pipeline. Must be called before
// Start.
func (p *Platform) SetOrchestrator(orch *bot.Orchestrator) {
	p.orch = orch
}

// Start begins long polling for Telegram updates.
func (p *Platform) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)

	p.orch.SetSelfID(strconv.FormatInt(p.api.Self.ID, 10))

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := p.api.GetUpdatesChan(u)

	go p.handleUpdates(ctx, updates)

	logger.Info("[Telegram] connected as bot: @%s", p.api.Self.UserName)
	return nil
}

// Stop shuts down the Telegram connection.
func (p *Platform) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	p.api.StopReceivingUpdates()
	return nil
}

func (p *Platform) handleUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				continue
			}
			raw := p.rawFromMessage(update.Message)
			p.transcript.add(raw.ChannelID, raw)
			// each message gets its own task so a generation in one chat
			// never stalls polling for the others
			go p.orch.HandleMessage(ctx, raw)
		}
	}
}

func (p *Platform) rawFromMessage(m *tgbotapi.Message) bot.RawMessage {
	authorID := ""
	authorName := ""
	isBot := false
	if m.From != nil {
		authorID = strconv.FormatInt(m.From.ID, 10)
		authorName = m.From.UserName
		if authorName == "" {
			authorName = m.From.FirstName
		}
		isBot = m.From.IsBot
	}

	mentionsSelf := false
	mentionsOthers := false
	for _, entity := range m.Entities {
		if entity.Type != "mention" {
			continue
		}
		mention := entityText(m.Text, entity)
		if mention == "@"+p.api.Self.UserName {
			mentionsSelf = true
		} else if mention != "" {
			mentionsOthers = true
		}
	}

	guildName := ""
	isDM := false
	if m.Chat != nil {
		isDM = m.Chat.IsPrivate()
		if !isDM {
			guildName = m.Chat.Title
		}
	}

	return bot.RawMessage{
		ID:             bot.MessageID(strconv.Itoa(m.MessageID)),
		ChannelID:      strconv.FormatInt(m.Chat.ID, 10),
		AuthorID:       authorID,
		AuthorName:     authorName,
		AuthorIsBot:    isBot,
		Text:           m.Text,
		GuildName:      guildName,
		IsDM:           isDM,
		MentionsSelf:   mentionsSelf,
		MentionsOthers: mentionsOthers,
		Timestamp:      time.Unix(int64(m.Date), 0),
	}
}

// entityText slices a message entity out of the text. Telegram offsets
// count UTF-16 code units; rune indexing matches for mentions, which
// stay in the basic plane.
func entityText(text string, entity tgbotapi.MessageEntity) string {
	runes := []rune(text)
	if entity.Offset < 0 || entity.Offset+entity.Length > len(runes) {
		return ""
	}
	return string(runes[entity.Offset : entity.Offset+entity.Length])
}

// SendText posts a message, records it in the transcript, and returns
// its ID for repetition tracking.
func (p *Platform) SendText(ctx context.Context, channelID, text string) (bot.MessageID, error) {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid chat ID %q: %w", channelID, err)
	}

	sent, err := p.api.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return "", err
	}

	raw := bot.RawMessage{
		ID:          bot.MessageID(strconv.Itoa(sent.MessageID)),
		ChannelID:   channelID,
		AuthorID:    strconv.FormatInt(p.api.Self.ID, 10),
		AuthorName:  p.api.Self.UserName,
		AuthorIsBot: true,
		Text:        text,
		Timestamp:   time.Now(),
	}
	p.transcript.add(channelID, raw)
	return raw.ID, nil
}

// NotifyTyping shows the "typing..." chat action once a response cycle
// has started.
func (p *Platform) NotifyTyping(ctx context.Context, channelID string) {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return
	}
	if _, err := p.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		logger.Trace("[Telegram] failed to send typing action: %v", err)
	}
}

// ChannelHistory serves the observed transcript newest-first.
func (p *Platform) ChannelHistory(ctx context.Context, channelID string, limit int) (bot.HistoryIterator, error) {
	return &historyIterator{messages: p.transcript.snapshot(channelID, limit)}, nil
}

type historyIterator struct {
	messages []bot.RawMessage // newest first
}

func (it *historyIterator) Next(ctx context.Context) (bot.RawMessage, error) {
	if len(it.messages) == 0 {
		return bot.RawMessage{}, io.EOF
	}
	m := it.messages[0]
	it.messages = it.messages[1:]
	return m, nil
}

// PostImage generates an image and posts it as a photo. Telegram has no
// review buttons; failures send a user-visible error message.
func (p *Platform) PostImage(ctx context.Context, msg bot.ConversationMessage, imagePrompt string) error {
	chatID, err := strconv.ParseInt(msg.ChannelID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID %q: %w", msg.ChannelID, err)
	}

	img, err := p.images.GenerateImage(ctx, imagePrompt, false)
	if err != nil {
		errText, tmplErr := p.store.Format(templates.ImageGenerationError, map[templates.Token]string{
			templates.TokenName:        msg.AuthorName,
			templates.TokenImagePrompt: imagePrompt,
		})
		if tmplErr == nil {
			if _, sendErr := p.api.Send(tgbotapi.NewMessage(chatID, errText)); sendErr != nil {
				logger.Error("[Telegram] failed to send image error message: %v", sendErr)
			}
		}
		return fmt.Errorf("failed to generate image: %w", err)
	}

	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "photo.png", Bytes: img})
	if _, err := p.api.Send(photo); err != nil {
		return fmt.Errorf("failed to post image: %w", err)
	}
	return nil
}

// transcript is a bounded per-chat ring of observed messages.
type transcript struct {
	depth int

	mu     sync.Mutex
	byChat map[string][]bot.RawMessage // oldest first
}

func newTranscript(depth int) *transcript {
	return &transcript{depth: depth, byChat: make(map[string][]bot.RawMessage)}
}

func (t *transcript) add(chatID string, msg bot.RawMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	msgs := append(t.byChat[chatID], msg)
	if len(msgs) > t.depth {
		msgs = msgs[len(msgs)-t.depth:]
	}
	t.byChat[chatID] = msgs
}

// snapshot returns up to limit messages, newest first.
func (t *transcript) snapshot(chatID string, limit int) []bot.RawMessage {
	t.mu.Lock()
	defer t.mu.Unlock()

	msgs := t.byChat[chatID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]bot.RawMessage, len(msgs))
	for i, m := range msgs {
		out[len(msgs)-1-i] = m
	}
	return out
}
