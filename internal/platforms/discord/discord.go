package discord

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/kayz/rosie/internal/bot"
	"github.com/kayz/rosie/internal/logger"
	"github.com/kayz/rosie/internal/templates"
)

// Platform connects the response pipeline to Discord. It serves as the
// orchestrator's history source, sender, and image poster.
type Platform struct {
	session   *discordgo.Session
	orch      *bot.Orchestrator
	store     *templates.Store
	images    ImageBackend // nil when disabled
	pending   *pendingImages
	botUserID string
	aiName    string
}

// ImageBackend generates raw image bytes for a prompt.
type ImageBackend interface {
	GenerateImage(ctx context.Context, prompt string, nsfw bool) ([]byte, error)
}

// Config holds Discord platform configuration.
type Config struct {
	Token  string
	AIName string
}

// New creates a new Discord platform.
func New(cfg Config, store *templates.Store, images ImageBackend) (*Platform, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("Discord bot token is required")
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	return &Platform{
		session: session,
		store:   store,
		images:  images,
		pending: newPendingImages(),
		aiName:  cfg.AIName,
	}, nil
}

// Name returns the platform name.
func (p *Platform) Name() string {
	return "discord"
}

// SetOrchestrator attaches the response pipeline. Must be called before
// Start.
func (p *Platform) SetOrchestrator(orch *bot.Orchestrator) {
	p.orch = orch
}

// Start opens the Discord connection and registers handlers.
func (p *Platform) Start(ctx context.Context) error {
	p.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		p.handleMessage(ctx, m)
	})
	p.session.AddHandler(p.handleInteraction)

	if err := p.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	user, err := p.session.User("@me")
	if err != nil {
		return fmt.Errorf("failed to get bot user: %w", err)
	}
	p.botUserID = user.ID
	p.orch.SetSelfID(user.ID)

	if err := p.registerCommands(); err != nil {
		logger.Warn("[Discord] failed to register slash commands: %v", err)
	}

	logger.Info("[Discord] connected as bot: %s (ID: %s)", user.Username, user.ID)
	return nil
}

// Stop shuts down the Discord connection.
func (p *Platform) Stop() error {
	return p.session.Close()
}

// handleMessage converts an inbound Discord message and hands it to the
// orchestrator.
func (p *Platform) handleMessage(ctx context.Context, m *discordgo.MessageCreate) {
	p.orch.HandleMessage(ctx, p.rawFromMessage(m.Message))
}

// NotifyTyping shows the typing indicator once a response cycle has
// started; failures here are cosmetic.
func (p *Platform) NotifyTyping(ctx context.Context, channelID string) {
	if err := p.session.ChannelTyping(channelID); err != nil {
		logger.Trace("[Discord] failed to set typing indicator: %v", err)
	}
}

func (p *Platform) rawFromMessage(m *discordgo.Message) bot.RawMessage {
	mentionsSelf := false
	mentionsOthers := false
	for _, mention := range m.Mentions {
		if mention.ID == p.botUserID {
			mentionsSelf = true
		} else {
			mentionsOthers = true
		}
	}

	guildName := ""
	if m.GuildID != "" {
		if guild, err := p.session.State.Guild(m.GuildID); err == nil {
			guildName = guild.Name
		}
	}

	return bot.RawMessage{
		ID:             bot.MessageID(m.ID),
		ChannelID:      m.ChannelID,
		AuthorID:       m.Author.ID,
		AuthorName:     m.Author.Username,
		AuthorIsBot:    m.Author.Bot,
		Text:           m.Content,
		GuildName:      guildName,
		IsDM:           m.GuildID == "",
		MentionsSelf:   mentionsSelf,
		MentionsOthers: mentionsOthers,
		Timestamp:      m.Timestamp,
	}
}

// SendText posts a message and returns its ID for repetition tracking.
func (p *Platform) SendText(ctx context.Context, channelID, text string) (bot.MessageID, error) {
	sent, err := p.session.ChannelMessageSend(channelID, text)
	if err != nil {
		return "", err
	}
	return bot.MessageID(sent.ID), nil
}

// ChannelHistory returns a lazy newest-first iterator over recent
// messages. Pages are fetched on demand so the assembler can stop
// pulling without draining the backlog.
func (p *Platform) ChannelHistory(ctx context.Context, channelID string, limit int) (bot.HistoryIterator, error) {
	return &historyIterator{platform: p, channelID: channelID, remaining: limit}, nil
}

type historyIterator struct {
	platform  *Platform
	channelID string
	remaining int
	beforeID  string
	buf       []*discordgo.Message
	exhausted bool
}

func (it *historyIterator) Next(ctx context.Context) (bot.RawMessage, error) {
	if it.remaining <= 0 {
		return bot.RawMessage{}, io.EOF
	}
	if len(it.buf) == 0 {
		if it.exhausted {
			return bot.RawMessage{}, io.EOF
		}
		page := it.remaining
		if page > 100 {
			page = 100
		}
		msgs, err := it.platform.session.ChannelMessages(it.channelID, page, it.beforeID, "", "")
		if err != nil {
			return bot.RawMessage{}, fmt.Errorf("failed to fetch channel messages: %w", err)
		}
		if len(msgs) == 0 {
			it.exhausted = true
			return bot.RawMessage{}, io.EOF
		}
		it.buf = msgs
		it.beforeID = msgs[len(msgs)-1].ID
	}

	m := it.buf[0]
	it.buf = it.buf[1:]
	it.remaining--
	return it.platform.rawFromMessage(m), nil
}

// registerCommands installs the bot's slash commands.
func (p *Platform) registerCommands() error {
	commands := []*discordgo.ApplicationCommand{
		{
			Name:        "amnesia",
			Description: fmt.Sprintf("Make %s forget the conversation so far.", p.aiName),
		},
		{
			Name:        "poke",
			Description: fmt.Sprintf("Prompt %s to write a response to the last message.", p.aiName),
		},
		{
			Name:        "say",
			Description: fmt.Sprintf("Force %s to say the provided message.", p.aiName),
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "text",
					Description: fmt.Sprintf("Message to force %s to say.", p.aiName),
					Required:    true,
				},
			},
		},
	}
	for _, cmd := range commands {
		if _, err := p.session.ApplicationCommandCreate(p.botUserID, "", cmd); err != nil {
			return fmt.Errorf("failed to register /%s: %w", cmd.Name, err)
		}
	}
	return nil
}

func (p *Platform) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		p.handleCommand(i)
	case discordgo.InteractionMessageComponent:
		p.handleComponent(i)
	}
}

func (p *Platform) handleCommand(i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	switch data.Name {
	case "amnesia":
		p.handleAmnesia(i)
	case "poke":
		p.handlePoke(i)
	case "say":
		if len(data.Options) > 0 {
			p.respondToInteraction(i, data.Options[0].StringValue(), false)
		}
	}
}

// handleAmnesia hides all current channel history from the next prompt
// build by forcing the throttle boundary to the newest message.
func (p *Platform) handleAmnesia(i *discordgo.InteractionCreate) {
	msgs, err := p.session.ChannelMessages(i.ChannelID, 1, "", "", "")
	if err != nil || len(msgs) == 0 {
		logger.Warn("[Discord] amnesia failed to find newest message: %v", err)
		return
	}
	p.orch.Tracker().HideMessagesBefore(i.ChannelID, bot.MessageID(msgs[0].ID))

	response, err := p.store.Format(templates.AmnesiaResponse, map[templates.Token]string{
		templates.TokenAIName: p.aiName,
		templates.TokenName:   interactionUserName(i),
	})
	if err != nil {
		logger.Error("[Discord] amnesia response template failed: %v", err)
		return
	}
	p.respondToInteraction(i, response, false)
}

// handlePoke responds to the newest channel message as if it had been
// addressed to the bot.
func (p *Platform) handlePoke(i *discordgo.InteractionCreate) {
	msgs, err := p.session.ChannelMessages(i.ChannelID, 1, "", "", "")
	if err != nil || len(msgs) == 0 {
		logger.Warn("[Discord] poke failed to find newest message: %v", err)
		p.respondToInteraction(i, "There's nothing here to respond to.", true)
		return
	}
	if msgs[0].Author.ID == p.botUserID {
		p.respondToInteraction(i, "I can't reply to my own messages.", true)
		return
	}

	p.respondToInteraction(i, fmt.Sprintf("Poking %s...", p.aiName), true)
	go p.orch.RespondNow(context.Background(), p.rawFromMessage(msgs[0]))
}

func (p *Platform) respondToInteraction(i *discordgo.InteractionCreate, content string, ephemeral bool) {
	data := &discordgo.InteractionResponseData{Content: content}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := p.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		logger.Error("[Discord] failed to respond to interaction: %v", err)
	}
}

func interactionUserName(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.Username
	}
	if i.User != nil {
		return i.User.Username
	}
	return "someone"
}

// channelNSFW reports whether the channel is marked NSFW.
func (p *Platform) channelNSFW(channelID string) bool {
	channel, err := p.session.Channel(channelID)
	if err != nil {
		return false
	}
	return channel.NSFW
}

// imageReviewTimeout is how long the requester has to accept an image
// before it self-destructs.
const imageReviewTimeout = 3 * time.Minute
