package discord

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/kayz/rosie/internal/bot"
	"github.com/kayz/rosie/internal/logger"
	"github.com/kayz/rosie/internal/templates"
)

const (
	componentImageAccept = "image_accept"
	componentImageRetry  = "image_retry"
	componentImageDelete = "image_delete"
)

// pendingImage tracks a generated image awaiting review. Only the user
// who requested generation may accept, retry or delete it.
type pendingImage struct {
	channelID     string
	requesterID   string
	requesterName string
	prompt        string
	nsfw          bool
	timer         *time.Timer
}

type pendingImages struct {
	mu      sync.Mutex
	byMsgID map[string]*pendingImage
}

func newPendingImages() *pendingImages {
	return &pendingImages{byMsgID: make(map[string]*pendingImage)}
}

func (p *pendingImages) put(messageID string, img *pendingImage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byMsgID[messageID] = img
}

func (p *pendingImages) get(messageID string) *pendingImage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.byMsgID[messageID]
}

func (p *pendingImages) remove(messageID string) *pendingImage {
	p.mu.Lock()
	defer p.mu.Unlock()
	img := p.byMsgID[messageID]
	delete(p.byMsgID, messageID)
	if img != nil && img.timer != nil {
		img.timer.Stop()
	}
	return img
}

// PostImage generates an image for the request and posts it with review
// buttons. Failures send a user-visible error message before returning.
func (p *Platform) PostImage(ctx context.Context, msg bot.ConversationMessage, imagePrompt string) error {
	nsfw := p.channelNSFW(msg.ChannelID)

	img, err := p.images.GenerateImage(ctx, imagePrompt, nsfw)
	if err != nil {
		errText, tmplErr := p.store.Format(templates.ImageGenerationError, map[templates.Token]string{
			templates.TokenName:        msg.AuthorName,
			templates.TokenImagePrompt: imagePrompt,
		})
		if tmplErr == nil {
			if _, sendErr := p.session.ChannelMessageSend(msg.ChannelID, errText); sendErr != nil {
				logger.Error("[Discord] failed to send image error message: %v", sendErr)
			}
		}
		return fmt.Errorf("failed to generate image: %w", err)
	}

	confirmation, err := p.store.Format(templates.ImageConfirmation, map[templates.Token]string{
		templates.TokenName:         msg.AuthorName,
		templates.TokenImagePrompt:  imagePrompt,
		templates.TokenImageTimeout: fmt.Sprintf("%.0f", imageReviewTimeout.Minutes()),
	})
	if err != nil {
		return err
	}

	sent, err := p.session.ChannelMessageSendComplex(msg.ChannelID, &discordgo.MessageSend{
		Content: confirmation,
		Files: []*discordgo.File{{
			Name:        "photo.png",
			ContentType: "image/png",
			Reader:      bytes.NewReader(img),
		}},
		Components: imageReviewButtons(),
	})
	if err != nil {
		return fmt.Errorf("failed to post image: %w", err)
	}

	pending := &pendingImage{
		channelID:     msg.ChannelID,
		requesterID:   msg.AuthorID,
		requesterName: msg.AuthorName,
		prompt:        imagePrompt,
		nsfw:          nsfw,
	}
	pending.timer = time.AfterFunc(imageReviewTimeout, func() {
		if p.pending.remove(sent.ID) != nil {
			p.detachImage(sent.ID, pending)
		}
	})
	p.pending.put(sent.ID, pending)
	return nil
}

func imageReviewButtons() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{Label: "Accept", Style: discordgo.SuccessButton, CustomID: componentImageAccept},
				discordgo.Button{Label: "Try Again", Style: discordgo.PrimaryButton, CustomID: componentImageRetry},
				discordgo.Button{Label: "Delete", Style: discordgo.DangerButton, CustomID: componentImageDelete},
			},
		},
	}
}

func (p *Platform) handleComponent(i *discordgo.InteractionCreate) {
	if i.Message == nil {
		return
	}
	pending := p.pending.get(i.Message.ID)
	if pending == nil {
		return
	}

	userID, userName := interactionUser(i)
	if userID != pending.requesterID {
		unauthorized, err := p.store.Format(templates.ImageUnauthorized, map[templates.Token]string{
			templates.TokenName: pending.requesterName,
		})
		if err == nil {
			p.respondToInteraction(i, unauthorized, true)
		}
		return
	}

	switch i.MessageComponentData().CustomID {
	case componentImageAccept:
		p.deferInteraction(i)
		p.pending.remove(i.Message.ID)
		p.acceptImage(i.Message)
	case componentImageDelete:
		p.deferInteraction(i)
		if img := p.pending.remove(i.Message.ID); img != nil {
			p.detachImage(i.Message.ID, img)
		}
	case componentImageRetry:
		p.deferInteraction(i)
		p.retryImage(i.Message, pending)
	default:
		logger.Trace("[Discord] ignoring component %q from %s", i.MessageComponentData().CustomID, userName)
	}
}

// acceptImage locks the image in: the buttons go away, the image stays.
func (p *Platform) acceptImage(msg *discordgo.Message) {
	empty := ""
	components := []discordgo.MessageComponent{}
	_, err := p.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
		Channel:    msg.ChannelID,
		ID:         msg.ID,
		Content:    &empty,
		Components: &components,
	})
	if err != nil {
		logger.Error("[Discord] failed to accept image: %v", err)
	}
}

// detachImage replaces the image post with the detach notice.
func (p *Platform) detachImage(messageID string, pending *pendingImage) {
	detach, err := p.store.Format(templates.ImageDetach, map[templates.Token]string{
		templates.TokenName:        pending.requesterName,
		templates.TokenImagePrompt: pending.prompt,
	})
	if err != nil {
		logger.Error("[Discord] detach template failed: %v", err)
		return
	}
	components := []discordgo.MessageComponent{}
	attachments := []*discordgo.MessageAttachment{}
	_, err = p.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
		Channel:     pending.channelID,
		ID:          messageID,
		Content:     &detach,
		Components:  &components,
		Attachments: &attachments,
	})
	if err != nil {
		logger.Error("[Discord] failed to detach image: %v", err)
	}
}

// retryImage regenerates the image with a fresh seed and swaps it into
// the existing post.
func (p *Platform) retryImage(msg *discordgo.Message, pending *pendingImage) {
	img, err := p.images.GenerateImage(context.Background(), pending.prompt, pending.nsfw)
	if err != nil {
		logger.Error("[Discord] failed to regenerate image: %v", err)
		return
	}
	attachments := []*discordgo.MessageAttachment{}
	_, err = p.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
		Channel:     pending.channelID,
		ID:          msg.ID,
		Files: []*discordgo.File{{
			Name:        "photo.png",
			ContentType: "image/png",
			Reader:      bytes.NewReader(img),
		}},
		Attachments: &attachments,
	})
	if err != nil {
		logger.Error("[Discord] failed to swap regenerated image: %v", err)
	}
}

func (p *Platform) deferInteraction(i *discordgo.InteractionCreate) {
	err := p.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})
	if err != nil {
		logger.Trace("[Discord] failed to defer interaction: %v", err)
	}
}

func interactionUser(i *discordgo.InteractionCreate) (string, string) {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID, i.Member.User.Username
	}
	if i.User != nil {
		return i.User.ID, i.User.Username
	}
	return "", ""
}
