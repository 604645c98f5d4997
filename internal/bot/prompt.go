package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/kayz/rosie/internal/logger"
	"github.com/kayz/rosie/internal/templates"
)

// imageLogMarker appears in bot-authored messages that are image-request
// diagnostics rather than real conversation; history assembly skips them.
const imageLogMarker = "tried to make an image with the prompt"

// PromptAssembler builds the bounded generation prompt: persona header,
// a budget-constrained window of recent history, and an optional
// image-pending notice.
type PromptAssembler struct {
	aiName       string
	persona      string
	store        *templates.Store
	historyLines int

	imageComingNotice string
	maxHistoryChars   int
}

// NewPromptAssembler computes the history character budget once, up
// front: the estimated token space in characters, minus the prompt
// rendered with empty history but with the image notice in place. It
// fails fast when the remainder cannot hold a usable history window,
// which signals a persona or template too large for the model context.
func NewPromptAssembler(aiName, persona string, store *templates.Store, maxTokenSpace, estCharsPerToken, historyLines, estCharsPerLine int) (*PromptAssembler, error) {
	notice, err := store.Format(templates.ImageComing, map[templates.Token]string{
		templates.TokenAIName: aiName,
	})
	if err != nil {
		return nil, err
	}

	a := &PromptAssembler{
		aiName:            aiName,
		persona:           persona,
		store:             store,
		historyLines:      historyLines,
		imageComingNotice: notice,
	}

	estCharsInTokenSpace := maxTokenSpace * estCharsPerToken
	emptyPrompt, err := a.fillPromptTemplate("", notice)
	if err != nil {
		return nil, err
	}
	// budget in code points, not bytes, so multibyte text does not
	// shrink the window below the configured estimate
	a.maxHistoryChars = estCharsInTokenSpace - utf8.RuneCountInString(emptyPrompt)

	required := historyLines * estCharsPerLine
	if a.maxHistoryChars < required {
		return nil, fmt.Errorf(
			"token space is too small for the prompt and history by an estimated %d characters; "+
				"shorten the persona or reduce the number of history lines",
			required-a.maxHistoryChars)
	}
	return a, nil
}

// MaxHistoryChars returns the character budget available for history.
func (a *PromptAssembler) MaxHistoryChars() int {
	return a.maxHistoryChars
}

// AssembleHistory consumes history newest-first, stopping at the throttle
// boundary (exclusive) or when the budget is exhausted, and returns the
// collected lines oldest-first. Lines are never partially truncated.
func (a *PromptAssembler) AssembleHistory(ctx context.Context, selfID string, history HistoryIterator, stopBefore MessageID) (string, error) {
	remaining := a.maxHistoryChars
	var lines []string

	for {
		raw, err := history.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to fetch history: %w", err)
		}

		// the throttle message marks where the repetition loop started;
		// hide it and everything older
		if stopBefore != "" && raw.ID == stopBefore {
			break
		}

		msg := SanitizeMessage(raw)

		lineTemplate := templates.UserHistoryLine
		nameToken := templates.TokenUserName
		author := msg.AuthorName
		if msg.AuthorID == selfID {
			if strings.Contains(msg.Text, imageLogMarker) {
				continue
			}
			lineTemplate = templates.BotHistoryLine
			nameToken = templates.TokenBotName
			author = a.aiName
		}

		if msg.Text == "" {
			continue
		}

		line, err := a.store.Format(lineTemplate, map[templates.Token]string{
			nameToken:              author,
			templates.TokenMessage: msg.Text,
		})
		if err != nil {
			return "", err
		}

		lineChars := utf8.RuneCountInString(line)
		if lineChars > remaining {
			logger.Warn("[Prompt] ran out of prompt space, discarding %d lines of chat history",
				a.historyLines-len(lines))
			break
		}
		remaining -= lineChars
		lines = append(lines, line)
	}

	// collected newest-first, emitted oldest-first
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return strings.Join(lines, ""), nil
}

// Assemble renders the full prompt around an assembled history block.
func (a *PromptAssembler) Assemble(history string, imageComing bool) (string, error) {
	notice := ""
	if imageComing {
		notice = a.imageComingNotice
	}
	return a.fillPromptTemplate(history, notice)
}

func (a *PromptAssembler) fillPromptTemplate(history, imageComing string) (string, error) {
	return a.store.Format(templates.Prompt, map[templates.Token]string{
		templates.TokenAIName:         a.aiName,
		templates.TokenPersona:        a.persona,
		templates.TokenMessageHistory: history,
		templates.TokenImageComing:    imageComing,
	})
}
