package bot

import (
	"context"
	"time"
)

// MessageID is an opaque platform message identifier, comparable and
// usable as a history truncation boundary.
type MessageID string

// RawMessage is a platform message before sanitization.
type RawMessage struct {
	ID             MessageID
	ChannelID      string
	AuthorID       string
	AuthorName     string
	AuthorIsBot    bool
	Text           string
	GuildName      string // empty for direct messages
	IsDM           bool
	MentionsSelf   bool
	MentionsOthers bool
	Timestamp      time.Time
}

// ConversationMessage is the sanitized, immutable view of one message.
type ConversationMessage struct {
	ID         MessageID
	ChannelID  string
	AuthorID   string
	AuthorName string
	Text       string
	GuildName  string
	IsBot      bool
	Timestamp  time.Time
}

// HistoryIterator yields conversation messages newest-first. Next returns
// io.EOF when the history is exhausted. Pulling stops as soon as the
// caller stops calling Next, so implementations can fetch lazily.
type HistoryIterator interface {
	Next(ctx context.Context) (RawMessage, error)
}

// HistorySource fetches recent channel history, newest-first.
type HistorySource interface {
	ChannelHistory(ctx context.Context, channelID string, limit int) (HistoryIterator, error)
}

// SentenceStream yields sentence-granularity chunks of a generated
// response. Next returns io.EOF when the backend finishes.
type SentenceStream interface {
	Next(ctx context.Context) (string, error)
	Close() error
}

// Generator starts a streaming generation request.
type Generator interface {
	Generate(ctx context.Context, prompt string) (SentenceStream, error)
}

// Sender posts a text message to a channel and returns the sent
// message's identifier.
type Sender interface {
	SendText(ctx context.Context, channelID, text string) (MessageID, error)
}

// TypingNotifier is implemented by senders that can show a typing
// indicator. Notified once per response cycle, only after the decision
// to respond has been made.
type TypingNotifier interface {
	NotifyTyping(ctx context.Context, channelID string)
}

// ImagePoster generates an image for a prompt and posts it, including any
// platform-side review UI. Runs in its own detached task.
type ImagePoster interface {
	PostImage(ctx context.Context, msg ConversationMessage, imagePrompt string) error
}

// RequestStats tracks one response cycle for the statistics sink.
type RequestStats interface {
	SentenceSent(sentence string)
	Success()
	Failure()
}

// StatsSink records aggregate operational statistics. Nothing in the
// response pipeline reads these back.
type StatsSink interface {
	RequestArrived(channelID string, promptChars int) RequestStats
}
