package bot

import "strings"

// dmPlaceholder stands in for the guild name when a message arrives
// outside any named server.
const dmPlaceholder = "DM"

// forbidden characters are replaced with spaces, to make it harder for
// users to trick the prompt into injecting other instructions, or data
// that appears to be from a different user
var sanitizeReplacer = strings.NewReplacer(
	"\n", " ",
	"\r", " ",
	"\t", " ",
)

// Sanitize replaces newline, carriage-return and tab characters with
// single spaces. Idempotent; other characters pass through unchanged.
func Sanitize(raw string) string {
	return sanitizeReplacer.Replace(raw)
}

// SanitizeMessage produces the normalized view of a raw platform message.
func SanitizeMessage(raw RawMessage) ConversationMessage {
	guildName := raw.GuildName
	if guildName == "" {
		guildName = dmPlaceholder
	}
	return ConversationMessage{
		ID:         raw.ID,
		ChannelID:  raw.ChannelID,
		AuthorID:   raw.AuthorID,
		AuthorName: Sanitize(raw.AuthorName),
		Text:       strings.TrimSpace(Sanitize(raw.Text)),
		GuildName:  Sanitize(guildName),
		IsBot:      raw.AuthorIsBot,
		Timestamp:  raw.Timestamp,
	}
}
