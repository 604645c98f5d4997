package bot

import (
	"strings"
	"testing"
)

func TestSanitizeStripsControlCharacters(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "hello\nworld", want: "hello world"},
		{input: "a\r\nb", want: "a  b"},
		{input: "tab\tseparated", want: "tab separated"},
		{input: "clean text", want: "clean text"},
		{input: "\n\r\t", want: "   "},
	}

	for _, tt := range tests {
		got := Sanitize(tt.input)
		if got != tt.want {
			t.Fatalf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
		}
		if strings.ContainsAny(got, "\n\r\t") {
			t.Fatalf("Sanitize(%q) left a control character: %q", tt.input, got)
		}
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	input := "first\nsecond\tthird\r"
	once := Sanitize(input)
	twice := Sanitize(once)
	if once != twice {
		t.Fatalf("Sanitize is not idempotent: %q vs %q", once, twice)
	}
}

func TestSanitizeMessageTrimsAndFillsGuild(t *testing.T) {
	msg := SanitizeMessage(RawMessage{
		ID:         "42",
		ChannelID:  "chan",
		AuthorName: "alice\nbob",
		Text:       "  hey\tthere\n ",
	})

	if msg.Text != "hey there" {
		t.Fatalf("unexpected text: %q", msg.Text)
	}
	if msg.AuthorName != "alice bob" {
		t.Fatalf("unexpected author: %q", msg.AuthorName)
	}
	if msg.GuildName != "DM" {
		t.Fatalf("expected DM placeholder for empty guild, got %q", msg.GuildName)
	}
}
