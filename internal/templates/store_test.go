package templates

import (
	"strings"
	"testing"
)

func TestStoreDefaultsAreValid(t *testing.T) {
	if _, err := NewStore(nil); err != nil {
		t.Fatalf("default templates failed validation: %v", err)
	}
}

func TestStoreRejectsUnknownTemplateName(t *testing.T) {
	_, err := NewStore(map[string]string{"no_such_template": "hello"})
	if err == nil {
		t.Fatal("expected an error for an unknown template name")
	}
}

func TestStoreRejectsDisallowedToken(t *testing.T) {
	// PERSONA is not on the allow-list for history lines
	_, err := NewStore(map[string]string{
		"user_history_line": "{USER_NAME} ({PERSONA}) says: {MESSAGE}",
	})
	if err == nil {
		t.Fatal("expected an error for a disallowed token")
	}
}

func TestStoreRejectsStrayBraces(t *testing.T) {
	_, err := NewStore(map[string]string{
		"image_unauthorized": "sorry {NAME}, you } cannot",
	})
	if err == nil {
		t.Fatal("expected an error for a stray brace")
	}
}

func TestFormatSubstitutesTokens(t *testing.T) {
	store, err := NewStore(nil)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}

	out, err := store.Format(UserHistoryLine, map[Token]string{
		TokenUserName: "alice",
		TokenMessage:  "hello world",
	})
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}
	if out != "alice says:\nhello world\n" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestFormatRejectsDisallowedArg(t *testing.T) {
	store, err := NewStore(nil)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}

	_, err = store.Format(ImageComing, map[Token]string{TokenMessage: "oops"})
	if err == nil {
		t.Fatal("expected an error for an arg outside the allow-list")
	}
}

func TestOverrideReplacesDefault(t *testing.T) {
	store, err := NewStore(map[string]string{
		"amnesia_response": "{AI_NAME} remembers nothing, {NAME}.",
	})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}

	out, err := store.Format(AmnesiaResponse, map[Token]string{
		TokenAIName: "Rosie",
		TokenName:   "bob",
	})
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}
	if out != "Rosie remembers nothing, bob." {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestDetachTemplateKeepsHistoryMarker(t *testing.T) {
	store, err := NewStore(nil)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}

	out, err := store.Format(ImageDetach, map[Token]string{
		TokenName:        "bob",
		TokenImagePrompt: "a cat",
	})
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}
	// prompt assembly recognizes detach notices by this phrase; losing it
	// would leak image diagnostics into the generation prompt
	if !strings.Contains(out, "tried to make an image with the prompt") {
		t.Fatalf("detach notice lost its marker phrase: %q", out)
	}
}
