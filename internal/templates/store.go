package templates

import (
	"fmt"
	"strings"
)

// Token is a variable substitution slot inside a template.
type Token string

const (
	TokenAIName         Token = "AI_NAME"
	TokenPersona        Token = "PERSONA"
	TokenMessageHistory Token = "MESSAGE_HISTORY"
	TokenImageComing    Token = "IMAGE_COMING"
	TokenUserName       Token = "USER_NAME"
	TokenBotName        Token = "BOT_NAME"
	TokenMessage        Token = "MESSAGE"
	TokenName           Token = "NAME"
	TokenImagePrompt    Token = "IMAGE_PROMPT"
	TokenImageTimeout   Token = "IMAGE_TIMEOUT"
)

// Name identifies a registered template.
type Name string

const (
	// Prompt is the main prompt sent to the text-generation backend.
	Prompt Name = "prompt"
	// UserHistoryLine renders one line of chat history for a user.
	UserHistoryLine Name = "user_history_line"
	// BotHistoryLine renders one line of chat history for the bot.
	BotHistoryLine Name = "bot_history_line"
	// ImageComing tells the AI an image is being generated for the user.
	ImageComing Name = "image_coming"
	// ImageConfirmation asks the requester to keep or discard an image.
	ImageConfirmation Name = "image_confirmation"
	// ImageDetach is posted when the requester discards an image.
	ImageDetach Name = "image_detach"
	// ImageGenerationError is posted when the image backend fails.
	ImageGenerationError Name = "image_generation_error"
	// ImageUnauthorized is shown to users pressing someone else's buttons.
	ImageUnauthorized Name = "image_unauthorized"
	// AmnesiaResponse is posted after the history window is reset.
	AmnesiaResponse Name = "amnesia_response"
)

// allowedTokens maps each template to the closed set of tokens it may use.
var allowedTokens = map[Name][]Token{
	Prompt:               {TokenAIName, TokenPersona, TokenMessageHistory, TokenImageComing},
	UserHistoryLine:      {TokenUserName, TokenMessage},
	BotHistoryLine:       {TokenBotName, TokenMessage},
	ImageComing:          {TokenAIName},
	ImageConfirmation:    {TokenName, TokenImagePrompt, TokenImageTimeout},
	ImageDetach:          {TokenName, TokenImagePrompt},
	ImageGenerationError: {TokenName, TokenImagePrompt},
	ImageUnauthorized:    {TokenName},
	AmnesiaResponse:      {TokenAIName, TokenName},
}

var defaultTemplates = map[Name]string{
	Prompt: `You are in a chat room with multiple participants.
Below is a transcript of recent messages in the conversation.
Write the next one to three messages that you would send in this
conversation, from the point of view of the participant named
{AI_NAME}.

{PERSONA}

All responses you write must be from the point of view of
{AI_NAME}.
### Transcript:
{MESSAGE_HISTORY}
{IMAGE_COMING}`,
	UserHistoryLine: "{USER_NAME} says:\n{MESSAGE}\n",
	BotHistoryLine:  "{BOT_NAME} says:\n{MESSAGE}\n",
	ImageComing:     "{AI_NAME}: is currently generating an image, as requested.\n",
	ImageConfirmation: "{NAME}, is this what you wanted?\n" +
		"If no choice is made, this message will 💣 self-destruct 💣 in {IMAGE_TIMEOUT} minutes.",
	ImageDetach: "{NAME} tried to make an image with the prompt:\n" +
		"    '{IMAGE_PROMPT}'\n" +
		"...but couldn't find a suitable one.",
	ImageGenerationError: "Something went wrong generating your image.  Sorry about that!",
	ImageUnauthorized:    "Sorry, only {NAME} can press the buttons.",
	AmnesiaResponse:      "Ummmm... what were we talking about?",
}

type template struct {
	format  string
	allowed []Token
}

// Store holds validated template definitions.
type Store struct {
	templates map[Name]*template
}

// NewStore builds a store from the default templates plus any overrides,
// keyed by template name. Unknown override names and templates referencing
// tokens outside their allow-list are rejected here, not at format time.
func NewStore(overrides map[string]string) (*Store, error) {
	s := &Store{templates: make(map[Name]*template, len(defaultTemplates))}
	for name, format := range defaultTemplates {
		if err := s.register(name, format); err != nil {
			return nil, err
		}
	}
	for rawName, format := range overrides {
		name := Name(rawName)
		if _, ok := allowedTokens[name]; !ok {
			return nil, fmt.Errorf("unknown template name: %q", rawName)
		}
		if err := s.register(name, format); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) register(name Name, format string) error {
	allowed := allowedTokens[name]
	if err := validateFormat(name, format, allowed); err != nil {
		return err
	}
	s.templates[name] = &template{format: format, allowed: allowed}
	return nil
}

// Format substitutes the given token values into the named template.
// Args outside the template's allow-list are an error, though registration
// validation means a well-formed caller never hits it.
func (s *Store) Format(name Name, args map[Token]string) (string, error) {
	tmpl, ok := s.templates[name]
	if !ok {
		return "", fmt.Errorf("template not registered: %q", name)
	}
	for token := range args {
		if !containsToken(tmpl.allowed, token) {
			return "", fmt.Errorf("template %q does not allow token %q", name, token)
		}
	}
	out := tmpl.format
	for token, value := range args {
		out = strings.ReplaceAll(out, "{"+string(token)+"}", value)
	}
	return out, nil
}

// validateFormat rejects any format string containing a brace-delimited
// token outside the allow-list, or stray braces.
func validateFormat(name Name, format string, allowed []Token) error {
	allowedClose := make(map[int]bool)
	for i := 0; i < len(format); i++ {
		if format[i] != '{' {
			continue
		}
		matched := false
		for _, token := range allowed {
			end := i + len(token) + 1
			if end < len(format) && format[i:end+1] == "{"+string(token)+"}" {
				allowedClose[end] = true
				matched = true
				break
			}
		}
		if !matched {
			return fmt.Errorf("invalid template %q: contains a token not in %v", name, allowed)
		}
	}
	for i := 0; i < len(format); i++ {
		if format[i] == '}' && !allowedClose[i] {
			return fmt.Errorf("invalid template %q: contains a token not in %v", name, allowed)
		}
	}
	return nil
}

func containsToken(tokens []Token, t Token) bool {
	for _, token := range tokens {
		if token == t {
			return true
		}
	}
	return false
}
