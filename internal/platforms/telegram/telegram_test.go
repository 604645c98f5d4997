package telegram

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kayz/rosie/internal/bot"
	"github.com/kayz/rosie/internal/config"
	"github.com/kayz/rosie/internal/templates"
)

func messageEntity(entityType string, offset, length int) tgbotapi.MessageEntity {
	return tgbotapi.MessageEntity{Type: entityType, Offset: offset, Length: length}
}

func TestTranscriptServesNewestFirst(t *testing.T) {
	tr := newTranscript(10)
	for _, id := range []string{"1", "2", "3"} {
		tr.add("chat", bot.RawMessage{ID: bot.MessageID(id), ChannelID: "chat"})
	}

	got := tr.snapshot("chat", 10)
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	if got[0].ID != "3" || got[2].ID != "1" {
		t.Fatalf("snapshot not newest-first: %v", got)
	}
}

func TestTranscriptBoundedDepth(t *testing.T) {
	tr := newTranscript(2)
	for _, id := range []string{"1", "2", "3", "4"} {
		tr.add("chat", bot.RawMessage{ID: bot.MessageID(id)})
	}

	got := tr.snapshot("chat", 10)
	if len(got) != 2 {
		t.Fatalf("expected depth cap of 2, got %d", len(got))
	}
	if got[0].ID != "4" || got[1].ID != "3" {
		t.Fatalf("oldest messages should have been evicted: %v", got)
	}
}

func TestTranscriptSnapshotLimit(t *testing.T) {
	tr := newTranscript(10)
	for _, id := range []string{"1", "2", "3", "4"} {
		tr.add("chat", bot.RawMessage{ID: bot.MessageID(id)})
	}

	got := tr.snapshot("chat", 2)
	if len(got) != 2 || got[0].ID != "4" || got[1].ID != "3" {
		t.Fatalf("limit should keep the newest messages: %v", got)
	}
}

func TestTranscriptChatsAreIndependent(t *testing.T) {
	tr := newTranscript(10)
	tr.add("a", bot.RawMessage{ID: "1"})
	tr.add("b", bot.RawMessage{ID: "2"})

	if got := tr.snapshot("a", 10); len(got) != 1 || got[0].ID != "1" {
		t.Fatalf("chat a polluted: %v", got)
	}
	if got := tr.snapshot("empty", 10); len(got) != 0 {
		t.Fatalf("unknown chat should be empty: %v", got)
	}
}

func TestHistoryIteratorDrains(t *testing.T) {
	it := &historyIterator{messages: []bot.RawMessage{{ID: "2"}, {ID: "1"}}}

	first, err := it.Next(context.Background())
	if err != nil || first.ID != "2" {
		t.Fatalf("first = %v, %v", first, err)
	}
	second, err := it.Next(context.Background())
	if err != nil || second.ID != "1" {
		t.Fatalf("second = %v, %v", second, err)
	}
	if _, err := it.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF at end, got %v", err)
	}
}

func TestEntityText(t *testing.T) {
	// offsets land inside the string; out-of-range entities are ignored
	got := entityText("hello @rosie_bot hi", messageEntity("mention", 6, 10))
	if got != "@rosie_bot" {
		t.Fatalf("entityText = %q", got)
	}
	if got := entityText("short", messageEntity("mention", 3, 10)); got != "" {
		t.Fatalf("out-of-range entity should be empty, got %q", got)
	}
}

type gateGenerator struct {
	release chan struct{}
}

func (g *gateGenerator) Generate(ctx context.Context, prompt string) (bot.SentenceStream, error) {
	if strings.Contains(prompt, "hold the line") {
		<-g.release
	}
	return &staticStream{sentences: []string{"ok."}}, nil
}

type staticStream struct {
	sentences []string
}

func (s *staticStream) Next(ctx context.Context) (string, error) {
	if len(s.sentences) == 0 {
		return "", io.EOF
	}
	out := s.sentences[0]
	s.sentences = s.sentences[1:]
	return out, nil
}

func (s *staticStream) Close() error { return nil }

type recordingSender struct {
	sent chan string // channel IDs, in send order
}

func (s *recordingSender) SendText(ctx context.Context, channelID, text string) (bot.MessageID, error) {
	s.sent <- channelID
	return bot.MessageID("1"), nil
}

type nopStats struct{}

func (nopStats) RequestArrived(string, int) bot.RequestStats { return nopRequest{} }

type nopRequest struct{}

func (nopRequest) SentenceSent(string) {}
func (nopRequest) Success()            {}
func (nopRequest) Failure()            {}

func privateUpdate(chatID int64, msgID int, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: msgID,
		From:      &tgbotapi.User{ID: 5, UserName: "u"},
		Chat:      &tgbotapi.Chat{ID: chatID, Type: "private"},
		Text:      text,
		Date:      int(time.Now().Unix()),
	}}
}

func TestUpdatesDispatchConcurrently(t *testing.T) {
	release := make(chan struct{})
	sent := make(chan string, 4)

	p := &Platform{
		api:        &tgbotapi.BotAPI{Self: tgbotapi.User{ID: 99, UserName: "rosie_bot"}},
		transcript: newTranscript(10),
	}

	store, err := templates.NewStore(nil)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	assembler, err := bot.NewPromptAssembler("Rosie", "", store, 2048, 3, 20, 30)
	if err != nil {
		t.Fatalf("failed to build assembler: %v", err)
	}

	orch := bot.NewOrchestrator(bot.OrchestratorDeps{
		AIName:       "Rosie",
		HistoryLines: 20,
		Policy:       bot.NewDecisionPolicy(nil, config.DecisionConfig{}, time.Now, func() float64 { return 0.999 }),
		Tracker:      bot.NewRepetitionTracker(1),
		Assembler:    assembler,
		History:      p,
		Generator:    &gateGenerator{release: release},
		Sender:       &recordingSender{sent: sent},
		Stats:        nopStats{},
	})
	orch.SetSelfID("99")
	p.orch = orch

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer close(release)

	updates := make(chan tgbotapi.Update, 2)
	go p.handleUpdates(ctx, updates)

	// the first chat's generation blocks; the second chat must still get
	// its answer
	updates <- privateUpdate(1, 10, "hold the line please")
	updates <- privateUpdate(2, 11, "anyone home")

	select {
	case channelID := <-sent:
		if channelID != "2" {
			t.Fatalf("expected chat 2 to answer while chat 1 is busy, got chat %s", channelID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("a blocked generation in one chat stalled the other chat's response")
	}
}
