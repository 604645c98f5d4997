package persist

import (
	"path/filepath"
	"testing"
)

func TestRecordAndReadBack(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	records := []ResponseRecord{
		{RequestID: "r1", ChannelID: "chan", PromptChars: 1200, SentenceCount: 3, DurationMs: 850, Success: true},
		{RequestID: "r2", ChannelID: "chan", PromptChars: 900, SentenceCount: 0, DurationMs: 120, Success: false},
	}
	for _, rec := range records {
		if err := store.RecordResponse(rec); err != nil {
			t.Fatalf("RecordResponse failed: %v", err)
		}
	}

	got, err := store.RecentResponses(10)
	if err != nil {
		t.Fatalf("RecentResponses failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}

	// newest first
	if got[0].RequestID != "r2" || got[1].RequestID != "r1" {
		t.Fatalf("unexpected order: %q, %q", got[0].RequestID, got[1].RequestID)
	}
	if got[1].PromptChars != 1200 || !got[1].Success {
		t.Fatalf("record fields lost: %+v", got[1])
	}
	if got[0].Success {
		t.Fatalf("failure flag lost: %+v", got[0])
	}
	if got[0].CreatedAt.IsZero() {
		t.Fatal("created_at was not filled in")
	}
}

func TestRecentResponsesLimit(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	for i := 0; i < 5; i++ {
		if err := store.RecordResponse(ResponseRecord{RequestID: "r", ChannelID: "chan", Success: true}); err != nil {
			t.Fatalf("RecordResponse failed: %v", err)
		}
	}

	got, err := store.RecentResponses(3)
	if err != nil {
		t.Fatalf("RecentResponses failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
}
