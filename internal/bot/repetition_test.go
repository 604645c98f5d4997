package bot

import "testing"

func TestRepetitionThrottleAfterThresholdRepeats(t *testing.T) {
	tracker := NewRepetitionTracker(2)

	tracker.RecordBotMessage("chan", "1", "I like trains.")
	tracker.RecordBotMessage("chan", "2", "I like trains.")
	if got := tracker.ThrottleMessageID("chan"); got != "" {
		t.Fatalf("throttled too early at %q", got)
	}

	// third identical message reaches the threshold
	tracker.RecordBotMessage("chan", "3", "I like trains.")
	if got := tracker.ThrottleMessageID("chan"); got != "3" {
		t.Fatalf("expected throttle at message 3, got %q", got)
	}
}

func TestRepetitionCanonicalizesCaseAndSpace(t *testing.T) {
	tracker := NewRepetitionTracker(1)

	tracker.RecordBotMessage("chan", "1", "Hello there.")
	tracker.RecordBotMessage("chan", "2", "  hello THERE.  ")
	if got := tracker.ThrottleMessageID("chan"); got != "2" {
		t.Fatalf("expected case-insensitive repeat to throttle at 2, got %q", got)
	}
}

func TestRepetitionDifferentTextResetsCountKeepsBoundary(t *testing.T) {
	tracker := NewRepetitionTracker(1)

	tracker.RecordBotMessage("chan", "1", "ok.")
	tracker.RecordBotMessage("chan", "2", "ok.")
	if got := tracker.ThrottleMessageID("chan"); got != "2" {
		t.Fatalf("expected throttle at 2, got %q", got)
	}

	// a different message resets the counter but never clears the boundary
	tracker.RecordBotMessage("chan", "3", "something new")
	if got := tracker.ThrottleMessageID("chan"); got != "2" {
		t.Fatalf("boundary should persist after non-repeat, got %q", got)
	}

	// the loop has to build back up from scratch
	tracker.RecordBotMessage("chan", "4", "something new")
	if got := tracker.ThrottleMessageID("chan"); got != "4" {
		t.Fatalf("expected fresh throttle at 4, got %q", got)
	}
}

func TestRepetitionChannelsAreIndependent(t *testing.T) {
	tracker := NewRepetitionTracker(1)

	tracker.RecordBotMessage("a", "1", "loop")
	tracker.RecordBotMessage("a", "2", "loop")
	tracker.RecordBotMessage("b", "9", "loop")

	if got := tracker.ThrottleMessageID("a"); got != "2" {
		t.Fatalf("channel a: expected throttle at 2, got %q", got)
	}
	if got := tracker.ThrottleMessageID("b"); got != "" {
		t.Fatalf("channel b should be clean, got %q", got)
	}
}

func TestHideMessagesBeforeForcesBoundary(t *testing.T) {
	tracker := NewRepetitionTracker(3)

	tracker.HideMessagesBefore("chan", "77")
	if got := tracker.ThrottleMessageID("chan"); got != "77" {
		t.Fatalf("expected forced boundary 77, got %q", got)
	}
}
