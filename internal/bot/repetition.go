package bot

import (
	"strings"
	"sync"

	"github.com/kayz/rosie/internal/logger"
)

// RepetitionTracker watches the bot's own messages for degenerate loops.
// Generation backends occasionally get stuck repeating one sentence turn
// after turn, because that sentence is now the most recent and most
// reinforced context. When the same canonical text is seen more than
// threshold times in a row, the tracker records a throttle point: the
// next prompt build excludes history at and before that message, forcing
// the window to start fresh.
type RepetitionTracker struct {
	threshold int

	mu       sync.Mutex
	channels map[string]*repetitionState
}

type repetitionState struct {
	lastCanonical string
	throttleID    MessageID
	repeatCount   int
}

// NewRepetitionTracker creates a tracker that throttles after the same
// message has been repeated threshold times.
func NewRepetitionTracker(threshold int) *RepetitionTracker {
	return &RepetitionTracker{
		threshold: threshold,
		channels:  make(map[string]*repetitionState),
	}
}

// ThrottleMessageID returns the recorded throttle boundary for a channel,
// or empty if none has been set.
func (t *RepetitionTracker) ThrottleMessageID(channelID string) MessageID {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.channels[channelID]
	if !ok {
		return ""
	}
	return state.throttleID
}

// RecordBotMessage logs a message the bot just sent, for repetition
// tracking.
func (t *RepetitionTracker) RecordBotMessage(channelID string, id MessageID, text string) {
	canonical := canonicalize(text)

	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.channels[channelID]
	if !ok {
		state = &repetitionState{}
		t.channels[channelID] = state
	}

	if state.lastCanonical == canonical {
		state.repeatCount++
	} else {
		state.repeatCount = 0
	}
	logger.Debug("[Repetition] count for channel %s is %d", channelID, state.repeatCount)

	if state.repeatCount >= t.threshold {
		logger.Warn("[Repetition] loop detected, will throttle history for channel %s in next request", channelID)
		state.throttleID = id
	}

	// the boundary is only ever overwritten, never cleared: a single
	// non-repeat does not mean the model's tendency to loop on this
	// thread has gone away
	state.lastCanonical = canonical
}

// HideMessagesBefore forces the throttle boundary to the given message,
// hiding everything at and before it from the next prompt build. Used by
// the amnesia command.
func (t *RepetitionTracker) HideMessagesBefore(channelID string, id MessageID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.channels[channelID]
	if !ok {
		state = &repetitionState{}
		t.channels[channelID] = state
	}
	state.throttleID = id
}

func canonicalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
