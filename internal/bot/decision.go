package bot

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/kayz/rosie/internal/config"
)

// Decision is the outcome of evaluating one inbound message.
type Decision struct {
	Respond bool
	Reason  string
}

// DecisionPolicy decides whether the bot should respond to a message.
// Direct address (DM, wakeword, @-mention) always wins; otherwise a
// response may still happen unsolicited, with a probability that decays
// with the time since the bot was last directly addressed in the channel.
type DecisionPolicy struct {
	ignoreDMs        bool
	wakewords        []*regexp.Regexp
	responseChance   []config.DurationChance
	interrobangBonus float64
	discardAfter     time.Duration

	mu         sync.Mutex
	selfID     string
	lastDirect map[string]time.Time

	now  func() time.Time
	rand func() float64
}

// NewDecisionPolicy builds a policy from config. The random source and
// clock are injected so tests can supply deterministic sequences. The
// bot's own user ID is set separately once the platform has connected.
func NewDecisionPolicy(wakewords []string, cfg config.DecisionConfig, now func() time.Time, rand func() float64) *DecisionPolicy {
	patterns := make([]*regexp.Regexp, 0, len(wakewords))
	for _, word := range wakewords {
		// match the wakeword as a whole word, not as part of another word
		patterns = append(patterns, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(word)+`\b`))
	}

	var discardAfter time.Duration
	for _, dc := range cfg.TimeVsResponseChance {
		d := time.Duration(dc.WithinSeconds * float64(time.Second))
		if d > discardAfter {
			discardAfter = d
		}
	}

	return &DecisionPolicy{
		ignoreDMs:        cfg.IgnoreDMs,
		wakewords:        patterns,
		responseChance:   cfg.TimeVsResponseChance,
		interrobangBonus: cfg.InterrobangBonus,
		discardAfter:     discardAfter,
		lastDirect:       make(map[string]time.Time),
		now:              now,
		rand:             rand,
	}
}

// SetSelfID records the bot's own user ID once known.
func (p *DecisionPolicy) SetSelfID(selfID string) {
	p.mu.Lock()
	p.selfID = selfID
	p.mu.Unlock()
}

// ShouldRespond evaluates the decision rules in order for one message.
func (p *DecisionPolicy) ShouldRespond(raw RawMessage) Decision {
	p.mu.Lock()
	selfID := p.selfID
	p.mu.Unlock()

	// never reply to other bots, out of fear of infinite loops. The self
	// check is redundant with it unless the process runs under a plain
	// user token.
	if raw.AuthorIsBot || (selfID != "" && raw.AuthorID == selfID) {
		return Decision{Respond: false, Reason: "author is a bot"}
	}

	if reason, ok := p.isDirectlyAddressed(raw); ok {
		p.mu.Lock()
		p.lastDirect[raw.ChannelID] = p.now()
		p.mu.Unlock()
		return Decision{Respond: true, Reason: reason}
	}

	// not addressed to us from here on. If others are @-mentioned, this
	// is a targeted exchange we should stay out of.
	if raw.MentionsOthers {
		return Decision{Respond: false, Reason: "message mentions others"}
	}

	// empty messages happen when someone posts an attachment without a
	// comment
	text := strings.TrimSpace(raw.Text)
	if text == "" {
		return Decision{Respond: false, Reason: "message is empty"}
	}

	p.purgeOutdated()

	if p.shouldRespondUnsolicited(raw.ChannelID, text) {
		return Decision{Respond: true, Reason: "unsolicited"}
	}
	return Decision{Respond: false, Reason: "not addressed"}
}

func (p *DecisionPolicy) isDirectlyAddressed(raw RawMessage) (string, bool) {
	if raw.IsDM {
		if p.ignoreDMs {
			return "", false
		}
		return "direct message", true
	}
	for _, pattern := range p.wakewords {
		if pattern.MatchString(raw.Text) {
			return "wakeword", true
		}
	}
	if raw.MentionsSelf {
		return "mention", true
	}
	return "", false
}

func (p *DecisionPolicy) shouldRespondUnsolicited(channelID, text string) bool {
	p.mu.Lock()
	lastDirect, ok := p.lastDirect[channelID]
	p.mu.Unlock()
	if !ok {
		return false
	}

	elapsed := p.now().Sub(lastDirect).Seconds()

	chance := 0.0
	for _, dc := range p.responseChance {
		if elapsed < dc.WithinSeconds {
			chance = dc.Chance
			break
		}
	}

	// messages that end emphatically are more worth responding to
	if strings.HasSuffix(text, "?") {
		chance += p.interrobangBonus
	}
	if strings.HasSuffix(text, "!") {
		chance += p.interrobangBonus
	}

	return p.rand() < chance
}

// purgeOutdated drops last-direct-response entries older than the largest
// decay threshold. Runs on every evaluation so the map stays bounded to
// recently-active channels.
func (p *DecisionPolicy) purgeOutdated() {
	oldest := p.now().Add(-p.discardAfter)

	p.mu.Lock()
	defer p.mu.Unlock()
	for channelID, at := range p.lastDirect {
		if at.Before(oldest) {
			delete(p.lastDirect, channelID)
		}
	}
}
