package stats

import (
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/kayz/rosie/internal/bot"
	"github.com/kayz/rosie/internal/logger"
	"github.com/kayz/rosie/internal/persist"
)

// Aggregate collects operational statistics across response cycles.
// It implements the orchestrator's stats sink; no core logic reads any
// of this back.
type Aggregate struct {
	journal *persist.Store // nil when journaling is disabled

	mu               sync.Mutex
	successCount     int
	failureCount     int
	totalSentences   int
	totalPromptChars int
	totalDuration    time.Duration
	totalLatency     time.Duration
	latencySamples   int
}

// New creates an aggregate sink. The journal may be nil.
func New(journal *persist.Store) *Aggregate {
	return &Aggregate{journal: journal}
}

// RequestArrived starts tracking one response cycle.
func (a *Aggregate) RequestArrived(channelID string, promptChars int) bot.RequestStats {
	return &requestStats{
		agg:         a,
		requestID:   uuid.NewString(),
		channelID:   channelID,
		promptChars: promptChars,
		start:       time.Now(),
	}
}

type requestStats struct {
	agg         *Aggregate
	requestID   string
	channelID   string
	promptChars int
	start       time.Time

	sentences     int
	firstSentence time.Time
}

func (r *requestStats) SentenceSent(sentence string) {
	if r.sentences == 0 {
		r.firstSentence = time.Now()
	}
	r.sentences++
}

func (r *requestStats) Success() { r.agg.finish(r, true) }
func (r *requestStats) Failure() { r.agg.finish(r, false) }

func (a *Aggregate) finish(r *requestStats, success bool) {
	duration := time.Since(r.start)

	a.mu.Lock()
	if success {
		a.successCount++
	} else {
		a.failureCount++
	}
	a.totalSentences += r.sentences
	a.totalPromptChars += r.promptChars
	a.totalDuration += duration
	if !r.firstSentence.IsZero() {
		a.totalLatency += r.firstSentence.Sub(r.start)
		a.latencySamples++
	}
	a.mu.Unlock()

	logger.Debug("[Stats] request %s: success=%t sentences=%d duration=%s",
		r.requestID, success, r.sentences, duration.Round(time.Millisecond))

	if a.journal != nil {
		err := a.journal.RecordResponse(persist.ResponseRecord{
			RequestID:     r.requestID,
			ChannelID:     r.channelID,
			PromptChars:   r.promptChars,
			SentenceCount: r.sentences,
			DurationMs:    duration.Milliseconds(),
			Success:       success,
		})
		if err != nil {
			logger.Warn("[Stats] failed to journal response: %v", err)
		}
	}
}

// WriteSummary logs a one-shot summary of everything seen so far.
func (a *Aggregate) WriteSummary() {
	a.mu.Lock()
	successes := a.successCount
	failures := a.failureCount
	sentences := a.totalSentences
	promptChars := a.totalPromptChars
	duration := a.totalDuration
	latency := a.totalLatency
	latencySamples := a.latencySamples
	a.mu.Unlock()

	total := successes + failures
	if total == 0 {
		logger.Info("[Stats] no responses yet")
		return
	}

	logger.Info("[Stats] responses: %d total, %d failed", total, failures)
	logger.Info("[Stats] averages: %.1f sentences, %d prompt chars, %s duration",
		float64(sentences)/float64(total), promptChars/total,
		(duration / time.Duration(total)).Round(time.Millisecond))
	if latencySamples > 0 {
		logger.Info("[Stats] average latency to first sentence: %s",
			(latency / time.Duration(latencySamples)).Round(time.Millisecond))
	}
	if rss, ok := processRSS(); ok {
		logger.Info("[Stats] process RSS: %d MiB", rss/(1024*1024))
	}
}

func processRSS() (uint64, bool) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, false
	}
	mem, err := proc.MemoryInfo()
	if err != nil || mem == nil {
		return 0, false
	}
	return mem.RSS, true
}

// StartPeriodicSummary schedules WriteSummary on a cron spec like
// "@every 10m". Returns the scheduler so the caller can stop it.
func (a *Aggregate) StartPeriodicSummary(spec string) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, a.WriteSummary); err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
