package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/memoria/pkg/provider/llm"
)

// defaultThreshold is the fraction of the token budget at which the oldest
// half of the history is compacted.
const defaultThreshold = 0.75

// History is the model-facing conversation memory of a chat. It keeps the
// turns that are sent with every request and compacts the oldest half once the
// estimated token count passes Threshold × MaxTokens.
//
// Compaction asks the [Summariser] for a summary, which is then carried as a
// system message in front of the remaining turns. Without a summariser, or
// when summarising fails, the oldest half is simply dropped.
//
// All methods are safe for concurrent use.
type History struct {
	maxTokens  int
	threshold  float64
	summariser Summariser
	count      func([]llm.Message) int
	log        *slog.Logger

	mu        sync.Mutex
	tokens    int
	messages  []llm.Message
	summaries []string
}

// HistoryConfig configures a [History].
type HistoryConfig struct {
	// MaxTokens is the token budget for the history. Must be positive.
	MaxTokens int

	// Threshold defaults to 0.75 when zero or negative.
	Threshold float64

	// Summariser may be nil.
	Summariser Summariser

	// Count estimates the tokens of messages. Defaults to [llm.EstimateTokens].
	Count func([]llm.Message) int

	Logger *slog.Logger
}

// NewHistory returns an empty History.
func NewHistory(cfg HistoryConfig) *History {
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultThreshold
	}
	if cfg.Count == nil {
		cfg.Count = llm.EstimateTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &History{
		maxTokens:  cfg.MaxTokens,
		threshold:  cfg.Threshold,
		summariser: cfg.Summariser,
		count:      cfg.Count,
		log:        cfg.Logger,
	}
}

// Add appends msgs and compacts the history if it grew past the threshold.
func (h *History) Add(ctx context.Context, msgs ...llm.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = append(h.messages, msgs...)
	h.tokens += h.count(msgs)

	limit := int(float64(h.maxTokens) * h.threshold)
	for h.tokens > limit && len(h.messages) > 1 {
		h.compact(ctx)
	}
}

// Messages returns summaries followed by the retained turns. The slice is a
// copy.
func (h *History) Messages() []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]llm.Message, 0, len(h.summaries)+len(h.messages))
	for _, s := range h.summaries {
		out = append(out, llm.Message{
			Role:    llm.RoleSystem,
			Content: fmt.Sprintf("[Earlier in this conversation]: %s", s),
		})
	}
	return append(out, h.messages...)
}

// TokenEstimate returns the estimated tokens of [History.Messages].
func (h *History) TokenEstimate() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tokens
}

// Len returns the number of retained turns, not counting summaries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// Reset forgets everything.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
	h.summaries = nil
	h.tokens = 0
}

// compact removes the oldest half of the turns. Must be called with h.mu held;
// the lock is released while the summariser runs.
func (h *History) compact(ctx context.Context) {
	half := len(h.messages) / 2
	if half == 0 {
		half = 1
	}
	oldest := append([]llm.Message(nil), h.messages[:half]...)

	var summary string
	if h.summariser != nil {
		h.mu.Unlock()
		s, err := h.summariser.Summarise(ctx, oldest)
		h.mu.Lock()
		if err != nil {
			h.log.Warn("chat: summarise history, dropping oldest turns instead", "err", err, "turns", half)
		} else {
			summary = s
		}
	}

	// Another Add may have run while unlocked; only drop what was summarised.
	n := min(half, len(h.messages))
	h.tokens -= h.count(h.messages[:n])
	h.messages = append([]llm.Message(nil), h.messages[n:]...)
	if summary != "" {
		h.summaries = append(h.summaries, summary)
		h.tokens += h.count([]llm.Message{{Role: llm.RoleSystem, Content: summary}})
	}
	if h.tokens < 0 {
		h.tokens = 0
	}
}
