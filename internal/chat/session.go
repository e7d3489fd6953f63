// Package chat implements text conversations with a memorial persona.
//
// A [Session] pairs one memorial with an [llm.Provider]. It keeps the visible
// transcript (starting with a connection greeting) and a token-bounded
// [History] that is replayed to the model on every turn. [Session.Send]
// streams the reply as it arrives. Only one request may be in flight per
// session; a second concurrent Send fails fast with [ErrBusy].
//
// When the provider fails the session answers with [FallbackReply] and stays
// usable: the failed turn is kept out of the model history so the next
// attempt starts clean.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/memoria/internal/memorial"
	"github.com/MrWong99/memoria/internal/observe"
	"github.com/MrWong99/memoria/pkg/provider/llm"
)

// FallbackReply is shown instead of a reply when the provider fails.
const FallbackReply = "I'm having trouble connecting right now. Please try again."

// defaultHistoryTokens is used when the provider reports no context window.
const defaultHistoryTokens = 8192

var (
	// ErrBusy is returned by [Session.Send] while another reply is streaming.
	ErrBusy = errors.New("chat: a reply is already in progress")

	// ErrEmptyMessage is returned for blank user input.
	ErrEmptyMessage = errors.New("chat: message is empty")

	// ErrClosed is returned after [Session.Close].
	ErrClosed = errors.New("chat: session closed")

	// ErrUnavailable wraps provider failures. The accompanying entry holds
	// [FallbackReply].
	ErrUnavailable = errors.New("chat: provider unavailable")
)

// Speaker roles in the transcript.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Entry is one line of the visible transcript.
type Entry struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	Time time.Time `json:"timestamp"`

	// Failed marks a [FallbackReply] entry.
	Failed bool `json:"failed,omitempty"`
}

// Greeting returns the opening line shown when a chat with name starts.
func Greeting(name string) string {
	return fmt.Sprintf("(Connected to %s...)", name)
}

// Option configures a [Session].
type Option func(*Session)

// WithID sets the session ID. Defaults to a random UUID.
func WithID(id string) Option { return func(s *Session) { s.id = id } }

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option { return func(s *Session) { s.metrics = m } }

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option { return func(s *Session) { s.log = l } }

// WithProviderName sets the provider label used on metrics and spans.
func WithProviderName(name string) Option { return func(s *Session) { s.providerName = name } }

// WithSummariser compacts long histories through sum instead of dropping the
// oldest turns.
func WithSummariser(sum Summariser) Option { return func(s *Session) { s.summariser = sum } }

// WithTemperature sets the sampling temperature of every request.
func WithTemperature(t float64) Option { return func(s *Session) { s.temperature = t } }

// WithMaxReplyTokens caps the length of every reply.
func WithMaxReplyTokens(n int) Option { return func(s *Session) { s.maxTokens = n } }

// Session is a text conversation with one memorial. All methods are safe for
// concurrent use.
type Session struct {
	id           string
	memorial     memorial.Memorial
	provider     llm.Provider
	providerName string
	summariser   Summariser
	temperature  float64
	maxTokens    int
	metrics      *observe.Metrics
	log          *slog.Logger
	now          func() time.Time
	history      *History

	busy atomic.Bool

	mu         sync.Mutex
	transcript []Entry
	lastActive time.Time
	closed     bool
}

// New opens a chat with m. The transcript starts with [Greeting].
func New(provider llm.Provider, m memorial.Memorial, opts ...Option) *Session {
	s := &Session{
		memorial:     m,
		provider:     provider,
		providerName: "chat",
		now:          time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("chat_id", s.id, "memorial", m.ID)

	s.history = NewHistory(HistoryConfig{
		MaxTokens:  historyBudget(provider.Capabilities()),
		Summariser: s.summariser,
		Count:      provider.CountTokens,
		Logger:     s.log,
	})

	now := s.now()
	s.transcript = []Entry{{Role: RoleModel, Text: Greeting(m.Name), Time: now}}
	s.lastActive = now
	s.metrics.ActiveChats.Add(context.Background(), 1)
	return s
}

// historyBudget leaves room for the reply inside the context window.
func historyBudget(c llm.Capabilities) int {
	if c.ContextWindow <= 0 {
		return defaultHistoryTokens
	}
	budget := c.ContextWindow - c.MaxOutputTokens
	if budget <= 0 {
		budget = c.ContextWindow / 2
	}
	return budget
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Memorial returns the memorial this chat is with.
func (s *Session) Memorial() memorial.Memorial { return s.memorial }

// Transcript returns a copy of the visible conversation.
func (s *Session) Transcript() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.transcript...)
}

// LastActive returns the time of the last Send.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Busy reports whether a reply is streaming.
func (s *Session) Busy() bool { return s.busy.Load() }

// Close ends the chat. It is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.metrics.ActiveChats.Add(context.Background(), -1)
}

// Send sends text and streams the reply. onDelta, if non-nil, is called
// synchronously with each text fragment as it arrives.
//
// On success the returned entry holds the full reply. On a provider failure
// the entry holds [FallbackReply] and the error wraps [ErrUnavailable]. If ctx
// ends first, ctx.Err() is returned and no reply is recorded.
func (s *Session) Send(ctx context.Context, text string, onDelta func(delta string)) (Entry, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Entry{}, ErrEmptyMessage
	}
	if !s.busy.CompareAndSwap(false, true) {
		return Entry{}, ErrBusy
	}
	defer s.busy.Store(false)

	start := s.now()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Entry{}, ErrClosed
	}
	s.transcript = append(s.transcript, Entry{Role: RoleUser, Text: text, Time: start})
	s.lastActive = start
	s.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "chat.send", trace.WithAttributes(
		attribute.String("chat.id", s.id),
		attribute.String("memorial.id", s.memorial.ID),
		attribute.String("provider", s.providerName),
	))
	defer span.End()

	user := llm.Message{Role: llm.RoleUser, Content: text}
	req := llm.CompletionRequest{
		Messages:     append(s.history.Messages(), user),
		SystemPrompt: s.memorial.Context,
		Temperature:  s.temperature,
		MaxTokens:    s.maxTokens,
	}

	reply, err := s.stream(ctx, req, start, onDelta)
	attrs := metric.WithAttributes(attribute.String("provider", s.providerName))
	s.metrics.ChatDuration.Record(ctx, s.now().Sub(start).Seconds(), attrs)

	switch {
	case err == nil:
		s.metrics.RecordProviderRequest(ctx, s.providerName, "chat", "ok")
		s.history.Add(ctx, user, llm.Message{Role: llm.RoleAssistant, Content: reply})
		return s.record(Entry{Role: RoleModel, Text: reply, Time: s.now()}), nil

	case ctx.Err() != nil:
		s.metrics.RecordProviderRequest(ctx, s.providerName, "chat", "canceled")
		return Entry{}, ctx.Err()

	default:
		observe.FailSpan(span, err)
		s.metrics.RecordProviderRequest(ctx, s.providerName, "chat", "error")
		s.metrics.RecordProviderError(ctx, s.providerName, "chat")
		observe.LoggerFrom(ctx, s.log).Warn("chat: reply failed", "err", err)
		e := s.record(Entry{Role: RoleModel, Text: FallbackReply, Time: s.now(), Failed: true})
		return e, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}

// stream runs one completion and forwards its fragments.
func (s *Session) stream(ctx context.Context, req llm.CompletionRequest, start time.Time, onDelta func(string)) (string, error) {
	ch, err := s.provider.StreamCompletion(ctx, req)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	first := true
	for {
		select {
		case <-ctx.Done():
			go drain(ch)
			return sb.String(), ctx.Err()
		case c, ok := <-ch:
			if !ok {
				if err := ctx.Err(); err != nil {
					return sb.String(), err
				}
				if sb.Len() == 0 {
					return "", llm.ErrEmptyResponse
				}
				return sb.String(), nil
			}
			if c.Text != "" {
				if first {
					first = false
					s.metrics.ChatFirstTokenDuration.Record(ctx, s.now().Sub(start).Seconds(),
						metric.WithAttributes(attribute.String("provider", s.providerName)))
				}
				sb.WriteString(c.Text)
				if onDelta != nil {
					onDelta(c.Text)
				}
			}
			if c.Err != nil {
				go drain(ch)
				return sb.String(), c.Err
			}
		}
	}
}

func (s *Session) record(e Entry) Entry {
	s.mu.Lock()
	s.transcript = append(s.transcript, e)
	s.lastActive = e.Time
	s.mu.Unlock()
	return e
}

func drain(ch <-chan llm.Chunk) {
	for range ch {
	}
}
