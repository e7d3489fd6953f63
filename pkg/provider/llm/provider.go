// Package llm defines the Provider interface for text-chat model backends.
//
// A provider wraps a remote or local model API (Gemini, OpenAI, Anthropic, a
// local Ollama instance, ...) and exposes streaming completions, a rough token
// estimate for history trimming, and static model limits, without coupling
// callers to any specific SDK.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package llm

import (
	"context"
	"errors"
	"strings"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	// Role is one of [RoleSystem], [RoleUser] or [RoleAssistant].
	Role string

	// Content is the plain text of the turn.
	Content string
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// normally from the user.
	Messages []Message

	// SystemPrompt is injected before the history. For memorials this is the
	// persona description.
	SystemPrompt string

	// Temperature in [0.0, 2.0]. Zero leaves the provider default.
	Temperature float64

	// MaxTokens caps the reply length. Zero leaves the provider default.
	MaxTokens int
}

// Chunk is one fragment of a streamed reply.
type Chunk struct {
	// Text is the incremental reply text. May be empty on the final chunk.
	Text string

	// FinishReason is set on the final chunk ("stop", "length", ...).
	FinishReason string

	// Err is set when the stream failed after it started. It is always the
	// last chunk delivered.
	Err error
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Capabilities describes static limits of the underlying model.
type Capabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens generated in one completion.
	MaxOutputTokens int
}

// Provider is the abstraction over any text model backend.
type Provider interface {
	// StreamCompletion sends req and returns a channel of reply fragments.
	// The initial error is non-nil only when the stream could not start;
	// later failures arrive as a final Chunk with Err set. Callers must drain
	// the channel.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req and waits for the full reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates how many tokens messages occupy. It should not
	// undercount.
	CountTokens(messages []Message) int

	// Capabilities returns the model limits. Constant per Provider.
	Capabilities() Capabilities
}

// EstimateTokens is the shared heuristic behind CountTokens: roughly four
// characters per token plus a fixed per-message overhead for role framing.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
		total += 4
	}
	return total
}

// Collect drains a stream into the full reply text. It returns the text
// gathered so far together with the stream error, if any.
func Collect(ctx context.Context, ch <-chan Chunk) (string, error) {
	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return sb.String(), ctx.Err()
		case c, ok := <-ch:
			if !ok {
				return sb.String(), nil
			}
			sb.WriteString(c.Text)
			if c.Err != nil {
				return sb.String(), c.Err
			}
		}
	}
}

// ErrEmptyResponse is returned when a backend answers without any choices.
var ErrEmptyResponse = errors.New("llm: empty response")
