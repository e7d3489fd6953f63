package resilience

import (
	"context"

	"github.com/MrWong99/memoria/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with failover across chat backends.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another chat backend.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete sends req to the first healthy backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion opens a stream on the first healthy backend. Several
// backends only report connection failures as the first chunk, so that chunk
// is awaited before a backend counts as healthy. Failures after the first
// chunk are delivered to the caller as usual.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		ch, err := p.StreamCompletion(ctx, req)
		if err != nil {
			return nil, err
		}
		var (
			first llm.Chunk
			ok    bool
		)
		select {
		case first, ok = <-ch:
		case <-ctx.Done():
			go drain(ch)
			return nil, ctx.Err()
		}
		if ok && first.Err != nil {
			go drain(ch)
			return nil, first.Err
		}

		out := make(chan llm.Chunk, 32)
		go func() {
			defer close(out)
			if !ok {
				return
			}
			out <- first
			for c := range ch {
				select {
				case out <- c:
				case <-ctx.Done():
					drain(ch)
					return
				}
			}
		}()
		return out, nil
	})
}

func drain(ch <-chan llm.Chunk) {
	for range ch {
	}
}

// CountTokens uses the primary's estimate.
func (f *LLMFallback) CountTokens(messages []llm.Message) int {
	return f.group.Primary().CountTokens(messages)
}

// Capabilities reports the smallest limits across all backends so a history
// trimmed for one fits every fallback.
func (f *LLMFallback) Capabilities() llm.Capabilities {
	var caps llm.Capabilities
	for i, e := range f.group.entries {
		c := e.value.Capabilities()
		if i == 0 || (c.ContextWindow > 0 && c.ContextWindow < caps.ContextWindow) {
			caps.ContextWindow = c.ContextWindow
		}
		if i == 0 || (c.MaxOutputTokens > 0 && c.MaxOutputTokens < caps.MaxOutputTokens) {
			caps.MaxOutputTokens = c.MaxOutputTokens
		}
	}
	return caps
}
