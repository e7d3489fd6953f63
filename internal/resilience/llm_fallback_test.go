package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/memoria/pkg/provider/llm"
	llmmock "github.com/MrWong99/memoria/pkg/provider/llm/mock"
)

func TestLLMFallback_Complete(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{CompleteErr: errors.New("primary down")}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "from secondary"}}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "from secondary" {
		t.Errorf("content = %q", resp.Content)
	}
}

func TestLLMFallback_StreamFirstChunkError(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{StreamChunks: []llm.Chunk{{Err: errors.New("401 unauthorized")}}}
	secondary := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "Hello "}, {Text: "dear."}, {FinishReason: "stop"}}}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	ch, err := fb.StreamCompletion(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	text, err := llm.Collect(context.Background(), ch)
	if err != nil || text != "Hello dear." {
		t.Errorf("Collect = %q, %v", text, err)
	}
	if len(primary.Calls()) != 1 || len(secondary.Calls()) != 1 {
		t.Errorf("calls primary=%d secondary=%d", len(primary.Calls()), len(secondary.Calls()))
	}
}

func TestLLMFallback_StreamStartError(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{StreamErr: errors.New("dial failed")}
	fb := NewLLMFallback(primary, "primary", FallbackConfig{})

	if _, err := fb.StreamCompletion(context.Background(), llm.CompletionRequest{}); !errors.Is(err, ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
}

func TestLLMFallback_EmptyStream(t *testing.T) {
	t.Parallel()
	fb := NewLLMFallback(&llmmock.Provider{}, "primary", FallbackConfig{})
	ch, err := fb.StreamCompletion(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	if text, err := llm.Collect(context.Background(), ch); text != "" || err != nil {
		t.Errorf("Collect = %q, %v", text, err)
	}
}

func TestLLMFallback_Capabilities(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{ModelCapabilities: llm.Capabilities{ContextWindow: 1_000_000, MaxOutputTokens: 8_000}}
	secondary := &llmmock.Provider{ModelCapabilities: llm.Capabilities{ContextWindow: 128_000, MaxOutputTokens: 16_000}}
	fb := NewLLMFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	got := fb.Capabilities()
	if got.ContextWindow != 128_000 || got.MaxOutputTokens != 8_000 {
		t.Errorf("Capabilities = %+v, want smallest of each", got)
	}
	msgs := []llm.Message{{Role: llm.RoleUser, Content: "abcd"}}
	if fb.CountTokens(msgs) != llm.EstimateTokens(msgs) {
		t.Error("CountTokens should use the primary's estimate")
	}
}
