package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/memoria/pkg/provider/llm"
)

const summarisationPrompt = `Summarise the following conversation between a user and the memorial persona they are talking to.
Preserve: names, shared memories, places, dates, feelings the user expressed, and anything the persona promised or asked about.
Write in the third person. Be concise.`

// Summariser condenses a run of conversation turns into a short text.
type Summariser interface {
	Summarise(ctx context.Context, messages []llm.Message) (string, error)
}

// LLMSummariser summarises with a non-streaming completion.
type LLMSummariser struct {
	llm llm.Provider
}

// NewLLMSummariser returns a summariser backed by provider.
func NewLLMSummariser(provider llm.Provider) *LLMSummariser {
	return &LLMSummariser{llm: provider}
}

// Summarise formats messages as a transcript and asks the model for a summary.
func (s *LLMSummariser) Summarise(ctx context.Context, messages []llm.Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&sb, "[%s]: %s\n", m.Role, m.Content)
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summarisationPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: sb.String()}},
		Temperature:  0.3,
	})
	if err != nil {
		return "", fmt.Errorf("summarise: %w", err)
	}
	if resp == nil {
		return "", fmt.Errorf("summarise: %w", llm.ErrEmptyResponse)
	}
	return strings.TrimSpace(resp.Content), nil
}
