package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/memoria/pkg/provider/llm"
)

func TestConvertMessage(t *testing.T) {
	t.Parallel()
	for _, role := range []string{llm.RoleSystem, llm.RoleUser, llm.RoleAssistant} {
		got := convertMessage(llm.Message{Role: role, Content: "I remember the garden."})
		if got.Role != role {
			t.Errorf("role = %q, want %q", got.Role, role)
		}
		if got.ContentString() != "I remember the garden." {
			t.Errorf("%s content = %q", role, got.ContentString())
		}
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "gemini-3-flash-preview"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are Grandma Li.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "Hi Grandma"}},
		Temperature:  0.7,
		MaxTokens:    256,
	})

	if params.Model != "gemini-3-flash-preview" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 2 || params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Fatalf("messages = %+v, want system prompt first", params.Messages)
	}
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 256 {
		t.Errorf("max tokens = %v", params.MaxTokens)
	}

	bare := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
	if len(bare.Messages) != 1 || bare.Temperature != nil || bare.MaxTokens != nil {
		t.Errorf("zero options leaked into params: %+v", bare)
	}
}

func TestModelCapabilities(t *testing.T) {
	t.Parallel()
	tests := []struct {
		model     string
		ctxWindow int
		maxOutput int
	}{
		{"gemini-3-flash-preview", 1_048_576, 65_536},
		{"Gemini-2.5-Pro", 1_048_576, 65_536},
		{"gemini-2.0-flash", 1_048_576, 8_192},
		{"gemini-1.0-pro", 128_000, 8_192},
		{"gpt-4o-mini", 128_000, 16_384},
		{"o3-mini", 200_000, 100_000},
		{"claude-sonnet-4", 200_000, 8_192},
		{"llama3", 128_000, 4_096},
	}
	for _, tc := range tests {
		got := modelCapabilities(tc.model)
		if got.ContextWindow != tc.ctxWindow || got.MaxOutputTokens != tc.maxOutput {
			t.Errorf("%s: got %+v, want window %d output %d", tc.model, got, tc.ctxWindow, tc.maxOutput)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := New("", "gemini-3-flash-preview"); err == nil {
		t.Error("expected error for empty provider name")
	}
	if _, err := New("gemini", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

func TestNew_Backends(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		fn   func() (*Provider, error)
	}{
		{"openai", func() (*Provider, error) { return New("openai", "gpt-4o", anyllmlib.WithAPIKey("sk-test")) }},
		{"anthropic", func() (*Provider, error) {
			return New("Anthropic", "claude-sonnet-4", anyllmlib.WithAPIKey("sk-ant-test"))
		}},
		{"ollama", func() (*Provider, error) { return New("ollama", "llama3") }},
		{"llamacpp", func() (*Provider, error) { return New("llamacpp", "llama3") }},
		{"llamafile", func() (*Provider, error) { return New("llamafile", "llama3") }},
	}
	for _, tt := range tests {
		p, err := tt.fn()
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if p.Name() != tt.name {
			t.Errorf("Name() = %q, want %q", p.Name(), tt.name)
		}
	}
}

func TestNew_OpenAIMissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestCountTokens(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "gemini-3-flash-preview"}
	msgs := []llm.Message{{Role: llm.RoleUser, Content: "Hello world"}}
	if got, want := p.CountTokens(msgs), llm.EstimateTokens(msgs); got != want {
		t.Errorf("CountTokens = %d, want %d", got, want)
	}
}
