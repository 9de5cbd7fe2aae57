package anyllm

import (
	"slices"
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voicecheck/pkg/provider/llm"
	"github.com/MrWong99/voicecheck/pkg/types"
)

func TestParams(t *testing.T) {
	p := &Provider{model: "claude-3-5-haiku-latest"}
	params := p.params(llm.CompletionRequest{
		SystemPrompt: "Judge the transcript.",
		Messages:     []types.Message{{Role: "user", Content: "transcript", Name: "caller"}},
		Temperature:  0.2,
		MaxTokens:    300,
		JSON:         true,
		Seed:         9,
	})
	if params.Model != "claude-3-5-haiku-latest" {
		t.Errorf("Model = %q", params.Model)
	}
	if len(params.Messages) != 2 || params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Fatalf("messages = %+v", params.Messages)
	}
	sys := params.Messages[0].ContentString()
	if !strings.HasPrefix(sys, "Judge the transcript.") || !strings.HasSuffix(sys, llm.JSONInstruction) {
		t.Errorf("system prompt = %q", sys)
	}
	if params.Messages[1].Name != "caller" {
		t.Errorf("name dropped: %+v", params.Messages[1])
	}
	if params.Temperature == nil || *params.Temperature != 0.2 {
		t.Errorf("Temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 300 {
		t.Errorf("MaxTokens = %v", params.MaxTokens)
	}
}

func TestParams_ZeroValuesOmitted(t *testing.T) {
	p := &Provider{model: "llama3"}
	params := p.params(llm.CompletionRequest{Messages: []types.Message{{Role: "user", Content: "hi"}}})
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Error("zero-value sampling fields should stay nil")
	}
	if len(params.Messages) != 1 {
		t.Errorf("messages = %d, want 1 (no system prompt)", len(params.Messages))
	}
}

func TestCapabilities(t *testing.T) {
	tests := []struct {
		model   string
		context int
		output  int
	}{
		{"gpt-4o-mini", 128_000, 16_384},
		{"GPT-4O", 128_000, 16_384},
		{"gpt-4", 8_192, 4_096},
		{"o1-mini", 128_000, 65_536},
		{"claude-3-5-sonnet-latest", 200_000, 8_192},
		{"claude-3-opus-20240229", 200_000, 4_096},
		{"gemini-1.5-pro", 2_097_152, 8_192},
		{"gemini-2.0-flash", 1_048_576, 8_192},
		{"deepseek-chat", 64_000, 8_192},
		{"my-local-model", 128_000, 4_096},
	}
	for _, tt := range tests {
		caps := capabilities(tt.model)
		if caps.ContextWindow != tt.context || caps.MaxOutputTokens != tt.output {
			t.Errorf("%s: got %d/%d, want %d/%d", tt.model, caps.ContextWindow, caps.MaxOutputTokens, tt.context, tt.output)
		}
	}
}

func TestNew(t *testing.T) {
	if _, err := New("anthropic", ""); err == nil {
		t.Error("expected error for empty model")
	}
	_, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy"))
	if err == nil || !strings.Contains(err.Error(), "groq") {
		t.Errorf("unknown backend err = %v, want supported list", err)
	}

	p, err := New("Anthropic", "claude-3-5-haiku-latest", anyllmlib.WithAPIKey("sk-test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.name != "anthropic" {
		t.Errorf("name = %q, want lower-cased", p.name)
	}

	for _, name := range []string{"ollama", "llamacpp", "llamafile"} {
		if _, err := New(name, "llama3"); err != nil {
			t.Errorf("%s without key: %v", name, err)
		}
	}
}

func TestNew_MissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestBackends(t *testing.T) {
	got := Backends()
	if !slices.IsSorted(got) || len(got) != 9 || !slices.Contains(got, "mistral") {
		t.Errorf("Backends = %v", got)
	}
}
