package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/voicecheck/pkg/provider/llm"
	"github.com/MrWong99/voicecheck/pkg/types"
)

func TestParams(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "gpt-4o-mini"}
	params, err := p.params(llm.CompletionRequest{
		SystemPrompt: "You are a caller.",
		Messages: []types.Message{
			{Role: "user", Content: "Thanks for calling Acme."},
			{Role: "assistant", Content: "Hi, I'd like to book a table."},
		},
		MaxTokens: 64,
		Seed:      7,
		JSON:      true,
	})
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if len(params.Messages) != 3 || params.Messages[0].OfSystem == nil ||
		params.Messages[1].OfUser == nil || params.Messages[2].OfAssistant == nil {
		t.Fatalf("messages = %+v", params.Messages)
	}
	if params.MaxCompletionTokens.Value != 64 || params.Seed.Value != 7 {
		t.Errorf("max tokens = %d, seed = %d", params.MaxCompletionTokens.Value, params.Seed.Value)
	}
	if params.ResponseFormat.OfJSONObject == nil {
		t.Error("JSON request did not set a JSON response format")
	}

	plain, _ := p.params(llm.CompletionRequest{Messages: []types.Message{{Role: "user", Content: "hi"}}})
	if plain.ResponseFormat.OfJSONObject != nil || plain.Seed.Valid() || plain.Temperature.Valid() {
		t.Error("zero-value request fields should stay unset")
	}

	if _, err := p.params(llm.CompletionRequest{Messages: []types.Message{{Role: "tool"}}}); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestCapabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model   string
		context int
		output  int
	}{
		{"gpt-4o-mini", 128_000, 16_384},
		{"gpt-4.1-nano", 1_047_576, 32_768},
		{"gpt-4", 8_192, 4_096},
		{"gpt-3.5-turbo", 16_385, 4_096},
		{"o3-mini", 200_000, 100_000},
		{"omni-unknown", 128_000, 16_384},
	}
	for _, tt := range tests {
		caps := capabilities(tt.model)
		if caps.ContextWindow != tt.context || caps.MaxOutputTokens != tt.output {
			t.Errorf("%s: got %d/%d, want %d/%d", tt.model, caps.ContextWindow, caps.MaxOutputTokens, tt.context, tt.output)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty API key")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("expected error for empty model")
	}
}

func TestComplete_HTTP(t *testing.T) {
	t.Parallel()

	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("OpenAI-Organization"); got != "org-1" {
			t.Errorf("organization header = %q", got)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "length",
				"message":       map[string]any{"role": "assistant", "content": `{"text":"Hi, I'd like to book`},
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 8, "total_tokens": 18},
		})
	}))
	defer srv.Close()

	p, err := New("sk-test", "gpt-4o-mini",
		WithBaseURL(srv.URL), WithOrganization("org-1"), WithHTTPClient(srv.Client()), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []types.Message{{Role: "user", Content: "Hello"}},
		JSON:     true,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !strings.HasPrefix(resp.Content, `{"text"`) || resp.Usage.TotalTokens != 18 {
		t.Errorf("resp = %+v", resp)
	}
	if !resp.Truncated() {
		t.Errorf("finish reason %q should report truncation", resp.FinishReason)
	}
	rf, _ := body["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Errorf("response_format = %v", body["response_format"])
	}
}

func TestComplete_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL), WithMaxRetries(0))
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []types.Message{{Role: "user", Content: "Hello"}},
	}); err == nil || !strings.Contains(err.Error(), "openai: chat completion") {
		t.Errorf("err = %v", err)
	}
}
