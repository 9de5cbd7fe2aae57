package llm

import (
	"testing"

	"github.com/MrWong99/voicecheck/pkg/types"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		msgs []types.Message
		want int
	}{
		{"empty", nil, 0},
		{"one short message", []types.Message{{Role: "user", Content: "Hello world"}}, 7},
		{"named speaker", []types.Message{{Role: "user", Content: "Hi", Name: "caller"}}, 6},
		{"runes not bytes", []types.Message{{Role: "user", Content: "Grüße"}}, 6},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.msgs); got != tt.want {
			t.Errorf("%s: EstimateTokens = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestWithJSONInstruction(t *testing.T) {
	if got := WithJSONInstruction(CompletionRequest{SystemPrompt: "Judge."}); got != "Judge." {
		t.Errorf("non-JSON request changed prompt: %q", got)
	}
	if got := WithJSONInstruction(CompletionRequest{JSON: true}); got != JSONInstruction {
		t.Errorf("empty prompt = %q", got)
	}
	if got := WithJSONInstruction(CompletionRequest{SystemPrompt: "Judge.", JSON: true}); got != "Judge.\n\n"+JSONInstruction {
		t.Errorf("prompt = %q", got)
	}
}

func TestTruncated(t *testing.T) {
	for reason, want := range map[string]bool{"stop": false, "": false, "length": true, "max_tokens": true} {
		r := &CompletionResponse{FinishReason: reason}
		if r.Truncated() != want {
			t.Errorf("Truncated(%q) = %v, want %v", reason, !want, want)
		}
	}
}
