package caller

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/voicecheck/pkg/provider/llm"
	"github.com/MrWong99/voicecheck/pkg/provider/llm/mock"
	"github.com/MrWong99/voicecheck/pkg/transcript"
	"github.com/MrWong99/voicecheck/pkg/types"
)

var returnGoals = []types.Goal{
	{ID: "g1", Name: "Return policy", UserInput: "What is your return policy?"},
	{ID: "g2", Name: "Hang up", UserInput: "Goodbye", IsClosingGoal: true},
	{ID: "g3", Name: "Shipping", Scenario: "Ask whether they ship to Canada"},
}

func TestTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		uncovered []types.Goal
		index     int
		want      string
		wantOK    bool
	}{
		{"first open goal", returnGoals, 0, "g1", true},
		{"rotates over open goals", returnGoals, 1, "g3", true},
		{"wraps around", returnGoals, 2, "g1", true},
		{"negative index", returnGoals, -4, "g1", true},
		{"closing goal once alone", returnGoals[1:2], 5, "g2", true},
		{"nothing left", nil, 0, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Target(tt.uncovered, tt.index)
			if ok != tt.wantOK || got.ID != tt.want {
				t.Errorf("Target() = %q, %v; want %q, %v", got.ID, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestIsGoodbye(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want bool
	}{
		{"Goodbye", true},
		{"Thanks, bye!", true},
		{"Okay, good-bye then.", true},
		{"Have a great day!", true},
		{"That's all I needed, take care.", true},
		{"Talk to you later", true},
		{"Thanks, that's all for today.", true},
		{"I'm going to hang up now.", true},
		{"What is your return policy?", false},
		{"Can you take care of a refund for my order?", false},
		{"take care of my refund", false},
		{"hanging up on the last agent", false},
		{"I'm hanging up on the previous agent, can you help?", false},
		{"Can I see your menu?", false},
		{"That's all I need to know, but do you ship to Canada?", false},
		{"Can I buy a bicycle?", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsGoodbye(tt.text); got != tt.want {
			t.Errorf("IsGoodbye(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestScripted(t *testing.T) {
	t.Parallel()

	var g Scripted
	u, err := g.Next(context.Background(), Request{Uncovered: returnGoals})
	if err != nil || u == nil {
		t.Fatalf("Next: %v, %v", u, err)
	}
	if u.Text != "What is your return policy?" || u.GoalID != "g1" || u.Goodbye {
		t.Errorf("utterance = %+v", u)
	}

	u, _ = g.Next(context.Background(), Request{Uncovered: returnGoals[1:], Index: 0})
	if u.GoalID != "g3" || u.Text != "Ask whether they ship to Canada" {
		t.Errorf("scenario fallback = %+v", u)
	}

	u, _ = g.Next(context.Background(), Request{Uncovered: returnGoals[1:2]})
	if u.GoalID != "g2" || !u.Goodbye {
		t.Errorf("closing = %+v", u)
	}

	if u, err := g.Next(context.Background(), Request{}); u != nil || err != nil {
		t.Errorf("exhausted = %v, %v; want nil, nil", u, err)
	}
}

func TestNewPersona_Deterministic(t *testing.T) {
	t.Parallel()

	a, b := NewPersona(42), NewPersona(42)
	if a != b {
		t.Errorf("same seed gave %+v and %+v", a, b)
	}
	if a.Name == "" || a.Phone == "" || !strings.HasSuffix(a.Email, "@example.com") {
		t.Errorf("incomplete persona %+v", a)
	}

	merged := Persona{Name: "Dana Scully"}.Merge(a)
	if merged.Name != "Dana Scully" || merged.City != a.City {
		t.Errorf("merged = %+v", merged)
	}
}

func TestLLM_PromptCarriesPersonaAndGoals(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Replies: []string{`{"text": "Hi, what's your return policy?", "goal_id": "g1"}`}}
	g := NewLLM(p, WithPersona(Persona{Name: "Dana Scully", Budget: "$300"}))

	u, err := g.Next(context.Background(), Request{Uncovered: returnGoals})
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if u.Text != "Hi, what's your return policy?" || u.GoalID != "g1" || u.Goodbye {
		t.Errorf("utterance = %+v", u)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 Complete call, got %d", len(calls))
	}
	req := calls[0].Req
	for _, want := range []string{"Dana Scully", "$300", "[g1] Return policy", "[g2] Hang up", "(do this last)", "Address this topic next: [g1]"} {
		if !strings.Contains(req.SystemPrompt, want) {
			t.Errorf("system prompt missing %q\nprompt:\n%s", want, req.SystemPrompt)
		}
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != connectedCue {
		t.Errorf("messages = %+v, want the connected cue", req.Messages)
	}
}

func TestLLM_HistoryRoles(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Replies: []string{`{"text": "Do you ship to Canada?", "goal_id": "g3"}`}}
	g := NewLLM(p, WithSeed(42))
	history := []transcript.Turn{
		{Role: transcript.RoleAgent, Text: "Acme, how can I help?"},
		{Role: transcript.RoleCaller, Text: "What is your return policy?", GoalID: "g1"},
		{Role: transcript.RoleAgent, Text: "Thirty days."},
	}
	if _, err := g.Next(context.Background(), Request{History: history, Uncovered: returnGoals[1:]}); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if req := p.Calls()[0].Req; req.Seed != 42 || !req.JSON {
		t.Errorf("seed = %d, json = %v", req.Seed, req.JSON)
	}
	msgs := p.Calls()[0].Req.Messages
	wantRoles := []string{"user", "assistant", "user"}
	if len(msgs) != len(wantRoles) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(wantRoles))
	}
	for i, m := range msgs {
		if m.Role != wantRoles[i] || m.Content != history[i].Text {
			t.Errorf("message %d = %+v", i, m)
		}
	}
}

func TestLLM_ParseFallbacks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		content   string
		uncovered []types.Goal
		wantText  string
		wantGoal  string
	}{
		{
			name:      "code fence",
			content:   "```json\n{\"text\": \"Do you ship to Canada?\", \"goal_id\": \"g3\"}\n```",
			uncovered: returnGoals,
			wantText:  "Do you ship to Canada?",
			wantGoal:  "g3",
		},
		{
			name:      "plain text goes to target",
			content:   "What's the return window?",
			uncovered: returnGoals,
			wantText:  "What's the return window?",
			wantGoal:  "g1",
		},
		{
			name:      "early closing goal is retagged",
			content:   `{"text": "Well, bye then.", "goal_id": "g2"}`,
			uncovered: returnGoals,
			wantText:  "Well, bye then.",
			wantGoal:  "g1",
		},
		{
			name:      "filler stays untagged",
			content:   `{"text": "Sure, it's Dana.", "goal_id": ""}`,
			uncovered: returnGoals,
			wantText:  "Sure, it's Dana.",
			wantGoal:  "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := &mock.Provider{Replies: []string{tt.content}}
			u, err := NewLLM(p).Next(context.Background(), Request{Uncovered: tt.uncovered})
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if u.Text != tt.wantText || u.GoalID != tt.wantGoal {
				t.Errorf("utterance = %+v, want text %q goal %q", u, tt.wantText, tt.wantGoal)
			}
		})
	}
}

func TestLLM_FailureYieldsNil(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    *mock.Provider
	}{
		{"provider error", &mock.Provider{CompleteErr: errors.New("rate limited")}},
		{"nil response", &mock.Provider{}},
		{"empty content", &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  "}}},
		{"empty text field", &mock.Provider{Replies: []string{`{"text": "", "goal_id": "g1"}`}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			u, err := NewLLM(tt.p).Next(context.Background(), Request{Uncovered: returnGoals})
			if u != nil {
				t.Errorf("utterance = %+v, want nil", u)
			}
			if err == nil {
				t.Error("expected an error describing the failure")
			}
		})
	}
}

func TestLLM_NothingUncovered(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	u, err := NewLLM(p).Next(context.Background(), Request{})
	if u != nil || err != nil {
		t.Errorf("Next = %v, %v; want nil, nil", u, err)
	}
	if len(p.Calls()) != 0 {
		t.Error("model called with nothing left to cover")
	}
}
