package analyzer

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/voicecheck/pkg/provider/llm"
	"github.com/MrWong99/voicecheck/pkg/provider/llm/mock"
	"github.com/MrWong99/voicecheck/pkg/transcript"
	"github.com/MrWong99/voicecheck/pkg/types"
)

var goals = []types.Goal{
	{ID: "g1", Name: "Return policy", UserInput: "What is your return policy?", ExpectedOutcome: "States a 30 day window"},
	{ID: "g2", Name: "Shipping", UserInput: "Do you ship to Canada?", ExpectedOutcome: "Confirms shipping to Canada"},
	{ID: "g3", Name: "Warranty", UserInput: "How long is the warranty?", ExpectedOutcome: "Names the warranty period"},
}

func TestSpan_Tagged(t *testing.T) {
	t.Parallel()

	turns := []transcript.Turn{
		{Role: transcript.RoleAgent, Text: "Acme, how can I help?"},
		{Role: transcript.RoleCaller, Text: "Returns?", GoalID: "g1"},
		{Role: transcript.RoleAgent, Text: "Thirty days."},
		{Role: transcript.RoleAgent, Text: "With a receipt."},
		{Role: transcript.RoleCaller, Text: "Shipping to Canada?", GoalID: "g2"},
		{Role: transcript.RoleAgent, Text: "Yes."},
	}

	span, matched := Span(turns, goals[0], defaultMinMatch)
	if matched {
		t.Error("tagged span reported as matched")
	}
	if want := []int{1, 2, 3}; !slices.Equal(span, want) {
		t.Errorf("span = %v, want %v", span, want)
	}

	span, _ = Span(turns, goals[1], defaultMinMatch)
	if want := []int{4, 5}; !slices.Equal(span, want) {
		t.Errorf("span = %v, want %v", span, want)
	}
}

func TestSpan_SimilarityFallback(t *testing.T) {
	t.Parallel()

	turns := []transcript.Turn{
		{Role: transcript.RoleAgent, Text: "Acme, how can I help?"},
		{Role: transcript.RoleCaller, Text: "Hi! What is your return policy, please?"},
		{Role: transcript.RoleAgent, Text: "Thirty days."},
		{Role: transcript.RoleCaller, Text: "Goodbye."},
	}

	span, matched := Span(turns, goals[0], defaultMinMatch)
	if !matched {
		t.Error("expected a similarity match")
	}
	if want := []int{1, 2}; !slices.Equal(span, want) {
		t.Errorf("span = %v, want %v", span, want)
	}

	if span, _ := Span(turns, goals[2], defaultMinMatch); span != nil {
		t.Errorf("unrelated goal span = %v, want none", span)
	}
}

func TestAnalyze_JudgesAddressedGoals(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			switch {
			case strings.Contains(req.SystemPrompt, "Topic: Return policy"):
				return &llm.CompletionResponse{Content: "```json\n{\"passed\": true, \"score\": 1.4, \"evidence\": \"Thirty days.\"}\n```"}, nil
			case strings.Contains(req.SystemPrompt, "Topic: Shipping"):
				return &llm.CompletionResponse{Content: `{"passed": false, "score": 0.2, "evidence": "Dodged", "suggestions": ["Answer directly"]}`}, nil
			}
			return nil, errors.New("unexpected goal")
		},
	}
	turns := []transcript.Turn{
		{Role: transcript.RoleCaller, Text: "What is your return policy?", GoalID: "g1"},
		{Role: transcript.RoleAgent, Text: "Thirty days."},
		{Role: transcript.RoleCaller, Text: "Do you ship to Canada?", GoalID: "g2"},
		{Role: transcript.RoleAgent, Text: "Let me check on that."},
	}

	results, err := New(p).Analyze(context.Background(), Input{Transcript: turns, Goals: goals, AgentPrompt: "Only sell bicycles."})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	r1 := results[0]
	if r1.GoalID != "g1" || !r1.Addressed || !r1.Passed || r1.Score != 1 || r1.Evidence != "Thirty days." {
		t.Errorf("g1 = %+v", r1)
	}
	r2 := results[1]
	if r2.Passed || r2.Score != 0.2 || len(r2.Suggestions) != 1 {
		t.Errorf("g2 = %+v", r2)
	}
	r3 := results[2]
	if r3.Addressed || r3.Passed || r3.Error != "" {
		t.Errorf("g3 = %+v", r3)
	}

	calls := p.Calls()
	if len(calls) != 2 {
		t.Fatalf("judge called %d times, want 2 (unaddressed goals are not judged)", len(calls))
	}
	for _, c := range calls {
		if !strings.Contains(c.Req.SystemPrompt, "Only sell bicycles.") {
			t.Error("agent prompt missing from judge prompt")
		}
		if !c.Req.JSON {
			t.Error("judge request should ask for JSON")
		}
		if !strings.Contains(c.Req.Messages[0].Content, "Caller: ") {
			t.Errorf("excerpt = %q", c.Req.Messages[0].Content)
		}
	}
}

func TestAnalyze_JudgeFailureIsPerGoal(t *testing.T) {
	t.Parallel()

	var n atomic.Int32
	p := &mock.Provider{
		CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			n.Add(1)
			if strings.Contains(req.SystemPrompt, "Topic: Return policy") {
				return &llm.CompletionResponse{Content: "I cannot grade this."}, nil
			}
			return &llm.CompletionResponse{Content: `{"passed": true, "score": 0.9}`}, nil
		},
	}
	turns := []transcript.Turn{
		{Role: transcript.RoleCaller, Text: "Returns?", GoalID: "g1"},
		{Role: transcript.RoleAgent, Text: "Thirty days."},
		{Role: transcript.RoleCaller, Text: "Canada?", GoalID: "g2"},
		{Role: transcript.RoleAgent, Text: "Yes we do."},
	}

	results, err := New(p, WithConcurrency(1)).Analyze(context.Background(), Input{Transcript: turns, Goals: goals[:2]})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if results[0].Error == "" || results[0].Passed {
		t.Errorf("g1 = %+v, want a judge error", results[0])
	}
	if !results[1].Passed || results[1].Error != "" {
		t.Errorf("g2 = %+v", results[1])
	}
	if n.Load() != 2 {
		t.Errorf("judge calls = %d, want 2", n.Load())
	}
}

func TestAnalyze_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &mock.Provider{Replies: []string{`{"passed": true, "score": 1}`}}
	turns := []transcript.Turn{{Role: transcript.RoleCaller, Text: "Returns?", GoalID: "g1"}}
	if _, err := New(p).Analyze(ctx, Input{Transcript: turns, Goals: goals[:1]}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
