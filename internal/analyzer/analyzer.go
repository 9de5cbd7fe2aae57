// Package analyzer grades a finished conversation against its goals.
//
// For every goal the [Analyzer] locates the span of the transcript where the
// goal was addressed: the caller turns tagged with the goal's id, or, when
// tags are missing, the caller turn that reads most like the goal's seed
// phrase. The span together with the agent's replies is handed to a language
// model acting as judge, which decides pass/fail against the goal's expected
// outcome. Goals are judged in parallel and independently; one failed
// judgement never fails the others.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicecheck/internal/observe"
	"github.com/MrWong99/voicecheck/pkg/provider/llm"
	"github.com/MrWong99/voicecheck/pkg/transcript"
	"github.com/MrWong99/voicecheck/pkg/types"
)

const (
	defaultTemperature = 0.1
	defaultConcurrency = 4
	defaultMinMatch    = 0.75
)

const systemPromptTemplate = `You are a strict QA reviewer grading a customer-service voice agent.

A test caller raised one topic during a conversation with the agent. Decide whether the agent's response satisfies the expected outcome.

Topic: %s
Scenario: %s
Expected outcome: %s
%s
Rules:
- Judge only the agent's replies in the excerpt.
- "passed" is true only if the expected outcome is clearly met.
- "score" rates the quality of the agent's handling from 0.0 to 1.0.
- "evidence" quotes or paraphrases the agent's decisive words.
- "suggestions" lists concrete improvements to the agent; empty when none.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"passed": <true|false>, "score": <0.0-1.0>, "evidence": "<text>", "suggestions": ["<text>"]}`

// GoalResult is the verdict for one goal.
type GoalResult struct {
	GoalID string `json:"goalId"`
	Name   string `json:"name"`

	// Addressed reports that a span of the transcript was found for the goal.
	Addressed bool `json:"addressed"`

	// Matched reports that the span was found by text similarity rather than
	// by goal tags.
	Matched bool `json:"matched,omitempty"`

	// Turns are the transcript indices of the judged span.
	Turns []int `json:"turns,omitempty"`

	Passed      bool     `json:"passed"`
	Score       float64  `json:"score"`
	Evidence    string   `json:"evidence,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`

	// Error is set when the judge could not produce a verdict.
	Error string `json:"error,omitempty"`
}

// Input is everything the analyzer grades.
type Input struct {
	Transcript []transcript.Turn
	Goals      []types.Goal

	// AgentPrompt is the agent's own system prompt, when known. It lets the
	// judge tell policy-conformant refusals from failures.
	AgentPrompt string
}

// judgement is the expected JSON structure returned by the judge.
type judgement struct {
	Passed      bool     `json:"passed"`
	Score       float64  `json:"score"`
	Evidence    string   `json:"evidence"`
	Suggestions []string `json:"suggestions"`
}

// Option is a functional option for configuring an [Analyzer].
type Option func(*Analyzer)

// WithConcurrency caps how many goals are judged at once. Default: 4.
func WithConcurrency(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithMinMatch sets the similarity a caller turn needs to stand in for an
// untagged goal. Default: 0.75.
func WithMinMatch(score float64) Option {
	return func(a *Analyzer) {
		a.minMatch = score
	}
}

// WithMetrics records judge latency to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Analyzer) {
		a.metrics = m
	}
}

// Analyzer grades transcripts with an LLM judge. It is safe for concurrent use.
type Analyzer struct {
	llm         llm.Provider
	temperature float64
	concurrency int
	minMatch    float64
	metrics     *observe.Metrics
}

// New returns an analyzer judging with provider.
func New(provider llm.Provider, opts ...Option) *Analyzer {
	a := &Analyzer{
		llm:         provider,
		temperature: defaultTemperature,
		concurrency: defaultConcurrency,
		minMatch:    defaultMinMatch,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Analyze returns one result per goal, in goal order. It only fails when ctx
// ends before every goal was judged.
func (a *Analyzer) Analyze(ctx context.Context, in Input) ([]GoalResult, error) {
	results := make([]GoalResult, len(in.Goals))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for i, goal := range in.Goals {
		res := &results[i]
		res.GoalID, res.Name = goal.ID, goal.Name

		turns, matched := Span(in.Transcript, goal, a.minMatch)
		if len(turns) == 0 {
			res.Evidence = "the goal was never raised in the conversation"
			continue
		}
		res.Addressed, res.Matched, res.Turns = true, matched, turns

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			j, err := a.judge(gctx, goal, excerpt(in.Transcript, turns), in.AgentPrompt)
			if err != nil {
				res.Error = err.Error()
				observe.Logger(gctx).Warn("analyzer: judge failed", "goal_id", goal.ID, "err", err)
				return nil
			}
			res.Passed = j.Passed
			res.Score = min(max(j.Score, 0), 1)
			res.Evidence = strings.TrimSpace(j.Evidence)
			res.Suggestions = j.Suggestions
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, fmt.Errorf("analyzer: %w", err)
	}
	return results, nil
}

// Span returns the transcript indices addressing goal: every caller turn
// tagged with its id plus the agent turns answering it. Without tags, the
// caller turn most similar to the goal's seed phrase is used if it scores at
// least minMatch; matched then reports true.
func Span(turns []transcript.Turn, goal types.Goal, minMatch float64) (span []int, matched bool) {
	var starts []int
	for i, t := range turns {
		if t.Role == transcript.RoleCaller && t.GoalID == goal.ID {
			starts = append(starts, i)
		}
	}
	if len(starts) == 0 {
		seed := goal.UserInput
		if seed == "" {
			seed = goal.Scenario
		}
		best, bestScore := -1, 0.0
		for i, t := range turns {
			if t.Role != transcript.RoleCaller || t.GoalID != "" {
				continue
			}
			if score := transcript.Similarity(t.Text, seed); score >= minMatch && score > bestScore {
				best, bestScore = i, score
			}
		}
		if best < 0 {
			return nil, false
		}
		starts, matched = []int{best}, true
	}

	for _, s := range starts {
		span = append(span, s)
		for i := s + 1; i < len(turns) && turns[i].Role == transcript.RoleAgent; i++ {
			span = append(span, i)
		}
	}
	return span, matched
}

func (a *Analyzer) judge(ctx context.Context, goal types.Goal, text, agentPrompt string) (judgement, error) {
	instructions := ""
	if p := strings.TrimSpace(agentPrompt); p != "" {
		instructions = "\nThe agent was configured with these instructions:\n" + p + "\n"
	}
	req := llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(systemPromptTemplate, goal.Name, goal.Scenario, goal.ExpectedOutcome, instructions),
		Temperature:  a.temperature,
		JSON:         true,
		Messages: []types.Message{
			{Role: "user", Content: "Conversation excerpt:\n" + text},
		},
	}

	start := time.Now()
	resp, err := a.llm.Complete(ctx, req)
	if a.metrics != nil {
		a.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		return judgement{}, fmt.Errorf("complete: %w", err)
	}
	if resp == nil {
		return judgement{}, fmt.Errorf("empty completion")
	}

	var j judgement
	if err := json.Unmarshal([]byte(llm.StripCodeFence(resp.Content)), &j); err != nil {
		return judgement{}, fmt.Errorf("parse judgement: %w", err)
	}
	return j, nil
}

// excerpt renders the turns at idx as a speaker-labelled dialogue.
func excerpt(turns []transcript.Turn, idx []int) string {
	var sb strings.Builder
	for _, i := range idx {
		speaker := "Agent"
		if turns[i].Role == transcript.RoleCaller {
			speaker = "Caller"
		}
		fmt.Fprintf(&sb, "%s: %s\n", speaker, turns[i].Text)
	}
	return sb.String()
}
