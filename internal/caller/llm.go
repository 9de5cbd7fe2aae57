package caller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/voicecheck/pkg/provider/llm"
	"github.com/MrWong99/voicecheck/pkg/transcript"
	"github.com/MrWong99/voicecheck/pkg/types"
)

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 200
)

// systemPromptTemplate is filled with the persona, the uncovered goal list
// and the goal to pursue next.
const systemPromptTemplate = `You are role-playing a customer calling a business's AI phone agent. You are testing the agent, but you must sound like a real caller.

Your identity (use these details whenever the agent asks for them, and never contradict them):
%s
Topics you still need to raise, in order:
%s
Address this topic next: %s

Rules:
- Say exactly ONE natural utterance, one or two short sentences, as spoken on a phone call.
- Raise at most ONE topic per utterance. Never list several questions at once.
- If the agent asked you something, answer it briefly before moving on.
- Do not say goodbye or end the call unless the topic you are addressing is the closing one.
- Never mention that you are testing, an AI, or role-playing.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"text": "<what you say>", "goal_id": "<id of the topic this utterance addresses, or empty if none>"}`

// connectedCue stands in for the agent when the caller speaks first.
const connectedCue = "(The call has connected. Speak first.)"

// llmUtterance is the expected JSON structure returned by the model.
type llmUtterance struct {
	Text   string `json:"text"`
	GoalID string `json:"goal_id"`
}

// LLMOption configures an [LLM] generator.
type LLMOption func(*LLM)

// WithPersona sets the identity the caller role-plays. Empty fields are
// filled from a persona derived from the generator's seed.
func WithPersona(p Persona) LLMOption {
	return func(g *LLM) {
		g.persona = p
	}
}

// WithSeed sets the seed the default persona is derived from. It is also
// passed to the model for backends that support seeded sampling.
func WithSeed(seed uint64) LLMOption {
	return func(g *LLM) {
		g.seed = seed
	}
}

// WithTemperature sets the sampling temperature. Default: 0.7.
func WithTemperature(temp float64) LLMOption {
	return func(g *LLM) {
		g.temperature = temp
	}
}

// LLM has a language model role-play the caller. It is safe for concurrent
// use; one instance per batch keeps the persona stable for the session.
type LLM struct {
	llm         llm.Provider
	persona     Persona
	seed        uint64
	temperature float64
}

var _ Generator = (*LLM)(nil)

// NewLLM returns a generator backed by provider.
func NewLLM(provider llm.Provider, opts ...LLMOption) *LLM {
	g := &LLM{
		llm:         provider,
		temperature: defaultTemperature,
	}
	for _, o := range opts {
		o(g)
	}
	g.persona = g.persona.Merge(NewPersona(g.seed))
	return g
}

// Persona returns the identity this generator role-plays.
func (g *LLM) Persona() Persona {
	return g.persona
}

// Next asks the model for the next caller utterance. A failed completion or
// an empty reply yields a nil utterance together with the cause, which the
// coordinator treats as a goodbye.
func (g *LLM) Next(ctx context.Context, req Request) (*Utterance, error) {
	target, ok := Target(req.Uncovered, req.Index)
	if !ok {
		return nil, nil
	}

	resp, err := g.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: buildSystemPrompt(g.persona, req.Uncovered, target),
		Messages:     historyMessages(req.History),
		Temperature:  g.temperature,
		MaxTokens:    defaultMaxTokens,
		JSON:         true,
		Seed:         int64(g.seed),
	})
	if err != nil {
		return nil, fmt.Errorf("caller: complete: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return nil, fmt.Errorf("caller: empty completion")
	}

	if resp.Truncated() {
		slog.Debug("caller: completion hit the token limit", "max_tokens", defaultMaxTokens)
	}
	u := parseUtterance(resp.Content, target)
	if u.Text == "" {
		return nil, fmt.Errorf("caller: empty utterance")
	}
	if u.GoalID != "" && !allowed(req.Uncovered, u.GoalID) {
		slog.Debug("caller: model tagged an unavailable goal, using target",
			"goal_id", u.GoalID, "target", target.ID)
		u.GoalID = target.ID
	}
	u.Goodbye = IsGoodbye(u.Text)
	return u, nil
}

// parseUtterance decodes the model output. Output that is not JSON is taken
// verbatim as the utterance and attributed to target.
func parseUtterance(content string, target types.Goal) *Utterance {
	var r llmUtterance
	if err := json.Unmarshal([]byte(llm.StripCodeFence(content)), &r); err != nil {
		text := strings.Trim(strings.TrimSpace(content), `"`)
		return &Utterance{Text: text, GoalID: target.ID}
	}
	return &Utterance{Text: strings.TrimSpace(r.Text), GoalID: strings.TrimSpace(r.GoalID)}
}

func buildSystemPrompt(p Persona, uncovered []types.Goal, target types.Goal) string {
	var sb strings.Builder
	for _, g := range uncovered {
		fmt.Fprintf(&sb, "- [%s] %s", g.ID, g.Name)
		if g.Scenario != "" {
			fmt.Fprintf(&sb, ": %s", g.Scenario)
		}
		if g.UserInput != "" {
			fmt.Fprintf(&sb, " (e.g. %q)", g.UserInput)
		}
		if g.IsClosingGoal {
			sb.WriteString(" (do this last)")
		}
		sb.WriteByte('\n')
	}
	return fmt.Sprintf(systemPromptTemplate, p.String(), sb.String(), "["+target.ID+"] "+target.Name)
}

// historyMessages maps the transcript onto chat roles from the caller's
// point of view: the agent is the "user", the caller is the "assistant".
func historyMessages(history []transcript.Turn) []types.Message {
	msgs := make([]types.Message, 0, len(history)+1)
	if len(history) == 0 || history[0].Role == transcript.RoleCaller {
		msgs = append(msgs, types.Message{Role: "user", Content: connectedCue})
	}
	for _, t := range history {
		role := "user"
		if t.Role == transcript.RoleCaller {
			role = "assistant"
		}
		msgs = append(msgs, types.Message{Role: role, Content: t.Text})
	}
	if n := len(msgs); msgs[n-1].Role == "assistant" {
		msgs = append(msgs, types.Message{Role: "user", Content: "(silence)"})
	}
	return msgs
}
