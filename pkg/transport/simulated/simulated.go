// Package simulated provides an LLM-backed stand-in for a remote agent.
//
// It is the transport of last resort: the agent's own system prompt and first
// message are fetched from its platform and a general-purpose model plays the
// agent against the synthetic caller. Results produced this way are marked
// Simulated so they are never mistaken for a real integration test.
package simulated

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MrWong99/voicecheck/pkg/platform"
	"github.com/MrWong99/voicecheck/pkg/provider/llm"
	"github.com/MrWong99/voicecheck/pkg/transport"
	"github.com/MrWong99/voicecheck/pkg/types"
)

// EndMarker is the token the simulated agent emits to hang up.
const EndMarker = "[END_CALL]"

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 300
)

const simulationRules = `You are role-playing the voice agent described above in a live conversation with a customer.
Stay strictly within the behaviour, knowledge and policies described above.
Answer like spoken dialogue: one to three short sentences, no markdown, no lists.
If the customer says goodbye or the conversation is clearly finished, say a short farewell and append ` + EndMarker + `.`

var _ transport.TurnConn = (*Conn)(nil)

// Option is a functional option for configuring a Conn.
type Option func(*Conn)

// WithTemperature sets the sampling temperature of the simulated agent.
func WithTemperature(t float64) Option {
	return func(c *Conn) { c.temperature = t }
}

// WithMaxTokens caps the length of each simulated reply.
func WithMaxTokens(n int) Option {
	return func(c *Conn) { c.maxTokens = n }
}

// Conn is a simulated agent conversation. It is safe for concurrent use but
// Send calls are serialised.
type Conn struct {
	llm         llm.Provider
	cfg         platform.AgentConfig
	temperature float64
	maxTokens   int

	mu      sync.Mutex
	history []types.Message
	greeted bool
	closed  bool
}

// New returns a simulated agent grounded on cfg.
func New(provider llm.Provider, cfg platform.AgentConfig, opts ...Option) *Conn {
	c := &Conn{
		llm:         provider,
		cfg:         cfg,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Transport builds a simulated transport. Open fetches the agent config with
// fetch and fails when the platform returns no system prompt.
func Transport(name string, provider llm.Provider, fetch func(ctx context.Context) (platform.AgentConfig, error), opts ...Option) transport.Transport {
	return transport.Transport{
		Kind:      transport.KindSimulated,
		Name:      name,
		Simulated: true,
		Open: func(ctx context.Context) (transport.Conn, error) {
			if provider == nil {
				return nil, errors.New("simulated: no language model configured")
			}
			if fetch == nil {
				return nil, fmt.Errorf("simulated: %w: agent config", platform.ErrUnsupported)
			}
			cfg, err := fetch(ctx)
			if err != nil {
				return nil, fmt.Errorf("simulated: fetch agent config: %w", err)
			}
			if strings.TrimSpace(cfg.SystemPrompt) == "" {
				return nil, errors.New("simulated: agent has no system prompt to simulate")
			}
			return New(provider, cfg, opts...), nil
		},
	}
}

// Config returns the agent definition the simulation is grounded on.
func (c *Conn) Config() platform.AgentConfig { return c.cfg }

// Greeting returns the agent's configured first message, once.
func (c *Conn) Greeting(context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.greeted || c.cfg.FirstMessage == "" {
		return "", nil
	}
	c.greeted = true
	c.history = append(c.history, types.Message{Role: "assistant", Content: c.cfg.FirstMessage})
	return c.cfg.FirstMessage, nil
}

// Send asks the model for the agent's reply to text.
func (c *Conn) Send(ctx context.Context, text string) (transport.Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.Reply{}, transport.ErrClosed
	}

	msgs := make([]types.Message, 0, len(c.history)+1)
	msgs = append(msgs, c.history...)
	msgs = append(msgs, types.Message{Role: "user", Content: text})

	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: c.systemPrompt(),
		Messages:     msgs,
		Temperature:  c.temperature,
		MaxTokens:    c.maxTokens,
	})
	if err != nil {
		return transport.Reply{}, fmt.Errorf("simulated: complete: %w", err)
	}
	if resp == nil {
		return transport.Reply{}, nil
	}

	reply, ended := strings.CutSuffix(strings.TrimSpace(resp.Content), EndMarker)
	if !ended {
		ended = strings.Contains(reply, EndMarker)
		reply = strings.ReplaceAll(reply, EndMarker, "")
	}
	reply = strings.TrimSpace(reply)

	c.history = append(msgs, types.Message{Role: "assistant", Content: reply})
	return transport.Reply{Text: reply, Ended: ended}, nil
}

// Close ends the simulation.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Conn) systemPrompt() string {
	var b strings.Builder
	if c.cfg.Name != "" {
		fmt.Fprintf(&b, "Agent name: %s\n", c.cfg.Name)
	}
	if c.cfg.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", c.cfg.Language)
	}
	b.WriteString(c.cfg.SystemPrompt)
	b.WriteString("\n\n")
	b.WriteString(simulationRules)
	return b.String()
}
