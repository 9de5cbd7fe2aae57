// Package router decides which transports a batch execution tries against a
// remote agent, and in what order, and opens the first one that works.
//
// The plan for an agent is evaluated once per batch:
//
//  1. phone, when a phone bridge is configured and the agent has a number
//  2. the platform's native chat API
//  3. the platform's native streaming voice API
//  4. an LLM simulation grounded on the agent's fetched configuration
//
// A transport that fails to open is skipped silently and the next one is
// tried; only exhausting the whole plan is an error. Each transport is guarded
// by a circuit breaker that persists across batches, so a platform whose
// credentials are broken stops being dialled until its reset window elapses.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/MrWong99/voicecheck/internal/observe"
	"github.com/MrWong99/voicecheck/internal/resilience"
	"github.com/MrWong99/voicecheck/pkg/platform"
	"github.com/MrWong99/voicecheck/pkg/provider/llm"
	"github.com/MrWong99/voicecheck/pkg/telephony/twilio"
	"github.com/MrWong99/voicecheck/pkg/transcript"
	"github.com/MrWong99/voicecheck/pkg/transport"
	"github.com/MrWong99/voicecheck/pkg/transport/simulated"
)

// ErrNoTransport is returned when no transport could be opened for a target.
var ErrNoTransport = errors.New("router: no transport available")

// DefaultOrder is the order transports are tried in when a target states no
// preference.
var DefaultOrder = []transport.Kind{
	transport.KindPhone,
	transport.KindChat,
	transport.KindVoice,
	transport.KindSimulated,
}

// PhoneBridge builds phone transports. *twilio.Bridge satisfies it.
type PhoneBridge interface {
	Transport(to string, fetch twilio.TranscriptFetcher) transport.Transport
}

var _ PhoneBridge = (*twilio.Bridge)(nil)

// Target is the agent a batch runs against.
type Target struct {
	Agent platform.Agent

	// Preferences restricts and reorders the plan to the listed kinds. Empty
	// means [DefaultOrder].
	Preferences []transport.Kind
}

// Attempt records one transport open attempt.
type Attempt struct {
	Transport string         `json:"transport"`
	Kind      transport.Kind `json:"kind"`

	// Error is empty for the transport that opened.
	Error string `json:"error,omitempty"`

	// Skipped reports that the transport's circuit breaker was open and
	// Open was never called.
	Skipped bool `json:"skipped,omitempty"`
}

// Opened is an open connection and the transport it came from.
type Opened struct {
	Transport transport.Transport
	Conn      transport.Conn
}

// Option is a functional option for configuring a [Router].
type Option func(*Router)

// WithPhone enables the phone transport.
func WithPhone(b PhoneBridge) Option {
	return func(r *Router) {
		r.phone = b
	}
}

// WithSimulator enables the LLM-simulated transport, played by provider.
func WithSimulator(provider llm.Provider, opts ...simulated.Option) Option {
	return func(r *Router) {
		r.sim = provider
		r.simOpts = opts
	}
}

// WithBreakerConfig sets the circuit breaker tuning for transports.
// Default: open after 3 consecutive open failures, reset after 5 minutes.
func WithBreakerConfig(cfg resilience.CircuitBreakerConfig) Option {
	return func(r *Router) {
		r.breakerCfg = cfg
	}
}

// WithMetrics records transport attempts to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// Router builds and opens transport plans. It is safe for concurrent use;
// batches running in parallel share its circuit breakers.
type Router struct {
	platforms *platform.Registry
	phone     PhoneBridge
	sim       llm.Provider
	simOpts   []simulated.Option
	metrics   *observe.Metrics

	breakerCfg resilience.CircuitBreakerConfig
	breakers   *resilience.BreakerSet
}

// New returns a router resolving platforms in reg.
func New(reg *platform.Registry, opts ...Option) *Router {
	r := &Router{platforms: reg, breakerCfg: defaultBreakerConfig}
	for _, o := range opts {
		o(r)
	}
	cfg := r.breakerCfg
	next := cfg.OnStateChange
	cfg.OnStateChange = func(name string, from, to resilience.State) {
		r.breakerChanged(name, from, to)
		if next != nil {
			next(name, from, to)
		}
	}
	r.breakers = resilience.NewBreakerSet(cfg)
	return r
}

func (r *Router) breakerChanged(name string, from, to resilience.State) {
	log := slog.With("transport", name, "from", from.String(), "to", to.String())
	if to == resilience.StateOpen {
		log.Warn("router: transport breaker opened")
	} else {
		log.Info("router: transport breaker changed state")
	}
	if r.metrics != nil {
		r.metrics.RecordBreakerTransition(context.Background(), name, to.String())
	}
}

// BreakerStates reports the breaker state of every transport tried so far.
func (r *Router) BreakerStates() map[string]resilience.State {
	return r.breakers.States()
}

// Plan returns the ordered transports to try for t.
func (r *Router) Plan(t Target) ([]transport.Transport, error) {
	p, err := r.platforms.Lookup(t.Agent.Platform)
	if err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}
	agentID := t.Agent.AgentID

	byKind := make(map[transport.Kind]transport.Transport, 4)
	if r.phone != nil && t.Agent.PhoneNumber != "" {
		var fetch twilio.TranscriptFetcher
		if p.FetchCallTranscript != nil {
			fetch = func(ctx context.Context, call platform.CallRef) ([]transcript.Turn, error) {
				return p.FetchCallTranscript(ctx, agentID, call)
			}
		}
		byKind[transport.KindPhone] = r.phone.Transport(t.Agent.PhoneNumber, fetch)
	}
	if p.HasChat() {
		byKind[transport.KindChat] = transport.Transport{
			Kind: transport.KindChat,
			Name: p.ID + "-chat",
			Open: func(ctx context.Context) (transport.Conn, error) {
				return p.Chat(ctx, agentID)
			},
		}
	}
	if p.HasVoice() {
		byKind[transport.KindVoice] = transport.Transport{
			Kind: transport.KindVoice,
			Name: p.ID + "-voice",
			Open: func(ctx context.Context) (transport.Conn, error) {
				return p.Voice(ctx, agentID)
			},
		}
	}
	if r.sim != nil && p.FetchConfig != nil {
		fetch := func(ctx context.Context) (platform.AgentConfig, error) {
			return p.FetchConfig(ctx, agentID)
		}
		byKind[transport.KindSimulated] = simulated.Transport(p.ID+"-simulated", r.sim, fetch, r.simOpts...)
	}

	order := DefaultOrder
	if len(t.Preferences) > 0 {
		order = t.Preferences
	}
	var plan []transport.Transport
	seen := make(map[transport.Kind]bool, len(order))
	for _, k := range order {
		tr, ok := byKind[k]
		if !ok || seen[k] {
			continue
		}
		seen[k] = true
		plan = append(plan, tr)
	}
	if len(plan) == 0 {
		return nil, fmt.Errorf("%w: platform %q offers none of %v", ErrNoTransport, p.ID, order)
	}
	return plan, nil
}

// Open opens the first transport of t's plan that works. Every transport is
// tried at most once. The attempts are returned even on failure.
func (r *Router) Open(ctx context.Context, t Target) (Opened, []Attempt, error) {
	plan, err := r.Plan(t)
	if err != nil {
		return Opened{}, nil, err
	}

	log := observe.Logger(ctx).With("platform", t.Agent.Platform, "agent_id", t.Agent.AgentID)
	var attempts []Attempt
	cfg := resilience.FallbackConfig{
		Breakers: r.breakers,
		OnResult: func(name string, err error) {
			i := slices.IndexFunc(plan, func(tr transport.Transport) bool { return tr.Name == name })
			a := Attempt{Transport: name, Kind: plan[i].Kind}
			status := "ok"
			switch {
			case errors.Is(err, resilience.ErrCircuitOpen):
				a.Skipped, a.Error, status = true, err.Error(), "skipped"
			case err != nil:
				a.Error, status = err.Error(), "error"
				log.Debug("router: transport unavailable, falling back", "transport", name, "err", err)
			}
			attempts = append(attempts, a)
			if r.metrics != nil {
				r.metrics.RecordTransportAttempt(ctx, name, status)
			}
		},
	}

	group := resilience.NewFallbackGroup(plan[0], plan[0].Name, cfg)
	for _, tr := range plan[1:] {
		group.AddFallback(tr.Name, tr)
	}
	opened, err := resilience.ExecuteWithResult(group, func(tr transport.Transport) (Opened, error) {
		conn, err := tr.Open(ctx)
		if err != nil {
			return Opened{}, err
		}
		if conn == nil {
			return Opened{}, fmt.Errorf("router: %s returned no connection", tr.Name)
		}
		return Opened{Transport: tr, Conn: conn}, nil
	})
	if err != nil {
		return Opened{}, attempts, fmt.Errorf("%w: %w", ErrNoTransport, err)
	}
	log.Info("router: transport opened", "transport", opened.Transport.Name,
		"kind", opened.Transport.Kind, "simulated", opened.Transport.Simulated, "attempts", len(attempts))
	return opened, attempts, nil
}

// AgentConfig fetches the agent definition from its platform. It returns
// [platform.ErrUnsupported] when the platform cannot provide one.
func (r *Router) AgentConfig(ctx context.Context, agent platform.Agent) (platform.AgentConfig, error) {
	p, err := r.platforms.Lookup(agent.Platform)
	if err != nil {
		return platform.AgentConfig{}, fmt.Errorf("router: %w", err)
	}
	if p.FetchConfig == nil {
		return platform.AgentConfig{}, fmt.Errorf("router: %s: %w", p.ID, platform.ErrUnsupported)
	}
	return p.FetchConfig(ctx, agent.AgentID)
}

// ParseKinds converts transport kind names as found in batch files.
func ParseKinds(names []string) ([]transport.Kind, error) {
	kinds := make([]transport.Kind, 0, len(names))
	for _, n := range names {
		k := transport.Kind(n)
		if !slices.Contains(DefaultOrder, k) {
			return nil, fmt.Errorf("router: unknown transport kind %q", n)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

var defaultBreakerConfig = resilience.CircuitBreakerConfig{
	MaxFailures:  3,
	ResetTimeout: 5 * time.Minute,
	HalfOpenMax:  1,
}
