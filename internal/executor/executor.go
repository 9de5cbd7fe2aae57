// Package executor conducts batched multi-goal test conversations against a
// remote voice or chat agent.
//
// One batch is one conversation: the [Executor] opens a transport through the
// router, lets the synthetic caller work through every goal in a single
// session, and closes the session when all goals are covered, the caller or
// agent says goodbye, the turn ceiling is reached, the agent stops
// responding, or the session deadline passes. The finished transcript is
// then graded per goal.
//
// Within a session the coordinator moves through explicit states:
//
//	Idle → AwaitingGreeting → AgentTurn ⇄ CallerTurn → Closing → Terminated
//
// Everything short of exhausting every transport ends in a [Result], with
// Success=false and a reason when the session could not end gracefully.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voicecheck/internal/analyzer"
	"github.com/MrWong99/voicecheck/internal/caller"
	"github.com/MrWong99/voicecheck/internal/observe"
	"github.com/MrWong99/voicecheck/internal/router"
	"github.com/MrWong99/voicecheck/pkg/audio"
	"github.com/MrWong99/voicecheck/pkg/platform"
	"github.com/MrWong99/voicecheck/pkg/provider/stt"
	"github.com/MrWong99/voicecheck/pkg/transcript"
	"github.com/MrWong99/voicecheck/pkg/transport"
	"github.com/MrWong99/voicecheck/pkg/types"
)

// Opener opens the transport for a batch. *router.Router satisfies it.
type Opener interface {
	Open(ctx context.Context, t router.Target) (router.Opened, []router.Attempt, error)
	AgentConfig(ctx context.Context, agent platform.Agent) (platform.AgentConfig, error)
}

var _ Opener = (*router.Router)(nil)

// Analyzer grades a finished transcript. *analyzer.Analyzer satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, in analyzer.Input) ([]analyzer.GoalResult, error)
}

var _ Analyzer = (*analyzer.Analyzer)(nil)

// Batch is one execution request.
type Batch struct {
	// ID identifies the batch in logs and results. Generated when empty.
	ID string

	Target router.Target
	Goals  []types.Goal
}

// Result is the outcome of one batch.
type Result struct {
	BatchID string `json:"batchId"`

	// Success is true when the session ended gracefully. Coverage may still
	// be partial; see Covered.
	Success bool        `json:"success"`
	Reason  CloseReason `json:"reason"`
	Detail  string      `json:"detail,omitempty"`

	Transport string         `json:"transport"`
	Kind      transport.Kind `json:"kind"`

	// Simulated marks runs against an LLM playing the agent rather than the
	// agent itself.
	Simulated bool `json:"simulated"`

	// CallID is the telephony call id of phone runs.
	CallID string `json:"callId,omitempty"`

	Transcript       []transcript.Turn `json:"transcript"`
	TranscriptSource transcript.Source `json:"transcriptSource,omitempty"`

	// Covered lists the addressed goal ids in the order they were covered.
	Covered    []string              `json:"covered"`
	GoalCount  int                   `json:"goalCount"`
	PerGoal    []analyzer.GoalResult `json:"perGoalResults"`
	TotalTurns int                   `json:"totalTurns"`

	Duration   time.Duration `json:"-"`
	DurationMs int64         `json:"durationMs"`

	// Audio is the conversation recording of streaming runs, WAV encoded.
	Audio []byte `json:"-"`

	// Attempts lists every transport tried, in order.
	Attempts []router.Attempt `json:"attempts"`
}

// Summary is the one-line human-readable outcome.
func (r *Result) Summary() string {
	s := fmt.Sprintf("batch %s finished with %d/%d goals covered after %d turns (%s",
		r.BatchID, len(r.Covered), r.GoalCount, r.TotalTurns, r.Reason)
	if r.Detail != "" {
		s += ": " + r.Detail
	}
	return s + ")"
}

// Option is a functional option for configuring an [Executor].
type Option func(*Executor)

// WithConfig sets the coordinator configuration.
func WithConfig(cfg Config) Option {
	return func(e *Executor) {
		e.cfg = cfg.withDefaults()
	}
}

// WithAnalyzer grades every finished transcript with a. Without one, per-goal
// results only report coverage.
func WithAnalyzer(a Analyzer) Option {
	return func(e *Executor) {
		e.analyzer = a
	}
}

// WithSTT transcribes agent audio on streaming transports that deliver no
// agent transcripts.
func WithSTT(p stt.Provider) Option {
	return func(e *Executor) {
		e.stt = p
	}
}

// WithMetrics records session metrics to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// Executor runs batches. It holds no per-session state and is safe for
// concurrent use; every Run owns its session exclusively.
type Executor struct {
	opener   Opener
	gen      caller.Generator
	analyzer Analyzer
	stt      stt.Provider
	metrics  *observe.Metrics
	cfg      Config
}

// New returns an executor that opens transports with opener and speaks
// through gen.
func New(opener Opener, gen caller.Generator, opts ...Option) *Executor {
	e := &Executor{
		opener: opener,
		gen:    gen,
		cfg:    DefaultConfig(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run executes one batch. It returns an error only when no transport could be
// opened (wrapping [router.ErrNoTransport], with the attempts in the partial
// result) or on an invariant violation ([ErrInvariant]). Every other failure
// is reported through the Result.
func (e *Executor) Run(ctx context.Context, b Batch) (*Result, error) {
	if err := validateGoals(b.Goals); err != nil {
		return nil, err
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}

	ctx, span := observe.StartSpan(ctx, "executor.Run", trace.WithAttributes(
		attribute.String("batch.id", b.ID),
		attribute.String("agent.platform", b.Target.Agent.Platform),
		attribute.String("agent.id", b.Target.Agent.AgentID),
		attribute.Int("goals", len(b.Goals)),
	))
	defer span.End()
	ctx = observe.WithBatch(ctx, b.ID)
	log := observe.Logger(ctx).With("platform", b.Target.Agent.Platform, "agent_id", b.Target.Agent.AgentID)
	start := time.Now()

	opened, attempts, err := e.opener.Open(ctx, b.Target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "no transport")
		log.Error("executor: no transport could be opened", "attempts", len(attempts), "err", err)
		res := &Result{
			BatchID:   b.ID,
			Reason:    ReasonTransportError,
			Detail:    err.Error(),
			GoalCount: len(b.Goals),
			Attempts:  attempts,
		}
		return res, fmt.Errorf("executor: %w", err)
	}
	tr := opened.Transport
	span.SetAttributes(attribute.String("transport", tr.Name), attribute.Bool("simulated", tr.Simulated))
	log = log.With("transport", tr.Name)

	if e.metrics != nil {
		e.metrics.ActiveSessions.Add(ctx, 1)
		defer e.metrics.ActiveSessions.Add(ctx, -1)
	}

	sctx, cancel := context.WithTimeoutCause(ctx, e.cfg.SessionTimeout, errSessionTimeout)
	defer cancel()

	s := newSession(e.cfg, b.Goals, e.gen, e.cfg.TurnCeiling(len(b.Goals), tr.Kind), e.metrics, log)
	res := &Result{
		BatchID:   b.ID,
		Transport: tr.Name,
		Kind:      tr.Kind,
		Simulated: tr.Simulated,
		GoalCount: len(b.Goals),
		Attempts:  attempts,
	}
	log.Info("executor: session started", "kind", tr.Kind, "simulated", tr.Simulated, "max_turns", s.maxTurns)

	var rec *audio.Recording
	switch conn := opened.Conn.(type) {
	case transport.CallConn:
		run := s.runCall(sctx, conn)
		res.CallID, res.TranscriptSource = run.callID, run.source
	case transport.StreamConn:
		rec = s.runStream(sctx, conn, e.stt)
	case transport.TurnConn:
		s.runTurns(sctx, conn)
	default:
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s opened unsupported connection %T", ErrInvariant, tr.Name, conn)
	}
	if s.invariant != nil {
		span.RecordError(s.invariant)
		span.SetStatus(codes.Error, "invariant violated")
		return nil, s.invariant
	}

	res.Reason, res.Detail = s.closeReason()
	res.Success = res.Reason.Graceful()
	res.Transcript = s.turns.Turns()
	res.TotalTurns = len(res.Transcript)
	res.Covered = append([]string(nil), s.coverage...)
	if rec != nil && rec.Len() > 0 {
		if data, err := rec.Bytes(); err != nil {
			log.Warn("executor: assemble recording", "err", err)
		} else {
			res.Audio = data
		}
	}

	res.PerGoal = e.grade(ctx, log, b, opened.Conn, res)

	res.Duration = time.Since(start)
	res.DurationMs = res.Duration.Milliseconds()
	if e.metrics != nil {
		e.metrics.RecordBatch(ctx, tr.Name, string(res.Reason), res.Duration.Seconds())
	}
	span.SetAttributes(
		attribute.String("close.reason", string(res.Reason)),
		attribute.Int("turns", res.TotalTurns),
		attribute.Int("goals.covered", len(res.Covered)),
	)
	if !res.Success {
		span.SetStatus(codes.Error, string(res.Reason))
	}
	log.Info("executor: "+res.Summary(), "success", res.Success, "duration", res.Duration)
	return res, nil
}

// grade runs the analyzer, or reports bare coverage without one or when it
// fails.
func (e *Executor) grade(ctx context.Context, log *slog.Logger, b Batch, conn transport.Conn, res *Result) []analyzer.GoalResult {
	if e.analyzer != nil {
		per, err := e.analyzer.Analyze(ctx, analyzer.Input{
			Transcript:  res.Transcript,
			Goals:       b.Goals,
			AgentPrompt: e.agentPrompt(ctx, log, b.Target.Agent, conn),
		})
		if err == nil {
			return per
		}
		log.Warn("executor: analysis failed, reporting coverage only", "err", err)
	}

	covered := make(map[string]bool, len(res.Covered))
	for _, id := range res.Covered {
		covered[id] = true
	}
	out := make([]analyzer.GoalResult, len(b.Goals))
	for i, g := range b.Goals {
		out[i] = analyzer.GoalResult{GoalID: g.ID, Name: g.Name, Addressed: covered[g.ID]}
	}
	return out
}

// agentPrompt returns the agent's system prompt for the judge: from a
// simulated connection directly, else fetched from the platform. Best effort.
func (e *Executor) agentPrompt(ctx context.Context, log *slog.Logger, agent platform.Agent, conn transport.Conn) string {
	if c, ok := conn.(interface{ Config() platform.AgentConfig }); ok {
		return c.Config().SystemPrompt
	}
	cfg, err := e.opener.AgentConfig(ctx, agent)
	if err != nil {
		if !errors.Is(err, platform.ErrUnsupported) {
			log.Debug("executor: agent config unavailable for analysis", "err", err)
		}
		return ""
	}
	return cfg.SystemPrompt
}

// validateGoals rejects empty goal lists, missing or duplicate ids, and more
// than one closing goal.
func validateGoals(goals []types.Goal) error {
	if len(goals) == 0 {
		return fmt.Errorf("%w: batch has no goals", ErrInvariant)
	}
	seen := make(map[string]bool, len(goals))
	closing := 0
	for i, g := range goals {
		switch {
		case g.ID == "":
			return fmt.Errorf("%w: goal %d has no id", ErrInvariant, i)
		case seen[g.ID]:
			return fmt.Errorf("%w: duplicate goal id %q", ErrInvariant, g.ID)
		}
		seen[g.ID] = true
		if g.IsClosingGoal {
			closing++
		}
	}
	if closing > 1 {
		return fmt.Errorf("%w: %d closing goals, at most one allowed", ErrInvariant, closing)
	}
	return nil
}
