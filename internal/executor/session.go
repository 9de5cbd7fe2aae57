package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/voicecheck/internal/caller"
	"github.com/MrWong99/voicecheck/internal/observe"
	"github.com/MrWong99/voicecheck/pkg/transcript"
	"github.com/MrWong99/voicecheck/pkg/types"
)

// errSessionTimeout is the cancellation cause of the session deadline.
var errSessionTimeout = errors.New("executor: session timeout")

// session is the live state of one batch execution. Exactly one goroutine
// drives it at a time: the turn loop for turn-based and phone transports,
// the coordinator for streaming ones (guarded by streamRun.busy).
type session struct {
	cfg      Config
	goals    []types.Goal
	gen      caller.Generator
	metrics  *observe.Metrics
	log      *slog.Logger
	turns    *transcript.Log
	maxTurns int

	covered  map[string]bool
	coverage []string
	index    int

	// lastGoodbye is set when the most recent caller utterance was a goodbye
	// spoken with no non-closing goal left open.
	lastGoodbye bool

	emptyOnce sync.Once

	mu        sync.Mutex
	state     State
	reason    CloseReason
	detail    string
	invariant error
}

func newSession(cfg Config, goals []types.Goal, gen caller.Generator, maxTurns int, m *observe.Metrics, log *slog.Logger) *session {
	return &session{
		cfg:      cfg,
		goals:    goals,
		gen:      gen,
		metrics:  m,
		log:      log,
		turns:    transcript.NewLog(),
		maxTurns: maxTurns,
		covered:  make(map[string]bool, len(goals)),
	}
}

// ── state ─────────────────────────────────────────────────────────────────────

// to moves the session to next. An illegal transition is recorded as an
// invariant violation and ignored.
func (s *session) to(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reason != "" && next != StateTerminated {
		return
	}
	if !CanTransition(s.state, next) {
		if s.invariant == nil {
			s.invariant = fmt.Errorf("%w: transition %s -> %s", ErrInvariant, s.state, next)
		}
		return
	}
	s.state = next
}

func (s *session) current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// close moves the session to Closing. The first reason wins.
func (s *session) close(reason CloseReason, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reason != "" {
		return
	}
	s.reason, s.detail = reason, detail
	if s.state != StateTerminated {
		s.state = StateClosing
	}
}

// complete reports whether a close condition has fired.
func (s *session) complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason != ""
}

func (s *session) closeReason() (CloseReason, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason, s.detail
}

func (s *session) violate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.invariant == nil {
		s.invariant = fmt.Errorf("%w: %w", ErrInvariant, err)
	}
}

// closeFor closes the session for a done ctx, telling the session deadline
// apart from cancellation by the caller of Run.
func (s *session) closeFor(ctx context.Context) {
	cause := context.Cause(ctx)
	if errors.Is(cause, errSessionTimeout) {
		s.close(ReasonTimeout, fmt.Sprintf("session exceeded %s", s.cfg.SessionTimeout))
		return
	}
	s.close(ReasonCanceled, cause.Error())
}

// closeSilent closes the session after the agent failed to answer. An
// unanswered goodbye or a fully covered session still ends gracefully.
func (s *session) closeSilent() {
	switch {
	case s.allCovered():
		s.close(ReasonCoverage, "")
	case s.lastGoodbye:
		s.close(ReasonCallerGoodbye, "")
	default:
		s.close(ReasonNoResponse, fmt.Sprintf("no reply from the agent within %s", s.cfg.ResponseTimeout))
	}
}

// ── coverage ──────────────────────────────────────────────────────────────────

func (s *session) goal(id string) (types.Goal, bool) {
	for _, g := range s.goals {
		if g.ID == id {
			return g, true
		}
	}
	return types.Goal{}, false
}

func (s *session) uncovered() []types.Goal {
	out := make([]types.Goal, 0, len(s.goals)-len(s.coverage))
	for _, g := range s.goals {
		if !s.covered[g.ID] {
			out = append(out, g)
		}
	}
	return out
}

// openRemaining reports whether a non-closing goal is still uncovered.
func (s *session) openRemaining() bool {
	for _, g := range s.goals {
		if !g.IsClosingGoal && !s.covered[g.ID] {
			return true
		}
	}
	return false
}

func (s *session) allCovered() bool {
	return len(s.coverage) == len(s.goals)
}

// cover adds id to the coverage set. The closing goal is refused while any
// other goal is open.
func (s *session) cover(ctx context.Context, id string) bool {
	if id == "" || s.covered[id] {
		return false
	}
	g, ok := s.goal(id)
	if !ok || (g.IsClosingGoal && s.openRemaining()) {
		return false
	}
	s.covered[id] = true
	s.coverage = append(s.coverage, id)
	if s.metrics != nil {
		s.metrics.GoalsCovered.Add(ctx, 1)
	}
	s.log.Debug("executor: goal covered", "goal_id", id, "covered", len(s.coverage), "goals", len(s.goals))
	return true
}

// ── turns ─────────────────────────────────────────────────────────────────────

// next asks the generator for the caller's next utterance. It returns nil
// after closing the session when there is nothing left to say: every goal is
// covered, the turn ceiling leaves no room for an exchange, or the generator
// produced nothing.
func (s *session) next(ctx context.Context) *caller.Utterance {
	if s.allCovered() {
		s.close(ReasonCoverage, "")
		return nil
	}
	if s.turns.Len() >= s.maxTurns-1 {
		s.close(ReasonTurnLimit, fmt.Sprintf("reached %d turns", s.turns.Len()))
		return nil
	}

	u, err := s.gen.Next(ctx, caller.Request{
		History:   s.turns.Turns(),
		Uncovered: s.uncovered(),
		Index:     s.index,
	})
	if ctx.Err() != nil {
		s.closeFor(ctx)
		return nil
	}
	if err != nil {
		s.log.Warn("executor: caller generator failed, ending conversation", "err", err)
		u = nil
	}
	if u == nil || strings.TrimSpace(u.Text) == "" {
		s.close(ReasonCallerGoodbye, "caller had nothing left to say")
		return nil
	}
	return u
}

// recordCaller appends a delivered caller utterance and updates coverage.
// Tags naming an unknown goal, or the closing goal while others are open,
// are dropped.
func (s *session) recordCaller(ctx context.Context, u *caller.Utterance) {
	goalID := u.GoalID
	if goalID != "" && !s.covered[goalID] && !s.cover(ctx, goalID) {
		goalID = ""
	}
	if u.GoalID == "" {
		s.index++
	}
	if _, err := s.turns.Append(transcript.RoleCaller, strings.TrimSpace(u.Text), goalID); err != nil {
		s.violate(err)
		return
	}
	// A farewell only ends the conversation once the open goals are done.
	s.lastGoodbye = u.Goodbye && !s.openRemaining()
	if u.Goodbye && !s.lastGoodbye {
		s.log.Debug("executor: caller goodbye ignored, goals still open", "turn", s.turns.Len())
	}
	if s.metrics != nil {
		s.metrics.RecordTurn(ctx, string(transcript.RoleCaller))
	}
	s.log.Debug("executor: caller turn", "turn", s.turns.Len(), "goal_id", goalID, "goodbye", u.Goodbye)
}

// recordAgent appends an agent utterance.
func (s *session) recordAgent(ctx context.Context, text string) {
	if _, err := s.turns.Append(transcript.RoleAgent, text, ""); err != nil {
		s.violate(err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordTurn(ctx, string(transcript.RoleAgent))
	}
	s.log.Debug("executor: agent turn", "turn", s.turns.Len(), "chars", len(text))
}

// settle evaluates the close conditions after the agent answered a caller
// utterance and reports whether the session is now closing.
func (s *session) settle(reply string) bool {
	switch {
	case s.allCovered():
		s.close(ReasonCoverage, "")
	case s.lastGoodbye:
		s.close(ReasonCallerGoodbye, "")
	case reply != "" && !s.openRemaining() && caller.IsGoodbye(reply):
		s.close(ReasonAgentGoodbye, "")
	default:
		return false
	}
	return true
}

// farewell returns the fixed goodbye line if closing should speak it. It
// addresses the closing goal when that is all that is left. A caller that
// never spoke does not say goodbye either.
func (s *session) farewell() (*caller.Utterance, bool) {
	reason, _ := s.closeReason()
	if !reason.saysGoodbye() || s.lastGoodbye || s.turns.Len() >= s.maxTurns ||
		s.turns.Count(transcript.RoleCaller) == 0 {
		return nil, false
	}
	u := &caller.Utterance{Text: s.cfg.Goodbye, Goodbye: true}
	if !s.openRemaining() {
		for _, g := range s.goals {
			if g.IsClosingGoal && !s.covered[g.ID] {
				u.GoalID = g.ID
				break
			}
		}
	}
	return u, true
}

// roomForAgent reports whether one more agent turn fits under the ceiling.
func (s *session) roomForAgent() bool {
	return s.turns.Len() < s.maxTurns
}
