package executor

import (
	"context"
	"fmt"

	"github.com/MrWong99/voicecheck/internal/caller"
	"github.com/MrWong99/voicecheck/pkg/transcript"
	"github.com/MrWong99/voicecheck/pkg/transport"
	"github.com/MrWong99/voicecheck/pkg/types"
)

// callRun is the result of a phone call beyond the shared session state.
type callRun struct {
	callID string
	source transcript.Source
}

// runCall places one scripted phone call. The script addresses every goal in
// order, the closing goal last, and ends with the goodbye line unless a
// closing goal already says it. Coverage is read back from the goal tags of
// the reconciled transcript.
func (s *session) runCall(ctx context.Context, conn transport.CallConn) callRun {
	s.to(StateAwaitingGreeting)
	s.to(StateCallerTurn)

	script := s.script(ctx)
	outcome, err := conn.Call(ctx, script)
	if cerr := conn.Close(); cerr != nil {
		s.log.Debug("executor: close connection", "err", cerr)
	}

	run := callRun{callID: outcome.CallID}
	if err != nil && ctx.Err() != nil {
		s.closeFor(ctx)
	} else if err != nil {
		s.close(ReasonTransportError, err.Error())
	}

	turns, source := transcript.Reconcile(
		transcript.Normalize(outcome.Local),
		transcript.Normalize(outcome.Authoritative),
		s.cfg.MinLocalTurns,
	)
	run.source = source
	for _, t := range turns {
		if err := s.turns.Add(t); err != nil {
			s.violate(fmt.Errorf("reconciled transcript: %w", err))
			break
		}
		if t.Role == transcript.RoleCaller {
			s.cover(ctx, t.GoalID)
		}
		if s.metrics != nil {
			s.metrics.RecordTurn(ctx, string(t.Role))
		}
	}

	switch {
	case err != nil:
	case outcome.Completed():
		s.close(ReasonCallCompleted, "")
	default:
		s.close(ReasonTransportError, fmt.Sprintf("call ended with status %q", outcome.Status))
	}
	s.log.Info("executor: call finished",
		"call_id", outcome.CallID, "status", outcome.Status, "duration", outcome.Duration,
		"transcript_source", source, "turns", len(turns))
	s.to(StateTerminated)
	return run
}

// script renders the goals as scripted caller lines within the turn ceiling,
// leaving every line room for one agent reply.
func (s *session) script(ctx context.Context) transport.CallScript {
	var (
		gen       caller.Scripted
		remaining = append([]types.Goal(nil), s.goals...)
		closing   bool
		lines     = max(s.maxTurns/2, 1)
		out       = transport.CallScript{PauseBetween: s.cfg.CallPause}
	)
	for len(out.Turns) < lines {
		u, _ := gen.Next(ctx, caller.Request{Uncovered: remaining})
		if u == nil {
			break
		}
		out.Turns = append(out.Turns, transport.ScriptTurn{Text: u.Text, GoalID: u.GoalID})
		for i, g := range remaining {
			if g.ID == u.GoalID {
				closing = closing || g.IsClosingGoal
				remaining = append(remaining[:i], remaining[i+1:]...)
				break
			}
		}
	}
	if !closing && len(out.Turns) < lines {
		out.Turns = append(out.Turns, transport.ScriptTurn{Text: s.cfg.Goodbye})
	}
	return out
}
