package executor

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvariant is returned when the executor detects a programming error:
// malformed input goals or an illegal state transition.
var ErrInvariant = errors.New("executor: invariant violated")

// State is the coordinator state of one session.
type State int

const (
	// StateIdle is the state before the transport signalled it is ready.
	StateIdle State = iota

	// StateAwaitingGreeting waits briefly for the remote agent to open the
	// conversation before the caller speaks.
	StateAwaitingGreeting

	// StateAgentTurn is the remote agent's turn: a reply is being awaited or
	// is still arriving.
	StateAgentTurn

	// StateCallerTurn is the synthetic caller's turn: the next utterance is
	// being generated and sent.
	StateCallerTurn

	// StateClosing says goodbye and drains in-flight audio.
	StateClosing

	// StateTerminated is final.
	StateTerminated
)

// String returns the state's name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingGreeting:
		return "awaiting_greeting"
	case StateAgentTurn:
		return "agent_turn"
	case StateCallerTurn:
		return "caller_turn"
	case StateClosing:
		return "closing"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// transitions lists the legal successors of every state. Terminated is
// reachable from anywhere.
var transitions = map[State][]State{
	StateIdle:             {StateAwaitingGreeting, StateClosing},
	StateAwaitingGreeting: {StateAgentTurn, StateCallerTurn, StateClosing},
	StateAgentTurn:        {StateCallerTurn, StateClosing},
	StateCallerTurn:       {StateAgentTurn, StateClosing},
	StateClosing:          {},
}

// CanTransition reports whether from → to is a legal transition. Staying in
// the same state is always legal.
func CanTransition(from, to State) bool {
	if from == to || to == StateTerminated {
		return from != StateTerminated || to == StateTerminated
	}
	return slices.Contains(transitions[from], to)
}

// CloseReason names the condition that ended a session.
type CloseReason string

const (
	// ReasonCoverage: every goal was addressed.
	ReasonCoverage CloseReason = "coverage"

	// ReasonCallerGoodbye: the caller said goodbye, or had nothing left to say.
	ReasonCallerGoodbye CloseReason = "caller-goodbye"

	// ReasonAgentGoodbye: the agent said goodbye after every open goal was
	// covered.
	ReasonAgentGoodbye CloseReason = "agent-goodbye"

	// ReasonTurnLimit: the turn ceiling was reached.
	ReasonTurnLimit CloseReason = "turn-limit"

	// ReasonAgentEnded: the agent hung up or closed the conversation.
	ReasonAgentEnded CloseReason = "agent-ended"

	// ReasonCallCompleted: a phone call ran to completion.
	ReasonCallCompleted CloseReason = "call-completed"

	// ReasonNoResponse: the agent did not reply within the response timeout.
	ReasonNoResponse CloseReason = "no-response"

	// ReasonTimeout: the session deadline elapsed.
	ReasonTimeout CloseReason = "timeout"

	// ReasonTransportError: the transport failed mid-session.
	ReasonTransportError CloseReason = "transport-error"

	// ReasonCanceled: the caller of Run canceled the context.
	ReasonCanceled CloseReason = "canceled"
)

// Graceful reports whether r ends a session successfully. Coverage may still
// be partial.
func (r CloseReason) Graceful() bool {
	switch r {
	case ReasonCoverage, ReasonCallerGoodbye, ReasonAgentGoodbye,
		ReasonTurnLimit, ReasonAgentEnded, ReasonCallCompleted:
		return true
	default:
		return false
	}
}

// saysGoodbye reports whether closing for r sends the fixed goodbye line.
// The caller stays silent when the agent is already gone, the turn budget
// is spent, or the run was canceled.
func (r CloseReason) saysGoodbye() bool {
	switch r {
	case ReasonAgentEnded, ReasonTurnLimit, ReasonCanceled, ReasonCallCompleted:
		return false
	default:
		return true
	}
}
