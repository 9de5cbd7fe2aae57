// Package transport defines the contract between the turn coordinator and the
// channels used to reach a remote conversational agent.
//
// Every channel is opened through a [Transport] and yields a [Conn]. A Conn
// additionally implements exactly one of the interaction models:
//
//   - [TurnConn]: request/response. One caller utterance in, one agent reply
//     out (text chat APIs, LLM-simulated agents).
//   - [StreamConn]: full duplex. Caller utterances are pushed as audio and the
//     agent side arrives as a stream of [Event] values (voice WebSockets).
//   - [CallConn]: the whole conversation is one scripted phone call whose
//     transcript is only known after the call ends.
//
// Provider-specific framing (envelopes, ping/pong, base64 audio) never leaks
// past these interfaces.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/voicecheck/pkg/audio"
	"github.com/MrWong99/voicecheck/pkg/transcript"
)

// Kind classifies a transport.
type Kind string

const (
	KindPhone     Kind = "phone"
	KindChat      Kind = "chat"
	KindVoice     Kind = "voice"
	KindSimulated Kind = "simulated"
)

// Sentinel errors shared by all adapters.
var (
	// ErrClosed is returned when using a connection after Close.
	ErrClosed = errors.New("transport: connection closed")

	// ErrNotReady is returned by [StreamConn.SendUtterance] before the remote
	// side signalled readiness.
	ErrNotReady = errors.New("transport: connection not ready")
)

// Transport is one way of reaching the remote agent. Open is only called by
// the router, at most once per batch execution.
type Transport struct {
	// Kind is the interaction channel.
	Kind Kind

	// Name identifies the concrete adapter, e.g. "vapi-chat" or
	// "elevenlabs-voice". Used for logging and circuit breaker keys.
	Name string

	// Simulated marks transports whose agent side is synthesised locally.
	Simulated bool

	// Open establishes a connection. The returned Conn implements TurnConn,
	// StreamConn or CallConn.
	Open func(ctx context.Context) (Conn, error)
}

// Conn is an open connection to the remote agent.
type Conn interface {
	// Close releases the connection. It is safe to call more than once.
	Close() error
}

// Reply is the agent's answer to one caller utterance.
type Reply struct {
	// Text is the agent's reply. May be empty when the remote side produced
	// no output for this turn.
	Text string

	// Ended reports that the remote side terminated the conversation.
	Ended bool
}

// TurnConn is a request/response connection.
type TurnConn interface {
	Conn

	// Greeting returns the agent's opening line, if the platform provides one
	// before the caller speaks. An empty string means the caller opens.
	Greeting(ctx context.Context) (string, error)

	// Send delivers one caller utterance and waits for the agent's reply.
	Send(ctx context.Context, text string) (Reply, error)
}

// EventKind classifies a [StreamConn] event.
type EventKind int

const (
	// EventReady signals the remote side accepted the session and is ready
	// for caller audio.
	EventReady EventKind = iota

	// EventAgentText carries a fragment of the agent's transcript.
	EventAgentText

	// EventAgentAudio carries a chunk of agent audio.
	EventAgentAudio

	// EventInterrupted signals the remote side cut off its own turn.
	EventInterrupted

	// EventEnded signals the remote side ended the conversation.
	EventEnded
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventAgentText:
		return "agent_text"
	case EventAgentAudio:
		return "agent_audio"
	case EventInterrupted:
		return "interrupted"
	case EventEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Event is one inbound occurrence on a [StreamConn].
type Event struct {
	Kind EventKind

	// Text is set for EventAgentText.
	Text string

	// Audio is set for EventAgentAudio.
	Audio audio.Segment

	// At is the receive time.
	At time.Time
}

// StreamCapabilities describes what a [StreamConn] delivers.
type StreamCapabilities struct {
	// AgentTranscripts reports whether the remote side sends text for its own
	// speech. When false, agent audio must be transcribed locally.
	AgentTranscripts bool

	// Format is the PCM format of agent audio events and of the caller audio
	// the connection expects.
	Format audio.Format
}

// StreamConn is a full-duplex audio connection.
type StreamConn interface {
	Conn

	// Events returns the inbound event stream. The channel is closed when the
	// connection ends for any reason; Err then reports why.
	Events() <-chan Event

	// SendUtterance synthesises text and streams it to the remote side. It
	// returns the synthesised audio so it can be recorded.
	SendUtterance(ctx context.Context, text string) (audio.Segment, error)

	// Keepalive sends a no-op frame that keeps the remote side from timing
	// the session out during long silences.
	Keepalive(ctx context.Context) error

	// Capabilities reports static properties of this connection.
	Capabilities() StreamCapabilities

	// Err returns the error that closed the event stream, or nil for a clean
	// close or while the stream is open.
	Err() error
}

// ScriptTurn is one caller utterance of a phone script.
type ScriptTurn struct {
	Text   string
	GoalID string
}

// CallScript is the complete caller side of a phone call.
type CallScript struct {
	Turns []ScriptTurn

	// PauseBetween is the silence injected between caller utterances while
	// the agent answers.
	PauseBetween time.Duration
}

// CallOutcome is the result of a completed phone call.
type CallOutcome struct {
	// CallID is the telephony provider's call identifier.
	CallID string

	// Status is the terminal call status (completed, failed, busy, no-answer,
	// canceled) or "timeout".
	Status string

	// Duration is the call duration reported by the provider.
	Duration time.Duration

	// Local is the transcript as observed by this process: the scripted
	// caller turns, plus agent turns if the provider streamed any.
	Local []transcript.Turn

	// Authoritative is the provider's post-call transcript, if available.
	Authoritative []transcript.Turn
}

// Completed reports whether the call reached the "completed" status.
func (o CallOutcome) Completed() bool {
	return o.Status == "completed"
}

// CallConn places a scripted phone call.
type CallConn interface {
	Conn

	// Call runs the whole call and blocks until it reaches a terminal status,
	// ctx is cancelled, or the adapter's own timeout elapses.
	Call(ctx context.Context, script CallScript) (CallOutcome, error)
}
