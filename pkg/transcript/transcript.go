// Package transcript holds the ordered turn log of one conversation session.
//
// A [Log] is append-only and enforces strictly increasing timestamps so that
// the recorded order always matches the order utterances were exchanged over
// the wire. [Reconcile] decides between a locally observed transcript and a
// provider's authoritative post-call transcript.
package transcript

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Role identifies which party produced a turn.
type Role string

const (
	// RoleCaller is the synthetic test caller driven by this system.
	RoleCaller Role = "test-caller"

	// RoleAgent is the remote conversational agent under test.
	RoleAgent Role = "remote-agent"
)

// Turn is one utterance. Turns are values; once appended to a [Log] they are
// never modified.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`

	// GoalID is the goal this caller utterance addresses. Empty for agent
	// turns and for untagged caller turns.
	GoalID string `json:"goalId,omitempty"`
}

// Sentinel errors returned by [Log].
var (
	// ErrEmptyText is returned when appending a turn with no text.
	ErrEmptyText = errors.New("transcript: empty turn text")

	// ErrOutOfOrder is returned when a turn's timestamp is not after the
	// previous turn's.
	ErrOutOfOrder = errors.New("transcript: timestamp not strictly increasing")

	// ErrInvalidRole is returned for roles other than RoleCaller and RoleAgent.
	ErrInvalidRole = errors.New("transcript: invalid role")
)

// Option configures a [Log].
type Option func(*Log)

// WithClock overrides the time source used by [Log.Append].
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

// Log is an append-only, timestamp-ordered list of turns. It is safe for
// concurrent use.
type Log struct {
	mu    sync.Mutex
	turns []Turn
	now   func() time.Time
}

// NewLog returns an empty log.
func NewLog(opts ...Option) *Log {
	l := &Log{now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Append records a new turn stamped with the current time. If the clock has
// not advanced past the previous turn (coarse clocks, back-to-back appends),
// the timestamp is bumped one nanosecond past it.
func (l *Log) Append(role Role, text, goalID string) (Turn, error) {
	if err := validate(role, text); err != nil {
		return Turn{}, err
	}
	text = strings.TrimSpace(text)

	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.now()
	if n := len(l.turns); n > 0 {
		if last := l.turns[n-1].Timestamp; !ts.After(last) {
			ts = last.Add(time.Nanosecond)
		}
	}
	t := Turn{Role: role, Text: text, Timestamp: ts}
	if role == RoleCaller {
		t.GoalID = goalID
	}
	l.turns = append(l.turns, t)
	return t, nil
}

// Add records a pre-stamped turn, e.g. one taken from a provider transcript.
// It fails with [ErrOutOfOrder] if t is not strictly after the last turn.
func (l *Log) Add(t Turn) error {
	if err := validate(t.Role, t.Text); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if n := len(l.turns); n > 0 && !t.Timestamp.After(l.turns[n-1].Timestamp) {
		return fmt.Errorf("%w: %s <= %s", ErrOutOfOrder,
			t.Timestamp.Format(time.RFC3339Nano), l.turns[n-1].Timestamp.Format(time.RFC3339Nano))
	}
	l.turns = append(l.turns, t)
	return nil
}

// Turns returns a copy of all turns in order.
func (l *Log) Turns() []Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Len returns the number of turns.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.turns)
}

// Last returns the most recent turn, if any.
func (l *Log) Last() (Turn, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.turns) == 0 {
		return Turn{}, false
	}
	return l.turns[len(l.turns)-1], true
}

// LastOf returns the most recent turn by role, if any.
func (l *Log) LastOf(role Role) (Turn, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.turns) - 1; i >= 0; i-- {
		if l.turns[i].Role == role {
			return l.turns[i], true
		}
	}
	return Turn{}, false
}

// Count returns how many turns role produced.
func (l *Log) Count(role Role) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return countRole(l.turns, role)
}

func countRole(turns []Turn, role Role) int {
	n := 0
	for _, t := range turns {
		if t.Role == role {
			n++
		}
	}
	return n
}

func validate(role Role, text string) error {
	if role != RoleCaller && role != RoleAgent {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	return nil
}

// Normalize turns a provider transcript into a valid turn sequence: turns
// with an invalid role or empty text are dropped, text is trimmed, and
// timestamps that do not advance are bumped one nanosecond past their
// predecessor. The input order is kept.
func Normalize(turns []Turn) []Turn {
	out := make([]Turn, 0, len(turns))
	for _, t := range turns {
		if validate(t.Role, t.Text) != nil {
			continue
		}
		t.Text = strings.TrimSpace(t.Text)
		if n := len(out); n > 0 && !t.Timestamp.After(out[n-1].Timestamp) {
			t.Timestamp = out[n-1].Timestamp.Add(time.Nanosecond)
		}
		out = append(out, t)
	}
	return out
}
