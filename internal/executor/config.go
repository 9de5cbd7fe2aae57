package executor

import (
	"time"

	"github.com/MrWong99/voicecheck/internal/caller"
	"github.com/MrWong99/voicecheck/pkg/transcript"
	"github.com/MrWong99/voicecheck/pkg/transport"
)

// Config tunes the coordinator. Zero fields take the defaults listed on each
// field; the timing defaults are the values observed against production
// agents and are not derived from first principles.
type Config struct {
	// SettleDelay is how long a streaming agent must stay silent before its
	// turn counts as finished. Default: 1.5s.
	SettleDelay time.Duration

	// GreetingDelay is how long the caller waits for the agent to open the
	// conversation before speaking first. Default: 2s.
	GreetingDelay time.Duration

	// ResponseTimeout ends the session when the agent produces nothing for
	// this long after the caller spoke. Default: 30s.
	ResponseTimeout time.Duration

	// SessionTimeout is the hard ceiling of one session. Default: 5m.
	SessionTimeout time.Duration

	// CloseGrace bounds the goodbye exchange and the drain of in-flight
	// audio during closing. Default: 3s.
	CloseGrace time.Duration

	// KeepaliveInterval is the period of keepalive frames on streaming
	// transports. Default: 5s.
	KeepaliveInterval time.Duration

	// MinTurns is the floor of the turn ceiling. Default: 20.
	MinTurns int

	// TurnsPerGoal scales the turn ceiling with the number of goals.
	// Default: 4.
	TurnsPerGoal int

	// VoiceTurnCap caps the ceiling on streaming and phone transports.
	// Default: 60.
	VoiceTurnCap int

	// ChatTurnCap caps the ceiling on turn-based transports. Default: 40.
	ChatTurnCap int

	// MaxTurns, when positive, replaces the computed ceiling.
	MaxTurns int

	// MinLocalTurns is the locally observed phone transcript length below
	// which the provider's authoritative transcript wins. Default: 3.
	MinLocalTurns int

	// CallPause is the pause between scripted lines on phone calls.
	// Default: 4s.
	CallPause time.Duration

	// Goodbye is the caller's fixed closing line.
	Goodbye string
}

// DefaultConfig returns the configuration with every default applied.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	setDuration(&c.SettleDelay, 1500*time.Millisecond)
	setDuration(&c.GreetingDelay, 2*time.Second)
	setDuration(&c.ResponseTimeout, 30*time.Second)
	setDuration(&c.SessionTimeout, 5*time.Minute)
	setDuration(&c.CloseGrace, 3*time.Second)
	setDuration(&c.KeepaliveInterval, 5*time.Second)
	setDuration(&c.CallPause, 4*time.Second)
	setInt(&c.MinTurns, 20)
	setInt(&c.TurnsPerGoal, 4)
	setInt(&c.VoiceTurnCap, 60)
	setInt(&c.ChatTurnCap, 40)
	setInt(&c.MinLocalTurns, transcript.DefaultMinLocalTurns)
	if c.Goodbye == "" {
		c.Goodbye = caller.DefaultGoodbye
	}
	return c
}

// TurnCeiling returns the maximum transcript length for goals goals on a
// transport of kind k: max(MinTurns, TurnsPerGoal×goals), capped per
// transport family, unless MaxTurns overrides it.
func (c Config) TurnCeiling(goals int, k transport.Kind) int {
	c = c.withDefaults()
	if c.MaxTurns > 0 {
		return c.MaxTurns
	}
	ceiling := max(c.MinTurns, c.TurnsPerGoal*goals)
	limit := c.ChatTurnCap
	if k == transport.KindVoice || k == transport.KindPhone {
		limit = c.VoiceTurnCap
	}
	return min(ceiling, limit)
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

func setInt(n *int, def int) {
	if *n <= 0 {
		*n = def
	}
}
