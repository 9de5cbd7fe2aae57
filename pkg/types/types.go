// Package types defines the shared types used across all voicecheck packages.
//
// These types form the lingua franca between providers, transports, the
// caller generator, and the executor. Each package defines its own domain
// types; cross-cutting data structures live here to avoid circular imports.
package types

import "time"

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name (for multi-speaker contexts).
	Name string
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsStreaming indicates the model supports streaming completions.
	SupportsStreaming bool
}

// VoiceProfile describes a TTS voice configuration for the synthetic caller.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// SpeedFactor adjusts speaking rate (0.5–2.0, 1.0 = default).
	SpeedFactor float64

	// Metadata holds provider-specific voice attributes (gender, age, accent, etc.).
	Metadata map[string]string
}

// Goal is one atomic conversational scenario the synthetic caller must elicit
// a response to. Goals are read-only inputs to a batch execution.
type Goal struct {
	// ID uniquely identifies the goal within a batch.
	ID string `yaml:"id" json:"id"`

	// Name is a short human-readable label.
	Name string `yaml:"name" json:"name"`

	// Scenario describes the situation the caller should act out.
	Scenario string `yaml:"scenario" json:"scenario"`

	// UserInput is the seed phrase the caller should use (or paraphrase) when
	// addressing this goal.
	UserInput string `yaml:"user_input" json:"userInput"`

	// ExpectedOutcome is what a correct agent response looks like.
	ExpectedOutcome string `yaml:"expected_outcome" json:"expectedOutcome"`

	// IsClosingGoal marks a goal that must be addressed last (e.g. a goodbye
	// or hang-up scenario).
	IsClosingGoal bool `yaml:"is_closing_goal" json:"isClosingGoal,omitempty"`
}

// Transcript represents a speech-to-text result from an STT provider.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the
	// provider does not report confidence.
	Confidence float64

	// Duration is the length of the transcribed audio.
	Duration time.Duration
}
