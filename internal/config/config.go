// Package config provides the configuration schema, loader, and provider
// registry for voicecheck, plus the batch file format.
package config

import (
	"time"

	"github.com/MrWong99/voicecheck/internal/caller"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// CallerMode selects how the synthetic caller produces utterances.
type CallerMode string

const (
	// CallerLLM has the configured language model role-play the caller.
	CallerLLM CallerMode = "llm"

	// CallerScripted replays each goal's seed phrase verbatim.
	CallerScripted CallerMode = "scripted"
)

// IsValid reports whether m is a recognised caller mode.
func (m CallerMode) IsValid() bool {
	return m == CallerLLM || m == CallerScripted
}

// Config is the root configuration structure for voicecheck.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig             `yaml:"server"`
	Providers ProvidersConfig          `yaml:"providers"`
	Platforms map[string]PlatformEntry `yaml:"platforms"`
	Telephony TelephonyConfig          `yaml:"telephony"`
	Executor  ExecutorConfig           `yaml:"executor"`
	Caller    CallerConfig             `yaml:"caller"`
	Analyzer  AnalyzerConfig           `yaml:"analyzer"`
}

// ServerConfig holds process-wide settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr, when set, serves Prometheus metrics on /metrics at this
	// address (e.g. ":9090"). The -metrics-addr flag overrides it.
	MetricsAddr string `yaml:"metrics_addr"`
}

// ProvidersConfig declares which provider implementation to use for each
// collaborator. Each entry selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	// LLM plays the caller, the simulated agent, and the analyzer's judge.
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallbacks are tried in order when LLM fails.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	// TTS voices the caller on streaming voice transports.
	TTS ProviderEntry `yaml:"tts"`

	// TTSFallbacks are tried in order when TTS fails.
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`

	// STT transcribes agent audio on transports that send no transcripts.
	STT ProviderEntry `yaml:"stt"`

	// STTFallbacks are tried in order when STT fails.
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o", "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// PlatformEntry holds the credentials of one agent-hosting platform. The map
// key in [Config.Platforms] is the platform id ("elevenlabs", "vapi", "retell").
type PlatformEntry struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// TelephonyConfig configures the phone bridge. Phone transports are only
// planned when Twilio credentials are present.
type TelephonyConfig struct {
	Twilio TwilioConfig `yaml:"twilio"`
}

// TwilioConfig configures the Twilio phone bridge.
type TwilioConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`

	// FromNumber is the E.164 caller id calls are placed from.
	FromNumber string `yaml:"from_number"`

	// PollInterval is how often call status is polled. Default: 2s.
	PollInterval time.Duration `yaml:"poll_interval"`

	// SettleDelay is waited after a call completes before the platform's
	// transcript is fetched. Default: 5s.
	SettleDelay time.Duration `yaml:"settle_delay"`

	// CallTimeout bounds a whole call. Default: 5m.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// GreetingPause is the silence before the first scripted line. Default: 2s.
	GreetingPause time.Duration `yaml:"greeting_pause"`

	// Voice is the TwiML <Say> voice.
	Voice string `yaml:"voice"`
}

// Enabled reports whether the bridge has credentials.
func (t TwilioConfig) Enabled() bool {
	return t.AccountSID != "" && t.AuthToken != "" && t.FromNumber != ""
}

// ExecutorConfig holds the conversation timing knobs. Zero values take the
// executor's defaults.
type ExecutorConfig struct {
	SettleDelay       time.Duration `yaml:"settle_delay"`
	GreetingDelay     time.Duration `yaml:"greeting_delay"`
	ResponseTimeout   time.Duration `yaml:"response_timeout"`
	SessionTimeout    time.Duration `yaml:"session_timeout"`
	CloseGrace        time.Duration `yaml:"close_grace"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`

	MinTurns     int `yaml:"min_turns"`
	TurnsPerGoal int `yaml:"turns_per_goal"`
	VoiceTurnCap int `yaml:"voice_turn_cap"`
	ChatTurnCap  int `yaml:"chat_turn_cap"`

	// MaxTurns overrides the derived turn ceiling when positive.
	MaxTurns int `yaml:"max_turns"`

	// MinLocalTurns is the local transcript length below which a phone
	// provider's authoritative transcript is preferred.
	MinLocalTurns int `yaml:"min_local_turns"`

	CallPause time.Duration `yaml:"call_pause"`
	Goodbye   string        `yaml:"goodbye"`
}

// CallerConfig configures the synthetic caller.
type CallerConfig struct {
	// Mode is "llm" (default when an LLM is configured) or "scripted".
	Mode CallerMode `yaml:"mode"`

	// Persona fixes identity fields; empty ones are derived from Seed.
	Persona caller.Persona `yaml:"persona"`

	Seed        uint64  `yaml:"seed"`
	Temperature float64 `yaml:"temperature"`

	// VoiceID is the TTS voice the caller speaks with on streaming transports.
	VoiceID string `yaml:"voice_id"`
}

// AnalyzerConfig configures post-conversation grading.
type AnalyzerConfig struct {
	// Disabled skips LLM grading; per-goal results then report coverage only.
	Disabled bool `yaml:"disabled"`

	// Concurrency bounds parallel judge calls. Default: 4.
	Concurrency int `yaml:"concurrency"`

	// MinMatch is the similarity an untagged caller turn needs to count as
	// raising a goal. Default: 0.75.
	MinMatch float64 `yaml:"min_match"`
}
