package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"deepgram"},
	"tts": {"elevenlabs", "openai"},
}

// KnownPlatforms lists the agent-hosting platforms with a built-in adapter.
var KnownPlatforms = []string{"elevenlabs", "retell", "vapi"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for _, group := range []struct {
		kind      string
		primary   ProviderEntry
		fallbacks []ProviderEntry
	}{
		{"llm", cfg.Providers.LLM, cfg.Providers.LLMFallbacks},
		{"stt", cfg.Providers.STT, cfg.Providers.STTFallbacks},
		{"tts", cfg.Providers.TTS, cfg.Providers.TTSFallbacks},
	} {
		for i, fb := range group.fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s_fallbacks[%d].name is required", group.kind, i))
				continue
			}
			validateProviderName(group.kind, fb.Name)
		}
		if len(group.fallbacks) > 0 && group.primary.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s_fallbacks requires providers.%s", group.kind, group.kind))
		}
	}

	// Platforms
	for _, id := range slices.Sorted(maps.Keys(cfg.Platforms)) {
		if !slices.Contains(KnownPlatforms, id) {
			slog.Warn("unknown platform id; it has no built-in adapter", "platform", id, "known", KnownPlatforms)
		}
		if cfg.Platforms[id].APIKey == "" {
			errs = append(errs, fmt.Errorf("platforms.%s.api_key is required", id))
		}
	}
	if len(cfg.Platforms) == 0 {
		slog.Warn("no platforms configured; batches can only run over the phone bridge")
	}

	// Telephony
	tw := cfg.Telephony.Twilio
	if (tw.AccountSID != "" || tw.AuthToken != "" || tw.FromNumber != "") && !tw.Enabled() {
		errs = append(errs, errors.New("telephony.twilio needs account_sid, auth_token and from_number together"))
	}
	errs = append(errs, nonNegative("telephony.twilio",
		named{"poll_interval", tw.PollInterval},
		named{"settle_delay", tw.SettleDelay},
		named{"call_timeout", tw.CallTimeout},
		named{"greeting_pause", tw.GreetingPause},
	)...)

	// Executor
	ex := cfg.Executor
	errs = append(errs, nonNegative("executor",
		named{"settle_delay", ex.SettleDelay},
		named{"greeting_delay", ex.GreetingDelay},
		named{"response_timeout", ex.ResponseTimeout},
		named{"session_timeout", ex.SessionTimeout},
		named{"close_grace", ex.CloseGrace},
		named{"keepalive_interval", ex.KeepaliveInterval},
		named{"call_pause", ex.CallPause},
	)...)
	for _, n := range []struct {
		field string
		v     int
	}{
		{"min_turns", ex.MinTurns},
		{"turns_per_goal", ex.TurnsPerGoal},
		{"voice_turn_cap", ex.VoiceTurnCap},
		{"chat_turn_cap", ex.ChatTurnCap},
		{"max_turns", ex.MaxTurns},
		{"min_local_turns", ex.MinLocalTurns},
	} {
		if n.v < 0 {
			errs = append(errs, fmt.Errorf("executor.%s %d must not be negative", n.field, n.v))
		}
	}
	if ex.MaxTurns == 1 {
		errs = append(errs, errors.New("executor.max_turns 1 leaves no room for an exchange"))
	}
	if ex.SessionTimeout > 0 && ex.ResponseTimeout > ex.SessionTimeout {
		slog.Warn("executor.response_timeout exceeds session_timeout; silent agents end by session timeout",
			"response_timeout", ex.ResponseTimeout, "session_timeout", ex.SessionTimeout)
	}

	// Caller
	if cfg.Caller.Mode != "" && !cfg.Caller.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("caller.mode %q is invalid; valid values: llm, scripted", cfg.Caller.Mode))
	}
	if cfg.Caller.Mode == CallerLLM && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("caller.mode llm requires providers.llm"))
	}
	if cfg.Caller.Temperature < 0 || cfg.Caller.Temperature > 2 {
		errs = append(errs, fmt.Errorf("caller.temperature %.2f is out of range [0, 2]", cfg.Caller.Temperature))
	}
	if cfg.Providers.TTS.Name != "" && cfg.Caller.VoiceID == "" {
		slog.Warn("providers.tts is configured but caller.voice_id is empty; the provider default voice is used")
	}

	// Analyzer
	if cfg.Analyzer.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("analyzer.concurrency %d must not be negative", cfg.Analyzer.Concurrency))
	}
	if cfg.Analyzer.MinMatch < 0 || cfg.Analyzer.MinMatch > 1 {
		errs = append(errs, fmt.Errorf("analyzer.min_match %.2f is out of range [0, 1]", cfg.Analyzer.MinMatch))
	}
	if !cfg.Analyzer.Disabled && cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; goals will be reported by coverage only")
	}

	return errors.Join(errs...)
}

type named struct {
	field string
	d     time.Duration
}

func nonNegative(prefix string, fields ...named) []error {
	var errs []error
	for _, f := range fields {
		if f.d < 0 {
			errs = append(errs, fmt.Errorf("%s.%s %s must not be negative", prefix, f.field, f.d))
		}
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
