package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voicecheck/internal/config"
	"github.com/MrWong99/voicecheck/pkg/provider/llm"
	llmmock "github.com/MrWong99/voicecheck/pkg/provider/llm/mock"
	"github.com/MrWong99/voicecheck/pkg/provider/stt"
	sttmock "github.com/MrWong99/voicecheck/pkg/provider/stt/mock"
	"github.com/MrWong99/voicecheck/pkg/provider/tts"
)

const fullYAML = `
server:
  log_level: debug
  metrics_addr: ":9090"
providers:
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
  llm_fallbacks:
    - name: anthropic
      model: claude-haiku
  tts:
    name: elevenlabs
    api_key: el-test
    options:
      output_format: pcm_16000
  stt:
    name: deepgram
    api_key: dg-test
platforms:
  vapi:
    api_key: vapi-key
  elevenlabs:
    api_key: el-key
    base_url: https://api.eu.elevenlabs.io
telephony:
  twilio:
    account_sid: AC123
    auth_token: secret
    from_number: "+15550199"
    poll_interval: 1s
executor:
  settle_delay: 1500ms
  greeting_delay: 2s
  session_timeout: 4m
  max_turns: 16
  goodbye: Bye for now.
caller:
  mode: llm
  seed: 42
  temperature: 0.6
  voice_id: rachel
  persona:
    name: Dana Scully
    city: Annapolis
analyzer:
  concurrency: 2
  min_match: 0.8
`

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.LogLevel != config.LogDebug || cfg.Server.MetricsAddr != ":9090" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Providers.LLM.Model != "gpt-4o-mini" || len(cfg.Providers.LLMFallbacks) != 1 {
		t.Errorf("providers = %+v", cfg.Providers)
	}
	if got := cfg.Providers.TTS.Options["output_format"]; got != "pcm_16000" {
		t.Errorf("tts output_format = %v", got)
	}
	if cfg.Platforms["elevenlabs"].BaseURL != "https://api.eu.elevenlabs.io" {
		t.Errorf("platforms = %+v", cfg.Platforms)
	}
	if !cfg.Telephony.Twilio.Enabled() || cfg.Telephony.Twilio.PollInterval != time.Second {
		t.Errorf("twilio = %+v", cfg.Telephony.Twilio)
	}

	ex := cfg.Executor
	if ex.SettleDelay != 1500*time.Millisecond || ex.GreetingDelay != 2*time.Second ||
		ex.SessionTimeout != 4*time.Minute || ex.MaxTurns != 16 || ex.Goodbye != "Bye for now." {
		t.Errorf("executor = %+v", ex)
	}
	if ex.ResponseTimeout != 0 {
		t.Errorf("unset response_timeout = %s, want zero", ex.ResponseTimeout)
	}

	if cfg.Caller.Mode != config.CallerLLM || cfg.Caller.Seed != 42 || cfg.Caller.Persona.Name != "Dana Scully" {
		t.Errorf("caller = %+v", cfg.Caller)
	}
	if cfg.Analyzer.Concurrency != 2 || cfg.Analyzer.MinMatch != 0.8 {
		t.Errorf("analyzer = %+v", cfg.Analyzer)
	}
}

func TestLoadFromReader_Empty(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Telephony.Twilio.Enabled() {
		t.Error("empty config enables the phone bridge")
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("executor:\n  settle_dealy: 1s\n"))
	if err == nil || !strings.Contains(err.Error(), "settle_dealy") {
		t.Errorf("err = %v, want unknown field error", err)
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()

	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q reported invalid", l)
		}
	}
	if config.LogLevel("verbose").IsValid() {
		t.Error(`"verbose" reported valid`)
	}
}

// ── registry ──────────────────────────────────────────────────────────────────

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	var gotEntry config.ProviderEntry
	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		gotEntry = e
		return &llmmock.Provider{}, nil
	})
	reg.RegisterSTT("deepgram", func(config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{}, nil
	})
	reg.RegisterTTS("elevenlabs", func(config.ProviderEntry) (tts.Provider, error) {
		return nil, errors.New("missing api key")
	})

	entry := config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"}
	if p, err := reg.CreateLLM(entry); err != nil || p == nil {
		t.Fatalf("CreateLLM = %v, %v", p, err)
	}
	if gotEntry.Model != "gpt-4o-mini" {
		t.Errorf("factory got %+v", gotEntry)
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "deepgram"}); err != nil {
		t.Errorf("CreateSTT: %v", err)
	}
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "elevenlabs"}); err == nil || errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateTTS err = %v, want the factory error", err)
	}
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}

	reg.RegisterLLM("anthropic", func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
	if got := strings.Join(reg.Names("llm"), ","); got != "anthropic,openai" {
		t.Errorf("Names(llm) = %s", got)
	}
}
