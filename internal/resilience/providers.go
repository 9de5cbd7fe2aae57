package resilience

import (
	"context"

	"github.com/MrWong99/voicecheck/pkg/audio"
	"github.com/MrWong99/voicecheck/pkg/provider/llm"
	"github.com/MrWong99/voicecheck/pkg/provider/stt"
	"github.com/MrWong99/voicecheck/pkg/provider/tts"
	"github.com/MrWong99/voicecheck/pkg/types"
)

// ── LLM ───────────────────────────────────────────────────────────────────────

// LLMFallback is an [llm.Provider] that fails over across backends. The
// caller, the simulated agent and the analyzer all see it as one provider.
type LLMFallback struct {
	*FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// Complete returns the response of the first backend that answers. A
// request carrying a Seed is forwarded unchanged; fallbacks that ignore
// seeds make the run non-reproducible rather than failing it.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.FallbackGroup, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CountTokens asks the primary only. Token estimates gate prompt trimming
// and are not worth tripping breakers over.
func (f *LLMFallback) CountTokens(messages []types.Message) (int, error) {
	return f.Primary().CountTokens(messages)
}

// Capabilities reports the primary's capabilities.
func (f *LLMFallback) Capabilities() types.ModelCapabilities {
	return f.Primary().Capabilities()
}

// ── STT ───────────────────────────────────────────────────────────────────────

// STTFallback is an [stt.Provider] that fails over across backends.
type STTFallback struct {
	*FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// Transcribe returns the transcript of the first backend that succeeds. An
// empty transcript counts as success.
func (f *STTFallback) Transcribe(ctx context.Context, seg audio.Segment, cfg stt.Config) (types.Transcript, error) {
	return ExecuteWithResult(f.FallbackGroup, func(p stt.Provider) (types.Transcript, error) {
		return p.Transcribe(ctx, seg, cfg)
	})
}

// ── TTS ───────────────────────────────────────────────────────────────────────

// TTSFallback is a [tts.Provider] that fails over across backends.
type TTSFallback struct {
	*FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// Synthesize renders text with the first backend that succeeds. Voice ids
// are backend-specific; a fallback that does not know the id is expected to
// use its default voice.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (audio.Segment, error) {
	return ExecuteWithResult(f.FallbackGroup, func(p tts.Provider) (audio.Segment, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// ListVoices lists the voices of the first backend that answers.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	return ExecuteWithResult(f.FallbackGroup, func(p tts.Provider) ([]types.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}
