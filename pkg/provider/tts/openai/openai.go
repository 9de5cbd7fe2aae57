// Package openai provides a TTS provider backed by the OpenAI speech API.
//
// Audio is requested as WAV so that every synthesised utterance carries its
// own container header; the session recording merges them.
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/voicecheck/pkg/audio"
	"github.com/MrWong99/voicecheck/pkg/provider/tts"
	"github.com/MrWong99/voicecheck/pkg/types"
)

const defaultModel = "gpt-4o-mini-tts"

// builtinVoices lists the voices the speech endpoint accepts.
var builtinVoices = []string{"alloy", "ash", "ballad", "coral", "echo", "fable", "nova", "onyx", "sage", "shimmer", "verse"}

var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the OpenAI speech endpoint.
type Provider struct {
	client oai.Client
	model  string
}

type config struct {
	baseURL string
	model   string
	hc      *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel sets the speech model (e.g., "tts-1", "gpt-4o-mini-tts").
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithHTTPClient sets the HTTP client used for speech requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.hc = hc
	}
}

// New constructs a new OpenAI TTS Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty")
	}
	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.hc != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.hc))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: cfg.model}, nil
}

// Synthesize implements tts.Provider. voice.ID must be one of the built-in
// OpenAI voice names.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (audio.Segment, error) {
	if !slices.Contains(builtinVoices, voice.ID) {
		return audio.Segment{}, fmt.Errorf("openai tts: unknown voice %q", voice.ID)
	}
	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(voice.ID),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatWAV,
	}
	if voice.SpeedFactor > 0 {
		params.Speed = param.NewOpt(voice.SpeedFactor)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return audio.Segment{}, fmt.Errorf("openai tts: speech: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Segment{}, fmt.Errorf("openai tts: read body: %w", err)
	}
	info, err := audio.ParseWAV(data)
	if err != nil {
		return audio.Segment{}, fmt.Errorf("openai tts: %w", err)
	}
	return audio.Segment{
		Data:       data,
		Encoding:   audio.EncodingWAV,
		SampleRate: info.SampleRate,
		Channels:   info.Channels,
	}, nil
}

// ListVoices implements tts.Provider. The OpenAI voice catalogue is static.
func (p *Provider) ListVoices(_ context.Context) ([]types.VoiceProfile, error) {
	out := make([]types.VoiceProfile, 0, len(builtinVoices))
	for _, v := range builtinVoices {
		out = append(out, types.VoiceProfile{ID: v, Name: v, Provider: "openai"})
	}
	return out, nil
}
