// Package elevenlabs renders caller utterances with the ElevenLabs
// stream-input WebSocket API.
//
// Each [Provider.Synthesize] call opens its own socket, sends the whole
// utterance followed by a flush, and gathers the audio chunks into one
// [audio.Segment]. Voice settings can be tuned per persona through the
// voice's Metadata keys "stability", "similarity_boost" and "style".
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/voicecheck/pkg/audio"
	"github.com/MrWong99/voicecheck/pkg/provider/tts"
	"github.com/MrWong99/voicecheck/pkg/types"
)

const (
	defaultAPIBase      = "https://api.elevenlabs.io"
	defaultModel        = "eleven_flash_v2_5"
	defaultOutputFormat = "pcm_16000"

	// maxFrame bounds a single inbound JSON frame (base64 audio chunk).
	maxFrame = 4 << 20
)

var _ tts.Provider = (*Provider)(nil)

// Provider implements [tts.Provider].
type Provider struct {
	apiKey  string
	model   string
	format  string
	apiBase string
	hc      *http.Client

	// template carries the encoding and rate of every returned segment.
	template audio.Segment
}

// Option configures a [Provider].
type Option func(*Provider)

// WithModel sets the model ID, e.g. "eleven_multilingual_v2".
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithOutputFormat sets the output format. Supported are the PCM ("pcm_16000",
// "pcm_24000", ...) and MP3 ("mp3_44100_128", ...) families.
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.format = format }
}

// WithAPIBase overrides the https base URL. The WebSocket URL uses the
// matching ws scheme.
func WithAPIBase(base string) Option {
	return func(p *Provider) { p.apiBase = strings.TrimRight(base, "/") }
}

// WithHTTPClient sets the client used for the voices listing.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Provider) { p.hc = hc }
}

// New returns a provider for apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		format:  defaultOutputFormat,
		apiBase: defaultAPIBase,
		hc:      http.DefaultClient,
	}
	for _, o := range opts {
		o(p)
	}
	tmpl, err := segmentFormat(p.format)
	if err != nil {
		return nil, err
	}
	p.template = tmpl
	return p, nil
}

// ── Synthesis ────────────────────────────────────────────────────────────────

// outFrame is every frame the client sends. The first frame of a stream
// carries the key and voice settings; an empty Text flushes the stream.
type outFrame struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	APIKey        string         `json:"xi_api_key,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
	Speed           float64 `json:"speed,omitempty"`
}

// inFrame is a server frame. Audio is base64 encoded.
type inFrame struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error,omitempty"`
}

// Synthesize renders text with voice.ID.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (audio.Segment, error) {
	text = strings.TrimSpace(text)
	switch {
	case voice.ID == "":
		return audio.Segment{}, errors.New("elevenlabs: voice.ID must not be empty")
	case text == "":
		return audio.Segment{}, errors.New("elevenlabs: text must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(voice.ID), nil)
	if err != nil {
		return audio.Segment{}, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(maxFrame)

	frames := []outFrame{
		// The opening frame must not have empty text.
		{Text: " ", VoiceSettings: settingsFor(voice), APIKey: p.apiKey},
		// The trailing space ends the last word for the server's chunker.
		{Text: text + " "},
		{Text: ""},
	}
	for _, f := range frames {
		b, err := json.Marshal(f)
		if err != nil {
			return audio.Segment{}, fmt.Errorf("elevenlabs: encode frame: %w", err)
		}
		if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
			return audio.Segment{}, fmt.Errorf("elevenlabs: write: %w", err)
		}
	}

	data, err := collect(ctx, conn)
	if err != nil {
		return audio.Segment{}, err
	}
	seg := p.template
	seg.Data = data
	return seg, nil
}

// collect reads frames until the final marker or a normal close after some
// audio arrived.
func collect(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	var out []byte
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if len(out) > 0 && websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return out, nil
			}
			return nil, fmt.Errorf("elevenlabs: read: %w", err)
		}
		var f inFrame
		if json.Unmarshal(msg, &f) != nil {
			continue
		}
		if f.Error != "" {
			return nil, fmt.Errorf("elevenlabs: synthesis: %s", f.Error)
		}
		if f.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(f.Audio)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			out = append(out, chunk...)
		}
		if f.IsFinal {
			if len(out) == 0 {
				return nil, errors.New("elevenlabs: no audio received")
			}
			return out, nil
		}
	}
}

// settingsFor builds voice settings, overriding the defaults with numeric
// Metadata entries.
func settingsFor(voice types.VoiceProfile) *voiceSettings {
	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75, Speed: voice.SpeedFactor}
	for key, dst := range map[string]*float64{
		"stability":        &vs.Stability,
		"similarity_boost": &vs.SimilarityBoost,
		"style":            &vs.Style,
	} {
		if v, err := strconv.ParseFloat(voice.Metadata[key], 64); err == nil {
			*dst = v
		}
	}
	return vs
}

// streamURL returns the stream-input URL for voiceID.
func (p *Provider) streamURL(voiceID string) string {
	u, err := url.Parse(p.apiBase)
	if err != nil {
		u = &url.URL{Scheme: "https", Host: "api.elevenlabs.io"}
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input"
	u.RawQuery = url.Values{"model_id": {p.model}, "output_format": {p.format}}.Encode()
	return u.String()
}

// segmentFormat describes the audio an output format yields: "pcm_16000"
// or "mp3_44100_128".
func segmentFormat(format string) (audio.Segment, error) {
	family, rest, _ := strings.Cut(format, "_")
	rateStr, _, _ := strings.Cut(rest, "_")
	rate, err := strconv.Atoi(rateStr)
	if err != nil || rate <= 0 {
		return audio.Segment{}, fmt.Errorf("elevenlabs: unsupported output format %q", format)
	}
	seg := audio.Segment{SampleRate: rate, Channels: 1}
	switch family {
	case "pcm":
		seg.Encoding = audio.EncodingPCM16
	case "mp3":
		seg.Encoding = audio.EncodingMP3
	default:
		return audio.Segment{}, fmt.Errorf("elevenlabs: unsupported output format %q", format)
	}
	return seg, nil
}

// ── Voices ───────────────────────────────────────────────────────────────────

type voiceList struct {
	Voices []struct {
		ID       string            `json:"voice_id"`
		Name     string            `json:"name"`
		Category string            `json:"category"`
		Labels   map[string]string `json:"labels"`
	} `json:"voices"`
}

// ListVoices returns the voices the API key can use. Labels and category
// end up in Metadata.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: status %d", resp.StatusCode)
	}

	var list voiceList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: decode: %w", err)
	}
	out := make([]types.VoiceProfile, 0, len(list.Voices))
	for _, v := range list.Voices {
		meta := maps.Clone(v.Labels)
		if meta == nil {
			meta = make(map[string]string, 1)
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		out = append(out, types.VoiceProfile{ID: v.ID, Name: v.Name, Provider: "elevenlabs", Metadata: meta})
	}
	return out, nil
}
