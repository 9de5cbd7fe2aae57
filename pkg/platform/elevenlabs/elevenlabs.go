// Package elevenlabs integrates the ElevenLabs Conversational AI platform.
//
// It provides a streaming voice connection over the ConvAI WebSocket, a text
// chat connection over the same socket in text-only mode, and REST lookups for
// the agent definition and for post-call conversation transcripts.
package elevenlabs

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/voicecheck/pkg/platform"
	"github.com/MrWong99/voicecheck/pkg/provider/tts"
	"github.com/MrWong99/voicecheck/pkg/transcript"
	"github.com/MrWong99/voicecheck/pkg/types"
)

// ID is the registry id of this platform.
const ID = "elevenlabs"

const (
	defaultBaseURL         = "https://api.elevenlabs.io"
	conversationPath       = "/v1/convai/conversation"
	agentPathFmt           = "/v1/convai/agents/%s"
	conversationsPath      = "/v1/convai/conversations"
	defaultTrailingSilence = 700 * time.Millisecond
	defaultReplySettle     = 400 * time.Millisecond
	defaultGreetingWait    = 4 * time.Second
	frameDuration          = 250 * time.Millisecond
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithBaseURL overrides the https base URL. The WebSocket URL is derived
// from it by swapping the scheme.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the HTTP client used for REST calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithSynthesizer enables streaming voice connections. Caller utterances are
// synthesised with p using voice before they are streamed to the agent.
func WithSynthesizer(p tts.Provider, voice types.VoiceProfile) Option {
	return func(c *Client) {
		c.tts = p
		c.voice = voice
	}
}

// WithTrailingSilence sets how much silence follows every caller utterance
// so the agent's end-of-speech detection fires.
func WithTrailingSilence(d time.Duration) Option {
	return func(c *Client) { c.trailingSilence = d }
}

// WithReplySettle sets how long a chat connection waits for further agent
// messages after the first one before returning the reply.
func WithReplySettle(d time.Duration) Option {
	return func(c *Client) { c.replySettle = d }
}

// WithGreetingWait bounds how long a chat connection waits for the agent's
// first message.
func WithGreetingWait(d time.Duration) Option {
	return func(c *Client) { c.greetingWait = d }
}

// Client talks to one ElevenLabs account.
type Client struct {
	apiKey          string
	baseURL         string
	http            *http.Client
	tts             tts.Provider
	voice           types.VoiceProfile
	trailingSilence time.Duration
	replySettle     time.Duration
	greetingWait    time.Duration
}

// New creates a Client. apiKey may be empty for public agents; REST lookups
// then fail with 401.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:          apiKey,
		baseURL:         defaultBaseURL,
		http:            &http.Client{Timeout: 30 * time.Second},
		trailingSilence: defaultTrailingSilence,
		replySettle:     defaultReplySettle,
		greetingWait:    defaultGreetingWait,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Platform returns the registry descriptor. Voice is only set when a
// synthesizer was configured.
func (c *Client) Platform() platform.Platform {
	p := platform.Platform{
		ID:                  ID,
		FetchConfig:         c.FetchConfig,
		FetchCallTranscript: c.FetchCallTranscript,
	}
	p.Chat = c.OpenChat
	if c.tts != nil {
		p.Voice = c.OpenVoice
	}
	return p
}

func (c *Client) rest() *platform.JSONClient {
	return &platform.JSONClient{
		BaseURL: c.baseURL,
		Header:  http.Header{"Xi-Api-Key": {c.apiKey}},
		HTTP:    c.http,
	}
}

// socketURL builds the ConvAI WebSocket URL for agentID.
func (c *Client) socketURL(agentID string) string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + conversationPath + "?agent_id=" + url.QueryEscape(agentID)
}

// ── Agent config ──────────────────────────────────────────────────────────────

type agentResponse struct {
	AgentID            string `json:"agent_id"`
	Name               string `json:"name"`
	ConversationConfig struct {
		Agent struct {
			FirstMessage string `json:"first_message"`
			Language     string `json:"language"`
			Prompt       struct {
				Prompt string `json:"prompt"`
			} `json:"prompt"`
		} `json:"agent"`
		TTS struct {
			VoiceID string `json:"voice_id"`
		} `json:"tts"`
	} `json:"conversation_config"`
}

// FetchConfig retrieves the agent's prompt, first message and voice.
func (c *Client) FetchConfig(ctx context.Context, agentID string) (platform.AgentConfig, error) {
	var resp agentResponse
	if err := c.rest().Do(ctx, http.MethodGet, fmt.Sprintf(agentPathFmt, url.PathEscape(agentID)), nil, &resp); err != nil {
		return platform.AgentConfig{}, fmt.Errorf("elevenlabs: fetch agent %s: %w", agentID, err)
	}
	a := resp.ConversationConfig.Agent
	return platform.AgentConfig{
		Name:         resp.Name,
		SystemPrompt: a.Prompt.Prompt,
		FirstMessage: a.FirstMessage,
		Language:     a.Language,
		VoiceID:      resp.ConversationConfig.TTS.VoiceID,
	}, nil
}

// ── Call transcripts ──────────────────────────────────────────────────────────

type conversationList struct {
	Conversations []struct {
		ConversationID   string `json:"conversation_id"`
		StartTimeUnixSec int64  `json:"start_time_unix_secs"`
		Status           string `json:"status"`
	} `json:"conversations"`
}

type conversationDetail struct {
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
	Transcript     []struct {
		Role           string  `json:"role"`
		Message        string  `json:"message"`
		TimeInCallSecs float64 `json:"time_in_call_secs"`
	} `json:"transcript"`
	Metadata struct {
		StartTimeUnixSec int64 `json:"start_time_unix_secs"`
	} `json:"metadata"`
}

// FetchCallTranscript returns the transcript of the earliest conversation
// with agentID that started at or after call.StartedAt.
func (c *Client) FetchCallTranscript(ctx context.Context, agentID string, call platform.CallRef) ([]transcript.Turn, error) {
	q := url.Values{}
	q.Set("agent_id", agentID)
	q.Set("page_size", "20")
	if !call.StartedAt.IsZero() {
		// Clock skew between us and the platform is common; look back a bit.
		q.Set("call_start_after_unix", strconv.FormatInt(call.StartedAt.Add(-time.Minute).Unix(), 10))
	}
	var list conversationList
	if err := c.rest().Do(ctx, http.MethodGet, conversationsPath+"?"+q.Encode(), nil, &list); err != nil {
		return nil, fmt.Errorf("elevenlabs: list conversations: %w", err)
	}

	var (
		id    string
		start int64
	)
	for _, conv := range list.Conversations {
		if id == "" || conv.StartTimeUnixSec < start {
			id, start = conv.ConversationID, conv.StartTimeUnixSec
		}
	}
	if id == "" {
		return nil, nil
	}

	var detail conversationDetail
	if err := c.rest().Do(ctx, http.MethodGet, conversationsPath+"/"+url.PathEscape(id), nil, &detail); err != nil {
		return nil, fmt.Errorf("elevenlabs: fetch conversation %s: %w", id, err)
	}
	t0 := time.Unix(detail.Metadata.StartTimeUnixSec, 0)
	if detail.Metadata.StartTimeUnixSec == 0 {
		t0 = call.StartedAt
	}
	turns := make([]transcript.Turn, 0, len(detail.Transcript))
	for _, e := range detail.Transcript {
		role := transcript.RoleAgent
		if e.Role == "user" {
			role = transcript.RoleCaller
		}
		turns = append(turns, transcript.Turn{
			Role:      role,
			Text:      e.Message,
			Timestamp: t0.Add(time.Duration(e.TimeInCallSecs * float64(time.Second))),
		})
	}
	return transcript.Normalize(turns), nil
}
