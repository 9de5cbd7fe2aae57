// Package vapi integrates the VAPI platform: the text Chat API for turn-based
// conversations, assistant lookup, and post-call transcripts.
//
// VAPI's browser voice channel runs over WebRTC rooms, so no streaming voice
// connection is offered; voice coverage for VAPI agents goes through the
// phone bridge instead.
package vapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voicecheck/pkg/platform"
	"github.com/MrWong99/voicecheck/pkg/transcript"
	"github.com/MrWong99/voicecheck/pkg/transport"
)

// ID is the registry id of this platform.
const ID = "vapi"

const defaultBaseURL = "https://api.vapi.ai"

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client talks to one VAPI organisation.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// New creates a Client authenticated with the private apiKey.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Platform returns the registry descriptor.
func (c *Client) Platform() platform.Platform {
	return platform.Platform{
		ID:                  ID,
		Chat:                c.OpenChat,
		FetchConfig:         c.FetchConfig,
		FetchCallTranscript: c.FetchCallTranscript,
	}
}

func (c *Client) rest() *platform.JSONClient {
	return &platform.JSONClient{
		BaseURL: c.baseURL,
		Header:  http.Header{"Authorization": {"Bearer " + c.apiKey}},
		HTTP:    c.http,
	}
}

// ── Chat ──────────────────────────────────────────────────────────────────────

type chatRequest struct {
	AssistantID    string `json:"assistantId"`
	Input          string `json:"input"`
	PreviousChatID string `json:"previousChatId,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID     string        `json:"id"`
	Output []chatMessage `json:"output"`
}

var _ transport.TurnConn = (*chatConn)(nil)

// chatConn threads consecutive messages into one chat via previousChatId.
type chatConn struct {
	client      *Client
	assistantID string

	mu     sync.Mutex
	chatID string
	closed bool
}

// OpenChat returns a chat connection to assistantID. No request is made
// until the first Send.
func (c *Client) OpenChat(_ context.Context, assistantID string) (transport.TurnConn, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("vapi: api key required for chat")
	}
	if assistantID == "" {
		return nil, fmt.Errorf("vapi: assistant id required for chat")
	}
	return &chatConn{client: c, assistantID: assistantID}, nil
}

// Greeting returns "": the Chat API only answers caller input.
func (ch *chatConn) Greeting(context.Context) (string, error) { return "", nil }

// Send posts one chat message. A response without assistant output yields an
// empty Reply rather than an error.
func (ch *chatConn) Send(ctx context.Context, text string) (transport.Reply, error) {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return transport.Reply{}, transport.ErrClosed
	}
	req := chatRequest{AssistantID: ch.assistantID, Input: text, PreviousChatID: ch.chatID}
	ch.mu.Unlock()

	var resp chatResponse
	if err := ch.client.rest().Do(ctx, http.MethodPost, "/chat", req, &resp); err != nil {
		return transport.Reply{}, fmt.Errorf("vapi: chat: %w", err)
	}

	ch.mu.Lock()
	if resp.ID != "" {
		ch.chatID = resp.ID
	}
	ch.mu.Unlock()

	var parts []string
	for _, m := range resp.Output {
		if m.Role == "assistant" && strings.TrimSpace(m.Content) != "" {
			parts = append(parts, strings.TrimSpace(m.Content))
		}
	}
	return transport.Reply{Text: strings.Join(parts, " ")}, nil
}

// Close marks the connection closed. VAPI chats need no teardown.
func (ch *chatConn) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.closed = true
	return nil
}

// ── Assistant config ──────────────────────────────────────────────────────────

type assistantResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	FirstMessage string `json:"firstMessage"`
	Model        struct {
		Messages []chatMessage `json:"messages"`
	} `json:"model"`
	Voice struct {
		VoiceID string `json:"voiceId"`
	} `json:"voice"`
	Transcriber struct {
		Language string `json:"language"`
	} `json:"transcriber"`
}

// FetchConfig retrieves the assistant's system prompt and first message.
func (c *Client) FetchConfig(ctx context.Context, assistantID string) (platform.AgentConfig, error) {
	var resp assistantResponse
	if err := c.rest().Do(ctx, http.MethodGet, "/assistant/"+url.PathEscape(assistantID), nil, &resp); err != nil {
		return platform.AgentConfig{}, fmt.Errorf("vapi: fetch assistant %s: %w", assistantID, err)
	}
	var prompts []string
	for _, m := range resp.Model.Messages {
		if m.Role == "system" {
			prompts = append(prompts, m.Content)
		}
	}
	return platform.AgentConfig{
		Name:         resp.Name,
		SystemPrompt: strings.Join(prompts, "\n\n"),
		FirstMessage: resp.FirstMessage,
		Language:     resp.Transcriber.Language,
		VoiceID:      resp.Voice.VoiceID,
	}, nil
}

// ── Call transcripts ──────────────────────────────────────────────────────────

type callMessage struct {
	Role             string  `json:"role"`
	Message          string  `json:"message"`
	SecondsFromStart float64 `json:"secondsFromStart"`
}

type callRecord struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	StartedAt time.Time `json:"startedAt"`
	Status    string    `json:"status"`
	Customer  struct {
		Number string `json:"number"`
	} `json:"customer"`
	Messages []callMessage `json:"messages"`
	Artifact struct {
		Messages []callMessage `json:"messages"`
	} `json:"artifact"`
}

// FetchCallTranscript returns the transcript of the earliest call to
// assistantID created at or after call.StartedAt. When call.From is set,
// only calls from that number are considered.
func (c *Client) FetchCallTranscript(ctx context.Context, assistantID string, call platform.CallRef) ([]transcript.Turn, error) {
	q := url.Values{}
	q.Set("assistantId", assistantID)
	q.Set("limit", "20")
	if !call.StartedAt.IsZero() {
		q.Set("createdAtGe", call.StartedAt.Add(-time.Minute).UTC().Format(time.RFC3339))
	}
	var calls []callRecord
	if err := c.rest().Do(ctx, http.MethodGet, "/call?"+q.Encode(), nil, &calls); err != nil {
		return nil, fmt.Errorf("vapi: list calls: %w", err)
	}

	var match *callRecord
	for i := range calls {
		rec := &calls[i]
		if call.From != "" && rec.Customer.Number != "" && rec.Customer.Number != call.From {
			continue
		}
		if match == nil || rec.CreatedAt.Before(match.CreatedAt) {
			match = rec
		}
	}
	if match == nil {
		return nil, nil
	}

	msgs := match.Messages
	if len(msgs) == 0 {
		msgs = match.Artifact.Messages
	}
	t0 := match.StartedAt
	if t0.IsZero() {
		t0 = match.CreatedAt
	}
	turns := make([]transcript.Turn, 0, len(msgs))
	for _, m := range msgs {
		var role transcript.Role
		switch m.Role {
		case "bot", "assistant":
			role = transcript.RoleAgent
		case "user":
			role = transcript.RoleCaller
		default:
			continue
		}
		turns = append(turns, transcript.Turn{
			Role:      role,
			Text:      m.Message,
			Timestamp: t0.Add(time.Duration(m.SecondsFromStart * float64(time.Second))),
		})
	}
	return transcript.Normalize(turns), nil
}
