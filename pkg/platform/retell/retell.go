// Package retell integrates Retell AI. Retell offers neither a text chat nor
// a public streaming endpoint suitable for a synthetic caller, so the
// descriptor only supports agent config lookup (for LLM simulation) and
// post-call transcripts (for the phone bridge).
package retell

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/voicecheck/pkg/platform"
	"github.com/MrWong99/voicecheck/pkg/transcript"
)

// ID is the registry id of this platform.
const ID = "retell"

const defaultBaseURL = "https://api.retellai.com"

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

// Client talks to one Retell workspace.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// New creates a Client.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
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

type agentResponse struct {
	AgentID        string `json:"agent_id"`
	AgentName      string `json:"agent_name"`
	VoiceID        string `json:"voice_id"`
	Language       string `json:"language"`
	ResponseEngine struct {
		Type  string `json:"type"`
		LLMID string `json:"llm_id"`
	} `json:"response_engine"`
}

type llmResponse struct {
	GeneralPrompt string `json:"general_prompt"`
	BeginMessage  string `json:"begin_message"`
}

// FetchConfig retrieves the agent and, for Retell-hosted LLM agents, the
// prompt and begin message of its response engine.
func (c *Client) FetchConfig(ctx context.Context, agentID string) (platform.AgentConfig, error) {
	var agent agentResponse
	if err := c.rest().Do(ctx, http.MethodGet, "/get-agent/"+url.PathEscape(agentID), nil, &agent); err != nil {
		return platform.AgentConfig{}, fmt.Errorf("retell: fetch agent %s: %w", agentID, err)
	}
	cfg := platform.AgentConfig{
		Name:     agent.AgentName,
		Language: agent.Language,
		VoiceID:  agent.VoiceID,
	}
	if agent.ResponseEngine.Type != "retell-llm" || agent.ResponseEngine.LLMID == "" {
		return cfg, nil
	}

	var llm llmResponse
	if err := c.rest().Do(ctx, http.MethodGet, "/get-retell-llm/"+url.PathEscape(agent.ResponseEngine.LLMID), nil, &llm); err != nil {
		return platform.AgentConfig{}, fmt.Errorf("retell: fetch llm %s: %w", agent.ResponseEngine.LLMID, err)
	}
	cfg.SystemPrompt = llm.GeneralPrompt
	cfg.FirstMessage = llm.BeginMessage
	return cfg, nil
}

type listCallsRequest struct {
	FilterCriteria filterCriteria `json:"filter_criteria"`
	SortOrder      string         `json:"sort_order"`
	Limit          int            `json:"limit"`
}

type filterCriteria struct {
	AgentID        []string   `json:"agent_id"`
	StartTimestamp *threshold `json:"start_timestamp,omitempty"`
}

type threshold struct {
	LowerThreshold int64 `json:"lower_threshold"`
}

type callRecord struct {
	CallID           string `json:"call_id"`
	StartTimestamp   int64  `json:"start_timestamp"`
	FromNumber       string `json:"from_number"`
	TranscriptObject []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
		Words   []struct {
			Start float64 `json:"start"`
		} `json:"words"`
	} `json:"transcript_object"`
}

// FetchCallTranscript returns the transcript of the earliest call to agentID
// that started at or after call.StartedAt (and came from call.From, when set).
func (c *Client) FetchCallTranscript(ctx context.Context, agentID string, call platform.CallRef) ([]transcript.Turn, error) {
	req := listCallsRequest{
		FilterCriteria: filterCriteria{AgentID: []string{agentID}},
		SortOrder:      "ascending",
		Limit:          20,
	}
	if !call.StartedAt.IsZero() {
		req.FilterCriteria.StartTimestamp = &threshold{LowerThreshold: call.StartedAt.Add(-time.Minute).UnixMilli()}
	}
	var calls []callRecord
	if err := c.rest().Do(ctx, http.MethodPost, "/v2/list-calls", req, &calls); err != nil {
		return nil, fmt.Errorf("retell: list calls: %w", err)
	}

	var match *callRecord
	for i := range calls {
		rec := &calls[i]
		if call.From != "" && rec.FromNumber != "" && rec.FromNumber != call.From {
			continue
		}
		if match == nil || rec.StartTimestamp < match.StartTimestamp {
			match = rec
		}
	}
	if match == nil {
		return nil, nil
	}

	t0 := time.UnixMilli(match.StartTimestamp)
	turns := make([]transcript.Turn, 0, len(match.TranscriptObject))
	for _, u := range match.TranscriptObject {
		role := transcript.RoleAgent
		if u.Role == "user" {
			role = transcript.RoleCaller
		}
		var offset time.Duration
		if len(u.Words) > 0 {
			offset = time.Duration(u.Words[0].Start * float64(time.Second))
		}
		turns = append(turns, transcript.Turn{Role: role, Text: u.Content, Timestamp: t0.Add(offset)})
	}
	return transcript.Normalize(turns), nil
}
