package retell

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/voicecheck/pkg/platform"
	"github.com/MrWong99/voicecheck/pkg/transcript"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/get-agent/agent-llm":
			_, _ = w.Write([]byte(`{"agent_id":"agent-llm","agent_name":"Clinic","voice_id":"11labs-Adrian","language":"en-US",
				"response_engine":{"type":"retell-llm","llm_id":"llm-1"}}`))
		case "/get-agent/agent-custom":
			_, _ = w.Write([]byte(`{"agent_id":"agent-custom","agent_name":"Custom","response_engine":{"type":"custom-llm"}}`))
		case "/get-retell-llm/llm-1":
			_, _ = w.Write([]byte(`{"general_prompt":"You book clinic appointments.","begin_message":"Clinic, how can I help?"}`))
		case "/v2/list-calls":
			var req listCallsRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.FilterCriteria.AgentID) != 1 || req.FilterCriteria.StartTimestamp == nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`[
				{"call_id":"c2","start_timestamp":1735725700000,"from_number":"+15551234567",
				 "transcript_object":[{"role":"agent","content":"later","words":[{"start":0.1}]}]},
				{"call_id":"c1","start_timestamp":1735725600000,"from_number":"+15551234567",
				 "transcript_object":[
					{"role":"agent","content":"Clinic, how can I help?","words":[{"start":0.4}]},
					{"role":"user","content":"I need an appointment.","words":[{"start":3.1}]},
					{"role":"agent","content":"Sure.","words":[]}
				 ]}
			]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchConfig(t *testing.T) {
	t.Parallel()

	c := New("key", WithBaseURL(newServer(t).URL))

	cfg, err := c.FetchConfig(context.Background(), "agent-llm")
	if err != nil {
		t.Fatalf("FetchConfig: %v", err)
	}
	want := platform.AgentConfig{
		Name:         "Clinic",
		SystemPrompt: "You book clinic appointments.",
		FirstMessage: "Clinic, how can I help?",
		Language:     "en-US",
		VoiceID:      "11labs-Adrian",
	}
	if cfg != want {
		t.Errorf("config = %+v, want %+v", cfg, want)
	}

	cfg, err = c.FetchConfig(context.Background(), "agent-custom")
	if err != nil {
		t.Fatalf("FetchConfig(custom): %v", err)
	}
	if cfg.Name != "Custom" || cfg.SystemPrompt != "" {
		t.Errorf("custom config = %+v", cfg)
	}

	if _, err := New("wrong", WithBaseURL(c.baseURL)).FetchConfig(context.Background(), "agent-llm"); err == nil {
		t.Error("expected error for bad api key")
	}
}

func TestFetchCallTranscript(t *testing.T) {
	t.Parallel()

	c := New("key", WithBaseURL(newServer(t).URL))
	turns, err := c.FetchCallTranscript(context.Background(), "agent-llm", platform.CallRef{
		From:      "+15551234567",
		StartedAt: time.UnixMilli(1735725590000),
	})
	if err != nil {
		t.Fatalf("FetchCallTranscript: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("got %d turns, want 3", len(turns))
	}
	if turns[1].Role != transcript.RoleCaller || turns[1].Text != "I need an appointment." {
		t.Errorf("turn 1 = %+v", turns[1])
	}
	if want := time.UnixMilli(1735725600400); !turns[0].Timestamp.Equal(want) {
		t.Errorf("turn 0 timestamp = %s, want %s", turns[0].Timestamp, want)
	}
	// The last turn has no word timings and is bumped after its predecessor.
	if !turns[2].Timestamp.After(turns[1].Timestamp) {
		t.Error("timestamps not strictly increasing")
	}
}

func TestPlatformDescriptor(t *testing.T) {
	t.Parallel()

	p := New("key").Platform()
	if p.ID != ID || p.HasChat() || p.HasVoice() || p.FetchConfig == nil {
		t.Errorf("descriptor = %+v", p)
	}
}
