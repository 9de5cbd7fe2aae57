package vapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voicecheck/pkg/platform"
	"github.com/MrWong99/voicecheck/pkg/transcript"
	"github.com/MrWong99/voicecheck/pkg/transport"
)

func TestChat_ThreadsPreviousChatID(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		reqs []chatRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat" || r.Method != http.MethodPost || r.Header.Get("Authorization") != "Bearer sk" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		reqs = append(reqs, req)
		n := len(reqs)
		mu.Unlock()

		switch n {
		case 1:
			_, _ = w.Write([]byte(`{"id":"chat-1","output":[{"role":"assistant","content":"You can return within 30 days."}]}`))
		case 2:
			// No assistant output.
			_, _ = w.Write([]byte(`{"id":"chat-2","output":[]}`))
		default:
			_, _ = w.Write([]byte(`{"id":"chat-3","output":[{"role":"tool","content":"x"},{"role":"assistant","content":"Bye!"}]}`))
		}
	}))
	defer srv.Close()

	c := New("sk", WithBaseURL(srv.URL))
	conn, err := c.OpenChat(context.Background(), "asst-1")
	if err != nil {
		t.Fatalf("OpenChat: %v", err)
	}
	greeting, _ := conn.Greeting(context.Background())
	if greeting != "" {
		t.Errorf("greeting = %q, want empty", greeting)
	}

	want := []string{"You can return within 30 days.", "", "Bye!"}
	for i, input := range []string{"What is your return policy?", "Hello?", "Goodbye"} {
		reply, err := conn.Send(context.Background(), input)
		if err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
		if reply.Text != want[i] {
			t.Errorf("reply %d = %q, want %q", i, reply.Text, want[i])
		}
	}

	mu.Lock()
	defer mu.Unlock()
	prev := []string{"", "chat-1", "chat-2"}
	for i, req := range reqs {
		if req.AssistantID != "asst-1" || req.PreviousChatID != prev[i] {
			t.Errorf("request %d = %+v, want previousChatId %q", i, req, prev[i])
		}
	}

	_ = conn.Close()
	if _, err := conn.Send(context.Background(), "again"); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("err after close = %v, want ErrClosed", err)
	}
}

func TestChat_HTTPErrorAndValidation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := New("").OpenChat(context.Background(), "a"); err == nil {
		t.Error("expected error without api key")
	}
	if _, err := New("sk").OpenChat(context.Background(), ""); err == nil {
		t.Error("expected error without assistant id")
	}

	conn, _ := New("sk", WithBaseURL(srv.URL)).OpenChat(context.Background(), "a")
	_, err := conn.Send(context.Background(), "hi")
	var se *platform.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusInternalServerError {
		t.Errorf("err = %v, want 500 StatusError", err)
	}
}

func TestFetchConfig(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/assistant/asst-1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{
			"id":"asst-1","name":"Returns Desk","firstMessage":"Hi, returns desk here.",
			"model":{"messages":[{"role":"system","content":"You handle returns."},{"role":"user","content":"ignored"}]},
			"voice":{"voiceId":"jennifer"},
			"transcriber":{"language":"en"}
		}`))
	}))
	defer srv.Close()

	cfg, err := New("sk", WithBaseURL(srv.URL)).FetchConfig(context.Background(), "asst-1")
	if err != nil {
		t.Fatalf("FetchConfig: %v", err)
	}
	want := platform.AgentConfig{
		Name:         "Returns Desk",
		SystemPrompt: "You handle returns.",
		FirstMessage: "Hi, returns desk here.",
		Language:     "en",
		VoiceID:      "jennifer",
	}
	if cfg != want {
		t.Errorf("config = %+v, want %+v", cfg, want)
	}
}

func TestFetchCallTranscript(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/call" || r.URL.Query().Get("assistantId") != "asst-1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`[
			{"id":"other","createdAt":"2025-01-01T10:00:00Z","customer":{"number":"+15550000000"},
			 "messages":[{"role":"bot","message":"wrong call","secondsFromStart":0}]},
			{"id":"later","createdAt":"2025-01-01T10:05:00Z","customer":{"number":"+15551234567"},
			 "messages":[{"role":"bot","message":"later call","secondsFromStart":0}]},
			{"id":"ours","createdAt":"2025-01-01T10:01:00Z","startedAt":"2025-01-01T10:01:02Z","customer":{"number":"+15551234567"},
			 "artifact":{"messages":[
				{"role":"system","message":"prompt","secondsFromStart":0},
				{"role":"bot","message":"Hello, returns desk.","secondsFromStart":0.5},
				{"role":"user","message":"What is your return policy?","secondsFromStart":4.2},
				{"role":"bot","message":"Thirty days.","secondsFromStart":6}
			 ]}}
		]`))
	}))
	defer srv.Close()

	c := New("sk", WithBaseURL(srv.URL))
	turns, err := c.FetchCallTranscript(context.Background(), "asst-1", platform.CallRef{
		From:      "+15551234567",
		StartedAt: time.Date(2025, 1, 1, 10, 0, 30, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("FetchCallTranscript: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("got %d turns, want 3: %+v", len(turns), turns)
	}
	if turns[0].Role != transcript.RoleAgent || turns[1].Role != transcript.RoleCaller {
		t.Errorf("roles = %s, %s", turns[0].Role, turns[1].Role)
	}
	wantStart := time.Date(2025, 1, 1, 10, 1, 2, 500_000_000, time.UTC)
	if !turns[0].Timestamp.Equal(wantStart) {
		t.Errorf("first timestamp = %s, want %s", turns[0].Timestamp, wantStart)
	}
}

func TestFetchCallTranscript_NoCalls(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	turns, err := New("sk", WithBaseURL(srv.URL)).FetchCallTranscript(context.Background(), "a", platform.CallRef{})
	if err != nil || turns != nil {
		t.Errorf("got %v, %v; want nil, nil", turns, err)
	}
}

func TestPlatformDescriptor(t *testing.T) {
	t.Parallel()

	p := New("sk").Platform()
	if p.ID != ID || !p.HasChat() || p.HasVoice() {
		t.Errorf("descriptor = %+v", p)
	}
}
