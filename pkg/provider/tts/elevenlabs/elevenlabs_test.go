package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voicecheck/pkg/audio"
	"github.com/MrWong99/voicecheck/pkg/types"
)

// startServer launches a test server that upgrades every request to a
// WebSocket and hands the conn to handler.
func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readText(ctx context.Context, conn *websocket.Conn) (map[string]any, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	return m, json.Unmarshal(data, &m)
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) {
	data, _ := json.Marshal(v)
	_ = conn.Write(ctx, websocket.MessageText, data)
}

func TestSynthesize_CollectsAudioUntilFinal(t *testing.T) {
	t.Parallel()

	type seen struct {
		path   string
		format string
		msgs   []map[string]any
	}
	got := make(chan seen, 1)

	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		s := seen{path: r.URL.Path, format: r.URL.Query().Get("output_format")}
		for range 3 {
			m, err := readText(ctx, conn)
			if err != nil {
				break
			}
			s.msgs = append(s.msgs, m)
		}
		got <- s
		writeJSON(ctx, conn, map[string]any{"audio": base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4})})
		writeJSON(ctx, conn, map[string]any{"audio": base64.StdEncoding.EncodeToString([]byte{5, 6})})
		writeJSON(ctx, conn, map[string]any{"isFinal": true})
	})

	p, err := New("xi-key", WithAPIBase(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	seg, err := p.Synthesize(context.Background(), "Hello there", types.VoiceProfile{ID: "voice-1"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(seg.Data) != string([]byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("Data = %v", seg.Data)
	}
	if seg.Encoding != audio.EncodingPCM16 || seg.SampleRate != 16000 || seg.Channels != 1 {
		t.Errorf("format = %s %dHz %dch", seg.Encoding, seg.SampleRate, seg.Channels)
	}

	s := <-got
	if s.path != "/v1/text-to-speech/voice-1/stream-input" {
		t.Errorf("path = %q", s.path)
	}
	if s.format != "pcm_16000" {
		t.Errorf("output_format = %q", s.format)
	}
	if len(s.msgs) != 3 {
		t.Fatalf("expected BOI, text and flush, got %d messages", len(s.msgs))
	}
	if s.msgs[0]["xi_api_key"] != "xi-key" {
		t.Errorf("BOI xi_api_key = %v", s.msgs[0]["xi_api_key"])
	}
	if s.msgs[1]["text"] != "Hello there " {
		t.Errorf("text = %q", s.msgs[1]["text"])
	}
	if s.msgs[2]["text"] != "" {
		t.Errorf("flush text = %q, want empty", s.msgs[2]["text"])
	}
}

func TestSynthesize_ProviderError(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		for range 3 {
			if _, err := readText(ctx, conn); err != nil {
				return
			}
		}
		writeJSON(ctx, conn, map[string]any{"error": "quota_exceeded"})
	})

	p, _ := New("xi-key", WithAPIBase(srv.URL))
	_, err := p.Synthesize(context.Background(), "Hi", types.VoiceProfile{ID: "v"})
	if err == nil || !strings.Contains(err.Error(), "quota_exceeded") {
		t.Errorf("err = %v, want quota_exceeded", err)
	}
}

func TestSynthesize_Validation(t *testing.T) {
	t.Parallel()

	p, _ := New("key")
	if _, err := p.Synthesize(context.Background(), "hi", types.VoiceProfile{}); err == nil {
		t.Error("expected error for empty voice ID")
	}
	if _, err := p.Synthesize(context.Background(), "  ", types.VoiceProfile{ID: "v"}); err == nil {
		t.Error("expected error for empty text")
	}
}

func TestListVoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"voices":[
			{"voice_id":"abc123","name":"Rachel","category":"premade","labels":{"gender":"female"}},
			{"voice_id":"x1","name":"Ghost","category":"","labels":null}
		]}`))
	}))
	defer srv.Close()

	p, _ := New("key", WithAPIBase(srv.URL))
	profiles, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
	if profiles[0].ID != "abc123" || profiles[0].Provider != "elevenlabs" {
		t.Errorf("profile[0] = %+v", profiles[0])
	}
	if profiles[0].Metadata["category"] != "premade" || profiles[0].Metadata["gender"] != "female" {
		t.Errorf("profile[0] metadata = %v", profiles[0].Metadata)
	}
	if _, ok := profiles[1].Metadata["category"]; ok {
		t.Error("expected no 'category' key in metadata when category is empty")
	}
}

func TestStreamURL(t *testing.T) {
	t.Parallel()

	p, _ := New("key", WithModel("eleven_multilingual_v2"))
	u := p.streamURL("voice-abc123")
	if !strings.HasPrefix(u, "wss://api.elevenlabs.io/v1/text-to-speech/voice-abc123/stream-input") {
		t.Errorf("url = %s", u)
	}
	if !strings.Contains(u, "model_id=eleven_multilingual_v2") {
		t.Errorf("url should contain model id, got %s", u)
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
	for _, f := range []string{"opus_48000", "pcm", "pcm_x", "mp3_0_64"} {
		if _, err := New("key", WithOutputFormat(f)); err == nil {
			t.Errorf("%q: expected error for unsupported output format", f)
		}
	}
	p, err := New("key", WithOutputFormat("mp3_44100_128"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	seg := p.template
	if seg.Encoding != audio.EncodingMP3 || seg.SampleRate != 44100 {
		t.Errorf("segment format = %s %d", seg.Encoding, seg.SampleRate)
	}
}

func TestSettingsFor(t *testing.T) {
	t.Parallel()

	vs := settingsFor(types.VoiceProfile{SpeedFactor: 1.1})
	if vs.Stability != 0.5 || vs.SimilarityBoost != 0.75 || vs.Style != 0 || vs.Speed != 1.1 {
		t.Errorf("defaults = %+v", *vs)
	}

	vs = settingsFor(types.VoiceProfile{Metadata: map[string]string{
		"stability":        "0.2",
		"similarity_boost": "not a number",
		"style":            "0.4",
	}})
	if vs.Stability != 0.2 || vs.SimilarityBoost != 0.75 || vs.Style != 0.4 {
		t.Errorf("overrides = %+v", *vs)
	}
}
