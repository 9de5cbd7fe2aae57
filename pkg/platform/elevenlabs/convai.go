package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voicecheck/pkg/audio"
	"github.com/MrWong99/voicecheck/pkg/transport"
)

// Compile-time interface assertions.
var (
	_ transport.StreamConn = (*voiceConn)(nil)
	_ transport.TurnConn   = (*chatConn)(nil)
)

// defaultFormat is used until the server announces its audio formats.
var defaultFormat = audio.Format{SampleRate: 16000, Channels: 1}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type initiationMessage struct {
	Type     string          `json:"type"`
	Override *configOverride `json:"conversation_config_override,omitempty"`
}

type configOverride struct {
	Conversation conversationOverride `json:"conversation"`
}

type conversationOverride struct {
	TextOnly bool `json:"text_only"`
}

type audioChunkMessage struct {
	UserAudioChunk string `json:"user_audio_chunk"`
}

type userMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type pongMessage struct {
	Type    string `json:"type"`
	EventID int64  `json:"event_id"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	Metadata *struct {
		ConversationID         string `json:"conversation_id"`
		AgentOutputAudioFormat string `json:"agent_output_audio_format"`
		UserInputAudioFormat   string `json:"user_input_audio_format"`
	} `json:"conversation_initiation_metadata_event,omitempty"`

	Audio *struct {
		AudioBase64 string `json:"audio_base_64"`
		EventID     int64  `json:"event_id"`
	} `json:"audio_event,omitempty"`

	AgentResponse *struct {
		AgentResponse string `json:"agent_response"`
	} `json:"agent_response_event,omitempty"`

	Ping *struct {
		EventID int64 `json:"event_id"`
		PingMs  int   `json:"ping_ms"`
	} `json:"ping_event,omitempty"`
}

// ── session ───────────────────────────────────────────────────────────────────

// session owns one ConvAI WebSocket. Its receive loop translates server
// events into transport events and answers pings.
type session struct {
	conn   *websocket.Conn
	events chan transport.Event
	ready  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	errVal         error
	outFmt         audio.Format
	inFmt          audio.Format
	conversationID string

	readyOnce sync.Once
	loopDone  chan struct{}
	closeOnce sync.Once
}

func (c *Client) dial(ctx context.Context, agentID string, textOnly bool) (*session, error) {
	var header http.Header
	if c.apiKey != "" {
		header = http.Header{"Xi-Api-Key": {c.apiKey}}
	}
	conn, _, err := websocket.Dial(ctx, c.socketURL(agentID), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	conn.SetReadLimit(1 << 22)

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		conn:     conn,
		events:   make(chan transport.Event, 128),
		ready:    make(chan struct{}),
		ctx:      sessCtx,
		cancel:   cancel,
		outFmt:   defaultFormat,
		inFmt:    defaultFormat,
		loopDone: make(chan struct{}),
	}

	hello := initiationMessage{Type: "conversation_initiation_client_data"}
	if textOnly {
		hello.Override = &configOverride{Conversation: conversationOverride{TextOnly: true}}
	}
	if err := s.writeJSON(ctx, hello); err != nil {
		cancel()
		conn.Close(websocket.StatusInternalError, "init failed")
		return nil, fmt.Errorf("elevenlabs: send initiation: %w", err)
	}

	go s.receiveLoop()
	return s, nil
}

func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("elevenlabs: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// pong answers the ping eventID. The server drops a conversation whose pings
// go unanswered, so a failed write is worth a log line.
func (s *session) pong(eventID int64) {
	if err := s.writeJSON(s.ctx, pongMessage{Type: "pong", EventID: eventID}); err != nil {
		slog.Debug("elevenlabs: pong not sent", "event_id", eventID, "err", err)
	}
}

// receiveLoop reads frames until the socket closes. It owns events and closes
// it on exit.
func (s *session) receiveLoop() {
	defer close(s.loopDone)
	defer close(s.events)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			switch {
			case s.ctx.Err() != nil:
			case websocket.CloseStatus(err) == websocket.StatusNormalClosure:
				s.emit(transport.Event{Kind: transport.EventEnded})
			default:
				s.setErr(err)
			}
			return
		}

		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		s.handle(&ev)
	}
}

func (s *session) handle(ev *serverEvent) {
	switch ev.Type {
	case "conversation_initiation_metadata":
		if ev.Metadata != nil {
			s.mu.Lock()
			s.conversationID = ev.Metadata.ConversationID
			s.outFmt = parseFormat(ev.Metadata.AgentOutputAudioFormat)
			s.inFmt = parseFormat(ev.Metadata.UserInputAudioFormat)
			s.mu.Unlock()
			slog.Debug("elevenlabs: conversation started",
				"conversation_id", ev.Metadata.ConversationID,
				"output_format", ev.Metadata.AgentOutputAudioFormat,
			)
		}
		s.readyOnce.Do(func() { close(s.ready) })
		s.emit(transport.Event{Kind: transport.EventReady})

	case "ping":
		if ev.Ping == nil {
			return
		}
		if ev.Ping.PingMs > 0 {
			// The server asks for the pong to be delayed by ping_ms.
			id := ev.Ping.EventID
			time.AfterFunc(time.Duration(ev.Ping.PingMs)*time.Millisecond, func() { s.pong(id) })
			return
		}
		s.pong(ev.Ping.EventID)

	case "audio":
		if ev.Audio == nil {
			return
		}
		data, err := base64.StdEncoding.DecodeString(ev.Audio.AudioBase64)
		if err != nil || len(data) == 0 {
			return
		}
		f := s.format()
		s.emit(transport.Event{Kind: transport.EventAgentAudio, Audio: audio.Segment{
			Data:       data,
			Encoding:   audio.EncodingPCM16,
			SampleRate: f.SampleRate,
			Channels:   f.Channels,
		}})

	case "agent_response":
		if ev.AgentResponse != nil && strings.TrimSpace(ev.AgentResponse.AgentResponse) != "" {
			s.emit(transport.Event{Kind: transport.EventAgentText, Text: ev.AgentResponse.AgentResponse})
		}

	case "interruption":
		s.emit(transport.Event{Kind: transport.EventInterrupted})
	}
}

func (s *session) emit(ev transport.Event) {
	ev.At = time.Now()
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *session) format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outFmt
}

func (s *session) inputFormat() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFmt
}

func (s *session) isReady() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

// Err returns the error that ended the receive loop, if any.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close closes the socket and waits for the receive loop to exit.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.conn.Close(websocket.StatusNormalClosure, "session ended")
		<-s.loopDone
	})
	return nil
}

// parseFormat maps "pcm_16000" style format names onto a mono PCM format.
func parseFormat(name string) audio.Format {
	rate, ok := strings.CutPrefix(name, "pcm_")
	if !ok {
		if name != "" {
			slog.Warn("elevenlabs: unsupported audio format, assuming pcm_16000", "format", name)
		}
		return defaultFormat
	}
	n, err := strconv.Atoi(rate)
	if err != nil || n <= 0 {
		return defaultFormat
	}
	return audio.Format{SampleRate: n, Channels: 1}
}

// ── voice ─────────────────────────────────────────────────────────────────────

type voiceConn struct {
	*session
	client *Client
	sendMu sync.Mutex
}

// OpenVoice opens a streaming voice connection to agentID.
func (c *Client) OpenVoice(ctx context.Context, agentID string) (transport.StreamConn, error) {
	if c.tts == nil {
		return nil, errors.New("elevenlabs: voice requires a synthesizer")
	}
	s, err := c.dial(ctx, agentID, false)
	if err != nil {
		return nil, err
	}
	return &voiceConn{session: s, client: c}, nil
}

// Events returns the inbound event stream.
func (v *voiceConn) Events() <-chan transport.Event { return v.events }

// Capabilities reports that agent transcripts are delivered as text.
func (v *voiceConn) Capabilities() transport.StreamCapabilities {
	return transport.StreamCapabilities{AgentTranscripts: true, Format: v.format()}
}

// SendUtterance synthesises text, converts it to the server's input format,
// and streams it in frames followed by trailing silence.
func (v *voiceConn) SendUtterance(ctx context.Context, text string) (audio.Segment, error) {
	if !v.isReady() {
		return audio.Segment{}, transport.ErrNotReady
	}
	seg, err := v.client.tts.Synthesize(ctx, text, v.client.voice)
	if err != nil {
		return audio.Segment{}, fmt.Errorf("elevenlabs: synthesize: %w", err)
	}
	pcm, err := seg.PCM()
	if err != nil {
		return audio.Segment{}, fmt.Errorf("elevenlabs: synthesize: %w", err)
	}
	in := v.inputFormat()
	conv := audio.FormatConverter{Target: in}
	pcm = conv.Convert(pcm)
	if pcm.Data == nil {
		return audio.Segment{}, errors.New("elevenlabs: synthesized audio is not valid PCM16")
	}

	frame := in.SampleRate * in.Channels * 2 * int(frameDuration/time.Millisecond) / 1000
	silence := make([]byte, in.SampleRate*in.Channels*2*int(v.client.trailingSilence/time.Millisecond)/1000)

	v.sendMu.Lock()
	defer v.sendMu.Unlock()
	for _, buf := range [][]byte{pcm.Data, silence} {
		for off := 0; off < len(buf); off += frame {
			end := min(off+frame, len(buf))
			msg := audioChunkMessage{UserAudioChunk: base64.StdEncoding.EncodeToString(buf[off:end])}
			if err := v.writeJSON(ctx, msg); err != nil {
				return audio.Segment{}, fmt.Errorf("elevenlabs: send audio: %w", err)
			}
		}
	}
	return pcm, nil
}

// Keepalive sends a short silent chunk unless an utterance is streaming.
func (v *voiceConn) Keepalive(ctx context.Context) error {
	if !v.sendMu.TryLock() {
		return nil
	}
	defer v.sendMu.Unlock()
	in := v.inputFormat()
	silence := make([]byte, in.SampleRate*in.Channels*2/10)
	return v.writeJSON(ctx, audioChunkMessage{UserAudioChunk: base64.StdEncoding.EncodeToString(silence)})
}

// ── chat ──────────────────────────────────────────────────────────────────────

type chatConn struct {
	*session
	client *Client
}

// OpenChat opens a text-only conversation with agentID.
func (c *Client) OpenChat(ctx context.Context, agentID string) (transport.TurnConn, error) {
	s, err := c.dial(ctx, agentID, true)
	if err != nil {
		return nil, err
	}
	return &chatConn{session: s, client: c}, nil
}

// Greeting waits up to the greeting wait for the agent's first message.
func (ch *chatConn) Greeting(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ch.client.greetingWait)
	defer cancel()
	r, err := ch.collect(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return r.Text, nil
	}
	return r.Text, err
}

// Send delivers text as a user message and collects the agent's reply.
func (ch *chatConn) Send(ctx context.Context, text string) (transport.Reply, error) {
	if err := ch.writeJSON(ctx, userMessage{Type: "user_message", Text: text}); err != nil {
		if ch.ctx.Err() != nil {
			return transport.Reply{}, transport.ErrClosed
		}
		return transport.Reply{}, fmt.Errorf("elevenlabs: send message: %w", err)
	}
	return ch.collect(ctx)
}

// collect gathers agent_response text until replySettle passes without a
// new message, the conversation ends, or ctx is done.
func (ch *chatConn) collect(ctx context.Context) (transport.Reply, error) {
	var (
		parts  []string
		settle <-chan time.Time
	)
	for {
		select {
		case ev, ok := <-ch.events:
			if !ok {
				if err := ch.Err(); err != nil {
					return transport.Reply{Text: strings.Join(parts, " ")}, fmt.Errorf("elevenlabs: %w", err)
				}
				return transport.Reply{Text: strings.Join(parts, " "), Ended: true}, nil
			}
			switch ev.Kind {
			case transport.EventAgentText:
				parts = append(parts, strings.TrimSpace(ev.Text))
				settle = time.After(ch.client.replySettle)
			case transport.EventEnded:
				return transport.Reply{Text: strings.Join(parts, " "), Ended: true}, nil
			}
		case <-settle:
			return transport.Reply{Text: strings.Join(parts, " ")}, nil
		case <-ctx.Done():
			return transport.Reply{Text: strings.Join(parts, " ")}, ctx.Err()
		}
	}
}
