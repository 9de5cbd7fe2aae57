// Package mock provides scriptable test doubles for the transport interfaces.
//
// TurnConn replays a queue of replies, StreamConn plays back scripted agent
// fragments after every caller utterance, and CallConn returns a fixed
// outcome. All types record their calls and are safe for concurrent use.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voicecheck/pkg/audio"
	"github.com/MrWong99/voicecheck/pkg/transcript"
	"github.com/MrWong99/voicecheck/pkg/transport"
)

// Transport wraps conn in a transport.Transport whose Open returns conn, or
// err if non-nil.
func Transport(kind transport.Kind, name string, conn transport.Conn, err error) transport.Transport {
	return transport.Transport{
		Kind:      kind,
		Name:      name,
		Simulated: kind == transport.KindSimulated,
		Open: func(context.Context) (transport.Conn, error) {
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
	}
}

// ── TurnConn ──────────────────────────────────────────────────────────────────

// TurnConn is a mock transport.TurnConn.
type TurnConn struct {
	mu sync.Mutex

	// GreetingText is returned by Greeting.
	GreetingText string

	// Replies is a queue of replies. Each Send pops the first entry. Once
	// drained, Send returns an empty Reply.
	Replies []transport.Reply

	// SendErr, if non-nil, is returned by every Send.
	SendErr error

	// Delay is slept (respecting ctx) before each reply.
	Delay time.Duration

	// Sent records the text of every Send call in order.
	Sent []string

	closed int
}

var _ transport.TurnConn = (*TurnConn)(nil)

// TextReplies builds a reply queue from plain strings.
func TextReplies(texts ...string) []transport.Reply {
	out := make([]transport.Reply, len(texts))
	for i, t := range texts {
		out[i] = transport.Reply{Text: t}
	}
	return out
}

// Greeting returns GreetingText.
func (c *TurnConn) Greeting(context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.GreetingText, nil
}

// Send records text and returns the next reply.
func (c *TurnConn) Send(ctx context.Context, text string) (transport.Reply, error) {
	c.mu.Lock()
	if c.closed > 0 {
		c.mu.Unlock()
		return transport.Reply{}, transport.ErrClosed
	}
	c.Sent = append(c.Sent, text)
	delay := c.Delay
	if c.SendErr != nil {
		err := c.SendErr
		c.mu.Unlock()
		return transport.Reply{}, err
	}
	var r transport.Reply
	if len(c.Replies) > 0 {
		r = c.Replies[0]
		c.Replies = c.Replies[1:]
	}
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return transport.Reply{}, ctx.Err()
		}
	}
	return r, nil
}

// Close marks the connection closed.
func (c *TurnConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

// SentTexts returns a copy of Sent. Thread-safe.
func (c *TurnConn) SentTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.Sent))
	copy(out, c.Sent)
	return out
}

// Closed reports whether Close was called.
func (c *TurnConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed > 0
}

// ── StreamConn ────────────────────────────────────────────────────────────────

// StreamConn is a mock transport.StreamConn. Create it with NewStreamConn.
type StreamConn struct {
	// Greeting is emitted as agent fragments right after EventReady.
	Greeting []string

	// Responses holds, per caller utterance, the agent fragments emitted in
	// answer. Utterances beyond the list get no answer.
	Responses [][]string

	// FragmentGap is the delay between emitted fragments.
	FragmentGap time.Duration

	// AudioOnly emits each fragment as an EventAgentAudio of PCM silence
	// instead of EventAgentText, and reports AgentTranscripts=false.
	AudioOnly bool

	// EndAfter closes the event stream with EventEnded after that many
	// caller utterances. Zero disables.
	EndAfter int

	// SendErr, if non-nil, is returned by SendUtterance.
	SendErr error

	// StreamErr, if non-nil, is reported by Err once the stream is failed
	// with Fail.
	StreamErr error

	mu         sync.Mutex
	events     chan transport.Event
	sent       []string
	keepalives int
	closed     bool
	done       chan struct{}
	wg         sync.WaitGroup
	startOnce  sync.Once
}

var _ transport.StreamConn = (*StreamConn)(nil)

// mockFormat is the PCM format of mock audio.
var mockFormat = audio.Format{SampleRate: 16000, Channels: 1}

// NewStreamConn returns a StreamConn. Fields may be set before the first
// call to Events.
func NewStreamConn() *StreamConn {
	return &StreamConn{
		events: make(chan transport.Event, 256),
		done:   make(chan struct{}),
	}
}

// Events starts playback on first call and returns the event channel.
func (c *StreamConn) Events() <-chan transport.Event {
	c.startOnce.Do(func() {
		c.emit(transport.Event{Kind: transport.EventReady})
		c.play(c.Greeting)
	})
	return c.events
}

// SendUtterance records text and schedules the scripted response.
func (c *StreamConn) SendUtterance(ctx context.Context, text string) (audio.Segment, error) {
	if err := ctx.Err(); err != nil {
		return audio.Segment{}, err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return audio.Segment{}, transport.ErrClosed
	}
	if c.SendErr != nil {
		c.mu.Unlock()
		return audio.Segment{}, c.SendErr
	}
	c.sent = append(c.sent, text)
	n := len(c.sent)
	var frags []string
	if n <= len(c.Responses) {
		frags = c.Responses[n-1]
	}
	end := c.EndAfter > 0 && n >= c.EndAfter
	c.mu.Unlock()

	c.play(frags)
	if end {
		c.spawn(func() {
			c.sleep(c.FragmentGap * time.Duration(len(frags)+1))
			c.emit(transport.Event{Kind: transport.EventEnded})
		})
	}
	return silence(len(text)), nil
}

// Keepalive counts keepalive frames.
func (c *StreamConn) Keepalive(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	c.keepalives++
	return nil
}

// Capabilities implements transport.StreamConn.
func (c *StreamConn) Capabilities() transport.StreamCapabilities {
	return transport.StreamCapabilities{AgentTranscripts: !c.AudioOnly, Format: mockFormat}
}

// Err implements transport.StreamConn.
func (c *StreamConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.StreamErr
	}
	return nil
}

// Fail closes the event stream as if the remote side dropped the socket.
func (c *StreamConn) Fail(err error) {
	c.mu.Lock()
	c.StreamErr = err
	c.mu.Unlock()
	_ = c.Close()
}

// Close stops playback and closes the event channel.
func (c *StreamConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	c.wg.Wait()
	close(c.events)
	return nil
}

// Sent returns every utterance passed to SendUtterance. Thread-safe.
func (c *StreamConn) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	copy(out, c.sent)
	return out
}

// Keepalives returns the number of Keepalive calls. Thread-safe.
func (c *StreamConn) Keepalives() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keepalives
}

func (c *StreamConn) play(frags []string) {
	if len(frags) == 0 {
		return
	}
	c.spawn(func() {
		for _, f := range frags {
			if !c.sleep(c.FragmentGap) {
				return
			}
			if c.AudioOnly {
				c.emit(transport.Event{Kind: transport.EventAgentAudio, Audio: silence(len(f))})
			} else {
				c.emit(transport.Event{Kind: transport.EventAgentText, Text: f})
			}
		}
	})
}

// spawn runs fn in a tracked goroutine unless the connection is closed.
func (c *StreamConn) spawn(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func (c *StreamConn) sleep(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-c.done:
			return false
		default:
			return true
		}
	}
	select {
	case <-time.After(d):
		return true
	case <-c.done:
		return false
	}
}

func (c *StreamConn) emit(ev transport.Event) {
	ev.At = time.Now()
	select {
	case <-c.done:
	case c.events <- ev:
	}
}

// silence returns 10ms of mock-format PCM per character.
func silence(chars int) audio.Segment {
	return audio.Segment{
		Data:       make([]byte, chars*mockFormat.SampleRate/100*2),
		Encoding:   audio.EncodingPCM16,
		SampleRate: mockFormat.SampleRate,
		Channels:   mockFormat.Channels,
	}
}

// ── CallConn ──────────────────────────────────────────────────────────────────

// CallConn is a mock transport.CallConn.
type CallConn struct {
	mu sync.Mutex

	// Outcome is returned by Call. Its Local transcript is filled from the
	// script when empty.
	Outcome transport.CallOutcome

	// CallErr, if non-nil, is returned by Call.
	CallErr error

	// Scripts records every script passed to Call.
	Scripts []transport.CallScript

	closed bool
}

var _ transport.CallConn = (*CallConn)(nil)

// Call records script and returns Outcome.
func (c *CallConn) Call(ctx context.Context, script transport.CallScript) (transport.CallOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.CallOutcome{}, transport.ErrClosed
	}
	c.Scripts = append(c.Scripts, script)
	if c.CallErr != nil {
		return transport.CallOutcome{}, c.CallErr
	}
	if err := ctx.Err(); err != nil {
		return transport.CallOutcome{}, err
	}
	out := c.Outcome
	if len(out.Local) == 0 {
		at := time.Now()
		for i, st := range script.Turns {
			out.Local = append(out.Local, transcript.Turn{
				Role:      transcript.RoleCaller,
				Text:      st.Text,
				GoalID:    st.GoalID,
				Timestamp: at.Add(time.Duration(i) * time.Millisecond),
			})
		}
	}
	return out, nil
}

// Close marks the connection closed.
func (c *CallConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
