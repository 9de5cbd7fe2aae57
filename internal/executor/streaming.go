package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicecheck/pkg/audio"
	"github.com/MrWong99/voicecheck/pkg/provider/stt"
	"github.com/MrWong99/voicecheck/pkg/transport"
)

// streamRun drives a push-model conversation over a [transport.StreamConn].
//
// A pump goroutine buffers agent fragments and (re)triggers the settle
// [Debouncer]; the coordinator loop owns the session and processes a
// finished agent turn whenever the debouncer fires. A second goroutine sends
// keepalive frames for the life of the session.
type streamRun struct {
	*session

	conn transport.StreamConn
	caps transport.StreamCapabilities
	stt  stt.Provider
	rec  *audio.Recording

	debounce *Debouncer
	settled  chan struct{}
	activity chan struct{}

	ready     chan struct{}
	readyOnce sync.Once
	ended     chan struct{}
	endOnce   sync.Once

	mu           sync.Mutex
	pendingText  []string
	pendingAudio []audio.Segment

	// busy guards processAgentTurn against re-entry.
	busy atomic.Bool

	// Coordinator-only state.
	agentSpoke  bool
	callerSpoke bool
	retryCaller bool
	failures    int
}

func newStreamRun(s *session, conn transport.StreamConn, sttp stt.Provider) *streamRun {
	r := &streamRun{
		session:  s,
		conn:     conn,
		caps:     conn.Capabilities(),
		stt:      sttp,
		settled:  make(chan struct{}, 1),
		activity: make(chan struct{}, 1),
		ready:    make(chan struct{}),
		ended:    make(chan struct{}),
	}
	r.rec = audio.NewRecording(audio.EncodingWAV, r.caps.Format)
	r.debounce = NewDebouncer(s.cfg.SettleDelay, func() { notify(r.settled) })
	return r
}

// notify performs a non-blocking send on a one-slot signal channel.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// runStream drives conn to completion and returns the recorded audio.
func (s *session) runStream(ctx context.Context, conn transport.StreamConn, sttp stt.Provider) *audio.Recording {
	r := newStreamRun(s, conn, sttp)
	r.run(ctx)
	return r.rec
}

func (r *streamRun) run(ctx context.Context) {
	// Keepalives run until the connection closes, through the goodbye and
	// drain in finish.
	kaCtx, stopKeepalive := context.WithCancel(context.WithoutCancel(ctx))
	defer stopKeepalive()

	var g errgroup.Group
	events := r.conn.Events()
	g.Go(func() error { return r.pump(events) })
	g.Go(func() error { return r.keepalive(kaCtx) })

	if !r.caps.AgentTranscripts && r.stt == nil {
		r.close(ReasonTransportError, "agent sends audio only and no speech-to-text provider is configured")
	} else {
		r.coordinate(ctx)
	}

	r.finish(ctx)
	stopKeepalive()
	if err := r.conn.Close(); err != nil {
		r.log.Debug("executor: close connection", "err", err)
	}
	if err := g.Wait(); err != nil {
		r.log.Debug("executor: stream goroutines", "err", err)
	}
	r.to(StateTerminated)
}

// ── goroutines ────────────────────────────────────────────────────────────────

// pump consumes transport events until the stream closes.
func (r *streamRun) pump(events <-chan transport.Event) error {
	defer r.markEnded()
	for ev := range events {
		switch ev.Kind {
		case transport.EventReady:
			r.readyOnce.Do(func() { close(r.ready) })
		case transport.EventAgentText:
			text := strings.TrimSpace(ev.Text)
			if text == "" {
				continue
			}
			r.mu.Lock()
			r.pendingText = append(r.pendingText, text)
			r.mu.Unlock()
			r.fragment()
		case transport.EventAgentAudio:
			if len(ev.Audio.Data) == 0 {
				continue
			}
			r.mu.Lock()
			r.pendingAudio = append(r.pendingAudio, ev.Audio)
			r.mu.Unlock()
			r.fragment()
		case transport.EventInterrupted:
			r.debounce.Flush()
		case transport.EventEnded:
			r.markEnded()
			// Unblock the transport until it closes the channel.
			for range events {
			}
			return nil
		}
	}
	return nil
}

func (r *streamRun) fragment() {
	notify(r.activity)
	r.debounce.Trigger()
}

func (r *streamRun) markEnded() {
	r.endOnce.Do(func() { close(r.ended) })
}

func (r *streamRun) keepalive(ctx context.Context) error {
	t := time.NewTicker(r.cfg.KeepaliveInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := r.conn.Keepalive(ctx); err != nil && !errors.Is(err, transport.ErrClosed) && ctx.Err() == nil {
				r.log.Debug("executor: keepalive failed", "err", err)
			}
		}
	}
}

// ── coordinator ───────────────────────────────────────────────────────────────

// coordinate runs the turn loop until a close condition fires.
func (r *streamRun) coordinate(ctx context.Context) {
	watchdog := time.NewTimer(r.cfg.ResponseTimeout)
	defer watchdog.Stop()
	greeting := time.NewTimer(r.cfg.GreetingDelay)
	greeting.Stop()
	defer greeting.Stop()

	ready := r.ready
	for !r.complete() {
		select {
		case <-ctx.Done():
			r.closeFor(ctx)
		case <-r.ended:
			if err := r.conn.Err(); err != nil {
				r.close(ReasonTransportError, err.Error())
				continue
			}
			r.lastAgentTurn(ctx)
			r.close(ReasonAgentEnded, "")
		case <-ready:
			ready = nil
			if r.current() == StateIdle {
				r.to(StateAwaitingGreeting)
			}
			greeting.Reset(r.cfg.GreetingDelay)
			watchdog.Reset(r.cfg.ResponseTimeout)
		case <-greeting.C:
			if !r.agentSpoke && !r.callerSpoke && !r.hasPending() {
				r.to(StateCallerTurn)
				r.speak(ctx)
				watchdog.Reset(r.cfg.ResponseTimeout)
			}
		case <-r.settled:
			r.processAgentTurn(ctx)
			watchdog.Reset(r.cfg.ResponseTimeout)
		case <-r.activity:
			watchdog.Reset(r.cfg.ResponseTimeout)
		case <-watchdog.C:
			if r.hasPending() {
				r.processAgentTurn(ctx)
				watchdog.Reset(r.cfg.ResponseTimeout)
				continue
			}
			r.closeSilent()
		}
	}
}

// lastAgentTurn records what the agent said before it ended the stream.
// A finished exchange may still close the session gracefully for its own
// reason.
func (r *streamRun) lastAgentTurn(ctx context.Context) {
	text, _ := r.takeAgentTurn(ctx)
	if text == "" || !r.roomForAgent() {
		return
	}
	r.recordAgent(ctx, text)
	if r.callerSpoke {
		r.session.settle(text)
	}
}

// processAgentTurn finalizes the buffered agent turn and answers it. It is a
// no-op while another call is running, once the session is complete, or
// when nothing is pending.
func (r *streamRun) processAgentTurn(ctx context.Context) {
	if !r.busy.CompareAndSwap(false, true) {
		return
	}
	defer r.busy.Store(false)
	if r.complete() {
		return
	}

	if r.current() == StateIdle {
		r.to(StateAwaitingGreeting)
	}

	text, ok := r.takeAgentTurn(ctx)
	if !ok && !r.retryCaller {
		return
	}
	if text != "" {
		r.to(StateAgentTurn)
		r.recordAgent(ctx, text)
		r.agentSpoke = true
		if r.callerSpoke && r.session.settle(text) {
			return
		}
	}
	r.to(StateCallerTurn)
	r.speak(ctx)
}

// takeAgentTurn drains the pending fragments into one agent utterance.
// Audio is recorded; without agent transcripts it is transcribed. ok is
// false when nothing was pending.
func (r *streamRun) takeAgentTurn(ctx context.Context) (string, bool) {
	r.mu.Lock()
	texts, segs := r.pendingText, r.pendingAudio
	r.pendingText, r.pendingAudio = nil, nil
	r.mu.Unlock()
	if len(texts) == 0 && len(segs) == 0 {
		return "", false
	}

	for _, seg := range segs {
		if err := r.rec.Append(seg); err != nil {
			r.log.Warn("executor: agent audio not recorded", "err", err)
		}
	}
	text := strings.Join(texts, " ")
	if text == "" && len(segs) > 0 && !r.caps.AgentTranscripts {
		text = r.transcribe(ctx, segs)
	}
	return text, true
}

func (r *streamRun) transcribe(ctx context.Context, segs []audio.Segment) string {
	var pcm []byte
	seg := audio.Segment{Encoding: audio.EncodingPCM16, SampleRate: r.caps.Format.SampleRate, Channels: r.caps.Format.Channels}
	for _, s := range segs {
		p, err := s.PCM()
		if err != nil {
			r.log.Warn("executor: agent audio not transcribable", "err", err)
			continue
		}
		seg.SampleRate, seg.Channels = p.SampleRate, p.Channels
		pcm = append(pcm, p.Data...)
	}
	seg.Data = pcm

	start := time.Now()
	tr, err := r.stt.Transcribe(ctx, seg, stt.Config{})
	if r.metrics != nil {
		r.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		r.log.Warn("executor: transcribe agent turn", "err", err)
		return ""
	}
	return strings.TrimSpace(tr.Text)
}

// speak generates and sends the next caller utterance. A failed send is
// retried on the next coordinator tick.
func (r *streamRun) speak(ctx context.Context) {
	r.retryCaller = false
	u := r.next(ctx)
	if u == nil {
		return
	}

	seg, err := r.conn.SendUtterance(ctx, u.Text)
	if err != nil {
		if ctx.Err() != nil {
			r.closeFor(ctx)
			return
		}
		r.failures++
		r.log.Warn("executor: send utterance failed", "attempt", r.failures, "err", err)
		if r.failures >= maxSendFailures {
			r.close(ReasonTransportError, err.Error())
			return
		}
		r.retryCaller = true
		r.debounce.Trigger()
		return
	}
	r.failures = 0
	if err := r.rec.Append(seg); err != nil {
		r.log.Warn("executor: caller audio not recorded", "err", err)
	}
	r.recordCaller(ctx, u)
	r.callerSpoke = true
	r.to(StateAgentTurn)
}

func (r *streamRun) hasPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pendingText) > 0 || len(r.pendingAudio) > 0
}

// ── closing ───────────────────────────────────────────────────────────────────

// finish records what the agent said last, speaks the goodbye line and
// drains the agent's answer, all within the close grace.
func (r *streamRun) finish(ctx context.Context) {
	r.debounce.Stop()
	gctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.CloseGrace)
	defer cancel()

	if text, _ := r.takeAgentTurn(gctx); text != "" && r.roomForAgent() {
		r.recordAgent(ctx, text)
	}

	u, ok := r.farewell()
	if !ok {
		return
	}
	seg, err := r.conn.SendUtterance(gctx, u.Text)
	if err != nil {
		r.log.Debug("executor: goodbye not delivered", "err", err)
		return
	}
	if err := r.rec.Append(seg); err != nil {
		r.log.Warn("executor: caller audio not recorded", "err", err)
	}
	r.recordCaller(ctx, u)

	r.drain(gctx)
	if text, _ := r.takeAgentTurn(gctx); text != "" && r.roomForAgent() {
		r.recordAgent(ctx, text)
	}
}

// drain waits for the agent's reply to settle, the stream to end, or ctx.
func (r *streamRun) drain(ctx context.Context) {
	quiet := time.NewTimer(r.cfg.SettleDelay)
	defer quiet.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.ended:
			return
		case <-r.activity:
			quiet.Reset(r.cfg.SettleDelay)
		case <-quiet.C:
			if r.hasPending() {
				return
			}
			quiet.Reset(r.cfg.SettleDelay)
		}
	}
}
