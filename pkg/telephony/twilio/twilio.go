// Package twilio places scripted outbound phone calls to a remote agent
// through the Twilio REST API.
//
// The caller side of the conversation is rendered as TwiML (Gather and Say
// verbs) up front; the agent's side is only known afterwards, from the
// hosting platform's post-call transcript.
package twilio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	twilioclient "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"

	"github.com/MrWong99/voicecheck/pkg/platform"
	"github.com/MrWong99/voicecheck/pkg/transcript"
	"github.com/MrWong99/voicecheck/pkg/transport"
)

// Terminal call statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusBusy      = "busy"
	StatusNoAnswer  = "no-answer"
	StatusCanceled  = "canceled"

	// StatusTimeout is reported when the call outlived the call timeout and
	// was hung up by us.
	StatusTimeout = "timeout"
)

const (
	defaultPollInterval  = 2 * time.Second
	defaultSettleDelay   = 5 * time.Second
	defaultCallTimeout   = 5 * time.Minute
	defaultGreetingPause = 2 * time.Second
	defaultVoice         = "Polly.Joanna"
	defaultRetagScore    = 0.75
)

var errCallTimeout = errors.New("twilio: call timeout")

// callsAPI is the subset of the Twilio v2010 API used by the bridge.
// *openapi.ApiService satisfies it.
type callsAPI interface {
	FetchAccount(sid string) (*openapi.ApiV2010Account, error)
	CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error)
	FetchCall(sid string, params *openapi.FetchCallParams) (*openapi.ApiV2010Call, error)
	UpdateCall(sid string, params *openapi.UpdateCallParams) (*openapi.ApiV2010Call, error)
}

var _ callsAPI = (*openapi.ApiService)(nil)

// TranscriptFetcher retrieves the platform's transcript of a finished call.
type TranscriptFetcher func(ctx context.Context, call platform.CallRef) ([]transcript.Turn, error)

// Option is a functional option for configuring a Bridge.
type Option func(*Bridge)

// WithPollInterval sets how often the call status is polled. Non-positive
// durations keep the defaults, as do the other duration options.
func WithPollInterval(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.pollInterval = d
		}
	}
}

// WithSettleDelay sets the wait between call completion and the transcript
// fetch, giving the platform time to finalise its call record.
func WithSettleDelay(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.settleDelay = d
		}
	}
}

// WithCallTimeout bounds the total call duration.
func WithCallTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.callTimeout = d
		}
	}
}

// WithGreetingPause sets the silence before the first caller utterance, so
// the agent can finish its greeting.
func WithGreetingPause(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.greetingPause = d
		}
	}
}

// WithVoice sets the TwiML Say voice (e.g. "Polly.Matthew").
func WithVoice(v string) Option {
	return func(b *Bridge) {
		if v != "" {
			b.voice = v
		}
	}
}

// withAPI replaces the Twilio client. Used by tests.
func withAPI(api callsAPI) Option {
	return func(b *Bridge) { b.api = api }
}

// Bridge places calls from one Twilio number.
type Bridge struct {
	api           callsAPI
	accountSID    string
	from          string
	pollInterval  time.Duration
	settleDelay   time.Duration
	callTimeout   time.Duration
	greetingPause time.Duration
	voice         string
}

// New creates a Bridge for the given account, calling from the E.164 number
// from.
func New(accountSID, authToken, from string, opts ...Option) *Bridge {
	b := &Bridge{
		accountSID:    accountSID,
		from:          from,
		pollInterval:  defaultPollInterval,
		settleDelay:   defaultSettleDelay,
		callTimeout:   defaultCallTimeout,
		greetingPause: defaultGreetingPause,
		voice:         defaultVoice,
	}
	for _, o := range opts {
		o(b)
	}
	if b.api == nil {
		client := twilioclient.NewRestClientWithParams(twilioclient.ClientParams{
			Username: accountSID,
			Password: authToken,
		})
		b.api = client.Api
	}
	return b
}

// Transport returns a phone transport calling to. fetch may be nil when the
// agent's platform has no call transcripts; the outcome then only holds the
// local transcript.
func (b *Bridge) Transport(to string, fetch TranscriptFetcher) transport.Transport {
	return transport.Transport{
		Kind: transport.KindPhone,
		Name: "twilio-phone",
		Open: func(ctx context.Context) (transport.Conn, error) {
			if to == "" {
				return nil, errors.New("twilio: agent has no phone number")
			}
			if b.from == "" || b.accountSID == "" {
				return nil, errors.New("twilio: account sid and from number are required")
			}
			acct, err := b.api.FetchAccount(b.accountSID)
			if err != nil {
				return nil, fmt.Errorf("twilio: verify account: %w", err)
			}
			if acct.Status != nil && *acct.Status != "active" {
				return nil, fmt.Errorf("twilio: account status %q", *acct.Status)
			}
			return &callConn{bridge: b, to: to, fetch: fetch}, nil
		},
	}
}

var _ transport.CallConn = (*callConn)(nil)

type callConn struct {
	bridge *Bridge
	to     string
	fetch  TranscriptFetcher
	now    func() time.Time
}

func (c *callConn) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// Close is a no-op; a call in progress is hung up by Call itself when its
// context ends.
func (c *callConn) Close() error { return nil }

// Call places the call, waits for a terminal status, and fetches the
// authoritative transcript once the call completed.
func (c *callConn) Call(ctx context.Context, script transport.CallScript) (transport.CallOutcome, error) {
	b := c.bridge
	doc, err := BuildTwiML(script, b.greetingPause, b.voice)
	if err != nil {
		return transport.CallOutcome{}, err
	}

	params := &openapi.CreateCallParams{}
	params.SetTo(c.to)
	params.SetFrom(b.from)
	params.SetTwiml(doc)
	params.SetTimeLimit(int(math.Ceil(b.callTimeout.Seconds())))

	started := c.clock()
	call, err := b.api.CreateCall(params)
	if err != nil {
		return transport.CallOutcome{}, fmt.Errorf("twilio: create call: %w", err)
	}
	if call.Sid == nil {
		return transport.CallOutcome{}, errors.New("twilio: create call: no call sid returned")
	}
	sid := *call.Sid
	log := slog.With("call_sid", sid, "to", c.to)
	log.Info("twilio: call placed")

	out := transport.CallOutcome{CallID: sid, Local: localTranscript(script, started, b.greetingPause)}
	status, dur, err := c.await(ctx, sid)
	out.Status, out.Duration = status, dur
	if err != nil {
		return out, err
	}
	log.Info("twilio: call finished", "status", status, "duration", dur)
	if status != StatusCompleted || c.fetch == nil {
		return out, nil
	}

	select {
	case <-time.After(b.settleDelay):
	case <-ctx.Done():
		return out, ctx.Err()
	}
	turns, err := c.fetch(ctx, platform.CallRef{CallID: sid, From: b.from, To: c.to, StartedAt: started})
	if err != nil {
		// The local transcript still stands; the call itself succeeded.
		log.Warn("twilio: fetch call transcript failed", "err", err)
		return out, nil
	}
	out.Authoritative = Retag(turns, script.Turns, defaultRetagScore)
	return out, nil
}

// await polls the call until it reaches a terminal status. On timeout or
// cancellation the call is hung up.
func (c *callConn) await(ctx context.Context, sid string) (string, time.Duration, error) {
	b := c.bridge
	ctx, cancel := context.WithTimeoutCause(ctx, b.callTimeout+b.pollInterval, errCallTimeout)
	defer cancel()

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.hangUp(sid)
			if errors.Is(context.Cause(ctx), errCallTimeout) {
				return StatusTimeout, 0, nil
			}
			return StatusCanceled, 0, ctx.Err()
		case <-ticker.C:
		}

		call, err := b.api.FetchCall(sid, &openapi.FetchCallParams{})
		if err != nil {
			slog.Debug("twilio: poll call status failed", "call_sid", sid, "err", err)
			continue
		}
		if call.Status == nil {
			continue
		}
		switch *call.Status {
		case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled:
			return *call.Status, parseSeconds(call.Duration), nil
		}
	}
}

func (c *callConn) hangUp(sid string) {
	params := &openapi.UpdateCallParams{}
	params.SetStatus(StatusCompleted)
	if _, err := c.bridge.api.UpdateCall(sid, params); err != nil {
		slog.Warn("twilio: hang up failed", "call_sid", sid, "err", err)
	}
}

// BuildTwiML renders the caller script. Before every utterance a speech
// Gather listens until the agent's turn ends, so caller and agent alternate;
// its timeout (greetingPause for the greeting, script.PauseBetween after
// that) is how long a silent agent is waited for. A last Gather takes the
// agent's final reply before the hang-up.
//
// The Gather has no action URL. The call then continues with the next verb
// of the inline document once the agent stops talking or the timeout passes.
func BuildTwiML(script transport.CallScript, greetingPause time.Duration, voice string) (string, error) {
	if len(script.Turns) == 0 {
		return "", errors.New("twilio: empty call script")
	}
	verbs := make([]twiml.Element, 0, 2*len(script.Turns)+2)
	verbs = append(verbs, listen(greetingPause))
	for _, t := range script.Turns {
		verbs = append(verbs,
			&twiml.VoiceSay{Message: t.Text, Voice: voice},
			listen(script.PauseBetween),
		)
	}
	verbs = append(verbs, &twiml.VoiceHangup{})
	doc, err := twiml.Voice(verbs)
	if err != nil {
		return "", fmt.Errorf("twilio: render twiml: %w", err)
	}
	return doc, nil
}

// localTranscript estimates when each scripted utterance was spoken. Agent
// turns are unknown locally.
func localTranscript(script transport.CallScript, started time.Time, greetingPause time.Duration) []transcript.Turn {
	log := transcript.NewLog()
	at := started.Add(greetingPause)
	for _, t := range script.Turns {
		_ = log.Add(transcript.Turn{Role: transcript.RoleCaller, Text: t.Text, Timestamp: at, GoalID: t.GoalID})
		at = at.Add(script.PauseBetween + time.Second)
	}
	return log.Turns()
}

// listen waits for the agent to speak and finish. A silent agent is waited
// for at most timeout, rounded up to whole seconds.
func listen(timeout time.Duration) *twiml.VoiceGather {
	return &twiml.VoiceGather{
		Input:               "speech",
		SpeechTimeout:       "auto",
		Timeout:             strconv.Itoa(max(seconds(timeout), 1)),
		ActionOnEmptyResult: "false",
	}
}

func seconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

func parseSeconds(s *string) time.Duration {
	if s == nil {
		return 0
	}
	n, err := strconv.Atoi(*s)
	if err != nil {
		return 0
	}
	return time.Duration(n) * time.Second
}
