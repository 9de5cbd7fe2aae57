package twilio

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/MrWong99/voicecheck/pkg/platform"
	"github.com/MrWong99/voicecheck/pkg/transcript"
	"github.com/MrWong99/voicecheck/pkg/transport"
)

func ptr[T any](v T) *T { return &v }

// fakeAPI is a scriptable callsAPI.
type fakeAPI struct {
	mu sync.Mutex

	accountStatus string
	accountErr    error
	createErr     error

	// statuses is returned by successive FetchCall calls; the last entry
	// repeats.
	statuses []string
	duration string

	created []*openapi.CreateCallParams
	updated []string
	polls   int
}

func (f *fakeAPI) FetchAccount(sid string) (*openapi.ApiV2010Account, error) {
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	status := f.accountStatus
	if status == "" {
		status = "active"
	}
	return &openapi.ApiV2010Account{Sid: ptr(sid), Status: ptr(status)}, nil
}

func (f *fakeAPI) CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, params)
	return &openapi.ApiV2010Call{Sid: ptr("CA123"), Status: ptr("queued")}, nil
}

func (f *fakeAPI) FetchCall(sid string, _ *openapi.FetchCallParams) (*openapi.ApiV2010Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := min(f.polls, len(f.statuses)-1)
	f.polls++
	return &openapi.ApiV2010Call{Sid: ptr(sid), Status: ptr(f.statuses[i]), Duration: ptr(f.duration)}, nil
}

func (f *fakeAPI) UpdateCall(sid string, _ *openapi.UpdateCallParams) (*openapi.ApiV2010Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, sid)
	return &openapi.ApiV2010Call{Sid: ptr(sid), Status: ptr("completed")}, nil
}

var returnScript = transport.CallScript{
	Turns: []transport.ScriptTurn{
		{Text: "What is your return policy?", GoalID: "g1"},
		{Text: "Goodbye", GoalID: "g2"},
	},
	PauseBetween: 4 * time.Second,
}

func fastBridge(api callsAPI, opts ...Option) *Bridge {
	opts = append([]Option{
		withAPI(api),
		WithPollInterval(time.Millisecond),
		WithSettleDelay(time.Millisecond),
	}, opts...)
	return New("AC1", "token", "+15550001111", opts...)
}

func TestBuildTwiML(t *testing.T) {
	t.Parallel()

	doc, err := BuildTwiML(returnScript, 2*time.Second, "Polly.Joanna")
	if err != nil {
		t.Fatalf("BuildTwiML: %v", err)
	}
	for _, want := range []string{
		"<Response>",
		`input="speech"`,
		`speechTimeout="auto"`,
		`timeout="2"`,
		`voice="Polly.Joanna"`,
		">What is your return policy?</Say>",
		`timeout="4"`,
		">Goodbye</Say>",
		"<Hangup",
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("twiml missing %q:\n%s", want, doc)
		}
	}
	if strings.Contains(doc, "<Pause") {
		t.Errorf("twiml uses fixed pauses:\n%s", doc)
	}

	// Every utterance, and the hang-up, waits for the agent's turn first.
	verbs := []string{"<Gather", "return policy", "<Gather", "Goodbye", "<Gather", "<Hangup"}
	at := 0
	for _, v := range verbs {
		i := strings.Index(doc[at:], v)
		if i < 0 {
			t.Fatalf("%q missing or out of order after offset %d:\n%s", v, at, doc)
		}
		at += i + len(v)
	}
	if n := strings.Count(doc, "<Gather"); n != len(returnScript.Turns)+1 {
		t.Errorf("%d gathers, want %d", n, len(returnScript.Turns)+1)
	}

	short, err := BuildTwiML(transport.CallScript{Turns: returnScript.Turns}, 0, "")
	if err != nil {
		t.Fatalf("BuildTwiML: %v", err)
	}
	if strings.Contains(short, `timeout="0"`) {
		t.Errorf("zero gather timeout:\n%s", short)
	}

	if _, err := BuildTwiML(transport.CallScript{}, 0, ""); err == nil {
		t.Error("expected error for empty script")
	}
}

func TestCall_CompletedFetchesAndRetags(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{statuses: []string{"queued", "ringing", "in-progress", "completed"}, duration: "42"}
	var gotRef platform.CallRef
	fetch := func(_ context.Context, ref platform.CallRef) ([]transcript.Turn, error) {
		gotRef = ref
		t0 := ref.StartedAt
		return []transcript.Turn{
			{Role: transcript.RoleAgent, Text: "Acme returns, how can I help?", Timestamp: t0.Add(time.Second)},
			{Role: transcript.RoleCaller, Text: "What's your return policy", Timestamp: t0.Add(3 * time.Second)},
			{Role: transcript.RoleAgent, Text: "Thirty days.", Timestamp: t0.Add(6 * time.Second)},
			{Role: transcript.RoleCaller, Text: "Good bye.", Timestamp: t0.Add(9 * time.Second)},
			{Role: transcript.RoleAgent, Text: "Bye!", Timestamp: t0.Add(10 * time.Second)},
		}, nil
	}

	tr := fastBridge(api).Transport("+15559998888", fetch)
	if tr.Kind != transport.KindPhone {
		t.Errorf("kind = %s", tr.Kind)
	}
	conn, err := tr.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	out, err := conn.(transport.CallConn).Call(context.Background(), returnScript)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}

	if out.CallID != "CA123" || !out.Completed() || out.Duration != 42*time.Second {
		t.Errorf("outcome = %+v", out)
	}
	if len(out.Local) != 2 || out.Local[0].GoalID != "g1" || out.Local[1].GoalID != "g2" {
		t.Errorf("local = %+v", out.Local)
	}
	if len(out.Authoritative) != 5 {
		t.Fatalf("authoritative = %d turns", len(out.Authoritative))
	}
	if out.Authoritative[1].GoalID != "g1" || out.Authoritative[3].GoalID != "g2" {
		t.Errorf("retagged goals = %q, %q", out.Authoritative[1].GoalID, out.Authoritative[3].GoalID)
	}
	if gotRef.CallID != "CA123" || gotRef.From != "+15550001111" || gotRef.To != "+15559998888" {
		t.Errorf("call ref = %+v", gotRef)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.created) != 1 {
		t.Fatalf("created %d calls", len(api.created))
	}
	p := api.created[0]
	if *p.To != "+15559998888" || *p.From != "+15550001111" || !strings.Contains(*p.Twiml, "Goodbye") {
		t.Errorf("create params = to %s from %s", *p.To, *p.From)
	}
}

func TestCall_FailedStatusSkipsTranscript(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{statuses: []string{"ringing", "busy"}}
	fetched := false
	fetch := func(context.Context, platform.CallRef) ([]transcript.Turn, error) {
		fetched = true
		return nil, nil
	}
	conn, err := fastBridge(api).Transport("+1555", fetch).Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	out, err := conn.(transport.CallConn).Call(context.Background(), returnScript)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out.Status != StatusBusy || out.Completed() || fetched {
		t.Errorf("status = %s, fetched = %v", out.Status, fetched)
	}
}

func TestCall_TimeoutHangsUp(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{statuses: []string{"in-progress"}}
	conn, _ := fastBridge(api, WithCallTimeout(20*time.Millisecond)).Transport("+1555", nil).Open(context.Background())
	out, err := conn.(transport.CallConn).Call(context.Background(), returnScript)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out.Status != StatusTimeout {
		t.Errorf("status = %s, want timeout", out.Status)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.updated) != 1 || api.updated[0] != "CA123" {
		t.Errorf("hang-ups = %v", api.updated)
	}
}

func TestCall_CancelledContext(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{statuses: []string{"in-progress"}}
	conn, _ := fastBridge(api).Transport("+1555", nil).Open(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	out, err := conn.(transport.CallConn).Call(ctx, returnScript)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if out.Status != StatusCanceled || out.CallID != "CA123" {
		t.Errorf("outcome = %+v", out)
	}
}

func TestTransport_OpenFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		api  *fakeAPI
		to   string
		from string
	}{
		{"no agent number", &fakeAPI{}, "", "+1555"},
		{"no from number", &fakeAPI{}, "+1666", ""},
		{"bad credentials", &fakeAPI{accountErr: errors.New("401 Unauthorized")}, "+1666", "+1555"},
		{"suspended account", &fakeAPI{accountStatus: "suspended"}, "+1666", "+1555"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("AC1", "tok", tt.from, withAPI(tt.api))
			if _, err := b.Transport(tt.to, nil).Open(context.Background()); err == nil {
				t.Error("expected Open error")
			}
		})
	}
}

func TestRetag(t *testing.T) {
	t.Parallel()

	script := []transport.ScriptTurn{
		{Text: "Do you ship to Canada?", GoalID: "shipping"},
		{Text: "What is your return policy?", GoalID: "returns"},
		{Text: "Goodbye", GoalID: "bye"},
	}
	turns := []transcript.Turn{
		{Role: transcript.RoleCaller, Text: "do you ship to canada"},
		{Role: transcript.RoleAgent, Text: "Yes we do."},
		{Role: transcript.RoleCaller, Text: "Goodbye."},
		{Role: transcript.RoleCaller, Text: "What is your return policy?"},
	}
	got := Retag(turns, script, 0.8)
	if got[0].GoalID != "shipping" {
		t.Errorf("turn 0 goal = %q", got[0].GoalID)
	}
	if got[1].GoalID != "" {
		t.Errorf("agent turn tagged %q", got[1].GoalID)
	}
	if got[2].GoalID != "bye" {
		t.Errorf("turn 2 goal = %q", got[2].GoalID)
	}
	// Matching never moves backwards through the script.
	if got[3].GoalID != "" {
		t.Errorf("turn 3 goal = %q, want untagged", got[3].GoalID)
	}
	if turns[0].GoalID != "" {
		t.Error("input was modified")
	}
}
