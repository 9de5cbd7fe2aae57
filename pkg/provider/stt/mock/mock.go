// Package mock provides a test double for the stt.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Texts: []string{"Welcome to Acme.", "Anything else?"}}
//	tr, _ := p.Transcribe(ctx, seg, stt.Config{})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicecheck/pkg/audio"
	"github.com/MrWong99/voicecheck/pkg/provider/stt"
	"github.com/MrWong99/voicecheck/pkg/types"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Segment is the audio passed to Transcribe.
	Segment audio.Segment
	// Config is the recognition config passed to Transcribe.
	Config stt.Config
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Texts is a queue of transcripts. Each call pops the first entry; once
	// drained, Transcript is returned.
	Texts []string

	// Transcript is returned once Texts is drained.
	Transcript types.Transcript

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// --- Call records ---

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the next configured transcript.
func (p *Provider) Transcribe(ctx context.Context, seg audio.Segment, cfg stt.Config) (types.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, Segment: seg, Config: cfg})
	if p.TranscribeErr != nil {
		return types.Transcript{}, p.TranscribeErr
	}
	if len(p.Texts) > 0 {
		text := p.Texts[0]
		p.Texts = p.Texts[1:]
		return types.Transcript{Text: text, Confidence: 1, Duration: seg.Duration()}, nil
	}
	return p.Transcript, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
