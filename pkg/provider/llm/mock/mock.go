// Package mock provides a scripted [llm.Provider] for tests.
//
// Set the exported fields before the first call:
//
//	p := &mock.Provider{Replies: []string{`{"text": "Hi", "goal_id": "g1"}`}}
//	resp, _ := p.Complete(ctx, req) // resp.Content == `{"text": "Hi", ...}`
//	p.Calls()[0].Req                // the request the code under test built
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicecheck/pkg/provider/llm"
	"github.com/MrWong99/voicecheck/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

// Call is one recorded Complete invocation.
type Call struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider answers Complete from, in order of precedence: CompleteFunc,
// CompleteErr, the Replies queue, then CompleteResponse. A zero Provider
// returns (nil, nil).
type Provider struct {
	CompleteFunc     func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
	CompleteErr      error
	Replies          []string
	CompleteResponse *llm.CompletionResponse

	// TokenCount and ModelCapabilities are returned verbatim.
	TokenCount        int
	ModelCapabilities types.ModelCapabilities

	mu    sync.Mutex
	calls []Call
}

// Complete records the call and answers it.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Ctx: ctx, Req: req})
	if p.CompleteFunc != nil {
		fn := p.CompleteFunc
		p.mu.Unlock()
		return fn(ctx, req)
	}
	defer p.mu.Unlock()

	switch {
	case p.CompleteErr != nil:
		return nil, p.CompleteErr
	case len(p.Replies) > 0:
		content := p.Replies[0]
		p.Replies = p.Replies[1:]
		return &llm.CompletionResponse{Content: content, FinishReason: "stop"}, nil
	default:
		return p.CompleteResponse, nil
	}
}

// CountTokens returns TokenCount.
func (p *Provider) CountTokens([]types.Message) (int, error) {
	return p.TokenCount, nil
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return p.ModelCapabilities
}

// Calls returns a copy of the recorded Complete calls.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}
