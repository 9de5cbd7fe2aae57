// Package platform describes the third-party agent hosting platforms a
// conversation can be run against.
//
// Each platform package (elevenlabs, vapi, retell) builds a [Platform]
// descriptor whose function fields expose the capabilities that platform
// actually has. A nil field means "not supported". The router looks
// platforms up in a [Registry] by id instead of branching on provider names.
package platform

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/voicecheck/pkg/transcript"
	"github.com/MrWong99/voicecheck/pkg/transport"
)

// Sentinel errors.
var (
	// ErrUnknownPlatform is returned by [Registry.Lookup] for unregistered ids.
	ErrUnknownPlatform = errors.New("platform: unknown platform")

	// ErrUnsupported is returned when a platform lacks a requested capability.
	ErrUnsupported = errors.New("platform: capability not supported")
)

// Agent identifies the remote agent under test.
type Agent struct {
	// Platform is the registry id of the hosting platform.
	Platform string `yaml:"platform" json:"platform"`

	// AgentID is the platform's identifier for the agent.
	AgentID string `yaml:"agent_id" json:"agentId"`

	// PhoneNumber is the E.164 number the agent answers, if any.
	PhoneNumber string `yaml:"phone_number" json:"phoneNumber,omitempty"`
}

// AgentConfig is the agent definition fetched from the platform. It grounds
// the LLM-simulated transport and gives the analyzer prompt context.
type AgentConfig struct {
	Name         string
	SystemPrompt string
	FirstMessage string
	Language     string
	VoiceID      string
}

// CallRef identifies a phone call placed to an agent so its platform-side
// record can be found afterwards.
type CallRef struct {
	// CallID is the telephony provider's call id.
	CallID string

	// From and To are the E.164 numbers of the call.
	From string
	To   string

	// StartedAt is when the call was placed. Platform records created before
	// it are ignored.
	StartedAt time.Time
}

// Platform is a descriptor of one hosting platform.
type Platform struct {
	// ID is the registry key, e.g. "vapi".
	ID string

	// Chat opens a text chat connection to agentID. Nil when the platform
	// has no chat API.
	Chat func(ctx context.Context, agentID string) (transport.TurnConn, error)

	// Voice opens a streaming voice connection to agentID. Nil when the
	// platform has no streaming voice API.
	Voice func(ctx context.Context, agentID string) (transport.StreamConn, error)

	// FetchConfig retrieves the agent definition. Nil when unsupported.
	FetchConfig func(ctx context.Context, agentID string) (AgentConfig, error)

	// FetchCallTranscript retrieves the platform's transcript of a phone call
	// to agentID. Nil when unsupported.
	FetchCallTranscript func(ctx context.Context, agentID string, call CallRef) ([]transcript.Turn, error)
}

// HasChat reports whether the platform has a chat API.
func (p Platform) HasChat() bool { return p.Chat != nil }

// HasVoice reports whether the platform has a streaming voice API.
func (p Platform) HasVoice() bool { return p.Voice != nil }

// Registry maps platform ids to descriptors. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	platforms map[string]Platform
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{platforms: make(map[string]Platform)}
}

// Register adds p. Registering an id twice is an error.
func (r *Registry) Register(p Platform) error {
	if p.ID == "" {
		return errors.New("platform: register: empty id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.platforms[p.ID]; ok {
		return fmt.Errorf("platform: register: %q already registered", p.ID)
	}
	r.platforms[p.ID] = p
	return nil
}

// Lookup returns the platform registered under id.
func (r *Registry) Lookup(id string) (Platform, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.platforms[id]
	if !ok {
		return Platform{}, fmt.Errorf("%w: %q", ErrUnknownPlatform, id)
	}
	return p, nil
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.platforms))
	for id := range r.platforms {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
