package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voicecheck/pkg/platform"
	"github.com/MrWong99/voicecheck/pkg/transport"
	"github.com/MrWong99/voicecheck/pkg/types"
)

// Batch is one batch file: the agent under test and the goals to cover in a
// single conversation.
//
//	id: returns-smoke
//	agent:
//	  platform: vapi
//	  agent_id: 3f1c...
//	  phone_number: "+15550100"
//	transport_preferences: [chat, voice]
//	goals:
//	  - id: g1
//	    name: Return policy
//	    user_input: What is your return policy?
//	    expected_outcome: The agent states the 30-day window.
type Batch struct {
	// ID is optional; a random one is generated when empty.
	ID string `yaml:"id"`

	Agent platform.Agent `yaml:"agent"`
	Goals []types.Goal   `yaml:"goals"`

	// TransportPreferences restricts and orders the transports tried. Empty
	// means phone, chat, voice, simulated.
	TransportPreferences []string `yaml:"transport_preferences"`
}

// transportKinds are the names accepted in transport_preferences.
var transportKinds = []transport.Kind{
	transport.KindPhone,
	transport.KindChat,
	transport.KindVoice,
	transport.KindSimulated,
}

// LoadBatch reads and validates the batch file at path.
func LoadBatch(path string) (*Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open batch %q: %w", path, err)
	}
	defer f.Close()

	b, err := LoadBatchFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse batch %q: %w", path, err)
	}
	return b, nil
}

// LoadBatchFromReader decodes a YAML batch from r and validates it.
func LoadBatchFromReader(r io.Reader) (*Batch, error) {
	b := &Batch{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(b); err != nil {
		return nil, fmt.Errorf("config: decode batch yaml: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Validate checks the batch for missing fields, duplicate goal ids, more
// than one closing goal, and unknown transport names. It returns all
// failures joined.
func (b *Batch) Validate() error {
	var errs []error
	if b.Agent.Platform == "" {
		errs = append(errs, errors.New("agent.platform is required"))
	}
	if b.Agent.AgentID == "" {
		errs = append(errs, errors.New("agent.agent_id is required"))
	}
	if len(b.Goals) == 0 {
		errs = append(errs, errors.New("goals must not be empty"))
	}

	seen := make(map[string]int, len(b.Goals))
	var closing []string
	for i, g := range b.Goals {
		prefix := fmt.Sprintf("goals[%d]", i)
		if g.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else {
			if prev, ok := seen[g.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of goals[%d]", prefix, g.ID, prev))
			}
			seen[g.ID] = i
		}
		if g.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if g.UserInput == "" && g.Scenario == "" {
			errs = append(errs, fmt.Errorf("%s needs user_input or scenario", prefix))
		}
		if g.IsClosingGoal {
			closing = append(closing, g.ID)
		}
	}
	if len(closing) > 1 {
		errs = append(errs, fmt.Errorf("at most one closing goal is allowed, got %v", closing))
	}

	for i, name := range b.TransportPreferences {
		if !slices.Contains(transportKinds, transport.Kind(name)) {
			errs = append(errs, fmt.Errorf("transport_preferences[%d] %q is invalid; valid values: %v", i, name, transportKinds))
		}
	}
	return errors.Join(errs...)
}
