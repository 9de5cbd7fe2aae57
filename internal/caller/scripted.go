package caller

import "context"

var _ Generator = (*Scripted)(nil)

// Scripted replays each goal's seed phrase in target order. It never fails
// and needs no model, which makes it the generator for phone scripts and a
// deterministic stand-in in tests.
type Scripted struct{}

// Next returns the seed phrase of the current target goal, or nil when every
// goal is covered.
func (Scripted) Next(_ context.Context, req Request) (*Utterance, error) {
	g, ok := Target(req.Uncovered, req.Index)
	if !ok {
		return nil, nil
	}
	text := seedText(g)
	return &Utterance{Text: text, GoalID: g.ID, Goodbye: IsGoodbye(text)}, nil
}
