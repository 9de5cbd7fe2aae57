// Package caller produces the synthetic test caller's side of a conversation.
//
// A [Generator] is asked for one utterance at a time. It sees the transcript so
// far and the goals not yet covered, and answers with text tagged by the goal
// it addresses. Two implementations exist: [LLM], which has a language model
// role-play a consistent [Persona], and [Scripted], which replays each goal's
// seed phrase verbatim.
package caller

import (
	"context"
	"regexp"
	"strings"

	"github.com/MrWong99/voicecheck/pkg/transcript"
	"github.com/MrWong99/voicecheck/pkg/types"
)

// DefaultGoodbye is the fixed line spoken when the conversation is closed
// without a closing goal.
const DefaultGoodbye = "Thank you, that's all I needed. Goodbye!"

// Request is the input for one caller utterance.
type Request struct {
	// History is the transcript so far.
	History []transcript.Turn

	// Uncovered are the goals not yet addressed, in their original order.
	Uncovered []types.Goal

	// Index rotates which non-closing goal is targeted. The coordinator bumps
	// it whenever an utterance addressed no goal, so a goal the agent keeps
	// deflecting does not starve the others.
	Index int
}

// Utterance is one generated caller line.
type Utterance struct {
	Text string

	// GoalID is the goal this line addresses, or "" for filler.
	GoalID string

	// Goodbye reports that the line reads as a farewell.
	Goodbye bool
}

// Generator produces caller utterances. A nil Utterance (with or without an
// error) means the generator has nothing more to say; callers treat it as a
// goodbye. Implementations must be safe for concurrent use.
type Generator interface {
	Next(ctx context.Context, req Request) (*Utterance, error)
}

// Target picks the goal the next utterance should pursue: the Index-th
// uncovered non-closing goal (modulo their count), or the closing goal once
// every non-closing goal is covered. ok is false when nothing is left.
func Target(uncovered []types.Goal, index int) (types.Goal, bool) {
	var open []types.Goal
	var closing *types.Goal
	for i := range uncovered {
		if uncovered[i].IsClosingGoal {
			if closing == nil {
				closing = &uncovered[i]
			}
			continue
		}
		open = append(open, uncovered[i])
	}
	if len(open) > 0 {
		if index < 0 {
			index = 0
		}
		return open[index%len(open)], true
	}
	if closing != nil {
		return *closing, true
	}
	return types.Goal{}, false
}

// allowed reports whether an utterance may be tagged with goalID: it must be
// uncovered, and a closing goal only once no other goal is left.
func allowed(uncovered []types.Goal, goalID string) bool {
	found, openLeft := false, false
	var isClosing bool
	for _, g := range uncovered {
		if g.ID == goalID {
			found, isClosing = true, g.IsClosingGoal
		}
		if !g.IsClosingGoal {
			openLeft = true
		}
	}
	return found && (!isClosing || !openLeft)
}

var (
	// farewellRe matches words that end a conversation wherever they appear.
	farewellRe = regexp.MustCompile(`(?i)\b(good\s?-?bye|bye(\s?-?bye)?|farewell)\b`)

	// signOffRe matches phrases that only read as a farewell when they close
	// a sentence: "take care." ends a call, "take care of my refund" does not.
	signOffRe = regexp.MustCompile(`(?i)\b(see you( later| soon| around)?|talk to you (later|soon)|` +
		`have a (great|good|nice|wonderful|lovely) (day|one|evening|night|weekend)|take care( of yourself)?|` +
		`that['’]?s all( i need(ed)?)?( for (now|today))?|` +
		`(i['’]?m |i['’]?ll |i will |going to |gonna )?hang(ing)? up)` +
		`(\s+(now|then|too))?\s*([.!,;]|$)`)
)

// IsGoodbye reports whether text reads as a farewell.
func IsGoodbye(text string) bool {
	text = strings.TrimSpace(text)
	return farewellRe.MatchString(text) || signOffRe.MatchString(text)
}

// seedText is the phrase that addresses g directly.
func seedText(g types.Goal) string {
	if s := strings.TrimSpace(g.UserInput); s != "" {
		return s
	}
	if s := strings.TrimSpace(g.Scenario); s != "" {
		return s
	}
	return g.Name
}
