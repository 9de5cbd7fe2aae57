package twilio

import (
	"github.com/MrWong99/voicecheck/pkg/transcript"
	"github.com/MrWong99/voicecheck/pkg/transport"
)

// Retag assigns goal ids to the caller turns of an untagged provider
// transcript. Each caller turn is matched against the scripted utterances by
// [transcript.Similarity] and takes the goal of the best match scoring at
// least minScore. Each script turn is used at most once, and matching only
// moves forward through the script since the call plays it in order.
func Retag(turns []transcript.Turn, script []transport.ScriptTurn, minScore float64) []transcript.Turn {
	out := make([]transcript.Turn, len(turns))
	copy(out, turns)

	next := 0
	for i := range out {
		if out[i].Role != transcript.RoleCaller || out[i].GoalID != "" {
			continue
		}
		best, bestScore := -1, 0.0
		for j := next; j < len(script); j++ {
			score := transcript.Similarity(out[i].Text, script[j].Text)
			if score >= minScore && score > bestScore {
				best, bestScore = j, score
			}
		}
		if best < 0 {
			continue
		}
		out[i].GoalID = script[best].GoalID
		next = best + 1
	}
	return out
}
