package llm

import (
	"unicode/utf8"

	"github.com/MrWong99/voicecheck/pkg/types"
)

// JSONInstruction is appended to the system prompt of backends that cannot
// be switched into a JSON response mode.
const JSONInstruction = "Respond with a single JSON object and nothing else."

// messageOverhead approximates the role and framing tokens of one message.
const messageOverhead = 4

// EstimateTokens approximates the token count of messages at roughly four
// characters per token. It overcounts rather than undercounts so prompts
// trimmed against it still fit.
func EstimateTokens(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += (utf8.RuneCountInString(m.Content)+3)/4 + messageOverhead
		if m.Name != "" {
			total++
		}
	}
	return total
}

// WithJSONInstruction returns the system prompt to send for req on a
// backend without a native JSON mode.
func WithJSONInstruction(req CompletionRequest) string {
	if !req.JSON {
		return req.SystemPrompt
	}
	if req.SystemPrompt == "" {
		return JSONInstruction
	}
	return req.SystemPrompt + "\n\n" + JSONInstruction
}
