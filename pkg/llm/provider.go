// Package llm talks to the generative API. The provider is opaque to the
// rest of the system: one prompt in, one text completion out, no retries.
package llm

import "context"

// Generation is the result of a single completion call.
type Generation struct {
	Text           string
	TokensSent     int
	TokensReceived int
}

// Provider generates a completion for a prompt. Implementations do not
// retry; a failed call surfaces to the caller as-is.
type Provider interface {
	Generate(ctx context.Context, model, prompt string) (*Generation, error)
}

// estimateTokens approximates a token count by whitespace-splitting, used
// when the provider response carries no usage block.
func estimateTokens(text string) int {
	n := 0
	inToken := false
	for _, r := range text {
		switch r {
		case ' ', '\t', '\n', '\r':
			inToken = false
		default:
			if !inToken {
				n++
				inToken = true
			}
		}
	}
	return n
}
