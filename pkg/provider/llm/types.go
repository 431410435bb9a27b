package llm

// Message represents a single message in a chat exchange.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting information returned by the model backend.
// Counts are in the model's native token unit and may differ between backends
// for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// charsPerToken is the heuristic ratio used for token estimation.
// English text averages roughly 4 characters per token across common
// LLM tokenizers. This avoids pulling in a tokenizer dependency.
const charsPerToken = 4

// EstimateTokens approximates the token count of a message list. The result
// need not be exact but should not undercount badly; callers use it to
// enforce history and context budgets before sending a request.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + charsPerToken - 1) / charsPerToken
		// Per-message overhead (role + formatting tokens).
		total += 4
	}
	return total
}

// EstimateTextTokens approximates the token count of a bare string using the
// same heuristic as [EstimateTokens], without per-message overhead.
func EstimateTextTokens(text string) int {
	return (len(text) + charsPerToken - 1) / charsPerToken
}
