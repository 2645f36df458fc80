// Package completion defines the Service interface for LLM-backed text
// completion endpoints.
//
// Valet uses the same completion service for two very different jobs: a
// low-temperature classification call that must return machine-parseable JSON
// (see internal/intent) and a higher-temperature prose call that produces
// user-facing explanations (see internal/respond). The Service interface is
// deliberately narrow so any backend (OpenAI, Anthropic, a local Ollama
// instance) can be substituted, including test doubles.
//
// Implementors must be safe for concurrent use.
package completion

import "context"

// Request carries everything the completion service needs for one call.
// Callers should treat a zero-value request as invalid; at minimum Prompt must
// be non-empty.
type Request struct {
	// Prompt is the user-role text driving the completion.
	Prompt string

	// System is an optional high-priority instruction injected before the
	// prompt. Backends without a dedicated system slot should prepend it as a
	// system-role message.
	System string

	// Temperature controls output randomness in [0.0, 2.0]. Valet uses ~0.2
	// for intent classification and ~0.7 for explanation prose.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the backend default.
	MaxTokens int
}

// Response is the result of a completion call.
type Response struct {
	// Text is the full text of the model's reply.
	Text string

	// Usage contains token accounting when the backend reports it.
	Usage Usage
}

// Usage holds token accounting information returned by the backend.
// Counts are in the model's native token unit and may differ between backends
// for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the prompt and system
	// instruction.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// Service is the abstraction over any completion backend.
//
// Implementations must be safe for concurrent use from multiple goroutines
// and must propagate context cancellation promptly.
type Service interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or ctx is cancelled before the
	// completion arrives. A nil error implies a non-nil *Response.
	Complete(ctx context.Context, req Request) (*Response, error)
}
