package llm

import "context"

// Provider is the contract every model backend implements. The engine treats
// a nil Provider as "no model configured" and falls back to deterministic
// rule-based behavior, so implementations only need Generate.
type Provider interface {
	// Generate produces a completion for the prompt.
	Generate(ctx context.Context, prompt string, options map[string]interface{}) (string, error)

	// Model returns the model identifier in use, for trace metadata.
	Model() string
}
