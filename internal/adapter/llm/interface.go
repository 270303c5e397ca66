// Package llm asks an OpenAI-compatible chat model for an agent's position.
package llm

import "context"

// Prompt is a single system+user exchange sent to a model.
type Prompt struct {
	Model  string
	System string
	User   string
}

// Completer returns a model's reply to a prompt.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

var (
	_ Completer = (*Client)(nil)
	_ Completer = (*MockClient)(nil)
)
