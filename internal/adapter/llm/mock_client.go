package llm

import (
	"context"
	"fmt"
)

// MockClient answers every prompt locally by echoing it.
type MockClient struct{}

// NewMockClient creates a mock completer.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Complete echoes the user prompt.
func (m *MockClient) Complete(ctx context.Context, p Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.User == "" {
		return "[MOCK] no position.", nil
	}
	return fmt.Sprintf("[MOCK] %s", truncate(p.User, 200)), nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
