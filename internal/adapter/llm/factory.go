package llm

import (
	"log/slog"
	"os"
	"time"
)

const (
	// EnvMode selects the completer implementation.
	EnvMode = "BOARDROOM_MODE"
	// ModeMock selects the mock completer.
	ModeMock = "MOCK"
)

// NewCompleter returns a MockClient when BOARDROOM_MODE=MOCK and a gateway
// Client otherwise.
func NewCompleter(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) Completer {
	if os.Getenv(EnvMode) == ModeMock {
		logger.Info("BOARDROOM_MODE=MOCK detected, using mock completer")
		return NewMockClient()
	}
	return NewClient(baseURL, apiKey, timeout)
}
