// Package agentclient provides an HTTP client for invoking external agents
// that stream their contribution back as server-sent events.
package agentclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SSEEvent represents a parsed SSE event.
type SSEEvent struct {
	Event string
	Data  string
}

// EventHandler is called for each SSE event from the agent.
type EventHandler func(event SSEEvent) error

// InvokeRequest is the body posted to an agent's /invoke endpoint.
type InvokeRequest struct {
	RoomID    string      `json:"room_id"`
	SessionID string      `json:"session_id"`
	Round     int         `json:"round"`
	AgentID   string      `json:"agent_id"`
	Domain    string      `json:"domain"`
	Topic     string      `json:"topic"`
	Prior     []PriorTurn `json:"prior,omitempty"`
}

// PriorTurn is an earlier contribution shown to the agent.
type PriorTurn struct {
	AgentID string `json:"agent_id"`
	Round   int    `json:"round"`
	Content string `json:"content"`
}

// DeltaEventData is the payload of a "delta" event.
type DeltaEventData struct {
	Text string `json:"text"`
}

// DoneEventData is the payload of a "done" event.
type DoneEventData struct {
	Content string `json:"content,omitempty"`
}

// ErrorEventData is the payload of an "error" event.
type ErrorEventData struct {
	Message string `json:"message"`
}

// StatusError is returned when the agent answers with a non-200 status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("agent returned status %d: %s", e.StatusCode, e.Body)
}

// Client is an HTTP client for invoking agents.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a new agent client. Per-call deadlines come from the
// context; timeout only bounds a stream that never ends.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Invoke calls an agent's /invoke endpoint and streams SSE events.
func (c *Client) Invoke(ctx context.Context, endpoint string, req *InvokeRequest, handler EventHandler) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimSuffix(endpoint, "/") + "/invoke"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("X-Room-ID", req.RoomID)
	httpReq.Header.Set("X-Session-ID", req.SessionID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to invoke agent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	return parseSSE(resp.Body, handler)
}

// Contribute invokes the agent and folds the stream into its final text: the
// done event's content if present, the concatenated deltas otherwise.
func (c *Client) Contribute(ctx context.Context, endpoint string, req *InvokeRequest) (string, error) {
	var deltas strings.Builder
	var final string
	var done bool
	err := c.Invoke(ctx, endpoint, req, func(ev SSEEvent) error {
		switch ev.Event {
		case "delta":
			d, err := ParseDeltaEvent(ev.Data)
			if err != nil {
				return err
			}
			deltas.WriteString(d.Text)
		case "done":
			d, err := ParseDoneEvent(ev.Data)
			if err != nil {
				return err
			}
			final = d.Content
			done = true
		case "error":
			e, err := ParseErrorEvent(ev.Data)
			if err != nil {
				return err
			}
			return fmt.Errorf("agent error: %s", e.Message)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if !done {
		return "", fmt.Errorf("agent stream ended without done event")
	}
	if final == "" {
		final = deltas.String()
	}
	return final, nil
}

// parseSSE parses an SSE stream and calls the handler for each event.
func parseSSE(reader io.Reader, handler EventHandler) error {
	scanner := bufio.NewScanner(reader)
	var event SSEEvent

	for scanner.Scan() {
		line := scanner.Text()

		// Empty line marks end of event
		if line == "" {
			if event.Event != "" || event.Data != "" {
				if err := handler(event); err != nil {
					return err
				}
				event = SSEEvent{}
			}
			continue
		}

		if strings.HasPrefix(line, "event:") {
			event.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if event.Data != "" {
				event.Data += "\n" + data
			} else {
				event.Data = data
			}
		}
	}

	if event.Event != "" || event.Data != "" {
		if err := handler(event); err != nil {
			return err
		}
	}

	return scanner.Err()
}

// ParseDeltaEvent parses a delta event data.
func ParseDeltaEvent(data string) (*DeltaEventData, error) {
	var delta DeltaEventData
	if err := json.Unmarshal([]byte(data), &delta); err != nil {
		return nil, fmt.Errorf("failed to parse delta event: %w", err)
	}
	return &delta, nil
}

// ParseDoneEvent parses a done event data.
func ParseDoneEvent(data string) (*DoneEventData, error) {
	var done DoneEventData
	if err := json.Unmarshal([]byte(data), &done); err != nil {
		return nil, fmt.Errorf("failed to parse done event: %w", err)
	}
	return &done, nil
}

// ParseErrorEvent parses an error event data.
func ParseErrorEvent(data string) (*ErrorEventData, error) {
	var errEvt ErrorEventData
	if err := json.Unmarshal([]byte(data), &errEvt); err != nil {
		return nil, fmt.Errorf("failed to parse error event: %w", err)
	}
	return &errEvt, nil
}
