package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client calls the /v1/chat/completions endpoint of a LiteLLM or other
// OpenAI-compatible gateway.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a client for the gateway at baseURL.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		endpoint:   strings.TrimSuffix(baseURL, "/") + "/v1/chat/completions",
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionBody struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

type completionReply struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (p Prompt) messages() []message {
	out := make([]message, 0, 2)
	if p.System != "" {
		out = append(out, message{Role: "system", Content: p.System})
	}
	return append(out, message{Role: "user", Content: p.User})
}

// Complete sends the prompt and returns the first choice's text. A reply with
// no text is an error, so an agent never contributes an empty position.
func (c *Client) Complete(ctx context.Context, p Prompt) (string, error) {
	body, err := json.Marshal(completionBody{Model: p.Model, Messages: p.messages()})
	if err != nil {
		return "", fmt.Errorf("failed to marshal prompt: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach model %s: %w", p.Model, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read reply: %w", err)
	}
	var reply completionReply
	decodeErr := json.Unmarshal(raw, &reply)

	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && reply.Error != nil {
			return "", fmt.Errorf("model %s [%d]: %s (%s)", p.Model, resp.StatusCode, reply.Error.Message, reply.Error.Type)
		}
		return "", fmt.Errorf("model %s [%d]: %s", p.Model, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if decodeErr != nil {
		return "", fmt.Errorf("failed to decode reply: %w", decodeErr)
	}
	if len(reply.Choices) == 0 {
		return "", errors.New("model reply has no choices")
	}
	text := strings.TrimSpace(reply.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("model reply is empty")
	}
	return text, nil
}
