// Package chat produces agent replies through an OpenAI-compatible
// completion endpoint.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Message is one turn in a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type terminalError struct{ msg string }

func (e *terminalError) Error() string     { return e.msg }
func (e *terminalError) IsRetryable() bool { return false }

type transientError struct{ msg string }

func (e *transientError) Error() string     { return e.msg }
func (e *transientError) IsRetryable() bool { return true }

// Client calls an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a completion client with a per-request timeout.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Complete requests one completion and returns the first choice's content.
// Rate limits and server errors come back retryable; everything else is
// terminal.
func (c *Client) Complete(ctx context.Context, model string, messages []Message) (string, error) {
	body, err := json.Marshal(completionRequest{Model: model, Messages: messages})
	if err != nil {
		return "", &terminalError{msg: fmt.Sprintf("encode request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", &terminalError{msg: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &transientError{msg: fmt.Sprintf("completion request: %v", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", &transientError{msg: fmt.Sprintf("read response: %v", err)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", &transientError{msg: fmt.Sprintf("completion endpoint %d: %s", resp.StatusCode, firstLine(respBody))}
	case resp.StatusCode != http.StatusOK:
		return "", &terminalError{msg: fmt.Sprintf("completion endpoint %d: %s", resp.StatusCode, firstLine(respBody))}
	}

	var parsed completionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &terminalError{msg: fmt.Sprintf("decode response: %v", err)}
	}
	if parsed.Error != nil {
		return "", &terminalError{msg: fmt.Sprintf("completion error: %s", parsed.Error.Message)}
	}
	if len(parsed.Choices) == 0 {
		return "", &terminalError{msg: "completion response has no choices"}
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", &terminalError{msg: "completion response has empty content"}
	}
	return content, nil
}

func firstLine(body []byte) string {
	line := strings.TrimSpace(string(body))
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if len(line) > 200 {
		line = line[:200]
	}
	return line
}
