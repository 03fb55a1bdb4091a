// Package llm implements the annotation service client against an
// OpenAI-compatible chat completion endpoint.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cognicore/gloss/pkg/gloss/annotate"
)

// emptyAnnotation is returned when the service refuses or blanks a reply.
// Downstream it parses as a valid response that annotates nothing, so the
// batch completes without data instead of burning retries.
const emptyAnnotation = `{"wordData":{},"segmentData":{},"idioms":[]}`

const systemPrompt = "You are a linguistic annotation engine. " +
	"Reply with a single JSON object and nothing else."

// Client calls an OpenAI-compatible chat completion endpoint. It implements
// annotate.Client.
type Client struct {
	BaseURL string
	APIKey  string
	Model   string

	HTTPClient *http.Client
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Annotate sends one prompt and returns the raw reply text. Rate limits,
// server errors and network failures come back as retryable
// annotate.TransportErrors; other HTTP errors are terminal. A blocked or
// empty completion degrades to an empty annotation object.
func (c *Client) Annotate(ctx context.Context, prompt string) (string, error) {
	if c.BaseURL == "" || c.Model == "" {
		return "", fmt.Errorf("llm: base URL and model required")
	}

	reqBody, err := json.Marshal(chatRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", &annotate.TransportError{Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &annotate.TransportError{
			Status:    resp.StatusCode,
			Retryable: retryableStatus(resp.StatusCode),
			Err:       fmt.Errorf("%s", bytes.TrimSpace(body)),
		}
	}

	var payload chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", &annotate.TransportError{Retryable: true, Err: fmt.Errorf("decode response: %w", err)}
	}
	if payload.Error != nil {
		return "", &annotate.TransportError{Retryable: true, Err: fmt.Errorf("llm error: %s", payload.Error.Message)}
	}
	if len(payload.Choices) == 0 {
		return emptyAnnotation, nil
	}
	choice := payload.Choices[0]
	if choice.FinishReason == "content_filter" || choice.Message.Content == "" {
		return emptyAnnotation, nil
	}
	return choice.Message.Content, nil
}

// retryableStatus: rate limits and server-side failures are worth a retry,
// client errors are not.
func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 120 * time.Second}
}
