package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ResearchPipeline/internal/config"
	"ResearchPipeline/internal/ports"
)

// ErrMisconfigured is returned when the client lacks an endpoint, model or key.
var ErrMisconfigured = errors.New("llm client misconfigured")

// Client implements ports.ChatModel on top of OpenAI-compatible chat
// completion APIs.
type Client struct {
	endpoint    string
	model       string
	apiKey      string
	temperature float64
	httpClient  *http.Client
}

var _ ports.ChatModel = (*Client)(nil)

// NewClient builds a client from configuration.
func NewClient(cfg config.LLMConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		endpoint:    cfg.Endpoint,
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatPayload struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type streamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// Complete sends a single prompt and returns the whole answer.
func (c *Client) Complete(ctx context.Context, req ports.ChatRequest) (string, error) {
	resp, err := c.send(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var decoded completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return decoded.Choices[0].Message.Content, nil
}

// Stream sends a prompt with server-sent events enabled and forwards every
// content delta to onDelta as it arrives.
func (c *Client) Stream(ctx context.Context, req ports.ChatRequest, onDelta func(string) error) (string, error) {
	resp, err := c.send(ctx, req, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return full.String(), nil
		}

		var chunk streamResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return full.String(), fmt.Errorf("decode stream chunk: %w", err)
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			full.WriteString(choice.Delta.Content)
			if onDelta != nil {
				if err := onDelta(choice.Delta.Content); err != nil {
					return full.String(), err
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), fmt.Errorf("read stream: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return full.String(), err
	}
	return full.String(), nil
}

func (c *Client) send(ctx context.Context, req ports.ChatRequest, stream bool) (*http.Response, error) {
	if c == nil {
		return nil, fmt.Errorf("llm client is nil")
	}
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return nil, ErrMisconfigured
	}

	temperature := req.Temperature
	if temperature <= 0 {
		temperature = c.temperature
	}
	messages := make([]chatMessage, 0, 2)
	if system := strings.TrimSpace(req.System); system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatPayload{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send chat request: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("llm error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}
	return resp, nil
}
