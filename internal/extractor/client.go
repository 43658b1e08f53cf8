package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	anthropicVersion = "2023-06-01"
	defaultBaseURL   = "https://api.anthropic.com/v1/messages"
	maxTokens        = 1024
)

type anthropicTool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"input_schema"`
}

type anthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model      string              `json:"model"`
	MaxTokens  int                 `json:"max_tokens"`
	System     string              `json:"system"`
	Tools      []anthropicTool     `json:"tools"`
	ToolChoice anthropicToolChoice `json:"tool_choice"`
	Messages   []anthropicMessage  `json:"messages"`
}

type anthropicContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type anthropicResponse struct {
	ID      string                  `json:"id"`
	Content []anthropicContentBlock `json:"content"`
	Error   *anthropicError         `json:"error"`
}

// APIError wraps a non-2xx or provider-reported Anthropic API failure.
// The extractor's retry loop treats this the same as a transport
// error, per spec.md §4.G's "provider errors and any unexpected
// exception from the client" retry trigger.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("anthropic api error (status %d): %s", e.StatusCode, e.Message)
}

// Client is a minimal hand-rolled Anthropic Messages API client: no
// official SDK exists in this module's dependency pack, so requests
// and responses are built from raw JSON structs, mirroring the shape
// of bare-HTTP Anthropic clients elsewhere in the ecosystem. The
// transport is wrapped with otelhttp so every extraction call emits a
// span, the same instrumentation the teacher applies to its inbound
// HTTP middleware chain, here applied to an outbound client instead.
type Client struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
}

// NewClient constructs a Client. apiKey must be non-empty.
func NewClient(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("extractor: api key must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   60 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
	}, nil
}

// Call sends one forced-tool-use request and returns the raw `input`
// object of the record_topics tool_use block.
func (c *Client) Call(ctx context.Context, userMessage string) (json.RawMessage, error) {
	reqPayload := anthropicRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    SystemPrompt,
		Tools:     []anthropicTool{recordTopicsTool},
		ToolChoice: anthropicToolChoice{
			Type: "tool",
			Name: ToolName,
		},
		Messages: []anthropicMessage{{Role: "user", Content: userMessage}},
	}

	body, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("extractor: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("extractor: build request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("content-type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extractor: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("extractor: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("extractor: parse response json: %w", err)
	}
	if apiResp.Error != nil {
		return nil, &APIError{Message: apiResp.Error.Type + ": " + apiResp.Error.Message}
	}

	for _, block := range apiResp.Content {
		if block.Type == "tool_use" && block.Name == ToolName {
			return block.Input, nil
		}
	}
	return nil, fmt.Errorf("extractor: no %s tool_use block in response", ToolName)
}
