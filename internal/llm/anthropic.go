package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mattjoyce/switchyard/internal/config"
)

const (
	anthropicVersion   = "2023-06-01"
	defaultHTTPTimeout = 5 * time.Minute
)

// Anthropic implements Provider for the Messages API.
type Anthropic struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

func NewAnthropic(client *http.Client, baseURL, apiKey string) *Anthropic {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Anthropic{client: client, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

// NewAnthropicFromConfig builds a client from the llm config section.
func NewAnthropicFromConfig(cfg config.LLMConfig) *Anthropic {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return NewAnthropic(&http.Client{Timeout: timeout}, cfg.BaseURL, cfg.APIKey)
}

func (a *Anthropic) Complete(ctx context.Context, request Request) (*Response, error) {
	headers := http.Header{}
	headers.Set("anthropic-version", anthropicVersion)
	if a.apiKey != "" {
		headers.Set("x-api-key", a.apiKey)
	}

	resp, err := doRequest(ctx, a.client, a.baseURL+"/v1/messages", headers, buildAnthropicRequest(request))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var wire anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("llm/anthropic: decoding response: %w", err)
	}
	return wire.toResponse(), nil
}

func buildAnthropicRequest(request Request) anthropicRequest {
	wire := anthropicRequest{
		Model:     request.Model,
		MaxTokens: request.MaxTokens,
		System:    request.System,
	}
	for _, m := range request.Messages {
		wm := anthropicMessage{Role: string(m.Role)}
		for _, b := range m.Content {
			wm.Content = append(wm.Content, toAnthropicBlock(b))
		}
		wire.Messages = append(wire.Messages, wm)
	}
	for _, t := range request.Tools {
		wire.Tools = append(wire.Tools, anthropicTool(t))
	}
	return wire
}

func toAnthropicBlock(b ContentBlock) anthropicContentBlock {
	switch b.Type {
	case ContentToolUse:
		input := b.ToolUse.Input
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		return anthropicContentBlock{Type: "tool_use", ID: b.ToolUse.ID, Name: b.ToolUse.Name, Input: input}
	case ContentToolResult:
		content, _ := json.Marshal(b.ToolResult.Content)
		return anthropicContentBlock{
			Type:      "tool_result",
			ToolUseID: b.ToolResult.ToolUseID,
			Content:   content,
			IsError:   b.ToolResult.IsError,
		}
	default:
		return anthropicContentBlock{Type: "text", Text: b.Text}
	}
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Model      string                  `json:"model"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      Usage                   `json:"usage"`
}

func (w *anthropicResponse) toResponse() *Response {
	resp := &Response{
		ID:         w.ID,
		Model:      w.Model,
		StopReason: StopReason(w.StopReason),
		Usage:      w.Usage,
	}
	for _, b := range w.Content {
		switch b.Type {
		case "text":
			resp.Content = append(resp.Content, TextBlock(b.Text))
		case "tool_use":
			resp.Content = append(resp.Content, ToolUseBlock(b.ID, b.Name, b.Input))
		}
	}
	return resp
}
