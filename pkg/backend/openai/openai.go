// Package openai implements the backend.Provider contract against an
// OpenAI-compatible chat-completions API, grounded on the teacher's
// generic OpenAI-compatible HTTP client shape.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"lectic/pkg/backend"
	"lectic/pkg/sse"
	"lectic/pkg/tool"
)

const defaultTimeout = 120 * time.Second

// Config configures one Provider instance, built fresh per active
// interlocutor turn by pkg/pipeline.
type Config struct {
	BaseURL      string
	Model        string
	SystemPrompt string
	Reminder     string
	MaxTokens    int
	Temperature  *float64
	Tools        []tool.Spec
	// APIKeyEnv names the environment variable holding the API key;
	// defaults to OPENAI_API_KEY.
	APIKeyEnv string
	Timeout   time.Duration
}

// Provider implements backend.Provider against the chat-completions wire
// format. It does not support cache control: the API has no equivalent of
// Anthropic's ephemeral breakpoints.
type Provider struct {
	cfg        Config
	apiKey     string
	httpClient *http.Client
}

var _ backend.Provider = (*Provider)(nil)

// New resolves the API key from the environment and builds a Provider.
func New(cfg Config) (*Provider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai: model is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	keyEnv := cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = "OPENAI_API_KEY"
	}
	key := os.Getenv(keyEnv)
	if key == "" {
		return nil, fmt.Errorf("openai: environment variable %s not set", keyEnv)
	}
	return &Provider{cfg: cfg, apiKey: key, httpClient: &http.Client{Timeout: cfg.Timeout}}, nil
}

func (p *Provider) Name() string              { return "openai" }
func (p *Provider) SupportsCacheControl() bool { return false }

type wireMessage struct {
	Role       string          `json:"role"`
	Content    string          `json:"content,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolCalls  []wireToolCall  `json:"tool_calls,omitempty"`
}

type wireToolCall struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Function wireToolCallFn  `json:"function"`
}

type wireToolCallFn struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	Stream      bool          `json:"stream"`
}

// EncodeHistory converts entries into an OpenAI chat-completions request
// body, re-labeling other-interlocutor assistant history per §4.6; cache
// placement is a no-op since SupportsCacheControl is false.
func (p *Provider) EncodeHistory(entries []backend.HistoryEntry, opts backend.EncodeOptions) (any, error) {
	relabeled := backend.RelabelSpeaker(entries, opts.ActiveSpeaker)

	req := chatRequest{Model: p.cfg.Model, MaxTokens: p.cfg.MaxTokens, Temperature: p.cfg.Temperature, Stream: true}

	system := p.cfg.SystemPrompt
	if p.cfg.Reminder != "" {
		system += "\n\n" + p.cfg.Reminder
	}
	if system != "" {
		req.Messages = append(req.Messages, wireMessage{Role: "system", Content: system})
	}

	for _, e := range relabeled {
		req.Messages = append(req.Messages, encodeMessages(e)...)
	}

	for _, s := range p.cfg.Tools {
		req.Tools = append(req.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        s.Name,
				Description: s.Description,
				Parameters: map[string]any{
					"type":       "object",
					"properties": s.Parameters,
					"required":   s.Required,
				},
			},
		})
	}

	return req, nil
}

func encodeMessages(e backend.HistoryEntry) []wireMessage {
	role := "user"
	if e.Role == backend.RoleAssistant {
		role = "assistant"
	}

	text := e.Text
	for _, a := range e.Attachments {
		text += fmt.Sprintf("\n\n[%s attachment]\n%s", a.Kind, a.Content)
	}

	msg := wireMessage{Role: role, Content: text}
	for _, tc := range e.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, wireToolCall{
			ID: tc.ID, Type: "function",
			Function: wireToolCallFn{Name: tc.Name, Arguments: string(tc.Args)},
		})
	}
	msgs := []wireMessage{msg}

	for _, tc := range e.ToolCalls {
		result := ""
		for _, r := range tc.Results {
			result += r.Text
		}
		msgs = append(msgs, wireMessage{Role: "tool", ToolCallID: tc.ID, Content: result})
	}
	return msgs
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
	} `json:"choices"`
}

// StreamCompletion posts the chat-completions request and drains its SSE
// stream, accumulating text and (by index) tool-call argument deltas.
func (p *Provider) StreamCompletion(ctx context.Context, encoded any, onDelta func(string) error) (*backend.Completion, error) {
	req, ok := encoded.(chatRequest)
	if !ok {
		return nil, fmt.Errorf("openai: unexpected encoded request type %T", encoded)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("openai: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("openai: status %d", resp.StatusCode)
	}

	var text string
	type pendingCall struct {
		id, name string
		args     string
	}
	byIndex := map[int]*pendingCall{}
	var order []int

	err = sse.Scan(resp.Body, func(data string) error {
		var chunk chatChunk
		if jerr := json.Unmarshal([]byte(data), &chunk); jerr != nil {
			return nil
		}
		if len(chunk.Choices) == 0 {
			return nil
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			text += delta.Content
			if onDelta != nil {
				if derr := onDelta(delta.Content); derr != nil {
					return derr
				}
			}
		}
		for _, tc := range delta.ToolCalls {
			pc, ok := byIndex[tc.Index]
			if !ok {
				pc = &pendingCall{}
				byIndex[tc.Index] = pc
				order = append(order, tc.Index)
			}
			if tc.ID != "" {
				pc.id = tc.ID
			}
			if tc.Function.Name != "" {
				pc.name = tc.Function.Name
			}
			pc.args += tc.Function.Arguments
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("openai: stream: %w", err)
	}

	calls := make([]backend.ToolCall, 0, len(order))
	for _, idx := range order {
		pc := byIndex[idx]
		calls = append(calls, backend.ToolCall{CallID: pc.id, Name: pc.name, Args: json.RawMessage(pc.args)})
	}

	return &backend.Completion{Text: text, ToolCalls: calls}, nil
}
