// Package ollama implements the backend.Provider contract against a local
// Ollama server's native /api/chat endpoint, which streams newline-delimited
// JSON objects rather than Server-Sent Events.
package ollama

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

	"lectic/pkg/backend"
	"lectic/pkg/tool"
)

const defaultTimeout = 300 * time.Second

// Config configures one Provider instance, built fresh per active
// interlocutor turn by pkg/pipeline.
type Config struct {
	BaseURL      string
	Model        string
	SystemPrompt string
	Reminder     string
	Temperature  *float64
	Tools        []tool.Spec
	Timeout      time.Duration
}

// Provider implements backend.Provider against Ollama's native chat API. It
// does not support cache control: Ollama has no ephemeral-breakpoint concept.
type Provider struct {
	cfg        Config
	httpClient *http.Client
}

var _ backend.Provider = (*Provider)(nil)

// New builds a Provider, defaulting BaseURL to the local Ollama daemon.
func New(cfg Config) (*Provider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama: model is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Provider{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}, nil
}

func (p *Provider) Name() string              { return "ollama" }
func (p *Provider) SupportsCacheControl() bool { return false }

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	Function wireToolCallFn `json:"function"`
}

type wireToolCallFn struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
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
	Model    string         `json:"model"`
	Messages []wireMessage  `json:"messages"`
	Tools    []wireTool     `json:"tools,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
	Stream   bool           `json:"stream"`
}

// EncodeHistory converts entries into an Ollama /api/chat request body,
// re-labeling other-interlocutor assistant history per §4.6.
func (p *Provider) EncodeHistory(entries []backend.HistoryEntry, opts backend.EncodeOptions) (any, error) {
	relabeled := backend.RelabelSpeaker(entries, opts.ActiveSpeaker)

	req := chatRequest{Model: p.cfg.Model, Stream: true}
	if p.cfg.Temperature != nil {
		req.Options = map[string]any{"temperature": *p.cfg.Temperature}
	}

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
		var args map[string]any
		_ = json.Unmarshal(tc.Args, &args)
		msg.ToolCalls = append(msg.ToolCalls, wireToolCall{Function: wireToolCallFn{Name: tc.Name, Arguments: args}})
	}
	msgs := []wireMessage{msg}

	for _, tc := range e.ToolCalls {
		result := ""
		for _, r := range tc.Results {
			result += r.Text
		}
		msgs = append(msgs, wireMessage{Role: "tool", Content: result, ToolCallID: tc.ID})
	}
	return msgs
}

type streamChunk struct {
	Message wireMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}

// StreamCompletion posts the chat request and drains its newline-delimited
// JSON stream, one full message object per line (no partial tool-call-arg
// deltas to accumulate, unlike the SSE-based providers).
func (p *Provider) StreamCompletion(ctx context.Context, encoded any, onDelta func(string) error) (*backend.Completion, error) {
	req, ok := encoded.(chatRequest)
	if !ok {
		return nil, fmt.Errorf("ollama: unexpected encoded request type %T", encoded)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama: status %d: %s", resp.StatusCode, string(data))
	}

	var text string
	var calls []backend.ToolCall

	reader := bufio.NewReader(resp.Body)
	for {
		line, rerr := reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			var chunk streamChunk
			if jerr := json.Unmarshal(line, &chunk); jerr == nil {
				if chunk.Error != "" {
					return nil, fmt.Errorf("ollama: %s", chunk.Error)
				}
				if chunk.Message.Content != "" {
					text += chunk.Message.Content
					if onDelta != nil {
						if derr := onDelta(chunk.Message.Content); derr != nil {
							return nil, derr
						}
					}
				}
				for _, tc := range chunk.Message.ToolCalls {
					args, _ := json.Marshal(tc.Function.Arguments)
					calls = append(calls, backend.ToolCall{
						CallID: fmt.Sprintf("%s-%d", tc.Function.Name, len(calls)),
						Name:   tc.Function.Name,
						Args:   args,
					})
				}
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return nil, fmt.Errorf("ollama: stream: %w", rerr)
		}
	}

	return &backend.Completion{Text: text, ToolCalls: calls}, nil
}
