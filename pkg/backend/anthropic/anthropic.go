// Package anthropic implements the backend.Provider contract against the
// Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"

	"lectic/pkg/backend"
	"lectic/pkg/header"
	"lectic/pkg/tool"
)

// thinkingBudget maps an interlocutor's thinking_effort to an extended
// thinking token budget.
var thinkingBudget = map[header.ThinkingEffort]int64{
	header.ThinkingLow:    4096,
	header.ThinkingMedium: 10000,
	header.ThinkingHigh:   32000,
}

// Config configures one Provider instance, built fresh per active
// interlocutor turn by pkg/pipeline.
type Config struct {
	Model        string
	SystemPrompt string
	Reminder     string
	MaxTokens    int
	Temperature  *float64
	Thinking     header.ThinkingEffort
	Tools        []tool.Spec
	// APIKeyEnv names the environment variable holding the API key;
	// defaults to ANTHROPIC_API_KEY. Ignored when Bedrock is set.
	APIKeyEnv string
	// Bedrock routes requests through Amazon Bedrock instead of the
	// direct Anthropic API, signing with the ambient AWS credential
	// chain rather than an API key (provider "anthropic-bedrock").
	Bedrock bool
}

// Provider implements backend.Provider against the real Anthropic Messages
// API, encoding history with the §4.6 cache-control placement rule.
type Provider struct {
	cfg    Config
	apiKey string
}

var _ backend.Provider = (*Provider)(nil)

// New resolves the API key from the environment (or, for Bedrock, defers
// to the ambient AWS credential chain) and builds a Provider.
func New(cfg Config) (*Provider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("anthropic: model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Bedrock {
		return &Provider{cfg: cfg}, nil
	}
	keyEnv := cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = "ANTHROPIC_API_KEY"
	}
	key := os.Getenv(keyEnv)
	if key == "" {
		return nil, fmt.Errorf("anthropic: environment variable %s not set", keyEnv)
	}
	return &Provider{cfg: cfg, apiKey: key}, nil
}

func (p *Provider) Name() string {
	if p.cfg.Bedrock {
		return "anthropic-bedrock"
	}
	return "anthropic"
}
func (p *Provider) SupportsCacheControl() bool { return true }

// EncodeHistory builds anthropic.MessageNewParams from entries, re-labeling
// other-interlocutor assistant history and placing the single ephemeral
// cache-control breakpoint opts identifies (§4.6 Cache control: "markers
// on earlier messages are removed each turn" is satisfied by recomputing
// the whole param list fresh every call instead of mutating state).
func (p *Provider) EncodeHistory(entries []backend.HistoryEntry, opts backend.EncodeOptions) (any, error) {
	relabeled := backend.RelabelSpeaker(entries, opts.ActiveSpeaker)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.cfg.Model),
		MaxTokens: int64(p.cfg.MaxTokens),
	}

	system := p.cfg.SystemPrompt
	if p.cfg.Reminder != "" {
		system += "\n\n" + p.cfg.Reminder
	}
	if system != "" {
		block := anthropic.TextBlockParam{Text: system}
		if !opts.NoCache && opts.CacheBreakpoint < 0 {
			block.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		params.System = []anthropic.TextBlockParam{block}
	}

	if p.cfg.Temperature != nil {
		params.Temperature = anthropic.Float(*p.cfg.Temperature)
	}

	if budget, ok := thinkingBudget[p.cfg.Thinking]; ok {
		params.Thinking = anthropic.ThinkingConfigParamUnion{
			OfEnabled: &anthropic.ThinkingConfigEnabledParam{BudgetTokens: budget},
		}
	}

	if len(p.cfg.Tools) > 0 {
		tools, err := encodeTools(p.cfg.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}

	messages := make([]anthropic.MessageParam, 0, len(relabeled))
	for i, e := range relabeled {
		msg := encodeEntry(e)
		if i == opts.CacheBreakpoint && !opts.NoCache && len(msg.Content) > 0 {
			markLastBlockCacheable(&msg.Content[len(msg.Content)-1])
		}
		messages = append(messages, msg)
	}
	params.Messages = messages

	return params, nil
}

func encodeEntry(e backend.HistoryEntry) anthropic.MessageParam {
	var blocks []anthropic.ContentBlockParamUnion
	if e.Text != "" {
		blocks = append(blocks, anthropic.NewTextBlock(e.Text))
	}
	for _, a := range e.Attachments {
		blocks = append(blocks, anthropic.NewTextBlock(fmt.Sprintf("[%s attachment]\n%s", a.Kind, a.Content)))
	}
	for _, tc := range e.ToolCalls {
		var input map[string]any
		_ = json.Unmarshal(tc.Args, &input)
		blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
	}

	role := anthropic.MessageParamRoleUser
	if e.Role == backend.RoleAssistant {
		role = anthropic.MessageParamRoleAssistant
	}
	return anthropic.MessageParam{Role: role, Content: blocks}
}

func markLastBlockCacheable(block *anthropic.ContentBlockParamUnion) {
	switch {
	case block.OfText != nil:
		block.OfText.CacheControl = anthropic.NewCacheControlEphemeralParam()
	case block.OfToolUse != nil:
		block.OfToolUse.CacheControl = anthropic.NewCacheControlEphemeralParam()
	case block.OfToolResult != nil:
		block.OfToolResult.CacheControl = anthropic.NewCacheControlEphemeralParam()
	}
}

func encodeTools(specs []tool.Spec) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, s := range specs {
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        s.Name,
				Description: anthropic.String(s.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: s.Parameters,
					Required:   s.Required,
				},
			},
		})
	}
	return out, nil
}

// StreamCompletion issues the Messages API streaming call and drains text
// deltas through onDelta, returning the fully realized Completion (§4.6
// step 3-4).
func (p *Provider) StreamCompletion(ctx context.Context, encoded any, onDelta func(string) error) (*backend.Completion, error) {
	params, ok := encoded.(anthropic.MessageNewParams)
	if !ok {
		return nil, fmt.Errorf("anthropic: unexpected encoded request type %T", encoded)
	}

	var client anthropic.Client
	if p.cfg.Bedrock {
		client = anthropic.NewClient(bedrock.WithLoadDefaultConfig(ctx))
	} else {
		client = anthropic.NewClient(option.WithAPIKey(p.apiKey))
	}
	stream := client.Messages.NewStreaming(ctx, params)

	var text string
	type pendingCall struct {
		id, name string
		args     string
	}
	var calls []*pendingCall
	byIndex := map[int64]*pendingCall{}

	for stream.Next() {
		event := stream.Current()
		switch e := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if e.ContentBlock.Type == "tool_use" {
				block := e.ContentBlock.AsToolUse()
				pc := &pendingCall{id: block.ID, name: block.Name}
				calls = append(calls, pc)
				byIndex[e.Index] = pc
			}
		case anthropic.ContentBlockDeltaEvent:
			switch e.Delta.Type {
			case "text_delta":
				delta := e.Delta.AsTextDelta()
				text += delta.Text
				if onDelta != nil {
					if err := onDelta(delta.Text); err != nil {
						return nil, err
					}
				}
			case "input_json_delta":
				delta := e.Delta.AsInputJSONDelta()
				if pc, ok := byIndex[e.Index]; ok {
					pc.args += delta.PartialJSON
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic: stream: %w", err)
	}

	toolCalls := make([]backend.ToolCall, 0, len(calls))
	for _, c := range calls {
		toolCalls = append(toolCalls, backend.ToolCall{CallID: c.id, Name: c.name, Args: json.RawMessage(c.args)})
	}

	return &backend.Completion{Text: text, ToolCalls: toolCalls}, nil
}
