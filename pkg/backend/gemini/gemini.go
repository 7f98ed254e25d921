// Package gemini implements the backend.Provider contract against Google's
// Gemini API via the official google.golang.org/genai SDK.
package gemini

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"

	"google.golang.org/genai"

	"lectic/pkg/backend"
	"lectic/pkg/tool"
)

// Config configures one Provider instance, built fresh per active
// interlocutor turn by pkg/pipeline.
type Config struct {
	Model        string
	SystemPrompt string
	Reminder     string
	MaxTokens    int
	Temperature  *float64
	Tools        []tool.Spec
	// APIKeyEnv names the environment variable holding the API key;
	// defaults to GEMINI_API_KEY.
	APIKeyEnv string
}

// Provider implements backend.Provider against the Gemini GenerateContent
// API. It does not support cache control: this lineage's explicit context
// caching is a separate, resource-managed API this implementation does not
// wire up.
type Provider struct {
	client *genai.Client
	cfg    Config
}

var _ backend.Provider = (*Provider)(nil)

// New resolves the API key from the environment and builds a Provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("gemini: model is required")
	}
	keyEnv := cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = "GEMINI_API_KEY"
	}
	key := os.Getenv(keyEnv)
	if key == "" {
		return nil, fmt.Errorf("gemini: environment variable %s not set", keyEnv)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: key})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Provider{client: client, cfg: cfg}, nil
}

func (p *Provider) Name() string              { return "gemini" }
func (p *Provider) SupportsCacheControl() bool { return false }

type request struct {
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

// EncodeHistory builds the []*genai.Content request, re-labeling
// other-interlocutor assistant history per §4.6.
func (p *Provider) EncodeHistory(entries []backend.HistoryEntry, opts backend.EncodeOptions) (any, error) {
	relabeled := backend.RelabelSpeaker(entries, opts.ActiveSpeaker)

	contents := make([]*genai.Content, 0, len(relabeled))
	for _, e := range relabeled {
		contents = append(contents, encodeEntry(e))
	}

	config := &genai.GenerateContentConfig{}
	system := p.cfg.SystemPrompt
	if p.cfg.Reminder != "" {
		system += "\n\n" + p.cfg.Reminder
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if p.cfg.MaxTokens > 0 {
		config.MaxOutputTokens = int32(p.cfg.MaxTokens)
	}
	if p.cfg.Temperature != nil {
		t := float32(*p.cfg.Temperature)
		config.Temperature = &t
	}
	if len(p.cfg.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: encodeTools(p.cfg.Tools)}}
	}

	return request{contents: contents, config: config}, nil
}

func encodeEntry(e backend.HistoryEntry) *genai.Content {
	role := "user"
	if e.Role == backend.RoleAssistant {
		role = "model"
	}

	var parts []*genai.Part
	if e.Text != "" {
		parts = append(parts, &genai.Part{Text: e.Text})
	}
	for _, a := range e.Attachments {
		parts = append(parts, &genai.Part{Text: fmt.Sprintf("[%s attachment]\n%s", a.Kind, a.Content)})
	}
	for _, tc := range e.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal(tc.Args, &args)
		parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args}})
		result := ""
		for _, r := range tc.Results {
			result += r.Text
		}
		parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
			ID: tc.ID, Name: tc.Name, Response: map[string]any{"result": result},
		}})
	}

	return &genai.Content{Role: role, Parts: parts}
}

func encodeTools(specs []tool.Spec) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, s := range specs {
		out = append(out, &genai.FunctionDeclaration{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  toGenaiSchema(s.Parameters, s.Required),
		})
	}
	return out
}

func toGenaiSchema(properties map[string]any, required []string) *genai.Schema {
	schema := &genai.Schema{Type: genai.Type("object"), Required: required}
	if len(properties) > 0 {
		schema.Properties = make(map[string]*genai.Schema, len(properties))
		for name, raw := range properties {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			prop := &genai.Schema{}
			if t, ok := m["type"].(string); ok {
				prop.Type = genai.Type(t)
			}
			if d, ok := m["description"].(string); ok {
				prop.Description = d
			}
			schema.Properties[name] = prop
		}
	}
	return schema
}

// generateStableFunctionCallID mirrors how this lineage's SDK fills in an
// ID for a function call the model omitted one for, so tool results can
// still be correlated back to their call.
func generateStableFunctionCallID(name string, args map[string]any) string {
	b, _ := json.Marshal(args)
	sum := sha256.Sum256(append([]byte(name), b...))
	return fmt.Sprintf("%x", sum[:8])
}

// StreamCompletion issues the streaming GenerateContent call and drains
// text deltas through onDelta, accumulating function calls by ID (§4.6
// step 3-4).
func (p *Provider) StreamCompletion(ctx context.Context, encoded any, onDelta func(string) error) (*backend.Completion, error) {
	req, ok := encoded.(request)
	if !ok {
		return nil, fmt.Errorf("gemini: unexpected encoded request type %T", encoded)
	}

	var text string
	var calls []backend.ToolCall
	seen := map[string]bool{}

	for resp, err := range p.client.Models.GenerateContentStream(ctx, p.cfg.Model, req.contents, req.config) {
		if err != nil {
			return nil, fmt.Errorf("gemini: stream: %w", err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				text += part.Text
				if onDelta != nil {
					if derr := onDelta(part.Text); derr != nil {
						return nil, derr
					}
				}
			}
			if part.FunctionCall != nil {
				id := part.FunctionCall.ID
				if id == "" {
					id = generateStableFunctionCallID(part.FunctionCall.Name, part.FunctionCall.Args)
				}
				if seen[id] {
					continue
				}
				seen[id] = true
				args, _ := json.Marshal(part.FunctionCall.Args)
				calls = append(calls, backend.ToolCall{CallID: id, Name: part.FunctionCall.Name, Args: args})
			}
		}
	}

	return &backend.Completion{Text: text, ToolCalls: calls}, nil
}
