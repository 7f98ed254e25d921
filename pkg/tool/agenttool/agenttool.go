// Package agenttool implements the "agent" tool variant: wrapping another
// interlocutor so a call opens a nested conversation, runs that
// interlocutor's turn loop to completion, and returns its answer (§4.3).
//
// The turn loop itself lives in pkg/backend, which imports this package
// for Transcript — so this package cannot import pkg/backend without a
// cycle. Instead, pkg/backend's Runner implements AgentRunner, and
// pkg/pipeline passes the Constructor built with NewFactory to
// tool.NewRegistry for "agent" entries.
package agenttool

import (
	"context"
	"encoding/json"
	"fmt"

	"lectic/pkg/header"
	"lectic/pkg/tool"
)

// Transcript is the result of running a nested conversation to
// completion.
type Transcript struct {
	// Text is the wrapped interlocutor's final reply, plain.
	Text string
	// Sanitized is "{text}\n<toolcall name=X/>…", the reply with any of
	// its own tool calls named but not detailed, per §4.3 ("returns
	// either the raw text or a sanitized transcript").
	Sanitized string
}

// AgentRunner opens and drives one nested conversation with a single
// user message, implemented by pkg/backend.
type AgentRunner interface {
	RunConversation(ctx context.Context, interlocutor, userMessage string) (Transcript, error)
}

type agentConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Usage       string `yaml:"usage"`
	Sanitized   bool   `yaml:"sanitized"`
}

type agentArgs struct {
	Message string `json:"message"`
}

// Tool calls into another interlocutor's conversation (§4.3 agent).
type Tool struct {
	tool.Base
	runner       AgentRunner
	interlocutor string
	sanitized    bool
}

// NewFactory returns a tool.Constructor bound to runner, for "agent"
// ToolSpec entries; non-agent specs passed to it are a caller error.
func NewFactory(runner AgentRunner) tool.Constructor {
	return func(ctx context.Context, spec header.ToolSpec) ([]tool.Tool, error) {
		if spec.Variant != header.VariantAgent {
			return nil, fmt.Errorf("tool: agenttool: spec is not an agent variant")
		}
		if spec.AgentRef == "" {
			return nil, fmt.Errorf("tool: agenttool: agent tool has no referenced interlocutor")
		}
		var cfg agentConfig
		if err := spec.Node.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("tool: agenttool: %w", err)
		}
		name := cfg.Name
		if name == "" {
			name = "ask_" + spec.AgentRef
		}
		description := cfg.Description
		if description == "" {
			description = fmt.Sprintf("Consult the %s interlocutor.", spec.AgentRef)
		}
		base, err := tool.NewBase(name, description, cfg.Usage, map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "the message to send to " + spec.AgentRef,
			},
		}, []string{"message"})
		if err != nil {
			return nil, err
		}
		return []tool.Tool{&Tool{
			Base:         base,
			runner:       runner,
			interlocutor: spec.AgentRef,
			sanitized:    cfg.Sanitized,
		}}, nil
	}
}

func (t *Tool) Call(ctx context.Context, args []byte) ([]tool.Result, error) {
	var a agentArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("tool: agenttool: %w", err)
		}
	}
	transcript, err := t.runner.RunConversation(ctx, t.interlocutor, a.Message)
	if err != nil {
		return nil, fmt.Errorf("tool: agenttool: %s: %w", t.interlocutor, err)
	}
	text := transcript.Text
	if t.sanitized {
		text = transcript.Sanitized
	}
	return []tool.Result{{Text: text, Mimetype: "text/plain"}}, nil
}
