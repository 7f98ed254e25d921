package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"lectic/pkg/header"
)

// thinkAboutSpec is the "think_about" variant's own fields, decoded from
// ToolSpec.Node.
type thinkAboutSpec struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Usage       string `yaml:"usage"`
}

type thinkAboutArgs struct {
	Thought string `json:"thought"`
}

// thinkAbout is a no-op scratchpad (§4.3): it records the model's stated
// thought and hands it straight back as the call result, forcing the
// reasoning text onto the transcript rather than discarding it.
type thinkAbout struct {
	Base
}

// NewThinkAbout builds the "think_about" variant from its ToolSpec.
func NewThinkAbout(ctx context.Context, spec header.ToolSpec) ([]Tool, error) {
	var cfg thinkAboutSpec
	if err := spec.Node.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("tool: think_about: %w", err)
	}
	name := cfg.Name
	if name == "" {
		name = "think_about"
	}
	description := cfg.Description
	if description == "" {
		description = "Record a thought before acting; the thought is echoed back verbatim."
	}
	base, err := NewBase(name, description, cfg.Usage, map[string]any{
		"thought": map[string]any{
			"type":        "string",
			"description": "the thought to record",
		},
	}, []string{"thought"})
	if err != nil {
		return nil, err
	}
	return []Tool{&thinkAbout{Base: base}}, nil
}

func (t *thinkAbout) Call(ctx context.Context, args []byte) ([]Result, error) {
	var a thinkAboutArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("tool: think_about: %w", err)
		}
	}
	return []Result{{Text: a.Thought, Mimetype: "text/plain"}}, nil
}
