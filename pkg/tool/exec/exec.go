// Package exec implements the "exec" tool variant: spawning an OS
// subprocess whose argv (and optionally stdin) is populated from the
// model's call arguments (§4.3).
package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"lectic/pkg/header"
	"lectic/pkg/tool"
)

// execConfig is the "exec" variant's own fields, decoded from
// header.ToolSpec.Node.
type execConfig struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Usage       string         `yaml:"usage"`
	Exec        execSpec       `yaml:"exec"`
	Properties  map[string]any `yaml:"properties"`
	Required    []string       `yaml:"required"`
}

type execSpec struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Stdin   string   `yaml:"stdin"`
}

// Tool runs a fixed command with argv elements templated by `$name`
// references into the call argument object; Stdin, if set, names the
// call-argument property piped to the subprocess's standard input.
type Tool struct {
	tool.Base
	command string
	argv    []string
	stdin   string
}

// New builds the "exec" variant from its ToolSpec.
func New(ctx context.Context, spec header.ToolSpec) ([]tool.Tool, error) {
	var cfg execConfig
	if err := spec.Node.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("tool: exec: %w", err)
	}
	if cfg.Exec.Command == "" {
		return nil, fmt.Errorf("tool: exec: command is required")
	}
	name := cfg.Name
	if name == "" {
		name = "exec"
	}
	description := cfg.Description
	if description == "" {
		description = fmt.Sprintf("Run %q.", cfg.Exec.Command)
	}
	base, err := tool.NewBase(name, description, cfg.Usage, cfg.Properties, cfg.Required)
	if err != nil {
		return nil, err
	}
	return []tool.Tool{&Tool{
		Base:    base,
		command: cfg.Exec.Command,
		argv:    cfg.Exec.Args,
		stdin:   cfg.Exec.Stdin,
	}}, nil
}

// Call spawns the subprocess (§4.3: "spawn an OS subprocess; args populate
// argv/stdin per exec spec. Stdout becomes text/plain Result; nonzero exit
// becomes isError with stderr text").
func (t *Tool) Call(ctx context.Context, args []byte) ([]tool.Result, error) {
	var decoded map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &decoded); err != nil {
			return nil, fmt.Errorf("tool: exec: %w", err)
		}
	}

	argv := make([]string, len(t.argv))
	for i, a := range t.argv {
		argv[i] = substitute(a, decoded)
	}

	cmd := exec.CommandContext(ctx, t.command, argv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if t.stdin != "" {
		if v, ok := decoded[t.stdin]; ok {
			cmd.Stdin = strings.NewReader(fmt.Sprint(v))
		}
	}

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("tool: exec %s: %s", t.command, msg)
	}
	return []tool.Result{{
		Text:     stdout.String(),
		Mimetype: "text/plain",
	}}, nil
}

func substitute(template string, args map[string]any) string {
	if !strings.Contains(template, "$") {
		return template
	}
	out := template
	for k, v := range args {
		out = strings.ReplaceAll(out, "$"+k, fmt.Sprint(v))
	}
	return out
}
