// Package tool implements the uniform tool contract and the per-
// interlocutor registry that instantiates each configured variant
// (§4.3 Tool Registry & Adapters).
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"lectic/pkg/header"
)

// Result is one tool call result part (§3 Tool Call Result). Mimetype
// "text/*" is collapsed to "text/plain" by the turn loop via
// CollapseMimetype; binary mimetypes (image/audio/video/pdf) are threaded back as
// attachments by the turn loop rather than kept inline here.
type Result struct {
	Text     string
	Mimetype string
}

// Tool is the uniform contract every variant implements (§4.3).
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Required() []string
	Usage() string
	Validate(args []byte) error
	Call(ctx context.Context, args []byte) ([]Result, error)
}

// Registry is the fixed set of tools available to one interlocutor. Built
// once during header initialization and read-only thereafter (§3
// Lifecycle, §5 Shared-resource policy).
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry constructs a Registry from an interlocutor's already
// kit-expanded tool specs, using ctorFor to instantiate each variant.
// Name collision during construction is fatal (§3 Lifecycle: "Tool names
// within a single interlocutor registry are unique; collision during
// initialization is fatal.").
func NewRegistry(ctx context.Context, specs []header.ToolSpec, ctorFor Constructor) (*Registry, error) {
	r := &Registry{tools: map[string]Tool{}}
	for _, spec := range specs {
		t, err := ctorFor(ctx, spec)
		if err != nil {
			return nil, fmt.Errorf("tool: construct %s: %w", spec.Variant, err)
		}
		for _, one := range t {
			if _, exists := r.tools[one.Name()]; exists {
				return nil, fmt.Errorf("tool: duplicate tool name %q", one.Name())
			}
			r.tools[one.Name()] = one
			r.order = append(r.order, one.Name())
		}
	}
	return r, nil
}

// Constructor builds zero or more Tools from one ToolSpec. MCP variants
// can expand to multiple Tools (one per peer-exposed capability); most
// variants return exactly one. Kit references are already expanded by
// pkg/header and never reach a Constructor.
type Constructor func(ctx context.Context, spec header.ToolSpec) ([]Tool, error)

// Lookup returns the named tool, or nil if unregistered.
func (r *Registry) Lookup(name string) Tool { return r.tools[name] }

// Names returns tool names in registration order.
func (r *Registry) Names() []string { return append([]string(nil), r.order...) }

// Specs returns the provider-facing {name, description, parameters,
// required} tuple for every registered tool, in registration order.
func (r *Registry) Specs() []Spec {
	out := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, Spec{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
			Required:    t.Required(),
		})
	}
	return out
}

// Spec is the provider-facing tool declaration.
type Spec struct {
	Name        string
	Description string
	Parameters  map[string]any
	Required    []string
}

// CompileSchema compiles a {properties, required} pair into a reusable
// JSON-Schema validator, compiled once per tool at registry construction
// time (§4.3 validate(args)).
func CompileSchema(name string, properties map[string]any, required []string) (*jsonschema.Schema, error) {
	schemaDoc := map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
	buf, err := json.Marshal(schemaDoc)
	if err != nil {
		return nil, fmt.Errorf("tool: marshal schema for %s: %w", name, err)
	}
	schema, err := jsonschema.CompileString(name+".schema.json", string(buf))
	if err != nil {
		return nil, fmt.Errorf("tool: compile schema for %s: %w", name, err)
	}
	return schema, nil
}

// ValidateArgs decodes JSON args and validates them against schema, the
// common body every variant's Validate(args) calls.
func ValidateArgs(schema *jsonschema.Schema, args []byte) error {
	if schema == nil {
		return nil
	}
	var decoded any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &decoded); err != nil {
			return fmt.Errorf("tool: args not valid JSON: %w", err)
		}
	} else {
		decoded = map[string]any{}
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("tool: schema violation: %w", err)
	}
	return nil
}

// CollapseMimetype applies the "text/* -> text/plain" rule (§3 Tool Call
// Result). The turn loop applies it to every Result; the MCP adapters
// also apply it to peer-supplied mimetypes.
func CollapseMimetype(m string) string {
	if m == "" {
		return "text/plain"
	}
	if strings.HasPrefix(m, "text/") {
		return "text/plain"
	}
	return m
}
