// Package header parses, merges, and validates lectic headers: the YAML
// configuration that names interlocutors, their providers, tools, macros,
// and hooks (§3 Header, §4.2 Header Merger).
package header

import "gopkg.in/yaml.v3"

// ThinkingEffort is the Interlocutor.ThinkingEffort enumeration.
type ThinkingEffort string

const (
	ThinkingNone   ThinkingEffort = "none"
	ThinkingLow    ThinkingEffort = "low"
	ThinkingMedium ThinkingEffort = "medium"
	ThinkingHigh   ThinkingEffort = "high"
)

const DefaultMaxToolUse = 10

// Header is the fully merged, validated configuration for one invocation.
// node is the merged raw tree it was decoded from, retained so that
// in-pipeline ":merge_yaml"/":temp_merge_yaml" directives can merge
// further YAML on top and re-derive a new Header (see MergeYAML).
type Header struct {
	node *yaml.Node

	Interlocutor  *Interlocutor
	Interlocutors []*Interlocutor

	Macros      map[string]Macro
	Kits        map[string][]ToolSpec
	Imports     []string
	HookDefs    map[string]HookSpec
	EnvDefs     map[string]string
	SandboxDefs map[string]map[string]any
}

// Interlocutor is one speaking party: a provider/model binding, prompt,
// and tool/hook set (§3 Interlocutor).
type Interlocutor struct {
	Name           string         `yaml:"name"`
	Prompt         string         `yaml:"prompt"`
	Provider       string         `yaml:"provider"`
	Model          string         `yaml:"model"`
	Temperature    *float64       `yaml:"temperature"`
	MaxTokens      int            `yaml:"max_tokens"`
	MaxToolUse     int            `yaml:"max_tool_use"`
	Reminder       string         `yaml:"reminder"`
	NoCache        bool           `yaml:"nocache"`
	Tools          []ToolSpec     `yaml:"tools"`
	Hooks          []HookSpec     `yaml:"hooks"`
	ThinkingEffort ThinkingEffort `yaml:"thinking_effort"`
}

// Macro is a named, user-defined directive (§4.5 Macro/Directive Pipeline).
type Macro struct {
	Name      string `yaml:"name"`
	Expansion string `yaml:"expansion"`
	Pre       string `yaml:"pre"`
	Post      string `yaml:"post"`
}

// HookSpec is one lifecycle hook binding (§4.4 Hook Runner).
type HookSpec struct {
	On     string `yaml:"on"`
	Do     string `yaml:"do"`
	Inline bool   `yaml:"inline"`
	Fatal  bool   `yaml:"fatal"`
}

// ToolVariant is the tagged-union discriminator for a ToolSpec (§4.3).
type ToolVariant string

const (
	VariantExec       ToolVariant = "exec"
	VariantSqlite     ToolVariant = "sqlite"
	VariantThinkAbout ToolVariant = "think_about"
	VariantServe      ToolVariant = "serve"
	VariantMCPCommand ToolVariant = "mcp_command"
	VariantMCPWS      ToolVariant = "mcp_ws"
	VariantMCPSHTTP   ToolVariant = "mcp_shttp"
	VariantAgent      ToolVariant = "agent"
	VariantA2A        ToolVariant = "a2a"
	VariantNative     ToolVariant = "native"
	VariantKit        ToolVariant = "kit"
)

// ToolSpec is one entry of an interlocutor's "tools" array or a kit's tool
// list. Variant identifies which discriminator key was present; Node
// retains the full raw mapping so pkg/tool's variant constructors can
// decode their own variant-specific fields without this package needing
// to know their shape. KitName is set only when Variant == VariantKit.
type ToolSpec struct {
	Variant ToolVariant
	Name    string
	KitName string
	// AgentRef is the interlocutor name an "agent" variant wraps (the
	// scalar value of its "agent" discriminator key).
	AgentRef string
	Node     *yaml.Node
}

var variantKeys = []ToolVariant{
	VariantExec, VariantSqlite, VariantThinkAbout, VariantServe,
	VariantMCPCommand, VariantMCPWS, VariantMCPSHTTP, VariantAgent,
	VariantA2A, VariantNative, VariantKit,
}

// UnmarshalYAML detects the discriminator key present on a tool mapping
// and records the variant plus the raw node for later, variant-specific
// decoding by pkg/tool.
func (t *ToolSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return &ValidationError{Msg: "tool entry must be a mapping"}
	}
	t.Node = node
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		for _, v := range variantKeys {
			if key == string(v) {
				t.Variant = v
				switch v {
				case VariantKit:
					t.KitName = node.Content[i+1].Value
				case VariantAgent:
					if node.Content[i+1].Kind == yaml.ScalarNode {
						t.AgentRef = node.Content[i+1].Value
					}
				}
			}
		}
		if key == "name" {
			t.Name = node.Content[i+1].Value
		}
	}
	if t.Variant == "" {
		return &ValidationError{Msg: "tool entry has no recognized variant key"}
	}
	return nil
}

// ValidationError is a strict, user-addressed header validation failure
// (§4.2, §7 Error taxonomy). Interlocutor/Kit name the offending entity
// when known.
type ValidationError struct {
	Interlocutor string
	Kit          string
	Field        string
	Msg          string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Interlocutor != "" && e.Field != "":
		return "header: interlocutor " + e.Interlocutor + ": " + e.Field + ": " + e.Msg
	case e.Interlocutor != "":
		return "header: interlocutor " + e.Interlocutor + ": " + e.Msg
	case e.Kit != "":
		return "header: kit " + e.Kit + ": " + e.Msg
	default:
		return "header: " + e.Msg
	}
}
