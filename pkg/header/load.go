package header

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadOptions is the full precedence stack for one invocation, lowest
// precedence first (§6 Config discovery): system config, workspace config,
// --Include files (in the order given), then the document's own front
// matter. In-pipeline ":merge_yaml" is applied afterward via
// Header.MergeYAML, which is always the highest precedence.
type LoadOptions struct {
	SystemConfig    *yaml.Node
	WorkspaceConfig *yaml.Node
	Imports         []*yaml.Node
	DocHeader       *yaml.Node
}

// Load merges the precedence stack and builds a validated Header.
func Load(opts LoadOptions) (*Header, error) {
	docs := []*yaml.Node{opts.SystemConfig, opts.WorkspaceConfig}
	docs = append(docs, opts.Imports...)
	docs = append(docs, opts.DocHeader)
	merged := MergeAll(docs...)
	return Build(merged)
}

// Build decodes a single merged configuration tree into a validated
// Header: top-level fields, per-interlocutor kit expansion, and strict
// validation (§4.2).
func Build(merged *yaml.Node) (*Header, error) {
	if merged == nil {
		return nil, &ValidationError{Msg: "empty header"}
	}

	var raw struct {
		Interlocutor  *yaml.Node                 `yaml:"interlocutor"`
		Interlocutors []*yaml.Node               `yaml:"interlocutors"`
		Macros        map[string]Macro           `yaml:"macros"`
		Kits          map[string][]ToolSpec      `yaml:"kits"`
		Imports       []string                   `yaml:"imports"`
		HookDefs      map[string]HookSpec        `yaml:"hook_defs"`
		EnvDefs       map[string]string          `yaml:"env_defs"`
		SandboxDefs   map[string]map[string]any  `yaml:"sandbox_defs"`
	}
	if err := merged.Decode(&raw); err != nil {
		return nil, fmt.Errorf("header: decode: %w", err)
	}

	h := &Header{
		node:        merged,
		Macros:      raw.Macros,
		Kits:        raw.Kits,
		Imports:     raw.Imports,
		HookDefs:    raw.HookDefs,
		EnvDefs:     raw.EnvDefs,
		SandboxDefs: raw.SandboxDefs,
	}

	if raw.Interlocutor != nil {
		i, err := decodeInterlocutor(raw.Interlocutor)
		if err != nil {
			return nil, err
		}
		h.Interlocutor = i
	}
	for _, n := range raw.Interlocutors {
		i, err := decodeInterlocutor(n)
		if err != nil {
			return nil, err
		}
		h.Interlocutors = append(h.Interlocutors, i)
	}

	// §3 Header: a single `interlocutor` sharing a name with a list entry
	// overrides it and inherits its unspecified fields.
	if h.Interlocutor != nil {
		for idx, li := range h.Interlocutors {
			if li.Name == h.Interlocutor.Name {
				combined := overlayInterlocutor(li, h.Interlocutor)
				h.Interlocutors[idx] = combined
				h.Interlocutor = combined
			}
		}
	}

	for _, i := range allInterlocutors(h) {
		if i.MaxToolUse == 0 {
			i.MaxToolUse = DefaultMaxToolUse
		}
		expanded, err := expandKits(h.Kits, i.Tools)
		if err != nil {
			return nil, err
		}
		i.Tools = expanded
	}

	if err := validate(h); err != nil {
		return nil, err
	}
	return h, nil
}

// MergeYAML merges parsed yamlText on top of this Header's source tree
// (right wins, per MergeValues) and rebuilds a new, validated Header. Used
// for ":merge_yaml"/":temp_merge_yaml" directives, which are always the
// highest-precedence layer (§4.5).
func (h *Header) MergeYAML(yamlText string) (*Header, error) {
	var n yaml.Node
	if err := yaml.Unmarshal([]byte(yamlText), &n); err != nil {
		return nil, fmt.Errorf("merge_yaml: parse: %w", err)
	}
	return Build(MergeValues(h.node, &n))
}

func allInterlocutors(h *Header) []*Interlocutor {
	var all []*Interlocutor
	if h.Interlocutor != nil {
		all = append(all, h.Interlocutor)
	}
	for _, i := range h.Interlocutors {
		if i != h.Interlocutor {
			all = append(all, i)
		}
	}
	return all
}

// overlayInterlocutor produces a new Interlocutor with single's non-zero
// fields taking precedence over list's, inheriting list's value wherever
// single leaves a field at its zero value.
func overlayInterlocutor(list, single *Interlocutor) *Interlocutor {
	out := *list
	if single.Prompt != "" {
		out.Prompt = single.Prompt
	}
	if single.Provider != "" {
		out.Provider = single.Provider
	}
	if single.Model != "" {
		out.Model = single.Model
	}
	if single.Temperature != nil {
		out.Temperature = single.Temperature
	}
	if single.MaxTokens != 0 {
		out.MaxTokens = single.MaxTokens
	}
	if single.MaxToolUse != 0 {
		out.MaxToolUse = single.MaxToolUse
	}
	if single.Reminder != "" {
		out.Reminder = single.Reminder
	}
	if single.NoCache {
		out.NoCache = true
	}
	if len(single.Tools) > 0 {
		out.Tools = single.Tools
	}
	if len(single.Hooks) > 0 {
		out.Hooks = single.Hooks
	}
	if single.ThinkingEffort != "" {
		out.ThinkingEffort = single.ThinkingEffort
	}
	return &out
}

// decodeInterlocutor strict-decodes one interlocutor mapping, rejecting
// unknown keys (§4.2: "unknown interlocutor keys are errors").
func decodeInterlocutor(n *yaml.Node) (*Interlocutor, error) {
	buf, err := yaml.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("header: marshal interlocutor: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	var i Interlocutor
	if err := dec.Decode(&i); err != nil {
		return nil, &ValidationError{Msg: "interlocutor: " + err.Error()}
	}
	return &i, nil
}

// DiscoverWorkspace walks upward from startDir looking for a lectic.yaml,
// stopping at the first one found (or at the filesystem root). Returns a
// nil node if none exists anywhere above startDir.
func DiscoverWorkspace(startDir string) (*yaml.Node, error) {
	dir := startDir
	for {
		candidate := filepath.Join(dir, "lectic.yaml")
		if buf, err := os.ReadFile(candidate); err == nil {
			var n yaml.Node
			if err := yaml.Unmarshal(buf, &n); err != nil {
				return nil, fmt.Errorf("header: parse %s: %w", candidate, err)
			}
			return unwrap(&n), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// LoadFile reads and parses a single YAML file (system config, an
// --Include file), returning a nil node if the file does not exist.
func LoadFile(path string) (*yaml.Node, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	buf, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("header: read %s: %w", path, err)
	}
	var n yaml.Node
	if err := yaml.Unmarshal(buf, &n); err != nil {
		return nil, fmt.Errorf("header: parse %s: %w", path, err)
	}
	return unwrap(&n), nil
}
