// Package pipeline wires header loading, directive/macro expansion, the
// tool registry, backend selection, and the turn loop into one invocation
// end to end (§2 control flow; §4 Architecture). It is the one place that
// knows about every concrete backend.Provider and tool.Constructor, so
// pkg/backend, pkg/tool, and pkg/header can stay decoupled from each
// other's sibling packages.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"lectic/pkg/attachment"
	"lectic/pkg/backend"
	"lectic/pkg/backend/anthropic"
	"lectic/pkg/backend/gemini"
	"lectic/pkg/backend/mock"
	"lectic/pkg/backend/ollama"
	"lectic/pkg/backend/openai"
	"lectic/pkg/config"
	"lectic/pkg/directive"
	"lectic/pkg/document"
	"lectic/pkg/header"
	"lectic/pkg/hook"
	"lectic/pkg/logging"
	"lectic/pkg/macro"
	"lectic/pkg/message"
	"lectic/pkg/tool"
	"lectic/pkg/tool/agenttool"
	execTool "lectic/pkg/tool/exec"
	"lectic/pkg/tool/mcp"
	"lectic/pkg/tool/sqlitetool"
)

// Options configures one invocation (§6 Config discovery).
type Options struct {
	Paths config.Paths
	// WorkspaceDir is where lectic.yaml discovery starts; defaults to the
	// current working directory.
	WorkspaceDir string
	// IncludePaths are "--Include" files, in the order given, merged
	// between workspace discovery and the document's own front matter.
	IncludePaths []string
	// DocumentPath, if non-empty, is exposed to hooks as LECTIC_FILE.
	DocumentPath string
	Logger       *logging.Logger

	// MockSteps scripts a mock.Provider per interlocutor name for an
	// interlocutor declared with provider "mock"; used by this package's
	// own tests to drive end-to-end scenarios without a network call.
	MockSteps map[string][]mock.Step
}

// Result is one completed invocation: the reassembled document text and
// the structured assistant turn that produced it.
type Result struct {
	Document  string
	Assistant *message.Assistant
}

// Pipeline holds the per-invocation caches a single Run builds up:
// resolved attachment fetchers and, per concrete interlocutor, the
// Provider/Registry pair constructing either is expensive enough to
// build only once for (§5 "interlocutor registry is built once per
// invocation and is read-only thereafter").
type Pipeline struct {
	opts     Options
	resolver *attachment.Resolver

	providers  map[*header.Interlocutor]backend.Provider
	registries map[*header.Interlocutor]*tool.Registry
}

func newPipeline(ctx context.Context, opts Options) *Pipeline {
	p := &Pipeline{
		opts:       opts,
		resolver:   attachment.NewResolver(),
		providers:  map[*header.Interlocutor]backend.Provider{},
		registries: map[*header.Interlocutor]*tool.Registry{},
	}
	if s3, err := attachment.NewS3Fetcher(ctx, "", false); err == nil {
		p.resolver.Register(attachment.KindS3, s3)
	}
	p.resolver.Register(attachment.KindMCPResource, mcpMultiFetcher{})
	return p
}

// mcpMultiFetcher routes one "SCHEME+uri" resource link to whichever
// connected MCP peer registered itself under SCHEME, so the single
// attachment.Fetcher slot Resolver reserves for KindMCPResource can still
// serve any number of connected peers (§3 Link: "SCHEME+uri").
type mcpMultiFetcher struct{}

func (mcpMultiFetcher) Fetch(ctx context.Context, uri string) ([]attachment.Part, error) {
	scheme, rest, ok := strings.Cut(uri, "+")
	if !ok {
		return nil, fmt.Errorf("pipeline: malformed mcp resource link %q", uri)
	}
	peer, ok := mcp.PeerByName(scheme)
	if !ok {
		return nil, fmt.Errorf("pipeline: no connected mcp peer named %q", scheme)
	}
	return mcp.ResourceFetcher{Peer: peer}.Fetch(ctx, rest)
}

// Run is the top-level entry point (§2): parse the document, merge its
// header, replay the body's directives/macros into a provider-agnostic
// transcript, run the active interlocutor's turn loop, and reassemble the
// document with the new assistant block appended. onDelta streams text as
// it is produced; it may be nil.
func Run(ctx context.Context, opts Options, raw string, onDelta func(string) error) (*Result, error) {
	doc, err := document.Parse(raw)
	if err != nil {
		return nil, err
	}

	h, err := loadHeader(opts, doc.Header)
	if err != nil {
		return nil, err
	}
	applyEnvDefs(h.EnvDefs)

	p := newPipeline(ctx, opts)

	activeName, finalHeader, entries, err := p.walkBody(ctx, h, doc.Body)
	if err != nil {
		return nil, err
	}

	active, ok := interlocutorByName(finalHeader, activeName)
	if !ok {
		return nil, fmt.Errorf("pipeline: unknown interlocutor %q", activeName)
	}

	// Exported to every tool/hook subprocess alongside LECTIC_FILE (§6
	// Environment).
	os.Setenv("LECTIC_INTERLOCUTOR", active.Name)
	os.Setenv("LECTIC_MODEL", active.Model)

	hookRunner := hook.NewRunner(active.Hooks, opts.Logger)
	hookEnv := map[string]string{"LECTIC_FILE": opts.DocumentPath}
	if len(entries) > 0 {
		hookEnv["USER_MESSAGE"] = entries[len(entries)-1].Text
	}
	userAttachments, err := hookRunner.Fire(ctx, hook.EventUserMessage, hookEnv)
	if err != nil {
		return nil, err
	}
	if len(userAttachments) > 0 && len(entries) > 0 {
		entries[len(entries)-1].Attachments = append(entries[len(entries)-1].Attachments, userAttachments...)
	}

	provider, err := p.providerFor(ctx, finalHeader, active)
	if err != nil {
		return nil, err
	}
	registry, err := p.registryFor(ctx, finalHeader, active)
	if err != nil {
		return nil, err
	}

	assistant, runErr := backend.RunTurnLoop(ctx, provider, entries, active, registry, backend.TurnLoopOptions{OnDelta: onDelta})
	if assistant == nil {
		if runErr != nil {
			_, _ = hookRunner.Fire(ctx, hook.EventError, map[string]string{
				"LECTIC_FILE": opts.DocumentPath, "ERROR_MESSAGE": runErr.Error(),
			})
		}
		return nil, runErr
	}

	assistantAttachments, hookErr := hookRunner.Fire(ctx, hook.EventAssistantMessage, hookEnv)
	if hookErr == nil {
		assistant.Attachments = append(assistant.Attachments, assistantAttachments...)
	}

	newBody := document.AppendAssistantBlock(doc.Body, assistant.Interlocutor, assistant.Serialize())
	rendered, renderErr := document.Render(doc.Header, newBody)
	if renderErr != nil {
		return nil, renderErr
	}
	return &Result{Document: rendered, Assistant: assistant}, runErr
}

// loadHeader resolves the full precedence stack (§6): system config,
// workspace lectic.yaml, "--Include" files and the document's own
// declared "imports" (both loaded at the same "imports" precedence
// level), then the document's front matter itself.
func loadHeader(opts Options, docHeader *yaml.Node) (*header.Header, error) {
	lo, err := resolveHeaderLoadOptions(opts, docHeader)
	if err != nil {
		return nil, err
	}
	return header.Load(lo)
}

// MergedHeaderNode resolves the same precedence stack as loadHeader but
// returns the merged, pre-validation YAML tree rather than a built
// Header, for "--header" dumps that only want to show the effective
// configuration (§4.7 "-H/--header: emit only the merged YAML header").
func MergedHeaderNode(opts Options, docHeader *yaml.Node) (*yaml.Node, error) {
	lo, err := resolveHeaderLoadOptions(opts, docHeader)
	if err != nil {
		return nil, err
	}
	docs := []*yaml.Node{lo.SystemConfig, lo.WorkspaceConfig}
	docs = append(docs, lo.Imports...)
	docs = append(docs, lo.DocHeader)
	return header.MergeAll(docs...), nil
}

func resolveHeaderLoadOptions(opts Options, docHeader *yaml.Node) (header.LoadOptions, error) {
	system, err := config.LoadSystemConfig(opts.Paths)
	if err != nil {
		return header.LoadOptions{}, err
	}

	workspaceDir := opts.WorkspaceDir
	if workspaceDir == "" {
		workspaceDir, err = os.Getwd()
		if err != nil {
			return header.LoadOptions{}, err
		}
	}
	workspace, err := header.DiscoverWorkspace(workspaceDir)
	if err != nil {
		return header.LoadOptions{}, err
	}

	importPaths := append([]string(nil), opts.IncludePaths...)
	importPaths = append(importPaths, declaredImports(docHeader)...)
	imports, err := config.LoadIncludes(importPaths)
	if err != nil {
		return header.LoadOptions{}, err
	}

	return header.LoadOptions{
		SystemConfig:    system,
		WorkspaceConfig: workspace,
		Imports:         imports,
		DocHeader:       docHeader,
	}, nil
}

// declaredImports shallow-decodes a document header's own "imports" list
// without requiring the full merge to already be built, so those files
// can be folded into the merge chain at the documented "imports"
// precedence level rather than only inside the header's final form.
func declaredImports(docHeader *yaml.Node) []string {
	if docHeader == nil {
		return nil
	}
	var raw struct {
		Imports []string `yaml:"imports"`
	}
	if err := docHeader.Decode(&raw); err != nil {
		return nil
	}
	return raw.Imports
}

// applyEnvDefs exposes a header's "env_defs" as process environment
// variables so exec tools and hooks, which inherit the process
// environment into their subprocesses, observe them (§5 "environment
// variables... are a process-global shared resource").
func applyEnvDefs(defs map[string]string) {
	for k, v := range defs {
		os.Setenv(k, v)
	}
}

// interlocutorByName looks up h's interlocutor by name, case-insensitive
// (§4.2 "case-insensitive name uniqueness").
func interlocutorByName(h *header.Header, name string) (*header.Interlocutor, bool) {
	if h.Interlocutor != nil && strings.EqualFold(h.Interlocutor.Name, name) {
		return h.Interlocutor, true
	}
	for _, i := range h.Interlocutors {
		if strings.EqualFold(i.Name, name) {
			return i, true
		}
	}
	return nil, false
}

// defaultInterlocutorName picks the initial active speaker: the single
// "interlocutor" if the header names one, otherwise the first of
// "interlocutors".
func defaultInterlocutorName(h *header.Header) (string, error) {
	if h.Interlocutor != nil {
		return h.Interlocutor.Name, nil
	}
	if len(h.Interlocutors) > 0 {
		return h.Interlocutors[0].Name, nil
	}
	return "", fmt.Errorf("pipeline: header names no interlocutor")
}

// walkBody replays the document body's top-level nodes in order (§4.5
// Ordering: "processing occurs in document order during
// processMessages()"), rebuilding provider-agnostic history entries from
// prior assistant blocks and re-expanding every user paragraph's
// directives afresh, since the runtime holds no state between
// invocations. It returns the resulting active speaker, the header after
// every ":merge_yaml"/":temp_merge_yaml" effect has been folded in, and
// the entries ready to hand to backend.RunTurnLoop.
func (p *Pipeline) walkBody(ctx context.Context, h *header.Header, body string) (string, *header.Header, []backend.HistoryEntry, error) {
	activeName, err := defaultInterlocutorName(h)
	if err != nil {
		return "", nil, nil, err
	}

	nodes := directive.Parse(body)
	lastParaIdx := -1
	for i, n := range nodes {
		if n.Kind == directive.KindParagraph {
			lastParaIdx = i
		}
	}

	var entries []backend.HistoryEntry
	cur := h

	for i, n := range nodes {
		switch n.Kind {
		case directive.KindContainer:
			entries = appendAssistantEntries(entries, n.Name, n.Body)

		case directive.KindParagraph:
			isFinal := i == lastParaIdx
			expander := macro.NewExpander(cur.Macros, p.resolver, isFinal)
			eff, err := expander.Expand(ctx, n.Text)
			if err != nil {
				return "", nil, nil, err
			}

			for _, y := range eff.MergeDocs {
				cur, err = cur.MergeYAML(y)
				if err != nil {
					return "", nil, nil, fmt.Errorf("pipeline: merge_yaml: %w", err)
				}
			}
			for _, y := range eff.TempMergeDocs {
				cur, err = cur.MergeYAML(y)
				if err != nil {
					return "", nil, nil, fmt.Errorf("pipeline: temp_merge_yaml: %w", err)
				}
			}

			if eff.Ask != "" {
				activeName = eff.Ask
			}

			attachments := eff.Attachments
			if eff.Aside != "" {
				asideReply, err := p.runAside(ctx, cur, eff.Aside, eff.Text)
				if err != nil {
					return "", nil, nil, err
				}
				attachments = append(attachments, message.InlineAttachment{
					Kind: "aside", Content: asideReply, Mimetype: "text/plain",
				})
			}

			entries = append(entries, backend.HistoryEntry{
				Role:        backend.RoleUser,
				Text:        eff.Text,
				Attachments: attachments,
				Reset:       eff.Reset,
			})
		}
	}

	return activeName, cur, entries, nil
}

// appendAssistantEntries reconstructs one prior "::: NAME ... :::" block
// into the same sequence of per-round HistoryEntry values RunTurnLoop
// would have produced while the turn was originally run, the inverse of
// backend.RunTurnLoop's entries append (§4.6 step 5e).
func appendAssistantEntries(entries []backend.HistoryEntry, name, rawBody string) []backend.HistoryEntry {
	a := message.ParseAssistantContent(name, rawBody)
	start := len(entries)
	for _, inter := range a.Interactions {
		entries = append(entries, backend.HistoryEntry{
			Role:         backend.RoleAssistant,
			Interlocutor: a.Interlocutor,
			Text:         inter.Text,
			ToolCalls:    inter.Calls,
		})
	}
	if len(a.Attachments) > 0 {
		if len(entries) > start {
			last := &entries[len(entries)-1]
			last.Attachments = append(last.Attachments, a.Attachments...)
		} else {
			entries = append(entries, backend.HistoryEntry{
				Role: backend.RoleAssistant, Interlocutor: a.Interlocutor, Attachments: a.Attachments,
			})
		}
	}
	return entries
}

// runAside drives a one-shot nested conversation with the named
// interlocutor over userMessage and returns its plain reply text, for
// splicing into the active interlocutor's context without switching who
// answers the current turn (§4.5 ":aside").
func (p *Pipeline) runAside(ctx context.Context, h *header.Header, name, userMessage string) (string, error) {
	active, ok := interlocutorByName(h, name)
	if !ok {
		return "", fmt.Errorf("pipeline: aside: unknown interlocutor %q", name)
	}
	provider, err := p.providerFor(ctx, h, active)
	if err != nil {
		return "", err
	}
	registry, err := p.registryFor(ctx, h, active)
	if err != nil {
		return "", err
	}
	assistant, err := backend.RunTurnLoop(ctx, provider, []backend.HistoryEntry{{Role: backend.RoleUser, Text: userMessage}}, active, registry, backend.TurnLoopOptions{})
	if err != nil {
		return "", fmt.Errorf("pipeline: aside: %s: %w", name, err)
	}
	var b strings.Builder
	for _, inter := range assistant.Interactions {
		b.WriteString(inter.Text)
	}
	return b.String(), nil
}

// registryFor builds (and memoizes) active's tool.Registry (§5 "the
// interlocutor registry is built once per invocation"). MCP peers
// connected while building it register themselves by tool-spec name in
// pkg/tool/mcp, where the resolver's MCP fetcher finds them at fetch time.
func (p *Pipeline) registryFor(ctx context.Context, h *header.Header, active *header.Interlocutor) (*tool.Registry, error) {
	if r, ok := p.registries[active]; ok {
		return r, nil
	}
	r, err := tool.NewRegistry(ctx, active.Tools, p.toolConstructor(h))
	if err != nil {
		return nil, err
	}
	p.registries[active] = r
	return r, nil
}

// toolConstructor returns the combining tool.Constructor dispatching on
// each ToolSpec's variant (§4.3 Tool Registry & Adapters).
func (p *Pipeline) toolConstructor(h *header.Header) tool.Constructor {
	return func(ctx context.Context, spec header.ToolSpec) ([]tool.Tool, error) {
		switch spec.Variant {
		case header.VariantExec:
			return execTool.New(ctx, spec)
		case header.VariantSqlite:
			return sqlitetool.New(ctx, spec)
		case header.VariantThinkAbout:
			return tool.NewThinkAbout(ctx, spec)
		case header.VariantServe:
			return tool.NewServe(ctx, spec)
		case header.VariantMCPCommand:
			return mcp.NewCommand(ctx, spec)
		case header.VariantMCPWS:
			return mcp.NewWebsocket(ctx, spec)
		case header.VariantMCPSHTTP:
			return mcp.NewStreamableHTTP(ctx, spec)
		case header.VariantAgent:
			return agenttool.NewFactory(p.agentRunner(h))(ctx, spec)
		case header.VariantNative:
			return tool.NewNative(ctx, spec)
		case header.VariantA2A:
			return nil, fmt.Errorf("tool: a2a: variant recognized but not implemented")
		default:
			return nil, fmt.Errorf("tool: unrecognized variant %q", spec.Variant)
		}
	}
}

// agentRunner builds a backend.Runner closed over h, so every "agent"
// tool in h's interlocutors can open a nested conversation with any
// other interlocutor h names (§4.3 agent).
func (p *Pipeline) agentRunner(h *header.Header) *backend.Runner {
	byName := map[string]*header.Interlocutor{}
	if h.Interlocutor != nil {
		byName[strings.ToLower(h.Interlocutor.Name)] = h.Interlocutor
	}
	for _, i := range h.Interlocutors {
		byName[strings.ToLower(i.Name)] = i
	}
	return &backend.Runner{
		Interlocutors: byName,
		ProviderFor: func(ctx context.Context, active *header.Interlocutor) (backend.Provider, error) {
			return p.providerFor(ctx, h, active)
		},
		RegistryFor: func(ctx context.Context, active *header.Interlocutor) (*tool.Registry, error) {
			return p.registryFor(ctx, h, active)
		},
	}
}

// providerFor builds (and memoizes) active's backend.Provider, dispatching
// on its declared "provider" field (§4.6 Backend Abstraction). It builds
// active's Registry first, since every provider's tool declarations come
// from the registry's Specs(), not straight from the header.
func (p *Pipeline) providerFor(ctx context.Context, h *header.Header, active *header.Interlocutor) (backend.Provider, error) {
	if pr, ok := p.providers[active]; ok {
		return pr, nil
	}

	registry, err := p.registryFor(ctx, h, active)
	if err != nil {
		return nil, err
	}
	specs := registry.Specs()

	var temperature *float64
	if active.Temperature != nil {
		t := *active.Temperature
		temperature = &t
	}

	var pr backend.Provider
	switch active.Provider {
	case "anthropic":
		pr, err = anthropic.New(anthropic.Config{
			Model: active.Model, SystemPrompt: active.Prompt, Reminder: active.Reminder,
			MaxTokens: active.MaxTokens, Temperature: temperature, Thinking: active.ThinkingEffort, Tools: specs,
		})
	case "anthropic-bedrock":
		pr, err = anthropic.New(anthropic.Config{
			Model: active.Model, SystemPrompt: active.Prompt, Reminder: active.Reminder,
			MaxTokens: active.MaxTokens, Temperature: temperature, Thinking: active.ThinkingEffort, Tools: specs,
			Bedrock: true,
		})
	case "openai":
		pr, err = openai.New(openai.Config{
			Model: active.Model, SystemPrompt: active.Prompt, Reminder: active.Reminder,
			MaxTokens: active.MaxTokens, Temperature: temperature, Tools: specs,
		})
	case "openai-responses":
		// Routed through the chat-completions client with the same base URL
		// and API key variable as "openai"; no Responses-API wire format is
		// used.
		pr, err = openai.New(openai.Config{
			BaseURL: "https://api.openai.com/v1", Model: active.Model, SystemPrompt: active.Prompt,
			Reminder: active.Reminder, MaxTokens: active.MaxTokens, Temperature: temperature, Tools: specs,
		})
	case "chatgpt":
		pr, err = openai.New(openai.Config{
			BaseURL: "https://chatgpt.com/backend-api/codex", APIKeyEnv: "CHATGPT_API_KEY",
			Model: active.Model, SystemPrompt: active.Prompt, Reminder: active.Reminder,
			MaxTokens: active.MaxTokens, Temperature: temperature, Tools: specs,
		})
	case "openrouter":
		pr, err = openai.New(openai.Config{
			BaseURL: "https://openrouter.ai/api/v1", APIKeyEnv: "OPENROUTER_API_KEY",
			Model: active.Model, SystemPrompt: active.Prompt, Reminder: active.Reminder,
			MaxTokens: active.MaxTokens, Temperature: temperature, Tools: specs,
		})
	case "ollama":
		pr, err = ollama.New(ollama.Config{
			BaseURL: os.Getenv("OLLAMA_HOST"), Model: active.Model, SystemPrompt: active.Prompt,
			Reminder: active.Reminder, Temperature: temperature, Tools: specs,
		})
	case "gemini":
		pr, err = gemini.New(ctx, gemini.Config{
			Model: active.Model, SystemPrompt: active.Prompt, Reminder: active.Reminder,
			MaxTokens: active.MaxTokens, Temperature: temperature, Tools: specs,
		})
	case "mock":
		pr, err = mock.New(p.opts.MockSteps[active.Name]), nil
	default:
		return nil, fmt.Errorf("pipeline: interlocutor %s: unknown provider %q", active.Name, active.Provider)
	}
	if err != nil {
		return nil, err
	}
	p.providers[active] = pr
	return pr, nil
}
