// Package backend provides the uniform Provider contract and the generic
// multi-round tool loop every wire encoder shares (§4.6 Backend
// Abstraction & Turn Loop).
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"lectic/pkg/header"
	"lectic/pkg/message"
	"lectic/pkg/tool"
	"lectic/pkg/tool/agenttool"
)

// Role is the provider-agnostic role of one HistoryEntry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// HistoryEntry is one provider-agnostic transcript entry RunTurnLoop feeds
// to a Provider's EncodeHistory. It corresponds to one "transcript
// message" in the §4.6 handleMessage step; ToolCalls is populated only on
// assistant entries that already carry realized tool interactions.
type HistoryEntry struct {
	Role         Role
	Interlocutor string
	Text         string
	Attachments  []message.InlineAttachment
	ToolCalls    []message.ToolCall

	// Reset is true when this entry carried a ":reset" inline attachment;
	// RunTurnLoop splices history at the last such entry before encoding
	// (§4.6 step 2, §8 "reset on a non-terminal message" invariant).
	Reset bool
}

// EncodeOptions carries the turn-loop-computed, provider-independent
// framing decisions a Provider's EncodeHistory applies while building its
// own wire request.
type EncodeOptions struct {
	// ActiveSpeaker is the name of the interlocutor producing this
	// completion; assistant entries authored by a different interlocutor
	// must be re-labeled (§4.6 "Assistant-role history from other
	// interlocutors is re-labeled...").
	ActiveSpeaker string
	// NoCache disables cache-control placement outright, mirroring the
	// interlocutor's "nocache" field.
	NoCache bool
	// CacheBreakpoint is the index into the entries slice whose last
	// content block should receive an ephemeral cache marker, or -1 if
	// no history entry is marked this turn (§4.6 Cache control). With -1
	// and NoCache unset, the anthropic provider marks its system block
	// instead.
	CacheBreakpoint int
}

// ToolCall is one model-issued call awaiting realization.
type ToolCall struct {
	CallID string
	Name   string
	Args   json.RawMessage
}

// Completion is a Provider's realized response to one createCompletion
// call (§4.6 step 3).
type Completion struct {
	Text      string
	ToolCalls []ToolCall
}

// Provider is the uniform backend contract every wire encoder implements
// (§4.6). EncodeHistory returns an opaque, provider-specific request value
// that StreamCompletion knows how to send.
type Provider interface {
	Name() string
	SupportsCacheControl() bool
	EncodeHistory(entries []HistoryEntry, opts EncodeOptions) (any, error)
	StreamCompletion(ctx context.Context, encoded any, onDelta func(string) error) (*Completion, error)
}

// RelabelSpeaker rewrites assistant-role entries authored by an
// interlocutor other than activeSpeaker into a user-role entry wrapped in
// "<speaker name=...>...</speaker>" (§4.6), so providers share one
// implementation of the re-labeling rule instead of each reinventing it.
func RelabelSpeaker(entries []HistoryEntry, activeSpeaker string) []HistoryEntry {
	out := make([]HistoryEntry, len(entries))
	for i, e := range entries {
		if e.Role == RoleAssistant && e.Interlocutor != "" && e.Interlocutor != activeSpeaker {
			out[i] = HistoryEntry{
				Role:        RoleUser,
				Text:        fmt.Sprintf("<speaker name=%q>%s</speaker>", e.Interlocutor, e.Text),
				Attachments: e.Attachments,
			}
			continue
		}
		out[i] = e
	}
	return out
}

// spliceReset drops every entry at or before the last reset-carrying
// entry, keeping only strictly-later entries, and prepends a fresh
// synthetic user entry carrying that message's attachments forward (§4.6
// step 2, §8 "reset on a non-terminal message shortens messages to only
// those strictly after the reset-bearing message").
func spliceReset(entries []HistoryEntry) []HistoryEntry {
	resetAt := -1
	for i, e := range entries {
		if e.Reset {
			resetAt = i
		}
	}
	if resetAt == -1 {
		return entries
	}
	rest := entries[resetAt+1:]
	carried := entries[resetAt].Attachments
	if len(carried) == 0 {
		return rest
	}
	out := make([]HistoryEntry, 0, len(rest)+1)
	out = append(out, HistoryEntry{Role: RoleUser, Attachments: carried})
	out = append(out, rest...)
	return out
}

const limitExceededText = "Tool usage limit exceeded"

// TurnLoopOptions configures one RunTurnLoop invocation.
type TurnLoopOptions struct {
	// OnDelta streams text chunks upstream as they are produced (§4.6
	// step 4 "Drain text, yielding each delta upstream").
	OnDelta func(string) error
}

// RunTurnLoop drives the generic multi-round tool loop shared by every
// provider (§4.6), consolidating the teacher's two near-duplicate generic
// tool loops (pkg/backend/toolloop.go, pkg/harness/toolloop.go) into one.
func RunTurnLoop(ctx context.Context, provider Provider, entries []HistoryEntry, active *header.Interlocutor, registry *tool.Registry, opts TurnLoopOptions) (*message.Assistant, error) {
	entries = spliceReset(entries)

	maxToolUse := active.MaxToolUse
	if maxToolUse <= 0 {
		maxToolUse = header.DefaultMaxToolUse
	}

	assistant := &message.Assistant{Interlocutor: active.Name}

	round := 0
	for {
		breakpoint := len(entries) - 1
		if active.NoCache || !provider.SupportsCacheControl() {
			breakpoint = -1
		}
		encodeOpts := EncodeOptions{
			ActiveSpeaker:   active.Name,
			NoCache:         active.NoCache,
			CacheBreakpoint: breakpoint,
		}

		encoded, err := provider.EncodeHistory(entries, encodeOpts)
		if err != nil {
			return nil, fmt.Errorf("backend: encode history: %w", err)
		}
		completion, err := provider.StreamCompletion(ctx, encoded, opts.OnDelta)
		if err != nil {
			return nil, fmt.Errorf("backend: %s: %w", provider.Name(), err)
		}

		if len(completion.ToolCalls) == 0 {
			assistant.Interactions = append(assistant.Interactions, message.Interaction{Text: completion.Text})
			return assistant, nil
		}

		round++
		if round > maxToolUse+1 {
			if opts.OnDelta != nil {
				_ = opts.OnDelta("<error>Runaway tool use!</error>")
			}
			return assistant, fmt.Errorf("backend: runaway tool use")
		}

		limitExceeded := round == maxToolUse+1
		calls, binaryAttachments := realizeCalls(ctx, registry, completion.ToolCalls, limitExceeded)

		assistant.Interactions = append(assistant.Interactions, message.Interaction{Text: completion.Text, Calls: calls})

		entries = append(entries, HistoryEntry{
			Role:         RoleAssistant,
			Interlocutor: active.Name,
			Text:         completion.Text,
			ToolCalls:    calls,
		})

		// §8 "its text part is filtered out of the model-visible tool
		// output and the binary part is threaded as an attachment on the
		// synthetic user message": binary-mime results never ride along
		// inline in ToolCall.Results past realizeOne; instead they
		// surface here as a separate, attachment-only synthetic user turn
		// (text first, attachments as a separate message per the Open
		// Question's resolved ordering).
		if len(binaryAttachments) > 0 {
			entries = append(entries, HistoryEntry{Role: RoleUser, Attachments: binaryAttachments})
		}
	}
}

// realizeCalls runs every call concurrently against registry (§4.6
// "tool calls emitted by one assistant response are realized in
// parallel"), preserving the model's call order in the returned slice,
// and collects every binary-mime result's content as an InlineAttachment
// in that same call order (§8 binary-mime threading property).
func realizeCalls(ctx context.Context, registry *tool.Registry, calls []ToolCall, limitExceeded bool) ([]message.ToolCall, []message.InlineAttachment) {
	out := make([]message.ToolCall, len(calls))
	attachments := make([][]message.InlineAttachment, len(calls))
	var wg sync.WaitGroup
	for i, c := range calls {
		wg.Add(1)
		go func(i int, c ToolCall) {
			defer wg.Done()
			out[i], attachments[i] = realizeOne(ctx, registry, c, limitExceeded)
		}(i, c)
	}
	wg.Wait()

	var flat []message.InlineAttachment
	for _, a := range attachments {
		flat = append(flat, a...)
	}
	return out, flat
}

// isBinaryMimetype reports whether m is one of the binary result
// mimetypes (§3 Tool Call Result: "image/audio/video/pdf") that must be
// threaded as an attachment instead of kept inline in model-visible tool
// output.
func isBinaryMimetype(m string) bool {
	switch {
	case strings.HasPrefix(m, "image/"):
		return true
	case strings.HasPrefix(m, "audio/"):
		return true
	case strings.HasPrefix(m, "video/"):
		return true
	case m == "application/pdf":
		return true
	default:
		return false
	}
}

// Runner implements agenttool.AgentRunner by opening a fresh nested
// conversation for one "agent" tool call, using pipeline-supplied
// factories so this package need not import any concrete provider
// package (which would cycle back through Provider's own implementers).
type Runner struct {
	Interlocutors map[string]*header.Interlocutor
	ProviderFor   func(ctx context.Context, active *header.Interlocutor) (Provider, error)
	RegistryFor   func(ctx context.Context, active *header.Interlocutor) (*tool.Registry, error)
}

var _ agenttool.AgentRunner = (*Runner)(nil)

// RunConversation drives interlocutor's turn loop to completion over a
// single synthetic user message (§4.3 agent: "runs that interlocutor's
// turn loop to completion and returns its answer").
func (r *Runner) RunConversation(ctx context.Context, interlocutor, userMessage string) (agenttool.Transcript, error) {
	active, ok := r.Interlocutors[interlocutor]
	if !ok {
		return agenttool.Transcript{}, fmt.Errorf("backend: agent: unknown interlocutor %q", interlocutor)
	}
	provider, err := r.ProviderFor(ctx, active)
	if err != nil {
		return agenttool.Transcript{}, fmt.Errorf("backend: agent: %s: %w", interlocutor, err)
	}
	registry, err := r.RegistryFor(ctx, active)
	if err != nil {
		return agenttool.Transcript{}, fmt.Errorf("backend: agent: %s: %w", interlocutor, err)
	}

	entries := []HistoryEntry{{Role: RoleUser, Text: userMessage}}
	assistant, err := RunTurnLoop(ctx, provider, entries, active, registry, TurnLoopOptions{})
	if err != nil {
		return agenttool.Transcript{}, err
	}
	return agenttool.Transcript{Text: flattenText(assistant), Sanitized: sanitizeTranscript(assistant)}, nil
}

func flattenText(a *message.Assistant) string {
	var b strings.Builder
	for _, inter := range a.Interactions {
		b.WriteString(inter.Text)
	}
	return b.String()
}

// sanitizeTranscript renders the wrapped interlocutor's reply with its own
// tool calls named but not detailed (§4.3 "returns either the raw text or
// a sanitized transcript").
func sanitizeTranscript(a *message.Assistant) string {
	var b strings.Builder
	for _, inter := range a.Interactions {
		b.WriteString(inter.Text)
		for _, c := range inter.Calls {
			fmt.Fprintf(&b, "\n<toolcall name=%q/>", c.Name)
		}
	}
	return b.String()
}

// realizeOne runs one call to completion and splits its results: text
// results stay inline on the returned message.ToolCall exactly as before,
// while any binary-mime result is pulled out into a separate
// InlineAttachment instead (§8 binary-mime threading property) so it
// never rides along in the model-visible tool output.
func realizeOne(ctx context.Context, registry *tool.Registry, c ToolCall, limitExceeded bool) (message.ToolCall, []message.InlineAttachment) {
	mc := message.ToolCall{ID: c.CallID, Name: c.Name, Args: c.Args}

	if limitExceeded {
		mc.IsError = true
		mc.Results = []message.Result{{Text: limitExceededText, Mimetype: "text/plain"}}
		return mc, nil
	}

	t := registry.Lookup(c.Name)
	if t == nil {
		mc.IsError = true
		mc.Results = []message.Result{{Text: fmt.Sprintf("unknown tool %q", c.Name), Mimetype: "text/plain"}}
		return mc, nil
	}
	if err := t.Validate(c.Args); err != nil {
		mc.IsError = true
		mc.Results = []message.Result{{Text: err.Error(), Mimetype: "text/plain"}}
		return mc, nil
	}

	results, err := t.Call(ctx, c.Args)
	if err != nil {
		mc.IsError = true
		mc.Results = []message.Result{{Text: err.Error(), Mimetype: "text/plain"}}
		return mc, nil
	}

	var textResults []message.Result
	var attachments []message.InlineAttachment
	for _, r := range results {
		mimetype := tool.CollapseMimetype(r.Mimetype)
		if isBinaryMimetype(mimetype) {
			attachments = append(attachments, message.InlineAttachment{
				Kind: "tool-result", Content: r.Text, Mimetype: mimetype,
			})
			continue
		}
		textResults = append(textResults, message.Result{Text: r.Text, Mimetype: mimetype})
	}
	mc.Results = textResults
	return mc, attachments
}
