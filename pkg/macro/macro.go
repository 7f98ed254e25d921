// Package macro implements the Macro/Directive Pipeline (§4.5): named
// template expansion and the provenance-based trust rule that keeps a
// compromised macro from rewriting the effective header mid-conversation.
package macro

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"lectic/pkg/attachment"
	"lectic/pkg/directive"
	"lectic/pkg/header"
	"lectic/pkg/message"
)

// privileged names the five built-in directives whose execution depends
// on provenance (§4.5 trust rule).
var privileged = map[string]bool{
	"merge_yaml":      true,
	"temp_merge_yaml": true,
	"reset":           true,
	"ask":             true,
	"aside":           true,
}

// origin tracks where a stretch of text being scanned for directives came
// from, the input to the trust rule.
type origin int

const (
	originAuthor origin = iota
	originMacroPre
	originMacroExpansion
	originMacroPost
)

func (o origin) trusted() bool {
	return o == originAuthor || o == originMacroPre
}

// Effect accumulates the outcome of expanding one user message's body:
// the literal text to keep (directives stripped of their syntax, macros
// replaced by their expansion), any inline attachments produced by
// ":cmd"/":attach"/hook output, and the privileged-directive actions
// observed in document order.
type Effect struct {
	Text        string
	Attachments []message.InlineAttachment

	// MergeDocs are ":merge_yaml" payloads, applied permanently, in
	// document order.
	MergeDocs []string
	// TempMergeDocs are ":temp_merge_yaml" payloads, applied only when
	// this message is the final message of the conversation.
	TempMergeDocs []string
	// Reset is true if a ":reset[]" directive fired.
	Reset bool
	// Ask/Aside name the interlocutor a ":ask"/":aside" directive
	// switched the active speaker to, empty if neither fired.
	Ask   string
	Aside string
}

// Expander owns the dependencies directive execution needs: the macro
// table and an attachment resolver for ":attach".
type Expander struct {
	Macros    map[string]header.Macro
	Resolver  *attachment.Resolver
	IsFinal   bool
	EnvLookup func(string) string
}

// NewExpander builds an Expander; envLookup defaults to os.Getenv when
// nil.
func NewExpander(macros map[string]header.Macro, resolver *attachment.Resolver, isFinal bool) *Expander {
	return &Expander{Macros: macros, Resolver: resolver, IsFinal: isFinal, EnvLookup: os.Getenv}
}

// Expand walks body's directives in document order and returns the
// resulting Effect (§4.5 ordering: "processing occurs in document order
// during processMessages()").
func (e *Expander) Expand(ctx context.Context, body string) (*Effect, error) {
	eff := &Effect{}
	var out strings.Builder

	for _, node := range directive.Parse(body) {
		switch node.Kind {
		case directive.KindContainer:
			// Container directives mark assistant turns; they do not
			// appear inside a user message being expanded.
			continue
		case directive.KindParagraph:
			text, err := e.expandParagraph(ctx, node.Text, originAuthor, eff)
			if err != nil {
				return nil, err
			}
			out.WriteString(text)
		}
	}

	eff.Text = out.String()
	return eff, nil
}

// expandParagraph walks one paragraph's inline directives/links, applying
// org to every directive found directly in it.
func (e *Expander) expandParagraph(ctx context.Context, text string, org origin, eff *Effect) (string, error) {
	nodes := directive.ParseInline(text)
	if len(nodes) == 0 {
		return text, nil
	}

	var out strings.Builder
	cursor := 0
	for _, n := range nodes {
		if n.Start > cursor {
			out.WriteString(text[cursor:n.Start])
		}
		cursor = n.End

		switch n.Kind {
		case directive.KindLink:
			out.WriteString(text[n.Start:n.End])
			continue
		case directive.KindInline:
			replacement, err := e.dispatch(ctx, n, org, eff)
			if err != nil {
				return "", err
			}
			out.WriteString(replacement)
		}
	}
	if cursor < len(text) {
		out.WriteString(text[cursor:])
	}
	return out.String(), nil
}

// dispatch resolves one inline directive node to its replacement text,
// applying side effects on eff as appropriate to its provenance.
func (e *Expander) dispatch(ctx context.Context, n directive.Node, org origin, eff *Effect) (string, error) {
	if privileged[n.Name] {
		if !org.trusted() {
			// Untrusted output: parsed, not executed (§4.5).
			return "", nil
		}
		return "", e.applyPrivileged(n, eff)
	}

	switch n.Name {
	case "cmd":
		return e.runCmd(n, eff)
	case "attach":
		return e.attach(ctx, n, eff)
	}

	if m, ok := e.Macros[n.Name]; ok {
		return e.expandMacro(ctx, m, n, eff)
	}

	// Unrecognized directive: leave verbatim.
	return fmt.Sprintf(":%s[%s]", n.Name, n.Inner), nil
}

func (e *Expander) applyPrivileged(n directive.Node, eff *Effect) error {
	switch n.Name {
	case "merge_yaml":
		eff.MergeDocs = append(eff.MergeDocs, n.Inner)
	case "temp_merge_yaml":
		if e.IsFinal {
			eff.TempMergeDocs = append(eff.TempMergeDocs, n.Inner)
		}
	case "reset":
		eff.Reset = true
	case "ask":
		eff.Ask = strings.TrimSpace(n.Inner)
	case "aside":
		if e.IsFinal {
			eff.Aside = strings.TrimSpace(n.Inner)
		}
	}
	return nil
}

func (e *Expander) runCmd(n directive.Node, eff *Effect) (string, error) {
	cmd := exec.Command("sh", "-c", n.Inner)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		eff.Attachments = append(eff.Attachments, message.InlineAttachment{
			Kind: "cmd", Content: stderr.String(), Mimetype: "text/plain",
		})
		return "", nil
	}
	eff.Attachments = append(eff.Attachments, message.InlineAttachment{
		Kind: "cmd", Content: stdout.String(), Mimetype: "text/plain",
	})
	return "", nil
}

func (e *Expander) attach(ctx context.Context, n directive.Node, eff *Effect) (string, error) {
	if e.Resolver == nil {
		return "", fmt.Errorf("macro: :attach used but no attachment resolver configured")
	}
	parts, err := e.Resolver.Resolve(ctx, n.Inner)
	if err != nil {
		return "", fmt.Errorf("macro: :attach %q: %w", n.Inner, err)
	}
	for _, p := range parts {
		eff.Attachments = append(eff.Attachments, message.InlineAttachment{
			Kind: "attach", Content: string(p.Bytes), Mimetype: p.Mimetype,
		})
	}
	return "", nil
}

var argRefRE = regexp.MustCompile(`\$(1|ARG|ENV\.[A-Za-z_][A-Za-z0-9_]*)`)

// substituteTemplate expands "$1"/"$ARG"/"$ENV.*" references in a macro's
// expansion template (§4.5).
func (e *Expander) substituteTemplate(tmpl, arg string) string {
	return argRefRE.ReplaceAllStringFunc(tmpl, func(tok string) string {
		name := tok[1:]
		switch {
		case name == "1" || name == "ARG":
			return arg
		case strings.HasPrefix(name, "ENV."):
			return e.EnvLookup(strings.TrimPrefix(name, "ENV."))
		}
		return tok
	})
}

// expandMacro runs a macro invocation's pre hook (trusted output),
// substitutes its expansion template (untrusted output), and runs its
// post hook (untrusted output), in that order (§4.5).
func (e *Expander) expandMacro(ctx context.Context, m header.Macro, n directive.Node, eff *Effect) (string, error) {
	var out strings.Builder

	if m.Pre != "" {
		stdout, err := runHookScript(m.Pre, n.Inner)
		if err != nil {
			return "", fmt.Errorf("macro: %s: pre hook: %w", m.Name, err)
		}
		text, err := e.expandParagraph(ctx, stdout, originMacroPre, eff)
		if err != nil {
			return "", err
		}
		out.WriteString(text)
	}

	if m.Expansion != "" {
		expanded := e.substituteTemplate(m.Expansion, n.Inner)
		text, err := e.expandParagraph(ctx, expanded, originMacroExpansion, eff)
		if err != nil {
			return "", err
		}
		out.WriteString(text)
	}

	if m.Post != "" {
		stdout, err := runHookScript(m.Post, n.Inner)
		if err != nil {
			return "", fmt.Errorf("macro: %s: post hook: %w", m.Name, err)
		}
		text, err := e.expandParagraph(ctx, stdout, originMacroPost, eff)
		if err != nil {
			return "", err
		}
		out.WriteString(text)
	}

	return out.String(), nil
}

func runHookScript(script, arg string) (string, error) {
	cmd := exec.Command("sh", "-c", script)
	cmd.Env = append(os.Environ(), "MACRO_ARG="+arg)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}
