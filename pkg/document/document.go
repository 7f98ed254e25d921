// Package document splits a lectic file into its YAML front matter and
// Markdown body, and reassembles the two back into exact text.
package document

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is a parsed lectic file: a raw header (for round-tripping) plus
// its parsed YAML node and the Markdown body.
type Document struct {
	// HeaderRaw is the literal text between the "---" fences, unparsed.
	HeaderRaw string
	// Header is the parsed YAML document node (nil if there was no header).
	Header *yaml.Node
	// Closer is the literal fence that closed the header ("---" or "...").
	Closer string
	// Body is everything after the header.
	Body string
}

// Parse splits raw text into a Document. A missing header is not an error
// here — header presence is validated by pkg/header, since some callers
// (e.g. --header dumps of pure imports) operate header-less.
func Parse(raw string) (*Document, error) {
	lines := splitKeepEnds(raw)
	if len(lines) == 0 || strings.TrimRight(lines[0], "\r\n") != "---" {
		return &Document{Body: raw}, nil
	}

	var headerLines []string
	closer := ""
	bodyStart := -1
	for i := 1; i < len(lines); i++ {
		trimmed := strings.TrimRight(lines[i], "\r\n")
		if trimmed == "---" || trimmed == "..." {
			closer = trimmed
			bodyStart = i + 1
			break
		}
		headerLines = append(headerLines, lines[i])
	}
	if bodyStart == -1 {
		return nil, fmt.Errorf("document: unterminated YAML front matter (missing closing --- or ...)")
	}

	headerRaw := strings.Join(headerLines, "")
	var node yaml.Node
	if strings.TrimSpace(headerRaw) != "" {
		if err := yaml.Unmarshal([]byte(headerRaw), &node); err != nil {
			return nil, fmt.Errorf("document: parse header: %w", err)
		}
	}

	body := strings.Join(lines[bodyStart:], "")
	return &Document{
		HeaderRaw: headerRaw,
		Header:    unwrapDocument(&node),
		Closer:    closer,
		Body:      body,
	}, nil
}

// Render reassembles header and body into lectic document text. If header
// is nil, only the body is emitted (no front matter fence).
func Render(header *yaml.Node, body string) (string, error) {
	if header == nil {
		return body, nil
	}
	out, err := yaml.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("document: marshal header: %w", err)
	}
	var b strings.Builder
	b.WriteString("---\n")
	b.Write(out)
	b.WriteString("---\n")
	b.WriteString(body)
	return b.String(), nil
}

// AppendAssistantBlock appends a "::: NAME\n...\n:::\n" block to body text,
// the wire form produced after each completed turn (§6 Document format).
func AppendAssistantBlock(body, interlocutor, content string) string {
	var b strings.Builder
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") && body != "" {
		b.WriteString("\n")
	}
	b.WriteString("\n::: ")
	b.WriteString(interlocutor)
	b.WriteString("\n\n")
	b.WriteString(strings.TrimRight(content, "\n"))
	b.WriteString("\n\n:::\n")
	return b.String()
}

func unwrapDocument(n *yaml.Node) *yaml.Node {
	if n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
		return n.Content[0]
	}
	if n.Kind == 0 {
		return nil
	}
	return n
}

// splitKeepEnds splits s into lines, keeping the trailing newline on each
// line except possibly the last, so Join reconstructs the original text.
func splitKeepEnds(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
