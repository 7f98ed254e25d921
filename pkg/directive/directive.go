// Package directive parses a lectic body into a sequence of nodes:
// paragraphs, links, inline directives (":name[inner]{k=v}"), and
// container directives ("::: name" ... ":::") that mark assistant turns.
package directive

import (
	"regexp"
	"strings"
)

// Kind identifies the concrete type of a Node.
type Kind int

const (
	KindParagraph Kind = iota
	KindLink
	KindInline
	KindContainer
)

// Node is one parsed element of the body. Start/End are absolute byte
// offsets into the original body string, sufficient to reconstruct the raw
// slice verbatim (needed for the LSP and for transcript reserialization).
type Node struct {
	Kind Kind

	// KindParagraph, KindLink: literal display text.
	Text string

	// KindLink only.
	URI string

	// KindInline, KindContainer: directive/interlocutor name.
	Name string
	// KindInline: the raw substring between the first '[' and matching ']'.
	Inner string
	// KindInline: "{k=v ...}" attributes, if present.
	Attrs map[string]string

	// KindContainer: the raw text between the opening "::: NAME" line and
	// the closing ":::" line (exclusive of both fence lines).
	Body string

	Start, End int
}

var nameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*`)

// Parse splits body into top-level nodes. Paragraph nodes carry nested
// Link/Inline nodes are not flattened here; callers that need the inline
// structure of a paragraph call ParseInline(node.Text) themselves — this
// keeps the top-level pass (which must track container/code-fence state)
// independent of inline-directive scanning.
func Parse(body string) []Node {
	var nodes []Node
	lines := splitLinesWithOffsets(body)

	var paraStart = -1
	var paraEnd = 0
	inFence := false
	fenceChar := byte(0)

	flushParagraph := func(end int) {
		if paraStart == -1 {
			return
		}
		text := body[paraStart:end]
		if strings.TrimSpace(text) != "" {
			nodes = append(nodes, Node{Kind: KindParagraph, Text: text, Start: paraStart, End: end})
		}
		paraStart = -1
	}

	i := 0
	for i < len(lines) {
		ln := lines[i]
		trimmed := strings.TrimSpace(stripEOL(body[ln.start:ln.end]))

		if isFenceLine(trimmed) {
			if inFence && trimmed[0] == fenceChar {
				inFence = false
			} else if !inFence {
				inFence = true
				fenceChar = trimmed[0]
			}
			if paraStart == -1 {
				paraStart = ln.start
			}
			paraEnd = ln.end
			i++
			continue
		}

		if !inFence {
			if name, ok := containerOpenName(trimmed); ok {
				flushParagraph(ln.start)
				openStart := ln.start
				bodyStart := ln.end
				closeIdx, bodyEnd, containerEnd := findContainerClose(lines, i+1, body)
				nodes = append(nodes, Node{
					Kind: KindContainer, Name: name,
					Body:  body[bodyStart:bodyEnd],
					Start: openStart, End: containerEnd,
				})
				i = closeIdx + 1
				continue
			}
		}

		if paraStart == -1 {
			paraStart = ln.start
		}
		paraEnd = ln.end
		i++
	}
	flushParagraph(paraEnd)
	_ = paraEnd
	return nodes
}

type lineSpan struct{ start, end int }

func splitLinesWithOffsets(s string) []lineSpan {
	var out []lineSpan
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, lineSpan{start, i + 1})
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, lineSpan{start, len(s)})
	}
	return out
}

func stripEOL(s string) string {
	return strings.TrimRight(s, "\r\n")
}

func isFenceLine(trimmed string) bool {
	if len(trimmed) < 3 {
		return false
	}
	c := trimmed[0]
	if c != '`' && c != '~' {
		return false
	}
	n := 0
	for n < len(trimmed) && trimmed[n] == c {
		n++
	}
	return n >= 3
}

// containerOpenName recognizes "::: NAME" (optional whitespace before NAME).
// A bare "::: " with no name, or exactly ":::", does not open a container.
func containerOpenName(trimmed string) (string, bool) {
	if !strings.HasPrefix(trimmed, ":::") {
		return "", false
	}
	rest := strings.TrimSpace(trimmed[3:])
	if rest == "" {
		return "", false
	}
	m := nameRE.FindString(rest)
	if m == "" {
		return "", false
	}
	return m, true
}

// findContainerClose scans from line index start for the first line whose
// trimmed form is exactly ":::", honoring nested code fences within the
// container body so literal ":::" text inside assistant-authored code
// blocks cannot prematurely close the block. Returns the index of the
// closing line, the byte offset of the container body's end (start of the
// closing line), and the byte offset just past the closing line.
func findContainerClose(lines []lineSpan, start int, body string) (closeIdx, bodyEnd, containerEnd int) {
	inFence := false
	fenceChar := byte(0)
	for i := start; i < len(lines); i++ {
		trimmed := strings.TrimSpace(stripEOL(body[lines[i].start:lines[i].end]))
		if isFenceLine(trimmed) {
			if inFence && trimmed[0] == fenceChar {
				inFence = false
			} else if !inFence {
				inFence = true
				fenceChar = trimmed[0]
			}
			continue
		}
		if !inFence && trimmed == ":::" {
			return i, lines[i].start, lines[i].end
		}
	}
	// Unterminated container: treat EOF as the close.
	n := len(lines)
	if n == 0 {
		return start, len(body), len(body)
	}
	return n - 1, len(body), len(body)
}
