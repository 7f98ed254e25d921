package message

import (
	"regexp"
	"strings"
)

var (
	toolCallOpenRE  = regexp.MustCompile(`(?s)<tool-call\s+([^>]*)>`)
	resultRE        = regexp.MustCompile(`(?s)<result\s+mimetype="([^"]*)">(.*?)</result>`)
	attachmentRE    = regexp.MustCompile(`(?s)<inline-attachment\s+([^>]*)>(.*?)</inline-attachment>`)
	toolCallCloseTag = "</tool-call>"
)

// ParseAssistantContent reconstructs an Assistant's Interactions and
// Attachments from its serialized wire text, the inverse of Serialize.
// Used to rebuild transcript history from a document's existing "::: NAME"
// blocks on each invocation (the runtime holds no state between runs).
func ParseAssistantContent(interlocutor, raw string) *Assistant {
	a := &Assistant{Interlocutor: interlocutor}

	var cur Interaction
	pos := 0
	for pos < len(raw) {
		loc := toolCallOpenRE.FindStringSubmatchIndex(raw[pos:])
		attLoc := attachmentRE.FindStringSubmatchIndex(raw[pos:])

		if attLoc != nil && (loc == nil || attLoc[0] < loc[0]) {
			text := raw[pos : pos+attLoc[0]]
			cur.Text += text
			attrs := parseAttrs(raw[pos+attLoc[2] : pos+attLoc[3]])
			inner := raw[pos+attLoc[4] : pos+attLoc[5]]
			a.Attachments = append(a.Attachments, InlineAttachment{
				Kind:     attrs["kind"],
				Mimetype: attrs["mimetype"],
				Content:  unescape(inner),
			})
			pos += attLoc[1]
			continue
		}
		if loc == nil {
			text := raw[pos:]
			if len(cur.Calls) > 0 && strings.TrimSpace(text) != "" {
				a.Interactions = append(a.Interactions, cur)
				cur = Interaction{Text: text}
			} else {
				cur.Text += text
			}
			break
		}

		text := raw[pos : pos+loc[0]]
		if len(cur.Calls) > 0 && strings.TrimSpace(text) != "" {
			a.Interactions = append(a.Interactions, cur)
			cur = Interaction{}
		}
		cur.Text += text

		attrs := parseAttrs(raw[pos+loc[2] : pos+loc[3]])
		bodyStart := pos + loc[1]
		closeIdx := strings.Index(raw[bodyStart:], toolCallCloseTag)
		if closeIdx < 0 {
			cur.Text += raw[pos+loc[0]:]
			break
		}
		body := raw[bodyStart : bodyStart+closeIdx]
		call := parseToolCallBody(attrs, body)
		cur.Calls = append(cur.Calls, call)
		pos = bodyStart + closeIdx + len(toolCallCloseTag)
		// Serialize always emits exactly one formatting newline after the
		// closing tag; it is not part of any interaction's text.
		if pos < len(raw) && raw[pos] == '\n' {
			pos++
		}
	}
	if cur.Text != "" || len(cur.Calls) > 0 {
		a.Interactions = append(a.Interactions, cur)
	}
	return a
}

func parseToolCallBody(attrs map[string]string, body string) ToolCall {
	call := ToolCall{
		Name:    attrs["with"],
		ID:      attrs["id"],
		IsError: attrs["error"] == "true",
	}

	argsText := body
	var results []Result
	if loc := resultRE.FindAllStringSubmatchIndex(body, -1); loc != nil {
		argsText = body[:loc[0][0]]
		for _, m := range loc {
			results = append(results, Result{
				Mimetype: body[m[2]:m[3]],
				Text:     unescape(body[m[4]:m[5]]),
			})
		}
	}
	call.Args = []byte(strings.TrimSpace(argsText))
	call.Results = results
	return call
}

// parseAttrs parses a `key="value" key2="value2"` attribute list.
func parseAttrs(s string) map[string]string {
	attrs := map[string]string{}
	re := regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_-]*)="([^"]*)"`)
	for _, m := range re.FindAllStringSubmatch(s, -1) {
		attrs[m[1]] = unescape(m[2])
	}
	return attrs
}
