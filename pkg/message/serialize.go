package message

import (
	"fmt"
	"strings"
)

// Serialize renders an Assistant's interactions and attachments into the
// XML-like wire format stored in the document body (§3 Message):
// "<tool-call with=\"name\">...</tool-call>", "<inline-attachment
// kind=\"...\">...</inline-attachment>".
func (a *Assistant) Serialize() string {
	var b strings.Builder
	for _, inter := range a.Interactions {
		b.WriteString(inter.Text)
		for _, c := range inter.Calls {
			serializeToolCall(&b, c)
		}
	}
	for _, att := range a.Attachments {
		serializeAttachment(&b, att)
	}
	return b.String()
}

func serializeToolCall(b *strings.Builder, c ToolCall) {
	b.WriteString("<tool-call with=\"")
	b.WriteString(escapeAttr(c.Name))
	b.WriteString("\"")
	if c.ID != "" {
		b.WriteString(" id=\"")
		b.WriteString(escapeAttr(c.ID))
		b.WriteString("\"")
	}
	if c.IsError {
		b.WriteString(" error=\"true\"")
	}
	b.WriteString(">\n")
	if len(c.Args) > 0 {
		b.Write(c.Args)
		b.WriteString("\n")
	}
	for _, r := range c.Results {
		b.WriteString("<result mimetype=\"")
		b.WriteString(escapeAttr(r.Mimetype))
		b.WriteString("\">")
		b.WriteString(escapeText(r.Text))
		b.WriteString("</result>\n")
	}
	b.WriteString("</tool-call>\n")
}

func serializeAttachment(b *strings.Builder, att InlineAttachment) {
	b.WriteString("<inline-attachment kind=\"")
	b.WriteString(escapeAttr(att.Kind))
	if att.Mimetype != "" {
		b.WriteString("\" mimetype=\"")
		b.WriteString(escapeAttr(att.Mimetype))
	}
	b.WriteString("\">")
	b.WriteString(escapeText(att.Content))
	b.WriteString("</inline-attachment>\n")
}

func escapeAttr(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}

func escapeText(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	return s
}

func unescape(s string) string {
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&quot;", "\"")
	s = strings.ReplaceAll(s, "&amp;", "&")
	return s
}

// renderErrorResult wraps msg in an "<error>" element as a text/plain
// Result. Nothing in this module calls it; the turn loop's canned
// "Tool usage limit exceeded" results are plain text.
func renderErrorResult(msg string) Result {
	return Result{Text: fmt.Sprintf("<error>%s</error>", msg), Mimetype: "text/plain"}
}
