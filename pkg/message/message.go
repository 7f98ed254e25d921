// Package message models the two message roles of a lectic transcript —
// User and Assistant — and their XML-like wire serialization (§3 Message,
// §6 Document format).
package message

import "encoding/json"

// InlineAttachment is a text block spliced into a message during directive
// or macro expansion (§3 Message, GLOSSARY "Inline attachment").
type InlineAttachment struct {
	Kind     string
	Content  string
	Mimetype string
}

// User is one user turn: the concatenated non-assistant body text between
// "::: NAME" blocks, plus any inline attachments accumulated while
// expanding its directives and macros.
type User struct {
	Content     string
	Attachments []InlineAttachment
}

// AppendAttachment records an inline attachment produced while expanding
// a directive (":cmd", ":attach", a macro's pre/post hook, ...).
func (u *User) AppendAttachment(kind, content, mimetype string) {
	u.Attachments = append(u.Attachments, InlineAttachment{Kind: kind, Content: content, Mimetype: mimetype})
}

// Result is one tool call result part (§3 Tool Call Result). Mimetype
// "text/*" is collapsed to "text/plain" by the turn loop (pkg/backend)
// before the Result reaches the transcript; binary mimetypes are threaded as
// attachments instead of inline text by the turn loop, not by Result
// itself.
type Result struct {
	Text     string
	Mimetype string
}

// ToolCall is one realized call within an assistant interaction.
type ToolCall struct {
	ID      string
	Name    string
	Args    json.RawMessage
	Results []Result
	IsError bool
}

// Interaction is one reasoning-text-then-tool-calls unit within an
// assistant turn: free text, followed by zero or more tool calls the
// model issued after producing that text.
type Interaction struct {
	Text  string
	Calls []ToolCall
}

// Assistant is one assistant turn: interlocutor name plus its structured
// interactions and any inline attachments threaded alongside them.
type Assistant struct {
	Interlocutor string
	Interactions []Interaction
	Attachments  []InlineAttachment
}
