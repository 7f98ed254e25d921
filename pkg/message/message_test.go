package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialize_PlainTextOnly(t *testing.T) {
	a := &Assistant{Interlocutor: "Bot", Interactions: []Interaction{{Text: "Hi there"}}}
	assert.Equal(t, "Hi there", a.Serialize())
}

func TestSerialize_WithToolCall(t *testing.T) {
	a := &Assistant{
		Interlocutor: "Bot",
		Interactions: []Interaction{{
			Text: "let me check\n",
			Calls: []ToolCall{{
				Name: "echo", ID: "1",
				Args:    []byte(`{"text":"ok"}`),
				Results: []Result{{Text: "ok", Mimetype: "text/plain"}},
			}},
		}},
	}
	out := a.Serialize()
	assert.Contains(t, out, `<tool-call with="echo" id="1">`)
	assert.Contains(t, out, `{"text":"ok"}`)
	assert.Contains(t, out, `<result mimetype="text/plain">ok</result>`)
	assert.Contains(t, out, "</tool-call>")
}

func TestSerialize_ErrorCallMarksError(t *testing.T) {
	a := &Assistant{Interactions: []Interaction{{
		Calls: []ToolCall{{Name: "echo", IsError: true, Results: []Result{{Text: "boom"}}}},
	}}}
	assert.Contains(t, a.Serialize(), `error="true"`)
}

func TestRoundTrip_ToolCall(t *testing.T) {
	orig := &Assistant{
		Interlocutor: "Bot",
		Interactions: []Interaction{{
			Text: "checking...\n",
			Calls: []ToolCall{
				{Name: "echo", ID: "call-1", Args: []byte(`{"text":"ok"}`), Results: []Result{{Text: "ok", Mimetype: "text/plain"}}},
			},
		}, {
			Text: "all done",
		}},
	}
	wire := orig.Serialize()
	got := ParseAssistantContent("Bot", wire)

	require.Len(t, got.Interactions, 2)
	assert.Equal(t, "checking...\n", got.Interactions[0].Text)
	require.Len(t, got.Interactions[0].Calls, 1)
	assert.Equal(t, "echo", got.Interactions[0].Calls[0].Name)
	assert.Equal(t, "call-1", got.Interactions[0].Calls[0].ID)
	assert.Equal(t, `{"text":"ok"}`, string(got.Interactions[0].Calls[0].Args))
	require.Len(t, got.Interactions[0].Calls[0].Results, 1)
	assert.Equal(t, "ok", got.Interactions[0].Calls[0].Results[0].Text)
	assert.Equal(t, "all done", got.Interactions[1].Text)
}

func TestRoundTrip_InlineAttachment(t *testing.T) {
	orig := &Assistant{Attachments: []InlineAttachment{{Kind: "attach", Content: "hello <world>", Mimetype: "text/plain"}}}
	wire := orig.Serialize()
	got := ParseAssistantContent("Bot", wire)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "attach", got.Attachments[0].Kind)
	assert.Equal(t, "hello <world>", got.Attachments[0].Content)
	assert.Equal(t, "text/plain", got.Attachments[0].Mimetype)
}

func TestParseAssistantContent_ParsesMultipleSequentialCallsIntoOneInteraction(t *testing.T) {
	raw := `<tool-call with="a" id="1">
{}
<result mimetype="text/plain">x</result>
</tool-call>
<tool-call with="b" id="2">
{}
<result mimetype="text/plain">y</result>
</tool-call>
`
	got := ParseAssistantContent("Bot", raw)
	require.Len(t, got.Interactions, 1)
	require.Len(t, got.Interactions[0].Calls, 2)
	assert.Equal(t, "a", got.Interactions[0].Calls[0].Name)
	assert.Equal(t, "b", got.Interactions[0].Calls[1].Name)
}

func TestUser_AppendAttachment(t *testing.T) {
	u := &User{Content: "run it: :cmd[ls]"}
	u.AppendAttachment("cmd", "file1\nfile2", "text/plain")
	require.Len(t, u.Attachments, 1)
	assert.Equal(t, "cmd", u.Attachments[0].Kind)
}
