package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParse_WithHeader(t *testing.T) {
	raw := "---\ninterlocutor: claude\n---\nhello\n"
	doc, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "---", doc.Closer)
	assert.Equal(t, "hello\n", doc.Body)
	require.NotNil(t, doc.Header)

	var m map[string]string
	require.NoError(t, doc.Header.Decode(&m))
	assert.Equal(t, "claude", m["interlocutor"])
}

func TestParse_DotCloser(t *testing.T) {
	raw := "---\ninterlocutor: claude\n...\nbody text\n"
	doc, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "...", doc.Closer)
	assert.Equal(t, "body text\n", doc.Body)
}

func TestParse_NoHeader(t *testing.T) {
	raw := "just a body, no front matter\n"
	doc, err := Parse(raw)
	require.NoError(t, err)
	assert.Nil(t, doc.Header)
	assert.Equal(t, raw, doc.Body)
}

func TestParse_UnterminatedHeaderErrors(t *testing.T) {
	raw := "---\ninterlocutor: claude\nbody never closes\n"
	_, err := Parse(raw)
	assert.Error(t, err)
}

func TestRender_RoundTrip(t *testing.T) {
	raw := "---\ninterlocutor: claude\nmax_tool_use: 5\n---\nhello\n"
	doc, err := Parse(raw)
	require.NoError(t, err)

	out, err := Render(doc.Header, doc.Body)
	require.NoError(t, err)

	doc2, err := Parse(out)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, doc2.Header.Decode(&m))
	assert.Equal(t, "claude", m["interlocutor"])
	assert.Equal(t, 5, m["max_tool_use"])
	assert.Equal(t, "hello\n", doc2.Body)
}

func TestRender_NilHeader(t *testing.T) {
	out, err := Render(nil, "just body\n")
	require.NoError(t, err)
	assert.Equal(t, "just body\n", out)
}

func TestAppendAssistantBlock(t *testing.T) {
	body := "question\n"
	out := AppendAssistantBlock(body, "claude", "an answer")
	assert.Equal(t, "question\n\n::: claude\n\nan answer\n\n:::\n", out)
}

func TestAppendAssistantBlock_TrimsTrailingNewlines(t *testing.T) {
	out := AppendAssistantBlock("q\n", "claude", "answer\n\n\n")
	assert.Equal(t, "q\n\n::: claude\n\nanswer\n\n:::\n", out)
}

func TestUnwrapDocument_EmptyHeaderYieldsNilNode(t *testing.T) {
	doc, err := Parse("---\n---\nbody\n")
	require.NoError(t, err)
	assert.Nil(t, doc.Header)
	assert.Equal(t, "body\n", doc.Body)
}

func TestUnwrapDocument_ScalarNode(t *testing.T) {
	var n yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte("5"), &n))
	u := unwrapDocument(&n)
	require.NotNil(t, u)
	assert.Equal(t, yaml.ScalarNode, u.Kind)
}
