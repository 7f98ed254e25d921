package gemini

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lectic/pkg/backend"
	"lectic/pkg/message"
	"lectic/pkg/tool"
)

func TestNew_RequiresModel(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestNew_RequiresAPIKey(t *testing.T) {
	os.Unsetenv("GEMINI_API_KEY")
	_, err := New(context.Background(), Config{Model: "gemini-2.0-flash"})
	assert.Error(t, err)
}

func TestNew_ResolvesAPIKeyFromEnv(t *testing.T) {
	os.Setenv("GEMINI_API_KEY", "test-key")
	defer os.Unsetenv("GEMINI_API_KEY")

	p, err := New(context.Background(), Config{Model: "gemini-2.0-flash"})
	require.NoError(t, err)
	assert.Equal(t, "gemini", p.Name())
	assert.False(t, p.SupportsCacheControl())
}

func TestEncodeHistory_IncludesSystemInstruction(t *testing.T) {
	os.Setenv("GEMINI_API_KEY", "test-key")
	defer os.Unsetenv("GEMINI_API_KEY")

	p, err := New(context.Background(), Config{Model: "gemini-2.0-flash", SystemPrompt: "be terse"})
	require.NoError(t, err)

	entries := []backend.HistoryEntry{{Role: backend.RoleUser, Text: "hi"}}
	encoded, err := p.EncodeHistory(entries, backend.EncodeOptions{ActiveSpeaker: "Bot"})
	require.NoError(t, err)

	req := encoded.(request)
	require.Len(t, req.contents, 1)
	assert.Equal(t, "user", req.contents[0].Role)
	require.NotNil(t, req.config.SystemInstruction)
	assert.Equal(t, "be terse", req.config.SystemInstruction.Parts[0].Text)
}

func TestEncodeHistory_RelabelsOtherInterlocutor(t *testing.T) {
	os.Setenv("GEMINI_API_KEY", "test-key")
	defer os.Unsetenv("GEMINI_API_KEY")

	p, err := New(context.Background(), Config{Model: "gemini-2.0-flash"})
	require.NoError(t, err)

	entries := []backend.HistoryEntry{
		{Role: backend.RoleAssistant, Interlocutor: "A", Text: "hello"},
	}
	encoded, err := p.EncodeHistory(entries, backend.EncodeOptions{ActiveSpeaker: "B"})
	require.NoError(t, err)

	req := encoded.(request)
	require.Len(t, req.contents, 1)
	assert.Equal(t, "user", req.contents[0].Role)
	assert.Contains(t, req.contents[0].Parts[0].Text, `<speaker name="A">`)
}

func TestEncodeHistory_ToolCallBecomesFunctionCallAndResponse(t *testing.T) {
	os.Setenv("GEMINI_API_KEY", "test-key")
	defer os.Unsetenv("GEMINI_API_KEY")

	p, err := New(context.Background(), Config{Model: "gemini-2.0-flash"})
	require.NoError(t, err)

	entries := []backend.HistoryEntry{
		{
			Role:         backend.RoleAssistant,
			Interlocutor: "Bot",
			ToolCalls: []message.ToolCall{
				{ID: "call_1", Name: "lookup", Args: []byte(`{"q":"x"}`), Results: []message.Result{{Text: "42"}}},
			},
		},
	}
	encoded, err := p.EncodeHistory(entries, backend.EncodeOptions{ActiveSpeaker: "Bot"})
	require.NoError(t, err)

	req := encoded.(request)
	require.Len(t, req.contents, 1)
	assert.Equal(t, "model", req.contents[0].Role)
	require.Len(t, req.contents[0].Parts, 2)
	require.NotNil(t, req.contents[0].Parts[0].FunctionCall)
	assert.Equal(t, "lookup", req.contents[0].Parts[0].FunctionCall.Name)
	require.NotNil(t, req.contents[0].Parts[1].FunctionResponse)
	assert.Equal(t, "42", req.contents[0].Parts[1].FunctionResponse.Response["result"])
}

func TestEncodeHistory_EncodesToolSpecs(t *testing.T) {
	os.Setenv("GEMINI_API_KEY", "test-key")
	defer os.Unsetenv("GEMINI_API_KEY")

	p, err := New(context.Background(), Config{
		Model: "gemini-2.0-flash",
		Tools: []tool.Spec{
			{Name: "lookup", Description: "looks things up", Parameters: map[string]any{"q": map[string]any{"type": "string"}}, Required: []string{"q"}},
		},
	})
	require.NoError(t, err)

	encoded, err := p.EncodeHistory(nil, backend.EncodeOptions{ActiveSpeaker: "Bot"})
	require.NoError(t, err)

	req := encoded.(request)
	require.Len(t, req.config.Tools, 1)
	require.Len(t, req.config.Tools[0].FunctionDeclarations, 1)
	assert.Equal(t, "lookup", req.config.Tools[0].FunctionDeclarations[0].Name)
}

func TestGenerateStableFunctionCallID_Deterministic(t *testing.T) {
	id1 := generateStableFunctionCallID("lookup", map[string]any{"q": "x"})
	id2 := generateStableFunctionCallID("lookup", map[string]any{"q": "x"})
	assert.Equal(t, id1, id2)
}
