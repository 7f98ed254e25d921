package anthropic

import (
	"os"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lectic/pkg/backend"
)

func TestNew_RequiresModel(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestNew_RequiresAPIKey(t *testing.T) {
	os.Unsetenv("ANTHROPIC_API_KEY")
	_, err := New(Config{Model: "claude-3-5-sonnet-latest"})
	assert.Error(t, err)
}

func TestNew_ResolvesAPIKeyFromEnv(t *testing.T) {
	os.Setenv("ANTHROPIC_API_KEY", "test-key")
	defer os.Unsetenv("ANTHROPIC_API_KEY")

	p, err := New(Config{Model: "claude-3-5-sonnet-latest"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())
	assert.True(t, p.SupportsCacheControl())
}

func TestEncodeHistory_PlacesCacheBreakpointOnLastEntry(t *testing.T) {
	os.Setenv("ANTHROPIC_API_KEY", "test-key")
	defer os.Unsetenv("ANTHROPIC_API_KEY")

	p, err := New(Config{Model: "claude-3-5-sonnet-latest", SystemPrompt: "be terse"})
	require.NoError(t, err)

	entries := []backend.HistoryEntry{
		{Role: backend.RoleUser, Text: "first"},
		{Role: backend.RoleUser, Text: "second"},
	}
	encoded, err := p.EncodeHistory(entries, backend.EncodeOptions{ActiveSpeaker: "Bot", CacheBreakpoint: 1})
	require.NoError(t, err)

	params, ok := encoded.(anthropic.MessageNewParams)
	require.True(t, ok)
	require.Len(t, params.Messages, 2)

	lastBlock := params.Messages[1].Content[len(params.Messages[1].Content)-1]
	require.NotNil(t, lastBlock.OfText)
	assert.NotZero(t, lastBlock.OfText.CacheControl)

	firstBlock := params.Messages[0].Content[len(params.Messages[0].Content)-1]
	require.NotNil(t, firstBlock.OfText)
	assert.Zero(t, firstBlock.OfText.CacheControl)
}

func TestEncodeHistory_NoCacheSuppressesBreakpoint(t *testing.T) {
	os.Setenv("ANTHROPIC_API_KEY", "test-key")
	defer os.Unsetenv("ANTHROPIC_API_KEY")

	p, err := New(Config{Model: "claude-3-5-sonnet-latest"})
	require.NoError(t, err)

	entries := []backend.HistoryEntry{{Role: backend.RoleUser, Text: "hi"}}
	encoded, err := p.EncodeHistory(entries, backend.EncodeOptions{NoCache: true, CacheBreakpoint: 0})
	require.NoError(t, err)

	params := encoded.(anthropic.MessageNewParams)
	lastBlock := params.Messages[0].Content[0]
	assert.Zero(t, lastBlock.OfText.CacheControl)
}

func TestEncodeHistory_RelabelsOtherInterlocutor(t *testing.T) {
	os.Setenv("ANTHROPIC_API_KEY", "test-key")
	defer os.Unsetenv("ANTHROPIC_API_KEY")

	p, err := New(Config{Model: "claude-3-5-sonnet-latest"})
	require.NoError(t, err)

	entries := []backend.HistoryEntry{
		{Role: backend.RoleAssistant, Interlocutor: "A", Text: "hello"},
	}
	encoded, err := p.EncodeHistory(entries, backend.EncodeOptions{ActiveSpeaker: "B", CacheBreakpoint: -1})
	require.NoError(t, err)

	params := encoded.(anthropic.MessageNewParams)
	require.Len(t, params.Messages, 1)
	assert.Equal(t, anthropic.MessageParamRoleUser, params.Messages[0].Role)
}
