package backend_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lectic/pkg/backend"
	"lectic/pkg/backend/mock"
	"lectic/pkg/header"
	"lectic/pkg/message"
	"lectic/pkg/tool"
)

type echoTool struct{}

func (echoTool) Name() string               { return "echo" }
func (echoTool) Description() string        { return "echoes text back" }
func (echoTool) Parameters() map[string]any { return map[string]any{"text": map[string]any{"type": "string"}} }
func (echoTool) Required() []string         { return []string{"text"} }
func (echoTool) Usage() string              { return "" }
func (echoTool) Validate([]byte) error      { return nil }
func (echoTool) Call(_ context.Context, args []byte) ([]tool.Result, error) {
	var a struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(args, &a)
	return []tool.Result{{Text: a.Text, Mimetype: "text/plain"}}, nil
}

func registryWithEcho(t *testing.T) *tool.Registry {
	t.Helper()
	r, err := tool.NewRegistry(context.Background(), []header.ToolSpec{{Variant: "echo", Name: "echo"}}, func(ctx context.Context, spec header.ToolSpec) ([]tool.Tool, error) {
		return []tool.Tool{echoTool{}}, nil
	})
	require.NoError(t, err)
	return r
}

// screenshotTool returns one text result alongside one binary-mime result,
// the shape that must be split across the model-visible ToolCall and a
// synthetic attachment (§8 binary-mime threading property).
type screenshotTool struct{}

func (screenshotTool) Name() string               { return "screenshot" }
func (screenshotTool) Description() string        { return "captures a screenshot" }
func (screenshotTool) Parameters() map[string]any { return map[string]any{} }
func (screenshotTool) Required() []string         { return nil }
func (screenshotTool) Usage() string              { return "" }
func (screenshotTool) Validate([]byte) error      { return nil }
func (screenshotTool) Call(_ context.Context, _ []byte) ([]tool.Result, error) {
	return []tool.Result{
		{Text: "captured one frame", Mimetype: "text/plain"},
		{Text: "<binary-png-data>", Mimetype: "image/png"},
	}, nil
}

func registryWithScreenshot(t *testing.T) *tool.Registry {
	t.Helper()
	r, err := tool.NewRegistry(context.Background(), []header.ToolSpec{{Variant: "screenshot", Name: "screenshot"}}, func(ctx context.Context, spec header.ToolSpec) ([]tool.Tool, error) {
		return []tool.Tool{screenshotTool{}}, nil
	})
	require.NoError(t, err)
	return r
}

func TestRunTurnLoop_SingleTurn(t *testing.T) {
	provider := mock.New([]mock.Step{{Text: "Hi"}})
	active := &header.Interlocutor{Name: "Bot"}
	registry := registryWithEcho(t)

	assistant, err := backend.RunTurnLoop(context.Background(), provider, nil, active, registry, backend.TurnLoopOptions{})
	require.NoError(t, err)
	require.Len(t, assistant.Interactions, 1)
	assert.Equal(t, "Hi", assistant.Interactions[0].Text)
	assert.Equal(t, "Bot", assistant.Interlocutor)
}

func TestRunTurnLoop_ToolLoop(t *testing.T) {
	provider := mock.New([]mock.Step{
		{ToolCalls: []backend.ToolCall{{CallID: "1", Name: "echo", Args: json.RawMessage(`{"text":"ok"}`)}}},
		{Text: "done"},
	})
	active := &header.Interlocutor{Name: "Bot"}
	registry := registryWithEcho(t)

	assistant, err := backend.RunTurnLoop(context.Background(), provider, nil, active, registry, backend.TurnLoopOptions{})
	require.NoError(t, err)
	require.Len(t, assistant.Interactions, 2)
	require.Len(t, assistant.Interactions[0].Calls, 1)
	call := assistant.Interactions[0].Calls[0]
	assert.False(t, call.IsError)
	require.Len(t, call.Results, 1)
	assert.Equal(t, "ok", call.Results[0].Text)
	assert.Equal(t, "done", assistant.Interactions[1].Text)
}

func TestRunTurnLoop_RunawayBound(t *testing.T) {
	alwaysCalls := func() mock.Step {
		return mock.Step{ToolCalls: []backend.ToolCall{{CallID: "x", Name: "echo", Args: json.RawMessage(`{"text":"x"}`)}}}
	}
	steps := []mock.Step{alwaysCalls(), alwaysCalls(), alwaysCalls(), alwaysCalls(), alwaysCalls()}
	provider := mock.New(steps)
	active := &header.Interlocutor{Name: "Bot", MaxToolUse: 2}
	registry := registryWithEcho(t)

	var deltas []string
	opts := backend.TurnLoopOptions{OnDelta: func(s string) error {
		deltas = append(deltas, s)
		return nil
	}}

	assistant, err := backend.RunTurnLoop(context.Background(), provider, nil, active, registry, opts)
	require.Error(t, err)
	require.Len(t, assistant.Interactions, 3, "2 real rounds + 1 limit-exceeded synthetic round")
	assert.False(t, assistant.Interactions[0].Calls[0].IsError)
	assert.False(t, assistant.Interactions[1].Calls[0].IsError)
	assert.True(t, assistant.Interactions[2].Calls[0].IsError)
	assert.Equal(t, "Tool usage limit exceeded", assistant.Interactions[2].Calls[0].Results[0].Text)
	assert.Contains(t, deltas, "<error>Runaway tool use!</error>")
}

// TestRunTurnLoop_BinaryMimeResultThreadsAsAttachment drives a tool result
// carrying both a text part and an image/png part through one round and
// asserts the text stays inline on the tool call while the binary part is
// filtered out of model-visible output and reappears as an attachment on a
// synthetic user entry immediately after (§8 binary-mime threading
// property; Open Question #1's resolved ordering: text first, attachment as
// a separate subsequent message, not interleaved).
func TestRunTurnLoop_BinaryMimeResultThreadsAsAttachment(t *testing.T) {
	provider := mock.New([]mock.Step{
		{ToolCalls: []backend.ToolCall{{CallID: "1", Name: "screenshot", Args: json.RawMessage(`{}`)}}},
		{Text: "here is what I saw"},
	})
	active := &header.Interlocutor{Name: "Bot"}
	registry := registryWithScreenshot(t)

	var rounds [][]backend.HistoryEntry
	provider.Encoded = func(entries []backend.HistoryEntry, _ backend.EncodeOptions) {
		captured := make([]backend.HistoryEntry, len(entries))
		copy(captured, entries)
		rounds = append(rounds, captured)
	}

	assistant, err := backend.RunTurnLoop(context.Background(), provider, nil, active, registry, backend.TurnLoopOptions{})
	require.NoError(t, err)
	require.Len(t, assistant.Interactions, 2)

	call := assistant.Interactions[0].Calls[0]
	require.Len(t, call.Results, 1, "the binary result must not ride along in model-visible tool output")
	assert.Equal(t, "captured one frame", call.Results[0].Text)
	for _, r := range call.Results {
		assert.NotEqual(t, "image/png", r.Mimetype)
	}

	require.Len(t, rounds, 2, "one encode before each completion")
	secondRoundHistory := rounds[1]
	require.Len(t, secondRoundHistory, 2, "assistant/tool-call entry followed by a synthetic user attachment entry")

	assistantEntry := secondRoundHistory[0]
	assert.Equal(t, backend.RoleAssistant, assistantEntry.Role)
	require.Len(t, assistantEntry.ToolCalls, 1)
	require.Len(t, assistantEntry.ToolCalls[0].Results, 1)

	attachmentEntry := secondRoundHistory[1]
	assert.Equal(t, backend.RoleUser, attachmentEntry.Role)
	require.Len(t, attachmentEntry.Attachments, 1)
	assert.Equal(t, "tool-result", attachmentEntry.Attachments[0].Kind)
	assert.Equal(t, "image/png", attachmentEntry.Attachments[0].Mimetype)
	assert.Equal(t, "<binary-png-data>", attachmentEntry.Attachments[0].Content)
}

func TestRunTurnLoop_UnknownToolIsAnErrorResult(t *testing.T) {
	provider := mock.New([]mock.Step{
		{ToolCalls: []backend.ToolCall{{CallID: "1", Name: "nope", Args: json.RawMessage(`{}`)}}},
		{Text: "done"},
	})
	active := &header.Interlocutor{Name: "Bot"}
	registry := registryWithEcho(t)

	assistant, err := backend.RunTurnLoop(context.Background(), provider, nil, active, registry, backend.TurnLoopOptions{})
	require.NoError(t, err)
	require.Len(t, assistant.Interactions[0].Calls, 1)
	assert.True(t, assistant.Interactions[0].Calls[0].IsError)
}

func TestRelabelSpeaker_OtherInterlocutorBecomesUserMessage(t *testing.T) {
	entries := []backend.HistoryEntry{
		{Role: backend.RoleAssistant, Interlocutor: "A", Text: "hello"},
		{Role: backend.RoleAssistant, Interlocutor: "B", Text: "hi"},
	}
	out := backend.RelabelSpeaker(entries, "B")
	require.Len(t, out, 2)
	assert.Equal(t, backend.RoleUser, out[0].Role)
	assert.Contains(t, out[0].Text, `<speaker name="A">hello</speaker>`)
	assert.Equal(t, backend.RoleAssistant, out[1].Role)
}

func TestRunTurnLoop_ResetSplicesPriorHistory(t *testing.T) {
	provider := mock.New([]mock.Step{{Text: "ok"}})
	active := &header.Interlocutor{Name: "Bot"}
	registry := registryWithEcho(t)

	var captured []backend.HistoryEntry
	encoded := func(entries []backend.HistoryEntry, _ backend.EncodeOptions) { captured = entries }
	provider.Encoded = encoded

	entries := []backend.HistoryEntry{
		{Role: backend.RoleUser, Text: "old message"},
		{Role: backend.RoleUser, Text: "reset point", Reset: true,
			Attachments: []message.InlineAttachment{{Kind: "cmd", Content: "carried", Mimetype: "text/plain"}}},
		{Role: backend.RoleUser, Text: "after reset"},
	}

	_, err := backend.RunTurnLoop(context.Background(), provider, entries, active, registry, backend.TurnLoopOptions{})
	require.NoError(t, err)
	require.Len(t, captured, 2)
	assert.Equal(t, "carried", captured[0].Attachments[0].Content)
	assert.Equal(t, "after reset", captured[1].Text)
}
