package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"lectic/pkg/backend"
	"lectic/pkg/backend/mock"
	"lectic/pkg/config"
	"lectic/pkg/document"
)

func testPaths(t *testing.T) config.Paths {
	dir := t.TempDir()
	return config.Paths{Config: dir, Data: dir, Cache: dir, State: dir, Temp: dir}
}

func runDoc(t *testing.T, raw string, steps map[string][]mock.Step) (*Result, error) {
	t.Helper()
	opts := Options{
		Paths:        testPaths(t),
		WorkspaceDir: t.TempDir(),
		MockSteps:    steps,
	}
	return Run(context.Background(), opts, raw, nil)
}

func TestRun_SingleTurn(t *testing.T) {
	doc := "---\ninterlocutor:\n  name: Bob\n  prompt: p\n  provider: mock\n  model: test\n---\nHello there.\n"
	res, err := runDoc(t, doc, map[string][]mock.Step{
		"Bob": {{Text: "Hi back."}},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Assistant)
	assert.Equal(t, "Bob", res.Assistant.Interlocutor)
	assert.Contains(t, res.Document, "::: Bob")
	assert.Contains(t, res.Document, "Hi back.")
}

func TestRun_ToolLoop(t *testing.T) {
	doc := "---\ninterlocutor:\n  name: Bob\n  prompt: p\n  provider: mock\n  model: test\n  tools:\n    - exec:\n        command: date\n      name: date\n---\nWhat time is it?\n"
	res, err := runDoc(t, doc, map[string][]mock.Step{
		"Bob": {
			{Text: "checking", ToolCalls: []backend.ToolCall{{CallID: "1", Name: "date", Args: []byte(`{}`)}}},
			{Text: "it is now."},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Assistant.Interactions, 2)
	assert.NotEmpty(t, res.Assistant.Interactions[0].Calls)
}

func TestRun_RunawayToolUseAborts(t *testing.T) {
	doc := "---\ninterlocutor:\n  name: Bob\n  prompt: p\n  provider: mock\n  model: test\n  max_tool_use: 1\n  tools:\n    - exec:\n        command: date\n      name: date\n---\nLoop forever.\n"
	steps := make([]mock.Step, 0, 5)
	for i := 0; i < 5; i++ {
		steps = append(steps, mock.Step{
			Text:      "again",
			ToolCalls: []backend.ToolCall{{CallID: "x", Name: "date", Args: []byte(`{}`)}},
		})
	}
	res, err := runDoc(t, doc, map[string][]mock.Step{"Bob": steps})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runaway")

	// The turn loop still renders a valid assistant block alongside the
	// runaway error (backend.RunTurnLoop returns a non-nil assistant in
	// this case), and pipeline.Run must still hand it back rather than
	// discarding it just because err is also non-nil.
	require.NotNil(t, res)
	assert.Contains(t, res.Document, "::: Bob")
	assert.Contains(t, res.Document, "again")
}

func TestWalkBody_ReplaysPriorAssistantBlockAsHistory(t *testing.T) {
	raw := "---\ninterlocutor:\n  name: Bob\n  prompt: p\n  provider: mock\n  model: test\n---\nFirst question.\n\n::: Bob\n\nFirst answer.\n\n:::\n\nSecond question.\n"
	doc, err := document.Parse(raw)
	require.NoError(t, err)

	opts := Options{Paths: testPaths(t), WorkspaceDir: t.TempDir()}
	h, err := loadHeader(opts, doc.Header)
	require.NoError(t, err)

	p := newPipeline(context.Background(), opts)
	activeName, _, entries, err := p.walkBody(context.Background(), h, doc.Body)
	require.NoError(t, err)
	assert.Equal(t, "Bob", activeName)

	require.Len(t, entries, 3)
	assert.Equal(t, backend.RoleUser, entries[0].Role)
	assert.Contains(t, entries[0].Text, "First question")
	assert.Equal(t, backend.RoleAssistant, entries[1].Role)
	assert.Contains(t, entries[1].Text, "First answer")
	assert.Equal(t, backend.RoleUser, entries[2].Role)
	assert.Contains(t, entries[2].Text, "Second question")
}

func TestWalkBody_ResetTruncatesHistory(t *testing.T) {
	raw := "---\ninterlocutor:\n  name: Bob\n  prompt: p\n  provider: mock\n  model: test\n---\nForget me.\n\n::: Bob\n\nOk.\n\n:::\n\n:reset[]\nFresh start.\n"
	doc, err := document.Parse(raw)
	require.NoError(t, err)

	opts := Options{Paths: testPaths(t), WorkspaceDir: t.TempDir()}
	h, err := loadHeader(opts, doc.Header)
	require.NoError(t, err)

	p := newPipeline(context.Background(), opts)
	_, _, entries, err := p.walkBody(context.Background(), h, doc.Body)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, entries[2].Reset)
	assert.Contains(t, entries[2].Text, "Fresh start")
}

func TestRun_MergeYamlAppliesBeforeTurn(t *testing.T) {
	doc := "---\ninterlocutor:\n  name: Bob\n  prompt: p\n  provider: mock\n  model: test\n---\n:merge_yaml[interlocutor: {reminder: injected}]\nGo.\n"
	res, err := runDoc(t, doc, map[string][]mock.Step{
		"Bob": {{Text: "ok"}},
	})
	require.NoError(t, err)
	assert.NotNil(t, res)
}

func TestRun_AskSwitchesActiveSpeaker(t *testing.T) {
	doc := "---\ninterlocutors:\n  - name: Alice\n    prompt: p\n    provider: mock\n    model: test\n  - name: Carol\n    prompt: p\n    provider: mock\n    model: test\n---\n:ask[Carol]\nHey Carol.\n"
	res, err := runDoc(t, doc, map[string][]mock.Step{
		"Carol": {{Text: "Hi, it's Carol."}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Carol", res.Assistant.Interlocutor)
}

func TestDeclaredImports(t *testing.T) {
	var n yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte("imports:\n  - a.yaml\n  - b.yaml\n"), &n))
	got := declaredImports(n.Content[0])
	assert.Equal(t, []string{"a.yaml", "b.yaml"}, got)
}

func TestApplyEnvDefs(t *testing.T) {
	applyEnvDefs(map[string]string{"LECTIC_TEST_VAR": "value"})
	assert.Equal(t, "value", os.Getenv("LECTIC_TEST_VAR"))
}

func TestLoadHeader_WorkspaceDiscovery(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "lectic.yaml"), []byte("interlocutor:\n  name: FromWorkspace\n  prompt: p\n  provider: mock\n  model: test\n"), 0o644)
	require.NoError(t, err)

	h, err := loadHeader(Options{Paths: testPaths(t), WorkspaceDir: dir}, nil)
	require.NoError(t, err)
	require.NotNil(t, h.Interlocutor)
	assert.Equal(t, "FromWorkspace", h.Interlocutor.Name)
}
