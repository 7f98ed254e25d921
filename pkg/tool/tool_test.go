package tool

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"lectic/pkg/header"
)

func specFromYAML(t *testing.T, s string) header.ToolSpec {
	t.Helper()
	var spec header.ToolSpec
	require.NoError(t, yaml.Unmarshal([]byte(s), &spec))
	return spec
}

func TestNewThinkAbout_DefaultsAndEcho(t *testing.T) {
	spec := specFromYAML(t, "think_about: true\n")
	tools, err := NewThinkAbout(context.Background(), spec)
	require.NoError(t, err)
	require.Len(t, tools, 1)

	tl := tools[0]
	assert.Equal(t, "think_about", tl.Name())
	assert.Contains(t, tl.Required(), "thought")

	args, err := json.Marshal(map[string]string{"thought": "considering the options"})
	require.NoError(t, err)
	require.NoError(t, tl.Validate(args))

	results, err := tl.Call(context.Background(), args)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "considering the options", results[0].Text)
	assert.Equal(t, "text/plain", results[0].Mimetype)
}

func TestNewThinkAbout_CustomName(t *testing.T) {
	spec := specFromYAML(t, "think_about: true\nname: ponder\ndescription: sit with it\n")
	tools, err := NewThinkAbout(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, "ponder", tools[0].Name())
	assert.Equal(t, "sit with it", tools[0].Description())
}

func TestNewThinkAbout_ValidateRejectsMissingThought(t *testing.T) {
	spec := specFromYAML(t, "think_about: true\n")
	tools, err := NewThinkAbout(context.Background(), spec)
	require.NoError(t, err)
	err = tools[0].Validate([]byte(`{}`))
	assert.Error(t, err)
}

func TestNewServe_FetchesConfiguredResource(t *testing.T) {
	spec := specFromYAML(t, "serve: true\nname: docs\nresources:\n  readme: \"hello world\"\n")
	tools, err := NewServe(context.Background(), spec)
	require.NoError(t, err)
	require.Len(t, tools, 1)

	s := tools[0].(*serve)
	defer s.Close()

	args, err := json.Marshal(map[string]string{"resource": "readme"})
	require.NoError(t, err)
	results, err := s.Call(context.Background(), args)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "hello world", results[0].Text)
}

func TestNewServe_UnknownResourceErrors(t *testing.T) {
	spec := specFromYAML(t, "serve: true\nname: docs\nresources:\n  readme: \"hi\"\n")
	tools, err := NewServe(context.Background(), spec)
	require.NoError(t, err)
	s := tools[0].(*serve)
	defer s.Close()

	_, err = s.Call(context.Background(), []byte(`{"resource":"missing"}`))
	assert.Error(t, err)
}

func TestNewServe_ListenerAnswersHTTP(t *testing.T) {
	spec := specFromYAML(t, "serve: true\nname: docs\nresources:\n  readme: \"over http\"\n")
	tools, err := NewServe(context.Background(), spec)
	require.NoError(t, err)
	s := tools[0].(*serve)
	defer s.Close()

	client := &http.Client{Timeout: 2 * time.Second}
	var resp *http.Response
	for i := 0; i < 20; i++ {
		resp, err = client.Get(s.baseURL + "/readme")
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewNative_Search(t *testing.T) {
	spec := specFromYAML(t, "native: search\nname: web_search\n")
	tools, err := NewNative(context.Background(), spec)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	n := tools[0].(*native)
	assert.Equal(t, NativeSearch, n.Kind)
	assert.Equal(t, "web_search", n.Name())
}

func TestNewNative_RejectsUnknownKind(t *testing.T) {
	spec := specFromYAML(t, "native: vision\n")
	_, err := NewNative(context.Background(), spec)
	assert.Error(t, err)
}

func TestNewNative_CallIsRefused(t *testing.T) {
	spec := specFromYAML(t, "native: code\n")
	tools, err := NewNative(context.Background(), spec)
	require.NoError(t, err)
	_, err = tools[0].Call(context.Background(), nil)
	assert.Error(t, err)
}

func TestCompileSchema_RejectsInvalidArgs(t *testing.T) {
	schema, err := CompileSchema("sample", map[string]any{
		"n": map[string]any{"type": "integer"},
	}, []string{"n"})
	require.NoError(t, err)
	assert.Error(t, ValidateArgs(schema, []byte(`{}`)))
	assert.NoError(t, ValidateArgs(schema, []byte(`{"n":1}`)))
}

func TestCollapseMimetype(t *testing.T) {
	assert.Equal(t, "text/plain", CollapseMimetype(""))
	assert.Equal(t, "text/plain", CollapseMimetype("text/markdown"))
	assert.Equal(t, "image/png", CollapseMimetype("image/png"))
}
