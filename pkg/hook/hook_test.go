package hook

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lectic/pkg/header"
)

func TestFire_InlineHookCapturesStdout(t *testing.T) {
	specs := []header.HookSpec{
		{On: "user_message", Do: "echo hi", Inline: true},
	}
	r := NewRunner(specs, nil)
	atts, err := r.Fire(context.Background(), EventUserMessage, nil)
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "hook", atts[0].Kind)
	assert.Equal(t, "hi\n", atts[0].Content)
}

func TestFire_OnlyMatchingEventRuns(t *testing.T) {
	specs := []header.HookSpec{
		{On: "error", Do: "echo nope", Inline: true},
	}
	r := NewRunner(specs, nil)
	atts, err := r.Fire(context.Background(), EventUserMessage, nil)
	require.NoError(t, err)
	assert.Empty(t, atts)
}

func TestFire_NonFatalFailureDoesNotError(t *testing.T) {
	specs := []header.HookSpec{
		{On: "user_message", Do: "exit 1"},
	}
	r := NewRunner(specs, nil)
	_, err := r.Fire(context.Background(), EventUserMessage, nil)
	assert.NoError(t, err)
}

func TestFire_FatalFailureErrors(t *testing.T) {
	specs := []header.HookSpec{
		{On: "user_message", Do: "exit 1", Fatal: true},
	}
	r := NewRunner(specs, nil)
	_, err := r.Fire(context.Background(), EventUserMessage, nil)
	assert.Error(t, err)
}

func TestFire_EnvPassedToCommand(t *testing.T) {
	specs := []header.HookSpec{
		{On: "user_message", Do: "echo $USER_MESSAGE", Inline: true},
	}
	r := NewRunner(specs, nil)
	atts, err := r.Fire(context.Background(), EventUserMessage, map[string]string{"USER_MESSAGE": "hello there"})
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "hello there\n", atts[0].Content)
}

func TestFire_RunsMultipleHooksInOrder(t *testing.T) {
	specs := []header.HookSpec{
		{On: "user_message", Do: "echo first", Inline: true},
		{On: "user_message", Do: "echo second", Inline: true},
	}
	r := NewRunner(specs, nil)
	atts, err := r.Fire(context.Background(), EventUserMessage, nil)
	require.NoError(t, err)
	require.Len(t, atts, 2)
	assert.Equal(t, "first\n", atts[0].Content)
	assert.Equal(t, "second\n", atts[1].Content)
}
