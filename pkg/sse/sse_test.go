package sse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScan_JoinsMultilineDataAndSkipsDone(t *testing.T) {
	stream := strings.Join([]string{
		`data: {"delta":"hel`,
		`data: lo"}`,
		"",
		": this is a comment",
		`data: {"delta":"!"}`,
		"",
		"data: [DONE]",
		"",
	}, "\n")

	var events []string
	err := Scan(strings.NewReader(stream), func(data string) error {
		events = append(events, data)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "{\"delta\":\"hel\nlo\"}", events[0])
	assert.Equal(t, `{"delta":"!"}`, events[1])
}

func TestScan_PropagatesEmitError(t *testing.T) {
	stream := "data: x\n\n"
	err := Scan(strings.NewReader(stream), func(string) error {
		return assertErr{}
	})
	assert.Error(t, err)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
