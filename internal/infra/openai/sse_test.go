package openai

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadEvents(t *testing.T) {
	stream := ": keep-alive\n" +
		"event: first\n" +
		"data: line1\n" +
		"data:line2\n" +
		"\n" +
		"\n" +
		"data: second\r\n" +
		"\r\n" +
		"event: tail\n" +
		"data: no trailing blank line"

	var events []sseEvent
	err := readEvents(strings.NewReader(stream), func(ev sseEvent) bool {
		events = append(events, ev)
		return true
	})

	require.NoError(t, err)
	assert.Equal(t, []sseEvent{
		{Event: "first", Data: "line1\nline2"},
		{Event: "", Data: "second"},
		{Event: "tail", Data: "no trailing blank line"},
	}, events)
}

func TestReadEvents_StopsEarly(t *testing.T) {
	stream := "data: a\n\ndata: b\n\ndata: c\n\n"

	var got []string
	err := readEvents(strings.NewReader(stream), func(ev sseEvent) bool {
		got = append(got, ev.Data)
		return ev.Data != "b"
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestField(t *testing.T) {
	tests := []struct {
		line   string
		value  string
		wantOK bool
	}{
		{"data: {}", "{}", true},
		{"data:{}", "{}", true},
		{"data:  two spaces", " two spaces", true},
		{"event: x", "", false},
		{"datax: y", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			value, ok := field(tt.line, "data")
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.value, value)
		})
	}
}
