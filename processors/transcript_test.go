package processors

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podscribe/core"
)

func TestInteractiveTranscriptEmitsOneSpanPerWord(t *testing.T) {
	transcript := &core.Transcript{
		FullText: "hello world",
		Segments: []core.Segment{{
			Start: 0, End: 1, Text: "hello world",
			Words: []core.Word{{Text: "hello", Start: 0.0}, {Text: "world", Start: 0.5}},
		}},
	}

	html := InteractiveTranscriptHTML(transcript)

	assert.Equal(t, 2, strings.Count(html, "<span"), "exactly one clickable token per word")
	assert.Contains(t, html, "currentTime=0;")
	assert.Contains(t, html, "currentTime=0.5;")

	// Order must follow the transcript.
	require.Less(t, strings.Index(html, ">hello "), strings.Index(html, ">world "))
}

func TestInteractiveTranscriptEscapesContent(t *testing.T) {
	transcript := &core.Transcript{
		FullText: "<b>",
		Segments: []core.Segment{{Words: []core.Word{{Text: "<b>", Start: 1.25}}}},
	}
	html := InteractiveTranscriptHTML(transcript)
	assert.Contains(t, html, "&lt;b&gt;")
	assert.NotContains(t, html, "><b> <")
}

func TestInteractiveTranscriptEmptyInput(t *testing.T) {
	html := InteractiveTranscriptHTML(&core.Transcript{})
	assert.NotContains(t, html, "<span")
}

func TestFormatChatHistory(t *testing.T) {
	doc := FormatChatHistory([]core.ChatMessage{
		{Role: core.RoleUser, Content: "What was discussed?"},
		{Role: core.RoleAssistant, Content: "Mostly Go."},
	})

	assert.True(t, strings.HasPrefix(doc, "Your PodScribe Chat History\n"+strings.Repeat("=", 30)+"\n\n"))
	assert.Contains(t, doc, "**User:** What was discussed?\n\n")
	assert.Contains(t, doc, "**Assistant:** Mostly Go.\n\n")
}

func TestFormatChatHistoryEmpty(t *testing.T) {
	doc := FormatChatHistory(nil)
	assert.Contains(t, doc, "Your PodScribe Chat History")
	assert.NotContains(t, doc, "**")
}
