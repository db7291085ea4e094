package processors

import (
	"fmt"
	"html"
	"strings"

	"podscribe/core"
)

// InteractiveTranscriptHTML renders the transcript as one clickable
// span per word. Clicking a word seeks the page's audio element to that
// word's start time and resumes playback.
func InteractiveTranscriptHTML(t *core.Transcript) string {
	var b strings.Builder
	b.WriteString(`<div style="line-height: 2.0; font-size: 16px;">`)
	for _, segment := range t.Segments {
		for _, word := range segment.Words {
			fmt.Fprintf(&b,
				`<span class="interactive-word" style="cursor: pointer; padding: 2px;" `+
					`onclick="document.querySelector('audio').currentTime=%g; document.querySelector('audio').play();">%s </span>`,
				word.Start, html.EscapeString(word.Text))
		}
	}
	b.WriteString(`</div>`)
	return b.String()
}

// FormatChatHistory renders the chat history as a plain-text document
// with role-labeled turns, offered as a download.
func FormatChatHistory(messages []core.ChatMessage) string {
	var b strings.Builder
	b.WriteString("Your PodScribe Chat History\n")
	b.WriteString(strings.Repeat("=", 30) + "\n\n")
	for _, msg := range messages {
		fmt.Fprintf(&b, "**%s:** %s\n\n", capitalize(msg.Role), msg.Content)
	}
	return b.String()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
