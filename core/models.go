package core

import "strings"

// Word is a single transcribed word with its start offset in the audio,
// used for the clickable transcript.
type Word struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
}

type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Words []Word  `json:"words,omitempty"`
}

// Transcript is the structured output of one transcription run. It is
// immutable once attached to a session.
type Transcript struct {
	FullText string    `json:"full_text"`
	Language string    `json:"language,omitempty"`
	Segments []Segment `json:"segments"`
}

func (t *Transcript) Empty() bool {
	return t == nil || strings.TrimSpace(t.FullText) == ""
}

// Chat message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Artifacts holds the five derived analysis results, each a single LLM
// completion over the transcript text.
type Artifacts struct {
	Summary            string `json:"summary"`
	Insights           string `json:"insights"`
	Sentiment          string `json:"sentiment"`
	Questions          string `json:"questions"`
	DiarizedTranscript string `json:"diarized_transcript"`
}

// Complete reports whether every derived artifact is populated.
func (a Artifacts) Complete() bool {
	return strings.TrimSpace(a.Summary) != "" &&
		strings.TrimSpace(a.Insights) != "" &&
		strings.TrimSpace(a.Sentiment) != "" &&
		strings.TrimSpace(a.Questions) != "" &&
		strings.TrimSpace(a.DiarizedTranscript) != ""
}

// Hit is a scored transcript segment returned by the vector store.
type Hit struct {
	Score float64 `json:"score"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}
