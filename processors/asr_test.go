package processors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelForLanguage(t *testing.T) {
	assert.Equal(t, WhisperModelSmall, ModelForLanguage("hi"), "Hindi takes the larger model")
	assert.Equal(t, WhisperModelBase, ModelForLanguage("en"))
	assert.Equal(t, WhisperModelBase, ModelForLanguage(""))
	assert.Equal(t, WhisperModelBase, ModelForLanguage("ja"))
}

func TestNormalizeLanguage(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"Auto-Detect", ""},
		{"auto", ""},
		{"English", "en"},
		{"Hindi", "hi"},
		{"hi", "hi"},
		{"Urdu", "ur"},
	}
	for _, tc := range cases {
		got, err := NormalizeLanguage(tc.in)
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}

	_, err := NormalizeLanguage("Klingon")
	assert.Error(t, err)
}

func TestParseWhisperOutput(t *testing.T) {
	data := []byte(`{
		"text": " Hello world. ",
		"language": "en",
		"segments": [
			{"start": 0.0, "end": 1.2, "text": "Hello world.",
			 "words": [{"word": " Hello", "start": 0.0}, {"word": " world.", "start": 0.6}]}
		]
	}`)

	tr, err := parseWhisperOutput(data)
	require.NoError(t, err)

	assert.Equal(t, "Hello world.", tr.FullText)
	assert.Equal(t, "en", tr.Language)
	require.Len(t, tr.Segments, 1)
	require.Len(t, tr.Segments[0].Words, 2)
	assert.Equal(t, "Hello", tr.Segments[0].Words[0].Text)
	assert.Equal(t, 0.6, tr.Segments[0].Words[1].Start)
	assert.False(t, tr.Empty())
}

func TestParseWhisperOutputRejectsGarbage(t *testing.T) {
	_, err := parseWhisperOutput([]byte("model exploded"))
	assert.Error(t, err)
}

func TestParseWhisperOutputEmptyText(t *testing.T) {
	tr, err := parseWhisperOutput([]byte(`{"text": "  ", "segments": []}`))
	require.NoError(t, err)
	assert.True(t, tr.Empty())
}

func TestMockASRHasWordTimestamps(t *testing.T) {
	tr, err := MockASR{}.Transcribe(context.Background(), "any.mp3", "en", WhisperModelBase)
	require.NoError(t, err)
	assert.False(t, tr.Empty())
	require.NotEmpty(t, tr.Segments)
	assert.NotEmpty(t, tr.Segments[0].Words)
}
