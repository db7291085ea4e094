package processors

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"podscribe/config"
	"podscribe/core"
)

// Whisper model variants. The larger model is reserved for Hindi audio,
// where the base model transcribes poorly; everything else takes the
// faster one.
const (
	WhisperModelBase  = "base"
	WhisperModelSmall = "small"

	languageHindi = "hi"
)

// ModelForLanguage picks the whisper model size for a language code.
func ModelForLanguage(code string) string {
	if code == languageHindi {
		return WhisperModelSmall
	}
	return WhisperModelBase
}

// SupportedLanguages maps the language names offered at the upload
// boundary to whisper language codes. Empty code means auto-detect.
var SupportedLanguages = map[string]string{
	"Auto-Detect": "",
	"English":     "en",
	"Hindi":       "hi",
	"Spanish":     "es",
	"French":      "fr",
	"German":      "de",
	"Japanese":    "ja",
	"Korean":      "ko",
	"Urdu":        "ur",
}

// NormalizeLanguage accepts a display name ("Hindi") or a raw code
// ("hi") and returns the whisper language code.
func NormalizeLanguage(input string) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", nil
	}
	if code, ok := SupportedLanguages[input]; ok {
		return code, nil
	}
	lower := strings.ToLower(input)
	if lower == "auto" {
		return "", nil
	}
	for _, code := range SupportedLanguages {
		if code == lower {
			return code, nil
		}
	}
	return "", fmt.Errorf("unsupported language %q", input)
}

// Transcriber converts an audio file into a structured transcript with
// per-word timestamps. A failure is surfaced to the caller and ends the
// run; there are no retries.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language, model string) (*core.Transcript, error)
}

// LocalWhisperASR runs the openai-whisper python package on the host.
type LocalWhisperASR struct{}

// APIWhisperASR calls a hosted whisper endpoint through the API client.
type APIWhisperASR struct {
	cli *openai.Client
}

// MockASR produces a deterministic placeholder transcript.
type MockASR struct{}

func (m MockASR) Transcribe(ctx context.Context, audioPath, language, model string) (*core.Transcript, error) {
	seg := core.Segment{
		Start: 0,
		End:   1.0,
		Text:  "placeholder transcript",
		Words: []core.Word{
			{Text: "placeholder", Start: 0},
			{Text: "transcript", Start: 0.5},
		},
	}
	return &core.Transcript{
		FullText: seg.Text,
		Language: language,
		Segments: []core.Segment{seg},
	}, nil
}

const whisperScript = `#!/usr/bin/env python3
import json
import sys

import whisper

def main():
    audio_path = sys.argv[1]
    language = sys.argv[2] or None
    model_name = sys.argv[3]

    model = whisper.load_model(model_name)
    result = model.transcribe(audio_path, language=language, fp16=False, word_timestamps=True)

    out = {"text": result.get("text", ""), "language": result.get("language", ""), "segments": []}
    for segment in result.get("segments", []):
        words = [{"word": w["word"], "start": w["start"]} for w in segment.get("words", [])]
        out["segments"].append({
            "start": segment["start"],
            "end": segment["end"],
            "text": segment["text"].strip(),
            "words": words,
        })

    json.dump(out, sys.stdout, ensure_ascii=False)

if __name__ == "__main__":
    main()
`

// whisperOutput mirrors the JSON printed by the transcription script.
type whisperOutput struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
		Words []struct {
			Word  string  `json:"word"`
			Start float64 `json:"start"`
		} `json:"words"`
	} `json:"segments"`
}

func (l LocalWhisperASR) Transcribe(ctx context.Context, audioPath, language, model string) (*core.Transcript, error) {
	scriptPath := filepath.Join(os.TempDir(), "podscribe_whisper.py")
	if err := os.WriteFile(scriptPath, []byte(whisperScript), 0644); err != nil {
		return nil, fmt.Errorf("write whisper script: %w", err)
	}
	defer os.Remove(scriptPath)

	cmd := exec.CommandContext(ctx, "python", scriptPath, audioPath, language, model)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("whisper transcription failed: %s", msg)
	}

	return parseWhisperOutput(output)
}

func parseWhisperOutput(data []byte) (*core.Transcript, error) {
	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse whisper output: %w", err)
	}

	t := &core.Transcript{
		FullText: strings.TrimSpace(out.Text),
		Language: out.Language,
		Segments: make([]core.Segment, 0, len(out.Segments)),
	}
	for _, seg := range out.Segments {
		words := make([]core.Word, 0, len(seg.Words))
		for _, w := range seg.Words {
			words = append(words, core.Word{Text: strings.TrimSpace(w.Word), Start: w.Start})
		}
		t.Segments = append(t.Segments, core.Segment{Start: seg.Start, End: seg.End, Text: seg.Text, Words: words})
	}
	return t, nil
}

func (a APIWhisperASR) Transcribe(ctx context.Context, audioPath, language, model string) (*core.Transcript, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	resp, err := a.cli.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: audioPath,
		Language: language,
		Format:   openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularitySegment,
			openai.TranscriptionTimestampGranularityWord,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("whisper API transcription: %w", err)
	}

	t := &core.Transcript{
		FullText: strings.TrimSpace(resp.Text),
		Language: resp.Language,
		Segments: make([]core.Segment, 0, len(resp.Segments)),
	}
	for _, seg := range resp.Segments {
		s := core.Segment{Start: seg.Start, End: seg.End, Text: strings.TrimSpace(seg.Text)}
		// The API returns words as one flat list; slot each into its
		// containing segment by start time.
		for _, w := range resp.Words {
			if w.Start >= seg.Start && w.Start < seg.End {
				s.Words = append(s.Words, core.Word{Text: strings.TrimSpace(w.Word), Start: w.Start})
			}
		}
		t.Segments = append(t.Segments, s)
	}
	return t, nil
}

// PickTranscriber selects the transcription adapter from configuration.
func PickTranscriber(cfg *config.Config) Transcriber {
	switch strings.ToLower(strings.TrimSpace(cfg.ASRProvider)) {
	case "mock":
		return MockASR{}
	case "api":
		clientConfig := openai.DefaultConfig(cfg.APIKey)
		clientConfig.BaseURL = cfg.BaseURL
		return APIWhisperASR{cli: openai.NewClientWithConfig(clientConfig)}
	default:
		return LocalWhisperASR{}
	}
}
