package processors

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podscribe/core"
	"podscribe/storage"
)

type countingTranscriber struct {
	calls int
	text  string
	err   error
}

func (c *countingTranscriber) Transcribe(ctx context.Context, audioPath, language, model string) (*core.Transcript, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	if c.text == "" {
		return &core.Transcript{}, nil
	}
	return &core.Transcript{
		FullText: c.text,
		Segments: []core.Segment{{
			Start: 0, End: 1, Text: c.text,
			Words: []core.Word{{Text: "hello", Start: 0}, {Text: "world", Start: 0.5}},
		}},
	}, nil
}

func newTestPipeline(t *testing.T, transcriber Transcriber, analyzer Analyzer) *Pipeline {
	t.Helper()
	return &Pipeline{
		Transcriber: transcriber,
		Analyzer:    analyzer,
		Cache:       core.NewAnalysisCache(),
		Store:       storage.NewMemorySegmentStore(),
		DataDir:     t.TempDir(),
		Log:         zerolog.Nop(),
	}
}

func readySession() *core.Session {
	s := core.NewSession("")
	s.RegisterUpload("a.mp3#1", "a.mp3", "/tmp/a.mp3")
	return s
}

func assertNoTempAudio(t *testing.T, dataDir string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dataDir, "audio_*"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temp audio file must not survive the run")
}

func TestRunCompletesAndCleansUp(t *testing.T) {
	tr := &countingTranscriber{text: "hello world"}
	an := &MockAnalyzer{}
	p := newTestPipeline(t, tr, an)
	sess := readySession()

	result := p.Run(context.Background(), sess, []byte("audio-bytes"), ".mp3", "en")

	assert.Equal(t, core.StateComplete, result.State)
	assert.True(t, sess.AnalysisComplete())
	a := sess.Artifacts()
	assert.Equal(t, "mock summary", a.Summary)
	assert.Equal(t, "mock insights", a.Insights)
	assert.NotEmpty(t, a.Sentiment)
	assert.NotEmpty(t, a.Questions)
	assert.NotEmpty(t, a.DiarizedTranscript)
	assertNoTempAudio(t, p.DataDir)

	// Steps arrive in the fixed order: transcribe then the five prompts.
	names := make([]string, 0, len(result.Steps))
	for _, s := range result.Steps {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"transcribe", "summary", "insights", "sentiment", "questions", "diarize", "index"}, names)
}

func TestRunMemoizesEveryStep(t *testing.T) {
	tr := &countingTranscriber{text: "hello world"}
	an := &MockAnalyzer{}
	p := newTestPipeline(t, tr, an)
	sess := readySession()

	first := p.Run(context.Background(), sess, []byte("audio-bytes"), ".mp3", "en")
	require.Equal(t, core.StateComplete, first.State)

	// Re-running on identical inputs must not re-invoke the adapter or
	// the client.
	second := p.Run(context.Background(), sess, []byte("audio-bytes"), ".mp3", "en")
	require.Equal(t, core.StateComplete, second.State)

	assert.Equal(t, 1, tr.calls)
	assert.Equal(t, int64(1), an.SummarizeCalls)
	assert.Equal(t, int64(1), an.InsightsCalls)
	assert.Equal(t, int64(1), an.SentimentCalls)
	assert.Equal(t, int64(1), an.QuestionsCalls)
	assert.Equal(t, int64(1), an.DiarizeCalls)
}

func TestRunDifferentAudioMissesCache(t *testing.T) {
	tr := &countingTranscriber{text: "hello world"}
	p := newTestPipeline(t, tr, &MockAnalyzer{})
	sess := readySession()

	p.Run(context.Background(), sess, []byte("audio-a"), ".mp3", "en")
	sess.RegisterUpload("b.mp3#2", "b.mp3", "/tmp/b.mp3")
	p.Run(context.Background(), sess, []byte("audio-b"), ".mp3", "en")

	assert.Equal(t, 2, tr.calls)
}

func TestEmptyTranscriptAbortsBeforeDerivedSteps(t *testing.T) {
	tr := &countingTranscriber{text: ""}
	an := &MockAnalyzer{}
	p := newTestPipeline(t, tr, an)
	sess := readySession()

	result := p.Run(context.Background(), sess, []byte("audio"), ".mp3", "en")

	assert.Equal(t, core.StateFailed, result.State)
	assert.Equal(t, ErrKindTranscription, result.ErrKind)
	assert.False(t, sess.AnalysisComplete())
	assert.Zero(t, an.SummarizeCalls+an.InsightsCalls+an.SentimentCalls+an.QuestionsCalls+an.DiarizeCalls,
		"no derived-artifact step may run without transcript text")
	assertNoTempAudio(t, p.DataDir)
}

func TestTranscriptionErrorFailsRun(t *testing.T) {
	tr := &countingTranscriber{err: os.ErrNotExist}
	p := newTestPipeline(t, tr, &MockAnalyzer{})
	sess := readySession()

	result := p.Run(context.Background(), sess, []byte("audio"), ".mp3", "en")

	assert.Equal(t, core.StateFailed, result.State)
	assert.Equal(t, ErrKindTranscription, result.ErrKind)
	assert.Equal(t, core.StateFailed, sess.State())
	assertNoTempAudio(t, p.DataDir)
}

func TestThirdStepFailureDiscardsPartialsAndCleansUp(t *testing.T) {
	tr := &countingTranscriber{text: "hello world"}
	an := &MockAnalyzer{FailOp: "sentiment"}
	p := newTestPipeline(t, tr, an)
	sess := readySession()

	result := p.Run(context.Background(), sess, []byte("audio"), ".mp3", "en")

	assert.Equal(t, core.StateFailed, result.State)
	assert.False(t, sess.AnalysisComplete())
	assert.Equal(t, core.Artifacts{}, sess.Artifacts(), "partial artifacts must be discarded")
	assertNoTempAudio(t, p.DataDir)

	last := result.Steps[len(result.Steps)-1]
	assert.Equal(t, "sentiment", last.Name)
	assert.Equal(t, "failed", last.Status)
	// The later steps never ran.
	assert.Zero(t, an.QuestionsCalls)
	assert.Zero(t, an.DiarizeCalls)
}

func TestAPIErrorsAreReportedDistinctly(t *testing.T) {
	tr := &countingTranscriber{text: "hello world"}
	an := &MockAnalyzer{
		FailOp:  "summary",
		FailErr: &openai.APIError{HTTPStatusCode: 401, Message: "invalid key"},
	}
	p := newTestPipeline(t, tr, an)
	sess := readySession()

	result := p.Run(context.Background(), sess, []byte("audio"), ".mp3", "en")

	assert.Equal(t, core.StateFailed, result.State)
	assert.Equal(t, ErrKindAPI, result.ErrKind)
	assert.Contains(t, result.Message, "summary failed")
}

func TestRunRejectedWithoutUpload(t *testing.T) {
	p := newTestPipeline(t, &countingTranscriber{text: "x"}, &MockAnalyzer{})
	sess := core.NewSession("")

	result := p.Run(context.Background(), sess, nil, ".mp3", "en")
	assert.Equal(t, core.StateIdle, result.State)
	assert.Contains(t, result.Message, "no file uploaded")
}

func TestRunIndexesSegmentsForSearch(t *testing.T) {
	store := storage.NewMemorySegmentStore()
	p := newTestPipeline(t, &countingTranscriber{text: "hello world"}, &MockAnalyzer{})
	p.Store = store
	sess := readySession()

	result := p.Run(context.Background(), sess, []byte("audio"), ".mp3", "en")
	require.Equal(t, core.StateComplete, result.State)

	hits, err := store.Search(context.Background(), sess.ID, "hello", 3)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.True(t, strings.Contains(hits[0].Text, "hello"))
}
