package processors

import (
	"context"
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"podscribe/core"
	"podscribe/storage"
)

// Error kinds surfaced in the run report. API errors are split out so
// the user can distinguish a credentials/quota problem from an
// unexpected failure.
const (
	ErrKindAPI           = "api_error"
	ErrKindTranscription = "transcription_error"
	ErrKindInternal      = "internal"
)

// Step records the outcome of one pipeline stage.
type Step struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "completed", "failed", "skipped"
	Error  string `json:"error,omitempty"`
}

// RunResult is the report for one analysis run.
type RunResult struct {
	SessionID string     `json:"session_id"`
	State     core.State `json:"state"`
	Steps     []Step     `json:"steps"`
	ErrKind   string     `json:"error_kind,omitempty"`
	Message   string     `json:"message,omitempty"`
}

func (r *RunResult) fail(step, kind string, err error) *RunResult {
	r.Steps = append(r.Steps, Step{Name: step, Status: "failed", Error: err.Error()})
	r.State = core.StateFailed
	r.ErrKind = kind
	r.Message = fmt.Sprintf("%s failed: %v", step, err)
	return r
}

// Pipeline drives one analysis run: stage the audio to a per-run temp
// file, transcribe, then produce the five derived artifacts strictly in
// sequence, memoizing every expensive step. Any failure aborts the run
// and discards partial results; the temp file is removed on every exit
// path.
type Pipeline struct {
	Transcriber Transcriber
	Analyzer    Analyzer
	Cache       *core.AnalysisCache
	Store       storage.SegmentStore
	DataDir     string
	Log         zerolog.Logger
}

// Run executes a full analysis for sess over the uploaded audio bytes.
// ext is the original file extension (".mp3" etc.), language the
// whisper language code ("" for auto-detect).
func (p *Pipeline) Run(ctx context.Context, sess *core.Session, audio []byte, ext, language string) (result *RunResult) {
	result = &RunResult{SessionID: sess.ID, Steps: make([]Step, 0, 6)}

	if err := sess.BeginAnalysis(language); err != nil {
		result.State = sess.State()
		result.ErrKind = ErrKindInternal
		result.Message = err.Error()
		return result
	}

	// Anything unexpected below still has to leave the session in a
	// terminal state with partials discarded.
	defer func() {
		if r := recover(); r != nil {
			p.Log.Error().Interface("panic", r).Str("session", sess.ID).Msg("analysis run panicked")
			sess.FailAnalysis(fmt.Sprintf("unexpected error: %v", r))
			result.State = core.StateFailed
			result.ErrKind = ErrKindInternal
			result.Message = fmt.Sprintf("unexpected error: %v", r)
		}
	}()

	runID := uuid.NewString()
	tempPath := filepath.Join(p.DataDir, "audio_"+runID+ext)
	if err := os.WriteFile(tempPath, audio, 0644); err != nil {
		sess.FailAnalysis(err.Error())
		return result.fail("stage_audio", ErrKindInternal, err)
	}
	defer os.Remove(tempPath)

	model := ModelForLanguage(language)
	contentHash := fmt.Sprintf("%x", md5.Sum(audio))

	transcript, err := p.transcribe(ctx, tempPath, contentHash, language, model)
	if err != nil {
		kind := ErrKindTranscription
		if IsAPIError(err) {
			kind = ErrKindAPI
		}
		sess.FailAnalysis(err.Error())
		return result.fail("transcribe", kind, err)
	}
	if transcript.Empty() {
		err := fmt.Errorf("transcription returned no text")
		sess.FailAnalysis(err.Error())
		return result.fail("transcribe", ErrKindTranscription, err)
	}
	result.Steps = append(result.Steps, Step{Name: "transcribe", Status: "completed"})
	p.Log.Info().Str("session", sess.ID).Str("model", model).Int("segments", len(transcript.Segments)).Msg("transcription completed")

	// The five derived artifacts run strictly in sequence; the first
	// failure aborts the run.
	var artifacts core.Artifacts
	derived := []struct {
		name string
		dst  *string
		call func(context.Context, string) (string, error)
	}{
		{"summary", &artifacts.Summary, p.Analyzer.Summarize},
		{"insights", &artifacts.Insights, p.Analyzer.Insights},
		{"sentiment", &artifacts.Sentiment, p.Analyzer.Sentiment},
		{"questions", &artifacts.Questions, p.Analyzer.SuggestedQuestions},
		{"diarize", &artifacts.DiarizedTranscript, p.Analyzer.Diarize},
	}
	for _, d := range derived {
		text, err := p.derive(ctx, d.name, transcript.FullText, d.call)
		if err != nil {
			kind := ErrKindInternal
			if IsAPIError(err) {
				kind = ErrKindAPI
			}
			sess.FailAnalysis(err.Error())
			return result.fail(d.name, kind, err)
		}
		*d.dst = text
		result.Steps = append(result.Steps, Step{Name: d.name, Status: "completed"})
	}

	if err := sess.CompleteAnalysis(transcript, artifacts); err != nil {
		sess.FailAnalysis(err.Error())
		return result.fail("complete", ErrKindInternal, err)
	}

	// Index segments for semantic search. Best effort: a store failure
	// does not invalidate a finished analysis.
	if p.Store != nil {
		if n, err := p.Store.Upsert(ctx, sess.ID, transcript.Segments); err != nil {
			p.Log.Warn().Err(err).Str("session", sess.ID).Msg("segment indexing failed")
			result.Steps = append(result.Steps, Step{Name: "index", Status: "skipped", Error: err.Error()})
		} else {
			p.Log.Info().Str("session", sess.ID).Int("segments", n).Msg("segments indexed")
			result.Steps = append(result.Steps, Step{Name: "index", Status: "completed"})
		}
	}

	result.State = core.StateComplete
	result.Message = "analysis complete"
	return result
}

// transcribe produces the transcript, memoized by audio content,
// language and model so re-analyzing the identical upload does not
// reload the model.
func (p *Pipeline) transcribe(ctx context.Context, audioPath, contentHash, language, model string) (*core.Transcript, error) {
	hash := core.InputHash(contentHash, language, model)
	var cached core.Transcript
	if p.Cache.Lookup("transcribe", hash, &cached) {
		return &cached, nil
	}
	t, err := p.Transcriber.Transcribe(ctx, audioPath, language, model)
	if err != nil {
		return nil, err
	}
	if err := p.Cache.Store("transcribe", hash, t); err != nil {
		p.Log.Warn().Err(err).Msg("caching transcript failed")
	}
	return t, nil
}

// derive runs one artifact prompt, memoized by the transcript text.
func (p *Pipeline) derive(ctx context.Context, op, transcript string, call func(context.Context, string) (string, error)) (string, error) {
	hash := core.InputHash(transcript)
	var cached string
	if p.Cache.Lookup(op, hash, &cached) {
		return cached, nil
	}
	text, err := call(ctx, transcript)
	if err != nil {
		return "", err
	}
	if err := p.Cache.Store(op, hash, text); err != nil {
		p.Log.Warn().Err(err).Str("op", op).Msg("caching artifact failed")
	}
	return text, nil
}
