package processors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"podscribe/config"
)

// System instructions for the six one-shot analysis prompts. These are
// fixed strings, not user-configurable.
const (
	summarySystemPrompt = "You are an expert podcast summarizer. Provide a concise, easy-to-read summary of the following transcript. Use bullet points to highlight the key topics and discussions."

	insightsSystemPrompt = `You are an expert analyst. Analyze the following transcript and provide a structured breakdown. Your output must be in Markdown format.

Provide the following sections:
- **Main Topics:** A bulleted list of the 5 main topics discussed, with a brief one-sentence description for each.
- **Key Takeaways:** A bulleted list of the most important takeaways or action items mentioned.
- **Mentioned Resources:** A bulleted list of any people, books, or products mentioned.

Format each section with a clear, bolded heading (e.g., '**Main Topics**').`

	sentimentSystemPrompt = `You are a sentiment analysis expert. Analyze the overall sentiment of the following transcript.

Your response must be a single sentence in the following format:
**Overall Sentiment:** [Positive/Negative/Neutral/Mixed], with [a brief justification].

Example:
**Overall Sentiment:** Positive, with the speakers expressing optimism about future technology trends.`

	questionsSystemPrompt = "You are a helpful assistant. Based on the provided transcript, generate 3 interesting and insightful questions that a user might want to ask about the content. Your output must be a Markdown bulleted list."

	diarizeSystemPrompt = `You are an expert transcript editor. Your task is to analyze the following transcript and reformat it by identifying and labeling the different speakers.

Use labels like 'Speaker A:', 'Speaker B:', etc.
If there is only one speaker, do not add any labels.
Ensure each speaker's turn starts on a new line.`

	answerSystemPrompt = `You are a helpful Q&A assistant for a podcast. Your task is to answer the user's questions based ONLY on the provided transcript.
Do not use any external knowledge. If the answer is not found in the transcript, you must say 'I'm sorry, but that information is not available in the podcast transcript.'`
)

// Analyzer issues the one-shot completion requests that produce the
// derived artifacts. Each call sends a fixed system instruction plus the
// transcript (or transcript and question) and returns the raw completion
// text.
type Analyzer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
	Insights(ctx context.Context, transcript string) (string, error)
	Sentiment(ctx context.Context, transcript string) (string, error)
	SuggestedQuestions(ctx context.Context, transcript string) (string, error)
	Diarize(ctx context.Context, transcript string) (string, error)
	Answer(ctx context.Context, transcript, question string) (string, error)
}

// LLMAnalyzer talks to a hosted chat-completion endpoint.
type LLMAnalyzer struct {
	cli   *openai.Client
	model string
}

func NewLLMAnalyzer(cfg *config.Config) *LLMAnalyzer {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = cfg.BaseURL
	return &LLMAnalyzer{
		cli:   openai.NewClientWithConfig(clientConfig),
		model: cfg.ChatModel,
	}
}

func (l *LLMAnalyzer) complete(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: l.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}
	resp, err := l.cli.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices from completion API")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (l *LLMAnalyzer) Summarize(ctx context.Context, transcript string) (string, error) {
	return l.complete(ctx, summarySystemPrompt, "Transcript:\n"+transcript)
}

func (l *LLMAnalyzer) Insights(ctx context.Context, transcript string) (string, error) {
	return l.complete(ctx, insightsSystemPrompt, "Transcript:\n"+transcript)
}

func (l *LLMAnalyzer) Sentiment(ctx context.Context, transcript string) (string, error) {
	return l.complete(ctx, sentimentSystemPrompt, "Transcript:\n"+transcript)
}

func (l *LLMAnalyzer) SuggestedQuestions(ctx context.Context, transcript string) (string, error) {
	return l.complete(ctx, questionsSystemPrompt, "Transcript:\n"+transcript)
}

func (l *LLMAnalyzer) Diarize(ctx context.Context, transcript string) (string, error) {
	return l.complete(ctx, diarizeSystemPrompt, "Transcript:\n"+transcript)
}

func (l *LLMAnalyzer) Answer(ctx context.Context, transcript, question string) (string, error) {
	user := fmt.Sprintf("Here is the podcast transcript:\n\n%s\n\nNow, please answer my question:\n%s", transcript, question)
	return l.complete(ctx, answerSystemPrompt, user)
}

// IsAPIError reports whether err came back from the completion endpoint
// itself (authentication, quota, bad request) rather than from this
// service. The failure report distinguishes the two so the user knows
// whether to check their credentials.
func IsAPIError(err error) bool {
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	return errors.As(err, &apiErr) || errors.As(err, &reqErr)
}

// MockAnalyzer returns canned artifacts and counts invocations per
// operation, so tests can assert that the cache prevented a second call.
type MockAnalyzer struct {
	SummarizeCalls int64
	InsightsCalls  int64
	SentimentCalls int64
	QuestionsCalls int64
	DiarizeCalls   int64
	AnswerCalls    int64

	// Fail makes the named operation return this error.
	FailOp  string
	FailErr error
}

func (m *MockAnalyzer) op(counter *int64, name, result string) (string, error) {
	atomic.AddInt64(counter, 1)
	if m.FailOp == name {
		err := m.FailErr
		if err == nil {
			err = fmt.Errorf("%s failed", name)
		}
		return "", err
	}
	return result, nil
}

func (m *MockAnalyzer) Summarize(ctx context.Context, transcript string) (string, error) {
	return m.op(&m.SummarizeCalls, "summary", "mock summary")
}

func (m *MockAnalyzer) Insights(ctx context.Context, transcript string) (string, error) {
	return m.op(&m.InsightsCalls, "insights", "mock insights")
}

func (m *MockAnalyzer) Sentiment(ctx context.Context, transcript string) (string, error) {
	return m.op(&m.SentimentCalls, "sentiment", "**Overall Sentiment:** Neutral, with a mock justification.")
}

func (m *MockAnalyzer) SuggestedQuestions(ctx context.Context, transcript string) (string, error) {
	return m.op(&m.QuestionsCalls, "questions", "- mock question")
}

func (m *MockAnalyzer) Diarize(ctx context.Context, transcript string) (string, error) {
	return m.op(&m.DiarizeCalls, "diarize", "Speaker A: mock diarized transcript")
}

func (m *MockAnalyzer) Answer(ctx context.Context, transcript, question string) (string, error) {
	return m.op(&m.AnswerCalls, "answer", "mock answer")
}
