package services

import (
	"context"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"lectern/internal/content"
)

const (
	summarizerDefaultModel = openai.ChatModelGPT4oMini
	summarizerSystemPrompt = "You summarize transcripts and articles into a short, " +
		"faithful abstract of at most four sentences. Respond with the summary only."

	// Long transcripts are truncated before summarization; the opening of a
	// document carries the framing a short abstract needs.
	summarizerMaxInputChars = 48_000
)

// Summarizer produces a short abstract for extracted text. Treated as
// best-effort: callers fall back to a deterministic summary when the call
// itself fails.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// OpenAISummarizerConfig configures the summarization client.
type OpenAISummarizerConfig struct {
	APIKey     string
	Model      string
	Timeout    time.Duration
	BaseURL    string       // Optional (tests)
	HTTPClient *http.Client // Optional (tests)
}

// OpenAISummarizer implements Summarizer with a chat completion call.
type OpenAISummarizer struct {
	model  string
	client openai.Client
}

// NewOpenAISummarizer creates a summarization client.
func NewOpenAISummarizer(cfg OpenAISummarizerConfig) *OpenAISummarizer {
	if cfg.Model == "" {
		cfg.Model = summarizerDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAISummarizer{
		model:  cfg.Model,
		client: openai.NewClient(opts...),
	}
}

// Summarize requests an abstract for text. Returns an ExternalServiceError
// on transport/API failure; an empty-but-successful response is returned
// as-is so callers can apply their own policy.
func (s *OpenAISummarizer) Summarize(ctx context.Context, text string) (string, error) {
	input := strings.TrimSpace(text)
	if len(input) > summarizerMaxInputChars {
		input = input[:summarizerMaxInputChars]
	}

	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: s.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(summarizerSystemPrompt),
			openai.UserMessage(input),
		},
	})
	if err != nil {
		return "", &content.ExternalServiceError{
			Service: "summarization",
			Err:     mapAPIError(err),
		}
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
