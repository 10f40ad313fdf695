// Package services holds the clients for the external collaborators behind
// the pipeline: transcription, summarization, speech synthesis, and blob
// storage. Each client is configured with a Config struct that fills in
// defaults, so tests can point them at local fakes.
package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"lectern/internal/content"
)

const transcriberDefaultModel = "whisper-1"

// Transcriber converts an audio/video byte buffer into text. Empty output
// must be signalled distinctly from failure by the implementation's caller.
type Transcriber interface {
	Transcribe(ctx context.Context, data []byte, filename string) (*Transcription, error)
}

// Transcription is the result of a transcription call.
type Transcription struct {
	Text            string
	Language        string
	DurationSeconds int
}

// OpenAITranscriberConfig configures the transcription client.
type OpenAITranscriberConfig struct {
	APIKey     string
	Model      string        // "whisper-1" (default)
	Timeout    time.Duration // HTTP timeout
	BaseURL    string        // Optional (tests)
	HTTPClient *http.Client  // Optional (tests)
}

// OpenAITranscriber implements Transcriber using the OpenAI SDK.
type OpenAITranscriber struct {
	model  string
	client openai.Client
}

// NewOpenAITranscriber creates a transcription client.
func NewOpenAITranscriber(cfg OpenAITranscriberConfig) *OpenAITranscriber {
	if cfg.Model == "" {
		cfg.Model = transcriberDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 600 * time.Second
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

	return &OpenAITranscriber{
		model:  cfg.Model,
		client: openai.NewClient(opts...),
	}
}

// Transcribe submits the buffer to the transcription API. Duration is
// estimated from the transcript length since the plain response format does
// not carry timing data.
func (t *OpenAITranscriber) Transcribe(ctx context.Context, data []byte, filename string) (*Transcription, error) {
	if len(data) == 0 {
		return nil, &content.ExternalServiceError{
			Service: "transcription",
			Err:     fmt.Errorf("empty audio buffer"),
		}
	}
	if filename == "" {
		filename = "audio.mp3"
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModel(t.model),
		File:  openai.File(bytes.NewReader(data), filename, contentTypeForFilename(filename)),
	})
	if err != nil {
		return nil, &content.ExternalServiceError{
			Service: "transcription",
			Err:     mapAPIError(err),
		}
	}

	text := strings.TrimSpace(resp.Text)
	return &Transcription{
		Text:            text,
		Language:        "",
		DurationSeconds: estimateSpokenSeconds(text),
	}, nil
}

// estimateSpokenSeconds approximates audio duration from word count at a
// typical 150 words-per-minute speaking rate.
func estimateSpokenSeconds(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return words * 60 / 150
}

func contentTypeForFilename(filename string) string {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(lower, ".m4a"), strings.HasSuffix(lower, ".mp4"):
		return "audio/mp4"
	case strings.HasSuffix(lower, ".wav"):
		return "audio/wav"
	case strings.HasSuffix(lower, ".webm"):
		return "audio/webm"
	case strings.HasSuffix(lower, ".ogg"), strings.HasSuffix(lower, ".opus"):
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

func mapAPIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return fmt.Errorf("API error (status %d): %s", apiErr.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("API error (status %d)", apiErr.StatusCode)
	}
	return err
}
