package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"lectern/internal/content"
)

const (
	speechDefaultModel = openai.SpeechModelTTS1HD
	speechDefaultVoice = "onyx"
)

// Synthesizer converts chapter text into a compressed audio buffer.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (*SpeechResult, error)
}

// SpeechResult is one synthesized audio segment.
type SpeechResult struct {
	Audio           []byte
	Format          string
	DurationSeconds int
}

// OpenAISpeechConfig configures the speech synthesis client.
type OpenAISpeechConfig struct {
	APIKey     string
	Model      string        // "tts-1-hd" (default) or "tts-1"
	Voice      string        // default voice when the request carries none
	Speed      float64       // 0.25-4.0
	Timeout    time.Duration // HTTP timeout
	BaseURL    string        // Optional (tests)
	HTTPClient *http.Client  // Optional (tests)
}

// OpenAISpeechClient implements Synthesizer using the OpenAI SDK.
type OpenAISpeechClient struct {
	model  string
	voice  string
	speed  float64
	client openai.Client
}

// NewOpenAISpeechClient creates a speech synthesis client.
func NewOpenAISpeechClient(cfg OpenAISpeechConfig) *OpenAISpeechClient {
	if cfg.Model == "" {
		cfg.Model = speechDefaultModel
	}
	if cfg.Voice == "" {
		cfg.Voice = speechDefaultVoice
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 1.0
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
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

	return &OpenAISpeechClient{
		model:  cfg.Model,
		voice:  cfg.Voice,
		speed:  cfg.Speed,
		client: openai.NewClient(opts...),
	}
}

// Synthesize converts text to an MP3 buffer with the requested voice.
func (c *OpenAISpeechClient) Synthesize(ctx context.Context, text, voice string) (*SpeechResult, error) {
	input := strings.TrimSpace(text)
	if input == "" {
		return nil, &content.ExternalServiceError{
			Service: "speech",
			Err:     fmt.Errorf("text is required"),
		}
	}
	if voice == "" {
		voice = c.voice
	}

	resp, err := c.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          input,
		Model:          openai.SpeechModel(c.model),
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
		Speed:          openai.Float(c.speed),
	})
	if err != nil {
		return nil, &content.ExternalServiceError{
			Service: "speech",
			Err:     mapAPIError(err),
		}
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &content.ExternalServiceError{
			Service: "speech",
			Err:     fmt.Errorf("read audio response: %w", err),
		}
	}

	return &SpeechResult{
		Audio:           audio,
		Format:          "mp3",
		DurationSeconds: estimateSpokenSeconds(input),
	}, nil
}

// ListVoices returns the built-in voice identifiers.
func (c *OpenAISpeechClient) ListVoices() []string {
	return []string{
		"alloy", "ash", "ballad", "coral", "echo", "fable", "nova",
		"onyx", "sage", "shimmer", "verse", "marin", "cedar",
	}
}

var _ Synthesizer = (*OpenAISpeechClient)(nil)
