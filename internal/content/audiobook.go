package content

import "time"

// AudiobookStatus tracks the assembler lifecycle for a compiled narration.
type AudiobookStatus string

const (
	AudiobookPending    AudiobookStatus = "pending"
	AudiobookProcessing AudiobookStatus = "processing"
	AudiobookReady      AudiobookStatus = "ready"
	AudiobookError      AudiobookStatus = "error"
)

// AudiobookOptions are per-book narration toggles.
type AudiobookOptions struct {
	Intro bool `json:"intro,omitempty"`
	Outro bool `json:"outro,omitempty"`
}

// Audiobook represents a compiled narration of a book. Many audiobooks per
// book are allowed (different voices or options). The record is created on
// request, mutated only by the assembler, and never auto-retried: a new
// narration is an explicit new request.
type Audiobook struct {
	ID      string           `json:"id"`
	BookID  string           `json:"book_id"`
	Voice   string           `json:"voice"`
	Options AudiobookOptions `json:"options"`

	Status          AudiobookStatus `json:"status"`
	AudioURL        string          `json:"audio_url,omitempty"`
	DurationSeconds int             `json:"duration_seconds,omitempty"`
	FileSize        int64           `json:"file_size,omitempty"`
	ErrorMessage    string          `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Chapter is one unit of book text handed to the synthesizer.
type Chapter struct {
	ID      string `json:"id"`
	BookID  string `json:"book_id"`
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Content string `json:"content"`
}
