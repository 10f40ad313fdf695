// Package content holds the domain types for ingested content items and
// compiled audiobooks, including the item status state machine shared by the
// processors, the reconciler, and the retry controller.
package content

import (
	"fmt"
	"time"
)

// Type identifies the kind of source material behind an item.
// Fixed at creation, never changes.
type Type string

const (
	TypeAudio   Type = "audio"
	TypeVideo   Type = "video"
	TypeText    Type = "text"
	TypeURL     Type = "url"
	TypePodcast Type = "podcast"
	TypeImage   Type = "image"
)

// ValidType reports whether t is a known content type.
func ValidType(t Type) bool {
	switch t {
	case TypeAudio, TypeVideo, TypeText, TypeURL, TypePodcast, TypeImage:
		return true
	}
	return false
}

// Status represents the processing lifecycle of a content item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
)

// CanTransition reports whether the item status may move from one state to
// another. There is no pending -> ready edge: every item passes through
// processing so observers always see an in-flight signal. The retry
// controller re-enters processing from error, and the reconciler may force
// processing -> error.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusError
	case StatusProcessing:
		return to == StatusReady || to == StatusError || to == StatusProcessing
	case StatusError:
		return to == StatusProcessing
	case StatusReady:
		return false
	default:
		return false
	}
}

// ValidateTransition returns an error describing an illegal status move.
func ValidateTransition(from, to Status) error {
	if from == to && from != StatusProcessing {
		return nil
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid status transition: %s -> %s", from, to)
	}
	return nil
}

// Item is the authoritative record for one unit of ingested source material.
type Item struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Type    Type   `json:"type"`
	Status  Status `json:"status"`

	Title  string `json:"title,omitempty"`
	Source string `json:"source,omitempty"`

	Transcript string `json:"transcript,omitempty"`
	RawText    string `json:"raw_text,omitempty"`
	Summary    string `json:"summary,omitempty"`

	WordCount       int    `json:"word_count,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	Thumbnail       string `json:"thumbnail,omitempty"`

	// Metadata is the only place transient pipeline bookkeeping lives
	// (processingStage, processingProgress, jobId, retriedAt). Writers must
	// merge keys they do not own, never replace the whole bag.
	Metadata map[string]any `json:"metadata,omitempty"`

	ErrorMessage string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// Text returns the extracted text for the item, preferring the transcript
// and falling back to raw text.
func (i *Item) Text() string {
	if i.Transcript != "" {
		return i.Transcript
	}
	return i.RawText
}

// MergeMetadata copies the given keys into the item's metadata bag,
// preserving keys it does not own.
func (i *Item) MergeMetadata(updates map[string]any) {
	if len(updates) == 0 {
		return
	}
	if i.Metadata == nil {
		i.Metadata = make(map[string]any, len(updates))
	}
	for k, v := range updates {
		i.Metadata[k] = v
	}
}

// Requeueable reports whether the item's source kind was ever processed
// asynchronously and can therefore be pushed back through the job queue.
// Text, url and image items complete synchronously and are not retryable.
func (i *Item) Requeueable() bool {
	switch i.Type {
	case TypeAudio, TypeVideo, TypePodcast:
		return true
	}
	return false
}

// SourceKind returns the deterministic job key prefix for the item's type.
func (i *Item) SourceKind() string {
	return string(i.Type)
}

// JobKey returns the deterministic queue identity for the item, enabling
// idempotent re-submission and removal of a stale job before a retry.
func (i *Item) JobKey() string {
	return fmt.Sprintf("%s-%s", i.SourceKind(), i.ID)
}
