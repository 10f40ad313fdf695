package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"lectern/internal/content"
	"lectern/internal/dispatch"
	"lectern/internal/store"
)

// JobKindMedia is the dispatcher kind for asynchronous media processing.
const JobKindMedia = "media"

// syncTimeout bounds the fire-and-forget processing of lightweight sources.
const syncTimeout = 5 * time.Minute

// StuckChecker is the reconciler surface the service exposes through
// CheckStuck.
type StuckChecker interface {
	CheckItem(ctx context.Context, ownerID, itemID string) (bool, error)
	Sweep(ctx context.Context) (int, error)
}

// Service is the facade over submission, status reads, retries and stuck
// checks. HTTP handlers and CLI commands call this, never the processor or
// dispatcher directly.
type Service struct {
	store      *store.Store
	dispatcher *dispatch.Dispatcher
	processor  *Processor
	checker    StuckChecker
	uploadsDir string
	logger     *slog.Logger
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Store      *store.Store
	Dispatcher *dispatch.Dispatcher
	Processor  *Processor
	Checker    StuckChecker
	UploadsDir string
	Logger     *slog.Logger
}

// NewService creates the facade.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("processor is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	uploadsDir := cfg.UploadsDir
	if uploadsDir == "" {
		uploadsDir = filepath.Join(os.TempDir(), "lectern-uploads")
	}

	return &Service{
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		processor:  cfg.Processor,
		checker:    cfg.Checker,
		uploadsDir: uploadsDir,
		logger:     logger,
	}, nil
}

// SubmitRequest is one content submission. Exactly one of Text, Source or
// Data carries the payload, depending on Type.
type SubmitRequest struct {
	OwnerID  string
	Type     content.Type
	Title    string
	Source   string
	Text     string
	Data     []byte
	Filename string
	Metadata map[string]any
}

// SubmitResult reports the accepted item.
type SubmitResult struct {
	ID     string
	Status content.Status
	JobID  string
}

// Submit validates and records a new item, then starts processing:
// lightweight kinds run on a background goroutine, media kinds go through
// the job queue. Returns ErrWorkerUnavailable without creating the item
// when a media submission finds the queue down.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if err := s.validateSubmit(req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	item := &content.Item{
		ID:        uuid.NewString(),
		OwnerID:   req.OwnerID,
		Type:      req.Type,
		Status:    content.StatusPending,
		Title:     req.Title,
		Source:    req.Source,
		RawText:   req.Text,
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	item.MergeMetadata(req.Metadata)

	if item.Requeueable() && !s.workerAvailable() {
		return nil, content.ErrWorkerUnavailable
	}

	if len(req.Data) > 0 {
		path, err := s.spoolUpload(item.ID, req.Filename, req.Data)
		if err != nil {
			return nil, err
		}
		item.Metadata["uploadPath"] = path
	}

	if err := s.store.CreateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}

	result := &SubmitResult{ID: item.ID, Status: item.Status}

	if item.Requeueable() {
		job, err := s.enqueueItem(ctx, item, dispatch.PriorityDefault)
		if err != nil {
			// Roll back the record so a failed enqueue never leaves an
			// item parked in pending with no job to move it forward.
			if delErr := s.store.DeleteItem(ctx, item.ID); delErr != nil {
				s.logger.Error("failed to roll back item after enqueue failure", "item_id", item.ID, "error", delErr)
			}
			if path, ok := item.Metadata["uploadPath"].(string); ok {
				os.Remove(path)
			}
			return nil, err
		}
		result.JobID = job.Key
		return result, nil
	}

	// Lightweight kinds complete out-of-band so submission returns
	// immediately; the processor owns all failure handling from here.
	go func() {
		bg, cancel := context.WithTimeout(context.Background(), syncTimeout)
		defer cancel()
		if err := s.processor.Process(bg, item.ID); err != nil {
			s.logger.Error("background processing failed", "item_id", item.ID, "error", err)
		}
	}()

	return result, nil
}

// GetStatus returns the item after an ownership check.
func (s *Service) GetStatus(ctx context.Context, ownerID, itemID string) (*content.Item, error) {
	return s.ownedItem(ctx, ownerID, itemID)
}

// ListItems returns the owner's items, optionally filtered by status.
func (s *Service) ListItems(ctx context.Context, ownerID string, status content.Status) ([]*content.Item, error) {
	if ownerID == "" {
		return nil, content.NewValidationError("ownerId", "is required")
	}
	return s.store.ListItems(ctx, ownerID, status)
}

// RetryResult reports the outcome of a retry request.
type RetryResult struct {
	Status content.Status
	JobID  string
}

// Retry requeues a failed or wedged media item under its deterministic job
// key. Only items in processing or error qualify, and only kinds that went
// through the queue in the first place.
func (s *Service) Retry(ctx context.Context, ownerID, itemID string) (*RetryResult, error) {
	item, err := s.ownedItem(ctx, ownerID, itemID)
	if err != nil {
		return nil, err
	}

	switch item.Status {
	case content.StatusProcessing, content.StatusError:
	default:
		return nil, content.NewValidationError("status",
			fmt.Sprintf("cannot retry item in status %q", item.Status))
	}

	if !item.Requeueable() {
		return nil, fmt.Errorf("%w: %s items process synchronously", content.ErrRetryNotSupported, item.Type)
	}

	if !s.workerAvailable() {
		return nil, content.ErrWorkerUnavailable
	}

	// Clean restart: drop any stale job under the same key first. A missing
	// job is fine, the key may have been pruned already.
	if err := s.dispatcher.Remove(ctx, item.JobKey()); err != nil {
		if errors.Is(err, dispatch.ErrUnavailable) {
			return nil, content.ErrWorkerUnavailable
		}
		return nil, fmt.Errorf("remove stale job: %w", err)
	}

	job, err := s.enqueueItem(ctx, item, dispatch.PriorityRetry)
	if err != nil {
		return nil, err
	}

	item.Status = content.StatusProcessing
	item.ErrorMessage = ""
	item.MergeMetadata(map[string]any{
		metaRetried: time.Now().UTC().Format(time.RFC3339),
		metaJobID:   job.Key,
	})
	if err := s.store.UpdateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("record retry: %w", err)
	}

	s.logger.Info("item requeued", "item_id", item.ID, "job_key", job.Key)
	return &RetryResult{Status: item.Status, JobID: job.Key}, nil
}

// CheckStuck runs a single-item stuck check when itemID is set, or a bulk
// sweep otherwise. It reports how many items were transitioned to error.
func (s *Service) CheckStuck(ctx context.Context, ownerID, itemID string) (int, error) {
	if s.checker == nil {
		return 0, fmt.Errorf("stuck checker not configured")
	}
	if itemID != "" {
		stuck, err := s.checker.CheckItem(ctx, ownerID, itemID)
		if err != nil {
			return 0, err
		}
		if stuck {
			return 1, nil
		}
		return 0, nil
	}
	return s.checker.Sweep(ctx)
}

// JobStats exposes dispatcher statistics for the health endpoint.
func (s *Service) JobStats() map[string]any {
	if s.dispatcher == nil {
		return map[string]any{"available": false}
	}
	return s.dispatcher.Stats()
}

func (s *Service) workerAvailable() bool {
	return s.dispatcher != nil && s.dispatcher.Available()
}

func (s *Service) enqueueItem(ctx context.Context, item *content.Item, priority int) (*dispatch.Record, error) {
	payload := map[string]any{
		"itemId":  item.ID,
		"ownerId": item.OwnerID,
		"type":    string(item.Type),
	}
	job, err := s.dispatcher.Enqueue(ctx, item.JobKey(), JobKindMedia, payload, priority)
	if err != nil {
		if errors.Is(err, dispatch.ErrUnavailable) {
			return nil, content.ErrWorkerUnavailable
		}
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

func (s *Service) ownedItem(ctx context.Context, ownerID, itemID string) (*content.Item, error) {
	if ownerID == "" {
		return nil, content.NewValidationError("ownerId", "is required")
	}
	if itemID == "" {
		return nil, content.NewValidationError("id", "is required")
	}
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.OwnerID != ownerID {
		return nil, content.ErrUnauthorized
	}
	return item, nil
}

func (s *Service) validateSubmit(req SubmitRequest) error {
	if req.OwnerID == "" {
		return content.NewValidationError("ownerId", "is required")
	}
	if !content.ValidType(req.Type) {
		return content.NewValidationError("type", fmt.Sprintf("unsupported content type %q", req.Type))
	}

	switch req.Type {
	case content.TypeText:
		if strings.TrimSpace(req.Text) == "" {
			return content.NewValidationError("text", "is required for text items")
		}
	case content.TypeURL, content.TypePodcast:
		if req.Source == "" {
			return content.NewValidationError("source", "is required for "+string(req.Type)+" items")
		}
	case content.TypeAudio, content.TypeVideo, content.TypeImage:
		if len(req.Data) == 0 && req.Source == "" {
			return content.NewValidationError("source", "either an upload or a source url is required")
		}
	}
	return nil
}

// spoolUpload writes the uploaded buffer to local disk so the job payload
// only carries a path, not megabytes of audio.
func (s *Service) spoolUpload(itemID, filename string, data []byte) (string, error) {
	if err := os.MkdirAll(s.uploadsDir, 0o755); err != nil {
		return "", fmt.Errorf("create uploads dir: %w", err)
	}
	ext := filepath.Ext(filename)
	if ext == "" {
		ext = ".bin"
	}
	path := filepath.Join(s.uploadsDir, itemID+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("spool upload: %w", err)
	}
	return path, nil
}
