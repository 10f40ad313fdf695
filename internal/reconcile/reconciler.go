// Package reconcile detects items wedged in processing and force-fails them
// so owners get a terminal answer instead of a spinner. It is safe to run
// concurrently with live processors: both sides do last-writer-wins full-row
// updates, and a processor finishing after a force-fail simply overwrites it.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lectern/internal/content"
	"lectern/internal/events"
	"lectern/internal/store"
)

// Default thresholds. Single-item checks use the short one because the
// caller is asking about a specific item right now; bulk sweeps use the
// longer one to avoid killing slow-but-alive transcriptions.
const (
	DefaultItemThreshold  = 30 * time.Minute
	DefaultSweepThreshold = 60 * time.Minute
)

// Reconciler sweeps processing items past their deadline into error.
type Reconciler struct {
	store          *store.Store
	publisher      events.Publisher
	itemThreshold  time.Duration
	sweepThreshold time.Duration
	logger         *slog.Logger
}

// Config configures a Reconciler. Zero thresholds take the defaults.
type Config struct {
	Store          *store.Store
	Publisher      events.Publisher
	ItemThreshold  time.Duration
	SweepThreshold time.Duration
	Logger         *slog.Logger
}

// New creates a reconciler.
func New(cfg Config) (*Reconciler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	r := &Reconciler{
		store:          cfg.Store,
		publisher:      cfg.Publisher,
		itemThreshold:  cfg.ItemThreshold,
		sweepThreshold: cfg.SweepThreshold,
		logger:         cfg.Logger,
	}
	if r.itemThreshold <= 0 {
		r.itemThreshold = DefaultItemThreshold
	}
	if r.sweepThreshold <= 0 {
		r.sweepThreshold = DefaultSweepThreshold
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r, nil
}

// CheckItem inspects one item on demand. It reports true when the item was
// stuck and has been transitioned to error. Items not in processing, or in
// processing but under threshold, are left untouched.
func (r *Reconciler) CheckItem(ctx context.Context, ownerID, itemID string) (bool, error) {
	item, err := r.store.GetItem(ctx, itemID)
	if err != nil {
		return false, err
	}
	if ownerID != "" && item.OwnerID != ownerID {
		return false, content.ErrUnauthorized
	}
	if item.Status != content.StatusProcessing {
		return false, nil
	}

	elapsed := time.Since(lastActivity(item))
	if elapsed < r.itemThreshold {
		return false, nil
	}

	if err := r.forceFail(ctx, item, elapsed); err != nil {
		return false, err
	}
	return true, nil
}

// Sweep transitions every processing item past the bulk threshold to error
// and returns how many were failed. Per-item write failures are logged and
// skipped so one bad row cannot stall the whole sweep.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-r.sweepThreshold)
	items, err := r.store.ListStuckProcessing(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stuck items: %w", err)
	}

	failed := 0
	for _, item := range items {
		elapsed := time.Since(lastActivity(item))
		if err := r.forceFail(ctx, item, elapsed); err != nil {
			r.logger.Error("force-fail failed", "item_id", item.ID, "error", err)
			continue
		}
		failed++
	}

	if failed > 0 {
		r.logger.Info("stuck sweep complete", "stuck", failed, "threshold", r.sweepThreshold)
	}
	return failed, nil
}

// Run sweeps on the given interval until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = r.sweepThreshold / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Error("stuck sweep failed", "error", err)
			}
		}
	}
}

func (r *Reconciler) forceFail(ctx context.Context, item *content.Item, elapsed time.Duration) error {
	from := item.Status
	minutes := int(elapsed.Minutes())

	item.Status = content.StatusError
	item.ErrorMessage = fmt.Sprintf(
		"processing timed out after %d minutes; the transcription service or an external tool was likely unavailable",
		minutes)
	item.MergeMetadata(map[string]any{
		"stuckDetectedAt": time.Now().UTC().Format(time.RFC3339),
	})

	if err := r.store.UpdateItem(ctx, item); err != nil {
		return err
	}

	r.logger.Warn("stuck item failed", "item_id", item.ID, "elapsed_minutes", minutes)
	r.publish(ctx, item, from)
	return nil
}

func (r *Reconciler) publish(ctx context.Context, item *content.Item, from content.Status) {
	if r.publisher == nil {
		return
	}
	ev := events.StatusEvent{
		ItemID:     item.ID,
		OwnerID:    item.OwnerID,
		Type:       string(item.Type),
		FromStatus: string(from),
		ToStatus:   string(item.Status),
		Error:      item.ErrorMessage,
	}
	if err := r.publisher.PublishStatusChange(ctx, ev); err != nil {
		r.logger.Warn("status event publish failed", "item_id", item.ID, "error", err)
	}
}

// lastActivity picks the timestamp staleness is measured from: updated_at
// when the row was ever touched after creation, otherwise created_at.
func lastActivity(item *content.Item) time.Time {
	if !item.UpdatedAt.IsZero() {
		return item.UpdatedAt
	}
	return item.CreatedAt
}
