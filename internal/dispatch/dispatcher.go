package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
)

// ErrUnavailable indicates the queue backend could not be reached. Callers
// must surface this distinctly from a processing failure.
var ErrUnavailable = errors.New("job queue unavailable")

// Processor executes one job. Any returned error counts as an attempt
// failure and triggers the dispatcher's backoff retry policy.
type Processor func(ctx context.Context, job *Record) error

// Persistence is the durable backing for job records. Implemented by the
// sqlite store; tests supply in-memory fakes, including ones that simulate
// broker unavailability.
type Persistence interface {
	InsertJob(ctx context.Context, job *Record) error
	GetJob(ctx context.Context, key string) (*Record, error)
	// ClaimJob atomically moves a queued record to active and returns it,
	// or returns nil when the record is missing or not queued. The
	// compare-and-set is what keeps duplicate queue entries under one key
	// from executing twice.
	ClaimJob(ctx context.Context, key string) (*Record, error)
	UpdateJob(ctx context.Context, job *Record) error
	DeleteJob(ctx context.Context, key string) error
	ListQueuedJobs(ctx context.Context) ([]*Record, error)
	PruneJobs(ctx context.Context, completedCutoff, failedCutoff time.Time) (int64, error)
	Ping(ctx context.Context) error
}

// Config configures a new dispatcher.
type Config struct {
	Persistence Persistence
	Logger      *slog.Logger

	// Workers bounds concurrent job executions (default 2).
	Workers int
	// DispatchesPerWindow limits dispatches per rolling 60s window (default 5).
	DispatchesPerWindow int
	// MaxAttempts bounds execution attempts per dispatch (default 3).
	MaxAttempts int
	// RetryBaseDelay is the base backoff delay, doubling per attempt (default 2s).
	RetryBaseDelay time.Duration
	// CompletedRetention is how long completed jobs are kept (default 1h).
	CompletedRetention time.Duration
	// FailedRetention is how long failed jobs are kept for inspection (default 24h).
	FailedRetention time.Duration
	// PruneInterval is how often retention is enforced (default 10m).
	PruneInterval time.Duration
}

// Dispatcher pulls keyed jobs off a durable priority queue and runs the
// registered processor for each job's kind with bounded concurrency,
// rate limiting, and retry with exponential backoff.
type Dispatcher struct {
	persistence Persistence
	logger      *slog.Logger
	queue       *priorityQueue
	limiter     *RateLimiter

	workers            int
	maxAttempts        int
	retryBaseDelay     time.Duration
	completedRetention time.Duration
	failedRetention    time.Duration
	pruneInterval      time.Duration

	mu         sync.RWMutex
	processors map[string]Processor
	started    bool
	available  bool
	inFlight   int
}

// New creates a dispatcher. Call Start before enqueuing.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Persistence == nil {
		return nil, fmt.Errorf("persistence is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 2 * time.Second
	}
	if cfg.CompletedRetention <= 0 {
		cfg.CompletedRetention = time.Hour
	}
	if cfg.FailedRetention <= 0 {
		cfg.FailedRetention = 24 * time.Hour
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = 10 * time.Minute
	}

	return &Dispatcher{
		persistence:        cfg.Persistence,
		logger:             logger,
		queue:              newPriorityQueue(),
		limiter:            NewRateLimiter(cfg.DispatchesPerWindow),
		workers:            cfg.Workers,
		maxAttempts:        cfg.MaxAttempts,
		retryBaseDelay:     cfg.RetryBaseDelay,
		completedRetention: cfg.CompletedRetention,
		failedRetention:    cfg.FailedRetention,
		pruneInterval:      cfg.PruneInterval,
		processors:         make(map[string]Processor),
	}, nil
}

// RegisterProcessor binds a processor to a job kind. Must be called before
// Start for kinds that may already have queued records.
func (d *Dispatcher) RegisterProcessor(kind string, p Processor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.processors[kind] = p
}

// Start verifies the backing store, resumes queued jobs, and launches the
// worker pool and prune loop. Returns ErrUnavailable if the backend cannot
// be reached; the dispatcher then reports unavailable instead of silently
// no-opping.
func (d *Dispatcher) Start(ctx context.Context) error {
	if err := d.persistence.Ping(ctx); err != nil {
		d.setAvailable(false)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resumed, err := d.resume(ctx)
	if err != nil {
		d.setAvailable(false)
		return fmt.Errorf("%w: resume queued jobs: %v", ErrUnavailable, err)
	}
	if resumed > 0 {
		d.logger.Info("resumed queued jobs", "count", resumed)
	}

	d.mu.Lock()
	d.started = true
	d.available = true
	d.mu.Unlock()

	for i := 0; i < d.workers; i++ {
		go d.workerLoop(ctx, i)
	}
	go d.pruneLoop(ctx)

	d.logger.Info("dispatcher started", "workers", d.workers)
	return nil
}

// Available reports whether the dispatcher is running with a reachable
// backend. Submission and retry paths check this before enqueuing so a
// misconfigured broker surfaces as "worker unavailable", not a processing
// failure.
func (d *Dispatcher) Available() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.started && d.available
}

// Enqueue submits a job under the given deterministic key. Enqueuing a key
// whose job is still queued or active returns the existing record without
// creating a duplicate; callers that need a clean restart must Remove first.
// A terminal record under the same key is replaced.
func (d *Dispatcher) Enqueue(ctx context.Context, key, kind string, payload map[string]any, priority int) (*Record, error) {
	if !d.Available() {
		return nil, ErrUnavailable
	}
	if key == "" {
		return nil, fmt.Errorf("job key is required")
	}

	existing, err := d.persistence.GetJob(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("look up job %q: %w", key, err)
	}
	if existing != nil {
		if !existing.Status.Terminal() {
			d.logger.Debug("enqueue reused pending job", "key", key, "status", existing.Status)
			return existing, nil
		}
		if err := d.persistence.DeleteJob(ctx, key); err != nil {
			return nil, fmt.Errorf("replace finished job %q: %w", key, err)
		}
	}

	job := &Record{
		Key:      key,
		Kind:     kind,
		Payload:  payload,
		Priority: priority,
		Status:   StatusQueued,
	}
	if err := d.persistence.InsertJob(ctx, job); err != nil {
		return nil, fmt.Errorf("insert job %q: %w", key, err)
	}

	if err := d.queue.Push(&queueEntry{Key: key, Priority: priority}); err != nil {
		return nil, err
	}

	d.logger.Info("job enqueued", "key", key, "kind", kind, "priority", priority)
	return job, nil
}

// GetJob returns the job record under key, or nil when none exists.
func (d *Dispatcher) GetJob(ctx context.Context, key string) (*Record, error) {
	if !d.Available() {
		return nil, ErrUnavailable
	}
	return d.persistence.GetJob(ctx, key)
}

// Remove deletes the job record under key. Removing a missing key is a
// no-op. A queued in-memory entry for the key becomes a stale pointer that
// workers skip on pop; an already-active execution is not interrupted.
func (d *Dispatcher) Remove(ctx context.Context, key string) error {
	if !d.Available() {
		return ErrUnavailable
	}
	return d.persistence.DeleteJob(ctx, key)
}

// Stats reports queue depth, in-flight executions, and limiter state.
func (d *Dispatcher) Stats() map[string]any {
	d.mu.RLock()
	inFlight := d.inFlight
	d.mu.RUnlock()
	return map[string]any{
		"queue_depth":  d.queue.Len(),
		"in_flight":    inFlight,
		"rate_limiter": d.limiter.Status(),
	}
}

// resume re-queues records left queued or active by a previous process.
func (d *Dispatcher) resume(ctx context.Context) (int, error) {
	jobs, err := d.persistence.ListQueuedJobs(ctx)
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		if job.Status == StatusActive {
			// The process that held this job is gone.
			job.Status = StatusQueued
			if err := d.persistence.UpdateJob(ctx, job); err != nil {
				return 0, err
			}
		}
		if err := d.queue.Push(&queueEntry{Key: job.Key, Priority: job.Priority}); err != nil {
			return 0, err
		}
	}
	return len(jobs), nil
}

func (d *Dispatcher) workerLoop(ctx context.Context, workerNum int) {
	logger := d.logger.With("worker_num", workerNum)
	logger.Debug("worker started")

	for {
		entry := d.queue.Pop(ctx.Done())
		if entry == nil {
			logger.Debug("worker stopping")
			return
		}

		if err := d.limiter.Wait(ctx); err != nil {
			return
		}

		d.runJob(ctx, logger, entry.Key)
	}
}

// runJob claims the record, executes the processor with bounded backoff
// retries, and records the terminal outcome. The claim is a compare-and-set
// in the persistence layer: a record that was removed, superseded, or
// already claimed by another worker yields nil and the entry is skipped, so
// at most one worker ever owns an execution for a key.
func (d *Dispatcher) runJob(ctx context.Context, logger *slog.Logger, key string) {
	job, err := d.persistence.ClaimJob(ctx, key)
	if err != nil {
		logger.Error("failed to claim job", "key", key, "error", err)
		return
	}
	if job == nil {
		logger.Debug("skipping stale queue entry", "key", key)
		return
	}

	d.mu.Lock()
	processor, ok := d.processors[job.Kind]
	d.inFlight++
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.inFlight--
		d.mu.Unlock()
	}()

	if !ok {
		d.finishJob(ctx, job, fmt.Errorf("no processor registered for kind %q", job.Kind))
		return
	}

	logger.Info("job started", "key", key, "kind", job.Kind, "attempts", job.Attempts)

	execErr := retry.Do(
		func() error {
			job.Attempts++
			return processor(ctx, job)
		},
		retry.Context(ctx),
		retry.Attempts(uint(d.maxAttempts)),
		retry.Delay(d.retryBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("job attempt failed", "key", key, "attempt", n+1, "error", err)
			job.LastError = err.Error()
			_ = d.persistence.UpdateJob(ctx, job)
		}),
	)

	d.finishJob(ctx, job, execErr)
}

func (d *Dispatcher) finishJob(ctx context.Context, job *Record, execErr error) {
	now := time.Now().UTC()
	job.FinishedAt = &now
	if execErr != nil {
		job.Status = StatusFailed
		job.LastError = execErr.Error()
		d.logger.Error("job failed", "key", job.Key, "kind", job.Kind, "attempts", job.Attempts, "error", execErr)
	} else {
		job.Status = StatusCompleted
		job.LastError = ""
		d.logger.Info("job completed", "key", job.Key, "kind", job.Kind, "attempts", job.Attempts)
	}
	if err := d.persistence.UpdateJob(ctx, job); err != nil {
		d.logger.Error("failed to record job outcome", "key", job.Key, "error", err)
	}
}

func (d *Dispatcher) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(d.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			pruned, err := d.persistence.PruneJobs(
				ctx,
				now.Add(-d.completedRetention),
				now.Add(-d.failedRetention),
			)
			if err != nil {
				d.logger.Error("job prune failed", "error", err)
				continue
			}
			if pruned > 0 {
				d.logger.Debug("pruned finished jobs", "count", pruned)
			}
		}
	}
}

func (d *Dispatcher) setAvailable(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.available = v
}
