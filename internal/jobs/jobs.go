// Package jobs runs import tasks asynchronously with an explicit handle and
// a pollable progress trail. A submitted task is never fire-and-forget: its
// outcome always lands in the progress store, exactly once.
package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/equimed/catalog-importer/internal/adapter"
	"github.com/equimed/catalog-importer/internal/logger"
	"github.com/equimed/catalog-importer/internal/progress"
)

// Task is the body of an asynchronous job. It reports through the given
// Reporter and returns the terminal error, if any.
type Task func(ctx context.Context, rep *Reporter) error

// Handle tracks a submitted job through its lifecycle:
// submitted → running → finished-with-result.
type Handle struct {
	// ID is the ULID assigned at submission, used for progress polling
	ID string

	done chan struct{}
	err  error
}

// Done returns a channel closed when the job reaches a terminal state
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the job's terminal error. Only valid after Done is closed.
func (h *Handle) Err() error {
	return h.err
}

// Runner submits tasks and guarantees their terminal progress write
type Runner struct {
	store progress.Store
	clock adapter.Clock
}

// NewRunner creates a job runner over the given progress store
func NewRunner(store progress.Store, clock adapter.Clock) *Runner {
	return &Runner{store: store, clock: clock}
}

// Submit registers a new job and starts it in the background. The job keeps
// running after the submission context (typically a request context) ends;
// only the returned handle and the progress store observe its fate.
func (r *Runner) Submit(ctx context.Context, task Task) (*Handle, error) {
	id := ulid.MustNewDefault(r.clock.Now()).String()

	rep := &Reporter{
		store: r.store,
		clock: r.clock,
		jobID: id,
		snap:  progress.Snapshot{Status: progress.StatusProcessing},
	}
	if err := rep.flush(ctx); err != nil {
		return nil, fmt.Errorf("failed to register job: %w", err)
	}

	h := &Handle{ID: id, done: make(chan struct{})}

	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer close(h.done)
		defer func() {
			if p := recover(); p != nil {
				err := fmt.Errorf("job panicked: %v", p)
				logger.Error(err, zap.String("job_id", id))
				rep.finish(runCtx, err)
				h.err = err
			}
		}()

		err := task(runCtx, rep)
		rep.finish(runCtx, err)
		h.err = err
	}()

	return h, nil
}

// Reporter is the progress feed of one job. Safe for concurrent use; all
// updates after the terminal write are dropped.
type Reporter struct {
	store progress.Store
	clock adapter.Clock
	jobID string

	mu   sync.Mutex
	snap progress.Snapshot
	once sync.Once
}

// JobID returns the owning job's identifier
func (r *Reporter) JobID() string {
	return r.jobID
}

// Step records the name of the pipeline stage the job is in
func (r *Reporter) Step(ctx context.Context, name string) {
	r.update(ctx, func(s *progress.Snapshot) {
		s.CurrentStep = name
	})
}

// SetTotal records how many items the job will process
func (r *Reporter) SetTotal(ctx context.Context, n int) {
	r.update(ctx, func(s *progress.Snapshot) {
		s.TotalItems = n
	})
}

// ItemDone marks one more item processed and refreshes the percentage
func (r *Reporter) ItemDone(ctx context.Context) {
	r.update(ctx, func(s *progress.Snapshot) {
		s.ProcessedItems++
	})
}

// AssetResolved appends the resolution of one remote asset
func (r *Reporter) AssetResolved(ctx context.Context, ap progress.AssetProgress) {
	r.update(ctx, func(s *progress.Snapshot) {
		s.AssetProgress = append(s.AssetProgress, ap)
	})
}

// AddError appends a non-fatal error message to the job's error list
func (r *Reporter) AddError(ctx context.Context, msg string) {
	r.update(ctx, func(s *progress.Snapshot) {
		s.Errors = append(s.Errors, msg)
	})
}

// update applies a mutation and writes through, unless the job is already
// terminal
func (r *Reporter) update(ctx context.Context, fn func(*progress.Snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.snap.Status.Terminal() {
		return
	}

	fn(&r.snap)
	if r.snap.TotalItems > 0 {
		pct := r.snap.ProcessedItems * 100 / r.snap.TotalItems
		// 100 is reserved for the terminal write
		if pct > 99 {
			pct = 99
		}
		r.snap.Progress = pct
	}

	if err := r.flushLocked(ctx); err != nil {
		logger.Warn("failed to write job progress", zap.String("job_id", r.jobID), zap.Error(err))
	}
}

// finish writes the terminal snapshot. Guarded so that exactly one terminal
// write happens regardless of how the task ended.
func (r *Reporter) finish(ctx context.Context, err error) {
	r.once.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		if err != nil {
			r.snap.Status = progress.StatusFailed
			r.snap.Errors = append(r.snap.Errors, err.Error())
		} else {
			r.snap.Status = progress.StatusCompleted
			r.snap.Progress = 100
		}

		if ferr := r.flushLocked(ctx); ferr != nil {
			logger.Error(ferr, zap.String("job_id", r.jobID))
		}
	})
}

func (r *Reporter) flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked(ctx)
}

func (r *Reporter) flushLocked(ctx context.Context) error {
	r.snap.UpdatedAt = r.clock.Now()
	return r.store.Put(ctx, r.jobID, r.snap)
}
