// Package cancel coordinates cancellation requests between the API
// surface and the workers executing jobs. The persistent flag in the
// store is authoritative; the in-process registry only shortens the
// latency between a request and the running command being terminated.
package cancel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"covermill/internal/jobs"
	"covermill/internal/logging"
)

// Controller records cancellation intent and interrupts in-flight work.
type Controller struct {
	store     *jobs.Store
	logger    *slog.Logger
	resultTTL time.Duration

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewController constructs a cancellation controller. resultTTL governs
// the expiry stamped on jobs this controller finalizes directly.
func NewController(store *jobs.Store, resultTTL time.Duration, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Controller{
		store:     store,
		logger:    logger.With(logging.String(logging.FieldComponent, "cancel")),
		resultTTL: resultTTL,
		active:    make(map[string]context.CancelFunc),
	}
}

// Attach derives a cancelable context for a job about to execute and
// registers it so Request can interrupt the work. The returned release
// function must be called when execution ends.
func (c *Controller) Attach(parent context.Context, jobID string) (context.Context, func()) {
	ctx, cancelFn := context.WithCancel(parent)

	c.mu.Lock()
	c.active[jobID] = cancelFn
	c.mu.Unlock()

	release := func() {
		c.mu.Lock()
		delete(c.active, jobID)
		c.mu.Unlock()
		cancelFn()
	}
	return ctx, release
}

// Request marks a job for cancellation. Queued jobs are finalized
// immediately; running jobs additionally have their in-flight command
// interrupted when this process is executing them.
func (c *Controller) Request(ctx context.Context, jobID string) (jobs.CancelOutcome, error) {
	outcome, err := c.store.RequestCancel(ctx, jobID)
	if err != nil {
		return "", err
	}
	if outcome != jobs.CancelAccepted {
		return outcome, nil
	}

	logger := logging.WithContext(logging.WithJobID(ctx, jobID), c.logger)

	c.mu.Lock()
	cancelFn, running := c.active[jobID]
	c.mu.Unlock()
	if running {
		logger.Info("interrupting running job", logging.String(logging.FieldEventType, "cancel_interrupt"))
		cancelFn()
		return outcome, nil
	}

	// Not executing here. If the job is still queued no worker will pick
	// it up before noticing the flag, so finalize it right away.
	job, err := c.store.GetByID(ctx, jobID)
	if err != nil {
		return outcome, err
	}
	if job.Status == jobs.StatusQueued {
		expiresAt := time.Now().Add(c.resultTTL)
		// A worker may claim the job between the flag write and this
		// finalize; it will observe the flag and cancel itself.
		if err := c.store.FinishCanceled(ctx, jobID, expiresAt); err != nil && !errors.Is(err, jobs.ErrConflict) {
			return outcome, err
		}
		logger.Info("canceled queued job", logging.String(logging.FieldEventType, "cancel_finalized"))
	}
	return outcome, nil
}
