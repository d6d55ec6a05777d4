// Package workflow runs the worker pool that pulls queued jobs, executes
// them, and keeps liveness bookkeeping current.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"covermill/internal/cancel"
	"covermill/internal/config"
	"covermill/internal/jobs"
	"covermill/internal/logging"
)

// Processor executes one claimed job to a terminal state.
type Processor interface {
	Process(ctx context.Context, job *jobs.CoverJob) error
}

// Manager owns the worker pool and the liveness loops.
type Manager struct {
	cfg       *config.Config
	store     *jobs.Store
	processor Processor
	canceller *cancel.Controller
	logger    *slog.Logger

	mu      sync.Mutex
	cancelF context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, store *jobs.Store, processor Processor, canceller *cancel.Controller, logger *slog.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	if store == nil {
		return nil, errors.New("store required")
	}
	if processor == nil {
		return nil, errors.New("processor required")
	}
	if canceller == nil {
		return nil, errors.New("cancel controller required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:       cfg,
		store:     store,
		processor: processor,
		canceller: canceller,
		logger:    logger.With(logging.String(logging.FieldComponent, "workflow")),
	}, nil
}

// Start launches the workers and the stale-job reclaim loop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return errors.New("workflow manager already started")
	}
	m.started = true

	runCtx, cancelF := context.WithCancel(ctx)
	m.cancelF = cancelF

	workers := m.cfg.Workflow.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go m.worker(runCtx, i)
	}

	m.wg.Add(1)
	go m.reclaimLoop(runCtx)

	m.logger.Info("workflow started", logging.Int("workers", workers))
	return nil
}

// Stop halts the pool and waits for in-flight work to unwind. Running
// stage commands are interrupted through their contexts; interrupted jobs
// stay running in the store until the reclaim loop finalizes them.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancelF := m.cancelF
	m.mu.Unlock()
	if cancelF != nil {
		cancelF()
	}
	m.wg.Wait()
	m.logger.Info("workflow stopped")
}

func (m *Manager) worker(ctx context.Context, id int) {
	defer m.wg.Done()
	logger := m.logger.With(logging.Int("worker", id))

	poll := secondsOrDefault(m.cfg.Workflow.QueuePollInterval, 5)
	retry := secondsOrDefault(m.cfg.Workflow.ErrorRetryInterval, 10)

	for {
		if ctx.Err() != nil {
			return
		}
		ran, err := m.runNext(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			logger.Error("worker iteration failed", logging.Error(err))
			if !sleep(ctx, retry) {
				return
			}
		case !ran:
			if !sleep(ctx, poll) {
				return
			}
		}
	}
}

// runNext claims and processes at most one job. It reports whether a job
// was picked up so the caller can decide between backing off and polling
// again immediately.
func (m *Manager) runNext(ctx context.Context) (bool, error) {
	next, err := m.store.NextQueued(ctx)
	if err != nil {
		return false, err
	}
	if next == nil {
		return false, nil
	}

	claimed, err := m.store.Claim(ctx, next.ID, uuid.NewString())
	if err != nil {
		// Another worker got there first, or the job was canceled while
		// queued. Either way there may be more work behind it.
		if errors.Is(err, jobs.ErrConflict) || errors.Is(err, jobs.ErrNotFound) {
			return true, nil
		}
		return false, err
	}

	jobCtx, release := m.canceller.Attach(ctx, claimed.ID)
	defer release()

	stopBeats := m.startHeartbeats(jobCtx, claimed.ID)
	defer stopBeats()

	if err := m.processor.Process(jobCtx, claimed); err != nil {
		return true, err
	}
	return true, nil
}

// startHeartbeats keeps the job's liveness timestamp fresh while it runs.
func (m *Manager) startHeartbeats(ctx context.Context, jobID string) func() {
	interval := secondsOrDefault(m.cfg.Workflow.HeartbeatInterval, 15)
	done := make(chan struct{})
	var once sync.Once

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(time.Duration(interval) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				beatCtx, cancelF := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				if err := m.store.Heartbeat(beatCtx, jobID); err != nil {
					m.logger.Error("heartbeat failed", logging.String(logging.FieldJobID, jobID), logging.Error(err))
				}
				cancelF()
			}
		}
	}()

	return func() {
		once.Do(func() {
			close(done)
		})
	}
}

// reclaimLoop finalizes jobs whose worker stopped heartbeating, covering
// crashes of previous daemon instances as well as this one.
func (m *Manager) reclaimLoop(ctx context.Context) {
	defer m.wg.Done()

	interval := secondsOrDefault(m.cfg.Workflow.HeartbeatInterval, 15)
	timeout := secondsOrDefault(m.cfg.Workflow.HeartbeatTimeout, 120)
	ticker := time.NewTicker(time.Duration(interval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-time.Duration(timeout) * time.Second)
			expiry := time.Now().Add(time.Duration(m.cfg.Retention.ResultTTLHours) * time.Hour)
			count, err := m.store.ReclaimStale(ctx, cutoff, expiry)
			if err != nil {
				if ctx.Err() == nil {
					m.logger.Error("reclaim stale jobs failed", logging.Error(err))
				}
				continue
			}
			if count > 0 {
				m.logger.Warn("finalized jobs with expired heartbeats", logging.Int64("count", count))
			}
		}
	}
}

func secondsOrDefault(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func sleep(ctx context.Context, seconds int) bool {
	timer := time.NewTimer(time.Duration(seconds) * time.Second)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
