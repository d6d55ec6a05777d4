// Package daemon wires the store, workflow, sweeper, and HTTP API into a
// single long-running process and enforces single-instance execution.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"covermill/internal/api"
	"covermill/internal/cancel"
	"covermill/internal/config"
	"covermill/internal/jobs"
	"covermill/internal/lifecycle"
	"covermill/internal/logging"
	"covermill/internal/orchestrator"
	"covermill/internal/stagerunner"
	"covermill/internal/workflow"
)

// Daemon owns the background services of one covermill instance.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *jobs.Store
	canceller *cancel.Controller
	workflow  *workflow.Manager
	sweeper   *lifecycle.Sweeper
	jobSvc    *api.JobService
	apiSrv    *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancelF context.CancelFunc
	bg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	JobsDBPath   string
	LockFilePath string
	Jobs         jobs.HealthSummary
}

// New builds a daemon and all of its services from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	store, err := jobs.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}

	resultTTL := time.Duration(cfg.Retention.ResultTTLHours) * time.Hour
	canceller := cancel.NewController(store, resultTTL, logger)

	runner, err := stagerunner.New(cfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	orch, err := orchestrator.New(cfg, store, runner, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	manager, err := workflow.NewManager(cfg, store, orch, canceller, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	sweeper, err := lifecycle.NewSweeper(cfg, store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "covermilld.lock")
	d := &Daemon{
		cfg:       cfg,
		logger:    logger.With(logging.String(logging.FieldComponent, "daemon")),
		store:     store,
		canceller: canceller,
		workflow:  manager,
		sweeper:   sweeper,
		jobSvc:    api.NewJobService(cfg, store, canceller),
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}
	d.apiSrv = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the instance lock and launches the background services.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another covermill daemon instance is already running")
	}

	runCtx, cancelF := context.WithCancel(ctx)
	d.cancelF = cancelF

	if err := d.workflow.Start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancelF()
		d.cancelF = nil
		return fmt.Errorf("start workflow: %w", err)
	}

	d.bg.Add(1)
	go func() {
		defer d.bg.Done()
		d.sweeper.Run(runCtx)
	}()

	if d.apiSrv != nil {
		if err := d.apiSrv.start(runCtx); err != nil {
			d.workflow.Stop()
			cancelF()
			d.bg.Wait()
			_ = d.lock.Unlock()
			d.cancelF = nil
			return err
		}
	}

	d.running.Store(true)
	d.logger.Info("covermill daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.apiSrv != nil {
		d.apiSrv.stop()
	}
	if d.cancelF != nil {
		d.cancelF()
		d.cancelF = nil
	}
	d.workflow.Stop()
	d.bg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("covermill daemon stopped")
}

// Close stops the daemon and releases its resources.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Status reports runtime information for the status endpoint and CLI.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		JobsDBPath:   d.store.Path(),
		LockFilePath: d.lockPath,
	}
	if health, err := d.store.Health(ctx); err == nil {
		status.Jobs = health
	}
	return status
}

// APIAddr reports the bound API listener address, empty until started.
func (d *Daemon) APIAddr() string {
	if d.apiSrv == nil {
		return ""
	}
	return d.apiSrv.addr()
}

// Jobs exposes the job service, primarily for tests.
func (d *Daemon) Jobs() *api.JobService {
	return d.jobSvc
}
