// Package lifecycle reclaims disk space and database records once a
// job's retention window has passed.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"covermill/internal/config"
	"covermill/internal/jobs"
	"covermill/internal/logging"
)

// orphanMinAge is how old a recordless workspace directory must be before
// the sweeper treats it as abandoned.
const orphanMinAge = time.Hour

// SweepResult summarizes one sweep pass.
type SweepResult struct {
	ArtifactsRemoved int
	RecordsDeleted   int64
	OrphansRemoved   int
}

// Sweeper removes expired artifacts, aged-out records, and orphaned
// workspace directories.
type Sweeper struct {
	cfg    *config.Config
	store  *jobs.Store
	logger *slog.Logger
}

// NewSweeper constructs a sweeper.
func NewSweeper(cfg *config.Config, store *jobs.Store, logger *slog.Logger) (*Sweeper, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	if store == nil {
		return nil, errors.New("store required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Sweeper{
		cfg:    cfg,
		store:  store,
		logger: logger.With(logging.String(logging.FieldComponent, "lifecycle")),
	}, nil
}

// Sweep performs one pass. Each phase is independent; a failure in one
// does not block the others, and every phase is idempotent.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var result SweepResult
	var firstErr error

	expired, err := s.store.ListExpired(ctx, now)
	if err != nil {
		firstErr = err
	}
	for _, job := range expired {
		workspace := filepath.Join(s.cfg.Paths.AssetRoot, job.ID)
		if err := os.RemoveAll(workspace); err != nil {
			s.logger.Error("remove expired workspace", logging.String(logging.FieldJobID, job.ID), logging.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := s.store.MarkSwept(ctx, job.ID); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		result.ArtifactsRemoved++
	}

	grace := time.Duration(s.cfg.Retention.RecordGraceHours) * time.Hour
	deleted, err := s.store.DeleteSweptBefore(ctx, now.Add(-grace))
	if err != nil {
		if firstErr == nil {
			firstErr = err
		}
	} else {
		result.RecordsDeleted = deleted
	}

	orphans, err := s.removeOrphans(ctx)
	if err != nil {
		if firstErr == nil {
			firstErr = err
		}
	}
	result.OrphansRemoved = orphans

	if result.ArtifactsRemoved > 0 || result.RecordsDeleted > 0 || result.OrphansRemoved > 0 {
		s.logger.Info(
			"sweep completed",
			logging.String(logging.FieldEventType, "sweep_complete"),
			logging.Int("artifacts_removed", result.ArtifactsRemoved),
			logging.Int64("records_deleted", result.RecordsDeleted),
			logging.Int("orphans_removed", result.OrphansRemoved),
		)
	}
	return result, firstErr
}

// removeOrphans deletes workspace directories that no longer have a job
// record, which happens when the daemon dies between record deletion and
// artifact removal.
func (s *Sweeper) removeOrphans(ctx context.Context) (int, error) {
	known, err := s.store.KnownIDs(ctx)
	if err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(s.cfg.Paths.AssetRoot)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		// Only job workspaces carry UUID names. Anything else, such as the
		// upload staging area, is not ours to delete.
		if _, err := uuid.Parse(entry.Name()); err != nil {
			continue
		}
		if _, ok := known[entry.Name()]; ok {
			continue
		}
		// A workspace can briefly exist before its record does while an
		// upload is being staged. Only reap directories past that window.
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) < orphanMinAge {
			continue
		}
		target := filepath.Join(s.cfg.Paths.AssetRoot, entry.Name())
		if err := os.RemoveAll(target); err != nil {
			s.logger.Error("remove orphan workspace", logging.String("path", target), logging.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

// Run sweeps on the configured interval until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	interval := time.Duration(s.cfg.Retention.SweepIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, time.Now()); err != nil {
				s.logger.Error("sweep pass failed", logging.Error(err))
			}
		}
	}
}
