package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Claim atomically transitions a queued job to running on behalf of a
// worker, recording the external task handle. Exactly one concurrent claim
// for a job succeeds; the rest observe ErrConflict.
func (s *Store) Claim(ctx context.Context, id, taskHandle string) (*CoverJob, error) {
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE cover_jobs
         SET status = ?, stage = ?, progress = 0, task_handle = ?,
             last_heartbeat = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusRunning,
		StagePreprocess,
		taskHandle,
		timestamp,
		timestamp,
		id,
		StatusQueued,
	)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, s.conflictOrNotFound(ctx, id)
	}
	return s.GetByID(ctx, id)
}

// SetStageProgress records a stage advance for a running job. Stage never
// regresses and progress never decreases; violations indicate a caller bug
// and surface as ErrConflict.
func (s *Store) SetStageProgress(ctx context.Context, id string, stage Stage, progress int) error {
	if StageIndex(stage) < 0 {
		return fmt.Errorf("unknown stage %q", stage)
	}
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE cover_jobs
         SET stage = ?, progress = ?, updated_at = ?
         WHERE id = ? AND status = ? AND progress <= ?`,
		stage,
		progress,
		timestamp,
		id,
		StatusRunning,
		progress,
	)
	if err != nil {
		return fmt.Errorf("set stage progress: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return s.conflictOrNotFound(ctx, id)
	}
	return nil
}

// FinishSucceeded commits the succeeded terminal state. The write is
// rejected with ErrConflict when the job is no longer running or a
// cancellation was requested meanwhile; the caller re-reads and re-resolves.
func (s *Store) FinishSucceeded(ctx context.Context, id, outputPath string, expiresAt time.Time) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE cover_jobs
         SET status = ?, progress = 100, output_path = ?, error_message = NULL,
             expires_at = ?, last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND status = ? AND cancel_requested = 0`,
		StatusSucceeded,
		outputPath,
		expiresAt.UTC().Format(time.RFC3339Nano),
		timestamp,
		id,
		StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("finish succeeded: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return s.conflictOrNotFound(ctx, id)
	}
	return nil
}

// FinishFailed commits the failed terminal state with an error message.
// A pending cancellation wins over a failure, mirroring FinishSucceeded.
func (s *Store) FinishFailed(ctx context.Context, id, message string, expiresAt time.Time) error {
	if message == "" {
		return errors.New("failed jobs require an error message")
	}
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE cover_jobs
         SET status = ?, error_message = ?, output_path = NULL,
             expires_at = ?, last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND status = ? AND cancel_requested = 0`,
		StatusFailed,
		message,
		expiresAt.UTC().Format(time.RFC3339Nano),
		timestamp,
		id,
		StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("finish failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return s.conflictOrNotFound(ctx, id)
	}
	return nil
}

// FinishCanceled commits the canceled terminal state. Canceled jobs carry
// neither an output nor an error message; the stage is frozen for
// diagnostics. Valid from both queued and running.
func (s *Store) FinishCanceled(ctx context.Context, id string, expiresAt time.Time) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE cover_jobs
         SET status = ?, error_message = NULL, output_path = NULL,
             expires_at = ?, last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		StatusCanceled,
		expiresAt.UTC().Format(time.RFC3339Nano),
		timestamp,
		id,
		StatusQueued,
		StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("finish canceled: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return s.conflictOrNotFound(ctx, id)
	}
	return nil
}

// RequestCancel records cancellation intent. The flag is settable once and
// never cleared; requests against terminal jobs report AlreadyTerminal.
func (s *Store) RequestCancel(ctx context.Context, id string) (CancelOutcome, error) {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE cover_jobs
         SET cancel_requested = 1, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		timestamp,
		id,
		StatusQueued,
		StatusRunning,
	)
	if err != nil {
		return "", fmt.Errorf("request cancel: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return CancelAccepted, nil
	}

	job, err := s.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if job.IsTerminal() {
		return CancelAlreadyTerminal, nil
	}
	// The job flipped between the update and the read; the flag either took
	// or the job just went terminal. Treat as accepted.
	return CancelAccepted, nil
}

// Heartbeat updates the last heartbeat timestamp for a running job.
func (s *Store) Heartbeat(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := s.execWithRetry(
		ctx,
		`UPDATE cover_jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND status = ?`,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		id,
		StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStale finalizes running jobs whose worker stopped heartbeating
// before the cutoff. Stages are never retried automatically, so lost jobs
// become failed (or canceled when cancellation was already requested).
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time, expiresAt time.Time) (int64, error) {
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE cover_jobs
         SET status = CASE WHEN cancel_requested = 1 THEN ? ELSE ? END,
             error_message = CASE WHEN cancel_requested = 1 THEN NULL ELSE ? END,
             expires_at = ?, last_heartbeat = NULL, updated_at = ?
         WHERE status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		StatusCanceled,
		StatusFailed,
		WorkerLostMessage,
		expiresAt.UTC().Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		StatusRunning,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) conflictOrNotFound(ctx context.Context, id string) error {
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrConflict, id)
}
