package jobs

import (
	"context"
	"fmt"
	"time"
)

// ListExpired returns terminal jobs whose retention window has passed and
// whose artifacts have not been swept yet.
func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]*CoverJob, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM cover_jobs
         WHERE status IN (?, ?, ?) AND artifacts_swept = 0
           AND expires_at IS NOT NULL AND expires_at < ?
         ORDER BY expires_at`,
		StatusSucceeded,
		StatusFailed,
		StatusCanceled,
		now.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("list expired jobs: %w", err)
	}
	defer rows.Close()

	var result []*CoverJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}
	return result, rows.Err()
}

// MarkSwept records that a job's artifacts were removed. Idempotent.
func (s *Store) MarkSwept(ctx context.Context, id string) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.execWithRetry(
		ctx,
		`UPDATE cover_jobs SET artifacts_swept = 1, output_path = NULL, updated_at = ?
         WHERE id = ? AND artifacts_swept = 0`,
		timestamp,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark swept: %w", err)
	}
	return nil
}

// DeleteSweptBefore removes records of swept jobs whose retention expired
// before the cutoff, keeping history queryable during the grace period.
func (s *Store) DeleteSweptBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM cover_jobs
         WHERE artifacts_swept = 1 AND expires_at IS NOT NULL AND expires_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("delete swept records: %w", err)
	}
	return res.RowsAffected()
}

// KnownIDs returns the set of all job ids, used for orphan directory detection.
func (s *Store) KnownIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM cover_jobs`)
	if err != nil {
		return nil, fmt.Errorf("list job ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM cover_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates job state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusQueued:
			health.Queued += count
		case StatusRunning:
			health.Running += count
		case StatusSucceeded:
			health.Succeeded += count
		case StatusFailed:
			health.Failed += count
		case StatusCanceled:
			health.Canceled += count
		}
	}
	return health, nil
}
