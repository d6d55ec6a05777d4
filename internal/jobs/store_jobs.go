package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewJobParams collects the immutable configuration snapshot taken at creation.
type NewJobParams struct {
	// ID is optional; a fresh UUID is generated when empty. Callers that
	// stage input files under the future workspace pass the id they used.
	ID         string
	VoicePath  string
	SongPath   string
	ModelID    string
	PitchShift int
}

// Create inserts a new job in the queued state and returns it.
func (s *Store) Create(ctx context.Context, params NewJobParams) (*CoverJob, error) {
	if params.VoicePath == "" {
		return nil, errors.New("reference voice path required")
	}
	if params.SongPath == "" {
		return nil, errors.New("song path required")
	}

	id := params.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO cover_jobs (
            id, status, stage, progress, voice_path, song_path, model_id,
            pitch_shift, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		StatusQueued,
		"",
		0,
		params.VoicePath,
		params.SongPath,
		params.ModelID,
		params.PitchShift,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches a job by identifier.
func (s *Store) GetByID(ctx context.Context, id string) (*CoverJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM cover_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns jobs filtered by status set (or all jobs when no status is provided).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*CoverJob, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + jobColumns + ` FROM cover_jobs`
	orderClause := ` ORDER BY created_at`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
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

// NextQueued returns the oldest queued job, or nil when the queue is empty.
func (s *Store) NextQueued(ctx context.Context) (*CoverJob, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM cover_jobs WHERE status = ? ORDER BY created_at LIMIT 1`,
		StatusQueued,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Delete removes a job record by identifier.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM cover_jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

const jobColumns = "id, status, stage, progress, voice_path, song_path, model_id, pitch_shift, output_path, error_message, cancel_requested, task_handle, artifacts_swept, created_at, updated_at, expires_at, last_heartbeat"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*CoverJob, error) {
	var (
		id              string
		statusStr       string
		stageStr        string
		progress        int
		voicePath       string
		songPath        string
		modelID         string
		pitchShift      int
		outputPath      sql.NullString
		errorMessage    sql.NullString
		cancelRequested sql.NullInt64
		taskHandle      sql.NullString
		artifactsSwept  sql.NullInt64
		createdRaw      sql.NullString
		updatedRaw      sql.NullString
		expiresRaw      sql.NullString
		heartbeatRaw    sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&statusStr,
		&stageStr,
		&progress,
		&voicePath,
		&songPath,
		&modelID,
		&pitchShift,
		&outputPath,
		&errorMessage,
		&cancelRequested,
		&taskHandle,
		&artifactsSwept,
		&createdRaw,
		&updatedRaw,
		&expiresRaw,
		&heartbeatRaw,
	); err != nil {
		return nil, err
	}

	job := &CoverJob{
		ID:           id,
		Status:       Status(statusStr),
		Stage:        Stage(stageStr),
		Progress:     progress,
		VoicePath:    voicePath,
		SongPath:     songPath,
		ModelID:      modelID,
		PitchShift:   pitchShift,
		OutputPath:   outputPath.String,
		ErrorMessage: errorMessage.String,
		TaskHandle:   taskHandle.String,
	}
	if cancelRequested.Valid {
		job.CancelRequested = cancelRequested.Int64 != 0
	}
	if artifactsSwept.Valid {
		job.ArtifactsSwept = artifactsSwept.Int64 != 0
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	if expiresRaw.Valid {
		if expires, err := parseTimeString(expiresRaw.String); err == nil {
			job.ExpiresAt = &expires
		}
	}
	if heartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(heartbeatRaw.String); err == nil {
			job.LastHeartbeat = &heartbeat
		}
	}
	return job, nil
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
