// Package api defines the request and response payloads of the daemon's
// HTTP surface and the service that backs them.
package api

import (
	"time"

	"covermill/internal/jobs"
)

// JobPayload is the wire representation of a cover job.
type JobPayload struct {
	ID              string     `json:"id"`
	Status          string     `json:"status"`
	Stage           string     `json:"stage,omitempty"`
	Progress        int        `json:"progress"`
	ModelID         string     `json:"model_id,omitempty"`
	PitchShift      int        `json:"pitch_shift"`
	OutputAvailable bool       `json:"output_available"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CancelRequested bool       `json:"cancel_requested,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

// FromJob converts a stored job into its wire representation. Filesystem
// paths never leave the daemon.
func FromJob(job *jobs.CoverJob) JobPayload {
	return JobPayload{
		ID:              job.ID,
		Status:          string(job.Status),
		Stage:           string(job.Stage),
		Progress:        job.Progress,
		ModelID:         job.ModelID,
		PitchShift:      job.PitchShift,
		OutputAvailable: job.Status == jobs.StatusSucceeded && job.OutputPath != "",
		ErrorMessage:    job.ErrorMessage,
		CancelRequested: job.CancelRequested,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
		ExpiresAt:       job.ExpiresAt,
	}
}

// JobListResponse wraps a job listing.
type JobListResponse struct {
	Jobs []JobPayload `json:"jobs"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job JobPayload `json:"job"`
}

// CancelResponse reports the outcome of a cancellation request.
type CancelResponse struct {
	Outcome string     `json:"outcome"`
	Job     JobPayload `json:"job"`
}

// HealthPayload carries aggregate job counts.
type HealthPayload struct {
	Total     int `json:"total"`
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Canceled  int `json:"canceled"`
}

// DaemonStatus describes the daemon for the status endpoint and CLI.
type DaemonStatus struct {
	Running      bool          `json:"running"`
	PID          int           `json:"pid"`
	JobsDBPath   string        `json:"jobs_db_path"`
	LockFilePath string        `json:"lock_file_path"`
	Jobs         HealthPayload `json:"jobs"`
}

// FromHealth converts store aggregates into the wire payload.
func FromHealth(health jobs.HealthSummary) HealthPayload {
	return HealthPayload{
		Total:     health.Total,
		Queued:    health.Queued,
		Running:   health.Running,
		Succeeded: health.Succeeded,
		Failed:    health.Failed,
		Canceled:  health.Canceled,
	}
}
