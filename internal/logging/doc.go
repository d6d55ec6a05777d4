// Package logging builds the slog loggers used across covermill and defines
// the standardized structured field vocabulary (component, job_id, stage,
// event_type). Context helpers carry job and stage identity so every log line
// emitted while a job is processing is attributable to it.
package logging
