package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"covermill/internal/cancel"
	"covermill/internal/config"
	"covermill/internal/jobs"
	"covermill/internal/orchestrator"
)

// Sentinels the transport layer maps onto HTTP status codes.
var (
	ErrValidation = errors.New("validation error")
	ErrNotReady   = errors.New("result not ready")
	ErrGone       = errors.New("result no longer available")
)

// PitchShiftLimit bounds the accepted pitch shift in semitones.
const PitchShiftLimit = 24

// maxUploadBytes caps one uploaded input file.
const maxUploadBytes = 256 << 20

// SubmitRequest carries a new job's inputs.
type SubmitRequest struct {
	VoiceName  string
	Voice      io.Reader
	SongName   string
	Song       io.Reader
	ModelID    string
	PitchShift int
}

// JobService implements the operations behind the HTTP handlers.
type JobService struct {
	cfg       *config.Config
	store     *jobs.Store
	canceller *cancel.Controller
}

// NewJobService constructs the service.
func NewJobService(cfg *config.Config, store *jobs.Store, canceller *cancel.Controller) *JobService {
	return &JobService{cfg: cfg, store: store, canceller: canceller}
}

// Submit validates the inputs, stages them in the job's workspace, and
// enqueues the job.
func (s *JobService) Submit(ctx context.Context, req SubmitRequest) (*jobs.CoverJob, error) {
	voiceExt, err := s.allowedExtension(req.VoiceName)
	if err != nil {
		return nil, fmt.Errorf("%w: reference voice: %s", ErrValidation, err)
	}
	songExt, err := s.allowedExtension(req.SongName)
	if err != nil {
		return nil, fmt.Errorf("%w: song: %s", ErrValidation, err)
	}
	if req.PitchShift < -PitchShiftLimit || req.PitchShift > PitchShiftLimit {
		return nil, fmt.Errorf("%w: pitch shift %d outside [-%d, %d]", ErrValidation, req.PitchShift, PitchShiftLimit, PitchShiftLimit)
	}
	modelID := strings.TrimSpace(req.ModelID)
	if modelID == "" {
		modelID = s.cfg.Pipeline.DefaultModel
	}

	id := uuid.NewString()
	ws := orchestrator.NewWorkspace(s.cfg.Paths.AssetRoot, id)
	if err := os.MkdirAll(ws.InputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create input dir: %w", err)
	}

	voicePath := filepath.Join(ws.InputDir, "reference_voice"+voiceExt)
	songPath := filepath.Join(ws.InputDir, "song"+songExt)
	if err := saveUpload(voicePath, req.Voice); err != nil {
		_ = os.RemoveAll(ws.Root)
		return nil, err
	}
	if err := saveUpload(songPath, req.Song); err != nil {
		_ = os.RemoveAll(ws.Root)
		return nil, err
	}

	job, err := s.store.Create(ctx, jobs.NewJobParams{
		ID:         id,
		VoicePath:  voicePath,
		SongPath:   songPath,
		ModelID:    modelID,
		PitchShift: req.PitchShift,
	})
	if err != nil {
		_ = os.RemoveAll(ws.Root)
		return nil, err
	}
	return job, nil
}

// List returns jobs filtered by status.
func (s *JobService) List(ctx context.Context, statuses ...jobs.Status) ([]JobPayload, error) {
	items, err := s.store.List(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	payloads := make([]JobPayload, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, FromJob(item))
	}
	return payloads, nil
}

// Describe returns one job.
func (s *JobService) Describe(ctx context.Context, id string) (*jobs.CoverJob, error) {
	return s.store.GetByID(ctx, id)
}

// Cancel requests cancellation of a job.
func (s *JobService) Cancel(ctx context.Context, id string) (jobs.CancelOutcome, *jobs.CoverJob, error) {
	outcome, err := s.canceller.Request(ctx, id)
	if err != nil {
		return "", nil, err
	}
	job, err := s.store.GetByID(ctx, id)
	if err != nil {
		return "", nil, err
	}
	return outcome, job, nil
}

// ResultPath resolves the deliverable for a job. Jobs that have not
// succeeded yet report ErrNotReady; swept or missing artifacts report
// ErrGone.
func (s *JobService) ResultPath(ctx context.Context, id string) (string, error) {
	job, err := s.store.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if !job.IsTerminal() || job.Status != jobs.StatusSucceeded {
		return "", fmt.Errorf("%w: job is %s", ErrNotReady, job.Status)
	}
	if job.ArtifactsSwept || job.OutputPath == "" {
		return "", fmt.Errorf("%w: retention expired", ErrGone)
	}
	if _, err := os.Stat(job.OutputPath); err != nil {
		return "", fmt.Errorf("%w: %v", ErrGone, err)
	}
	return job.OutputPath, nil
}

// Health returns aggregate job counts.
func (s *JobService) Health(ctx context.Context) (jobs.HealthSummary, error) {
	return s.store.Health(ctx)
}

func (s *JobService) allowedExtension(name string) (string, error) {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(name)))
	if ext == "" {
		return "", errors.New("file has no extension")
	}
	trimmed := strings.TrimPrefix(ext, ".")
	for _, allowed := range s.cfg.Pipeline.AllowedFormats {
		if trimmed == strings.ToLower(allowed) {
			return ext, nil
		}
	}
	return "", fmt.Errorf("format %q not allowed (accepted: %s)", trimmed, strings.Join(s.cfg.Pipeline.AllowedFormats, ", "))
}

func saveUpload(path string, src io.Reader) error {
	if src == nil {
		return fmt.Errorf("%w: missing upload body", ErrValidation)
	}
	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("stage upload: %w", err)
	}
	defer dst.Close()

	written, err := io.Copy(dst, io.LimitReader(src, maxUploadBytes+1))
	if err != nil {
		return fmt.Errorf("stage upload: %w", err)
	}
	if written == 0 {
		return fmt.Errorf("%w: empty upload", ErrValidation)
	}
	if written > maxUploadBytes {
		return fmt.Errorf("%w: upload exceeds %d bytes", ErrValidation, int64(maxUploadBytes))
	}
	return dst.Sync()
}
