// Package orchestrator drives a claimed job through the pipeline stages
// and commits exactly one terminal outcome per job.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"covermill/internal/config"
	"covermill/internal/jobs"
	"covermill/internal/logging"
	"covermill/internal/progress"
	"covermill/internal/stagerunner"
)

// StageRunner is the execution contract the orchestrator depends on.
type StageRunner interface {
	Run(ctx context.Context, stage jobs.Stage, inv stagerunner.Invocation) (stagerunner.Result, error)
	GuardDuration(ctx context.Context, songPath string) error
}

// Orchestrator executes jobs that a worker has already claimed.
type Orchestrator struct {
	cfg    *config.Config
	store  *jobs.Store
	runner StageRunner
	logger *slog.Logger
}

// New constructs an orchestrator.
func New(cfg *config.Config, store *jobs.Store, runner StageRunner, logger *slog.Logger) (*Orchestrator, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	if store == nil {
		return nil, errors.New("store required")
	}
	if runner == nil {
		return nil, errors.New("stage runner required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		cfg:    cfg,
		store:  store,
		runner: runner,
		logger: logger.With(logging.String(logging.FieldComponent, "orchestrator")),
	}, nil
}

// Process runs one claimed job. The passed context is canceled both by
// the cancellation controller and on worker shutdown; interrupts resolve
// through the persisted flag, so only a user request yields the canceled
// outcome and a shutdown leaves the job running for reclamation.
func (o *Orchestrator) Process(ctx context.Context, job *jobs.CoverJob) error {
	jobCtx := logging.WithJobID(ctx, job.ID)
	logger := logging.WithContext(jobCtx, o.logger)

	logger.Info(
		"job started",
		logging.String(logging.FieldEventType, "job_start"),
		logging.String("model_id", job.ModelID),
		logging.Int("pitch_shift", job.PitchShift),
	)

	if job.CancelRequested {
		return o.finishCanceled(jobCtx, logger, job.ID)
	}

	ws := NewWorkspace(o.cfg.Paths.AssetRoot, job.ID)
	if err := ws.Ensure(); err != nil {
		return o.finishFailed(jobCtx, logger, job.ID, fmt.Sprintf("prepare workspace: %v", err))
	}

	if err := o.runner.GuardDuration(jobCtx, job.SongPath); err != nil {
		if errors.Is(jobCtx.Err(), context.Canceled) {
			return o.resolveInterrupt(jobCtx, logger, job.ID)
		}
		return o.finishFailed(jobCtx, logger, job.ID, err.Error())
	}

	// A stage advance records the percentage of the work completed so far,
	// so progress hits 100 only through FinishSucceeded.
	completed := 0
	for _, stage := range jobs.StageOrder() {
		if errors.Is(jobCtx.Err(), context.Canceled) {
			return o.resolveInterrupt(jobCtx, logger, job.ID)
		}
		canceled, err := o.cancelPending(jobCtx, job.ID)
		if err != nil {
			return err
		}
		if canceled {
			return o.finishCanceled(jobCtx, logger, job.ID)
		}

		if err := o.store.SetStageProgress(jobCtx, job.ID, stage, completed); err != nil {
			if errors.Is(err, context.Canceled) {
				return o.resolveInterrupt(jobCtx, logger, job.ID)
			}
			// Another writer moved the job out of running, most likely a
			// cancellation finalized while this worker was between stages.
			if errors.Is(err, jobs.ErrConflict) || errors.Is(err, jobs.ErrNotFound) {
				logger.Info("job left running state mid-pipeline", logging.Error(err))
				return nil
			}
			return err
		}

		if _, err := o.runner.Run(jobCtx, stage, o.invocationFor(stage, job, ws)); err != nil {
			if errors.Is(err, stagerunner.ErrCanceled) {
				return o.resolveInterrupt(jobCtx, logger, job.ID)
			}
			return o.finishFailed(jobCtx, logger, job.ID, failureMessage(err))
		}
		completed = progress.Percent(stage)
	}

	return o.finishSucceeded(jobCtx, logger, job.ID, ws.Final())
}

func (o *Orchestrator) invocationFor(stage jobs.Stage, job *jobs.CoverJob, ws Workspace) stagerunner.Invocation {
	modelID := job.ModelID
	if modelID == "" {
		modelID = o.cfg.Pipeline.DefaultModel
	}
	switch stage {
	case jobs.StagePreprocess:
		return stagerunner.Invocation{
			Input:   job.SongPath,
			Output:  ws.Preprocessed(),
			Outputs: []string{ws.Preprocessed()},
		}
	case jobs.StageSeparate:
		return stagerunner.Invocation{
			Input:       ws.Preprocessed(),
			VocalOutput: ws.Vocal(),
			InstOutput:  ws.Instrumental(),
			Outputs:     []string{ws.Vocal(), ws.Instrumental()},
		}
	case jobs.StageInfer:
		return stagerunner.Invocation{
			Input:          ws.Vocal(),
			Output:         ws.ConvertedVocal(),
			ReferenceVoice: job.VoicePath,
			ModelID:        modelID,
			PitchShift:     job.PitchShift,
			Outputs:        []string{ws.ConvertedVocal()},
		}
	case jobs.StageMix:
		return stagerunner.Invocation{
			Input:      ws.ConvertedVocal(),
			InstOutput: ws.Instrumental(),
			Output:     ws.Mix(),
			Outputs:    []string{ws.Mix()},
		}
	default:
		return stagerunner.Invocation{
			Input:   ws.Mix(),
			Output:  ws.Final(),
			Outputs: []string{ws.Final()},
		}
	}
}

// cancelPending re-reads the persistent flag between stages so requests
// that raced past the in-process interrupt still take effect promptly.
func (o *Orchestrator) cancelPending(ctx context.Context, jobID string) (bool, error) {
	job, err := o.store.GetByID(ctx, jobID)
	if err != nil {
		return false, err
	}
	return job.CancelRequested, nil
}

// resolveInterrupt decides the outcome after the job context was canceled.
// The persisted flag is authoritative: only a user request resolves to
// canceled. A worker shutdown leaves the job running so the heartbeat
// reclaim path finalizes it once its liveness window lapses.
func (o *Orchestrator) resolveInterrupt(ctx context.Context, logger *slog.Logger, jobID string) error {
	job, err := o.store.GetByID(detachedContext(ctx), jobID)
	if err != nil {
		return err
	}
	if job.CancelRequested {
		return o.finishCanceled(ctx, logger, jobID)
	}
	if job.IsTerminal() {
		return nil
	}
	logger.Info(
		"worker interrupted, job left for reclaim",
		logging.String(logging.FieldEventType, "job_interrupted"),
	)
	return context.Canceled
}

func (o *Orchestrator) finishSucceeded(ctx context.Context, logger *slog.Logger, jobID, outputPath string) error {
	err := o.store.FinishSucceeded(detachedContext(ctx), jobID, outputPath, o.expiry())
	if errors.Is(err, jobs.ErrConflict) {
		return o.retryTerminal(ctx, logger, jobID, err)
	}
	if err != nil {
		return err
	}
	logger.Info(
		"job succeeded",
		logging.String(logging.FieldEventType, "job_succeeded"),
		logging.String("output", outputPath),
	)
	return nil
}

func (o *Orchestrator) finishFailed(ctx context.Context, logger *slog.Logger, jobID, message string) error {
	err := o.store.FinishFailed(detachedContext(ctx), jobID, message, o.expiry())
	if errors.Is(err, jobs.ErrConflict) {
		return o.retryTerminal(ctx, logger, jobID, err)
	}
	if err != nil {
		return err
	}
	logger.Error(
		"job failed",
		logging.String(logging.FieldEventType, "job_failed"),
		logging.String("error_message", message),
	)
	return nil
}

func (o *Orchestrator) finishCanceled(ctx context.Context, logger *slog.Logger, jobID string) error {
	err := o.store.FinishCanceled(detachedContext(ctx), jobID, o.expiry())
	if errors.Is(err, jobs.ErrConflict) {
		// Another writer committed a terminal state first; that write wins.
		logger.Info("cancel resolution lost to earlier terminal write", logging.Error(err))
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("job canceled", logging.String(logging.FieldEventType, "job_canceled"))
	return nil
}

// retryTerminal handles the single allowed retry after a terminal-write
// conflict: when a cancellation was requested the job resolves canceled,
// otherwise the earlier terminal write stands.
func (o *Orchestrator) retryTerminal(ctx context.Context, logger *slog.Logger, jobID string, conflict error) error {
	job, err := o.store.GetByID(detachedContext(ctx), jobID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		logger.Info("terminal write lost to earlier writer", logging.Error(conflict))
		return nil
	}
	if job.CancelRequested {
		return o.finishCanceled(ctx, logger, jobID)
	}
	return conflict
}

func (o *Orchestrator) expiry() time.Time {
	return time.Now().Add(time.Duration(o.cfg.Retention.ResultTTLHours) * time.Hour)
}

// detachedContext keeps the log fields of ctx but drops its cancellation,
// so terminal writes still land after a cancel interrupt.
func detachedContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func failureMessage(err error) string {
	if err == nil {
		return "stage failed"
	}
	message := strings.TrimSpace(err.Error())
	if message == "" {
		return "stage failed"
	}
	return message
}
