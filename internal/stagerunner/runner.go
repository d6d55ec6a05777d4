package stagerunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"covermill/internal/config"
	"covermill/internal/jobs"
	"covermill/internal/logging"
)

// Invocation carries the per-job values substituted into a stage command
// template, plus the files the command must leave behind.
type Invocation struct {
	Input          string
	Output         string
	ReferenceVoice string
	VocalOutput    string
	InstOutput     string
	ModelID        string
	PitchShift     int

	// Outputs lists the files that must exist and be non-empty after the
	// command exits successfully.
	Outputs []string
}

// Result describes a completed stage command.
type Result struct {
	Stage    jobs.Stage
	Duration time.Duration
	Stdout   string
	Stderr   string
}

// Option configures the runner.
type Option func(*Runner)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(r *Runner) {
		if exec != nil {
			r.exec = exec
		}
	}
}

// Runner executes stage commands according to the pipeline configuration.
type Runner struct {
	cfg    *config.Config
	logger *slog.Logger
	exec   Executor
}

// New constructs a stage runner.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	runner := &Runner{
		cfg:    cfg,
		logger: logger.With(logging.String(logging.FieldComponent, "stagerunner")),
		exec:   commandExecutor{},
	}
	for _, opt := range opts {
		opt(runner)
	}
	return runner, nil
}

// Run executes the configured command for a stage. The returned error, if
// any, wraps one of the package sentinels.
func (r *Runner) Run(ctx context.Context, stage jobs.Stage, inv Invocation) (Result, error) {
	name := string(stage)
	command, ok := r.cfg.StageCommandFor(name)
	if !ok {
		return Result{}, wrap(ErrSpawn, name, "no command configured", nil)
	}

	argv, err := expandTemplate(command.Template, r.templateVars(inv))
	if err != nil {
		return Result{}, wrap(ErrSpawn, name, "expand template", err)
	}

	stageCtx := logging.WithStage(ctx, name)
	logger := logging.WithContext(stageCtx, r.logger)

	runCtx := stageCtx
	if command.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(stageCtx, time.Duration(command.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	logger.Info(
		"stage command started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("command", strings.Join(argv, " ")),
		logging.Int("timeout_seconds", command.TimeoutSeconds),
	)

	started := time.Now()
	stdout, stderr, runErr := r.exec.Run(runCtx, argv, r.killGrace())
	elapsed := time.Since(started)

	result := Result{Stage: stage, Duration: elapsed, Stdout: stdout, Stderr: stderr}

	if runErr != nil {
		classified := r.classify(ctx, runCtx, name, command.TimeoutSeconds, stderr, runErr)
		logger.Error(
			"stage command failed",
			logging.String(logging.FieldEventType, "stage_failure"),
			logging.Duration("elapsed", elapsed),
			logging.String("stderr_tail", strings.TrimSpace(stderr)),
			logging.Error(classified),
		)
		return result, classified
	}

	for _, output := range inv.Outputs {
		if err := checkOutput(output); err != nil {
			missing := wrap(ErrMissingOutput, name, output, err)
			logger.Error(
				"stage command produced no usable output",
				logging.String(logging.FieldEventType, "stage_failure"),
				logging.Error(missing),
			)
			return result, missing
		}
	}

	logger.Info(
		"stage command completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("elapsed", elapsed),
	)
	return result, nil
}

// GuardDuration rejects input songs longer than the configured limit. A
// zero or negative limit disables the guard.
func (r *Runner) GuardDuration(ctx context.Context, songPath string) error {
	limit := r.cfg.Pipeline.MaxSongSeconds
	if limit <= 0 {
		return nil
	}
	seconds, err := r.ProbeDuration(ctx, songPath)
	if err != nil {
		return fmt.Errorf("probe song duration: %w", err)
	}
	if seconds > float64(limit) {
		return fmt.Errorf("song too long: %.0fs exceeds limit of %ds", seconds, limit)
	}
	return nil
}

// ProbeDuration reports a media file's duration in seconds via ffprobe.
func (r *Runner) ProbeDuration(ctx context.Context, path string) (float64, error) {
	argv := []string{
		r.cfg.FFprobeBinary(),
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	stdout, stderr, err := r.exec.Run(probeCtx, argv, r.killGrace())
	if err != nil {
		return 0, r.classify(ctx, probeCtx, "probe", 30, stderr, err)
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(stdout), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration %q: %w", strings.TrimSpace(stdout), err)
	}
	return seconds, nil
}

func (r *Runner) templateVars(inv Invocation) map[string]string {
	return map[string]string{
		"project_root":    r.cfg.Pipeline.ProjectRoot,
		"python_exec":     r.cfg.Pipeline.PythonExec,
		"uvr_model":       r.cfg.Pipeline.UVRModel,
		"input":           inv.Input,
		"output":          inv.Output,
		"reference_voice": inv.ReferenceVoice,
		"vocal_output":    inv.VocalOutput,
		"inst_output":     inv.InstOutput,
		"model_id":        inv.ModelID,
		"pitch_shift":     strconv.Itoa(inv.PitchShift),
	}
}

func (r *Runner) killGrace() time.Duration {
	if r.cfg.Pipeline.KillGraceSeconds <= 0 {
		return 0
	}
	return time.Duration(r.cfg.Pipeline.KillGraceSeconds) * time.Second
}

// classify maps an execution error to the package taxonomy. jobCtx is the
// caller's context so cancellation wins over the per-stage deadline.
func (r *Runner) classify(jobCtx, runCtx context.Context, stage string, timeoutSeconds int, stderr string, err error) error {
	if jobCtx.Err() != nil && errors.Is(jobCtx.Err(), context.Canceled) {
		return wrap(ErrCanceled, stage, "terminated on cancellation request", nil)
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return wrap(ErrTimeout, stage, fmt.Sprintf("exceeded %ds", timeoutSeconds), nil)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		detail := fmt.Sprintf("exit code %d", exitErr.ExitCode())
		if tail := strings.TrimSpace(stderr); tail != "" {
			detail += ": " + tail
		}
		return wrap(ErrNonZeroExit, stage, detail, nil)
	}
	return wrap(ErrSpawn, stage, "start command", err)
}

func checkOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return errors.New("file is empty")
	}
	return nil
}
