package stagerunner_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"covermill/internal/jobs"
	"covermill/internal/logging"
	"covermill/internal/stagerunner"
	"covermill/internal/testsupport"
)

func TestRunCopiesInputToOutputs(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubStages())
	runner, err := stagerunner.New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	base := testsupport.BaseDir(cfg)
	input := filepath.Join(base, "song.wav")
	testsupport.WriteFile(t, input, 2048)
	vocal := filepath.Join(base, "vocal.wav")
	inst := filepath.Join(base, "instrumental.wav")

	result, err := runner.Run(context.Background(), jobs.StageSeparate, stagerunner.Invocation{
		Input:       input,
		VocalOutput: vocal,
		InstOutput:  inst,
		Outputs:     []string{vocal, inst},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Stage != jobs.StageSeparate {
		t.Fatalf("unexpected result stage: %s", result.Stage)
	}
	for _, path := range []string{vocal, inst} {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("expected output %s: %v", path, err)
		}
		if info.Size() == 0 {
			t.Fatalf("output %s is empty", path)
		}
	}
}

func TestRunClassifiesNonZeroExit(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stub := testsupport.StubScript(t, testsupport.BaseDir(cfg), "stage-fail", `#!/bin/sh
echo "model checkpoint not found" >&2
exit 3
`)
	cfg.Pipeline.Infer.Template = stub + " {input} {output}"

	runner, err := stagerunner.New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = runner.Run(context.Background(), jobs.StageInfer, stagerunner.Invocation{
		Input:  "/tmp/in.wav",
		Output: "/tmp/out.wav",
	})
	if !errors.Is(err, stagerunner.ErrNonZeroExit) {
		t.Fatalf("expected ErrNonZeroExit, got %v", err)
	}
	if got := err.Error(); !containsAll(got, "exit code 3", "model checkpoint not found") {
		t.Fatalf("error misses exit detail: %q", got)
	}
}

func TestRunClassifiesSpawnFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Pipeline.Preprocess.Template = filepath.Join(testsupport.BaseDir(cfg), "no-such-tool") + " {input} {output}"

	runner, err := stagerunner.New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = runner.Run(context.Background(), jobs.StagePreprocess, stagerunner.Invocation{
		Input:  "/tmp/in.wav",
		Output: "/tmp/out.wav",
	})
	if !errors.Is(err, stagerunner.ErrSpawn) {
		t.Fatalf("expected ErrSpawn, got %v", err)
	}
}

func TestRunClassifiesMissingOutput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stub := testsupport.StubScript(t, testsupport.BaseDir(cfg), "stage-noop", `#!/bin/sh
exit 0
`)
	cfg.Pipeline.Mix.Template = stub + " {input} {output}"

	runner, err := stagerunner.New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	missing := filepath.Join(testsupport.BaseDir(cfg), "never-written.wav")
	_, err = runner.Run(context.Background(), jobs.StageMix, stagerunner.Invocation{
		Input:   "/tmp/in.wav",
		Output:  missing,
		Outputs: []string{missing},
	})
	if !errors.Is(err, stagerunner.ErrMissingOutput) {
		t.Fatalf("expected ErrMissingOutput, got %v", err)
	}
}

func TestRunClassifiesTimeout(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stub := testsupport.StubScript(t, testsupport.BaseDir(cfg), "stage-hang", `#!/bin/sh
sleep 30
`)
	cfg.Pipeline.Finalize.Template = stub + " {input} {output}"
	cfg.Pipeline.Finalize.TimeoutSeconds = 1
	cfg.Pipeline.KillGraceSeconds = 1

	runner, err := stagerunner.New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	started := time.Now()
	_, err = runner.Run(context.Background(), jobs.StageFinalize, stagerunner.Invocation{
		Input:  "/tmp/in.wav",
		Output: "/tmp/out.wav",
	})
	if !errors.Is(err, stagerunner.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > 10*time.Second {
		t.Fatalf("timeout did not terminate the command promptly: %s", elapsed)
	}
}

func TestRunClassifiesCancellation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stub := testsupport.StubScript(t, testsupport.BaseDir(cfg), "stage-hang", `#!/bin/sh
sleep 30
`)
	cfg.Pipeline.Separate.Template = stub + " {input} {vocal_output} {inst_output}"
	cfg.Pipeline.KillGraceSeconds = 1

	runner, err := stagerunner.New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	_, err = runner.Run(ctx, jobs.StageSeparate, stagerunner.Invocation{
		Input:       "/tmp/in.wav",
		VocalOutput: "/tmp/v.wav",
		InstOutput:  "/tmp/i.wav",
	})
	if !errors.Is(err, stagerunner.ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
}

func TestGuardDurationDisabledByDefaultTestConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubStages())
	runner, err := stagerunner.New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := runner.GuardDuration(context.Background(), "/tmp/whatever.wav"); err != nil {
		t.Fatalf("guard must be disabled when limit is zero: %v", err)
	}
}

func TestGuardDurationRejectsLongSongs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Pipeline.MaxSongSeconds = 300

	runner, err := stagerunner.New(cfg, logging.NewNop(), stagerunner.WithExecutor(staticExecutor{stdout: "412.07\n"}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	err = runner.GuardDuration(context.Background(), "/tmp/song.wav")
	if err == nil {
		t.Fatal("expected guard rejection for long song")
	}
	if !containsAll(err.Error(), "song too long", "412s") {
		t.Fatalf("unexpected guard message: %q", err)
	}
}

func TestGuardDurationAcceptsShortSongs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Pipeline.MaxSongSeconds = 300

	runner, err := stagerunner.New(cfg, logging.NewNop(), stagerunner.WithExecutor(staticExecutor{stdout: "180.5\n"}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := runner.GuardDuration(context.Background(), "/tmp/song.wav"); err != nil {
		t.Fatalf("GuardDuration failed: %v", err)
	}
}

type staticExecutor struct {
	stdout string
	stderr string
	err    error
}

func (e staticExecutor) Run(_ context.Context, _ []string, _ time.Duration) (string, string, error) {
	return e.stdout, e.stderr, e.err
}

func containsAll(haystack string, needles ...string) bool {
	for _, needle := range needles {
		if !strings.Contains(haystack, needle) {
			return false
		}
	}
	return true
}
