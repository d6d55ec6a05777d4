package workflow_test

import (
	"context"
	"testing"
	"time"

	"covermill/internal/cancel"
	"covermill/internal/config"
	"covermill/internal/jobs"
	"covermill/internal/logging"
	"covermill/internal/orchestrator"
	"covermill/internal/stagerunner"
	"covermill/internal/testsupport"
	"covermill/internal/workflow"
)

func newManager(t *testing.T, cfg *config.Config, store *jobs.Store) (*workflow.Manager, *cancel.Controller) {
	t.Helper()

	runner, err := stagerunner.New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("stagerunner.New failed: %v", err)
	}
	orch, err := orchestrator.New(cfg, store, runner, logging.NewNop())
	if err != nil {
		t.Fatalf("orchestrator.New failed: %v", err)
	}
	controller := cancel.NewController(store, time.Hour, logging.NewNop())
	manager, err := workflow.NewManager(cfg, store, orch, controller, logging.NewNop())
	if err != nil {
		t.Fatalf("workflow.NewManager failed: %v", err)
	}
	return manager, controller
}

func waitForStatus(t *testing.T, store *jobs.Store, jobID string, want jobs.Status) *jobs.CoverJob {
	t.Helper()

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetByID(context.Background(), jobID)
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if job.Status == want {
			return job
		}
		if job.Status.IsTerminal() {
			t.Fatalf("job reached %s (%s), want %s", job.Status, job.ErrorMessage, want)
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %s", want)
	return nil
}

func TestManagerProcessesQueuedJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubStages(), testsupport.WithWorkers(2))
	store := testsupport.MustOpenStore(t, cfg)
	manager, _ := newManager(t, cfg, store)

	first := testsupport.NewJob(t, cfg, store)
	second := testsupport.NewJob(t, cfg, store)

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer manager.Stop()

	done := waitForStatus(t, store, first.ID, jobs.StatusSucceeded)
	if done.OutputPath == "" {
		t.Fatal("expected output path on succeeded job")
	}
	waitForStatus(t, store, second.ID, jobs.StatusSucceeded)
}

func TestManagerStartIsOneShot(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubStages())
	store := testsupport.MustOpenStore(t, cfg)
	manager, _ := newManager(t, cfg, store)

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer manager.Stop()

	if err := manager.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}
}

func TestManagerCancelsRunningJob(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubStages())
	stub := testsupport.StubScript(t, testsupport.BaseDir(cfg), "stage-hang", `#!/bin/sh
sleep 30
`)
	cfg.Pipeline.Infer.Template = stub + " {input} {output}"
	cfg.Pipeline.KillGraceSeconds = 1

	store := testsupport.MustOpenStore(t, cfg)
	manager, controller := newManager(t, cfg, store)

	job := testsupport.NewJob(t, cfg, store)

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer manager.Stop()

	waitForStatus(t, store, job.ID, jobs.StatusRunning)

	outcome, err := controller.Request(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("cancel request failed: %v", err)
	}
	if outcome != jobs.CancelAccepted {
		t.Fatalf("expected accepted, got %s", outcome)
	}

	deadline := time.Now().Add(15 * time.Second)
	for {
		final, err := store.GetByID(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if final.Status == jobs.StatusCanceled {
			break
		}
		if final.Status.IsTerminal() {
			t.Fatalf("expected canceled, got %s (%s)", final.Status, final.ErrorMessage)
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never resolved canceled, still %s", final.Status)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestManagerStopLeavesInFlightJobRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubStages())
	stub := testsupport.StubScript(t, testsupport.BaseDir(cfg), "stage-hang", `#!/bin/sh
sleep 30
`)
	cfg.Pipeline.Separate.Template = stub + " {input} {vocal_output} {inst_output}"
	cfg.Pipeline.KillGraceSeconds = 1

	store := testsupport.MustOpenStore(t, cfg)
	manager, _ := newManager(t, cfg, store)

	job := testsupport.NewJob(t, cfg, store)

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForStatus(t, store, job.ID, jobs.StatusRunning)

	manager.Stop()

	// A shutdown is not a user cancellation. The job stays running with
	// the flag unset until the reclaim path finalizes it.
	interrupted, err := store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if interrupted.Status != jobs.StatusRunning {
		t.Fatalf("expected running after shutdown, got %s (%s)", interrupted.Status, interrupted.ErrorMessage)
	}
	if interrupted.CancelRequested {
		t.Fatal("shutdown must not set the cancel flag")
	}
}

func TestManagerWritesHeartbeats(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubStages())
	stub := testsupport.StubScript(t, testsupport.BaseDir(cfg), "stage-slow", `#!/bin/sh
sleep 3
cp "$1" "$2"
`)
	cfg.Pipeline.Preprocess.Template = stub + " {input} {output}"

	store := testsupport.MustOpenStore(t, cfg)
	manager, _ := newManager(t, cfg, store)

	job := testsupport.NewJob(t, cfg, store)

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer manager.Stop()

	running := waitForStatus(t, store, job.ID, jobs.StatusRunning)
	initial := running.LastHeartbeat
	if initial == nil {
		t.Fatal("expected heartbeat on claim")
	}

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		current, err := store.GetByID(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if current.Status.IsTerminal() {
			// Completed before a refresh was observed; the claim heartbeat
			// plus fast stub stages make that acceptable.
			return
		}
		if current.LastHeartbeat != nil && current.LastHeartbeat.After(*initial) {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("heartbeat never advanced")
}
