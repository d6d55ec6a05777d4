package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"covermill/internal/daemon"
	"covermill/internal/logging"
	"covermill/internal/testsupport"
)

func startTestDaemon(t *testing.T) string {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithStubStages())
	d, err := daemon.New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New failed: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start failed: %v", err)
	}
	t.Cleanup(func() {
		_ = d.Close()
	})
	return d.APIAddr()
}

func writeInput(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(strings.Repeat("B", 256)), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path
}

func TestSubmitWaitAndDownload(t *testing.T) {
	addr := startTestDaemon(t)
	voice := writeInput(t, "voice.wav")
	song := writeInput(t, "song.wav")

	out, err := runCommand(t,
		"submit", "--server", addr,
		"--voice", voice, "--song", song,
		"--pitch", "-1", "--wait",
	)
	if err != nil {
		t.Fatalf("submit failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "succeeded") {
		t.Fatalf("expected success message, got: %q", out)
	}

	var jobID string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "Submitted job ") {
			jobID = strings.TrimSpace(strings.TrimPrefix(line, "Submitted job "))
		}
	}
	if jobID == "" {
		t.Fatalf("could not find job id in output: %q", out)
	}

	dest := filepath.Join(t.TempDir(), "cover.wav")
	out, err = runCommand(t, "result", jobID, "--server", addr, "--output", dest)
	if err != nil {
		t.Fatalf("result failed: %v\n%s", err, out)
	}
	info, err := os.Stat(dest)
	if err != nil {
		t.Fatalf("expected downloaded deliverable: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("downloaded deliverable is empty")
	}

	out, err = runCommand(t, "jobs", "--server", addr)
	if err != nil {
		t.Fatalf("jobs failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, jobID) {
		t.Fatalf("listing misses job: %q", out)
	}

	out, err = runCommand(t, "cancel", jobID, "--server", addr)
	if err != nil {
		t.Fatalf("cancel failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "nothing to cancel") {
		t.Fatalf("expected already-finished notice, got: %q", out)
	}
}

func TestStatusCommand(t *testing.T) {
	addr := startTestDaemon(t)

	out, err := runCommand(t, "status", "--server", addr)
	if err != nil {
		t.Fatalf("status failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Daemon running") {
		t.Fatalf("unexpected status output: %q", out)
	}
}

func TestShowUnknownJob(t *testing.T) {
	addr := startTestDaemon(t)

	if _, err := runCommand(t, "show", "missing-job", "--server", addr); err == nil {
		t.Fatal("expected error for unknown job")
	}
}
