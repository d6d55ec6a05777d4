package stagerunner

import (
	"context"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"
)

// outputTailBytes bounds how much stage command output is retained per
// stream. External tools can log megabytes; only the tail is useful in an
// error message.
const outputTailBytes = 800

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, argv []string, killGrace time.Duration) (stdout, stderr string, err error)
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, argv []string, killGrace time.Duration) (string, string, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec
	// Ask the tool to exit cleanly first; WaitDelay escalates to SIGKILL
	// when it ignores the request.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(unix.SIGTERM)
	}
	if killGrace > 0 {
		cmd.WaitDelay = killGrace
	}

	var stdout, stderr tailBuffer
	stdout.limit = outputTailBytes
	stderr.limit = outputTailBytes
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	data  []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	if len(b.data) > b.limit {
		b.data = b.data[len(b.data)-b.limit:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return string(b.data)
}
