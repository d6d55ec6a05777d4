package stagerunner

import (
	"errors"
	"fmt"
	"strings"
)

// Failure taxonomy for stage commands. Every error Run returns wraps
// exactly one of these sentinels so callers can classify without string
// matching.
var (
	ErrSpawn         = errors.New("spawn failure")
	ErrNonZeroExit   = errors.New("nonzero exit")
	ErrTimeout       = errors.New("stage timeout")
	ErrMissingOutput = errors.New("missing output")
	ErrCanceled      = errors.New("stage canceled")
)

// wrap builds an error that includes the stage name for diagnostics while
// tagging it with the sentinel for classification.
func wrap(marker error, stage, message string, err error) error {
	detail := buildDetail(stage, message)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(stage, message string) string {
	parts := make([]string, 0, 2)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "stage failure"
	}
	return strings.Join(parts, ": ")
}
