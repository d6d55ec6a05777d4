package progress_test

import (
	"testing"

	"covermill/internal/jobs"
	"covermill/internal/progress"
)

func TestPercentIsMonotonicOverStageOrder(t *testing.T) {
	last := 0
	for _, stage := range jobs.StageOrder() {
		pct := progress.Percent(stage)
		if pct <= last {
			t.Fatalf("stage %s percent %d does not advance past %d", stage, pct, last)
		}
		last = pct
	}
	if last != progress.Terminal {
		t.Fatalf("final stage must map to %d, got %d", progress.Terminal, last)
	}
}

func TestPercentUnknownStage(t *testing.T) {
	if pct := progress.Percent(jobs.Stage("remaster")); pct != 0 {
		t.Fatalf("unknown stage must report 0, got %d", pct)
	}
}
