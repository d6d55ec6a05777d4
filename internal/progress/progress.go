// Package progress maps pipeline stages to the coarse percentage values
// reported to clients. The mapping is fixed so that two jobs at the same
// stage always report the same number.
package progress

import "covermill/internal/jobs"

var stagePercent = map[jobs.Stage]int{
	jobs.StagePreprocess: 10,
	jobs.StageSeparate:   35,
	jobs.StageInfer:      65,
	jobs.StageMix:        85,
	jobs.StageFinalize:   100,
}

// Percent returns the progress value a job reports once the given stage
// has completed. A running job carries the percent of its last finished
// stage; the jump to 100 belongs to the succeeded transition alone.
// Unknown stages report 0.
func Percent(stage jobs.Stage) int {
	return stagePercent[stage]
}

// Terminal is the progress value of a successfully finished job.
const Terminal = 100
