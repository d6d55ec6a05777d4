package jobs

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a cover job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

var allStatuses = []Status{
	StatusQueued,
	StatusRunning,
	StatusSucceeded,
	StatusFailed,
	StatusCanceled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var terminalStatuses = map[Status]struct{}{
	StatusSucceeded: {},
	StatusFailed:    {},
	StatusCanceled:  {},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status admits no further transitions.
func (s Status) IsTerminal() bool {
	_, ok := terminalStatuses[s]
	return ok
}

// Stage identifies one ordered unit of external processing within a job.
type Stage string

const (
	StagePreprocess Stage = "preprocess"
	StageSeparate   Stage = "separate"
	StageInfer      Stage = "infer"
	StageMix        Stage = "mix"
	StageFinalize   Stage = "finalize"
)

var stageOrder = []Stage{
	StagePreprocess,
	StageSeparate,
	StageInfer,
	StageMix,
	StageFinalize,
}

// StageOrder returns the fixed pipeline stage sequence.
func StageOrder() []Stage {
	cp := make([]Stage, len(stageOrder))
	copy(cp, stageOrder)
	return cp
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	for _, stage := range stageOrder {
		if stage == normalized {
			return normalized, true
		}
	}
	return "", false
}

// StageIndex returns the position of a stage in the pipeline order, or -1.
func StageIndex(stage Stage) int {
	for i, s := range stageOrder {
		if s == stage {
			return i
		}
	}
	return -1
}

// WorkerLostMessage is the error message set when a running job's worker
// stops heartbeating.
const WorkerLostMessage = "worker lost: heartbeat expired"

// CoverJob represents one voice-cover request persisted in SQLite.
type CoverJob struct {
	ID       string
	Status   Status
	Stage    Stage
	Progress int

	VoicePath  string
	SongPath   string
	ModelID    string
	PitchShift int

	OutputPath   string
	ErrorMessage string

	CancelRequested bool
	TaskHandle      string
	ArtifactsSwept  bool

	CreatedAt     time.Time
	UpdatedAt     time.Time
	ExpiresAt     *time.Time
	LastHeartbeat *time.Time
}

// IsTerminal reports whether the job has reached a terminal status.
func (j *CoverJob) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// HealthSummary describes aggregated job counts per key lifecycle states.
type HealthSummary struct {
	Total     int
	Queued    int
	Running   int
	Succeeded int
	Failed    int
	Canceled  int
}

// CancelOutcome reports how a cancellation request was handled.
type CancelOutcome string

const (
	// CancelAccepted means the flag was recorded before a terminal state.
	CancelAccepted CancelOutcome = "accepted"
	// CancelAlreadyTerminal means the job had already finished; the request
	// is a harmless no-op.
	CancelAlreadyTerminal CancelOutcome = "already_terminal"
)
