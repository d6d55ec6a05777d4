package jobs

import "errors"

// ErrNotFound indicates the requested job does not exist.
var ErrNotFound = errors.New("job not found")

// ErrConflict indicates an optimistic write found the job in a different
// state than expected. Callers re-read the job and re-evaluate; this is the
// benign race between a stage transition and a concurrent cancellation.
var ErrConflict = errors.New("job state conflict")
