package jobs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codebuildervaibhav/transcribrr/internal/secure"
	"github.com/codebuildervaibhav/transcribrr/internal/types"
)

// ErrorInfo is the user-facing part of a job failure
type ErrorInfo struct {
	Kind    types.ErrorKind `json:"kind"`
	Message string          `json:"message"`
}

// NewErrorInfo derives a short redacted message from err
func NewErrorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	return &ErrorInfo{Kind: types.KindOf(err), Message: secure.Redact(types.UserMessage(err))}
}

// Job is the tracked state of one background operation. All access goes
// through its methods.
type Job struct {
	mu         sync.RWMutex
	id         string
	kind       types.JobKind
	input      string
	status     types.JobStatus
	progress   int
	phase      string
	message    string
	err        error
	result     any
	forced     bool
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time
}

// Snapshot is a copy of a job's state, safe to serialize
type Snapshot struct {
	ID         string          `json:"id"`
	Kind       types.JobKind   `json:"kind"`
	Input      string          `json:"input"`
	Status     types.JobStatus `json:"status"`
	Progress   int             `json:"progress"`
	Phase      string          `json:"phase,omitempty"`
	Message    string          `json:"message,omitempty"`
	Error      *ErrorInfo      `json:"error,omitempty"`
	Result     any             `json:"result,omitempty"`
	Forced     bool            `json:"forced,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`

	// Err is the full error chain, for logs only
	Err error `json:"-"`
}

// NewJob creates a pending job with a fresh id
func NewJob(kind types.JobKind, input string) *Job {
	return &Job{
		id:        uuid.New().String(),
		kind:      kind,
		input:     input,
		status:    types.StatusPending,
		createdAt: time.Now().UTC(),
	}
}

func (j *Job) ID() string { return j.id }

func (j *Job) Kind() types.JobKind { return j.kind }

// Status returns the current lifecycle state
func (j *Job) Status() types.JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Snapshot returns a copy of the job state
func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	s := Snapshot{
		ID:        j.id,
		Kind:      j.kind,
		Input:     j.input,
		Status:    j.status,
		Progress:  j.progress,
		Phase:     j.phase,
		Message:   j.message,
		Error:     NewErrorInfo(j.err),
		Result:    j.result,
		Forced:    j.forced,
		CreatedAt: j.createdAt,
		Err:       j.err,
	}
	if !j.startedAt.IsZero() {
		t := j.startedAt
		s.StartedAt = &t
	}
	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		s.FinishedAt = &t
	}
	return s
}

// ErrInvalidTransition is returned for state changes the lifecycle forbids
var ErrInvalidTransition = errors.New("invalid job transition")

func (j *Job) transition(to types.JobStatus) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(to)
}

func (j *Job) transitionLocked(to types.JobStatus) error {
	if !isValidTransition(j.status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.status, to)
	}
	j.status = to
	now := time.Now().UTC()
	switch {
	case to == types.StatusRunning:
		j.startedAt = now
	case to.Terminal():
		j.finishedAt = now
	}
	return nil
}

// setProgress records progress while the job is active. Reports arriving
// after a terminal state are dropped.
func (j *Job) setProgress(phase string, percent int, message string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return false
	}
	if percent > 100 {
		percent = 100
	}
	if percent < types.ProgressIndeterminate {
		percent = types.ProgressIndeterminate
	}
	j.phase, j.progress, j.message = phase, percent, message
	return true
}

// finish moves the job to a terminal state with its outcome
func (j *Job) finish(to types.JobStatus, result any, err error, forced bool) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(to); err != nil {
		return err
	}
	j.result, j.err, j.forced = result, err, forced
	if to == types.StatusCompleted {
		j.progress = 100
	}
	return nil
}

// isValidTransition enforces the allowed job state machine edges.
func isValidTransition(from, to types.JobStatus) bool {
	switch from {
	case types.StatusPending:
		return to == types.StatusRunning || to == types.StatusCancelled
	case types.StatusRunning:
		return to == types.StatusCompleted || to == types.StatusFailed ||
			to == types.StatusCancelling || to == types.StatusCancelled
	case types.StatusCancelling:
		return to == types.StatusCancelled
	default:
		return false
	}
}
