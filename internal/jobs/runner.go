package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codebuildervaibhav/transcribrr/internal/types"
)

// DefaultGrace is how long a cancelled operation may keep running before
// the runner stops waiting for it.
const DefaultGrace = 10 * time.Second

// ErrFinished is returned by Start when the job reached a terminal state
// before it was started.
var ErrFinished = errors.New("job already finished")

// Operation is the work a Runner executes. ctx is cancelled only on a forced
// stop; token carries cooperative cancellation.
type Operation func(ctx context.Context, token *types.CancelToken, progress types.ProgressFunc) (any, error)

// EventType classifies runner events
type EventType string

const (
	EventStatus   EventType = "status"
	EventTerminal EventType = "terminal"
)

// Event is a state change of one job
type Event struct {
	Type EventType
	Job  Snapshot
}

// EventSink receives runner events. It is called from runner goroutines and
// must not block for long.
type EventSink func(Event)

// RunnerOptions configures a Runner
type RunnerOptions struct {
	Grace time.Duration
	Sink  EventSink
}

// Runner executes one Job on its own goroutine.
type Runner struct {
	job   *Job
	op    Operation
	token *types.CancelToken
	grace time.Duration
	sink  EventSink

	mu         sync.Mutex // guards ctx and hardCancel
	ctx        context.Context
	hardCancel context.CancelFunc

	started    atomic.Bool
	startOnce  sync.Once
	cancelOnce sync.Once
	finishOnce sync.Once
	done       chan struct{}
}

// NewRunner prepares job to run op
func NewRunner(job *Job, op Operation, opts RunnerOptions) *Runner {
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.Sink == nil {
		opts.Sink = func(Event) {}
	}
	return &Runner{
		job:   job,
		op:    op,
		token: types.NewCancelToken(),
		grace: opts.Grace,
		sink:  opts.Sink,
		done:  make(chan struct{}),
	}
}

func (r *Runner) ID() string { return r.job.ID() }

func (r *Runner) Job() *Job { return r.job }

// Start spawns the job goroutine. parent bounds the hard context.
func (r *Runner) Start(parent context.Context) error {
	err := fmt.Errorf("job %s already started", r.job.ID())
	r.startOnce.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		select {
		case <-r.done:
			err = fmt.Errorf("job %s: %w", r.job.ID(), ErrFinished)
			return
		default:
		}
		err = nil
		r.ctx, r.hardCancel = context.WithCancel(parent)
		r.started.Store(true)
		go r.run()
	})
	return err
}

func (r *Runner) run() {
	var (
		result any
		err    error
	)
	defer func() {
		if p := recover(); p != nil {
			log.Printf("PANIC in job %s: %v\n%s", r.job.ID(), p, debug.Stack())
			result, err = nil, types.NewError(types.ErrKindEngine, "An unexpected error occurred while processing.")
		}
		r.finish(result, err, false)
	}()

	if r.token.Cancelled() {
		err = types.Cancelled("Cancelled before start.")
		return
	}
	if terr := r.job.transition(types.StatusRunning); terr != nil {
		// cancelled between the check above and here
		err = types.Cancelled("Cancelled before start.")
		return
	}
	r.emit(EventStatus)

	result, err = r.op(r.ctx, r.token, r.progress)
}

func (r *Runner) progress(phase string, percent int, message string) {
	if r.job.setProgress(phase, percent, message) {
		r.emit(EventStatus)
	}
}

// finish records the outcome exactly once. A cancel request always wins.
func (r *Runner) finish(result any, err error, forced bool) {
	r.finishOnce.Do(func() {
		status := types.StatusCompleted
		switch {
		case forced || r.token.Cancelled() || types.IsCancelled(err):
			status = types.StatusCancelled
			result = nil
			if !types.IsCancelled(err) {
				err = types.Cancelled("")
			}
		case err != nil:
			status = types.StatusFailed
		}

		if ferr := r.job.finish(status, result, err, forced); ferr != nil {
			log.Printf("WARNING: job %s: %v", r.job.ID(), ferr)
		}
		r.mu.Lock()
		if r.hardCancel != nil {
			r.hardCancel()
		}
		close(r.done)
		r.mu.Unlock()
		r.emit(EventTerminal)
	})
}

// Cancel requests cooperative cancellation. If the operation has not
// returned within the grace period the job is finalized as cancelled anyway.
func (r *Runner) Cancel() {
	r.cancelOnce.Do(func() {
		r.token.Cancel()

		if !r.started.Load() {
			r.finish(nil, types.Cancelled("Cancelled before start."), false)
			return
		}
		if err := r.job.transition(types.StatusCancelling); err == nil {
			r.emit(EventStatus)
		}

		go func() {
			timer := time.NewTimer(r.grace)
			defer timer.Stop()
			select {
			case <-r.done:
			case <-timer.C:
				log.Printf("WARNING: job %s did not stop within %s of cancel; forcing stop, its work is abandoned", r.job.ID(), r.grace)
				r.finish(nil, types.Cancelled("The job was forcibly stopped."), true)
			}
		}()
	})
}

// IsRunning reports whether the job goroutine has started and not finished
func (r *Runner) IsRunning() bool {
	if !r.started.Load() {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the job is terminal or timeout passes
func (r *Runner) Wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-r.done:
		return true
	case <-timer.C:
		return false
	}
}

// Done is closed when the job reaches a terminal state
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

func (r *Runner) emit(t EventType) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("WARNING: event sink panicked for job %s: %v", r.job.ID(), p)
		}
	}()
	r.sink(Event{Type: t, Job: r.job.Snapshot()})
}
