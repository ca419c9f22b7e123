package controller

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/codebuildervaibhav/transcribrr/internal/config"
	"github.com/codebuildervaibhav/transcribrr/internal/jobs"
	"github.com/codebuildervaibhav/transcribrr/internal/storage"
	"github.com/codebuildervaibhav/transcribrr/internal/types"
)

// Transcriber turns one media file into a transcript
type Transcriber interface {
	Transcribe(ctx context.Context, input string, rc types.RequestContext, token *types.CancelToken, progress types.ProgressFunc) (*types.TranscriptResult, error)
}

// Processor runs a prompt over a transcript
type Processor interface {
	Process(ctx context.Context, prompt, transcript string) (string, error)
}

// Fetcher downloads a remote source to a local file
type Fetcher interface {
	Download(ctx context.Context, url string, token *types.CancelToken, progress types.ProgressFunc) (string, error)
}

// Transcoder converts a media file to mp3
type Transcoder interface {
	Transcode(ctx context.Context, path, outDir string) (string, error)
}

// Persister is the persistence gateway
type Persister interface {
	Submit(op storage.Op, cb storage.Callback) (string, error)
	Do(ctx context.Context, op storage.Op) (storage.Result, error)
}

// Options wires the controller. Settings is read once per started job.
type Options struct {
	Engine     Transcriber
	LLM        Processor
	Downloader Fetcher
	Transcoder Transcoder
	Exporters  []storage.ExportTarget
	Gateway    Persister
	Registry   *jobs.Registry
	Bus        *jobs.EventBus
	Settings   func() config.Config
	Grace      time.Duration
}

// Controller starts background jobs, tracks them and persists their
// results. Every public method returns without waiting for a job.
type Controller struct {
	opts Options

	mu      sync.Mutex
	runners map[string]*jobs.Runner
	order   []string
	handled map[string]struct{}
	closing bool

	// counts jobs whose terminal handling has not run yet
	pending sync.WaitGroup
}

// New creates a controller
func New(opts Options) *Controller {
	if opts.Registry == nil {
		opts.Registry = jobs.NewRegistry()
	}
	if opts.Bus == nil {
		opts.Bus = jobs.NewEventBus(500)
	}
	return &Controller{
		opts:    opts,
		runners: make(map[string]*jobs.Runner),
		handled: make(map[string]struct{}),
	}
}

// Bus returns the notification bus
func (c *Controller) Bus() *jobs.EventBus { return c.opts.Bus }

// spawn registers and starts a runner for op
func (c *Controller) spawn(kind types.JobKind, input string, op jobs.Operation) (string, error) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return "", types.Validationf("The application is shutting down.")
	}
	r := jobs.NewRunner(jobs.NewJob(kind, input), op, jobs.RunnerOptions{
		Grace: c.opts.Grace,
		Sink:  c.onEvent,
	})
	c.runners[r.ID()] = r
	c.order = append(c.order, r.ID())
	c.pending.Add(1)
	c.mu.Unlock()

	c.opts.Registry.Register(r, r)
	if err := r.Start(context.Background()); err != nil {
		if errors.Is(err, jobs.ErrFinished) {
			// cancelled through the registry before it got going
			return r.ID(), nil
		}
		return "", err
	}
	log.Printf("Job %s started (%s: %s)", r.ID(), kind, input)
	return r.ID(), nil
}

func (c *Controller) onEvent(ev jobs.Event) {
	switch ev.Type {
	case jobs.EventStatus:
		n := jobs.Notification{
			Type:    jobs.NotifyStatus,
			JobID:   ev.Job.ID,
			Kind:    ev.Job.Kind,
			Status:  ev.Job.Status,
			Phase:   ev.Job.Phase,
			Message: ev.Job.Message,
		}
		if ev.Job.Status == types.StatusCancelling {
			n.Phase, n.Message = string(types.StatusCancelling), "Cancelling..."
		}
		if ev.Job.Progress != types.ProgressIndeterminate {
			p := ev.Job.Progress
			n.Progress = &p
		}
		c.opts.Bus.Publish(n)
	case jobs.EventTerminal:
		c.handleTerminal(ev.Job)
	}
}

// handleTerminal publishes the outcome of a job and issues its single
// persistence write. Repeated calls for the same job are ignored.
func (c *Controller) handleTerminal(snap jobs.Snapshot) {
	c.mu.Lock()
	if _, done := c.handled[snap.ID]; done {
		c.mu.Unlock()
		return
	}
	c.handled[snap.ID] = struct{}{}
	_, tracked := c.runners[snap.ID]
	c.mu.Unlock()
	if tracked {
		defer c.pending.Done()
	}

	n := jobs.Notification{Type: jobs.NotifyTerminal, JobID: snap.ID, Kind: snap.Kind, Status: snap.Status}
	switch snap.Status {
	case types.StatusCompleted:
		n.Outcome, n.Result = jobs.OutcomeCompleted, snap.Result
		log.Printf("Job %s completed", snap.ID)
	case types.StatusCancelled:
		n.Outcome, n.Error = jobs.OutcomeCancelled, jobs.NewErrorInfo(snap.Err)
		log.Printf("Job %s cancelled (forced: %v)", snap.ID, snap.Forced)
	default:
		n.Outcome, n.Error = jobs.OutcomeFailed, jobs.NewErrorInfo(snap.Err)
		log.Printf("Job %s failed: %v", snap.ID, snap.Err)
	}
	c.opts.Bus.Publish(n)

	if snap.Status != types.StatusCompleted {
		return
	}
	if op, ok := persistOp(snap); ok {
		c.persist(snap, op)
	}
}

// persistOp maps a completed job to its write, if it has one
func persistOp(snap jobs.Snapshot) (storage.Op, bool) {
	switch res := snap.Result.(type) {
	case *TranscriptionResult:
		if res.RecordingID > 0 {
			text, duration := res.Transcript.Text, res.Transcript.Duration
			return storage.Op{
				Kind:   storage.OpUpdate,
				Entity: storage.EntityRecording,
				Payload: storage.UpdatePayload{ID: res.RecordingID, Fields: storage.RecordingUpdate{
					RawTranscript: &text,
					Duration:      &duration,
				}},
			}, true
		}
		return storage.Op{
			Kind:   storage.OpCreate,
			Entity: storage.EntityRecording,
			Payload: types.Recording{
				Name:          res.Name,
				FilePath:      res.Path,
				Duration:      res.Transcript.Duration,
				RawTranscript: res.Transcript.Text,
			},
		}, true
	case *ProcessResult:
		text := res.Text
		return storage.Op{
			Kind:    storage.OpUpdate,
			Entity:  storage.EntityRecording,
			Payload: storage.UpdatePayload{ID: res.RecordingID, Fields: storage.RecordingUpdate{ProcessedText: &text}},
		}, true
	}
	return storage.Op{}, false
}

func (c *Controller) persist(snap jobs.Snapshot, op storage.Op) {
	report := func(res storage.Result) {
		n := jobs.Notification{Type: jobs.NotifyPersistence, JobID: snap.ID, Kind: snap.Kind}
		if res.OK {
			n.Outcome, n.Result = jobs.OutcomeCompleted, res.Data
		} else {
			n.Outcome, n.Error = jobs.OutcomeFailed, jobs.NewErrorInfo(res.Err)
			log.Printf("WARNING: could not save result of job %s: %v", snap.ID, res.Err)
		}
		c.opts.Bus.Publish(n)
	}

	if _, err := c.opts.Gateway.Submit(op, report); err != nil {
		report(storage.Result{Err: err})
	}
}

// Cancel asks a job to stop. Cancelling a finished job is a no-op.
func (c *Controller) Cancel(jobID string) error {
	c.mu.Lock()
	r, ok := c.runners[jobID]
	c.mu.Unlock()
	if !ok {
		return types.NewError(types.ErrKindInputNotFound, "Job not found.")
	}
	r.Cancel()
	return nil
}

// Jobs returns snapshots of all known jobs, oldest first
func (c *Controller) Jobs() []jobs.Snapshot {
	c.mu.Lock()
	runners := make([]*jobs.Runner, 0, len(c.order))
	for _, id := range c.order {
		runners = append(runners, c.runners[id])
	}
	c.mu.Unlock()

	out := make([]jobs.Snapshot, 0, len(runners))
	for _, r := range runners {
		out = append(out, r.Job().Snapshot())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Job returns one job snapshot
func (c *Controller) Job(id string) (jobs.Snapshot, bool) {
	c.mu.Lock()
	r, ok := c.runners[id]
	c.mu.Unlock()
	if !ok {
		return jobs.Snapshot{}, false
	}
	return r.Job().Snapshot(), true
}

// Shutdown stops intake, cancels every running job and waits for them and
// for their result writes to be queued. The gateway is closed by the caller.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()

	n := c.opts.Registry.CancelAll()
	if n > 0 {
		log.Printf("Cancelling %d running job(s)", n)
	}

	timeout := 30 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !c.opts.Registry.WaitAll(timeout) {
		log.Printf("WARNING: some jobs did not stop before shutdown")
	}

	done := make(chan struct{})
	go func() {
		c.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
