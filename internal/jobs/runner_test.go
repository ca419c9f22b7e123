package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/transcribrr/internal/types"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) sink(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) terminals() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.Type == EventTerminal {
			out = append(out, e)
		}
	}
	return out
}

func startRunner(t *testing.T, op Operation, grace time.Duration) (*Runner, *eventLog) {
	t.Helper()
	events := &eventLog{}
	r := NewRunner(NewJob(types.KindTranscribe, "memo.mp3"), op, RunnerOptions{Grace: grace, Sink: events.sink})
	require.NoError(t, r.Start(context.Background()))
	return r, events
}

func TestRunnerCompletes(t *testing.T) {
	r, events := startRunner(t, func(ctx context.Context, token *types.CancelToken, progress types.ProgressFunc) (any, error) {
		progress("transcribing", 50, "halfway")
		return "transcript", nil
	}, time.Second)

	require.True(t, r.Wait(time.Second))
	snap := r.Job().Snapshot()
	assert.Equal(t, types.StatusCompleted, snap.Status)
	assert.Equal(t, "transcript", snap.Result)
	assert.Equal(t, 100, snap.Progress)
	assert.NotNil(t, snap.FinishedAt)
	assert.False(t, r.IsRunning())
	assert.Len(t, events.terminals(), 1)
	assert.Error(t, r.Start(context.Background()), "second start is rejected")
}

func TestRunnerFailure(t *testing.T) {
	r, _ := startRunner(t, func(ctx context.Context, token *types.CancelToken, progress types.ProgressFunc) (any, error) {
		return nil, types.NewError(types.ErrKindRemoteAPI, "Rate limit exceeded.")
	}, time.Second)

	require.True(t, r.Wait(time.Second))
	snap := r.Job().Snapshot()
	assert.Equal(t, types.StatusFailed, snap.Status)
	assert.Equal(t, types.ErrKindRemoteAPI, snap.Error.Kind)
	assert.Equal(t, "Rate limit exceeded.", snap.Error.Message)
}

func TestRunnerRecoversPanic(t *testing.T) {
	r, _ := startRunner(t, func(ctx context.Context, token *types.CancelToken, progress types.ProgressFunc) (any, error) {
		panic("nil map")
	}, time.Second)

	require.True(t, r.Wait(time.Second))
	snap := r.Job().Snapshot()
	assert.Equal(t, types.StatusFailed, snap.Status)
	assert.Equal(t, types.ErrKindEngine, snap.Error.Kind)
}

func TestRunnerCooperativeCancel(t *testing.T) {
	started := make(chan struct{})
	r, events := startRunner(t, func(ctx context.Context, token *types.CancelToken, progress types.ProgressFunc) (any, error) {
		close(started)
		<-token.Done()
		// work that ignores the token result still ends cancelled
		return "late result", nil
	}, time.Second)

	<-started
	r.Cancel()
	r.Cancel()
	require.True(t, r.Wait(time.Second))

	snap := r.Job().Snapshot()
	assert.Equal(t, types.StatusCancelled, snap.Status)
	assert.Nil(t, snap.Result)
	assert.False(t, snap.Forced)
	assert.Len(t, events.terminals(), 1)
}

func TestRunnerForcedStopAfterGrace(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})

	r, events := startRunner(t, func(ctx context.Context, token *types.CancelToken, progress types.ProgressFunc) (any, error) {
		close(started)
		<-release // ignores both token and ctx
		return nil, nil
	}, 50*time.Millisecond)

	<-started
	r.Cancel()
	assert.Equal(t, types.StatusCancelling, r.Job().Status())

	require.True(t, r.Wait(2*time.Second), "finalized within the grace bound")
	snap := r.Job().Snapshot()
	assert.Equal(t, types.StatusCancelled, snap.Status)
	assert.True(t, snap.Forced)
	assert.Len(t, events.terminals(), 1)
}

func TestRunnerHardContextCancelledOnForcedStop(t *testing.T) {
	ctxDone := make(chan struct{})
	started := make(chan struct{})
	r, _ := startRunner(t, func(ctx context.Context, token *types.CancelToken, progress types.ProgressFunc) (any, error) {
		close(started)
		time.Sleep(100 * time.Millisecond) // a local call that ignores the token
		<-ctx.Done()
		close(ctxDone)
		return nil, ctx.Err()
	}, 20*time.Millisecond)

	<-started
	r.Cancel()
	select {
	case <-ctxDone:
	case <-time.After(2 * time.Second):
		t.Fatal("hard context was not cancelled")
	}
}

func TestRunnerCancelBeforeStart(t *testing.T) {
	called := false
	r := NewRunner(NewJob(types.KindDownload, "https://youtu.be/x"), func(ctx context.Context, token *types.CancelToken, progress types.ProgressFunc) (any, error) {
		called = true
		return nil, nil
	}, RunnerOptions{})

	r.Cancel()
	require.True(t, r.Wait(time.Second))
	assert.ErrorIs(t, r.Start(context.Background()), ErrFinished)
	time.Sleep(10 * time.Millisecond)

	assert.False(t, called)
	assert.False(t, r.IsRunning())
	assert.Equal(t, types.StatusCancelled, r.Job().Status())
}

func TestRunnerCancelRacingStart(t *testing.T) {
	for i := 0; i < 50; i++ {
		events := &eventLog{}
		r := NewRunner(NewJob(types.KindTranscribe, "memo.mp3"), func(ctx context.Context, token *types.CancelToken, progress types.ProgressFunc) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}, RunnerOptions{Grace: 10 * time.Millisecond, Sink: events.sink})

		var wg sync.WaitGroup
		var startErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			startErr = r.Start(context.Background())
		}()
		go func() {
			defer wg.Done()
			r.Cancel()
		}()
		wg.Wait()

		require.True(t, r.Wait(2*time.Second))
		assert.Equal(t, types.StatusCancelled, r.Job().Status())
		assert.Len(t, events.terminals(), 1)
		if startErr == nil {
			r.mu.Lock()
			ctx := r.ctx
			r.mu.Unlock()
			assert.Error(t, ctx.Err(), "hard context is cancelled once the job is terminal")
		} else {
			assert.ErrorIs(t, startErr, ErrFinished)
		}
	}
}

func TestJobTransitions(t *testing.T) {
	job := NewJob(types.KindTranscribe, "a.wav")
	assert.ErrorIs(t, job.transition(types.StatusCompleted), ErrInvalidTransition)
	require.NoError(t, job.transition(types.StatusRunning))
	require.NoError(t, job.transition(types.StatusCancelling))
	assert.ErrorIs(t, job.transition(types.StatusCompleted), ErrInvalidTransition)
	require.NoError(t, job.finish(types.StatusCancelled, nil, errors.New("stop"), false))
	assert.False(t, job.setProgress("late", 10, "ignored"))
	assert.ErrorIs(t, job.transition(types.StatusRunning), ErrInvalidTransition)
}
