package controller

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/transcribrr/internal/capability"
	"github.com/codebuildervaibhav/transcribrr/internal/config"
	"github.com/codebuildervaibhav/transcribrr/internal/jobs"
	"github.com/codebuildervaibhav/transcribrr/internal/storage"
	"github.com/codebuildervaibhav/transcribrr/internal/transcription"
	"github.com/codebuildervaibhav/transcribrr/internal/types"
)

type stubMedia struct{ duration float64 }

func (m stubMedia) Probe(context.Context, string) (float64, error) { return m.duration, nil }

func (m stubMedia) Silences(context.Context, string, transcription.SilenceConfig) ([]transcription.Span, error) {
	return nil, nil
}

func (m stubMedia) Extract(_ context.Context, _ string, _ transcription.Span, out string) error {
	return os.WriteFile(out, []byte("wav"), 0644)
}

type stubBackend struct {
	name    string
	mu      sync.Mutex
	calls   int
	respond func(call int) (*types.TranscriptResult, error)
}

func (b *stubBackend) Name() string { return b.name }

func (b *stubBackend) Transcribe(ctx context.Context, req transcription.Request) (*types.TranscriptResult, error) {
	b.mu.Lock()
	b.calls++
	n := b.calls
	b.mu.Unlock()
	return b.respond(n)
}

type stubCaps struct{ caps capability.Capabilities }

func (s stubCaps) Resolve(context.Context) capability.Capabilities { return s.caps }

// countingGateway records every write submitted to the real gateway.
// When failWrites is set writes are rejected with it instead.
type countingGateway struct {
	*storage.Gateway
	mu         sync.Mutex
	writes     []storage.OpKind
	failWrites error
}

func (g *countingGateway) Submit(op storage.Op, cb storage.Callback) (string, error) {
	if op.Kind != storage.OpQuery {
		g.mu.Lock()
		g.writes = append(g.writes, op.Kind)
		fail := g.failWrites
		g.mu.Unlock()
		if fail != nil {
			id := "failed-" + string(op.Kind)
			go cb(storage.Result{OpID: id, Err: fail})
			return id, nil
		}
	}
	return g.Gateway.Submit(op, cb)
}

func (g *countingGateway) writeKinds() []storage.OpKind {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]storage.OpKind(nil), g.writes...)
}

func (g *countingGateway) writeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.writes)
}

type fixture struct {
	c      *Controller
	gw     *countingGateway
	events <-chan jobs.Notification
	dir    string
}

type fixtureOptions struct {
	duration  float64
	local     *stubBackend
	remote    *stubBackend
	llm       Processor
	exporters []storage.ExportTarget
	configure func(*config.Config)
}

func newFixture(t *testing.T, fo fixtureOptions) *fixture {
	t.Helper()
	dir := t.TempDir()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Transcription.SpeakerDetection = false
	cfg.Transcription.Device = "cpu"
	if fo.configure != nil {
		fo.configure(cfg)
	}

	store, err := storage.OpenRecordingStore(filepath.Join(dir, "database.sqlite"))
	require.NoError(t, err)
	gw := &countingGateway{Gateway: storage.NewGateway(store)}
	t.Cleanup(func() { gw.Close(context.Background()) })

	eo := transcription.EngineOptions{
		Media:       stubMedia{duration: fo.duration},
		TempDir:     dir,
		Credentials: func() config.Credentials { return config.Credentials{} },
		Capabilities: stubCaps{capability.Capabilities{
			HasFFmpeg:         true,
			HasLocalEngine:    fo.local != nil,
			HasAPICredentials: fo.remote != nil,
		}},
	}
	if fo.local != nil {
		eo.Local = fo.local
	}
	if fo.remote != nil {
		eo.Remote = fo.remote
	}

	bus := jobs.NewEventBus(1000)
	events, unsubscribe := bus.Subscribe(1000)
	t.Cleanup(unsubscribe)

	c := New(Options{
		Engine:    transcription.NewEngine(eo),
		LLM:       fo.llm,
		Exporters: fo.exporters,
		Gateway:   gw,
		Bus:       bus,
		Settings:  func() config.Config { return *cfg },
		Grace:     time.Second,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.Shutdown(ctx)
	})

	return &fixture{c: c, gw: gw, events: events, dir: dir}
}

func (f *fixture) mediaFile(t *testing.T, name string, size int) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("a", size)), 0644))
	return path
}

// waitFor returns the first notification for jobID of the given type,
// collecting everything seen before it.
func (f *fixture) waitFor(t *testing.T, jobID string, typ jobs.NotificationType) (jobs.Notification, []jobs.Notification) {
	t.Helper()
	var seen []jobs.Notification
	timeout := time.After(5 * time.Second)
	for {
		select {
		case n := <-f.events:
			if n.JobID != jobID {
				continue
			}
			seen = append(seen, n)
			if n.Type == typ {
				return n, seen
			}
		case <-timeout:
			t.Fatalf("no %s notification for job %s", typ, jobID)
		}
	}
}

func (f *fixture) recordings(t *testing.T) []types.Recording {
	t.Helper()
	res, err := f.gw.Do(context.Background(), storage.Op{Kind: storage.OpQuery, Entity: storage.EntityRecording, Payload: storage.Query{}})
	require.NoError(t, err)
	return res.Data.([]types.Recording)
}

func textResult(text string) func(int) (*types.TranscriptResult, error) {
	return func(int) (*types.TranscriptResult, error) {
		return &types.TranscriptResult{Text: text}, nil
	}
}

func TestTranscriptionCreatesOneRecording(t *testing.T) {
	f := newFixture(t, fixtureOptions{
		duration: 180,
		local:    &stubBackend{name: "local", respond: textResult("hello from the meeting")},
	})
	path := f.mediaFile(t, "meeting.mp3", 2048)

	id, err := f.c.StartTranscription(path, TranscribeOptions{})
	require.NoError(t, err)

	terminal, seen := f.waitFor(t, id, jobs.NotifyTerminal)
	assert.Equal(t, jobs.OutcomeCompleted, terminal.Outcome)
	require.NotEmpty(t, seen)
	assert.Equal(t, types.StatusRunning, seen[0].Status, "first status is running")

	saved, _ := f.waitFor(t, id, jobs.NotifyPersistence)
	assert.Equal(t, jobs.OutcomeCompleted, saved.Outcome)

	recs := f.recordings(t)
	require.Len(t, recs, 1)
	assert.Equal(t, "meeting.mp3", recs[0].Name)
	assert.Equal(t, path, recs[0].FilePath)
	assert.Equal(t, "hello from the meeting", recs[0].RawTranscript)
	assert.Empty(t, recs[0].ProcessedText)
	assert.Equal(t, types.RecordingTranscribed, recs[0].Status())
	assert.Equal(t, 180.0, recs[0].Duration)

	snap, ok := f.c.Job(id)
	require.True(t, ok)
	assert.Equal(t, types.StatusCompleted, snap.Status)
	assert.NotNil(t, snap.StartedAt)

	// a duplicate completion signal issues no second write
	f.c.handleTerminal(snap)
	assert.Equal(t, 1, f.gw.writeCount())
	assert.Len(t, f.recordings(t), 1)
}

func TestRemoteChunkFailureCreatesNoRecording(t *testing.T) {
	remote := &stubBackend{name: "api", respond: func(call int) (*types.TranscriptResult, error) {
		if call == 2 {
			return nil, &types.Error{Kind: types.ErrKindRemoteAPI, StatusCode: 503, Retryable: true,
				Message: "The transcription service is temporarily unavailable."}
		}
		return &types.TranscriptResult{Text: "part"}, nil
	}}
	f := newFixture(t, fixtureOptions{
		duration: 900,
		remote:   remote,
		configure: func(cfg *config.Config) {
			cfg.Transcription.Method = "api"
		},
	})
	path := f.mediaFile(t, "lecture.mp3", 4096)

	id, err := f.c.StartTranscription(path, TranscribeOptions{})
	require.NoError(t, err)

	terminal, _ := f.waitFor(t, id, jobs.NotifyTerminal)
	assert.Equal(t, jobs.OutcomeFailed, terminal.Outcome)
	require.NotNil(t, terminal.Error)
	assert.Equal(t, types.ErrKindRemoteAPI, terminal.Error.Kind)
	assert.Equal(t, "The transcription service is temporarily unavailable.", terminal.Error.Message)

	snap, _ := f.c.Job(id)
	assert.Equal(t, types.StatusFailed, snap.Status)
	assert.ErrorIs(t, snap.Err, types.ErrRemoteAPI)
	assert.Equal(t, 2, remote.calls, "no chunk after the failing one")
	assert.Zero(t, f.gw.writeCount())
	assert.Empty(t, f.recordings(t))
}

func TestCancelImmediatelyIssuesNoWrite(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, fixtureOptions{
		duration: 60,
		local: &stubBackend{name: "local", respond: func(int) (*types.TranscriptResult, error) {
			<-release
			return &types.TranscriptResult{Text: "finished anyway"}, nil
		}},
	})
	path := f.mediaFile(t, "call.wav", 1024)

	id, err := f.c.StartTranscription(path, TranscribeOptions{})
	require.NoError(t, err)
	require.NoError(t, f.c.Cancel(id))
	close(release)

	terminal, _ := f.waitFor(t, id, jobs.NotifyTerminal)
	assert.Equal(t, jobs.OutcomeCancelled, terminal.Outcome)
	require.NotNil(t, terminal.Error)
	assert.Equal(t, types.ErrKindCancelled, terminal.Error.Kind)
	assert.Zero(t, f.gw.writeCount())
	assert.Empty(t, f.recordings(t))

	assert.NoError(t, f.c.Cancel(id), "cancelling a finished job is a no-op")
	assert.ErrorIs(t, f.c.Cancel("missing"), types.ErrInputNotFound)
}

func TestHandleTerminalIsIdempotent(t *testing.T) {
	f := newFixture(t, fixtureOptions{duration: 1})
	snap := jobs.Snapshot{
		ID:     "job-1",
		Kind:   types.KindTranscribe,
		Status: types.StatusCompleted,
		Result: &TranscriptionResult{
			Name:       "a.mp3",
			Path:       "/tmp/a.mp3",
			Transcript: &types.TranscriptResult{Text: "text", Duration: 3},
		},
	}

	f.c.handleTerminal(snap)
	f.c.handleTerminal(snap)

	_, _ = f.waitFor(t, "job-1", jobs.NotifyPersistence)
	assert.Equal(t, 1, f.gw.writeCount())
	assert.Len(t, f.recordings(t), 1)
}

func TestRetranscriptionUpdatesRecording(t *testing.T) {
	f := newFixture(t, fixtureOptions{
		duration: 30,
		local: &stubBackend{name: "local", respond: func(call int) (*types.TranscriptResult, error) {
			if call == 1 {
				return &types.TranscriptResult{Text: "first take"}, nil
			}
			return &types.TranscriptResult{Text: "second take"}, nil
		}},
	})
	path := f.mediaFile(t, "standup.mp3", 100)

	for i := 0; i < 2; i++ {
		id, err := f.c.StartTranscription(path, TranscribeOptions{})
		require.NoError(t, err)
		saved, _ := f.waitFor(t, id, jobs.NotifyPersistence)
		require.Equal(t, jobs.OutcomeCompleted, saved.Outcome, "run %d", i+1)
	}

	assert.Equal(t, []storage.OpKind{storage.OpCreate, storage.OpUpdate}, f.gw.writeKinds())
	recs := f.recordings(t)
	require.Len(t, recs, 1)
	assert.Equal(t, path, recs[0].FilePath)
	assert.Equal(t, "second take", recs[0].RawTranscript)
	assert.Equal(t, 30.0, recs[0].Duration)
}

func TestPersistenceFailureKeepsJobCompleted(t *testing.T) {
	f := newFixture(t, fixtureOptions{
		duration: 30,
		local:    &stubBackend{name: "local", respond: textResult("again")},
	})
	f.gw.failWrites = types.NewError(types.ErrKindPersistence, "The database is locked.")
	path := f.mediaFile(t, "locked.mp3", 100)

	id, err := f.c.StartTranscription(path, TranscribeOptions{})
	require.NoError(t, err)

	saved, _ := f.waitFor(t, id, jobs.NotifyPersistence)
	assert.Equal(t, jobs.OutcomeFailed, saved.Outcome)
	require.NotNil(t, saved.Error)
	assert.Equal(t, types.ErrKindPersistence, saved.Error.Kind)
	assert.Equal(t, 1, f.gw.writeCount())

	snap, _ := f.c.Job(id)
	assert.Equal(t, types.StatusCompleted, snap.Status)
}

type stubLLM struct {
	prompt, transcript string
	err                error
}

func (s *stubLLM) Process(ctx context.Context, prompt, transcript string) (string, error) {
	s.prompt, s.transcript = prompt, transcript
	if s.err != nil {
		return "", s.err
	}
	return "summary of " + transcript, nil
}

func TestProcessWithLLMUpdatesRecording(t *testing.T) {
	llm := &stubLLM{}
	f := newFixture(t, fixtureOptions{duration: 1, llm: llm})
	res, err := f.gw.Do(context.Background(), storage.Op{Kind: storage.OpCreate, Entity: storage.EntityRecording,
		Payload: types.Recording{Name: "a.mp3", FilePath: "/a.mp3", RawTranscript: "raw words"}})
	require.NoError(t, err)
	rec := res.Data.(*types.Recording)

	id, err := f.c.ProcessWithLLM(rec.ID, "Summarize")
	require.NoError(t, err)

	saved, _ := f.waitFor(t, id, jobs.NotifyPersistence)
	require.Equal(t, jobs.OutcomeCompleted, saved.Outcome)
	assert.Equal(t, "Summarize", llm.prompt)
	assert.Equal(t, "raw words", llm.transcript)

	recs := f.recordings(t)
	require.Len(t, recs, 1)
	assert.Equal(t, "summary of raw words", recs[0].ProcessedText)
	assert.Equal(t, types.RecordingProcessed, recs[0].Status())
	assert.Equal(t, 1, f.gw.writeCount(), "one update")

	t.Run("unknown recording fails in the job", func(t *testing.T) {
		id, err := f.c.ProcessWithLLM(999, "Summarize")
		require.NoError(t, err)
		terminal, _ := f.waitFor(t, id, jobs.NotifyTerminal)
		assert.Equal(t, jobs.OutcomeFailed, terminal.Outcome)
		assert.Equal(t, types.ErrKindInputNotFound, terminal.Error.Kind)
	})
}

func TestValidationBeforeSpawn(t *testing.T) {
	f := newFixture(t, fixtureOptions{duration: 1, configure: func(cfg *config.Config) {
		cfg.Transcription.MaxFileSize = 100
	}})
	notes := filepath.Join(f.dir, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("x"), 0644))
	big := f.mediaFile(t, "big.mp3", 200)

	tests := []struct {
		name string
		run  func() (string, error)
	}{
		{"empty input", func() (string, error) { return f.c.StartTranscription("  ", TranscribeOptions{}) }},
		{"missing file", func() (string, error) {
			return f.c.StartTranscription(filepath.Join(f.dir, "nope.mp3"), TranscribeOptions{})
		}},
		{"unsupported extension", func() (string, error) { return f.c.StartTranscription(notes, TranscribeOptions{}) }},
		{"too large", func() (string, error) { return f.c.StartTranscription(big, TranscribeOptions{}) }},
		{"folder", func() (string, error) { return f.c.StartTranscription(f.dir, TranscribeOptions{}) }},
		{"malformed url", func() (string, error) {
			return f.c.StartTranscription("https://example.com/video", TranscribeOptions{})
		}},
		{"bad method", func() (string, error) {
			return f.c.StartTranscription(big, TranscribeOptions{Method: "cloud"})
		}},
		{"empty prompt", func() (string, error) { return f.c.ProcessWithLLM(1, " ") }},
		{"bad recording id", func() (string, error) { return f.c.ProcessWithLLM(0, "Summarize") }},
		{"bad download url", func() (string, error) { return f.c.StartDownload("ftp://youtube.com/x") }},
		{"transcode missing file", func() (string, error) { return f.c.StartTranscode("") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := tt.run()
			assert.Empty(t, id)
			assert.ErrorIs(t, err, types.ErrValidation)
		})
	}
	assert.Empty(t, f.c.Jobs(), "no job was spawned")
}

type stubExporter struct {
	name     string
	location string
	err      error
	calls    int
}

func (s *stubExporter) Name() string { return s.name }

func (s *stubExporter) Export(ctx context.Context, rec types.Recording) (string, error) {
	s.calls++
	return s.location, s.err
}

func TestExportRecording(t *testing.T) {
	local := &stubExporter{name: "local", location: "/out/a.txt"}
	drive := &stubExporter{name: "gdrive", err: types.NewError(types.ErrKindConfiguration, "Google Drive is not authorized.")}
	f := newFixture(t, fixtureOptions{duration: 1, exporters: []storage.ExportTarget{local, drive}})
	res, err := f.gw.Do(context.Background(), storage.Op{Kind: storage.OpCreate, Entity: storage.EntityRecording,
		Payload: types.Recording{Name: "a.mp3", FilePath: "/a.mp3", RawTranscript: "raw"}})
	require.NoError(t, err)

	id, err := f.c.ExportRecording(res.Data.(*types.Recording).ID)
	require.NoError(t, err)

	terminal, _ := f.waitFor(t, id, jobs.NotifyTerminal)
	require.Equal(t, jobs.OutcomeCompleted, terminal.Outcome)
	out := terminal.Result.(*ExportResult)
	assert.Equal(t, map[string]string{"local": "/out/a.txt"}, out.Locations)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "gdrive")
	assert.Equal(t, 1, drive.calls, "configuration errors are not retried")
	assert.Zero(t, f.gw.writeCount())
}

func TestShutdownCancelsRunningJobs(t *testing.T) {
	started := make(chan struct{})
	f := newFixture(t, fixtureOptions{
		duration: 600,
		local: &stubBackend{name: "local", respond: func(call int) (*types.TranscriptResult, error) {
			if call == 1 {
				close(started)
			}
			time.Sleep(20 * time.Millisecond)
			return &types.TranscriptResult{Text: "chunk"}, nil
		}},
	})
	path := f.mediaFile(t, "long.mp3", 1024)

	id, err := f.c.StartTranscription(path, TranscribeOptions{})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.c.Shutdown(ctx))

	snap, _ := f.c.Job(id)
	assert.Equal(t, types.StatusCancelled, snap.Status)
	assert.Zero(t, f.gw.writeCount())

	_, err = f.c.StartTranscription(path, TranscribeOptions{})
	assert.ErrorIs(t, err, types.ErrValidation)
}
