package storage

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"

	"github.com/lithammer/shortuuid/v4"

	"github.com/codebuildervaibhav/transcribrr/internal/types"
)

// OpKind is the kind of persistence operation
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
	OpQuery  OpKind = "query"
)

// Entity names the table an operation targets
type Entity string

const EntityRecording Entity = "recording"

// Op is one queued persistence operation. Payload depends on Kind:
// create takes types.Recording, update takes UpdatePayload, delete takes
// the recording id (int64) and query takes Query.
type Op struct {
	ID      string
	Kind    OpKind
	Entity  Entity
	Payload any
}

// UpdatePayload changes the fields of one recording
type UpdatePayload struct {
	ID     int64
	Fields RecordingUpdate
}

// Query selects recordings. The first non-zero field wins: ID, then Path,
// then Search; an empty Query lists everything.
type Query struct {
	ID     int64
	Path   string
	Search string
}

// Result is delivered once per submitted operation
type Result struct {
	OpID string
	OK   bool
	Data any
	Err  error
}

// Callback receives a Result on the gateway's delivery goroutine
type Callback func(Result)

type task struct {
	op Op
	cb Callback
}

// Gateway serializes all store access on one worker goroutine and delivers
// results on a second goroutine, in completion order.
type Gateway struct {
	store *RecordingStore

	queue   chan task
	results chan struct {
		res Result
		cb  Callback
	}

	closeMu sync.RWMutex
	closed  bool

	pendingMu sync.Mutex
	pending   map[string]struct{}

	workerDone   chan struct{}
	deliveryDone chan struct{}
	closeOnce    sync.Once
}

// NewGateway starts the worker and delivery goroutines for store
func NewGateway(store *RecordingStore) *Gateway {
	g := &Gateway{
		store: store,
		queue: make(chan task, 100), // Buffer of 100 operations
		results: make(chan struct {
			res Result
			cb  Callback
		}, 100),
		pending:      make(map[string]struct{}),
		workerDone:   make(chan struct{}),
		deliveryDone: make(chan struct{}),
	}
	go g.worker()
	go g.deliver()
	return g
}

// Submit queues op and returns its correlation id. cb may be nil.
func (g *Gateway) Submit(op Op, cb Callback) (string, error) {
	g.closeMu.RLock()
	defer g.closeMu.RUnlock()
	if g.closed {
		return "", types.NewError(types.ErrKindPersistence, "The database is shutting down.")
	}

	if op.ID == "" {
		op.ID = shortuuid.New()
	}
	g.pendingMu.Lock()
	if _, dup := g.pending[op.ID]; dup {
		g.pendingMu.Unlock()
		return "", types.Validationf("operation %s is already in flight", op.ID)
	}
	g.pending[op.ID] = struct{}{}
	g.pendingMu.Unlock()

	g.queue <- task{op: op, cb: cb}
	return op.ID, nil
}

// Do submits op and waits for its result. It is for background goroutines
// and HTTP handlers; a caller that stops waiting still gets the operation
// applied.
func (g *Gateway) Do(ctx context.Context, op Op) (Result, error) {
	ch := make(chan Result, 1)
	if _, err := g.Submit(op, func(r Result) { ch <- r }); err != nil {
		return Result{}, err
	}
	select {
	case <-ctx.Done():
		return Result{}, types.WrapError(types.ErrKindCancelled, "", ctx.Err())
	case r := <-ch:
		return r, r.Err
	}
}

// Close stops intake, drains queued operations, delivers their callbacks
// and closes the store.
func (g *Gateway) Close(ctx context.Context) error {
	g.closeOnce.Do(func() {
		g.closeMu.Lock()
		g.closed = true
		close(g.queue)
		g.closeMu.Unlock()
	})

	select {
	case <-g.deliveryDone:
	case <-ctx.Done():
		return fmt.Errorf("persistence queue not drained: %w", ctx.Err())
	}
	return g.store.Close()
}

func (g *Gateway) worker() {
	defer func() {
		close(g.results)
		close(g.workerDone)
	}()

	for t := range g.queue {
		data, err := g.execute(t.op)
		res := Result{OpID: t.op.ID, OK: err == nil, Data: data, Err: err}
		if err != nil {
			log.Printf("WARNING: persistence %s %s (%s) failed: %v", t.op.Kind, t.op.Entity, t.op.ID, err)
		}
		g.results <- struct {
			res Result
			cb  Callback
		}{res, t.cb}
	}
}

func (g *Gateway) deliver() {
	defer close(g.deliveryDone)

	for d := range g.results {
		g.pendingMu.Lock()
		delete(g.pending, d.res.OpID)
		g.pendingMu.Unlock()

		if d.cb == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("WARNING: persistence callback for %s panicked: %v", d.res.OpID, r)
				}
			}()
			d.cb(d.res)
		}()
	}
}

// execute runs one operation; a panic becomes a failed result
func (g *Gateway) execute(op Op) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("PANIC in persistence op %s: %v\n%s", op.ID, r, debug.Stack())
			data, err = nil, types.NewError(types.ErrKindPersistence, "")
		}
	}()

	if op.Entity != EntityRecording {
		return nil, types.Validationf("unknown entity %q", op.Entity)
	}
	ctx := context.Background()

	switch op.Kind {
	case OpCreate:
		rec, ok := op.Payload.(types.Recording)
		if !ok {
			return nil, payloadError(op)
		}
		return g.store.Create(ctx, rec)
	case OpUpdate:
		p, ok := op.Payload.(UpdatePayload)
		if !ok {
			return nil, payloadError(op)
		}
		return g.store.Update(ctx, p.ID, p.Fields)
	case OpDelete:
		id, ok := op.Payload.(int64)
		if !ok {
			return nil, payloadError(op)
		}
		return nil, g.store.Delete(ctx, id)
	case OpQuery:
		q, _ := op.Payload.(Query)
		switch {
		case q.ID != 0:
			return g.store.Get(ctx, q.ID)
		case q.Path != "":
			return g.store.GetByPath(ctx, q.Path)
		default:
			return g.store.Search(ctx, q.Search)
		}
	}
	return nil, types.Validationf("unknown operation %q", op.Kind)
}

func payloadError(op Op) error {
	return types.Validationf("invalid payload %T for %s %s", op.Payload, op.Kind, op.Entity)
}
