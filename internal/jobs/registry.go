package jobs

import (
	"log"
	"sort"
	"sync"
	"time"
)

// Worker is anything the registry can track
type Worker interface {
	ID() string
}

// Cancellable workers can be asked to stop
type Cancellable interface {
	Cancel()
}

// Waiter workers can be waited on
type Waiter interface {
	Wait(timeout time.Duration) bool
}

// Owner signals when a worker is no longer needed. Both context.Context and
// *Runner satisfy it.
type Owner interface {
	Done() <-chan struct{}
}

type entry struct {
	worker Worker
	seq    uint64
}

// Registry tracks live workers by id. Workers must be pointer types so
// entries can be compared on unregister.
type Registry struct {
	mu      sync.Mutex
	entries map[string]entry
	seq     uint64
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds w. When owner is done, w is removed again. A second worker
// with the same id is ignored with a warning.
func (r *Registry) Register(w Worker, owner Owner) bool {
	id := w.ID()

	r.mu.Lock()
	if _, exists := r.entries[id]; exists {
		r.mu.Unlock()
		log.Printf("WARNING: worker %s already registered, ignoring", id)
		return false
	}
	r.seq++
	seq := r.seq
	r.entries[id] = entry{worker: w, seq: seq}
	r.mu.Unlock()

	if owner != nil {
		go func() {
			<-owner.Done()
			r.remove(id, seq)
		}()
	}
	return true
}

// Unregister removes w if it is still the registered worker for its id
func (r *Registry) Unregister(w Worker) {
	id := w.ID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok && e.worker == w {
		delete(r.entries, id)
	}
}

func (r *Registry) remove(id string, seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok && e.seq == seq {
		delete(r.entries, id)
	}
}

// Get returns the worker registered under id
func (r *Registry) Get(id string) (Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e.worker, ok
}

// Len returns the number of registered workers
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// IDs returns the registered ids in sorted order
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) snapshot() []Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	workers := make([]Worker, 0, len(r.entries))
	for _, e := range r.entries {
		workers = append(workers, e.worker)
	}
	return workers
}

// CancelAll asks every running cancellable worker to stop and returns how
// many were asked. It works on a snapshot, so workers may unregister
// concurrently.
func (r *Registry) CancelAll() int {
	cancelled := 0
	for _, w := range r.snapshot() {
		if cancelOne(w) {
			cancelled++
		}
	}
	return cancelled
}

func cancelOne(w Worker) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("WARNING: cancelling worker panicked: %v", p)
			ok = false
		}
	}()

	c, isCancellable := w.(Cancellable)
	if !isCancellable {
		log.Printf("WARNING: worker %s is not cancellable, skipping", w.ID())
		return false
	}
	if rw, hasState := w.(interface{ IsRunning() bool }); hasState && !rw.IsRunning() {
		return false
	}
	c.Cancel()
	return true
}

// WaitAll waits for every waitable worker within one overall timeout and
// reports whether all of them finished.
func (r *Registry) WaitAll(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	all := true
	for _, w := range r.snapshot() {
		waiter, ok := w.(Waiter)
		if !ok {
			continue
		}
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		if !waitOne(waiter, remaining) {
			log.Printf("WARNING: worker %s still running after shutdown timeout", w.ID())
			all = false
		}
	}
	return all
}

func waitOne(w Waiter, timeout time.Duration) (finished bool) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("WARNING: waiting on worker panicked: %v", p)
			finished = false
		}
	}()
	return w.Wait(timeout)
}
