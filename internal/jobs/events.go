package jobs

import (
	"sync"
	"time"

	"github.com/codebuildervaibhav/transcribrr/internal/types"
)

// NotificationType classifies messages sent to the presentation layer.
type NotificationType string

const (
	NotifyStatus      NotificationType = "status"
	NotifyTerminal    NotificationType = "terminal"
	NotifyPersistence NotificationType = "persistence"
)

// Outcome of a finished job or write
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Notification is a sequenced payload consumed by UI subscribers.
type Notification struct {
	Seq       int64            `json:"seq"`
	Timestamp time.Time        `json:"timestamp"`
	Type      NotificationType `json:"type"`
	JobID     string           `json:"job_id"`
	Kind      types.JobKind    `json:"kind,omitempty"`
	Status    types.JobStatus  `json:"status,omitempty"`
	Phase     string           `json:"phase,omitempty"`
	Progress  *int             `json:"progress,omitempty"`
	Message   string           `json:"message,omitempty"`
	Outcome   Outcome          `json:"outcome,omitempty"`
	Result    any              `json:"result,omitempty"`
	Error     *ErrorInfo       `json:"error,omitempty"`
}

// EventBus stores recent notifications, provides incremental reads and
// fans out to live subscribers.
type EventBus struct {
	mu          sync.RWMutex
	nextSeq     int64
	maxEvents   int
	events      []Notification
	subscribers map[int]chan Notification
	nextSub     int
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents:   maxEvents,
		events:      make([]Notification, 0, maxEvents),
		subscribers: make(map[int]chan Notification),
	}
}

// Publish appends one notification and assigns sequence and timestamp.
// Subscribers that are not keeping up miss the live copy but can catch up
// with Since.
func (b *EventBus) Publish(n Notification) Notification {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	n.Seq = b.nextSeq
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, n)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Notification(nil), b.events[trim:]...)
	}

	for _, ch := range b.subscribers {
		select {
		case ch <- n:
		default:
		}
	}
	return n
}

// Since returns notifications with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Notification {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Notification, 0, len(b.events))
	for _, n := range b.events {
		if n.Seq > seq {
			out = append(out, n)
		}
	}
	return out
}

// Subscribe returns a channel of new notifications and a func that ends
// the subscription and closes the channel.
func (b *EventBus) Subscribe(buffer int) (<-chan Notification, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Notification, buffer)

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subscribers[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}
