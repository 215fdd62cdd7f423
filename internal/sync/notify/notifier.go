package notify

import (
	"sync"

	"github.com/kimhsiao/journalsync/internal/logging"
)

// Handler receives published events. Handlers run synchronously on the
// publishing goroutine and must not block.
type Handler func(Event)

// Publisher is the producer side used by the sync engine and probe monitor.
type Publisher interface {
	Publish(Event)
}

// Notifier fans events out to subscribers in subscription order.
type Notifier struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[uint64]Handler
	order    []uint64
}

// New creates a Notifier with no subscribers.
func New() *Notifier {
	return &Notifier{handlers: make(map[uint64]Handler)}
}

// Subscription is returned by Subscribe.
type Subscription struct {
	n       *Notifier
	id      uint64
	once    sync.Once
	onClose func()
}

// Unsubscribe detaches the handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.n.remove(s.id)
		if s.onClose != nil {
			s.onClose()
		}
	})
}

// Subscribe registers h for every subsequent event.
func (n *Notifier) Subscribe(h Handler) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	id := n.nextID
	n.handlers[id] = h
	n.order = append(n.order, id)
	return &Subscription{n: n, id: id}
}

func (n *Notifier) remove(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.handlers, id)
	for i, v := range n.order {
		if v == id {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
}

// Publish delivers e to every current subscriber.
func (n *Notifier) Publish(e Event) {
	n.mu.RLock()
	handlers := make([]Handler, 0, len(n.order))
	for _, id := range n.order {
		handlers = append(handlers, n.handlers[id])
	}
	n.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}

// Subscribers returns the number of attached handlers.
func (n *Notifier) Subscribers() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.order)
}

// Channel subscribes a buffered channel. When the buffer is full the event is
// dropped for this subscriber rather than blocking the publisher. The channel
// is closed by Unsubscribe.
func (n *Notifier) Channel(buffer int) (<-chan Event, *Subscription) {
	ch := make(chan Event, buffer)
	var mu sync.Mutex
	closed := false

	sub := n.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- e:
		default:
			logging.Warn("event subscriber buffer full, dropping event", map[string]interface{}{
				"type": e.EventType(),
			})
		}
	})
	sub.onClose = func() {
		mu.Lock()
		defer mu.Unlock()
		closed = true
		close(ch)
	}
	return ch, sub
}

// Recorder collects published events. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Handle appends e; pass it to Subscribe.
func (r *Recorder) Handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns recorded events whose EventType is t.
func (r *Recorder) OfType(t string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

// Reset clears the recording.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Discard is a Publisher that drops every event.
type Discard struct{}

// Publish does nothing.
func (Discard) Publish(Event) {}

var (
	_ Publisher = (*Notifier)(nil)
	_ Publisher = Discard{}
)
