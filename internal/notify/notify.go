// Package notify fans store and reconciler notifications out to whoever is
// listening: the transport's event stream, the daemon's log, tests.
package notify

import (
	"log/slog"
	"sync"

	"github.com/jdholdren/brief/internal/brief"
)

// Bus delivers every event to all current subscribers. Delivery never blocks
// the sender: a subscriber whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan brief.Event
}

var _ brief.Notifier = (*Bus)(nil)

func NewBus() *Bus {
	return &Bus{subs: map[int]chan brief.Event{}}
}

// Notify implements brief.Notifier.
func (b *Bus) Notify(ev brief.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("dropping notification for slow subscriber", "subscriber", id, "kind", ev.Kind.String())
		}
	}
}

// Subscribe registers a subscriber with the given buffer. The returned
// function unsubscribes and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan brief.Event, func()) {
	ch := make(chan brief.Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Recorder keeps every event it is sent.
type Recorder struct {
	mu     sync.Mutex
	events []brief.Event
}

var _ brief.Notifier = (*Recorder)(nil)

func (r *Recorder) Notify(ev brief.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []brief.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]brief.Event(nil), r.events...)
}

// Kinds returns the kinds of the recorded events in order.
func (r *Recorder) Kinds() []brief.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()

	kinds := make([]brief.EventKind, 0, len(r.events))
	for _, ev := range r.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

// Reset forgets the recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
