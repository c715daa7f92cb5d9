// Package eventbus implements the typed fan-out bus (component C10) that
// ties every pipeline stage together: single writer, many subscribers,
// per-subscriber bounded delivery with a drop-oldest back-pressure policy.
package eventbus

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/lectervox/lecturepipe/internal/event"
)

// DefaultBufferSize is the default per-subscriber bounded buffer (§4.8).
const DefaultBufferSize = 1024

// protected reports whether a Kind is exempt from the drop-oldest policy.
// A queued error, final_report or status event is evicted only when the
// subscriber's buffer holds nothing but protected events; status carries
// the drop counters themselves.
func protected(k event.Kind) bool {
	switch k {
	case event.KindError, event.KindFinalReport, event.KindStatus:
		return true
	default:
		return false
	}
}

// Subscription is a read-only handle to one subscriber's event stream.
type Subscription struct {
	id     uint64
	ch     chan event.Event
	bus    *Bus
	closed atomic.Bool
}

// Events returns the channel this subscriber receives events on. Delivery
// is ordered: within one subscriber, increasing seq matches emission order.
func (s *Subscription) Events() <-chan event.Event {
	return s.ch
}

// Close detaches the subscription from the bus. Safe to call more than
// once.
func (s *Subscription) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.bus.remove(s.id)
}

// Bus is a correlation-id-scoped, single-writer, many-subscriber typed
// event fan-out. One Bus serves one session.
type Bus struct {
	correlationID string
	bufferSize    int

	seq atomic.Uint64

	mu      sync.Mutex
	nextID  uint64
	subs    map[uint64]*subscriber
	dropped map[event.Kind]int
}

type subscriber struct {
	ch chan event.Event
}

// New creates a Bus scoped to one session correlation id. bufferSize <= 0
// uses DefaultBufferSize.
func New(correlationID string, bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		correlationID: correlationID,
		bufferSize:    bufferSize,
		subs:          make(map[uint64]*subscriber),
		dropped:       make(map[event.Kind]int),
	}
}

// Subscribe registers a new subscriber and returns its Subscription. The
// subscriber begins receiving events emitted after this call; there is no
// replay of prior events.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: make(chan event.Event, b.bufferSize)}
	b.subs[id] = sub

	s := &Subscription{id: id, ch: sub.ch, bus: b}
	return s
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Publish stamps payload into an Event with the bus's correlation id and
// the next strictly-increasing seq, then fans it out to every subscriber.
// nowMillis is the event timestamp; callers pass clock.Clock.NowMillis().
// The seq is taken under the bus lock, so events from concurrent callers
// reach every subscriber in seq order.
func (b *Bus) Publish(kind event.Kind, payload any, nowMillis int64) event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ev := event.Event{
		V:             event.SchemaVersion,
		Kind:          kind,
		CorrelationID: b.correlationID,
		Seq:           b.seq.Add(1),
		TS:            nowMillis,
		Payload:       payload,
	}

	for _, sub := range b.subs {
		b.deliver(sub, ev, kind)
	}
	return ev
}

// deliver attempts a non-blocking send. On overflow it evicts the oldest
// queued non-protected event to admit ev. A protected ev that finds only
// protected events queued evicts the oldest of them; a non-protected ev
// that finds nothing evictable is dropped itself. Called with b.mu held.
func (b *Bus) deliver(sub *subscriber, ev event.Event, kind event.Kind) {
	select {
	case sub.ch <- ev:
		return
	default:
	}

	if protected(kind) {
		// Make room by evicting the oldest non-protected event; only a
		// buffer holding nothing but protected events loses its oldest.
		if !b.evictOldestNonProtected(sub) {
			select {
			case old := <-sub.ch:
				b.countDrop(old.Kind)
			default:
			}
		}
		select {
		case sub.ch <- ev:
		default:
			// Channel refilled concurrently; give up rather than block
			// the single writer. Should not happen with one writer.
			b.countDrop(kind)
			slog.Warn("eventbus: protected event dropped under contention", "kind", kind)
		}
		return
	}

	// Non-protected: evict the oldest non-protected entry to admit ev; if
	// every queued event is protected, drop ev itself.
	if b.evictOldestNonProtected(sub) {
		select {
		case sub.ch <- ev:
		default:
			b.countDrop(kind)
		}
		return
	}
	b.countDrop(kind)
}

// evictOldestNonProtected drains the subscriber's full queue, drops the
// single oldest non-protected event found, and restores every remaining
// event (protected or not) in its original relative order. Since Go
// channels don't support peeking at arbitrary depth cheaply, and the
// buffer holds exclusively this subscriber's own queue, draining the
// whole thing and refilling it is the only way to evict one entry without
// reordering the survivors relative to each other.
func (b *Bus) evictOldestNonProtected(sub *subscriber) bool {
	n := len(sub.ch)
	buffered := make([]event.Event, 0, n)
	for i := 0; i < n; i++ {
		buffered = append(buffered, <-sub.ch)
	}

	dropIdx := -1
	for i, ev := range buffered {
		if !protected(ev.Kind) {
			dropIdx = i
			break
		}
	}
	if dropIdx == -1 {
		for _, ev := range buffered {
			sub.ch <- ev
		}
		return false
	}

	b.countDrop(buffered[dropIdx].Kind)
	for i, ev := range buffered {
		if i == dropIdx {
			continue
		}
		sub.ch <- ev
	}
	return true
}

func (b *Bus) countDrop(kind event.Kind) {
	b.dropped[kind]++
}

// DropCounts returns a snapshot of dropped-event counts by kind, for
// surfacing in a status event (§4.8) or as a Prometheus counter.
func (b *Bus) DropCounts() map[event.Kind]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[event.Kind]int, len(b.dropped))
	for k, v := range b.dropped {
		out[k] = v
	}
	return out
}

// SubscriberCount returns the current number of attached subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
