package ingest

import (
	"sync"

	"github.com/pion/rtp"
)

// busCapacity bounds each subscriber's channel. A slow subscriber that
// falls this far behind loses its oldest queued packets rather than being
// allowed to push back on the ingest loop: the gateway never blocks the
// source to wait for a client.
const busCapacity = 10000

// Bus is a single-producer, multi-consumer fan-out of parsed RTP packets.
// Each Subscribe call gets its own buffered channel seeded only with
// packets published after the call, so subscribers never see packets from
// before they joined (those are covered instead by a FastStartBuffer
// snapshot taken under the same lock ordering as the subscribe).
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan *rtp.Packet
	next int
}

// NewBus returns an empty fan-out bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan *rtp.Packet)}
}

// Subscription is a live feed of packets published after it was created,
// plus the means to stop receiving them.
type Subscription struct {
	id     int
	bus    *Bus
	Packets <-chan *rtp.Packet
}

// Subscribe registers a new consumer and returns its feed.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *rtp.Packet, busCapacity)
	id := b.next
	b.next++
	b.subs[id] = ch

	return &Subscription{id: id, bus: b, Packets: ch}
}

// Unsubscribe removes the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if ch, ok := s.bus.subs[s.id]; ok {
		delete(s.bus.subs, s.id)
		close(ch)
	}
}

// Publish delivers pkt to every current subscriber without blocking. A
// subscriber whose channel is full has its oldest queued packet silently
// discarded to make room for pkt (backpressure loss, per the gateway's
// error-handling design) rather than stalling the ingest loop or other
// subscribers.
func (b *Bus) Publish(pkt *rtp.Packet) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- pkt:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- pkt:
			default:
			}
		}
	}
}

// SubscriberCount reports the number of live subscriptions, for stats.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
