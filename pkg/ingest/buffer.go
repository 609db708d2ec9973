// Package ingest implements the per-track RTP ingest loop: UDP receive,
// keyframe-anchored fast-start buffering, and the live fan-out bus that
// feeds every Pusher subscribed to a track.
package ingest

import (
	"sync"

	"github.com/ethan/rtp-egress-gateway/pkg/codec"
	"github.com/ethan/rtp-egress-gateway/pkg/types"
	"github.com/pion/rtp"
)

// FastStartBuffer holds an ordered history of packets for one track. Each
// time a GOP opens after a keyframe-bearing GOP, the prefix before the
// keyframe GOP recorded at the previous such transition is trimmed, so once
// trimming has begun position 0 belongs to the oldest retained keyframe GOP.
// Because the trim uses the marker from one transition earlier, up to two
// complete GOPs plus the GOP currently being accumulated are retained.
//
// Mutated only by the ingest loop via Push; read concurrently by any
// number of Pushers via Snapshot. The lock is a plain sync.RWMutex rather
// than anything writer-preferring — writes are a few hundred nanoseconds
// and happen far more often than snapshots, so starving readers isn't a
// real risk in this workload.
type FastStartBuffer struct {
	mu sync.RWMutex

	packets []*rtp.Packet

	idxLastGOP         int
	idxLastKeyframeGOP int
	foundKeyframe      bool
}

// NewFastStartBuffer returns an empty buffer.
func NewFastStartBuffer() *FastStartBuffer {
	return &FastStartBuffer{}
}

// Push applies the GOP-anchoring algorithm for one newly received packet.
// c names the track's codec, used to classify pkt as a keyframe or not.
func (b *FastStartBuffer) Push(c types.Codec, pkt *rtp.Packet) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n := len(b.packets); n > 0 {
		last := b.packets[n-1]
		isNewGOP := last.Header.Timestamp != pkt.Header.Timestamp
		b.foundKeyframe = b.foundKeyframe || codec.IsKeyframe(c, pkt)

		if isNewGOP {
			if b.foundKeyframe {
				trimmed := b.idxLastKeyframeGOP
				b.idxLastKeyframeGOP = b.idxLastGOP
				b.foundKeyframe = false

				b.packets = append(b.packets[:0], b.packets[trimmed:]...)
				b.idxLastGOP -= trimmed
				b.idxLastKeyframeGOP -= trimmed
			}
			b.idxLastGOP = len(b.packets)
		}
	}

	b.packets = append(b.packets, pkt)
}

// Snapshot returns an ordered copy of the buffer's current contents. The
// slice is newly allocated but the packets themselves are the same shared
// pointers the ingest loop holds, safe to read concurrently since RTP
// packets are never mutated after being parsed.
func (b *FastStartBuffer) Snapshot() []*rtp.Packet {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*rtp.Packet, len(b.packets))
	copy(out, b.packets)
	return out
}

// Len reports the number of packets currently retained, for tests and
// stats reporting.
func (b *FastStartBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.packets)
}
