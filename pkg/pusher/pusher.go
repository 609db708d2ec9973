// Package pusher implements the per-client, per-track forwarder: drain the
// fast-start buffer, then forward live packets to a WebRTC sending track,
// with a resync operation that restarts the stream from a fresh keyframe.
package pusher

import (
	"context"
	"sync/atomic"

	"github.com/ethan/rtp-egress-gateway/pkg/ingest"
	"github.com/ethan/rtp-egress-gateway/pkg/logger"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// State is the Pusher's externally observable lifecycle stage.
type State int32

const (
	StateIdle State = iota
	StatePriming
	StateLive
	StateDead
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePriming:
		return "priming"
	case StateLive:
		return "live"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Pusher drains a track's FastStartBuffer, then forwards its live bus to a
// WebRTC sending track. One Pusher exists per (ClientSession, track) pair,
// so a tracked stream with both video and audio has two. Control signals are single-slot and most-recent-wins: a sender that
// finds the slot already occupied drops its own send, trusting the pending
// signal to still produce the intended transition.
type Pusher struct {
	track  *webrtc.TrackLocalStaticRTP
	source *ingest.RtpTrack
	log    *logger.Logger

	playCh   chan struct{}
	stopCh   chan struct{}
	resyncCh chan struct{}
	killCh   chan struct{}

	state atomic.Int32
}

// New constructs a Pusher bound to track (the WebRTC sending track) and
// source (the RtpTrack it drains). The run loop starts immediately in Idle
// and exits when ctx is cancelled or Kill is called.
func New(ctx context.Context, track *webrtc.TrackLocalStaticRTP, source *ingest.RtpTrack, log *logger.Logger) *Pusher {
	p := &Pusher{
		track:    track,
		source:   source,
		log:      log,
		playCh:   make(chan struct{}, 1),
		stopCh:   make(chan struct{}, 1),
		resyncCh: make(chan struct{}, 1),
		killCh:   make(chan struct{}, 1),
	}
	p.state.Store(int32(StateIdle))

	go p.run(ctx)

	return p
}

// State reports the Pusher's current lifecycle stage.
func (p *Pusher) State() State {
	return State(p.state.Load())
}

func (p *Pusher) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Play transitions Idle -> Priming.
func (p *Pusher) Play() { p.signal(p.playCh) }

// Stop transitions Priming|Live -> Idle without terminating the task.
func (p *Pusher) Stop() { p.signal(p.stopCh) }

// Resync is equivalent to Stop followed by Play; usable in any non-Dead
// state, and used to emit a fresh keyframe prelude after a reconnect.
func (p *Pusher) Resync() { p.signal(p.resyncCh) }

// Kill transitions any state to Dead; the run loop exits.
func (p *Pusher) Kill() { p.signal(p.killCh) }

func (p *Pusher) run(ctx context.Context) {
	state := StateIdle

	for {
		switch state {
		case StateIdle:
			p.state.Store(int32(StateIdle))
			state = p.idle(ctx)
		case StatePriming:
			p.state.Store(int32(StatePriming))
			state = p.prime(ctx)
		case StateDead:
			p.state.Store(int32(StateDead))
			return
		}
	}
}

func (p *Pusher) idle(ctx context.Context) State {
	for {
		select {
		case <-ctx.Done():
			return StateDead
		case <-p.killCh:
			return StateDead
		case <-p.playCh:
			return StatePriming
		case <-p.stopCh:
			// Already idle; absorb the signal.
		case <-p.resyncCh:
			return StatePriming
		}
	}
}

// prime takes a fast-start snapshot, subscribes to the live bus, and drains
// both with strict priority kill > stop > prime > live until a control
// signal or source loss moves the Pusher out of Live.
func (p *Pusher) prime(ctx context.Context) State {
	sub := p.source.Subscribe()
	snap := p.source.Snapshot()

	primeQueue := make(chan *rtp.Packet, len(snap))
	for _, pkt := range snap {
		primeQueue <- pkt
	}
	p.log.DebugPusherCat("priming pusher", "packets", len(snap))

	p.state.Store(int32(StateLive))
	defer sub.Unsubscribe()

	for {
		// Highest priority: kill (or context end), checked alone so a
		// pending stop or resync cannot win over it.
		select {
		case <-ctx.Done():
			return StateDead
		case <-p.killCh:
			return StateDead
		default:
		}

		// Next: stop or resync, checked with no packet candidate ready so
		// neither prime nor live packets can preempt a pending control
		// signal.
		select {
		case <-ctx.Done():
			return StateDead
		case <-p.killCh:
			return StateDead
		case <-p.stopCh:
			return StateIdle
		case <-p.resyncCh:
			return StatePriming
		default:
		}

		// Next priority: drain the primed snapshot before any live packet.
		select {
		case <-ctx.Done():
			return StateDead
		case <-p.killCh:
			return StateDead
		case <-p.stopCh:
			return StateIdle
		case <-p.resyncCh:
			return StatePriming
		case pkt := <-primeQueue:
			p.write(pkt)
			continue
		default:
		}

		// Lowest priority: block on everything, including the live bus.
		select {
		case <-ctx.Done():
			return StateDead
		case <-p.killCh:
			return StateDead
		case <-p.stopCh:
			return StateIdle
		case <-p.resyncCh:
			return StatePriming
		case pkt := <-primeQueue:
			p.write(pkt)
		case pkt, ok := <-sub.Packets:
			if !ok {
				return StateDead
			}
			p.write(pkt)
		}
	}
}

func (p *Pusher) write(pkt *rtp.Packet) {
	if err := p.track.WriteRTP(pkt); err != nil {
		p.log.DebugPusherCat("rtp write failed", "error", err)
	}
}
