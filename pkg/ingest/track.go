package ingest

import (
	"context"
	"fmt"
	"net"

	"github.com/ethan/rtp-egress-gateway/pkg/gwerrors"
	"github.com/ethan/rtp-egress-gateway/pkg/logger"
	"github.com/ethan/rtp-egress-gateway/pkg/netutil"
	"github.com/ethan/rtp-egress-gateway/pkg/types"
	"github.com/pion/rtp"
)

// maxPacketBytes is the transport MTU ceiling a datagram may not exceed.
// A larger datagram indicates the encoder wasn't configured with a
// matching packet size and is treated as fatal for the track, not merely
// dropped.
const maxPacketBytes = 1200

// readBufferBytes is sized above maxPacketBytes so an oversize datagram
// can still be read whole and reported, rather than silently truncated by
// net.UDPConn.ReadFromUDP.
const readBufferBytes = 1600

// RtpTrack ingests UDP RTP packets for one TrackDef, maintaining a
// FastStartBuffer and publishing every parsed packet on a live Bus.
// Lifetime is tied to ctx: cancelling ctx (the parent Stream being torn
// down) stops the ingest loop, the idiomatic-Go replacement for the
// original's Weak-reference-upgrade pattern.
type RtpTrack struct {
	Def types.TrackDef

	buffer *FastStartBuffer
	bus    *Bus

	conn *net.UDPConn
	log  *logger.Logger
}

// NewRtpTrack binds def's socket and starts the ingest loop under ctx. The
// loop runs until ctx is cancelled, the socket fails, or an oversize
// datagram arrives.
func NewRtpTrack(ctx context.Context, def types.TrackDef, log *logger.Logger) (*RtpTrack, error) {
	addr, err := def.SocketAddr()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", gwerrors.ErrBind, err)
	}

	conn, err := netutil.ListenUDP(addr)
	if err != nil {
		return nil, err
	}

	t := &RtpTrack{
		Def:    def,
		buffer: NewFastStartBuffer(),
		bus:    NewBus(),
		conn:   conn,
		log:    log,
	}

	go t.readLoop(ctx, conn)

	return t, nil
}

// Addr reports the bound local address, useful when Def.Port is 0 and the
// OS picked an ephemeral port.
func (t *RtpTrack) Addr() *net.UDPAddr {
	return t.conn.LocalAddr().(*net.UDPAddr)
}

// Snapshot returns the current fast-start buffer contents.
func (t *RtpTrack) Snapshot() []*rtp.Packet {
	return t.buffer.Snapshot()
}

// Subscribe joins the live bus. Callers must subscribe before taking a
// Snapshot for a new Pusher's priming sequence, so no packet falls in a gap
// between the two; a packet ingested between the two calls can appear in
// both.
func (t *RtpTrack) Subscribe() *Subscription {
	return t.bus.Subscribe()
}

func (t *RtpTrack) readLoop(ctx context.Context, conn *net.UDPConn) {
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		// A fresh buffer every read, not one reused across iterations: the
		// parsed packet's Payload aliases this slice (rtp.Packet.Unmarshal
		// doesn't copy), and both the FastStartBuffer and the Bus retain
		// packets past the current loop iteration.
		buf := make([]byte, readBufferBytes)
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			t.log.Error("udp read failed, exiting track ingest", "port", t.Def.Port, "error", err)
			return
		}

		if n > maxPacketBytes {
			t.log.Error("oversize RTP datagram, exiting track ingest",
				"port", t.Def.Port, "size", n, "limit", maxPacketBytes,
				"error", gwerrors.ErrOversizePacket)
			return
		}

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			t.log.DebugIngest("dropping unparseable packet", "error", fmt.Errorf("%w: %w", gwerrors.ErrParse, err))
			continue
		}

		t.buffer.Push(t.Def.Codec, pkt)
		t.bus.Publish(pkt)
	}
}
