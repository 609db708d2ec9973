package pusher

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ethan/rtp-egress-gateway/pkg/ingest"
	"github.com/ethan/rtp-egress-gateway/pkg/logger"
	"github.com/ethan/rtp-egress-gateway/pkg/types"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)
	return log
}

func testTrack(t *testing.T) *webrtc.TrackLocalStaticRTP {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264}, "video", "test_stream")
	require.NoError(t, err)
	return track
}

// newTestSource starts a real RtpTrack on a loopback socket (port 0, OS
// assigned) so the Pusher has a genuine Subscribe/Snapshot pair to drive —
// the same fixture shape pkg/ingest's own tests use.
func newTestSource(t *testing.T, ctx context.Context, codec types.Codec) *ingest.RtpTrack {
	t.Helper()
	trk, err := ingest.NewRtpTrack(ctx, types.TrackDef{Port: 0, Codec: codec}, testLogger(t))
	require.NoError(t, err)
	return trk
}

func sendRTPTo(t *testing.T, addr *net.UDPAddr, ts uint32, seq uint16, keyframe bool) {
	t.Helper()
	nalType := byte(1)
	if keyframe {
		nalType = 5
	}
	pkt := &rtp.Packet{
		Header:  rtp.Header{Timestamp: ts, SequenceNumber: seq, PayloadType: 96},
		Payload: []byte{nalType, 0xAA},
	}
	raw, err := pkt.Marshal()
	require.NoError(t, err)

	conn, err := net.DialUDP("udp4", nil, addr)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(raw)
	require.NoError(t, err)
}

func waitForState(t *testing.T, p *Pusher, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if p.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("pusher never reached state %s, stuck at %s", want, p.State())
}

func TestPusherStartsIdle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trk := newTestSource(t, ctx, types.CodecH264)

	p := New(ctx, testTrack(t), trk, testLogger(t))
	require.Equal(t, StateIdle, p.State())
}

func TestPusherPlayPrimesThenGoesLive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trk := newTestSource(t, ctx, types.CodecH264)

	sendRTPTo(t, trk.Addr(), 1000, 1, true)
	require.Eventually(t, func() bool { return trk.Snapshot() != nil && len(trk.Snapshot()) == 1 },
		time.Second, 10*time.Millisecond)

	p := New(ctx, testTrack(t), trk, testLogger(t))
	require.Equal(t, StateIdle, p.State())

	p.Play()
	waitForState(t, p, StateLive, time.Second)

	p.Kill()
	waitForState(t, p, StateDead, time.Second)
}

func TestPusherStopReturnsToIdle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trk := newTestSource(t, ctx, types.CodecVP8)

	p := New(ctx, testTrack(t), trk, testLogger(t))
	p.Play()
	waitForState(t, p, StateLive, time.Second)

	p.Stop()
	waitForState(t, p, StateIdle, time.Second)

	p.Kill()
	waitForState(t, p, StateDead, time.Second)
}

func TestPusherResyncReprimes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trk := newTestSource(t, ctx, types.CodecH264)

	p := New(ctx, testTrack(t), trk, testLogger(t))
	p.Play()
	waitForState(t, p, StateLive, time.Second)

	p.Resync()
	// Resync passes back through Priming before settling in Live again.
	waitForState(t, p, StateLive, time.Second)

	p.Kill()
	waitForState(t, p, StateDead, time.Second)
}

func TestPusherKillFromIdle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trk := newTestSource(t, ctx, types.CodecH264)

	p := New(ctx, testTrack(t), trk, testLogger(t))
	require.Equal(t, StateIdle, p.State())

	p.Kill()
	waitForState(t, p, StateDead, time.Second)
}

func TestPusherContextCancelKills(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	trk := newTestSource(t, ctx, types.CodecH264)

	p := New(ctx, testTrack(t), trk, testLogger(t))
	p.Play()
	waitForState(t, p, StateLive, time.Second)

	cancel()
	waitForState(t, p, StateDead, time.Second)
}
