package session

import (
	"context"
	"testing"
	"time"

	"github.com/ethan/rtp-egress-gateway/pkg/logger"
	"github.com/ethan/rtp-egress-gateway/pkg/pusher"
	"github.com/ethan/rtp-egress-gateway/pkg/stream"
	"github.com/ethan/rtp-egress-gateway/pkg/types"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)
	return log
}

func camDef(id string) types.StreamDef {
	return types.StreamDef{
		ID:    id,
		Video: &types.TrackDef{Port: 0, Codec: types.CodecH264},
		Audio: &types.TrackDef{Port: 0, Codec: types.CodecVP8},
	}
}

func newTestSession(t *testing.T, ctx context.Context) *Session {
	t.Helper()
	api, err := NewAPI()
	require.NoError(t, err)
	s, err := New(ctx, api, "client1", testLogger(t))
	require.NoError(t, err)
	return s
}

func waitForPusherState(t *testing.T, p *pusher.Pusher, want pusher.State, timeout time.Duration) {
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

func TestSessionAddStreamTracksPushersIdle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := stream.NewRegistry(ctx, testLogger(t))
	st, err := reg.Create(camDef("cam1"))
	require.NoError(t, err)

	s := newTestSession(t, ctx)
	require.NoError(t, s.AddStream(st))

	require.ElementsMatch(t, []string{"cam1"}, s.StreamIDs())

	ts := s.streams["cam1"]
	require.NotNil(t, ts.video)
	require.NotNil(t, ts.audio)
	require.Equal(t, pusher.StateIdle, ts.video.State())
	require.Equal(t, pusher.StateIdle, ts.audio.State())
}

func TestSessionAddStreamIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := stream.NewRegistry(ctx, testLogger(t))
	st, err := reg.Create(camDef("cam1"))
	require.NoError(t, err)

	s := newTestSession(t, ctx)
	require.NoError(t, s.AddStream(st))
	firstVideo := s.streams["cam1"].video

	require.NoError(t, s.AddStream(st))
	require.Same(t, firstVideo, s.streams["cam1"].video, "second AddStream for the same id must be a no-op")
}

func TestSessionConnectedResyncsTrackedPushers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := stream.NewRegistry(ctx, testLogger(t))
	st, err := reg.Create(camDef("cam1"))
	require.NoError(t, err)

	s := newTestSession(t, ctx)
	require.NoError(t, s.AddStream(st))

	s.onConnectionStateChange(webrtc.PeerConnectionStateConnected)

	ts := s.streams["cam1"]
	waitForPusherState(t, ts.video, pusher.StateLive, time.Second)
	waitForPusherState(t, ts.audio, pusher.StateLive, time.Second)
}

func TestSessionRemoveStreamKillsPushersAndUntracks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := stream.NewRegistry(ctx, testLogger(t))
	st, err := reg.Create(camDef("cam1"))
	require.NoError(t, err)

	s := newTestSession(t, ctx)
	require.NoError(t, s.AddStream(st))
	ts := s.streams["cam1"]

	require.NoError(t, s.RemoveStream("cam1"))
	require.Empty(t, s.StreamIDs())

	waitForPusherState(t, ts.video, pusher.StateDead, time.Second)
	waitForPusherState(t, ts.audio, pusher.StateDead, time.Second)
}

func TestSessionRemoveStreamMissingReturnsError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newTestSession(t, ctx)
	err := s.RemoveStream("nope")
	require.Error(t, err)
}

func TestSessionSyncActiveStreamsAddsAndRemoves(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := stream.NewRegistry(ctx, testLogger(t))
	_, err := reg.Create(camDef("cam1"))
	require.NoError(t, err)
	_, err = reg.Create(camDef("cam2"))
	require.NoError(t, err)

	s := newTestSession(t, ctx)

	require.NoError(t, s.SyncActiveStreams(reg, []string{"cam1", "cam2"}))
	require.ElementsMatch(t, []string{"cam1", "cam2"}, s.StreamIDs())

	require.NoError(t, s.SyncActiveStreams(reg, []string{"cam2"}))
	require.ElementsMatch(t, []string{"cam2"}, s.StreamIDs())
}

func TestSessionSyncActiveStreamsSkipsUnknownIDs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := stream.NewRegistry(ctx, testLogger(t))
	s := newTestSession(t, ctx)

	require.NoError(t, s.SyncActiveStreams(reg, []string{"nonexistent"}))
	require.Empty(t, s.StreamIDs())
}

func TestSessionWatchFailFiresOnDisconnected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newTestSession(t, ctx)
	fail := s.WatchFail()

	select {
	case <-fail:
		t.Fatal("fail signal must not have fired yet")
	default:
	}

	s.onConnectionStateChange(webrtc.PeerConnectionStateDisconnected)

	select {
	case <-fail:
	case <-time.After(time.Second):
		t.Fatal("fail signal should have fired on Disconnected")
	}

	// Firing twice (e.g. Disconnected then Failed) must not panic.
	require.NotPanics(t, func() { s.onConnectionStateChange(webrtc.PeerConnectionStateFailed) })
}

func TestSessionDiscardKillsTrackedPushers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := stream.NewRegistry(ctx, testLogger(t))
	st, err := reg.Create(camDef("cam1"))
	require.NoError(t, err)

	s := newTestSession(t, ctx)
	require.NoError(t, s.AddStream(st))
	ts := s.streams["cam1"]

	require.NoError(t, s.Discard())

	waitForPusherState(t, ts.video, pusher.StateDead, time.Second)
	waitForPusherState(t, ts.audio, pusher.StateDead, time.Second)
}

// TestSessionPusherDiesWhenSourceStreamDeleted verifies that destroying
// the source Stream (independent of this session's own lifetime) also
// terminates the Pushers built on it.
func TestSessionPusherDiesWhenSourceStreamDeleted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := stream.NewRegistry(ctx, testLogger(t))
	st, err := reg.Create(camDef("cam1"))
	require.NoError(t, err)

	s := newTestSession(t, ctx)
	require.NoError(t, s.AddStream(st))
	ts := s.streams["cam1"]

	require.NoError(t, reg.Delete("cam1"))

	waitForPusherState(t, ts.video, pusher.StateDead, time.Second)
	waitForPusherState(t, ts.audio, pusher.StateDead, time.Second)
}
