// Package session implements ClientSession: one WebRTC peer connection,
// the Pushers it drives, SDP signalling, and peer-connection-state-driven
// lifecycle.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethan/rtp-egress-gateway/pkg/gwerrors"
	"github.com/ethan/rtp-egress-gateway/pkg/ingest"
	"github.com/ethan/rtp-egress-gateway/pkg/logger"
	"github.com/ethan/rtp-egress-gateway/pkg/pusher"
	"github.com/ethan/rtp-egress-gateway/pkg/stream"
	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
)

// resyncAfterConnectDelay is the pause before priming a just-added stream's
// Pusher when the peer is already Connected at add-stream time, giving the
// peer connection's DTLS/SRTP setup a moment to settle before the keyframe
// prelude is written. Heuristic, not load-bearing for correctness.
const resyncAfterConnectDelay = 100 * time.Millisecond

// NewAPI builds the shared pion API instance every ClientSession is
// constructed with: default codecs plus the default interceptor set (RTCP
// reports, NACK, etc). One API is safe to reuse across peer connections, so
// the Controller builds it once and hands it to every session.New call.
func NewAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register default codecs: %w", err)
	}

	i := &interceptor.Registry{}

	// A browser that stalls on a lost keyframe sends PLI on its own, but
	// this interceptor also issues one on a fixed interval so a sender
	// that never got the initial request still recovers. The gateway
	// can't act on PLI itself (no encoder to re-key, see Non-goals on
	// active keyframe requests); RTCP arriving on its senders is read and
	// discarded by drainRTCP without being logged.
	pliFactory, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("build interval PLI interceptor: %w", err)
	}
	i.Add(pliFactory)

	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register default interceptors: %w", err)
	}

	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i)), nil
}

// trackedStream binds a live Stream to this session: the Pusher forwarding
// it, the WebRTC sender it was added through, and the Stream it came from.
type trackedStream struct {
	stream *stream.Stream
	video  *pusher.Pusher
	audio  *pusher.Pusher

	videoSender *webrtc.RTPSender
	audioSender *webrtc.RTPSender
}

// Session owns one WebRTC peer connection for one client_id.
type Session struct {
	ClientID string

	pc  *webrtc.PeerConnection
	log *logger.Logger

	mu      sync.RWMutex
	streams map[string]*trackedStream

	signalling sync.Mutex

	failOnce sync.Once
	failCh   chan struct{}
	failMu   sync.RWMutex
	failRsn  string

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Session's peer connection and starts its state observer
// task. The session begins empty; streams are attached via AddStream or
// SyncActiveStreams.
func New(ctx context.Context, api *webrtc.API, clientID string, log *logger.Logger) (*Session, error) {
	config := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{},
	}

	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", gwerrors.ErrSignallingFailed, err)
	}

	sctx, cancel := context.WithCancel(ctx)

	s := &Session{
		ClientID: clientID,
		pc:       pc,
		log:      log,
		streams:  make(map[string]*trackedStream),
		failCh:   make(chan struct{}),
		ctx:      sctx,
		cancel:   cancel,
	}

	pc.OnConnectionStateChange(s.onConnectionStateChange)

	return s, nil
}

// onConnectionStateChange is the peer-connection state observer: Connected
// resyncs every current Pusher so the client gets a fresh keyframe prelude
// once DTLS/SRTP is actually flowing; Disconnected or Failed fires the
// failure signal exactly once. Intermediate states are logged only.
func (s *Session) onConnectionStateChange(state webrtc.PeerConnectionState) {
	s.log.DebugSessionCat("peer connection state change", "client_id", s.ClientID, "state", state.String())

	switch state {
	case webrtc.PeerConnectionStateConnected:
		s.mu.RLock()
		defer s.mu.RUnlock()
		for id, ts := range s.streams {
			if ts.video != nil {
				ts.video.Resync()
			}
			if ts.audio != nil {
				ts.audio.Resync()
			}
			s.log.DebugSessionCat("resyncing stream on connect", "client_id", s.ClientID, "stream_id", id)
		}
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
		s.fail(state.String())
	}
}

func (s *Session) fail(reason string) {
	s.failOnce.Do(func() {
		s.failMu.Lock()
		s.failRsn = reason
		s.failMu.Unlock()
		close(s.failCh)
	})
}

// WatchFail returns a channel that closes exactly once, when the peer
// connection enters a terminal failure state.
func (s *Session) WatchFail() <-chan struct{} {
	return s.failCh
}

// FailReason returns the peer connection state string that triggered this
// session's failure, or "" if it hasn't failed (or was discarded cleanly
// without ever reaching Disconnected/Failed). Read by the Controller's
// reaper for its reaped-session bookkeeping.
func (s *Session) FailReason() string {
	s.failMu.RLock()
	defer s.failMu.RUnlock()
	return s.failRsn
}

// Signal performs the non-trickle SDP offer/answer exchange. Only one
// Signal call may be in flight per session; concurrent callers queue on
// the signalling mutex.
func (s *Session) Signal(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	s.signalling.Lock()
	defer s.signalling.Unlock()

	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: set remote description: %w", gwerrors.ErrSignallingFailed, err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(s.pc)

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: create answer: %w", gwerrors.ErrSignallingFailed, err)
	}

	if err := s.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: set local description: %w", gwerrors.ErrSignallingFailed, err)
	}

	select {
	case <-gatherComplete:
	case <-s.ctx.Done():
		return webrtc.SessionDescription{}, fmt.Errorf("%w: session closed during ICE gathering", gwerrors.ErrSignallingFailed)
	}

	local := s.pc.LocalDescription()
	if local == nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: local description generation failed", gwerrors.ErrSignallingFailed)
	}

	return *local, nil
}

// AddStream attaches st's video and audio tracks (whichever are present) to
// this session: a Pusher and WebRTC sender are created for each, and an
// RTCP drain goroutine is spawned per sender. Idempotent per stream id —
// a second call with the same id is a no-op.
func (s *Session) AddStream(st *stream.Stream) error {
	s.mu.Lock()
	if _, exists := s.streams[st.Def.ID]; exists {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	ts := &trackedStream{stream: st}

	if st.Video != nil {
		sender, p, err := s.attachTrack(st.Video, st.Def.ID, "video", st.Done())
		if err != nil {
			return err
		}
		ts.videoSender = sender
		ts.video = p
	}

	if st.Audio != nil {
		sender, p, err := s.attachTrack(st.Audio, st.Def.ID, "audio", st.Done())
		if err != nil {
			return err
		}
		ts.audioSender = sender
		ts.audio = p
	}

	s.mu.Lock()
	s.streams[st.Def.ID] = ts
	s.mu.Unlock()

	// A fresh Pusher starts Idle; normally it begins playing once this
	// session's peer connection reaches Connected and the state observer
	// resyncs every tracked stream. If the peer is already Connected at
	// add-stream time, that transition has already fired and won't fire
	// again, so schedule the prelude resync directly, after a short delay
	// for the new sender's DTLS/SRTP to settle.
	if s.pc.ConnectionState() == webrtc.PeerConnectionStateConnected {
		go func() {
			time.Sleep(resyncAfterConnectDelay)
			if ts.video != nil {
				ts.video.Resync()
			}
			if ts.audio != nil {
				ts.audio.Resync()
			}
		}()
	}

	return nil
}

// attachTrack creates a WebRTC sending track and Pusher for one source
// RtpTrack, adds the sender to the peer connection, and spawns a goroutine
// that drains and discards its RTCP feedback until the session is closed.
// The Pusher's lifetime is bound to whichever ends first: this session
// (s.ctx done) or the source Stream being torn down (streamDone closed) —
// so a client disconnecting and a stream being deleted both reliably kill
// the Pushers built on it.
func (s *Session) attachTrack(source *ingest.RtpTrack, streamID, kind string, streamDone <-chan struct{}) (*webrtc.RTPSender, *pusher.Pusher, error) {
	mime, err := source.Def.Codec.MimeType()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", gwerrors.ErrConfig, err)
	}

	// The stream-group id (msid) gets a random suffix so two clients
	// subscribing to the same stream_id are distinguishable WebRTC
	// streams rather than colliding on one group id.
	groupID := streamID + "-" + uuid.NewString()

	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: mime}, kind, groupID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: create %s track: %w", gwerrors.ErrSignallingFailed, kind, err)
	}

	sender, err := s.pc.AddTrack(track)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: add %s track: %w", gwerrors.ErrSignallingFailed, kind, err)
	}

	go s.drainRTCP(sender, streamID, kind)

	pusherCtx, cancel := context.WithCancel(s.ctx)
	go func() {
		defer cancel()
		select {
		case <-s.ctx.Done():
		case <-streamDone:
		}
	}()

	p := pusher.New(pusherCtx, track, source, s.log)

	return sender, p, nil
}

// drainRTCP reads and discards RTCP feedback for a sender until it errors
// (track removed, peer connection closed) or the session's context ends.
func (s *Session) drainRTCP(sender *webrtc.RTPSender, streamID, kind string) {
	for {
		if _, _, err := sender.ReadRTCP(); err != nil {
			select {
			case <-s.ctx.Done():
			default:
				s.log.DebugSessionCat("rtcp reader stopped", "client_id", s.ClientID,
					"stream_id", streamID, "kind", kind, "error", err)
			}
			return
		}
	}
}

// RemoveStream detaches the stream with the given id: its senders are
// removed from the peer connection, its Pushers killed, and it is dropped
// from the session's map. Fails with ErrNotFound if the id isn't tracked.
func (s *Session) RemoveStream(streamID string) error {
	s.mu.Lock()
	ts, ok := s.streams[streamID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: stream %q", gwerrors.ErrNotFound, streamID)
	}
	delete(s.streams, streamID)
	s.mu.Unlock()

	if ts.videoSender != nil {
		if err := s.pc.RemoveTrack(ts.videoSender); err != nil {
			s.log.DebugSessionCat("remove video sender failed", "client_id", s.ClientID, "stream_id", streamID, "error", err)
		}
		ts.video.Kill()
	}
	if ts.audioSender != nil {
		if err := s.pc.RemoveTrack(ts.audioSender); err != nil {
			s.log.DebugSessionCat("remove audio sender failed", "client_id", s.ClientID, "stream_id", streamID, "error", err)
		}
		ts.audio.Kill()
	}

	return nil
}

// StreamIDs returns the ids of every stream currently tracked by this
// session.
func (s *Session) StreamIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.streams))
	for id := range s.streams {
		ids = append(ids, id)
	}
	return ids
}

// streamResolver resolves a stream id to a live Stream, satisfied by
// *stream.Registry.
type streamResolver interface {
	Get(id string) (*stream.Stream, bool)
}

// SyncActiveStreams reconciles this session's tracked streams against
// desiredIDs: streams in desired-but-not-current are added, streams in
// current-but-not-desired are removed. Stream lookups go through resolver
// (the Controller's stream registry). Unknown ids are silently skipped,
// mirroring the source's "only sync what the registry actually has".
func (s *Session) SyncActiveStreams(resolver streamResolver, desiredIDs []string) error {
	desired := make(map[string]struct{}, len(desiredIDs))
	for _, id := range desiredIDs {
		desired[id] = struct{}{}
	}

	current := s.StreamIDs()
	currentSet := make(map[string]struct{}, len(current))
	for _, id := range current {
		currentSet[id] = struct{}{}
	}

	for id := range desired {
		if _, ok := currentSet[id]; ok {
			continue
		}
		st, ok := resolver.Get(id)
		if !ok {
			s.log.DebugSessionCat("sync: stream not found, skipping", "client_id", s.ClientID, "stream_id", id)
			continue
		}
		if err := s.AddStream(st); err != nil {
			return err
		}
	}

	for id := range currentSet {
		if _, ok := desired[id]; ok {
			continue
		}
		if err := s.RemoveStream(id); err != nil {
			return err
		}
	}

	return nil
}

// ResyncStream issues a resync on the Pusher(s) for streamID if the peer
// connection is currently Connected; otherwise it is a silent no-op.
func (s *Session) ResyncStream(streamID string) {
	if s.pc.ConnectionState() != webrtc.PeerConnectionStateConnected {
		return
	}

	s.mu.RLock()
	ts, ok := s.streams[streamID]
	s.mu.RUnlock()
	if !ok {
		return
	}

	if ts.video != nil {
		ts.video.Resync()
	}
	if ts.audio != nil {
		ts.audio.Resync()
	}
}

// Discard closes the peer connection and cancels the session's context,
// which kills every Pusher via its shared ctx.Done() case.
func (s *Session) Discard() error {
	s.cancel()
	return s.pc.Close()
}
