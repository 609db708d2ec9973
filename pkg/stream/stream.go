// Package stream holds the runtime registry of live Streams: the mapping
// from a configured stream id to its instantiated video/audio RtpTracks,
// created and torn down as the configuration is synced.
package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethan/rtp-egress-gateway/pkg/gwerrors"
	"github.com/ethan/rtp-egress-gateway/pkg/ingest"
	"github.com/ethan/rtp-egress-gateway/pkg/logger"
	"github.com/ethan/rtp-egress-gateway/pkg/types"
)

// Stream is the runtime instantiation of a StreamDef: zero, one, or two
// RtpTracks (video/audio), owned exclusively by this Stream. Closing it
// cancels the context its tracks were started with, which stops their
// ingest loops and, transitively, any Pusher built against them.
type Stream struct {
	Def   types.StreamDef
	Video *ingest.RtpTrack
	Audio *ingest.RtpTrack

	ctx    context.Context
	cancel context.CancelFunc
}

func newStream(ctx context.Context, def types.StreamDef, log *logger.Logger) (*Stream, error) {
	sctx, cancel := context.WithCancel(ctx)

	s := &Stream{Def: def, ctx: sctx, cancel: cancel}

	if def.Video != nil {
		video, err := ingest.NewRtpTrack(sctx, *def.Video, log)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("stream %q video track: %w", def.ID, err)
		}
		s.Video = video
	}

	if def.Audio != nil {
		audio, err := ingest.NewRtpTrack(sctx, *def.Audio, log)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("stream %q audio track: %w", def.ID, err)
		}
		s.Audio = audio
	}

	return s, nil
}

// Close terminates every RtpTrack this Stream owns.
func (s *Stream) Close() {
	s.cancel()
}

// Done returns a channel that closes when this Stream is closed, either
// directly or because the Registry's own root context was cancelled.
// Pushers built against this Stream's tracks watch this alongside their
// session's own lifetime, so destroying a Stream terminates every Pusher
// that referenced it regardless of which session holds it.
func (s *Stream) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Registry is the Controller's mapping from stream id to live Stream.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Stream

	ctx context.Context
	log *logger.Logger
}

// NewRegistry returns an empty registry. Every Stream it creates is rooted
// under ctx, so cancelling ctx tears every Stream down at once.
func NewRegistry(ctx context.Context, log *logger.Logger) *Registry {
	return &Registry{
		streams: make(map[string]*Stream),
		ctx:     ctx,
		log:     log,
	}
}

// Create instantiates and registers def. Fails if a stream with the same id
// already exists.
func (r *Registry) Create(def types.StreamDef) (*Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createLocked(def)
}

func (r *Registry) createLocked(def types.StreamDef) (*Stream, error) {
	if _, exists := r.streams[def.ID]; exists {
		return nil, fmt.Errorf("stream %q already exists", def.ID)
	}

	s, err := newStream(r.ctx, def, r.log)
	if err != nil {
		return nil, err
	}
	r.streams[def.ID] = s
	return s, nil
}

// Delete removes and closes the stream with the given id. Closing tears
// down its Ingestor loops, per the model's lifetime invariant.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteLocked(id)
}

func (r *Registry) deleteLocked(id string) error {
	s, ok := r.streams[id]
	if !ok {
		return fmt.Errorf("%w: stream %q", gwerrors.ErrNotFound, id)
	}
	delete(r.streams, id)
	s.Close()
	return nil
}

// Get returns the stream with the given id, if present.
func (r *Registry) Get(id string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[id]
	return s, ok
}

// List returns the StreamDef of every currently registered stream.
func (r *Registry) List() []types.StreamDef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]types.StreamDef, 0, len(r.streams))
	for _, s := range r.streams {
		defs = append(defs, s.Def)
	}
	return defs
}

// Sync installs any StreamDef in defs not already present (keyed by id)
// and removes+closes any present stream whose id is absent from defs. A
// stream whose id is present in both but whose definition changed is
// closed and recreated, since a track's port/codec cannot change under a
// live RtpTrack.
func (r *Registry) Sync(defs []types.StreamDef) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	desired := make(map[string]types.StreamDef, len(defs))
	for _, d := range defs {
		desired[d.ID] = d
	}

	for id, existing := range r.streams {
		d, wanted := desired[id]
		if !wanted {
			if err := r.deleteLocked(id); err != nil {
				return err
			}
			continue
		}
		if !sameDef(existing.Def, d) {
			if err := r.deleteLocked(id); err != nil {
				return err
			}
		}
	}

	for id, d := range desired {
		if _, exists := r.streams[id]; exists {
			continue
		}
		if _, err := r.createLocked(d); err != nil {
			return err
		}
	}

	return nil
}

func sameDef(a, b types.StreamDef) bool {
	if a.ID != b.ID || a.Default != b.Default {
		return false
	}
	return sameTrack(a.Video, b.Video) && sameTrack(a.Audio, b.Audio)
}

func sameTrack(a, b *types.TrackDef) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
