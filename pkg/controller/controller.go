// Package controller implements the top-level client registry: one
// ClientSession per client id, reaped automatically on peer-connection
// failure, and the entry points the signalling HTTP surface delegates to.
package controller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethan/rtp-egress-gateway/pkg/gwerrors"
	"github.com/ethan/rtp-egress-gateway/pkg/logger"
	"github.com/ethan/rtp-egress-gateway/pkg/session"
	"github.com/ethan/rtp-egress-gateway/pkg/stream"
	"github.com/ethan/rtp-egress-gateway/pkg/types"
	"github.com/pion/webrtc/v4"
	"golang.org/x/time/rate"
)

// ReapStats summarizes the Controller's reaper activity since startup, for
// the read-only stats endpoint.
type ReapStats struct {
	Count        int64  `json:"count"`
	LastClientID string `json:"last_client_id,omitempty"`
	LastReason   string `json:"last_reason,omitempty"`
}

// Controller maps client ids to ClientSessions, drives per-client stream
// membership synchronization, and reaps sessions whose peer connection has
// failed.
type Controller struct {
	mu      sync.RWMutex
	clients map[string]*session.Session

	registry *stream.Registry
	api      *webrtc.API
	log      *logger.Logger
	ctx      context.Context

	reapedCount atomic.Int64
	reapMu      sync.RWMutex
	lastReapID  string
	lastReapRsn string
}

// New builds a Controller backed by registry for stream lookups. One pion
// API instance is built and shared by every session this Controller
// creates.
func New(ctx context.Context, registry *stream.Registry, log *logger.Logger) (*Controller, error) {
	api, err := session.NewAPI()
	if err != nil {
		return nil, fmt.Errorf("build webrtc api: %w", err)
	}

	return &Controller{
		clients:  make(map[string]*session.Session),
		registry: registry,
		api:      api,
		log:      log,
		ctx:      ctx,
	}, nil
}

// GetOrCreateClient returns the existing session for clientID, or creates
// one and spawns its reaper. Thread-safe; at most one session ever exists
// per client id.
func (c *Controller) GetOrCreateClient(clientID string) (*session.Session, error) {
	c.mu.RLock()
	if s, ok := c.clients[clientID]; ok {
		c.mu.RUnlock()
		return s, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.clients[clientID]; ok {
		return s, nil
	}

	s, err := session.New(c.ctx, c.api, clientID, c.log)
	if err != nil {
		return nil, fmt.Errorf("%w: client %q: %w", gwerrors.ErrClientCreateFailed, clientID, err)
	}

	c.clients[clientID] = s
	c.spawnReaper(clientID, s.WatchFail(), s.FailReason, s.Discard)

	return s, nil
}

// spawnReaper starts the task that, once fail fires, removes clientID from
// the registry, records it in the reap stats via reason, and calls discard.
// Factored out of GetOrCreateClient so it can be exercised without a real
// ClientSession/PeerConnection; reason may be nil, in which case the reap is
// still counted but with an empty reason.
func (c *Controller) spawnReaper(clientID string, fail <-chan struct{}, reason func() string, discard func() error) {
	go func() {
		<-fail

		c.mu.Lock()
		delete(c.clients, clientID)
		c.mu.Unlock()

		rsn := ""
		if reason != nil {
			rsn = reason()
		}
		c.reapedCount.Add(1)
		c.reapMu.Lock()
		c.lastReapID = clientID
		c.lastReapRsn = rsn
		c.reapMu.Unlock()
		c.log.Info("client session reaped", "client_id", clientID, "reason", rsn)

		if err := discard(); err != nil {
			c.log.Error("client session discard failed", "client_id", clientID, "error", err)
		}
	}()
}

// ReapStats returns a snapshot of reaper activity since startup.
func (c *Controller) ReapStats() ReapStats {
	c.reapMu.RLock()
	defer c.reapMu.RUnlock()
	return ReapStats{
		Count:        c.reapedCount.Load(),
		LastClientID: c.lastReapID,
		LastReason:   c.lastReapRsn,
	}
}

// Streams returns the StreamDef of every stream currently registered.
func (c *Controller) Streams() []types.StreamDef {
	return c.registry.List()
}

// ClientCount returns the number of currently tracked client sessions.
func (c *Controller) ClientCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.clients)
}

// Signal resolves or creates clientID's session, reconciles its active
// streams against streamIDs, and performs the SDP offer/answer exchange.
func (c *Controller) Signal(clientID string, streamIDs []string, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	s, err := c.GetOrCreateClient(clientID)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	if err := s.SyncActiveStreams(c.registry, streamIDs); err != nil {
		return webrtc.SessionDescription{}, err
	}

	return s.Signal(offer)
}

// Resync issues a resync on the given streams for an existing client
// session. Fails with ErrNotFound if the client id has no session.
func (c *Controller) Resync(clientID string, streamIDs []string) error {
	c.mu.RLock()
	s, ok := c.clients[clientID]
	c.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: client %q", gwerrors.ErrNotFound, clientID)
	}

	for _, id := range streamIDs {
		s.ResyncStream(id)
	}

	return nil
}

// SyncStreams reconciles the stream registry itself against defs (the
// config-level sync, independent of any one client's subscriptions).
func (c *Controller) SyncStreams(defs []types.StreamDef) error {
	return c.registry.Sync(defs)
}

// StartConfigReload polls reload every interval and applies the result
// via SyncStreams, capped to at most one sync per interval by a token
// bucket even if reload itself returns faster than that — mirroring the
// teacher's QPM-limited MultiStreamManager reconciliation loop. Runs
// until ctx is done; reload or sync errors are logged and do not stop
// the loop, since a transient config-source failure shouldn't tear down
// already-running streams.
func (c *Controller) StartConfigReload(ctx context.Context, reload func() ([]types.StreamDef, error), interval time.Duration) {
	limiter := rate.NewLimiter(rate.Every(interval), 1)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !limiter.Allow() {
					continue
				}

				defs, err := reload()
				if err != nil {
					c.log.Error("config reload failed", "error", err)
					continue
				}

				if err := c.SyncStreams(defs); err != nil {
					c.log.Error("stream sync failed", "error", err)
				}
			}
		}
	}()
}
