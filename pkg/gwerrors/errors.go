// Package gwerrors defines the sentinel error kinds the gateway wraps with
// context via fmt.Errorf's %w, so callers can classify failures with
// errors.Is regardless of which layer produced them.
package gwerrors

import "errors"

var (
	// ErrConfig marks a configuration document that is missing, malformed,
	// or fails validation before the gateway starts serving.
	ErrConfig = errors.New("config error")

	// ErrBind marks a failure to bind or join a UDP socket for a track.
	ErrBind = errors.New("bind error")

	// ErrParse marks a packet the gateway could not interpret as RTP, as
	// opposed to one it understood and chose to drop.
	ErrParse = errors.New("parse error")

	// ErrOversizePacket marks a UDP datagram larger than the configured MTU
	// ceiling; it ends that track's ingest loop rather than being dropped.
	ErrOversizePacket = errors.New("oversize packet")

	// ErrSignallingFailed marks a failure to complete the SDP offer/answer
	// exchange for a client session.
	ErrSignallingFailed = errors.New("signalling failed")

	// ErrClientCreateFailed marks a failure to construct a new client
	// session (its PeerConnection), distinct from ErrSignallingFailed so
	// the HTTP layer can tell "couldn't even create the client" (401) apart
	// from "created the client but the SDP exchange itself failed" (500).
	ErrClientCreateFailed = errors.New("client creation failed")

	// ErrPeerFailed marks a pion PeerConnection that moved to Failed or
	// Disconnected outside of an operator-initiated teardown.
	ErrPeerFailed = errors.New("peer connection failed")

	// ErrNotFound marks a lookup against the stream or client registry that
	// found nothing for the given id.
	ErrNotFound = errors.New("not found")

	// ErrBackpressureLoss marks packets lost by a live-bus subscriber that
	// could not keep up; the subscriber itself stays subscribed.
	ErrBackpressureLoss = errors.New("backpressure loss")
)
