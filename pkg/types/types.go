// Package types holds the shared, codec-agnostic descriptors for streams and
// tracks that every other package in the gateway depends on.
package types

import (
	"fmt"
	"net"

	"github.com/pion/webrtc/v4"
)

// Codec identifies the payload format of a video track. Only the two codecs
// the gateway's keyframe detector understands are supported.
type Codec string

const (
	CodecH264 Codec = "H264"
	CodecVP8  Codec = "VP8"
)

// MimeType returns the WebRTC MIME type for the codec.
func (c Codec) MimeType() (string, error) {
	switch c {
	case CodecH264:
		return webrtc.MimeTypeH264, nil
	case CodecVP8:
		return webrtc.MimeTypeVP8, nil
	default:
		return "", fmt.Errorf("unknown codec %q", c)
	}
}

// TrackDef describes one UDP-sourced media track.
type TrackDef struct {
	Port  uint16 `json:"port"`
	IP    string `json:"ip,omitempty"`
	Codec Codec  `json:"codec"`
}

// SocketAddr resolves the (ip, port) pair to bind or join, defaulting to
// loopback when IP is unset.
func (t TrackDef) SocketAddr() (*net.UDPAddr, error) {
	ip := net.IPv4(127, 0, 0, 1)
	if t.IP != "" {
		parsed := net.ParseIP(t.IP)
		if parsed == nil {
			return nil, fmt.Errorf("invalid track ip %q", t.IP)
		}
		ip = parsed
	}
	return &net.UDPAddr{IP: ip, Port: int(t.Port)}, nil
}

// StreamDef is the user-supplied description of a logical stream, as it
// appears in the configuration document (see pkg/config).
type StreamDef struct {
	ID      string    `json:"id"`
	Default bool      `json:"default,omitempty"`
	Video   *TrackDef `json:"video,omitempty"`
	Audio   *TrackDef `json:"audio,omitempty"`
}

// Validate checks the subset of invariants spec.md requires at config-load
// time: a non-empty id and a known codec per declared track. Uniqueness of
// ids across streams is checked by config.Config.Validate, not here.
func (s StreamDef) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("stream definition missing id")
	}
	if s.Video != nil {
		if _, err := s.Video.Codec.MimeType(); err != nil {
			return fmt.Errorf("stream %q video: %w", s.ID, err)
		}
	}
	if s.Audio != nil {
		if _, err := s.Audio.Codec.MimeType(); err != nil {
			return fmt.Errorf("stream %q audio: %w", s.ID, err)
		}
	}
	return nil
}
