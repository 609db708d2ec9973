package codec

import (
	"github.com/ethan/rtp-egress-gateway/pkg/types"
	"github.com/pion/rtp"
)

// IsKeyframe dispatches to the codec-specific detector named by c.
func IsKeyframe(c types.Codec, pkt *rtp.Packet) bool {
	switch c {
	case types.CodecH264:
		return IsH264Keyframe(pkt)
	case types.CodecVP8:
		return IsVP8Keyframe(pkt)
	default:
		return false
	}
}
