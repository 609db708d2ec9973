package codec

import "github.com/pion/rtp"

// H264 NAL unit types relevant to keyframe detection (RFC 6184).
const (
	h264NALUTypeIDR = 5
	h264NALUTypeFUA = 28
	h264NALUTypeFUB = 29
)

// IsH264Keyframe reports whether an RTP packet carries (or begins) an IDR
// NAL unit, per RFC 6184 §5.3/§5.8. Single NAL unit packets are IDR when
// their NAL type is 5; fragmented packets (FU-A/FU-B) are IDR when the
// fragment's NAL type is 5 and the start bit is set.
func IsH264Keyframe(pkt *rtp.Packet) bool {
	if len(pkt.Payload) == 0 {
		return false
	}
	fragmentType := pkt.Payload[0] & 0x1F
	switch fragmentType {
	case h264NALUTypeIDR:
		return true
	case h264NALUTypeFUA, h264NALUTypeFUB:
		if len(pkt.Payload) < 2 {
			return false
		}
		fuHeader := pkt.Payload[1]
		nalType := fuHeader & 0x1F
		startBit := fuHeader&0x80 != 0
		return nalType == h264NALUTypeIDR && startBit
	default:
		return false
	}
}
