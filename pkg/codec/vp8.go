package codec

import "github.com/pion/rtp"

// IsVP8Keyframe reports whether an RTP packet starts a VP8 keyframe, per
// the payload descriptor in RFC 7741 §4.2/§4.3: the packet must begin
// partition 0 (S=1, PID=0) of a frame whose payload header P bit is 0.
func IsVP8Keyframe(pkt *rtp.Packet) bool {
	b := pkt.Payload
	if len(b) == 0 {
		return false
	}

	x := b[0]&0x80 != 0
	s := b[0]&0x10 != 0
	pid := b[0] & 0x0F
	b = b[1:]

	if x {
		if len(b) == 0 {
			return false
		}
		i := b[0]&0x80 != 0
		l := b[0]&0x40 != 0
		t := b[0]&0x20 != 0
		k := b[0]&0x10 != 0
		b = b[1:]

		if i {
			if len(b) == 0 {
				return false
			}
			if b[0]&0x80 != 0 {
				// 16-bit picture ID.
				if len(b) < 2 {
					return false
				}
				b = b[2:]
			} else {
				b = b[1:]
			}
		}
		if l {
			if len(b) == 0 {
				return false
			}
			b = b[1:]
		}
		if t || k {
			if len(b) == 0 {
				return false
			}
			b = b[1:]
		}
	}

	if len(b) == 0 {
		return false
	}
	pBit := b[0]&0x01 != 0

	return s && pid == 0 && !pBit
}
