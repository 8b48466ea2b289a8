package clocksync

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

func h264IsRandomAccessNALU(typ h264.NALUType) bool {
	return typ == h264.NALUTypeIDR || typ == h264.NALUTypeSPS
}

// h264IsRandomAccess returns whether a RTP/H264 payload starts a random access unit.
func h264IsRandomAccess(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}

	typ := h264.NALUType(payload[0] & 0x1F)

	switch typ {
	case h264.NALUTypeSTAPA:
		payload = payload[1:]

		for len(payload) >= 2 {
			size := int(payload[0])<<8 | int(payload[1])
			payload = payload[2:]

			if size == 0 || size > len(payload) {
				return false
			}

			if h264IsRandomAccessNALU(h264.NALUType(payload[0] & 0x1F)) {
				return true
			}

			payload = payload[size:]
		}
		return false

	case h264.NALUTypeFUA:
		if len(payload) < 2 {
			return false
		}

		start := payload[1] >> 7
		if start != 1 {
			return false
		}

		return h264IsRandomAccessNALU(h264.NALUType(payload[1] & 0x1F))
	}

	return h264IsRandomAccessNALU(typ)
}
