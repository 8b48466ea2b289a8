package mikey

import (
	"encoding/binary"
	"fmt"
)

// DataType is a message data type.
type DataType uint8

// RFC3830, Table 6.1.a
const (
	DataTypeInitiatorPSK DataType = 0
)

// CSIDMapType is a CS ID map type.
type CSIDMapType uint8

// RFC3830, Table 6.1.d
const (
	CSIDMapTypeSRTPID CSIDMapType = 0
)

const (
	headerSize      = 10
	srtpIDEntrySize = 9
)

// SRTPIDEntry is an entry of a SRTP-ID map.
// It binds a SSRC and its rollover counter to a security policy.
type SRTPIDEntry struct {
	PolicyNo uint8
	SSRC     uint32
	ROC      uint32
}

// Header is a MIKEY common header.
type Header struct {
	Version     uint8
	DataType    DataType
	V           bool
	PRFFunc     uint8
	CSBID       uint32
	CSIDMapType CSIDMapType
	CSIDMapInfo []SRTPIDEntry
}

func (h *Header) unmarshal(buf []byte) (int, payloadType, error) {
	if len(buf) < headerSize {
		return 0, 0, fmt.Errorf("header too short")
	}

	h.Version = buf[0]
	if h.Version != 1 {
		return 0, 0, fmt.Errorf("unsupported version: %v", h.Version)
	}

	h.DataType = DataType(buf[1])
	if h.DataType != DataTypeInitiatorPSK {
		return 0, 0, fmt.Errorf("unsupported data type: %v", h.DataType)
	}

	next := payloadType(buf[2])

	h.V = (buf[3] & 0x80) != 0
	h.PRFFunc = buf[3] & 0x7F

	if h.V {
		return 0, 0, fmt.Errorf("verification messages are not supported")
	}

	if h.PRFFunc != 0 {
		return 0, 0, fmt.Errorf("unsupported PRF function: %v", h.PRFFunc)
	}

	h.CSBID = binary.BigEndian.Uint32(buf[4:])
	count := int(buf[8])

	h.CSIDMapType = CSIDMapType(buf[9])
	if h.CSIDMapType != CSIDMapTypeSRTPID {
		return 0, 0, fmt.Errorf("unsupported map type: %d", h.CSIDMapType)
	}

	n := headerSize
	if len(buf[n:]) < count*srtpIDEntrySize {
		return 0, 0, fmt.Errorf("header too short")
	}

	h.CSIDMapInfo = make([]SRTPIDEntry, count)

	for i := range h.CSIDMapInfo {
		h.CSIDMapInfo[i] = SRTPIDEntry{
			PolicyNo: buf[n],
			SSRC:     binary.BigEndian.Uint32(buf[n+1:]),
			ROC:      binary.BigEndian.Uint32(buf[n+5:]),
		}
		n += srtpIDEntrySize
	}

	return n, next, nil
}

func (h Header) marshalSize() int {
	return headerSize + len(h.CSIDMapInfo)*srtpIDEntrySize
}

func (h Header) marshalTo(buf []byte, next payloadType) (int, error) {
	if len(h.CSIDMapInfo) > 255 {
		return 0, fmt.Errorf("too many SRTP-ID entries")
	}

	buf[0] = h.Version
	buf[1] = byte(h.DataType)
	buf[2] = byte(next)
	buf[3] = h.PRFFunc & 0x7F
	if h.V {
		buf[3] |= 0x80
	}
	binary.BigEndian.PutUint32(buf[4:], h.CSBID)
	buf[8] = byte(len(h.CSIDMapInfo))
	buf[9] = byte(h.CSIDMapType)
	n := headerSize

	for _, e := range h.CSIDMapInfo {
		buf[n] = e.PolicyNo
		binary.BigEndian.PutUint32(buf[n+1:], e.SSRC)
		binary.BigEndian.PutUint32(buf[n+5:], e.ROC)
		n += srtpIDEntrySize
	}

	return n, nil
}
