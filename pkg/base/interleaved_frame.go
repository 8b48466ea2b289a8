package base

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// InterleavedFrameMagicByte is the first byte of an interleaved frame.
	InterleavedFrameMagicByte = 0x24

	interleavedFrameHeaderSize = 4
	interleavedFrameMaxPayload = 0xFFFF
	interleavedFrameMaxChannel = 0xFF
)

// InterleavedFrame is a RTP or RTCP packet carried by the control connection
// (TCP, HTTP and WebSocket tunnels).
type InterleavedFrame struct {
	// channel ID, negotiated with the interleaved parameter of the Transport header.
	Channel int

	// payload
	Payload []byte
}

// Unmarshal decodes an interleaved frame.
func (f *InterleavedFrame) Unmarshal(br *bufio.Reader) error {
	var header [interleavedFrameHeaderSize]byte
	_, err := io.ReadFull(br, header[:])
	if err != nil {
		return err
	}

	if header[0] != InterleavedFrameMagicByte {
		return fmt.Errorf("invalid magic byte (0x%.2x)", header[0])
	}

	f.Channel = int(header[1])
	f.Payload = make([]byte, binary.BigEndian.Uint16(header[2:]))

	_, err = io.ReadFull(br, f.Payload)
	return err
}

// MarshalSize returns the size of an InterleavedFrame.
func (f InterleavedFrame) MarshalSize() int {
	return interleavedFrameHeaderSize + len(f.Payload)
}

// MarshalTo writes an InterleavedFrame.
func (f InterleavedFrame) MarshalTo(buf []byte) (int, error) {
	if f.Channel < 0 || f.Channel > interleavedFrameMaxChannel {
		return 0, fmt.Errorf("invalid channel %d", f.Channel)
	}

	if len(f.Payload) > interleavedFrameMaxPayload {
		return 0, fmt.Errorf("payload size (%d) exceeds maximum (%d)", len(f.Payload), interleavedFrameMaxPayload)
	}

	buf[0] = InterleavedFrameMagicByte
	buf[1] = byte(f.Channel)
	binary.BigEndian.PutUint16(buf[2:], uint16(len(f.Payload)))

	return interleavedFrameHeaderSize + copy(buf[interleavedFrameHeaderSize:], f.Payload), nil
}

// Marshal writes an InterleavedFrame.
func (f InterleavedFrame) Marshal() ([]byte, error) {
	buf := make([]byte, f.MarshalSize())
	_, err := f.MarshalTo(buf)
	if err != nil {
		return nil, err
	}
	return buf, nil
}
