// Package rtplossdetector implements an algorithm that detects lost packets.
package rtplossdetector

import (
	"github.com/pion/rtp"
)

// LossDetector detects lost packets by inspecting sequence numbers.
type LossDetector struct {
	initialized    bool
	expectedSeqNum uint16
}

// Process processes a RTP packet.
// It returns the number of packets lost between the previous packet and this one.
// Packets older than the expected one are considered reordered and are not counted.
func (r *LossDetector) Process(pkt *rtp.Packet) uint64 {
	if !r.initialized {
		r.initialized = true
		r.expectedSeqNum = pkt.SequenceNumber + 1
		return 0
	}

	diff := int16(pkt.SequenceNumber - r.expectedSeqNum)

	if diff < 0 {
		return 0
	}

	r.expectedSeqNum = pkt.SequenceNumber + 1
	return uint64(diff)
}

// Reset resets the detector, in order to handle a stream restart.
func (r *LossDetector) Reset() {
	r.initialized = false
}
