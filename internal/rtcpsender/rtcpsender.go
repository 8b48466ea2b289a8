// Package rtcpsender contains a utility to generate RTCP sender reports
// for streams written by the client, like backchannels.
package rtcpsender

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/bluenviron/rtspengine/pkg/ntp"
)

// RTCPSender is a utility to generate RTCP sender reports.
type RTCPSender struct {
	// clock rate of the stream.
	ClockRate int

	// period of sender reports.
	Period time.Duration

	// time.Now function.
	TimeNow func() time.Time

	// called when a sender report is ready to be written.
	WritePacketRTCP func(rtcp.Packet)

	mutex sync.Mutex

	initialized        bool
	lastTimeRTP        uint32
	lastTimeNTP        time.Time
	lastTimeSystem     time.Time
	localSSRC          uint32
	lastSequenceNumber uint16
	packetCount        uint32
	octetCount         uint32

	terminate chan struct{}
	done      chan struct{}
}

// Initialize initializes RTCPSender.
func (rs *RTCPSender) Initialize() error {
	if rs.ClockRate <= 0 {
		return fmt.Errorf("invalid ClockRate")
	}
	if rs.Period <= 0 {
		return fmt.Errorf("invalid Period")
	}
	if rs.TimeNow == nil {
		rs.TimeNow = time.Now
	}

	rs.terminate = make(chan struct{})
	rs.done = make(chan struct{})

	go rs.run()

	return nil
}

// Close closes RTCPSender.
func (rs *RTCPSender) Close() {
	close(rs.terminate)
	<-rs.done
}

func (rs *RTCPSender) run() {
	defer close(rs.done)

	t := time.NewTicker(rs.Period)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			if sr := rs.Report(); sr != nil {
				rs.WritePacketRTCP(sr)
			}

		case <-rs.terminate:
			return
		}
	}
}

// Report returns a sender report describing the current state of the stream,
// or nil if no packet has been sent yet.
func (rs *RTCPSender) Report() *rtcp.SenderReport {
	rs.mutex.Lock()
	defer rs.mutex.Unlock()

	if !rs.initialized {
		return nil
	}

	elapsed := rs.TimeNow().Sub(rs.lastTimeSystem)

	return &rtcp.SenderReport{
		SSRC:        rs.localSSRC,
		NTPTime:     ntp.Encode(rs.lastTimeNTP.Add(elapsed)),
		RTPTime:     rs.lastTimeRTP + uint32(elapsed.Seconds()*float64(rs.ClockRate)),
		PacketCount: rs.packetCount,
		OctetCount:  rs.octetCount,
	}
}

// ProcessPacket extracts data from a RTP packet that is being sent.
// ntp is the absolute time of the packet.
func (rs *RTCPSender) ProcessPacket(pkt *rtp.Packet, ntp time.Time) {
	rs.mutex.Lock()
	defer rs.mutex.Unlock()

	rs.initialized = true
	rs.lastTimeRTP = pkt.Timestamp
	rs.lastTimeNTP = ntp
	rs.lastTimeSystem = rs.TimeNow()
	rs.localSSRC = pkt.SSRC
	rs.lastSequenceNumber = pkt.SequenceNumber
	rs.packetCount++
	rs.octetCount += uint32(len(pkt.Payload))
}

// Stats are statistics.
type Stats struct {
	LocalSSRC          uint32
	LastSequenceNumber uint16
	LastRTP            uint32
	LastNTP            time.Time
	PacketCount        uint32
	OctetCount         uint32
}

// Stats returns statistics.
func (rs *RTCPSender) Stats() *Stats {
	rs.mutex.Lock()
	defer rs.mutex.Unlock()

	if !rs.initialized {
		return nil
	}

	return &Stats{
		LocalSSRC:          rs.localSSRC,
		LastSequenceNumber: rs.lastSequenceNumber,
		LastRTP:            rs.lastTimeRTP,
		LastNTP:            rs.lastTimeNTP,
		PacketCount:        rs.packetCount,
		OctetCount:         rs.octetCount,
	}
}
