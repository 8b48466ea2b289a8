// Package rtpreceiver contains a utility to collect reception statistics
// of a RTP stream and generate RTCP receiver reports.
package rtpreceiver

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/bluenviron/rtspengine/internal/rtplossdetector"
	"github.com/bluenviron/rtspengine/pkg/ntp"
)

// Receiver collects reception statistics of a RTP stream. It is in charge of:
// - removing packets with wrong SSRC
// - counting lost packets
// - computing interarrival jitter
// - generating RTCP receiver reports
type Receiver struct {
	// clock rate of the stream.
	ClockRate int

	// local SSRC.
	LocalSSRC uint32

	// period of RTCP receiver reports.
	Period time.Duration

	// time.Now function.
	TimeNow func() time.Time

	// called when a RTCP receiver report is ready to be written.
	WritePacketRTCP func(rtcp.Packet)

	mutex sync.Mutex

	lossDetector rtplossdetector.LossDetector

	// data from RTP packets
	firstRTPPacketReceived bool
	sequenceNumberCycles   uint16
	lastSequenceNumber     uint16
	remoteSSRC             uint32
	lastTimeRTP            uint32
	lastTimeSystem         time.Time
	totalReceived          uint64
	totalLost              uint32
	lostSinceReport        uint32
	receivedSinceReport    uint32
	jitter                 float64

	// data from RTCP packets
	firstSenderReportReceived  bool
	lastSenderReportTimeNTP    uint64
	lastSenderReportTimeSystem time.Time

	terminate chan struct{}
	done      chan struct{}
}

// Initialize initializes Receiver.
func (rr *Receiver) Initialize() error {
	if rr.ClockRate <= 0 {
		return fmt.Errorf("invalid ClockRate")
	}

	if rr.Period <= 0 {
		return fmt.Errorf("invalid Period")
	}

	if rr.TimeNow == nil {
		rr.TimeNow = time.Now
	}

	rr.terminate = make(chan struct{})
	rr.done = make(chan struct{})

	go rr.run()

	return nil
}

// Close closes the Receiver.
func (rr *Receiver) Close() {
	close(rr.terminate)
	<-rr.done
}

func (rr *Receiver) run() {
	defer close(rr.done)

	t := time.NewTicker(rr.Period)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			if report := rr.Report(); report != nil && rr.WritePacketRTCP != nil {
				rr.WritePacketRTCP(report)
			}

		case <-rr.terminate:
			return
		}
	}
}

// Report returns a receiver report and resets the per-report counters.
// It returns nil when no packet has been received yet.
func (rr *Receiver) Report() *rtcp.ReceiverReport {
	rr.mutex.Lock()
	defer rr.mutex.Unlock()

	if !rr.firstRTPPacketReceived {
		return nil
	}

	report := &rtcp.ReceiverReport{
		SSRC: rr.LocalSSRC,
		Reports: []rtcp.ReceptionReport{
			{
				SSRC:               rr.remoteSSRC,
				LastSequenceNumber: uint32(rr.sequenceNumberCycles)<<16 | uint32(rr.lastSequenceNumber),
				TotalLost:          rr.totalLost,
				Jitter:             uint32(rr.jitter),
			},
		},
	}

	expected := rr.receivedSinceReport + rr.lostSinceReport
	if expected != 0 {
		// integer part of the loss fraction multiplied by 256
		report.Reports[0].FractionLost = uint8(uint64(rr.lostSinceReport) * 256 / uint64(expected))
	}

	if rr.firstSenderReportReceived {
		report.Reports[0].LastSenderReport = ntp.Middle32(rr.lastSenderReportTimeNTP)

		// delay since the last sender report, in units of 1/65536 seconds
		report.Reports[0].Delay = uint32(rr.TimeNow().Sub(rr.lastSenderReportTimeSystem).Seconds() * 65536)
	}

	rr.lostSinceReport = 0
	rr.receivedSinceReport = 0

	return report
}

// ProcessPacket processes an incoming RTP packet.
// It returns the number of packets lost before this one.
func (rr *Receiver) ProcessPacket(pkt *rtp.Packet, system time.Time) (uint64, error) {
	rr.mutex.Lock()
	defer rr.mutex.Unlock()

	if !rr.firstRTPPacketReceived {
		rr.firstRTPPacketReceived = true
		rr.remoteSSRC = pkt.SSRC
		rr.lastSequenceNumber = pkt.SequenceNumber
		rr.lastTimeRTP = pkt.Timestamp
		rr.lastTimeSystem = system
		rr.totalReceived = 1
		rr.receivedSinceReport = 1
		rr.lossDetector.Process(pkt)
		return 0, nil
	}

	if pkt.SSRC != rr.remoteSSRC {
		return 0, fmt.Errorf("received packet with wrong SSRC %d, expected %d", pkt.SSRC, rr.remoteSSRC)
	}

	lost := rr.lossDetector.Process(pkt)

	rr.totalLost += uint32(lost)
	rr.lostSinceReport += uint32(lost)

	// allow up to 24 bits
	if rr.totalLost > 0xFFFFFF {
		rr.totalLost = 0xFFFFFF
	}

	rr.totalReceived++
	rr.receivedSinceReport++

	diff := int16(pkt.SequenceNumber - rr.lastSequenceNumber)
	if diff > 0 {
		if pkt.SequenceNumber < rr.lastSequenceNumber {
			rr.sequenceNumberCycles++
		}
		rr.lastSequenceNumber = pkt.SequenceNumber
	}

	// https://datatracker.ietf.org/doc/html/rfc3550#appendix-A.8
	d := system.Sub(rr.lastTimeSystem).Seconds()*float64(rr.ClockRate) -
		(float64(pkt.Timestamp) - float64(rr.lastTimeRTP))
	if d < 0 {
		d = -d
	}
	rr.jitter += (d - rr.jitter) / 16

	rr.lastTimeRTP = pkt.Timestamp
	rr.lastTimeSystem = system

	return lost, nil
}

// ProcessSenderReport processes an incoming RTCP sender report.
func (rr *Receiver) ProcessSenderReport(sr *rtcp.SenderReport, system time.Time) {
	rr.mutex.Lock()
	defer rr.mutex.Unlock()

	rr.firstSenderReportReceived = true
	rr.lastSenderReportTimeNTP = sr.NTPTime
	rr.lastSenderReportTimeSystem = system
}

// Stats are statistics.
type Stats struct {
	RemoteSSRC         uint32
	LastSequenceNumber uint16
	LastRTP            uint32
	TotalReceived      uint64
	TotalLost          uint32
	Jitter             float64
}

// Stats returns statistics.
func (rr *Receiver) Stats() *Stats {
	rr.mutex.Lock()
	defer rr.mutex.Unlock()

	if !rr.firstRTPPacketReceived {
		return nil
	}

	return &Stats{
		RemoteSSRC:         rr.remoteSSRC,
		LastSequenceNumber: rr.lastSequenceNumber,
		LastRTP:            rr.lastTimeRTP,
		TotalReceived:      rr.totalReceived,
		TotalLost:          rr.totalLost,
		Jitter:             rr.jitter,
	}
}
