package rtspengine

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"

	"github.com/bluenviron/rtspengine/internal/asyncprocessor"
	"github.com/bluenviron/rtspengine/internal/rtcpsender"
	"github.com/bluenviron/rtspengine/pkg/base"
	"github.com/bluenviron/rtspengine/pkg/clocksync"
	"github.com/bluenviron/rtspengine/pkg/description"
	"github.com/bluenviron/rtspengine/pkg/liberrors"
	"github.com/bluenviron/rtspengine/pkg/rtpreceiver"
	"github.com/bluenviron/rtspengine/pkg/security"
)

func randUint32() (uint32, error) {
	var b [4]byte
	_, err := rand.Read(b[:])
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// MediaSetupResult is the outcome of the setup of a media.
type MediaSetupResult struct {
	MediaIndex int

	// transport accepted by the server.
	Candidate TransportCandidate

	// URL used in the SETUP request.
	ControlURL *base.URL

	// interleaved channels (interleaved transports only).
	RTPChannel  int
	RTCPChannel int

	// client and server ports (UDP transports only).
	ClientPorts [2]int
	ServerPorts [2]int

	// whether the media is protected by SRTP.
	Secure    bool
	Suite     security.Suite
	KeySource security.KeySource

	BackChannel bool
}

type clientMedia struct {
	c      *Client
	index  int
	media  *description.Media
	result *MediaSetupResult
	log    logrus.FieldLogger

	secure          bool
	udpRTPListener  *clientUDPListener
	udpRTCPListener *clientUDPListener
	tcpChannel      int

	engine        *clocksync.Engine
	receiver      *rtpreceiver.Receiver
	rtcpSender    *rtcpsender.RTCPSender
	rtcpProcessor *asyncprocessor.Processor

	decodeErrors atomic.Int64
	started      bool
}

func (cm *clientMedia) close() {
	if cm.started {
		cm.stop()
	}

	if cm.udpRTPListener != nil {
		cm.udpRTPListener.close()
		cm.udpRTCPListener.close()
	}
}

func (cm *clientMedia) start() error {
	localSSRC, err := randUint32()
	if err != nil {
		return err
	}

	cm.rtcpProcessor = &asyncprocessor.Processor{
		BufferSize: cm.c.RTCPQueueSize,
		OnError: func(_ context.Context, err error) {
			cm.log.WithError(err).Warn("RTCP processing failed")
		},
	}
	err = cm.rtcpProcessor.Initialize()
	if err != nil {
		return err
	}

	if cm.media.IsBackChannel {
		cm.rtcpSender = &rtcpsender.RTCPSender{
			ClockRate:       cm.media.ClockRate(),
			Period:          cm.c.SenderReportPeriod,
			TimeNow:         cm.c.TimeNow,
			WritePacketRTCP: cm.writeReport,
		}
		err = cm.rtcpSender.Initialize()
		if err != nil {
			cm.rtcpProcessor.Close()
			return err
		}
	} else {
		cm.receiver = &rtpreceiver.Receiver{
			ClockRate:       cm.media.ClockRate(),
			LocalSSRC:       localSSRC,
			Period:          cm.c.ReceiverReportPeriod,
			TimeNow:         cm.c.TimeNow,
			WritePacketRTCP: cm.writeReport,
		}
		err = cm.receiver.Initialize()
		if err != nil {
			cm.rtcpProcessor.Close()
			return err
		}
	}

	cm.rtcpProcessor.Start()

	if cm.udpRTPListener != nil {
		cm.udpRTPListener.readFunc = cm.readRTPUDP
		cm.udpRTCPListener.readFunc = cm.readRTCPUDP
		cm.udpRTPListener.start()
		cm.udpRTCPListener.start()
	}

	cm.started = true
	return nil
}

func (cm *clientMedia) stop() {
	if cm.udpRTPListener != nil {
		cm.udpRTPListener.stop()
		cm.udpRTCPListener.stop()
	}

	// packets still held by the clock engine are released.
	if cm.engine != nil {
		for _, out := range cm.engine.Flush() {
			cm.deliver(out)
		}
	}

	cm.rtcpProcessor.Close()

	if cm.receiver != nil {
		cm.receiver.Close()
		cm.receiver = nil
	}

	if cm.rtcpSender != nil {
		cm.rtcpSender.Close()
		cm.rtcpSender = nil
	}

	cm.started = false
}

// lastPacketTime returns the time of the last packet received with UDP.
func (cm *clientMedia) lastPacketTime() time.Time {
	var ret int64
	if cm.udpRTPListener != nil {
		ret = atomic.LoadInt64(cm.udpRTPListener.lastPacketTime)
		if v := atomic.LoadInt64(cm.udpRTCPListener.lastPacketTime); v > ret {
			ret = v
		}
	}
	if ret == 0 {
		return time.Time{}
	}
	return time.Unix(0, ret)
}

func (cm *clientMedia) onDecodeError(err error, counted bool) {
	cm.c.metrics.DecodeError(cm.index)
	cm.c.OnDecodeError(cm.index, err)
	cm.c.emit(DecodeError{MediaIndex: cm.index, Err: err})

	if !counted {
		return
	}

	n := cm.decodeErrors.Add(1)
	if cm.c.MaxDecodeErrors > 0 && n >= int64(cm.c.MaxDecodeErrors) {
		cm.c.fatal(liberrors.ErrClientTooManyDecodeErrors{
			MediaIndex: cm.index,
			Count:      int(n),
			Last:       err,
		})
	}
}

// decryption errors caused by a missing key are reported but not counted.
func (cm *clientMedia) onDecryptError(err error) {
	var noKey security.ErrSecurityNoKey
	cm.onDecodeError(liberrors.ErrSecurity{MediaIndex: cm.index, Err: err}, !errors.As(err, &noKey))
}

func (cm *clientMedia) readRTPUDP(payload []byte) {
	if len(payload) == (udpMaxPayloadSize + 1) {
		cm.onDecodeError(fmt.Errorf("RTP packet is too big to be read with UDP"), true)
		return
	}
	cm.readRTP(payload)
}

func (cm *clientMedia) readRTCPUDP(payload []byte) {
	if len(payload) == (udpMaxPayloadSize + 1) {
		cm.onDecodeError(fmt.Errorf("RTCP packet is too big to be read with UDP"), true)
		return
	}
	cm.readRTCP(payload)
}

func (cm *clientMedia) readRTP(payload []byte) {
	now := cm.c.TimeNow()

	// backchannels only receive RTCP
	if cm.media.IsBackChannel {
		return
	}

	if cm.secure {
		var header rtp.Header
		decrypted, err := cm.c.keyStore.DecryptRTP(cm.index, nil, payload, &header)
		if err != nil {
			cm.onDecryptError(err)
			return
		}
		payload = decrypted
	}

	pkt := &rtp.Packet{}
	err := pkt.Unmarshal(payload)
	if err != nil {
		cm.onDecodeError(err, true)
		return
	}

	lost, err := cm.receiver.ProcessPacket(pkt, now)
	if err != nil {
		cm.onDecodeError(err, true)
		return
	}

	cm.decodeErrors.Store(0)

	if lost != 0 {
		cm.c.metrics.PacketsLost(cm.index, lost)
		cm.c.OnPacketsLost(cm.index, lost)
	}

	for _, out := range cm.engine.Push(pkt, now) {
		cm.deliver(out)
	}
}

func (cm *clientMedia) deliver(out clocksync.Output) {
	if out.Late {
		cm.log.WithField("seq", out.Packet.SequenceNumber).Debug("discarding late packet")
		return
	}

	if out.Discontinuity {
		cm.c.metrics.Discontinuity(cm.index)
		cm.c.emit(Discontinuity{MediaIndex: cm.index, PTS: out.PTS})
	}

	cm.c.OnPacketRTP(cm.index, out.Packet, out.PTS)
}

func (cm *clientMedia) readRTCP(payload []byte) {
	now := cm.c.TimeNow()

	if cm.secure {
		var header rtcp.Header
		decrypted, err := cm.c.keyStore.DecryptRTCP(cm.index, nil, payload, &header)
		if err != nil {
			cm.onDecryptError(err)
			return
		}
		payload = decrypted
	}

	packets, err := rtcp.Unmarshal(payload)
	if err != nil {
		cm.onDecodeError(err, true)
		return
	}

	ok := cm.rtcpProcessor.Push(func() error {
		for _, pkt := range packets {
			if sr, ok := pkt.(*rtcp.SenderReport); ok && cm.receiver != nil {
				cm.receiver.ProcessSenderReport(sr, now)
				cm.engine.ProcessSenderReport(sr, now)
			}

			cm.c.OnPacketRTCP(cm.index, pkt)
		}
		return nil
	})
	if !ok {
		cm.log.Warn("RTCP queue is full, discarding packets")
	}
}

func (cm *clientMedia) writeReport(pkt rtcp.Packet) {
	err := cm.writePacketRTCP(pkt)
	if err != nil {
		cm.log.WithError(err).Debug("unable to write RTCP report")
	}
}

func (cm *clientMedia) writePacketRTP(pkt *rtp.Packet) error {
	byts, err := pkt.Marshal()
	if err != nil {
		return err
	}

	if cm.secure {
		byts, err = cm.c.keyStore.EncryptRTP(cm.index, nil, byts, &pkt.Header)
		if err != nil {
			return liberrors.ErrSecurity{MediaIndex: cm.index, Err: err}
		}
	}

	if cm.rtcpSender != nil {
		cm.rtcpSender.ProcessPacket(pkt, cm.c.TimeNow())
	}

	if cm.udpRTPListener != nil {
		return cm.udpRTPListener.write(byts)
	}
	return cm.c.writeInterleavedFrame(cm.tcpChannel, byts)
}

func (cm *clientMedia) writePacketRTCP(pkt rtcp.Packet) error {
	byts, err := pkt.Marshal()
	if err != nil {
		return err
	}

	if cm.secure {
		byts, err = cm.c.keyStore.EncryptRTCP(cm.index, nil, byts, nil)
		if err != nil {
			return liberrors.ErrSecurity{MediaIndex: cm.index, Err: err}
		}
	}

	if cm.udpRTCPListener != nil {
		return cm.udpRTCPListener.write(byts)
	}
	return cm.c.writeInterleavedFrame(cm.tcpChannel+1, byts)
}
