// Package clocksync contains the engine that computes presentation timestamps of incoming RTP packets.
package clocksync

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/bluenviron/rtspengine/pkg/liberrors"
	"github.com/bluenviron/rtspengine/pkg/ntp"
)

const (
	defaultDiscontinuityThreshold = 1 * time.Second
	defaultLowWatermark           = 16
	defaultHighWatermark          = 256

	skewSmoothing = 0.125
	offsetGain    = 4
	minSkewRatio  = 0.9
	maxSkewRatio  = 1.1
)

var (
	ntpEpoch  = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	unixEpoch = time.Unix(0, 0).UTC()
)

func multiplyAndDivide(v int64, m int64, d int64) int64 {
	secs := v / d
	dec := v % d
	return (secs*m + dec*m/d)
}

func ticksToDuration(ticks int64, clockRate int) time.Duration {
	return time.Duration(multiplyAndDivide(ticks, int64(time.Second), int64(clockRate)))
}

// Output is a packet released by the engine.
type Output struct {
	Packet *rtp.Packet

	// presentation timestamp.
	PTS time.Duration

	// the timeline was stepped before this packet.
	Discontinuity bool

	// the packet arrived too late and must be discarded.
	Late bool
}

// ClockMapping is the current relation between RTP time and local time.
type ClockMapping struct {
	RTPTime         uint32
	NTP             time.Time
	SRArrival       time.Time
	Offset          time.Duration
	Skew            float64
	Jitter          float64
	Discontinuities uint64
}

type tsUnwrapper struct {
	initialized bool
	last        uint32
	lastExt     int64
}

func (u *tsUnwrapper) peek(ts uint32) int64 {
	if !u.initialized {
		return int64(ts)
	}
	return u.lastExt + int64(int32(ts-u.last))
}

// reset makes ts the reference for the next timestamps.
func (u *tsUnwrapper) reset(ts uint32, ext int64) {
	u.initialized = true
	u.last = ts
	u.lastExt = ext
}

func (u *tsUnwrapper) unwrap(ts uint32) int64 {
	v := u.peek(ts)
	if !u.initialized || v > u.lastExt {
		u.initialized = true
		u.last = ts
		u.lastExt = v
	}
	return v
}

type seqUnwrapper struct {
	initialized bool
	last        uint16
	lastExt     int64
}

func (u *seqUnwrapper) unwrap(seq uint16) int64 {
	if !u.initialized {
		u.initialized = true
		u.last = seq
		u.lastExt = int64(seq)
		return u.lastExt
	}

	v := u.lastExt + int64(int16(seq-u.last))
	if v > u.lastExt {
		u.last = seq
		u.lastExt = v
	}
	return v
}

type queuedPacket struct {
	seq     int64
	ticks   int64
	pkt     *rtp.Packet
	arrival time.Time
}

// Engine computes presentation timestamps of the packets of a single media.
// It is safe for concurrent use: sender reports and packets are usually
// processed by different routines.
type Engine struct {
	// buffer mode.
	// BufferModeAuto is resolved by Initialize.
	Mode BufferMode

	// time source used by BufferModeSynced.
	NTPSource NTPTimeSource

	// base of the external clock, used by NTPTimeSourceClockTime.
	ClockTimeBase time.Time

	// clock rate of the media.
	ClockRate int

	// whether the stream is live.
	// It is used to resolve BufferModeAuto.
	IsLive bool

	// whether the media is H264.
	// In this case the timeline is anchored on the first random access unit.
	IsH264 bool

	// offset errors above this value cause a discontinuity.
	// It defaults to 1 second.
	DiscontinuityThreshold time.Duration

	// packets are released once the queue holds this number of packets.
	// It defaults to 16.
	LowWatermark int

	// when the queue holds more than this number of packets, gaps are skipped.
	// It defaults to 256.
	HighWatermark int

	// function returning the current time.
	// It defaults to time.Now.
	TimeNow func() time.Time

	mutex      sync.Mutex
	mode       BufferMode
	startTime  time.Time
	tsUnwrap   tsUnwrapper
	seqUnwrap  seqUnwrapper
	randomSeen bool

	// none
	firstTicks    int64
	firstReceived bool

	// slave
	anchored        bool
	baseTicks       int64
	baseLocal       time.Time
	offset          time.Duration
	skew            float64
	pendingDiscont  bool
	pendingRebase   bool
	lastOutTicks    int64
	lastOutPTS      time.Duration
	lastOutArrival  time.Time
	hasLastOut      bool
	discontinuities uint64

	// sender reports
	srReceived  bool
	lastSRNTP   time.Time
	lastSRRTP   uint32
	lastSRTicks int64
	lastSRArr   time.Time

	// jitter
	jitter      float64
	lastArrival time.Time
	lastTicks   int64
	hasJitter   bool

	// buffer
	queue     []*queuedPacket
	primed    bool
	nextSeq   int64
	lateCount int

	// synced
	syncedTicks int64
	syncedNTP   time.Time
	pending     []*queuedPacket
}

// Initialize initializes Engine.
func (e *Engine) Initialize() error {
	if e.ClockRate <= 0 {
		return liberrors.ErrConfiguration{Field: "ClockRate", Err: fmt.Errorf("invalid clock rate %d", e.ClockRate)}
	}
	if !e.Mode.IsValid() {
		return liberrors.ErrConfiguration{Field: "BufferMode", Err: fmt.Errorf("invalid value %d", int(e.Mode))}
	}
	if !e.NTPSource.IsValid() {
		return liberrors.ErrConfiguration{Field: "NTPTimeSource", Err: fmt.Errorf("invalid value %d", int(e.NTPSource))}
	}
	if e.NTPSource == NTPTimeSourceClockTime && e.ClockTimeBase.IsZero() {
		return liberrors.ErrConfiguration{Field: "ClockTimeBase", Err: fmt.Errorf("clock-time source requires a base time")}
	}

	if e.DiscontinuityThreshold == 0 {
		e.DiscontinuityThreshold = defaultDiscontinuityThreshold
	}
	if e.LowWatermark == 0 {
		e.LowWatermark = defaultLowWatermark
	}
	if e.HighWatermark == 0 {
		e.HighWatermark = defaultHighWatermark
	}
	if e.TimeNow == nil {
		e.TimeNow = time.Now
	}

	if e.DiscontinuityThreshold < 0 {
		return liberrors.ErrConfiguration{
			Field: "DiscontinuityThreshold",
			Err:   fmt.Errorf("invalid value %v", e.DiscontinuityThreshold),
		}
	}
	if e.LowWatermark < 1 {
		return liberrors.ErrConfiguration{Field: "LowWatermark", Err: fmt.Errorf("invalid value %d", e.LowWatermark)}
	}
	if e.HighWatermark < e.LowWatermark {
		return liberrors.ErrConfiguration{
			Field: "HighWatermark",
			Err:   fmt.Errorf("must be greater or equal than LowWatermark (%d), got %d", e.LowWatermark, e.HighWatermark),
		}
	}

	e.mode = e.Mode
	if e.mode == BufferModeAuto {
		if e.IsLive {
			e.mode = BufferModeBuffer
		} else {
			e.mode = BufferModeSlave
		}
	}

	e.startTime = e.TimeNow()
	e.skew = 1

	return nil
}

// ResolvedMode returns the mode in use, after BufferModeAuto has been resolved.
func (e *Engine) ResolvedMode() BufferMode {
	return e.mode
}

// SeedRTPInfo sets the RTP timestamp that corresponds to the start of playback,
// as advertised by the RTP-Info header.
func (e *Engine) SeedRTPInfo(rtpTime uint32) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	ticks := e.tsUnwrap.unwrap(rtpTime)

	switch e.mode {
	case BufferModeNone:
		if !e.firstReceived {
			e.firstReceived = true
			e.firstTicks = ticks
		}

	case BufferModeSlave, BufferModeBuffer:
		if !e.anchored {
			e.anchor(ticks, e.TimeNow())
		}
	}
}

// ProcessSenderReport processes a RTCP sender report.
func (e *Engine) ProcessSenderReport(sr *rtcp.SenderReport, arrival time.Time) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	srNTP := ntp.Decode(sr.NTPTime)
	ticks := e.tsUnwrap.unwrap(sr.RTPTime)

	switch e.mode {
	case BufferModeSlave, BufferModeBuffer:
		e.slaveProcessSR(ticks, srNTP, arrival)

	case BufferModeSynced:
		if !e.srReceived {
			e.syncedTicks = ticks
			e.syncedNTP = srNTP
		}
	}

	e.srReceived = true
	e.lastSRNTP = srNTP
	e.lastSRRTP = sr.RTPTime
	e.lastSRTicks = ticks
	e.lastSRArr = arrival
}

func (e *Engine) anchor(ticks int64, local time.Time) {
	e.anchored = true
	e.baseTicks = ticks
	e.baseLocal = local
	e.offset = 0
}

func (e *Engine) slaveMap(ticks int64) time.Duration {
	d := ticksToDuration(ticks-e.baseTicks, e.ClockRate)
	return e.offset + time.Duration(float64(d)*e.skew)
}

func (e *Engine) slaveProcessSR(ticks int64, srNTP time.Time, arrival time.Time) {
	if !e.anchored {
		e.anchor(ticks, arrival)
		return
	}

	predicted := e.slaveMap(ticks)
	observed := arrival.Sub(e.baseLocal)

	e.baseTicks = ticks
	e.offset = predicted

	if e.srReceived {
		ntpDelta := srNTP.Sub(e.lastSRNTP)
		arrDelta := arrival.Sub(e.lastSRArr)

		if ntpDelta > 0 && arrDelta > 0 {
			ratio := float64(arrDelta) / float64(ntpDelta)
			if ratio >= minSkewRatio && ratio <= maxSkewRatio {
				e.skew += (ratio - e.skew) * skewSmoothing
			}
		}
	}

	err := observed - predicted

	if err > e.DiscontinuityThreshold || err < -e.DiscontinuityThreshold {
		e.offset = observed
		e.skew = 1
		e.pendingDiscont = true
		e.discontinuities++
		return
	}

	e.offset += err / offsetGain
}

// rebase restarts the timeline from the arrival time of a packet,
// without moving backwards.
func (e *Engine) rebase(ticks int64, ts uint32, arrival time.Time) {
	e.tsUnwrap.reset(ts, ticks)
	e.baseTicks = ticks
	e.offset = arrival.Sub(e.baseLocal)
	if e.hasLastOut && e.offset < e.lastOutPTS {
		e.offset = e.lastOutPTS
	}
	e.skew = 1
}

func (e *Engine) slavePTS(ticks int64, ts uint32, arrival time.Time) (time.Duration, bool) {
	if !e.anchored {
		e.anchor(ticks, arrival)
	}

	discont := e.pendingDiscont
	e.pendingDiscont = false

	switch {
	case e.pendingRebase:
		e.pendingRebase = false
		e.rebase(ticks, ts, arrival)
		discont = true

	case e.hasLastOut && !discont:
		// the distance between packets must match the distance between arrivals
		jump := e.slaveMap(ticks) - e.lastOutPTS
		diff := jump - arrival.Sub(e.lastOutArrival)

		if diff > e.DiscontinuityThreshold || diff < -e.DiscontinuityThreshold {
			e.rebase(ticks, ts, arrival)
			e.discontinuities++
			discont = true
		}
	}

	pts := e.slaveMap(ticks)

	if discont {
		e.hasLastOut = false
	}

	if e.hasLastOut && ticks >= e.lastOutTicks && pts < e.lastOutPTS {
		pts = e.lastOutPTS
	}

	if !e.hasLastOut || ticks >= e.lastOutTicks {
		e.hasLastOut = true
		e.lastOutTicks = ticks
		e.lastOutPTS = pts
		e.lastOutArrival = arrival
	}

	return pts, discont
}

func (e *Engine) updateJitter(ticks int64, arrival time.Time) {
	if e.hasJitter && ticks != e.lastTicks {
		arrTicks := int64(arrival.Sub(e.lastArrival)) * int64(e.ClockRate) / int64(time.Second)
		d := float64(arrTicks - (ticks - e.lastTicks))
		if d < 0 {
			d = -d
		}
		e.jitter += (d - e.jitter) / 16
	}

	e.hasJitter = true
	e.lastTicks = ticks
	e.lastArrival = arrival
}

// Push processes a RTP packet and returns the packets that are ready to be released.
func (e *Engine) Push(pkt *rtp.Packet, arrival time.Time) []Output {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.IsH264 && e.mode != BufferModeNone && !e.randomSeen {
		if !h264IsRandomAccess(pkt.Payload) {
			return nil
		}
		e.randomSeen = true
	}

	ticks := e.tsUnwrap.unwrap(pkt.Timestamp)
	e.updateJitter(ticks, arrival)

	switch e.mode {
	case BufferModeNone:
		if !e.firstReceived {
			e.firstReceived = true
			e.firstTicks = ticks
		}
		return []Output{{
			Packet: pkt,
			PTS:    ticksToDuration(ticks-e.firstTicks, e.ClockRate),
		}}

	case BufferModeSlave:
		pts, discont := e.slavePTS(ticks, pkt.Timestamp, arrival)
		return []Output{{
			Packet:        pkt,
			PTS:           pts,
			Discontinuity: discont,
		}}

	case BufferModeBuffer:
		return e.bufferPush(&queuedPacket{
			seq:     e.seqUnwrap.unwrap(pkt.SequenceNumber),
			ticks:   ticks,
			pkt:     pkt,
			arrival: arrival,
		})

	default: // BufferModeSynced
		return e.syncedPush(&queuedPacket{
			ticks:   ticks,
			pkt:     pkt,
			arrival: arrival,
		})
	}
}

func (e *Engine) bufferRelease(qp *queuedPacket) Output {
	pts, discont := e.slavePTS(qp.ticks, qp.pkt.Timestamp, qp.arrival)
	return Output{
		Packet:        qp.pkt,
		PTS:           pts,
		Discontinuity: discont,
	}
}

// bufferReset releases the queue and restarts ordering from qp,
// after the sender has restarted its sequence numbers.
func (e *Engine) bufferReset(qp *queuedPacket) []Output {
	out := make([]Output, 0, len(e.queue))
	for _, head := range e.queue {
		out = append(out, e.bufferRelease(head))
	}

	e.queue = nil
	e.primed = false
	e.lateCount = 0
	e.seqUnwrap = seqUnwrapper{}
	e.pendingRebase = true
	e.discontinuities++

	qp.seq = e.seqUnwrap.unwrap(qp.pkt.SequenceNumber)

	return append(out, e.bufferPush(qp)...)
}

func (e *Engine) bufferPush(qp *queuedPacket) []Output {
	if e.primed && qp.seq < e.nextSeq {
		e.lateCount++
		if e.lateCount > e.HighWatermark {
			return e.bufferReset(qp)
		}

		return []Output{{
			Packet: qp.pkt,
			PTS:    e.lastOutPTS,
			Late:   true,
		}}
	}

	e.lateCount = 0

	i := sort.Search(len(e.queue), func(i int) bool {
		return e.queue[i].seq >= qp.seq
	})

	// duplicate
	if i < len(e.queue) && e.queue[i].seq == qp.seq {
		return nil
	}

	e.queue = append(e.queue, nil)
	copy(e.queue[i+1:], e.queue[i:])
	e.queue[i] = qp

	if !e.primed {
		if len(e.queue) < e.LowWatermark {
			return nil
		}
		e.primed = true
		e.nextSeq = e.queue[0].seq
	}

	var out []Output

	for len(e.queue) > 0 {
		head := e.queue[0]

		switch {
		case head.seq == e.nextSeq && len(e.queue) >= e.LowWatermark:
		case len(e.queue) > e.HighWatermark:
		default:
			return out
		}

		e.queue = e.queue[1:]
		e.nextSeq = head.seq + 1
		out = append(out, e.bufferRelease(head))
	}

	return out
}

func (e *Engine) syncedTime(ticks int64) time.Duration {
	t := e.syncedNTP.Add(ticksToDuration(ticks-e.syncedTicks, e.ClockRate))

	switch e.NTPSource {
	case NTPTimeSourceNTP:
		return t.Sub(ntpEpoch)

	case NTPTimeSourceUnix:
		return t.Sub(unixEpoch)

	case NTPTimeSourceRunningTime:
		return t.Sub(e.startTime)

	default: // NTPTimeSourceClockTime
		return t.Sub(e.ClockTimeBase)
	}
}

func (e *Engine) syncedPush(qp *queuedPacket) []Output {
	if !e.srReceived {
		e.pending = append(e.pending, qp)

		if len(e.pending) > e.HighWatermark {
			oldest := e.pending[0]
			e.pending = e.pending[1:]
			return []Output{{
				Packet: oldest.pkt,
				Late:   true,
			}}
		}
		return nil
	}

	out := make([]Output, 0, len(e.pending)+1)

	for _, p := range e.pending {
		out = append(out, Output{
			Packet: p.pkt,
			PTS:    e.syncedTime(p.ticks),
		})
	}
	e.pending = nil

	return append(out, Output{
		Packet: qp.pkt,
		PTS:    e.syncedTime(qp.ticks),
	})
}

// Flush releases all queued packets.
func (e *Engine) Flush() []Output {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	var out []Output

	switch e.mode {
	case BufferModeBuffer:
		for _, qp := range e.queue {
			out = append(out, e.bufferRelease(qp))
			e.nextSeq = qp.seq + 1
		}
		e.queue = nil

	case BufferModeSynced:
		for _, qp := range e.pending {
			if e.srReceived {
				out = append(out, Output{Packet: qp.pkt, PTS: e.syncedTime(qp.ticks)})
			} else {
				out = append(out, Output{Packet: qp.pkt, Late: true})
			}
		}
		e.pending = nil
	}

	return out
}

// Mapping returns the current clock mapping.
func (e *Engine) Mapping() ClockMapping {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	return ClockMapping{
		RTPTime:         e.lastSRRTP,
		NTP:             e.lastSRNTP,
		SRArrival:       e.lastSRArr,
		Offset:          e.offset,
		Skew:            e.skew,
		Jitter:          e.jitter,
		Discontinuities: e.discontinuities,
	}
}
