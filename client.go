/*
Package rtspengine is a RTSP 1.0 client engine.

It negotiates sessions with RTSP servers, races the available transports,
protects media with SRTP and maps RTP timestamps to presentation timestamps.
*/
package rtspengine

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/bluenviron/rtspengine/internal/metrics"
	"github.com/bluenviron/rtspengine/pkg/auth"
	"github.com/bluenviron/rtspengine/pkg/base"
	"github.com/bluenviron/rtspengine/pkg/clocksync"
	"github.com/bluenviron/rtspengine/pkg/conn"
	"github.com/bluenviron/rtspengine/pkg/description"
	"github.com/bluenviron/rtspengine/pkg/headers"
	"github.com/bluenviron/rtspengine/pkg/liberrors"
	"github.com/bluenviron/rtspengine/pkg/mikey"
	"github.com/bluenviron/rtspengine/pkg/retry"
	"github.com/bluenviron/rtspengine/pkg/security"
)

const (
	clientUserAgent       = "rtspengine"
	backChannelRequire    = "www.onvif.org/ver20/backchannel"
	defaultSessionTimeout = 60 * time.Second
	checkTimeoutPeriod    = 1 * time.Second
	maxRedirects          = 5
)

// session states.
const (
	clientStateInit        = "init"
	clientStateDescribing  = "describing"
	clientStateSetup       = "setup"
	clientStatePlaying     = "playing"
	clientStateTearingDown = "tearingDown"
	clientStateClosed      = "closed"
	clientStateError       = "error"
)

// state machine events.
const (
	clientEventDescribe = "describe"
	clientEventSetup    = "setup"
	clientEventPlay     = "play"
	clientEventRestart  = "restart"
	clientEventTeardown = "teardown"
	clientEventClose    = "close"
	clientEventFail     = "fail"
)

var errReaderTerminated = errors.New("terminated")

func emptyTimer() *time.Timer {
	t := time.NewTimer(0)
	<-t.C
	return t
}

func supportsGetParameter(header base.Header) bool {
	pub, ok := header["Public"]
	if !ok || len(pub) != 1 {
		return false
	}

	for _, m := range strings.Split(pub[0], ",") {
		if base.Method(strings.TrimSpace(m)) == base.GetParameter {
			return true
		}
	}
	return false
}

func findBaseURL(res *base.Response, u *base.URL) (*base.URL, error) {
	// use Content-Base
	if cb, ok := res.Header["Content-Base"]; ok {
		if len(cb) != 1 {
			return nil, fmt.Errorf("invalid Content-Base: '%v'", cb)
		}

		ret, err := base.ParseURL(cb[0])
		if err != nil {
			return nil, fmt.Errorf("invalid Content-Base: '%v'", cb)
		}

		return ret.CloneWithoutCredentials(), nil
	}

	// use URL of request
	return u, nil
}

// usage errors leave the session untouched.
func isFatal(err error) bool {
	var invalidState liberrors.ErrClientInvalidState
	var invalidIndex liberrors.ErrClientMediaIndexInvalid
	var alreadySetup liberrors.ErrClientMediaAlreadySetup
	var notBackChannel liberrors.ErrClientNotBackChannel

	switch {
	case errors.As(err, &invalidState),
		errors.As(err, &invalidIndex),
		errors.As(err, &alreadySetup),
		errors.As(err, &notBackChannel):
		return false
	}
	return true
}

type clientOp struct {
	fn  func() error
	res chan error
}

// Client is a RTSP client.
type Client struct {
	//
	// credentials
	//
	// username. It overrides the one in the URL.
	User string
	// password. It overrides the one in the URL.
	Pass string

	//
	// transports
	//
	// transport candidates.
	// It defaults to UDP, then UDP-multicast, then TCP.
	Transports []TransportCandidate
	// maximum number of connection attempts in flight.
	// It defaults to 4.
	MaxInFlight int
	// timeout of a single connection attempt.
	// It defaults to 10 seconds.
	AttemptTimeout time.Duration
	// timeout of the whole connection race. Zero means no timeout.
	RaceTimeout time.Duration
	// policy used to retry failed steps.
	Retry retry.Policy
	// enable communication with servers which don't provide server ports or use
	// different server ports than the ones announced.
	// This can be a security issue.
	AnyPortEnable bool
	// interface used to join multicast groups. It defaults to all interfaces.
	MulticastInterface *net.Interface
	// size of the UDP read buffer. Zero means the system default.
	UDPReadBufferSize int

	//
	// security
	//
	// a TLS configuration to connect to TLS (RTSPS) servers.
	TLSConfig *tls.Config
	// how the certificate of the server is checked.
	// It defaults to TLSVerifyModeVerify.
	TLSVerifyMode security.TLSVerifyMode
	// use TLS even when the scheme is rtsp.
	ForceTLS bool
	// certificates used in DTLS handshakes.
	// A self-signed certificate is generated when empty.
	DTLSCertificates []tls.Certificate

	//
	// clock
	//
	// algorithm used to compute presentation timestamps.
	// It defaults to BufferModeAuto.
	BufferMode *BufferMode
	// time source of BufferModeSynced.
	NTPTimeSource NTPTimeSource
	// base time of NTPTimeSourceClockTime.
	ClockTimeBase time.Time
	// offset errors above this value cause a discontinuity.
	// It defaults to 1 second.
	DiscontinuityThreshold time.Duration
	// number of packets after which BufferModeBuffer starts releasing packets.
	// It defaults to 16.
	LowWatermark int
	// maximum number of packets held by BufferModeBuffer.
	// It defaults to 256.
	HighWatermark int

	//
	// timeouts and periods
	//
	// timeout of read operations.
	// It defaults to 10 seconds.
	ReadTimeout time.Duration
	// timeout of write operations.
	// It defaults to 10 seconds.
	WriteTimeout time.Duration
	// If no UDP packets are received within this period, the session is restarted with TCP.
	// It defaults to 3 seconds.
	InitialUDPReadTimeout time.Duration
	// timeout of the TEARDOWN request sent when closing.
	// It defaults to 2 seconds.
	TeardownTimeout time.Duration
	// period of RTCP receiver reports.
	// It defaults to 10 seconds.
	ReceiverReportPeriod time.Duration
	// period of RTCP sender reports of back channels.
	// It defaults to 10 seconds.
	SenderReportPeriod time.Duration

	//
	// protocol
	//
	// user agent header.
	// It defaults to "rtspengine".
	UserAgent string
	// disable automatic redirects.
	RedirectDisable bool
	// request back channels to the server.
	RequestBackChannels bool
	// the session becomes fatal after this number of consecutive decode errors on a media.
	// It defaults to 100.
	MaxDecodeErrors int
	// size of the queue of RTCP packets of each media. It must be a power of two.
	// It defaults to 256.
	RTCPQueueSize int
	// size of the event queue.
	// It defaults to 64.
	EventQueueSize int

	//
	// system functions (all optional)
	//
	// function used to initialize the TCP client.
	// It defaults to (&net.Dialer{}).DialContext.
	DialContext func(ctx context.Context, network, address string) (net.Conn, error)
	// function used to initialize UDP listeners.
	// It defaults to net.ListenPacket.
	ListenPacket func(network, address string) (net.PacketConn, error)
	// function used to resolve host names.
	// It defaults to net.DefaultResolver.LookupHost.
	LookupHost func(ctx context.Context, host string) ([]string, error)
	// function returning the current time.
	// It defaults to time.Now.
	TimeNow func() time.Time

	//
	// observability (all optional)
	//
	// logger.
	// It defaults to logrus.StandardLogger().
	Logger logrus.FieldLogger
	// registerer of metrics. Each client needs its own registerer,
	// use prometheus.WrapRegistererWith to share a registry.
	Registerer prometheus.Registerer

	//
	// callbacks (all optional)
	//
	// called before every request.
	OnRequest func(*base.Request)
	// called after every response.
	OnResponse func(*base.Response)
	// called when the transport is switched.
	OnTransportSwitch func(err error)
	// called when packets are lost.
	OnPacketsLost func(mediaIndex int, lost uint64)
	// called when a packet can't be decoded.
	OnDecodeError func(mediaIndex int, err error)
	// called when a RTP packet is released, with its presentation timestamp.
	OnPacketRTP func(mediaIndex int, pkt *rtp.Packet, pts time.Duration)
	// called when a RTCP packet is received.
	OnPacketRTCP func(mediaIndex int, pkt rtcp.Packet)

	ctx                   context.Context
	ctxCancel             func()
	log                   logrus.FieldLogger
	metrics               *metrics.Metrics
	url                   *base.URL
	creds                 Credentials
	candidates            []TransportCandidate
	bufferMode            BufferMode
	fsm                   *fsm.FSM
	nconn                 net.Conn
	conn                  *conn.Conn
	endpoint              controlEndpoint
	cseq                  int
	sender                *auth.Sender
	session               string
	keepalivePeriod       time.Duration
	getParameterSupported bool
	description           *description.Session
	baseURL               *base.URL
	medias                []*clientMedia
	tcpMediasByChannel    map[int]*clientMedia
	nextChannel           int
	forceInterleaved      bool
	keyStore              security.KeyStore
	reader                *clientReader
	keepaliveTimer        *time.Timer
	checkTimeoutTimer     *time.Timer
	checkTimeoutInitial   bool
	playStartTime         time.Time
	tcpLastFrameTime      *int64
	terminating           bool
	pendingOp             *clientOp
	pendingErr            error
	writeMutex            sync.Mutex
	mutex                 sync.RWMutex
	playing               bool
	eventsMutex           sync.Mutex
	eventsClosed          bool

	// in
	chOp       chan clientOp
	chResponse chan *base.Response
	chFatal    chan error

	// out
	events     chan Event
	closeError error
	done       chan struct{}
}

// Start initializes the client and binds it to a stream URL.
// Requests are sent by Options, Describe, Setup, Play or Run.
func (c *Client) Start(rawURL string) error {
	u, err := base.ParseURL(rawURL)
	if err != nil {
		return liberrors.ErrConfiguration{Field: "URL", Err: err}
	}

	// defaults
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.InitialUDPReadTimeout == 0 {
		c.InitialUDPReadTimeout = 3 * time.Second
	}
	if c.TeardownTimeout == 0 {
		c.TeardownTimeout = 2 * time.Second
	}
	if c.ReceiverReportPeriod == 0 {
		c.ReceiverReportPeriod = 10 * time.Second
	}
	if c.SenderReportPeriod == 0 {
		c.SenderReportPeriod = 10 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = clientUserAgent
	}
	if c.MaxDecodeErrors == 0 {
		c.MaxDecodeErrors = 100
	}
	if c.RTCPQueueSize == 0 {
		c.RTCPQueueSize = 256
	}
	if c.EventQueueSize == 0 {
		c.EventQueueSize = 64
	}
	if c.DialContext == nil {
		c.DialContext = (&net.Dialer{}).DialContext
	}
	if c.ListenPacket == nil {
		c.ListenPacket = net.ListenPacket
	}
	if c.LookupHost == nil {
		c.LookupHost = net.DefaultResolver.LookupHost
	}
	if c.TimeNow == nil {
		c.TimeNow = time.Now
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}

	// callbacks
	if c.OnRequest == nil {
		c.OnRequest = func(*base.Request) {}
	}
	if c.OnResponse == nil {
		c.OnResponse = func(*base.Response) {}
	}
	if c.OnTransportSwitch == nil {
		c.OnTransportSwitch = func(err error) {
			c.log.Warn(err.Error())
		}
	}
	if c.OnPacketsLost == nil {
		c.OnPacketsLost = func(mediaIndex int, lost uint64) {
			c.log.WithField("media", mediaIndex).Warnf("%d RTP %s lost",
				lost,
				func() string {
					if lost == 1 {
						return "packet"
					}
					return "packets"
				}())
		}
	}
	if c.OnDecodeError == nil {
		c.OnDecodeError = func(mediaIndex int, err error) {
			c.log.WithField("media", mediaIndex).WithError(err).Warn("decode error")
		}
	}
	if c.OnPacketRTP == nil {
		c.OnPacketRTP = func(int, *rtp.Packet, time.Duration) {}
	}
	if c.OnPacketRTCP == nil {
		c.OnPacketRTCP = func(int, rtcp.Packet) {}
	}

	// validation
	c.bufferMode = BufferModeAuto
	if c.BufferMode != nil {
		c.bufferMode = *c.BufferMode
	}
	if !c.bufferMode.IsValid() {
		return liberrors.ErrConfiguration{Field: "BufferMode", Err: fmt.Errorf("invalid value %d", int(c.bufferMode))}
	}
	if !c.NTPTimeSource.IsValid() {
		return liberrors.ErrConfiguration{
			Field: "NTPTimeSource",
			Err:   fmt.Errorf("invalid value %d", int(c.NTPTimeSource)),
		}
	}
	if c.NTPTimeSource == NTPTimeSourceClockTime && c.ClockTimeBase.IsZero() {
		return liberrors.ErrConfiguration{
			Field: "ClockTimeBase",
			Err:   fmt.Errorf("clock-time source requires a base time"),
		}
	}
	if c.RTCPQueueSize < 0 || (c.RTCPQueueSize&(c.RTCPQueueSize-1)) != 0 {
		return liberrors.ErrConfiguration{
			Field: "RTCPQueueSize",
			Err:   fmt.Errorf("must be a power of two, got %d", c.RTCPQueueSize),
		}
	}

	_, err = security.ControlTLSConfig(u.Scheme, c.ForceTLS, c.TLSVerifyMode, c.TLSConfig, u.Hostname())
	if err != nil {
		return err
	}

	secure := u.Scheme == "rtsps" || c.ForceTLS

	cands := c.Transports
	if cands == nil {
		cands = defaultTransportCandidates(secure)
	}
	for i, cand := range cands {
		err = cand.validate()
		if err != nil {
			return liberrors.ErrConfiguration{Field: "Transports[" + strconv.Itoa(i) + "]", Err: err}
		}
	}
	c.candidates = sortTransportCandidates(cands)
	if secure {
		for i := range c.candidates {
			c.candidates[i].Secure = true
		}
	}

	c.creds = resolveCredentials(u, c.User, c.Pass)
	c.url = u.CloneWithoutCredentials()
	c.log = c.Logger.WithField("url", c.url.String())
	c.metrics = metrics.New(c.Registerer)
	c.keepalivePeriod = time.Duration(float64(defaultSessionTimeout) * 0.8)
	c.tcpMediasByChannel = make(map[int]*clientMedia)
	c.tcpLastFrameTime = ptrOf(int64(0))
	c.keepaliveTimer = emptyTimer()
	c.checkTimeoutTimer = emptyTimer()
	c.fsm = c.newFSM()

	c.ctx, c.ctxCancel = context.WithCancel(context.Background())

	c.chOp = make(chan clientOp)
	c.chResponse = make(chan *base.Response, 16)
	c.chFatal = make(chan error, 1)
	c.events = make(chan Event, c.EventQueueSize)
	c.done = make(chan struct{})

	go c.run()

	return nil
}

// Close closes all the client resources and waits for them to close.
// A TEARDOWN request is sent when a session is active.
func (c *Client) Close() {
	c.ctxCancel()
	<-c.done
}

// Wait waits until all client resources are closed.
// This can happen when a fatal error occurs or when Close() is called.
func (c *Client) Wait() error {
	<-c.done
	return c.closeError
}

// Events returns the channel of events.
// The channel is closed when the client is closed.
func (c *Client) Events() <-chan Event {
	return c.events
}

// State returns the state of the session.
func (c *Client) State() string {
	return c.fsm.Current()
}

// SessionID returns the session ID.
func (c *Client) SessionID() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.session
}

// Mapping returns the clock mapping of a media.
func (c *Client) Mapping(mediaIndex int) (clocksync.ClockMapping, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if mediaIndex < 0 || mediaIndex >= len(c.medias) || c.medias[mediaIndex] == nil ||
		c.medias[mediaIndex].engine == nil {
		return clocksync.ClockMapping{}, false
	}

	return c.medias[mediaIndex].engine.Mapping(), true
}

func (c *Client) newFSM() *fsm.FSM {
	return fsm.NewFSM(
		clientStateInit,
		fsm.Events{
			{
				Name: clientEventDescribe,
				Src:  []string{clientStateInit, clientStateDescribing},
				Dst:  clientStateDescribing,
			},
			{
				Name: clientEventSetup,
				Src:  []string{clientStateDescribing, clientStateSetup},
				Dst:  clientStateSetup,
			},
			{
				Name: clientEventPlay,
				Src:  []string{clientStateSetup},
				Dst:  clientStatePlaying,
			},
			{
				Name: clientEventRestart,
				Src:  []string{clientStatePlaying},
				Dst:  clientStateDescribing,
			},
			{
				Name: clientEventTeardown,
				Src:  []string{clientStateInit, clientStateDescribing, clientStateSetup, clientStatePlaying},
				Dst:  clientStateTearingDown,
			},
			{
				Name: clientEventClose,
				Src:  []string{clientStateTearingDown},
				Dst:  clientStateClosed,
			},
			{
				Name: clientEventFail,
				Src: []string{
					clientStateInit, clientStateDescribing, clientStateSetup,
					clientStatePlaying, clientStateTearingDown,
				},
				Dst: clientStateError,
			},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				if e.Src == e.Dst {
					return
				}

				c.metrics.StateTransition(e.Src, e.Dst)
				c.log.WithFields(logrus.Fields{
					"from": e.Src,
					"to":   e.Dst,
				}).Debug("state changed")
			},
		},
	)
}

func (c *Client) transition(event string) {
	err := c.fsm.Event(context.Background(), event)
	var noTransition fsm.NoTransitionError
	if err != nil && !errors.As(err, &noTransition) {
		c.log.WithError(err).Debug("transition refused")
	}
}

func (c *Client) checkState(allowed ...string) error {
	cur := c.fsm.Current()
	for _, s := range allowed {
		if s == cur {
			return nil
		}
	}

	return liberrors.ErrClientInvalidState{AllowedList: allowed, State: cur}
}

func (c *Client) emit(ev Event) {
	c.eventsMutex.Lock()
	defer c.eventsMutex.Unlock()

	if c.eventsClosed {
		return
	}

	select {
	case c.events <- ev:
	default:
		c.log.WithField("event", fmt.Sprintf("%T", ev)).Warn("event queue is full, discarding event")
	}
}

func (c *Client) closeEvents() {
	c.eventsMutex.Lock()
	defer c.eventsMutex.Unlock()

	c.eventsClosed = true
	close(c.events)
}

// fatal can be called by any routine.
func (c *Client) fatal(err error) {
	select {
	case c.chFatal <- err:
	default:
	}
}

func (c *Client) setSession(v string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.session = v
}

func (c *Client) run() {
	defer close(c.done)

	c.closeError = c.runInner()

	c.doClose()

	if c.pendingOp != nil {
		c.pendingOp.res <- c.pendingErr
	}
}

func (c *Client) runInner() error {
	for {
		select {
		case op := <-c.chOp:
			err := op.fn()

			if c.terminating {
				c.pendingOp, c.pendingErr = &op, err
				return liberrors.ErrClientTerminated{}
			}

			if err != nil && isFatal(err) {
				c.pendingOp, c.pendingErr = &op, err
				return err
			}

			op.res <- err

		case <-c.readerDone():
			err := c.reader.err
			c.reader = nil
			return liberrors.ErrTransport{Err: err}

		case err := <-c.chFatal:
			return err

		case <-c.keepaliveTimer.C:
			err := c.doKeepAlive()
			if err != nil {
				return err
			}
			c.keepaliveTimer = time.NewTimer(c.keepalivePeriod)

		case <-c.checkTimeoutTimer.C:
			err := c.checkTimeout()
			if err != nil {
				return err
			}
			c.checkTimeoutTimer = time.NewTimer(checkTimeoutPeriod)

		case <-c.ctx.Done():
			return liberrors.ErrClientTerminated{}
		}
	}
}

func (c *Client) readerDone() chan struct{} {
	if c.reader == nil {
		return nil
	}
	return c.reader.done
}

func (c *Client) doClose() {
	var terminated liberrors.ErrClientTerminated
	isTerminated := errors.As(c.closeError, &terminated)

	if isTerminated {
		c.transition(clientEventTeardown)
	} else {
		c.transition(clientEventFail)
		c.log.WithError(c.closeError).Error("session failed")
	}

	if c.nconn != nil && c.session != "" && !c.terminating {
		ctx, cancel := context.WithTimeout(context.Background(), c.TeardownTimeout)
		err := c.sendTeardown(ctx)
		cancel()
		if err != nil {
			c.log.WithError(err).Debug("TEARDOWN failed")
		}
	}

	c.stopPlaying()
	c.releaseMedias()

	if c.nconn != nil {
		c.connClose()
	}

	c.keyStore.Clear()

	sessionID := c.SessionID()

	if isTerminated {
		c.transition(clientEventClose)
		c.emit(SessionClosed{SessionID: sessionID})
	} else {
		c.emit(FatalError{Err: c.closeError})
		c.emit(SessionClosed{SessionID: sessionID, Err: c.closeError})
	}

	c.setSession("")

	c.closeEvents()
	c.ctxCancel()
}

func (c *Client) doOp(fn func() error) error {
	op := clientOp{
		fn:  fn,
		res: make(chan error, 1),
	}

	select {
	case c.chOp <- op:
		return <-op.res

	case <-c.done:
		return c.closeError
	}
}

func (c *Client) retryStep(step string, fn func(ctx context.Context) error) error {
	p := c.Retry
	userOnRetry := p.OnRetry

	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.metrics.Retry(step)
		c.log.WithFields(logrus.Fields{
			"step":    step,
			"attempt": attempt,
			"delay":   delay,
		}).WithError(err).Warn("step failed, retrying")
		c.emit(RetryableError{Step: step, Attempt: attempt, Delay: delay, Err: err})

		if userOnRetry != nil {
			userOnRetry(attempt, err, delay)
		}
	}

	_, err := retry.Do(c.ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (c *Client) connClose() {
	if c.nconn == nil {
		return
	}

	if c.reader != nil {
		c.reader.close()
		c.reader = nil
	}

	c.writeMutex.Lock()
	c.nconn.Close()
	c.nconn = nil
	c.conn = nil
	c.writeMutex.Unlock()
}

func (c *Client) writeRequest(req *base.Request) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	c.nconn.SetWriteDeadline(time.Now().Add(c.WriteTimeout))
	return c.conn.WriteRequest(req)
}

func (c *Client) writeInterleavedFrame(channel int, payload []byte) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	if c.conn == nil {
		return liberrors.ErrClientTerminated{}
	}

	c.nconn.SetWriteDeadline(time.Now().Add(c.WriteTimeout))
	return c.conn.WriteInterleavedFrame(&base.InterleavedFrame{
		Channel: channel,
		Payload: payload,
	})
}

func responseMatches(res *base.Response, req *base.Request) bool {
	cseq, ok := res.Header["CSeq"]
	return !ok || len(cseq) != 1 || cseq[0] == req.Header["CSeq"][0]
}

func (c *Client) readResponse(ctx context.Context, req *base.Request) (*base.Response, error) {
	deadline := time.Now().Add(c.ReadTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if c.reader != nil {
		t := time.NewTimer(time.Until(deadline))
		defer t.Stop()

		for {
			select {
			case res := <-c.chResponse:
				if responseMatches(res, req) {
					return res, nil
				}

			case <-c.reader.done:
				err := c.reader.err
				c.reader = nil
				c.connClose()
				return nil, liberrors.ErrTransport{Err: err}

			case <-t.C:
				return nil, liberrors.ErrTimeout{Op: string(req.Method)}

			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return nil, liberrors.ErrTimeout{Op: string(req.Method)}
				}
				return nil, ctx.Err()
			}
		}
	}

	c.nconn.SetReadDeadline(deadline)

	cc := newClientConnCloser(ctx, c.nconn)

	var res *base.Response
	var err error
	for {
		// read the response and ignore interleaved frames in between;
		// interleaved frames are sent in two cases:
		// * when the server is v4lrtspserver, before the PLAY response
		// * when the stream is already playing
		res, err = c.conn.ReadResponseIgnoreFrames()
		if err != nil || responseMatches(res, req) {
			break
		}
	}

	cc.close()

	if err != nil {
		c.connClose()

		if cc.fired() {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, liberrors.ErrTimeout{Op: string(req.Method)}
			}
			return nil, ctx.Err()
		}

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, liberrors.ErrTimeout{Op: string(req.Method)}
		}

		return nil, liberrors.ErrTransport{Err: err}
	}

	return res, nil
}

func (c *Client) do(ctx context.Context, req *base.Request, skipResponse bool) (*base.Response, error) {
	if c.nconn == nil {
		err := c.connect(ctx)
		if err != nil {
			return nil, err
		}
	}

	if req.Header == nil {
		req.Header = make(base.Header)
	}

	c.cseq++
	req.Header["CSeq"] = base.HeaderValue{strconv.FormatInt(int64(c.cseq), 10)}

	req.Header["User-Agent"] = base.HeaderValue{c.UserAgent}

	if c.session != "" {
		req.Header["Session"] = base.HeaderValue{c.session}
	}

	if c.RequestBackChannels {
		switch req.Method {
		case base.Describe, base.Setup, base.Play, base.Teardown:
			req.Header["Require"] = base.HeaderValue{backChannelRequire}
		}
	}

	if c.sender != nil {
		c.sender.AddAuthorization(req)
	}

	c.OnRequest(req)

	err := c.writeRequest(req)
	if err != nil {
		c.connClose()
		return nil, liberrors.ErrTransport{Err: err}
	}

	if skipResponse {
		return nil, nil
	}

	res, err := c.readResponse(ctx, req)
	if err != nil {
		return nil, err
	}

	c.OnResponse(res)

	// get session from response
	if v, ok := res.Header["Session"]; ok {
		var sx headers.Session
		err = sx.Unmarshal(v)
		if err != nil {
			return nil, liberrors.ErrClientSessionHeaderInvalid{Err: err}
		}

		if c.session != "" && sx.Session != c.session {
			return nil, liberrors.ErrClientSessionMismatch{Expected: c.session, Got: sx.Session}
		}
		c.setSession(sx.Session)

		if sx.Timeout != nil && *sx.Timeout > 0 {
			c.keepalivePeriod = time.Duration(float64(*sx.Timeout) * 0.8 * float64(time.Second))
		}
	}

	// if required, send request again with authentication
	if res.StatusCode == base.StatusUnauthorized && c.sender == nil && !c.creds.isEmpty() {
		sender := &auth.Sender{
			WWWAuth: res.Header["WWW-Authenticate"],
			User:    c.creds.User,
			Pass:    c.creds.Pass,
		}
		err = sender.Initialize()
		if err != nil {
			return nil, liberrors.ErrProtocol{
				StatusCode: res.StatusCode,
				Err:        fmt.Errorf("unable to setup authentication: %w", err),
			}
		}
		c.sender = sender

		return c.do(ctx, req, skipResponse)
	}

	return res, nil
}

func protocolError(res *base.Response) error {
	return liberrors.ErrProtocol{StatusCode: res.StatusCode, Message: res.StatusMessage}
}

// Options sends an OPTIONS request.
func (c *Client) Options() (*base.Response, error) {
	var res *base.Response
	err := c.doOp(func() error {
		return c.retryStep("options", func(ctx context.Context) error {
			var err error
			res, err = c.doOptions(ctx)
			return err
		})
	})
	return res, err
}

func (c *Client) doOptions(ctx context.Context) (*base.Response, error) {
	err := c.checkState(clientStateInit, clientStateDescribing, clientStateSetup, clientStatePlaying)
	if err != nil {
		return nil, err
	}

	res, err := c.do(ctx, &base.Request{
		Method: base.Options,
		URL:    c.url,
	}, false)
	if err != nil {
		return nil, err
	}

	if res.StatusCode != base.StatusOK {
		// OPTIONS is not implemented by every server
		switch res.StatusCode {
		case base.StatusNotFound, base.StatusMethodNotAllowed, base.StatusNotImplemented:
			return res, nil
		}
		return nil, protocolError(res)
	}

	c.getParameterSupported = supportsGetParameter(res.Header)

	return res, nil
}

// Describe sends a DESCRIBE request and returns the description of the stream.
func (c *Client) Describe() (*description.Session, error) {
	var desc *description.Session
	err := c.doOp(func() error {
		return c.retryStep("describe", func(ctx context.Context) error {
			var err error
			desc, err = c.doDescribe(ctx)
			return err
		})
	})
	return desc, err
}

func (c *Client) doDescribe(ctx context.Context) (*description.Session, error) {
	err := c.checkState(clientStateInit, clientStateDescribing)
	if err != nil {
		return nil, err
	}

	for redirects := 0; ; redirects++ {
		res, err := c.do(ctx, &base.Request{
			Method: base.Describe,
			URL:    c.url,
			Header: base.Header{
				"Accept": base.HeaderValue{"application/sdp"},
			},
		}, false)
		if err != nil {
			return nil, err
		}

		// redirect
		if res.StatusCode >= base.StatusMovedPermanently && res.StatusCode <= base.StatusUseProxy {
			err = c.followRedirect(res, redirects)
			if err != nil {
				return nil, err
			}
			continue
		}

		if res.StatusCode != base.StatusOK {
			return nil, protocolError(res)
		}

		ct, ok := res.Header["Content-Type"]
		if !ok || len(ct) != 1 {
			return nil, liberrors.ErrClientContentTypeMissing{}
		}

		// strip encoding information from Content-Type header
		ct = base.HeaderValue{strings.TrimSpace(strings.Split(ct[0], ";")[0])}

		if ct[0] != "application/sdp" {
			return nil, liberrors.ErrClientContentTypeUnsupported{CT: ct}
		}

		var desc description.Session
		err = desc.Parse(res.Body)
		if err != nil {
			return nil, liberrors.ErrProtocol{StatusCode: res.StatusCode, Err: err}
		}

		baseURL, err := findBaseURL(res, c.url)
		if err != nil {
			return nil, liberrors.ErrProtocol{StatusCode: res.StatusCode, Err: err}
		}
		desc.BaseURL = baseURL

		c.transition(clientEventDescribe)

		c.mutex.Lock()
		c.description = &desc
		c.baseURL = baseURL
		c.medias = make([]*clientMedia, len(desc.Medias))
		c.mutex.Unlock()

		return &desc, nil
	}
}

func (c *Client) followRedirect(res *base.Response, redirects int) error {
	location, ok := res.Header["Location"]
	if !ok || len(location) != 1 {
		return liberrors.ErrProtocol{
			StatusCode: res.StatusCode,
			Err:        fmt.Errorf("redirect without a valid Location header"),
		}
	}

	if c.RedirectDisable {
		return liberrors.ErrClientUnhandledRedirect{Location: location[0]}
	}

	if redirects >= maxRedirects {
		return liberrors.ErrProtocol{StatusCode: res.StatusCode, Err: fmt.Errorf("too many redirects")}
	}

	u, err := base.ParseURL(location[0])
	if err != nil {
		return liberrors.ErrProtocol{StatusCode: res.StatusCode, Err: err}
	}

	c.log.WithField("location", u.CloneWithoutCredentials().String()).Info("following redirect")

	if u.Scheme != c.url.Scheme || u.CanonicalAddr() != c.url.CanonicalAddr() {
		c.connClose()
		c.sender = nil
	}

	c.url = u.CloneWithoutCredentials()
	return nil
}

// Setup sets up a media with the first transport candidate accepted by the server.
func (c *Client) Setup(mediaIndex int) (*MediaSetupResult, error) {
	var res *MediaSetupResult
	err := c.doOp(func() error {
		return c.retryStep("setup", func(ctx context.Context) error {
			var err error
			res, err = c.doSetup(ctx, mediaIndex)
			return err
		})
	})
	return res, err
}

// SetupAll sets up all the medias of the stream.
// Back channels are set up only when RequestBackChannels is true.
func (c *Client) SetupAll() error {
	return c.doOp(func() error {
		if c.description == nil {
			return liberrors.ErrClientInvalidState{
				AllowedList: []string{clientStateDescribing},
				State:       c.fsm.Current(),
			}
		}

		for i, medi := range c.description.Medias {
			if medi.IsBackChannel && !c.RequestBackChannels {
				continue
			}

			if c.medias[i] != nil {
				continue
			}

			err := c.retryStep("setup", func(ctx context.Context) error {
				_, err := c.doSetup(ctx, i)
				return err
			})
			if err != nil {
				return err
			}
		}

		return nil
	})
}

func (c *Client) mediaCandidates(dtls bool) []TransportCandidate {
	var ret []TransportCandidate

	for _, cand := range c.candidates {
		if cand.Protocol.controlKind() != c.endpoint.kind {
			continue
		}

		if c.forceInterleaved && !cand.Protocol.isInterleaved() {
			continue
		}

		// DTLS is performed on the UDP socket of the media
		if dtls && cand.Protocol != TransportUDP {
			continue
		}

		ret = append(ret, cand)
	}

	return ret
}

func (c *Client) doSetup(ctx context.Context, mediaIndex int) (*MediaSetupResult, error) {
	err := c.checkState(clientStateDescribing, clientStateSetup)
	if err != nil {
		return nil, err
	}

	if mediaIndex < 0 || mediaIndex >= len(c.description.Medias) {
		return nil, liberrors.ErrClientMediaIndexInvalid{MediaIndex: mediaIndex}
	}

	if c.medias[mediaIndex] != nil {
		return nil, liberrors.ErrClientMediaAlreadySetup{MediaIndex: mediaIndex}
	}

	medi := c.description.Medias[mediaIndex]

	mediaURL, err := medi.URL(c.baseURL)
	if err != nil {
		return nil, liberrors.ErrProtocol{Err: err}
	}

	// the candidate list depends on the control connection
	if c.nconn == nil {
		err = c.connect(ctx)
		if err != nil {
			return nil, err
		}
	}

	dtls := security.IsDTLSProfile(medi.Profile)

	for _, cand := range c.mediaCandidates(dtls) {
		cm, err := c.setupCandidate(ctx, mediaIndex, medi, mediaURL, cand)
		if err == nil {
			return cm.result, nil
		}

		var protoErr liberrors.ErrProtocol
		if errors.As(err, &protoErr) && protoErr.StatusCode == base.StatusUnsupportedTransport {
			c.log.WithFields(logrus.Fields{
				"media":     mediaIndex,
				"transport": cand.String(),
			}).Debug("transport rejected by the server")
			continue
		}

		return nil, err
	}

	return nil, liberrors.ErrClientNoTransportAvailable{MediaIndex: mediaIndex}
}

func (c *Client) remoteIP() net.IP {
	if addr, ok := c.nconn.RemoteAddr().(*net.TCPAddr); ok {
		return addr.IP
	}

	host, _, _ := net.SplitHostPort(c.endpoint.address)
	return net.ParseIP(host)
}

func (c *Client) setupCandidate(
	ctx context.Context,
	mediaIndex int,
	medi *description.Media,
	mediaURL *base.URL,
	cand TransportCandidate,
) (*clientMedia, error) {
	cm := &clientMedia{
		c:      c,
		index:  mediaIndex,
		media:  medi,
		secure: security.IsSecureProfile(medi.Profile),
		log:    c.log.WithField("media", mediaIndex),
	}

	th := headers.Transport{
		Protocol: cand.Protocol.headerProtocol(),
		Mode:     ptrOf(headers.TransportModePlay),
	}

	if cm.secure {
		th.Profile = headers.TransportProfileSAVP
	}

	switch cand.Protocol {
	case TransportUDP:
		var err error
		cm.udpRTPListener, cm.udpRTCPListener, err = newClientUDPListenerPair(c, cand.PortRange)
		if err != nil {
			return nil, liberrors.ErrTransport{Err: err}
		}

		th.Delivery = ptrOf(headers.TransportDeliveryUnicast)
		th.ClientPorts = &[2]int{cm.udpRTPListener.port(), cm.udpRTCPListener.port()}

	case TransportUDPMulticast:
		th.Delivery = ptrOf(headers.TransportDeliveryMulticast)

	default:
		th.InterleavedIDs = &[2]int{c.nextChannel, c.nextChannel + 1}
	}

	req := &base.Request{
		Method: base.Setup,
		URL:    mediaURL,
		Header: base.Header{
			"Transport": th.Marshal(),
		},
	}

	// with MIKEY, the client sends its own key
	var localKey *security.KeyMaterial
	dtls := security.IsDTLSProfile(medi.Profile)

	if cm.secure && !dtls && medi.Crypto == nil {
		var err error
		localKey, err = c.generateLocalKey(mediaIndex)
		if err != nil {
			cm.close()
			return nil, err
		}

		msg, err := security.GenerateMIKEY(localKey)
		if err != nil {
			cm.close()
			return nil, liberrors.ErrSecurity{MediaIndex: mediaIndex, Err: err}
		}

		v, err := headers.KeyMgmt{URL: mediaURL.String(), MikeyMessage: msg}.Marshal()
		if err != nil {
			cm.close()
			return nil, liberrors.ErrSecurity{MediaIndex: mediaIndex, Err: err}
		}
		req.Header["KeyMgmt"] = v
	}

	res, err := c.do(ctx, req, false)
	if err != nil {
		cm.close()
		return nil, err
	}

	if res.StatusCode != base.StatusOK {
		cm.close()
		return nil, protocolError(res)
	}

	var thRes headers.Transport
	err = thRes.Unmarshal(res.Header["Transport"])
	if err != nil {
		cm.close()
		return nil, liberrors.ErrClientTransportHeaderInvalid{Err: err}
	}

	result := &MediaSetupResult{
		MediaIndex:  mediaIndex,
		Candidate:   cand,
		ControlURL:  mediaURL,
		Secure:      cm.secure,
		BackChannel: medi.IsBackChannel,
	}

	err = c.applyTransport(cm, cand, &thRes, result)
	if err != nil {
		cm.close()
		return nil, err
	}

	if cm.secure {
		err = c.negotiateMediaKeys(ctx, cm, res, localKey, result)
		if err != nil {
			cm.close()
			return nil, err
		}
	}

	if !medi.IsBackChannel {
		cm.engine = &clocksync.Engine{
			Mode:                   c.bufferMode,
			NTPSource:              c.NTPTimeSource,
			ClockTimeBase:          c.ClockTimeBase,
			ClockRate:              medi.ClockRate(),
			IsLive:                 c.description.IsLive(),
			IsH264:                 medi.IsH264(),
			DiscontinuityThreshold: c.DiscontinuityThreshold,
			LowWatermark:           c.LowWatermark,
			HighWatermark:          c.HighWatermark,
			TimeNow:                c.TimeNow,
		}
		err = cm.engine.Initialize()
		if err != nil {
			cm.close()
			return nil, err
		}
	}

	cm.result = result

	c.mutex.Lock()
	c.medias[mediaIndex] = cm
	c.mutex.Unlock()

	if cand.Protocol.isInterleaved() {
		c.tcpMediasByChannel[cm.tcpChannel] = cm
		c.nextChannel = cm.tcpChannel + 2
	}

	c.transition(clientEventSetup)

	c.log.WithFields(logrus.Fields{
		"media":     mediaIndex,
		"transport": cand.String(),
		"secure":    cm.secure,
	}).Info("media set up")

	c.emit(TransportChosen{
		MediaIndex: mediaIndex,
		Protocol:   cand.Protocol,
		Secure:     cand.Secure,
	})

	if cm.secure {
		c.emit(SecurityNegotiated{
			MediaIndex: mediaIndex,
			Protocol:   "SRTP",
			Suite:      result.Suite,
			Source:     result.KeySource,
		})
	}

	return cm, nil
}

func (c *Client) applyTransport(
	cm *clientMedia,
	cand TransportCandidate,
	thRes *headers.Transport,
	result *MediaSetupResult,
) error {
	switch cand.Protocol {
	case TransportUDP:
		if thRes.Protocol != headers.TransportProtocolUDP {
			return liberrors.ErrClientTransportHeaderInvalid{Err: fmt.Errorf("protocol mismatch")}
		}

		if thRes.Delivery != nil && *thRes.Delivery != headers.TransportDeliveryUnicast {
			return liberrors.ErrClientTransportHeaderInvalidDelivery{}
		}

		serverPorts := thRes.ServerPorts
		if serverPorts == nil && !c.AnyPortEnable {
			return liberrors.ErrClientServerPortsNotProvided{}
		}

		readIP := c.remoteIP()
		if thRes.Source != nil {
			readIP = *thRes.Source
		}

		cm.udpRTPListener.readIP = readIP
		cm.udpRTCPListener.readIP = readIP

		if serverPorts != nil {
			if !c.AnyPortEnable {
				cm.udpRTPListener.readPort = serverPorts[0]
				cm.udpRTCPListener.readPort = serverPorts[1]
			}

			cm.udpRTPListener.writeAddr = &net.UDPAddr{IP: readIP, Port: serverPorts[0]}
			cm.udpRTCPListener.writeAddr = &net.UDPAddr{IP: readIP, Port: serverPorts[1]}
			result.ServerPorts = *serverPorts
		}

		result.ClientPorts = [2]int{cm.udpRTPListener.port(), cm.udpRTCPListener.port()}

	case TransportUDPMulticast:
		if thRes.Protocol != headers.TransportProtocolUDP {
			return liberrors.ErrClientTransportHeaderInvalid{Err: fmt.Errorf("protocol mismatch")}
		}

		if thRes.Delivery == nil || *thRes.Delivery != headers.TransportDeliveryMulticast {
			return liberrors.ErrClientTransportHeaderInvalidDelivery{}
		}

		if thRes.Destination == nil {
			return liberrors.ErrClientTransportHeaderNoDestination{}
		}

		if thRes.Ports == nil {
			return liberrors.ErrClientTransportHeaderNoPorts{}
		}

		readIP := c.remoteIP()
		if thRes.Source != nil {
			readIP = *thRes.Source
		}

		var err error
		cm.udpRTPListener, cm.udpRTCPListener, err = c.newMulticastListenerPair(*thRes.Destination, *thRes.Ports)
		if err != nil {
			return liberrors.ErrTransport{Err: err}
		}

		cm.udpRTPListener.readIP = readIP
		cm.udpRTCPListener.readIP = readIP
		cm.udpRTPListener.writeAddr = &net.UDPAddr{IP: *thRes.Destination, Port: thRes.Ports[0]}
		cm.udpRTCPListener.writeAddr = &net.UDPAddr{IP: *thRes.Destination, Port: thRes.Ports[1]}
		result.ServerPorts = *thRes.Ports

	default:
		if thRes.Protocol != headers.TransportProtocolTCP {
			return liberrors.ErrClientTransportHeaderInvalid{Err: fmt.Errorf("protocol mismatch")}
		}

		if thRes.InterleavedIDs == nil {
			return liberrors.ErrClientTransportHeaderNoInterleavedIDs{}
		}

		if (thRes.InterleavedIDs[0]%2) != 0 ||
			(thRes.InterleavedIDs[0]+1) != thRes.InterleavedIDs[1] {
			return liberrors.ErrClientTransportHeaderInvalidInterleavedIDs{}
		}

		if _, ok := c.tcpMediasByChannel[thRes.InterleavedIDs[0]]; ok {
			return liberrors.ErrClientTransportHeaderInterleavedIDsInUse{}
		}

		cm.tcpChannel = thRes.InterleavedIDs[0]
		result.RTPChannel = thRes.InterleavedIDs[0]
		result.RTCPChannel = thRes.InterleavedIDs[1]
	}

	return nil
}

func (c *Client) newMulticastListenerPair(group net.IP, ports [2]int) (*clientUDPListener, *clientUDPListener, error) {
	rtpListener := &clientUDPListener{
		c:                  c,
		multicast:          true,
		multicastInterface: c.MulticastInterface,
		address:            net.JoinHostPort(group.String(), strconv.FormatInt(int64(ports[0]), 10)),
	}
	err := rtpListener.initialize()
	if err != nil {
		return nil, nil, err
	}

	rtcpListener := &clientUDPListener{
		c:                  c,
		multicast:          true,
		multicastInterface: c.MulticastInterface,
		address:            net.JoinHostPort(group.String(), strconv.FormatInt(int64(ports[1]), 10)),
	}
	err = rtcpListener.initialize()
	if err != nil {
		rtpListener.close()
		return nil, nil, err
	}

	return rtpListener, rtcpListener, nil
}

func (c *Client) generateLocalKey(mediaIndex int) (*security.KeyMaterial, error) {
	km, err := security.GenerateKey(security.SuiteAES128CMHMACSHA180)
	if err != nil {
		return nil, liberrors.ErrSecurity{MediaIndex: mediaIndex, Err: err}
	}

	ssrc, err := randUint32()
	if err != nil {
		return nil, liberrors.ErrSecurity{MediaIndex: mediaIndex, Err: err}
	}

	km.SSRCs = []uint32{ssrc}
	km.ROCs = []uint32{0}
	return km, nil
}

func decodeSDPKeyMgmt(v string) (*mikey.Message, error) {
	prot, data, ok := strings.Cut(strings.TrimSpace(v), " ")
	if !ok || prot != "mikey" {
		return nil, fmt.Errorf("unsupported key-mgmt attribute (%v)", v)
	}

	byts, err := base64.StdEncoding.DecodeString(strings.TrimSpace(data))
	if err != nil {
		return nil, err
	}

	var msg mikey.Message
	err = msg.Unmarshal(byts)
	if err != nil {
		return nil, err
	}

	return &msg, nil
}

func (c *Client) remoteMIKEYKey(medi *description.Media, res *base.Response) (*security.KeyMaterial, error) {
	var msg *mikey.Message

	switch {
	case medi.KeyMgmt != "":
		var err error
		msg, err = decodeSDPKeyMgmt(medi.KeyMgmt)
		if err != nil {
			return nil, err
		}

	case res.Header["KeyMgmt"] != nil:
		var km headers.KeyMgmt
		err := km.Unmarshal(res.Header["KeyMgmt"])
		if err != nil {
			return nil, err
		}
		msg = km.MikeyMessage

	default:
		return nil, fmt.Errorf("server did not provide a key")
	}

	return security.KeyFromMIKEY(msg)
}

func (c *Client) negotiateMediaKeys(
	ctx context.Context,
	cm *clientMedia,
	res *base.Response,
	localKey *security.KeyMaterial,
	result *MediaSetupResult,
) error {
	var remote, local *security.KeyMaterial

	switch {
	case security.IsDTLSProfile(cm.media.Profile):
		lc := &clientUDPListenerConn{u: cm.udpRTPListener}
		dres, err := security.DTLSKeys(ctx, lc, security.DTLSConfig{
			Certificates:       c.DTLSCertificates,
			Fingerprint:        cm.media.Fingerprint,
			ServerName:         c.url.Hostname(),
			InsecureSkipVerify: c.TLSVerifyMode == security.TLSVerifyModeAcceptAny,
		})
		lc.detach()
		if err != nil {
			return liberrors.ErrSecurity{MediaIndex: cm.index, Err: err}
		}
		dres.Conn.Close()
		remote, local = dres.Remote, dres.Local

	case cm.media.Crypto != nil:
		attr, err := security.FirstSupportedCrypto(cm.media.Crypto)
		if err != nil {
			return liberrors.ErrSecurity{MediaIndex: cm.index, Err: err}
		}
		remote = attr.KeyMaterial()

	default:
		var err error
		remote, err = c.remoteMIKEYKey(cm.media, res)
		if err != nil {
			return liberrors.ErrSecurity{MediaIndex: cm.index, Err: err}
		}
		local = localKey
	}

	err := c.keyStore.SetKey(cm.index, remote, local)
	if err != nil {
		return liberrors.ErrSecurity{MediaIndex: cm.index, Err: err}
	}

	result.Suite = remote.Suite
	result.KeySource = remote.Source
	return nil
}

// Play sends a PLAY request and starts reading packets.
func (c *Client) Play() (*base.Response, error) {
	var res *base.Response
	err := c.doOp(func() error {
		return c.retryStep("play", func(ctx context.Context) error {
			var err error
			res, err = c.doPlay(ctx)
			return err
		})
	})
	return res, err
}

func (c *Client) doPlay(ctx context.Context) (*base.Response, error) {
	err := c.checkState(clientStateSetup)
	if err != nil {
		return nil, err
	}

	res, err := c.do(ctx, &base.Request{
		Method: base.Play,
		URL:    c.baseURL,
		Header: base.Header{
			"Range": headers.Range{NPT: &headers.RangeNPT{Start: 0}}.Marshal(),
		},
	}, false)
	if err != nil {
		return nil, err
	}

	if res.StatusCode != base.StatusOK {
		return nil, protocolError(res)
	}

	if v, ok := res.Header["RTP-Info"]; ok {
		var ri headers.RTPInfo
		err = ri.Unmarshal(v)
		if err != nil {
			return nil, liberrors.ErrClientRTPInfoInvalid{Err: err}
		}
		c.seedRTPInfo(ri)
	}

	c.transition(clientEventPlay)

	c.log.WithField("session", c.session).Info("session established")
	c.emit(SessionEstablished{SessionID: c.session})

	err = c.startPlaying()
	if err != nil {
		return nil, err
	}

	return res, nil
}

func (c *Client) seedRTPInfo(ri headers.RTPInfo) {
	for _, entry := range ri {
		if entry.Timestamp == nil {
			continue
		}

		for _, cm := range c.medias {
			if cm == nil || cm.engine == nil {
				continue
			}

			if len(ri) == 1 || strings.HasSuffix(entry.URL, cm.result.ControlURL.Path) ||
				entry.URL == cm.result.ControlURL.String() {
				cm.engine.SeedRTPInfo(*entry.Timestamp)
			}
		}
	}
}

func (c *Client) startPlaying() error {
	for _, cm := range c.medias {
		if cm != nil {
			err := cm.start()
			if err != nil {
				return err
			}
		}
	}

	c.playStartTime = c.TimeNow()
	c.checkTimeoutInitial = c.hasUDPUnicast()
	atomic.StoreInt64(c.tcpLastFrameTime, 0)

	c.reader = &clientReader{c: c}
	c.reader.start()

	c.keepaliveTimer = time.NewTimer(c.keepalivePeriod)
	c.checkTimeoutTimer = time.NewTimer(checkTimeoutPeriod)

	c.mutex.Lock()
	c.playing = true
	c.mutex.Unlock()

	return nil
}

// callbacks can call Client methods, therefore the mutex is not held
// while waiting for routines.
func (c *Client) stopPlaying() {
	c.mutex.Lock()
	c.playing = false
	c.mutex.Unlock()

	if c.reader != nil {
		c.reader.close()
		c.reader = nil
	}

	for _, cm := range c.medias {
		if cm != nil && cm.started {
			cm.stop()
		}
	}

	c.keepaliveTimer.Stop()
	c.keepaliveTimer = emptyTimer()
	c.checkTimeoutTimer.Stop()
	c.checkTimeoutTimer = emptyTimer()
}

func (c *Client) releaseMedias() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for i, cm := range c.medias {
		if cm != nil {
			cm.close()
			c.keyStore.RemoveKey(i)
			c.medias[i] = nil
		}
	}

	c.tcpMediasByChannel = make(map[int]*clientMedia)
	c.nextChannel = 0
}

func (c *Client) hasUDPUnicast() bool {
	for _, cm := range c.medias {
		if cm != nil && cm.result.Candidate.Protocol == TransportUDP {
			return true
		}
	}
	return false
}

func (c *Client) canSwitchToTCP() bool {
	if c.forceInterleaved || c.endpoint.kind != TransportTCP {
		return false
	}

	for _, cm := range c.medias {
		if cm != nil && security.IsDTLSProfile(cm.media.Profile) {
			return false
		}
	}

	for _, cand := range c.candidates {
		if cand.Protocol == TransportTCP {
			return true
		}
	}
	return false
}

func (c *Client) lastPacketTime() time.Time {
	var ret time.Time

	if v := atomic.LoadInt64(c.tcpLastFrameTime); v != 0 {
		ret = time.Unix(0, v)
	}

	for _, cm := range c.medias {
		if cm != nil && !cm.media.IsBackChannel {
			if t := cm.lastPacketTime(); t.After(ret) {
				ret = t
			}
		}
	}

	return ret
}

func (c *Client) hasReceivingMedias() bool {
	for _, cm := range c.medias {
		if cm != nil && !cm.media.IsBackChannel {
			return true
		}
	}
	return false
}

func (c *Client) checkTimeout() error {
	if !c.hasReceivingMedias() {
		return nil
	}

	now := c.TimeNow()
	last := c.lastPacketTime()

	if c.checkTimeoutInitial {
		if !last.IsZero() {
			c.checkTimeoutInitial = false
		} else if now.Sub(c.playStartTime) >= c.InitialUDPReadTimeout {
			c.checkTimeoutInitial = false

			if c.canSwitchToTCP() {
				return c.switchToTCP()
			}
		}
	}

	if last.IsZero() {
		last = c.playStartTime
	}

	if now.Sub(last) >= c.ReadTimeout {
		return liberrors.ErrClientNoPacketsInAWhile{Timeout: c.ReadTimeout}
	}

	return nil
}

func (c *Client) switchToTCP() error {
	c.OnTransportSwitch(liberrors.ErrClientNoUDPPacketsInAWhile{})

	var indexes []int
	for i, cm := range c.medias {
		if cm != nil {
			indexes = append(indexes, i)
		}
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.TeardownTimeout)
	err := c.sendTeardown(ctx)
	cancel()
	if err != nil {
		c.log.WithError(err).Debug("TEARDOWN failed")
	}

	c.stopPlaying()
	c.releaseMedias()
	c.connClose()
	c.setSession("")
	c.forceInterleaved = true

	c.transition(clientEventRestart)

	for _, i := range indexes {
		err = c.retryStep("setup", func(ctx context.Context) error {
			_, err := c.doSetup(ctx, i)
			return err
		})
		if err != nil {
			return err
		}
	}

	return c.retryStep("play", func(ctx context.Context) error {
		_, err := c.doPlay(ctx)
		return err
	})
}

func (c *Client) doKeepAlive() error {
	method := base.Options
	if c.getParameterSupported {
		method = base.GetParameter
	}

	u := c.baseURL
	if u == nil {
		u = c.url
	}

	return c.retryStep("keepalive", func(ctx context.Context) error {
		res, err := c.do(ctx, &base.Request{
			Method: method,
			URL:    u,
		}, false)
		if err != nil {
			return err
		}

		// some servers reply to keep-alives with errors
		if res.StatusCode != base.StatusOK && method == base.Options {
			switch res.StatusCode {
			case base.StatusNotFound, base.StatusMethodNotAllowed, base.StatusNotImplemented:
			default:
				return protocolError(res)
			}
		} else if res.StatusCode != base.StatusOK {
			return protocolError(res)
		}

		c.metrics.KeepAlive()
		return nil
	})
}

func (c *Client) sendTeardown(ctx context.Context) error {
	u := c.baseURL
	if u == nil {
		u = c.url
	}

	res, err := c.do(ctx, &base.Request{
		Method: base.Teardown,
		URL:    u,
	}, false)
	if err != nil {
		return err
	}

	if res.StatusCode != base.StatusOK {
		return protocolError(res)
	}

	return nil
}

// Teardown sends a TEARDOWN request and closes the client.
func (c *Client) Teardown() error {
	return c.doOp(func() error {
		c.terminating = true

		if c.nconn == nil || c.session == "" {
			return nil
		}

		ctx, cancel := context.WithTimeout(c.ctx, c.TeardownTimeout)
		defer cancel()
		return c.sendTeardown(ctx)
	})
}

// Run performs OPTIONS, DESCRIBE, SETUP of all medias and PLAY.
// The client is closed when ctx is canceled.
func (c *Client) Run(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()

	_, err := c.Options()
	if err != nil {
		return err
	}

	_, err = c.Describe()
	if err != nil {
		return err
	}

	err = c.SetupAll()
	if err != nil {
		return err
	}

	_, err = c.Play()
	return err
}

// WritePacketRTP writes a RTP packet to a back channel.
func (c *Client) WritePacketRTP(mediaIndex int, pkt *rtp.Packet) error {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if !c.playing {
		return liberrors.ErrClientInvalidState{
			AllowedList: []string{clientStatePlaying},
			State:       c.fsm.Current(),
		}
	}

	if mediaIndex < 0 || mediaIndex >= len(c.medias) || c.medias[mediaIndex] == nil {
		return liberrors.ErrClientMediaIndexInvalid{MediaIndex: mediaIndex}
	}

	cm := c.medias[mediaIndex]

	if !cm.media.IsBackChannel {
		return liberrors.ErrClientNotBackChannel{MediaIndex: mediaIndex}
	}

	return cm.writePacketRTP(pkt)
}

// SetSRTPKey sets or replaces the SRTP key of a media.
// The key is used in both directions.
func (c *Client) SetSRTPKey(mediaIndex int, suite security.Suite, key []byte, salt []byte) error {
	c.mutex.RLock()
	n := len(c.medias)
	c.mutex.RUnlock()

	if mediaIndex < 0 || mediaIndex >= n {
		return liberrors.ErrClientMediaIndexInvalid{MediaIndex: mediaIndex}
	}

	km := &security.KeyMaterial{
		Suite:  suite,
		Key:    key,
		Salt:   salt,
		Source: security.KeySourceManual,
	}

	err := km.Validate()
	if err != nil {
		return liberrors.ErrSecurity{MediaIndex: mediaIndex, Err: err}
	}

	err = c.keyStore.SetKey(mediaIndex, km, nil)
	if err != nil {
		return liberrors.ErrSecurity{MediaIndex: mediaIndex, Err: err}
	}

	c.emit(SecurityNegotiated{
		MediaIndex: mediaIndex,
		Protocol:   "SRTP",
		Suite:      suite,
		Source:     security.KeySourceManual,
	})

	return nil
}

// RemoveSRTPKey removes the SRTP key of a media.
// Packets of the media are discarded until a new key is set.
func (c *Client) RemoveSRTPKey(mediaIndex int) {
	c.keyStore.RemoveKey(mediaIndex)
}
