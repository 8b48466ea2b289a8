package rtspengine

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/rtspengine/pkg/multicast"
)

const (
	// 1500 (UDP MTU) - 20 (IP header) - 8 (UDP header)
	udpMaxPayloadSize = 1472

	udpMinPort = 10000
	udpMaxPort = 65534
)

func ptrOf[T any](v T) *T {
	return &v
}

func randInRange(maxVal int) (int, error) {
	b := big.NewInt(int64(maxVal + 1))
	n, err := rand.Int(rand.Reader, b)
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}

type packetConn interface {
	net.PacketConn
	SetReadBuffer(bytes int) error
}

type clientUDPListener struct {
	c                  *Client
	multicast          bool
	multicastInterface *net.Interface
	address            string

	pc        packetConn
	readFunc  func([]byte)
	readIP    net.IP
	readPort  int
	writeAddr *net.UDPAddr

	running        bool
	lastPacketTime *int64

	done chan struct{}
}

func (u *clientUDPListener) initialize() error {
	if u.multicast {
		var err error
		u.pc, err = multicast.NewConn(u.address, u.multicastInterface, u.c.ListenPacket)
		if err != nil {
			return err
		}
	} else {
		tmp, err := u.c.ListenPacket("udp", u.address)
		if err != nil {
			return err
		}

		var ok bool
		u.pc, ok = tmp.(packetConn)
		if !ok {
			tmp.Close()
			return fmt.Errorf("packet connection does not support read buffers")
		}
	}

	if u.c.UDPReadBufferSize != 0 {
		err := u.pc.SetReadBuffer(u.c.UDPReadBufferSize)
		if err != nil {
			u.pc.Close()
			return err
		}
	}

	u.lastPacketTime = ptrOf(int64(0))
	return nil
}

func (u *clientUDPListener) close() {
	if u.running {
		u.stop()
	}
	u.pc.Close()
}

func (u *clientUDPListener) port() int {
	return u.pc.LocalAddr().(*net.UDPAddr).Port
}

func (u *clientUDPListener) start() {
	u.running = true
	u.pc.SetReadDeadline(time.Time{})
	u.done = make(chan struct{})
	go u.run()
}

func (u *clientUDPListener) stop() {
	if u.running {
		u.pc.SetReadDeadline(time.Now())
		<-u.done
		u.running = false
	}
}

// accept checks the source of a packet.
func (u *clientUDPListener) accept(uaddr *net.UDPAddr) bool {
	if !u.readIP.Equal(uaddr.IP) {
		return false
	}

	if u.readPort == 0 {
		// in case of AnyPortEnable, store the port of the first packet we receive.
		// this reduces security issues
		if u.c.AnyPortEnable {
			u.readPort = uaddr.Port
		}
		return true
	}

	return u.readPort == uaddr.Port
}

func (u *clientUDPListener) run() {
	defer close(u.done)

	for {
		buf := make([]byte, udpMaxPayloadSize+1)
		n, addr, err := u.pc.ReadFrom(buf)
		if err != nil {
			return
		}

		uaddr, ok := addr.(*net.UDPAddr)
		if !ok || !u.accept(uaddr) {
			continue
		}

		now := u.c.TimeNow()
		atomic.StoreInt64(u.lastPacketTime, now.UnixNano())

		u.readFunc(buf[:n])
	}
}

func (u *clientUDPListener) write(payload []byte) error {
	// no mutex is needed here since Write() has an internal lock.
	// https://github.com/golang/go/issues/27203#issuecomment-534386117
	u.pc.SetWriteDeadline(time.Now().Add(u.c.WriteTimeout))
	_, err := u.pc.WriteTo(payload, u.writeAddr)
	return err
}

// clientUDPListenerConn exposes a listener as a net.Conn bound to the server address,
// in order to perform handshakes before the listener starts reading.
type clientUDPListenerConn struct {
	u *clientUDPListener

	detached atomic.Bool
	mutex    sync.Mutex
}

func (lc *clientUDPListenerConn) Read(p []byte) (int, error) {
	lc.mutex.Lock()
	defer lc.mutex.Unlock()

	for {
		if lc.detached.Load() {
			return 0, io.EOF
		}

		n, addr, err := lc.u.pc.ReadFrom(p)
		if err != nil {
			if lc.detached.Load() {
				return 0, io.EOF
			}
			return 0, err
		}

		if uaddr, ok := addr.(*net.UDPAddr); ok && lc.u.accept(uaddr) {
			return n, nil
		}
	}
}

func (lc *clientUDPListenerConn) Write(p []byte) (int, error) {
	if lc.detached.Load() {
		return 0, io.ErrClosedPipe
	}
	return lc.u.pc.WriteTo(p, lc.u.writeAddr)
}

// Close detaches the connection without closing the listener.
func (lc *clientUDPListenerConn) Close() error {
	lc.detach()
	return nil
}

// detach makes pending and future reads return, leaving the listener usable.
func (lc *clientUDPListenerConn) detach() {
	if lc.detached.Swap(true) {
		return
	}

	lc.u.pc.SetReadDeadline(time.Now())
	lc.mutex.Lock()
	lc.mutex.Unlock() //nolint:staticcheck
	lc.u.pc.SetReadDeadline(time.Time{})
}

func (lc *clientUDPListenerConn) LocalAddr() net.Addr {
	return lc.u.pc.LocalAddr()
}

func (lc *clientUDPListenerConn) RemoteAddr() net.Addr {
	return lc.u.writeAddr
}

func (lc *clientUDPListenerConn) SetDeadline(t time.Time) error {
	return lc.u.pc.SetDeadline(t)
}

func (lc *clientUDPListenerConn) SetReadDeadline(t time.Time) error {
	return lc.u.pc.SetReadDeadline(t)
}

func (lc *clientUDPListenerConn) SetWriteDeadline(t time.Time) error {
	return lc.u.pc.SetWriteDeadline(t)
}

// newClientUDPListenerPair allocates a RTP/RTCP listener pair on consecutive ports.
// The RTP port is even.
func newClientUDPListenerPair(c *Client, portRange [2]int) (*clientUDPListener, *clientUDPListener, error) {
	minPort, maxPort := udpMinPort, udpMaxPort
	if portRange != [2]int{} {
		minPort, maxPort = portRange[0], portRange[1]
	}

	if (minPort % 2) != 0 {
		minPort++
	}

	if maxPort-minPort < 1 {
		return nil, nil, fmt.Errorf("port range %v does not contain a valid port pair", portRange)
	}

	// choose two consecutive ports in range
	for i := 0; i < 100; i++ {
		v, err := randInRange((maxPort - 1 - minPort) / 2)
		if err != nil {
			return nil, nil, err
		}
		rtpPort := v*2 + minPort

		rtpListener := &clientUDPListener{
			c:       c,
			address: net.JoinHostPort("", strconv.FormatInt(int64(rtpPort), 10)),
		}
		err = rtpListener.initialize()
		if err != nil {
			continue
		}

		rtcpListener := &clientUDPListener{
			c:       c,
			address: net.JoinHostPort("", strconv.FormatInt(int64(rtpPort+1), 10)),
		}
		err = rtcpListener.initialize()
		if err != nil {
			rtpListener.close()
			continue
		}

		return rtpListener, rtcpListener, nil
	}

	return nil, nil, fmt.Errorf("unable to find a free UDP port pair in range %d-%d", minPort, maxPort)
}
