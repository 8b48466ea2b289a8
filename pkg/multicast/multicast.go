// Package multicast contains multicast UDP connections.
package multicast

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/net/ipv4"
)

const (
	// same TTL as GStreamer's rtspsrc
	multicastTTL = 16
)

// Conn is a multicast connection.
type Conn interface {
	net.PacketConn
	SetReadBuffer(int) error
}

type conn struct {
	addr   *net.UDPAddr
	conn   *net.UDPConn
	connIP *ipv4.PacketConn
}

// NewConn allocates a multicast connection bound to the port of address
// that joins the group of address.
// When intf is nil, the group is joined on every multicast-capable interface.
func NewConn(
	address string,
	intf *net.Interface,
	listenPacket func(network, address string) (net.PacketConn, error),
) (Conn, error) {
	addr, err := net.ResolveUDPAddr("udp4", address)
	if err != nil {
		return nil, err
	}

	if !addr.IP.IsMulticast() {
		return nil, fmt.Errorf("%v is not a multicast address", addr.IP)
	}

	if listenPacket == nil {
		listenPacket = net.ListenPacket
	}

	tmp, err := listenPacket("udp4", "224.0.0.0:"+strconv.FormatInt(int64(addr.Port), 10))
	if err != nil {
		return nil, err
	}

	udpConn, ok := tmp.(*net.UDPConn)
	if !ok {
		tmp.Close() //nolint:errcheck
		return nil, fmt.Errorf("listenPacket returned a non-UDP connection")
	}

	connIP := ipv4.NewPacketConn(udpConn)

	err = joinGroup(connIP, intf, addr.IP)
	if err != nil {
		udpConn.Close() //nolint:errcheck
		return nil, err
	}

	err = connIP.SetMulticastTTL(multicastTTL)
	if err != nil {
		udpConn.Close() //nolint:errcheck
		return nil, err
	}

	err = setupReadFrom(connIP)
	if err != nil {
		udpConn.Close() //nolint:errcheck
		return nil, err
	}

	return &conn{
		addr:   addr,
		conn:   udpConn,
		connIP: connIP,
	}, nil
}

func joinGroup(connIP *ipv4.PacketConn, intf *net.Interface, group net.IP) error {
	if intf != nil {
		err := connIP.JoinGroup(intf, &net.UDPAddr{IP: group})
		if err != nil {
			return err
		}
		return connIP.SetMulticastInterface(intf)
	}

	intfs, err := net.Interfaces()
	if err != nil {
		return err
	}

	joined := false

	for _, intf := range intfs {
		if (intf.Flags & net.FlagMulticast) == 0 {
			continue
		}
		cintf := intf

		if connIP.JoinGroup(&cintf, &net.UDPAddr{IP: group}) == nil {
			joined = true
		}
	}

	if !joined {
		return fmt.Errorf("no multicast-capable interfaces found")
	}

	return nil
}

// Close implements Conn.
func (c *conn) Close() error {
	return c.conn.Close()
}

// SetReadBuffer implements Conn.
func (c *conn) SetReadBuffer(bytes int) error {
	return c.conn.SetReadBuffer(bytes)
}

// LocalAddr implements Conn.
func (c *conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// SetDeadline implements Conn.
func (c *conn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// SetReadDeadline implements Conn.
func (c *conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline implements Conn.
func (c *conn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// WriteTo implements Conn.
func (c *conn) WriteTo(b []byte, addr net.Addr) (int, error) {
	return c.conn.WriteTo(b, addr)
}

// ReadFrom implements Conn.
// Packets addressed to groups joined by other connections are discarded.
func (c *conn) ReadFrom(b []byte) (int, net.Addr, error) {
	return readFrom(c.connIP, c.addr.IP, b)
}
