//go:build !windows

package multicast

import (
	"net"

	"golang.org/x/net/ipv4"
)

func setupReadFrom(c *ipv4.PacketConn) error {
	return c.SetControlMessage(ipv4.FlagDst, true)
}

func readFrom(c *ipv4.PacketConn, group net.IP, b []byte) (int, net.Addr, error) {
	for {
		n, cm, src, err := c.ReadFrom(b)
		if err != nil {
			return 0, nil, err
		}

		if cm != nil && !cm.Dst.Equal(group) {
			continue
		}

		return n, src, nil
	}
}
