package multicast

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewConnNotMulticast(t *testing.T) {
	_, err := NewConn("127.0.0.1:5004", nil, nil)
	require.EqualError(t, err, "127.0.0.1 is not a multicast address")
}

func TestNewConnListenError(t *testing.T) {
	_, err := NewConn("239.0.0.1:5004", nil, func(_, _ string) (net.PacketConn, error) {
		return nil, net.UnknownNetworkError("udp4")
	})
	require.Error(t, err)
}
