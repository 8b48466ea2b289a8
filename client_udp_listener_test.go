package rtspengine

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClientUDPListenerPair(t *testing.T) {
	for _, ca := range []struct {
		name      string
		portRange [2]int
	}{
		{
			"default",
			[2]int{},
		},
		{
			"odd start",
			[2]int{35001, 35100},
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			c := &Client{
				ListenPacket: net.ListenPacket,
				TimeNow:      time.Now,
			}

			rtpL, rtcpL, err := newClientUDPListenerPair(c, ca.portRange)
			require.NoError(t, err)
			defer rtpL.close()
			defer rtcpL.close()

			require.Equal(t, 0, rtpL.port()%2)
			require.Equal(t, rtpL.port()+1, rtcpL.port())

			if ca.portRange != [2]int{} {
				require.GreaterOrEqual(t, rtpL.port(), ca.portRange[0])
				require.LessOrEqual(t, rtcpL.port(), ca.portRange[1])
			}
		})
	}
}

func TestClientUDPListenerPairInvalidRange(t *testing.T) {
	c := &Client{
		ListenPacket: net.ListenPacket,
		TimeNow:      time.Now,
	}

	_, _, err := newClientUDPListenerPair(c, [2]int{35001, 35001})
	require.Error(t, err)
}

func TestClientUDPListenerAccept(t *testing.T) {
	for _, ca := range []struct {
		name      string
		anyPort   bool
		readPort  int
		source    *net.UDPAddr
		accepted  bool
		finalPort int
	}{
		{
			"matching",
			false,
			34556,
			&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 34556},
			true,
			34556,
		},
		{
			"wrong port",
			false,
			34556,
			&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 34558},
			false,
			34556,
		},
		{
			"wrong ip",
			false,
			34556,
			&net.UDPAddr{IP: net.ParseIP("127.0.0.2"), Port: 34556},
			false,
			34556,
		},
		{
			"any port learns first",
			true,
			0,
			&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 41000},
			true,
			41000,
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			u := &clientUDPListener{
				c:        &Client{AnyPortEnable: ca.anyPort},
				readIP:   net.ParseIP("127.0.0.1"),
				readPort: ca.readPort,
			}
			require.Equal(t, ca.accepted, u.accept(ca.source))
			require.Equal(t, ca.finalPort, u.readPort)
		})
	}
}

func TestClientUDPListenerRead(t *testing.T) {
	c := &Client{
		ListenPacket: net.ListenPacket,
		TimeNow:      time.Now,
		WriteTimeout: time.Second,
	}

	u := &clientUDPListener{
		c:       c,
		address: "127.0.0.1:0",
	}
	err := u.initialize()
	require.NoError(t, err)
	defer u.close()

	sender, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer sender.Close()

	u.readIP = net.ParseIP("127.0.0.1")
	u.readPort = sender.LocalAddr().(*net.UDPAddr).Port

	recv := make(chan []byte, 1)
	u.readFunc = func(buf []byte) {
		recv <- append([]byte(nil), buf...)
	}
	u.start()

	_, err = sender.WriteTo([]byte{1, 2, 3, 4}, u.pc.LocalAddr())
	require.NoError(t, err)

	select {
	case buf := <-recv:
		require.Equal(t, []byte{1, 2, 3, 4}, buf)
	case <-time.After(2 * time.Second):
		t.Fatal("packet not received")
	}

	u.stop()
	require.NotZero(t, *u.lastPacketTime)
}

func TestClientUDPListenerConnDetach(t *testing.T) {
	c := &Client{
		ListenPacket: net.ListenPacket,
		TimeNow:      time.Now,
	}

	u := &clientUDPListener{
		c:       c,
		address: "127.0.0.1:0",
	}
	err := u.initialize()
	require.NoError(t, err)
	defer u.close()

	u.readIP = net.ParseIP("127.0.0.1")
	u.writeAddr = &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9}

	lc := &clientUDPListenerConn{u: u}

	readDone := make(chan error)
	go func() {
		_, err2 := lc.Read(make([]byte, 10))
		readDone <- err2
	}()

	time.Sleep(100 * time.Millisecond)
	lc.Close()

	select {
	case err = <-readDone:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("read did not return")
	}

	_, err = lc.Write([]byte{1})
	require.Error(t, err)
}
