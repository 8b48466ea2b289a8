package rtspengine

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"

	"github.com/bluenviron/rtspengine/pkg/base"
	"github.com/bluenviron/rtspengine/pkg/conn"
	"github.com/bluenviron/rtspengine/pkg/description"
	"github.com/bluenviron/rtspengine/pkg/headers"
	"github.com/bluenviron/rtspengine/pkg/liberrors"
	"github.com/bluenviron/rtspengine/pkg/security"
)

func publicHeader() base.HeaderValue {
	return base.HeaderValue{strings.Join([]string{
		string(base.Describe),
		string(base.Setup),
		string(base.Play),
		string(base.GetParameter),
	}, ", ")}
}

func sessionHeader(timeout uint) base.HeaderValue {
	return headers.Session{
		Session: "ABCDE",
		Timeout: ptrOf(timeout),
	}.Marshal()
}

func TestClientPlay(t *testing.T) {
	for _, transport := range []string{
		"udp",
		"tcp",
	} {
		t.Run(transport, func(t *testing.T) {
			l, err := net.Listen("tcp", "127.0.0.1:8554")
			require.NoError(t, err)
			defer l.Close()

			serverDone := make(chan struct{})
			defer func() { <-serverDone }()

			go func() {
				defer close(serverDone)

				nconn, err2 := l.Accept()
				require.NoError(t, err2)
				defer nconn.Close()
				conn := conn.NewConn(nconn)

				readRequestMethod(t, conn, base.Options)
				writeOK(t, conn, base.Header{
					"Public": publicHeader(),
				})

				req := readRequestMethod(t, conn, base.Describe)
				require.Equal(t, mustParseURL("rtsp://127.0.0.1:8554/teststream"), req.URL)
				require.Equal(t, base.HeaderValue{"application/sdp"}, req.Header["Accept"])

				writeDescribeResponse(t, conn, []*description.Media{testMedia("trackID=0")})

				req = readRequestMethod(t, conn, base.Setup)
				require.Equal(t, mustParseURL("rtsp://127.0.0.1:8554/teststream/trackID=0"), req.URL)

				var inTH headers.Transport
				err2 = inTH.Unmarshal(req.Header["Transport"])
				require.NoError(t, err2)
				require.Equal(t, headers.TransportProfileAVP, inTH.Profile)
				require.Equal(t, ptrOf(headers.TransportModePlay), inTH.Mode)

				th := headers.Transport{
					Delivery: ptrOf(headers.TransportDeliveryUnicast),
				}

				var l1 net.PacketConn

				if transport == "udp" {
					require.Equal(t, headers.TransportProtocolUDP, inTH.Protocol)
					require.NotNil(t, inTH.ClientPorts)
					require.Equal(t, 0, inTH.ClientPorts[0]%2)
					require.Equal(t, inTH.ClientPorts[0]+1, inTH.ClientPorts[1])

					th.Protocol = headers.TransportProtocolUDP
					th.ClientPorts = inTH.ClientPorts
					th.ServerPorts = &[2]int{34556, 34557}

					l1, err2 = net.ListenPacket("udp", "127.0.0.1:34556")
					require.NoError(t, err2)
					defer l1.Close()

					var l2 net.PacketConn
					l2, err2 = net.ListenPacket("udp", "127.0.0.1:34557")
					require.NoError(t, err2)
					defer l2.Close()
				} else {
					require.Equal(t, headers.TransportProtocolTCP, inTH.Protocol)
					require.Equal(t, &[2]int{0, 1}, inTH.InterleavedIDs)

					th.Protocol = headers.TransportProtocolTCP
					th.InterleavedIDs = inTH.InterleavedIDs
				}

				writeOK(t, conn, base.Header{
					"Transport": th.Marshal(),
					"Session":   sessionHeader(60),
				})

				req = readRequestMethod(t, conn, base.Play)
				require.Equal(t, base.HeaderValue{"ABCDE"}, req.Header["Session"])
				require.Equal(t, mustParseURL("rtsp://127.0.0.1:8554/teststream/"), req.URL)

				writeOK(t, conn, base.Header{
					"Session": sessionHeader(60),
					"RTP-Info": headers.RTPInfo{{
						URL:            "rtsp://127.0.0.1:8554/teststream/trackID=0",
						SequenceNumber: ptrOf(uint16(946)),
						Timestamp:      ptrOf(uint32(54352)),
					}}.Marshal(),
				})

				pkt := testRTPPacket
				pkt.Timestamp += 90000
				byts := mustMarshalPacketRTP(&pkt)

				if transport == "udp" {
					_, err2 = l1.WriteTo(byts, &net.UDPAddr{
						IP:   net.ParseIP("127.0.0.1"),
						Port: inTH.ClientPorts[0],
					})
					require.NoError(t, err2)
				} else {
					err2 = conn.WriteInterleavedFrame(&base.InterleavedFrame{
						Channel: 0,
						Payload: byts,
					})
					require.NoError(t, err2)
				}

				req = readRequestMethod(t, conn, base.Teardown)
				require.Equal(t, base.HeaderValue{"ABCDE"}, req.Header["Session"])
				writeOK(t, conn, nil)
			}()

			packetRecv := make(chan struct{})

			tr := TransportUDP
			if transport == "tcp" {
				tr = TransportTCP
			}

			c := Client{
				Transports: []TransportCandidate{{Protocol: tr}},
				BufferMode: ptrOf(BufferModeNone),
				OnPacketRTP: func(mediaIndex int, pkt *rtp.Packet, pts time.Duration) {
					require.Equal(t, 0, mediaIndex)
					require.Equal(t, testRTPPacket.SequenceNumber, pkt.SequenceNumber)
					require.Equal(t, testRTPPacket.Payload, pkt.Payload)
					require.Equal(t, 1*time.Second, pts)
					close(packetRecv)
				},
			}

			err = c.Start("rtsp://127.0.0.1:8554/teststream")
			require.NoError(t, err)

			_, err = c.Options()
			require.NoError(t, err)

			_, err = c.Describe()
			require.NoError(t, err)

			err = c.SetupAll()
			require.NoError(t, err)
			require.Equal(t, clientStateSetup, c.State())

			_, err = c.Play()
			require.NoError(t, err)
			require.Equal(t, clientStatePlaying, c.State())
			require.Equal(t, "ABCDE", c.SessionID())

			<-packetRecv

			_, ok := c.Mapping(0)
			require.True(t, ok)

			c.Close()
			require.Equal(t, clientStateClosed, c.State())
			require.Empty(t, c.SessionID())

			evs := make([]Event, 0)
			for ev := range c.Events() {
				evs = append(evs, ev)
			}
			require.Equal(t, []Event{
				TransportChosen{MediaIndex: 0, Protocol: tr},
				SessionEstablished{SessionID: "ABCDE"},
				SessionClosed{SessionID: "ABCDE"},
			}, evs)
		})
	}
}

func TestClientPlaySecure(t *testing.T) {
	km := &security.KeyMaterial{
		Suite: security.SuiteAES128CMHMACSHA180,
		Key:   bytes.Repeat([]byte{0x11}, 16),
		Salt:  bytes.Repeat([]byte{0x22}, 14),
	}

	l, err := net.Listen("tcp", "127.0.0.1:8554")
	require.NoError(t, err)
	defer l.Close()

	serverDone := make(chan struct{})
	defer func() { <-serverDone }()

	go func() {
		defer close(serverDone)

		nconn, err2 := l.Accept()
		require.NoError(t, err2)
		defer nconn.Close()
		conn := conn.NewConn(nconn)

		medi := testMedia("trackID=0")
		medi.Profile = "RTP/SAVP"
		medi.Crypto = []string{security.CryptoAttribute{
			Tag:   1,
			Suite: km.Suite,
			Key:   km.Key,
			Salt:  km.Salt,
		}.Marshal()}

		readRequestMethod(t, conn, base.Describe)
		writeDescribeResponse(t, conn, []*description.Media{medi})

		req := readRequestMethod(t, conn, base.Setup)

		var inTH headers.Transport
		err2 = inTH.Unmarshal(req.Header["Transport"])
		require.NoError(t, err2)
		require.Equal(t, headers.TransportProfileSAVP, inTH.Profile)

		// keys are provided by the description
		_, ok := req.Header["KeyMgmt"]
		require.False(t, ok)

		writeOK(t, conn, base.Header{
			"Transport": headers.Transport{
				Protocol:       headers.TransportProtocolTCP,
				Profile:        headers.TransportProfileSAVP,
				Delivery:       ptrOf(headers.TransportDeliveryUnicast),
				InterleavedIDs: inTH.InterleavedIDs,
			}.Marshal(),
			"Session": sessionHeader(60),
		})

		readRequestMethod(t, conn, base.Play)
		writeOK(t, conn, base.Header{
			"Session": sessionHeader(60),
		})

		sctx, err2 := security.NewContext(km, nil)
		require.NoError(t, err2)

		pkt := testRTPPacket
		enc, err2 := sctx.EncryptRTP(nil, mustMarshalPacketRTP(&pkt), nil)
		require.NoError(t, err2)

		err2 = conn.WriteInterleavedFrame(&base.InterleavedFrame{
			Channel: 0,
			Payload: enc,
		})
		require.NoError(t, err2)

		readRequestMethod(t, conn, base.Teardown)
		writeOK(t, conn, nil)
	}()

	packetRecv := make(chan struct{})

	c := Client{
		Transports: []TransportCandidate{{Protocol: TransportTCP}},
		BufferMode: ptrOf(BufferModeNone),
		OnPacketRTP: func(_ int, pkt *rtp.Packet, _ time.Duration) {
			require.Equal(t, testRTPPacket.Payload, pkt.Payload)
			close(packetRecv)
		},
	}

	err = c.Start("rtsp://127.0.0.1:8554/teststream")
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Describe()
	require.NoError(t, err)

	res, err := c.Setup(0)
	require.NoError(t, err)
	require.True(t, res.Secure)
	require.Equal(t, security.KeySourceCrypto, res.KeySource)

	_, err = c.Play()
	require.NoError(t, err)

	<-packetRecv

	evs := waitEvent(t, &c, func(ev Event) bool {
		_, ok := ev.(SessionEstablished)
		return ok
	})
	require.Equal(t, []Event{
		TransportChosen{MediaIndex: 0, Protocol: TransportTCP},
		SecurityNegotiated{
			MediaIndex: 0,
			Protocol:   "SRTP",
			Suite:      security.SuiteAES128CMHMACSHA180,
			Source:     security.KeySourceCrypto,
		},
		SessionEstablished{SessionID: "ABCDE"},
	}, evs)
}

func TestClientPlayTransportFallback(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:8554")
	require.NoError(t, err)
	defer l.Close()

	serverDone := make(chan struct{})
	defer func() { <-serverDone }()

	go func() {
		defer close(serverDone)

		nconn, err2 := l.Accept()
		require.NoError(t, err2)
		defer nconn.Close()
		conn := conn.NewConn(nconn)

		readRequestMethod(t, conn, base.Describe)
		writeDescribeResponse(t, conn, []*description.Media{testMedia("trackID=0")})

		req := readRequestMethod(t, conn, base.Setup)

		var inTH headers.Transport
		err2 = inTH.Unmarshal(req.Header["Transport"])
		require.NoError(t, err2)
		require.Equal(t, headers.TransportProtocolUDP, inTH.Protocol)

		err2 = conn.WriteResponse(&base.Response{
			StatusCode: base.StatusUnsupportedTransport,
		})
		require.NoError(t, err2)

		req = readRequestMethod(t, conn, base.Setup)

		inTH = headers.Transport{}
		err2 = inTH.Unmarshal(req.Header["Transport"])
		require.NoError(t, err2)
		require.Equal(t, headers.TransportProtocolTCP, inTH.Protocol)

		writeOK(t, conn, base.Header{
			"Transport": headers.Transport{
				Protocol:       headers.TransportProtocolTCP,
				Delivery:       ptrOf(headers.TransportDeliveryUnicast),
				InterleavedIDs: inTH.InterleavedIDs,
			}.Marshal(),
			"Session": sessionHeader(60),
		})

		readRequestMethod(t, conn, base.Teardown)
		writeOK(t, conn, nil)
	}()

	c := Client{
		Transports: []TransportCandidate{
			{Protocol: TransportTCP, Priority: 1},
			{Protocol: TransportUDP, Priority: 0},
		},
	}

	err = c.Start("rtsp://127.0.0.1:8554/teststream")
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Describe()
	require.NoError(t, err)

	res, err := c.Setup(0)
	require.NoError(t, err)
	require.Equal(t, TransportTCP, res.Candidate.Protocol)
	require.Equal(t, 0, res.RTPChannel)
	require.Equal(t, 1, res.RTCPChannel)

	_, err = c.Setup(0)
	require.Equal(t, liberrors.ErrClientMediaAlreadySetup{MediaIndex: 0}, err)

	_, err = c.Setup(3)
	require.Equal(t, liberrors.ErrClientMediaIndexInvalid{MediaIndex: 3}, err)
}

func TestClientPlayNoTransportAvailable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:8554")
	require.NoError(t, err)
	defer l.Close()

	serverDone := make(chan struct{})
	defer func() { <-serverDone }()

	go func() {
		defer close(serverDone)

		nconn, err2 := l.Accept()
		require.NoError(t, err2)
		defer nconn.Close()
		conn := conn.NewConn(nconn)

		readRequestMethod(t, conn, base.Describe)
		writeDescribeResponse(t, conn, []*description.Media{testMedia("trackID=0")})

		readRequestMethod(t, conn, base.Setup)
		err2 = conn.WriteResponse(&base.Response{
			StatusCode: base.StatusUnsupportedTransport,
		})
		require.NoError(t, err2)
	}()

	c := Client{
		Transports: []TransportCandidate{{Protocol: TransportTCP}},
	}

	err = c.Start("rtsp://127.0.0.1:8554/teststream")
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Describe()
	require.NoError(t, err)

	_, err = c.Setup(0)
	require.Equal(t, liberrors.ErrClientNoTransportAvailable{MediaIndex: 0}, err)
	require.Equal(t, err, c.Wait())
}

func TestClientPlayKeepalive(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:8554")
	require.NoError(t, err)
	defer l.Close()

	serverDone := make(chan struct{})
	defer func() { <-serverDone }()

	keepaliveRecv := make(chan struct{})

	go func() {
		defer close(serverDone)

		nconn, err2 := l.Accept()
		require.NoError(t, err2)
		defer nconn.Close()
		conn := conn.NewConn(nconn)

		readRequestMethod(t, conn, base.Options)
		writeOK(t, conn, base.Header{
			"Public": publicHeader(),
		})

		readRequestMethod(t, conn, base.Describe)
		writeDescribeResponse(t, conn, []*description.Media{testMedia("trackID=0")})

		req := readRequestMethod(t, conn, base.Setup)

		var inTH headers.Transport
		err2 = inTH.Unmarshal(req.Header["Transport"])
		require.NoError(t, err2)

		writeOK(t, conn, base.Header{
			"Transport": headers.Transport{
				Protocol:       headers.TransportProtocolTCP,
				Delivery:       ptrOf(headers.TransportDeliveryUnicast),
				InterleavedIDs: inTH.InterleavedIDs,
			}.Marshal(),
			"Session": sessionHeader(1),
		})

		readRequestMethod(t, conn, base.Play)
		writeOK(t, conn, base.Header{
			"Session": sessionHeader(1),
		})

		req = readRequestMethod(t, conn, base.GetParameter)
		require.Equal(t, base.HeaderValue{"ABCDE"}, req.Header["Session"])
		writeOK(t, conn, base.Header{
			"Session": sessionHeader(1),
		})
		close(keepaliveRecv)

		readRequestMethod(t, conn, base.Teardown)
		writeOK(t, conn, nil)
	}()

	c := Client{
		Transports: []TransportCandidate{{Protocol: TransportTCP}},
	}

	err = c.Start("rtsp://127.0.0.1:8554/teststream")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = c.Run(ctx)
	require.NoError(t, err)

	<-keepaliveRecv

	c.Close()
}

func TestClientPlayDecodeErrors(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:8554")
	require.NoError(t, err)
	defer l.Close()

	serverDone := make(chan struct{})
	defer func() { <-serverDone }()

	go func() {
		defer close(serverDone)

		nconn, err2 := l.Accept()
		require.NoError(t, err2)
		defer nconn.Close()
		conn := conn.NewConn(nconn)

		readRequestMethod(t, conn, base.Describe)
		writeDescribeResponse(t, conn, []*description.Media{testMedia("trackID=0")})

		req := readRequestMethod(t, conn, base.Setup)

		var inTH headers.Transport
		err2 = inTH.Unmarshal(req.Header["Transport"])
		require.NoError(t, err2)

		writeOK(t, conn, base.Header{
			"Transport": headers.Transport{
				Protocol:       headers.TransportProtocolTCP,
				Delivery:       ptrOf(headers.TransportDeliveryUnicast),
				InterleavedIDs: inTH.InterleavedIDs,
			}.Marshal(),
			"Session": sessionHeader(60),
		})

		readRequestMethod(t, conn, base.Play)
		writeOK(t, conn, base.Header{
			"Session": sessionHeader(60),
		})

		for i := 0; i < 3; i++ {
			err2 = conn.WriteInterleavedFrame(&base.InterleavedFrame{
				Channel: 0,
				Payload: []byte{0x01, 0x02},
			})
			require.NoError(t, err2)
		}

		readRequestMethod(t, conn, base.Teardown)
		writeOK(t, conn, nil)
	}()

	var decodeErrors []int

	c := Client{
		Transports:      []TransportCandidate{{Protocol: TransportTCP}},
		MaxDecodeErrors: 3,
		OnDecodeError: func(mediaIndex int, _ error) {
			decodeErrors = append(decodeErrors, mediaIndex)
		},
	}

	err = c.Start("rtsp://127.0.0.1:8554/teststream")
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Describe()
	require.NoError(t, err)

	err = c.SetupAll()
	require.NoError(t, err)

	_, err = c.Play()
	require.NoError(t, err)

	err = c.Wait()

	var tooMany liberrors.ErrClientTooManyDecodeErrors
	require.True(t, errors.As(err, &tooMany))
	require.Equal(t, 0, tooMany.MediaIndex)
	require.Equal(t, 3, tooMany.Count)
	require.Equal(t, []int{0, 0, 0}, decodeErrors)
	require.Equal(t, clientStateError, c.State())
}

func TestClientPlaySwitchToTCP(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:8554")
	require.NoError(t, err)
	defer l.Close()

	serverDone := make(chan struct{})
	defer func() { <-serverDone }()

	go func() {
		defer close(serverDone)

		nconn, err2 := l.Accept()
		require.NoError(t, err2)
		conn1 := conn.NewConn(nconn)

		readRequestMethod(t, conn1, base.Describe)
		writeDescribeResponse(t, conn1, []*description.Media{testMedia("trackID=0")})

		req := readRequestMethod(t, conn1, base.Setup)

		var inTH headers.Transport
		err2 = inTH.Unmarshal(req.Header["Transport"])
		require.NoError(t, err2)
		require.Equal(t, headers.TransportProtocolUDP, inTH.Protocol)

		writeOK(t, conn1, base.Header{
			"Transport": headers.Transport{
				Protocol:    headers.TransportProtocolUDP,
				Delivery:    ptrOf(headers.TransportDeliveryUnicast),
				ClientPorts: inTH.ClientPorts,
				ServerPorts: &[2]int{34556, 34557},
			}.Marshal(),
			"Session": sessionHeader(60),
		})

		readRequestMethod(t, conn1, base.Play)
		writeOK(t, conn1, base.Header{
			"Session": sessionHeader(60),
		})

		// no UDP packets are sent
		readRequestMethod(t, conn1, base.Teardown)
		writeOK(t, conn1, nil)
		nconn.Close()

		nconn, err2 = l.Accept()
		require.NoError(t, err2)
		defer nconn.Close()
		conn2 := conn.NewConn(nconn)

		req = readRequestMethod(t, conn2, base.Setup)
		_, ok := req.Header["Session"]
		require.False(t, ok)

		inTH = headers.Transport{}
		err2 = inTH.Unmarshal(req.Header["Transport"])
		require.NoError(t, err2)
		require.Equal(t, headers.TransportProtocolTCP, inTH.Protocol)

		writeOK(t, conn2, base.Header{
			"Transport": headers.Transport{
				Protocol:       headers.TransportProtocolTCP,
				Delivery:       ptrOf(headers.TransportDeliveryUnicast),
				InterleavedIDs: inTH.InterleavedIDs,
			}.Marshal(),
			"Session": headers.Session{Session: "FGHIJ"}.Marshal(),
		})

		readRequestMethod(t, conn2, base.Play)
		writeOK(t, conn2, base.Header{
			"Session": headers.Session{Session: "FGHIJ"}.Marshal(),
		})

		err2 = conn2.WriteInterleavedFrame(&base.InterleavedFrame{
			Channel: 0,
			Payload: mustMarshalPacketRTP(&testRTPPacket),
		})
		require.NoError(t, err2)

		readRequestMethod(t, conn2, base.Teardown)
		writeOK(t, conn2, nil)
	}()

	switched := make(chan error, 1)
	packetRecv := make(chan struct{})

	c := Client{
		Transports: []TransportCandidate{
			{Protocol: TransportUDP},
			{Protocol: TransportTCP, Priority: 1},
		},
		BufferMode:            ptrOf(BufferModeNone),
		InitialUDPReadTimeout: 500 * time.Millisecond,
		OnTransportSwitch: func(err error) {
			switched <- err
		},
		OnPacketRTP: func(_ int, _ *rtp.Packet, _ time.Duration) {
			close(packetRecv)
		},
	}

	err = c.Start("rtsp://127.0.0.1:8554/teststream")
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Describe()
	require.NoError(t, err)

	err = c.SetupAll()
	require.NoError(t, err)

	_, err = c.Play()
	require.NoError(t, err)

	require.Equal(t, liberrors.ErrClientNoUDPPacketsInAWhile{}, <-switched)

	<-packetRecv

	require.Equal(t, "FGHIJ", c.SessionID())
	require.Equal(t, clientStatePlaying, c.State())
}

func TestClientPlayBackChannel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:8554")
	require.NoError(t, err)
	defer l.Close()

	serverDone := make(chan struct{})
	defer func() { <-serverDone }()

	go func() {
		defer close(serverDone)

		nconn, err2 := l.Accept()
		require.NoError(t, err2)
		defer nconn.Close()
		conn := conn.NewConn(nconn)

		req := readRequestMethod(t, conn, base.Describe)
		require.Equal(t, base.HeaderValue{"www.onvif.org/ver20/backchannel"}, req.Header["Require"])

		backChannel := testMedia("trackID=1")
		backChannel.Type = description.MediaTypeAudio
		backChannel.IsBackChannel = true
		backChannel.Formats = []*description.Format{{
			PayloadType: 0,
			Codec:       "pcmu",
			ClockRate:   8000,
			Channels:    1,
		}}

		writeDescribeResponse(t, conn, []*description.Media{
			testMedia("trackID=0"),
			backChannel,
		})

		for i := 0; i < 2; i++ {
			req = readRequestMethod(t, conn, base.Setup)
			require.Equal(t, mustParseURL("rtsp://127.0.0.1:8554/teststream/trackID="+strconv.Itoa(i)), req.URL)
			require.Equal(t, base.HeaderValue{"www.onvif.org/ver20/backchannel"}, req.Header["Require"])

			var inTH headers.Transport
			err2 = inTH.Unmarshal(req.Header["Transport"])
			require.NoError(t, err2)

			writeOK(t, conn, base.Header{
				"Transport": headers.Transport{
					Protocol:       headers.TransportProtocolTCP,
					Delivery:       ptrOf(headers.TransportDeliveryUnicast),
					InterleavedIDs: inTH.InterleavedIDs,
				}.Marshal(),
				"Session": sessionHeader(60),
			})
		}

		readRequestMethod(t, conn, base.Play)
		writeOK(t, conn, base.Header{
			"Session": sessionHeader(60),
		})

		fr, err2 := conn.ReadInterleavedFrame()
		require.NoError(t, err2)
		require.Equal(t, 2, fr.Channel)

		var pkt rtp.Packet
		err2 = pkt.Unmarshal(fr.Payload)
		require.NoError(t, err2)
		require.Equal(t, testRTPPacket.SequenceNumber, pkt.SequenceNumber)
		require.Equal(t, testRTPPacket.Payload, pkt.Payload)

		readRequestMethod(t, conn, base.Teardown)
		writeOK(t, conn, nil)
	}()

	c := Client{
		Transports:          []TransportCandidate{{Protocol: TransportTCP}},
		RequestBackChannels: true,
	}

	err = c.Start("rtsp://127.0.0.1:8554/teststream")
	require.NoError(t, err)
	defer c.Close()

	err = c.WritePacketRTP(1, &testRTPPacket)
	require.Equal(t, liberrors.ErrClientInvalidState{
		AllowedList: []string{clientStatePlaying},
		State:       clientStateInit,
	}, err)

	desc, err := c.Describe()
	require.NoError(t, err)
	require.True(t, desc.Medias[1].IsBackChannel)

	err = c.SetupAll()
	require.NoError(t, err)

	_, err = c.Play()
	require.NoError(t, err)

	err = c.WritePacketRTP(0, &testRTPPacket)
	require.Equal(t, liberrors.ErrClientNotBackChannel{MediaIndex: 0}, err)

	err = c.WritePacketRTP(1, &testRTPPacket)
	require.NoError(t, err)

	_, ok := c.Mapping(1)
	require.False(t, ok)
}

func TestClientPlayFlushOnClose(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:8554")
	require.NoError(t, err)
	defer l.Close()

	serverDone := make(chan struct{})
	defer func() { <-serverDone }()

	go func() {
		defer close(serverDone)

		nconn, err2 := l.Accept()
		require.NoError(t, err2)
		defer nconn.Close()
		conn := conn.NewConn(nconn)

		readRequestMethod(t, conn, base.Describe)
		writeDescribeResponse(t, conn, []*description.Media{testMedia("trackID=0")})

		req := readRequestMethod(t, conn, base.Setup)

		var inTH headers.Transport
		err2 = inTH.Unmarshal(req.Header["Transport"])
		require.NoError(t, err2)

		writeOK(t, conn, base.Header{
			"Transport": headers.Transport{
				Protocol:       headers.TransportProtocolTCP,
				Delivery:       ptrOf(headers.TransportDeliveryUnicast),
				InterleavedIDs: inTH.InterleavedIDs,
			}.Marshal(),
			"Session": sessionHeader(60),
		})

		readRequestMethod(t, conn, base.Play)
		writeOK(t, conn, base.Header{
			"Session": sessionHeader(60),
		})

		for i := 0; i < 3; i++ {
			pkt := testRTPPacket
			pkt.SequenceNumber += uint16(i)
			pkt.Timestamp += uint32(i) * 3000

			err2 = conn.WriteInterleavedFrame(&base.InterleavedFrame{
				Channel: 0,
				Payload: mustMarshalPacketRTP(&pkt),
			})
			require.NoError(t, err2)
		}

		rr, err2 := (&rtcp.ReceiverReport{SSRC: 1234}).Marshal()
		require.NoError(t, err2)

		err2 = conn.WriteInterleavedFrame(&base.InterleavedFrame{
			Channel: 1,
			Payload: rr,
		})
		require.NoError(t, err2)

		readRequestMethod(t, conn, base.Teardown)
		writeOK(t, conn, nil)
	}()

	var mutex sync.Mutex
	var seqs []uint16
	rtcpRecv := make(chan struct{})

	c := Client{
		Transports:   []TransportCandidate{{Protocol: TransportTCP}},
		BufferMode:   ptrOf(BufferModeBuffer),
		LowWatermark: 16,
		OnPacketRTP: func(_ int, pkt *rtp.Packet, _ time.Duration) {
			mutex.Lock()
			defer mutex.Unlock()
			seqs = append(seqs, pkt.SequenceNumber)
		},
		OnPacketRTCP: func(_ int, _ rtcp.Packet) {
			close(rtcpRecv)
		},
	}

	err = c.Start("rtsp://127.0.0.1:8554/teststream")
	require.NoError(t, err)

	_, err = c.Describe()
	require.NoError(t, err)

	_, err = c.Setup(0)
	require.NoError(t, err)

	_, err = c.Play()
	require.NoError(t, err)

	// RTP frames precede the RTCP frame on the connection.
	<-rtcpRecv

	mutex.Lock()
	require.Empty(t, seqs)
	mutex.Unlock()

	c.Close()

	mutex.Lock()
	defer mutex.Unlock()
	require.Equal(t, []uint16{
		testRTPPacket.SequenceNumber,
		testRTPPacket.SequenceNumber + 1,
		testRTPPacket.SequenceNumber + 2,
	}, seqs)
}
