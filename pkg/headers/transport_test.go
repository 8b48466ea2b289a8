package headers

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/rtspengine/pkg/base"
)

func ptrOf[T any](v T) *T {
	return &v
}

var casesTransport = []struct {
	name string
	vin  base.HeaderValue
	vout base.HeaderValue
	h    Transport
}{
	{
		"udp unicast play request",
		base.HeaderValue{`RTP/AVP;unicast;client_port=3456-3457;mode="PLAY"`},
		base.HeaderValue{`RTP/AVP;unicast;client_port=3456-3457;mode=play`},
		Transport{
			Protocol:    TransportProtocolUDP,
			Profile:     TransportProfileAVP,
			Delivery:    ptrOf(TransportDeliveryUnicast),
			ClientPorts: &[2]int{3456, 3457},
			Mode:        ptrOf(TransportModePlay),
		},
	},
	{
		"udp unicast play response",
		base.HeaderValue{`RTP/AVP/UDP;unicast;client_port=3056-3057;server_port=5000-5001;ssrc=1CD1B0F3`},
		base.HeaderValue{`RTP/AVP;unicast;client_port=3056-3057;server_port=5000-5001;ssrc=1CD1B0F3`},
		Transport{
			Protocol:    TransportProtocolUDP,
			Profile:     TransportProfileAVP,
			Delivery:    ptrOf(TransportDeliveryUnicast),
			ClientPorts: &[2]int{3056, 3057},
			ServerPorts: &[2]int{5000, 5001},
			SSRC:        ptrOf(uint32(0x1CD1B0F3)),
		},
	},
	{
		"udp multicast",
		base.HeaderValue{`RTP/AVP;multicast;destination=225.219.201.15;port=7000-7001;ttl=127`},
		base.HeaderValue{`RTP/AVP;multicast;destination=225.219.201.15;ttl=127;port=7000-7001`},
		Transport{
			Protocol:    TransportProtocolUDP,
			Profile:     TransportProfileAVP,
			Delivery:    ptrOf(TransportDeliveryMulticast),
			Destination: ptrOf(net.ParseIP("225.219.201.15")),
			TTL:         ptrOf(uint(127)),
			Ports:       &[2]int{7000, 7001},
		},
	},
	{
		"tcp secure",
		base.HeaderValue{`RTP/SAVP/TCP;unicast;interleaved=0-1`},
		base.HeaderValue{`RTP/SAVP/TCP;unicast;interleaved=0-1`},
		Transport{
			Protocol:       TransportProtocolTCP,
			Profile:        TransportProfileSAVP,
			Delivery:       ptrOf(TransportDeliveryUnicast),
			InterleavedIDs: &[2]int{0, 1},
		},
	},
	{
		"short ssrc and single port",
		base.HeaderValue{`RTP/AVP;unicast;client_port=14186;ssrc=B33`},
		base.HeaderValue{`RTP/AVP;unicast;client_port=14186-14187;ssrc=00000B33`},
		Transport{
			Protocol:    TransportProtocolUDP,
			Profile:     TransportProfileAVP,
			Delivery:    ptrOf(TransportDeliveryUnicast),
			ClientPorts: &[2]int{14186, 14187},
			SSRC:        ptrOf(uint32(0xB33)),
		},
	},
}

func TestTransportUnmarshal(t *testing.T) {
	for _, ca := range casesTransport {
		t.Run(ca.name, func(t *testing.T) {
			var h Transport
			err := h.Unmarshal(ca.vin)
			require.NoError(t, err)
			require.Equal(t, ca.h, h)
		})
	}
}

func TestTransportMarshal(t *testing.T) {
	for _, ca := range casesTransport {
		t.Run(ca.name, func(t *testing.T) {
			req := ca.h.Marshal()
			require.Equal(t, ca.vout, req)
		})
	}
}

func TestTransportUnmarshalErrors(t *testing.T) {
	for _, ca := range []struct {
		name string
		hv   base.HeaderValue
		err  string
	}{
		{
			"empty",
			base.HeaderValue{},
			"value not provided",
		},
		{
			"2 values",
			base.HeaderValue{"a", "b"},
			"value provided multiple times ([a b])",
		},
		{
			"invalid protocol",
			base.HeaderValue{`invalid;unicast;client_port=14186-14187`},
			"invalid protocol (invalid)",
		},
		{
			"invalid ports",
			base.HeaderValue{`RTP/AVP;unicast;client_port=aa-14187`},
			"invalid ports (aa-14187)",
		},
		{
			"invalid mode",
			base.HeaderValue{`RTP/AVP;unicast;mode=aa`},
			"invalid transport mode: 'aa'",
		},
		{
			"invalid ssrc",
			base.HeaderValue{`RTP/AVP;unicast;ssrc=zzz`},
			"invalid SSRC (0zzz)",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			var h Transport
			err := h.Unmarshal(ca.hv)
			require.EqualError(t, err, ca.err)
		})
	}
}
