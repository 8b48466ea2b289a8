package rtspengine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bluenviron/rtspengine/pkg/headers"
)

// TransportProtocol is a lower transport.
type TransportProtocol int

// transport protocols.
const (
	TransportUDP TransportProtocol = iota
	TransportUDPMulticast
	TransportTCP
	TransportHTTPTunnel
	TransportWebSocketTunnel
)

var transportLabels = map[TransportProtocol]string{
	TransportUDP:             "UDP",
	TransportUDPMulticast:    "UDP-multicast",
	TransportTCP:             "TCP",
	TransportHTTPTunnel:      "HTTP-tunnel",
	TransportWebSocketTunnel: "WebSocket-tunnel",
}

// String implements fmt.Stringer.
func (t TransportProtocol) String() string {
	if l, ok := transportLabels[t]; ok {
		return l
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (t TransportProtocol) MarshalText() ([]byte, error) {
	if l, ok := transportLabels[t]; ok {
		return []byte(l), nil
	}
	return nil, fmt.Errorf("invalid transport protocol %d", int(t))
}

// UnmarshalText implements encoding.TextUnmarshaler.
// Names are case insensitive.
func (t *TransportProtocol) UnmarshalText(b []byte) error {
	for k, l := range transportLabels {
		if strings.EqualFold(l, string(b)) {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("invalid transport protocol '%s'", string(b))
}

// media packets are carried by the control connection.
func (t TransportProtocol) isInterleaved() bool {
	return t == TransportTCP || t == TransportHTTPTunnel || t == TransportWebSocketTunnel
}

// kind of control connection used by the protocol.
func (t TransportProtocol) controlKind() TransportProtocol {
	if t == TransportHTTPTunnel || t == TransportWebSocketTunnel {
		return t
	}
	return TransportTCP
}

func (t TransportProtocol) headerProtocol() headers.TransportProtocol {
	if t.isInterleaved() {
		return headers.TransportProtocolTCP
	}
	return headers.TransportProtocolUDP
}

// TransportCandidate is a lower transport that can be used to reach the server.
type TransportCandidate struct {
	// lower transport.
	Protocol TransportProtocol

	// whether to use TLS on the control connection.
	// It is always enabled when the URL scheme is rtsps.
	Secure bool

	// address of the control connection, in host:port format.
	// It defaults to the address of the URL.
	Address string

	// range of client ports (UDP only). Zero means automatic.
	PortRange [2]int

	// candidates with lower values are tried first.
	Priority int
}

// String implements fmt.Stringer.
func (tc TransportCandidate) String() string {
	ret := tc.Protocol.String()
	if tc.Secure {
		ret += "+TLS"
	}
	if tc.Address != "" {
		ret += "@" + tc.Address
	}
	return ret
}

func (tc TransportCandidate) validate() error {
	if _, ok := transportLabels[tc.Protocol]; !ok {
		return fmt.Errorf("invalid protocol %d", int(tc.Protocol))
	}

	if tc.PortRange != [2]int{} {
		if tc.Protocol != TransportUDP {
			return fmt.Errorf("port range can be used with UDP only")
		}
		if tc.PortRange[0] <= 0 || tc.PortRange[1] > 65535 || (tc.PortRange[1]-tc.PortRange[0]) < 1 {
			return fmt.Errorf("invalid port range %v", tc.PortRange)
		}
	}

	return nil
}

func defaultTransportCandidates(secure bool) []TransportCandidate {
	return []TransportCandidate{
		{Protocol: TransportUDP, Secure: secure, Priority: 0},
		{Protocol: TransportUDPMulticast, Secure: secure, Priority: 1},
		{Protocol: TransportTCP, Secure: secure, Priority: 2},
	}
}

func sortTransportCandidates(cands []TransportCandidate) []TransportCandidate {
	ret := append([]TransportCandidate(nil), cands...)
	sort.SliceStable(ret, func(i, j int) bool {
		return ret[i].Priority < ret[j].Priority
	})
	return ret
}

// controlEndpoint is an address where the control connection can be established.
type controlEndpoint struct {
	kind    TransportProtocol
	secure  bool
	host    string
	address string
}

// String implements fmt.Stringer.
func (e controlEndpoint) String() string {
	ret := e.kind.String()
	if e.secure {
		ret += "+TLS"
	}
	return ret + "@" + e.address
}
