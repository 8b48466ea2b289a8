package headers

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/bluenviron/rtspengine/pkg/base"
)

// TransportProtocol is a transport protocol.
type TransportProtocol int

// transport protocols.
const (
	TransportProtocolUDP TransportProtocol = iota
	TransportProtocolTCP
)

// TransportDelivery is a delivery method.
type TransportDelivery int

// transport delivery methods.
const (
	TransportDeliveryUnicast TransportDelivery = iota
	TransportDeliveryMulticast
)

// TransportProfile is a transport profile.
type TransportProfile int

// transport profiles.
const (
	TransportProfileAVP TransportProfile = iota
	TransportProfileSAVP
)

// TransportMode is a transport mode.
type TransportMode int

// transport modes.
const (
	TransportModePlay TransportMode = iota
	TransportModeRecord
)

// Transport is a Transport header.
type Transport struct {
	// protocol of the stream
	Protocol TransportProtocol

	// profile of the stream
	Profile TransportProfile

	// (optional) delivery method of the stream
	Delivery *TransportDelivery

	// (optional) Source IP
	Source *net.IP

	// (optional) destination IP
	Destination *net.IP

	// (optional) interleaved frame IDs
	InterleavedIDs *[2]int

	// (optional) TTL
	TTL *uint

	// (optional) ports
	Ports *[2]int

	// (optional) client ports
	ClientPorts *[2]int

	// (optional) server ports
	ServerPorts *[2]int

	// (optional) SSRC of the packets of the stream
	SSRC *uint32

	// (optional) mode
	Mode *TransportMode
}

func parsePorts(val string) (*[2]int, error) {
	first, second, ok := strings.Cut(val, "-")

	port1, err := strconv.ParseUint(first, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid ports (%v)", val)
	}

	if !ok {
		return &[2]int{int(port1), int(port1 + 1)}, nil
	}

	port2, err := strconv.ParseUint(second, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid ports (%v)", val)
	}

	return &[2]int{int(port1), int(port2)}, nil
}

func marshalPorts(ports *[2]int) string {
	return strconv.FormatInt(int64(ports[0]), 10) + "-" + strconv.FormatInt(int64(ports[1]), 10)
}

func parseIP(v string) (*net.IP, error) {
	ip := net.ParseIP(v)
	if ip == nil {
		addrs, err := net.LookupHost(v)
		if err != nil {
			return nil, fmt.Errorf("invalid IP (%v)", v)
		}
		ip = net.ParseIP(addrs[0])
		if ip == nil {
			return nil, fmt.Errorf("invalid IP (%v)", v)
		}
	}
	return &ip, nil
}

func (h *Transport) unmarshalProtocol(v string) error {
	switch v {
	case "RTP/AVP", "RTP/AVP/UDP", "RTP/AVPF", "RTP/AVPF/UDP":
		h.Protocol = TransportProtocolUDP
		h.Profile = TransportProfileAVP

	case "RTP/AVP/TCP", "RTP/AVPF/TCP":
		h.Protocol = TransportProtocolTCP
		h.Profile = TransportProfileAVP

	case "RTP/SAVP", "RTP/SAVP/UDP", "RTP/SAVPF", "RTP/SAVPF/UDP":
		h.Protocol = TransportProtocolUDP
		h.Profile = TransportProfileSAVP

	case "RTP/SAVP/TCP", "RTP/SAVPF/TCP":
		h.Protocol = TransportProtocolTCP
		h.Profile = TransportProfileSAVP

	default:
		return fmt.Errorf("invalid protocol (%v)", v)
	}

	return nil
}

// Unmarshal decodes a Transport header.
func (h *Transport) Unmarshal(v base.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("value not provided")
	}

	if len(v) > 1 {
		return fmt.Errorf("value provided multiple times (%v)", v)
	}

	parts := strings.Split(v[0], ";")

	err := h.unmarshalProtocol(parts[0])
	if err != nil {
		return err
	}

	for _, part := range parts[1:] {
		k, val, _ := strings.Cut(part, "=")

		switch k {
		case "unicast":
			d := TransportDeliveryUnicast
			h.Delivery = &d

		case "multicast":
			d := TransportDeliveryMulticast
			h.Delivery = &d

		case "source":
			h.Source, err = parseIP(val)
			if err != nil {
				return err
			}

		case "destination":
			h.Destination, err = parseIP(val)
			if err != nil {
				return err
			}

		case "interleaved":
			h.InterleavedIDs, err = parsePorts(val)
			if err != nil {
				return err
			}

		case "ttl":
			tmp, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return err
			}
			ttl := uint(tmp)
			h.TTL = &ttl

		case "port":
			h.Ports, err = parsePorts(val)
			if err != nil {
				return err
			}

		case "client_port":
			h.ClientPorts, err = parsePorts(val)
			if err != nil {
				return err
			}

		case "server_port":
			h.ServerPorts, err = parsePorts(val)
			if err != nil {
				return err
			}

		case "ssrc":
			val = strings.TrimLeft(val, " ")

			// some servers send a SSRC shorter than 8 hex digits
			if (len(val) % 2) != 0 {
				val = "0" + val
			}

			tmp, err := hex.DecodeString(val)
			if err != nil || len(tmp) > 4 {
				return fmt.Errorf("invalid SSRC (%v)", val)
			}
			var buf [4]byte
			copy(buf[4-len(tmp):], tmp)
			ssrc := binary.BigEndian.Uint32(buf[:])
			h.SSRC = &ssrc

		case "mode":
			str := strings.ToLower(strings.Trim(val, "\""))

			switch str {
			case "play":
				m := TransportModePlay
				h.Mode = &m

			// receive is an old alias for record
			case "record", "receive":
				m := TransportModeRecord
				h.Mode = &m

			default:
				return fmt.Errorf("invalid transport mode: '%s'", str)
			}

		default:
			// ignore non-standard keys
		}
	}

	return nil
}

// Marshal encodes a Transport header.
func (h Transport) Marshal() base.HeaderValue {
	var rets []string

	proto := "RTP/AVP"
	if h.Profile == TransportProfileSAVP {
		proto = "RTP/SAVP"
	}
	if h.Protocol == TransportProtocolTCP {
		proto += "/TCP"
	}
	rets = append(rets, proto)

	if h.Delivery != nil {
		if *h.Delivery == TransportDeliveryUnicast {
			rets = append(rets, "unicast")
		} else {
			rets = append(rets, "multicast")
		}
	}

	if h.Source != nil {
		rets = append(rets, "source="+h.Source.String())
	}

	if h.Destination != nil {
		rets = append(rets, "destination="+h.Destination.String())
	}

	if h.InterleavedIDs != nil {
		rets = append(rets, "interleaved="+marshalPorts(h.InterleavedIDs))
	}

	if h.TTL != nil {
		rets = append(rets, "ttl="+strconv.FormatUint(uint64(*h.TTL), 10))
	}

	if h.Ports != nil {
		rets = append(rets, "port="+marshalPorts(h.Ports))
	}

	if h.ClientPorts != nil {
		rets = append(rets, "client_port="+marshalPorts(h.ClientPorts))
	}

	if h.ServerPorts != nil {
		rets = append(rets, "server_port="+marshalPorts(h.ServerPorts))
	}

	if h.SSRC != nil {
		tmp := make([]byte, 4)
		binary.BigEndian.PutUint32(tmp, *h.SSRC)
		rets = append(rets, "ssrc="+strings.ToUpper(hex.EncodeToString(tmp)))
	}

	if h.Mode != nil {
		if *h.Mode == TransportModePlay {
			rets = append(rets, "mode=play")
		} else {
			rets = append(rets, "mode=record")
		}
	}

	return base.HeaderValue{strings.Join(rets, ";")}
}
