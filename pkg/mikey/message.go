// Package mikey contains functions to decode and encode MIKEY messages (RFC3830).
package mikey

import (
	"fmt"
)

type payloadType uint8

// RFC3830, table 6.1.b
const (
	payloadTypeLast    payloadType = 0
	payloadTypeKEMAC   payloadType = 1
	payloadTypeT       payloadType = 5
	payloadTypeSP      payloadType = 10
	payloadTypeRAND    payloadType = 11
	payloadTypeKeyData payloadType = 20
)

// Payload is a MIKEY payload.
type Payload interface {
	typ() payloadType
	unmarshal(buf []byte) (int, error)
	marshalSize() int
	marshalTo(buf []byte) (int, error)
}

func newPayload(typ payloadType) (Payload, error) {
	switch typ {
	case payloadTypeKEMAC:
		return &PayloadKEMAC{}, nil
	case payloadTypeT:
		return &PayloadT{}, nil
	case payloadTypeSP:
		return &PayloadSP{}, nil
	case payloadTypeRAND:
		return &PayloadRAND{}, nil
	default:
		return nil, fmt.Errorf("unsupported payload type: %d", typ)
	}
}

// Message is a MIKEY message.
type Message struct {
	Header   Header
	Payloads []Payload
}

// Unmarshal decodes a Message.
func (m *Message) Unmarshal(buf []byte) error {
	n, next, err := m.Header.unmarshal(buf)
	if err != nil {
		return err
	}

	m.Payloads = nil

	for next != payloadTypeLast {
		if n >= len(buf) {
			return fmt.Errorf("buffer too short")
		}

		payload, err := newPayload(next)
		if err != nil {
			return err
		}

		// the first byte of each payload is the type of the following one
		following := payloadType(buf[n])

		l, err := payload.unmarshal(buf[n:])
		if err != nil {
			return fmt.Errorf("unable to parse payload %d: %w", next, err)
		}

		m.Payloads = append(m.Payloads, payload)
		n += l
		next = following
	}

	if n != len(buf) {
		return fmt.Errorf("detected %d unparsed bytes", len(buf)-n)
	}

	return nil
}

// Marshal encodes a Message.
func (m Message) Marshal() ([]byte, error) {
	size := m.Header.marshalSize()
	for _, pl := range m.Payloads {
		size += pl.marshalSize()
	}
	buf := make([]byte, size)

	next := payloadTypeLast
	if len(m.Payloads) != 0 {
		next = m.Payloads[0].typ()
	}

	n, err := m.Header.marshalTo(buf, next)
	if err != nil {
		return nil, err
	}

	for i, pl := range m.Payloads {
		next = payloadTypeLast
		if i < len(m.Payloads)-1 {
			next = m.Payloads[i+1].typ()
		}
		buf[n] = byte(next)

		l, err := pl.marshalTo(buf[n:])
		if err != nil {
			return nil, err
		}
		n += l
	}

	return buf, nil
}

// KEMAC returns the key transport payload, if present.
func (m Message) KEMAC() *PayloadKEMAC {
	for _, pl := range m.Payloads {
		if kemac, ok := pl.(*PayloadKEMAC); ok {
			return kemac
		}
	}
	return nil
}

// SP returns the security policy payload with the given number, if present.
func (m Message) SP(policyNo uint8) *PayloadSP {
	for _, pl := range m.Payloads {
		if sp, ok := pl.(*PayloadSP); ok && sp.PolicyNo == policyNo {
			return sp
		}
	}
	return nil
}
