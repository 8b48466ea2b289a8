package mikey

import (
	"encoding/binary"
	"fmt"
)

// PayloadKEMACEncrAlg is a encryption algorithm.
type PayloadKEMACEncrAlg uint8

// RFC3830, Table 6.2.a
const (
	PayloadKEMACEncrAlgNULL PayloadKEMACEncrAlg = 0
)

// PayloadKEMACMacAlg is a authentication algorithm.
type PayloadKEMACMacAlg uint8

// RFC3830, Table 6.2.b
const (
	PayloadKEMACMacAlgNULL PayloadKEMACMacAlg = 0
)

// PayloadKEMAC is a key data transport payload.
type PayloadKEMAC struct {
	EncrAlg     PayloadKEMACEncrAlg
	SubPayloads []*SubPayloadKeyData
	MacAlg      PayloadKEMACMacAlg
}

func (*PayloadKEMAC) typ() payloadType {
	return payloadTypeKEMAC
}

func (p *PayloadKEMAC) unmarshal(buf []byte) (int, error) {
	if len(buf) < 4 {
		return 0, fmt.Errorf("buffer too short")
	}

	p.EncrAlg = PayloadKEMACEncrAlg(buf[1])
	if p.EncrAlg != PayloadKEMACEncrAlgNULL {
		return 0, fmt.Errorf("unsupported encr alg: %v", p.EncrAlg)
	}

	encrDataLen := int(binary.BigEndian.Uint16(buf[2:]))
	n := 4

	if len(buf[n:]) < encrDataLen+1 {
		return 0, fmt.Errorf("buffer too short")
	}

	encrData := buf[n : n+encrDataLen]
	n += encrDataLen

	p.SubPayloads = nil
	pos := 0

	for {
		if pos >= len(encrData) {
			return 0, fmt.Errorf("key data sub-payload is missing")
		}

		next := payloadType(encrData[pos])

		sp := &SubPayloadKeyData{}
		l, err := sp.unmarshal(encrData[pos:])
		if err != nil {
			return 0, err
		}
		pos += l
		p.SubPayloads = append(p.SubPayloads, sp)

		if next == payloadTypeLast {
			break
		}
		if next != payloadTypeKeyData {
			return 0, fmt.Errorf("unsupported sub-payload type: %v", next)
		}
	}

	if pos != len(encrData) {
		return 0, fmt.Errorf("detected unread bytes")
	}

	p.MacAlg = PayloadKEMACMacAlg(buf[n])
	n++

	if p.MacAlg != PayloadKEMACMacAlgNULL {
		return 0, fmt.Errorf("unsupported mac alg: %v", p.MacAlg)
	}

	return n, nil
}

func (p *PayloadKEMAC) encrDataLen() int {
	l := 0
	for _, sp := range p.SubPayloads {
		l += sp.marshalSize()
	}
	return l
}

func (p *PayloadKEMAC) marshalSize() int {
	return 5 + p.encrDataLen()
}

func (p *PayloadKEMAC) marshalTo(buf []byte) (int, error) {
	if len(p.SubPayloads) == 0 {
		return 0, fmt.Errorf("key data sub-payload is missing")
	}

	buf[1] = byte(p.EncrAlg)
	binary.BigEndian.PutUint16(buf[2:], uint16(p.encrDataLen()))
	n := 4

	for i, sp := range p.SubPayloads {
		next := payloadTypeLast
		if i < len(p.SubPayloads)-1 {
			next = payloadTypeKeyData
		}
		buf[n] = byte(next)

		l, err := sp.marshalTo(buf[n:])
		if err != nil {
			return 0, err
		}
		n += l
	}

	buf[n] = byte(p.MacAlg)
	n++

	return n, nil
}

// SubPayloadKeyDataKeyType is a data key type.
type SubPayloadKeyDataKeyType uint8

// RFC3830, table 6.13.a
const (
	SubPayloadKeyDataKeyTypeTGK     SubPayloadKeyDataKeyType = 0
	SubPayloadKeyDataKeyTypeTGKSalt SubPayloadKeyDataKeyType = 1
	SubPayloadKeyDataKeyTypeTEK     SubPayloadKeyDataKeyType = 2
	SubPayloadKeyDataKeyTypeTEKSalt SubPayloadKeyDataKeyType = 3
)

// SubPayloadKeyDataKV is a key validity type.
type SubPayloadKeyDataKV uint8

// RFC3830, table 6.13.b
const (
	SubPayloadKeyDataKVNull     SubPayloadKeyDataKV = 0
	SubPayloadKeyDataKVSPI      SubPayloadKeyDataKV = 1
	SubPayloadKeyDataKVInterval SubPayloadKeyDataKV = 2
)

// SubPayloadKeyData is a key data sub-payload.
// SaltData is used only when Type carries a salt.
type SubPayloadKeyData struct {
	Type     SubPayloadKeyDataKeyType
	KV       SubPayloadKeyDataKV
	KeyData  []byte
	SaltData []byte

	// SPI or interval start, depending on KV
	KVData1 []byte

	// interval end, when KV is interval
	KVData2 []byte
}

func (p *SubPayloadKeyData) hasSalt() bool {
	return p.Type == SubPayloadKeyDataKeyTypeTGKSalt || p.Type == SubPayloadKeyDataKeyTypeTEKSalt
}

func readLenPrefixed8(buf []byte) ([]byte, int, error) {
	if len(buf) < 1 {
		return nil, 0, fmt.Errorf("buffer too short")
	}
	l := int(buf[0])
	if len(buf[1:]) < l {
		return nil, 0, fmt.Errorf("buffer too short")
	}
	return buf[1 : 1+l], 1 + l, nil
}

func readLenPrefixed16(buf []byte) ([]byte, int, error) {
	if len(buf) < 2 {
		return nil, 0, fmt.Errorf("buffer too short")
	}
	l := int(binary.BigEndian.Uint16(buf))
	if len(buf[2:]) < l {
		return nil, 0, fmt.Errorf("buffer too short")
	}
	return buf[2 : 2+l], 2 + l, nil
}

func (p *SubPayloadKeyData) unmarshal(buf []byte) (int, error) {
	if len(buf) < 4 {
		return 0, fmt.Errorf("buffer too short")
	}

	p.Type = SubPayloadKeyDataKeyType(buf[1] >> 4)
	p.KV = SubPayloadKeyDataKV(buf[1] & 0x0F)
	n := 2

	if p.Type > SubPayloadKeyDataKeyTypeTEKSalt {
		return 0, fmt.Errorf("unsupported key type: %v", p.Type)
	}

	var l int
	var err error

	p.KeyData, l, err = readLenPrefixed16(buf[n:])
	if err != nil {
		return 0, err
	}
	n += l

	if p.hasSalt() {
		p.SaltData, l, err = readLenPrefixed16(buf[n:])
		if err != nil {
			return 0, err
		}
		n += l
	}

	switch p.KV {
	case SubPayloadKeyDataKVNull:

	case SubPayloadKeyDataKVSPI:
		p.KVData1, l, err = readLenPrefixed8(buf[n:])
		if err != nil {
			return 0, err
		}
		n += l

	case SubPayloadKeyDataKVInterval:
		p.KVData1, l, err = readLenPrefixed8(buf[n:])
		if err != nil {
			return 0, err
		}
		n += l

		p.KVData2, l, err = readLenPrefixed8(buf[n:])
		if err != nil {
			return 0, err
		}
		n += l

	default:
		return 0, fmt.Errorf("unsupported KV: %v", p.KV)
	}

	return n, nil
}

func (p *SubPayloadKeyData) marshalSize() int {
	n := 4 + len(p.KeyData)
	if p.hasSalt() {
		n += 2 + len(p.SaltData)
	}
	switch p.KV {
	case SubPayloadKeyDataKVSPI:
		n += 1 + len(p.KVData1)
	case SubPayloadKeyDataKVInterval:
		n += 2 + len(p.KVData1) + len(p.KVData2)
	}
	return n
}

func (p *SubPayloadKeyData) marshalTo(buf []byte) (int, error) {
	buf[1] = byte(p.Type)<<4 | byte(p.KV&0x0F)
	n := 2

	binary.BigEndian.PutUint16(buf[n:], uint16(len(p.KeyData)))
	n += 2
	n += copy(buf[n:], p.KeyData)

	if p.hasSalt() {
		binary.BigEndian.PutUint16(buf[n:], uint16(len(p.SaltData)))
		n += 2
		n += copy(buf[n:], p.SaltData)
	}

	switch p.KV {
	case SubPayloadKeyDataKVNull:

	case SubPayloadKeyDataKVSPI:
		buf[n] = byte(len(p.KVData1))
		n++
		n += copy(buf[n:], p.KVData1)

	case SubPayloadKeyDataKVInterval:
		buf[n] = byte(len(p.KVData1))
		n++
		n += copy(buf[n:], p.KVData1)
		buf[n] = byte(len(p.KVData2))
		n++
		n += copy(buf[n:], p.KVData2)

	default:
		return 0, fmt.Errorf("unsupported KV: %v", p.KV)
	}

	return n, nil
}

// PayloadTType is a timestamp type.
type PayloadTType uint8

// RFC3830, table 6.6
const (
	PayloadTTypeNTPUTC  PayloadTType = 0
	PayloadTTypeNTP     PayloadTType = 1
	PayloadTTypeCounter PayloadTType = 2
)

// PayloadT is a timestamp payload.
type PayloadT struct {
	TSType  PayloadTType
	TSValue uint64
}

func (*PayloadT) typ() payloadType {
	return payloadTypeT
}

func (p *PayloadT) valueLen() int {
	if p.TSType == PayloadTTypeCounter {
		return 4
	}
	return 8
}

func (p *PayloadT) unmarshal(buf []byte) (int, error) {
	if len(buf) < 2 {
		return 0, fmt.Errorf("buffer too short")
	}

	p.TSType = PayloadTType(buf[1])
	if p.TSType > PayloadTTypeCounter {
		return 0, fmt.Errorf("unsupported TSType: %v", p.TSType)
	}

	l := p.valueLen()
	if len(buf[2:]) < l {
		return 0, fmt.Errorf("buffer too short")
	}

	if l == 4 {
		p.TSValue = uint64(binary.BigEndian.Uint32(buf[2:]))
	} else {
		p.TSValue = binary.BigEndian.Uint64(buf[2:])
	}

	return 2 + l, nil
}

func (p *PayloadT) marshalSize() int {
	return 2 + p.valueLen()
}

func (p *PayloadT) marshalTo(buf []byte) (int, error) {
	buf[1] = byte(p.TSType)

	if p.valueLen() == 4 {
		binary.BigEndian.PutUint32(buf[2:], uint32(p.TSValue))
	} else {
		binary.BigEndian.PutUint64(buf[2:], p.TSValue)
	}

	return p.marshalSize(), nil
}

// PayloadRAND is a payload with random data.
type PayloadRAND struct {
	Data []byte
}

func (*PayloadRAND) typ() payloadType {
	return payloadTypeRAND
}

func (p *PayloadRAND) unmarshal(buf []byte) (int, error) {
	if len(buf) < 2 {
		return 0, fmt.Errorf("buffer too short")
	}

	data, l, err := readLenPrefixed8(buf[1:])
	if err != nil {
		return 0, err
	}

	if len(data) < 16 {
		return 0, fmt.Errorf("invalid data len: %v", len(data))
	}

	p.Data = data
	return 1 + l, nil
}

func (p *PayloadRAND) marshalSize() int {
	return 2 + len(p.Data)
}

func (p *PayloadRAND) marshalTo(buf []byte) (int, error) {
	if len(p.Data) < 16 || len(p.Data) > 255 {
		return 0, fmt.Errorf("invalid data len: %v", len(p.Data))
	}

	buf[1] = byte(len(p.Data))
	n := 2 + copy(buf[2:], p.Data)
	return n, nil
}
