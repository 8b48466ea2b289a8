package mikey

import (
	"encoding/binary"
	"fmt"
)

// PayloadSPProtType is a security protocol.
type PayloadSPProtType uint8

// RFC3830, Table 6.10
const (
	PayloadSPProtTypeSRTP PayloadSPProtType = 0
)

// PayloadSPPolicyParamType is a policy param type.
type PayloadSPPolicyParamType uint8

// RFC3830, Table 6.10.1.a
const (
	PayloadSPPolicyParamTypeEncrAlg           PayloadSPPolicyParamType = 0
	PayloadSPPolicyParamTypeSessionEncrKeyLen PayloadSPPolicyParamType = 1
	PayloadSPPolicyParamTypeAuthAlg           PayloadSPPolicyParamType = 2
	PayloadSPPolicyParamTypeSessionAuthKeyLen PayloadSPPolicyParamType = 3
	PayloadSPPolicyParamTypeSessionSaltKeyLen PayloadSPPolicyParamType = 4
	PayloadSPPolicyParamTypeSRTPPseudoRandFun PayloadSPPolicyParamType = 5
	PayloadSPPolicyParamTypeKeyDerRate        PayloadSPPolicyParamType = 6
	PayloadSPPolicyParamTypeSRTPEncrOffOn     PayloadSPPolicyParamType = 7
	PayloadSPPolicyParamTypeSRTCPEncrOffOn    PayloadSPPolicyParamType = 8
	PayloadSPPolicyParamTypeSenderFECOrder    PayloadSPPolicyParamType = 9
	PayloadSPPolicyParamTypeSRTPAuthOffOn     PayloadSPPolicyParamType = 10
	PayloadSPPolicyParamTypeAuthTagLen        PayloadSPPolicyParamType = 11
	PayloadSPPolicyParamTypeSRTPPrefixLen     PayloadSPPolicyParamType = 12
)

// RFC3830, Table 6.10.1.b and 6.10.1.c
const (
	EncrAlgNULL     = 0
	EncrAlgAESCM    = 1
	AuthAlgNULL     = 0
	AuthAlgHMACSHA1 = 1
)

// PayloadSPPolicyParam is a policy param.
type PayloadSPPolicyParam struct {
	Type  PayloadSPPolicyParamType
	Value []byte
}

// PayloadSP is a security policy payload.
type PayloadSP struct {
	PolicyNo     uint8
	ProtType     PayloadSPProtType
	PolicyParams []PayloadSPPolicyParam
}

// Param returns the first byte of a policy param, if present.
func (p *PayloadSP) Param(typ PayloadSPPolicyParamType) (uint8, bool) {
	for _, pp := range p.PolicyParams {
		if pp.Type == typ && len(pp.Value) != 0 {
			return pp.Value[0], true
		}
	}
	return 0, false
}

func (*PayloadSP) typ() payloadType {
	return payloadTypeSP
}

func (p *PayloadSP) unmarshal(buf []byte) (int, error) {
	if len(buf) < 5 {
		return 0, fmt.Errorf("buffer too short")
	}

	p.PolicyNo = buf[1]
	p.ProtType = PayloadSPProtType(buf[2])

	if p.ProtType != PayloadSPProtTypeSRTP {
		return 0, fmt.Errorf("unsupported prot type: %v", p.ProtType)
	}

	paramsLen := int(binary.BigEndian.Uint16(buf[3:]))
	n := 5

	if len(buf[n:]) < paramsLen {
		return 0, fmt.Errorf("buffer too short")
	}

	params := buf[n : n+paramsLen]
	n += paramsLen

	p.PolicyParams = nil

	for len(params) != 0 {
		if len(params) < 2 {
			return 0, fmt.Errorf("policy param overflowed")
		}

		typ := PayloadSPPolicyParamType(params[0])

		value, l, err := readLenPrefixed8(params[1:])
		if err != nil {
			return 0, fmt.Errorf("policy param overflowed")
		}
		params = params[1+l:]

		p.PolicyParams = append(p.PolicyParams, PayloadSPPolicyParam{
			Type:  typ,
			Value: value,
		})
	}

	return n, nil
}

func (p *PayloadSP) paramsLen() int {
	l := 0
	for _, pp := range p.PolicyParams {
		l += 2 + len(pp.Value)
	}
	return l
}

func (p *PayloadSP) marshalSize() int {
	return 5 + p.paramsLen()
}

func (p *PayloadSP) marshalTo(buf []byte) (int, error) {
	buf[1] = p.PolicyNo
	buf[2] = byte(p.ProtType)
	binary.BigEndian.PutUint16(buf[3:], uint16(p.paramsLen()))
	n := 5

	for _, pp := range p.PolicyParams {
		if len(pp.Value) > 255 {
			return 0, fmt.Errorf("policy param too long")
		}
		buf[n] = byte(pp.Type)
		buf[n+1] = byte(len(pp.Value))
		n += 2
		n += copy(buf[n:], pp.Value)
	}

	return n, nil
}
