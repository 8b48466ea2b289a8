package mikey

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func testMessageBytes() []byte {
	key := bytes.Repeat([]byte{0xAB}, 30)
	rand := []byte{
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10,
	}

	var buf []byte

	// header
	buf = append(buf,
		0x01, 0x00, byte(payloadTypeT), 0x00,
		0x01, 0x02, 0x03, 0x04,
		0x01, 0x00,
		0x00, 0x11, 0x22, 0x33, 0x44, 0x00, 0x00, 0x00, 0x07)

	// T
	buf = append(buf,
		byte(payloadTypeRAND), 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01)

	// RAND
	buf = append(buf, byte(payloadTypeSP), 0x10)
	buf = append(buf, rand...)

	// SP
	buf = append(buf,
		byte(payloadTypeKEMAC), 0x00, 0x00, 0x00, 0x06,
		0x00, 0x01, 0x01,
		0x0b, 0x01, 0x0a)

	// KEMAC
	buf = append(buf, 0x00, 0x00, 0x00, 0x22)
	buf = append(buf, 0x00, 0x20, 0x00, 0x1e)
	buf = append(buf, key...)
	buf = append(buf, 0x00)

	return buf
}

func testMessage() Message {
	return Message{
		Header: Header{
			Version:     1,
			CSBID:       0x01020304,
			CSIDMapType: CSIDMapTypeSRTPID,
			CSIDMapInfo: []SRTPIDEntry{{
				PolicyNo: 0,
				SSRC:     0x11223344,
				ROC:      7,
			}},
		},
		Payloads: []Payload{
			&PayloadT{
				TSType:  PayloadTTypeNTPUTC,
				TSValue: 1,
			},
			&PayloadRAND{
				Data: []byte{
					0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
					0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10,
				},
			},
			&PayloadSP{
				PolicyNo: 0,
				ProtType: PayloadSPProtTypeSRTP,
				PolicyParams: []PayloadSPPolicyParam{
					{Type: PayloadSPPolicyParamTypeEncrAlg, Value: []byte{1}},
					{Type: PayloadSPPolicyParamTypeAuthTagLen, Value: []byte{10}},
				},
			},
			&PayloadKEMAC{
				SubPayloads: []*SubPayloadKeyData{{
					Type:    SubPayloadKeyDataKeyTypeTEK,
					KeyData: bytes.Repeat([]byte{0xAB}, 30),
				}},
			},
		},
	}
}

func TestMessageUnmarshal(t *testing.T) {
	var m Message
	err := m.Unmarshal(testMessageBytes())
	require.NoError(t, err)
	require.Equal(t, testMessage(), m)
}

func TestMessageMarshal(t *testing.T) {
	buf, err := testMessage().Marshal()
	require.NoError(t, err)
	require.Equal(t, testMessageBytes(), buf)
}

func TestMessageAccessors(t *testing.T) {
	m := testMessage()

	kemac := m.KEMAC()
	require.NotNil(t, kemac)
	require.Len(t, kemac.SubPayloads[0].KeyData, 30)

	sp := m.SP(0)
	require.NotNil(t, sp)

	v, ok := sp.Param(PayloadSPPolicyParamTypeAuthTagLen)
	require.True(t, ok)
	require.Equal(t, uint8(10), v)

	_, ok = sp.Param(PayloadSPPolicyParamTypeKeyDerRate)
	require.False(t, ok)

	require.Nil(t, m.SP(1))
}

func TestKeyDataWithSaltAndInterval(t *testing.T) {
	m := Message{
		Header: Header{Version: 1},
		Payloads: []Payload{
			&PayloadKEMAC{
				SubPayloads: []*SubPayloadKeyData{{
					Type:     SubPayloadKeyDataKeyTypeTEKSalt,
					KV:       SubPayloadKeyDataKVInterval,
					KeyData:  bytes.Repeat([]byte{1}, 16),
					SaltData: bytes.Repeat([]byte{2}, 14),
					KVData1:  []byte{0, 0, 0, 0},
					KVData2:  []byte{0xff, 0xff, 0xff, 0xff},
				}},
			},
		},
	}

	buf, err := m.Marshal()
	require.NoError(t, err)

	var dec Message
	err = dec.Unmarshal(buf)
	require.NoError(t, err)
	require.Equal(t, m.Header.Version, dec.Header.Version)
	require.Equal(t, m.Payloads, dec.Payloads)
}

func TestMessageUnmarshalErrors(t *testing.T) {
	for _, ca := range []struct {
		name string
		byts []byte
		err  string
	}{
		{
			"header too short",
			[]byte{0x01, 0x00},
			"header too short",
		},
		{
			"unsupported version",
			[]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
			"unsupported version: 2",
		},
		{
			"unsupported payload",
			[]byte{0x01, 0x00, 0x63, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
			"unsupported payload type: 99",
		},
		{
			"unparsed bytes",
			[]byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
			"detected 1 unparsed bytes",
		},
		{
			"short rand",
			[]byte{0x01, 0x00, 0x0b, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02, 0x01, 0x02},
			"unable to parse payload 11: invalid data len: 2",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			var m Message
			err := m.Unmarshal(ca.byts)
			require.EqualError(t, err, ca.err)
		})
	}
}
