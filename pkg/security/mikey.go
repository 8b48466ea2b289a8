package security

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/bluenviron/rtspengine/pkg/mikey"
	"github.com/bluenviron/rtspengine/pkg/ntp"
)

// KeyFromMIKEY extracts the traffic-encrypting key, its salt
// and the SSRC/ROC map from a MIKEY message.
func KeyFromMIKEY(msg *mikey.Message) (*KeyMaterial, error) {
	kemac := msg.KEMAC()
	if kemac == nil {
		return nil, fmt.Errorf("KEMAC payload not found")
	}

	var keyData *mikey.SubPayloadKeyData
	for _, sp := range kemac.SubPayloads {
		if sp.Type == mikey.SubPayloadKeyDataKeyTypeTEK || sp.Type == mikey.SubPayloadKeyDataKeyTypeTEKSalt {
			keyData = sp
			break
		}
	}
	if keyData == nil {
		return nil, fmt.Errorf("TEK not found")
	}

	suite := SuiteAES128CMHMACSHA180

	if sp := msg.SP(0); sp != nil {
		if encrAlg, ok := sp.Param(mikey.PayloadSPPolicyParamTypeEncrAlg); ok && encrAlg != mikey.EncrAlgAESCM {
			return nil, fmt.Errorf("unsupported encryption algorithm: %d", encrAlg)
		}

		if authAlg, ok := sp.Param(mikey.PayloadSPPolicyParamTypeAuthAlg); ok && authAlg != mikey.AuthAlgHMACSHA1 {
			return nil, fmt.Errorf("unsupported authentication algorithm: %d", authAlg)
		}

		keyLen, ok1 := sp.Param(mikey.PayloadSPPolicyParamTypeSessionEncrKeyLen)
		tagLen, ok2 := sp.Param(mikey.PayloadSPPolicyParamTypeAuthTagLen)
		if !ok2 {
			tagLen = 10
		}
		if ok1 {
			var err error
			suite, err = suiteFromParams(keyLen, tagLen)
			if err != nil {
				return nil, err
			}
		}
	}

	km := &KeyMaterial{
		Suite:  suite,
		Source: KeySourceMIKEY,
	}

	if keyData.Type == mikey.SubPayloadKeyDataKeyTypeTEKSalt {
		km.Key = keyData.KeyData
		km.Salt = keyData.SaltData
	} else {
		if len(keyData.KeyData) != suite.KeyLen()+suite.SaltLen() {
			return nil, fmt.Errorf("invalid TEK length for %v: expected %d, got %d",
				suite, suite.KeyLen()+suite.SaltLen(), len(keyData.KeyData))
		}
		km.Key = keyData.KeyData[:suite.KeyLen()]
		km.Salt = keyData.KeyData[suite.KeyLen():]
	}

	for _, entry := range msg.Header.CSIDMapInfo {
		km.SSRCs = append(km.SSRCs, entry.SSRC)
		km.ROCs = append(km.ROCs, entry.ROC)
	}

	err := km.Validate()
	if err != nil {
		return nil, err
	}

	return km, nil
}

// GenerateMIKEY builds a MIKEY message that carries km.
func GenerateMIKEY(km *KeyMaterial) (*mikey.Message, error) {
	err := km.Validate()
	if err != nil {
		return nil, err
	}

	var buf [4]byte
	_, err = rand.Read(buf[:])
	if err != nil {
		return nil, err
	}

	msg := &mikey.Message{
		Header: mikey.Header{
			Version: 1,
			CSBID:   binary.BigEndian.Uint32(buf[:]),
		},
	}

	for i, ssrc := range km.SSRCs {
		msg.Header.CSIDMapInfo = append(msg.Header.CSIDMapInfo, mikey.SRTPIDEntry{
			PolicyNo: 0,
			SSRC:     ssrc,
			ROC:      km.ROCs[i],
		})
	}

	randData := make([]byte, 16)
	_, err = rand.Read(randData)
	if err != nil {
		return nil, err
	}

	d := suites[km.Suite]

	tek := make([]byte, 0, len(km.Key)+len(km.Salt))
	tek = append(tek, km.Key...)
	tek = append(tek, km.Salt...)

	msg.Payloads = []mikey.Payload{
		&mikey.PayloadT{
			TSType:  mikey.PayloadTTypeNTPUTC,
			TSValue: ntp.Encode(time.Now()),
		},
		&mikey.PayloadRAND{
			Data: randData,
		},
		&mikey.PayloadSP{
			PolicyNo: 0,
			ProtType: mikey.PayloadSPProtTypeSRTP,
			PolicyParams: []mikey.PayloadSPPolicyParam{
				{
					Type:  mikey.PayloadSPPolicyParamTypeEncrAlg,
					Value: []byte{mikey.EncrAlgAESCM},
				},
				{
					Type:  mikey.PayloadSPPolicyParamTypeSessionEncrKeyLen,
					Value: []byte{uint8(d.keyLen)},
				},
				{
					Type:  mikey.PayloadSPPolicyParamTypeAuthAlg,
					Value: []byte{mikey.AuthAlgHMACSHA1},
				},
				{
					Type:  mikey.PayloadSPPolicyParamTypeSessionAuthKeyLen,
					Value: []byte{20},
				},
				{
					Type:  mikey.PayloadSPPolicyParamTypeSessionSaltKeyLen,
					Value: []byte{uint8(d.saltLen)},
				},
				{
					Type:  mikey.PayloadSPPolicyParamTypeSRTPEncrOffOn,
					Value: []byte{1},
				},
				{
					Type:  mikey.PayloadSPPolicyParamTypeSRTCPEncrOffOn,
					Value: []byte{1},
				},
				{
					Type:  mikey.PayloadSPPolicyParamTypeSRTPAuthOffOn,
					Value: []byte{1},
				},
				{
					Type:  mikey.PayloadSPPolicyParamTypeAuthTagLen,
					Value: []byte{uint8(d.authTagLen)},
				},
			},
		},
		&mikey.PayloadKEMAC{
			SubPayloads: []*mikey.SubPayloadKeyData{
				{
					Type:    mikey.SubPayloadKeyDataKeyTypeTEK,
					KeyData: tek,
				},
			},
		},
	}

	return msg, nil
}

// GenerateKey generates a random key for a suite.
func GenerateKey(suite Suite) (*KeyMaterial, error) {
	d, ok := suites[suite]
	if !ok {
		return nil, fmt.Errorf("unsupported crypto suite")
	}

	buf := make([]byte, d.keyLen+d.saltLen)
	_, err := rand.Read(buf)
	if err != nil {
		return nil, err
	}

	return &KeyMaterial{
		Suite:  suite,
		Key:    buf[:d.keyLen],
		Salt:   buf[d.keyLen:],
		Source: KeySourceManual,
	}, nil
}
