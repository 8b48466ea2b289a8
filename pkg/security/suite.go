// Package security contains the security negotiator, that selects TLS
// for the control channel and obtains SRTP keys for every media.
package security

import (
	"fmt"
	"strings"

	"github.com/pion/dtls/v2"
	"github.com/pion/srtp/v3"
)

// Suite is a SRTP crypto suite.
type Suite int

// suites.
const (
	SuiteAES128CMHMACSHA180 Suite = iota
	SuiteAES128CMHMACSHA132
	SuiteAES256CMHMACSHA180
)

type suiteDesc struct {
	name        string
	profile     srtp.ProtectionProfile
	keyLen      int
	saltLen     int
	authTagLen  int
	dtlsProfile dtls.SRTPProtectionProfile
}

var suites = map[Suite]suiteDesc{
	SuiteAES128CMHMACSHA180: {
		name:        "AES_CM_128_HMAC_SHA1_80",
		profile:     srtp.ProtectionProfileAes128CmHmacSha1_80,
		keyLen:      16,
		saltLen:     14,
		authTagLen:  10,
		dtlsProfile: dtls.SRTP_AES128_CM_HMAC_SHA1_80,
	},
	SuiteAES128CMHMACSHA132: {
		name:        "AES_CM_128_HMAC_SHA1_32",
		profile:     srtp.ProtectionProfileAes128CmHmacSha1_32,
		keyLen:      16,
		saltLen:     14,
		authTagLen:  4,
		dtlsProfile: dtls.SRTP_AES128_CM_HMAC_SHA1_32,
	},
	SuiteAES256CMHMACSHA180: {
		name:       "AES_256_CM_HMAC_SHA1_80",
		profile:    srtp.ProtectionProfileAes256CmHmacSha1_80,
		keyLen:     32,
		saltLen:    14,
		authTagLen: 10,
	},
}

// alternative names found in the wild.
var suiteAliases = map[string]Suite{
	"AES_CM_256_HMAC_SHA1_80": SuiteAES256CMHMACSHA180,
}

// ParseSuite parses a suite name.
func ParseSuite(name string) (Suite, error) {
	for s, d := range suites {
		if d.name == name {
			return s, nil
		}
	}

	if s, ok := suiteAliases[name]; ok {
		return s, nil
	}

	return 0, fmt.Errorf("unsupported crypto suite '%s'", name)
}

// String implements fmt.Stringer.
func (s Suite) String() string {
	if d, ok := suites[s]; ok {
		return d.name
	}
	return "unknown"
}

// KeyLen returns the length of the master key.
func (s Suite) KeyLen() int {
	return suites[s].keyLen
}

// SaltLen returns the length of the master salt.
func (s Suite) SaltLen() int {
	return suites[s].saltLen
}

func suiteFromDTLS(p dtls.SRTPProtectionProfile) (Suite, bool) {
	for s, d := range suites {
		if d.dtlsProfile != 0 && d.dtlsProfile == p {
			return s, true
		}
	}
	return 0, false
}

func suiteFromParams(encrKeyLen uint8, authTagLen uint8) (Suite, error) {
	for s, d := range suites {
		if d.keyLen == int(encrKeyLen) && d.authTagLen == int(authTagLen) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unsupported key length %d and tag length %d", encrKeyLen, authTagLen)
}

// IsSecureProfile returns whether a media profile requires SRTP.
// Secure profiles are RTP/SAVP, RTP/SAVPF, UDP/TLS/RTP/SAVP and UDP/TLS/RTP/SAVPF.
func IsSecureProfile(proto string) bool {
	for _, part := range strings.Split(strings.ToUpper(proto), "/") {
		if part == "SAVP" || part == "SAVPF" {
			return true
		}
	}
	return false
}

// IsDTLSProfile returns whether a media profile requires DTLS-SRTP keying.
func IsDTLSProfile(proto string) bool {
	return IsSecureProfile(proto) && strings.HasPrefix(strings.ToUpper(proto), "UDP/TLS/")
}

// KeySource is the origin of a key.
type KeySource int

// key sources.
const (
	KeySourceCrypto KeySource = iota
	KeySourceMIKEY
	KeySourceDTLS
	KeySourceManual
)

var keySourceLabels = map[KeySource]string{
	KeySourceCrypto: "crypto",
	KeySourceMIKEY:  "mikey",
	KeySourceDTLS:   "dtls",
	KeySourceManual: "manual",
}

// String implements fmt.Stringer.
func (s KeySource) String() string {
	if l, ok := keySourceLabels[s]; ok {
		return l
	}
	return "unknown"
}

// KeyMaterial is a SRTP master key with its salt.
type KeyMaterial struct {
	Suite  Suite
	Key    []byte
	Salt   []byte
	Source KeySource

	// SSRCs and rollover counters, when provided by the key exchange.
	SSRCs []uint32
	ROCs  []uint32
}

// Validate checks that key and salt lengths match the suite.
func (km *KeyMaterial) Validate() error {
	d, ok := suites[km.Suite]
	if !ok {
		return fmt.Errorf("unsupported crypto suite")
	}

	if len(km.Key) != d.keyLen {
		return fmt.Errorf("invalid key length for %s: expected %d, got %d", d.name, d.keyLen, len(km.Key))
	}

	if len(km.Salt) != d.saltLen {
		return fmt.Errorf("invalid salt length for %s: expected %d, got %d", d.name, d.saltLen, len(km.Salt))
	}

	if len(km.SSRCs) != len(km.ROCs) {
		return fmt.Errorf("SSRCs and ROCs have different lengths")
	}

	return nil
}
