package security

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// CryptoAttribute is a SDP crypto attribute (RFC4568).
type CryptoAttribute struct {
	Tag      int
	Suite    Suite
	Key      []byte
	Salt     []byte
	Lifetime string
	MKI      string
}

// ParseCryptoAttribute parses the value of a crypto attribute,
// in the format "tag suite inline:base64key[|lifetime][|mki:length]".
// Only the first key parameter is considered.
func ParseCryptoAttribute(v string) (*CryptoAttribute, error) {
	fields := strings.Fields(v)
	if len(fields) < 3 {
		return nil, fmt.Errorf("invalid crypto attribute (%v)", v)
	}

	tag, err := strconv.ParseUint(fields[0], 10, 31)
	if err != nil {
		return nil, fmt.Errorf("invalid crypto tag (%v)", fields[0])
	}

	suite, err := ParseSuite(fields[1])
	if err != nil {
		return nil, err
	}

	keyParam, _, _ := strings.Cut(fields[2], ";")

	method, info, ok := strings.Cut(keyParam, ":")
	if !ok || method != "inline" {
		return nil, fmt.Errorf("unsupported key method (%v)", keyParam)
	}

	parts := strings.Split(info, "|")

	keySalt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid key: %w", err)
	}

	if len(keySalt) != suite.KeyLen()+suite.SaltLen() {
		return nil, fmt.Errorf("invalid key length for %v: expected %d, got %d",
			suite, suite.KeyLen()+suite.SaltLen(), len(keySalt))
	}

	a := &CryptoAttribute{
		Tag:   int(tag),
		Suite: suite,
		Key:   keySalt[:suite.KeyLen()],
		Salt:  keySalt[suite.KeyLen():],
	}

	for _, p := range parts[1:] {
		if strings.Contains(p, ":") {
			a.MKI = p
		} else {
			a.Lifetime = p
		}
	}

	return a, nil
}

// Marshal encodes the attribute value.
func (a CryptoAttribute) Marshal() string {
	keySalt := make([]byte, 0, len(a.Key)+len(a.Salt))
	keySalt = append(keySalt, a.Key...)
	keySalt = append(keySalt, a.Salt...)

	ret := strconv.Itoa(a.Tag) + " " + a.Suite.String() + " inline:" + base64.StdEncoding.EncodeToString(keySalt)

	if a.Lifetime != "" {
		ret += "|" + a.Lifetime
	}
	if a.MKI != "" {
		ret += "|" + a.MKI
	}

	return ret
}

// KeyMaterial returns the key material of the attribute.
func (a CryptoAttribute) KeyMaterial() *KeyMaterial {
	return &KeyMaterial{
		Suite:  a.Suite,
		Key:    a.Key,
		Salt:   a.Salt,
		Source: KeySourceCrypto,
	}
}

// FirstSupportedCrypto returns the first crypto attribute with a supported suite.
func FirstSupportedCrypto(attrs []string) (*CryptoAttribute, error) {
	var firstErr error

	for _, v := range attrs {
		a, err := ParseCryptoAttribute(v)
		if err == nil {
			return a, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}

	if firstErr == nil {
		firstErr = fmt.Errorf("crypto attribute not provided")
	}
	return nil, firstErr
}
