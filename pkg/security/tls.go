package security

import (
	"crypto/tls"
	"fmt"

	"github.com/bluenviron/rtspengine/pkg/liberrors"
)

// TLSVerifyMode is the certificate validation mode of the control channel.
type TLSVerifyMode int

// TLS verification modes.
const (
	TLSVerifyModeVerify TLSVerifyMode = iota
	TLSVerifyModeAcceptAny
)

var tlsVerifyModeLabels = map[TLSVerifyMode]string{
	TLSVerifyModeVerify:    "verify",
	TLSVerifyModeAcceptAny: "accept-any",
}

// String implements fmt.Stringer.
func (m TLSVerifyMode) String() string {
	if l, ok := tlsVerifyModeLabels[m]; ok {
		return l
	}
	return "unknown"
}

// ParseTLSVerifyMode parses a TLS verification mode.
func ParseTLSVerifyMode(s string) (TLSVerifyMode, error) {
	for m, l := range tlsVerifyModeLabels {
		if l == s {
			return m, nil
		}
	}
	return 0, liberrors.ErrConfiguration{
		Field: "TLSVerifyMode",
		Err:   fmt.Errorf("invalid value '%s', expected 'verify' or 'accept-any'", s),
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m TLSVerifyMode) MarshalText() ([]byte, error) {
	if l, ok := tlsVerifyModeLabels[m]; ok {
		return []byte(l), nil
	}
	return nil, liberrors.ErrConfiguration{Field: "TLSVerifyMode", Err: fmt.Errorf("invalid value %d", m)}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *TLSVerifyMode) UnmarshalText(b []byte) error {
	v, err := ParseTLSVerifyMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ControlTLSConfig returns the TLS configuration of the control channel,
// or nil when the control channel is not secure.
// TLS is used when the scheme is rtsps or when force is true.
// A base configuration that skips verification is rejected in verify mode.
func ControlTLSConfig(
	scheme string,
	force bool,
	mode TLSVerifyMode,
	base *tls.Config,
	serverName string,
) (*tls.Config, error) {
	if scheme != "rtsps" && !force {
		return nil, nil
	}

	var conf *tls.Config
	if base != nil {
		conf = base.Clone()
	} else {
		conf = &tls.Config{}
	}

	switch mode {
	case TLSVerifyModeVerify:
		if conf.InsecureSkipVerify {
			return nil, liberrors.ErrConfiguration{
				Field: "TLSConfig",
				Err:   fmt.Errorf("InsecureSkipVerify cannot be used with the 'verify' mode"),
			}
		}

	case TLSVerifyModeAcceptAny:
		conf.InsecureSkipVerify = true

	default:
		return nil, liberrors.ErrConfiguration{Field: "TLSVerifyMode", Err: fmt.Errorf("invalid value %d", mode)}
	}

	if conf.ServerName == "" {
		conf.ServerName = serverName
	}

	return conf, nil
}
