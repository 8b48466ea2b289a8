package base

import (
	"fmt"
	"net/url"
	"strings"
)

// URL is a RTSP URL.
// This is basically an HTTP URL with some additional functions to handle
// control attributes.
type URL url.URL

// ParseURL parses a RTSP URL.
func ParseURL(s string) (*URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}

	if u.Scheme != "rtsp" && u.Scheme != "rtsps" {
		return nil, fmt.Errorf("unsupported scheme '%s'", u.Scheme)
	}

	if u.Host == "" {
		return nil, fmt.Errorf("missing host")
	}

	if u.Opaque != "" {
		return nil, fmt.Errorf("URLs with opaque data are not supported")
	}

	if u.Fragment != "" {
		return nil, fmt.Errorf("URLs with fragments are not supported")
	}

	return (*URL)(u), nil
}

// MustParseURL is like ParseURL but panics in case of errors.
func MustParseURL(s string) *URL {
	u, err := ParseURL(s)
	if err != nil {
		panic(err)
	}
	return u
}

// String implements fmt.Stringer.
func (u *URL) String() string {
	return (*url.URL)(u).String()
}

// Clone clones a URL.
func (u *URL) Clone() *URL {
	return (*URL)(&url.URL{
		Scheme:   u.Scheme,
		User:     u.User,
		Host:     u.Host,
		Path:     u.Path,
		RawPath:  u.RawPath,
		RawQuery: u.RawQuery,
	})
}

// CloneWithoutCredentials clones a URL without its credentials.
func (u *URL) CloneWithoutCredentials() *URL {
	c := u.Clone()
	c.User = nil
	return c
}

// Hostname returns the host without port.
func (u *URL) Hostname() string {
	return (*url.URL)(u).Hostname()
}

// Port returns the port, or the default port of the scheme.
func (u *URL) Port() string {
	p := (*url.URL)(u).Port()
	if p != "" {
		return p
	}
	if u.Scheme == "rtsps" {
		return "322"
	}
	return "554"
}

// CanonicalAddr returns host:port, filling the default port of the scheme.
func (u *URL) CanonicalAddr() string {
	return joinHostPort(u.Hostname(), u.Port())
}

// Resolve resolves a control attribute against the URL.
// Absolute control attributes are returned as they are.
func (u *URL) Resolve(control string) (*URL, error) {
	switch {
	case control == "" || control == "*":
		return u.Clone(), nil

	case strings.HasPrefix(control, "rtsp://") || strings.HasPrefix(control, "rtsps://"):
		return ParseURL(control)
	}

	base := u.String()
	if !strings.HasSuffix(base, "/") && control[0] != '?' {
		base += "/"
	}

	return ParseURL(base + control)
}

func joinHostPort(host string, port string) string {
	if strings.Contains(host, ":") {
		return "[" + host + "]:" + port
	}
	return host + ":" + port
}
