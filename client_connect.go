package rtspengine

import (
	"context"
	"crypto/tls"
	"errors"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/bluenviron/rtspengine/pkg/conn"
	"github.com/bluenviron/rtspengine/pkg/liberrors"
	"github.com/bluenviron/rtspengine/pkg/racer"
	"github.com/bluenviron/rtspengine/pkg/security"
)

// controlEndpoints returns the distinct endpoints where the control connection
// can be established, in order of priority.
func (c *Client) controlEndpoints(ctx context.Context) ([]controlEndpoint, error) {
	var ret []controlEndpoint
	seen := make(map[controlEndpoint]struct{})

	for _, cand := range c.candidates {
		addr := cand.Address
		if addr == "" {
			addr = c.url.CanonicalAddr()
		}

		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, liberrors.ErrConfiguration{Field: "Transports", Err: err}
		}

		var ips []string
		if net.ParseIP(host) != nil {
			ips = []string{host}
		} else {
			ips, err = c.LookupHost(ctx, host)
			if err != nil {
				return nil, liberrors.ErrTransport{Err: err}
			}
		}

		for _, ip := range ips {
			e := controlEndpoint{
				kind:    cand.Protocol.controlKind(),
				secure:  cand.Secure || c.url.Scheme == "rtsps" || c.ForceTLS,
				host:    host,
				address: net.JoinHostPort(ip, port),
			}

			if _, ok := seen[e]; ok {
				continue
			}
			seen[e] = struct{}{}

			ret = append(ret, e)
		}
	}

	return ret, nil
}

func (c *Client) connect(ctx context.Context) error {
	endpoints, err := c.controlEndpoints(ctx)
	if err != nil {
		return err
	}

	r := &racer.Racer[controlEndpoint, net.Conn]{
		MaxInFlight:    c.MaxInFlight,
		AttemptTimeout: c.AttemptTimeout,
		OverallTimeout: c.RaceTimeout,
		Dial:           c.dialControl,
		OnAttempt: func(e controlEndpoint, outcome racer.Outcome, err error) {
			c.metrics.RaceAttempt(e.kind.String(), outcome.String())

			l := c.log.WithFields(logrus.Fields{
				"endpoint": e.String(),
				"outcome":  outcome.String(),
			})
			if err != nil {
				l = l.WithError(err)
			}
			l.Debug("connection attempt")
		},
	}

	res, err := r.Race(ctx, endpoints)
	if err != nil {
		return err
	}

	c.endpoint = res.Candidate
	c.nconn = res.Conn
	c.conn = conn.NewConn(c.nconn)
	c.sender = nil

	c.log.WithFields(logrus.Fields{
		"endpoint": res.Candidate.String(),
		"duration": res.Duration,
	}).Debug("connected")

	if res.Candidate.secure {
		c.emit(SecurityNegotiated{MediaIndex: -1, Protocol: "TLS"})
	}

	return nil
}

func (c *Client) dialControl(ctx context.Context, e controlEndpoint) (net.Conn, error) {
	var tlsConfig *tls.Config

	if e.secure {
		var err error
		tlsConfig, err = security.ControlTLSConfig("rtsps", true, c.TLSVerifyMode, c.TLSConfig, e.host)
		if err != nil {
			return nil, err
		}
	}

	switch e.kind {
	case TransportHTTPTunnel:
		nconn, err := newClientTunnelHTTP(ctx, c.DialContext, c.url.Host, e.address, tlsConfig)
		if err != nil {
			return nil, liberrors.ErrTransport{Err: err}
		}
		return nconn, nil

	case TransportWebSocketTunnel:
		nconn, err := newClientTunnelWebSocket(ctx, c.DialContext, c.url.Host, e.address, tlsConfig)
		if err != nil {
			return nil, liberrors.ErrTransport{Err: err}
		}
		return nconn, nil
	}

	nconn, err := c.DialContext(ctx, "tcp", e.address)
	if err != nil {
		return nil, liberrors.ErrTransport{Err: err}
	}

	if tlsConfig == nil {
		return nconn, nil
	}

	tlsConn := tls.Client(nconn, tlsConfig)
	err = tlsConn.HandshakeContext(ctx)
	if err != nil {
		nconn.Close()

		var netErr net.Error
		if ctx.Err() != nil || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, liberrors.ErrTransport{Err: err}
		}
		return nil, liberrors.ErrSecurity{MediaIndex: -1, Err: err}
	}

	return tlsConn, nil
}
