package rtspengine

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	httpTunnelContentType   = "application/x-rtsp-tunnelled"
	httpTunnelContentLength = "30000"
)

// clientTunnelHTTP is a RTSP-over-HTTP tunnel.
// Data is read from the GET channel and written in base64 to the POST channel.
type clientTunnelHTTP struct {
	readChan  net.Conn
	readBuf   *bufio.Reader
	writeChan net.Conn
}

func (c *clientTunnelHTTP) Read(p []byte) (int, error) {
	return c.readBuf.Read(p)
}

func (c *clientTunnelHTTP) Write(p []byte) (int, error) {
	_, err := c.writeChan.Write([]byte(base64.StdEncoding.EncodeToString(p)))
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *clientTunnelHTTP) Close() error {
	c.readChan.Close()
	c.writeChan.Close()
	return nil
}

func (c *clientTunnelHTTP) LocalAddr() net.Addr {
	return c.readChan.LocalAddr()
}

func (c *clientTunnelHTTP) RemoteAddr() net.Addr {
	return c.readChan.RemoteAddr()
}

func (c *clientTunnelHTTP) SetDeadline(t time.Time) error {
	err := c.readChan.SetReadDeadline(t)
	if err != nil {
		return err
	}
	return c.writeChan.SetWriteDeadline(t)
}

func (c *clientTunnelHTTP) SetReadDeadline(t time.Time) error {
	return c.readChan.SetReadDeadline(t)
}

func (c *clientTunnelHTTP) SetWriteDeadline(t time.Time) error {
	return c.writeChan.SetWriteDeadline(t)
}

// openHTTPTunnelChannel dials a channel of the tunnel and sends its HTTP header.
// The channel is closed when ctx is canceled during the exchange.
func openHTTPTunnelChannel(
	ctx context.Context,
	dialContext func(ctx context.Context, network, address string) (net.Conn, error),
	host string,
	address string,
	tlsConfig *tls.Config,
	header string,
) (net.Conn, *bufio.Reader, error) {
	nconn, err := dialContext(ctx, "tcp", address)
	if err != nil {
		return nil, nil, err
	}

	if tlsConfig != nil {
		nconn = tls.Client(nconn, tlsConfig)
	}

	cc := newClientConnCloser(ctx, nconn)

	br, err := writeHTTPTunnelHeader(nconn, host, header)
	cc.close()

	if err == nil && cc.fired() {
		err = ctx.Err()
	}
	if err != nil {
		nconn.Close()
		return nil, nil, err
	}

	return nconn, br, nil
}

func writeHTTPTunnelHeader(nconn net.Conn, host string, header string) (*bufio.Reader, error) {
	// do not use http.Request
	// since Content-Length requires a Body of same size
	_, err := nconn.Write([]byte(header +
		"Host: " + host + "\r\n" +
		"Content-Length: " + httpTunnelContentLength + "\r\n" +
		"\r\n"))
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(nconn)
	// the body is the tunnel itself and must not be consumed
	res, err := http.ReadResponse(br, nil)
	if err != nil {
		return nil, err
	}

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status code: %v", res.StatusCode)
	}

	return br, nil
}

func newClientTunnelHTTP(
	ctx context.Context,
	dialContext func(ctx context.Context, network, address string) (net.Conn, error),
	host string,
	address string,
	tlsConfig *tls.Config,
) (net.Conn, error) {
	tunnelID := strings.ReplaceAll(uuid.New().String(), "-", "")

	readChan, readBuf, err := openHTTPTunnelChannel(ctx, dialContext, host, address, tlsConfig,
		"GET / HTTP/1.1\r\n"+
			"X-Sessioncookie: "+tunnelID+"\r\n"+
			"Accept: "+httpTunnelContentType+"\r\n")
	if err != nil {
		return nil, err
	}

	writeChan, _, err := openHTTPTunnelChannel(ctx, dialContext, host, address, tlsConfig,
		"POST / HTTP/1.1\r\n"+
			"X-Sessioncookie: "+tunnelID+"\r\n"+
			"Content-Type: "+httpTunnelContentType+"\r\n")
	if err != nil {
		readChan.Close()
		return nil, err
	}

	return &clientTunnelHTTP{
		readChan:  readChan,
		readBuf:   readBuf,
		writeChan: writeChan,
	}, nil
}
