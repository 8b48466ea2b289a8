package rtspengine

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const webSocketSubprotocol = "rtsp.onvif.org"

type wsReader struct {
	wc *websocket.Conn

	buf []byte
}

func (r *wsReader) Read(p []byte) (int, error) {
	if len(r.buf) == 0 {
		var msgType int
		var err error
		msgType, r.buf, err = r.wc.ReadMessage()
		if err != nil {
			return 0, err
		}

		if msgType != websocket.BinaryMessage {
			return 0, fmt.Errorf("unexpected message type %v", msgType)
		}
	}

	n := copy(p, r.buf)
	r.buf = r.buf[n:]

	return n, nil
}

type wsWriter struct {
	wc *websocket.Conn

	mutex sync.Mutex
}

func (w *wsWriter) Write(p []byte) (int, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	err := w.wc.WriteMessage(websocket.BinaryMessage, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// clientTunnelWebSocket is a RTSP-over-WebSocket tunnel (ONVIF streaming specification).
type clientTunnelWebSocket struct {
	wconn *websocket.Conn
	r     *wsReader
	w     *wsWriter
}

func (tu *clientTunnelWebSocket) Read(b []byte) (int, error) {
	return tu.r.Read(b)
}

func (tu *clientTunnelWebSocket) Write(b []byte) (int, error) {
	return tu.w.Write(b)
}

func (tu *clientTunnelWebSocket) Close() error {
	return tu.wconn.Close()
}

func (tu *clientTunnelWebSocket) LocalAddr() net.Addr {
	return tu.wconn.LocalAddr()
}

func (tu *clientTunnelWebSocket) RemoteAddr() net.Addr {
	return tu.wconn.RemoteAddr()
}

func (tu *clientTunnelWebSocket) SetDeadline(t time.Time) error {
	err := tu.wconn.SetReadDeadline(t)
	if err != nil {
		return err
	}
	return tu.wconn.SetWriteDeadline(t)
}

func (tu *clientTunnelWebSocket) SetReadDeadline(t time.Time) error {
	return tu.wconn.SetReadDeadline(t)
}

func (tu *clientTunnelWebSocket) SetWriteDeadline(t time.Time) error {
	return tu.wconn.SetWriteDeadline(t)
}

func newClientTunnelWebSocket(
	ctx context.Context,
	dialContext func(ctx context.Context, network, address string) (net.Conn, error),
	host string,
	address string,
	tlsConfig *tls.Config,
) (net.Conn, error) {
	var ur string
	if tlsConfig != nil {
		ur = "wss"
	} else {
		ur = "ws"
	}
	ur += "://" + host + "/"

	wconn, res, err := (&websocket.Dialer{
		NetDialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			return dialContext(ctx, network, address)
		},
		TLSClientConfig: tlsConfig,
		Subprotocols:    []string{webSocketSubprotocol},
	}).DialContext(ctx, ur, nil)
	if err != nil {
		return nil, err
	}
	res.Body.Close()

	if wconn.Subprotocol() != webSocketSubprotocol {
		wconn.Close()
		return nil, fmt.Errorf("server did not accept the '%s' subprotocol", webSocketSubprotocol)
	}

	return &clientTunnelWebSocket{
		wconn: wconn,
		r:     &wsReader{wc: wconn},
		w:     &wsWriter{wc: wconn},
	}, nil
}
