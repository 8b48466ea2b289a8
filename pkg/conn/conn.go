// Package conn contains a RTSP connection implementation.
package conn

import (
	"bufio"
	"fmt"
	"io"

	"github.com/bluenviron/rtspengine/pkg/base"
)

const (
	readBufferSize = 4096
	responsePrefix = "RTSP/"
)

// Conn is a RTSP connection.
// Reads and writes can be performed by different routines,
// but each direction must be used by one routine at a time.
type Conn struct {
	w  io.Writer
	br *bufio.Reader

	// reuse interleaved frames. they should never be passed to secondary routines
	fr   base.InterleavedFrame
	wbuf []byte
}

// NewConn allocates a Conn.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{
		w:  rw,
		br: bufio.NewReaderSize(rw, readBufferSize),
	}
}

// Read reads a Request, a Response or an Interleaved frame.
// Responses are recognized by their protocol prefix.
func (c *Conn) Read() (interface{}, error) {
	byts, err := c.br.Peek(1)
	if err != nil {
		return nil, err
	}

	if byts[0] == base.InterleavedFrameMagicByte {
		return c.ReadInterleavedFrame()
	}

	byts, err = c.br.Peek(len(responsePrefix))
	if err != nil {
		return nil, err
	}

	if string(byts) == responsePrefix {
		return c.ReadResponse()
	}

	return c.ReadRequest()
}

// ReadRequest reads a Request.
func (c *Conn) ReadRequest() (*base.Request, error) {
	var req base.Request
	err := req.Unmarshal(c.br)
	return &req, err
}

// ReadResponse reads a Response.
func (c *Conn) ReadResponse() (*base.Response, error) {
	var res base.Response
	err := res.Unmarshal(c.br)
	return &res, err
}

// ReadResponseIgnoreFrames reads a Response and discards any interleaved frame
// received before it.
func (c *Conn) ReadResponseIgnoreFrames() (*base.Response, error) {
	for {
		what, err := c.Read()
		if err != nil {
			return nil, err
		}

		switch what := what.(type) {
		case *base.Response:
			return what, nil

		case *base.InterleavedFrame:

		default:
			return nil, fmt.Errorf("unexpected message: %T", what)
		}
	}
}

// ReadInterleavedFrame reads a InterleavedFrame.
// The returned frame is overwritten by the next call.
func (c *Conn) ReadInterleavedFrame() (*base.InterleavedFrame, error) {
	err := c.fr.Unmarshal(c.br)
	return &c.fr, err
}

// WriteRequest writes a request.
func (c *Conn) WriteRequest(req *base.Request) error {
	buf, err := req.Marshal()
	if err != nil {
		return err
	}

	_, err = c.w.Write(buf)
	return err
}

// WriteResponse writes a response.
func (c *Conn) WriteResponse(res *base.Response) error {
	buf, err := res.Marshal()
	if err != nil {
		return err
	}

	_, err = c.w.Write(buf)
	return err
}

// WriteInterleavedFrame writes an interleaved frame.
// The write buffer is reused between calls.
func (c *Conn) WriteInterleavedFrame(fr *base.InterleavedFrame) error {
	size := fr.MarshalSize()
	if cap(c.wbuf) < size {
		c.wbuf = make([]byte, size)
	}

	n, err := fr.MarshalTo(c.wbuf[:size])
	if err != nil {
		return err
	}

	_, err = c.w.Write(c.wbuf[:n])
	return err
}
