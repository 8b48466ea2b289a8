// Package base64streamreader contains a reader that decodes a stream
// made of consecutive, independently-padded base64 chunks,
// like the body of a RTSP-over-HTTP POST request.
package base64streamreader

import (
	"encoding/base64"
	"io"
)

const (
	readSize = 1024
)

type reader struct {
	r       io.Reader
	buf     []byte
	pending []byte
	decoded []byte
}

// decodeQuads decodes all complete 4-character groups.
// Every group can be decoded on its own, since padding
// can only appear at the end of a group.
func (r *reader) decodeQuads() error {
	n := (len(r.pending) / 4) * 4
	if n == 0 {
		return nil
	}

	var tmp [3]byte

	for i := 0; i < n; i += 4 {
		l, err := base64.StdEncoding.Decode(tmp[:], r.pending[i:i+4])
		if err != nil {
			return err
		}
		r.decoded = append(r.decoded, tmp[:l]...)
	}

	r.pending = append(r.pending[:0], r.pending[n:]...)
	return nil
}

func (r *reader) Read(p []byte) (int, error) {
	for len(r.decoded) == 0 {
		n, err := r.r.Read(r.buf)
		if n > 0 {
			r.pending = append(r.pending, stripWhitespace(r.buf[:n])...)

			err2 := r.decodeQuads()
			if err2 != nil {
				return 0, err2
			}
			continue
		}

		if err != nil {
			return 0, err
		}
	}

	n := copy(p, r.decoded)
	r.decoded = r.decoded[n:]
	return n, nil
}

func stripWhitespace(in []byte) []byte {
	out := in[:0]
	for _, b := range in {
		switch b {
		case '\r', '\n', ' ', '\t':
		default:
			out = append(out, b)
		}
	}
	return out
}

// New allocates a base64 stream reader.
func New(r io.Reader) io.Reader {
	return &reader{
		r:   r,
		buf: make([]byte, readSize),
	}
}
