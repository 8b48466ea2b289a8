package rtspengine

import (
	"sync/atomic"
	"time"

	"github.com/bluenviron/rtspengine/pkg/base"
)

// clientReader reads the control connection while the session is playing.
// Responses are routed to the run loop, interleaved frames to medias.
type clientReader struct {
	c *Client

	err       error
	terminate chan struct{}
	done      chan struct{}
}

func (r *clientReader) start() {
	r.terminate = make(chan struct{})
	r.done = make(chan struct{})

	// for some reason, SetReadDeadline() must always be called in the same
	// goroutine, otherwise Read() freezes.
	// therefore, we disable the deadline and perform a check with a ticker.
	r.c.nconn.SetReadDeadline(time.Time{})

	go r.run()
}

func (r *clientReader) close() {
	close(r.terminate)
	r.c.nconn.SetReadDeadline(time.Now())
	<-r.done
}

func (r *clientReader) run() {
	defer close(r.done)
	r.err = r.runInner()
}

func (r *clientReader) runInner() error {
	for {
		what, err := r.c.conn.Read()
		if err != nil {
			return err
		}

		switch what := what.(type) {
		case *base.Response:
			select {
			case r.c.chResponse <- what:
			case <-r.terminate:
				return errReaderTerminated
			default:
				r.c.log.WithField("status", int(what.StatusCode)).Debug("discarding unexpected response")
			}

		case *base.Request:
			r.c.log.WithField("method", string(what.Method)).Debug("ignoring request sent by the server")

		case *base.InterleavedFrame:
			atomic.StoreInt64(r.c.tcpLastFrameTime, r.c.TimeNow().UnixNano())

			channel := what.Channel
			isRTP := true
			if (channel % 2) != 0 {
				channel--
				isRTP = false
			}

			cm, ok := r.c.tcpMediasByChannel[channel]
			if !ok {
				continue
			}

			if isRTP {
				cm.readRTP(what.Payload)
			} else {
				cm.readRTCP(what.Payload)
			}
		}
	}
}
