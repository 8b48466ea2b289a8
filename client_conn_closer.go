package rtspengine

import (
	"context"
	"net"
	"sync/atomic"
)

// clientConnCloser closes a connection when a context is canceled,
// in order to unblock reads and writes that don't support contexts.
type clientConnCloser struct {
	ctx   context.Context
	nconn net.Conn

	closed    atomic.Bool
	terminate chan struct{}
	done      chan struct{}
}

func newClientConnCloser(ctx context.Context, nconn net.Conn) *clientConnCloser {
	cc := &clientConnCloser{
		ctx:       ctx,
		nconn:     nconn,
		terminate: make(chan struct{}),
		done:      make(chan struct{}),
	}

	go cc.run()

	return cc
}

func (cc *clientConnCloser) close() {
	close(cc.terminate)
	<-cc.done
}

// fired returns whether the connection has been closed because of the context.
// It must be called after close().
func (cc *clientConnCloser) fired() bool {
	return cc.closed.Load()
}

func (cc *clientConnCloser) run() {
	defer close(cc.done)

	select {
	case <-cc.ctx.Done():
		cc.closed.Store(true)
		cc.nconn.Close()

	case <-cc.terminate:
	}
}
