// Package asyncprocessor contains an asynchronous processor.
package asyncprocessor

import (
	"context"
	"fmt"

	"github.com/bluenviron/rtspengine/pkg/ringbuffer"
)

// Processor is an asynchronous queue processor
// that detaches the routine that is reading a stream
// from the routine that is consuming it.
// It is used to ingest RTCP packets of a single media.
type Processor struct {
	// size of the queue. It must be a power of two.
	BufferSize int

	// called when a queued function returns an error.
	OnError func(context.Context, error)

	running   bool
	buffer    *ringbuffer.RingBuffer[func() error]
	ctx       context.Context
	ctxCancel func()

	done chan struct{}
}

// Initialize initializes the processor.
func (w *Processor) Initialize() error {
	var err error
	w.buffer, err = ringbuffer.New[func() error](uint64(w.BufferSize))
	if err != nil {
		return fmt.Errorf("invalid buffer size: %w", err)
	}

	w.ctx, w.ctxCancel = context.WithCancel(context.Background())
	w.done = make(chan struct{})
	return nil
}

// Close closes the processor.
// Queued functions that were not processed yet are discarded.
func (w *Processor) Close() {
	w.ctxCancel()
	w.buffer.Close()

	if w.running {
		<-w.done
	}
}

// Start starts the processor.
func (w *Processor) Start() {
	w.running = true
	go w.run()
}

func (w *Processor) run() {
	defer close(w.done)

	err := w.runInner()
	if err != nil && w.OnError != nil {
		w.OnError(w.ctx, err)
	}
}

func (w *Processor) runInner() error {
	for {
		cb, ok := w.buffer.Pull()
		if !ok {
			return nil
		}

		if w.ctx.Err() != nil {
			return nil
		}

		err := cb()
		if err != nil {
			return err
		}
	}
}

// Push queues a function.
// It returns false when the queue is full or the processor is closed.
func (w *Processor) Push(cb func() error) bool {
	return w.buffer.Push(cb)
}
