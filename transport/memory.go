package transport

import (
	"sync"

	"github.com/groundfault/groundfault/errs"
)

const defaultMemoryBuffer = 64

// MemoryChannel is an in-process bounded queue implementing both transport
// halves. It backs the in-process wiring and tests.
type MemoryChannel struct {
	mu     sync.RWMutex
	ch     chan []byte
	closed bool
}

// NewMemoryChannel constructs a channel holding at most buffer frames.
func NewMemoryChannel(buffer int) *MemoryChannel {
	if buffer <= 0 {
		buffer = defaultMemoryBuffer
	}
	return &MemoryChannel{ch: make(chan []byte, buffer)}
}

// Send enqueues the frame, dropping with a would-block error when full.
func (c *MemoryChannel) Send(frame []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errs.New("transport/memory", errs.CodeTransport, errs.WithMessage("channel closed"))
	}
	select {
	case c.ch <- frame:
		return nil
	default:
		return errs.New("transport/memory", errs.CodeWouldBlock, errs.WithMessage("send queue full"))
	}
}

// Recv dequeues the next frame without blocking. After Close, buffered
// frames keep draining until the queue is empty.
func (c *MemoryChannel) Recv() ([]byte, error) {
	select {
	case frame, ok := <-c.ch:
		if !ok {
			return nil, errs.New("transport/memory", errs.CodeTransport, errs.WithMessage("channel closed"))
		}
		return frame, nil
	default:
		return nil, errs.New("transport/memory", errs.CodeWouldBlock)
	}
}

// Close tears down both halves. Buffered frames remain readable until the
// queue drains.
func (c *MemoryChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
	return nil
}
