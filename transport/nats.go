package transport

import (
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/groundfault/groundfault/errs"
)

const defaultPullBuffer = 1024

// NATSPush publishes wire frames to one subject, fire-and-forget.
type NATSPush struct {
	nc      *nats.Conn
	subject string
}

// DialPush connects a producer to the collector endpoint. The connection
// retries in the background forever; publishes during an outage land in the
// client's bounded reconnect buffer and overflow is reported as would-block.
func DialPush(url, subject string) (*NATSPush, error) {
	nc, err := nats.Connect(url, nats.RetryOnFailedConnect(true), nats.MaxReconnects(-1))
	if err != nil {
		return nil, errs.New("transport/nats", errs.CodeTransport,
			errs.WithMessage("connect "+url), errs.WithCause(err))
	}
	return &NATSPush{nc: nc, subject: subject}, nil
}

// Send publishes one frame without waiting for delivery.
func (p *NATSPush) Send(frame []byte) error {
	err := p.nc.Publish(p.subject, frame)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, nats.ErrReconnectBufExceeded):
		return errs.New("transport/nats", errs.CodeWouldBlock,
			errs.WithMessage("reconnect buffer full"), errs.WithCause(err))
	default:
		return errs.New("transport/nats", errs.CodeTransport,
			errs.WithMessage("publish"), errs.WithCause(err))
	}
}

// Close flushes buffered publishes where possible, then closes the connection.
func (p *NATSPush) Close() error {
	if p.nc == nil {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
	return nil
}

// NATSPull consumes wire frames from one subject through a bounded local
// queue; frames arriving while the queue is full are dropped by the client,
// which matches the pipeline's at-most-once contract.
type NATSPull struct {
	nc  *nats.Conn
	sub *nats.Subscription
	ch  chan *nats.Msg
}

// ListenPull binds the recorder intake to the given endpoint and subject.
func ListenPull(url, subject string, buffer int) (*NATSPull, error) {
	if buffer <= 0 {
		buffer = defaultPullBuffer
	}
	nc, err := nats.Connect(url, nats.RetryOnFailedConnect(true), nats.MaxReconnects(-1))
	if err != nil {
		return nil, errs.New("transport/nats", errs.CodeTransport,
			errs.WithMessage("connect "+url), errs.WithCause(err))
	}
	ch := make(chan *nats.Msg, buffer)
	sub, err := nc.ChanSubscribe(subject, ch)
	if err != nil {
		nc.Close()
		return nil, errs.New("transport/nats", errs.CodeTransport,
			errs.WithMessage("subscribe "+subject), errs.WithCause(err))
	}
	return &NATSPull{nc: nc, sub: sub, ch: ch}, nil
}

// Recv returns the next queued frame without blocking.
func (p *NATSPull) Recv() ([]byte, error) {
	select {
	case msg, ok := <-p.ch:
		if !ok {
			return nil, errs.New("transport/nats", errs.CodeTransport, errs.WithMessage("intake closed"))
		}
		return msg.Data, nil
	default:
		if p.nc.IsClosed() {
			return nil, errs.New("transport/nats", errs.CodeTransport, errs.WithMessage("connection closed"))
		}
		return nil, errs.New("transport/nats", errs.CodeWouldBlock)
	}
}

// Close unsubscribes and closes the connection. Frames already queued
// locally remain readable via Recv until the queue drains.
func (p *NATSPull) Close() error {
	if p.sub != nil {
		_ = p.sub.Unsubscribe()
	}
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}
