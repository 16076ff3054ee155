package dispatcher

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/groundfault/groundfault/envelope"
	"github.com/groundfault/groundfault/errs"
	"github.com/groundfault/groundfault/internal/telemetry"
	"github.com/groundfault/groundfault/lib/async"
	"github.com/groundfault/groundfault/transport"
)

const defaultQueueDepth = 256

// RemoteOption customises a RemoteSink.
type RemoteOption func(*remoteOptions)

type remoteOptions struct {
	queueDepth int
	limit      rate.Limit
	burst      int
	logger     *zap.Logger
}

// WithQueueDepth bounds the in-flight send queue. Envelopes beyond the
// bound are dropped, never buffered unboundedly.
func WithQueueDepth(n int) RemoteOption {
	return func(o *remoteOptions) { o.queueDepth = n }
}

// WithRateLimit caps the send rate; envelopes above the cap are dropped.
// Zero disables limiting.
func WithRateLimit(perSecond float64, burst int) RemoteOption {
	return func(o *remoteOptions) {
		o.limit = rate.Limit(perSecond)
		o.burst = burst
	}
}

// WithLogger attaches a logger for drop diagnostics.
func WithLogger(logger *zap.Logger) RemoteOption {
	return func(o *remoteOptions) { o.logger = logger }
}

// RemoteSink encodes envelopes and pushes them over a transport from a
// single background worker. Send never blocks: a saturated queue, a
// saturated transport, or the rate limiter drops the envelope and the
// application proceeds.
type RemoteSink struct {
	push    transport.Push
	pool    *async.Pool
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewRemoteSink wraps the push transport. The transport stays owned by the
// sink and is closed with it.
func NewRemoteSink(push transport.Push, opts ...RemoteOption) (*RemoteSink, error) {
	if push == nil {
		return nil, errs.New("dispatcher", errs.CodeConfiguration, errs.WithMessage("push transport required"))
	}
	options := remoteOptions{queueDepth: defaultQueueDepth}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = zap.NewNop()
	}
	// One worker keeps wire order matching capture order.
	pool, err := async.NewPool(1, options.queueDepth)
	if err != nil {
		return nil, err
	}
	sink := &RemoteSink{
		push: push,
		pool: pool,
		log:  options.logger,
	}
	if options.limit > 0 {
		burst := options.burst
		if burst <= 0 {
			burst = 1
		}
		sink.limiter = rate.NewLimiter(options.limit, burst)
	}
	return sink, nil
}

// Send encodes and enqueues the envelope. Drops are logged and counted,
// never surfaced as errors: losing telemetry must not break the app.
func (s *RemoteSink) Send(ctx context.Context, env *envelope.Envelope) error {
	if env == nil {
		return nil
	}
	if s.limiter != nil && !s.limiter.Allow() {
		s.log.Debug("envelope dropped by rate limiter", zap.String("event_id", env.EventID))
		telemetry.EnvelopeDropped(ctx, "rate_limited")
		return nil
	}
	frame, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	eventID := env.EventID
	submitErr := s.pool.Submit(func(taskCtx context.Context) error {
		if err := s.push.Send(frame); err != nil {
			reason := "transport"
			if errs.IsWouldBlock(err) {
				reason = "backpressure"
			}
			s.log.Debug("envelope dropped in transit",
				zap.String("event_id", eventID), zap.String("reason", reason), zap.Error(err))
			telemetry.EnvelopeDropped(taskCtx, reason)
			return err
		}
		telemetry.EnvelopeSent(taskCtx)
		return nil
	})
	if submitErr != nil {
		s.log.Debug("envelope dropped at send queue", zap.String("event_id", eventID))
		telemetry.EnvelopeDropped(ctx, "queue_full")
	}
	return nil
}

// Close drains queued sends within the context deadline, then closes the
// transport.
func (s *RemoteSink) Close(ctx context.Context) error {
	if err := s.pool.Shutdown(ctx); err != nil {
		_ = s.push.Close()
		return err
	}
	return s.push.Close()
}
