// Package recorder runs the single-threaded ingest loop: drain the pull
// transport, fold envelopes into the store engine, flush on an interval.
package recorder

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/groundfault/groundfault/envelope"
	"github.com/groundfault/groundfault/errs"
	"github.com/groundfault/groundfault/internal/store"
	"github.com/groundfault/groundfault/internal/telemetry"
	"github.com/groundfault/groundfault/transport"
)

const (
	defaultFlushInterval = 5 * time.Second
	defaultPollSleep     = 200 * time.Millisecond
)

// Option customises a Recorder.
type Option func(*Recorder)

// WithFlushInterval sets the batch flush cadence.
func WithFlushInterval(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.flushInterval = d
		}
	}
}

// WithPollSleep sets the idle sleep between empty polls.
func WithPollSleep(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.pollSleep = d
		}
	}
}

// WithLogger attaches the loop logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.log = logger
		}
	}
}

// Recorder owns one pull transport and one store engine. Run is the only
// goroutine touching either; the engine session needs no locking.
type Recorder struct {
	pull   transport.Pull
	engine *store.Engine

	flushInterval time.Duration
	pollSleep     time.Duration
	log           *zap.Logger

	folded    uint64
	skipped   uint64
	lastFlush time.Time
	dirty     bool
}

// New assembles a Recorder over the transport and engine.
func New(pull transport.Pull, engine *store.Engine, opts ...Option) (*Recorder, error) {
	if pull == nil {
		return nil, errs.New("recorder", errs.CodeConfiguration, errs.WithMessage("pull transport required"))
	}
	if engine == nil {
		return nil, errs.New("recorder", errs.CodeConfiguration, errs.WithMessage("store engine required"))
	}
	r := &Recorder{
		pull:          pull,
		engine:        engine,
		flushInterval: defaultFlushInterval,
		pollSleep:     defaultPollSleep,
		log:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run polls until ctx is cancelled, then drains buffered frames, flushes,
// and closes the transport. Only a fatal transport error returns non-nil;
// per-envelope failures are logged and skipped.
func (r *Recorder) Run(ctx context.Context) error {
	r.lastFlush = time.Now()
	for {
		select {
		case <-ctx.Done():
			// The drain and final flush still need a live context.
			return r.shutdown(context.WithoutCancel(ctx))
		default:
		}

		frame, err := r.pull.Recv()
		switch {
		case err == nil:
			r.ingest(ctx, frame)
		case errs.IsWouldBlock(err):
			r.idle(ctx)
		default:
			_ = r.engine.Rollback(ctx)
			_ = r.pull.Close()
			return errs.New("recorder", errs.CodeTransport,
				errs.WithMessage("transport receive"), errs.WithCause(err))
		}

		r.maybeFlush(ctx)
	}
}

// ingest decodes and folds one frame. A bad frame is diagnosed and dropped;
// a store failure rolls back the open batch and the loop continues.
func (r *Recorder) ingest(ctx context.Context, frame []byte) {
	telemetry.FrameReceived(ctx)
	env, err := envelope.Decode(frame)
	if err != nil {
		r.skipped++
		r.log.Warn("undecodable frame dropped", zap.Int("bytes", len(frame)), zap.Error(err))
		telemetry.EnvelopeSkipped(ctx, "decode")
		return
	}
	if err := r.engine.MessageReceived(ctx, env); err != nil {
		r.skipped++
		r.log.Error("envelope fold failed, batch rolled back",
			zap.String("event_id", env.EventID), zap.Error(err))
		_ = r.engine.Rollback(ctx)
		telemetry.EnvelopeSkipped(ctx, "store")
		return
	}
	r.folded++
	r.dirty = true
}

// idle sleeps the poll interval, waking early on cancellation.
func (r *Recorder) idle(ctx context.Context) {
	timer := time.NewTimer(r.pollSleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// maybeFlush commits the batch when the interval elapsed and there is
// something new to commit.
func (r *Recorder) maybeFlush(ctx context.Context) {
	if !r.dirty || time.Since(r.lastFlush) < r.flushInterval {
		return
	}
	r.flush(ctx)
}

func (r *Recorder) flush(ctx context.Context) {
	if err := r.engine.Flush(ctx); err != nil {
		r.log.Error("batch flush failed, batch rolled back", zap.Error(err))
		_ = r.engine.Rollback(ctx)
	}
	r.lastFlush = time.Now()
	r.dirty = false
}

// shutdown drains frames already buffered in the transport, flushes the
// final batch, and closes the intake.
func (r *Recorder) shutdown(ctx context.Context) error {
	for {
		frame, err := r.pull.Recv()
		if err != nil {
			break
		}
		r.ingest(ctx, frame)
	}
	if r.dirty {
		r.flush(ctx)
	}
	err := r.pull.Close()
	r.log.Info("recorder stopped",
		zap.Uint64("envelopes_folded", r.folded),
		zap.Uint64("envelopes_skipped", r.skipped))
	if err != nil {
		r.log.Warn("transport close", zap.Error(err))
	}
	return nil
}
