package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/groundfault/groundfault/envelope"
	"github.com/groundfault/groundfault/errs"
	"github.com/groundfault/groundfault/internal/telemetry"
)

// Handler folds one envelope of a given event type into the store.
type Handler func(ctx context.Context, agg Aggregator, env *envelope.Envelope) error

// Engine dispatches envelopes to type handlers and manages batch flushes
// over a single backend session.
type Engine struct {
	session  Session
	handlers map[string]Handler
	log      *zap.Logger
}

// NewEngine wraps the session with the default handler registry: the
// exception handler serves both Exception and HTTPException envelopes.
func NewEngine(session Session, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		session:  session,
		handlers: make(map[string]Handler),
		log:      logger,
	}
	e.Register(envelope.TypeException, HandleException)
	e.Register(envelope.TypeHTTPException, HandleException)
	return e
}

// Register binds a handler to an event type tag. New event kinds register
// without modifying the engine.
func (e *Engine) Register(eventType string, h Handler) {
	if eventType == "" || h == nil {
		return
	}
	e.handlers[eventType] = h
}

// MessageReceived folds one envelope into the open batch. Envelopes with no
// registered handler are silently ignored; a redelivered event id undoes
// only that envelope and reports success.
func (e *Engine) MessageReceived(ctx context.Context, env *envelope.Envelope) error {
	if env == nil {
		return nil
	}
	h, ok := e.handlers[env.EventType]
	if !ok {
		e.log.Debug("no handler for event type, ignoring",
			zap.String("event_type", env.EventType), zap.String("event_id", env.EventID))
		return nil
	}

	err := e.session.Apply(ctx, func(agg Aggregator) error {
		return h(ctx, agg, env)
	})
	if err != nil {
		if errs.HasCode(err, errs.CodeConflict) {
			e.log.Debug("duplicate event id, envelope dropped", zap.String("event_id", env.EventID))
			telemetry.EnvelopeSkipped(ctx, "duplicate")
			return nil
		}
		return errs.New("store", errs.CodeStore,
			errs.WithMessage("fold envelope"), errs.WithEventID(env.EventID), errs.WithCause(err))
	}
	telemetry.EventStored(ctx, env.EventType)
	return nil
}

// Flush commits the open batch.
func (e *Engine) Flush(ctx context.Context) error {
	if err := e.session.Flush(ctx); err != nil {
		telemetry.FlushRecorded(ctx, "failed")
		return errs.New("store", errs.CodeStore, errs.WithMessage("flush batch"), errs.WithCause(err))
	}
	telemetry.FlushRecorded(ctx, "committed")
	return nil
}

// Rollback discards the open batch after a failure.
func (e *Engine) Rollback(ctx context.Context) error {
	return e.session.Rollback(ctx)
}

// Close releases the backend session.
func (e *Engine) Close(ctx context.Context) error {
	return e.session.Close(ctx)
}
