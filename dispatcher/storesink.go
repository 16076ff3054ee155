package dispatcher

import (
	"context"

	"github.com/groundfault/groundfault/envelope"
	"github.com/groundfault/groundfault/errs"
	"github.com/groundfault/groundfault/internal/store"
)

// StoreSink folds envelopes straight into a store engine, bypassing the
// wire. Single-process deployments and tests use it in place of the
// recorder.
type StoreSink struct {
	engine *store.Engine
}

// NewStoreSink wraps the engine. The engine stays owned by the sink and is
// closed with it.
func NewStoreSink(engine *store.Engine) (*StoreSink, error) {
	if engine == nil {
		return nil, errs.New("dispatcher", errs.CodeConfiguration, errs.WithMessage("store engine required"))
	}
	return &StoreSink{engine: engine}, nil
}

// Send folds and flushes synchronously, so the event is durable when
// Send returns.
func (s *StoreSink) Send(ctx context.Context, env *envelope.Envelope) error {
	if env == nil {
		return nil
	}
	if err := s.engine.MessageReceived(ctx, env); err != nil {
		_ = s.engine.Rollback(ctx)
		return err
	}
	return s.engine.Flush(ctx)
}

// Close releases the engine.
func (s *StoreSink) Close(ctx context.Context) error {
	return s.engine.Close(ctx)
}
