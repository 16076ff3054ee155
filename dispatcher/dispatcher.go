// Package dispatcher carries captured envelopes from the client to their
// destination: a remote recorder over the wire, or a local store directly.
package dispatcher

import (
	"context"

	"github.com/groundfault/groundfault/envelope"
)

// Sink accepts captured envelopes. Implementations must not block the
// caller; telemetry delivery is best-effort by design.
type Sink interface {
	// Send hands one envelope off for delivery. A nil error means the
	// envelope was accepted, not that it was delivered.
	Send(ctx context.Context, env *envelope.Envelope) error
	// Close releases the sink, waiting briefly for queued sends.
	Close(ctx context.Context) error
}
