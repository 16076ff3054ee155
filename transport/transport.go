// Package transport abstracts the lossy push/pull channel between producers
// and the recorder. Implementations are non-blocking on both ends: a full
// local queue surfaces a would-block error rather than stalling the caller.
package transport

// Push is the producer half: a single outbound fire-and-forget channel.
type Push interface {
	// Send enqueues one wire frame. It never blocks; a saturated local
	// queue yields an errs.CodeWouldBlock error and the frame is lost.
	Send(frame []byte) error
	Close() error
}

// Pull is the recorder half: a single fan-in intake.
type Pull interface {
	// Recv returns the next queued wire frame. It never blocks; an empty
	// queue yields an errs.CodeWouldBlock error. Any other error is fatal
	// for the intake.
	Recv() ([]byte, error)
	Close() error
}
