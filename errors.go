package trcb

import "errors"

// Sentinel errors identifying the failure taxonomy of §7. Callers use errors.Is against
// these rather than matching on message text, matching the teacher's convention in
// rebro/gossip/process.go.
var (
	// ErrMalformedFrame is returned when a Frame fails to decode or carries a Kind with
	// no matching payload.
	ErrMalformedFrame = errors.New("trcb: malformed frame")
	// ErrDuplicateFrame is returned (and only logged, never surfaced to the caller of
	// Broadcast) when a cast frame has already been delivered or is already buffered.
	ErrDuplicateFrame = errors.New("trcb: duplicate cast frame")
	// ErrUnknownAck is logged when an ack frame's ts matches no outstanding retransmit
	// entry (already fully acknowledged, or never sent by this node).
	ErrUnknownAck = errors.New("trcb: ack for unknown retransmit entry")
	// ErrUnknownPeer is returned by a Transport when asked to send to an ActorID it
	// cannot resolve to a live connection.
	ErrUnknownPeer = errors.New("trcb: unknown peer")
	// ErrNodeStopped is returned by any Node operation invoked after Stop.
	ErrNodeStopped = errors.New("trcb: node stopped")
	// ErrNodeNotStarted identifies an operation invoked before Start. Node never returns
	// it: such an operation is queued and waits until the Node is started or its context
	// ends.
	ErrNodeNotStarted = errors.New("trcb: node not started")
)

// HandlerError wraps an error returned by a DeliveryHandler so callers inspecting a
// failed delivery can distinguish "the handler rejected this" from transport or codec
// failures further down the pipeline, mirroring how rebro/gossip/process.go annotates
// verifier failures before logging them.
type HandlerError struct {
	Ts  VClock
	Err error
}

func (e *HandlerError) Error() string {
	return "trcb: delivery handler failed for ts " + e.Ts.Key() + ": " + e.Err.Error()
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
