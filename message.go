package trcb

import "errors"

// ErrEmptyOrigin is returned by Message.Validate when Origin is unset.
var ErrEmptyOrigin = errors.New("trcb: message has empty origin")

// Message is an application payload together with the metadata a broadcast actor
// needs to assign it a position in the causal order. Node.Broadcast takes only the body
// and builds the Message itself, with Ts already stamped (§4.F).
type Message struct {
	// Origin is the actor that authored the message. Set once at creation and never
	// rewritten as the message is forwarded.
	Origin ActorID
	// Body is the opaque application payload.
	Body []byte
	// Ts is the vector timestamp the message carries: origin's vector clock immediately
	// after incrementing its own entry for this broadcast. Nil until stamped.
	Ts VClock
}

// Validate reports whether m is well-formed enough to broadcast or deliver.
func (m Message) Validate() error {
	if err := m.Origin.Validate(); err != nil {
		return ErrEmptyOrigin
	}
	return nil
}
