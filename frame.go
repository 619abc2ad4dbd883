package trcb

import (
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
)

// Frame is the tagged union of wire messages exchanged between peers: exactly one of
// Cast or Ack is set, selected by Kind. Frame replaces the teacher's capnp-schema'd
// wire structs; see DESIGN.md for why capnp itself was not carried over.
type Frame struct {
	Kind FrameKind
	Cast *CastFrame
	Ack  *AckFrame
}

// FrameKind discriminates the payload carried by a Frame.
type FrameKind byte

const (
	// KindCast carries a Message being broadcast or forwarded.
	KindCast FrameKind = iota + 1
	// KindAck carries a per-destination delivery acknowledgement.
	KindAck
)

// CastFrame is the wire form of a broadcast Message.
type CastFrame struct {
	Origin ActorID
	Body   []byte
	Ts     []wireEntry
	Sender ActorID
}

// AckFrame is the wire form of a delivery acknowledgement: "sender has delivered (or
// already holds) everything up to Ts".
type AckFrame struct {
	Ts     []wireEntry
	Sender ActorID
}

// wireEntry is one (actor, counter) pair of a VClock's sorted-list wire representation,
// matching spec.md §6's literal wire layout for ts.
type wireEntry struct {
	Actor   ActorID
	Counter uint64
}

// vclockToWire converts vc into its canonical sorted-list wire form.
func vclockToWire(vc VClock) []wireEntry {
	entries := make([]wireEntry, 0, len(vc))
	for a, c := range vc {
		entries = append(entries, wireEntry{Actor: a, Counter: c})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Actor.Less(entries[j].Actor) })
	return entries
}

// wireToVClock converts a sorted-list wire form back into a VClock.
func wireToVClock(entries []wireEntry) VClock {
	vc := make(VClock, len(entries))
	for _, e := range entries {
		vc[e.Actor] = e.Counter
	}
	return vc
}

// NewCastFrame builds the wire frame for broadcasting or forwarding m, stamped with
// the sender relaying it (which may differ from m.Origin once forwarded, per §4.E).
func NewCastFrame(m Message, sender ActorID) Frame {
	return Frame{
		Kind: KindCast,
		Cast: &CastFrame{
			Origin: m.Origin,
			Body:   m.Body,
			Ts:     vclockToWire(m.Ts),
			Sender: sender,
		},
	}
}

// NewAckFrame builds the wire frame acknowledging delivery progress ts from sender.
func NewAckFrame(ts VClock, sender ActorID) Frame {
	return Frame{
		Kind: KindAck,
		Ack: &AckFrame{
			Ts:     vclockToWire(ts),
			Sender: sender,
		},
	}
}

// Message reconstructs the Message carried by a cast frame.
func (c *CastFrame) Message() Message {
	return Message{Origin: c.Origin, Body: c.Body, Ts: wireToVClock(c.Ts)}
}

// VClock reconstructs the vector timestamp carried by an ack frame.
func (a *AckFrame) VClock() VClock {
	return wireToVClock(a.Ts)
}

// wireFrame is the msgpack-serializable shape of Frame. msgpack, unlike capnp, has no
// native tagged-union support, so the discriminant travels alongside both (nilable)
// payloads rather than through a oneof.
type wireFrame struct {
	Kind FrameKind
	Cast *CastFrame `msgpack:",omitempty"`
	Ack  *AckFrame  `msgpack:",omitempty"`
}

// MarshalBinary encodes f for transmission over a Transport.
func (f Frame) MarshalBinary() ([]byte, error) {
	b, err := msgpack.Marshal(wireFrame{Kind: f.Kind, Cast: f.Cast, Ack: f.Ack})
	if err != nil {
		return nil, fmt.Errorf("trcb: marshal frame: %w", err)
	}
	return b, nil
}

// UnmarshalFrame decodes a Frame previously produced by Frame.MarshalBinary.
func UnmarshalFrame(data []byte) (Frame, error) {
	var w wireFrame
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return Frame{}, fmt.Errorf("trcb: unmarshal frame: %w", err)
	}
	f := Frame{Kind: w.Kind, Cast: w.Cast, Ack: w.Ack}
	switch f.Kind {
	case KindCast:
		if f.Cast == nil {
			return Frame{}, fmt.Errorf("trcb: unmarshal frame: %w", ErrMalformedFrame)
		}
	case KindAck:
		if f.Ack == nil {
			return Frame{}, fmt.Errorf("trcb: unmarshal frame: %w", ErrMalformedFrame)
		}
	default:
		return Frame{}, fmt.Errorf("trcb: unmarshal frame: %w", ErrMalformedFrame)
	}
	return f, nil
}
