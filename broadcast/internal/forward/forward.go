// Package forward implements the pure forwarding-set computation and duplicate test
// of component E: deciding which peers a received message must be relayed to, and
// suppressing relay cycles.
package forward

import "github.com/flowmesh/trcb"

// Set returns members minus sender and origin: every peer that must receive a
// relayed copy of a message this node just accepted (§4.D). Order matches the order
// members was given in.
func Set(members []trcb.ActorID, sender, origin trcb.ActorID) []trcb.ActorID {
	out := make([]trcb.ActorID, 0, len(members))
	for _, p := range members {
		if p == sender || p == origin {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Duplicate reports whether a cast with timestamp ts must be dropped silently:
// either vv already descends ts (already delivered), or an entry with identical ts
// is already buffered for future delivery (per the isBuffered callback, typically
// causal.Buffer.Contains).
func Duplicate(vv, ts trcb.VClock, isBuffered func(trcb.VClock) bool) bool {
	if vv.Descends(ts) {
		return true
	}
	return isBuffered(ts)
}
