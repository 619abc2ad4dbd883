// Package causal implements the causal-delivery buffer (component C): the ordered
// sequence of received-but-not-yet-deliverable messages, and the admission algorithm
// that drains it to a fixed point after every successful delivery.
package causal

import "github.com/flowmesh/trcb"

// entry is one buffered message awaiting causal readiness.
type entry struct {
	origin trcb.ActorID
	body   []byte
	ts     trcb.VClock
}

// Buffer holds messages whose ts is not yet deliverable, in stable insertion order.
// Not safe for concurrent use; owned exclusively by the broadcast.Node event loop.
type Buffer struct {
	entries []entry
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// Deliverable reports whether ts is admissible given the current version vector vv
// (§4.C): exactly one actor's counter in ts is one ahead of vv and no other counter
// exceeds vv. This is the classical causal precondition with the advancing actor
// standing in for the origin, so a message waits until everything it causally depends
// on has been delivered, while a concurrent message stays deliverable. Drain folds
// each admitted ts into vv with merge(vv, ts).
func Deliverable(ts, vv trcb.VClock) bool {
	advanced := 0
	for a, c := range ts {
		have := vv[a]
		switch {
		case c <= have:
		case c == have+1:
			advanced++
		default:
			return false
		}
	}
	return advanced == 1
}

// Len reports the number of buffered entries.
func (b *Buffer) Len() int {
	return len(b.entries)
}

// Push appends a not-yet-deliverable message to the tail of the buffer.
func (b *Buffer) Push(origin trcb.ActorID, body []byte, ts trcb.VClock) {
	b.entries = append(b.entries, entry{origin: origin, body: body, ts: ts})
}

// Contains reports whether a message with exactly ts is already buffered, used by the
// duplicate filter (§4.D).
func (b *Buffer) Contains(ts trcb.VClock) bool {
	for _, e := range b.entries {
		if e.ts.Equal(ts) {
			return true
		}
	}
	return false
}

// Drain repeatedly scans the buffer from the head, admitting every entry deliverable
// under the current vv, invoking deliver for each, and folding its ts into vv via
// merge before continuing. A pass that admits nothing ends the scan, which is the
// causal fixed point described in §4.C. deliver is called at most once per entry;
// if it returns an error the entry is put back and the scan stops, matching the
// HandlerError policy in §7 (vv is not advanced past a failed delivery and the entry
// remains buffered for a future re-scan).
//
// Drain returns the vv that should replace the caller's, reflecting every admission
// that succeeded before a failure (if any) halted the scan.
func (b *Buffer) Drain(vv trcb.VClock, deliver func(ts trcb.VClock, body []byte) error) (trcb.VClock, error) {
	for {
		admittedAny := false
		remaining := b.entries[:0:0]
		var firstErr error

		for _, e := range b.entries {
			if firstErr == nil && Deliverable(e.ts, vv) {
				if err := deliver(e.ts, e.body); err != nil {
					firstErr = err
					remaining = append(remaining, e)
					continue
				}
				vv = trcb.Merge(vv, e.ts)
				admittedAny = true
				continue
			}
			remaining = append(remaining, e)
		}

		b.entries = remaining
		if firstErr != nil {
			return vv, firstErr
		}
		if !admittedAny {
			return vv, nil
		}
	}
}
