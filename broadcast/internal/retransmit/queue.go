// Package retransmit implements the per-outgoing-message, per-destination
// acknowledgement tracking and periodic resend logic of component D.
package retransmit

import "github.com/flowmesh/trcb"

// Entry is the bookkeeping kept for one outstanding broadcast or forward until every
// destination has acknowledged it.
type Entry struct {
	Origin     trcb.ActorID
	Body       []byte
	Ts         trcb.VClock
	LastSentMS int64
	Awaiting   map[trcb.ActorID]struct{}
}

// Queue is the retransmit table, keyed by the canonical string form of a Ts (Go maps
// cannot use trcb.VClock, itself a map, as a key — see trcb.VClock.Key). Not safe for
// concurrent use; owned exclusively by the broadcast.Node event loop.
type Queue struct {
	entries map[string]*Entry
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{entries: make(map[string]*Entry)}
}

// Register creates a retransmit entry for ts awaiting acks from every peer in
// awaiting; with no peers in awaiting there is nothing to wait for and no entry is
// created. nowMS is the caller-supplied current time in milliseconds (Unix epoch),
// threaded in rather than read internally so the broadcast.Node event loop remains
// the sole source of time and tests can drive it deterministically.
func (q *Queue) Register(origin trcb.ActorID, body []byte, ts trcb.VClock, awaiting []trcb.ActorID, nowMS int64) {
	if len(awaiting) == 0 {
		return
	}
	set := make(map[trcb.ActorID]struct{}, len(awaiting))
	for _, p := range awaiting {
		set[p] = struct{}{}
	}
	q.entries[ts.Key()] = &Entry{
		Origin:     origin,
		Body:       body,
		Ts:         ts,
		LastSentMS: nowMS,
		Awaiting:   set,
	}
}

// Ack removes sender from the awaiting set of ts's entry. It reports whether a
// matching entry existed at all (an UnknownAck per §7 if not) and, when it did,
// whether the entry is now fully acknowledged and was erased.
func (q *Queue) Ack(ts trcb.VClock, sender trcb.ActorID) (found, erased bool) {
	e, ok := q.entries[ts.Key()]
	if !ok {
		return false, false
	}
	delete(e.Awaiting, sender)
	if len(e.Awaiting) == 0 {
		delete(q.entries, ts.Key())
		return true, true
	}
	return true, false
}

// Len reports the number of outstanding entries, used for introspection (Node.Snapshot).
func (q *Queue) Len() int {
	return len(q.entries)
}

// DropPeer removes p from every entry's awaiting set, erasing any entry that becomes
// fully acknowledged as a result. Intersecting awaiting with current membership on
// resend (§4.E tie-break) is implemented by calling this on membership departure
// rather than on every resend pass, since a peer that left does not come back without
// a fresh on_membership event.
func (q *Queue) DropPeer(p trcb.ActorID) {
	for key, e := range q.entries {
		delete(e.Awaiting, p)
		if len(e.Awaiting) == 0 {
			delete(q.entries, key)
		}
	}
}

// DueForResend returns every entry whose age exceeds resendAfterMS, as of nowMS, and
// advances LastSentMS for each returned entry to nowMS. Order is unspecified.
func (q *Queue) DueForResend(nowMS, resendAfterMS int64) []*Entry {
	var due []*Entry
	for _, e := range q.entries {
		if nowMS-e.LastSentMS > resendAfterMS {
			e.LastSentMS = nowMS
			due = append(due, e)
		}
	}
	return due
}
