// Package rtm implements the Recent Timestamp Matrix (component B): per-origin most
// recently observed timestamp, and the Stable Version Vector derived from it.
package rtm

import "github.com/flowmesh/trcb"

// Matrix stores, for each actor a, the highest ts whose origin was a and that this
// node has processed. It is not safe for concurrent use; callers (the broadcast.Node
// event loop) are expected to serialize all access, mirroring how every other
// component in this module assumes single-threaded ownership by the actor.
type Matrix struct {
	rows map[trcb.ActorID]trcb.VClock
}

// New returns an empty Matrix.
func New() *Matrix {
	return &Matrix{rows: make(map[trcb.ActorID]trcb.VClock)}
}

// Observe merges ts into the row for origin, growing the row if this is the first
// timestamp seen from origin.
func (m *Matrix) Observe(origin trcb.ActorID, ts trcb.VClock) {
	row, ok := m.rows[origin]
	if !ok {
		row = trcb.Fresh()
	}
	m.rows[origin] = trcb.Merge(row, ts)
}

// Drop removes a's row, e.g. on membership departure. Per §4.B this can only advance
// (never retreat) the stability of already-stable timestamps.
func (m *Matrix) Drop(a trcb.ActorID) {
	delete(m.rows, a)
}

// Row returns a's row, or fresh() if a has no observed row yet (§4.B tie-break for
// newly-joining members).
func (m *Matrix) Row(a trcb.ActorID) trcb.VClock {
	if row, ok := m.rows[a]; ok {
		return row
	}
	return trcb.Fresh()
}

// StableVersionVector returns the pointwise minimum over the rows of every actor in
// members, plus self. A member absent from the matrix contributes fresh() (all
// zeroes), which is the conservative case described in §4.B.
func (m *Matrix) StableVersionVector(self trcb.ActorID, members []trcb.ActorID) trcb.VClock {
	actors := make([]trcb.ActorID, 0, len(members)+1)
	actors = append(actors, self)
	actors = append(actors, members...)

	if len(actors) == 0 {
		return trcb.Fresh()
	}

	svv := pointwiseMin(m.Row(actors[0]), nil)
	for _, a := range actors[1:] {
		svv = pointwiseMin(m.Row(a), svv)
	}
	return svv
}

// pointwiseMin returns the componentwise minimum of row and acc. A nil acc means
// "no accumulator yet"; row is returned unchanged (cloned) in that case. Keys present
// in only one of the two operands are treated as zero in the other, so they drop out
// of the minimum entirely unless present in both.
func pointwiseMin(row, acc trcb.VClock) trcb.VClock {
	if acc == nil {
		return row.Clone()
	}
	out := trcb.Fresh()
	for a, c := range acc {
		if rc, ok := row[a]; ok && rc < c {
			out[a] = rc
		} else if ok {
			out[a] = c
		}
		// a absent from row: row[a] reads as 0, so the min is 0 — omit the key.
	}
	return out
}
