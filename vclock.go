package trcb

import (
	"sort"
	"strconv"
	"strings"
)

// VClock is a mapping from ActorID to a non-negative counter. Absent keys read as zero.
// VClock values are treated as immutable by every function in this file: each operation
// returns a new VClock rather than mutating its arguments, so callers can freely share
// VClock values across goroutines once constructed (an invariant the Node actor in the
// broadcast package relies on, since vv/ts values cross the transport boundary).
type VClock map[ActorID]uint64

// Fresh returns a new, empty VClock.
func Fresh() VClock {
	return VClock{}
}

// Get returns the counter for a, or 0 if absent.
func (vc VClock) Get(a ActorID) uint64 {
	return vc[a]
}

// Clone returns a shallow copy of vc. Since values are uint64, this is also a deep copy.
func (vc VClock) Clone() VClock {
	out := make(VClock, len(vc))
	for a, c := range vc {
		out[a] = c
	}
	return out
}

// Increment returns a new VClock equal to vc with a's counter advanced by one.
func Increment(a ActorID, vc VClock) VClock {
	out := vc.Clone()
	out[a] = vc[a] + 1
	return out
}

// Merge returns the pointwise maximum of x and y.
func Merge(x, y VClock) VClock {
	out := make(VClock, len(x)+len(y))
	for a, c := range x {
		out[a] = c
	}
	for a, c := range y {
		if c > out[a] {
			out[a] = c
		}
	}
	return out
}

// Descends reports whether x[a] >= y[a] for every actor a, i.e. x >= y in the vector
// clock partial order. Absent keys in either operand read as zero.
func (x VClock) Descends(y VClock) bool {
	for a, c := range y {
		if x[a] < c {
			return false
		}
	}
	return true
}

// Dominates reports whether x strictly descends y: x >= y and x != y.
func (x VClock) Dominates(y VClock) bool {
	return x.Descends(y) && !x.Equal(y)
}

// Equal reports pointwise equality, ignoring zero-valued entries so that an explicit
// zero and an absent key compare equal.
func (x VClock) Equal(y VClock) bool {
	for a, c := range x {
		if c != 0 && y[a] != c {
			return false
		}
	}
	for a, c := range y {
		if c != 0 && x[a] != c {
			return false
		}
	}
	return true
}

// Key returns a canonical string encoding of vc suitable for use as a Go map key
// (VClock itself, being a map, is not comparable and cannot be used as one directly).
// Zero-valued entries are omitted so that Key is stable under Clone/Merge/Increment
// regardless of incidental absent-vs-zero representation differences.
func (vc VClock) Key() string {
	actors := make([]ActorID, 0, len(vc))
	for a, c := range vc {
		if c != 0 {
			actors = append(actors, a)
		}
	}
	sort.Slice(actors, func(i, j int) bool { return actors[i].Less(actors[j]) })

	var b strings.Builder
	for i, a := range actors {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(string(a))
		b.WriteByte('=')
		b.WriteString(strconv.FormatUint(vc[a], 10))
	}
	return b.String()
}
