package trcb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreshIsEmpty(t *testing.T) {
	vc := Fresh()
	assert.Equal(t, uint64(0), vc.Get("a"))
	assert.True(t, vc.Equal(Fresh()))
}

func TestIncrementAdvancesOnlyOneActor(t *testing.T) {
	vc := Fresh()
	vc = Increment("a", vc)
	vc = Increment("a", vc)
	vc = Increment("b", vc)

	assert.Equal(t, uint64(2), vc.Get("a"))
	assert.Equal(t, uint64(1), vc.Get("b"))
	assert.Equal(t, uint64(0), vc.Get("c"))
}

func TestIncrementDominatesItsInput(t *testing.T) {
	vc := VClock{"a": 3, "b": 1}
	next := Increment("a", vc)
	require.True(t, next.Dominates(vc))
	require.False(t, vc.Dominates(next))
}

func TestMergeIsPointwiseMax(t *testing.T) {
	x := VClock{"a": 2, "b": 0}
	y := VClock{"b": 5, "c": 1}

	merged := Merge(x, y)
	assert.Equal(t, uint64(2), merged.Get("a"))
	assert.Equal(t, uint64(5), merged.Get("b"))
	assert.Equal(t, uint64(1), merged.Get("c"))
}

func TestMergeIsIdempotent(t *testing.T) {
	x := VClock{"a": 4, "b": 2}
	assert.True(t, Merge(x, x).Equal(x))
}

func TestMergeOfIncrementEqualsIncrement(t *testing.T) {
	vc := VClock{"a": 1, "b": 1}
	incremented := Increment("a", vc)
	assert.True(t, Merge(vc, incremented).Equal(incremented))
}

func TestDescendsTreatsAbsentAsZero(t *testing.T) {
	x := VClock{"a": 1}
	y := VClock{"a": 1, "b": 0}
	assert.True(t, x.Descends(y))
	assert.True(t, y.Descends(x))
}

func TestDominatesRequiresStrictInequality(t *testing.T) {
	x := VClock{"a": 1, "b": 1}
	y := VClock{"a": 1}

	assert.True(t, x.Dominates(y))
	assert.False(t, y.Dominates(x))
	assert.False(t, x.Dominates(x))
}

func TestConcurrentClocksNeitherDominate(t *testing.T) {
	x := VClock{"a": 1}
	y := VClock{"b": 1}

	assert.False(t, x.Dominates(y))
	assert.False(t, y.Dominates(x))
	assert.False(t, x.Equal(y))
}

func TestKeyIsStableUnderAbsentVsZero(t *testing.T) {
	x := VClock{"a": 1, "b": 0}
	y := VClock{"a": 1}
	assert.Equal(t, x.Key(), y.Key())
}

func TestKeyOrdersActorsDeterministically(t *testing.T) {
	x := VClock{"b": 1, "a": 2}
	y := VClock{"a": 2, "b": 1}
	assert.Equal(t, x.Key(), y.Key())
}

func TestCloneIsIndependent(t *testing.T) {
	vc := VClock{"a": 1}
	clone := vc.Clone()
	clone["a"] = 99
	assert.Equal(t, uint64(1), vc.Get("a"))
}
