package interval

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeMergesAdjacentAndOverlapping(t *testing.T) {
	s := Normalize([]Range{{0, 10}, {20, 30}, {10, 20}})
	require.Equal(t, Set{{Start: 0, End: 30}}, s)
}

func TestNormalizeIsSortedDisjointNonAdjacent(t *testing.T) {
	s := Normalize([]Range{{50, 60}, {0, 10}, {12, 20}})
	require.Equal(t, Set{{0, 10}, {12, 20}, {50, 60}}, s)
	for i := 1; i < len(s); i++ {
		require.Greater(t, s[i].Start, s[i-1].End+1, "must not be adjacent or overlapping")
	}
}

func TestUnionIncrementalMerge(t *testing.T) {
	var s Set
	s = Union(s, Set{{0, 10}})
	s = Union(s, Set{{20, 30}})
	s = Union(s, Set{{10, 20}})
	require.Equal(t, Set{{0, 30}}, s)
}

func TestIntersectionManyAcrossFragments(t *testing.T) {
	fragA := Set{{0, 100}}
	fragB := Set{{50, 200}}
	got := IntersectionMany(fragA, fragB)
	require.Equal(t, Set{{50, 100}}, got)
}

func TestDifferenceComputesRequiredIntervals(t *testing.T) {
	clipped := Set{{0, 100}}
	cached := Set{{10, 40}, {60, 80}}
	got := Difference(clipped, cached)
	require.Equal(t, Set{{0, 9}, {41, 59}, {81, 100}}, got)
}

func TestChunksSplitsLargeRanges(t *testing.T) {
	s := Set{{0, 25}}
	chunks := Chunks(s, 10)
	require.Equal(t, []Range{{0, 9}, {10, 19}, {20, 25}}, chunks)
}

func TestSum(t *testing.T) {
	s := Set{{0, 9}, {20, 20}}
	require.Equal(t, uint64(11), Sum(s))
}

func TestContains(t *testing.T) {
	s := Set{{0, 100}}
	require.True(t, Contains(s, Range{10, 90}))
	require.False(t, Contains(s, Range{90, 110}))
}

func TestIntersectionManyEmptyInputIsEmpty(t *testing.T) {
	require.Empty(t, IntersectionMany())
}
