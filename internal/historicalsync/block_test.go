package historicalsync

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainindex/syncengine/internal/interval"
	"github.com/chainindex/syncengine/pkg/models"
)

func TestBlockFilterMatchesStride(t *testing.T) {
	f := &models.BlockFilter{Interval: 10, Offset: 5}
	got := blockFilterMatches(f, interval.Range{Start: 0, End: 30})
	require.Equal(t, []uint64{5, 15, 25}, got)
}

func TestBlockFilterMatchesEveryBlockWhenIntervalIsOne(t *testing.T) {
	f := &models.BlockFilter{Interval: 1}
	got := blockFilterMatches(f, interval.Range{Start: 10, End: 13})
	require.Equal(t, []uint64{10, 11, 12, 13}, got)
}

func TestClipToFilterIntersectsTargetAndFilterBounds(t *testing.T) {
	to := uint64(100)
	f := &models.LogFilter{FromBlock: 50, ToBlock: &to}
	got := clipToFilter(f, interval.Range{Start: 0, End: 200})
	require.NotNil(t, got)
	require.Equal(t, interval.Range{Start: 50, End: 100}, *got)

	f2 := &models.LogFilter{FromBlock: 300}
	require.Nil(t, clipToFilter(f2, interval.Range{Start: 0, End: 200}))
}
