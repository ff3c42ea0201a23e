package realtimesync

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/chainindex/syncengine/pkg/models"
)

func TestUnfinalizedChainTruncateAfterDropsReorgedSuffix(t *testing.T) {
	var c unfinalizedChain
	c.append(node{Number: 100, Hash: common.HexToHash("0xa")})
	c.append(node{Number: 101, Hash: common.HexToHash("0xb")})
	c.append(node{Number: 102, Hash: common.HexToHash("0xc")})

	c.truncateAfter(100)

	require.Equal(t, uint64(100), c.tip().Number)
	_, ok := c.find(101)
	require.False(t, ok)
}

func TestUnfinalizedChainTrimBeforeKeepsNewAnchor(t *testing.T) {
	var c unfinalizedChain
	c.append(node{Number: 10})
	c.append(node{Number: 11})
	c.append(node{Number: 12})

	c.trimBefore(11)

	require.Len(t, c.nodes, 2)
	require.Equal(t, uint64(11), c.nodes[0].Number)
}

func TestUnfinalizedChainNonFinalizedExcludesAnchor(t *testing.T) {
	var c unfinalizedChain
	c.append(node{Number: 10})
	c.append(node{Number: 11})
	c.append(node{Number: 12})

	got := c.nonFinalized()
	require.Len(t, got, 2)
	require.Equal(t, uint64(11), got[0].Number)
}

func TestBlockUpperBoundOrdersWithinBlockAboveEveryEventType(t *testing.T) {
	n := node{Number: 1002, Timestamp: 500}
	cp := blockUpperBound(1, n)

	require.Equal(t, uint64(1002), cp.BlockNumber)
	require.Equal(t, uint64(500), cp.BlockTimestamp)

	lastCallInBlock := models.Checkpoint{BlockTimestamp: 500, ChainID: 1, BlockNumber: 1002, TransactionIndex: 7, EventType: models.EventTypeCallTrace, EventIndex: 3}
	require.True(t, models.Less(lastCallInBlock, cp))
}
