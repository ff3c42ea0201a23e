package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckpointEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Checkpoint{
		Zero,
		MaxCheckpoint,
		{BlockTimestamp: 1700000000, ChainID: 1, BlockNumber: 18500000, TransactionIndex: 42, EventType: EventTypeLog, EventIndex: 7},
		{BlockTimestamp: 1, ChainID: 137, BlockNumber: 1, TransactionIndex: 0, EventType: EventTypeBlock, EventIndex: 0},
	}
	for _, c := range cases {
		encoded := Encode(c)
		require.Len(t, encoded, EncodedLen)
		decoded, err := Decode(encoded)
		require.NoError(t, err)
		require.Equal(t, c, decoded)
	}
}

func TestCheckpointDecodeRejectsWrongLength(t *testing.T) {
	_, err := Decode("too-short")
	require.Error(t, err)
}

func TestCheckpointLessMatchesTupleOrder(t *testing.T) {
	earlier := Checkpoint{BlockTimestamp: 100, ChainID: 1, BlockNumber: 10}
	later := Checkpoint{BlockTimestamp: 100, ChainID: 1, BlockNumber: 11}
	require.True(t, Less(earlier, later))
	require.False(t, Less(later, earlier))
	require.Equal(t, -1, Compare(earlier, later))
	require.Equal(t, 0, Compare(earlier, earlier))
}

func TestCheckpointZeroIsMinimumAndMaxIsMaximum(t *testing.T) {
	arbitrary := Checkpoint{BlockTimestamp: 1700000000, ChainID: 1, BlockNumber: 18500000, TransactionIndex: 42, EventType: EventTypeLog, EventIndex: 7}
	require.True(t, Less(Zero, arbitrary))
	require.True(t, Less(arbitrary, MaxCheckpoint))
}

func TestCheckpointEventTypeOrdersWithinSameBlockAndTx(t *testing.T) {
	base := Checkpoint{BlockTimestamp: 1, ChainID: 1, BlockNumber: 1, TransactionIndex: 1}
	block := base
	block.EventType = EventTypeBlock
	tx := base
	tx.EventType = EventTypeTransaction
	log := base
	log.EventType = EventTypeLog
	call := base
	call.EventType = EventTypeCallTrace

	require.True(t, Less(block, tx))
	require.True(t, Less(tx, log))
	require.True(t, Less(log, call))
}
