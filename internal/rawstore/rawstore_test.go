package rawstore

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/chainindex/syncengine/internal/filter"
	"github.com/chainindex/syncengine/internal/interval"
	"github.com/chainindex/syncengine/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Backend: BackendSQLite, DSN: "file::memory:?cache=shared"}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertIntervalMergesOverlappingRanges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertInterval(ctx, "frag-a", interval.Range{Start: 0, End: 99}))
	require.NoError(t, s.InsertInterval(ctx, "frag-a", interval.Range{Start: 100, End: 199}))
	require.NoError(t, s.InsertInterval(ctx, "frag-a", interval.Range{Start: 50, End: 150}))

	got, err := s.GetIntervals(ctx, []string{"frag-a"})
	require.NoError(t, err)
	require.Equal(t, interval.Set{{Start: 0, End: 199}}, got)
}

func TestGetIntervalsIntersectsAcrossFragments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertInterval(ctx, "frag-a", interval.Range{Start: 0, End: 100}))
	require.NoError(t, s.InsertInterval(ctx, "frag-b", interval.Range{Start: 50, End: 150}))

	got, err := s.GetIntervals(ctx, []string{"frag-a", "frag-b"})
	require.NoError(t, err)
	require.Equal(t, interval.Set{{Start: 50, End: 100}}, got)
}

func TestBlockInsertAndLookupRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	block := models.Block{
		Hash:       common.HexToHash("0x1"),
		ChainID:    1,
		Number:     42,
		ParentHash: common.HexToHash("0x0"),
		Timestamp:  1000,
		BaseFee:    big.NewInt(1_000_000_000),
		Miner:      common.HexToAddress("0xabc"),
	}
	require.NoError(t, s.InsertBlock(ctx, block))

	has, err := s.HasBlock(ctx, 1, block.Hash)
	require.NoError(t, err)
	require.True(t, has)

	got, err := s.getBlock(ctx, 1, block.Hash)
	require.NoError(t, err)
	require.Equal(t, block.Number, got.Number)
	require.Equal(t, 0, block.BaseFee.Cmp(got.BaseFee))
}

func TestGetEventsOrdersByCheckpointThenFilterIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chainID := uint64(1)
	block := models.Block{Hash: common.HexToHash("0xb1"), ChainID: chainID, Number: 10, Timestamp: 500, BaseFee: big.NewInt(0)}
	require.NoError(t, s.InsertBlock(ctx, block))
	txn := models.Transaction{
		Hash: common.HexToHash("0xt1"), ChainID: chainID, BlockHash: block.Hash, BlockNumber: block.Number,
		Value: big.NewInt(0), GasPrice: big.NewInt(0),
	}
	require.NoError(t, s.InsertTransactions(ctx, []models.Transaction{txn}))

	addr := common.HexToAddress("0xdead")
	cp1 := models.Encode(models.Checkpoint{BlockTimestamp: 500, ChainID: chainID, BlockNumber: 10, EventType: models.EventTypeLog, EventIndex: 0})
	cp2 := models.Encode(models.Checkpoint{BlockTimestamp: 500, ChainID: chainID, BlockNumber: 10, EventType: models.EventTypeLog, EventIndex: 1})
	logs := []models.Log{
		{ID: "1", ChainID: chainID, BlockHash: block.Hash, BlockNumber: 10, TransactionHash: txn.Hash, Address: addr, Checkpoint: cp2},
		{ID: "2", ChainID: chainID, BlockHash: block.Hash, BlockNumber: 10, TransactionHash: txn.Hash, Address: addr, Checkpoint: cp1},
	}
	require.NoError(t, s.InsertLogs(ctx, logs))

	src := models.Source{
		FilterIndex: 0, Name: "test",
		Filter: &models.LogFilter{ChainID: chainID, Address: models.AddressSpec{Single: &addr}},
	}
	events, err := s.GetEvents(ctx, []models.Source{src}, models.Zero, models.MaxCheckpoint, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, cp1, events[0].Checkpoint)
	require.Equal(t, cp2, events[1].Checkpoint)

	second := src
	second.FilterIndex = 1
	both, err := s.GetEvents(ctx, []models.Source{second, src}, models.Zero, models.MaxCheckpoint, 0)
	require.NoError(t, err)
	require.Len(t, both, 4)
	require.Equal(t, cp1, both[0].Checkpoint)
	require.Equal(t, 0, both[0].FilterIndex)
	require.Equal(t, cp1, both[1].Checkpoint)
	require.Equal(t, 1, both[1].FilterIndex)
	require.Equal(t, cp2, both[2].Checkpoint)
	require.Equal(t, 0, both[2].FilterIndex)
	require.Equal(t, cp2, both[3].Checkpoint)
	require.Equal(t, 1, both[3].FilterIndex)
}

func TestPruneByBlockDeletesRowsAboveFromBlockButLeavesIntervals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	kept := models.Block{Hash: common.HexToHash("0xb1"), ChainID: 1, Number: 100, BaseFee: big.NewInt(0)}
	pruned := models.Block{Hash: common.HexToHash("0xb2"), ChainID: 1, Number: 101, BaseFee: big.NewInt(0)}
	require.NoError(t, s.InsertBlock(ctx, kept))
	require.NoError(t, s.InsertBlock(ctx, pruned))
	require.NoError(t, s.RegisterFragment(ctx, filter.Fragment{ID: "frag-rollback", Kind: filter.FragmentKindBlock, ChainID: 1}))
	require.NoError(t, s.InsertInterval(ctx, "frag-rollback", interval.Range{Start: 0, End: 200}))

	require.NoError(t, s.PruneByBlock(ctx, 1, 100))

	has, err := s.HasBlock(ctx, 1, kept.Hash)
	require.NoError(t, err)
	require.True(t, has, "block at fromBlock itself must survive: PruneByBlock is strictly >")

	has, err = s.HasBlock(ctx, 1, pruned.Hash)
	require.NoError(t, err)
	require.False(t, has)

	got, err := s.GetIntervals(ctx, []string{"frag-rollback"})
	require.NoError(t, err)
	require.Equal(t, interval.Set{{Start: 0, End: 200}}, got, "PruneByBlock must leave interval coverage untouched")
}

func TestPruneByChainTruncatesIntervalsAndDeletesRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	kept := models.Block{Hash: common.HexToHash("0xc1"), ChainID: 1, Number: 99, BaseFee: big.NewInt(0)}
	pruned := models.Block{Hash: common.HexToHash("0xc2"), ChainID: 1, Number: 100, BaseFee: big.NewInt(0)}
	require.NoError(t, s.InsertBlock(ctx, kept))
	require.NoError(t, s.InsertBlock(ctx, pruned))
	require.NoError(t, s.RegisterFragment(ctx, filter.Fragment{ID: "frag-reorg", Kind: filter.FragmentKindBlock, ChainID: 1}))
	require.NoError(t, s.InsertInterval(ctx, "frag-reorg", interval.Range{Start: 0, End: 200}))

	require.NoError(t, s.PruneByChain(ctx, 1, 100))

	has, err := s.HasBlock(ctx, 1, kept.Hash)
	require.NoError(t, err)
	require.True(t, has)

	has, err = s.HasBlock(ctx, 1, pruned.Hash)
	require.NoError(t, err)
	require.False(t, has, "PruneByChain deletes rows at or above fromBlock")

	got, err := s.GetIntervals(ctx, []string{"frag-reorg"})
	require.NoError(t, err)
	require.Equal(t, interval.Set{{Start: 0, End: 99}}, got, "PruneByChain truncates intervals so none extend >= fromBlock")
}
