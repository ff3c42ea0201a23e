package realtimesync

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/chainindex/syncengine/internal/rawstore"
	"github.com/chainindex/syncengine/pkg/models"
)

func newReorgTestStore(t *testing.T) *rawstore.Store {
	t.Helper()
	s, err := rawstore.Open(context.Background(), rawstore.Config{Backend: rawstore.BackendSQLite, DSN: "file::memory:?cache=shared"}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestHandleReorgBeyondFinalityIsFatal(t *testing.T) {
	var recorded []Event
	s := &Syncer{
		cfg:       Config{ChainID: 1, FinalityDepth: 64},
		finalized: 100,
		onEvent:   func(ev Event) { recorded = append(recorded, ev) },
		logger:    zerolog.Nop(),
	}

	err := s.handleReorg(context.Background(), 50)

	var fatal *models.FatalSyncError
	require.True(t, errors.As(err, &fatal))
	var beyond *models.ErrReorgBeyondFinality
	require.True(t, errors.As(fatal.Err, &beyond))
	require.Empty(t, recorded, "a fatal reorg must not emit an event")
}

func TestHandleReorgPrunesStoreAndRevertsCursor(t *testing.T) {
	store := newReorgTestStore(t)
	ctx := context.Background()
	chainID := uint64(1)

	for n := uint64(10); n <= 12; n++ {
		block := models.Block{
			Hash: common.BigToHash(big.NewInt(int64(n))), ChainID: chainID, Number: n, Timestamp: 1000 + n, BaseFee: big.NewInt(0),
		}
		require.NoError(t, store.InsertBlock(ctx, block))
	}

	var recorded []Event
	s := &Syncer{
		cfg:       Config{ChainID: chainID, FinalityDepth: 64},
		store:     store,
		finalized: 9,
		onEvent:   func(ev Event) { recorded = append(recorded, ev) },
		logger:    zerolog.Nop(),
	}
	s.chain.append(node{Number: 10, Hash: common.BigToHash(big.NewInt(10)), Timestamp: 1010})
	s.chain.append(node{Number: 11, Hash: common.BigToHash(big.NewInt(11)), Timestamp: 1011})
	s.chain.append(node{Number: 12, Hash: common.BigToHash(big.NewInt(12)), Timestamp: 1012})

	err := s.handleReorg(ctx, 10)
	require.NoError(t, err)

	// Blocks 11 and 12 must be pruned from the raw store; block 10 survives.
	require.Equal(t, 1, countBlocks(t, store, chainID, 10))
	require.Equal(t, 0, countBlocks(t, store, chainID, 11))
	require.Equal(t, 0, countBlocks(t, store, chainID, 12))

	require.Equal(t, uint64(10), s.chain.tip().Number, "in-memory chain must be truncated to the common ancestor")
	require.Len(t, recorded, 1)
	require.Equal(t, EventKindReorg, recorded[0].Kind)

	reverted, err := models.Decode(recorded[0].Checkpoint)
	require.NoError(t, err)
	require.Equal(t, uint64(10), reverted.BlockNumber, "reverted cursor must sit at the common ancestor block")
	require.Equal(t, s.cursor, reverted)
}

func countBlocks(t *testing.T, store *rawstore.Store, chainID, number uint64) int {
	t.Helper()
	row := store.DB().QueryRow(`SELECT COUNT(*) FROM blocks WHERE chain_id = ? AND number = ?`, chainID, number)
	var n int
	require.NoError(t, row.Scan(&n))
	return n
}
