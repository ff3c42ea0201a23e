package checkpointcursor

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/chainindex/syncengine/internal/rawstore"
	"github.com/chainindex/syncengine/pkg/models"
)

func newTestStore(t *testing.T) *rawstore.Store {
	t.Helper()
	s, err := rawstore.Open(context.Background(), rawstore.Config{Backend: rawstore.BackendSQLite, DSN: "file::memory:?cache=shared"}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedTwoLogs(t *testing.T, s *rawstore.Store) (models.Source, string, string) {
	t.Helper()
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
		{ID: "1", ChainID: chainID, BlockHash: block.Hash, BlockNumber: 10, TransactionHash: txn.Hash, Address: addr, Checkpoint: cp1},
		{ID: "2", ChainID: chainID, BlockHash: block.Hash, BlockNumber: 10, TransactionHash: txn.Hash, Address: addr, Checkpoint: cp2},
	}
	require.NoError(t, s.InsertLogs(ctx, logs))

	src := models.Source{
		FilterIndex: 0, Name: "test",
		Filter: &models.LogFilter{ChainID: chainID, Address: models.AddressSpec{Single: &addr}},
	}
	return src, cp1, cp2
}

func TestCursorPagesUntilExhaustedThenReturnsEmptyBatches(t *testing.T) {
	s := newTestStore(t)
	src, cp1, cp2 := seedTwoLogs(t, s)

	c := New(s, []models.Source{src}, models.Zero, models.MaxCheckpoint, 1)

	batch1, err := c.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, batch1.Events, 1)
	require.Equal(t, cp1, batch1.Checkpoint)
	require.False(t, c.Done())

	batch2, err := c.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, batch2.Events, 1)
	require.Equal(t, cp2, batch2.Checkpoint)
	require.False(t, c.Done(), "a full batch does not by itself prove exhaustion")

	batch3, err := c.Next(context.Background())
	require.NoError(t, err)
	require.Empty(t, batch3.Events)
	require.True(t, c.Done())
}

func TestCursorFromIsExclusiveAndToIsInclusive(t *testing.T) {
	s := newTestStore(t)
	src, cp1, cp2 := seedTwoLogs(t, s)

	from, err := models.Decode(cp1)
	require.NoError(t, err)
	to, err := models.Decode(cp2)
	require.NoError(t, err)

	c := New(s, []models.Source{src}, from, to, 0)
	batch, err := c.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, batch.Events, 1, "event at from must be excluded, event at to must be included")
	require.Equal(t, cp2, batch.Events[0].Checkpoint)
}

func TestCursorUnboundedLimitExhaustsInOneBatch(t *testing.T) {
	s := newTestStore(t)
	src, _, cp2 := seedTwoLogs(t, s)

	c := New(s, []models.Source{src}, models.Zero, models.MaxCheckpoint, 0)

	batch, err := c.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, batch.Events, 2)
	require.Equal(t, models.Encode(models.MaxCheckpoint), batch.Checkpoint)
	require.True(t, c.Done())
}
