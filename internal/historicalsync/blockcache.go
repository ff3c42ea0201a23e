// Package historicalsync implements backfill sync over a network's
// configured sources: for each source, it computes the block ranges not
// yet covered by the raw store's interval index, fetches the missing
// data over RPC, and records it (spec.md §4.4).
package historicalsync

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/singleflight"

	"github.com/chainindex/syncengine/internal/rawstore"
	"github.com/chainindex/syncengine/internal/rpcqueue"
	"github.com/chainindex/syncengine/pkg/models"
)

// blockCache coalesces concurrent requests for the same block number
// within a single Sync call, scoped to that call and discarded at its
// end (spec.md §4.4 "per-sync block cache"). It also ensures a block and
// its transactions are inserted into the raw store exactly once per
// sync call, regardless of how many sources/logs reference it.
type blockCache struct {
	chainID uint64
	queue   *rpcqueue.Queue
	store   *rawstore.Store
	observe func(uint64)

	group   singleflight.Group
	ensured sync.Map // uint64 -> models.Block
}

func newBlockCache(chainID uint64, queue *rpcqueue.Queue, store *rawstore.Store, observe func(uint64)) *blockCache {
	return &blockCache{chainID: chainID, queue: queue, store: store, observe: observe}
}

// get fetches the raw RPC block, coalescing concurrent duplicate fetches.
func (c *blockCache) get(ctx context.Context, number uint64) (*types.Block, error) {
	v, err, _ := c.group.Do(keyFor(number), func() (any, error) {
		return c.queue.GetBlockByNumber(ctx, number)
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.Block), nil
}

// ensure fetches block number and its transactions, inserts them into
// the raw store (idempotently) the first time this call sees that
// block, and returns the store's row representation.
func (c *blockCache) ensure(ctx context.Context, number uint64) (models.Block, error) {
	if v, ok := c.ensured.Load(number); ok {
		block := v.(models.Block)
		c.observe(block.Number)
		return block, nil
	}

	raw, err := c.get(ctx, number)
	if err != nil {
		return models.Block{}, fmt.Errorf("historicalsync: fetch block %d: %w", number, err)
	}
	block := convertBlock(c.chainID, raw)
	if err := c.store.InsertBlock(ctx, block); err != nil {
		return models.Block{}, err
	}

	txs := convertTransactions(c.chainID, raw)
	if err := c.store.InsertTransactions(ctx, txs); err != nil {
		return models.Block{}, err
	}

	c.ensured.Store(number, block)
	c.observe(block.Number)
	return block, nil
}

func convertBlock(chainID uint64, b *types.Block) models.Block {
	baseFee := b.BaseFee()
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	return models.Block{
		Hash:       b.Hash(),
		ChainID:    chainID,
		Number:     b.NumberU64(),
		ParentHash: b.ParentHash(),
		Timestamp:  b.Time(),
		Nonce:      b.Nonce(),
		GasLimit:   b.GasLimit(),
		GasUsed:    b.GasUsed(),
		BaseFee:    baseFee,
		Miner:      b.Coinbase(),
		StateRoot:  b.Root(),
		TxRoot:     b.TxHash(),
	}
}

func convertTransactions(chainID uint64, b *types.Block) []models.Transaction {
	signer := types.LatestSignerForChainID(new(big.Int).SetUint64(chainID))
	txs := b.Transactions()
	out := make([]models.Transaction, 0, len(txs))
	for i, tx := range txs {
		from, err := types.Sender(signer, tx)
		if err != nil {
			// Unrecoverable sender (e.g. a pre-EIP-155 legacy tx on an
			// unexpected chain) shouldn't abort the whole block; store
			// the zero address rather than drop the transaction.
			from = [20]byte{}
		}
		value := tx.Value()
		if value == nil {
			value = big.NewInt(0)
		}
		gasPrice := tx.GasPrice()
		if gasPrice == nil {
			gasPrice = big.NewInt(0)
		}
		out = append(out, models.Transaction{
			Hash:             tx.Hash(),
			ChainID:          chainID,
			BlockHash:        b.Hash(),
			BlockNumber:      b.NumberU64(),
			TransactionIndex: uint(i),
			From:             from,
			To:               tx.To(),
			Value:            value,
			GasLimit:         tx.Gas(),
			GasPrice:         gasPrice,
			Input:            tx.Data(),
			Nonce:            tx.Nonce(),
		})
	}
	return out
}

func keyFor(number uint64) string {
	return "block:" + strconv.FormatUint(number, 10)
}
