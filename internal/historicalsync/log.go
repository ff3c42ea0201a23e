package historicalsync

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/chainindex/syncengine/internal/interval"
	"github.com/chainindex/syncengine/pkg/models"
)

func (s *Syncer) syncLogRange(ctx context.Context, src models.Source, f *models.LogFilter, r interval.Range, cache *blockCache) error {
	var addresses []common.Address
	if f.Address.IsFactory() {
		if err := s.syncFactoryDefiningEvent(ctx, f.Address.Factory, r, cache); err != nil {
			return err
		}
		resolved, err := s.store.GetChildAddresses(ctx, *f.Address.Factory, interval.Range{Start: 0, End: r.End})
		if err != nil {
			return err
		}
		addresses = addressFilterOrWildcard(resolved)
	} else if !f.Address.IsWildcard() {
		addresses = f.Address.Addresses()
	}

	logs, err := s.fetchLogs(ctx, f.ChainID, addresses, f.Topics, r)
	if err != nil {
		return err
	}
	return s.insertLogs(ctx, f.ChainID, logs, f.IncludeReceipts, cache)
}

// syncFactoryDefiningEvent fetches and stores the factory's defining
// event logs over r; these are the logs syncLogRange later resolves
// child addresses from via the raw store.
func (s *Syncer) syncFactoryDefiningEvent(ctx context.Context, factory *models.Factory, r interval.Range, cache *blockCache) error {
	topics := [4]models.TopicSlot{models.NewTopicSlot(factory.EventSelector)}
	logs, err := s.fetchLogs(ctx, factory.ChainID, []common.Address{factory.Address}, topics, r)
	if err != nil {
		return err
	}
	return s.insertLogs(ctx, factory.ChainID, logs, false, cache)
}

// fetchLogs issues eth_getLogs over r, batching more than
// AddressBatchSize addresses into concurrent requests.
func (s *Syncer) fetchLogs(ctx context.Context, chainID uint64, addresses []common.Address, topics [4]models.TopicSlot, r interval.Range) ([]types.Log, error) {
	queryTopics := buildTopicQuery(topics)

	if len(addresses) <= AddressBatchSize {
		return s.queue.GetLogs(ctx, ethereum.FilterQuery{
			FromBlock: blockBig(r.Start),
			ToBlock:   blockBig(r.End),
			Addresses: addresses,
			Topics:    queryTopics,
		})
	}

	batches := chunkAddresses(addresses, AddressBatchSize)
	results := make([][]types.Log, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			logs, err := s.queue.GetLogs(gctx, ethereum.FilterQuery{
				FromBlock: blockBig(r.Start),
				ToBlock:   blockBig(r.End),
				Addresses: batch,
				Topics:    queryTopics,
			})
			if err != nil {
				return err
			}
			results[i] = logs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []types.Log
	for _, batchLogs := range results {
		out = append(out, batchLogs...)
	}
	return out, nil
}

func (s *Syncer) insertLogs(ctx context.Context, chainID uint64, raw []types.Log, includeReceipts bool, cache *blockCache) error {
	if len(raw) == 0 {
		return nil
	}

	rows := make([]models.Log, 0, len(raw))
	txReceiptCandidates := make(map[common.Hash]struct{})
	for _, l := range raw {
		block, err := cache.ensure(ctx, l.BlockNumber)
		if err != nil {
			return err
		}
		row := convertLog(chainID, l, block.Timestamp)
		rows = append(rows, row)
		if includeReceipts {
			txReceiptCandidates[l.TxHash] = struct{}{}
		}
	}
	if err := s.store.InsertLogs(ctx, rows); err != nil {
		return err
	}

	if includeReceipts {
		for hash := range txReceiptCandidates {
			if err := s.ensureReceipt(ctx, chainID, hash); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Syncer) ensureReceipt(ctx context.Context, chainID uint64, hash common.Hash) error {
	has, err := s.store.HasTransactionReceipt(ctx, chainID, hash)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	receipt, err := s.queue.GetTransactionReceipt(ctx, hash)
	if err != nil {
		return err
	}
	row := convertReceipt(chainID, receipt)
	return s.store.InsertTransactionReceipts(ctx, []models.TransactionReceipt{row})
}

func convertLog(chainID uint64, l types.Log, blockTimestamp uint64) models.Log {
	row := models.Log{
		ID:               models.LogID(chainID, l.BlockNumber, l.Index),
		ChainID:          chainID,
		BlockHash:        l.BlockHash,
		BlockNumber:       l.BlockNumber,
		TransactionHash:  l.TxHash,
		TransactionIndex: l.TxIndex,
		LogIndex:         l.Index,
		Address:          l.Address,
		Data:             l.Data,
	}
	if len(l.Topics) > 0 {
		t := l.Topics[0]
		row.Topic0 = &t
	}
	if len(l.Topics) > 1 {
		t := l.Topics[1]
		row.Topic1 = &t
	}
	if len(l.Topics) > 2 {
		t := l.Topics[2]
		row.Topic2 = &t
	}
	if len(l.Topics) > 3 {
		t := l.Topics[3]
		row.Topic3 = &t
	}
	row.Checkpoint = models.Encode(models.Checkpoint{
		BlockTimestamp: blockTimestamp, ChainID: chainID, BlockNumber: l.BlockNumber, TransactionIndex: uint64(l.TxIndex),
		EventType: models.EventTypeLog, EventIndex: uint64(l.Index),
	})
	return row
}

func convertReceipt(chainID uint64, r *types.Receipt) models.TransactionReceipt {
	return models.TransactionReceipt{
		TransactionHash: r.TxHash,
		ChainID:         chainID,
		BlockHash:       r.BlockHash,
		BlockNumber:     r.BlockNumber.Uint64(),
		Status:          r.Status,
		GasUsed:         r.GasUsed,
		CumulativeGas:   r.CumulativeGasUsed,
		ContractAddress: nonZeroAddr(r.ContractAddress),
		LogsBloom:       r.Bloom.Bytes(),
	}
}

func nonZeroAddr(a common.Address) *common.Address {
	if a == (common.Address{}) {
		return nil
	}
	return &a
}

func buildTopicQuery(topics [4]models.TopicSlot) [][]common.Hash {
	out := make([][]common.Hash, 0, 4)
	lastNonWildcard := -1
	for i, slot := range topics {
		if !slot.IsWildcard() {
			lastNonWildcard = i
		}
	}
	if lastNonWildcard < 0 {
		return nil
	}
	for i := 0; i <= lastNonWildcard; i++ {
		out = append(out, topics[i].Values)
	}
	return out
}

// addressFilterOrWildcard returns resolved as-is when it fits within
// AddressFilterLimit, else nil: above the cap the server-side eth_getLogs
// call omits the address argument entirely and the raw store still
// filters correctly on read (spec.md §4.4 scenario (f)).
func addressFilterOrWildcard(resolved []common.Address) []common.Address {
	if len(resolved) <= AddressFilterLimit {
		return resolved
	}
	return nil
}

func chunkAddresses(addrs []common.Address, size int) [][]common.Address {
	var out [][]common.Address
	for i := 0; i < len(addrs); i += size {
		end := i + size
		if end > len(addrs) {
			end = len(addrs)
		}
		out = append(out, addrs[i:end])
	}
	return out
}

func blockBig(n uint64) *big.Int { return new(big.Int).SetUint64(n) }
