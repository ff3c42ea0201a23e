package historicalsync

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/chainindex/syncengine/internal/filter"
	"github.com/chainindex/syncengine/internal/interval"
	"github.com/chainindex/syncengine/internal/rawstore"
	"github.com/chainindex/syncengine/internal/rpcqueue"
	"github.com/chainindex/syncengine/pkg/models"
)

// AddressFilterLimit caps how many resolved factory-child addresses are
// still worth pushing into the server-side eth_getLogs/trace_filter
// address filter; past this, the store's own address predicate on read
// is cheaper than an enormous request payload, so the address clause is
// dropped and every address matching the topics is fetched instead
// (spec.md §4.4).
const AddressFilterLimit = 1000

// AddressBatchSize bounds how many addresses are requested per
// eth_getLogs call when the resolved set is below AddressFilterLimit but
// still large. trace_filter calls are not batched by address.
const AddressBatchSize = 50

// CallTraceChunkSize is the block-range chunk used for trace_filter
// calls, which most providers refuse to serve over large ranges.
const CallTraceChunkSize = 10

var completedBlocks = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chainindex_historicalsync_completed_blocks_total",
	Help: "Blocks marked synced by historical sync, by network and source",
}, []string{"network", "source"})

// Syncer performs historical backfill for one network.
type Syncer struct {
	network string
	store   *rawstore.Store
	queue   *rpcqueue.Queue
	logger  zerolog.Logger

	latestBlock atomic.Uint64
}

// New creates a historical syncer for one network.
func New(network string, store *rawstore.Store, queue *rpcqueue.Queue, logger zerolog.Logger) *Syncer {
	return &Syncer{
		network: network,
		store:   store,
		queue:   queue,
		logger:  logger.With().Str("component", "historicalsync").Str("network", network).Logger(),
	}
}

// LatestBlock returns the highest block number observed by any Sync call
// so far, used to feed metrics and the realtime handoff.
func (s *Syncer) LatestBlock() uint64 { return s.latestBlock.Load() }

func (s *Syncer) observeBlock(number uint64) {
	for {
		cur := s.latestBlock.Load()
		if number <= cur {
			return
		}
		if s.latestBlock.CompareAndSwap(cur, number) {
			return
		}
	}
}

// Sync backfills every source over target, skipping any sub-range
// already covered by the source filter's interval index, and records
// newly-covered ranges on success.
func (s *Syncer) Sync(ctx context.Context, sources []models.Source, target interval.Range) error {
	caches := make(map[uint64]*blockCache)
	for _, src := range sources {
		chainID := src.Filter.GetChainID()
		cache, ok := caches[chainID]
		if !ok {
			cache = newBlockCache(chainID, s.queue, s.store, s.observeBlock)
			caches[chainID] = cache
		}
		if err := s.syncSource(ctx, src, target, cache); err != nil {
			return fmt.Errorf("historicalsync: sync source %q: %w", src.Name, err)
		}
	}
	return nil
}

func (s *Syncer) syncSource(ctx context.Context, src models.Source, target interval.Range, cache *blockCache) error {
	frags, err := filter.Canonicalize(src.Filter)
	if err != nil {
		return err
	}
	fragIDs := make([]string, len(frags))
	for i, f := range frags {
		if err := s.store.RegisterFragment(ctx, f); err != nil {
			return err
		}
		fragIDs[i] = f.ID
	}

	clipped := clipToFilter(src.Filter, target)
	if clipped == nil {
		return nil
	}

	synced, err := s.store.GetIntervals(ctx, fragIDs)
	if err != nil {
		return err
	}
	required := interval.Difference(interval.Set{*clipped}, synced)
	if len(required) == 0 {
		return nil
	}

	for _, r := range required {
		if err := s.syncRange(ctx, src, r, cache); err != nil {
			return err
		}
	}

	for _, id := range fragIDs {
		if err := s.store.InsertInterval(ctx, id, *clipped); err != nil {
			return err
		}
	}
	completedBlocks.WithLabelValues(s.network, src.Name).Add(float64(interval.Sum(required)))
	return nil
}

func (s *Syncer) syncRange(ctx context.Context, src models.Source, r interval.Range, cache *blockCache) error {
	switch f := src.Filter.(type) {
	case *models.LogFilter:
		return s.syncLogRange(ctx, src, f, r, cache)
	case *models.BlockFilter:
		return s.syncBlockRange(ctx, src, f, r, cache)
	case *models.CallTraceFilter:
		return s.syncCallTraceRange(ctx, src, f, r, cache)
	default:
		return fmt.Errorf("unknown filter kind %T", f)
	}
}

// clipToFilter intersects target with [filter.fromBlock, filter.toBlock
// ?? +inf], returning nil if the result is empty.
func clipToFilter(f models.Filter, target interval.Range) *interval.Range {
	start := f.GetFromBlock()
	if start < target.Start {
		start = target.Start
	}
	end := target.End
	if to := f.GetToBlock(); to != nil && *to < end {
		end = *to
	}
	if start > end {
		return nil
	}
	return &interval.Range{Start: start, End: end}
}

const maxUint64 = math.MaxUint64
