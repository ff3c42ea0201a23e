// Package realtimesync extends a chain's synced range one poll at a time,
// detecting reorgs against an in-memory chain of recent headers and
// emitting block/reorg/finalize notifications for the sync supervisor's
// serialized realtime queue (spec.md §4.5).
package realtimesync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/chainindex/syncengine/internal/historicalsync"
	"github.com/chainindex/syncengine/internal/interval"
	"github.com/chainindex/syncengine/internal/rawstore"
	"github.com/chainindex/syncengine/internal/rpcqueue"
	"github.com/chainindex/syncengine/pkg/models"
)

var reorgsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chainindex_realtimesync_reorgs_total",
	Help: "Reorgs detected by realtime sync, by network",
}, []string{"network"})

var headBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "chainindex_realtimesync_head_block",
	Help: "Current chain head observed by realtime sync, by network",
}, []string{"network"})

// Config configures a realtime Syncer.
type Config struct {
	Network         string
	ChainID         uint64
	PollingInterval time.Duration
	FinalityDepth   uint64
}

const (
	defaultPollingInterval = time.Second
	defaultFinalityDepth   = 64
)

// Syncer polls one network's head, extends the raw store over newly seen
// blocks via a historicalsync.Syncer, and detects reorgs.
type Syncer struct {
	cfg        Config
	store      *rawstore.Store
	queue      *rpcqueue.Queue
	historical *historicalsync.Syncer
	sources    []models.Source
	onEvent    func(Event)
	logger     zerolog.Logger

	mu        sync.Mutex
	chain     unfinalizedChain
	cursor    models.Checkpoint
	finalized uint64

	state atomic.Value
	kill  atomic.Bool
}

// New creates a realtime syncer. sources must all share cfg.ChainID.
func New(cfg Config, store *rawstore.Store, queue *rpcqueue.Queue, historical *historicalsync.Syncer, sources []models.Source, onEvent func(Event), logger zerolog.Logger) *Syncer {
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = defaultPollingInterval
	}
	if cfg.FinalityDepth == 0 {
		cfg.FinalityDepth = defaultFinalityDepth
	}
	s := &Syncer{
		cfg:        cfg,
		store:      store,
		queue:      queue,
		historical: historical,
		sources:    sources,
		onEvent:    onEvent,
		logger:     logger.With().Str("component", "realtimesync").Str("network", cfg.Network).Logger(),
	}
	s.state.Store(StateInitializing)
	return s
}

// State returns the syncer's current lifecycle state.
func (s *Syncer) State() State { return s.state.Load().(State) }

func (s *Syncer) setState(st State) {
	s.state.Store(st)
	s.logger.Info().Str("state", string(st)).Msg("realtime sync state transition")
}

// MarkHistoricalCatchup records that historical backfill is draining; the
// supervisor calls this once it starts draining getEvents (spec.md §4.6).
func (s *Syncer) MarkHistoricalCatchup() { s.setState(StateHistoricalCatchup) }

// Kill requests the poll loop stop at its next check point. It does not
// block; callers await StartRealtime's return.
func (s *Syncer) Kill() { s.kill.Store(true) }

// seed anchors the in-memory chain at base, the chain head historical
// catch-up last synced through, treating it as already finalized. base
// comes from the caller's own catch-up call rather than
// historical.LatestBlock(), which only reflects blocks that some matched
// event caused historical sync to fetch and stays 0 when none was fetched.
func (s *Syncer) seed(ctx context.Context, base uint64) error {
	header, err := s.queue.GetHeaderByNumber(ctx, base)
	if err != nil {
		return fmt.Errorf("realtimesync: seed header %d: %w", base, err)
	}
	s.chain = unfinalizedChain{}
	s.chain.append(node{Number: base, Hash: header.Hash(), ParentHash: header.ParentHash, Timestamp: header.Time})
	s.finalized = base
	return nil
}

// StartRealtime begins polling from cursor (the checkpoint the historical
// catch-up left off at) and blocks until ctx is cancelled, Kill is called,
// or a fatal error occurs. seedBlock is the chain head historical
// catch-up last synced through, used to anchor the in-memory chain on
// first start.
func (s *Syncer) StartRealtime(ctx context.Context, cursor models.Checkpoint, seedBlock uint64) error {
	s.mu.Lock()
	s.cursor = cursor
	needsSeed := len(s.chain.nodes) == 0
	s.mu.Unlock()

	if needsSeed {
		if err := s.seed(ctx, seedBlock); err != nil {
			return err
		}
	}
	s.setState(StateRealtime)

	newHead := s.watchNewHead(ctx)
	ticker := time.NewTicker(s.cfg.PollingInterval)
	defer ticker.Stop()
	for {
		if s.kill.Load() {
			s.setState(StateKilled)
			return nil
		}
		select {
		case <-ctx.Done():
			s.setState(StateKilled)
			return nil
		case <-ticker.C:
			if err := s.poll(ctx); err != nil {
				return err
			}
		case <-newHead:
			if err := s.poll(ctx); err != nil {
				return err
			}
			ticker.Reset(s.cfg.PollingInterval)
		}
	}
}

// watchNewHead opens a push subscription over the chain's WebSocket
// endpoint, if one was configured, and returns a channel that receives a
// signal on every new head so StartRealtime can poll immediately instead
// of waiting out the polling interval. Returns nil if no WebSocket
// endpoint is configured or the subscription fails to open, in which case
// the caller falls back to polling alone.
func (s *Syncer) watchNewHead(ctx context.Context) <-chan struct{} {
	headers, sub, err := s.queue.SubscribeNewHead(ctx)
	if err != nil {
		s.logger.Debug().Err(err).Msg("no head subscription available, polling only")
		return nil
	}

	notify := make(chan struct{}, 1)
	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sub.Err():
				s.logger.Warn().Err(err).Msg("head subscription dropped, continuing with polling only")
				return
			case <-headers:
				select {
				case notify <- struct{}{}:
				default:
				}
			}
		}
	}()
	return notify
}

func (s *Syncer) poll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	head, err := s.queue.GetLatestHeader(ctx)
	if err != nil {
		return fmt.Errorf("realtimesync: fetch latest header: %w", err)
	}
	headNumber := head.Number.Uint64()
	headBlock.WithLabelValues(s.cfg.Network).Set(float64(headNumber))

	if headNumber > s.cfg.FinalityDepth {
		if err := s.finalizeUpTo(ctx, headNumber-s.cfg.FinalityDepth); err != nil {
			return err
		}
	}

	if err := s.verifyNonFinalized(ctx); err != nil {
		return err
	}

	tip := s.chain.tip()
	if tip == nil {
		return fmt.Errorf("realtimesync: chain not seeded")
	}
	if headNumber <= tip.Number {
		return nil
	}

	headers, err := s.fetchHeaders(ctx, tip.Number+1, headNumber)
	if err != nil {
		return err
	}
	if len(headers) == 0 {
		return nil
	}
	if headers[0].ParentHash != tip.Hash {
		if err := s.handleReorg(ctx, tip.Number); err != nil {
			return err
		}
		return nil // re-examined on the next poll with a clean tip
	}
	for i := 1; i < len(headers); i++ {
		if headers[i].ParentHash != headers[i-1].Hash() {
			return fmt.Errorf("realtimesync: discontinuous headers between blocks %d and %d",
				headers[i-1].Number.Uint64(), headers[i].Number.Uint64())
		}
	}

	for _, h := range headers {
		s.chain.append(node{Number: h.Number.Uint64(), Hash: h.Hash(), ParentHash: h.ParentHash, Timestamp: h.Time})
	}

	if err := s.historical.Sync(ctx, s.sources, interval.Range{Start: tip.Number + 1, End: headNumber}); err != nil {
		return fmt.Errorf("realtimesync: extend range [%d,%d]: %w", tip.Number+1, headNumber, err)
	}
	return s.emitNewEvents(ctx, headNumber)
}

// verifyNonFinalized re-fetches the header for every retained non-finalized
// node and compares hashes, catching a reorg that replaced a block without
// (yet) moving the head past it (spec.md §4.5; grounded on the teacher's
// reorg detector's re-verification pass).
func (s *Syncer) verifyNonFinalized(ctx context.Context) error {
	for _, n := range s.chain.nonFinalized() {
		header, err := s.queue.GetHeaderByNumber(ctx, n.Number)
		if err != nil {
			return fmt.Errorf("realtimesync: verify block %d: %w", n.Number, err)
		}
		if header.Hash() != n.Hash {
			s.logger.Warn().Uint64("block", n.Number).Str("cached_hash", n.Hash.Hex()).Str("current_hash", header.Hash().Hex()).
				Msg("reorg detected")
			return s.handleReorg(ctx, n.Number-1)
		}
	}
	return nil
}

// handleReorg rolls the raw store back to ancestorNumber and trims the
// in-memory chain to match. ancestorNumber must still be retained in the
// chain (not yet finalized and trimmed away); if it predates the finalized
// watermark, the reorg exceeds the configured finality depth and is fatal.
func (s *Syncer) handleReorg(ctx context.Context, ancestorNumber uint64) error {
	if ancestorNumber < s.finalized {
		return &models.FatalSyncError{Err: &models.ErrReorgBeyondFinality{
			ChainID:       s.cfg.ChainID,
			ReorgDepth:    s.finalized - ancestorNumber,
			FinalityDepth: s.cfg.FinalityDepth,
		}}
	}
	ancestor, ok := s.chain.find(ancestorNumber)
	if !ok {
		return &models.FatalSyncError{Err: &models.ErrReorgBeyondFinality{
			ChainID:       s.cfg.ChainID,
			ReorgDepth:    s.cfg.FinalityDepth + 1,
			FinalityDepth: s.cfg.FinalityDepth,
		}}
	}

	if err := s.store.PruneByChain(ctx, s.cfg.ChainID, ancestorNumber+1); err != nil {
		return fmt.Errorf("realtimesync: prune reorged range: %w", err)
	}
	s.chain.truncateAfter(ancestorNumber)

	revertCheckpoint := blockUpperBound(s.cfg.ChainID, ancestor)
	s.cursor = revertCheckpoint
	reorgsTotal.WithLabelValues(s.cfg.Network).Inc()
	s.onEvent(Event{Kind: EventKindReorg, Checkpoint: models.Encode(revertCheckpoint)})
	return nil
}

// finalizeUpTo emits a finalize event for every retained block that has
// just crossed the finality depth, then trims them from the in-memory
// chain — they can no longer be reorged away.
func (s *Syncer) finalizeUpTo(ctx context.Context, finalizedNumber uint64) error {
	if finalizedNumber <= s.finalized {
		return nil
	}
	for n := s.finalized + 1; n <= finalizedNumber; n++ {
		anc, ok := s.chain.find(n)
		if !ok {
			continue
		}
		cp := blockUpperBound(s.cfg.ChainID, anc)
		s.onEvent(Event{Kind: EventKindFinalize, Checkpoint: models.Encode(cp)})
	}
	s.finalized = finalizedNumber
	s.chain.trimBefore(finalizedNumber)
	return nil
}

// emitNewEvents delivers every event newly visible in the raw store since
// s.cursor, up through the end of headNumber, advancing the cursor.
func (s *Syncer) emitNewEvents(ctx context.Context, headNumber uint64) error {
	to := models.Checkpoint{
		BlockTimestamp:   models.MaxCheckpoint.BlockTimestamp,
		ChainID:          s.cfg.ChainID,
		BlockNumber:      headNumber,
		TransactionIndex: models.MaxCheckpoint.TransactionIndex,
		EventType:        models.EventTypeCallTrace,
		EventIndex:       models.MaxCheckpoint.EventIndex,
	}
	events, err := s.store.GetEvents(ctx, s.sources, s.cursor, to, 0)
	if err != nil {
		return fmt.Errorf("realtimesync: get new events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}
	last := events[len(events)-1].Checkpoint
	decoded, err := models.Decode(last)
	if err != nil {
		return err
	}
	s.cursor = decoded
	s.onEvent(Event{Kind: EventKindBlock, Events: events, Checkpoint: last})
	return nil
}

func (s *Syncer) fetchHeaders(ctx context.Context, from, to uint64) ([]*types.Header, error) {
	out := make([]*types.Header, 0, to-from+1)
	for n := from; n <= to; n++ {
		h, err := s.queue.GetHeaderByNumber(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("realtimesync: fetch header %d: %w", n, err)
		}
		out = append(out, h)
	}
	return out, nil
}

// blockUpperBound is the maximal checkpoint that still lies within node's
// block, usable as a revert boundary or a finality watermark.
func blockUpperBound(chainID uint64, n node) models.Checkpoint {
	return models.Checkpoint{
		BlockTimestamp:   n.Timestamp,
		ChainID:          chainID,
		BlockNumber:      n.Number,
		TransactionIndex: models.MaxCheckpoint.TransactionIndex,
		EventType:        models.EventTypeCallTrace,
		EventIndex:       models.MaxCheckpoint.EventIndex,
	}
}
