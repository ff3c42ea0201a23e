// Package supervisor owns the sync engine's top-level lifecycle (spec.md
// §4.7): open storage, run historical catch-up across every configured
// network, drain the merged checkpoint cursor into the indexing
// pipeline, then hand each network to realtime sync.
package supervisor

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/chainindex/syncengine/internal/checkpointcursor"
	"github.com/chainindex/syncengine/internal/metadatastore"
	"github.com/chainindex/syncengine/internal/rawstore"
	"github.com/chainindex/syncengine/internal/rpcqueue"
	"github.com/chainindex/syncengine/pkg/config"
	"github.com/chainindex/syncengine/pkg/models"
)

const defaultBatchLimit = 1000

// Config is everything the supervisor needs to run one engine instance.
type Config struct {
	Networks   map[string]config.NetworkConfig
	Sources    []models.Source
	Store      *rawstore.Store
	Metadata   *metadatastore.Store
	Pipeline   IndexingPipeline
	LocalCache *rpcqueue.LocalCache // optional
	BatchLimit int                  // historical catch-up page size, default 1000
	Logger     zerolog.Logger
}

// Supervisor drives one engine instance's full lifecycle: historical
// catch-up, pipeline dispatch, and the handoff into realtime sync.
type Supervisor struct {
	cfg      Config
	networks map[string]*networkRuntime
	cursor   *checkpointcursor.Cursor

	realtimeQueues map[string]*realtimeQueue

	mu       sync.Mutex
	isKilled bool
	cancel   context.CancelFunc
}

// New constructs a Supervisor. It does not start any work; call Run.
func New(cfg Config) *Supervisor {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = defaultBatchLimit
	}
	return &Supervisor{cfg: cfg, networks: make(map[string]*networkRuntime), realtimeQueues: make(map[string]*realtimeQueue)}
}

// Run executes the full lifecycle: construct per-network runtimes, catch
// up historically in parallel, drain the merged event stream into the
// pipeline, then start every network's realtime sync. It blocks until
// ctx is cancelled or Kill is called.
func (sv *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	sv.mu.Lock()
	sv.cancel = cancel
	sv.mu.Unlock()
	defer cancel()

	sourcesByNetwork := make(map[string][]models.Source)
	for _, src := range sv.cfg.Sources {
		sourcesByNetwork[src.Network] = append(sourcesByNetwork[src.Network], src)
	}

	networkNames := make([]string, 0, len(sv.cfg.Networks))
	for name := range sv.cfg.Networks {
		networkNames = append(networkNames, name)
	}

	if res := sv.cfg.Pipeline.ProcessSetupEvents(sv.cfg.Sources, networkNames); res.Status != PipelineStatusSuccess {
		return fmt.Errorf("supervisor: setup rejected by pipeline: %v", res.Err)
	}

	for name, netCfg := range sv.cfg.Networks {
		rt, err := newNetworkRuntime(ctx, name, netCfg, sourcesByNetwork[name], sv.cfg.Store, sv.cfg.LocalCache, sv.cfg.Logger)
		if err != nil {
			return err
		}
		sv.networks[name] = rt
	}

	sv.cfg.Pipeline.UpdateIndexingStore(IndexingStoreHistorical)
	if err := sv.catchUpAll(ctx); err != nil {
		return err
	}
	if err := sv.drainHistorical(ctx); err != nil {
		return err
	}

	sv.cfg.Pipeline.UpdateIndexingStore(IndexingStoreRealtime)
	return sv.runRealtime(ctx)
}

// catchUpAll runs every network's historical backfill to its current head
// in parallel; no pipeline dispatch happens until every network is done
// so the merged checkpoint cursor sees a consistent, fully-synced range.
func (sv *Supervisor) catchUpAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, rt := range sv.networks {
		rt := rt
		g.Go(func() error {
			head, err := rt.catchUp(ctx)
			if err != nil {
				return err
			}
			sv.cfg.Logger.Info().Str("network", rt.name).Uint64("head", head).Msg("historical catch-up complete")
			return nil
		})
	}
	return g.Wait()
}

// drainHistorical pages the merged checkpoint cursor across every
// configured source until exhausted, dispatching each batch to the
// pipeline and recording per-chain progress in the metadata store
// (spec.md §4.6, §4.8).
func (sv *Supervisor) drainHistorical(ctx context.Context) error {
	sv.cursor = checkpointcursor.New(sv.cfg.Store, sv.cfg.Sources, models.Zero, models.MaxCheckpoint, sv.cfg.BatchLimit)

	for !sv.cursor.Done() {
		if sv.isShuttingDown() {
			return nil
		}
		batch, err := sv.cursor.Next(ctx)
		if err != nil {
			return fmt.Errorf("supervisor: drain historical: %w", err)
		}
		if len(batch.Events) == 0 {
			continue
		}
		if res := sv.cfg.Pipeline.ProcessEvents(batch.Events); res.Status == PipelineStatusError {
			sv.cfg.Logger.Error().Err(res.Err).Msg("pipeline rejected historical batch")
			return fmt.Errorf("supervisor: pipeline error on historical batch: %w", res.Err)
		}
		sv.cfg.Pipeline.UpdateTotalSeconds(batch.Checkpoint)
		if err := sv.recordProgress(ctx, batch.Events); err != nil {
			return err
		}
	}
	return nil
}

// recordProgress updates each touched chain's metadata status to the
// last block seen in events.
func (sv *Supervisor) recordProgress(ctx context.Context, events []models.Event) error {
	latest := make(map[uint64]models.BlockMarker)
	for _, ev := range events {
		var block models.Block
		switch ev.Kind {
		case models.EventKindBlock:
			block = ev.Block.Block
		case models.EventKindLog:
			block = ev.Log.Block
		case models.EventKindCallTrace:
			block = ev.Call.Block
		default:
			continue
		}
		if prev, ok := latest[block.ChainID]; !ok || block.Number > prev.Number {
			latest[block.ChainID] = models.BlockMarker{Number: block.Number, Timestamp: block.Timestamp}
		}
	}
	for chainID, marker := range latest {
		if err := sv.cfg.Metadata.SetChainStatus(ctx, chainID, models.ChainStatus{Block: marker, Ready: false}); err != nil {
			return fmt.Errorf("supervisor: record progress: %w", err)
		}
	}
	return nil
}

// runRealtime hands every network to its realtime syncer, each dispatched
// through its own single-worker queue so per-chain event order is
// preserved while networks progress independently.
func (sv *Supervisor) runRealtime(ctx context.Context) error {
	cursor := sv.cursor.Checkpoint()

	g, ctx := errgroup.WithContext(ctx)
	for name, rt := range sv.networks {
		name, rt := name, rt
		rq := newRealtimeQueue(sv.cfg.Pipeline, sv.cfg.Metadata, rt.cfg.ChainID, sv.cfg.Logger)
		sv.realtimeQueues[name] = rq
		g.Go(func() error {
			rq.run(ctx)
			return nil
		})
		g.Go(func() error {
			defer rq.close()
			if err := rt.startRealtime(ctx, cursor, rq.enqueue); err != nil {
				return fmt.Errorf("supervisor: network %q realtime sync: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (sv *Supervisor) isShuttingDown() bool {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.isKilled
}

// Kill requests every network's realtime syncer stop and the historical
// drain loop exit at its next check point, then releases resources
// (spec.md §4.7's shutdown sequence). It does not block; callers should
// await Run's return.
func (sv *Supervisor) Kill() {
	sv.mu.Lock()
	sv.isKilled = true
	cancel := sv.cancel
	sv.mu.Unlock()

	sv.cfg.Pipeline.Kill()
	for _, rt := range sv.networks {
		rt.kill()
	}
	for _, rq := range sv.realtimeQueues {
		rq.close()
	}
	if cancel != nil {
		cancel()
	}
}
