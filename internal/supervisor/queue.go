package supervisor

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/chainindex/syncengine/internal/metadatastore"
	"github.com/chainindex/syncengine/internal/realtimesync"
	"github.com/chainindex/syncengine/pkg/models"
)

const realtimeQueueDepth = 64

// realtimeQueue serializes one network's realtime events onto a single
// worker so block/reorg/finalize notifications are applied to the
// pipeline strictly in emission order, even though multiple networks
// progress concurrently (spec.md §4.7's concurrency-1 realtime dispatch).
type realtimeQueue struct {
	pipeline IndexingPipeline
	metadata *metadatastore.Store
	chainID  uint64
	logger   zerolog.Logger

	events chan realtimesync.Event
}

func newRealtimeQueue(pipeline IndexingPipeline, metadata *metadatastore.Store, chainID uint64, logger zerolog.Logger) *realtimeQueue {
	return &realtimeQueue{
		pipeline: pipeline,
		metadata: metadata,
		chainID:  chainID,
		logger:   logger,
		events:   make(chan realtimesync.Event, realtimeQueueDepth),
	}
}

// enqueue is passed to realtimesync.New as its onEvent callback.
func (q *realtimeQueue) enqueue(ev realtimesync.Event) {
	q.events <- ev
}

func (q *realtimeQueue) close() {
	defer func() { recover() }()
	close(q.events)
}

// run drains events one at a time until the channel is closed or ctx is
// cancelled, applying each to the pipeline and the metadata store.
func (q *realtimeQueue) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-q.events:
			if !ok {
				return
			}
			q.apply(ctx, ev)
		}
	}
}

func (q *realtimeQueue) apply(ctx context.Context, ev realtimesync.Event) {
	switch ev.Kind {
	case realtimesync.EventKindBlock:
		if len(ev.Events) == 0 {
			break
		}
		if res := q.pipeline.ProcessEvents(ev.Events); res.Status == PipelineStatusError {
			q.logger.Error().Err(res.Err).Str("checkpoint", ev.Checkpoint).Msg("pipeline rejected realtime batch")
		}
		if err := q.updateStatus(ctx, ev.Events, true); err != nil {
			q.logger.Error().Err(err).Msg("failed to record realtime status")
		}
	case realtimesync.EventKindFinalize:
		current, err := q.metadata.GetStatus(ctx)
		if err != nil {
			q.logger.Error().Err(err).Msg("failed to read status before finalize")
			break
		}
		if err := q.metadata.SetChainStatus(ctx, q.chainID, models.ChainStatus{Block: current[q.chainID].Block, Ready: true}); err != nil {
			q.logger.Error().Err(err).Msg("failed to record finalize status")
		}
	case realtimesync.EventKindReorg:
		// The raw store's retained rows above the reorg point were
		// already pruned by realtimesync.handleReorg; the pipeline's
		// own indexing store reverts via its realtime-mode contract,
		// keyed by the same checkpoint.
		q.logger.Warn().Str("checkpoint", ev.Checkpoint).Msg("reorg detected")
	}
	q.pipeline.UpdateTotalSeconds(ev.Checkpoint)
}

func (q *realtimeQueue) updateStatus(ctx context.Context, events []models.Event, ready bool) error {
	var marker models.BlockMarker
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
		if block.Number > marker.Number {
			marker = models.BlockMarker{Number: block.Number, Timestamp: block.Timestamp}
		}
	}
	if marker.Number == 0 {
		return nil
	}
	return q.metadata.SetChainStatus(ctx, q.chainID, models.ChainStatus{Block: marker, Ready: ready})
}
