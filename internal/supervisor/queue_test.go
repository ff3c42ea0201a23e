package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/chainindex/syncengine/internal/metadatastore"
	"github.com/chainindex/syncengine/internal/rawstore"
	"github.com/chainindex/syncengine/internal/realtimesync"
	"github.com/chainindex/syncengine/pkg/models"
)

type fakePipeline struct {
	processed   [][]models.Event
	checkpoints []string
}

func (f *fakePipeline) ProcessSetupEvents(sources []models.Source, networks []string) PipelineResult {
	return PipelineResult{Status: PipelineStatusSuccess}
}

func (f *fakePipeline) ProcessEvents(events []models.Event) PipelineResult {
	f.processed = append(f.processed, events)
	return PipelineResult{Status: PipelineStatusSuccess}
}

func (f *fakePipeline) UpdateTotalSeconds(checkpoint string) {
	f.checkpoints = append(f.checkpoints, checkpoint)
}

func (f *fakePipeline) UpdateIndexingStore(mode IndexingStoreMode) {}
func (f *fakePipeline) Kill()                                      {}

func newTestMetadata(t *testing.T) *metadatastore.Store {
	t.Helper()
	raw, err := rawstore.Open(context.Background(), rawstore.Config{Backend: rawstore.BackendSQLite, DSN: "file::memory:?cache=shared"}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	meta, err := metadatastore.Open(context.Background(), raw)
	require.NoError(t, err)
	return meta
}

func TestRealtimeQueueAppliesBlockEventsInOrder(t *testing.T) {
	pipeline := &fakePipeline{}
	meta := newTestMetadata(t)
	rq := newRealtimeQueue(pipeline, meta, 1, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { rq.run(ctx); close(done) }()

	block := models.Block{ChainID: 1, Number: 100, Timestamp: 1000}
	rq.enqueue(realtimesync.Event{
		Kind:       realtimesync.EventKindBlock,
		Events:     []models.Event{{Kind: models.EventKindBlock, Block: &models.BlockEvent{Block: block}}},
		Checkpoint: "cp-1",
	})
	rq.enqueue(realtimesync.Event{Kind: realtimesync.EventKindFinalize, Checkpoint: "cp-1"})

	require.Eventually(t, func() bool {
		status, err := meta.GetStatus(context.Background())
		require.NoError(t, err)
		return status[1].Ready
	}, time.Second, 10*time.Millisecond)

	require.Len(t, pipeline.processed, 1)
	require.Equal(t, uint64(100), pipeline.processed[0][0].Block.Block.Number)

	status, err := meta.GetStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(100), status[1].Block.Number)
	require.True(t, status[1].Ready)

	cancel()
	<-done
}

func TestRealtimeQueueReorgDoesNotCrash(t *testing.T) {
	pipeline := &fakePipeline{}
	meta := newTestMetadata(t)
	rq := newRealtimeQueue(pipeline, meta, 1, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { rq.run(ctx); close(done) }()

	rq.enqueue(realtimesync.Event{Kind: realtimesync.EventKindReorg, Checkpoint: "cp-revert"})

	require.Eventually(t, func() bool {
		return len(pipeline.checkpoints) > 0
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, "cp-revert", pipeline.checkpoints[0])

	cancel()
	<-done
}
