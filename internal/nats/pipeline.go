package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/chainindex/syncengine/internal/supervisor"
	"github.com/chainindex/syncengine/pkg/models"
)

const publishTimeout = 10 * time.Second

// Pipeline adapts a Publisher into the supervisor's IndexingPipeline
// contract: the reference "downstream" this module ships (spec.md §6) is
// a NATS republisher rather than a full indexing-function runtime, which
// remains out of scope.
type Pipeline struct {
	pub            *Publisher
	networkByChain map[uint64]string
	logger         zerolog.Logger
}

// NewPipeline builds a Pipeline. networkByChain maps each configured
// chain ID to its network name, letting ProcessEvents route each event
// to the right NATS subject without threading network names through
// models.Event itself.
func NewPipeline(pub *Publisher, networkByChain map[uint64]string, logger zerolog.Logger) *Pipeline {
	return &Pipeline{pub: pub, networkByChain: networkByChain, logger: logger.With().Str("component", "nats-pipeline").Logger()}
}

func (p *Pipeline) ProcessSetupEvents(sources []models.Source, networks []string) supervisor.PipelineResult {
	p.logger.Info().Int("sources", len(sources)).Strs("networks", networks).Msg("setup")
	return supervisor.PipelineResult{Status: supervisor.PipelineStatusSuccess}
}

// ProcessEvents groups events by network (every event in a batch may not
// share a chain, since the checkpoint cursor merges across networks) and
// publishes one NATS batch per network group, keyed by that group's last
// event's checkpoint.
func (p *Pipeline) ProcessEvents(events []models.Event) supervisor.PipelineResult {
	if len(events) == 0 {
		return supervisor.PipelineResult{Status: supervisor.PipelineStatusSuccess}
	}

	grouped := make(map[string][]models.Event)
	for _, ev := range events {
		network := p.networkByChain[chainIDOf(ev)]
		grouped[network] = append(grouped[network], ev)
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	for network, group := range grouped {
		checkpoint := group[len(group)-1].Checkpoint
		if err := p.pub.PublishBatch(ctx, network, checkpoint, group); err != nil {
			return supervisor.PipelineResult{Status: supervisor.PipelineStatusError, Err: fmt.Errorf("nats pipeline: %w", err)}
		}
	}
	return supervisor.PipelineResult{Status: supervisor.PipelineStatusSuccess}
}

func (p *Pipeline) UpdateTotalSeconds(checkpoint string) {
	p.logger.Debug().Str("checkpoint", checkpoint).Msg("checkpoint advanced")
}

func (p *Pipeline) UpdateIndexingStore(mode supervisor.IndexingStoreMode) {
	p.logger.Info().Str("mode", string(mode)).Msg("indexing store mode switched")
}

// Kill closes the underlying NATS connection; safe to call alongside the
// caller's own deferred Publisher.Close, which no-ops on an already
// closed connection.
func (p *Pipeline) Kill() {
	p.pub.Close()
}

func chainIDOf(ev models.Event) uint64 {
	switch ev.Kind {
	case models.EventKindBlock:
		return ev.Block.Block.ChainID
	case models.EventKindLog:
		return ev.Log.Block.ChainID
	case models.EventKindCallTrace:
		return ev.Call.Block.ChainID
	default:
		return 0
	}
}
