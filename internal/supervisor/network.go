package supervisor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/chainindex/syncengine/internal/chain"
	"github.com/chainindex/syncengine/internal/historicalsync"
	"github.com/chainindex/syncengine/internal/interval"
	"github.com/chainindex/syncengine/internal/rawstore"
	"github.com/chainindex/syncengine/internal/realtimesync"
	"github.com/chainindex/syncengine/internal/rpcqueue"
	"github.com/chainindex/syncengine/pkg/config"
	"github.com/chainindex/syncengine/pkg/models"
)

// networkRuntime bundles one configured network's RPC queue and both
// sync engines, scoped to the sources that target it.
type networkRuntime struct {
	name     string
	cfg      config.NetworkConfig
	sources  []models.Source
	store    *rawstore.Store
	queue    *rpcqueue.Queue
	historic *historicalsync.Syncer
	realtime *realtimesync.Syncer
	logger   zerolog.Logger

	catchUpHead uint64 // chain head observed by catchUp, seeds realtime sync
}

func newNetworkRuntime(ctx context.Context, name string, cfg config.NetworkConfig, sources []models.Source, store *rawstore.Store, local *rpcqueue.LocalCache, logger zerolog.Logger) (*networkRuntime, error) {
	var httpURL, wsURL string
	if len(cfg.RPCUrls) > 0 {
		httpURL = cfg.RPCUrls[0]
	}
	if len(cfg.WSUrls) > 0 {
		wsURL = cfg.WSUrls[0]
	}
	client, err := chain.New(httpURL, wsURL, int64(cfg.ChainID), logger)
	if err != nil {
		return nil, fmt.Errorf("supervisor: dial network %q: %w", name, err)
	}

	queue := rpcqueue.New(client, store, rpcqueue.Config{
		Network:                  name,
		MaxRpcRequestConcurrency: cfg.MaxRpcRequestConcurrency,
	}, logger)
	if local != nil {
		queue = queue.WithLocalCache(local)
	}

	historic := historicalsync.New(name, store, queue, logger)

	return &networkRuntime{name: name, cfg: cfg, sources: sources, store: store, queue: queue, historic: historic, logger: logger}, nil
}

// catchUp runs this network's historical sync from its stores' current
// coverage up through the chain's present head, recording that head so
// realtime sync can seed from it directly rather than inferring it from
// whatever blocks historical sync happened to touch (a log- or
// call-trace-only network may touch none).
func (n *networkRuntime) catchUp(ctx context.Context) (uint64, error) {
	header, err := n.queue.GetLatestHeader(ctx)
	if err != nil {
		return 0, fmt.Errorf("supervisor: network %q: latest header: %w", n.name, err)
	}
	head := header.Number.Uint64()
	if err := n.historic.Sync(ctx, n.sources, interval.Range{Start: 0, End: head}); err != nil {
		return 0, fmt.Errorf("supervisor: network %q: historical sync: %w", n.name, err)
	}
	n.catchUpHead = head
	return head, nil
}

// startRealtime wires and runs this network's realtime syncer, blocking
// until it stops. onEvent is called for every emitted realtime.Event.
func (n *networkRuntime) startRealtime(ctx context.Context, cursor models.Checkpoint, onEvent func(realtimesync.Event)) error {
	n.realtime = realtimesync.New(realtimesync.Config{
		Network:         n.name,
		ChainID:         n.cfg.ChainID,
		PollingInterval: n.cfg.PollInterval.Duration(),
		FinalityDepth:   n.cfg.FinalityDepth,
	}, n.store, n.queue, n.historic, n.sources, onEvent, n.logger)
	n.realtime.MarkHistoricalCatchup()
	return n.realtime.StartRealtime(ctx, cursor, n.catchUpHead)
}

func (n *networkRuntime) kill() {
	if n.realtime != nil {
		n.realtime.Kill()
	}
}
