// Command indexer runs the sync engine: historical catch-up across every
// configured network, checkpoint-ordered dispatch to the indexing
// pipeline, then a handoff into realtime sync with reorg handling.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chainindex/syncengine/internal/metadatastore"
	"github.com/chainindex/syncengine/internal/metrics"
	"github.com/chainindex/syncengine/internal/nats"
	"github.com/chainindex/syncengine/internal/obs"
	"github.com/chainindex/syncengine/internal/rawstore"
	"github.com/chainindex/syncengine/internal/rpcqueue"
	"github.com/chainindex/syncengine/internal/supervisor"
	"github.com/chainindex/syncengine/internal/util"
	"github.com/chainindex/syncengine/pkg/config"
)

func main() {
	logger := obs.InitLogger()
	logger.Info().Msg("starting chainindex sync engine")

	cfg := util.InitConfig(logger, "config.toml")
	util.UpdateLogLevel(cfg, logger)

	manifestPath := cfg.String("config.manifest_path")
	manifest, err := config.LoadConfig(manifestPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", manifestPath).Msg("failed to load source manifest")
	}

	sources, err := manifest.BuildSources()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve configured sources")
	}
	logger.Info().
		Int("networks", len(manifest.Networks)).
		Int("sources", len(sources)).
		Msg("loaded source manifest")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := rawstore.Open(ctx, rawstore.Config{
		Backend: manifest.Database.Backend,
		DSN:     manifest.Database.DSN,
	}, *logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open raw store")
	}
	defer store.Close()

	meta, err := metadatastore.Open(ctx, store)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open metadata store")
	}

	var localCache *rpcqueue.LocalCache
	if manifest.Database.LocalCachePath != "" {
		localCache, err = rpcqueue.OpenLocalCache(manifest.Database.LocalCachePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open local rpc cache")
		}
	}

	publisher, err := nats.NewPublisher(
		cfg.String("nats.url"),
		cfg.Duration("nats.max_age"),
		cfg.String("nats.subject_prefix"),
		logger,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create nats publisher")
	}
	defer publisher.Close()

	networkByChain := make(map[uint64]string, len(manifest.Networks))
	for name, n := range manifest.Networks {
		networkByChain[n.ChainID] = name
	}
	pipeline := nats.NewPipeline(publisher, networkByChain, *logger)

	batchLimit := cfg.Int("indexer.batch_limit")
	sv := supervisor.New(supervisor.Config{
		Networks:   manifest.Networks,
		Sources:    sources,
		Store:      store,
		Metadata:   meta,
		Pipeline:   pipeline,
		LocalCache: localCache,
		BatchLimit: batchLimit,
		Logger:     *logger,
	})

	metricsServer := metrics.NewServer(cfg.String("metrics.address"), *logger)
	go metricsServer.Start()

	healthAddr := cfg.String("health.address")
	healthServer := &http.Server{
		Addr:    healthAddr,
		Handler: http.HandlerFunc(healthCheckHandler(publisher)),
	}
	go func() {
		logger.Info().Str("address", healthAddr).Msg("starting health check server")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("health check server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() { errChan <- sv.Run(ctx) }()

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errChan:
		if err != nil {
			logger.Error().Err(err).Msg("supervisor error")
		}
	}

	logger.Info().Msg("shutting down")
	sv.Kill()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := metricsServer.Shutdown(10 * time.Second); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown error")
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("health server shutdown error")
	}

	logger.Info().Msg("shutdown complete")
}

// healthCheckHandler reports whether the NATS publisher is connected.
// The supervisor's own liveness is observed via /metrics instead: it has
// no single "behind by N blocks" figure the way the teacher's
// single-chain syncer did, now that every network progresses
// independently.
func healthCheckHandler(pub *nats.Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !pub.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "unhealthy\n")
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "healthy\n")
	}
}
