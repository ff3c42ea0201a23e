// Command consumer is the worked illustrative downstream indexing
// pipeline: it subscribes to the NATS batches the sync engine publishes
// and writes each decoded event to Postgres, standing in for a real
// indexing-function runtime (out of scope — spec.md Non-goals).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	natspub "github.com/chainindex/syncengine/internal/nats"
	"github.com/chainindex/syncengine/internal/obs"
	"github.com/chainindex/syncengine/internal/util"
	"github.com/chainindex/syncengine/pkg/models"
)

var (
	eventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainindex_consumer_events_consumed_total",
		Help: "Total number of events consumed from NATS, by network and kind",
	}, []string{"network", "kind"})

	eventsStored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainindex_consumer_events_stored_total",
		Help: "Total number of events stored in the database, by network and kind",
	}, []string{"network", "kind"})

	consumeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainindex_consumer_consume_errors_total",
		Help: "Total number of consume errors, by error type",
	}, []string{"error_type"})

	batchLag = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chainindex_consumer_batch_lag_seconds",
		Help: "Time lag between a batch's newest block and its processing, by network",
	}, []string{"network"})
)

func main() {
	zlogger := obs.InitLogger()
	zlogger.Info().Msg("starting chainindex downstream consumer")

	cfg := util.InitConfig(zlogger, "config.toml")
	util.UpdateLogLevel(cfg, zlogger)

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.String("postgres.host"),
		cfg.Int("postgres.port"),
		cfg.String("postgres.user"),
		cfg.String("postgres.password"),
		cfg.String("postgres.database"),
		cfg.String("postgres.sslmode"),
	)

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		zlogger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	if err := pool.Ping(context.Background()); err != nil {
		zlogger.Fatal().Err(err).Msg("failed to ping database")
	}
	if err := migrate(context.Background(), pool); err != nil {
		zlogger.Fatal().Err(err).Msg("failed to migrate consumer schema")
	}
	zlogger.Info().
		Str("host", cfg.String("postgres.host")).
		Str("database", cfg.String("postgres.database")).
		Msg("connected to database")

	nc, err := nats.Connect(cfg.String("nats.url"))
	if err != nil {
		zlogger.Fatal().Err(err).Msg("failed to connect to nats")
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		zlogger.Fatal().Err(err).Msg("failed to create jetstream context")
	}

	streamName := cfg.String("nats.stream_name")
	consumerName := cfg.String("nats.consumer_name")
	subjectFilter := cfg.String("nats.subject_filter")

	consumer, err := js.CreateOrUpdateConsumer(context.Background(), streamName, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    3,
		AckWait:       30 * time.Second,
		FilterSubject: subjectFilter,
	})
	if err != nil {
		zlogger.Fatal().Err(err).Msg("failed to create consumer")
	}
	zlogger.Info().Str("stream", streamName).Str("consumer", consumerName).Msg("created consumer")

	metricsAddr := cfg.String("metrics.address")
	metricsServer := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}
	go func() {
		zlogger.Info().Str("address", metricsAddr).Msg("starting metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlogger.Error().Err(err).Msg("metrics server error")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	consCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := processMessage(ctx, pool, msg, *zlogger); err != nil {
			consumeErrors.WithLabelValues("process_message").Inc()
			zlogger.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to process message")
			msg.Nak()
			return
		}
		msg.Ack()
	})
	if err != nil {
		zlogger.Fatal().Err(err).Msg("failed to start consuming")
	}
	defer consCtx.Stop()

	zlogger.Info().Msg("consumer started, waiting for messages")

	sig := <-sigChan
	zlogger.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	zlogger.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		zlogger.Error().Err(err).Msg("metrics server shutdown error")
	}

	zlogger.Info().Msg("shutdown complete")
}

// migrate creates the generic decoded-event table this illustrative
// consumer writes to: one row per event, keyed by its globally unique
// checkpoint string so redelivery (MaxDeliver>1, crash-before-Ack) is
// idempotent without a separate dedup table.
func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS synced_events (
			checkpoint  TEXT PRIMARY KEY,
			network     TEXT NOT NULL,
			filter_index INT NOT NULL,
			kind        TEXT NOT NULL,
			block_number BIGINT NOT NULL,
			block_hash  TEXT NOT NULL,
			block_time  TIMESTAMPTZ NOT NULL,
			payload     JSONB NOT NULL
		)
	`)
	return err
}

// processMessage decodes one published batch and writes every event it
// carries, one row per event.
func processMessage(ctx context.Context, pool *pgxpool.Pool, msg jetstream.Msg, logger zerolog.Logger) error {
	var batch natspub.BatchMessage
	if err := json.Unmarshal(msg.Data(), &batch); err != nil {
		return fmt.Errorf("failed to unmarshal batch: %w", err)
	}

	if len(batch.Events) > 0 {
		newest := batch.Events[len(batch.Events)-1]
		batchLag.WithLabelValues(batch.Network).Set(time.Since(time.Unix(int64(blockOf(newest).Timestamp), 0)).Seconds())
	}

	for _, ev := range batch.Events {
		eventsConsumed.WithLabelValues(batch.Network, string(ev.Kind)).Inc()
		if err := storeEvent(ctx, pool, batch.Network, ev); err != nil {
			return fmt.Errorf("failed to store event: %w", err)
		}
		eventsStored.WithLabelValues(batch.Network, string(ev.Kind)).Inc()
	}

	logger.Debug().
		Str("network", batch.Network).
		Str("checkpoint", batch.Checkpoint).
		Int("events", len(batch.Events)).
		Msg("batch processed")
	return nil
}

func blockOf(ev models.Event) models.Block {
	switch ev.Kind {
	case models.EventKindBlock:
		return ev.Block.Block
	case models.EventKindLog:
		return ev.Log.Block
	case models.EventKindCallTrace:
		return ev.Call.Block
	default:
		return models.Block{}
	}
}

func storeEvent(ctx context.Context, pool *pgxpool.Pool, network string, ev models.Event) error {
	block := blockOf(ev)
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = pool.Exec(ctx, `
		INSERT INTO synced_events (
			checkpoint, network, filter_index, kind,
			block_number, block_hash, block_time, payload
		) VALUES ($1, $2, $3, $4, $5, $6, to_timestamp($7), $8)
		ON CONFLICT (checkpoint) DO NOTHING
	`,
		ev.Checkpoint,
		network,
		ev.FilterIndex,
		string(ev.Kind),
		block.Number,
		block.Hash.Hex(),
		block.Timestamp,
		payload,
	)
	return err
}
