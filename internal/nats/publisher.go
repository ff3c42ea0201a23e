// Package nats provides NATS JetStream publishing functionality. Adapted
// from the teacher's per-log publisher to publish one message per
// delivered checkpoint-cursor batch instead of one message per raw chain
// log, matching the supervisor's getEvents-driven pipeline (spec.md §4
// domain-stack note).
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/chainindex/syncengine/pkg/models"
)

const (
	streamName           = "CHAININDEX"
	streamSubjectPattern = "CHAININDEX.*"
	streamCreateTimeout  = 10 * time.Second
)

// BatchMessage is the JSON payload published per delivered batch.
type BatchMessage struct {
	Network    string         `json:"network"`
	Checkpoint string         `json:"checkpoint"`
	Events     []models.Event `json:"events"`
}

// Publisher publishes event batches to NATS JetStream with deduplication.
type Publisher struct {
	js     jetstream.JetStream
	nc     *nats.Conn
	logger *zerolog.Logger
	prefix string
}

// NewPublisher creates a new NATS JetStream publisher.
func NewPublisher(natsURL string, persistDuration time.Duration, subjectPrefix string, logger *zerolog.Logger) (*Publisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("chainindex-syncengine"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), streamCreateTimeout)
	defer cancel()

	duplicateWindow := 20 * time.Minute
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   []string{streamSubjectPattern},
		MaxAge:     persistDuration,
		Storage:    jetstream.FileStorage,
		Duplicates: duplicateWindow,
		Retention:  jetstream.LimitsPolicy,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	logger.Info().
		Str("stream", streamName).
		Str("subjects", streamSubjectPattern).
		Dur("max_age", persistDuration).
		Dur("duplicate_window", duplicateWindow).
		Msg("NATS publisher initialized")

	return &Publisher{js: js, nc: nc, logger: logger, prefix: subjectPrefix}, nil
}

// PublishBatch publishes one message per delivered checkpoint-cursor
// batch, deduplicated by (network, checkpoint) — both monotonic and
// unique per network, so JetStream's dedup window makes redelivery safe.
func (p *Publisher) PublishBatch(ctx context.Context, network, checkpoint string, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}
	subject := fmt.Sprintf("%s.%s", p.prefix, network)
	data, err := json.Marshal(BatchMessage{Network: network, Checkpoint: checkpoint, Events: events})
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	msgID := fmt.Sprintf("%s:%s", network, checkpoint)
	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID)); err != nil {
		p.logger.Error().Err(err).Str("subject", subject).Str("msg_id", msgID).Msg("failed to publish batch")
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}

	p.logger.Debug().
		Str("subject", subject).
		Str("checkpoint", checkpoint).
		Int("events", len(events)).
		Msg("batch published")
	return nil
}

// Close closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info().Msg("NATS publisher closed")
	}
}

// Healthy checks if the NATS connection is healthy.
func (p *Publisher) Healthy() bool {
	return p.nc != nil && p.nc.IsConnected()
}
