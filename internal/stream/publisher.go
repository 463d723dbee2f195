package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"ammledger/internal/event"
	"ammledger/internal/observability"
)

const (
	// StreamName holds committed pool events for downstream consumers.
	StreamName = "AMM_POOL_EVENTS"

	// SubjectPrefix is the subject root; the event class is appended,
	// e.g. amm.pool.events.swap_executed.
	SubjectPrefix = "amm.pool.events"

	defaultBuffer = 1024
)

// Envelope is the committed event as published to NATS. Consumers that
// need the full history read the event store directly; the stream is a
// best-effort notification channel.
type Envelope struct {
	AggregateID      string          `json:"aggregate_id"`
	AggregateVersion int64           `json:"aggregate_version"`
	EventClass       string          `json:"event_class"`
	Payload          json.RawMessage `json:"payload"`
	PublishedAt      time.Time       `json:"published_at"`
}

// Publisher forwards committed events to JetStream without blocking the
// command path. Enqueue drops when the buffer is full; droppage is
// counted and the event log remains the source of truth.
type Publisher struct {
	js      jetstream.JetStream
	queue   chan Envelope
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewPublisher(js jetstream.JetStream, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		js:      js,
		queue:   make(chan Envelope, defaultBuffer),
		log:     observability.NewLogger("stream"),
		metrics: metrics,
	}
}

// Publish enqueues a committed event for outbound delivery. Never blocks.
func (p *Publisher) Publish(aggregateID uuid.UUID, version int64, ev event.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.Error().Err(err).Str("aggregate_id", aggregateID.String()).
			Msg("marshal outbound event")
		if p.metrics != nil {
			p.metrics.PublishFailures.Inc()
		}
		return
	}

	env := Envelope{
		AggregateID:      aggregateID.String(),
		AggregateVersion: version,
		EventClass:       event.Class(ev),
		Payload:          payload,
		PublishedAt:      time.Now().UTC(),
	}

	select {
	case p.queue <- env:
	default:
		if p.metrics != nil {
			p.metrics.PublishDrops.Inc()
		}
		p.log.Warn().Str("event_class", env.EventClass).
			Msg("outbound queue full, event dropped")
	}
}

// Run drains the queue until ctx is cancelled. Publish failures are
// non-fatal: consumers can replay from the event store.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-p.queue:
			if err := p.publish(ctx, env); err != nil {
				if p.metrics != nil {
					p.metrics.PublishFailures.Inc()
				}
				p.log.Warn().Err(err).
					Str("aggregate_id", env.AggregateID).
					Int64("version", env.AggregateVersion).
					Msg("outbound publish failed")
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", SubjectPrefix, env.EventClass)
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureStream creates or updates the outbound events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", StreamName, err)
	}
	return nil
}

// Connect establishes a NATS connection and returns a JetStream context.
func Connect(url string) (*nats.Conn, jetstream.JetStream, error) {
	log := observability.NewLogger("stream")
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
