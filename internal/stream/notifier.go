package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"ammledger/internal/observability"
)

// Notifier consumes the outbound event stream and signals the
// projection engine that new events are available. The signal carries
// no data; the engine reads from the event store, so missed or dropped
// notifications only delay the next poll.
type Notifier struct {
	js       jetstream.JetStream
	consumer string
	wake     chan struct{}
	cc       jetstream.ConsumeContext
}

func NewNotifier(js jetstream.JetStream, consumerName string) *Notifier {
	return &Notifier{
		js:       js,
		consumer: consumerName,
		wake:     make(chan struct{}, 1),
	}
}

// Wake returns the channel to pass to the projection engine.
func (n *Notifier) Wake() <-chan struct{} { return n.wake }

// Start creates a durable consumer on the pool events stream and pokes
// the wake channel on every delivery.
func (n *Notifier) Start(ctx context.Context) error {
	log := observability.NewLogger("stream")

	consumer, err := n.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       n.consumer,
		FilterSubject: SubjectPrefix + ".>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", n.consumer, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		select {
		case n.wake <- struct{}{}:
		default:
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", n.consumer, err)
	}
	n.cc = cc

	log.Info().Str("consumer", n.consumer).Msg("projection notifier started")
	return nil
}

// Stop stops the underlying consumer.
func (n *Notifier) Stop() {
	if n.cc != nil {
		n.cc.Stop()
	}
}
