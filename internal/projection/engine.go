package projection

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"ammledger/internal/eventstore"
	"ammledger/internal/observability"
)

const (
	DefaultBatchSize    = 256
	DefaultPollInterval = 250 * time.Millisecond
)

// Engine pumps the global event stream into one projection. It lags the
// event store arbitrarily and catches up by scanning from its
// checkpoint; a NATS notifier (when wired) only shortens the wait, the
// poll loop alone is sufficient and is the source of truth.
type Engine struct {
	name   string
	events eventstore.Store
	store  Store

	batchSize    int
	pollInterval time.Duration
	notify       <-chan struct{}

	log     zerolog.Logger
	metrics *observability.Metrics
}

// EngineConfig carries optional tuning; zero values take defaults.
type EngineConfig struct {
	BatchSize    int
	PollInterval time.Duration
	// Notify wakes the engine ahead of the poll timer (e.g. from the
	// NATS event feed). May be nil.
	Notify  <-chan struct{}
	Metrics *observability.Metrics
	Logger  *zerolog.Logger
}

func NewEngine(name string, events eventstore.Store, store Store, cfg EngineConfig) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	log := observability.NewLogger("projection").With().Str("projection", name).Logger()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	return &Engine{
		name:         name,
		events:       events,
		store:        store,
		batchSize:    cfg.BatchSize,
		pollInterval: cfg.PollInterval,
		notify:       cfg.Notify,
		log:          log,
		metrics:      cfg.Metrics,
	}
}

// Run drives the projection until ctx is cancelled. An apply failure
// stalls the cursor at the failing event and is retried next round; it
// is logged with the position and never causes event loss.
func (e *Engine) Run(ctx context.Context) error {
	timer := time.NewTimer(e.pollInterval)
	defer timer.Stop()

	for {
		if _, err := e.Drain(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if e.metrics != nil {
				e.metrics.ProjectionFailures.WithLabelValues(e.name).Inc()
			}
			e.log.Warn().Err(err).Msg("projection apply failed, cursor stalled")
		}

		timer.Reset(e.pollInterval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		case <-e.notify:
			// Drain the burst so a flood of notifications collapses
			// into one catch-up pass.
			for {
				select {
				case <-e.notify:
					continue
				default:
				}
				break
			}
		}
	}
}

// Drain applies every pending event and returns how many were applied.
// It blocks until the projection has fully caught up, which makes tests
// deterministic without an out-of-process worker.
func (e *Engine) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		last, err := e.store.LastPosition(ctx, e.name)
		if err != nil {
			return total, err
		}
		batch, err := e.events.ScanAll(ctx, last, e.batchSize)
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			return total, nil
		}

		for _, se := range batch {
			start := time.Now()
			if err := e.store.Apply(ctx, e.name, se); err != nil {
				return total, err
			}
			total++
			if e.metrics != nil {
				e.metrics.ProjectionApplied.WithLabelValues(e.name, se.EventClass).Inc()
				e.metrics.ProjectionApplyDur.WithLabelValues(e.name).Observe(time.Since(start).Seconds())
				e.metrics.ProjectionPosition.WithLabelValues(e.name).Set(float64(se.Position))
			}
		}
	}
}

// Rebuild drops the read models and replays the full stream from
// position 0.
func (e *Engine) Rebuild(ctx context.Context) error {
	e.log.Info().Msg("rebuilding projection from position 0")
	if err := e.store.Reset(ctx, e.name); err != nil {
		return err
	}
	n, err := e.Drain(ctx)
	if err != nil {
		return err
	}
	e.log.Info().Int("events", n).Msg("projection rebuild complete")
	return nil
}
