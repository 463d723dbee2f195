package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ammledger/internal/event"
	"ammledger/internal/eventstore"
	"ammledger/internal/observability"
	"ammledger/internal/pool"
	"ammledger/internal/snapshot"
)

const (
	// DefaultSnapshotInterval is how many events past the last snapshot
	// trigger a new one.
	DefaultSnapshotInterval int64 = 50

	// DefaultMaxRetries bounds reconstruct+decide retries after a
	// concurrency conflict before surfacing it to the caller.
	DefaultMaxRetries = 3
)

// Repository reconstructs pool aggregates and executes commands against
// them. The event store append is the single serialization point per
// aggregate: the loser of a version race gets ErrConcurrencyConflict
// and is retried here with a fresh reconstruction, never a blind
// re-append.
type Repository struct {
	events    eventstore.Store
	snapshots snapshot.Store

	snapshotInterval int64
	maxRetries       int

	log     zerolog.Logger
	metrics *observability.Metrics

	snapshotWG sync.WaitGroup
}

// RepositoryConfig carries optional tuning; zero values take defaults.
type RepositoryConfig struct {
	SnapshotInterval int64
	MaxRetries       int
	Metrics          *observability.Metrics
	Logger           *zerolog.Logger
}

func NewRepository(events eventstore.Store, snapshots snapshot.Store, cfg RepositoryConfig) *Repository {
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = DefaultSnapshotInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	log := observability.NewLogger("runtime")
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	return &Repository{
		events:           events,
		snapshots:        snapshots,
		snapshotInterval: cfg.SnapshotInterval,
		maxRetries:       cfg.MaxRetries,
		log:              log,
		metrics:          cfg.Metrics,
	}
}

// Reconstruct rebuilds the aggregate's current state and version from
// the latest snapshot plus the event tail.
func (r *Repository) Reconstruct(ctx context.Context, aggregateID uuid.UUID) (pool.State, int64, error) {
	state, version, _, err := r.reconstruct(ctx, aggregateID)
	return state, version, err
}

func (r *Repository) reconstruct(ctx context.Context, aggregateID uuid.UUID) (pool.State, int64, int64, error) {
	start := time.Now()

	state := pool.InitialState()
	version := int64(0)
	snapVersion := int64(0)

	if r.snapshots != nil {
		snap, err := r.snapshots.Load(ctx, aggregateID)
		if err != nil {
			// A broken snapshot store never blocks commands: fall back
			// to full replay from the event stream.
			r.log.Warn().Err(err).Stringer("aggregate_id", aggregateID).
				Msg("snapshot load failed, replaying from version 0")
		} else if snap != nil {
			var restored pool.State
			if err := json.Unmarshal(snap.State, &restored); err != nil {
				r.log.Warn().Err(err).Stringer("aggregate_id", aggregateID).
					Msg("snapshot decode failed, replaying from version 0")
			} else {
				if restored.Providers == nil {
					restored.Providers = map[string]decimal.Decimal{}
				}
				state = restored
				version = snap.AggregateVersion
				snapVersion = snap.AggregateVersion
			}
		}
	}

	tail, err := r.events.Load(ctx, aggregateID, version)
	if err != nil {
		return pool.State{}, 0, 0, fmt.Errorf("load events: %w", err)
	}
	for _, se := range tail {
		domain, err := se.Domain()
		if err != nil {
			return pool.State{}, 0, 0, fmt.Errorf("replay version %d: %w", se.AggregateVersion, err)
		}
		state = pool.Apply(state, domain)
		version = se.AggregateVersion
	}

	if r.metrics != nil {
		r.metrics.ReconstructEvents.Observe(float64(len(tail)))
		r.metrics.ReconstructDur.Observe(time.Since(start).Seconds())
	}
	return state, version, snapVersion, nil
}

// Execute reconstructs, decides and appends. Only concurrency conflicts
// are retried; domain errors surface unchanged on the first attempt
// because rerunning them re-derives the same rejection.
func (r *Repository) Execute(ctx context.Context, aggregateID uuid.UUID, cmd pool.Command, meta event.Metadata) (int64, []event.Event, error) {
	for attempt := 0; ; attempt++ {
		state, version, snapVersion, err := r.reconstruct(ctx, aggregateID)
		if err != nil {
			return 0, nil, err
		}

		domainEvents, err := pool.Decide(state, cmd)
		if err != nil {
			return 0, nil, err
		}

		records := make([]event.NewEvent, 0, len(domainEvents))
		for _, ev := range domainEvents {
			rec, err := event.Marshal(ev, meta)
			if err != nil {
				return 0, nil, err
			}
			records = append(records, rec)
		}

		newVersion, err := r.events.Append(ctx, aggregateID, version, records)
		if errors.Is(err, eventstore.ErrConcurrencyConflict) {
			if r.metrics != nil {
				r.metrics.AppendConflicts.Inc()
			}
			if attempt+1 >= r.maxRetries {
				return 0, nil, err
			}
			if r.metrics != nil {
				r.metrics.AppendRetries.Inc()
			}
			r.log.Debug().Stringer("aggregate_id", aggregateID).Int("attempt", attempt+1).
				Msg("append conflict, retrying with fresh state")
			continue
		}
		if err != nil {
			return 0, nil, fmt.Errorf("append: %w", err)
		}

		if r.metrics != nil {
			for _, rec := range records {
				r.metrics.EventsAppended.WithLabelValues(rec.EventClass).Inc()
			}
		}

		if r.snapshots != nil && newVersion-snapVersion >= r.snapshotInterval {
			next := pool.Replay(state, domainEvents)
			r.saveSnapshotAsync(aggregateID, newVersion, next)
		}

		return newVersion, domainEvents, nil
	}
}

// saveSnapshotAsync persists a snapshot off the command path. Failures
// are logged and counted, never surfaced: a snapshot is only a replay
// accelerator.
func (r *Repository) saveSnapshotAsync(aggregateID uuid.UUID, version int64, state pool.State) {
	r.snapshotWG.Add(1)
	go func() {
		defer r.snapshotWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		data, err := json.Marshal(state)
		if err != nil {
			r.log.Error().Err(err).Stringer("aggregate_id", aggregateID).Msg("snapshot marshal failed")
			if r.metrics != nil {
				r.metrics.SnapshotFailures.Inc()
			}
			return
		}
		err = r.snapshots.Save(ctx, snapshot.Snapshot{
			AggregateID:      aggregateID,
			AggregateVersion: version,
			State:            data,
		})
		if err != nil {
			r.log.Error().Err(err).Stringer("aggregate_id", aggregateID).Msg("snapshot save failed")
			if r.metrics != nil {
				r.metrics.SnapshotFailures.Inc()
			}
			return
		}
		if r.metrics != nil {
			r.metrics.SnapshotsTaken.Inc()
		}
		r.log.Debug().Stringer("aggregate_id", aggregateID).Int64("version", version).Msg("snapshot saved")
	}()
}

// WaitSnapshots blocks until in-flight snapshot writes finish. Used on
// shutdown and in tests.
func (r *Repository) WaitSnapshots() {
	r.snapshotWG.Wait()
}
