package event

import (
	"encoding/json"
	"fmt"
)

// Persisted event_class discriminators. These strings are part of the
// stored history and must never be renamed.
const (
	ClassPoolCreated      = "pool_created"
	ClassLiquidityAdded   = "liquidity_added"
	ClassLiquidityRemoved = "liquidity_removed"
	ClassSwapExecuted     = "swap_executed"
	ClassPoolDeactivated  = "pool_deactivated"
)

// CurrentEventVersion is the payload schema version written for new events.
const CurrentEventVersion int32 = 1

// Class returns the persisted discriminator for an event payload.
func Class(ev Event) string {
	switch ev.EventType() {
	case TypePoolCreated:
		return ClassPoolCreated
	case TypeLiquidityAdded:
		return ClassLiquidityAdded
	case TypeLiquidityRemoved:
		return ClassLiquidityRemoved
	case TypeSwapExecuted:
		return ClassSwapExecuted
	case TypePoolDeactivated:
		return ClassPoolDeactivated
	default:
		panic(fmt.Sprintf("event.Class: unhandled event type %T", ev))
	}
}

// Marshal encodes a domain event into an appendable record.
func Marshal(ev Event, meta Metadata) (NewEvent, error) {
	props, err := json.Marshal(ev)
	if err != nil {
		return NewEvent{}, fmt.Errorf("marshal %s payload: %w", Class(ev), err)
	}
	md, err := json.Marshal(meta)
	if err != nil {
		return NewEvent{}, fmt.Errorf("marshal metadata: %w", err)
	}
	return NewEvent{
		EventClass:      Class(ev),
		EventVersion:    CurrentEventVersion,
		EventProperties: props,
		MetaData:        md,
	}, nil
}

// Unmarshal decodes a persisted payload into its typed variant.
// An unrecognized class is an error, never a silent skip: the event set
// is closed and history containing an unknown class is corrupt.
func Unmarshal(class string, properties []byte) (Event, error) {
	switch class {
	case ClassPoolCreated:
		var ev PoolCreated
		if err := json.Unmarshal(properties, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", class, err)
		}
		return ev, nil
	case ClassLiquidityAdded:
		var ev LiquidityAdded
		if err := json.Unmarshal(properties, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", class, err)
		}
		return ev, nil
	case ClassLiquidityRemoved:
		var ev LiquidityRemoved
		if err := json.Unmarshal(properties, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", class, err)
		}
		return ev, nil
	case ClassSwapExecuted:
		var ev SwapExecuted
		if err := json.Unmarshal(properties, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", class, err)
		}
		return ev, nil
	case ClassPoolDeactivated:
		var ev PoolDeactivated
		if err := json.Unmarshal(properties, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", class, err)
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("unknown event_class %q", class)
	}
}
