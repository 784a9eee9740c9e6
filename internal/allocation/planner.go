package allocation

import (
	"errors"
	"fmt"

	"github.com/atlas-wms/atlas-wms/internal/balance"
)

// Plan is the planner output: ordered entries summing to the satisfiable
// amount, with any shortfall reported rather than raised.
type Plan struct {
	Entries   []Entry
	Requested float64
	Planned   float64
	Shortfall float64
}

// FallbackStrategy controls putaway behaviour when an item has no default
// bin for the plant.
type FallbackStrategy string

const (
	// FallbackRandom falls back to the plant's default common bin.
	FallbackRandom FallbackStrategy = "RANDOM"
	// FallbackNone makes a missing default bin a planning error.
	FallbackNone FallbackStrategy = "NONE"
)

// ErrExceedsAllocated indicates a redistribution target above the
// currently allocated total.
var ErrExceedsAllocated = errors.New("allocation: target exceeds allocated quantity")

// ErrNegativeQuantity indicates a negative tuple quantity.
var ErrNegativeQuantity = errors.New("allocation: quantity must not be negative")

// ErrNoBin indicates no default or fallback bin could be resolved.
var ErrNoBin = errors.New("allocation: no storage bin resolved")

// ValidateManual checks caller-supplied tuples against the requested
// quantity: no tuple may be negative and the sum may not exceed the
// request. Valid tuples pass through unchanged.
func ValidateManual(entries []Entry, requested float64) (Plan, error) {
	for i, e := range entries {
		if e.Quantity < 0 {
			return Plan{}, fmt.Errorf("%w: entry %d has %.3f", ErrNegativeQuantity, i, e.Quantity)
		}
	}
	total := Total(entries)
	if total > requested+0.0005 {
		return Plan{}, fmt.Errorf("%w: manual entries sum %.3f, requested %.3f", ErrExceedsAllocated, total, requested)
	}
	return Plan{
		Entries:   entries,
		Requested: requested,
		Planned:   total,
		Shortfall: round3(requested - total),
	}, nil
}

// PlanFIFO walks the given balance records in order, drawing
// min(available, remaining) from each until the request is met or the
// pool is exhausted. Callers supply records already ordered oldest first;
// ties keep their slice position. A shortfall is reported, never raised.
func PlanFIFO(records []balance.Record, category balance.Category, requested float64) Plan {
	plan := Plan{Requested: requested}
	remaining := requested
	for _, rec := range records {
		if remaining <= 0 {
			break
		}
		available := rec.CategoryQty(category)
		if available <= 0 {
			continue
		}
		take := available
		if remaining < take {
			take = remaining
		}
		take = round3(take)
		plan.Entries = append(plan.Entries, Entry{Key: rec.Key, Category: category, Quantity: take})
		plan.Planned = round3(plan.Planned + take)
		remaining = round3(remaining - take)
	}
	plan.Shortfall = round3(requested - plan.Planned)
	if plan.Shortfall < 0 {
		plan.Shortfall = 0
	}
	return plan
}

// PlanFixedBin resolves the putaway target for a receipt: the item's
// default bin for the plant, or the plant's common bin when the fallback
// strategy is RANDOM.
func PlanFixedBin(key balance.Key, category balance.Category, qty float64, defaultBin, commonBin int64, fallback FallbackStrategy) (Plan, error) {
	if qty < 0 {
		return Plan{}, ErrNegativeQuantity
	}
	bin := defaultBin
	if bin == 0 {
		if fallback != FallbackRandom || commonBin == 0 {
			return Plan{}, fmt.Errorf("%w: material %d plant %d", ErrNoBin, key.MaterialID, key.PlantID)
		}
		bin = commonBin
	}
	key.LocationID = bin
	entry := Entry{Key: key, Category: category, Quantity: round3(qty)}
	return Plan{Entries: []Entry{entry}, Requested: qty, Planned: entry.Quantity}, nil
}

// Redistribute scales N existing entries to a new target total, keeping
// their relative proportions. The target may not exceed the current
// total. Passing the unchanged total returns quantities numerically equal
// to the originals within rounding.
func Redistribute(entries []Entry, target float64) ([]Entry, error) {
	if target < 0 {
		return nil, ErrNegativeQuantity
	}
	total := Total(entries)
	if target > total+0.0005 {
		return nil, fmt.Errorf("%w: target %.3f, allocated %.3f", ErrExceedsAllocated, target, total)
	}
	if total == 0 {
		return append([]Entry{}, entries...), nil
	}
	scaled := make([]Entry, len(entries))
	for i, e := range entries {
		e.Quantity = round3(target * e.Quantity / total)
		scaled[i] = e
	}
	return scaled, nil
}
