package balance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Direction selects the sign of a mutation.
type Direction string

const (
	// DirectionIssue subtracts from balances (delivery, picking at source).
	DirectionIssue Direction = "ISSUE"
	// DirectionReceive adds to balances (receipt, return, reversal).
	DirectionReceive Direction = "RECEIVE"
)

// Delta is one planned change against a single balance record. Quantity is
// always positive; Direction provides the sign.
type Delta struct {
	Key      Key
	Category Category
	Quantity float64
}

// MutatorStore is the write side of the repository.
type MutatorStore interface {
	UpdateRecord(ctx context.Context, key Key, fn func(*Record) error) (Record, error)
}

// Locker serialises mutations per balance key.
type Locker interface {
	WithLock(ctx context.Context, name string, fn func() error) error
}

// Result reports the outcome of one delta.
type Result struct {
	Delta  Delta
	Record Record
	Err    error
}

// Report aggregates per-delta outcomes. Writes are independent: a failed
// delta does not roll back the ones already applied.
type Report struct {
	Results []Result
}

// Failed returns the deltas that did not apply.
func (r Report) Failed() []Result {
	failed := []Result{}
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

// Err returns nil when every delta applied.
func (r Report) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("balance: %d of %d mutations failed: %w", len(failed), len(r.Results), failed[0].Err)
}

// Mutator applies planned deltas to balance records, one transaction per
// record, serialised by a per-key lock.
type Mutator struct {
	store   MutatorStore
	locks   Locker
	logger  *slog.Logger
	strict  bool
	observe func(direction string, err error)
}

// MutatorConfig groups optional settings.
type MutatorConfig struct {
	// StrictBalance turns insufficient quantity into a hard error instead
	// of a logged warning.
	StrictBalance bool
	// Observe, when set, is called once per delta with the outcome.
	Observe func(direction string, err error)
}

// NewMutator builds Mutator. locks may be nil in tests.
func NewMutator(store MutatorStore, locks Locker, logger *slog.Logger, cfg MutatorConfig) *Mutator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mutator{store: store, locks: locks, logger: logger, strict: cfg.StrictBalance, observe: cfg.Observe}
}

// Apply mutates one record per delta and returns a per-delta report. The
// caller decides whether partial failure aborts the surrounding operation.
func (m *Mutator) Apply(ctx context.Context, deltas []Delta, dir Direction) Report {
	report := Report{Results: make([]Result, 0, len(deltas))}
	for _, delta := range deltas {
		rec, err := m.applyOne(ctx, delta, dir)
		report.Results = append(report.Results, Result{Delta: delta, Record: rec, Err: err})
		if m.observe != nil {
			m.observe(string(dir), err)
		}
		if err != nil {
			m.logger.Error("balance mutation failed",
				slog.String("key", delta.Key.String()),
				slog.String("category", string(delta.Category)),
				slog.String("direction", string(dir)),
				slog.Any("error", err))
		}
	}
	return report
}

func (m *Mutator) applyOne(ctx context.Context, delta Delta, dir Direction) (Record, error) {
	if delta.Quantity < 0 {
		return Record{}, fmt.Errorf("balance: negative delta quantity %.3f", delta.Quantity)
	}
	if !delta.Category.IsValid() {
		return Record{}, fmt.Errorf("balance: unknown category %q", delta.Category)
	}
	change := delta.Quantity
	if dir == DirectionIssue {
		change = -change
	}
	update := func() (Record, error) {
		return m.store.UpdateRecord(ctx, delta.Key, func(rec *Record) error {
			after := rec.CategoryQty(delta.Category) + change
			if after < -0.0005 {
				if m.strict {
					return fmt.Errorf("%w: %s %s has %.3f, need %.3f", ErrInsufficientBalance,
						delta.Key, delta.Category, rec.CategoryQty(delta.Category), delta.Quantity)
				}
				m.logger.Warn("balance going negative",
					slog.String("key", delta.Key.String()),
					slog.String("category", string(delta.Category)),
					slog.Float64("available", rec.CategoryQty(delta.Category)),
					slog.Float64("requested", delta.Quantity))
			}
			if err := rec.AddCategory(delta.Category, change); err != nil {
				return err
			}
			return rec.Check()
		})
	}
	if m.locks == nil {
		return update()
	}
	var rec Record
	err := m.locks.WithLock(ctx, "balance:"+delta.Key.String(), func() error {
		var innerErr error
		rec, innerErr = update()
		return innerErr
	})
	return rec, err
}

// Invert returns the deltas unchanged for application in the opposite
// direction, used by document reversal.
func Invert(dir Direction) Direction {
	if dir == DirectionIssue {
		return DirectionReceive
	}
	return DirectionIssue
}

// ErrNothingToApply indicates an empty delta set.
var ErrNothingToApply = errors.New("balance: no deltas to apply")
