package fifo

import (
	"context"
	"errors"
	"log/slog"
	"sort"
)

// RepositoryPort abstracts lot persistence for the service.
type RepositoryPort interface {
	// ListForUpdate returns all lots for the item, oldest sequence first,
	// locked for the duration of the surrounding transaction.
	ListForUpdate(ctx context.Context, materialID, plantID, organizationID int64) ([]CostingRecord, error)
	SetAvailable(ctx context.Context, recordID int64, available float64) error
	Append(ctx context.Context, rec CostingRecord) (int64, error)
	WithTx(ctx context.Context, fn func(context.Context, RepositoryPort) error) error
}

// Service consumes and restores FIFO costing lots.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Consume deducts qty from the item's lots, draining the lowest sequence
// first. When availability runs out the shortfall is logged and returned;
// the walk never drives a lot negative.
func (s *Service) Consume(ctx context.Context, materialID, plantID, organizationID int64, qty float64) (Consumption, error) {
	if qty <= 0 {
		return Consumption{}, ErrInvalidQuantity
	}
	var result Consumption
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx RepositoryPort) error {
		records, err := tx.ListForUpdate(ctx, materialID, plantID, organizationID)
		if err != nil {
			return err
		}
		plan := Walk(records, qty)
		for _, draw := range plan.Draws {
			if err := tx.SetAvailable(ctx, draw.RecordID, draw.Remaining); err != nil {
				return err
			}
		}
		result = plan
		return nil
	})
	if err != nil {
		return Consumption{}, err
	}
	if result.Shortfall > 0 {
		s.logger.Warn("fifo shortfall",
			slog.Int64("material_id", materialID),
			slog.Int64("plant_id", plantID),
			slog.Float64("requested", qty),
			slog.Float64("shortfall", result.Shortfall))
	}
	return result, nil
}

// Walk computes the FIFO deduction plan without touching storage. Records
// are walked in ascending sequence; equal sequences keep their input
// order.
func Walk(records []CostingRecord, qty float64) Consumption {
	ordered := make([]CostingRecord, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Sequence < ordered[j].Sequence
	})
	result := Consumption{}
	remaining := qty
	for _, rec := range ordered {
		if remaining <= 0 {
			break
		}
		if rec.AvailableQty <= 0 {
			continue
		}
		take := rec.AvailableQty
		if remaining < take {
			take = remaining
		}
		take = round3(take)
		result.Draws = append(result.Draws, Draw{
			RecordID:  rec.ID,
			Sequence:  rec.Sequence,
			Quantity:  take,
			UnitCost:  rec.UnitCost,
			Remaining: round3(rec.AvailableQty - take),
		})
		result.Consumed = round3(result.Consumed + take)
		remaining = round3(remaining - take)
	}
	result.Shortfall = round3(qty - result.Consumed)
	if result.Shortfall < 0 {
		result.Shortfall = 0
	}
	return result
}

// Restore credits quantity back after a cancelled consumption. Draws are
// re-applied onto their original lots; quantities beyond the recorded
// draws land on the newest lot.
func (s *Service) Restore(ctx context.Context, materialID, plantID, organizationID int64, draws []Draw) error {
	if len(draws) == 0 {
		return nil
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx RepositoryPort) error {
		records, err := tx.ListForUpdate(ctx, materialID, plantID, organizationID)
		if err != nil {
			return err
		}
		byID := make(map[int64]CostingRecord, len(records))
		for _, rec := range records {
			byID[rec.ID] = rec
		}
		for _, draw := range draws {
			rec, ok := byID[draw.RecordID]
			if !ok {
				// Lot disappeared; credit the newest lot instead of dropping qty.
				if len(records) == 0 {
					return errors.New("fifo: no lots to restore into")
				}
				rec = records[len(records)-1]
			}
			rec.AvailableQty = round3(rec.AvailableQty + draw.Quantity)
			byID[rec.ID] = rec
			if err := tx.SetAvailable(ctx, rec.ID, rec.AvailableQty); err != nil {
				return err
			}
		}
		return nil
	})
}

// Revoke removes quantity from one lot after a cancelled receipt. The lot
// is floored at zero rather than driven negative; any excess is logged.
func (s *Service) Revoke(ctx context.Context, materialID, plantID, organizationID, recordID int64, qty float64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx RepositoryPort) error {
		records, err := tx.ListForUpdate(ctx, materialID, plantID, organizationID)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if rec.ID != recordID {
				continue
			}
			after := round3(rec.AvailableQty - qty)
			if after < 0 {
				s.logger.Warn("fifo revoke exceeds lot availability",
					slog.Int64("record_id", recordID),
					slog.Float64("available", rec.AvailableQty),
					slog.Float64("revoked", qty))
				after = 0
			}
			return tx.SetAvailable(ctx, rec.ID, after)
		}
		return errors.New("fifo: lot not found")
	})
}

// Receive appends a new lot at the next sequence for the item.
func (s *Service) Receive(ctx context.Context, rec CostingRecord) (int64, error) {
	if rec.AvailableQty <= 0 {
		return 0, ErrInvalidQuantity
	}
	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx RepositoryPort) error {
		records, err := tx.ListForUpdate(ctx, rec.MaterialID, rec.PlantID, rec.OrganizationID)
		if err != nil {
			return err
		}
		var next int64 = 1
		for _, existing := range records {
			if existing.Sequence >= next {
				next = existing.Sequence + 1
			}
		}
		rec.Sequence = next
		id, err = tx.Append(ctx, rec)
		return err
	})
	return id, err
}
