package fifo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	records []CostingRecord
	nextID  int64
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, RepositoryPort) error) error {
	return fn(ctx, r)
}

func (r *memoryRepo) ListForUpdate(ctx context.Context, materialID, plantID, organizationID int64) ([]CostingRecord, error) {
	result := []CostingRecord{}
	for _, rec := range r.records {
		if rec.MaterialID == materialID && rec.PlantID == plantID && rec.OrganizationID == organizationID {
			result = append(result, rec)
		}
	}
	return result, nil
}

func (r *memoryRepo) SetAvailable(ctx context.Context, recordID int64, available float64) error {
	for i := range r.records {
		if r.records[i].ID == recordID {
			r.records[i].AvailableQty = available
			return nil
		}
	}
	return ErrInvalidQuantity
}

func (r *memoryRepo) Append(ctx context.Context, rec CostingRecord) (int64, error) {
	r.nextID++
	rec.ID = r.nextID
	r.records = append(r.records, rec)
	return rec.ID, nil
}

func seedLots(available ...float64) *memoryRepo {
	repo := &memoryRepo{}
	for i, qty := range available {
		repo.nextID++
		repo.records = append(repo.records, CostingRecord{
			ID: repo.nextID, MaterialID: 1, PlantID: 1, OrganizationID: 1,
			Sequence: int64(i + 1), AvailableQty: qty, UnitCost: 10,
		})
	}
	return repo
}

func availabilities(repo *memoryRepo) []float64 {
	out := make([]float64, len(repo.records))
	for i, rec := range repo.records {
		out[i] = rec.AvailableQty
	}
	return out
}

func TestConsumeDrainsOldestFirst(t *testing.T) {
	repo := seedLots(5, 3, 10)
	svc := NewService(repo, nil)

	result, err := svc.Consume(context.Background(), 1, 1, 1, 6)
	require.NoError(t, err)
	require.InDelta(t, 6, result.Consumed, 0.0001)
	require.Zero(t, result.Shortfall)
	require.Equal(t, []float64{0, 2, 10}, availabilities(repo))
	require.Len(t, result.Draws, 2)
	require.InDelta(t, 5, result.Draws[0].Quantity, 0.0001)
	require.InDelta(t, 1, result.Draws[1].Quantity, 0.0001)
}

func TestConsumeReportsShortfall(t *testing.T) {
	repo := seedLots(5, 3, 10)
	svc := NewService(repo, nil)

	result, err := svc.Consume(context.Background(), 1, 1, 1, 20)
	require.NoError(t, err)
	require.InDelta(t, 18, result.Consumed, 0.0001)
	require.InDelta(t, 2, result.Shortfall, 0.0001)
	require.Equal(t, []float64{0, 0, 0}, availabilities(repo))
}

func TestConsumeRejectsNonPositive(t *testing.T) {
	svc := NewService(seedLots(5), nil)
	_, err := svc.Consume(context.Background(), 1, 1, 1, 0)
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestWalkStableOnEqualSequence(t *testing.T) {
	records := []CostingRecord{
		{ID: 1, Sequence: 3, AvailableQty: 4},
		{ID: 2, Sequence: 3, AvailableQty: 4},
	}
	result := Walk(records, 5)
	require.Len(t, result.Draws, 2)
	require.Equal(t, int64(1), result.Draws[0].RecordID)
	require.InDelta(t, 4, result.Draws[0].Quantity, 0.0001)
	require.Equal(t, int64(2), result.Draws[1].RecordID)
	require.InDelta(t, 1, result.Draws[1].Quantity, 0.0001)
}

func TestRestoreReversesConsume(t *testing.T) {
	repo := seedLots(5, 3, 10)
	svc := NewService(repo, nil)

	result, err := svc.Consume(context.Background(), 1, 1, 1, 7)
	require.NoError(t, err)
	require.NoError(t, svc.Restore(context.Background(), 1, 1, 1, result.Draws))
	require.Equal(t, []float64{5, 3, 10}, availabilities(repo))
}

func TestReceiveAppendsNextSequence(t *testing.T) {
	repo := seedLots(5, 3)
	svc := NewService(repo, nil)

	_, err := svc.Receive(context.Background(), CostingRecord{MaterialID: 1, PlantID: 1, OrganizationID: 1, AvailableQty: 8, UnitCost: 12})
	require.NoError(t, err)
	last := repo.records[len(repo.records)-1]
	require.Equal(t, int64(3), last.Sequence)
	require.InDelta(t, 8, last.AvailableQty, 0.0001)
}
