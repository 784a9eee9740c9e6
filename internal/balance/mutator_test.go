package balance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	records map[Key]Record
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[Key]Record)}
}

func (s *memoryStore) UpdateRecord(ctx context.Context, key Key, fn func(*Record) error) (Record, error) {
	rec, ok := s.records[key]
	if !ok {
		rec = Record{Key: key}
	}
	if err := fn(&rec); err != nil {
		return Record{}, err
	}
	s.records[key] = rec
	return rec, nil
}

func (s *memoryStore) Find(ctx context.Context, filter Filter) ([]Record, error) {
	result := []Record{}
	for _, rec := range s.records {
		if rec.MaterialID == filter.MaterialID && rec.OrganizationID == filter.OrganizationID {
			result = append(result, rec)
		}
	}
	return result, nil
}

func seed(t *testing.T, store *memoryStore, key Key, category Category, qty float64) {
	t.Helper()
	_, err := store.UpdateRecord(context.Background(), key, func(rec *Record) error {
		return rec.AddCategory(category, qty)
	})
	require.NoError(t, err)
}

func TestApplyIssueAndReceive(t *testing.T) {
	store := newMemoryStore()
	key := Key{MaterialID: 1, PlantID: 1, OrganizationID: 1, LocationID: 10}
	seed(t, store, key, CategoryUnrestricted, 50)

	m := NewMutator(store, nil, nil, MutatorConfig{})
	deltas := []Delta{{Key: key, Category: CategoryUnrestricted, Quantity: 20}}

	report := m.Apply(context.Background(), deltas, DirectionIssue)
	require.NoError(t, report.Err())
	require.InDelta(t, 30, report.Results[0].Record.UnrestrictedQty, 0.0001)
	require.InDelta(t, 30, report.Results[0].Record.BalanceQty, 0.0001)

	report = m.Apply(context.Background(), deltas, DirectionReceive)
	require.NoError(t, report.Err())
	require.InDelta(t, 50, report.Results[0].Record.UnrestrictedQty, 0.0001)
}

func TestIssueThenReceiveIsIdentity(t *testing.T) {
	store := newMemoryStore()
	keys := []Key{
		{MaterialID: 1, PlantID: 1, OrganizationID: 1, LocationID: 10},
		{MaterialID: 1, PlantID: 1, OrganizationID: 1, LocationID: 11, BatchID: "B-01"},
		{MaterialID: 2, PlantID: 1, OrganizationID: 1, LocationID: 10},
	}
	seed(t, store, keys[0], CategoryUnrestricted, 12.5)
	seed(t, store, keys[1], CategoryQualityInsp, 4)
	seed(t, store, keys[2], CategoryReserved, 100)
	before := map[Key]Record{}
	for k, v := range store.records {
		before[k] = v
	}

	m := NewMutator(store, nil, nil, MutatorConfig{})
	deltas := []Delta{
		{Key: keys[0], Category: CategoryUnrestricted, Quantity: 3.125},
		{Key: keys[1], Category: CategoryQualityInsp, Quantity: 4},
		{Key: keys[2], Category: CategoryReserved, Quantity: 99.999},
	}
	require.NoError(t, m.Apply(context.Background(), deltas, DirectionIssue).Err())
	require.NoError(t, m.Apply(context.Background(), deltas, DirectionReceive).Err())

	for key, want := range before {
		got := store.records[key]
		require.InDelta(t, want.BalanceQty, got.BalanceQty, 0.001, "key %s", key)
		require.InDelta(t, want.UnrestrictedQty, got.UnrestrictedQty, 0.001)
		require.InDelta(t, want.ReservedQty, got.ReservedQty, 0.001)
		require.InDelta(t, want.QualityInspQty, got.QualityInspQty, 0.001)
		require.NoError(t, got.Check())
	}
}

func TestStrictModeRejectsOverdraw(t *testing.T) {
	store := newMemoryStore()
	key := Key{MaterialID: 1, PlantID: 1, OrganizationID: 1, LocationID: 10}
	seed(t, store, key, CategoryUnrestricted, 5)

	m := NewMutator(store, nil, nil, MutatorConfig{StrictBalance: true})
	report := m.Apply(context.Background(), []Delta{{Key: key, Category: CategoryUnrestricted, Quantity: 6}}, DirectionIssue)
	require.ErrorIs(t, report.Err(), ErrInsufficientBalance)
	require.Len(t, report.Failed(), 1)
	// Untouched on failure.
	require.InDelta(t, 5, store.records[key].UnrestrictedQty, 0.0001)
}

func TestNonStrictAllowsNegative(t *testing.T) {
	store := newMemoryStore()
	key := Key{MaterialID: 1, PlantID: 1, OrganizationID: 1, LocationID: 10}
	seed(t, store, key, CategoryUnrestricted, 5)

	m := NewMutator(store, nil, nil, MutatorConfig{})
	report := m.Apply(context.Background(), []Delta{{Key: key, Category: CategoryUnrestricted, Quantity: 6}}, DirectionIssue)
	require.NoError(t, report.Err())
	require.InDelta(t, -1, store.records[key].UnrestrictedQty, 0.0001)
	require.NoError(t, store.records[key].Check())
}

func TestPartialFailureContinues(t *testing.T) {
	store := newMemoryStore()
	good := Key{MaterialID: 1, PlantID: 1, OrganizationID: 1, LocationID: 10}
	seed(t, store, good, CategoryUnrestricted, 5)

	m := NewMutator(store, nil, nil, MutatorConfig{})
	deltas := []Delta{
		{Key: good, Category: "BOGUS", Quantity: 1},
		{Key: good, Category: CategoryUnrestricted, Quantity: 2},
	}
	report := m.Apply(context.Background(), deltas, DirectionIssue)
	require.Error(t, report.Err())
	require.Len(t, report.Failed(), 1)
	require.InDelta(t, 3, store.records[good].UnrestrictedQty, 0.0001)
}

func TestConservationInvariant(t *testing.T) {
	rec := Record{Key: Key{MaterialID: 9}}
	require.NoError(t, rec.AddCategory(CategoryUnrestricted, 7))
	require.NoError(t, rec.AddCategory(CategoryBlocked, 2))
	require.NoError(t, rec.AddCategory(CategoryInTransit, 0.5))
	require.NoError(t, rec.Check())
	require.InDelta(t, 9.5, rec.BalanceQty, 0.0001)

	rec.BalanceQty = 11
	require.Error(t, rec.Check())
}

func TestShapeRouting(t *testing.T) {
	require.Equal(t, ShapePlain, Key{MaterialID: 1}.Shape())
	require.Equal(t, ShapeBatch, Key{MaterialID: 1, BatchID: "B"}.Shape())
	require.Equal(t, ShapeSerial, Key{MaterialID: 1, SerialNumber: "S"}.Shape())
	require.Equal(t, ShapeSerial, ShapeFor(true, true))
	require.Equal(t, ShapeBatch, ShapeFor(true, false))
	require.Equal(t, ShapePlain, ShapeFor(false, false))
}
