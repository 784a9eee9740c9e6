package allocation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atlas-wms/atlas-wms/internal/balance"
)

func record(location int64, unrestricted float64) balance.Record {
	rec := balance.Record{Key: balance.Key{MaterialID: 1, PlantID: 1, OrganizationID: 1, LocationID: location}}
	_ = rec.AddCategory(balance.CategoryUnrestricted, unrestricted)
	return rec
}

func TestPlanFIFODrainsInOrder(t *testing.T) {
	records := []balance.Record{record(1, 5), record(2, 3), record(3, 10)}

	plan := PlanFIFO(records, balance.CategoryUnrestricted, 6)
	require.InDelta(t, 6, plan.Planned, 0.0001)
	require.Zero(t, plan.Shortfall)
	require.Len(t, plan.Entries, 2)
	require.Equal(t, int64(1), plan.Entries[0].LocationID)
	require.InDelta(t, 5, plan.Entries[0].Quantity, 0.0001)
	require.Equal(t, int64(2), plan.Entries[1].LocationID)
	require.InDelta(t, 1, plan.Entries[1].Quantity, 0.0001)
}

func TestPlanFIFOShortfall(t *testing.T) {
	records := []balance.Record{record(1, 5), record(2, 3), record(3, 10)}

	plan := PlanFIFO(records, balance.CategoryUnrestricted, 20)
	require.InDelta(t, 18, plan.Planned, 0.0001)
	require.InDelta(t, 2, plan.Shortfall, 0.0001)
	require.Len(t, plan.Entries, 3)
}

func TestPlanFIFOSkipsEmptyRecords(t *testing.T) {
	records := []balance.Record{record(1, 0), record(2, 4)}

	plan := PlanFIFO(records, balance.CategoryUnrestricted, 2)
	require.Len(t, plan.Entries, 1)
	require.Equal(t, int64(2), plan.Entries[0].LocationID)
}

func TestValidateManual(t *testing.T) {
	entries := []Entry{
		{Key: balance.Key{MaterialID: 1, LocationID: 1}, Category: balance.CategoryUnrestricted, Quantity: 3},
		{Key: balance.Key{MaterialID: 1, LocationID: 2}, Category: balance.CategoryUnrestricted, Quantity: 2},
	}

	plan, err := ValidateManual(entries, 6)
	require.NoError(t, err)
	require.InDelta(t, 5, plan.Planned, 0.0001)
	require.InDelta(t, 1, plan.Shortfall, 0.0001)

	_, err = ValidateManual(entries, 4)
	require.ErrorIs(t, err, ErrExceedsAllocated)

	entries[0].Quantity = -1
	_, err = ValidateManual(entries, 6)
	require.ErrorIs(t, err, ErrNegativeQuantity)
}

func TestPlanFixedBin(t *testing.T) {
	key := balance.Key{MaterialID: 1, PlantID: 2, OrganizationID: 1}

	plan, err := PlanFixedBin(key, balance.CategoryUnrestricted, 12, 77, 5, FallbackRandom)
	require.NoError(t, err)
	require.Equal(t, int64(77), plan.Entries[0].LocationID)

	plan, err = PlanFixedBin(key, balance.CategoryUnrestricted, 12, 0, 5, FallbackRandom)
	require.NoError(t, err)
	require.Equal(t, int64(5), plan.Entries[0].LocationID)

	_, err = PlanFixedBin(key, balance.CategoryUnrestricted, 12, 0, 5, FallbackNone)
	require.ErrorIs(t, err, ErrNoBin)

	_, err = PlanFixedBin(key, balance.CategoryUnrestricted, 12, 0, 0, FallbackRandom)
	require.ErrorIs(t, err, ErrNoBin)
}

func TestRedistributeScalesProportionally(t *testing.T) {
	entries := []Entry{
		{Key: balance.Key{LocationID: 1}, Quantity: 6},
		{Key: balance.Key{LocationID: 2}, Quantity: 4},
	}

	scaled, err := Redistribute(entries, 5)
	require.NoError(t, err)
	require.InDelta(t, 3, scaled[0].Quantity, 0.0001)
	require.InDelta(t, 2, scaled[1].Quantity, 0.0001)
}

func TestRedistributeIdempotentAtSameTotal(t *testing.T) {
	entries := []Entry{
		{Key: balance.Key{LocationID: 1}, Quantity: 3.333},
		{Key: balance.Key{LocationID: 2}, Quantity: 6.667},
	}

	scaled, err := Redistribute(entries, 10)
	require.NoError(t, err)
	for i := range entries {
		require.InDelta(t, entries[i].Quantity, scaled[i].Quantity, 0.001)
	}
}

func TestRedistributeRejectsIncrease(t *testing.T) {
	entries := []Entry{{Quantity: 4}}
	_, err := Redistribute(entries, 5)
	require.ErrorIs(t, err, ErrExceedsAllocated)
}

func TestEntryRoundTripSerialisation(t *testing.T) {
	entries := []Entry{
		{Key: balance.Key{MaterialID: 1, PlantID: 2, OrganizationID: 3, LocationID: 4, BatchID: "B-7"}, Category: balance.CategoryReserved, Quantity: 2.5},
	}
	data, err := Marshal(entries)
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, entries, decoded)

	empty, err := Unmarshal(nil)
	require.NoError(t, err)
	require.Empty(t, empty)
}
