package balance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindOneMissingIsZero(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store)

	rec, ok, err := svc.FindOne(context.Background(), Key{MaterialID: 1, PlantID: 1, OrganizationID: 1, LocationID: 10})
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, rec.BalanceQty)
}

func TestFindOneMatchesExactKey(t *testing.T) {
	store := newMemoryStore()
	key := Key{MaterialID: 1, PlantID: 1, OrganizationID: 1, LocationID: 10}
	other := Key{MaterialID: 1, PlantID: 1, OrganizationID: 1, LocationID: 11}
	seed(t, store, key, CategoryUnrestricted, 8)
	seed(t, store, other, CategoryUnrestricted, 3)

	svc := NewService(store)
	rec, ok, err := svc.FindOne(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 8, rec.UnrestrictedQty, 0.0001)
}
