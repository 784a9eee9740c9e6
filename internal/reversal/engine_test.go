package reversal

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atlas-wms/atlas-wms/internal/allocation"
	"github.com/atlas-wms/atlas-wms/internal/balance"
)

type recordedRelease struct {
	parentID int64
	releases []ClaimRelease
}

type fakeParents struct {
	calls   []recordedRelease
	failFor map[int64]error
}

func (f *fakeParents) Release(_ context.Context, parentID int64, releases []ClaimRelease, _ int64) error {
	f.calls = append(f.calls, recordedRelease{parentID: parentID, releases: releases})
	if err, ok := f.failFor[parentID]; ok {
		return err
	}
	return nil
}

type fakeMutator struct {
	deltas []balance.Delta
	dir    balance.Direction
}

func (f *fakeMutator) Apply(_ context.Context, deltas []balance.Delta, dir balance.Direction) balance.Report {
	f.deltas = deltas
	f.dir = dir
	report := balance.Report{}
	for _, d := range deltas {
		report.Results = append(report.Results, balance.Result{Delta: d})
	}
	return report
}

func key(loc int64) balance.Key {
	return balance.Key{MaterialID: 7, PlantID: 1, OrganizationID: 1, LocationID: loc}
}

func TestReverseReleasesGroupsAndInvertsBalances(t *testing.T) {
	parents := &fakeParents{}
	mutator := &fakeMutator{}
	engine := NewEngine(parents, mutator, nil)

	doc := Document{
		ID:        "GR-9",
		AppliedAs: balance.DirectionReceive,
		Lines: []Line{
			{ParentID: 2, ParentLineID: 21, ClaimKind: "RECEIVED", Fulfilled: 5, Entries: []allocation.Entry{
				{Key: key(101), Category: balance.CategoryUnrestricted, Quantity: 5},
			}},
			{ParentID: 1, ParentLineID: 11, ClaimKind: "RECEIVED", Fulfilled: 3, Entries: []allocation.Entry{
				{Key: key(102), Category: balance.CategoryUnrestricted, Quantity: 3},
			}},
			{ParentID: 1, ParentLineID: 11, ClaimKind: "RECEIVED", Fulfilled: 2, Entries: []allocation.Entry{
				{Key: key(102), Category: balance.CategoryUnrestricted, Quantity: 2},
			}},
		},
	}

	report, err := engine.Reverse(context.Background(), doc, 99)
	require.NoError(t, err)
	require.NoError(t, report.Err())

	// Parents processed in ascending id order, same-line claims summed.
	require.Len(t, parents.calls, 2)
	require.Equal(t, int64(1), parents.calls[0].parentID)
	require.Equal(t, []ClaimRelease{{LineID: 11, Kind: "RECEIVED", Quantity: 5}}, parents.calls[0].releases)
	require.Equal(t, int64(2), parents.calls[1].parentID)

	// A received document reverses as an issue.
	require.Equal(t, balance.DirectionIssue, mutator.dir)
	require.Len(t, mutator.deltas, 3)
}

func TestReverseContinuesPastFailedGroup(t *testing.T) {
	boom := errors.New("parent locked")
	parents := &fakeParents{failFor: map[int64]error{1: boom}}
	mutator := &fakeMutator{}
	engine := NewEngine(parents, mutator, nil)

	doc := Document{
		ID:        "GD-3",
		AppliedAs: balance.DirectionIssue,
		Lines: []Line{
			{ParentID: 1, ParentLineID: 10, ClaimKind: "RECEIVED", Fulfilled: 1},
			{ParentID: 2, ParentLineID: 20, ClaimKind: "RECEIVED", Fulfilled: 1, Entries: []allocation.Entry{
				{Key: key(101), Category: balance.CategoryReserved, Quantity: 1},
			}},
		},
	}

	report, err := engine.Reverse(context.Background(), doc, 0)
	require.NoError(t, err)
	require.Len(t, parents.calls, 2, "second group still processed")
	require.Len(t, report.Groups, 2)
	require.ErrorIs(t, report.Groups[0].Err, boom)
	require.NoError(t, report.Groups[1].Err)
	require.ErrorIs(t, report.Err(), boom)

	// Balances are restored regardless of the failed claim release.
	require.Equal(t, balance.DirectionReceive, mutator.dir)
	require.Len(t, mutator.deltas, 1)
}

func TestReverseEmptyDocument(t *testing.T) {
	engine := NewEngine(nil, &fakeMutator{}, nil)
	_, err := engine.Reverse(context.Background(), Document{ID: "GD-0"}, 0)
	require.ErrorIs(t, err, balance.ErrNothingToApply)
}

func TestReverseLinesWithoutParent(t *testing.T) {
	mutator := &fakeMutator{}
	engine := NewEngine(nil, mutator, nil)

	doc := Document{
		ID:        "TO-4",
		AppliedAs: balance.DirectionIssue,
		Lines: []Line{
			{Entries: []allocation.Entry{{Key: key(101), Category: balance.CategoryUnrestricted, Quantity: 4}}},
		},
	}
	report, err := engine.Reverse(context.Background(), doc, 0)
	require.NoError(t, err)
	require.Empty(t, report.Groups)
	require.NoError(t, report.Err())
	require.Equal(t, balance.DirectionReceive, mutator.dir)
}
