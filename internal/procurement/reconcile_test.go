package procurement

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func line(qty, created, received float64) POLine {
	return POLine{Qty: qty, CreatedReceivedQty: created, ReceivedQty: received}
}

func TestReconcileGRStatus(t *testing.T) {
	cases := []struct {
		name        string
		lines       []POLine
		hadReceipts bool
		want        GRStatus
	}{
		{"no lines", nil, false, GRStatusNone},
		{"untouched order", []POLine{line(10, 0, 0)}, false, GRStatusNone},
		{"created claim wins over everything", []POLine{line(10, 2, 8), line(5, 0, 5)}, true, GRStatusCreated},
		{"all lines fully received", []POLine{line(10, 0, 10), line(5, 0, 5)}, true, GRStatusFullyReceived},
		{"one line partial", []POLine{line(10, 0, 4), line(5, 0, 5)}, true, GRStatusPartiallyReceived},
		{"receipts existed but were all cancelled", []POLine{line(10, 0, 0)}, true, GRStatusCancelled},
		{"rounding slack still counts as full", []POLine{line(10, 0, 9.9997)}, true, GRStatusFullyReceived},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ReconcileGRStatus(tc.lines, tc.hadReceipts))
		})
	}
}

func TestReconcileGRStatusIsOrderIndependent(t *testing.T) {
	a := line(10, 0, 4)
	b := line(5, 0, 5)
	require.Equal(t, ReconcileGRStatus([]POLine{a, b}, true), ReconcileGRStatus([]POLine{b, a}, true))
}

func TestOutstandingFloorsAtZero(t *testing.T) {
	l := line(10, 3, 4)
	require.InDelta(t, 3.0, l.Outstanding(), 0.0005)

	over := line(10, 0, 12)
	require.InDelta(t, 0.0, over.Outstanding(), 0.0005)
}
