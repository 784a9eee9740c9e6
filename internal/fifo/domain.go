// Package fifo tracks per-item costing lots consumed oldest sequence
// first.
package fifo

import (
	"errors"
	"math"
	"time"
)

// CostingRecord is one lot in fifo_costing_history. Sequence ascends with
// age: the lowest sequence is the oldest lot.
type CostingRecord struct {
	ID             int64
	MaterialID     int64
	PlantID        int64
	OrganizationID int64
	BatchID        string
	Sequence       int64
	AvailableQty   float64
	UnitCost       float64
	ReceivedAt     time.Time
}

// Draw records quantity taken from one lot.
type Draw struct {
	RecordID  int64
	Sequence  int64
	Quantity  float64
	UnitCost  float64
	Remaining float64
}

// Consumption is the outcome of a FIFO walk. Shortfall is reported, not
// raised: under-availability is a warning condition.
type Consumption struct {
	Draws     []Draw
	Consumed  float64
	Shortfall float64
}

// ErrInvalidQuantity indicates a non-positive requested quantity.
var ErrInvalidQuantity = errors.New("fifo: quantity must be positive")

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
