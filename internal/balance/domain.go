// Package balance maintains per-item stock balance records split into
// inventory categories.
package balance

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Category identifies one sub-quantity bucket of a balance record.
type Category string

const (
	CategoryUnrestricted Category = "UNRESTRICTED"
	CategoryReserved     Category = "RESERVED"
	CategoryBlocked      Category = "BLOCKED"
	CategoryQualityInsp  Category = "QUALITY_INSPECTION"
	CategoryInTransit    Category = "IN_TRANSIT"
)

// IsValid checks if the category is one of the known buckets.
func (c Category) IsValid() bool {
	switch c {
	case CategoryUnrestricted, CategoryReserved, CategoryBlocked, CategoryQualityInsp, CategoryInTransit:
		return true
	default:
		return false
	}
}

// Shape selects which balance collection a record lives in.
type Shape string

const (
	ShapePlain  Shape = "item_balance"
	ShapeBatch  Shape = "item_batch_balance"
	ShapeSerial Shape = "item_serial_balance"
)

// ShapeFor resolves the record shape from the item's management flags.
// Serial management wins over batch management.
func ShapeFor(batchManaged, serialManaged bool) Shape {
	if serialManaged {
		return ShapeSerial
	}
	if batchManaged {
		return ShapeBatch
	}
	return ShapePlain
}

// Key identifies one balance record. BatchID and SerialNumber are only set
// for the batch and serial shapes respectively.
type Key struct {
	MaterialID     int64  `json:"material_id"`
	PlantID        int64  `json:"plant_id"`
	OrganizationID int64  `json:"organization_id"`
	LocationID     int64  `json:"location_id"`
	BatchID        string `json:"batch_id,omitempty"`
	SerialNumber   string `json:"serial_number,omitempty"`
}

// Shape derives the collection from the key fields.
func (k Key) Shape() Shape {
	if k.SerialNumber != "" {
		return ShapeSerial
	}
	if k.BatchID != "" {
		return ShapeBatch
	}
	return ShapePlain
}

// String renders the key for lock names and log lines.
func (k Key) String() string {
	return fmt.Sprintf("%d:%d:%d:%d:%s:%s", k.MaterialID, k.OrganizationID, k.PlantID, k.LocationID, k.BatchID, k.SerialNumber)
}

// Record is one stock balance snapshot. BalanceQty must always equal the
// sum of the category sub-quantities.
type Record struct {
	Key
	UnrestrictedQty float64   `json:"unrestricted_qty"`
	ReservedQty     float64   `json:"reserved_qty"`
	BlockQty        float64   `json:"block_qty"`
	QualityInspQty  float64   `json:"qualityinsp_qty"`
	InTransitQty    float64   `json:"intransit_qty"`
	BalanceQty      float64   `json:"balance_quantity"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CategoryQty returns the sub-quantity for the category.
func (r Record) CategoryQty(c Category) float64 {
	switch c {
	case CategoryUnrestricted:
		return r.UnrestrictedQty
	case CategoryReserved:
		return r.ReservedQty
	case CategoryBlocked:
		return r.BlockQty
	case CategoryQualityInsp:
		return r.QualityInspQty
	case CategoryInTransit:
		return r.InTransitQty
	default:
		return 0
	}
}

// AddCategory applies a signed delta to one category bucket and to the
// derived balance quantity.
func (r *Record) AddCategory(c Category, delta float64) error {
	if !c.IsValid() {
		return fmt.Errorf("balance: unknown category %q", c)
	}
	switch c {
	case CategoryUnrestricted:
		r.UnrestrictedQty = round3(r.UnrestrictedQty + delta)
	case CategoryReserved:
		r.ReservedQty = round3(r.ReservedQty + delta)
	case CategoryBlocked:
		r.BlockQty = round3(r.BlockQty + delta)
	case CategoryQualityInsp:
		r.QualityInspQty = round3(r.QualityInspQty + delta)
	case CategoryInTransit:
		r.InTransitQty = round3(r.InTransitQty + delta)
	}
	r.BalanceQty = round3(r.BalanceQty + delta)
	return nil
}

// Check verifies the conservation invariant.
func (r Record) Check() error {
	sum := r.UnrestrictedQty + r.ReservedQty + r.BlockQty + r.QualityInspQty + r.InTransitQty
	if math.Abs(sum-r.BalanceQty) > 0.0005 {
		return fmt.Errorf("balance: record %s out of balance: categories sum %.3f, balance_quantity %.3f", r.Key, sum, r.BalanceQty)
	}
	return nil
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// ErrRecordNotFound indicates a missing balance row. Query callers must
// treat it as zero available, not as a failure.
var ErrRecordNotFound = errors.New("balance: record not found")

// ErrInsufficientBalance triggered in strict mode when an issue would
// drive a category below zero.
var ErrInsufficientBalance = errors.New("balance: insufficient quantity")
