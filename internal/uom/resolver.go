// Package uom converts quantities between an item's base unit and its
// alternate units of measure.
package uom

import "math"

// Conversion declares that AltQty units of AltUOMID equal BaseQty units
// of the item's base unit.
type Conversion struct {
	AltUOMID string  `json:"alt_uom_id"`
	AltQty   float64 `json:"alt_qty"`
	BaseQty  float64 `json:"base_qty"`
}

// Table is an item's ordered conversion table.
type Table []Conversion

// Find returns the conversion entry for the given unit.
func (t Table) Find(uomID string) (Conversion, bool) {
	for _, c := range t {
		if c.AltUOMID == uomID {
			return c, true
		}
	}
	return Conversion{}, false
}

// Round3 rounds to three decimal places, the precision carried on all
// allocation quantities.
func Round3(qty float64) float64 {
	return math.Round(qty*1000) / 1000
}

// ToBase converts qty expressed in uomID into base units. Quantities in an
// unknown unit are treated as already expressed in base units.
func ToBase(qty float64, uomID string, table Table, baseUOMID string) float64 {
	if uomID == baseUOMID || uomID == "" {
		return qty
	}
	conv, ok := table.Find(uomID)
	if !ok || conv.AltQty == 0 {
		return qty
	}
	return Round3(qty * conv.BaseQty / conv.AltQty)
}

// FromBase converts qty expressed in base units into targetUOMID.
func FromBase(qty float64, baseUOMID string, table Table, targetUOMID string) float64 {
	if targetUOMID == baseUOMID || targetUOMID == "" {
		return qty
	}
	conv, ok := table.Find(targetUOMID)
	if !ok || conv.BaseQty == 0 {
		return qty
	}
	return Round3(qty * conv.AltQty / conv.BaseQty)
}
