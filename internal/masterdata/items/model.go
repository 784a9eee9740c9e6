// Package items holds the material master records referenced by all
// inventory movements.
package items

import (
	"time"

	"github.com/atlas-wms/atlas-wms/internal/balance"
	"github.com/atlas-wms/atlas-wms/internal/uom"
)

// DefaultBin assigns a putaway bin to an item for one plant.
type DefaultBin struct {
	PlantID    int64 `json:"plant_id"`
	LocationID int64 `json:"location_id"`
}

// Item is a material master record. Immutable once referenced by
// transactions except for administrative correction.
type Item struct {
	ID               int64        `json:"id"`
	Code             string       `json:"code"`
	Name             string       `json:"name"`
	BaseUOMID        string       `json:"base_uom_id"`
	BatchManagement  bool         `json:"item_batch_management"`
	SerialManagement bool         `json:"serial_number_management"`
	StockControl     bool         `json:"stock_control"`
	Conversions      uom.Table    `json:"table_uom_conversion"`
	DefaultBins      []DefaultBin `json:"default_bins,omitempty"`
	IsActive         bool         `json:"is_active"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// Shape returns the balance collection this item's stock lives in.
func (i Item) Shape() balance.Shape {
	return balance.ShapeFor(i.BatchManagement, i.SerialManagement)
}

// DefaultBinFor returns the configured bin for the plant, zero when none.
func (i Item) DefaultBinFor(plantID int64) int64 {
	for _, bin := range i.DefaultBins {
		if bin.PlantID == plantID {
			return bin.LocationID
		}
	}
	return 0
}

// ToBase converts a quantity in the given unit into the item's base unit.
func (i Item) ToBase(qty float64, uomID string) float64 {
	return uom.ToBase(qty, uomID, i.Conversions, i.BaseUOMID)
}

// FromBase converts a base-unit quantity into the given unit.
func (i Item) FromBase(qty float64, uomID string) float64 {
	return uom.FromBase(qty, i.BaseUOMID, i.Conversions, uomID)
}
