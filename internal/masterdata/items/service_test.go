package items

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atlas-wms/atlas-wms/internal/balance"
	"github.com/atlas-wms/atlas-wms/internal/uom"
)

func validItem() Item {
	return Item{
		Code:      "MAT-001",
		Name:      "Widget",
		BaseUOMID: "EA",
		Conversions: uom.Table{
			{AltUOMID: "BOX", AltQty: 1, BaseQty: 12},
		},
		DefaultBins: []DefaultBin{{PlantID: 1, LocationID: 10}},
	}
}

func TestValidateItem(t *testing.T) {
	svc := NewService(nil)

	require.NoError(t, svc.validate(validItem()))

	item := validItem()
	item.Code = " "
	require.Error(t, svc.validate(item))

	item = validItem()
	item.BaseUOMID = ""
	require.Error(t, svc.validate(item))

	item = validItem()
	item.BatchManagement = true
	item.SerialManagement = true
	require.Error(t, svc.validate(item))

	item = validItem()
	item.Conversions = append(item.Conversions, uom.Conversion{AltUOMID: "BOX", AltQty: 2, BaseQty: 24})
	require.Error(t, svc.validate(item))

	item = validItem()
	item.Conversions[0].BaseQty = 0
	require.Error(t, svc.validate(item))

	item = validItem()
	item.DefaultBins = append(item.DefaultBins, DefaultBin{PlantID: 1, LocationID: 11})
	require.Error(t, svc.validate(item))
}

func TestItemShape(t *testing.T) {
	item := validItem()
	require.Equal(t, balance.ShapePlain, item.Shape())
	item.BatchManagement = true
	require.Equal(t, balance.ShapeBatch, item.Shape())
	item.SerialManagement = true
	require.Equal(t, balance.ShapeSerial, item.Shape())
}

func TestItemConversionHelpers(t *testing.T) {
	item := validItem()
	require.InDelta(t, 24, item.ToBase(2, "BOX"), 0.0001)
	require.InDelta(t, 2, item.FromBase(24, "BOX"), 0.0001)
	require.InDelta(t, 7, item.ToBase(7, "EA"), 0.0001)
}

func TestDefaultBinFor(t *testing.T) {
	item := validItem()
	require.Equal(t, int64(10), item.DefaultBinFor(1))
	require.Zero(t, item.DefaultBinFor(99))
}
