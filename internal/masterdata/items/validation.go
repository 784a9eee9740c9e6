package items

import (
	"errors"
	"fmt"
	"strings"
)

func (s *Service) validate(item Item) error {
	if strings.TrimSpace(item.Code) == "" {
		return errors.New("item code is required")
	}
	if strings.TrimSpace(item.Name) == "" {
		return errors.New("item name is required")
	}
	if strings.TrimSpace(item.BaseUOMID) == "" {
		return errors.New("base unit of measure is required")
	}
	if item.SerialManagement && item.BatchManagement {
		return errors.New("item cannot be both batch and serial managed")
	}
	seen := map[string]bool{}
	for i, conv := range item.Conversions {
		if conv.AltUOMID == "" {
			return fmt.Errorf("conversion %d: alternate unit is required", i)
		}
		if conv.AltUOMID == item.BaseUOMID {
			return fmt.Errorf("conversion %d: alternate unit equals base unit", i)
		}
		if conv.AltQty <= 0 || conv.BaseQty <= 0 {
			return fmt.Errorf("conversion %d: quantities must be positive", i)
		}
		if seen[conv.AltUOMID] {
			return fmt.Errorf("conversion %d: duplicate unit %s", i, conv.AltUOMID)
		}
		seen[conv.AltUOMID] = true
	}
	plants := map[int64]bool{}
	for i, bin := range item.DefaultBins {
		if bin.PlantID <= 0 || bin.LocationID <= 0 {
			return fmt.Errorf("default bin %d: plant and location are required", i)
		}
		if plants[bin.PlantID] {
			return fmt.Errorf("default bin %d: duplicate plant %d", i, bin.PlantID)
		}
		plants[bin.PlantID] = true
	}
	return nil
}
