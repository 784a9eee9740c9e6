// Package plants holds the plant master records. Each plant names the
// common storage bin used as putaway fallback when an item has no default
// bin configured.
package plants

import (
	"errors"
	"time"
)

// Plant represents one physical site holding stock.
type Plant struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organization_id"`
	Code           string    `json:"code"`
	Name           string    `json:"name"`
	CommonBinID    int64     `json:"common_bin_id"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ErrNoCommonBin indicates a plant without a configured common bin.
var ErrNoCommonBin = errors.New("plants: plant has no common bin configured")
