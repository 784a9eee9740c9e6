// Package procurement owns purchase orders and the derived goods-receipt
// status recomputed from their lines.
package procurement

import (
	"errors"
	"time"
)

// POStatus is the purchase order lifecycle.
type POStatus string

const (
	POStatusDraft     POStatus = "DRAFT"
	POStatusIssued    POStatus = "ISSUED"
	POStatusClosed    POStatus = "CLOSED"
	POStatusCancelled POStatus = "CANCELLED"
)

// GRStatus is the derived goods-receipt status on a purchase order. It is
// a pure function of the line claims, recomputed from scratch on every
// change so that it can never drift.
type GRStatus string

const (
	GRStatusNone              GRStatus = "NOT_RECEIVED"
	GRStatusCreated           GRStatus = "CREATED"
	GRStatusPartiallyReceived GRStatus = "PARTIALLY_RECEIVED"
	GRStatusFullyReceived     GRStatus = "FULLY_RECEIVED"
	GRStatusCancelled         GRStatus = "CANCELLED"
)

// PurchaseOrder domain model.
type PurchaseOrder struct {
	ID             int64
	Number         string
	SupplierID     int64
	PlantID        int64
	OrganizationID int64
	Status         POStatus
	GRStatus       GRStatus
	ExpectedDate   time.Time
	Note           string
	CreatedBy      int64
	CreatedAt      time.Time
}

// POLine carries the ordered quantity plus the receipt claims against it.
// CreatedReceivedQty is quantity claimed by receipts still in Created
// status; ReceivedQty is quantity claimed by Completed receipts.
type POLine struct {
	ID                 int64
	POID               int64
	MaterialID         int64
	Qty                float64
	UOMID              string
	Price              float64
	CreatedReceivedQty float64
	ReceivedQty        float64
	Note               string
}

// Outstanding returns the quantity not yet claimed by any receipt.
func (l POLine) Outstanding() float64 {
	remaining := l.Qty - l.ReceivedQty - l.CreatedReceivedQty
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ClaimKind distinguishes the two receipt claim counters on a PO line.
type ClaimKind string

const (
	ClaimCreated  ClaimKind = "CREATED"
	ClaimReceived ClaimKind = "RECEIVED"
)

// ClaimAdjustment is one signed change to a line's claim counters.
// Negative quantities release a prior claim; counters floor at zero.
type ClaimAdjustment struct {
	LineID   int64
	Kind     ClaimKind
	Quantity float64
}

// ErrPONotFound indicates a missing purchase order.
var ErrPONotFound = errors.New("procurement: purchase order not found")

// ErrInvalidQuantity indicates a non-positive ordered quantity.
var ErrInvalidQuantity = errors.New("procurement: quantity must be positive")
