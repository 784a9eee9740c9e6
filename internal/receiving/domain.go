// Package receiving owns goods receipts booked against purchase orders.
// A receipt plans its putaway when created, claims quantity on the order,
// and moves stock plus a FIFO costing lot when completed.
package receiving

import (
	"errors"
	"time"

	"github.com/atlas-wms/atlas-wms/internal/allocation"
)

// Status is the goods receipt lifecycle.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusCreated   Status = "CREATED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// CanEdit reports whether line quantities may still change.
func (s Status) CanEdit() bool {
	return s == StatusDraft || s == StatusCreated
}

// CanComplete reports whether the receipt can be committed.
func (s Status) CanComplete() bool {
	return s == StatusCreated
}

// CanCancel reports whether the receipt can be cancelled. Completed
// receipts cancel through a full reversal.
func (s Status) CanCancel() bool {
	return s == StatusCreated || s == StatusCompleted
}

// GoodsReceipt documents stock arriving against one purchase order.
type GoodsReceipt struct {
	ID             int64      `json:"id"`
	Number         string     `json:"number"`
	POID           int64      `json:"po_id"`
	PlantID        int64      `json:"plant_id"`
	OrganizationID int64      `json:"organization_id"`
	Status         Status     `json:"status"`
	ReceivedDate   time.Time  `json:"received_date"`
	Note           string     `json:"note,omitempty"`
	CreatedBy      int64      `json:"created_by"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Lines          []Line     `json:"lines,omitempty"`
}

// Line is one received PO line. Qty is in the document unit; BaseQty is
// the converted base-unit quantity the putaway entries sum to. FIFOLotID
// points at the costing lot appended on completion, zero before that.
type Line struct {
	ID         int64              `json:"id"`
	ReceiptID  int64              `json:"receipt_id"`
	POLineID   int64              `json:"po_line_id"`
	MaterialID int64              `json:"material_id"`
	Qty        float64            `json:"qty"`
	UOMID      string             `json:"uom_id"`
	BaseQty    float64            `json:"base_qty"`
	UnitCost   float64            `json:"unit_cost"`
	BatchID    string             `json:"batch_id,omitempty"`
	FIFOLotID  int64              `json:"fifo_lot_id,omitempty"`
	Entries    []allocation.Entry `json:"entries,omitempty"`
}

var (
	// ErrReceiptNotFound indicates a missing goods receipt.
	ErrReceiptNotFound = errors.New("receiving: goods receipt not found")
	// ErrStatusTransition indicates an operation invalid for the current
	// status.
	ErrStatusTransition = errors.New("receiving: operation not allowed in current status")
	// ErrZeroQuantityConfirm indicates the workflow paused on zero-quantity
	// lines and needs the confirmation flag on retry.
	ErrZeroQuantityConfirm = errors.New("receiving: zero-quantity lines need confirmation")
	// ErrWorkflowRejected indicates a non-retryable workflow verdict.
	ErrWorkflowRejected = errors.New("receiving: workflow rejected commit")
)
