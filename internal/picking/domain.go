// Package picking owns transfer orders: documents that move stock
// between storage bins inside a plant. Lines carry a planned pick
// quantity; the picked quantity may be edited downwards while picking is
// in progress, which redistributes the planned entries proportionally.
package picking

import (
	"errors"
	"time"

	"github.com/atlas-wms/atlas-wms/internal/allocation"
)

// Status is the transfer order picking lifecycle.
type Status string

const (
	StatusCreated        Status = "CREATED"
	StatusInProgress     Status = "IN_PROGRESS"
	StatusCompleted      Status = "COMPLETED"
	StatusForceCompleted Status = "FORCE_COMPLETED"
	StatusCancelled      Status = "CANCELLED"
)

// CanPick reports whether picked quantities may still change.
func (s Status) CanPick() bool {
	return s == StatusCreated || s == StatusInProgress
}

// CanComplete reports whether the order can be committed.
func (s Status) CanComplete() bool {
	return s == StatusCreated || s == StatusInProgress
}

// CanCancel reports whether the order can be cancelled.
func (s Status) CanCancel() bool {
	return s != StatusCancelled
}

// TransferOrder moves stock from source bins to one destination bin.
type TransferOrder struct {
	ID             int64      `json:"id"`
	Number         string     `json:"number"`
	PlantID        int64      `json:"plant_id"`
	OrganizationID int64      `json:"organization_id"`
	DestLocationID int64      `json:"dest_location_id"`
	Status         Status     `json:"picking_status"`
	Note           string     `json:"note,omitempty"`
	CreatedBy      int64      `json:"created_by"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Lines          []Line     `json:"lines,omitempty"`
}

// Line is one item to pick. QtyToPick is the planned base quantity;
// PickedQty tracks what was actually picked and drives the proportional
// redistribution of Entries.
type Line struct {
	ID         int64              `json:"id"`
	OrderID    int64              `json:"order_id"`
	MaterialID int64              `json:"material_id"`
	QtyToPick  float64            `json:"qty_to_pick"`
	PickedQty  float64            `json:"picked_qty"`
	UOMID      string             `json:"uom_id"`
	Entries    []allocation.Entry `json:"entries,omitempty"`
}

// Short reports whether the line was picked below plan.
func (l Line) Short() bool {
	return l.PickedQty < l.QtyToPick-0.0005
}

var (
	// ErrOrderNotFound indicates a missing transfer order.
	ErrOrderNotFound = errors.New("picking: transfer order not found")
	// ErrStatusTransition indicates an operation invalid for the current
	// status.
	ErrStatusTransition = errors.New("picking: operation not allowed in current status")
	// ErrForceCompleteConfirm indicates short-picked lines need the force
	// flag on retry.
	ErrForceCompleteConfirm = errors.New("picking: short-picked lines need force-complete confirmation")
	// ErrWorkflowRejected indicates a non-retryable workflow verdict.
	ErrWorkflowRejected = errors.New("picking: workflow rejected commit")
)
