// Package delivery owns goods deliveries: outbound documents whose lines
// are allocated against balances oldest stock first and which consume
// FIFO costing lots when completed.
package delivery

import (
	"errors"
	"time"

	"github.com/atlas-wms/atlas-wms/internal/allocation"
	"github.com/atlas-wms/atlas-wms/internal/fifo"
)

// Status is the goods delivery lifecycle.
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

// CanComplete reports whether the delivery can be committed.
func (s Status) CanComplete() bool {
	return s == StatusCreated
}

// CanCancel reports whether the delivery can be cancelled.
func (s Status) CanCancel() bool {
	return s == StatusCreated || s == StatusCompleted
}

// GoodsDelivery documents stock leaving a plant for a customer.
type GoodsDelivery struct {
	ID             int64      `json:"id"`
	Number         string     `json:"number"`
	CustomerID     int64      `json:"customer_id"`
	PlantID        int64      `json:"plant_id"`
	OrganizationID int64      `json:"organization_id"`
	Status         Status     `json:"status"`
	DeliveryDate   time.Time  `json:"delivery_date"`
	Note           string     `json:"note,omitempty"`
	CreatedBy      int64      `json:"created_by"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Lines          []Line     `json:"lines,omitempty"`
}

// Line is one delivered item. Entries hold the planned draw against
// balance records; Draws record the costing lots consumed at completion
// so a cancellation can credit them back exactly.
type Line struct {
	ID         int64              `json:"id"`
	DeliveryID int64              `json:"delivery_id"`
	MaterialID int64              `json:"material_id"`
	Qty        float64            `json:"gd_quantity"`
	UOMID      string             `json:"uom_id"`
	BaseQty    float64            `json:"base_qty"`
	Shortfall  float64            `json:"shortfall,omitempty"`
	Entries    []allocation.Entry `json:"entries,omitempty"`
	Draws      []fifo.Draw        `json:"draws,omitempty"`
}

var (
	// ErrDeliveryNotFound indicates a missing goods delivery.
	ErrDeliveryNotFound = errors.New("delivery: goods delivery not found")
	// ErrStatusTransition indicates an operation invalid for the current
	// status.
	ErrStatusTransition = errors.New("delivery: operation not allowed in current status")
	// ErrWorkflowRejected indicates a non-retryable workflow verdict.
	ErrWorkflowRejected = errors.New("delivery: workflow rejected commit")
)
