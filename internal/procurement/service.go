package procurement

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/atlas-wms/atlas-wms/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPO(ctx context.Context, id int64) (PurchaseOrder, []POLine, error)
	ListPOs(ctx context.Context, limit, offset int) ([]PurchaseOrder, int, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates purchase order operations.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// CreatePOLineInput describes one requested line.
type CreatePOLineInput struct {
	MaterialID int64
	Qty        float64
	UOMID      string
	Price      float64
	Note       string
}

// CreatePOInput describes a purchase order request.
type CreatePOInput struct {
	Number         string
	SupplierID     int64
	PlantID        int64
	OrganizationID int64
	ExpectedDate   time.Time
	Note           string
	ActorID        int64
	Lines          []CreatePOLineInput
}

// Create validates and persists a purchase order with its lines.
func (s *Service) Create(ctx context.Context, input CreatePOInput) (PurchaseOrder, error) {
	if input.SupplierID == 0 || input.PlantID == 0 || input.OrganizationID == 0 {
		return PurchaseOrder{}, errors.New("procurement: supplier, plant and organization required")
	}
	if len(input.Lines) == 0 {
		return PurchaseOrder{}, errors.New("procurement: at least one line required")
	}
	for i, line := range input.Lines {
		if line.MaterialID == 0 {
			return PurchaseOrder{}, fmt.Errorf("procurement: line %d missing material", i)
		}
		if line.Qty <= 0 {
			return PurchaseOrder{}, fmt.Errorf("line %d: %w", i, ErrInvalidQuantity)
		}
	}
	number := input.Number
	if number == "" {
		number = fmt.Sprintf("PO-%s", uuid.NewString()[:8])
	}
	po := PurchaseOrder{
		Number:         number,
		SupplierID:     input.SupplierID,
		PlantID:        input.PlantID,
		OrganizationID: input.OrganizationID,
		Status:         POStatusIssued,
		GRStatus:       GRStatusNone,
		ExpectedDate:   input.ExpectedDate,
		Note:           input.Note,
		CreatedBy:      input.ActorID,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreatePO(ctx, po)
		if err != nil {
			return err
		}
		po.ID = id
		for _, line := range input.Lines {
			if _, err := tx.InsertPOLine(ctx, POLine{
				POID:       id,
				MaterialID: line.MaterialID,
				Qty:        line.Qty,
				UOMID:      line.UOMID,
				Price:      line.Price,
				Note:       line.Note,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "procurement:po_create",
			Entity:   "purchase_order",
			EntityID: po.Number,
			Meta:     map[string]any{"supplier_id": po.SupplierID, "lines": len(input.Lines)},
		})
	}
	return po, nil
}

// Get loads a purchase order with lines.
func (s *Service) Get(ctx context.Context, id int64) (PurchaseOrder, []POLine, error) {
	if id <= 0 {
		return PurchaseOrder{}, nil, ErrPONotFound
	}
	return s.repo.GetPO(ctx, id)
}

// List pages through purchase orders.
func (s *Service) List(ctx context.Context, limit, offset int) ([]PurchaseOrder, int, error) {
	return s.repo.ListPOs(ctx, limit, offset)
}

// AdjustClaims applies receipt claim deltas to PO lines and recomputes
// the goods-receipt status in the same transaction. Returns the status
// after reconciliation.
func (s *Service) AdjustClaims(ctx context.Context, poID int64, adjustments []ClaimAdjustment, actorID int64) (GRStatus, error) {
	if poID <= 0 {
		return "", ErrPONotFound
	}
	if len(adjustments) == 0 {
		return "", errors.New("procurement: no claim adjustments")
	}
	for i, adj := range adjustments {
		if adj.LineID == 0 {
			return "", fmt.Errorf("procurement: adjustment %d missing line", i)
		}
		if math.Abs(adj.Quantity) < 1e-9 {
			return "", fmt.Errorf("adjustment %d: %w", i, ErrInvalidQuantity)
		}
	}
	var status GRStatus
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetPOForUpdate(ctx, poID); err != nil {
			return err
		}
		for _, adj := range adjustments {
			if err := tx.AdjustLineClaim(ctx, adj.LineID, adj.Kind, adj.Quantity); err != nil {
				return err
			}
		}
		lines, err := tx.GetPOLinesForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		status = ReconcileGRStatus(lines, true)
		return tx.UpdateGRStatus(ctx, poID, status)
	})
	if err != nil {
		return "", err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "procurement:claims_adjust",
			Entity:   "purchase_order",
			EntityID: fmt.Sprintf("%d", poID),
			Meta:     map[string]any{"adjustments": len(adjustments), "gr_status": string(status)},
		})
	}
	return status, nil
}

// Cancel marks an order cancelled. Orders with receipt claims cannot be
// cancelled until those receipts are reversed.
func (s *Service) Cancel(ctx context.Context, id int64, actorID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetPOForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if po.Status == POStatusClosed || po.Status == POStatusCancelled {
			return fmt.Errorf("procurement: order %s cannot be cancelled in status %s", po.Number, po.Status)
		}
		lines, err := tx.GetPOLinesForUpdate(ctx, id)
		if err != nil {
			return err
		}
		for _, line := range lines {
			if line.CreatedReceivedQty > 0.0005 || line.ReceivedQty > 0.0005 {
				return fmt.Errorf("procurement: order %s has receipt claims, reverse receipts first", po.Number)
			}
		}
		return tx.UpdatePOStatus(ctx, id, POStatusCancelled)
	})
}
