package receiving

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atlas-wms/atlas-wms/internal/allocation"
	"github.com/atlas-wms/atlas-wms/internal/balance"
	"github.com/atlas-wms/atlas-wms/internal/fifo"
	"github.com/atlas-wms/atlas-wms/internal/masterdata/items"
	"github.com/atlas-wms/atlas-wms/internal/procurement"
	"github.com/atlas-wms/atlas-wms/internal/reversal"
	"github.com/atlas-wms/atlas-wms/internal/shared"
	"github.com/atlas-wms/atlas-wms/internal/workflow"
)

// RepositoryPort abstracts receipt persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (GoodsReceipt, error)
	List(ctx context.Context, poID int64, limit, offset int) ([]GoodsReceipt, int, error)
}

// ItemPort resolves material master records.
type ItemPort interface {
	Get(ctx context.Context, id int64) (items.Item, error)
}

// OrderPort is the purchase order side: load for validation, adjust
// receipt claims with status reconciliation.
type OrderPort interface {
	Get(ctx context.Context, id int64) (procurement.PurchaseOrder, []procurement.POLine, error)
	AdjustClaims(ctx context.Context, poID int64, adjustments []procurement.ClaimAdjustment, actorID int64) (procurement.GRStatus, error)
}

// MutatorPort applies balance deltas.
type MutatorPort interface {
	Apply(ctx context.Context, deltas []balance.Delta, dir balance.Direction) balance.Report
}

// LotPort manages FIFO costing lots.
type LotPort interface {
	Receive(ctx context.Context, rec fifo.CostingRecord) (int64, error)
	Revoke(ctx context.Context, materialID, plantID, organizationID, recordID int64, qty float64) error
}

// PlantPort resolves the plant's common storage bin used as putaway
// fallback.
type PlantPort interface {
	CommonBin(ctx context.Context, plantID int64) (int64, error)
}

// IdemPort guards against double-submitted completions.
type IdemPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates goods receipt operations.
type Service struct {
	repo      RepositoryPort
	items     ItemPort
	orders    OrderPort
	mutator   MutatorPort
	lots      LotPort
	plants    PlantPort
	workflows workflow.Invoker
	idem      IdemPort
	audit     AuditPort
	logger    *slog.Logger
}

// ServiceDeps groups the collaborators wired at startup.
type ServiceDeps struct {
	Repo      RepositoryPort
	Items     ItemPort
	Orders    OrderPort
	Mutator   MutatorPort
	Lots      LotPort
	Plants    PlantPort
	Workflows workflow.Invoker
	Idem      IdemPort
	Audit     AuditPort
	Logger    *slog.Logger
}

// NewService builds Service.
func NewService(deps ServiceDeps) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		repo:      deps.Repo,
		items:     deps.Items,
		orders:    deps.Orders,
		mutator:   deps.Mutator,
		lots:      deps.Lots,
		plants:    deps.Plants,
		workflows: deps.Workflows,
		idem:      deps.Idem,
		audit:     deps.Audit,
		logger:    deps.Logger,
	}
}

// CreateLineInput is one requested receipt line, quantity in the document
// unit.
type CreateLineInput struct {
	POLineID int64
	Qty      float64
	UOMID    string
	BatchID  string
}

// CreateInput describes a goods receipt request.
type CreateInput struct {
	POID         int64
	ReceivedDate time.Time
	Note         string
	ActorID      int64
	Lines        []CreateLineInput
}

// Create validates the receipt against its purchase order, plans putaway
// per line and claims the received quantity on the order. The receipt
// starts in Created status; stock moves only on Complete.
func (s *Service) Create(ctx context.Context, input CreateInput) (GoodsReceipt, error) {
	if len(input.Lines) == 0 {
		return GoodsReceipt{}, errors.New("receiving: at least one line required")
	}
	po, poLines, err := s.orders.Get(ctx, input.POID)
	if err != nil {
		return GoodsReceipt{}, err
	}
	if po.Status != procurement.POStatusIssued {
		return GoodsReceipt{}, fmt.Errorf("receiving: order %s is %s, receipts need an issued order", po.Number, po.Status)
	}
	poLineByID := make(map[int64]procurement.POLine, len(poLines))
	for _, line := range poLines {
		poLineByID[line.ID] = line
	}

	gr := GoodsReceipt{
		Number:         fmt.Sprintf("GR-%s", uuid.NewString()[:8]),
		POID:           po.ID,
		PlantID:        po.PlantID,
		OrganizationID: po.OrganizationID,
		Status:         StatusCreated,
		ReceivedDate:   input.ReceivedDate,
		Note:           input.Note,
		CreatedBy:      input.ActorID,
	}

	lines := make([]Line, 0, len(input.Lines))
	adjustments := make([]procurement.ClaimAdjustment, 0, len(input.Lines))
	for i, in := range input.Lines {
		poLine, ok := poLineByID[in.POLineID]
		if !ok {
			return GoodsReceipt{}, fmt.Errorf("receiving: line %d references unknown order line %d", i, in.POLineID)
		}
		if in.Qty <= 0 {
			return GoodsReceipt{}, fmt.Errorf("receiving: line %d quantity must be positive", i)
		}
		line, err := s.planLine(ctx, po, poLine, in)
		if err != nil {
			return GoodsReceipt{}, err
		}
		if line.BaseQty > poLine.Outstanding()+0.0005 {
			return GoodsReceipt{}, fmt.Errorf("receiving: line %d receives %.3f, order line has %.3f outstanding", i, line.BaseQty, poLine.Outstanding())
		}
		lines = append(lines, line)
		adjustments = append(adjustments, procurement.ClaimAdjustment{
			LineID:   poLine.ID,
			Kind:     procurement.ClaimCreated,
			Quantity: line.BaseQty,
		})
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateReceipt(ctx, gr)
		if err != nil {
			return err
		}
		gr.ID = id
		for i := range lines {
			lines[i].ReceiptID = id
			lineID, err := tx.InsertLine(ctx, lines[i])
			if err != nil {
				return err
			}
			lines[i].ID = lineID
		}
		return nil
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	gr.Lines = lines

	if _, err := s.orders.AdjustClaims(ctx, po.ID, adjustments, input.ActorID); err != nil {
		return GoodsReceipt{}, fmt.Errorf("receiving: claim order quantity: %w", err)
	}
	s.recordAudit(ctx, input.ActorID, "receiving:create", gr.Number, map[string]any{"po_id": po.ID, "lines": len(lines)})
	return gr, nil
}

// planLine converts the requested quantity to base units and plans the
// putaway entry against the item's default bin.
func (s *Service) planLine(ctx context.Context, po procurement.PurchaseOrder, poLine procurement.POLine, in CreateLineInput) (Line, error) {
	item, err := s.items.Get(ctx, poLine.MaterialID)
	if err != nil {
		return Line{}, fmt.Errorf("receiving: load item %d: %w", poLine.MaterialID, err)
	}
	baseQty := item.ToBase(in.Qty, in.UOMID)
	key := balance.Key{
		MaterialID:     item.ID,
		PlantID:        po.PlantID,
		OrganizationID: po.OrganizationID,
	}
	if item.BatchManagement {
		key.BatchID = in.BatchID
	}
	commonBin, err := s.commonBin(ctx, po.PlantID)
	if err != nil {
		return Line{}, err
	}
	plan, err := allocation.PlanFixedBin(key, balance.CategoryUnrestricted, baseQty, item.DefaultBinFor(po.PlantID), commonBin, allocation.FallbackRandom)
	if err != nil {
		return Line{}, err
	}
	return Line{
		POLineID:   poLine.ID,
		MaterialID: item.ID,
		Qty:        in.Qty,
		UOMID:      in.UOMID,
		BaseQty:    baseQty,
		UnitCost:   poLine.Price,
		BatchID:    key.BatchID,
		Entries:    plan.Entries,
	}, nil
}

func (s *Service) commonBin(ctx context.Context, plantID int64) (int64, error) {
	if s.plants == nil {
		return 0, nil
	}
	return s.plants.CommonBin(ctx, plantID)
}

// SetLineQuantity replans one line for a new quantity while the receipt
// is still editable. Putaway entries are rewritten, not patched, and the
// order's created claim follows the delta.
func (s *Service) SetLineQuantity(ctx context.Context, receiptID, lineID int64, qty float64, actorID int64) (Line, error) {
	if qty <= 0 {
		return Line{}, errors.New("receiving: quantity must be positive")
	}
	var updated Line
	var claimDelta float64
	var poID int64
	var poLineID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		gr, err := tx.GetReceiptForUpdate(ctx, receiptID)
		if err != nil {
			return err
		}
		if !gr.Status.CanEdit() {
			return fmt.Errorf("%w: receipt %s is %s", ErrStatusTransition, gr.Number, gr.Status)
		}
		lines, err := tx.GetLinesForUpdate(ctx, receiptID)
		if err != nil {
			return err
		}
		for _, line := range lines {
			if line.ID != lineID {
				continue
			}
			item, err := s.items.Get(ctx, line.MaterialID)
			if err != nil {
				return err
			}
			newBase := item.ToBase(qty, line.UOMID)
			_, poLines, err := s.orders.Get(ctx, gr.POID)
			if err != nil {
				return err
			}
			for _, poLine := range poLines {
				if poLine.ID != line.POLineID {
					continue
				}
				// The line's current claim is part of CreatedReceivedQty, so
				// it is headroom for its own replacement.
				if newBase > poLine.Outstanding()+line.BaseQty+0.0005 {
					return fmt.Errorf("receiving: line %d receives %.3f, order line has %.3f outstanding", lineID, newBase, poLine.Outstanding()+line.BaseQty)
				}
			}
			claimDelta = newBase - line.BaseQty
			poID = gr.POID
			poLineID = line.POLineID

			key := balance.Key{
				MaterialID:     line.MaterialID,
				PlantID:        gr.PlantID,
				OrganizationID: gr.OrganizationID,
				BatchID:        line.BatchID,
			}
			commonBin, err := s.commonBin(ctx, gr.PlantID)
			if err != nil {
				return err
			}
			plan, err := allocation.PlanFixedBin(key, balance.CategoryUnrestricted, newBase, item.DefaultBinFor(gr.PlantID), commonBin, allocation.FallbackRandom)
			if err != nil {
				return err
			}
			line.Qty = qty
			line.BaseQty = newBase
			line.Entries = plan.Entries
			updated = line
			return tx.UpdateLine(ctx, line)
		}
		return fmt.Errorf("receiving: line %d not found on receipt %d", lineID, receiptID)
	})
	if err != nil {
		return Line{}, err
	}
	if claimDelta != 0 {
		if _, err := s.orders.AdjustClaims(ctx, poID, []procurement.ClaimAdjustment{
			{LineID: poLineID, Kind: procurement.ClaimCreated, Quantity: claimDelta},
		}, actorID); err != nil {
			return Line{}, fmt.Errorf("receiving: adjust order claim: %w", err)
		}
	}
	return updated, nil
}

// CompleteInput commits a goods receipt.
type CompleteInput struct {
	ReceiptID      int64
	ActorID        int64
	IdempotencyKey string
	ConfirmZeroQty bool
}

// Complete commits the receipt: the workflow engine approves the
// document, putaway entries land on balances, each line becomes a FIFO
// costing lot, and the order's claims move from created to received.
// A workflow verdict of 401 surfaces as ErrZeroQuantityConfirm so the
// caller can retry with the confirmation flag set.
func (s *Service) Complete(ctx context.Context, input CompleteInput) (GoodsReceipt, error) {
	if input.IdempotencyKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, input.IdempotencyKey, "receiving"); err != nil {
			return GoodsReceipt{}, err
		}
	}
	gr, err := s.complete(ctx, input)
	if err != nil && input.IdempotencyKey != "" && s.idem != nil {
		_ = s.idem.Delete(ctx, input.IdempotencyKey)
	}
	return gr, err
}

func (s *Service) complete(ctx context.Context, input CompleteInput) (GoodsReceipt, error) {
	gr, err := s.repo.Get(ctx, input.ReceiptID)
	if err != nil {
		return GoodsReceipt{}, err
	}
	if !gr.Status.CanComplete() {
		return GoodsReceipt{}, fmt.Errorf("%w: receipt %s is %s", ErrStatusTransition, gr.Number, gr.Status)
	}

	if s.workflows != nil {
		res, err := s.workflows.Run(ctx, workflow.Request{
			WorkflowID: "goods-receipt-commit",
			DocumentID: gr.Number,
			Flags:      map[string]bool{"confirm_zero_quantity": input.ConfirmZeroQty},
		})
		if err != nil {
			return GoodsReceipt{}, fmt.Errorf("receiving: workflow invoke: %w", err)
		}
		switch {
		case res.OK():
		case res.Code == workflow.CodeConfirmZeroQty:
			return GoodsReceipt{}, fmt.Errorf("%w: %s", ErrZeroQuantityConfirm, res.Msg)
		default:
			return GoodsReceipt{}, fmt.Errorf("%w: code %s: %s", ErrWorkflowRejected, res.Code, res.Msg)
		}
	}

	deltas := []balance.Delta{}
	for _, line := range gr.Lines {
		deltas = append(deltas, allocation.Deltas(line.Entries)...)
	}
	report := s.mutator.Apply(ctx, deltas, balance.DirectionReceive)
	if err := report.Err(); err != nil {
		// Applied deltas stay applied; the receipt remains Created so the
		// failed remainder can be retried after the cause is fixed.
		return GoodsReceipt{}, fmt.Errorf("receiving: stock movement incomplete: %w", err)
	}

	adjustments := make([]procurement.ClaimAdjustment, 0, len(gr.Lines)*2)
	for i, line := range gr.Lines {
		lotID, err := s.lots.Receive(ctx, fifo.CostingRecord{
			MaterialID:     line.MaterialID,
			PlantID:        gr.PlantID,
			OrganizationID: gr.OrganizationID,
			BatchID:        line.BatchID,
			AvailableQty:   line.BaseQty,
			UnitCost:       line.UnitCost,
			ReceivedAt:     gr.ReceivedDate,
		})
		if err != nil {
			return GoodsReceipt{}, fmt.Errorf("receiving: append costing lot: %w", err)
		}
		gr.Lines[i].FIFOLotID = lotID
		adjustments = append(adjustments,
			procurement.ClaimAdjustment{LineID: line.POLineID, Kind: procurement.ClaimCreated, Quantity: -line.BaseQty},
			procurement.ClaimAdjustment{LineID: line.POLineID, Kind: procurement.ClaimReceived, Quantity: line.BaseQty},
		)
	}
	status, err := s.orders.AdjustClaims(ctx, gr.POID, adjustments, input.ActorID)
	if err != nil {
		return GoodsReceipt{}, fmt.Errorf("receiving: move order claims: %w", err)
	}

	now := time.Now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, line := range gr.Lines {
			if err := tx.SetLineLot(ctx, line.ID, line.FIFOLotID); err != nil {
				return err
			}
		}
		return tx.UpdateStatus(ctx, gr.ID, StatusCompleted, &now)
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	gr.Status = StatusCompleted
	gr.CompletedAt = &now
	s.recordAudit(ctx, input.ActorID, "receiving:complete", gr.Number, map[string]any{"po_id": gr.POID, "gr_status": string(status)})
	return gr, nil
}

// Cancel reverses the receipt. A Created receipt only releases its claim
// on the order; a Completed receipt additionally moves stock back out and
// revokes its costing lots.
func (s *Service) Cancel(ctx context.Context, receiptID, actorID int64) (reversal.Report, error) {
	gr, err := s.repo.Get(ctx, receiptID)
	if err != nil {
		return reversal.Report{}, err
	}
	if !gr.Status.CanCancel() {
		return reversal.Report{}, fmt.Errorf("%w: receipt %s is %s", ErrStatusTransition, gr.Number, gr.Status)
	}

	engine := reversal.NewEngine(claimReleaser{orders: s.orders}, s.mutator, s.logger)
	doc := reversal.Document{ID: gr.Number, AppliedAs: balance.DirectionReceive}
	for _, line := range gr.Lines {
		rl := reversal.Line{
			ParentID:     gr.POID,
			ParentLineID: line.POLineID,
			Fulfilled:    line.BaseQty,
		}
		if gr.Status == StatusCompleted {
			rl.ClaimKind = string(procurement.ClaimReceived)
			rl.Entries = line.Entries
		} else {
			// Created receipts never touched balances; only the claim
			// counter rolls back.
			rl.ClaimKind = string(procurement.ClaimCreated)
		}
		doc.Lines = append(doc.Lines, rl)
	}

	report, err := engine.Reverse(ctx, doc, actorID)
	if err != nil {
		return reversal.Report{}, err
	}

	if gr.Status == StatusCompleted {
		for _, line := range gr.Lines {
			if line.FIFOLotID == 0 {
				continue
			}
			if err := s.lots.Revoke(ctx, line.MaterialID, gr.PlantID, gr.OrganizationID, line.FIFOLotID, line.BaseQty); err != nil {
				s.logger.Error("costing lot revoke failed",
					slog.String("receipt", gr.Number),
					slog.Int64("lot_id", line.FIFOLotID),
					slog.Any("error", err))
			}
		}
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, gr.ID, StatusCancelled, nil)
	})
	if err != nil {
		return report, err
	}
	s.recordAudit(ctx, actorID, "receiving:cancel", gr.Number, map[string]any{"po_id": gr.POID, "was": string(gr.Status)})
	return report, nil
}

// Get loads one goods receipt.
func (s *Service) Get(ctx context.Context, id int64) (GoodsReceipt, error) {
	if id <= 0 {
		return GoodsReceipt{}, ErrReceiptNotFound
	}
	return s.repo.Get(ctx, id)
}

// List pages through goods receipts, optionally for one purchase order.
func (s *Service) List(ctx context.Context, poID int64, limit, offset int) ([]GoodsReceipt, int, error) {
	return s.repo.List(ctx, poID, limit, offset)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "goods_receipt",
		EntityID: entityID,
		Meta:     meta,
	})
}

// claimReleaser adapts the purchase order port to the reversal engine.
type claimReleaser struct {
	orders OrderPort
}

func (c claimReleaser) Release(ctx context.Context, parentID int64, releases []reversal.ClaimRelease, actorID int64) error {
	adjustments := make([]procurement.ClaimAdjustment, 0, len(releases))
	for _, r := range releases {
		adjustments = append(adjustments, procurement.ClaimAdjustment{
			LineID:   r.LineID,
			Kind:     procurement.ClaimKind(r.Kind),
			Quantity: -r.Quantity,
		})
	}
	_, err := c.orders.AdjustClaims(ctx, parentID, adjustments, actorID)
	return err
}
