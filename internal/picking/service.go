package picking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atlas-wms/atlas-wms/internal/allocation"
	"github.com/atlas-wms/atlas-wms/internal/balance"
	"github.com/atlas-wms/atlas-wms/internal/masterdata/items"
	"github.com/atlas-wms/atlas-wms/internal/shared"
	"github.com/atlas-wms/atlas-wms/internal/workflow"
)

// RepositoryPort abstracts order persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (TransferOrder, error)
	List(ctx context.Context, limit, offset int) ([]TransferOrder, int, error)
}

// ItemPort resolves material master records.
type ItemPort interface {
	Get(ctx context.Context, id int64) (items.Item, error)
}

// BalancePort is the read side used for pick planning.
type BalancePort interface {
	Find(ctx context.Context, filter balance.Filter) ([]balance.Record, error)
}

// MutatorPort applies balance deltas.
type MutatorPort interface {
	Apply(ctx context.Context, deltas []balance.Delta, dir balance.Direction) balance.Report
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates transfer order picking.
type Service struct {
	repo      RepositoryPort
	items     ItemPort
	balances  BalancePort
	mutator   MutatorPort
	workflows workflow.Invoker
	audit     AuditPort
	logger    *slog.Logger
}

// ServiceDeps groups the collaborators wired at startup.
type ServiceDeps struct {
	Repo      RepositoryPort
	Items     ItemPort
	Balances  BalancePort
	Mutator   MutatorPort
	Workflows workflow.Invoker
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
		balances:  deps.Balances,
		mutator:   deps.Mutator,
		workflows: deps.Workflows,
		audit:     deps.Audit,
		logger:    deps.Logger,
	}
}

// CreateLineInput is one item to pick, quantity in the document unit.
type CreateLineInput struct {
	MaterialID int64
	Qty        float64
	UOMID      string
}

// CreateInput describes a transfer order request.
type CreateInput struct {
	PlantID        int64
	OrganizationID int64
	DestLocationID int64
	Note           string
	ActorID        int64
	Lines          []CreateLineInput
}

// Create plans each line's picks against the plant's balances and stores
// the qty_to_pick entries. The picked quantity starts at the planned
// quantity; operators edit it downwards during picking.
func (s *Service) Create(ctx context.Context, input CreateInput) (TransferOrder, error) {
	if input.PlantID == 0 || input.OrganizationID == 0 || input.DestLocationID == 0 {
		return TransferOrder{}, errors.New("picking: plant, organization and destination required")
	}
	if len(input.Lines) == 0 {
		return TransferOrder{}, errors.New("picking: at least one line required")
	}

	to := TransferOrder{
		Number:         fmt.Sprintf("TO-%s", uuid.NewString()[:8]),
		PlantID:        input.PlantID,
		OrganizationID: input.OrganizationID,
		DestLocationID: input.DestLocationID,
		Status:         StatusCreated,
		Note:           input.Note,
		CreatedBy:      input.ActorID,
	}

	lines := make([]Line, 0, len(input.Lines))
	for i, in := range input.Lines {
		if in.MaterialID == 0 {
			return TransferOrder{}, fmt.Errorf("picking: line %d missing material", i)
		}
		if in.Qty <= 0 {
			return TransferOrder{}, fmt.Errorf("picking: line %d quantity must be positive", i)
		}
		item, err := s.items.Get(ctx, in.MaterialID)
		if err != nil {
			return TransferOrder{}, fmt.Errorf("picking: load item %d: %w", in.MaterialID, err)
		}
		baseQty := item.ToBase(in.Qty, in.UOMID)
		records, err := s.balances.Find(ctx, balance.Filter{
			Shape:          item.Shape(),
			MaterialID:     in.MaterialID,
			PlantID:        input.PlantID,
			OrganizationID: input.OrganizationID,
		})
		if err != nil {
			return TransferOrder{}, err
		}
		plan := allocation.PlanFIFO(records, balance.CategoryUnrestricted, baseQty)
		if plan.Shortfall > 0 {
			s.logger.Warn("pick plan shortfall",
				slog.String("number", to.Number),
				slog.Int64("material_id", in.MaterialID),
				slog.Float64("requested", baseQty),
				slog.Float64("shortfall", plan.Shortfall))
		}
		lines = append(lines, Line{
			MaterialID: in.MaterialID,
			QtyToPick:  baseQty,
			PickedQty:  plan.Planned,
			UOMID:      in.UOMID,
			Entries:    plan.Entries,
		})
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateOrder(ctx, to)
		if err != nil {
			return err
		}
		to.ID = id
		for i := range lines {
			lines[i].OrderID = id
			lineID, err := tx.InsertLine(ctx, lines[i])
			if err != nil {
				return err
			}
			lines[i].ID = lineID
		}
		return nil
	})
	if err != nil {
		return TransferOrder{}, err
	}
	to.Lines = lines
	s.recordAudit(ctx, input.ActorID, "picking:create", to.Number, map[string]any{"dest_location_id": to.DestLocationID, "lines": len(lines)})
	return to, nil
}

// SetPickedQuantity records what was actually picked on one line and
// redistributes its entries proportionally. Picking more than planned is
// rejected. The order moves to In Progress on the first edit.
func (s *Service) SetPickedQuantity(ctx context.Context, orderID, lineID int64, qty float64, actorID int64) (Line, error) {
	if qty < 0 {
		return Line{}, allocation.ErrNegativeQuantity
	}
	var updated Line
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		to, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !to.Status.CanPick() {
			return fmt.Errorf("%w: order %s is %s", ErrStatusTransition, to.Number, to.Status)
		}
		lines, err := tx.GetLinesForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		for _, line := range lines {
			if line.ID != lineID {
				continue
			}
			entries, err := allocation.Redistribute(line.Entries, qty)
			if err != nil {
				return err
			}
			line.PickedQty = qty
			line.Entries = entries
			updated = line
			if err := tx.UpdateLine(ctx, line); err != nil {
				return err
			}
			if to.Status == StatusCreated {
				return tx.UpdateStatus(ctx, orderID, StatusInProgress, nil)
			}
			return nil
		}
		return fmt.Errorf("picking: line %d not found on order %d", lineID, orderID)
	})
	if err != nil {
		return Line{}, err
	}
	s.recordAudit(ctx, actorID, "picking:picked_quantity", fmt.Sprintf("%d", orderID), map[string]any{"line_id": lineID, "qty": qty})
	return updated, nil
}

// CompleteInput commits a transfer order.
type CompleteInput struct {
	OrderID int64
	ActorID int64
	Force   bool
}

// Complete commits the transfer: picked entries are issued from their
// source bins and received into the destination bin. Short-picked lines
// make the workflow engine pause with a 406 verdict; retrying with Force
// set confirms the force-complete and the order ends Force Completed.
func (s *Service) Complete(ctx context.Context, input CompleteInput) (TransferOrder, error) {
	to, err := s.repo.Get(ctx, input.OrderID)
	if err != nil {
		return TransferOrder{}, err
	}
	if !to.Status.CanComplete() {
		return TransferOrder{}, fmt.Errorf("%w: order %s is %s", ErrStatusTransition, to.Number, to.Status)
	}

	short := false
	for _, line := range to.Lines {
		if line.Short() {
			short = true
			break
		}
	}

	if s.workflows != nil {
		res, err := s.workflows.Run(ctx, workflow.Request{
			WorkflowID: "picking-commit",
			DocumentID: to.Number,
			Payload:    map[string]any{"short_picked": short},
			Flags:      map[string]bool{"force_complete": input.Force},
		})
		if err != nil {
			return TransferOrder{}, fmt.Errorf("picking: workflow invoke: %w", err)
		}
		switch {
		case res.OK():
		case res.Code == workflow.CodeForceComplete:
			return TransferOrder{}, fmt.Errorf("%w: %s", ErrForceCompleteConfirm, res.Msg)
		default:
			return TransferOrder{}, fmt.Errorf("%w: code %s: %s", ErrWorkflowRejected, res.Code, res.Msg)
		}
	} else if short && !input.Force {
		return TransferOrder{}, ErrForceCompleteConfirm
	}

	sourceDeltas := []balance.Delta{}
	destDeltas := []balance.Delta{}
	for _, line := range to.Lines {
		for _, entry := range line.Entries {
			sourceDeltas = append(sourceDeltas, entry.Delta())
			destKey := entry.Key
			destKey.LocationID = to.DestLocationID
			destDeltas = append(destDeltas, balance.Delta{Key: destKey, Category: entry.Category, Quantity: entry.Quantity})
		}
	}
	if report := s.mutator.Apply(ctx, sourceDeltas, balance.DirectionIssue); report.Err() != nil {
		return TransferOrder{}, fmt.Errorf("picking: issue from source bins incomplete: %w", report.Err())
	}
	if report := s.mutator.Apply(ctx, destDeltas, balance.DirectionReceive); report.Err() != nil {
		return TransferOrder{}, fmt.Errorf("picking: receive into destination incomplete: %w", report.Err())
	}

	final := StatusCompleted
	if short {
		final = StatusForceCompleted
	}
	now := time.Now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, to.ID, final, &now)
	})
	if err != nil {
		return TransferOrder{}, err
	}
	to.Status = final
	to.CompletedAt = &now
	s.recordAudit(ctx, input.ActorID, "picking:complete", to.Number, map[string]any{"status": string(final), "short": short})
	return to, nil
}

// Cancel reverses a transfer order. Completed orders get the movement
// undone in both directions: destination stock issues back out and the
// source bins receive their quantities again.
func (s *Service) Cancel(ctx context.Context, orderID, actorID int64) error {
	to, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if !to.Status.CanCancel() {
		return fmt.Errorf("%w: order %s is %s", ErrStatusTransition, to.Number, to.Status)
	}

	if to.Status == StatusCompleted || to.Status == StatusForceCompleted {
		sourceDeltas := []balance.Delta{}
		destDeltas := []balance.Delta{}
		for _, line := range to.Lines {
			for _, entry := range line.Entries {
				sourceDeltas = append(sourceDeltas, entry.Delta())
				destKey := entry.Key
				destKey.LocationID = to.DestLocationID
				destDeltas = append(destDeltas, balance.Delta{Key: destKey, Category: entry.Category, Quantity: entry.Quantity})
			}
		}
		if report := s.mutator.Apply(ctx, destDeltas, balance.DirectionIssue); report.Err() != nil {
			return fmt.Errorf("picking: reverse destination receive incomplete: %w", report.Err())
		}
		if report := s.mutator.Apply(ctx, sourceDeltas, balance.DirectionReceive); report.Err() != nil {
			return fmt.Errorf("picking: restore source bins incomplete: %w", report.Err())
		}
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, to.ID, StatusCancelled, nil)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "picking:cancel", to.Number, map[string]any{"was": string(to.Status)})
	return nil
}

// Get loads one transfer order.
func (s *Service) Get(ctx context.Context, id int64) (TransferOrder, error) {
	if id <= 0 {
		return TransferOrder{}, ErrOrderNotFound
	}
	return s.repo.Get(ctx, id)
}

// List pages through transfer orders.
func (s *Service) List(ctx context.Context, limit, offset int) ([]TransferOrder, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "transfer_order",
		EntityID: entityID,
		Meta:     meta,
	})
}
