package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/atlas-wms/atlas-wms/internal/allocation"
	"github.com/atlas-wms/atlas-wms/internal/balance"
	"github.com/atlas-wms/atlas-wms/internal/fifo"
	"github.com/atlas-wms/atlas-wms/internal/masterdata/items"
	"github.com/atlas-wms/atlas-wms/internal/reversal"
	"github.com/atlas-wms/atlas-wms/internal/shared"
	"github.com/atlas-wms/atlas-wms/internal/workflow"
)

// RepositoryPort abstracts delivery persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (GoodsDelivery, error)
	List(ctx context.Context, limit, offset int) ([]GoodsDelivery, int, error)
}

// ItemPort resolves material master records.
type ItemPort interface {
	Get(ctx context.Context, id int64) (items.Item, error)
}

// BalancePort is the read side used for allocation planning.
type BalancePort interface {
	Find(ctx context.Context, filter balance.Filter) ([]balance.Record, error)
}

// MutatorPort applies balance deltas.
type MutatorPort interface {
	Apply(ctx context.Context, deltas []balance.Delta, dir balance.Direction) balance.Report
}

// LotPort consumes and restores FIFO costing lots.
type LotPort interface {
	Consume(ctx context.Context, materialID, plantID, organizationID int64, qty float64) (fifo.Consumption, error)
	Restore(ctx context.Context, materialID, plantID, organizationID int64, draws []fifo.Draw) error
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

// Service coordinates goods delivery operations.
type Service struct {
	repo      RepositoryPort
	items     ItemPort
	balances  BalancePort
	mutator   MutatorPort
	lots      LotPort
	workflows workflow.Invoker
	idem      IdemPort
	audit     AuditPort
	logger    *slog.Logger
}

// ServiceDeps groups the collaborators wired at startup.
type ServiceDeps struct {
	Repo      RepositoryPort
	Items     ItemPort
	Balances  BalancePort
	Mutator   MutatorPort
	Lots      LotPort
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
		balances:  deps.Balances,
		mutator:   deps.Mutator,
		lots:      deps.Lots,
		workflows: deps.Workflows,
		idem:      deps.Idem,
		audit:     deps.Audit,
		logger:    deps.Logger,
	}
}

// ManualEntryInput is one caller-picked allocation tuple: which bin (and
// batch or serial, where the item is managed that way) a quantity comes
// from. Quantity is in base units.
type ManualEntryInput struct {
	LocationID   int64
	BatchID      string
	SerialNumber string
	Qty          float64
}

// CreateLineInput is one requested delivery line, quantity in the
// document unit. When Entries are supplied the caller has picked the
// allocation by hand; otherwise the planner walks balances oldest first.
type CreateLineInput struct {
	MaterialID int64
	Qty        float64
	UOMID      string
	Entries    []ManualEntryInput
}

// CreateInput describes a goods delivery request.
type CreateInput struct {
	CustomerID     int64
	PlantID        int64
	OrganizationID int64
	DeliveryDate   time.Time
	Note           string
	ActorID        int64
	Lines          []CreateLineInput
}

// Create plans each line against the plant's balances oldest stock first
// and stores the resulting entries on the document. Stock is not moved
// until Complete; a shortfall is recorded on the line, not raised.
func (s *Service) Create(ctx context.Context, input CreateInput) (GoodsDelivery, error) {
	if input.CustomerID == 0 || input.PlantID == 0 || input.OrganizationID == 0 {
		return GoodsDelivery{}, errors.New("delivery: customer, plant and organization required")
	}
	if len(input.Lines) == 0 {
		return GoodsDelivery{}, errors.New("delivery: at least one line required")
	}

	gd := GoodsDelivery{
		Number:         fmt.Sprintf("GD-%s", uuid.NewString()[:8]),
		CustomerID:     input.CustomerID,
		PlantID:        input.PlantID,
		OrganizationID: input.OrganizationID,
		Status:         StatusCreated,
		DeliveryDate:   input.DeliveryDate,
		Note:           input.Note,
		CreatedBy:      input.ActorID,
	}

	lines := make([]Line, 0, len(input.Lines))
	for i, in := range input.Lines {
		if in.MaterialID == 0 {
			return GoodsDelivery{}, fmt.Errorf("delivery: line %d missing material", i)
		}
		if in.Qty <= 0 {
			return GoodsDelivery{}, fmt.Errorf("delivery: line %d quantity must be positive", i)
		}
		line, err := s.planLine(ctx, input.PlantID, input.OrganizationID, in)
		if err != nil {
			return GoodsDelivery{}, err
		}
		if line.Shortfall > 0 {
			s.logger.Warn("delivery allocation shortfall",
				slog.String("number", gd.Number),
				slog.Int64("material_id", in.MaterialID),
				slog.Float64("requested", line.BaseQty),
				slog.Float64("shortfall", line.Shortfall))
		}
		lines = append(lines, line)
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateDelivery(ctx, gd)
		if err != nil {
			return err
		}
		gd.ID = id
		for i := range lines {
			lines[i].DeliveryID = id
			lineID, err := tx.InsertLine(ctx, lines[i])
			if err != nil {
				return err
			}
			lines[i].ID = lineID
		}
		return nil
	})
	if err != nil {
		return GoodsDelivery{}, err
	}
	gd.Lines = lines
	s.recordAudit(ctx, input.ActorID, "delivery:create", gd.Number, map[string]any{"customer_id": gd.CustomerID, "lines": len(lines)})
	return gd, nil
}

// planLine converts the requested quantity to base units and plans the
// allocation: caller-supplied tuples are validated as-is, otherwise the
// item's balance records are walked oldest location first, drawing from
// unrestricted stock.
func (s *Service) planLine(ctx context.Context, plantID, organizationID int64, in CreateLineInput) (Line, error) {
	item, err := s.items.Get(ctx, in.MaterialID)
	if err != nil {
		return Line{}, fmt.Errorf("delivery: load item %d: %w", in.MaterialID, err)
	}
	baseQty := item.ToBase(in.Qty, in.UOMID)

	var plan allocation.Plan
	if len(in.Entries) > 0 {
		entries := make([]allocation.Entry, 0, len(in.Entries))
		for _, manual := range in.Entries {
			key := balance.Key{
				MaterialID:     in.MaterialID,
				PlantID:        plantID,
				OrganizationID: organizationID,
				LocationID:     manual.LocationID,
			}
			if item.BatchManagement {
				key.BatchID = manual.BatchID
			}
			if item.SerialManagement {
				key.SerialNumber = manual.SerialNumber
			}
			entries = append(entries, allocation.Entry{Key: key, Category: balance.CategoryUnrestricted, Quantity: manual.Qty})
		}
		plan, err = allocation.ValidateManual(entries, baseQty)
		if err != nil {
			return Line{}, fmt.Errorf("delivery: material %d: %w", in.MaterialID, err)
		}
	} else {
		records, err := s.balances.Find(ctx, balance.Filter{
			Shape:          item.Shape(),
			MaterialID:     in.MaterialID,
			PlantID:        plantID,
			OrganizationID: organizationID,
		})
		if err != nil {
			return Line{}, err
		}
		// Empty result means zero available: the plan simply reports the
		// full quantity as shortfall.
		plan = allocation.PlanFIFO(records, balance.CategoryUnrestricted, baseQty)
	}
	return Line{
		MaterialID: in.MaterialID,
		Qty:        in.Qty,
		UOMID:      in.UOMID,
		BaseQty:    baseQty,
		Shortfall:  plan.Shortfall,
		Entries:    plan.Entries,
	}, nil
}

// SetLineQuantity redistributes an existing allocation proportionally to
// the new quantity. Increasing past the allocated total is rejected; the
// caller replans by recreating the document instead.
func (s *Service) SetLineQuantity(ctx context.Context, deliveryID, lineID int64, qty float64, actorID int64) (Line, error) {
	if qty <= 0 {
		return Line{}, errors.New("delivery: quantity must be positive")
	}
	var updated Line
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		gd, err := tx.GetDeliveryForUpdate(ctx, deliveryID)
		if err != nil {
			return err
		}
		if !gd.Status.CanEdit() {
			return fmt.Errorf("%w: delivery %s is %s", ErrStatusTransition, gd.Number, gd.Status)
		}
		lines, err := tx.GetLinesForUpdate(ctx, deliveryID)
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
			entries, err := allocation.Redistribute(line.Entries, newBase)
			if err != nil {
				return err
			}
			line.Qty = qty
			line.BaseQty = newBase
			line.Entries = entries
			line.Shortfall = 0
			updated = line
			return tx.UpdateLine(ctx, line)
		}
		return fmt.Errorf("delivery: line %d not found on delivery %d", lineID, deliveryID)
	})
	if err != nil {
		return Line{}, err
	}
	s.recordAudit(ctx, actorID, "delivery:line_quantity", fmt.Sprintf("%d", deliveryID), map[string]any{"line_id": lineID, "qty": qty})
	return updated, nil
}

// CompleteInput commits a goods delivery.
type CompleteInput struct {
	DeliveryID     int64
	ActorID        int64
	IdempotencyKey string
}

// Complete commits the delivery: the workflow engine approves the
// document, planned entries are issued from balances and each line
// consumes costing lots oldest first. The consumed draws are recorded on
// the line for exact restoration on cancel.
func (s *Service) Complete(ctx context.Context, input CompleteInput) (GoodsDelivery, error) {
	if input.IdempotencyKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, input.IdempotencyKey, "delivery"); err != nil {
			return GoodsDelivery{}, err
		}
	}
	gd, err := s.complete(ctx, input)
	if err != nil && input.IdempotencyKey != "" && s.idem != nil {
		_ = s.idem.Delete(ctx, input.IdempotencyKey)
	}
	return gd, err
}

func (s *Service) complete(ctx context.Context, input CompleteInput) (GoodsDelivery, error) {
	gd, err := s.repo.Get(ctx, input.DeliveryID)
	if err != nil {
		return GoodsDelivery{}, err
	}
	if !gd.Status.CanComplete() {
		return GoodsDelivery{}, fmt.Errorf("%w: delivery %s is %s", ErrStatusTransition, gd.Number, gd.Status)
	}

	if s.workflows != nil {
		res, err := s.workflows.Run(ctx, workflow.Request{
			WorkflowID: "goods-delivery-commit",
			DocumentID: gd.Number,
		})
		if err != nil {
			return GoodsDelivery{}, fmt.Errorf("delivery: workflow invoke: %w", err)
		}
		if !res.OK() {
			return GoodsDelivery{}, fmt.Errorf("%w: code %s: %s", ErrWorkflowRejected, res.Code, res.Msg)
		}
	}

	deltas := []balance.Delta{}
	for _, line := range gd.Lines {
		deltas = append(deltas, allocation.Deltas(line.Entries)...)
	}
	report := s.mutator.Apply(ctx, deltas, balance.DirectionIssue)
	if err := report.Err(); err != nil {
		return GoodsDelivery{}, fmt.Errorf("delivery: stock movement incomplete: %w", err)
	}

	for i, line := range gd.Lines {
		planned := allocation.Total(line.Entries)
		if planned <= 0 {
			continue
		}
		consumption, err := s.lots.Consume(ctx, line.MaterialID, gd.PlantID, gd.OrganizationID, planned)
		if err != nil {
			return GoodsDelivery{}, fmt.Errorf("delivery: consume costing lots: %w", err)
		}
		gd.Lines[i].Draws = consumption.Draws
	}

	now := time.Now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, line := range gd.Lines {
			if err := tx.UpdateLine(ctx, line); err != nil {
				return err
			}
		}
		return tx.UpdateStatus(ctx, gd.ID, StatusCompleted, &now)
	})
	if err != nil {
		return GoodsDelivery{}, err
	}
	gd.Status = StatusCompleted
	gd.CompletedAt = &now
	s.recordAudit(ctx, input.ActorID, "delivery:complete", gd.Number, map[string]any{"lines": len(gd.Lines)})
	return gd, nil
}

// Cancel reverses the delivery. A Completed delivery gets its entries
// received back onto balances and its recorded draws credited back to
// their original costing lots.
func (s *Service) Cancel(ctx context.Context, deliveryID, actorID int64) (reversal.Report, error) {
	gd, err := s.repo.Get(ctx, deliveryID)
	if err != nil {
		return reversal.Report{}, err
	}
	if !gd.Status.CanCancel() {
		return reversal.Report{}, fmt.Errorf("%w: delivery %s is %s", ErrStatusTransition, gd.Number, gd.Status)
	}

	var report reversal.Report
	if gd.Status == StatusCompleted {
		engine := reversal.NewEngine(nil, s.mutator, s.logger)
		doc := reversal.Document{ID: gd.Number, AppliedAs: balance.DirectionIssue}
		for _, line := range gd.Lines {
			doc.Lines = append(doc.Lines, reversal.Line{Entries: line.Entries})
		}
		report, err = engine.Reverse(ctx, doc, actorID)
		if err != nil {
			return reversal.Report{}, err
		}
		for _, line := range gd.Lines {
			if len(line.Draws) == 0 {
				continue
			}
			if err := s.lots.Restore(ctx, line.MaterialID, gd.PlantID, gd.OrganizationID, line.Draws); err != nil {
				s.logger.Error("costing lot restore failed",
					slog.String("delivery", gd.Number),
					slog.Int64("material_id", line.MaterialID),
					slog.Any("error", err))
			}
		}
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, gd.ID, StatusCancelled, nil)
	})
	if err != nil {
		return report, err
	}
	s.recordAudit(ctx, actorID, "delivery:cancel", gd.Number, map[string]any{"was": string(gd.Status)})
	return report, nil
}

// CancelResult is the per-document outcome of a bulk cancellation.
type CancelResult struct {
	DeliveryID int64  `json:"delivery_id"`
	Err        error  `json:"-"`
	Message    string `json:"error,omitempty"`
}

// BulkCancel cancels many deliveries concurrently and reports per
// document. One failed cancellation does not stop or roll back the
// others.
func (s *Service) BulkCancel(ctx context.Context, ids []int64, actorID int64) []CancelResult {
	results := make([]CancelResult, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			_, err := s.Cancel(ctx, id, actorID)
			results[i] = CancelResult{DeliveryID: id, Err: err}
			if err != nil {
				results[i].Message = shared.UserSafeMessage(err)
				s.logger.Error("bulk cancel item failed",
					slog.Int64("delivery_id", id),
					slog.Any("error", err))
			}
			// Always nil: the batch keeps going past individual failures.
			return nil
		})
	}
	_ = g.Wait()
	sort.SliceStable(results, func(i, j int) bool { return results[i].DeliveryID < results[j].DeliveryID })
	return results
}

// Get loads one goods delivery.
func (s *Service) Get(ctx context.Context, id int64) (GoodsDelivery, error) {
	if id <= 0 {
		return GoodsDelivery{}, ErrDeliveryNotFound
	}
	return s.repo.Get(ctx, id)
}

// List pages through goods deliveries.
func (s *Service) List(ctx context.Context, limit, offset int) ([]GoodsDelivery, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "goods_delivery",
		EntityID: entityID,
		Meta:     meta,
	})
}
