package delivery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atlas-wms/atlas-wms/internal/allocation"
	"github.com/atlas-wms/atlas-wms/internal/balance"
	"github.com/atlas-wms/atlas-wms/internal/fifo"
	"github.com/atlas-wms/atlas-wms/internal/masterdata/items"
	"github.com/atlas-wms/atlas-wms/internal/uom"
	"github.com/atlas-wms/atlas-wms/internal/workflow"
)

// memoryRepo takes a mutex per call since BulkCancel fans out over it.
type memoryRepo struct {
	mu         sync.Mutex
	deliveries map[int64]*GoodsDelivery
	nextID     int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{deliveries: map[int64]*GoodsDelivery{}, nextID: 1}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, (*memoryTx)(m))
}

func (m *memoryRepo) Get(_ context.Context, id int64) (GoodsDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gd, ok := m.deliveries[id]
	if !ok {
		return GoodsDelivery{}, ErrDeliveryNotFound
	}
	return *gd, nil
}

func (m *memoryRepo) List(_ context.Context, _, _ int) ([]GoodsDelivery, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []GoodsDelivery{}
	for _, gd := range m.deliveries {
		out = append(out, *gd)
	}
	return out, len(out), nil
}

type memoryTx memoryRepo

func (m *memoryTx) CreateDelivery(_ context.Context, gd GoodsDelivery) (int64, error) {
	id := m.nextID
	m.nextID++
	gd.ID = id
	gd.Lines = nil
	m.deliveries[id] = &gd
	return id, nil
}

func (m *memoryTx) InsertLine(_ context.Context, line Line) (int64, error) {
	gd := m.deliveries[line.DeliveryID]
	line.ID = m.nextID
	m.nextID++
	gd.Lines = append(gd.Lines, line)
	return line.ID, nil
}

func (m *memoryTx) GetDeliveryForUpdate(_ context.Context, id int64) (GoodsDelivery, error) {
	gd, ok := m.deliveries[id]
	if !ok {
		return GoodsDelivery{}, ErrDeliveryNotFound
	}
	return *gd, nil
}

func (m *memoryTx) GetLinesForUpdate(_ context.Context, deliveryID int64) ([]Line, error) {
	return m.deliveries[deliveryID].Lines, nil
}

func (m *memoryTx) UpdateLine(_ context.Context, line Line) error {
	gd := m.deliveries[line.DeliveryID]
	for i := range gd.Lines {
		if gd.Lines[i].ID == line.ID {
			gd.Lines[i] = line
		}
	}
	return nil
}

func (m *memoryTx) UpdateStatus(_ context.Context, deliveryID int64, status Status, completedAt *time.Time) error {
	gd := m.deliveries[deliveryID]
	gd.Status = status
	if completedAt != nil {
		gd.CompletedAt = completedAt
	}
	return nil
}

// balanceStore backs both the query and mutation side of planning.
type balanceStore struct {
	records map[balance.Key]balance.Record
	order   []balance.Key
}

func (s *balanceStore) seed(rec balance.Record) {
	s.records[rec.Key] = rec
	s.order = append(s.order, rec.Key)
}

func (s *balanceStore) Find(_ context.Context, filter balance.Filter) ([]balance.Record, error) {
	out := []balance.Record{}
	for _, key := range s.order {
		rec := s.records[key]
		if rec.MaterialID == filter.MaterialID && rec.PlantID == filter.PlantID && rec.OrganizationID == filter.OrganizationID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *balanceStore) UpdateRecord(_ context.Context, key balance.Key, fn func(*balance.Record) error) (balance.Record, error) {
	rec, ok := s.records[key]
	if !ok {
		rec = balance.Record{Key: key}
		s.order = append(s.order, key)
	}
	if err := fn(&rec); err != nil {
		return balance.Record{}, err
	}
	s.records[key] = rec
	return rec, nil
}

// lotLedger is a small in-memory FIFO costing history.
type lotLedger struct {
	lots   []fifo.CostingRecord
	nextID int64
}

func (l *lotLedger) seed(sequence int64, qty, cost float64) {
	l.nextID++
	l.lots = append(l.lots, fifo.CostingRecord{
		ID: l.nextID, MaterialID: 100, PlantID: 10, OrganizationID: 1,
		Sequence: sequence, AvailableQty: qty, UnitCost: cost,
	})
}

func (l *lotLedger) Consume(_ context.Context, _, _, _ int64, qty float64) (fifo.Consumption, error) {
	plan := fifo.Walk(l.lots, qty)
	for _, draw := range plan.Draws {
		for i := range l.lots {
			if l.lots[i].ID == draw.RecordID {
				l.lots[i].AvailableQty = draw.Remaining
			}
		}
	}
	return plan, nil
}

func (l *lotLedger) Restore(_ context.Context, _, _, _ int64, draws []fifo.Draw) error {
	for _, draw := range draws {
		for i := range l.lots {
			if l.lots[i].ID == draw.RecordID {
				l.lots[i].AvailableQty += draw.Quantity
			}
		}
	}
	return nil
}

type fakeItems struct {
	byID map[int64]items.Item
}

func (f *fakeItems) Get(_ context.Context, id int64) (items.Item, error) {
	return f.byID[id], nil
}

type fakeWorkflows struct {
	verdicts []workflow.Result
}

func (f *fakeWorkflows) Run(_ context.Context, _ workflow.Request) (workflow.Result, error) {
	if len(f.verdicts) == 0 {
		return workflow.Result{Code: workflow.CodeOK}, nil
	}
	res := f.verdicts[0]
	f.verdicts = f.verdicts[1:]
	return res, nil
}

type fixture struct {
	service *Service
	repo    *memoryRepo
	store   *balanceStore
	ledger  *lotLedger
	flows   *fakeWorkflows
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemoryRepo()
	store := &balanceStore{records: map[balance.Key]balance.Record{}}
	ledger := &lotLedger{}
	flows := &fakeWorkflows{}
	itemMaster := &fakeItems{byID: map[int64]items.Item{
		100: {
			ID:        100,
			Code:      "WIDGET",
			BaseUOMID: "EA",
			Conversions: uom.Table{
				{AltUOMID: "BOX", AltQty: 1, BaseQty: 12},
			},
			IsActive: true,
		},
	}}
	service := NewService(ServiceDeps{
		Repo:      repo,
		Items:     itemMaster,
		Balances:  store,
		Mutator:   balance.NewMutator(store, nil, nil, balance.MutatorConfig{}),
		Lots:      ledger,
		Workflows: flows,
	})
	return &fixture{service: service, repo: repo, store: store, ledger: ledger, flows: flows}
}

func seededRecord(loc int64, unrestricted float64) balance.Record {
	rec := balance.Record{Key: balance.Key{MaterialID: 100, PlantID: 10, OrganizationID: 1, LocationID: loc}}
	rec.UnrestrictedQty = unrestricted
	rec.BalanceQty = unrestricted
	return rec
}

func createInput(qty float64, uomID string) CreateInput {
	return CreateInput{
		CustomerID:     5,
		PlantID:        10,
		OrganizationID: 1,
		DeliveryDate:   time.Now(),
		ActorID:        7,
		Lines:          []CreateLineInput{{MaterialID: 100, Qty: qty, UOMID: uomID}},
	}
}

func TestCreatePlansOldestFirst(t *testing.T) {
	f := newFixture(t)
	f.store.seed(seededRecord(501, 5))
	f.store.seed(seededRecord(502, 20))

	gd, err := f.service.Create(context.Background(), createInput(8, "EA"))
	require.NoError(t, err)
	require.Equal(t, StatusCreated, gd.Status)
	require.Len(t, gd.Lines, 1)

	entries := gd.Lines[0].Entries
	require.Len(t, entries, 2)
	require.Equal(t, int64(501), entries[0].LocationID)
	require.InDelta(t, 5.0, entries[0].Quantity, 0.0005)
	require.Equal(t, int64(502), entries[1].LocationID)
	require.InDelta(t, 3.0, entries[1].Quantity, 0.0005)
	require.InDelta(t, 0.0, gd.Lines[0].Shortfall, 0.0005)
}

func TestCreateReportsShortfallInsteadOfFailing(t *testing.T) {
	f := newFixture(t)
	f.store.seed(seededRecord(501, 5))

	gd, err := f.service.Create(context.Background(), createInput(9, "EA"))
	require.NoError(t, err, "under-availability is a warning, not an error")
	require.InDelta(t, 4.0, gd.Lines[0].Shortfall, 0.0005)
	require.InDelta(t, 5.0, gd.Lines[0].Entries[0].Quantity, 0.0005)
}

func TestCreateManualEntriesPassThrough(t *testing.T) {
	f := newFixture(t)
	f.store.seed(seededRecord(501, 5))
	f.store.seed(seededRecord(502, 20))

	input := createInput(8, "EA")
	// The caller picks the newer location first; the planner keeps the
	// tuples exactly as given.
	input.Lines[0].Entries = []ManualEntryInput{
		{LocationID: 502, Qty: 6},
		{LocationID: 501, Qty: 1},
	}
	gd, err := f.service.Create(context.Background(), input)
	require.NoError(t, err)

	entries := gd.Lines[0].Entries
	require.Len(t, entries, 2)
	require.Equal(t, int64(502), entries[0].LocationID)
	require.InDelta(t, 6.0, entries[0].Quantity, 0.0005)
	require.Equal(t, int64(501), entries[1].LocationID)
	require.InDelta(t, 1.0, entries[1].Quantity, 0.0005)
	require.InDelta(t, 1.0, gd.Lines[0].Shortfall, 0.0005, "unallocated remainder is reported")
}

func TestCreateManualEntriesRejectOverAllocation(t *testing.T) {
	f := newFixture(t)

	input := createInput(1, "BOX") // 12 EA requested
	input.Lines[0].Entries = []ManualEntryInput{
		{LocationID: 501, Qty: 10},
		{LocationID: 502, Qty: 5},
	}
	_, err := f.service.Create(context.Background(), input)
	require.ErrorIs(t, err, allocation.ErrExceedsAllocated)

	input.Lines[0].Entries = []ManualEntryInput{{LocationID: 501, Qty: -2}}
	_, err = f.service.Create(context.Background(), input)
	require.ErrorIs(t, err, allocation.ErrNegativeQuantity)
}

func TestCreateEmptyBalancesMeansZeroAvailable(t *testing.T) {
	f := newFixture(t)

	gd, err := f.service.Create(context.Background(), createInput(4, "EA"))
	require.NoError(t, err)
	require.Empty(t, gd.Lines[0].Entries)
	require.InDelta(t, 4.0, gd.Lines[0].Shortfall, 0.0005)
}

func TestCompleteIssuesStockAndConsumesLots(t *testing.T) {
	f := newFixture(t)
	f.store.seed(seededRecord(501, 30))
	f.ledger.seed(1, 5, 2.50)
	f.ledger.seed(2, 30, 3.00)

	gd, err := f.service.Create(context.Background(), createInput(1, "BOX"))
	require.NoError(t, err)

	done, err := f.service.Complete(context.Background(), CompleteInput{DeliveryID: gd.ID, ActorID: 7})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, done.Status)

	// 12 EA issued from the bin.
	rec := f.store.records[balance.Key{MaterialID: 100, PlantID: 10, OrganizationID: 1, LocationID: 501}]
	require.InDelta(t, 18.0, rec.UnrestrictedQty, 0.0005)
	require.NoError(t, rec.Check())

	// Lots drained oldest first: 5 from seq 1, 7 from seq 2.
	require.InDelta(t, 0.0, f.ledger.lots[0].AvailableQty, 0.0005)
	require.InDelta(t, 23.0, f.ledger.lots[1].AvailableQty, 0.0005)
	require.Len(t, done.Lines[0].Draws, 2)
}

func TestCancelCompletedRestoresBalancesAndLots(t *testing.T) {
	f := newFixture(t)
	f.store.seed(seededRecord(501, 30))
	f.ledger.seed(1, 5, 2.50)
	f.ledger.seed(2, 30, 3.00)

	gd, err := f.service.Create(context.Background(), createInput(1, "BOX"))
	require.NoError(t, err)
	_, err = f.service.Complete(context.Background(), CompleteInput{DeliveryID: gd.ID})
	require.NoError(t, err)

	report, err := f.service.Cancel(context.Background(), gd.ID, 7)
	require.NoError(t, err)
	require.NoError(t, report.Err())

	// Issue then receive is identity on the balance record.
	rec := f.store.records[balance.Key{MaterialID: 100, PlantID: 10, OrganizationID: 1, LocationID: 501}]
	require.InDelta(t, 30.0, rec.UnrestrictedQty, 0.0005)
	require.NoError(t, rec.Check())

	// Draws credited back onto their original lots.
	require.InDelta(t, 5.0, f.ledger.lots[0].AvailableQty, 0.0005)
	require.InDelta(t, 30.0, f.ledger.lots[1].AvailableQty, 0.0005)
}

func TestCompleteRejectedByWorkflow(t *testing.T) {
	f := newFixture(t)
	f.store.seed(seededRecord(501, 30))
	gd, err := f.service.Create(context.Background(), createInput(2, "EA"))
	require.NoError(t, err)

	f.flows.verdicts = []workflow.Result{{Code: "400", Msg: "document incomplete"}}
	_, err = f.service.Complete(context.Background(), CompleteInput{DeliveryID: gd.ID})
	require.ErrorIs(t, err, ErrWorkflowRejected)

	rec := f.store.records[balance.Key{MaterialID: 100, PlantID: 10, OrganizationID: 1, LocationID: 501}]
	require.InDelta(t, 30.0, rec.UnrestrictedQty, 0.0005, "no stock moves on rejection")
}

func TestSetLineQuantityRedistributes(t *testing.T) {
	f := newFixture(t)
	f.store.seed(seededRecord(501, 6))
	f.store.seed(seededRecord(502, 6))

	gd, err := f.service.Create(context.Background(), createInput(12, "EA"))
	require.NoError(t, err)
	require.Len(t, gd.Lines[0].Entries, 2)

	line, err := f.service.SetLineQuantity(context.Background(), gd.ID, gd.Lines[0].ID, 6, 7)
	require.NoError(t, err)
	require.InDelta(t, 3.0, line.Entries[0].Quantity, 0.0005)
	require.InDelta(t, 3.0, line.Entries[1].Quantity, 0.0005)

	// Raising the quantity past the allocation is rejected.
	_, err = f.service.SetLineQuantity(context.Background(), gd.ID, gd.Lines[0].ID, 24, 7)
	require.Error(t, err)
}

func TestBulkCancelReportsPerDocument(t *testing.T) {
	f := newFixture(t)
	f.store.seed(seededRecord(501, 50))

	first, err := f.service.Create(context.Background(), createInput(2, "EA"))
	require.NoError(t, err)
	second, err := f.service.Create(context.Background(), createInput(3, "EA"))
	require.NoError(t, err)

	// 999 does not exist; the other two must still cancel.
	results := f.service.BulkCancel(context.Background(), []int64{first.ID, 999, second.ID}, 7)
	require.Len(t, results, 3)

	byID := map[int64]CancelResult{}
	for _, res := range results {
		byID[res.DeliveryID] = res
	}
	require.NoError(t, byID[first.ID].Err)
	require.NoError(t, byID[second.ID].Err)
	require.Error(t, byID[999].Err)

	for _, id := range []int64{first.ID, second.ID} {
		gd, err := f.service.Get(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, StatusCancelled, gd.Status)
	}
}
