package picking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atlas-wms/atlas-wms/internal/balance"
	"github.com/atlas-wms/atlas-wms/internal/masterdata/items"
	"github.com/atlas-wms/atlas-wms/internal/workflow"
)

type memoryRepo struct {
	orders map[int64]*TransferOrder
	nextID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{orders: map[int64]*TransferOrder{}, nextID: 1}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, (*memoryTx)(m))
}

func (m *memoryRepo) Get(_ context.Context, id int64) (TransferOrder, error) {
	to, ok := m.orders[id]
	if !ok {
		return TransferOrder{}, ErrOrderNotFound
	}
	return *to, nil
}

func (m *memoryRepo) List(_ context.Context, _, _ int) ([]TransferOrder, int, error) {
	out := []TransferOrder{}
	for _, to := range m.orders {
		out = append(out, *to)
	}
	return out, len(out), nil
}

type memoryTx memoryRepo

func (m *memoryTx) CreateOrder(_ context.Context, to TransferOrder) (int64, error) {
	id := m.nextID
	m.nextID++
	to.ID = id
	to.Lines = nil
	m.orders[id] = &to
	return id, nil
}

func (m *memoryTx) InsertLine(_ context.Context, line Line) (int64, error) {
	to := m.orders[line.OrderID]
	line.ID = m.nextID
	m.nextID++
	to.Lines = append(to.Lines, line)
	return line.ID, nil
}

func (m *memoryTx) GetOrderForUpdate(_ context.Context, id int64) (TransferOrder, error) {
	to, ok := m.orders[id]
	if !ok {
		return TransferOrder{}, ErrOrderNotFound
	}
	return *to, nil
}

func (m *memoryTx) GetLinesForUpdate(_ context.Context, orderID int64) ([]Line, error) {
	return m.orders[orderID].Lines, nil
}

func (m *memoryTx) UpdateLine(_ context.Context, line Line) error {
	to := m.orders[line.OrderID]
	for i := range to.Lines {
		if to.Lines[i].ID == line.ID {
			to.Lines[i] = line
		}
	}
	return nil
}

func (m *memoryTx) UpdateStatus(_ context.Context, orderID int64, status Status, completedAt *time.Time) error {
	to := m.orders[orderID]
	to.Status = status
	if completedAt != nil {
		to.CompletedAt = completedAt
	}
	return nil
}

type balanceStore struct {
	records map[balance.Key]balance.Record
	order   []balance.Key
}

func (s *balanceStore) seed(loc int64, unrestricted float64) {
	key := balance.Key{MaterialID: 100, PlantID: 10, OrganizationID: 1, LocationID: loc}
	rec := balance.Record{Key: key}
	rec.UnrestrictedQty = unrestricted
	rec.BalanceQty = unrestricted
	s.records[key] = rec
	s.order = append(s.order, key)
}

func (s *balanceStore) Find(_ context.Context, filter balance.Filter) ([]balance.Record, error) {
	out := []balance.Record{}
	for _, key := range s.order {
		rec := s.records[key]
		if rec.MaterialID == filter.MaterialID && rec.PlantID == filter.PlantID {
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

type fakeItems struct{}

func (fakeItems) Get(_ context.Context, id int64) (items.Item, error) {
	return items.Item{ID: id, Code: "WIDGET", BaseUOMID: "EA", IsActive: true}, nil
}

type fakeWorkflows struct {
	verdicts []workflow.Result
	requests []workflow.Request
}

func (f *fakeWorkflows) Run(_ context.Context, req workflow.Request) (workflow.Result, error) {
	f.requests = append(f.requests, req)
	if len(f.verdicts) == 0 {
		return workflow.Result{Code: workflow.CodeOK}, nil
	}
	res := f.verdicts[0]
	f.verdicts = f.verdicts[1:]
	return res, nil
}

type fixture struct {
	service *Service
	store   *balanceStore
	flows   *fakeWorkflows
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := &balanceStore{records: map[balance.Key]balance.Record{}}
	flows := &fakeWorkflows{}
	service := NewService(ServiceDeps{
		Repo:      newMemoryRepo(),
		Items:     fakeItems{},
		Balances:  store,
		Mutator:   balance.NewMutator(store, nil, nil, balance.MutatorConfig{}),
		Workflows: flows,
	})
	return &fixture{service: service, store: store, flows: flows}
}

func createInput(qty float64) CreateInput {
	return CreateInput{
		PlantID:        10,
		OrganizationID: 1,
		DestLocationID: 700,
		ActorID:        7,
		Lines:          []CreateLineInput{{MaterialID: 100, Qty: qty, UOMID: "EA"}},
	}
}

func key(loc int64) balance.Key {
	return balance.Key{MaterialID: 100, PlantID: 10, OrganizationID: 1, LocationID: loc}
}

func TestCreatePlansPicksAcrossBins(t *testing.T) {
	f := newFixture(t)
	f.store.seed(501, 4)
	f.store.seed(502, 10)

	to, err := f.service.Create(context.Background(), createInput(6))
	require.NoError(t, err)
	require.Equal(t, StatusCreated, to.Status)
	require.Len(t, to.Lines, 1)

	line := to.Lines[0]
	require.InDelta(t, 6.0, line.QtyToPick, 0.0005)
	require.InDelta(t, 6.0, line.PickedQty, 0.0005)
	require.Len(t, line.Entries, 2)
	require.InDelta(t, 4.0, line.Entries[0].Quantity, 0.0005)
	require.InDelta(t, 2.0, line.Entries[1].Quantity, 0.0005)
}

func TestSetPickedQuantityRedistributes(t *testing.T) {
	f := newFixture(t)
	f.store.seed(501, 4)
	f.store.seed(502, 4)

	to, err := f.service.Create(context.Background(), createInput(8))
	require.NoError(t, err)

	line, err := f.service.SetPickedQuantity(context.Background(), to.ID, to.Lines[0].ID, 4, 7)
	require.NoError(t, err)
	require.InDelta(t, 2.0, line.Entries[0].Quantity, 0.0005)
	require.InDelta(t, 2.0, line.Entries[1].Quantity, 0.0005)

	got, err := f.service.Get(context.Background(), to.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, got.Status)

	// Picking more than allocated is rejected.
	_, err = f.service.SetPickedQuantity(context.Background(), to.ID, to.Lines[0].ID, 20, 7)
	require.Error(t, err)
}

func TestCompleteMovesStockToDestination(t *testing.T) {
	f := newFixture(t)
	f.store.seed(501, 10)

	to, err := f.service.Create(context.Background(), createInput(6))
	require.NoError(t, err)

	done, err := f.service.Complete(context.Background(), CompleteInput{OrderID: to.ID, ActorID: 7})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, done.Status)

	source := f.store.records[key(501)]
	require.InDelta(t, 4.0, source.UnrestrictedQty, 0.0005)
	require.NoError(t, source.Check())

	dest := f.store.records[key(700)]
	require.InDelta(t, 6.0, dest.UnrestrictedQty, 0.0005)
	require.NoError(t, dest.Check())
}

func TestCompleteShortPickNeedsForce(t *testing.T) {
	f := newFixture(t)
	f.store.seed(501, 10)

	to, err := f.service.Create(context.Background(), createInput(6))
	require.NoError(t, err)
	_, err = f.service.SetPickedQuantity(context.Background(), to.ID, to.Lines[0].ID, 2, 7)
	require.NoError(t, err)

	f.flows.verdicts = []workflow.Result{{Code: workflow.CodeForceComplete, Msg: "short picked"}}
	_, err = f.service.Complete(context.Background(), CompleteInput{OrderID: to.ID})
	require.ErrorIs(t, err, ErrForceCompleteConfirm)

	// Retry with force commits the short quantity and flags the order.
	done, err := f.service.Complete(context.Background(), CompleteInput{OrderID: to.ID, Force: true})
	require.NoError(t, err)
	require.Equal(t, StatusForceCompleted, done.Status)
	require.True(t, f.flows.requests[1].Flags["force_complete"])

	source := f.store.records[key(501)]
	require.InDelta(t, 8.0, source.UnrestrictedQty, 0.0005)
	dest := f.store.records[key(700)]
	require.InDelta(t, 2.0, dest.UnrestrictedQty, 0.0005)
}

func TestCancelCompletedRestoresBothSides(t *testing.T) {
	f := newFixture(t)
	f.store.seed(501, 10)

	to, err := f.service.Create(context.Background(), createInput(6))
	require.NoError(t, err)
	_, err = f.service.Complete(context.Background(), CompleteInput{OrderID: to.ID})
	require.NoError(t, err)

	require.NoError(t, f.service.Cancel(context.Background(), to.ID, 7))

	source := f.store.records[key(501)]
	require.InDelta(t, 10.0, source.UnrestrictedQty, 0.0005)
	require.NoError(t, source.Check())
	dest := f.store.records[key(700)]
	require.InDelta(t, 0.0, dest.UnrestrictedQty, 0.0005)
	require.NoError(t, dest.Check())

	got, err := f.service.Get(context.Background(), to.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, got.Status)
}
