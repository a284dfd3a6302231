package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helmsman/internal/fault"
	"helmsman/internal/gateway/exchange"
	"helmsman/internal/store"
	"helmsman/internal/store/model"
	"helmsman/internal/strategy"
)

type fakeStore struct {
	strategies    map[string]*model.StrategyRecord
	orders        []model.OrderRecord
	events        []model.ErrorEventRecord
	saves         []string
	findByNameErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{strategies: make(map[string]*model.StrategyRecord)}
}

func (f *fakeStore) LoadStrategies(context.Context) ([]model.StrategyRecord, error) {
	var out []model.StrategyRecord
	for _, rec := range f.strategies {
		out = append(out, *rec)
	}
	return out, nil
}

func (f *fakeStore) CreateStrategy(_ context.Context, rec *model.StrategyRecord) error {
	f.strategies[rec.ID] = rec
	return nil
}

func (f *fakeStore) FindStrategy(_ context.Context, id string) (*model.StrategyRecord, error) {
	rec, ok := f.strategies[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (f *fakeStore) FindStrategyByName(_ context.Context, name string) (*model.StrategyRecord, error) {
	if f.findByNameErr != nil {
		return nil, f.findByNameErr
	}
	for _, rec := range f.strategies {
		if rec.Name == name {
			clone := *rec
			return &clone, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) SaveStrategyState(_ context.Context, id string, state strategy.State, _ strategy.Health) error {
	rec, ok := f.strategies[id]
	if !ok {
		return store.ErrNotFound
	}
	rec.State = string(state)
	f.saves = append(f.saves, id+":"+string(state))
	return nil
}

func (f *fakeStore) TouchStrategy(_ context.Context, id string, at int64) error {
	if rec, ok := f.strategies[id]; ok {
		rec.LastCheckedUnix = at
	}
	return nil
}

func (f *fakeStore) AppendOrder(_ context.Context, rec *model.OrderRecord) error {
	f.orders = append(f.orders, *rec)
	return nil
}

func (f *fakeStore) ListOrders(_ context.Context, strategyID string) ([]model.OrderRecord, error) {
	var out []model.OrderRecord
	for _, o := range f.orders {
		if o.StrategyID == strategyID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeStore) AppendErrorEvent(_ context.Context, rec *model.ErrorEventRecord) error {
	f.events = append(f.events, *rec)
	return nil
}

func (f *fakeStore) ListErrorEvents(_ context.Context, strategyID string, limit int) ([]model.ErrorEventRecord, error) {
	var out []model.ErrorEventRecord
	for i := len(f.events) - 1; i >= 0 && len(out) < limit; i-- {
		if f.events[i].StrategyID == strategyID {
			out = append(out, f.events[i])
		}
	}
	return out, nil
}

func (f *fakeStore) Close() error { return nil }

type fakeGateway struct {
	cancelled []string
	cancelErr error
}

func (f *fakeGateway) Name() string { return "fake" }
func (f *fakeGateway) GetPrice(context.Context, string) (exchange.PriceQuote, error) {
	return exchange.PriceQuote{Last: decimal.NewFromInt(2500)}, nil
}
func (f *fakeGateway) PlaceOrder(context.Context, exchange.OrderRequest) (exchange.OrderAck, error) {
	return exchange.OrderAck{}, nil
}
func (f *fakeGateway) OrderStatus(context.Context, string, string) (exchange.OrderStatus, error) {
	return exchange.OrderStatus{}, nil
}
func (f *fakeGateway) CancelOrder(_ context.Context, _, orderID string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, orderID)
	return nil
}
func (f *fakeGateway) Balances(context.Context) ([]exchange.Balance, error) { return nil, nil }

func validCreate() CreateRequest {
	return CreateRequest{
		Name:   "eth-range",
		Kind:   "range",
		Symbol: "ethusd",
		Config: map[string]any{
			"levels": []any{
				map[string]any{"price": "2400", "size": "1"},
			},
			"target_price": "2600",
		},
	}
}

func TestCreateStoresPendingStrategy(t *testing.T) {
	fs := newFakeStore()
	svc := New(fs, &fakeGateway{}, nil)

	st, err := svc.Create(context.Background(), validCreate())
	require.NoError(t, err)
	assert.Equal(t, strategy.StatePending, st.State)
	assert.NotEmpty(t, st.ID)

	rec := fs.strategies[st.ID]
	require.NotNil(t, rec)
	assert.Equal(t, "pending", rec.State)
	assert.Contains(t, string(rec.ConfigJSON), "target_price")
}

func TestCreateInvalidConfigFailsSynchronously(t *testing.T) {
	fs := newFakeStore()
	svc := New(fs, &fakeGateway{}, nil)

	req := validCreate()
	req.Config["target_price"] = "100"
	_, err := svc.Create(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, fault.ConfigValidation, fault.KindOf(err))

	// The record lands in FAILED with exactly one error event.
	var rec *model.StrategyRecord
	for _, r := range fs.strategies {
		rec = r
	}
	require.NotNil(t, rec)
	assert.Equal(t, "failed", rec.State)
	require.Len(t, fs.events, 1)
	assert.Equal(t, "CONFIG_VALIDATION", fs.events[0].ErrorKind)
	assert.Equal(t, "SEVERE", fs.events[0].Severity)
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	fs := newFakeStore()
	svc := New(fs, &fakeGateway{}, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)
	_, err = svc.Create(ctx, validCreate())
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestCreatePropagatesNameLookupFailure(t *testing.T) {
	fs := newFakeStore()
	fs.findByNameErr = errors.New("disk I/O error")
	svc := New(fs, &fakeGateway{}, nil)

	_, err := svc.Create(context.Background(), validCreate())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateName)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.Empty(t, fs.strategies)
}

func TestCreateRejectsUnknownKind(t *testing.T) {
	svc := New(newFakeStore(), &fakeGateway{}, nil)
	req := validCreate()
	req.Kind = "martingale"
	_, err := svc.Create(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, fault.ConfigValidation, fault.KindOf(err))
}

func TestCancelCancelsLiveOrdersFirst(t *testing.T) {
	fs := newFakeStore()
	gw := &fakeGateway{}
	svc := New(fs, gw, nil)
	ctx := context.Background()

	st, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)
	require.NoError(t, fs.SaveStrategyState(ctx, st.ID, strategy.StateActive, strategy.Health{}))
	require.NoError(t, fs.AppendOrder(ctx, &model.OrderRecord{
		OrderID: "ord-1", StrategyID: st.ID, Symbol: "ethusd", Side: "buy", Price: "2400", Quantity: "1",
	}))

	got, err := svc.Cancel(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, strategy.StateCancelled, got.State)
	assert.Equal(t, []string{"ord-1"}, gw.cancelled)
	assert.Equal(t, "cancelled", fs.strategies[st.ID].State)
}

func TestCancelTerminalStrategyRejected(t *testing.T) {
	fs := newFakeStore()
	svc := New(fs, &fakeGateway{}, nil)
	ctx := context.Background()

	st, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)
	require.NoError(t, fs.SaveStrategyState(ctx, st.ID, strategy.StateCompleted, strategy.Health{}))

	_, err = svc.Cancel(ctx, st.ID)
	require.Error(t, err)
	assert.Equal(t, fault.ConfigValidation, fault.KindOf(err))
}

func TestResumeResetsHealth(t *testing.T) {
	fs := newFakeStore()
	svc := New(fs, &fakeGateway{}, nil)
	ctx := context.Background()

	st, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)
	require.NoError(t, fs.SaveStrategyState(ctx, st.ID, strategy.StatePaused, strategy.Health{}))

	got, err := svc.Resume(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, strategy.StateActive, got.State)
	assert.False(t, got.Health.BreakerOpen)
	assert.Zero(t, got.Health.ConsecutiveFailures)
}

func TestResumeRequiresPaused(t *testing.T) {
	fs := newFakeStore()
	svc := New(fs, &fakeGateway{}, nil)
	ctx := context.Background()

	st, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)
	require.NoError(t, fs.SaveStrategyState(ctx, st.ID, strategy.StateFailed, strategy.Health{}))

	_, err = svc.Resume(ctx, st.ID)
	assert.Error(t, err, "failed strategies need operator re-creation, not resume")
}

func TestRecordErrorEventCarriesContext(t *testing.T) {
	fs := newFakeStore()
	svc := New(fs, &fakeGateway{}, nil)
	ctx := context.Background()

	st, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	first := fault.Newf(fault.TransientNetwork, "gemini.GetPrice", "timeout")
	svc.RecordErrorEvent(ctx, st, first, fault.SeverityWarning, nil)

	second := fault.Newf(fault.InvalidOrderParams, "gemini.PlaceOrder", "bad tick")
	svc.RecordErrorEvent(ctx, st, second, fault.SeveritySevere, map[string]any{"last_price": "2500"})

	require.Len(t, fs.events, 2)
	ev := fs.events[1]
	assert.Equal(t, "INVALID_ORDER_PARAMS", ev.ErrorKind)
	assert.Equal(t, "SEVERE", ev.Severity)
	assert.Equal(t, st.Name, ev.StrategyName)
	assert.Contains(t, string(ev.ContextJSON), "last_price")
	assert.Contains(t, string(ev.ContextJSON), "previous_errors")
	assert.Contains(t, string(ev.ContextJSON), "TRANSIENT_NETWORK")
}

func TestLoadAllSkipsTerminalStrategies(t *testing.T) {
	fs := newFakeStore()
	svc := New(fs, &fakeGateway{}, nil)
	ctx := context.Background()

	active, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	req := validCreate()
	req.Name = "done"
	finished, err := svc.Create(ctx, req)
	require.NoError(t, err)
	require.NoError(t, fs.SaveStrategyState(ctx, finished.ID, strategy.StateCompleted, strategy.Health{}))

	loaded, err := svc.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, active.ID, loaded[0].ID)
}

func TestPersistTransitionValidatesTable(t *testing.T) {
	fs := newFakeStore()
	svc := New(fs, &fakeGateway{}, nil)
	ctx := context.Background()

	st, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	err = svc.PersistTransition(ctx, st, strategy.StatePaused, nil)
	require.Error(t, err, "pending cannot pause")

	require.NoError(t, svc.PersistTransition(ctx, st, strategy.StateActive, nil))
	require.NoError(t, svc.PersistTransition(ctx, st, strategy.StatePaused,
		fault.Newf(fault.RateLimit, "tick", "too many requests")))
	assert.Equal(t, strategy.StatePaused, st.State)
}

func TestTouchUpdatesLastChecked(t *testing.T) {
	fs := newFakeStore()
	svc := New(fs, &fakeGateway{}, nil)
	ctx := context.Background()

	st, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	at := time.Now()
	svc.Touch(ctx, st, at)
	assert.Equal(t, at.Unix(), fs.strategies[st.ID].LastCheckedUnix)
	assert.Equal(t, at, st.LastCheckedAt)
}
