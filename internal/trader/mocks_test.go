package trader

import (
	"context"
	"testing"

	"upbit-trade-bot-go/internal/config"
	"upbit-trade-bot-go/internal/database"
	"upbit-trade-bot-go/internal/store"
	"upbit-trade-bot-go/internal/upbit"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// MockRestClient is a mock implementation of the RestClientInterface.
type MockRestClient struct {
	mock.Mock
}

func (m *MockRestClient) GetCurrentPrice(ctx context.Context, market string) (decimal.Decimal, error) {
	args := m.Called(ctx, market)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockRestClient) GetBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	args := m.Called(ctx, currency)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockRestClient) BuyMarket(ctx context.Context, market string, amount decimal.Decimal) (*upbit.Order, error) {
	args := m.Called(ctx, market, amount)
	return orderArg(args, 0), args.Error(1)
}

func (m *MockRestClient) SellLimit(ctx context.Context, market string, volume, price decimal.Decimal) (*upbit.Order, error) {
	args := m.Called(ctx, market, volume, price)
	return orderArg(args, 0), args.Error(1)
}

func (m *MockRestClient) GetOrder(ctx context.Context, orderUUID string) (*upbit.Order, error) {
	args := m.Called(ctx, orderUUID)
	return orderArg(args, 0), args.Error(1)
}

func (m *MockRestClient) CancelOrder(ctx context.Context, orderUUID string) (*upbit.Order, error) {
	args := m.Called(ctx, orderUUID)
	return orderArg(args, 0), args.Error(1)
}

func orderArg(args mock.Arguments, i int) *upbit.Order {
	if o, ok := args.Get(i).(*upbit.Order); ok {
		return o
	}
	return nil
}

// decEq matches a decimal argument by value regardless of exponent.
func decEq(s string) interface{} {
	want := decimal.RequireFromString(s)
	return mock.MatchedBy(func(v decimal.Decimal) bool { return v.Equal(want) })
}

// setupStore creates a store over a fresh in-memory database.
func setupStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(db))
	return store.New(db, zap.NewNop())
}

func testConfig() *config.Config {
	return &config.Config{
		Trading: config.Trading{
			Markets:          []string{"KRW-ADA"},
			QuoteCurrency:    "KRW",
			BuyAmount:        10000,
			TakeProfitPct:    1.0,
			SkipBuyWithinPct: 0.3,
			MaxOpenPerMarket: 10,
			MinBalance:       10000,
			MinOrderAmount:   5000,
			OrderUnit:        10000,
			RepairThreshold:  15,
		},
	}
}

// newTestContext wires a strategy context around client and a fresh store.
func newTestContext(t *testing.T, client upbit.RestClientInterface, cfg *config.Config) StrategyContext {
	t.Helper()
	return StrategyContext{
		Logger:     zap.NewNop(),
		Cfg:        cfg,
		RestClient: client,
		Store:      setupStore(t),
		Sizer:      NewSizer(cfg.Trading),
		Waiter:     &FillWaiter{Client: client, Logger: zap.NewNop(), PollInterval: 1},
	}
}
