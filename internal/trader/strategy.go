package trader

import (
	"context"
	"time"

	"upbit-trade-bot-go/internal/config"
	"upbit-trade-bot-go/internal/models"
	"upbit-trade-bot-go/internal/upbit"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PositionStore is the trade store contract the trading core relies on.
// Query methods read the in-memory cache; Upsert writes through to storage.
type PositionStore interface {
	Upsert(ctx context.Context, p models.Position) error
	// QueryOpen returns waiting positions ordered by ascending sell price.
	QueryOpen(market string) []models.Position
	QueryOpenLoss(market string) []models.Position
	QueryCheapestOpen(market string) (models.Position, bool)
	QueryCostliestOpen(market string) (models.Position, bool)
	CountOpen(market string) int
	CountOpenAll() int
}

// StrategyContext provides the strategy with access to the core components.
// It is passed explicitly into every component call.
type StrategyContext struct {
	Logger     *zap.Logger
	Cfg        *config.Config
	RestClient upbit.RestClientInterface
	Store      PositionStore
	Sizer      *Sizer
	Waiter     *FillWaiter
	Metrics    *Metrics
	Now        func() time.Time
}

func (s StrategyContext) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Strategy defines the interface for a trading strategy.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// Initialize gives the strategy a chance to perform setup tasks.
	Initialize(ctx context.Context, sctx StrategyContext) error

	// RunOnce runs one cycle for market and returns the price to remember as
	// the market's last buy price.
	RunOnce(ctx context.Context, sctx StrategyContext, market string, lastBuyPrice decimal.Decimal) (decimal.Decimal, error)
}
