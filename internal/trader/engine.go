package trader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"upbit-trade-bot-go/internal/config"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Engine runs the strategy over every configured market, one market at a
// time, forever.
type Engine struct {
	UUID      string
	Name      string
	StartTime time.Time

	logger   *zap.Logger
	cfg      *config.Config
	strategy Strategy
	sctx     StrategyContext

	mu            sync.RWMutex
	lastBuyPrices map[string]decimal.Decimal
	cycles        int
	lastCycle     time.Time
}

// NewEngine creates a new trading engine.
func NewEngine(logger *zap.Logger, cfg *config.Config, strategy Strategy, sctx StrategyContext) *Engine {
	return &Engine{
		UUID:          uuid.NewString(),
		Name:          "upbit-trade-bot",
		StartTime:     time.Now(),
		logger:        logger.Named("engine"),
		cfg:           cfg,
		strategy:      strategy,
		sctx:          sctx,
		lastBuyPrices: make(map[string]decimal.Decimal),
	}
}

// Run starts the trading engine's main loop. Cancellation is honored between
// markets and between cycles; a cycle already under way finishes its
// exchange calls first.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("Initializing trading engine...", zap.String("strategy", e.strategy.Name()))
	if err := e.strategy.Initialize(ctx, e.sctx); err != nil {
		return fmt.Errorf("failed to initialize strategy: %w", err)
	}

	t := e.cfg.Trading
	e.logger.Info("Starting trading loop", zap.Duration("interval", t.Interval), zap.Duration("market_delay", t.MarketDelay))

	for {
		for i, market := range t.Markets {
			if ctx.Err() != nil {
				e.logger.Info("Stopping trading engine...")
				return nil
			}
			e.runMarket(ctx, market)

			if i < len(t.Markets)-1 && !sleep(ctx, t.MarketDelay) {
				e.logger.Info("Stopping trading engine...")
				return nil
			}
		}

		e.mu.Lock()
		e.cycles++
		e.lastCycle = time.Now()
		e.mu.Unlock()

		if !sleep(ctx, t.Interval) {
			e.logger.Info("Stopping trading engine...")
			return nil
		}
	}
}

// runMarket runs one strategy cycle for market. Errors and panics are logged
// and never reach other markets.
func (e *Engine) runMarket(ctx context.Context, market string) {
	logger := e.logger.With(zap.String("market", market))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Market cycle panicked", zap.Any("panic", r), zap.Stack("stack"))
			e.sctx.Metrics.cycleFailed(market)
		}
	}()

	e.mu.RLock()
	last := e.lastBuyPrices[market]
	e.mu.RUnlock()

	price, err := e.strategy.RunOnce(context.WithoutCancel(ctx), e.sctx, market, last)
	if err != nil {
		logger.Error("Market cycle failed", zap.Error(err))
		e.sctx.Metrics.cycleFailed(market)
	}

	e.mu.Lock()
	e.lastBuyPrices[market] = price
	e.mu.Unlock()
}

// LastBuyPrice returns the last average buy price recorded for market.
func (e *Engine) LastBuyPrice(market string) decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastBuyPrices[market]
}

// MarketStatus describes one market for the status endpoint.
type MarketStatus struct {
	Market        string          `json:"market"`
	LastBuyPrice  decimal.Decimal `json:"last_buy_price"`
	OpenPositions int             `json:"open_positions"`
	LowestSell    decimal.Decimal `json:"lowest_sell"`
	HighestSell   decimal.Decimal `json:"highest_sell"`
}

// Status is a snapshot of the engine for the status endpoint.
type Status struct {
	UUID          string         `json:"uuid"`
	Name          string         `json:"name"`
	Strategy      string         `json:"strategy"`
	StartTime     string         `json:"start_time"`
	Uptime        string         `json:"uptime"`
	DryRun        bool           `json:"dry_run"`
	Cycles        int            `json:"cycles"`
	LastCycle     string         `json:"last_cycle,omitempty"`
	OpenPositions int            `json:"open_positions"`
	Markets       []MarketStatus `json:"markets"`
}

// Status returns a snapshot of the engine and its open positions.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := Status{
		UUID:          e.UUID,
		Name:          e.Name,
		Strategy:      e.strategy.Name(),
		StartTime:     e.StartTime.Format(time.RFC3339),
		Uptime:        time.Since(e.StartTime).Round(time.Second).String(),
		DryRun:        e.cfg.Trading.DryRun,
		Cycles:        e.cycles,
		OpenPositions: e.sctx.Store.CountOpenAll(),
	}
	if !e.lastCycle.IsZero() {
		st.LastCycle = e.lastCycle.Format(time.RFC3339)
	}
	for _, market := range e.cfg.Trading.Markets {
		ms := MarketStatus{
			Market:        market,
			LastBuyPrice:  e.lastBuyPrices[market],
			OpenPositions: e.sctx.Store.CountOpen(market),
		}
		if p, ok := e.sctx.Store.QueryCheapestOpen(market); ok {
			ms.LowestSell = p.SellPrice
		}
		if p, ok := e.sctx.Store.QueryCostliestOpen(market); ok {
			ms.HighestSell = p.SellPrice
		}
		st.Markets = append(st.Markets, ms)
	}
	return st
}

// sleep waits for d or until ctx is done. It reports whether the wait completed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
