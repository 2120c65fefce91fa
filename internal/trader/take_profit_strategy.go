package trader

import (
	"context"
	"errors"
	"fmt"

	"upbit-trade-bot-go/internal/config"
	"upbit-trade-bot-go/internal/models"
	"upbit-trade-bot-go/internal/upbit"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TakeProfitStrategy buys a market at the current price and immediately rests
// a limit sell a fixed percentage above the fill.
type TakeProfitStrategy struct{}

// Name returns the name of the strategy.
func (s *TakeProfitStrategy) Name() string {
	return "take_profit"
}

// Initialize logs the effective trading parameters.
func (s *TakeProfitStrategy) Initialize(_ context.Context, sctx StrategyContext) error {
	t := sctx.Cfg.Trading
	if len(t.Markets) == 0 {
		return errors.New("no markets configured")
	}
	mode := "fixed"
	if sctx.Sizer.Auto() {
		mode = "auto"
	}
	sctx.Logger.Info("Take-profit strategy initialized",
		zap.Strings("markets", t.Markets),
		zap.String("sizing", mode),
		zap.Float64("buy_amount", t.BuyAmount),
		zap.Float64("take_profit_pct", t.TakeProfitPct),
		zap.Float64("skip_buy_within_pct", t.SkipBuyWithinPct),
		zap.Duration("buy_fill_timeout", t.BuyFillTimeout),
		zap.Bool("dry_run", t.DryRun),
	)
	return nil
}

// RunOnce runs one cycle for market: reconcile resting sells, decide whether
// to buy, buy, wait for the fill and rest the take-profit sell. It returns
// the average buy price of a new position, or lastBuyPrice when nothing was
// bought.
func (s *TakeProfitStrategy) RunOnce(ctx context.Context, sctx StrategyContext, market string, lastBuyPrice decimal.Decimal) (decimal.Decimal, error) {
	t := sctx.Cfg.Trading
	logger := sctx.Logger.With(zap.String("market", market))

	ReconcilePendingSells(ctx, sctx, market)

	price, err := sctx.RestClient.GetCurrentPrice(ctx, market)
	if err != nil {
		return lastBuyPrice, fmt.Errorf("failed to get price for %s: %w", market, err)
	}
	openAll := sctx.Store.CountOpenAll()
	marketOpen := sctx.Store.CountOpen(market)
	targets := sctx.Sizer.Targets(openAll)
	sctx.Metrics.setOpen(market, marketOpen)
	logger.Info("Cycle started", zap.String("price", price.String()),
		zap.Int("open_all", openAll), zap.Int("open_market", marketOpen))

	if marketOpen < t.RepairThreshold {
		if n := RepriceLossPositions(ctx, sctx, market); n > 0 {
			logger.Info("Repriced loss positions", zap.Int("count", n))
		}
	}

	if marketOpen > 0 && targets.SkipWithinPct.IsPositive() {
		if lowest, ok := sctx.Store.QueryCheapestOpen(market); ok && lowest.BuyPrice.IsPositive() {
			if shouldSkipBuy(price, lowest.SellPrice, marketOpen, targets) {
				logger.Info("Price is near the lowest pending sell, skipping buy",
					zap.String("lowest_sell", lowest.SellPrice.String()))
				sctx.Metrics.buySkip("near_open")
				return lastBuyPrice, nil
			}
		}
	}

	balance, err := sctx.RestClient.GetBalance(ctx, t.QuoteCurrency)
	if err != nil {
		return lastBuyPrice, fmt.Errorf("failed to get %s balance: %w", t.QuoteCurrency, err)
	}
	if capitalConstrained(t, sctx.Sizer.Auto(), balance, marketOpen) {
		logger.Warn("Not enough capital for a new buy, repricing cheapest pending sell",
			zap.String("balance", balance.String()), zap.Int("open_market", marketOpen))
		s.repriceForCapital(ctx, sctx, logger, market, price)
		return lastBuyPrice, nil
	}

	amount, err := sctx.Sizer.BuyAmount(openAll, balance)
	if errors.Is(err, ErrNoBuy) {
		logger.Warn("Sized amount below minimum order, repricing cheapest pending sell", zap.Error(err))
		s.repriceForCapital(ctx, sctx, logger, market, price)
		return lastBuyPrice, nil
	}
	if err != nil {
		return lastBuyPrice, err
	}

	buy, err := sctx.RestClient.BuyMarket(ctx, market, amount)
	if err != nil {
		return lastBuyPrice, fmt.Errorf("failed to place market buy: %w", err)
	}
	sctx.Metrics.orderPlaced(upbit.SideBid, t.DryRun)
	logger = logger.With(zap.String("buy_id", buy.UUID))
	logger.Info("Market buy placed", zap.String("amount", amount.String()))

	fill, err := s.fill(ctx, sctx, buy.UUID, amount, price)
	if errors.Is(err, ErrNotFilled) {
		logger.Warn("Buy did not fill, no position created", zap.Error(err))
		sctx.Metrics.buySkip("not_filled")
		return lastBuyPrice, nil
	}
	if err != nil {
		return lastBuyPrice, err
	}

	volume := TruncateVolume(fill.Volume)
	if !volume.IsPositive() {
		logger.Warn("Buy filled a negligible volume, no position created", zap.String("volume", fill.Volume.String()))
		return lastBuyPrice, nil
	}
	logger.Info("Buy filled", zap.String("volume", volume.String()),
		zap.String("avg_price", fill.AvgPrice.String()), zap.String("total", fill.Total.String()))

	target := TakeProfitPrice(fill.AvgPrice, targets.TakeProfitPct, market)
	position := models.Position{
		BuyID:       buy.UUID,
		Market:      market,
		BuyPrice:    fill.AvgPrice,
		BuyQuantity: volume,
		BuyAmount:   fill.Total.Round(2),
		BuyTime:     sctx.now(),
		SellPrice:   target,
		State:       models.StateWaiting,
	}

	sell, sellErr := sctx.RestClient.SellLimit(ctx, market, volume, target)
	if sellErr != nil {
		position.State = models.StateError
	} else {
		position.SellID = sell.UUID
		sctx.Metrics.orderPlaced(upbit.SideAsk, t.DryRun)
	}

	if err := sctx.Store.Upsert(ctx, position); err != nil {
		logger.Error("Failed to persist position", zap.Error(err))
	}
	if sellErr != nil {
		return fill.AvgPrice, fmt.Errorf("failed to place take-profit sell for %s: %w", buy.UUID, sellErr)
	}

	sctx.Metrics.setOpen(market, sctx.Store.CountOpen(market))
	logger.Info("Take-profit sell placed", zap.String("sell_id", sell.UUID), zap.String("sell_price", target.String()))
	return fill.AvgPrice, nil
}

// fill waits for the buy to execute. Dry runs synthesize the fill from the
// quoted price and the requested amount.
func (s *TakeProfitStrategy) fill(ctx context.Context, sctx StrategyContext, buyID string, amount, price decimal.Decimal) (*Fill, error) {
	if sctx.Cfg.Trading.DryRun {
		return &Fill{
			Volume:   TruncateVolume(amount.Div(price)),
			AvgPrice: price,
			Total:    amount,
		}, nil
	}
	return sctx.Waiter.AwaitFill(ctx, buyID, sctx.Cfg.Trading.BuyFillTimeout)
}

func (s *TakeProfitStrategy) repriceForCapital(ctx context.Context, sctx StrategyContext, logger *zap.Logger, market string, price decimal.Decimal) {
	sctx.Metrics.buySkip("capital")
	if err := RepriceCheapestOpen(ctx, sctx, market, price); err != nil {
		logger.Warn("Failed to reprice cheapest pending sell", zap.Error(err))
	}
}

// capitalConstrained reports whether the next buy cannot be funded. Auto mode
// only requires the minimum balance; fixed mode requires the buy amount and
// caps the open positions per market.
func capitalConstrained(t config.Trading, auto bool, balance decimal.Decimal, marketOpen int) bool {
	if auto {
		return balance.LessThan(decimal.NewFromFloat(t.MinBalance))
	}
	if balance.LessThan(decimal.NewFromFloat(t.BuyAmount)) {
		return true
	}
	return t.MaxOpenPerMarket > 0 && marketOpen > t.MaxOpenPerMarket
}

// shouldSkipBuy reports whether price is close enough to the lowest resting
// sell that buying again would stack positions at nearly the same level.
func shouldSkipBuy(price, lowestSell decimal.Decimal, openCount int, t Targets) bool {
	if !lowestSell.IsPositive() {
		return false
	}
	diff := price.Sub(lowestSell).Abs().Div(lowestSell).Mul(decimal.NewFromInt(100))
	if diff.GreaterThan(t.SkipWithinPct.Add(t.TakeProfitPct)) {
		return false
	}
	if openCount == 1 {
		// TODO: a single open position skips only outside the bare skip band,
		// unlike every other count; confirm with product whether that is intended.
		return diff.GreaterThan(t.SkipWithinPct)
	}
	return true
}
