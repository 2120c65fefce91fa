package trader

import (
	"context"
	"fmt"

	"upbit-trade-bot-go/internal/models"
	"upbit-trade-bot-go/internal/upbit"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	repriceCapital = "capital"
	repriceLoss    = "loss"
)

// RepriceCheapestOpen moves the cheapest resting sell of market to a
// take-profit price derived from the current market price. It is used when
// there is no capital left for a new buy. A failed cancel aborts without retry.
func RepriceCheapestOpen(ctx context.Context, sctx StrategyContext, market string, price decimal.Decimal) error {
	p, ok := sctx.Store.QueryCheapestOpen(market)
	if !ok {
		sctx.Logger.Debug("No pending sell to reprice", zap.String("market", market))
		return nil
	}
	target := TakeProfitPrice(price, decimal.NewFromFloat(sctx.Cfg.Trading.TakeProfitPct), market)
	return replaceSell(ctx, sctx, p, target, repriceCapital)
}

// RepriceLossPositions moves every resting sell of market priced below its
// buy price back to buy price plus the take-profit percentage. Failures are
// logged and the next position is still attempted. It returns the number of
// sells replaced.
func RepriceLossPositions(ctx context.Context, sctx StrategyContext, market string) int {
	tp := decimal.NewFromFloat(sctx.Cfg.Trading.TakeProfitPct)
	replaced := 0
	for _, p := range sctx.Store.QueryOpenLoss(market) {
		target := TakeProfitPrice(p.BuyPrice, tp, market)
		if err := replaceSell(ctx, sctx, p, target, repriceLoss); err != nil {
			sctx.Logger.Warn("Failed to reprice loss position", zap.String("buy_id", p.BuyID), zap.Error(err))
			continue
		}
		replaced++
	}
	return replaced
}

// replaceSell cancels the resting sell of p and places a new one at price for
// the same quantity, then rewrites the sell fields of p in place.
func replaceSell(ctx context.Context, sctx StrategyContext, p models.Position, price decimal.Decimal, variant string) error {
	l := sctx.Logger.With(zap.String("market", p.Market), zap.String("buy_id", p.BuyID), zap.String("sell_id", p.SellID))
	if p.SellID == "" || !p.BuyQuantity.IsPositive() {
		return fmt.Errorf("position %s lacks sell id or quantity", p.BuyID)
	}

	if _, err := sctx.RestClient.CancelOrder(ctx, p.SellID); err != nil {
		return fmt.Errorf("failed to cancel sell %s: %w", p.SellID, err)
	}

	order, err := sctx.RestClient.SellLimit(ctx, p.Market, TruncateVolume(p.BuyQuantity), price)
	if err != nil {
		// The stored sell id now points at a cancelled order; reconciliation closes it.
		return fmt.Errorf("failed to place replacement sell for %s: %w", p.BuyID, err)
	}
	sctx.Metrics.orderPlaced(upbit.SideAsk, sctx.Cfg.Trading.DryRun)

	oldID := p.SellID
	p.SellID = order.UUID
	p.SellPrice = price
	if err := sctx.Store.Upsert(ctx, p); err != nil {
		l.Error("Failed to persist repriced position", zap.Error(err))
	}
	sctx.Metrics.sellRepriced(variant)
	l.Info("Sell order replaced", zap.String("variant", variant), zap.String("old_sell_id", oldID),
		zap.String("new_sell_id", order.UUID), zap.String("sell_price", price.String()))
	return nil
}
