package trader

import (
	"context"

	"upbit-trade-bot-go/internal/models"
	"upbit-trade-bot-go/internal/upbit"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReconcilePendingSells confirms the resting sells of market against the
// exchange and closes the positions whose sell is done or cancelled. It
// returns the number of positions closed.
//
// Positions are checked from the cheapest sell upwards and the scan stops at
// the first sell still resting. This relies on the exchange matching limit
// sells in price order: while the cheapest sell is unfilled no costlier one
// can have filled. A failed query skips that position without stopping.
func ReconcilePendingSells(ctx context.Context, sctx StrategyContext, market string) int {
	logger := sctx.Logger.With(zap.String("market", market))
	pending := sctx.Store.QueryOpen(market)
	if len(pending) == 0 {
		return 0
	}
	logger.Debug("Checking pending sells", zap.Int("count", len(pending)))

	closed := 0
	for _, p := range pending {
		l := logger.With(zap.String("buy_id", p.BuyID), zap.String("sell_id", p.SellID))
		if p.SellID == "" {
			l.Warn("Position has no sell order, cannot reconcile")
			continue
		}

		order, err := sctx.RestClient.GetOrder(ctx, p.SellID)
		if err != nil {
			l.Warn("Failed to query sell order", zap.Error(err))
			continue
		}

		switch order.State {
		case upbit.OrderStateDone, upbit.OrderStateCancel:
			closePosition(ctx, sctx, l, p, order)
			closed++
		default:
			l.Debug("Cheapest pending sell still resting, stopping scan", zap.String("state", order.State))
			return closed
		}
	}
	return closed
}

func closePosition(ctx context.Context, sctx StrategyContext, l *zap.Logger, p models.Position, order *upbit.Order) {
	now := sctx.now()
	p.State = models.StateDone
	if order.State == upbit.OrderStateCancel {
		p.State = models.StateCancel
	}
	_, total, ok := OrderDetails(order)
	if !ok {
		total = decimal.Zero
	}
	p.SellAmount = decimal.NewNullDecimal(total.Round(2))
	p.SellTime = &now

	if err := sctx.Store.Upsert(ctx, p); err != nil {
		l.Error("Failed to persist closed position", zap.Error(err))
	}
	sctx.Metrics.positionClosed(string(p.State))
	l.Info("Position closed", zap.String("state", string(p.State)), zap.String("sell_amount", total.Round(2).String()))
}
