package trader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"upbit-trade-bot-go/internal/upbit"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrNotFilled is returned when an order ended or timed out without any executed volume.
var ErrNotFilled = errors.New("order not filled")

const defaultPollInterval = time.Second

// Fill summarizes the executed part of an order.
type Fill struct {
	Volume   decimal.Decimal
	AvgPrice decimal.Decimal
	// Total is the fee-adjusted notional: fees added for bids, subtracted for asks.
	Total decimal.Decimal
}

// OrderDetails computes the volume-weighted average price and the fee-adjusted
// total of an order's trades. ok is false when nothing has executed.
func OrderDetails(o *upbit.Order) (avg, total decimal.Decimal, ok bool) {
	volume, notional := tradeSums(o)
	if !volume.IsPositive() {
		return decimal.Zero, decimal.Zero, false
	}
	avg = notional.Div(volume)
	switch o.Side {
	case upbit.SideBid:
		total = notional.Add(o.PaidFee)
	case upbit.SideAsk:
		total = notional.Sub(o.PaidFee)
	default:
		total = notional
	}
	return avg, total, true
}

func tradeSums(o *upbit.Order) (volume, notional decimal.Decimal) {
	for _, t := range o.Trades {
		funds := t.Funds
		if funds.IsZero() {
			funds = t.Price.Mul(t.Volume)
		}
		volume = volume.Add(t.Volume)
		notional = notional.Add(funds)
	}
	return volume, notional
}

func fillOf(o *upbit.Order) (*Fill, bool) {
	avg, total, ok := OrderDetails(o)
	if !ok {
		return nil, false
	}
	volume, _ := tradeSums(o)
	return &Fill{Volume: volume, AvgPrice: avg, Total: total}, true
}

// FillWaiter polls an order until it reaches a terminal state or a deadline.
type FillWaiter struct {
	Client       upbit.RestClientInterface
	Logger       *zap.Logger
	PollInterval time.Duration
}

// AwaitFill blocks until orderUUID is done, cancelled or errored, or until
// timeout elapses. Cancelled, errored and timed out orders return the largest
// partial fill seen so far; ErrNotFilled is returned when nothing executed.
// A timeout <= 0 takes the first poll as final.
func (w *FillWaiter) AwaitFill(ctx context.Context, orderUUID string, timeout time.Duration) (*Fill, error) {
	interval := w.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	logger := w.Logger.With(zap.String("order_uuid", orderUUID))
	deadline := time.Now().Add(timeout)

	var best *Fill
	for {
		order, err := w.Client.GetOrder(ctx, orderUUID)
		if err != nil {
			logger.Warn("Failed to query order", zap.Error(err))
		} else {
			fill, ok := fillOf(order)
			if ok && (best == nil || fill.Volume.GreaterThan(best.Volume)) {
				best = fill
			}
			switch order.State {
			case upbit.OrderStateDone:
				if best == nil {
					return nil, fmt.Errorf("order %s done without trades: %w", orderUUID, ErrNotFilled)
				}
				return best, nil
			case upbit.OrderStateCancel, upbit.OrderStateError:
				if best == nil {
					return nil, fmt.Errorf("order %s ended in %s: %w", orderUUID, order.State, ErrNotFilled)
				}
				logger.Warn("Order ended with partial fill", zap.String("state", order.State),
					zap.String("volume", best.Volume.String()))
				return best, nil
			}
		}

		if timeout <= 0 || !time.Now().Before(deadline) {
			break
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			if best != nil {
				return best, nil
			}
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if best == nil {
		return nil, fmt.Errorf("order %s not filled before timeout: %w", orderUUID, ErrNotFilled)
	}
	logger.Warn("Fill wait timed out, using partial fill", zap.String("volume", best.Volume.String()))
	return best, nil
}
