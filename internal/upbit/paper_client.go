package upbit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PriceSource quotes the current price of a market.
type PriceSource interface {
	GetCurrentPrice(ctx context.Context, market string) (decimal.Decimal, error)
}

// PaperClient simulates an account for dry runs. Market buys fill instantly
// at the quoted price; limit sells rest until the quoted price reaches them.
// No order ever leaves the process.
type PaperClient struct {
	mu           sync.Mutex
	quotes       PriceSource
	defaultPrice decimal.Decimal
	quote        string
	balances     map[string]decimal.Decimal
	orders       map[string]*Order
	logger       *zap.Logger
}

var _ RestClientInterface = (*PaperClient)(nil)

// NewPaperClient creates a simulated account holding balance of the quote
// currency. quotes may be nil, in which case every market trades at
// defaultPrice.
func NewPaperClient(quotes PriceSource, defaultPrice, balance decimal.Decimal, quoteCurrency string, logger *zap.Logger) *PaperClient {
	return &PaperClient{
		quotes:       quotes,
		defaultPrice: defaultPrice,
		quote:        quoteCurrency,
		balances:     map[string]decimal.Decimal{quoteCurrency: balance},
		orders:       make(map[string]*Order),
		logger:       logger.Named("paper"),
	}
}

// GetCurrentPrice returns the live quote when available, otherwise the default price.
func (p *PaperClient) GetCurrentPrice(ctx context.Context, market string) (decimal.Decimal, error) {
	if p.quotes != nil {
		price, err := p.quotes.GetCurrentPrice(ctx, market)
		if err == nil {
			return price, nil
		}
		p.logger.Warn("Live quote unavailable, using default price", zap.String("market", market), zap.Error(err))
	}
	p.mu.Lock()
	price := p.defaultPrice
	p.mu.Unlock()
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("no quote for market %s", market)
	}
	return price, nil
}

// SetPrice pins the default price, used when no live quotes are configured.
func (p *PaperClient) SetPrice(price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaultPrice = price
}

func (p *PaperClient) GetBalance(_ context.Context, currency string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balances[currency], nil
}

func (p *PaperClient) BuyMarket(ctx context.Context, market string, amount decimal.Decimal) (*Order, error) {
	price, err := p.GetCurrentPrice(ctx, market)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.balances[p.quote].LessThan(amount) {
		return nil, &APIError{Status: 400, Name: "insufficient_funds_bid", Message: "insufficient balance"}
	}
	volume := amount.DivRound(price, 8)
	p.balances[p.quote] = p.balances[p.quote].Sub(amount)
	p.balances[baseCurrency(market)] = p.balances[baseCurrency(market)].Add(volume)

	order := &Order{
		UUID:           uuid.NewString(),
		Side:           SideBid,
		OrdType:        OrdTypePrice,
		Price:          amount,
		State:          OrderStateDone,
		Market:         market,
		ExecutedVolume: volume,
		TradesCount:    1,
		Trades:         []Trade{{Market: market, Price: price, Volume: volume, Funds: amount, Side: SideBid}},
	}
	p.orders[order.UUID] = order
	p.logger.Info("Simulated market buy", zap.String("market", market), zap.String("amount", amount.String()))
	return copyOrder(order), nil
}

func (p *PaperClient) SellLimit(_ context.Context, market string, volume, price decimal.Decimal) (*Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	order := &Order{
		UUID:            uuid.NewString(),
		Side:            SideAsk,
		OrdType:         OrdTypeLimit,
		Price:           price,
		State:           OrderStateWait,
		Market:          market,
		Volume:          volume,
		RemainingVolume: volume,
	}
	p.orders[order.UUID] = order
	p.logger.Info("Simulated limit sell", zap.String("market", market),
		zap.String("volume", volume.String()), zap.String("price", price.String()))
	return copyOrder(order), nil
}

// GetOrder reports the order, filling a resting sell first if the market
// has traded up to its price.
func (p *PaperClient) GetOrder(ctx context.Context, orderUUID string) (*Order, error) {
	p.mu.Lock()
	order, ok := p.orders[orderUUID]
	var resting bool
	var market string
	var limit decimal.Decimal
	if ok {
		resting = order.Side == SideAsk && order.State == OrderStateWait
		market, limit = order.Market, order.Price
	}
	p.mu.Unlock()
	if !ok {
		return nil, &APIError{Status: 404, Name: "order_not_found", Message: "order not found"}
	}

	if resting {
		price, err := p.GetCurrentPrice(ctx, market)
		if err != nil {
			return nil, err
		}
		if price.GreaterThanOrEqual(limit) {
			p.fillSell(order)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return copyOrder(order), nil
}

func (p *PaperClient) fillSell(order *Order) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if order.State != OrderStateWait {
		return
	}
	funds := order.Volume.Mul(order.Price)
	order.State = OrderStateDone
	order.ExecutedVolume = order.Volume
	order.RemainingVolume = decimal.Zero
	order.TradesCount = 1
	order.Trades = []Trade{{Market: order.Market, Price: order.Price, Volume: order.Volume, Funds: funds, Side: SideAsk}}
	p.balances[p.quote] = p.balances[p.quote].Add(funds)
	p.balances[baseCurrency(order.Market)] = p.balances[baseCurrency(order.Market)].Sub(order.Volume)
}

func (p *PaperClient) CancelOrder(_ context.Context, orderUUID string) (*Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.orders[orderUUID]
	if !ok || order.State != OrderStateWait {
		return nil, &APIError{Status: 400, Name: "order_not_found", Message: "order not found or already closed"}
	}
	order.State = OrderStateCancel
	return copyOrder(order), nil
}

func copyOrder(o *Order) *Order {
	c := *o
	c.Trades = append([]Trade(nil), o.Trades...)
	return &c
}

// baseCurrency returns the traded asset of a market such as KRW-BTC.
func baseCurrency(market string) string {
	if i := strings.LastIndex(market, "-"); i >= 0 {
		return market[i+1:]
	}
	return market
}
