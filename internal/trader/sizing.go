package trader

import (
	"errors"
	"fmt"

	"upbit-trade-bot-go/internal/config"

	"github.com/shopspring/decimal"
)

// ErrNoBuy is returned when the sized amount is below the exchange minimum order.
var ErrNoBuy = errors.New("buy amount below minimum order")

// Targets are the percentages that steer one buy decision.
type Targets struct {
	SkipWithinPct decimal.Decimal
	TakeProfitPct decimal.Decimal
}

type thresholdBucket struct {
	below   int // 0 matches every count
	targets Targets
}

type allocationBucket struct {
	below int
	slots int
}

var defaultThresholds = []config.ThresholdBucket{
	{Below: 10, SkipWithinPct: 0.2, TakeProfitPct: 2.0},
	{Below: 30, SkipWithinPct: 0.25, TakeProfitPct: 1.2},
	{Below: 60, SkipWithinPct: 0.5, TakeProfitPct: 1.0},
	{Below: 80, SkipWithinPct: 1.0, TakeProfitPct: 1.5},
	{SkipWithinPct: 1.5, TakeProfitPct: 2.0},
}

var defaultAllocation = []config.AllocationBucket{
	{Below: 10, Slots: 100},
	{Below: 30, Slots: 70},
	{Below: 60, Slots: 80},
	{Below: 80, Slots: 90},
	{Below: 100, Slots: 100},
	{Slots: 0},
}

// Sizer decides how much to spend on the next buy and which skip and
// take-profit percentages apply. In auto mode both scale with the number of
// open positions through ordered bucket tables.
type Sizer struct {
	auto       bool
	fixed      decimal.Decimal
	fixedTgt   Targets
	minOrder   decimal.Decimal
	unit       decimal.Decimal
	thresholds []thresholdBucket
	allocation []allocationBucket
}

// NewSizer builds a sizer from the trading config. Empty bucket tables fall
// back to the built-in defaults.
func NewSizer(cfg config.Trading) *Sizer {
	s := &Sizer{
		auto:  cfg.AutoMode(),
		fixed: decimal.NewFromFloat(cfg.BuyAmount),
		fixedTgt: Targets{
			SkipWithinPct: decimal.NewFromFloat(cfg.SkipBuyWithinPct),
			TakeProfitPct: decimal.NewFromFloat(cfg.TakeProfitPct),
		},
		minOrder: decimal.NewFromFloat(cfg.MinOrderAmount),
		unit:     decimal.NewFromFloat(cfg.OrderUnit),
	}

	thresholds := cfg.AutoThresholds
	if len(thresholds) == 0 {
		thresholds = defaultThresholds
	}
	for _, b := range thresholds {
		s.thresholds = append(s.thresholds, thresholdBucket{
			below: b.Below,
			targets: Targets{
				SkipWithinPct: decimal.NewFromFloat(b.SkipWithinPct),
				TakeProfitPct: decimal.NewFromFloat(b.TakeProfitPct),
			},
		})
	}

	allocation := cfg.AutoAllocation
	if len(allocation) == 0 {
		allocation = defaultAllocation
	}
	for _, b := range allocation {
		s.allocation = append(s.allocation, allocationBucket{below: b.Below, slots: b.Slots})
	}
	return s
}

// Auto reports whether the sizer derives amounts from the balance.
func (s *Sizer) Auto() bool { return s.auto }

// Targets returns the skip and take-profit percentages for openCount open positions.
func (s *Sizer) Targets(openCount int) Targets {
	if !s.auto {
		return s.fixedTgt
	}
	for _, b := range s.thresholds {
		if b.below == 0 || openCount < b.below {
			return b.targets
		}
	}
	return s.thresholds[len(s.thresholds)-1].targets
}

// BuyAmount returns the quote amount to spend. Auto mode divides balance by
// the slots left in the matching bucket and floors the result to the order
// unit. Amounts below the minimum order return ErrNoBuy.
func (s *Sizer) BuyAmount(openCount int, balance decimal.Decimal) (decimal.Decimal, error) {
	amount := s.fixed
	if s.auto {
		denom := s.denominator(openCount)
		amount = balance.Div(decimal.NewFromInt(int64(denom)))
		if s.unit.IsPositive() {
			amount = amount.Div(s.unit).Floor().Mul(s.unit)
		} else {
			amount = amount.Floor()
		}
	}

	if amount.LessThan(s.minOrder) || !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("sized %s with %d open: %w", amount, openCount, ErrNoBuy)
	}
	return amount, nil
}

func (s *Sizer) denominator(openCount int) int {
	slots := 0
	for _, b := range s.allocation {
		if b.below == 0 || openCount < b.below {
			slots = b.slots
			break
		}
	}
	if slots == 0 || slots-openCount < 1 {
		return 1
	}
	return slots - openCount
}

// SizeAndTarget combines BuyAmount and Targets for one decision.
func (s *Sizer) SizeAndTarget(openCount int, balance decimal.Decimal) (decimal.Decimal, Targets, error) {
	amount, err := s.BuyAmount(openCount, balance)
	return amount, s.Targets(openCount), err
}
