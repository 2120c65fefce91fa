package trader

import (
	"github.com/shopspring/decimal"
)

// RoundDirection selects which neighbouring tick a price snaps to.
type RoundDirection int

const (
	// RoundUp ceils to the next tick so a take-profit never lands below target.
	RoundUp RoundDirection = iota
	// RoundDown floors to the previous tick.
	RoundDown
)

// volumePrecision is the number of decimal places the exchange accepts for volumes.
const volumePrecision = 8

type tickBand struct {
	below decimal.Decimal
	tick  decimal.Decimal
}

// krwTickBands lists the KRW market price increments by price magnitude.
// Prices at or above the last bound use topTick.
var krwTickBands = []tickBand{
	{below: decimal.NewFromInt(10), tick: decimal.RequireFromString("0.01")},
	{below: decimal.NewFromInt(100), tick: decimal.RequireFromString("0.1")},
	{below: decimal.NewFromInt(1000), tick: decimal.NewFromInt(1)},
	{below: decimal.NewFromInt(10000), tick: decimal.NewFromInt(5)},
	{below: decimal.NewFromInt(100000), tick: decimal.NewFromInt(10)},
	{below: decimal.NewFromInt(500000), tick: decimal.NewFromInt(50)},
	{below: decimal.NewFromInt(1000000), tick: decimal.NewFromInt(100)},
	{below: decimal.NewFromInt(2000000), tick: decimal.NewFromInt(500)},
}

var topTick = decimal.NewFromInt(1000)

// marketTicks overrides the banded increment for specific markets.
var marketTicks = map[string]decimal.Decimal{
	"KRW-XRP": decimal.NewFromInt(1),
	"KRW-SOL": decimal.NewFromInt(100),
	"KRW-BTC": decimal.NewFromInt(1000),
	"KRW-ETH": decimal.NewFromInt(1000),
}

// TickSize returns the legal price increment for price on market.
func TickSize(price decimal.Decimal, market string) decimal.Decimal {
	if tick, ok := marketTicks[market]; ok {
		return tick
	}
	for _, band := range krwTickBands {
		if price.LessThan(band.below) {
			return band.tick
		}
	}
	return topTick
}

// NormalizePrice snaps price onto the tick grid of market.
func NormalizePrice(price decimal.Decimal, dir RoundDirection, market string) decimal.Decimal {
	tick := TickSize(price, market)
	steps := price.Div(tick)
	if dir == RoundDown {
		steps = steps.Floor()
	} else {
		steps = steps.Ceil()
	}
	return steps.Mul(tick)
}

// TakeProfitPrice is base raised by pct percent and ceiled to the tick grid.
func TakeProfitPrice(base, pct decimal.Decimal, market string) decimal.Decimal {
	target := base.Mul(decimal.NewFromInt(1).Add(pct.Div(decimal.NewFromInt(100))))
	return NormalizePrice(target, RoundUp, market)
}

// TruncateVolume drops volume digits the exchange would reject.
func TruncateVolume(volume decimal.Decimal) decimal.Decimal {
	return volume.Truncate(volumePrecision)
}
