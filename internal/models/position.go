package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionState is the lifecycle state of a position's take-profit sell.
type PositionState string

const (
	StateWaiting PositionState = "waiting"
	StateDone    PositionState = "done"
	StateCancel  PositionState = "cancel"
	StateError   PositionState = "error"
)

// Position is one filled market buy paired with its take-profit limit sell.
// BuyID is the exchange order uuid of the buy and never changes. Buy-side
// fields are written once; SellID and SellPrice are rewritten in place when
// the resting sell is replaced.
type Position struct {
	BuyID       string              `gorm:"primaryKey" json:"buy_id"`
	Market      string              `gorm:"index;not null" json:"market"`
	BuyPrice    decimal.Decimal     `gorm:"type:text" json:"buy_price"`
	BuyQuantity decimal.Decimal     `gorm:"type:text" json:"buy_quantity"`
	BuyAmount   decimal.Decimal     `gorm:"type:text" json:"buy_amount"`
	BuyTime     time.Time           `json:"buy_time"`
	SellID      string              `json:"sell_id"`
	SellPrice   decimal.Decimal     `gorm:"type:text" json:"sell_price"`
	SellAmount  decimal.NullDecimal `gorm:"type:text" json:"sell_amount"`
	SellTime    *time.Time          `json:"sell_time,omitempty"`
	State       PositionState       `gorm:"index;not null" json:"state"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// IsOpen reports whether the position still has a resting sell.
func (p *Position) IsOpen() bool {
	return p.State == StateWaiting
}

// InLoss reports whether the resting sell is priced below the buy price.
func (p *Position) InLoss() bool {
	return p.BuyPrice.GreaterThan(p.SellPrice)
}

// Profit is the realized quote-currency profit of a completed sell.
func (p *Position) Profit() decimal.Decimal {
	if p.State != StateDone || !p.SellAmount.Valid {
		return decimal.Zero
	}
	return p.SellAmount.Decimal.Sub(p.BuyAmount)
}
