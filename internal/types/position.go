package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type PositionDirection string

const (
	PositionDirectionLong  PositionDirection = "LONG"
	PositionDirectionShort PositionDirection = "SHORT"
)

// Position is the broker's current signed exposure to one symbol. At most
// one Position exists per symbol; a fully closed position is erased rather
// than kept at size zero. Only the broker mutates positions.
type Position struct {
	Symbol string `yaml:"symbol" json:"symbol" csv:"symbol"`
	// Size is signed: positive for long, negative for short.
	Size       float64 `yaml:"size" json:"size" csv:"size"`
	EntryPrice float64 `yaml:"entry_price" json:"entry_price" csv:"entry_price"`
	// StopLoss and TakeProfit of zero mean "not set".
	StopLoss   float64   `yaml:"stop_loss" json:"stop_loss" csv:"stop_loss"`
	TakeProfit float64   `yaml:"take_profit" json:"take_profit" csv:"take_profit"`
	PointValue float64   `yaml:"point_value" json:"point_value" csv:"point_value"`
	EntryTime  time.Time `yaml:"entry_time" json:"entry_time" csv:"entry_time"`
}

// Direction reports whether the position is long or short.
func (p *Position) Direction() PositionDirection {
	if p.Size < 0 {
		return PositionDirectionShort
	}

	return PositionDirectionLong
}

// UnrealizedPnL is the mark-to-market profit or loss at the given price.
// The signed size makes the same formula correct for longs and shorts.
func (p *Position) UnrealizedPnL(currentPrice float64) float64 {
	if p.Size == 0 {
		return 0
	}

	priceDec := decimal.NewFromFloat(currentPrice).Sub(decimal.NewFromFloat(p.EntryPrice))
	pnl, _ := priceDec.Mul(decimal.NewFromFloat(p.Size)).Float64()

	return pnl
}

// UnrealizedPoints is the unrealized profit or loss expressed in points.
func (p *Position) UnrealizedPoints(currentPrice float64) float64 {
	if p.Size == 0 || p.PointValue == 0 {
		return 0
	}

	priceDiff := currentPrice - p.EntryPrice
	if p.Size < 0 {
		priceDiff = p.EntryPrice - currentPrice
	}

	return priceDiff / p.PointValue
}
