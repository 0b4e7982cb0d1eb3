package broker

import (
	"math"

	"github.com/shopspring/decimal"
	"github.com/tradeforge-dev/backsim/internal/types"
	"go.uber.org/zap"
)

// fillPrice selects the execution price for an order. An explicit requested
// price wins (synthetic take-profit/stop-loss closes and benchmark
// strategies use this). Otherwise a buy fills at the bar's ask and a sell at
// the bid, modelling the spread as an implicit transaction cost; a missing
// quote falls back to the close.
func (b *Broker) fillPrice(bar types.Bar, side types.OrderSide, requestedPrice float64) float64 {
	if requestedPrice > 0 {
		return requestedPrice
	}

	if side == types.OrderSideBuy {
		if bar.Ask > 0 {
			return bar.Ask
		}

		return bar.Close
	}

	if bar.Bid > 0 {
		return bar.Bid
	}

	return bar.Close
}

// marginNeeded is the cash that must be free to support the exposure.
// Margin is reserved implicitly, never debited.
func (b *Broker) marginNeeded(size, price float64) float64 {
	if b.leverage <= 0 {
		return math.Abs(size * price)
	}

	return math.Abs(size*price) / b.leverage
}

// commissionFor charges the commission rate as a percentage of notional.
func (b *Broker) commissionFor(size, price float64) float64 {
	return math.Abs(size) * price * (b.commissionRate / 100.0)
}

// rejectOrder marks the order terminal with the given status and finalizes it.
func (b *Broker) rejectOrder(order types.Order, status types.OrderStatus, bar types.Bar) {
	order.Status = status
	order.ExecutedAt = bar.Time

	b.log.Debug("order rejected",
		zap.Int64("id", order.ID),
		zap.String("status", string(status)),
	)

	b.finalizeOrder(order)
}

// finalizeOrder appends a terminal order to history and notifies the
// strategy synchronously. The strategy may submit new orders from the
// callback; those join the next bar's pending set.
func (b *Broker) finalizeOrder(order types.Order) {
	b.orderHistory = append(b.orderHistory, order)

	if b.notifier != nil {
		b.notifier.NotifyOrder(order)
	}
}

// executeOpenOrder opens a new position or increases an existing one.
func (b *Broker) executeOpenOrder(order types.Order, bar types.Bar) {
	price := b.fillPrice(bar, order.Side, order.RequestedPrice)
	if price <= 0 {
		b.log.Warn("invalid fill price for open order", zap.Int64("id", order.ID))
		b.rejectOrder(order, types.OrderStatusRejected, bar)

		return
	}

	margin := b.marginNeeded(order.RequestedSize, price)
	commission := b.commissionFor(order.RequestedSize, price)

	if margin > b.cash {
		b.log.Debug("open order rejected: margin",
			zap.Int64("id", order.ID),
			zap.Float64("margin_needed", margin),
			zap.Float64("cash", b.cash),
		)
		b.rejectOrder(order, types.OrderStatusMargin, bar)

		return
	}

	if commission > b.cash-margin {
		b.log.Debug("open order rejected: cannot afford commission",
			zap.Int64("id", order.ID),
			zap.Float64("commission", commission),
			zap.Float64("cash_after_margin", b.cash-margin),
		)
		b.rejectOrder(order, types.OrderStatusRejected, bar)

		return
	}

	order.Status = types.OrderStatusFilled
	order.FilledPrice = price
	order.FilledSize = order.RequestedSize
	order.Commission = commission
	order.ExecutedAt = bar.Time

	// Only commission touches cash on an open; margin stays implicit.
	b.cash -= commission

	signedSize := order.FilledSize
	if order.Side == types.OrderSideSell {
		signedSize = -signedSize
	}

	if existing, ok := b.positions[order.Symbol]; ok {
		b.increasePosition(existing, signedSize, price)
	} else {
		b.openPosition(order, signedSize, price)
	}

	b.finalizeOrder(order)
}

// increasePosition grows a same-direction position, recomputing the
// volume-weighted average entry price. Stop/take targets are untouched;
// the strategy manages them after notification.
func (b *Broker) increasePosition(pos types.Position, signedSize, price float64) {
	oldSizeDec := decimal.NewFromFloat(pos.Size)
	addSizeDec := decimal.NewFromFloat(signedSize)
	newSizeDec := oldSizeDec.Add(addSizeDec)

	weighted := oldSizeDec.Mul(decimal.NewFromFloat(pos.EntryPrice)).
		Add(addSizeDec.Mul(decimal.NewFromFloat(price)))

	pos.EntryPrice, _ = weighted.Div(newSizeDec).Float64()
	pos.Size, _ = newSizeDec.Float64()

	b.positions[pos.Symbol] = pos

	b.log.Debug("position increased",
		zap.String("symbol", pos.Symbol),
		zap.Float64("size", pos.Size),
		zap.Float64("avg_entry", pos.EntryPrice),
	)
}

// openPosition creates a new position with validated stop/take targets.
func (b *Broker) openPosition(order types.Order, signedSize, price float64) {
	pos := types.Position{
		Symbol:     order.Symbol,
		Size:       signedSize,
		EntryPrice: price,
		StopLoss:   0,
		TakeProfit: 0,
		PointValue: b.pointValue(order.Symbol),
		EntryTime:  order.ExecutedAt,
	}

	pos.StopLoss, pos.TakeProfit = b.validateTargets(order, signedSize, price)

	b.positions[order.Symbol] = pos

	b.log.Debug("position opened",
		zap.String("symbol", pos.Symbol),
		zap.String("direction", string(pos.Direction())),
		zap.Float64("size", math.Abs(pos.Size)),
		zap.Float64("entry", pos.EntryPrice),
		zap.Float64("stop_loss", pos.StopLoss),
		zap.Float64("take_profit", pos.TakeProfit),
	)
}

// validateTargets checks that requested stop-loss/take-profit levels lie on
// the correct side of the entry price for the position's direction. A value
// on the wrong side is replaced with a 1% fallback and a warning is raised.
func (b *Broker) validateTargets(order types.Order, signedSize, entry float64) (stopLoss, takeProfit float64) {
	long := signedSize > 0

	if order.StopLoss.IsSome() {
		sl := order.StopLoss.Unwrap()
		if sl > 0 {
			valid := (long && sl < entry) || (!long && sl > entry)
			if valid {
				stopLoss = sl
			} else {
				b.log.Warn("stop loss on wrong side of entry, applying fallback",
					zap.String("symbol", order.Symbol),
					zap.Float64("stop_loss", sl),
					zap.Float64("entry", entry),
				)

				if long {
					stopLoss = entry * 0.99
				} else {
					stopLoss = entry * 1.01
				}
			}
		}
	}

	if order.TakeProfit.IsSome() {
		tp := order.TakeProfit.Unwrap()
		if tp > 0 {
			valid := (long && tp > entry) || (!long && tp < entry)
			if valid {
				takeProfit = tp
			} else {
				b.log.Warn("take profit on wrong side of entry, applying fallback",
					zap.String("symbol", order.Symbol),
					zap.Float64("take_profit", tp),
					zap.Float64("entry", entry),
				)

				if long {
					takeProfit = entry * 1.01
				} else {
					takeProfit = entry * 0.99
				}
			}
		}
	}

	return stopLoss, takeProfit
}

// executeCloseOrder closes or reduces the position opposite to the order's
// direction. The caller guarantees the position exists.
func (b *Broker) executeCloseOrder(order types.Order, bar types.Bar) {
	pos := b.positions[order.Symbol]

	price := b.fillPrice(bar, order.Side, order.RequestedPrice)
	if price <= 0 {
		b.log.Warn("invalid fill price for close order", zap.Int64("id", order.ID))
		b.rejectOrder(order, types.OrderStatusRejected, bar)

		return
	}

	sizeToClose := math.Min(order.RequestedSize, math.Abs(pos.Size))
	if sizeToClose < sizeEpsilon {
		b.log.Debug("close order has negligible size, rejecting",
			zap.Int64("id", order.ID),
			zap.Float64("size", sizeToClose),
		)
		b.rejectOrder(order, types.OrderStatusRejected, bar)

		return
	}

	commission := b.commissionFor(sizeToClose, price)
	if commission > b.cash {
		b.log.Debug("close order rejected: cannot afford commission",
			zap.Int64("id", order.ID),
			zap.Float64("commission", commission),
			zap.Float64("cash", b.cash),
		)
		b.rejectOrder(order, types.OrderStatusRejected, bar)

		return
	}

	order.Status = types.OrderStatusFilled
	order.FilledPrice = price
	order.FilledSize = sizeToClose
	order.Commission = commission
	order.ExecutedAt = bar.Time

	b.cash -= commission

	priceDec := decimal.NewFromFloat(price)
	entryDec := decimal.NewFromFloat(pos.EntryPrice)
	closeDec := decimal.NewFromFloat(sizeToClose)

	var pnlDec decimal.Decimal
	if pos.Size > 0 {
		pnlDec = priceDec.Sub(entryDec).Mul(closeDec)
	} else {
		pnlDec = entryDec.Sub(priceDec).Mul(closeDec)
	}

	pnl, _ := pnlDec.Float64()
	order.RealizedPnL = pnl
	b.cash += pnl

	newSize := pos.Size - sizeToClose
	if pos.Size < 0 {
		newSize = pos.Size + sizeToClose
	}

	if math.Abs(newSize) < sizeEpsilon {
		delete(b.positions, order.Symbol)

		b.log.Debug("position closed",
			zap.String("symbol", order.Symbol),
			zap.String("direction", string(pos.Direction())),
			zap.Float64("closed_size", sizeToClose),
			zap.Float64("entry", pos.EntryPrice),
			zap.Float64("exit", price),
			zap.Float64("pnl", pnl),
			zap.Float64("commission", commission),
		)
	} else {
		// Entry price and targets stay unchanged for the remainder.
		pos.Size = newSize
		b.positions[order.Symbol] = pos

		b.log.Debug("position reduced",
			zap.String("symbol", order.Symbol),
			zap.Float64("closed_size", sizeToClose),
			zap.Float64("remaining", newSize),
			zap.Float64("pnl", pnl),
		)
	}

	b.finalizeOrder(order)
}
