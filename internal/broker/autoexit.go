package broker

import (
	"math"
	"time"

	"github.com/tradeforge-dev/backsim/internal/types"
	"go.uber.org/zap"
)

// checkAutoExits scans open positions against their take-profit/stop-loss
// targets using the bar's reference price. On the first hit it synthesizes a
// market close order pinned to the target price, executes it, and stops
// scanning for this bar: a second eligible position waits until the next
// bar. A stop-loss found on the wrong side of the entry price is invalidated
// with a warning instead of triggering.
func (b *Broker) checkAutoExits(bar types.Bar, currentPrices map[string]float64) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("panic during auto-exit scan", zap.Any("panic", r))
		}
	}()

	for _, symbol := range b.sortedPositionSymbols() {
		pos := b.positions[symbol]

		if pos.TakeProfit <= 0 && pos.StopLoss <= 0 {
			continue
		}

		price, ok := currentPrices[symbol]
		if !ok {
			b.log.Warn("no price for open position during auto-exit scan",
				zap.String("symbol", symbol),
			)

			continue
		}

		hit, reason := b.evaluateExit(&pos, price)

		// evaluateExit may have invalidated a wrong-side stop loss.
		b.positions[symbol] = pos

		if !hit {
			continue
		}

		closeSide := types.OrderSideSell
		if pos.Size < 0 {
			closeSide = types.OrderSideBuy
		}

		target := pos.TakeProfit
		if reason == types.OrderReasonStopLoss {
			target = pos.StopLoss
		}

		closeOrder := types.Order{
			ID:             b.nextOrderID,
			Side:           closeSide,
			Status:         types.OrderStatusSubmitted,
			Reason:         reason,
			Symbol:         symbol,
			RequestedSize:  math.Abs(pos.Size),
			RequestedPrice: target,
			CreatedAt:      time.Now(),
		}
		b.nextOrderID++

		b.log.Info("auto-executing position exit",
			zap.String("symbol", symbol),
			zap.String("reason", string(reason)),
			zap.Float64("target", target),
			zap.Float64("price", price),
		)

		b.executeCloseOrder(closeOrder, bar)

		// Single exit per bar: the positions map changed under the scan.
		return
	}
}

// evaluateExit decides whether the position's take-profit or stop-loss is
// hit at the given price. It zeroes a stop loss sitting on the wrong side of
// the entry price.
func (b *Broker) evaluateExit(pos *types.Position, price float64) (bool, types.OrderReason) {
	if pos.Size > 0 {
		if pos.TakeProfit > 0 && price >= pos.TakeProfit {
			return true, types.OrderReasonTakeProfit
		}

		if pos.StopLoss > 0 {
			if pos.StopLoss >= pos.EntryPrice {
				b.log.Warn("stop loss for long position is at or above entry, invalidating",
					zap.String("symbol", pos.Symbol),
					zap.Float64("stop_loss", pos.StopLoss),
					zap.Float64("entry", pos.EntryPrice),
				)
				pos.StopLoss = 0
			} else if price <= pos.StopLoss {
				return true, types.OrderReasonStopLoss
			}
		}

		return false, ""
	}

	if pos.TakeProfit > 0 && price <= pos.TakeProfit {
		return true, types.OrderReasonTakeProfit
	}

	if pos.StopLoss > 0 {
		if pos.StopLoss <= pos.EntryPrice {
			b.log.Warn("stop loss for short position is at or below entry, invalidating",
				zap.String("symbol", pos.Symbol),
				zap.Float64("stop_loss", pos.StopLoss),
				zap.Float64("entry", pos.EntryPrice),
			)
			pos.StopLoss = 0
		} else if price >= pos.StopLoss {
			return true, types.OrderReasonStopLoss
		}
	}

	return false, ""
}
