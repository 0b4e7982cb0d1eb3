// Package broker owns the simulated account: cash, open positions, the
// pending order queue, and the order history. It executes fills under
// margin, commission, and automatic take-profit/stop-loss rules.
package broker

import (
	"sort"
	"time"

	"github.com/tradeforge-dev/backsim/internal/logger"
	"github.com/tradeforge-dev/backsim/internal/types"
	"go.uber.org/zap"
)

// sizeEpsilon is the threshold below which a position size is treated as zero.
const sizeEpsilon = 1e-9

// OrderNotifier receives every terminal order synchronously, inside the
// broker call that resolved it. Implementations may call SubmitOrder from
// the callback; re-entrant submissions join the next bar's pending set.
type OrderNotifier interface {
	NotifyOrder(order types.Order)
}

// Broker executes trade intents against historical bars. It is
// single-threaded: one bar is fully processed before the next begins.
type Broker struct {
	startingCash      float64
	cash              float64
	leverage          float64
	commissionRate    float64
	positions         map[string]types.Position
	pendingOrders     []types.Order
	orderHistory      []types.Order
	pointValues       map[string]float64
	defaultPointValue float64
	nextOrderID       int64
	notifier          OrderNotifier
	log               *logger.Logger
}

// NewBroker creates a broker. The commission rate is a percentage of traded
// notional (0.06 means 0.06%). Leverage of zero or below means no leverage.
func NewBroker(initialCash, leverage, commissionRate float64, log *logger.Logger) *Broker {
	if initialCash <= 0 {
		log.Warn("initial cash is zero or negative", zap.Float64("cash", initialCash))
	}

	if leverage <= 0 {
		leverage = 1.0
	}

	log.Info("broker initialized",
		zap.Float64("starting_cash", initialCash),
		zap.Float64("leverage", leverage),
		zap.Float64("commission_rate", commissionRate),
	)

	return &Broker{
		startingCash:      initialCash,
		cash:              initialCash,
		leverage:          leverage,
		commissionRate:    commissionRate,
		positions:         make(map[string]types.Position),
		pendingOrders:     nil,
		orderHistory:      nil,
		pointValues:       make(map[string]float64),
		defaultPointValue: 1.0,
		nextOrderID:       1,
		notifier:          nil,
		log:               log,
	}
}

// SetStrategy registers the order-notification sink for the duration of a
// run. The broker never owns the strategy; the engine holds both and passes
// a borrowed handle here.
func (b *Broker) SetStrategy(notifier OrderNotifier) {
	b.notifier = notifier
}

// SetPointValue sets the point value for a symbol.
func (b *Broker) SetPointValue(symbol string, points float64) {
	b.pointValues[symbol] = points
}

// SetDefaultPointValue overrides the fallback point value used when a symbol
// has no explicit entry. Tests can pin this deterministically.
func (b *Broker) SetDefaultPointValue(points float64) {
	b.defaultPointValue = points
}

// StartingCash returns the initial account cash.
func (b *Broker) StartingCash() float64 {
	return b.startingCash
}

// Cash returns the current account cash.
func (b *Broker) Cash() float64 {
	return b.cash
}

// GetValue returns the account value: cash plus the unrealized PnL of every
// open position with a price in currentPrices. A missing price contributes
// zero PnL for that symbol; it is not an error.
func (b *Broker) GetValue(currentPrices map[string]float64) float64 {
	totalValue := b.cash

	for symbol, pos := range b.positions {
		price, ok := currentPrices[symbol]
		if !ok {
			b.log.Debug("no current price for open position, assuming zero PnL",
				zap.String("symbol", symbol),
			)

			continue
		}

		totalValue += pos.UnrealizedPnL(price)
	}

	return totalValue
}

// GetPosition returns the open position for a symbol, if any.
func (b *Broker) GetPosition(symbol string) (types.Position, bool) {
	pos, ok := b.positions[symbol]

	return pos, ok
}

// GetAllPositions returns a copy of all open positions keyed by symbol.
func (b *Broker) GetAllPositions() map[string]types.Position {
	positions := make(map[string]types.Position, len(b.positions))
	for symbol, pos := range b.positions {
		positions[symbol] = pos
	}

	return positions
}

// OrderHistory returns the append-only log of terminal orders.
func (b *Broker) OrderHistory() []types.Order {
	return b.orderHistory
}

// SubmitOrder assigns a unique id, marks the order SUBMITTED, and appends it
// to the pending queue. It returns the id, or SentinelOrderID when no
// strategy is registered. No sizing or price validation happens here; all
// checks run at fill time.
func (b *Broker) SubmitOrder(order types.Order) int64 {
	if b.notifier == nil {
		b.log.Error("cannot submit order: no strategy registered")

		return types.SentinelOrderID
	}

	order.ID = b.nextOrderID
	b.nextOrderID++
	order.Status = types.OrderStatusSubmitted
	order.CreatedAt = time.Now()

	b.pendingOrders = append(b.pendingOrders, order)

	b.log.Debug("order submitted",
		zap.Int64("id", order.ID),
		zap.String("side", string(order.Side)),
		zap.String("symbol", order.Symbol),
		zap.Float64("size", order.RequestedSize),
	)

	return order.ID
}

// ProcessOrders runs once per bar, before the strategy sees the bar. It
// first scans open positions for take-profit/stop-loss triggers, then drains
// the pending queue. Every drained order reaches a terminal status; orders
// submitted from notification callbacks join the next bar's queue.
func (b *Broker) ProcessOrders(bar types.Bar) {
	if b.notifier == nil {
		return
	}

	currentPrices := make(map[string]float64, len(b.positions))
	for symbol := range b.positions {
		currentPrices[symbol] = bar.ReferencePrice()
	}

	b.checkAutoExits(bar, currentPrices)

	pending := b.pendingOrders
	b.pendingOrders = nil

	for i := range pending {
		b.processOne(pending[i], bar)
	}
}

// processOne dispatches a single pending order to the open or close path.
// A panic during execution is contained here: the offending order is skipped
// and processing continues with the next pending order.
func (b *Broker) processOne(order types.Order, bar types.Bar) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("panic while processing order, skipping",
				zap.Int64("id", order.ID),
				zap.Any("panic", r),
			)
		}
	}()

	pos, exists := b.positions[order.Symbol]

	isClosing := exists &&
		((order.Side == types.OrderSideSell && pos.Size > 0) ||
			(order.Side == types.OrderSideBuy && pos.Size < 0))

	// An order in the same direction as an existing position increases it.
	if isClosing {
		b.executeCloseOrder(order, bar)
	} else {
		b.executeOpenOrder(order, bar)
	}
}

// sortedPositionSymbols returns open position symbols in lexical order so
// that the auto-exit scan is deterministic and replayable.
func (b *Broker) sortedPositionSymbols() []string {
	symbols := make([]string, 0, len(b.positions))
	for symbol := range b.positions {
		symbols = append(symbols, symbol)
	}

	sort.Strings(symbols)

	return symbols
}

// pointValue returns the configured point value for a symbol, falling back
// to the broker-wide default.
func (b *Broker) pointValue(symbol string) float64 {
	if points, ok := b.pointValues[symbol]; ok {
		return points
	}

	return b.defaultPointValue
}
