package strategy

import (
	"math"

	"github.com/tradeforge-dev/backsim/internal/types"
	"github.com/tradeforge-dev/backsim/pkg/errors"
	"go.uber.org/zap"
)

// defaultBenchmarkSize is the order size used when the config leaves
// order_size unset.
const defaultBenchmarkSize = 10.0

// Benchmark is a fixed-schedule strategy: it buys on a configured entry bar
// and sells the whole position on a configured exit bar, pinning both orders
// to the bar close. It exists to exercise the full order path with a known
// outcome.
type Benchmark struct {
	ctx      *Context
	symbol   string
	entryBar int
	exitBar  int
	size     float64
	entered  bool
	exited   bool
}

// NewBenchmark creates an uninitialized benchmark strategy.
func NewBenchmark() *Benchmark {
	return &Benchmark{}
}

// Name returns the registered strategy name.
func (s *Benchmark) Name() string {
	return NameBenchmark
}

// Initialize reads the entry/exit schedule from the config. The exit bar
// defaults to the last bar of the run.
func (s *Benchmark) Initialize(ctx *Context) error {
	if ctx.Broker == nil {
		return errors.New(errors.ErrCodeStrategyInitFailed, "benchmark: broker not set in context")
	}

	if len(ctx.Bars) == 0 {
		return errors.New(errors.ErrCodeNoBarsLoaded, "benchmark: no bars in context")
	}

	s.ctx = ctx
	s.symbol = ctx.Bars[0].Symbol
	s.entryBar = ctx.Config.Strategy.EntryBar

	s.exitBar = ctx.Config.Strategy.ExitBar
	if s.exitBar <= 0 {
		s.exitBar = len(ctx.Bars) - 1
	}

	s.size = ctx.Config.Strategy.OrderSize
	if s.size <= 0 {
		s.size = defaultBenchmarkSize
	}

	ctx.Log.Info("benchmark strategy initialized",
		zap.String("symbol", s.symbol),
		zap.Int("entry_bar", s.entryBar),
		zap.Int("exit_bar", s.exitBar),
		zap.Float64("size", s.size),
	)

	return nil
}

// Next places the scheduled entry and exit orders.
func (s *Benchmark) Next(bar types.Bar, index int, currentPrice float64) error {
	if !s.entered && index >= s.entryBar {
		s.ctx.Broker.SubmitOrder(types.Order{
			Side:           types.OrderSideBuy,
			Reason:         types.OrderReasonEntrySignal,
			Symbol:         s.symbol,
			RequestedSize:  s.size,
			RequestedPrice: currentPrice,
		})
		s.entered = true

		return nil
	}

	if s.entered && !s.exited && index >= s.exitBar {
		size := s.size
		if pos, ok := s.ctx.Broker.GetPosition(s.symbol); ok {
			size = math.Abs(pos.Size)
		}

		s.ctx.Broker.SubmitOrder(types.Order{
			Side:           types.OrderSideSell,
			Reason:         types.OrderReasonExitSignal,
			Symbol:         s.symbol,
			RequestedSize:  size,
			RequestedPrice: currentPrice,
		})
		s.exited = true
	}

	return nil
}

// NotifyOrder logs fills and gives up after a rejected entry.
func (s *Benchmark) NotifyOrder(order types.Order) {
	switch order.Status {
	case types.OrderStatusFilled:
		s.ctx.Log.Info("benchmark order filled",
			zap.Int64("id", order.ID),
			zap.String("reason", string(order.Reason)),
			zap.Float64("price", order.FilledPrice),
			zap.Float64("pnl", order.RealizedPnL),
		)
	case types.OrderStatusRejected, types.OrderStatusMargin:
		s.ctx.Log.Warn("benchmark order rejected",
			zap.Int64("id", order.ID),
			zap.String("status", string(order.Status)),
		)

		if order.Reason == types.OrderReasonEntrySignal {
			s.exited = true
		}
	}
}

// Stop force-closes a position that never reached its exit bar so the run
// ends flat. The engine flushes this order against the final bar.
func (s *Benchmark) Stop() {
	if !s.entered || s.exited {
		return
	}

	pos, ok := s.ctx.Broker.GetPosition(s.symbol)
	if !ok {
		return
	}

	lastBar := s.ctx.Bars[len(s.ctx.Bars)-1]

	s.ctx.Broker.SubmitOrder(types.Order{
		Side:           types.OrderSideSell,
		Reason:         types.OrderReasonExitSignal,
		Symbol:         s.symbol,
		RequestedSize:  math.Abs(pos.Size),
		RequestedPrice: lastBar.Close,
	})
	s.exited = true
}
