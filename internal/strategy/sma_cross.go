package strategy

import (
	"math"

	"github.com/moznion/go-optional"
	"github.com/tradeforge-dev/backsim/internal/indicator"
	"github.com/tradeforge-dev/backsim/internal/types"
	"github.com/tradeforge-dev/backsim/pkg/errors"
	"go.uber.org/zap"
)

// Defaults used when the config leaves the crossover knobs unset.
const (
	defaultFastPeriod = 50
	defaultSlowPeriod = 200
	defaultCrossSize  = 100.0

	// forceExitDrawdownPct is the account drawdown at which the strategy
	// abandons the position and stops trading.
	forceExitDrawdownPct = -50.0
)

// SMACross is a long-only moving-average crossover strategy: it buys on a
// golden cross (fast SMA crossing above slow), closes on a death cross, and
// optionally attaches percentage take-profit/stop-loss targets to the entry.
type SMACross struct {
	ctx    *Context
	symbol string

	fast *indicator.SMA
	slow *indicator.SMA

	orderSize     float64
	takeProfitPct float64
	stopLossPct   float64

	prevFast   float64
	prevSlow   float64
	hasPrev    bool
	inPosition bool
	bankrupt   bool

	// pendingID gates order submission: while an order is in flight the
	// strategy sits out, mirroring one-order-at-a-time execution.
	pendingID int64
}

// NewSMACross creates an uninitialized crossover strategy.
func NewSMACross() *SMACross {
	return &SMACross{pendingID: types.SentinelOrderID}
}

// Name returns the registered strategy name.
func (s *SMACross) Name() string {
	return NameSMACross
}

// Initialize reads the periods and sizing from the config and builds the
// indicators.
func (s *SMACross) Initialize(ctx *Context) error {
	if ctx.Broker == nil {
		return errors.New(errors.ErrCodeStrategyInitFailed, "sma_cross: broker not set in context")
	}

	if len(ctx.Bars) == 0 {
		return errors.New(errors.ErrCodeNoBarsLoaded, "sma_cross: no bars in context")
	}

	s.ctx = ctx
	s.symbol = ctx.Bars[0].Symbol

	fastPeriod := ctx.Config.Strategy.FastPeriod
	if fastPeriod <= 0 {
		fastPeriod = defaultFastPeriod
	}

	slowPeriod := ctx.Config.Strategy.SlowPeriod
	if slowPeriod <= 0 {
		slowPeriod = defaultSlowPeriod
	}

	if fastPeriod >= slowPeriod {
		return errors.Newf(errors.ErrCodeInvalidPeriod,
			"sma_cross: fast period %d must be below slow period %d", fastPeriod, slowPeriod)
	}

	var err error

	s.fast, err = indicator.NewSMA(fastPeriod)
	if err != nil {
		return err
	}

	s.slow, err = indicator.NewSMA(slowPeriod)
	if err != nil {
		return err
	}

	s.orderSize = ctx.Config.Strategy.OrderSize
	if s.orderSize <= 0 {
		s.orderSize = defaultCrossSize
	}

	s.takeProfitPct = ctx.Config.Strategy.TakeProfitPct
	s.stopLossPct = ctx.Config.Strategy.StopLossPct
	s.pendingID = types.SentinelOrderID

	ctx.Log.Info("sma cross strategy initialized",
		zap.String("symbol", s.symbol),
		zap.Int("fast_period", fastPeriod),
		zap.Int("slow_period", slowPeriod),
		zap.Float64("order_size", s.orderSize),
	)

	return nil
}

// Next updates the indicators and trades the crossovers.
func (s *SMACross) Next(bar types.Bar, index int, currentPrice float64) error {
	if s.bankrupt {
		return nil
	}

	s.fast.Update(bar)
	s.slow.Update(bar)

	// Sit out while an order is in flight.
	if s.pendingID != types.SentinelOrderID {
		return nil
	}

	fast, fastReady := s.fast.Value()
	slow, slowReady := s.slow.Value()

	if !fastReady || !slowReady {
		return nil
	}

	defer func() {
		s.prevFast = fast
		s.prevSlow = slow
		s.hasPrev = true
	}()

	if !s.hasPrev {
		return nil
	}

	goldenCross := s.prevFast <= s.prevSlow && fast > slow
	deathCross := s.prevFast >= s.prevSlow && fast < slow

	if s.inPosition {
		if s.checkForceExit(currentPrice) {
			return nil
		}

		if deathCross {
			s.submitExit(types.OrderReasonExitSignal)
		}

		return nil
	}

	if goldenCross {
		s.submitEntry(currentPrice)
	}

	return nil
}

// checkForceExit abandons the position when the account value collapses.
// It reports whether a forced exit was submitted.
func (s *SMACross) checkForceExit(currentPrice float64) bool {
	accountValue := s.ctx.Broker.GetValue(map[string]float64{s.symbol: currentPrice})
	startingCash := s.ctx.Broker.StartingCash()

	if startingCash <= 0 {
		return false
	}

	drawdownPct := (accountValue/startingCash - 1.0) * 100.0
	if accountValue > 1.0 && drawdownPct > forceExitDrawdownPct {
		return false
	}

	s.ctx.Log.Warn("force exit triggered",
		zap.Float64("account_value", accountValue),
		zap.Float64("drawdown_pct", drawdownPct),
	)

	s.submitExit(types.OrderReasonBankruptcyProtection)
	s.bankrupt = true

	return true
}

func (s *SMACross) submitEntry(currentPrice float64) {
	order := types.Order{
		Side:          types.OrderSideBuy,
		Reason:        types.OrderReasonEntrySignal,
		Symbol:        s.symbol,
		RequestedSize: s.orderSize,
	}

	if s.takeProfitPct > 0 {
		order.TakeProfit = optional.Some(currentPrice * (1 + s.takeProfitPct/100))
	}

	if s.stopLossPct > 0 {
		order.StopLoss = optional.Some(currentPrice * (1 - s.stopLossPct/100))
	}

	s.pendingID = s.ctx.Broker.SubmitOrder(order)
}

func (s *SMACross) submitExit(reason types.OrderReason) {
	pos, ok := s.ctx.Broker.GetPosition(s.symbol)
	if !ok {
		s.inPosition = false

		return
	}

	s.pendingID = s.ctx.Broker.SubmitOrder(types.Order{
		Side:          types.OrderSideSell,
		Reason:        reason,
		Symbol:        s.symbol,
		RequestedSize: math.Abs(pos.Size),
	})
}

// NotifyOrder clears the pending gate and tracks position state. Auto
// exits from the broker arrive here too and flip the strategy flat.
func (s *SMACross) NotifyOrder(order types.Order) {
	if order.ID == s.pendingID {
		s.pendingID = types.SentinelOrderID
	}

	if order.Status != types.OrderStatusFilled {
		return
	}

	switch order.Reason {
	case types.OrderReasonEntrySignal:
		s.inPosition = true
	case types.OrderReasonExitSignal, types.OrderReasonStopLoss,
		types.OrderReasonTakeProfit, types.OrderReasonBankruptcyProtection:
		_, stillOpen := s.ctx.Broker.GetPosition(s.symbol)
		s.inPosition = stillOpen
	}
}

// Stop closes any remaining position so the run ends flat. The engine
// flushes this order against the final bar.
func (s *SMACross) Stop() {
	if !s.inPosition {
		return
	}

	s.submitExit(types.OrderReasonManualClose)
}
