// Package backtest drives a strategy over a historical bar series. The
// engine owns the clock: each bar is fully processed (broker first, then
// strategy, then metrics) before the next begins, so a strategy can never
// act on data it has not seen yet.
package backtest

import (
	"os"
	"path/filepath"

	"github.com/moznion/go-optional"
	"github.com/tradeforge-dev/backsim/internal/broker"
	"github.com/tradeforge-dev/backsim/internal/config"
	"github.com/tradeforge-dev/backsim/internal/datasource"
	"github.com/tradeforge-dev/backsim/internal/logger"
	"github.com/tradeforge-dev/backsim/internal/metrics"
	"github.com/tradeforge-dev/backsim/internal/strategy"
	"github.com/tradeforge-dev/backsim/internal/types"
	"github.com/tradeforge-dev/backsim/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// State is the engine lifecycle state.
type State string

// Engine lifecycle: exactly one run per engine instance.
const (
	StateNotStarted  State = "NOT_STARTED"
	StateInitialized State = "INITIALIZED"
	StateRunning     State = "RUNNING"
	StateFinished    State = "FINISHED"
)

// OnBarCallback is invoked after each processed bar with the zero-based bar
// index and the total bar count. The CLI drives its progress bar with it.
type OnBarCallback func(index, total int)

// Engine wires a strategy, a broker, and a bar series into a single
// deterministic run.
type Engine struct {
	cfg      config.Config
	log      *logger.Logger
	bars     []types.Bar
	strat    strategy.Strategy
	broker   *broker.Broker
	metrics  *metrics.TradingMetrics
	runState *RunState
	state    State
}

// NewEngine creates an engine in the NOT_STARTED state.
func NewEngine(cfg config.Config, log *logger.Logger) *Engine {
	return &Engine{
		cfg:   cfg,
		log:   log,
		state: StateNotStarted,
	}
}

// SetStrategy registers the strategy for the run.
func (e *Engine) SetStrategy(strat strategy.Strategy) {
	e.strat = strat
}

// LoadData pulls the bar series from the source, restricted to the config's
// optional time window.
func (e *Engine) LoadData(source datasource.BarSource) error {
	bars, err := source.Load(e.cfg.StartTime, e.cfg.EndTime)
	if err != nil {
		return err
	}

	if len(bars) == 0 {
		return errors.New(errors.ErrCodeNoBarsLoaded, "data source produced no bars for the configured window")
	}

	e.bars = bars

	e.log.Info("bar series loaded",
		zap.Int("bars", len(bars)),
		zap.String("symbol", bars[0].Symbol),
	)

	return nil
}

// Initialize builds the broker, metrics, and state store, and wires the
// notification path. It transitions NOT_STARTED -> INITIALIZED and may be
// called exactly once, after SetStrategy and LoadData.
func (e *Engine) Initialize() error {
	if e.state != StateNotStarted {
		return errors.Newf(errors.ErrCodeEngineAlreadyRun, "engine is %s, expected %s", e.state, StateNotStarted)
	}

	if e.strat == nil {
		return errors.New(errors.ErrCodeStrategyNotSet, "no strategy registered")
	}

	if len(e.bars) == 0 {
		return errors.New(errors.ErrCodeNoBarsLoaded, "no bars loaded")
	}

	e.broker = broker.NewBroker(e.cfg.InitialCash, e.cfg.Leverage, e.cfg.CommissionRate, e.log)

	e.metrics = metrics.NewTradingMetrics(e.cfg.InitialCash)
	e.metrics.SetTotalBars(len(e.bars))
	e.metrics.SetAnnualizationFactor(e.cfg.AnnualizationFactor)
	// Seed the previous value so the first bar's return has a baseline.
	e.metrics.UpdatePortfolioValue(e.cfg.InitialCash)

	runState, err := NewRunState(e.log)
	if err != nil {
		return err
	}

	if err := runState.Initialize(); err != nil {
		return err
	}

	e.runState = runState

	e.broker.SetStrategy(&notifyAdapter{
		strat:    e.strat,
		metrics:  e.metrics,
		runState: e.runState,
		log:      e.log,
	})

	e.state = StateInitialized

	return nil
}

// Run executes the backtest. It transitions INITIALIZED -> RUNNING ->
// FINISHED; a second Run on the same engine fails.
func (e *Engine) Run(onBar optional.Option[OnBarCallback]) error {
	switch e.state {
	case StateNotStarted:
		return errors.New(errors.ErrCodeEngineNotInitialized, "engine not initialized")
	case StateRunning, StateFinished:
		return errors.Newf(errors.ErrCodeEngineAlreadyRun, "engine is %s", e.state)
	case StateInitialized:
	}

	e.state = StateRunning

	ctx := &strategy.Context{
		Broker: e.broker,
		Bars:   e.bars,
		Config: e.cfg,
		Log:    e.log,
	}

	if err := e.strat.Initialize(ctx); err != nil {
		e.state = StateFinished

		return errors.Wrapf(errors.ErrCodeStrategyInitFailed, err, "strategy %s failed to initialize", e.strat.Name())
	}

	total := len(e.bars)

	for i, bar := range e.bars {
		e.processBar(bar, i)

		if onBar.IsSome() {
			onBar.Unwrap()(i, total)
		}
	}

	e.stopStrategy()

	// Flush any close order submitted during Stop against the final bar so
	// the run ends flat when the strategy wants it to.
	lastBar := e.bars[total-1]
	e.broker.ProcessOrders(lastBar)
	e.metrics.UpdatePortfolioValue(e.currentValue(lastBar))

	e.state = StateFinished

	e.log.Info("backtest finished",
		zap.String("strategy", e.strat.Name()),
		zap.Int("bars", total),
		zap.Int("orders", len(e.broker.OrderHistory())),
		zap.Float64("final_value", e.metrics.PreviousValue()),
	)

	return nil
}

// processBar runs one tick of the clock. The broker step runs first so that
// orders from the previous bar fill before the strategy sees the new bar. A
// fault in the broker step skips the strategy for this bar; a fault in the
// strategy skips only its own step. The loop always continues.
func (e *Engine) processBar(bar types.Bar, index int) {
	if !e.runBrokerStep(bar) {
		e.updateMetrics(bar, index)

		return
	}

	e.runStrategyStep(bar, index)
	e.updateMetrics(bar, index)
}

func (e *Engine) runBrokerStep(bar types.Bar) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("broker fault, skipping strategy for this bar",
				zap.Time("bar_time", bar.Time),
				zap.Any("panic", r),
			)

			ok = false
		}
	}()

	e.broker.ProcessOrders(bar)

	return true
}

func (e *Engine) runStrategyStep(bar types.Bar, index int) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("strategy fault, continuing with next bar",
				zap.Int("bar_index", index),
				zap.Any("panic", r),
			)
		}
	}()

	if err := e.strat.Next(bar, index, bar.ReferencePrice()); err != nil {
		e.log.Error("strategy error, continuing with next bar",
			zap.Int("bar_index", index),
			zap.Error(err),
		)
	}
}

func (e *Engine) stopStrategy() {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("strategy fault during stop", zap.Any("panic", r))
		}
	}()

	e.strat.Stop()
}

func (e *Engine) updateMetrics(bar types.Bar, index int) {
	value := e.currentValue(bar)

	previous := e.metrics.PreviousValue()
	if index > 0 && previous > 0 {
		e.metrics.RecordReturn((value - previous) / previous)
	}

	e.metrics.UpdatePortfolioValue(value)
}

func (e *Engine) currentValue(bar types.Bar) float64 {
	prices := make(map[string]float64, 1)
	if bar.Symbol != "" {
		prices[bar.Symbol] = bar.ReferencePrice()
	}

	return e.broker.GetValue(prices)
}

// CurrentState returns the engine lifecycle state.
func (e *Engine) CurrentState() State {
	return e.state
}

// Broker returns the broker, available after Initialize.
func (e *Engine) Broker() *broker.Broker {
	return e.broker
}

// Metrics returns the performance tracker, available after Initialize.
func (e *Engine) Metrics() *metrics.TradingMetrics {
	return e.metrics
}

// RunStateStore returns the order-log store, available after Initialize.
func (e *Engine) RunStateStore() *RunState {
	return e.runState
}

// FinalValue returns the account value marked at the last bar's close.
func (e *Engine) FinalValue() float64 {
	if len(e.bars) == 0 {
		return 0
	}

	return e.currentValue(e.bars[len(e.bars)-1])
}

// SummaryReport renders the human-readable run report.
func (e *Engine) SummaryReport() string {
	return e.metrics.GenerateSummaryReport(e.FinalValue(), e.strat.Name())
}

// runStats is the shape persisted to stats.yaml.
type runStats struct {
	RunID            string  `yaml:"run_id"`
	Strategy         string  `yaml:"strategy"`
	Bars             int     `yaml:"bars"`
	StartingValue    float64 `yaml:"starting_value"`
	FinalValue       float64 `yaml:"final_value"`
	TotalTrades      int     `yaml:"total_trades"`
	ProfitableTrades int     `yaml:"profitable_trades"`
	WinRatePct       float64 `yaml:"win_rate_pct"`
	MaxDrawdownPct   float64 `yaml:"max_drawdown_pct"`
	SharpeRatio      float64 `yaml:"sharpe_ratio"`
	TotalCommission  float64 `yaml:"total_commission"`
	TradingFrequency float64 `yaml:"trading_frequency"`
}

// WriteResults exports the order log to Parquet and the run statistics to
// stats.yaml in the given directory. Valid once the run has finished.
func (e *Engine) WriteResults(path string) error {
	if e.state != StateFinished {
		return errors.Newf(errors.ErrCodeEngineNotInitialized, "engine is %s, results are available after a finished run", e.state)
	}

	if err := e.runState.Write(path); err != nil {
		return err
	}

	stats := runStats{
		RunID:            e.runState.RunID(),
		Strategy:         e.strat.Name(),
		Bars:             len(e.bars),
		StartingValue:    e.metrics.StartingValue(),
		FinalValue:       e.FinalValue(),
		TotalTrades:      e.metrics.TotalTrades(),
		ProfitableTrades: e.metrics.ProfitableTrades(),
		WinRatePct:       e.metrics.WinRate(),
		MaxDrawdownPct:   e.metrics.MaxDrawdown(),
		SharpeRatio:      e.metrics.SharpeRatio(),
		TotalCommission:  e.metrics.TotalCommission(),
		TradingFrequency: e.metrics.TradingFrequency(),
	}

	data, err := yaml.Marshal(stats)
	if err != nil {
		return errors.Wrap(errors.ErrCodeResultsWriteFailed, "failed to marshal run stats", err)
	}

	statsPath := filepath.Join(path, "stats.yaml")
	if err := os.WriteFile(statsPath, data, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeResultsWriteFailed, "failed to write stats.yaml", err)
	}

	e.log.Info("results written",
		zap.String("path", path),
		zap.String("run_id", e.runState.RunID()),
	)

	return nil
}

// notifyAdapter sits between the broker and the strategy: it records every
// terminal order into the metrics and the state store before forwarding the
// notification.
type notifyAdapter struct {
	strat    strategy.Strategy
	metrics  *metrics.TradingMetrics
	runState *RunState
	log      *logger.Logger
}

func (a *notifyAdapter) NotifyOrder(order types.Order) {
	if order.Status == types.OrderStatusFilled {
		a.metrics.RecordCommission(order.Commission)

		if isExitReason(order.Reason) {
			a.metrics.RecordTrade(order.RealizedPnL > 0)
		}
	}

	if err := a.runState.RecordOrder(order); err != nil {
		a.log.Error("failed to record order", zap.Int64("id", order.ID), zap.Error(err))
	}

	a.strat.NotifyOrder(order)
}

// isExitReason reports whether a filled order with this reason completes a
// round trip for trade counting.
func isExitReason(reason types.OrderReason) bool {
	switch reason {
	case types.OrderReasonExitSignal, types.OrderReasonStopLoss,
		types.OrderReasonTakeProfit, types.OrderReasonBankruptcyProtection,
		types.OrderReasonManualClose:
		return true
	default:
		return false
	}
}
