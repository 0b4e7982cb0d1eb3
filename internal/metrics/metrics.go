// Package metrics tracks running account-value, drawdown, and return
// statistics for a backtest run, independent of the broker.
package metrics

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultAnnualizationFactor assumes hourly bars: 365 days of 24 bars.
// Callers on other bar frequencies must supply the matching factor.
const DefaultAnnualizationFactor = 365 * 24

// TradingMetrics accumulates per-run performance statistics. It is
// single-threaded, like the broker and engine that feed it.
type TradingMetrics struct {
	startingValue       float64
	highestValue        float64
	previousValue       float64
	maxDrawdown         float64
	tradeCount          int
	profitableTrades    int
	totalCommission     float64
	returns             []float64
	totalBars           int
	annualizationFactor float64
}

// NewTradingMetrics creates a tracker seeded with the starting account value.
func NewTradingMetrics(initialValue float64) *TradingMetrics {
	return &TradingMetrics{
		startingValue:       initialValue,
		highestValue:        initialValue,
		previousValue:       initialValue,
		maxDrawdown:         0,
		tradeCount:          0,
		profitableTrades:    0,
		totalCommission:     0,
		returns:             nil,
		totalBars:           0,
		annualizationFactor: DefaultAnnualizationFactor,
	}
}

// SetAnnualizationFactor overrides the Sharpe annualization factor.
// Values of zero or below are ignored.
func (m *TradingMetrics) SetAnnualizationFactor(factor float64) {
	if factor > 0 {
		m.annualizationFactor = factor
	}
}

// SetTotalBars records the bar count used for trading frequency.
func (m *TradingMetrics) SetTotalBars(bars int) {
	m.totalBars = bars
}

// RecordTrade counts a completed round-trip close.
func (m *TradingMetrics) RecordTrade(profitable bool) {
	m.tradeCount++
	if profitable {
		m.profitableTrades++
	}
}

// RecordCommission accumulates fees paid.
func (m *TradingMetrics) RecordCommission(commission float64) {
	m.totalCommission += commission
}

// UpdatePortfolioValue tracks the running peak and the maximum percentage
// drawdown from that peak.
func (m *TradingMetrics) UpdatePortfolioValue(currentValue float64) {
	m.previousValue = currentValue

	if currentValue > m.highestValue {
		m.highestValue = currentValue
	} else if m.highestValue > 0 {
		currentDrawdown := (m.highestValue - currentValue) / m.highestValue * 100.0
		if currentDrawdown > m.maxDrawdown {
			m.maxDrawdown = currentDrawdown
		}
	}
}

// RecordReturn appends one per-period return sample.
func (m *TradingMetrics) RecordReturn(periodReturn float64) {
	m.returns = append(m.returns, periodReturn)
}

// PreviousValue returns the last portfolio value seen.
func (m *TradingMetrics) PreviousValue() float64 {
	return m.previousValue
}

// StartingValue returns the initial account value.
func (m *TradingMetrics) StartingValue() float64 {
	return m.startingValue
}

// TotalTrades returns the number of recorded trades.
func (m *TradingMetrics) TotalTrades() int {
	return m.tradeCount
}

// ProfitableTrades returns the number of winning trades.
func (m *TradingMetrics) ProfitableTrades() int {
	return m.profitableTrades
}

// TotalCommission returns the accumulated fees.
func (m *TradingMetrics) TotalCommission() float64 {
	return m.totalCommission
}

// MaxDrawdown returns the maximum percentage decline from the running peak.
func (m *TradingMetrics) MaxDrawdown() float64 {
	return m.maxDrawdown
}

// WinRate returns the percentage of profitable trades, 0 with no trades.
func (m *TradingMetrics) WinRate() float64 {
	if m.tradeCount == 0 {
		return 0
	}

	return float64(m.profitableTrades) / float64(m.tradeCount) * 100.0
}

// SharpeRatio returns the annualized Sharpe ratio over the recorded returns.
// It is 0 when fewer than 2 samples exist or the standard deviation is 0.
func (m *TradingMetrics) SharpeRatio() float64 {
	if len(m.returns) < 2 {
		return 0
	}

	sum := 0.0
	for _, r := range m.returns {
		sum += r
	}

	mean := sum / float64(len(m.returns))

	sqSum := 0.0
	for _, r := range m.returns {
		sqSum += (r - mean) * (r - mean)
	}

	stdDev := math.Sqrt(sqSum / float64(len(m.returns)))
	if stdDev <= 0 {
		return 0
	}

	return mean / stdDev * math.Sqrt(m.annualizationFactor)
}

// TradingFrequency returns trades per 100 bars, 0 with no bars recorded.
func (m *TradingMetrics) TradingFrequency() float64 {
	if m.totalBars == 0 {
		return 0
	}

	return float64(m.tradeCount) / float64(m.totalBars) * 100.0
}

// GenerateSummaryReport renders the human-readable end-of-run summary.
func (m *TradingMetrics) GenerateSummaryReport(finalValue float64, strategyName string) string {
	netProfitDec := decimal.NewFromFloat(finalValue).Sub(decimal.NewFromFloat(m.startingValue))
	netProfit, _ := netProfitDec.Float64()

	netProfitPercent := 0.0
	if m.startingValue > 0 {
		netProfitPercent, _ = netProfitDec.
			Div(decimal.NewFromFloat(m.startingValue)).
			Mul(decimal.NewFromInt(100)).
			Float64()
	}

	var report strings.Builder

	fmt.Fprintf(&report, "--- %s Finished ---\n", strategyName)
	report.WriteString("========== TRADE SUMMARY ===========\n")
	fmt.Fprintf(&report, "Starting Portfolio Value: %.2f\n", m.startingValue)
	fmt.Fprintf(&report, "Final Portfolio Value:    %.2f\n", finalValue)
	fmt.Fprintf(&report, "Net Profit/Loss:          %.2f (%.2f%%)\n", netProfit, netProfitPercent)
	fmt.Fprintf(&report, "Total Trades Executed:    %d\n", m.tradeCount)
	fmt.Fprintf(&report, "Profitable Trades:        %d\n", m.profitableTrades)
	fmt.Fprintf(&report, "Win Rate:                 %.2f%%\n", m.WinRate())
	fmt.Fprintf(&report, "Total Commission Fees:    %.2f\n", m.totalCommission)
	fmt.Fprintf(&report, "Max Drawdown:             %.2f%%\n", m.maxDrawdown)
	fmt.Fprintf(&report, "Sharpe Ratio:             %.2f\n", m.SharpeRatio())
	fmt.Fprintf(&report, "Trading Frequency:        %.2f trades per 100 bars\n", m.TradingFrequency())
	report.WriteString("===================================")

	return report.String()
}
