// Package indicator provides streaming technical indicators. Each indicator
// consumes one bar at a time and exposes its current value once enough bars
// have been seen, so strategies never read past the bar being processed.
package indicator

import (
	"github.com/tradeforge-dev/backsim/internal/types"
	"github.com/tradeforge-dev/backsim/pkg/errors"
)

// SMA is a streaming simple moving average over bar closes.
type SMA struct {
	period int
	window []float64
	sum    float64
}

// NewSMA creates a simple moving average with the given period.
func NewSMA(period int) (*SMA, error) {
	if period <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod, "sma period must be positive, got %d", period)
	}

	return &SMA{
		period: period,
		window: make([]float64, 0, period),
		sum:    0,
	}, nil
}

// Update consumes the next bar's close.
func (s *SMA) Update(bar types.Bar) {
	s.window = append(s.window, bar.Close)
	s.sum += bar.Close

	if len(s.window) > s.period {
		s.sum -= s.window[0]
		s.window = s.window[1:]
	}
}

// Value returns the current average and whether the warm-up period has
// completed.
func (s *SMA) Value() (float64, bool) {
	if len(s.window) < s.period {
		return 0, false
	}

	return s.sum / float64(s.period), true
}

// MinPeriod returns the number of bars needed before Value is available.
func (s *SMA) MinPeriod() int {
	return s.period
}
