package indicator

import (
	"github.com/tradeforge-dev/backsim/internal/types"
	"github.com/tradeforge-dev/backsim/pkg/errors"
)

// RSI is a streaming relative strength index over bar closes, using simple
// averages of gains and losses across the window.
type RSI struct {
	period  int
	changes []float64
	prev    float64
	primed  bool
}

// NewRSI creates a relative strength index with the given period.
func NewRSI(period int) (*RSI, error) {
	if period <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod, "rsi period must be positive, got %d", period)
	}

	return &RSI{
		period:  period,
		changes: make([]float64, 0, period),
		prev:    0,
		primed:  false,
	}, nil
}

// Update consumes the next bar's close.
func (r *RSI) Update(bar types.Bar) {
	if !r.primed {
		r.prev = bar.Close
		r.primed = true

		return
	}

	r.changes = append(r.changes, bar.Close-r.prev)
	r.prev = bar.Close

	if len(r.changes) > r.period {
		r.changes = r.changes[1:]
	}
}

// Value returns the current RSI in [0, 100] and whether the warm-up period
// has completed. With no losses in the window the RSI is 100.
func (r *RSI) Value() (float64, bool) {
	if len(r.changes) < r.period {
		return 0, false
	}

	var gain, loss float64

	for _, change := range r.changes {
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}

	if loss == 0 {
		return 100, true
	}

	avgGain := gain / float64(r.period)
	avgLoss := loss / float64(r.period)

	rs := avgGain / avgLoss

	return 100 - 100/(1+rs), true
}

// MinPeriod returns the number of bars needed before Value is available.
// One extra bar primes the first price change.
func (r *RSI) MinPeriod() int {
	return r.period + 1
}
