// Package datasource loads the bar series a backtest runs on. Sources hand
// bars to the engine in timestamp order; an unordered series is an error,
// not something the engine reorders silently.
package datasource

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/tradeforge-dev/backsim/internal/types"
	"github.com/tradeforge-dev/backsim/pkg/errors"
)

// BarSource produces the bar series for a run, optionally restricted to a
// time window. Both bounds are inclusive.
type BarSource interface {
	Load(startTime, endTime optional.Option[time.Time]) ([]types.Bar, error)
}

// filterWindow keeps the bars inside the inclusive [start, end] window.
func filterWindow(bars []types.Bar, startTime, endTime optional.Option[time.Time]) []types.Bar {
	if startTime.IsNone() && endTime.IsNone() {
		return bars
	}

	filtered := make([]types.Bar, 0, len(bars))

	for _, bar := range bars {
		if startTime.IsSome() && bar.Time.Before(startTime.Unwrap()) {
			continue
		}

		if endTime.IsSome() && bar.Time.After(endTime.Unwrap()) {
			continue
		}

		filtered = append(filtered, bar)
	}

	return filtered
}

// verifyOrdered checks that bar timestamps never decrease.
func verifyOrdered(bars []types.Bar) error {
	for i := 1; i < len(bars); i++ {
		if bars[i].Time.Before(bars[i-1].Time) {
			return errors.Newf(errors.ErrCodeDataUnordered,
				"bar %d (%s) is earlier than bar %d (%s)",
				i, bars[i].Time.Format(time.RFC3339),
				i-1, bars[i-1].Time.Format(time.RFC3339))
		}
	}

	return nil
}

// SliceSource serves an in-memory bar slice. Tests and programmatic runs
// use it.
type SliceSource struct {
	bars []types.Bar
}

// NewSliceSource creates a source over the given bars.
func NewSliceSource(bars []types.Bar) *SliceSource {
	return &SliceSource{bars: bars}
}

// Load returns the bars inside the window, verifying timestamp order.
func (s *SliceSource) Load(startTime, endTime optional.Option[time.Time]) ([]types.Bar, error) {
	if err := verifyOrdered(s.bars); err != nil {
		return nil, err
	}

	return filterWindow(s.bars, startTime, endTime), nil
}
