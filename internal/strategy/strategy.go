// Package strategy defines the strategy lifecycle and the built-in
// strategies. A strategy receives every bar after the broker has processed
// it, submits orders through the broker handle in its context, and is
// notified synchronously of every terminal order.
package strategy

import (
	"github.com/tradeforge-dev/backsim/internal/broker"
	"github.com/tradeforge-dev/backsim/internal/config"
	"github.com/tradeforge-dev/backsim/internal/logger"
	"github.com/tradeforge-dev/backsim/internal/types"
	"github.com/tradeforge-dev/backsim/pkg/errors"
)

// Context carries everything a strategy needs for a run. The broker handle
// is borrowed: the engine owns it and wires it here before Initialize.
type Context struct {
	Broker *broker.Broker
	Bars   []types.Bar
	Config config.Config
	Log    *logger.Logger
}

// Strategy is the lifecycle every trading strategy implements.
//
// Initialize runs once before the first bar. Next runs once per bar, after
// the broker has drained the previous bar's orders; orders submitted here
// fill on the following bar. NotifyOrder is invoked synchronously for every
// terminal order. Stop runs once after the last bar; a close order submitted
// there is flushed by the engine against the final bar.
type Strategy interface {
	Name() string
	Initialize(ctx *Context) error
	Next(bar types.Bar, index int, currentPrice float64) error
	NotifyOrder(order types.Order)
	Stop()
}

// Strategy names accepted by New.
const (
	NameBenchmark = "benchmark"
	NameSMACross  = "sma_cross"
)

// New returns the strategy registered under the given name.
func New(name string) (Strategy, error) {
	switch name {
	case NameBenchmark:
		return NewBenchmark(), nil
	case NameSMACross:
		return NewSMACross(), nil
	default:
		return nil, errors.Newf(errors.ErrCodeUnknownStrategy, "unknown strategy %q", name)
	}
}
