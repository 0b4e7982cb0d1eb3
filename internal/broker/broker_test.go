package broker

import (
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"
	"github.com/tradeforge-dev/backsim/internal/logger"
	"github.com/tradeforge-dev/backsim/internal/types"
)

// notifierStub records every notification and can run a hook inside the
// callback to exercise re-entrant submission.
type notifierStub struct {
	notified []types.Order
	onNotify func(order types.Order)
}

func (s *notifierStub) NotifyOrder(order types.Order) {
	s.notified = append(s.notified, order)

	if s.onNotify != nil {
		s.onNotify(order)
	}
}

func (s *notifierStub) lastNotified() types.Order {
	return s.notified[len(s.notified)-1]
}

type BrokerTestSuite struct {
	suite.Suite
	broker   *Broker
	notifier *notifierStub
}

func TestBrokerSuite(t *testing.T) {
	suite.Run(t, new(BrokerTestSuite))
}

func (suite *BrokerTestSuite) SetupTest() {
	suite.broker = NewBroker(10000, 1, 0, logger.NewNopLogger())
	suite.notifier = &notifierStub{}
	suite.broker.SetStrategy(suite.notifier)
}

func (suite *BrokerTestSuite) bar(close float64) types.Bar {
	return types.Bar{
		Time:   time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		Symbol: "EURUSD",
		Close:  close,
	}
}

func (suite *BrokerTestSuite) TestSubmitWithoutStrategy() {
	b := NewBroker(10000, 1, 0, logger.NewNopLogger())

	id := b.SubmitOrder(types.Order{
		Side:          types.OrderSideBuy,
		Symbol:        "EURUSD",
		RequestedSize: 10,
	})

	suite.Equal(types.SentinelOrderID, id)
	suite.Empty(b.OrderHistory())
}

func (suite *BrokerTestSuite) TestSubmitAssignsMonotonicIDs() {
	first := suite.broker.SubmitOrder(types.Order{
		Side:          types.OrderSideBuy,
		Symbol:        "EURUSD",
		RequestedSize: 1,
	})
	second := suite.broker.SubmitOrder(types.Order{
		Side:          types.OrderSideBuy,
		Symbol:        "EURUSD",
		RequestedSize: 1,
	})

	suite.Equal(int64(1), first)
	suite.Equal(int64(2), second)
}

// Scenario: cash=10000, leverage=1, commission=0. BUY 10 @ 100 then
// SELL 10 @ 150 realizes 500 and removes the position.
func (suite *BrokerTestSuite) TestOpenThenCloseRealizesPnL() {
	suite.broker.SubmitOrder(types.Order{
		Side:           types.OrderSideBuy,
		Reason:         types.OrderReasonEntrySignal,
		Symbol:         "EURUSD",
		RequestedSize:  10,
		RequestedPrice: 100,
	})
	suite.broker.ProcessOrders(suite.bar(100))

	pos, ok := suite.broker.GetPosition("EURUSD")
	suite.True(ok)
	suite.InDelta(10, pos.Size, 1e-9)
	suite.InDelta(100, pos.EntryPrice, 1e-9)
	suite.InDelta(10000, suite.broker.Cash(), 1e-9)

	suite.broker.SubmitOrder(types.Order{
		Side:           types.OrderSideSell,
		Reason:         types.OrderReasonExitSignal,
		Symbol:         "EURUSD",
		RequestedSize:  10,
		RequestedPrice: 150,
	})
	suite.broker.ProcessOrders(suite.bar(150))

	suite.InDelta(10500, suite.broker.Cash(), 1e-9)

	_, ok = suite.broker.GetPosition("EURUSD")
	suite.False(ok)

	closeOrder := suite.notifier.lastNotified()
	suite.Equal(types.OrderStatusFilled, closeOrder.Status)
	suite.InDelta(500, closeOrder.RealizedPnL, 1e-9)
	suite.LessOrEqual(closeOrder.FilledSize, closeOrder.RequestedSize)
}

// Scenario: commission=1%, cash=100, notional 10000 at leverage 1 is
// rejected with MARGIN and leaves the account untouched.
func (suite *BrokerTestSuite) TestMarginRejection() {
	b := NewBroker(100, 1, 1, logger.NewNopLogger())
	notifier := &notifierStub{}
	b.SetStrategy(notifier)

	b.SubmitOrder(types.Order{
		Side:           types.OrderSideBuy,
		Symbol:         "EURUSD",
		RequestedSize:  100,
		RequestedPrice: 100,
	})
	b.ProcessOrders(suite.bar(100))

	suite.Equal(types.OrderStatusMargin, notifier.lastNotified().Status)
	suite.InDelta(100, b.Cash(), 1e-9)

	_, ok := b.GetPosition("EURUSD")
	suite.False(ok)
}

func (suite *BrokerTestSuite) TestCommissionAffordabilityRejectionOnOpen() {
	// margin = 9000/100 = 90 <= 100, commission = 9000*1% = 90 > 100-90
	b := NewBroker(100, 100, 1, logger.NewNopLogger())
	notifier := &notifierStub{}
	b.SetStrategy(notifier)

	b.SubmitOrder(types.Order{
		Side:           types.OrderSideBuy,
		Symbol:         "EURUSD",
		RequestedSize:  90,
		RequestedPrice: 100,
	})
	b.ProcessOrders(suite.bar(100))

	suite.Equal(types.OrderStatusRejected, notifier.lastNotified().Status)
	suite.InDelta(100, b.Cash(), 1e-9)
}

func (suite *BrokerTestSuite) TestCommissionDebitedOnOpen() {
	// commission = 10*100*0.1% = 1; cash drops by exactly the commission.
	b := NewBroker(10000, 100, 0.1, logger.NewNopLogger())
	notifier := &notifierStub{}
	b.SetStrategy(notifier)

	b.SubmitOrder(types.Order{
		Side:           types.OrderSideBuy,
		Symbol:         "EURUSD",
		RequestedSize:  10,
		RequestedPrice: 100,
	})
	b.ProcessOrders(suite.bar(100))

	order := notifier.lastNotified()
	suite.Equal(types.OrderStatusFilled, order.Status)
	suite.InDelta(1, order.Commission, 1e-9)
	suite.InDelta(9999, b.Cash(), 1e-9)
}

func (suite *BrokerTestSuite) TestMarketFillUsesAskAndBid() {
	bar := types.Bar{
		Time:   time.Now(),
		Symbol: "EURUSD",
		Close:  100,
		Bid:    99.5,
		Ask:    100.5,
	}

	suite.broker.SubmitOrder(types.Order{
		Side:          types.OrderSideBuy,
		Symbol:        "EURUSD",
		RequestedSize: 10,
	})
	suite.broker.ProcessOrders(bar)

	suite.InDelta(100.5, suite.notifier.lastNotified().FilledPrice, 1e-9)

	suite.broker.SubmitOrder(types.Order{
		Side:          types.OrderSideSell,
		Symbol:        "EURUSD",
		RequestedSize: 10,
	})
	suite.broker.ProcessOrders(bar)

	suite.InDelta(99.5, suite.notifier.lastNotified().FilledPrice, 1e-9)
}

func (suite *BrokerTestSuite) TestMarketFillFallsBackToClose() {
	suite.broker.SubmitOrder(types.Order{
		Side:          types.OrderSideBuy,
		Symbol:        "EURUSD",
		RequestedSize: 10,
	})
	suite.broker.ProcessOrders(suite.bar(101))

	suite.InDelta(101, suite.notifier.lastNotified().FilledPrice, 1e-9)
}

func (suite *BrokerTestSuite) TestIncreaseRecomputesAverageEntry() {
	suite.broker.SubmitOrder(types.Order{
		Side:           types.OrderSideBuy,
		Symbol:         "EURUSD",
		RequestedSize:  10,
		RequestedPrice: 100,
	})
	suite.broker.ProcessOrders(suite.bar(100))

	suite.broker.SubmitOrder(types.Order{
		Side:           types.OrderSideBuy,
		Symbol:         "EURUSD",
		RequestedSize:  10,
		RequestedPrice: 120,
	})
	suite.broker.ProcessOrders(suite.bar(120))

	pos, ok := suite.broker.GetPosition("EURUSD")
	suite.True(ok)
	suite.InDelta(20, pos.Size, 1e-9)
	suite.InDelta(110, pos.EntryPrice, 1e-9)
}

func (suite *BrokerTestSuite) TestPartialCloseKeepsEntryAndTargets() {
	suite.broker.SubmitOrder(types.Order{
		Side:           types.OrderSideBuy,
		Symbol:         "EURUSD",
		RequestedSize:  20,
		RequestedPrice: 100,
		TakeProfit:     optional.Some(130.0),
	})
	suite.broker.ProcessOrders(suite.bar(100))

	suite.broker.SubmitOrder(types.Order{
		Side:           types.OrderSideSell,
		Symbol:         "EURUSD",
		RequestedSize:  5,
		RequestedPrice: 110,
	})
	suite.broker.ProcessOrders(suite.bar(110))

	pos, ok := suite.broker.GetPosition("EURUSD")
	suite.True(ok)
	suite.InDelta(15, pos.Size, 1e-9)
	suite.InDelta(100, pos.EntryPrice, 1e-9)
	suite.InDelta(130, pos.TakeProfit, 1e-9)
	suite.InDelta(10050, suite.broker.Cash(), 1e-9)
}

func (suite *BrokerTestSuite) TestCloseCapsAtPositionSize() {
	suite.broker.SubmitOrder(types.Order{
		Side:           types.OrderSideBuy,
		Symbol:         "EURUSD",
		RequestedSize:  10,
		RequestedPrice: 100,
	})
	suite.broker.ProcessOrders(suite.bar(100))

	suite.broker.SubmitOrder(types.Order{
		Side:           types.OrderSideSell,
		Symbol:         "EURUSD",
		RequestedSize:  50,
		RequestedPrice: 120,
	})
	suite.broker.ProcessOrders(suite.bar(120))

	order := suite.notifier.lastNotified()
	suite.Equal(types.OrderStatusFilled, order.Status)
	suite.InDelta(10, order.FilledSize, 1e-9)
	suite.LessOrEqual(order.FilledSize, order.RequestedSize)

	_, ok := suite.broker.GetPosition("EURUSD")
	suite.False(ok)
}

func (suite *BrokerTestSuite) TestNegligibleCloseRejected() {
	suite.broker.SubmitOrder(types.Order{
		Side:           types.OrderSideBuy,
		Symbol:         "EURUSD",
		RequestedSize:  10,
		RequestedPrice: 100,
	})
	suite.broker.ProcessOrders(suite.bar(100))

	suite.broker.SubmitOrder(types.Order{
		Side:           types.OrderSideSell,
		Symbol:         "EURUSD",
		RequestedSize:  1e-12,
		RequestedPrice: 100,
	})
	suite.broker.ProcessOrders(suite.bar(100))

	suite.Equal(types.OrderStatusRejected, suite.notifier.lastNotified().Status)

	pos, ok := suite.broker.GetPosition("EURUSD")
	suite.True(ok)
	suite.InDelta(10, pos.Size, 1e-9)
}

func (suite *BrokerTestSuite) TestShortRealizedPnL() {
	suite.broker.SubmitOrder(types.Order{
		Side:           types.OrderSideSell,
		Symbol:         "EURUSD",
		RequestedSize:  10,
		RequestedPrice: 100,
	})
	suite.broker.ProcessOrders(suite.bar(100))

	pos, ok := suite.broker.GetPosition("EURUSD")
	suite.True(ok)
	suite.InDelta(-10, pos.Size, 1e-9)

	suite.broker.SubmitOrder(types.Order{
		Side:           types.OrderSideBuy,
		Symbol:         "EURUSD",
		RequestedSize:  10,
		RequestedPrice: 90,
	})
	suite.broker.ProcessOrders(suite.bar(90))

	suite.InDelta(100, suite.notifier.lastNotified().RealizedPnL, 1e-9)
	suite.InDelta(10100, suite.broker.Cash(), 1e-9)
}

// Scenario: a long with takeProfit=110 sees a bar at 112 and produces
// exactly one auto-generated close with reason take_profit.
func (suite *BrokerTestSuite) TestTakeProfitAutoExit() {
	suite.broker.SubmitOrder(types.Order{
		Side:           types.OrderSideBuy,
		Symbol:         "EURUSD",
		RequestedSize:  10,
		RequestedPrice: 100,
		TakeProfit:     optional.Some(110.0),
	})
	suite.broker.ProcessOrders(suite.bar(100))

	suite.broker.ProcessOrders(suite.bar(112))

	order := suite.notifier.lastNotified()
	suite.Equal(types.OrderStatusFilled, order.Status)
	suite.Equal(types.OrderReasonTakeProfit, order.Reason)
	// The synthetic close is pinned to the target price, not the bar price.
	suite.InDelta(110, order.FilledPrice, 1e-9)
	suite.InDelta(100, order.RealizedPnL, 1e-9)

	_, ok := suite.broker.GetPosition("EURUSD")
	suite.False(ok)
	suite.InDelta(10100, suite.broker.Cash(), 1e-9)
}

func (suite *BrokerTestSuite) TestStopLossAutoExitShort() {
	suite.broker.SubmitOrder(types.Order{
		Side:           types.OrderSideSell,
		Symbol:         "EURUSD",
		RequestedSize:  10,
		RequestedPrice: 100,
		StopLoss:       optional.Some(105.0),
	})
	suite.broker.ProcessOrders(suite.bar(100))

	suite.broker.ProcessOrders(suite.bar(106))

	order := suite.notifier.lastNotified()
	suite.Equal(types.OrderStatusFilled, order.Status)
	suite.Equal(types.OrderReasonStopLoss, order.Reason)
	suite.InDelta(105, order.FilledPrice, 1e-9)
	suite.InDelta(-50, order.RealizedPnL, 1e-9)

	_, ok := suite.broker.GetPosition("EURUSD")
	suite.False(ok)
}

func (suite *BrokerTestSuite) TestSingleAutoExitPerBar() {
	for _, symbol := range []string{"AAAUSD", "BBBUSD"} {
		suite.broker.SubmitOrder(types.Order{
			Side:           types.OrderSideBuy,
			Symbol:         symbol,
			RequestedSize:  10,
			RequestedPrice: 100,
			TakeProfit:     optional.Some(110.0),
		})
	}

	suite.broker.ProcessOrders(types.Bar{Time: time.Now(), Close: 100})
	suite.Len(suite.broker.GetAllPositions(), 2)

	// Both targets are hit, but only the first position (lexical symbol
	// order) exits on this bar.
	suite.broker.ProcessOrders(types.Bar{Time: time.Now(), Close: 115})

	positions := suite.broker.GetAllPositions()
	suite.Len(positions, 1)

	_, ok := positions["BBBUSD"]
	suite.True(ok)

	// The survivor exits on the next bar.
	suite.broker.ProcessOrders(types.Bar{Time: time.Now(), Close: 115})
	suite.Empty(suite.broker.GetAllPositions())
}

func (suite *BrokerTestSuite) TestWrongSideTargetsCorrectedOnOpen() {
	suite.broker.SubmitOrder(types.Order{
		Side:           types.OrderSideBuy,
		Symbol:         "EURUSD",
		RequestedSize:  10,
		RequestedPrice: 100,
		StopLoss:       optional.Some(120.0), // above entry for a long
		TakeProfit:     optional.Some(90.0),  // below entry for a long
	})
	suite.broker.ProcessOrders(suite.bar(100))

	pos, ok := suite.broker.GetPosition("EURUSD")
	suite.True(ok)
	suite.InDelta(99, pos.StopLoss, 1e-9)
	suite.InDelta(101, pos.TakeProfit, 1e-9)
}

func (suite *BrokerTestSuite) TestWrongSideStopLossInvalidatedDuringScan() {
	// Plant a position whose stop loss drifted to the wrong side; the scan
	// must invalidate it rather than trigger an exit.
	suite.broker.positions["EURUSD"] = types.Position{
		Symbol:     "EURUSD",
		Size:       10,
		EntryPrice: 100,
		StopLoss:   110,
	}

	suite.broker.ProcessOrders(suite.bar(112))

	pos, ok := suite.broker.GetPosition("EURUSD")
	suite.True(ok)
	suite.Zero(pos.StopLoss)
	suite.Empty(suite.notifier.notified)
}

func (suite *BrokerTestSuite) TestReentrantSubmissionFillsNextBar() {
	resubmitted := false
	suite.notifier.onNotify = func(order types.Order) {
		if order.Status == types.OrderStatusFilled && !resubmitted {
			resubmitted = true
			suite.broker.SubmitOrder(types.Order{
				Side:           types.OrderSideBuy,
				Symbol:         "EURUSD",
				RequestedSize:  5,
				RequestedPrice: 100,
			})
		}
	}

	suite.broker.SubmitOrder(types.Order{
		Side:           types.OrderSideBuy,
		Symbol:         "EURUSD",
		RequestedSize:  10,
		RequestedPrice: 100,
	})
	suite.broker.ProcessOrders(suite.bar(100))

	// Only the first order filled this bar.
	suite.Len(suite.broker.OrderHistory(), 1)

	suite.broker.ProcessOrders(suite.bar(100))
	suite.Len(suite.broker.OrderHistory(), 2)

	pos, _ := suite.broker.GetPosition("EURUSD")
	suite.InDelta(15, pos.Size, 1e-9)
}

func (suite *BrokerTestSuite) TestPanicInCallbackSkipsOrderOnly() {
	calls := 0
	suite.notifier.onNotify = func(types.Order) {
		calls++
		if calls == 1 {
			panic("strategy callback fault")
		}
	}

	suite.broker.SubmitOrder(types.Order{
		Side:           types.OrderSideBuy,
		Symbol:         "AAAUSD",
		RequestedSize:  10,
		RequestedPrice: 100,
	})
	suite.broker.SubmitOrder(types.Order{
		Side:           types.OrderSideBuy,
		Symbol:         "BBBUSD",
		RequestedSize:  10,
		RequestedPrice: 100,
	})

	suite.NotPanics(func() {
		suite.broker.ProcessOrders(suite.bar(100))
	})

	// Both orders reached a terminal status despite the fault.
	suite.Len(suite.broker.OrderHistory(), 2)
	suite.Len(suite.broker.GetAllPositions(), 2)
}

func (suite *BrokerTestSuite) TestGetValue() {
	suite.InDelta(10000, suite.broker.GetValue(map[string]float64{}), 1e-9)

	suite.broker.SubmitOrder(types.Order{
		Side:           types.OrderSideBuy,
		Symbol:         "EURUSD",
		RequestedSize:  10,
		RequestedPrice: 100,
	})
	suite.broker.ProcessOrders(suite.bar(100))

	suite.InDelta(10500, suite.broker.GetValue(map[string]float64{"EURUSD": 150}), 1e-9)

	// A missing price contributes zero PnL, not an error.
	suite.InDelta(10000, suite.broker.GetValue(map[string]float64{}), 1e-9)
}

func (suite *BrokerTestSuite) TestAllOrdersTerminalAfterBar() {
	for i := 0; i < 5; i++ {
		suite.broker.SubmitOrder(types.Order{
			Side:           types.OrderSideBuy,
			Symbol:         "EURUSD",
			RequestedSize:  1,
			RequestedPrice: 100,
		})
	}

	suite.broker.ProcessOrders(suite.bar(100))

	suite.Len(suite.broker.OrderHistory(), 5)

	for _, order := range suite.broker.OrderHistory() {
		suite.True(order.IsTerminal())
		suite.LessOrEqual(order.FilledSize, order.RequestedSize)
	}
}

func (suite *BrokerTestSuite) TestPointValueFallback() {
	suite.broker.SetDefaultPointValue(0.01)
	suite.broker.SetPointValue("USDJPY", 0.001)

	suite.broker.SubmitOrder(types.Order{
		Side:           types.OrderSideBuy,
		Symbol:         "EURUSD",
		RequestedSize:  10,
		RequestedPrice: 100,
	})
	suite.broker.SubmitOrder(types.Order{
		Side:           types.OrderSideBuy,
		Symbol:         "USDJPY",
		RequestedSize:  10,
		RequestedPrice: 100,
	})
	suite.broker.ProcessOrders(suite.bar(100))

	eur, _ := suite.broker.GetPosition("EURUSD")
	suite.InDelta(0.01, eur.PointValue, 1e-9)

	jpy, _ := suite.broker.GetPosition("USDJPY")
	suite.InDelta(0.001, jpy.PointValue, 1e-9)
}
