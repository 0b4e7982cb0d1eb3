package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"github.com/tradeforge-dev/backsim/pkg/errors"
)

type OrderSide string

type OrderStatus string

type OrderReason string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

const (
	// OrderStatusCreated is the initial state before the broker assigns an id.
	OrderStatusCreated OrderStatus = "CREATED"
	// OrderStatusSubmitted means the order sits in the broker's pending queue.
	OrderStatusSubmitted OrderStatus = "SUBMITTED"
	// OrderStatusFilled is terminal: the order executed.
	OrderStatusFilled OrderStatus = "FILLED"
	// OrderStatusCancelled is terminal. Reserved for pending order types.
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusRejected is terminal: validation or commission affordability failed.
	OrderStatusRejected OrderStatus = "REJECTED"
	// OrderStatusMargin is terminal: insufficient cash to cover margin.
	OrderStatusMargin OrderStatus = "MARGIN"
)

const (
	OrderReasonEntrySignal          OrderReason = "entry_signal"
	OrderReasonExitSignal           OrderReason = "exit_signal"
	OrderReasonStopLoss             OrderReason = "stop_loss"
	OrderReasonTakeProfit           OrderReason = "take_profit"
	OrderReasonBankruptcyProtection OrderReason = "bankruptcy_protection"
	OrderReasonManualClose          OrderReason = "manual_close"
)

// SentinelOrderID is returned by the broker when an order cannot be accepted
// for submission (for example when no strategy is registered).
const SentinelOrderID int64 = -1

// Order is a request to change a position. It is created by a strategy (or
// synthesized by the broker for automatic take-profit/stop-loss closes),
// queued as SUBMITTED, and resolved by the broker to exactly one terminal
// status, after which it is immutable and lives in the order history.
type Order struct {
	// ID is assigned by the broker, monotonic from 1.
	ID     int64       `yaml:"id" json:"id" csv:"id"`
	Side   OrderSide   `yaml:"side" json:"side" csv:"side" validate:"required,oneof=BUY SELL"`
	Status OrderStatus `yaml:"status" json:"status" csv:"status"`
	Reason OrderReason `yaml:"reason" json:"reason" csv:"reason"`
	Symbol string      `yaml:"symbol" json:"symbol" csv:"symbol" validate:"required"`
	// RequestedSize is always non-negative; direction comes from Side.
	RequestedSize float64 `yaml:"requested_size" json:"requested_size" csv:"requested_size" validate:"gte=0"`
	FilledSize    float64 `yaml:"filled_size" json:"filled_size" csv:"filled_size"`
	// RequestedPrice of zero means market: fill at the bar's ask/bid.
	RequestedPrice float64 `yaml:"requested_price" json:"requested_price" csv:"requested_price" validate:"gte=0"`
	FilledPrice    float64 `yaml:"filled_price" json:"filled_price" csv:"filled_price"`
	Commission     float64 `yaml:"commission" json:"commission" csv:"commission"`
	// RealizedPnL is set on filled closing orders only.
	RealizedPnL float64 `yaml:"realized_pnl" json:"realized_pnl" csv:"realized_pnl"`
	// StopLoss and TakeProfit become the targets of a newly opened position.
	StopLoss   optional.Option[float64] `yaml:"stop_loss" json:"stop_loss" csv:"-"`
	TakeProfit optional.Option[float64] `yaml:"take_profit" json:"take_profit" csv:"-"`
	CreatedAt  time.Time                `yaml:"created_at" json:"created_at" csv:"created_at"`
	ExecutedAt time.Time                `yaml:"executed_at" json:"executed_at" csv:"executed_at"`
}

// IsTerminal reports whether the order reached a final status.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusMargin:
		return true
	case OrderStatusCreated, OrderStatusSubmitted:
		return false
	}

	return false
}

// Validate validates the Order struct.
func (o *Order) Validate() error {
	validate := validator.New()
	if err := validate.Struct(o); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrder, "invalid order", err)
	}

	return nil
}
