package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the side that unwinds exposure taken on s.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// TimeInForce is the execution policy attached to an order.
type TimeInForce string

const (
	TimeInForceGTT TimeInForce = "GTT" // Good-Til-Time
	TimeInForceFOK TimeInForce = "FOK" // Fill-Or-Kill
	TimeInForceIOC TimeInForce = "IOC" // Immediate-Or-Cancel
)

// OrderStatus tracks the order lifecycle as reported by the exchange.
type OrderStatus string

const (
	OrderStatusPending            OrderStatus = "PENDING"
	OrderStatusOpen               OrderStatus = "OPEN"
	OrderStatusFilled             OrderStatus = "FILLED"
	OrderStatusCanceled           OrderStatus = "CANCELED"
	OrderStatusBestEffortCanceled OrderStatus = "BEST_EFFORT_CANCELED"
	OrderStatusUntriggered        OrderStatus = "UNTRIGGERED"
)

// Canceled reports whether the exchange has given up on the order.
func (s OrderStatus) Canceled() bool {
	return s == OrderStatusCanceled || s == OrderStatusBestEffortCanceled
}

// OrderRequest is what the core asks the exchange to place. Price is always
// a bounded limit: "market" orders are aggressive FOK limits.
type OrderRequest struct {
	ClientID    string
	Market      string
	Side        OrderSide
	Size        decimal.Decimal
	Price       decimal.Decimal
	ReduceOnly  bool
	TimeInForce TimeInForce
}

// Order is the exchange's record of a placed order.
type Order struct {
	ID         string
	ClientID   string
	Market     string
	Side       OrderSide
	Size       decimal.Decimal
	Price      decimal.Decimal
	ReduceOnly bool
	Status     OrderStatus
	CreatedAt  time.Time
}
