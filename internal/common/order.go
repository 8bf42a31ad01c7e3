package common

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrOverfill = errors.New("fill exceeds remaining balance")

// MaxDecimalLen is the longest text form a price or quantity may take. Both
// travel behind a single length byte.
const MaxDecimalLen = 255

type Order struct {
	ID          uint64          // Unique order identifier, strictly increasing with admission
	Instrument  uint16          // Instrument identifier
	Owner       uint32          // Who owns this order
	Price       decimal.Decimal // Limiting price
	Quantity    decimal.Decimal // Total volume requested
	Balance     decimal.Decimal // Remaining unfilled volume
	OrderType   OrderType       //
	Side        Side            //
	TimeInForce TimeInForce     //
	Timestamp   uint64          // Arrival sequence, informational only
}

// NewOrder returns a GTC limit bid with Balance equal to quantity.
func NewOrder(id uint64, price, quantity decimal.Decimal) Order {
	return Order{
		ID:          id,
		Price:       price,
		Quantity:    quantity,
		Balance:     quantity,
		OrderType:   LimitOrder,
		Side:        Bid,
		TimeInForce: GTC,
	}
}

// RollbackFor restores Quantity and Balance from a prior snapshot of the same
// order. Calling it with a snapshot of a different order is a programming error
// and panics; it must never be recovered from.
func (order *Order) RollbackFor(prior *Order) {
	if order.ID != prior.ID {
		panic(fmt.Sprintf("rollback of order %d with snapshot of order %d", order.ID, prior.ID))
	}
	order.Quantity = prior.Quantity
	order.Balance = prior.Balance
}

// Fill reduces the remaining balance by qty.
func (order *Order) Fill(qty decimal.Decimal) error {
	if qty.IsNegative() || qty.GreaterThan(order.Balance) {
		return fmt.Errorf("order %d: fill %s of %s: %w", order.ID, qty, order.Balance, ErrOverfill)
	}
	order.Balance = order.Balance.Sub(qty)
	return nil
}

// Filled reports whether nothing remains to be filled.
func (order *Order) Filled() bool {
	return !order.Balance.IsPositive()
}

// Equal compares every field, using numeric equality for decimals.
func (order Order) Equal(other Order) bool {
	return order.ID == other.ID &&
		order.Instrument == other.Instrument &&
		order.Owner == other.Owner &&
		order.Price.Equal(other.Price) &&
		order.Quantity.Equal(other.Quantity) &&
		order.Balance.Equal(other.Balance) &&
		order.OrderType == other.OrderType &&
		order.Side == other.Side &&
		order.TimeInForce == other.TimeInForce &&
		order.Timestamp == other.Timestamp
}

func (order Order) String() string {
	return fmt.Sprintf(
		`ID:          %d
Instrument:  %d
Owner:       %d
OrderType:   %v
Side:        %v
TimeInForce: %v
Price:       %s
Balance:     %s (Total: %s)
Timestamp:   %d`,
		order.ID,
		order.Instrument,
		order.Owner,
		order.OrderType,
		order.Side,
		order.TimeInForce,
		order.Price,
		order.Balance,
		order.Quantity,
		order.Timestamp,
	)
}
